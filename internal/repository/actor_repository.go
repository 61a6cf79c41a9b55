package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/foliodesk/be-folio-core/internal/database"
	"github.com/foliodesk/be-folio-core/internal/errors"
	"github.com/foliodesk/be-folio-core/internal/phone"
)

// ActorRepository reads the hand-maintained actor directory. Read-only: the
// directory is administered out of band.
type ActorRepository struct {
	db *database.DB
}

// NewActorRepository creates a new ActorRepository.
func NewActorRepository(db *database.DB) *ActorRepository {
	return &ActorRepository{db: db}
}

const actorColumns = `phone, name, role, role_level, org_unit`

// GetByPhone returns the actor whose stored phone matches exactly.
func (r *ActorRepository) GetByPhone(ctx context.Context, canonicalPhone string) (*Actor, error) {
	query := `SELECT ` + actorColumns + ` FROM actors WHERE phone = $1`

	actor, err := scanActor(r.db.QueryRow(ctx, query, canonicalPhone))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("actor", canonicalPhone)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to look up actor")
	}
	return actor, nil
}

// GetByLast10 matches on the trailing 10 significant digits against all stored
// identifiers, whatever form they were entered in. This is the fallback for
// directory rows saved with prefixes, country-code variants or spaces.
func (r *ActorRepository) GetByLast10(ctx context.Context, last10 string) (*Actor, error) {
	query := `
		SELECT ` + actorColumns + `
		FROM actors
		WHERE RIGHT(REGEXP_REPLACE(phone, '\D', '', 'g'), 10) = $1
		LIMIT 1
	`

	actor, err := scanActor(r.db.QueryRow(ctx, query, last10))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("actor", last10)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to look up actor by digits")
	}
	return actor, nil
}

// ListByRolesInUnit returns actors holding any of the given roles within one
// org unit.
func (r *ActorRepository) ListByRolesInUnit(ctx context.Context, orgUnit string, roles []Role) ([]*Actor, error) {
	query := `
		SELECT ` + actorColumns + `
		FROM actors
		WHERE org_unit = $1 AND role = ANY($2)
		ORDER BY name
	`
	return r.listActors(ctx, query, orgUnit, roleStrings(roles))
}

// ListByRoles returns actors holding any of the given roles system-wide.
func (r *ActorRepository) ListByRoles(ctx context.Context, roles []Role) ([]*Actor, error) {
	query := `
		SELECT ` + actorColumns + `
		FROM actors
		WHERE role = ANY($1)
		ORDER BY name
	`
	return r.listActors(ctx, query, roleStrings(roles))
}

func (r *ActorRepository) listActors(ctx context.Context, query string, args ...any) ([]*Actor, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list actors")
	}
	defer rows.Close()

	var actors []*Actor
	for rows.Next() {
		actor, err := scanActor(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan actor")
		}
		actors = append(actors, actor)
	}
	return actors, nil
}

func roleStrings(roles []Role) []string {
	out := make([]string, len(roles))
	for i, role := range roles {
		out[i] = string(role)
	}
	return out
}

type actorScanner interface {
	Scan(dest ...any) error
}

func scanActor(sc actorScanner) (*Actor, error) {
	actor := &Actor{}
	err := sc.Scan(
		&actor.Phone,
		&actor.Name,
		&actor.Role,
		&actor.RoleLevel,
		&actor.OrgUnit,
	)
	if err != nil {
		return nil, err
	}
	actor.CanonicalPhone = phone.Canonical(actor.Phone)
	return actor, nil
}

package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/foliodesk/be-folio-core/internal/database"
	"github.com/foliodesk/be-folio-core/internal/errors"
)

// ProjectPrefix is the code prefix for project sequences.
const ProjectPrefix = "PRJ"

// ProjectRepository owns the projects table and its transitions.
type ProjectRepository struct {
	db *database.DB
}

// NewProjectRepository creates a new ProjectRepository.
func NewProjectRepository(db *database.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

const projectColumns = `
	code, org_unit, name, start_date, estimated_close_date, actual_close_date,
	status, approved, approved_by, created_by, created_at, updated_at`

// Create issues the next project code and inserts the project plus creation
// audit rows in one transaction.
func (r *ProjectRepository) Create(ctx context.Context, project *Project, audit []*AuditEntry) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		seq, err := nextSequenceTx(ctx, tx, ProjectPrefix, PeriodKey(time.Now()))
		if err != nil {
			return err
		}
		project.Code = FormatCode(ProjectPrefix, PeriodKey(time.Now()), seq)

		query := `
			INSERT INTO projects
			    (code, org_unit, name, start_date, estimated_close_date, status, created_by)
			VALUES ($1, $2, $3, $4, $5, $6::project_status, $7)
			RETURNING created_at, updated_at
		`

		err = tx.QueryRow(ctx, query,
			project.Code,
			project.OrgUnit,
			project.Name,
			project.StartDate,
			project.EstimatedCloseDate,
			project.Status,
			project.CreatedBy,
		).Scan(&project.CreatedAt, &project.UpdatedAt)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create project")
		}

		for _, entry := range audit {
			entry.RecordCode = project.Code
			if err := appendHistoryTx(ctx, tx, "project_history", entry); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetByCode retrieves a project by its code.
func (r *ProjectRepository) GetByCode(ctx context.Context, code string) (*Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE code = $1`

	project, err := scanProject(r.db.QueryRow(ctx, query, code))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("project", code)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get project")
	}
	return project, nil
}

// Transition applies one guarded project status change with its audit rows in
// one transaction.
func (r *ProjectRepository) Transition(ctx context.Context, t *ProjectTransition) (*Project, error) {
	var updated *Project

	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		current, err := scanProject(tx.QueryRow(ctx,
			`SELECT `+projectColumns+` FROM projects WHERE code = $1 FOR UPDATE`, t.Code))
		if err == pgx.ErrNoRows {
			return errors.NotFound("project", t.Code)
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to lock project")
		}

		allowed := false
		for _, from := range t.From {
			if current.Status == from {
				allowed = true
				break
			}
		}
		if !allowed {
			return errors.Conflict(fmt.Sprintf(
				"project %s is %s and cannot move to %s", t.Code, current.Status, t.To))
		}

		query := `
			UPDATE projects
			SET status            = $2::project_status,
			    actual_close_date = CASE WHEN $3 THEN NOW() ELSE actual_close_date END,
			    updated_at        = NOW()
			WHERE code = $1
			RETURNING actual_close_date, updated_at
		`
		if err := tx.QueryRow(ctx, query, t.Code, t.To, t.Close).
			Scan(&current.ActualCloseDate, &current.UpdatedAt); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to update project status")
		}

		for _, entry := range t.Audit {
			entry.RecordCode = t.Code
			if err := appendHistoryTx(ctx, tx, "project_history", entry); err != nil {
				return err
			}
		}

		current.Status = t.To
		updated = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// SetApproved flips the approval flag, which is orthogonal to status.
func (r *ProjectRepository) SetApproved(ctx context.Context, code, approvedBy string) error {
	query := `
		UPDATE projects
		SET approved = TRUE, approved_by = $2, updated_at = NOW()
		WHERE code = $1
		RETURNING code
	`
	var returned string
	err := r.db.QueryRow(ctx, query, code, approvedBy).Scan(&returned)
	if err == pgx.ErrNoRows {
		return errors.NotFound("project", code)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to approve project")
	}
	return nil
}

// Totals aggregates the non-cancelled child folios of a project. Computed on
// read, never stored.
func (r *ProjectRepository) Totals(ctx context.Context, code string) (*ProjectTotals, error) {
	query := `
		SELECT COUNT(*), COALESCE(SUM(amount), 0)::text
		FROM folios
		WHERE project_code = $1 AND status <> 'canceled'
	`

	var count int
	var total string
	if err := r.db.QueryRow(ctx, query, code).Scan(&count, &total); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to aggregate project totals")
	}

	amount, err := decimal.NewFromString(total)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to parse project total")
	}
	return &ProjectTotals{FolioCount: count, TotalAmount: amount}, nil
}

// ListByOrgUnit returns the projects of one org unit, newest first.
func (r *ProjectRepository) ListByOrgUnit(ctx context.Context, orgUnit string) ([]*Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE org_unit = $1 ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, orgUnit)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list projects")
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan project")
		}
		projects = append(projects, project)
	}
	return projects, nil
}

// AddAttachment records an uploaded project document.
func (r *ProjectRepository) AddAttachment(ctx context.Context, projectCode, url, uploadedBy string) error {
	query := `
		INSERT INTO project_attachments (project_code, url, uploaded_by)
		VALUES ($1, $2, $3)
	`
	if _, err := r.db.Exec(ctx, query, projectCode, url, uploadedBy); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to add project attachment")
	}
	return nil
}

// ── scan helper ───────────────────────────────────────────────────────────────

type projectScanner interface {
	Scan(dest ...any) error
}

func scanProject(sc projectScanner) (*Project, error) {
	project := &Project{}
	err := sc.Scan(
		&project.Code,
		&project.OrgUnit,
		&project.Name,
		&project.StartDate,
		&project.EstimatedCloseDate,
		&project.ActualCloseDate,
		&project.Status,
		&project.Approved,
		&project.ApprovedBy,
		&project.CreatedBy,
		&project.CreatedAt,
		&project.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return project, nil
}

package service

import (
	"context"

	"github.com/foliodesk/be-folio-core/internal/errors"
	"github.com/foliodesk/be-folio-core/internal/logger"
	"github.com/foliodesk/be-folio-core/internal/phone"
	"github.com/foliodesk/be-folio-core/internal/repository"
)

// IdentityService resolves a raw inbound phone identifier to a durable Actor.
// Read-only: a NotFound result means the sender is unauthenticated, never a
// retryable failure.
type IdentityService struct {
	actors ActorStore
	log    *logger.Logger
}

// NewIdentityService creates a new IdentityService.
func NewIdentityService(actors ActorStore, log *logger.Logger) *IdentityService {
	return &IdentityService{actors: actors, log: log}
}

// Resolve normalizes the identifier and looks it up: first by exact canonical
// match, then by the last 10 significant digits. The fallback exists because
// the directory is maintained by hand and stores numbers in whatever form
// they were typed.
func (s *IdentityService) Resolve(ctx context.Context, rawPhone string) (*repository.Actor, error) {
	canonical := phone.Canonical(rawPhone)
	if canonical == "" {
		return nil, errors.NotFound("actor", rawPhone)
	}

	actor, err := s.actors.GetByPhone(ctx, canonical)
	if err == nil {
		actor.CanonicalPhone = canonical
		return actor, nil
	}
	if errors.Code(err) != errors.ErrCodeNotFound {
		return nil, err
	}

	last10 := phone.Last10(canonical)
	actor, err = s.actors.GetByLast10(ctx, last10)
	if err != nil {
		if errors.Code(err) == errors.ErrCodeNotFound {
			s.log.Debug().
				Str("raw_phone", rawPhone).
				Str("canonical_phone", canonical).
				Msg("unknown sender")
			return nil, errors.NotFound("actor", canonical)
		}
		return nil, err
	}

	actor.CanonicalPhone = canonical
	return actor, nil
}

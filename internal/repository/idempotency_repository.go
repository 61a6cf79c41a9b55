package repository

import (
	"context"

	"github.com/foliodesk/be-folio-core/internal/database"
	"github.com/foliodesk/be-folio-core/internal/errors"
)

// IdempotencyRepository deduplicates inbound events by the gateway-assigned
// delivery identifier. The gateway retries on any non-2xx or timeout, so
// side-effecting commands must not double-apply.
type IdempotencyRepository struct {
	db *database.DB
}

// NewIdempotencyRepository creates a new IdempotencyRepository.
func NewIdempotencyRepository(db *database.DB) *IdempotencyRepository {
	return &IdempotencyRepository{db: db}
}

// Admit attempts to claim a delivery id. Returns true when this is the first
// time the id is seen and the event must be processed; false when it was
// already processed and the handler must short-circuit.
//
// An empty delivery id is always admitted: some inbound channels omit it, and
// that path explicitly accepts at-least-once processing.
func (r *IdempotencyRepository) Admit(ctx context.Context, deliveryID, sourcePhone string) (bool, error) {
	if deliveryID == "" {
		return true, nil
	}

	query := `
		INSERT INTO idempotency_ledger (delivery_id, source_phone)
		VALUES ($1, $2)
		ON CONFLICT (delivery_id) DO NOTHING
	`

	tag, err := r.db.Exec(ctx, query, deliveryID, sourcePhone)
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeInternal, "failed to record delivery id")
	}
	return tag.RowsAffected() == 1, nil
}

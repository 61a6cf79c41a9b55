package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/foliodesk/be-folio-core/internal/database"
	"github.com/foliodesk/be-folio-core/internal/errors"
)

// SequenceRepository issues gap-free monotonic codes per (prefix, period).
// Folio and project counters are independent rows sharing the same primitive.
type SequenceRepository struct {
	db *database.DB
}

// NewSequenceRepository creates a new SequenceRepository.
func NewSequenceRepository(db *database.DB) *SequenceRepository {
	return &SequenceRepository{db: db}
}

// Next issues the next code for a prefix and period, e.g. ("F", "202602") ->
// "F-202602-001". Safe under concurrent callers: the upsert-increment is a
// single atomic statement, so two issuers in the same period never share a
// sequence number.
func (r *SequenceRepository) Next(ctx context.Context, prefix, periodKey string) (string, error) {
	seq, err := nextSequenceTx(ctx, r.db, prefix, periodKey)
	if err != nil {
		return "", err
	}
	return FormatCode(prefix, periodKey, seq), nil
}

// FormatCode renders "<PREFIX>-<period>-<seq3>" with the sequence zero-padded
// to three digits.
func FormatCode(prefix, periodKey string, seq int) string {
	return fmt.Sprintf("%s-%s-%03d", prefix, periodKey, seq)
}

// execer is satisfied by both *database.DB and pgx.Tx, so code issuance can
// join the enclosing record-creation transaction.
type execer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// nextSequenceTx performs the atomic insert-or-increment on whatever
// connection scope the caller provides. A rolled-back enclosing transaction
// discards the increment, which may leave a gap; gaps are tolerated,
// duplicates are not.
func nextSequenceTx(ctx context.Context, q execer, prefix, periodKey string) (int, error) {
	query := `
		INSERT INTO sequence_counters (prefix, period_key, last_sequence)
		VALUES ($1, $2, 1)
		ON CONFLICT (prefix, period_key)
		DO UPDATE SET last_sequence = sequence_counters.last_sequence + 1
		RETURNING last_sequence
	`

	var seq int
	if err := q.QueryRow(ctx, query, prefix, periodKey).Scan(&seq); err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to issue sequence number")
	}
	return seq, nil
}

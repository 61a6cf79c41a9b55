package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/foliodesk/be-folio-core/internal/database"
	"github.com/foliodesk/be-folio-core/internal/errors"
)

// AuditRepository appends and reads the immutable history of folios and
// projects. Both tables carry delete-prevention triggers; append is the only
// mutation exposed.
type AuditRepository struct {
	db *database.DB
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db *database.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// AppendFolio inserts one folio history entry outside any enclosing
// transaction (comments use this; transitions append in their own tx).
func (r *AuditRepository) AppendFolio(ctx context.Context, entry *AuditEntry) error {
	return appendHistoryTx(ctx, r.db, "folio_history", entry)
}

// AppendProject inserts one project history entry.
func (r *AuditRepository) AppendProject(ctx context.Context, entry *AuditEntry) error {
	return appendHistoryTx(ctx, r.db, "project_history", entry)
}

// ListFolio returns the history of a folio, newest first when desc is set
// (display order) or oldest first (replay order).
func (r *AuditRepository) ListFolio(ctx context.Context, recordCode string, desc bool) ([]*AuditEntry, error) {
	return r.list(ctx, "folio_history", recordCode, desc)
}

// ListProject returns the history of a project.
func (r *AuditRepository) ListProject(ctx context.Context, recordCode string, desc bool) ([]*AuditEntry, error) {
	return r.list(ctx, "project_history", recordCode, desc)
}

func (r *AuditRepository) list(ctx context.Context, table, recordCode string, desc bool) ([]*AuditEntry, error) {
	order := "ASC"
	if desc {
		order = "DESC"
	}
	query := `
		SELECT id, record_code, status, comment, actor_phone, actor_role, created_at
		FROM ` + table + `
		WHERE record_code = $1
		ORDER BY created_at ` + order + `, id ` + order

	rows, err := r.db.Query(ctx, query, recordCode)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read history")
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		entry := &AuditEntry{}
		if err := rows.Scan(
			&entry.ID,
			&entry.RecordCode,
			&entry.Status,
			&entry.Comment,
			&entry.ActorPhone,
			&entry.ActorRole,
			&entry.CreatedAt,
		); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan history entry")
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ── tx-scoped append ──────────────────────────────────────────────────────────

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// appendHistoryTx writes one history row on the caller's connection scope, so
// transitions can append their audit rows inside the same transaction.
func appendHistoryTx(ctx context.Context, q rowQuerier, table string, entry *AuditEntry) error {
	query := `
		INSERT INTO ` + table + ` (record_code, status, comment, actor_phone, actor_role)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`

	err := q.QueryRow(ctx, query,
		entry.RecordCode,
		entry.Status,
		entry.Comment,
		entry.ActorPhone,
		entry.ActorRole,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to append history entry")
	}
	return nil
}

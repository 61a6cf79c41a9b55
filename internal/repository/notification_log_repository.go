package repository

import (
	"context"

	"github.com/foliodesk/be-folio-core/internal/database"
	"github.com/foliodesk/be-folio-core/internal/errors"
)

// NotificationLogRepository records every fan-out attempt. Write-mostly; the
// log never drives behavior, only reconciliation and observability.
type NotificationLogRepository struct {
	db *database.DB
}

// NewNotificationLogRepository creates a new NotificationLogRepository.
func NewNotificationLogRepository(db *database.DB) *NotificationLogRepository {
	return &NotificationLogRepository{db: db}
}

// Append inserts one dispatch attempt record.
func (r *NotificationLogRepository) Append(ctx context.Context, entry *NotificationLogEntry) error {
	query := `
		INSERT INTO notification_log
		    (record_code, org_unit, event_kind, recipient, outcome, error_detail)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`

	err := r.db.QueryRow(ctx, query,
		entry.RecordCode,
		entry.OrgUnit,
		entry.EventKind,
		entry.Recipient,
		entry.Outcome,
		entry.ErrorDetail,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to append notification log")
	}
	return nil
}

// ListByRecordCode returns the fan-out attempts for one record, newest first.
func (r *NotificationLogRepository) ListByRecordCode(ctx context.Context, recordCode string) ([]*NotificationLogEntry, error) {
	query := `
		SELECT id, record_code, org_unit, event_kind, recipient, outcome, error_detail, created_at
		FROM notification_log
		WHERE record_code = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.Query(ctx, query, recordCode)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list notification log")
	}
	defer rows.Close()

	var entries []*NotificationLogEntry
	for rows.Next() {
		entry := &NotificationLogEntry{}
		if err := rows.Scan(
			&entry.ID,
			&entry.RecordCode,
			&entry.OrgUnit,
			&entry.EventKind,
			&entry.Recipient,
			&entry.Outcome,
			&entry.ErrorDetail,
			&entry.CreatedAt,
		); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan notification log entry")
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

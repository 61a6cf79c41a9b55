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

// FolioPrefix is the code prefix for folio sequences.
const FolioPrefix = "F"

// PeriodKey renders the calendar-month sequence period for a point in time.
func PeriodKey(t time.Time) string {
	return t.UTC().Format("200601")
}

// FolioRepository owns the folios table and its transactional transitions.
// Code issuance and audit rows join the same transaction as the row change,
// so a failure mid-sequence never leaves a half-transitioned record.
type FolioRepository struct {
	db *database.DB
}

// NewFolioRepository creates a new FolioRepository.
func NewFolioRepository(db *database.DB) *FolioRepository {
	return &FolioRepository{db: db}
}

const folioColumns = `
	code, org_unit, beneficiary, purpose, amount::text, category, subcategory,
	unit_ref, priority, status, quote_attachment_url,
	approved_by, approved_at, prior_status, project_code,
	created_by, created_at, updated_at`

// Create issues the next folio code and inserts the folio plus its creation
// audit rows in one transaction. folio.Code is set on return.
func (r *FolioRepository) Create(ctx context.Context, folio *Folio, audit []*AuditEntry) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		seq, err := nextSequenceTx(ctx, tx, FolioPrefix, PeriodKey(time.Now()))
		if err != nil {
			return err
		}
		folio.Code = FormatCode(FolioPrefix, PeriodKey(time.Now()), seq)

		query := `
			INSERT INTO folios
			    (code, org_unit, beneficiary, purpose, amount, category, subcategory,
			     unit_ref, priority, status, project_code, approved_by, approved_at, created_by)
			VALUES ($1, $2, $3, $4, $5::numeric, $6, $7,
			        $8, $9, $10::folio_status, $11, $12, $13, $14)
			RETURNING created_at, updated_at
		`

		err = tx.QueryRow(ctx, query,
			folio.Code,
			folio.OrgUnit,
			folio.Beneficiary,
			folio.Purpose,
			folio.Amount.String(),
			folio.Category,
			folio.Subcategory,
			folio.UnitRef,
			folio.Priority,
			folio.Status,
			folio.ProjectCode,
			folio.ApprovedBy,
			folio.ApprovedAt,
			folio.CreatedBy,
		).Scan(&folio.CreatedAt, &folio.UpdatedAt)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create folio")
		}

		for _, entry := range audit {
			entry.RecordCode = folio.Code
			if err := appendHistoryTx(ctx, tx, "folio_history", entry); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetByCode retrieves a folio by its code.
func (r *FolioRepository) GetByCode(ctx context.Context, code string) (*Folio, error) {
	query := `SELECT ` + folioColumns + ` FROM folios WHERE code = $1`

	folio, err := scanFolio(r.db.QueryRow(ctx, query, code))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("folio", code)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get folio")
	}
	return folio, nil
}

// Transition applies one guarded status change atomically. The row is locked,
// the guard checked, the status and stamps updated, and the audit rows
// appended, all in one transaction. Racing callers on the same folio receive
// a Conflict once the first commit lands.
func (r *FolioRepository) Transition(ctx context.Context, t *FolioTransition) (*Folio, error) {
	var updated *Folio

	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		current, err := scanFolio(tx.QueryRow(ctx,
			`SELECT `+folioColumns+` FROM folios WHERE code = $1 FOR UPDATE`, t.Code))
		if err == pgx.ErrNoRows {
			return errors.NotFound("folio", t.Code)
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to lock folio")
		}

		if err := checkFolioGuard(current, t); err != nil {
			return err
		}

		target := t.To
		if t.RestorePriorStatus {
			if current.PriorStatus == nil {
				return errors.Conflict(fmt.Sprintf("folio %s has no prior status to restore", t.Code))
			}
			target = *current.PriorStatus
		}

		var priorStatus *FolioStatus
		switch {
		case t.CapturePriorStatus:
			s := current.Status
			priorStatus = &s
		case t.ClearPriorStatus || t.RestorePriorStatus:
			priorStatus = nil
		default:
			priorStatus = current.PriorStatus
		}

		approvedBy, approvedAt := current.ApprovedBy, current.ApprovedAt
		if t.SetApproved != nil {
			approvedBy = &t.SetApproved.By
			approvedAt = &t.SetApproved.At
		}

		query := `
			UPDATE folios
			SET status       = $2::folio_status,
			    prior_status = $3,
			    approved_by  = $4,
			    approved_at  = $5,
			    updated_at   = NOW()
			WHERE code = $1
			RETURNING updated_at
		`
		if err := tx.QueryRow(ctx, query, t.Code, target, priorStatus, approvedBy, approvedAt).
			Scan(&current.UpdatedAt); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to update folio status")
		}

		for _, entry := range t.Audit {
			entry.RecordCode = t.Code
			if err := appendHistoryTx(ctx, tx, "folio_history", entry); err != nil {
				return err
			}
		}

		current.Status = target
		current.PriorStatus = priorStatus
		current.ApprovedBy = approvedBy
		current.ApprovedAt = approvedAt
		updated = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// checkFolioGuard validates the CAS guard of a transition against the locked row.
func checkFolioGuard(current *Folio, t *FolioTransition) error {
	if len(t.From) == 0 {
		if current.Status.Terminal() {
			return errors.Conflict(fmt.Sprintf(
				"folio %s is %s and cannot change state", current.Code, current.Status))
		}
		return nil
	}
	for _, from := range t.From {
		if current.Status == from {
			return nil
		}
	}
	return errors.Conflict(fmt.Sprintf(
		"folio %s is %s, expected %s", current.Code, current.Status, statusList(t.From)))
}

func statusList(statuses []FolioStatus) string {
	out := ""
	for i, s := range statuses {
		if i > 0 {
			out += " or "
		}
		out += string(s)
	}
	return out
}

// SetQuoteAttachment stores the uploaded quote URL on a folio.
func (r *FolioRepository) SetQuoteAttachment(ctx context.Context, code, url string) error {
	query := `
		UPDATE folios
		SET quote_attachment_url = $2, updated_at = NOW()
		WHERE code = $1
		RETURNING code
	`
	var returned string
	err := r.db.QueryRow(ctx, query, code, url).Scan(&returned)
	if err == pgx.ErrNoRows {
		return errors.NotFound("folio", code)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to set attachment")
	}
	return nil
}

// List retrieves folios for the reporting surface, newest first.
func (r *FolioRepository) List(ctx context.Context, f FolioFilter) ([]*Folio, error) {
	query := `SELECT ` + folioColumns + ` FROM folios WHERE 1=1`
	args := []any{}
	argN := 1

	add := func(clause string, value any) {
		query += fmt.Sprintf(" AND "+clause, argN)
		args = append(args, value)
		argN++
	}

	if f.OrgUnit != nil {
		add("org_unit = $%d", *f.OrgUnit)
	}
	if f.Category != nil {
		add("LOWER(category) = LOWER($%d)", *f.Category)
	}
	if f.Status != nil {
		add("status = $%d::folio_status", *f.Status)
	}
	if f.ProjectCode != nil {
		add("project_code = $%d", *f.ProjectCode)
	}
	if f.FromDate != nil {
		add("created_at >= $%d", *f.FromDate)
	}
	if f.ToDate != nil {
		add("created_at <= $%d", *f.ToDate)
	}

	query += " ORDER BY created_at DESC"
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argN, argN+1)
	args = append(args, limit, f.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list folios")
	}
	defer rows.Close()

	var folios []*Folio
	for rows.Next() {
		folio, err := scanFolio(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan folio")
		}
		folios = append(folios, folio)
	}
	return folios, nil
}

// CountOpenByProject counts child folios not yet in a terminal status.
func (r *FolioRepository) CountOpenByProject(ctx context.Context, projectCode string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM folios
		WHERE project_code = $1
		  AND status NOT IN ('closed', 'canceled')
	`
	var count int
	if err := r.db.QueryRow(ctx, query, projectCode).Scan(&count); err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to count open folios")
	}
	return count, nil
}

// ── scan helper ───────────────────────────────────────────────────────────────

type folioScanner interface {
	Scan(dest ...any) error
}

func scanFolio(sc folioScanner) (*Folio, error) {
	folio := &Folio{}
	var amount string

	err := sc.Scan(
		&folio.Code,
		&folio.OrgUnit,
		&folio.Beneficiary,
		&folio.Purpose,
		&amount,
		&folio.Category,
		&folio.Subcategory,
		&folio.UnitRef,
		&folio.Priority,
		&folio.Status,
		&folio.QuoteAttachmentURL,
		&folio.ApprovedBy,
		&folio.ApprovedAt,
		&folio.PriorStatus,
		&folio.ProjectCode,
		&folio.CreatedBy,
		&folio.CreatedAt,
		&folio.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	folio.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse stored amount: %w", err)
	}
	return folio, nil
}

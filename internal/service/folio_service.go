package service

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/foliodesk/be-folio-core/internal/errors"
	"github.com/foliodesk/be-folio-core/internal/logger"
	"github.com/foliodesk/be-folio-core/internal/repository"
)

// FolioService implements the folio workflow: creation, the two-gate approval
// ladder, scheduling, payment, closure and the cancellation branch. Every
// state change is applied through a guarded repository transition and its
// notification fan-out runs only after the transaction committed.
type FolioService struct {
	folios   FolioStore
	audit    AuditStore
	notifier Notifier
	log      *logger.Logger
}

// NewFolioService creates a new FolioService.
func NewFolioService(folios FolioStore, audit AuditStore, notifier Notifier, log *logger.Logger) *FolioService {
	return &FolioService{folios: folios, audit: audit, notifier: notifier, log: log}
}

// CreateFolioInput carries the parsed fields of a creation request.
type CreateFolioInput struct {
	Purpose     string
	Beneficiary string
	Category    string
	Subcategory string
	UnitRef     string
	ProjectCode string
	Amount      decimal.Decimal
	HasAmount   bool
	Urgent      bool
}

// Create validates the request, issues the next code and inserts the folio in
// its initial status. Top-tier creators skip both approval gates: the audit
// trail still records the skipped hq_approved label so the history reads the
// same for every folio.
func (s *FolioService) Create(ctx context.Context, actor *repository.Actor, in CreateFolioInput) (*repository.Folio, *DispatchReport, error) {
	if strings.TrimSpace(in.Purpose) == "" {
		return nil, nil, errors.InvalidInput("purpose", "purpose is required")
	}
	if !in.HasAmount {
		return nil, nil, errors.InvalidInput("amount", "amount is required")
	}
	if !in.Amount.IsPositive() {
		return nil, nil, errors.InvalidInput("amount", "amount must be greater than zero")
	}
	if strings.TrimSpace(in.Category) == "" {
		return nil, nil, errors.InvalidInput("category", "category is required")
	}
	if strings.EqualFold(in.Category, repository.CategoryWorkshop) && strings.TrimSpace(in.UnitRef) == "" {
		return nil, nil, errors.InvalidInput("unit", "workshop folios require a unit reference")
	}

	priority := repository.PriorityNormal
	if in.Urgent {
		priority = repository.PriorityUrgent
	}

	initial := InitialFolioStatus(actor.Role)
	folio := &repository.Folio{
		OrgUnit:     actor.OrgUnit,
		Beneficiary: strings.TrimSpace(in.Beneficiary),
		Purpose:     strings.TrimSpace(in.Purpose),
		Amount:      in.Amount,
		Category:    strings.TrimSpace(in.Category),
		Priority:    priority,
		Status:      initial,
		CreatedBy:   actor.CanonicalPhone,
	}
	if sub := strings.TrimSpace(in.Subcategory); sub != "" {
		folio.Subcategory = &sub
	}
	if unit := strings.TrimSpace(in.UnitRef); unit != "" {
		folio.UnitRef = &unit
	}
	if project := strings.TrimSpace(in.ProjectCode); project != "" {
		folio.ProjectCode = &project
	}

	audit := []*repository.AuditEntry{
		auditRow(actor, repository.StatusGenerated, "folio created"),
	}
	if initial == repository.StatusReadyToSchedule {
		now := time.Now()
		folio.ApprovedBy = &actor.CanonicalPhone
		folio.ApprovedAt = &now
		audit = append(audit,
			auditRow(actor, repository.StatusHQApproved, "auto"),
			auditRow(actor, repository.StatusReadyToSchedule, ""),
		)
	} else {
		audit = append(audit, auditRow(actor, initial, ""))
	}

	if err := s.folios.Create(ctx, folio, audit); err != nil {
		return nil, nil, err
	}

	s.log.Info().
		Str("folio_code", folio.Code).
		Str("org_unit", folio.OrgUnit).
		Str("status", string(folio.Status)).
		Str("created_by", actor.CanonicalPhone).
		Msg("folio created")

	event := repository.EventFolioCreated
	message := fmt.Sprintf("New folio %s (%s, $%s): %s. Awaiting plant approval.",
		folio.Code, folio.OrgUnit, folio.Amount.StringFixed(2), folio.Purpose)
	if initial == repository.StatusReadyToSchedule {
		event = repository.EventFolioApproved
		message = fmt.Sprintf("Folio %s (%s, $%s) approved and ready to schedule: %s",
			folio.Code, folio.OrgUnit, folio.Amount.StringFixed(2), folio.Purpose)
	}

	report := s.notifier.Dispatch(ctx, folio.Code, folio.OrgUnit, event, DispatchOptions{
		Message:        message,
		ActorPhone:     actor.CanonicalPhone,
		ExcludeActor:   true,
		NotifyEveryone: in.Urgent,
	})
	return folio, report, nil
}

// Approve advances a folio through the gate the actor's role controls: plant
// managers move pending_plant_approval folios to the HQ gate, the director
// resolves the HQ gate. Intermediate labels the folio never rests in are still
// written to the audit trail.
func (s *FolioService) Approve(ctx context.Context, actor *repository.Actor, code string) (*repository.Folio, error) {
	switch actor.Role {
	case repository.RoleSiteManager, repository.RoleGeneralManager:
		return s.plantApprove(ctx, actor, code)
	case repository.RoleDirector:
		return s.hqApprove(ctx, actor, code, "")
	default:
		return nil, errors.Unauthorized("your role cannot approve folios")
	}
}

func (s *FolioService) plantApprove(ctx context.Context, actor *repository.Actor, code string) (*repository.Folio, error) {
	folio, err := s.folios.Transition(ctx, &repository.FolioTransition{
		Code: code,
		From: []repository.FolioStatus{repository.StatusPendingPlantApproval},
		To:   repository.StatusPendingHQApproval,
		Audit: []*repository.AuditEntry{
			auditRow(actor, repository.StatusPlantApproved, ""),
			auditRow(actor, repository.StatusPendingHQApproval, ""),
		},
	})
	if err != nil {
		return nil, err
	}

	s.logTransition(folio, actor, "plant approved")
	s.notifier.Dispatch(ctx, folio.Code, folio.OrgUnit, repository.EventFolioPlantApproved, DispatchOptions{
		Message: fmt.Sprintf("Folio %s (%s, $%s) passed plant approval and awaits HQ review: %s",
			folio.Code, folio.OrgUnit, folio.Amount.StringFixed(2), folio.Purpose),
		ActorPhone:   actor.CanonicalPhone,
		ExcludeActor: true,
	})
	return folio, nil
}

func (s *FolioService) hqApprove(ctx context.Context, actor *repository.Actor, code, overrideReason string) (*repository.Folio, error) {
	from := []repository.FolioStatus{repository.StatusPendingHQApproval}
	approvedComment := ""
	if overrideReason != "" {
		from = append(from, repository.StatusPendingPlantApproval)
		approvedComment = "override: " + overrideReason
	}

	folio, err := s.folios.Transition(ctx, &repository.FolioTransition{
		Code:        code,
		From:        from,
		To:          repository.StatusReadyToSchedule,
		SetApproved: &repository.ApprovalStamp{By: actor.CanonicalPhone, At: time.Now()},
		Audit: []*repository.AuditEntry{
			auditRow(actor, repository.StatusHQApproved, approvedComment),
			auditRow(actor, repository.StatusReadyToSchedule, ""),
		},
	})
	if err != nil {
		return nil, err
	}

	s.logTransition(folio, actor, "hq approved")
	s.notifier.Dispatch(ctx, folio.Code, folio.OrgUnit, repository.EventFolioApproved, DispatchOptions{
		Message: fmt.Sprintf("Folio %s (%s, $%s) is fully approved and ready to schedule: %s",
			folio.Code, folio.OrgUnit, folio.Amount.StringFixed(2), folio.Purpose),
		ActorPhone:   actor.CanonicalPhone,
		ExcludeActor: true,
	})
	return folio, nil
}

// ApproveOverride lets the top tier approve a folio still waiting at the
// plant gate. The reason is mandatory and lands verbatim in the audit trail.
func (s *FolioService) ApproveOverride(ctx context.Context, actor *repository.Actor, code, reason string) (*repository.Folio, error) {
	if actor.Role != repository.RoleDirector {
		return nil, errors.Unauthorized("only the director may override approvals")
	}
	if strings.TrimSpace(reason) == "" {
		return nil, errors.InvalidInput("reason", "an override requires a reason")
	}
	return s.hqApprove(ctx, actor, code, strings.TrimSpace(reason))
}

// ── Batch approval ────────────────────────────────────────────────────────────

// BatchOutcome classifies one token of a batch approval.
type BatchOutcome string

const (
	BatchApproved        BatchOutcome = "approved"
	BatchAlreadyApproved BatchOutcome = "already_approved"
	BatchNotFound        BatchOutcome = "not_found"
	BatchWrongState      BatchOutcome = "wrong_state"
	BatchCanceled        BatchOutcome = "canceled"
	BatchMalformedToken  BatchOutcome = "malformed_token"
)

// BatchItem is the per-token result of a batch approval.
type BatchItem struct {
	Token   string
	Code    string
	Outcome BatchOutcome
	Detail  string
}

// BatchReport summarizes a batch approval. Tokens are processed
// independently: one failure never aborts the rest.
type BatchReport struct {
	Items    []BatchItem
	Approved int
}

var (
	fullCodeRe   = regexp.MustCompile(`^(F|PRJ)-\d{6}-\d{3}$`)
	shortTokenRe = regexp.MustCompile(`^\d{1,3}$`)
)

// ApproveBatch approves several folios in one command. Short numeric tokens
// are expanded against the period of any full code in the same batch, falling
// back to the current month.
func (s *FolioService) ApproveBatch(ctx context.Context, actor *repository.Actor, tokens []string) (*BatchReport, error) {
	if len(tokens) == 0 {
		return nil, errors.InvalidInput("codes", "no folio codes given")
	}

	period := repository.PeriodKey(time.Now())
	for _, token := range tokens {
		if fullCodeRe.MatchString(token) && strings.HasPrefix(token, repository.FolioPrefix+"-") {
			period = token[len(repository.FolioPrefix)+1 : len(repository.FolioPrefix)+7]
			break
		}
	}

	report := &BatchReport{}
	for _, token := range tokens {
		item := BatchItem{Token: token}

		switch {
		case fullCodeRe.MatchString(token):
			item.Code = token
		case shortTokenRe.MatchString(token):
			n, _ := strconv.Atoi(token)
			item.Code = repository.FormatCode(repository.FolioPrefix, period, n)
		default:
			item.Outcome = BatchMalformedToken
			item.Detail = "not a folio code"
			report.Items = append(report.Items, item)
			continue
		}

		item.Outcome, item.Detail = s.approveOne(ctx, actor, item.Code)
		if item.Outcome == BatchApproved {
			report.Approved++
		}
		report.Items = append(report.Items, item)
	}
	return report, nil
}

// approveOne classifies a single batch member. The pre-read is advisory; the
// transition's own guard stays authoritative under races.
func (s *FolioService) approveOne(ctx context.Context, actor *repository.Actor, code string) (BatchOutcome, string) {
	folio, err := s.folios.GetByCode(ctx, code)
	if err != nil {
		if errors.Code(err) == errors.ErrCodeNotFound {
			return BatchNotFound, ""
		}
		return BatchWrongState, errors.Message(err)
	}

	expectedGate := repository.StatusPendingHQApproval
	if actor.Role == repository.RoleSiteManager || actor.Role == repository.RoleGeneralManager {
		expectedGate = repository.StatusPendingPlantApproval
	}

	switch {
	case folio.Status == expectedGate:
		// proceed
	case folio.Status == repository.StatusCanceled:
		return BatchCanceled, ""
	case folioPastGate(folio.Status, expectedGate):
		return BatchAlreadyApproved, ""
	default:
		return BatchWrongState, fmt.Sprintf("status is %s", folio.Status)
	}

	if _, err := s.Approve(ctx, actor, code); err != nil {
		if errors.Code(err) == errors.ErrCodeUnauthorized {
			return BatchWrongState, errors.Message(err)
		}
		return BatchWrongState, fmt.Sprintf("status is %s", folio.Status)
	}
	return BatchApproved, ""
}

// folioPastGate reports whether a status lies beyond the given approval gate.
func folioPastGate(status repository.FolioStatus, gate repository.FolioStatus) bool {
	order := map[repository.FolioStatus]int{
		repository.StatusPendingPlantApproval: 0,
		repository.StatusPlantApproved:        1,
		repository.StatusPendingHQApproval:    2,
		repository.StatusReadyToSchedule:      3,
		repository.StatusSelectedForWeek:      4,
		repository.StatusPaymentRequested:     5,
		repository.StatusPaid:                 6,
		repository.StatusClosed:               7,
	}
	rank, ok := order[status]
	if !ok {
		return false
	}
	return rank > order[gate]
}

// ── Scheduling, payment and closure ───────────────────────────────────────────

// Select marks an approved folio for the current payment week.
func (s *FolioService) Select(ctx context.Context, actor *repository.Actor, code string) (*repository.Folio, error) {
	if !CanTransition(actor.Role, EdgeSelectForWeek) {
		return nil, errors.Unauthorized("your role cannot select folios for payment")
	}

	folio, err := s.folios.Transition(ctx, &repository.FolioTransition{
		Code:  code,
		From:  []repository.FolioStatus{repository.StatusReadyToSchedule},
		To:    repository.StatusSelectedForWeek,
		Audit: []*repository.AuditEntry{auditRow(actor, repository.StatusSelectedForWeek, "")},
	})
	if err != nil {
		return nil, err
	}

	s.logTransition(folio, actor, "selected for week")
	s.notifier.Dispatch(ctx, folio.Code, folio.OrgUnit, repository.EventFolioSelected, DispatchOptions{
		Message: fmt.Sprintf("Folio %s (%s, $%s) was selected for this week's payments.",
			folio.Code, folio.OrgUnit, folio.Amount.StringFixed(2)),
		ActorPhone:   actor.CanonicalPhone,
		ExcludeActor: true,
	})
	return folio, nil
}

// RequestPayment moves a selected folio into the payment pipeline.
func (s *FolioService) RequestPayment(ctx context.Context, actor *repository.Actor, code string) (*repository.Folio, error) {
	if !CanTransition(actor.Role, EdgeRequestPayment) {
		return nil, errors.Unauthorized("your role cannot request payments")
	}

	folio, err := s.folios.Transition(ctx, &repository.FolioTransition{
		Code:  code,
		From:  []repository.FolioStatus{repository.StatusSelectedForWeek},
		To:    repository.StatusPaymentRequested,
		Audit: []*repository.AuditEntry{auditRow(actor, repository.StatusPaymentRequested, "")},
	})
	if err != nil {
		return nil, err
	}

	s.logTransition(folio, actor, "payment requested")
	s.notifier.Dispatch(ctx, folio.Code, folio.OrgUnit, repository.EventFolioPaymentRequested, DispatchOptions{
		Message: fmt.Sprintf("Payment requested for folio %s (%s, $%s).",
			folio.Code, folio.OrgUnit, folio.Amount.StringFixed(2)),
		ActorPhone:   actor.CanonicalPhone,
		ExcludeActor: true,
	})
	return folio, nil
}

// MarkPaid records that the payment went out.
func (s *FolioService) MarkPaid(ctx context.Context, actor *repository.Actor, code string) (*repository.Folio, error) {
	if !CanTransition(actor.Role, EdgeMarkPaid) {
		return nil, errors.Unauthorized("your role cannot mark folios as paid")
	}

	folio, err := s.folios.Transition(ctx, &repository.FolioTransition{
		Code:  code,
		From:  []repository.FolioStatus{repository.StatusPaymentRequested},
		To:    repository.StatusPaid,
		Audit: []*repository.AuditEntry{auditRow(actor, repository.StatusPaid, "")},
	})
	if err != nil {
		return nil, err
	}

	s.logTransition(folio, actor, "paid")
	s.notifier.Dispatch(ctx, folio.Code, folio.OrgUnit, repository.EventFolioPaid, DispatchOptions{
		Message: fmt.Sprintf("Folio %s (%s, $%s) has been paid.",
			folio.Code, folio.OrgUnit, folio.Amount.StringFixed(2)),
		ActorPhone:   actor.CanonicalPhone,
		ExcludeActor: true,
	})
	return folio, nil
}

// Close ends the lifecycle of a paid folio.
func (s *FolioService) Close(ctx context.Context, actor *repository.Actor, code string) (*repository.Folio, error) {
	if !CanTransition(actor.Role, EdgeCloseFolio) {
		return nil, errors.Unauthorized("your role cannot close folios")
	}

	folio, err := s.folios.Transition(ctx, &repository.FolioTransition{
		Code:  code,
		From:  []repository.FolioStatus{repository.StatusPaid},
		To:    repository.StatusClosed,
		Audit: []*repository.AuditEntry{auditRow(actor, repository.StatusClosed, "")},
	})
	if err != nil {
		return nil, err
	}

	s.logTransition(folio, actor, "closed")
	s.notifier.Dispatch(ctx, folio.Code, folio.OrgUnit, repository.EventFolioClosed, DispatchOptions{
		Message:      fmt.Sprintf("Folio %s (%s) is closed.", folio.Code, folio.OrgUnit),
		ActorPhone:   actor.CanonicalPhone,
		ExcludeActor: true,
	})
	return folio, nil
}

// ── Cancellation branch ───────────────────────────────────────────────────────

// RequestCancellation parks a folio in cancellation_requested, remembering the
// status it came from so a rejection can put it back. Paid and terminal
// folios refuse the request.
func (s *FolioService) RequestCancellation(ctx context.Context, actor *repository.Actor, code, reason string) (*repository.Folio, error) {
	if !CanTransition(actor.Role, EdgeRequestCancellation) {
		return nil, errors.Unauthorized("your role cannot request cancellations")
	}

	comment := "cancellation requested"
	if r := strings.TrimSpace(reason); r != "" {
		comment = r
	}

	folio, err := s.folios.Transition(ctx, &repository.FolioTransition{
		Code:               code,
		From:               cancellableFrom,
		To:                 repository.StatusCancellationRequested,
		CapturePriorStatus: true,
		Audit:              []*repository.AuditEntry{auditRow(actor, repository.StatusCancellationRequested, comment)},
	})
	if err != nil {
		return nil, err
	}

	s.logTransition(folio, actor, "cancellation requested")
	s.notifier.Dispatch(ctx, folio.Code, folio.OrgUnit, repository.EventFolioCancelRequested, DispatchOptions{
		Message: fmt.Sprintf("Cancellation requested for folio %s (%s, $%s): %s",
			folio.Code, folio.OrgUnit, folio.Amount.StringFixed(2), comment),
		ActorPhone:   actor.CanonicalPhone,
		ExcludeActor: true,
	})
	return folio, nil
}

// AuthorizeCancellation lets the top tier confirm a pending cancellation.
func (s *FolioService) AuthorizeCancellation(ctx context.Context, actor *repository.Actor, code string) (*repository.Folio, error) {
	if !CanTransition(actor.Role, EdgeResolveCancellation) {
		return nil, errors.Unauthorized("only the director may resolve cancellations")
	}

	folio, err := s.folios.Transition(ctx, &repository.FolioTransition{
		Code:             code,
		From:             []repository.FolioStatus{repository.StatusCancellationRequested},
		To:               repository.StatusCanceled,
		ClearPriorStatus: true,
		Audit:            []*repository.AuditEntry{auditRow(actor, repository.StatusCanceled, "")},
	})
	if err != nil {
		return nil, err
	}

	s.logTransition(folio, actor, "canceled")
	s.notifier.Dispatch(ctx, folio.Code, folio.OrgUnit, repository.EventFolioCanceled, DispatchOptions{
		Message:      fmt.Sprintf("Folio %s (%s) was canceled.", folio.Code, folio.OrgUnit),
		ActorPhone:   actor.CanonicalPhone,
		ExcludeActor: true,
	})
	return folio, nil
}

// RejectCancellation returns the folio to the status it held before the
// request.
func (s *FolioService) RejectCancellation(ctx context.Context, actor *repository.Actor, code, reason string) (*repository.Folio, error) {
	if !CanTransition(actor.Role, EdgeResolveCancellation) {
		return nil, errors.Unauthorized("only the director may resolve cancellations")
	}

	comment := "cancellation rejected"
	if r := strings.TrimSpace(reason); r != "" {
		comment = "cancellation rejected: " + r
	}

	folio, err := s.folios.Transition(ctx, &repository.FolioTransition{
		Code:               code,
		From:               []repository.FolioStatus{repository.StatusCancellationRequested},
		RestorePriorStatus: true,
		Audit:              []*repository.AuditEntry{auditRow(actor, "cancellation_rejected", comment)},
	})
	if err != nil {
		return nil, err
	}

	s.logTransition(folio, actor, "cancellation rejected")
	s.notifier.Dispatch(ctx, folio.Code, folio.OrgUnit, repository.EventFolioCancelRejected, DispatchOptions{
		Message: fmt.Sprintf("Cancellation of folio %s (%s) was rejected; it is back in %s.",
			folio.Code, folio.OrgUnit, folio.Status),
		ActorPhone:   actor.CanonicalPhone,
		ExcludeActor: true,
	})
	return folio, nil
}

// ── Comments, attachments and queries ─────────────────────────────────────────

// Comment appends a free-text note to the audit trail without changing state.
func (s *FolioService) Comment(ctx context.Context, actor *repository.Actor, code, text string) error {
	if strings.TrimSpace(text) == "" {
		return errors.InvalidInput("comment", "comment text is required")
	}

	folio, err := s.folios.GetByCode(ctx, code)
	if err != nil {
		return err
	}

	entry := auditRow(actor, folio.Status, strings.TrimSpace(text))
	entry.RecordCode = folio.Code
	if err := s.audit.AppendFolio(ctx, entry); err != nil {
		return err
	}

	s.notifier.Dispatch(ctx, folio.Code, folio.OrgUnit, repository.EventFolioComment, DispatchOptions{
		Message: fmt.Sprintf("Comment on folio %s by %s: %s",
			folio.Code, actor.Name, strings.TrimSpace(text)),
		ActorPhone:   actor.CanonicalPhone,
		ExcludeActor: true,
	})
	return nil
}

// AttachQuote stores the uploaded quote document URL and records it in the
// trail.
func (s *FolioService) AttachQuote(ctx context.Context, actor *repository.Actor, code, url string) error {
	folio, err := s.folios.GetByCode(ctx, code)
	if err != nil {
		return err
	}

	if err := s.folios.SetQuoteAttachment(ctx, code, url); err != nil {
		return err
	}

	entry := auditRow(actor, folio.Status, "quote attached")
	entry.RecordCode = folio.Code
	return s.audit.AppendFolio(ctx, entry)
}

// Get retrieves one folio by code.
func (s *FolioService) Get(ctx context.Context, code string) (*repository.Folio, error) {
	return s.folios.GetByCode(ctx, code)
}

// History returns the full audit trail of a folio, oldest first.
func (s *FolioService) History(ctx context.Context, code string) ([]*repository.AuditEntry, error) {
	if _, err := s.folios.GetByCode(ctx, code); err != nil {
		return nil, err
	}
	return s.audit.ListFolio(ctx, code, false)
}

// List retrieves folios matching the filter for the reporting surface.
func (s *FolioService) List(ctx context.Context, f repository.FolioFilter) ([]*repository.Folio, error) {
	return s.folios.List(ctx, f)
}

// ── helpers ───────────────────────────────────────────────────────────────────

func auditRow(actor *repository.Actor, status repository.FolioStatus, comment string) *repository.AuditEntry {
	return &repository.AuditEntry{
		Status:     string(status),
		Comment:    comment,
		ActorPhone: actor.CanonicalPhone,
		ActorRole:  actor.Role,
	}
}

func (s *FolioService) logTransition(folio *repository.Folio, actor *repository.Actor, action string) {
	s.log.Info().
		Str("folio_code", folio.Code).
		Str("status", string(folio.Status)).
		Str("actor", actor.CanonicalPhone).
		Str("role", string(actor.Role)).
		Msg("folio " + action)
}

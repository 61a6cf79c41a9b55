package repository

import (
	"time"

	"github.com/shopspring/decimal"
)

// ── Roles ─────────────────────────────────────────────────────────────────────

// Role is the closed set of authority levels gating state transitions.
type Role string

const (
	RoleDirector       Role = "director"        // top tier
	RoleGeneralManager Role = "general_manager" // mid tier
	RoleSiteManager    Role = "site_manager"    // plant administrative manager
	RoleController     Role = "controller"      // corporate controller
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleDirector, RoleGeneralManager, RoleSiteManager, RoleController:
		return true
	}
	return false
}

// Actor is the identity resolved from an inbound phone identifier. It is
// recomputed per event, never persisted as a session object.
type Actor struct {
	Phone          string // as stored in the directory
	CanonicalPhone string
	Name           string
	Role           Role
	RoleLevel      int
	OrgUnit        string
}

// ── Folio ─────────────────────────────────────────────────────────────────────

// FolioStatus is a folio lifecycle state. hq_approved and generated also
// appear as audit-trail labels for states that are passed through atomically.
type FolioStatus string

const (
	StatusGenerated             FolioStatus = "generated"
	StatusPendingPlantApproval  FolioStatus = "pending_plant_approval"
	StatusPlantApproved         FolioStatus = "plant_approved"
	StatusPendingHQApproval     FolioStatus = "pending_hq_approval"
	StatusHQApproved            FolioStatus = "hq_approved"
	StatusReadyToSchedule       FolioStatus = "ready_to_schedule"
	StatusSelectedForWeek       FolioStatus = "selected_for_week"
	StatusPaymentRequested      FolioStatus = "payment_requested"
	StatusPaid                  FolioStatus = "paid"
	StatusClosed                FolioStatus = "closed"
	StatusCancellationRequested FolioStatus = "cancellation_requested"
	StatusCanceled              FolioStatus = "canceled"
)

// Terminal reports whether no further transitions are possible.
func (s FolioStatus) Terminal() bool {
	return s == StatusClosed || s == StatusCanceled
}

// Priority of a folio.
const (
	PriorityNormal = "normal"
	PriorityUrgent = "urgent"
)

// CategoryWorkshop is the only category that carries a unit reference.
const CategoryWorkshop = "workshop"

// Folio is an expense request tracked through the approval lifecycle.
type Folio struct {
	Code               string // F-YYYYMM-NNN, immutable once issued
	OrgUnit            string
	Beneficiary        string
	Purpose            string
	Amount             decimal.Decimal
	Category           string
	Subcategory        *string
	UnitRef            *string // only for workshop category
	Priority           string
	Status             FolioStatus
	QuoteAttachmentURL *string
	ApprovedBy         *string
	ApprovedAt         *time.Time
	PriorStatus        *FolioStatus // non-nil iff Status == cancellation_requested
	ProjectCode        *string
	CreatedBy          string // canonical phone of the creator
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// FolioFilter narrows folio listings for the reporting surface.
type FolioFilter struct {
	OrgUnit     *string
	Category    *string
	Status      *FolioStatus
	ProjectCode *string
	FromDate    *time.Time
	ToDate      *time.Time
	Limit       int
	Offset      int
}

// ApprovalStamp records who approved a record and when.
type ApprovalStamp struct {
	By string
	At time.Time
}

// FolioTransition is one guarded status change applied atomically: the CAS
// guard, the target status, optional field updates and the audit rows written
// in the same transaction.
type FolioTransition struct {
	Code string
	// From lists the statuses the folio must currently be in. Empty means any
	// non-terminal status.
	From []FolioStatus
	To   FolioStatus

	SetApproved        *ApprovalStamp
	CapturePriorStatus bool // stash current status for a later rollback
	RestorePriorStatus bool // To is ignored; status reverts to prior_status
	ClearPriorStatus   bool

	Audit []*AuditEntry
}

// ── Project ───────────────────────────────────────────────────────────────────

// ProjectStatus is a project lifecycle state.
type ProjectStatus string

const (
	ProjectStatusInCourse              ProjectStatus = "in_course"
	ProjectStatusClosed                ProjectStatus = "closed"
	ProjectStatusCancellationRequested ProjectStatus = "cancellation_requested"
	ProjectStatusCanceled              ProjectStatus = "canceled"
)

// Project is an umbrella grouping of folios with its own 4-state lifecycle.
// Monetary totals are derived from its non-cancelled folios on read.
type Project struct {
	Code               string // PRJ-YYYYMM-NNN
	OrgUnit            string
	Name               string
	StartDate          time.Time
	EstimatedCloseDate *time.Time
	ActualCloseDate    *time.Time
	Status             ProjectStatus
	Approved           bool
	ApprovedBy         *string
	CreatedBy          string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ProjectTotals is the derived monetary view of a project.
type ProjectTotals struct {
	FolioCount  int
	TotalAmount decimal.Decimal
}

// ProjectTransition mirrors FolioTransition for the project machine.
type ProjectTransition struct {
	Code  string
	From  []ProjectStatus
	To    ProjectStatus
	Close bool // also stamps actual_close_date
	Audit []*AuditEntry
}

// ── Audit trail ───────────────────────────────────────────────────────────────

// AuditEntry is one immutable history row for a folio or project.
type AuditEntry struct {
	ID         int64
	RecordCode string
	Status     string
	Comment    string
	ActorPhone string
	ActorRole  Role
	CreatedAt  time.Time
}

// ── Notification log ──────────────────────────────────────────────────────────

// EventKind identifies a fan-out trigger.
type EventKind string

const (
	EventFolioCreated              EventKind = "folio_created"
	EventFolioPlantApproved        EventKind = "folio_plant_approved"
	EventFolioApproved             EventKind = "folio_approved"
	EventFolioSelected             EventKind = "folio_selected"
	EventFolioPaymentRequested     EventKind = "folio_payment_requested"
	EventFolioPaid                 EventKind = "folio_paid"
	EventFolioClosed               EventKind = "folio_closed"
	EventFolioCancelRequested      EventKind = "folio_cancellation_requested"
	EventFolioCanceled             EventKind = "folio_canceled"
	EventFolioCancelRejected       EventKind = "folio_cancellation_rejected"
	EventFolioComment              EventKind = "folio_comment"
	EventProjectCreated            EventKind = "project_created"
	EventProjectApproved           EventKind = "project_approved"
	EventProjectClosed             EventKind = "project_closed"
	EventProjectCancelRequested    EventKind = "project_cancellation_requested"
	EventProjectCanceled           EventKind = "project_canceled"
)

// Dispatch outcomes recorded per recipient.
const (
	OutcomeSent   = "SENT"
	OutcomeFailed = "FAILED"
)

// NotificationLogEntry is one write-only fan-out attempt record. It never
// drives behavior, only observability.
type NotificationLogEntry struct {
	ID          int64
	RecordCode  string
	OrgUnit     string
	EventKind   EventKind
	Recipient   string
	Outcome     string
	ErrorDetail *string
	CreatedAt   time.Time
}

// ── Idempotency ledger ────────────────────────────────────────────────────────

// IdempotencyRecord marks an inbound delivery as processed.
type IdempotencyRecord struct {
	DeliveryID  string
	SourcePhone string
	ReceivedAt  time.Time
}

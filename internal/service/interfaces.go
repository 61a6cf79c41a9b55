package service

import (
	"context"

	"github.com/foliodesk/be-folio-core/internal/repository"
)

// Store interfaces consumed by the services. The repository structs satisfy
// them; tests substitute in-memory fakes.

// FolioStore persists folios and their guarded transitions.
type FolioStore interface {
	Create(ctx context.Context, folio *repository.Folio, audit []*repository.AuditEntry) error
	GetByCode(ctx context.Context, code string) (*repository.Folio, error)
	Transition(ctx context.Context, t *repository.FolioTransition) (*repository.Folio, error)
	SetQuoteAttachment(ctx context.Context, code, url string) error
	List(ctx context.Context, f repository.FolioFilter) ([]*repository.Folio, error)
	CountOpenByProject(ctx context.Context, projectCode string) (int, error)
}

// ProjectStore persists projects and their transitions.
type ProjectStore interface {
	Create(ctx context.Context, project *repository.Project, audit []*repository.AuditEntry) error
	GetByCode(ctx context.Context, code string) (*repository.Project, error)
	Transition(ctx context.Context, t *repository.ProjectTransition) (*repository.Project, error)
	SetApproved(ctx context.Context, code, approvedBy string) error
	Totals(ctx context.Context, code string) (*repository.ProjectTotals, error)
	ListByOrgUnit(ctx context.Context, orgUnit string) ([]*repository.Project, error)
	AddAttachment(ctx context.Context, projectCode, url, uploadedBy string) error
}

// AuditStore reads and appends history entries outside transitions.
type AuditStore interface {
	AppendFolio(ctx context.Context, entry *repository.AuditEntry) error
	AppendProject(ctx context.Context, entry *repository.AuditEntry) error
	ListFolio(ctx context.Context, recordCode string, desc bool) ([]*repository.AuditEntry, error)
	ListProject(ctx context.Context, recordCode string, desc bool) ([]*repository.AuditEntry, error)
}

// ActorStore reads the actor directory.
type ActorStore interface {
	GetByPhone(ctx context.Context, canonicalPhone string) (*repository.Actor, error)
	GetByLast10(ctx context.Context, last10 string) (*repository.Actor, error)
	ListByRolesInUnit(ctx context.Context, orgUnit string, roles []repository.Role) ([]*repository.Actor, error)
	ListByRoles(ctx context.Context, roles []repository.Role) ([]*repository.Actor, error)
}

// NotificationLogStore records fan-out attempts.
type NotificationLogStore interface {
	Append(ctx context.Context, entry *repository.NotificationLogEntry) error
}

// MessageSender is the outbound messaging gateway collaborator.
type MessageSender interface {
	Send(ctx context.Context, to, body string) error
}

// EventPublisher emits workflow events to the notification bus. Optional:
// implementations must treat failures as non-fatal.
type EventPublisher interface {
	PublishRecordEvent(ctx context.Context, event repository.EventKind, recordCode, orgUnit, actorPhone string, recipients []string)
}

// EmailSender is the escalation mail channel for urgent events. Optional:
// implementations report whether they are usable.
type EmailSender interface {
	IsConfigured() bool
	SendEmail(to []string, subject, body string) error
}

// Notifier is the fan-out engine as seen by the folio and project services.
type Notifier interface {
	Dispatch(ctx context.Context, recordCode, orgUnit string, event repository.EventKind, opts DispatchOptions) *DispatchReport
}

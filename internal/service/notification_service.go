package service

import (
	"context"
	"fmt"
	"time"

	"github.com/foliodesk/be-folio-core/internal/logger"
	"github.com/foliodesk/be-folio-core/internal/phone"
	"github.com/foliodesk/be-folio-core/internal/repository"
)

// recipientRule is the pure recipient computation per event kind: roles
// notified within the record's org unit plus roles notified system-wide.
type recipientRule struct {
	unitRoles   []repository.Role
	globalRoles []repository.Role
}

var recipientRules = map[repository.EventKind]recipientRule{
	repository.EventFolioCreated: {
		unitRoles: []repository.Role{repository.RoleSiteManager, repository.RoleGeneralManager},
	},
	// Plant approval moves the folio to the HQ gate, so directors are told.
	repository.EventFolioPlantApproved: {
		globalRoles: []repository.Role{repository.RoleDirector},
	},
	repository.EventFolioApproved: {
		unitRoles:   []repository.Role{repository.RoleGeneralManager, repository.RoleSiteManager},
		globalRoles: []repository.Role{repository.RoleController},
	},
	repository.EventFolioSelected: {
		unitRoles: []repository.Role{repository.RoleGeneralManager, repository.RoleSiteManager},
	},
	repository.EventFolioPaymentRequested: {
		unitRoles:   []repository.Role{repository.RoleGeneralManager},
		globalRoles: []repository.Role{repository.RoleDirector},
	},
	repository.EventFolioPaid: {
		unitRoles: []repository.Role{repository.RoleGeneralManager, repository.RoleSiteManager},
	},
	repository.EventFolioClosed: {
		unitRoles: []repository.Role{repository.RoleGeneralManager, repository.RoleSiteManager},
	},
	repository.EventFolioCancelRequested: {
		globalRoles: []repository.Role{repository.RoleDirector},
	},
	repository.EventFolioCanceled: {
		unitRoles:   []repository.Role{repository.RoleGeneralManager, repository.RoleSiteManager},
		globalRoles: []repository.Role{repository.RoleController},
	},
	repository.EventFolioCancelRejected: {
		unitRoles: []repository.Role{repository.RoleGeneralManager, repository.RoleSiteManager},
	},
	repository.EventFolioComment: {
		unitRoles:   []repository.Role{repository.RoleGeneralManager, repository.RoleSiteManager},
		globalRoles: []repository.Role{repository.RoleController},
	},
	repository.EventProjectCreated: {
		unitRoles:   []repository.Role{repository.RoleGeneralManager, repository.RoleSiteManager},
		globalRoles: []repository.Role{repository.RoleDirector},
	},
	repository.EventProjectApproved: {
		unitRoles: []repository.Role{repository.RoleGeneralManager, repository.RoleSiteManager},
	},
	repository.EventProjectClosed: {
		unitRoles:   []repository.Role{repository.RoleGeneralManager, repository.RoleSiteManager},
		globalRoles: []repository.Role{repository.RoleController},
	},
	repository.EventProjectCancelRequested: {
		globalRoles: []repository.Role{repository.RoleDirector},
	},
	repository.EventProjectCanceled: {
		unitRoles:   []repository.Role{repository.RoleGeneralManager, repository.RoleSiteManager},
		globalRoles: []repository.Role{repository.RoleController},
	},
}

// DispatchOptions tunes one fan-out.
type DispatchOptions struct {
	// Message is the body sent to every recipient.
	Message string
	// ActorPhone identifies the actor who triggered the event, matched by
	// last-10-digit equivalence when ExcludeActor is set.
	ActorPhone   string
	ExcludeActor bool
	// NotifyEveryone additionally includes top-tier roles.
	NotifyEveryone bool
}

// DispatchFailure is one recipient that could not be reached.
type DispatchFailure struct {
	Recipient string
	Error     string
}

// DispatchReport summarizes the synchronous part of a fan-out. Recipients
// handed to the background dispatcher are counted in Deferred and appear in
// the notification log once attempted.
type DispatchReport struct {
	Sent     int
	Failed   int
	Deferred int
	Failures []DispatchFailure
}

// NotificationService computes per-event recipient sets and dispatches
// messages, logging every attempt. A single recipient's failure never aborts
// the rest, and no automatic retry is performed.
type NotificationService struct {
	actors    ActorStore
	logRepo   NotificationLogStore
	sender    MessageSender
	publisher EventPublisher // optional
	email     EmailSender    // optional
	log       *logger.Logger

	chunkSize        int
	chunkDelay       time.Duration
	excludeActor     bool // config default for the ExcludeActor option
	escalationEmails []string

	queue chan dispatchChunk
	done  chan struct{}
}

// NotificationConfig sizes the fan-out pacing.
type NotificationConfig struct {
	ChunkSize        int
	ChunkDelay       time.Duration
	QueueSize        int
	ExcludeActor     bool
	EscalationEmails []string
}

// NewNotificationService creates the fan-out engine. Call Start to run the
// background dispatcher and Stop to drain it.
func NewNotificationService(
	actors ActorStore,
	logRepo NotificationLogStore,
	sender MessageSender,
	publisher EventPublisher,
	email EmailSender,
	cfg NotificationConfig,
	log *logger.Logger,
) *NotificationService {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 5
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	return &NotificationService{
		actors:           actors,
		logRepo:          logRepo,
		sender:           sender,
		publisher:        publisher,
		email:            email,
		log:              log,
		chunkSize:        cfg.ChunkSize,
		chunkDelay:       cfg.ChunkDelay,
		excludeActor:     cfg.ExcludeActor,
		escalationEmails: cfg.EscalationEmails,
		queue:            make(chan dispatchChunk, cfg.QueueSize),
		done:             make(chan struct{}),
	}
}

// Dispatch computes the recipient set for an event and sends the message.
// The first chunk goes out synchronously so the triggering user gets a
// truthful summary; remaining chunks are paced in the background to respect
// the gateway's throughput limits.
func (s *NotificationService) Dispatch(
	ctx context.Context,
	recordCode, orgUnit string,
	event repository.EventKind,
	opts DispatchOptions,
) *DispatchReport {
	report := &DispatchReport{}

	recipients, err := s.computeRecipients(ctx, orgUnit, event, opts)
	if err != nil {
		// Fan-out failures are never surfaced to the triggering user as a
		// failure of their own action.
		s.log.Warn().Err(err).
			Str("record_code", recordCode).
			Str("event", string(event)).
			Msg("recipient computation failed; notification skipped")
		return report
	}
	if len(recipients) == 0 {
		return report
	}

	if s.publisher != nil {
		s.publisher.PublishRecordEvent(ctx, event, recordCode, orgUnit, opts.ActorPhone, actorPhones(recipients))
	}

	if opts.NotifyEveryone {
		s.escalateByEmail(recordCode, opts.Message)
	}

	first := recipients
	if len(first) > s.chunkSize {
		first = recipients[:s.chunkSize]
	}
	for _, recipient := range first {
		s.sendOne(ctx, recordCode, orgUnit, event, opts.Message, recipient, report)
	}

	rest := recipients[len(first):]
	for start := 0; start < len(rest); start += s.chunkSize {
		end := start + s.chunkSize
		if end > len(rest) {
			end = len(rest)
		}
		chunk := dispatchChunk{
			recordCode: recordCode,
			orgUnit:    orgUnit,
			event:      event,
			message:    opts.Message,
			recipients: rest[start:end],
		}
		select {
		case s.queue <- chunk:
			report.Deferred += len(chunk.recipients)
		default:
			// Queue full: deliver inline rather than drop.
			for _, recipient := range chunk.recipients {
				s.sendOne(ctx, recordCode, orgUnit, event, opts.Message, recipient, report)
			}
		}
	}

	s.log.Info().
		Str("record_code", recordCode).
		Str("event", string(event)).
		Int("sent", report.Sent).
		Int("failed", report.Failed).
		Int("deferred", report.Deferred).
		Msg("notification fan-out dispatched")

	return report
}

// computeRecipients is a pure function of (org unit, event kind, options)
// over the directory.
func (s *NotificationService) computeRecipients(
	ctx context.Context,
	orgUnit string,
	event repository.EventKind,
	opts DispatchOptions,
) ([]*repository.Actor, error) {
	rule := recipientRules[event]

	var recipients []*repository.Actor
	if len(rule.unitRoles) > 0 {
		unit, err := s.actors.ListByRolesInUnit(ctx, orgUnit, rule.unitRoles)
		if err != nil {
			return nil, err
		}
		recipients = append(recipients, unit...)
	}

	globalRoles := rule.globalRoles
	if opts.NotifyEveryone && !containsRole(globalRoles, repository.RoleDirector) {
		globalRoles = append(append([]repository.Role{}, globalRoles...), repository.RoleDirector)
	}
	if len(globalRoles) > 0 {
		global, err := s.actors.ListByRoles(ctx, globalRoles)
		if err != nil {
			return nil, err
		}
		recipients = append(recipients, global...)
	}

	exclude := opts.ExcludeActor || s.excludeActor
	seen := make(map[string]bool, len(recipients))
	out := recipients[:0]
	for _, recipient := range recipients {
		key := phone.Last10(recipient.Phone)
		if key == "" || seen[key] {
			continue
		}
		if exclude && opts.ActorPhone != "" && phone.SameNumber(recipient.Phone, opts.ActorPhone) {
			continue
		}
		seen[key] = true
		out = append(out, recipient)
	}
	return out, nil
}

// sendOne delivers to a single recipient with loop-level isolation and logs
// the outcome.
func (s *NotificationService) sendOne(
	ctx context.Context,
	recordCode, orgUnit string,
	event repository.EventKind,
	message string,
	recipient *repository.Actor,
	report *DispatchReport,
) {
	entry := &repository.NotificationLogEntry{
		RecordCode: recordCode,
		OrgUnit:    orgUnit,
		EventKind:  event,
		Recipient:  recipient.CanonicalPhone,
	}

	if err := s.sender.Send(ctx, recipient.CanonicalPhone, message); err != nil {
		detail := err.Error()
		entry.Outcome = repository.OutcomeFailed
		entry.ErrorDetail = &detail
		report.Failed++
		report.Failures = append(report.Failures, DispatchFailure{
			Recipient: recipient.CanonicalPhone,
			Error:     detail,
		})
		s.log.Warn().Err(err).
			Str("record_code", recordCode).
			Str("recipient", recipient.CanonicalPhone).
			Msg("notification send failed")
	} else {
		entry.Outcome = repository.OutcomeSent
		report.Sent++
	}

	if err := s.logRepo.Append(ctx, entry); err != nil {
		s.log.Warn().Err(err).
			Str("record_code", recordCode).
			Msg("failed to append notification log entry")
	}
}

// escalateByEmail mirrors urgent events to the configured escalation
// addresses. Failures are logged only.
func (s *NotificationService) escalateByEmail(recordCode, message string) {
	if s.email == nil || !s.email.IsConfigured() || len(s.escalationEmails) == 0 {
		return
	}
	subject := fmt.Sprintf("Urgent: %s", recordCode)
	if err := s.email.SendEmail(s.escalationEmails, subject, message); err != nil {
		s.log.Warn().Err(err).
			Str("record_code", recordCode).
			Msg("escalation email failed")
	}
}

func actorPhones(actors []*repository.Actor) []string {
	phones := make([]string, len(actors))
	for i, a := range actors {
		phones[i] = a.CanonicalPhone
	}
	return phones
}

func containsRole(roles []repository.Role, role repository.Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

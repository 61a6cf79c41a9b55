package handler

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/foliodesk/be-folio-core/internal/command"
	"github.com/foliodesk/be-folio-core/internal/errors"
	"github.com/foliodesk/be-folio-core/internal/logger"
	"github.com/foliodesk/be-folio-core/internal/repository"
	"github.com/foliodesk/be-folio-core/internal/service"
	"github.com/foliodesk/be-folio-core/internal/session"
)

// IdempotencyGate admits each inbound delivery id exactly once.
type IdempotencyGate interface {
	Admit(ctx context.Context, deliveryID, sourcePhone string) (bool, error)
}

// ObjectStore stores attachment bytes and returns their URL.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// WebhookHandler receives inbound chat events from the gateway. The gateway
// retries on non-2xx, so the handler always answers 200 once the event has
// been admitted; user-facing feedback travels back as an outbound message.
type WebhookHandler struct {
	identity    *service.IdentityService
	folios      *service.FolioService
	projects    *service.ProjectService
	idempotency IdempotencyGate
	sessions    session.Store
	sender      service.MessageSender
	store       ObjectStore
	http        *http.Client
	log         *logger.Logger
}

// NewWebhookHandler creates a new WebhookHandler. sessions and store may be
// nil; the attach and close-confirmation flows then degrade to single-message
// behavior.
func NewWebhookHandler(
	identity *service.IdentityService,
	folios *service.FolioService,
	projects *service.ProjectService,
	idempotency IdempotencyGate,
	sessions session.Store,
	sender service.MessageSender,
	store ObjectStore,
	log *logger.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		identity:    identity,
		folios:      folios,
		projects:    projects,
		idempotency: idempotency,
		sessions:    sessions,
		sender:      sender,
		store:       store,
		http:        &http.Client{Timeout: 15 * time.Second},
		log:         log,
	}
}

// inboundEvent is the gateway's webhook payload. Older gateway versions send
// the attachment as flat attachment_* fields, newer ones as a nested object;
// both are accepted.
type inboundEvent struct {
	DeliveryID string             `json:"delivery_id"`
	From       string             `json:"from"`
	Body       string             `json:"body"`
	Attachment *inboundAttachment `json:"attachment,omitempty"`

	AttachmentCount       int    `json:"attachment_count,omitempty"`
	AttachmentURL         string `json:"attachment_url,omitempty"`
	AttachmentContentType string `json:"attachment_content_type,omitempty"`
}

type inboundAttachment struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Filename    string `json:"filename,omitempty"`
}

// attachment returns the event's attachment in either wire shape, or nil.
func (e *inboundEvent) attachment() *inboundAttachment {
	if e.Attachment != nil {
		return e.Attachment
	}
	if e.AttachmentURL != "" {
		return &inboundAttachment{URL: e.AttachmentURL, ContentType: e.AttachmentContentType}
	}
	return nil
}

// HandleInbound processes one inbound chat event.
func (h *WebhookHandler) HandleInbound(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var event inboundEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		// A malformed body will never become parseable on retry.
		h.log.Warn().Err(err).Msg("webhook: undecodable event body")
		writeOK(w)
		return
	}

	ctx := r.Context()

	firstSeen, err := h.idempotency.Admit(ctx, event.DeliveryID, event.From)
	if err != nil {
		h.log.Error().Err(err).Str("delivery_id", event.DeliveryID).Msg("webhook: idempotency check failed")
		// The event was not processed; tell the sender instead of going silent.
		if sendErr := h.sender.Send(ctx, event.From, errors.Message(err)); sendErr != nil {
			h.log.Warn().Err(sendErr).Str("to", event.From).Msg("webhook: failed to send reply")
		}
		writeOK(w)
		return
	}
	if !firstSeen {
		h.log.Debug().Str("delivery_id", event.DeliveryID).Msg("webhook: duplicate delivery ignored")
		writeOK(w)
		return
	}

	reply := h.process(ctx, &event)
	if reply != "" {
		if err := h.sender.Send(ctx, event.From, reply); err != nil {
			h.log.Warn().Err(err).Str("to", event.From).Msg("webhook: failed to send reply")
		}
	}
	writeOK(w)
}

// process runs the whole inbound pipeline and returns the reply text.
func (h *WebhookHandler) process(ctx context.Context, event *inboundEvent) string {
	actor, err := h.identity.Resolve(ctx, event.From)
	if err != nil {
		if errors.Code(err) == errors.ErrCodeNotFound {
			return "This number is not registered. Ask your administrator for access."
		}
		h.log.Error().Err(err).Msg("webhook: identity resolution failed")
		return errors.Message(err)
	}

	if reply, handled := h.continueSession(ctx, actor, event); handled {
		return reply
	}

	cmd, err := command.Parse(event.Body)
	if err != nil {
		return errors.Message(err)
	}

	return h.execute(ctx, actor, cmd)
}

// continueSession resumes a pending two-message flow, if one is live for the
// sender.
func (h *WebhookHandler) continueSession(ctx context.Context, actor *repository.Actor, event *inboundEvent) (string, bool) {
	if h.sessions == nil {
		return "", false
	}
	state, err := h.sessions.Get(ctx, actor.CanonicalPhone)
	if err != nil {
		if err != session.ErrNotFound {
			h.log.Warn().Err(err).Msg("webhook: session lookup failed")
		}
		return "", false
	}

	switch state.Kind {
	case session.KindPendingAttach:
		att := event.attachment()
		if att == nil {
			// Any other message abandons the pending attach.
			_ = h.sessions.Delete(ctx, actor.CanonicalPhone)
			return "", false
		}
		reply := h.completeAttach(ctx, actor, state.RecordCode, att)
		_ = h.sessions.Delete(ctx, actor.CanonicalPhone)
		return reply, true

	case session.KindPendingCloseConfirm:
		cmd, err := command.Parse(event.Body)
		if err == nil && cmd.Intent == command.IntentCloseProject && cmd.Code == state.RecordCode {
			_ = h.sessions.Delete(ctx, actor.CanonicalPhone)
			project, err := h.projects.Close(ctx, actor, state.RecordCode, true)
			if err != nil {
				return errors.Message(err), true
			}
			return fmt.Sprintf("Project %s closed.", project.Code), true
		}
		_ = h.sessions.Delete(ctx, actor.CanonicalPhone)
		return "", false
	}

	return "", false
}

// completeAttach downloads the attachment from the gateway and stores it on
// the record the pending session named.
func (h *WebhookHandler) completeAttach(ctx context.Context, actor *repository.Actor, code string, att *inboundAttachment) string {
	data, err := h.fetchAttachment(ctx, att.URL)
	if err != nil {
		h.log.Warn().Err(err).Str("record_code", code).Msg("webhook: attachment download failed")
		return "Could not download the attachment. Send 'attach " + code + "' and try again."
	}

	key := fmt.Sprintf("%s/%s", code, uuid.NewString())
	if att.Filename != "" {
		key = fmt.Sprintf("%s/%s-%s", code, uuid.NewString()[:8], att.Filename)
	}
	url, err := h.store.Put(ctx, key, data, att.ContentType)
	if err != nil {
		h.log.Error().Err(err).Str("record_code", code).Msg("webhook: attachment upload failed")
		return errors.Message(errors.Wrap(err, errors.ErrCodeInternal, "attachment upload failed"))
	}

	if strings.HasPrefix(code, repository.ProjectPrefix+"-") {
		if err := h.projects.AddAttachment(ctx, actor, code, url); err != nil {
			return errors.Message(err)
		}
	} else {
		if err := h.folios.AttachQuote(ctx, actor, code, url); err != nil {
			return errors.Message(err)
		}
	}
	return fmt.Sprintf("Attachment stored on %s.", code)
}

func (h *WebhookHandler) fetchAttachment(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("attachment fetch returned %d", resp.StatusCode)
	}
	// 25 MB cap, matching the gateway's media limit.
	return io.ReadAll(io.LimitReader(resp.Body, 25<<20))
}

// execute routes one parsed command to its service operation.
func (h *WebhookHandler) execute(ctx context.Context, actor *repository.Actor, cmd *command.Command) string {
	switch cmd.Intent {
	case command.IntentCreateFolio:
		return h.createFolio(ctx, actor, cmd.Folio)

	case command.IntentStatus:
		return h.status(ctx, cmd.Codes)

	case command.IntentApprove:
		if len(cmd.Codes) == 1 {
			folio, err := h.folios.Approve(ctx, actor, cmd.Codes[0])
			if err != nil {
				return errors.Message(err)
			}
			return fmt.Sprintf("Folio %s is now %s.", folio.Code, folio.Status)
		}
		report, err := h.folios.ApproveBatch(ctx, actor, cmd.Codes)
		if err != nil {
			return errors.Message(err)
		}
		return formatBatchReport(report)

	case command.IntentApproveOverride:
		folio, err := h.folios.ApproveOverride(ctx, actor, cmd.Code, cmd.Reason)
		if err != nil {
			return errors.Message(err)
		}
		return fmt.Sprintf("Folio %s approved by override; it is now %s.", folio.Code, folio.Status)

	case command.IntentSelect:
		folio, err := h.folios.Select(ctx, actor, cmd.Code)
		if err != nil {
			return errors.Message(err)
		}
		return fmt.Sprintf("Folio %s selected for this week.", folio.Code)

	case command.IntentRequestPayment:
		folio, err := h.folios.RequestPayment(ctx, actor, cmd.Code)
		if err != nil {
			return errors.Message(err)
		}
		return fmt.Sprintf("Payment requested for folio %s.", folio.Code)

	case command.IntentMarkPaid:
		folio, err := h.folios.MarkPaid(ctx, actor, cmd.Code)
		if err != nil {
			return errors.Message(err)
		}
		return fmt.Sprintf("Folio %s marked as paid.", folio.Code)

	case command.IntentCloseFolio:
		folio, err := h.folios.Close(ctx, actor, cmd.Code)
		if err != nil {
			return errors.Message(err)
		}
		return fmt.Sprintf("Folio %s closed.", folio.Code)

	case command.IntentCancel:
		folio, err := h.folios.RequestCancellation(ctx, actor, cmd.Code, cmd.Reason)
		if err != nil {
			return errors.Message(err)
		}
		return fmt.Sprintf("Cancellation of folio %s requested; awaiting authorization.", folio.Code)

	case command.IntentAuthorizeCancellation:
		folio, err := h.folios.AuthorizeCancellation(ctx, actor, cmd.Code)
		if err != nil {
			return errors.Message(err)
		}
		return fmt.Sprintf("Folio %s canceled.", folio.Code)

	case command.IntentRejectCancellation:
		folio, err := h.folios.RejectCancellation(ctx, actor, cmd.Code, cmd.Reason)
		if err != nil {
			return errors.Message(err)
		}
		return fmt.Sprintf("Cancellation rejected; folio %s is back in %s.", folio.Code, folio.Status)

	case command.IntentHistory:
		return h.history(ctx, cmd.Code)

	case command.IntentComment:
		if strings.HasPrefix(cmd.Code, repository.ProjectPrefix+"-") {
			if err := h.projects.Comment(ctx, actor, cmd.Code, cmd.Text); err != nil {
				return errors.Message(err)
			}
		} else if err := h.folios.Comment(ctx, actor, cmd.Code, cmd.Text); err != nil {
			return errors.Message(err)
		}
		return fmt.Sprintf("Comment added to %s.", cmd.Code)

	case command.IntentAttach:
		return h.startAttach(ctx, actor, cmd.Code)

	case command.IntentCreateProject:
		project, err := h.projects.Create(ctx, actor, service.CreateProjectInput{
			Name:      cmd.Project.Name,
			OrgUnit:   cmd.Project.OrgUnit,
			StartDate: startDatePtr(cmd.Project.StartDate),
			EndDate:   cmd.Project.EndDate,
		})
		if err != nil {
			return errors.Message(err)
		}
		return fmt.Sprintf("Project %s created: %s", project.Code, project.Name)

	case command.IntentApproveProject:
		project, err := h.projects.Approve(ctx, actor, cmd.Code)
		if err != nil {
			return errors.Message(err)
		}
		return fmt.Sprintf("Project %s approved.", project.Code)

	case command.IntentProjectsFor:
		return h.projectsFor(ctx, cmd.OrgUnit)

	case command.IntentCloseProject:
		return h.closeProject(ctx, actor, cmd.Code)

	case command.IntentCancelProject:
		project, err := h.projects.RequestCancellation(ctx, actor, cmd.Code, cmd.Reason)
		if err != nil {
			return errors.Message(err)
		}
		return fmt.Sprintf("Cancellation of project %s requested; awaiting confirmation.", project.Code)

	case command.IntentConfirmProjectCancel:
		project, err := h.projects.ConfirmCancellation(ctx, actor, cmd.Code)
		if err != nil {
			return errors.Message(err)
		}
		return fmt.Sprintf("Project %s canceled.", project.Code)
	}

	return "Unrecognized command. Try 'status <code>', 'approve <code>' or 'create folio <purpose>; amount: <n>; category: <c>'."
}

func (h *WebhookHandler) createFolio(ctx context.Context, actor *repository.Actor, fields *command.FolioFields) string {
	folio, report, err := h.folios.Create(ctx, actor, service.CreateFolioInput{
		Purpose:     fields.Purpose,
		Beneficiary: fields.Beneficiary,
		Category:    fields.Category,
		Subcategory: fields.Subcategory,
		UnitRef:     fields.UnitRef,
		ProjectCode: fields.ProjectCode,
		Amount:      fields.Amount,
		HasAmount:   fields.HasAmount,
		Urgent:      fields.Urgent,
	})
	if err != nil {
		return errors.Message(err)
	}

	reply := fmt.Sprintf("Folio %s created (%s, $%s), status %s.",
		folio.Code, folio.OrgUnit, folio.Amount.StringFixed(2), folio.Status)
	if report != nil && report.Failed > 0 {
		reply += fmt.Sprintf(" %d notification(s) could not be delivered.", report.Failed)
	}
	return reply
}

func (h *WebhookHandler) status(ctx context.Context, codes []string) string {
	var lines []string
	for _, code := range codes {
		if strings.HasPrefix(code, repository.ProjectPrefix+"-") {
			summary, err := h.projects.Get(ctx, code)
			if err != nil {
				lines = append(lines, fmt.Sprintf("%s: %s", code, errors.Message(err)))
				continue
			}
			lines = append(lines, fmt.Sprintf("%s: %s, %d folio(s), total $%s",
				code, summary.Project.Status, summary.Totals.FolioCount, summary.Totals.TotalAmount.StringFixed(2)))
			continue
		}
		folio, err := h.folios.Get(ctx, code)
		if err != nil {
			lines = append(lines, fmt.Sprintf("%s: %s", code, errors.Message(err)))
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s, $%s (%s)",
			folio.Code, folio.Status, folio.Amount.StringFixed(2), folio.Purpose))
	}
	return strings.Join(lines, "\n")
}

func (h *WebhookHandler) history(ctx context.Context, code string) string {
	var entries []*repository.AuditEntry
	var err error
	if strings.HasPrefix(code, repository.ProjectPrefix+"-") {
		entries, err = h.projects.History(ctx, code)
	} else {
		entries, err = h.folios.History(ctx, code)
	}
	if err != nil {
		return errors.Message(err)
	}

	lines := []string{"History of " + code + ":"}
	for _, e := range entries {
		line := fmt.Sprintf("%s  %s (%s)", e.CreatedAt.Format("2006-01-02 15:04"), e.Status, e.ActorRole)
		if e.Comment != "" {
			line += ": " + e.Comment
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (h *WebhookHandler) startAttach(ctx context.Context, actor *repository.Actor, code string) string {
	// Validate the record exists before arming the session.
	if strings.HasPrefix(code, repository.ProjectPrefix+"-") {
		if _, err := h.projects.Get(ctx, code); err != nil {
			return errors.Message(err)
		}
	} else {
		if _, err := h.folios.Get(ctx, code); err != nil {
			return errors.Message(err)
		}
	}

	if h.sessions == nil {
		return "Attachments are not available right now."
	}
	state := &session.State{Kind: session.KindPendingAttach, RecordCode: code, CreatedAt: time.Now()}
	if err := h.sessions.Put(ctx, actor.CanonicalPhone, state, session.DefaultTTL); err != nil {
		h.log.Warn().Err(err).Msg("webhook: failed to arm attach session")
		return errors.Message(errors.Wrap(err, errors.ErrCodeInternal, "session store unavailable"))
	}
	return fmt.Sprintf("Send the document for %s as your next message.", code)
}

func (h *WebhookHandler) closeProject(ctx context.Context, actor *repository.Actor, code string) string {
	project, err := h.projects.Close(ctx, actor, code, false)
	if err != nil {
		var confirm *service.CloseConfirmationError
		if stderrors.As(err, &confirm) {
			if h.sessions != nil {
				state := &session.State{Kind: session.KindPendingCloseConfirm, RecordCode: code, CreatedAt: time.Now()}
				if putErr := h.sessions.Put(ctx, actor.CanonicalPhone, state, session.DefaultTTL); putErr != nil {
					h.log.Warn().Err(putErr).Msg("webhook: failed to arm close confirmation")
				}
			}
			return fmt.Sprintf("Project %s still has %d open folio(s). Repeat 'close project %s' to confirm.",
				code, confirm.OpenFolios, code)
		}
		return errors.Message(err)
	}
	return fmt.Sprintf("Project %s closed.", project.Code)
}

func (h *WebhookHandler) projectsFor(ctx context.Context, orgUnit string) string {
	summaries, err := h.projects.ListByOrgUnit(ctx, orgUnit)
	if err != nil {
		return errors.Message(err)
	}
	if len(summaries) == 0 {
		return "No projects for " + orgUnit + "."
	}

	lines := []string{"Projects for " + orgUnit + ":"}
	for _, s := range summaries {
		lines = append(lines, fmt.Sprintf("%s  %s (%s): %d folio(s), total $%s",
			s.Project.Code, s.Project.Name, s.Project.Status,
			s.Totals.FolioCount, s.Totals.TotalAmount.StringFixed(2)))
	}
	return strings.Join(lines, "\n")
}

func formatBatchReport(report *service.BatchReport) string {
	lines := []string{fmt.Sprintf("Approved %d of %d:", report.Approved, len(report.Items))}
	for _, item := range report.Items {
		line := fmt.Sprintf("%s: %s", item.Token, item.Outcome)
		if item.Detail != "" {
			line += " (" + item.Detail + ")"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func startDatePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

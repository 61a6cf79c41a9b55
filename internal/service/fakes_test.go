package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/foliodesk/be-folio-core/internal/errors"
	"github.com/foliodesk/be-folio-core/internal/repository"
)

// In-memory store fakes mirroring the repository guard semantics, so the
// services can be exercised without a database.

type fakeFolioStore struct {
	mu      sync.Mutex
	folios  map[string]*repository.Folio
	history map[string][]*repository.AuditEntry
	seq     int
}

func newFakeFolioStore() *fakeFolioStore {
	return &fakeFolioStore{
		folios:  make(map[string]*repository.Folio),
		history: make(map[string][]*repository.AuditEntry),
	}
}

func (s *fakeFolioStore) put(folio *repository.Folio) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.folios[folio.Code] = folio
}

func (s *fakeFolioStore) Create(ctx context.Context, folio *repository.Folio, audit []*repository.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	folio.Code = repository.FormatCode(repository.FolioPrefix, repository.PeriodKey(time.Now()), s.seq)
	folio.CreatedAt = time.Now()
	folio.UpdatedAt = folio.CreatedAt
	copied := *folio
	s.folios[folio.Code] = &copied

	for _, entry := range audit {
		entry.RecordCode = folio.Code
		s.history[folio.Code] = append(s.history[folio.Code], entry)
	}
	return nil
}

func (s *fakeFolioStore) GetByCode(ctx context.Context, code string) (*repository.Folio, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	folio, ok := s.folios[code]
	if !ok {
		return nil, errors.NotFound("folio", code)
	}
	copied := *folio
	return &copied, nil
}

func (s *fakeFolioStore) Transition(ctx context.Context, t *repository.FolioTransition) (*repository.Folio, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	folio, ok := s.folios[t.Code]
	if !ok {
		return nil, errors.NotFound("folio", t.Code)
	}

	if len(t.From) == 0 {
		if folio.Status.Terminal() {
			return nil, errors.Conflict(fmt.Sprintf("folio %s is %s and cannot change state", folio.Code, folio.Status))
		}
	} else {
		allowed := false
		for _, from := range t.From {
			if folio.Status == from {
				allowed = true
				break
			}
		}
		if !allowed {
			return nil, errors.Conflict(fmt.Sprintf("folio %s is %s", folio.Code, folio.Status))
		}
	}

	target := t.To
	if t.RestorePriorStatus {
		if folio.PriorStatus == nil {
			return nil, errors.Conflict("no prior status to restore")
		}
		target = *folio.PriorStatus
	}

	switch {
	case t.CapturePriorStatus:
		prior := folio.Status
		folio.PriorStatus = &prior
	case t.ClearPriorStatus || t.RestorePriorStatus:
		folio.PriorStatus = nil
	}

	if t.SetApproved != nil {
		folio.ApprovedBy = &t.SetApproved.By
		folio.ApprovedAt = &t.SetApproved.At
	}

	folio.Status = target
	folio.UpdatedAt = time.Now()

	for _, entry := range t.Audit {
		entry.RecordCode = t.Code
		s.history[t.Code] = append(s.history[t.Code], entry)
	}

	copied := *folio
	return &copied, nil
}

func (s *fakeFolioStore) SetQuoteAttachment(ctx context.Context, code, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	folio, ok := s.folios[code]
	if !ok {
		return errors.NotFound("folio", code)
	}
	folio.QuoteAttachmentURL = &url
	return nil
}

func (s *fakeFolioStore) List(ctx context.Context, f repository.FolioFilter) ([]*repository.Folio, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*repository.Folio
	for _, folio := range s.folios {
		if f.OrgUnit != nil && folio.OrgUnit != *f.OrgUnit {
			continue
		}
		if f.Status != nil && folio.Status != *f.Status {
			continue
		}
		copied := *folio
		out = append(out, &copied)
	}
	return out, nil
}

func (s *fakeFolioStore) CountOpenByProject(ctx context.Context, projectCode string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, folio := range s.folios {
		if folio.ProjectCode != nil && *folio.ProjectCode == projectCode && !folio.Status.Terminal() {
			count++
		}
	}
	return count, nil
}

func (s *fakeFolioStore) historyOf(code string) []*repository.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*repository.AuditEntry{}, s.history[code]...)
}

// ── project store ─────────────────────────────────────────────────────────────

type fakeProjectStore struct {
	mu          sync.Mutex
	projects    map[string]*repository.Project
	history     map[string][]*repository.AuditEntry
	attachments map[string][]string
	totals      map[string]*repository.ProjectTotals
	seq         int
}

func newFakeProjectStore() *fakeProjectStore {
	return &fakeProjectStore{
		projects:    make(map[string]*repository.Project),
		history:     make(map[string][]*repository.AuditEntry),
		attachments: make(map[string][]string),
		totals:      make(map[string]*repository.ProjectTotals),
	}
}

func (s *fakeProjectStore) Create(ctx context.Context, project *repository.Project, audit []*repository.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	project.Code = repository.FormatCode(repository.ProjectPrefix, repository.PeriodKey(time.Now()), s.seq)
	project.CreatedAt = time.Now()
	project.UpdatedAt = project.CreatedAt
	copied := *project
	s.projects[project.Code] = &copied

	for _, entry := range audit {
		entry.RecordCode = project.Code
		s.history[project.Code] = append(s.history[project.Code], entry)
	}
	return nil
}

func (s *fakeProjectStore) GetByCode(ctx context.Context, code string) (*repository.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	project, ok := s.projects[code]
	if !ok {
		return nil, errors.NotFound("project", code)
	}
	copied := *project
	return &copied, nil
}

func (s *fakeProjectStore) Transition(ctx context.Context, t *repository.ProjectTransition) (*repository.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	project, ok := s.projects[t.Code]
	if !ok {
		return nil, errors.NotFound("project", t.Code)
	}

	allowed := false
	for _, from := range t.From {
		if project.Status == from {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, errors.Conflict(fmt.Sprintf("project %s is %s", t.Code, project.Status))
	}

	project.Status = t.To
	if t.Close {
		now := time.Now()
		project.ActualCloseDate = &now
	}
	for _, entry := range t.Audit {
		entry.RecordCode = t.Code
		s.history[t.Code] = append(s.history[t.Code], entry)
	}

	copied := *project
	return &copied, nil
}

func (s *fakeProjectStore) SetApproved(ctx context.Context, code, approvedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	project, ok := s.projects[code]
	if !ok {
		return errors.NotFound("project", code)
	}
	project.Approved = true
	project.ApprovedBy = &approvedBy
	return nil
}

func (s *fakeProjectStore) Totals(ctx context.Context, code string) (*repository.ProjectTotals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if totals, ok := s.totals[code]; ok {
		return totals, nil
	}
	return &repository.ProjectTotals{}, nil
}

func (s *fakeProjectStore) ListByOrgUnit(ctx context.Context, orgUnit string) ([]*repository.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*repository.Project
	for _, project := range s.projects {
		if project.OrgUnit == orgUnit {
			copied := *project
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *fakeProjectStore) AddAttachment(ctx context.Context, projectCode, url, uploadedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attachments[projectCode] = append(s.attachments[projectCode], url)
	return nil
}

// ── audit store ───────────────────────────────────────────────────────────────

type fakeAuditStore struct {
	mu      sync.Mutex
	folio   map[string][]*repository.AuditEntry
	project map[string][]*repository.AuditEntry
}

func newFakeAuditStore() *fakeAuditStore {
	return &fakeAuditStore{
		folio:   make(map[string][]*repository.AuditEntry),
		project: make(map[string][]*repository.AuditEntry),
	}
}

func (s *fakeAuditStore) AppendFolio(ctx context.Context, entry *repository.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.folio[entry.RecordCode] = append(s.folio[entry.RecordCode], entry)
	return nil
}

func (s *fakeAuditStore) AppendProject(ctx context.Context, entry *repository.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.project[entry.RecordCode] = append(s.project[entry.RecordCode], entry)
	return nil
}

func (s *fakeAuditStore) ListFolio(ctx context.Context, recordCode string, desc bool) ([]*repository.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*repository.AuditEntry{}, s.folio[recordCode]...), nil
}

func (s *fakeAuditStore) ListProject(ctx context.Context, recordCode string, desc bool) ([]*repository.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*repository.AuditEntry{}, s.project[recordCode]...), nil
}

// ── actor store ───────────────────────────────────────────────────────────────

type fakeActorStore struct {
	actors []*repository.Actor
}

func (s *fakeActorStore) GetByPhone(ctx context.Context, canonicalPhone string) (*repository.Actor, error) {
	for _, actor := range s.actors {
		if actor.Phone == canonicalPhone {
			copied := *actor
			return &copied, nil
		}
	}
	return nil, errors.NotFound("actor", canonicalPhone)
}

func (s *fakeActorStore) GetByLast10(ctx context.Context, last10 string) (*repository.Actor, error) {
	for _, actor := range s.actors {
		digits := ""
		for _, r := range actor.Phone {
			if r >= '0' && r <= '9' {
				digits += string(r)
			}
		}
		if len(digits) >= 10 && digits[len(digits)-10:] == last10 {
			copied := *actor
			return &copied, nil
		}
	}
	return nil, errors.NotFound("actor", last10)
}

func (s *fakeActorStore) ListByRolesInUnit(ctx context.Context, orgUnit string, roles []repository.Role) ([]*repository.Actor, error) {
	var out []*repository.Actor
	for _, actor := range s.actors {
		if actor.OrgUnit != orgUnit {
			continue
		}
		for _, role := range roles {
			if actor.Role == role {
				copied := *actor
				out = append(out, &copied)
				break
			}
		}
	}
	return out, nil
}

func (s *fakeActorStore) ListByRoles(ctx context.Context, roles []repository.Role) ([]*repository.Actor, error) {
	var out []*repository.Actor
	for _, actor := range s.actors {
		for _, role := range roles {
			if actor.Role == role {
				copied := *actor
				out = append(out, &copied)
				break
			}
		}
	}
	return out, nil
}

// ── notification collaborators ────────────────────────────────────────────────

type sentMessage struct {
	To   string
	Body string
}

type fakeSender struct {
	mu     sync.Mutex
	sent   []sentMessage
	failTo map[string]bool
}

func newFakeSender() *fakeSender {
	return &fakeSender{failTo: make(map[string]bool)}
}

func (s *fakeSender) Send(ctx context.Context, to, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failTo[to] {
		return fmt.Errorf("gateway unavailable for %s", to)
	}
	s.sent = append(s.sent, sentMessage{To: to, Body: body})
	return nil
}

func (s *fakeSender) sentTo() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.sent))
	for i, m := range s.sent {
		out[i] = m.To
	}
	return out
}

type fakeLogStore struct {
	mu      sync.Mutex
	entries []*repository.NotificationLogEntry
}

func (s *fakeLogStore) Append(ctx context.Context, entry *repository.NotificationLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *fakeLogStore) all() []*repository.NotificationLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*repository.NotificationLogEntry{}, s.entries...)
}

// fakeNotifier records dispatches without sending anything.
type dispatchCall struct {
	RecordCode string
	OrgUnit    string
	Event      repository.EventKind
	Opts       DispatchOptions
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []dispatchCall
}

func (n *fakeNotifier) Dispatch(ctx context.Context, recordCode, orgUnit string, event repository.EventKind, opts DispatchOptions) *DispatchReport {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, dispatchCall{RecordCode: recordCode, OrgUnit: orgUnit, Event: event, Opts: opts})
	return &DispatchReport{}
}

func (n *fakeNotifier) events() []repository.EventKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]repository.EventKind, len(n.calls))
	for i, c := range n.calls {
		out[i] = c.Event
	}
	return out
}

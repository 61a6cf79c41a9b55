package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/foliodesk/be-folio-core/internal/errors"
	"github.com/foliodesk/be-folio-core/internal/logger"
	"github.com/foliodesk/be-folio-core/internal/repository"
)

// ProjectService implements the project umbrella workflow. Projects carry no
// money of their own: totals are derived from child folios on read.
type ProjectService struct {
	projects ProjectStore
	folios   FolioStore
	audit    AuditStore
	notifier Notifier
	log      *logger.Logger
}

// NewProjectService creates a new ProjectService.
func NewProjectService(projects ProjectStore, folios FolioStore, audit AuditStore, notifier Notifier, log *logger.Logger) *ProjectService {
	return &ProjectService{projects: projects, folios: folios, audit: audit, notifier: notifier, log: log}
}

// CreateProjectInput carries the parsed fields of a project creation request.
type CreateProjectInput struct {
	Name      string
	OrgUnit   string
	StartDate *time.Time
	EndDate   *time.Time
}

// CloseConfirmationError signals that closing a project needs an explicit
// confirmation because child folios are still open. It is not a failure; the
// handler turns it into a confirm prompt.
type CloseConfirmationError struct {
	ProjectCode string
	OpenFolios  int
}

func (e *CloseConfirmationError) Error() string {
	return fmt.Sprintf("project %s still has %d open folio(s)", e.ProjectCode, e.OpenFolios)
}

// ProjectSummary pairs a project with its derived totals.
type ProjectSummary struct {
	Project *repository.Project
	Totals  *repository.ProjectTotals
}

// Create issues the next project code and inserts the project in in_course.
func (s *ProjectService) Create(ctx context.Context, actor *repository.Actor, in CreateProjectInput) (*repository.Project, error) {
	if !CanTransition(actor.Role, EdgeCreateProject) {
		return nil, errors.Unauthorized("your role cannot create projects")
	}
	if strings.TrimSpace(in.Name) == "" {
		return nil, errors.InvalidInput("name", "project name is required")
	}

	orgUnit := strings.TrimSpace(in.OrgUnit)
	if orgUnit == "" {
		orgUnit = actor.OrgUnit
	}
	start := time.Now()
	if in.StartDate != nil {
		start = *in.StartDate
	}
	if in.EndDate != nil && in.EndDate.Before(start) {
		return nil, errors.InvalidInput("end", "end date precedes start date")
	}

	project := &repository.Project{
		OrgUnit:            orgUnit,
		Name:               strings.TrimSpace(in.Name),
		StartDate:          start,
		EstimatedCloseDate: in.EndDate,
		Status:             repository.ProjectStatusInCourse,
		CreatedBy:          actor.CanonicalPhone,
	}

	audit := []*repository.AuditEntry{
		projectAuditRow(actor, repository.ProjectStatusInCourse, "project created"),
	}
	if err := s.projects.Create(ctx, project, audit); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("project_code", project.Code).
		Str("org_unit", project.OrgUnit).
		Str("created_by", actor.CanonicalPhone).
		Msg("project created")

	s.notifier.Dispatch(ctx, project.Code, project.OrgUnit, repository.EventProjectCreated, DispatchOptions{
		Message: fmt.Sprintf("New project %s (%s): %s",
			project.Code, project.OrgUnit, project.Name),
		ActorPhone:   actor.CanonicalPhone,
		ExcludeActor: true,
	})
	return project, nil
}

// Approve stamps the top-tier approval flag. The flag is orthogonal to the
// lifecycle: an unapproved project can still receive folios and be closed.
func (s *ProjectService) Approve(ctx context.Context, actor *repository.Actor, code string) (*repository.Project, error) {
	if !CanTransition(actor.Role, EdgeApproveProject) {
		return nil, errors.Unauthorized("only the director may approve projects")
	}

	project, err := s.projects.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if project.Approved {
		return nil, errors.Conflict(fmt.Sprintf("project %s is already approved", code))
	}
	if project.Status == repository.ProjectStatusCanceled {
		return nil, errors.Conflict(fmt.Sprintf("project %s is canceled", code))
	}

	if err := s.projects.SetApproved(ctx, code, actor.CanonicalPhone); err != nil {
		return nil, err
	}
	project.Approved = true
	project.ApprovedBy = &actor.CanonicalPhone

	s.log.Info().
		Str("project_code", code).
		Str("actor", actor.CanonicalPhone).
		Msg("project approved")

	s.notifier.Dispatch(ctx, project.Code, project.OrgUnit, repository.EventProjectApproved, DispatchOptions{
		Message: fmt.Sprintf("Project %s (%s) was approved: %s",
			project.Code, project.OrgUnit, project.Name),
		ActorPhone:   actor.CanonicalPhone,
		ExcludeActor: true,
	})
	return project, nil
}

// Close ends an in-course project and stamps its actual close date. If child
// folios are still open the caller must confirm first; the returned
// CloseConfirmationError carries the count for the prompt.
func (s *ProjectService) Close(ctx context.Context, actor *repository.Actor, code string, confirmed bool) (*repository.Project, error) {
	if !CanTransition(actor.Role, EdgeCloseProject) {
		return nil, errors.Unauthorized("your role cannot close projects")
	}

	if !confirmed {
		open, err := s.folios.CountOpenByProject(ctx, code)
		if err != nil {
			return nil, err
		}
		if open > 0 {
			return nil, &CloseConfirmationError{ProjectCode: code, OpenFolios: open}
		}
	}

	project, err := s.projects.Transition(ctx, &repository.ProjectTransition{
		Code:  code,
		From:  []repository.ProjectStatus{repository.ProjectStatusInCourse},
		To:    repository.ProjectStatusClosed,
		Close: true,
		Audit: []*repository.AuditEntry{projectAuditRow(actor, repository.ProjectStatusClosed, "")},
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("project_code", code).
		Str("actor", actor.CanonicalPhone).
		Msg("project closed")

	s.notifier.Dispatch(ctx, project.Code, project.OrgUnit, repository.EventProjectClosed, DispatchOptions{
		Message:      fmt.Sprintf("Project %s (%s) is closed: %s", project.Code, project.OrgUnit, project.Name),
		ActorPhone:   actor.CanonicalPhone,
		ExcludeActor: true,
	})
	return project, nil
}

// RequestCancellation parks an in-course project pending the director's
// decision.
func (s *ProjectService) RequestCancellation(ctx context.Context, actor *repository.Actor, code, reason string) (*repository.Project, error) {
	if !CanTransition(actor.Role, EdgeRequestCancellation) {
		return nil, errors.Unauthorized("your role cannot request project cancellations")
	}

	comment := "cancellation requested"
	if r := strings.TrimSpace(reason); r != "" {
		comment = r
	}

	project, err := s.projects.Transition(ctx, &repository.ProjectTransition{
		Code:  code,
		From:  []repository.ProjectStatus{repository.ProjectStatusInCourse},
		To:    repository.ProjectStatusCancellationRequested,
		Audit: []*repository.AuditEntry{projectAuditRow(actor, repository.ProjectStatusCancellationRequested, comment)},
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Dispatch(ctx, project.Code, project.OrgUnit, repository.EventProjectCancelRequested, DispatchOptions{
		Message: fmt.Sprintf("Cancellation requested for project %s (%s): %s",
			project.Code, project.OrgUnit, comment),
		ActorPhone:   actor.CanonicalPhone,
		ExcludeActor: true,
	})
	return project, nil
}

// ConfirmCancellation is the director's confirmation of a pending project
// cancellation. Child folios are left untouched; they carry their own
// lifecycle.
func (s *ProjectService) ConfirmCancellation(ctx context.Context, actor *repository.Actor, code string) (*repository.Project, error) {
	if !CanTransition(actor.Role, EdgeResolveCancellation) {
		return nil, errors.Unauthorized("only the director may confirm project cancellations")
	}

	project, err := s.projects.Transition(ctx, &repository.ProjectTransition{
		Code:  code,
		From:  []repository.ProjectStatus{repository.ProjectStatusCancellationRequested},
		To:    repository.ProjectStatusCanceled,
		Audit: []*repository.AuditEntry{projectAuditRow(actor, repository.ProjectStatusCanceled, "")},
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Dispatch(ctx, project.Code, project.OrgUnit, repository.EventProjectCanceled, DispatchOptions{
		Message:      fmt.Sprintf("Project %s (%s) was canceled.", project.Code, project.OrgUnit),
		ActorPhone:   actor.CanonicalPhone,
		ExcludeActor: true,
	})
	return project, nil
}

// Comment appends a free-text trail entry without touching the lifecycle.
func (s *ProjectService) Comment(ctx context.Context, actor *repository.Actor, code, text string) error {
	if strings.TrimSpace(text) == "" {
		return errors.InvalidInput("comment", "comment text is required")
	}

	project, err := s.projects.GetByCode(ctx, code)
	if err != nil {
		return err
	}

	entry := projectAuditRow(actor, project.Status, strings.TrimSpace(text))
	entry.RecordCode = project.Code
	return s.audit.AppendProject(ctx, entry)
}

// History returns the project trail, oldest first.
func (s *ProjectService) History(ctx context.Context, code string) ([]*repository.AuditEntry, error) {
	if _, err := s.projects.GetByCode(ctx, code); err != nil {
		return nil, err
	}
	return s.audit.ListProject(ctx, code, false)
}

// AddAttachment stores a supporting document URL on the project.
func (s *ProjectService) AddAttachment(ctx context.Context, actor *repository.Actor, code, url string) error {
	if _, err := s.projects.GetByCode(ctx, code); err != nil {
		return err
	}
	return s.projects.AddAttachment(ctx, code, url, actor.CanonicalPhone)
}

// Get retrieves a project with its derived totals.
func (s *ProjectService) Get(ctx context.Context, code string) (*ProjectSummary, error) {
	project, err := s.projects.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	totals, err := s.projects.Totals(ctx, code)
	if err != nil {
		return nil, err
	}
	return &ProjectSummary{Project: project, Totals: totals}, nil
}

// ListByOrgUnit returns the projects of one org unit with totals, for the
// "projects for <unit>" report.
func (s *ProjectService) ListByOrgUnit(ctx context.Context, orgUnit string) ([]*ProjectSummary, error) {
	projects, err := s.projects.ListByOrgUnit(ctx, orgUnit)
	if err != nil {
		return nil, err
	}

	summaries := make([]*ProjectSummary, 0, len(projects))
	for _, project := range projects {
		totals, err := s.projects.Totals(ctx, project.Code)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, &ProjectSummary{Project: project, Totals: totals})
	}
	return summaries, nil
}

func projectAuditRow(actor *repository.Actor, status repository.ProjectStatus, comment string) *repository.AuditEntry {
	return &repository.AuditEntry{
		Status:     string(status),
		Comment:    comment,
		ActorPhone: actor.CanonicalPhone,
		ActorRole:  actor.Role,
	}
}

package service

import (
	"github.com/foliodesk/be-folio-core/internal/repository"
)

// Edge is one guarded transition of the folio or project machine. Role
// capability is a closed table consulted by the services; handlers never
// compare role strings themselves.
type Edge string

const (
	EdgePlantApprove        Edge = "plant_approve"
	EdgeHQApprove           Edge = "hq_approve"
	EdgeHQOverride          Edge = "hq_override"
	EdgeSelectForWeek       Edge = "select_for_week"
	EdgeRequestPayment      Edge = "request_payment"
	EdgeMarkPaid            Edge = "mark_paid"
	EdgeCloseFolio          Edge = "close_folio"
	EdgeRequestCancellation Edge = "request_cancellation"
	EdgeResolveCancellation Edge = "resolve_cancellation"
	EdgeCreateProject       Edge = "create_project"
	EdgeApproveProject      Edge = "approve_project"
	EdgeCloseProject        Edge = "close_project"
)

var edgeRoles = map[Edge][]repository.Role{
	EdgePlantApprove:        {repository.RoleSiteManager, repository.RoleGeneralManager},
	EdgeHQApprove:           {repository.RoleDirector},
	EdgeHQOverride:          {repository.RoleDirector},
	EdgeSelectForWeek:       {repository.RoleController},
	EdgeRequestPayment:      {repository.RoleController},
	EdgeMarkPaid:            {repository.RoleController},
	EdgeCloseFolio:          {repository.RoleController, repository.RoleDirector},
	EdgeRequestCancellation: {repository.RoleSiteManager, repository.RoleGeneralManager, repository.RoleController},
	EdgeResolveCancellation: {repository.RoleDirector},
	EdgeCreateProject:       {repository.RoleSiteManager, repository.RoleGeneralManager, repository.RoleDirector},
	EdgeApproveProject:      {repository.RoleDirector},
	EdgeCloseProject:        {repository.RoleGeneralManager, repository.RoleDirector},
}

// CanTransition reports whether a role may execute an edge.
func CanTransition(role repository.Role, edge Edge) bool {
	for _, allowed := range edgeRoles[edge] {
		if role == allowed {
			return true
		}
	}
	return false
}

// InitialFolioStatus returns the status a new folio starts in: top-tier
// creators skip both approval gates and land directly in ready_to_schedule.
func InitialFolioStatus(role repository.Role) repository.FolioStatus {
	if role == repository.RoleDirector {
		return repository.StatusReadyToSchedule
	}
	return repository.StatusPendingPlantApproval
}

// cancellableFrom lists the folio statuses a cancellation may be requested
// from: any non-terminal state except paid and an already-pending request.
var cancellableFrom = []repository.FolioStatus{
	repository.StatusPendingPlantApproval,
	repository.StatusPlantApproved,
	repository.StatusPendingHQApproval,
	repository.StatusReadyToSchedule,
	repository.StatusSelectedForWeek,
	repository.StatusPaymentRequested,
}

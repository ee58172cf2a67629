package service

import (
	"github.com/aoba-mfg/be-kanban-approvals/internal/repository"
)

// AccessPolicy holds the pure visibility and act-authority rules. It carries
// no state and is re-evaluated on every call; role or department changes
// take effect on the next request.
type AccessPolicy struct{}

// NewAccessPolicy creates the policy.
func NewAccessPolicy() *AccessPolicy { return &AccessPolicy{} }

// CanView reports whether the actor may see the request at all.
func (AccessPolicy) CanView(actor repository.Actor, req *repository.KanbanRequest) bool {
	switch actor.Role {
	case repository.RolePC, repository.RoleAdmin:
		return true
	case repository.RoleManager, repository.RoleSupervisor:
		return actor.DepartmentID == req.DepartmentID
	case repository.RoleRequester:
		return actor.UserID == req.RequesterID
	default:
		return false
	}
}

// CanAct reports whether the actor may decide the request's current pending
// slot. The required role depends on the pending state; production control's
// cross-department authority waives the department restriction, not the
// role-per-state one. ADMIN has no implicit act authority.
func (AccessPolicy) CanAct(actor repository.Actor, req *repository.KanbanRequest) bool {
	switch req.Status {
	case repository.StatusPendingDept:
		switch actor.Role {
		case repository.RoleSupervisor, repository.RoleManager:
			return actor.DepartmentID == req.DepartmentID
		case repository.RolePC, repository.RoleAdmin, repository.RoleRequester:
			return false
		default:
			return false
		}
	case repository.StatusPendingPC:
		return actor.Role == repository.RolePC
	default:
		return false
	}
}

// CanClose reports whether the actor may close an approved request.
func (AccessPolicy) CanClose(actor repository.Actor) bool {
	switch actor.Role {
	case repository.RolePC, repository.RoleAdmin:
		return true
	case repository.RoleManager, repository.RoleSupervisor, repository.RoleRequester:
		return false
	default:
		return false
	}
}

// CanViewScope reports whether the actor may run a report over the given
// department scope. A nil departmentID means "all departments".
func (AccessPolicy) CanViewScope(actor repository.Actor, departmentID *string) bool {
	switch actor.Role {
	case repository.RolePC, repository.RoleAdmin:
		return true
	case repository.RoleManager, repository.RoleSupervisor:
		return departmentID != nil && *departmentID == actor.DepartmentID
	case repository.RoleRequester:
		// Requesters get requester-scoped reports only; department scopes
		// are resolved to their own requests by the report service.
		return departmentID == nil
	default:
		return false
	}
}

package repository

import "time"

// ── Domain types for kanban request approval ─────────────────────────────────

// Status is the request lifecycle state.
type Status string

const (
	StatusCreated     Status = "CREATED"
	StatusPendingDept Status = "PENDING_DEPT_APPROVAL"
	StatusPendingPC   Status = "PENDING_PC_APPROVAL"
	StatusApproved    Status = "APPROVED"
	StatusRejected    Status = "REJECTED"
	StatusClosed      Status = "CLOSED"
)

// IsPending reports whether the status has an outstanding decision slot.
func (s Status) IsPending() bool {
	return s == StatusPendingDept || s == StatusPendingPC
}

// IsTerminal reports whether no further transition is possible except close.
func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusClosed
}

// NextOnApprove returns the state an approval advances to, and whether the
// status accepts an approval at all.
func (s Status) NextOnApprove() (Status, bool) {
	switch s {
	case StatusPendingDept:
		return StatusPendingPC, true
	case StatusPendingPC:
		return StatusApproved, true
	default:
		return s, false
	}
}

// Role is the closed set of actor roles.
type Role string

const (
	RoleAdmin      Role = "ADMIN"
	RoleManager    Role = "MANAGER"
	RoleSupervisor Role = "SUPERVISOR"
	RolePC         Role = "PC"
	RoleRequester  Role = "REQUESTER"
)

// Valid reports whether the role is one of the closed set.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleSupervisor, RolePC, RoleRequester:
		return true
	}
	return false
}

// Decision is the outcome recorded on an approval step.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// Actor is an already-authenticated user acting on the system. The core
// never parses credentials; the gateway supplies this value.
type Actor struct {
	UserID       string
	Role         Role
	DepartmentID string
}

// Department is an organizational unit. Exactly one department is
// production control, which has cross-department visibility and final
// approval authority.
type Department struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	IsProductionControl bool   `json:"is_production_control"`
}

// ApprovalRecord is one immutable entry in a request's approval history.
// Reason is mandatory when the decision is rejected.
type ApprovalRecord struct {
	ID                 string    `json:"id"`
	RequestID          string    `json:"request_id"`
	ApproverID         string    `json:"approver_id"`
	ApproverRole       Role      `json:"approver_role"`
	ApproverDepartment string    `json:"approver_department"`
	Decision           Decision  `json:"decision"`
	Reason             *string   `json:"reason,omitempty"`
	DecidedAt          time.Time `json:"decided_at"`
}

// KanbanRequest is a procurement request routed through the approval chain.
// Version implements optimistic concurrency: every status transition is
// conditional on the version read and increments it, so at most one decision
// wins a pending slot.
type KanbanRequest struct {
	ID           string    `json:"id"`
	RequesterID  string    `json:"requester_id"`
	DepartmentID string    `json:"department_id"`
	PartRef      string    `json:"part_ref"`
	Quantity     int64     `json:"quantity"`
	Status       Status    `json:"status"`
	Version      int64     `json:"version"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	// DecidedAt is stamped when the request reaches APPROVED or REJECTED and
	// never changes afterwards (close preserves it).
	DecidedAt *time.Time        `json:"decided_at,omitempty"`
	ClosedAt  *time.Time        `json:"closed_at,omitempty"`
	Approvals []*ApprovalRecord `json:"approvals,omitempty"`
}

// Filter selects requests for Query. From/To bound created_at as a
// half-open [From, To) window in UTC.
type Filter struct {
	From         *time.Time
	To           *time.Time
	DepartmentID *string
	RequesterID  *string
	Statuses     []Status
}

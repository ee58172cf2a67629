package service

import (
	"context"
	"time"

	"github.com/aoba-mfg/be-kanban-approvals/internal/repository"
)

// RequestStore is the durable record store for kanban requests. Both the
// postgres repository and the in-memory store satisfy it. ApplyDecision and
// UpdateStatus are conditional on the version the caller read and fail with
// a conflict when the condition does not hold; this is the serialization
// point guaranteeing at most one winning decision per pending slot.
type RequestStore interface {
	Create(ctx context.Context, req *repository.KanbanRequest) error
	Get(ctx context.Context, id string) (*repository.KanbanRequest, error)
	ApplyDecision(ctx context.Context, id string, expectedVersion int64,
		rec *repository.ApprovalRecord, newStatus repository.Status, decidedAt *time.Time) error
	UpdateStatus(ctx context.Context, id string, expectedVersion int64,
		newStatus repository.Status, closedAt *time.Time) error
	Query(ctx context.Context, filter repository.Filter) ([]*repository.KanbanRequest, error)
}

// DepartmentStore reads department master data.
type DepartmentStore interface {
	GetDepartment(ctx context.Context, id string) (*repository.Department, error)
	ListDepartments(ctx context.Context) ([]*repository.Department, error)
}

// Clock supplies the current time. Injected so report generation and
// transition timestamps are deterministic under test.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock returns the wall clock in UTC.
func SystemClock() Clock { return systemClock{} }

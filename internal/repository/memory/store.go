// Package memory provides an in-memory request store honoring the same
// versioned-write contract as the postgres repository. It backs local
// development (KANBAN_STORE=memory) and unit tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aoba-mfg/be-kanban-approvals/internal/apperr"
	"github.com/aoba-mfg/be-kanban-approvals/internal/repository"
)

// Store holds requests and departments behind a single mutex. All returned
// values are copies; callers never observe a partially-applied transition.
type Store struct {
	mu          sync.RWMutex
	requests    map[string]*repository.KanbanRequest
	departments map[string]*repository.Department
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		requests:    make(map[string]*repository.KanbanRequest),
		departments: make(map[string]*repository.Department),
	}
}

// AddDepartment registers a department. Used for seeding in dev mode and tests.
func (s *Store) AddDepartment(dept *repository.Department) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := *dept
	s.departments[d.ID] = &d
}

// ── RequestStore ──────────────────────────────────────────────────────────────

// Create inserts a new request.
func (s *Store) Create(ctx context.Context, req *repository.KanbanRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.requests[req.ID]; exists {
		return apperr.Newf(apperr.CodeConflict, "kanban request %s already exists", req.ID)
	}
	cp := copyRequest(req)
	cp.UpdatedAt = cp.CreatedAt
	s.requests[req.ID] = cp
	return nil
}

// Get retrieves a request with its approval history.
func (s *Store) Get(ctx context.Context, id string) (*repository.KanbanRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.requests[id]
	if !ok {
		return nil, apperr.NotFound("kanban request", id)
	}
	return copyRequest(req), nil
}

// ApplyDecision appends an approval record and moves the request to
// newStatus, conditional on expectedVersion. The append and the status
// update are a single critical section, so readers see both or neither.
func (s *Store) ApplyDecision(
	ctx context.Context,
	id string,
	expectedVersion int64,
	rec *repository.ApprovalRecord,
	newStatus repository.Status,
	decidedAt *time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return apperr.NotFound("kanban request", id)
	}
	if req.Version != expectedVersion {
		return apperr.Newf(apperr.CodeConflict,
			"kanban request %s was modified concurrently (version %d is stale)", id, expectedVersion)
	}

	r := *rec
	req.Approvals = append(req.Approvals, &r)
	req.Status = newStatus
	req.Version++
	if decidedAt != nil && req.DecidedAt == nil {
		t := decidedAt.UTC()
		req.DecidedAt = &t
	}
	req.UpdatedAt = rec.DecidedAt
	return nil
}

// UpdateStatus is the versioned status-only transition used by close.
func (s *Store) UpdateStatus(
	ctx context.Context,
	id string,
	expectedVersion int64,
	newStatus repository.Status,
	closedAt *time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return apperr.NotFound("kanban request", id)
	}
	if req.Version != expectedVersion {
		return apperr.Newf(apperr.CodeConflict,
			"kanban request %s was modified concurrently (version %d is stale)", id, expectedVersion)
	}

	req.Status = newStatus
	req.Version++
	if closedAt != nil {
		t := closedAt.UTC()
		req.ClosedAt = &t
		req.UpdatedAt = t
	}
	return nil
}

// Query returns matching requests ordered by creation time then id.
// Approval histories are omitted, matching the postgres repository.
func (s *Store) Query(ctx context.Context, filter repository.Filter) ([]*repository.KanbanRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*repository.KanbanRequest, 0)
	for _, req := range s.requests {
		if !matches(req, filter) {
			continue
		}
		cp := copyRequest(req)
		cp.Approvals = nil
		matched = append(matched, cp)
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})
	return matched, nil
}

func matches(req *repository.KanbanRequest, filter repository.Filter) bool {
	if filter.From != nil && req.CreatedAt.Before(filter.From.UTC()) {
		return false
	}
	if filter.To != nil && !req.CreatedAt.Before(filter.To.UTC()) {
		return false
	}
	if filter.DepartmentID != nil && req.DepartmentID != *filter.DepartmentID {
		return false
	}
	if filter.RequesterID != nil && req.RequesterID != *filter.RequesterID {
		return false
	}
	if len(filter.Statuses) > 0 {
		found := false
		for _, s := range filter.Statuses {
			if req.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// ── DepartmentStore ───────────────────────────────────────────────────────────

// GetDepartment retrieves a department by id.
func (s *Store) GetDepartment(ctx context.Context, id string) (*repository.Department, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dept, ok := s.departments[id]
	if !ok {
		return nil, apperr.NotFound("department", id)
	}
	d := *dept
	return &d, nil
}

// ListDepartments returns all departments ordered by id.
func (s *Store) ListDepartments(ctx context.Context) ([]*repository.Department, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	departments := make([]*repository.Department, 0, len(s.departments))
	for _, dept := range s.departments {
		d := *dept
		departments = append(departments, &d)
	}
	sort.Slice(departments, func(i, j int) bool { return departments[i].ID < departments[j].ID })
	return departments, nil
}

func copyRequest(req *repository.KanbanRequest) *repository.KanbanRequest {
	cp := *req
	if req.DecidedAt != nil {
		t := *req.DecidedAt
		cp.DecidedAt = &t
	}
	if req.ClosedAt != nil {
		t := *req.ClosedAt
		cp.ClosedAt = &t
	}
	if req.Approvals != nil {
		cp.Approvals = make([]*repository.ApprovalRecord, len(req.Approvals))
		for i, rec := range req.Approvals {
			r := *rec
			cp.Approvals[i] = &r
		}
	}
	return &cp
}

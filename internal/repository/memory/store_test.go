package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aoba-mfg/be-kanban-approvals/internal/apperr"
	"github.com/aoba-mfg/be-kanban-approvals/internal/repository"
)

func newRequest(id string, createdAt time.Time) *repository.KanbanRequest {
	return &repository.KanbanRequest{
		ID:           id,
		RequesterID:  "u-1",
		DepartmentID: "ASSY",
		PartRef:      "part-a",
		Quantity:     10,
		Status:       repository.StatusPendingDept,
		Version:      1,
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
	}
}

func approval(requestID string, decision repository.Decision, at time.Time) *repository.ApprovalRecord {
	rec := &repository.ApprovalRecord{
		ID:                 "rec-" + requestID,
		RequestID:          requestID,
		ApproverID:         "u-sup",
		ApproverRole:       repository.RoleSupervisor,
		ApproverDepartment: "ASSY",
		Decision:           decision,
		DecidedAt:          at,
	}
	if decision == repository.DecisionRejected {
		reason := "broken"
		rec.Reason = &reason
	}
	return rec
}

func TestCreateAndGet(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	now := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, store.Create(ctx, newRequest("r1", now)))

	got, err := store.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "r1", got.ID)
	assert.Equal(t, int64(1), got.Version)

	err = store.Create(ctx, newRequest("r1", now))
	assert.Equal(t, apperr.CodeConflict, apperr.CodeOf(err))

	_, err = store.Get(ctx, "missing")
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}

func TestGet_ReturnsIsolatedCopies(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	now := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, store.Create(ctx, newRequest("r1", now)))

	first, err := store.Get(ctx, "r1")
	require.NoError(t, err)
	first.Status = repository.StatusRejected
	first.Approvals = append(first.Approvals, approval("r1", repository.DecisionRejected, now))

	second, err := store.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, repository.StatusPendingDept, second.Status)
	assert.Empty(t, second.Approvals)
}

func TestApplyDecision_VersionGate(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	now := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, store.Create(ctx, newRequest("r1", now)))

	rec := approval("r1", repository.DecisionApproved, now.Add(time.Hour))
	require.NoError(t, store.ApplyDecision(ctx, "r1", 1, rec, repository.StatusPendingPC, nil))

	got, err := store.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, repository.StatusPendingPC, got.Status)
	assert.Equal(t, int64(2), got.Version)
	require.Len(t, got.Approvals, 1)

	// A stale version loses.
	err = store.ApplyDecision(ctx, "r1", 1, rec, repository.StatusRejected, nil)
	assert.Equal(t, apperr.CodeConflict, apperr.CodeOf(err))

	// The losing write left no trace.
	got, err = store.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, repository.StatusPendingPC, got.Status)
	assert.Len(t, got.Approvals, 1)

	err = store.ApplyDecision(ctx, "missing", 1, rec, repository.StatusPendingPC, nil)
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}

func TestApplyDecision_StampsDecidedAtOnce(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	now := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, store.Create(ctx, newRequest("r1", now)))

	decided := now.Add(2 * time.Hour)
	rec := approval("r1", repository.DecisionApproved, decided)
	require.NoError(t, store.ApplyDecision(ctx, "r1", 1, rec, repository.StatusApproved, &decided))

	got, err := store.Get(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, got.DecidedAt)
	assert.Equal(t, decided, *got.DecidedAt)
}

// Under concurrent conditional writes at the same version, exactly one wins.
func TestApplyDecision_ConcurrentSingleWinner(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	now := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, store.Create(ctx, newRequest("r1", now)))

	const writers = 10
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := approval("r1", repository.DecisionApproved, now.Add(time.Hour))
			errs[i] = store.ApplyDecision(ctx, "r1", 1, rec, repository.StatusPendingPC, nil)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.Equal(t, apperr.CodeConflict, apperr.CodeOf(err))
		}
	}
	assert.Equal(t, 1, winners)

	got, err := store.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, got.Approvals, 1)
	assert.Equal(t, int64(2), got.Version)
}

func TestUpdateStatus(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	now := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)

	req := newRequest("r1", now)
	req.Status = repository.StatusApproved
	require.NoError(t, store.Create(ctx, req))

	closedAt := now.Add(48 * time.Hour)
	require.NoError(t, store.UpdateStatus(ctx, "r1", 1, repository.StatusClosed, &closedAt))

	got, err := store.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, repository.StatusClosed, got.Status)
	require.NotNil(t, got.ClosedAt)
	assert.Equal(t, closedAt, *got.ClosedAt)

	err = store.UpdateStatus(ctx, "r1", 1, repository.StatusClosed, &closedAt)
	assert.Equal(t, apperr.CodeConflict, apperr.CodeOf(err))
}

func TestQuery_FiltersAndOrdering(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	base := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)

	r1 := newRequest("r1", base.AddDate(0, 0, 2))
	r2 := newRequest("r2", base.AddDate(0, 0, 1))
	r2.DepartmentID = "PAINT"
	r2.RequesterID = "u-2"
	r3 := newRequest("r3", base.AddDate(0, 0, 5))
	r3.Status = repository.StatusApproved
	for _, r := range []*repository.KanbanRequest{r1, r2, r3} {
		require.NoError(t, store.Create(ctx, r))
	}

	all, err := store.Query(ctx, repository.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"r2", "r1", "r3"}, []string{all[0].ID, all[1].ID, all[2].ID})

	from := base.AddDate(0, 0, 2)
	to := base.AddDate(0, 0, 5)
	window, err := store.Query(ctx, repository.Filter{From: &from, To: &to})
	require.NoError(t, err)
	require.Len(t, window, 1, "window is inclusive-start, exclusive-end")
	assert.Equal(t, "r1", window[0].ID)

	dept := "PAINT"
	paint, err := store.Query(ctx, repository.Filter{DepartmentID: &dept})
	require.NoError(t, err)
	require.Len(t, paint, 1)
	assert.Equal(t, "r2", paint[0].ID)

	requester := "u-1"
	mine, err := store.Query(ctx, repository.Filter{RequesterID: &requester})
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	approved, err := store.Query(ctx, repository.Filter{Statuses: []repository.Status{repository.StatusApproved}})
	require.NoError(t, err)
	require.Len(t, approved, 1)
	assert.Equal(t, "r3", approved[0].ID)
}

func TestDepartments(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	store.AddDepartment(&repository.Department{ID: "PC", Name: "Production Control", IsProductionControl: true})
	store.AddDepartment(&repository.Department{ID: "ASSY", Name: "Assembly"})

	pc, err := store.GetDepartment(ctx, "PC")
	require.NoError(t, err)
	assert.True(t, pc.IsProductionControl)

	_, err = store.GetDepartment(ctx, "NOPE")
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))

	list, err := store.ListDepartments(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "ASSY", list[0].ID)
	assert.Equal(t, "PC", list[1].ID)
}

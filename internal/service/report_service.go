package service

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aoba-mfg/be-kanban-approvals/internal/apperr"
	"github.com/aoba-mfg/be-kanban-approvals/internal/repository"
)

// Scope restricts a report to what the requesting actor may see.
// DepartmentID, when set, further narrows within the actor's visibility.
type Scope struct {
	Actor        repository.Actor
	DepartmentID *string
}

// RangeSummary aggregates request counts over a half-open [From, To) window.
// It serves the monthly, custom-range, and department report types.
type RangeSummary struct {
	Type          string                    `json:"type"`
	From          time.Time                 `json:"from"`
	To            time.Time                 `json:"to"`
	DepartmentID  *string                   `json:"department_id,omitempty"`
	RequesterID   *string                   `json:"requester_id,omitempty"`
	Total         int                       `json:"total"`
	StatusCounts  map[repository.Status]int `json:"status_counts"`
	TotalQuantity int64                     `json:"total_quantity"`
	DistinctParts int                       `json:"distinct_parts"`
	GeneratedAt   time.Time                 `json:"generated_at"`
}

// EfficiencyReport describes approval latency over decided requests.
type EfficiencyReport struct {
	Type          string        `json:"type"`
	From          time.Time     `json:"from"`
	To            time.Time     `json:"to"`
	Decided       int           `json:"decided"`
	Approved      int           `json:"approved"`
	Rejected      int           `json:"rejected"`
	MeanLatency   time.Duration `json:"mean_latency_ns"`
	MinLatency    time.Duration `json:"min_latency_ns"`
	MaxLatency    time.Duration `json:"max_latency_ns"`
	RejectionRate float64       `json:"rejection_rate"`
	GeneratedAt   time.Time     `json:"generated_at"`
}

// RequesterActivity is one row of the requester activity report.
type RequesterActivity struct {
	RequesterID string `json:"requester_id"`
	Created     int    `json:"created"`
	Approved    int    `json:"approved"`
	Rejected    int    `json:"rejected"`
}

// ActivityReport lists per-requester activity, most active first.
type ActivityReport struct {
	Type        string              `json:"type"`
	From        time.Time           `json:"from"`
	To          time.Time           `json:"to"`
	Requesters  []RequesterActivity `json:"requesters"`
	GeneratedAt time.Time           `json:"generated_at"`
}

// BreakdownReport is the per-department partition of a window: summing the
// department totals reproduces the unscoped total.
type BreakdownReport struct {
	Type        string          `json:"type"`
	From        time.Time       `json:"from"`
	To          time.Time       `json:"to"`
	Departments []*RangeSummary `json:"departments"`
	Overall     *RangeSummary   `json:"overall"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// ReportService computes reports over point-in-time store snapshots. It
// never writes; every method honors context cancellation and surfaces a
// timeout error without side effects.
type ReportService struct {
	store     RequestStore
	deptStore DepartmentStore
	policy    *AccessPolicy
	clock     Clock
	log       zerolog.Logger
}

// NewReportService creates a new ReportService.
func NewReportService(
	store RequestStore,
	deptStore DepartmentStore,
	policy *AccessPolicy,
	clock Clock,
	log zerolog.Logger,
) *ReportService {
	return &ReportService{
		store:     store,
		deptStore: deptStore,
		policy:    policy,
		clock:     clock,
		log:       log,
	}
}

// Monthly aggregates one calendar month, UTC. An empty month yields a
// zero-valued summary.
func (s *ReportService) Monthly(ctx context.Context, year int, month time.Month, scope Scope) (*RangeSummary, error) {
	if month < time.January || month > time.December {
		return nil, apperr.InvalidInput("month", "month must be between 1 and 12")
	}
	from := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)

	summary, err := s.rangeSummary(ctx, from, to, scope)
	if err != nil {
		return nil, err
	}
	summary.Type = "monthly"
	return summary, nil
}

// CustomRange aggregates an arbitrary [start, end) window.
func (s *ReportService) CustomRange(ctx context.Context, start, end time.Time, scope Scope) (*RangeSummary, error) {
	from, to, err := normalizeRange(start, end)
	if err != nil {
		return nil, err
	}

	summary, err := s.rangeSummary(ctx, from, to, scope)
	if err != nil {
		return nil, err
	}
	summary.Type = "custom_range"
	return summary, nil
}

// Department restricts the range aggregation to a single department.
func (s *ReportService) Department(ctx context.Context, departmentID string, start, end time.Time, scope Scope) (*RangeSummary, error) {
	from, to, err := normalizeRange(start, end)
	if err != nil {
		return nil, err
	}
	if _, err := s.deptStore.GetDepartment(ctx, departmentID); err != nil {
		return nil, err
	}

	scope.DepartmentID = &departmentID
	summary, err := s.rangeSummary(ctx, from, to, scope)
	if err != nil {
		return nil, err
	}
	summary.Type = "department"
	return summary, nil
}

// DepartmentBreakdown computes the department partition of a window: one
// summary per department plus the unscoped total, departments in parallel.
// Requires cross-department visibility.
func (s *ReportService) DepartmentBreakdown(ctx context.Context, start, end time.Time, scope Scope) (*BreakdownReport, error) {
	from, to, err := normalizeRange(start, end)
	if err != nil {
		return nil, err
	}
	switch scope.Actor.Role {
	case repository.RolePC, repository.RoleAdmin:
	default:
		return nil, apperr.New(apperr.CodeUnauthorized,
			"department breakdown requires cross-department visibility")
	}

	departments, err := s.deptStore.ListDepartments(ctx)
	if err != nil {
		return nil, err
	}

	report := &BreakdownReport{
		Type:        "department_breakdown",
		From:        from,
		To:          to,
		Departments: make([]*RangeSummary, len(departments)),
		GeneratedAt: s.clock.Now().UTC(),
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, dept := range departments {
		i, dept := i, dept
		g.Go(func() error {
			deptScope := scope
			id := dept.ID
			deptScope.DepartmentID = &id
			summary, err := s.rangeSummary(gctx, from, to, deptScope)
			if err != nil {
				return err
			}
			summary.Type = "department"
			report.Departments[i] = summary
			return nil
		})
	}
	g.Go(func() error {
		overall, err := s.rangeSummary(gctx, from, to, scope)
		if err != nil {
			return err
		}
		overall.Type = "custom_range"
		report.Overall = overall
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return report, nil
}

// ApprovalEfficiency reports decision latency over requests created in the
// window that reached a terminal decision. Still-pending requests are
// excluded; a closed request keeps its approval decision time.
func (s *ReportService) ApprovalEfficiency(ctx context.Context, start, end time.Time, scope Scope) (*EfficiencyReport, error) {
	from, to, err := normalizeRange(start, end)
	if err != nil {
		return nil, err
	}

	requests, err := s.snapshot(ctx, from, to, scope)
	if err != nil {
		return nil, err
	}

	report := &EfficiencyReport{
		Type:        "approval_efficiency",
		From:        from,
		To:          to,
		GeneratedAt: s.clock.Now().UTC(),
	}

	var totalLatency time.Duration
	for _, req := range requests {
		if err := checkCancelled(ctx); err != nil {
			return nil, err
		}
		if !req.Status.IsTerminal() || req.DecidedAt == nil {
			continue
		}

		latency := req.DecidedAt.Sub(req.CreatedAt)
		if report.Decided == 0 || latency < report.MinLatency {
			report.MinLatency = latency
		}
		if latency > report.MaxLatency {
			report.MaxLatency = latency
		}
		totalLatency += latency
		report.Decided++

		if req.Status == repository.StatusRejected {
			report.Rejected++
		} else {
			report.Approved++
		}
	}

	if report.Decided > 0 {
		report.MeanLatency = totalLatency / time.Duration(report.Decided)
		report.RejectionRate = float64(report.Rejected) / float64(report.Decided)
	}
	return report, nil
}

// RequesterActivity reports per-requester created/approved/rejected counts
// in the window, sorted by created count descending, ties broken by
// requester id ascending.
func (s *ReportService) RequesterActivity(ctx context.Context, start, end time.Time, scope Scope) (*ActivityReport, error) {
	from, to, err := normalizeRange(start, end)
	if err != nil {
		return nil, err
	}

	requests, err := s.snapshot(ctx, from, to, scope)
	if err != nil {
		return nil, err
	}

	byRequester := make(map[string]*RequesterActivity)
	for _, req := range requests {
		if err := checkCancelled(ctx); err != nil {
			return nil, err
		}
		row, ok := byRequester[req.RequesterID]
		if !ok {
			row = &RequesterActivity{RequesterID: req.RequesterID}
			byRequester[req.RequesterID] = row
		}
		row.Created++
		switch req.Status {
		case repository.StatusApproved, repository.StatusClosed:
			row.Approved++
		case repository.StatusRejected:
			row.Rejected++
		}
	}

	rows := make([]RequesterActivity, 0, len(byRequester))
	for _, row := range byRequester {
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Created != rows[j].Created {
			return rows[i].Created > rows[j].Created
		}
		return rows[i].RequesterID < rows[j].RequesterID
	})

	return &ActivityReport{
		Type:        "requester_activity",
		From:        from,
		To:          to,
		Requesters:  rows,
		GeneratedAt: s.clock.Now().UTC(),
	}, nil
}

// rangeSummary runs the shared count/quantity aggregation over a window.
func (s *ReportService) rangeSummary(ctx context.Context, from, to time.Time, scope Scope) (*RangeSummary, error) {
	requests, err := s.snapshot(ctx, from, to, scope)
	if err != nil {
		return nil, err
	}

	summary := &RangeSummary{
		From:         from,
		To:           to,
		DepartmentID: scope.DepartmentID,
		StatusCounts: make(map[repository.Status]int),
		GeneratedAt:  s.clock.Now().UTC(),
	}
	if scope.Actor.Role == repository.RoleRequester {
		requester := scope.Actor.UserID
		summary.RequesterID = &requester
	}

	parts := make(map[string]struct{})
	for _, req := range requests {
		if err := checkCancelled(ctx); err != nil {
			return nil, err
		}
		summary.Total++
		summary.StatusCounts[req.Status]++
		summary.TotalQuantity += req.Quantity
		parts[req.PartRef] = struct{}{}
	}
	summary.DistinctParts = len(parts)

	return summary, nil
}

// snapshot resolves the scope against the access policy and reads the
// matching requests in a single store query.
func (s *ReportService) snapshot(ctx context.Context, from, to time.Time, scope Scope) ([]*repository.KanbanRequest, error) {
	filter := repository.Filter{From: &from, To: &to}

	switch scope.Actor.Role {
	case repository.RolePC, repository.RoleAdmin:
		filter.DepartmentID = scope.DepartmentID
	case repository.RoleManager, repository.RoleSupervisor:
		if scope.DepartmentID == nil {
			dept := scope.Actor.DepartmentID
			scope.DepartmentID = &dept
		}
		if !s.policy.CanViewScope(scope.Actor, scope.DepartmentID) {
			return nil, apperr.New(apperr.CodeUnauthorized,
				"actor is not authorized for this report scope")
		}
		filter.DepartmentID = scope.DepartmentID
	case repository.RoleRequester:
		if scope.DepartmentID != nil {
			return nil, apperr.New(apperr.CodeUnauthorized,
				"actor is not authorized for this report scope")
		}
		requester := scope.Actor.UserID
		filter.RequesterID = &requester
	default:
		return nil, apperr.Newf(apperr.CodeUnauthorized, "unknown role %q", scope.Actor.Role)
	}

	if err := checkCancelled(ctx); err != nil {
		return nil, err
	}
	return s.store.Query(ctx, filter)
}

// normalizeRange moves both boundaries to UTC and rejects empty windows.
func normalizeRange(start, end time.Time) (time.Time, time.Time, error) {
	from, to := start.UTC(), end.UTC()
	if !to.After(from) {
		return time.Time{}, time.Time{}, apperr.InvalidInput("range", "end must be after start")
	}
	return from, to, nil
}

// checkCancelled translates context expiry into the timeout error the
// boundary layer maps. The read path has no side effects to undo.
func checkCancelled(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return apperr.Wrap(ctx.Err(), apperr.CodeTimeout, "report aggregation aborted")
	default:
		return nil
	}
}

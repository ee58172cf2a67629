package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aoba-mfg/be-kanban-approvals/internal/apperr"
	"github.com/aoba-mfg/be-kanban-approvals/internal/repository"
)

// ApprovalEngine owns the request lifecycle state machine. It is the only
// writer of the request store; every successful transition emits a domain
// event after the store commit returns.
type ApprovalEngine struct {
	store      RequestStore
	deptStore  DepartmentStore
	policy     *AccessPolicy
	dispatcher *Dispatcher
	clock      Clock
	log        zerolog.Logger
}

// NewApprovalEngine creates a new ApprovalEngine.
func NewApprovalEngine(
	store RequestStore,
	deptStore DepartmentStore,
	policy *AccessPolicy,
	dispatcher *Dispatcher,
	clock Clock,
	log zerolog.Logger,
) *ApprovalEngine {
	return &ApprovalEngine{
		store:      store,
		deptStore:  deptStore,
		policy:     policy,
		dispatcher: dispatcher,
		clock:      clock,
		log:        log,
	}
}

// CreateRequestInput is the payload for a new kanban request.
type CreateRequestInput struct {
	DepartmentID string
	PartRef      string
	Quantity     int64
}

// CreateRequest validates the input and persists a new request. The CREATED
// state is instantaneous: the request is stored already advanced to the
// department approval stage.
func (e *ApprovalEngine) CreateRequest(
	ctx context.Context,
	input CreateRequestInput,
	actor repository.Actor,
) (*repository.KanbanRequest, error) {
	if !actor.Role.Valid() {
		return nil, apperr.Newf(apperr.CodeUnauthorized, "unknown role %q", actor.Role)
	}
	if strings.TrimSpace(input.PartRef) == "" {
		return nil, apperr.InvalidInput("part_ref", "part reference is required")
	}
	if input.Quantity <= 0 {
		return nil, apperr.InvalidInput("quantity", "quantity must be positive")
	}
	if _, err := e.deptStore.GetDepartment(ctx, input.DepartmentID); err != nil {
		return nil, err
	}
	if actor.DepartmentID != input.DepartmentID {
		return nil, apperr.New(apperr.CodeUnauthorized,
			"requests can only be created for the actor's own department")
	}

	now := e.clock.Now().UTC()
	req := &repository.KanbanRequest{
		ID:           uuid.NewString(),
		RequesterID:  actor.UserID,
		DepartmentID: input.DepartmentID,
		PartRef:      strings.TrimSpace(input.PartRef),
		Quantity:     input.Quantity,
		Status:       repository.StatusPendingDept,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := e.store.Create(ctx, req); err != nil {
		return nil, err
	}

	e.log.Info().
		Str("request_id", req.ID).
		Str("department_id", req.DepartmentID).
		Str("part_ref", req.PartRef).
		Msg("Kanban request created")

	e.emit(Event{
		Kind:         EventKanbanCreated,
		RequestID:    req.ID,
		DepartmentID: req.DepartmentID,
		ActorID:      actor.UserID,
		Payload:      map[string]any{"status": string(req.Status)},
	})

	return req, nil
}

// Approve records an approval for the request's current pending slot and
// advances it along the chain. A lost optimistic race against a concurrent
// writer is retried once; if the slot was decided in the meantime the retry
// surfaces the conflict.
func (e *ApprovalEngine) Approve(
	ctx context.Context,
	requestID string,
	actor repository.Actor,
) (*repository.KanbanRequest, error) {
	return e.decide(ctx, requestID, actor, repository.DecisionApproved, nil)
}

// Reject records a rejection with a mandatory reason. Rejection is terminal
// from either pending state.
func (e *ApprovalEngine) Reject(
	ctx context.Context,
	requestID string,
	actor repository.Actor,
	reason string,
) (*repository.KanbanRequest, error) {
	return e.decide(ctx, requestID, actor, repository.DecisionRejected, &reason)
}

// decide is the shared approve/reject path: load, validate, conditional
// write, retry once on a lost race.
func (e *ApprovalEngine) decide(
	ctx context.Context,
	requestID string,
	actor repository.Actor,
	decision repository.Decision,
	reason *string,
) (*repository.KanbanRequest, error) {
	var lastErr error
	var firstStatus repository.Status
	for attempt := 0; attempt < 2; attempt++ {
		req, err := e.store.Get(ctx, requestID)
		if err != nil {
			return nil, err
		}

		if !req.Status.IsPending() {
			return nil, apperr.Newf(apperr.CodeConflict,
				"kanban request is not pending (status: %s)", req.Status)
		}
		if attempt == 0 {
			firstStatus = req.Status
		} else if req.Status != firstStatus {
			// The slot this actor targeted was decided by the race winner.
			return nil, apperr.Newf(apperr.CodeConflict,
				"pending slot already decided (status: %s)", req.Status)
		}
		if !e.policy.CanAct(actor, req) {
			return nil, apperr.New(apperr.CodeUnauthorized,
				"actor is not authorized to decide this approval stage")
		}

		var newStatus repository.Status
		if decision == repository.DecisionApproved {
			newStatus, _ = req.Status.NextOnApprove()
		} else {
			if reason == nil || strings.TrimSpace(*reason) == "" {
				return nil, apperr.InvalidInput("reason", "rejection reason is required")
			}
			newStatus = repository.StatusRejected
		}

		now := e.clock.Now().UTC()
		rec := &repository.ApprovalRecord{
			ID:                 uuid.NewString(),
			RequestID:          req.ID,
			ApproverID:         actor.UserID,
			ApproverRole:       actor.Role,
			ApproverDepartment: actor.DepartmentID,
			Decision:           decision,
			Reason:             reason,
			DecidedAt:          now,
		}

		var decidedAt *time.Time
		if newStatus == repository.StatusApproved || newStatus == repository.StatusRejected {
			decidedAt = &now
		}

		err = e.store.ApplyDecision(ctx, req.ID, req.Version, rec, newStatus, decidedAt)
		if apperr.HasCode(err, apperr.CodeConflict) && attempt == 0 {
			// Lost the optimistic race; re-read and re-validate once.
			lastErr = err
			continue
		}
		if err != nil {
			return nil, err
		}

		req.Status = newStatus
		req.Version++
		req.UpdatedAt = now
		req.DecidedAt = decidedAt
		req.Approvals = append(req.Approvals, rec)

		e.log.Info().
			Str("request_id", req.ID).
			Str("decision", string(decision)).
			Str("approver_id", actor.UserID).
			Str("status", string(req.Status)).
			Msg("Approval decision applied")

		e.emitDecision(req, actor, decision, reason)
		return req, nil
	}
	return nil, lastErr
}

func (e *ApprovalEngine) emitDecision(
	req *repository.KanbanRequest,
	actor repository.Actor,
	decision repository.Decision,
	reason *string,
) {
	kind := EventKanbanApproved
	payload := map[string]any{"status": string(req.Status)}
	if decision == repository.DecisionRejected {
		kind = EventKanbanRejected
		if reason != nil {
			payload["reason"] = *reason
		}
	}

	e.emit(Event{
		Kind:         kind,
		RequestID:    req.ID,
		DepartmentID: req.DepartmentID,
		ActorID:      actor.UserID,
		Payload:      payload,
	})
	e.emit(Event{
		Kind:         EventStatusChange,
		RequestID:    req.ID,
		DepartmentID: req.DepartmentID,
		ActorID:      actor.UserID,
		Payload:      payload,
	})
}

// Close marks an approved request closed. Only production control or an
// admin may close; no approval record is appended.
func (e *ApprovalEngine) Close(
	ctx context.Context,
	requestID string,
	actor repository.Actor,
) (*repository.KanbanRequest, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		req, err := e.store.Get(ctx, requestID)
		if err != nil {
			return nil, err
		}

		if req.Status != repository.StatusApproved {
			return nil, apperr.Newf(apperr.CodeConflict,
				"only approved requests can be closed (status: %s)", req.Status)
		}
		if !e.policy.CanClose(actor) {
			return nil, apperr.New(apperr.CodeUnauthorized,
				"only production control or an admin can close a request")
		}

		now := e.clock.Now().UTC()
		err = e.store.UpdateStatus(ctx, req.ID, req.Version, repository.StatusClosed, &now)
		if apperr.HasCode(err, apperr.CodeConflict) && attempt == 0 {
			lastErr = err
			continue
		}
		if err != nil {
			return nil, err
		}

		req.Status = repository.StatusClosed
		req.Version++
		req.ClosedAt = &now
		req.UpdatedAt = now

		e.log.Info().
			Str("request_id", req.ID).
			Str("closed_by", actor.UserID).
			Msg("Kanban request closed")

		e.emit(Event{
			Kind:         EventStatusChange,
			RequestID:    req.ID,
			DepartmentID: req.DepartmentID,
			ActorID:      actor.UserID,
			Payload:      map[string]any{"status": string(repository.StatusClosed)},
		})
		return req, nil
	}
	return nil, lastErr
}

// GetRequest returns a request the actor is allowed to see.
func (e *ApprovalEngine) GetRequest(
	ctx context.Context,
	requestID string,
	actor repository.Actor,
) (*repository.KanbanRequest, error) {
	req, err := e.store.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !e.policy.CanView(actor, req) {
		return nil, apperr.New(apperr.CodeUnauthorized,
			"actor is not authorized to view this request")
	}
	return req, nil
}

// ListRequests returns requests in the filter window, narrowed to what the
// actor may see.
func (e *ApprovalEngine) ListRequests(
	ctx context.Context,
	filter repository.Filter,
	actor repository.Actor,
) ([]*repository.KanbanRequest, error) {
	switch actor.Role {
	case repository.RolePC, repository.RoleAdmin:
		// unrestricted
	case repository.RoleManager, repository.RoleSupervisor:
		if filter.DepartmentID != nil && *filter.DepartmentID != actor.DepartmentID {
			return nil, apperr.New(apperr.CodeUnauthorized,
				"actor is not authorized to list another department's requests")
		}
		dept := actor.DepartmentID
		filter.DepartmentID = &dept
	case repository.RoleRequester:
		requester := actor.UserID
		filter.RequesterID = &requester
	default:
		return nil, apperr.Newf(apperr.CodeUnauthorized, "unknown role %q", actor.Role)
	}
	return e.store.Query(ctx, filter)
}

// emit hands the event to the dispatcher; delivery is detached from the
// caller and from any store transaction.
func (e *ApprovalEngine) emit(event Event) {
	e.dispatcher.Dispatch(event)
}

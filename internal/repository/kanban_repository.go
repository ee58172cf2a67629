package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/aoba-mfg/be-kanban-approvals/internal/apperr"
	"github.com/aoba-mfg/be-kanban-approvals/internal/database"
)

// KanbanRepository is the postgres-backed request store. It is the only
// writer of kanban_requests and kanban_approvals; approval rows are
// append-only.
type KanbanRepository struct {
	db *database.DB
}

// NewKanbanRepository creates a new KanbanRepository.
func NewKanbanRepository(db *database.DB) *KanbanRepository {
	return &KanbanRepository{db: db}
}

// Create inserts a new request. The engine hands the request over already
// advanced to its first pending state, version 1.
func (r *KanbanRepository) Create(ctx context.Context, req *KanbanRequest) error {
	query := `
		INSERT INTO kanban_requests
		    (id, requester_id, department_id, part_ref, quantity,
		     status, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::kanban_status, $7, $8, $8)
	`

	_, err := r.db.Exec(ctx, query,
		req.ID,
		req.RequesterID,
		req.DepartmentID,
		req.PartRef,
		req.Quantity,
		req.Status,
		req.Version,
		req.CreatedAt,
	)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to create kanban request")
	}
	return nil
}

// Get retrieves a request with its ordered approval history.
func (r *KanbanRepository) Get(ctx context.Context, id string) (*KanbanRequest, error) {
	query := `
		SELECT id, requester_id, department_id, part_ref, quantity,
		       status, version, created_at, updated_at, decided_at, closed_at
		FROM kanban_requests
		WHERE id = $1
	`

	req, err := scanRequest(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, apperr.NotFound("kanban request", id)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to get kanban request")
	}

	approvals, err := r.getApprovals(ctx, id)
	if err != nil {
		return nil, err
	}
	req.Approvals = approvals

	return req, nil
}

// getApprovals returns the approval history for a request oldest-first.
func (r *KanbanRepository) getApprovals(ctx context.Context, requestID string) ([]*ApprovalRecord, error) {
	query := `
		SELECT id, request_id, approver_id, approver_role, approver_department,
		       decision, reason, decided_at
		FROM kanban_approvals
		WHERE request_id = $1
		ORDER BY decided_at ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query, requestID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to get approval history")
	}
	defer rows.Close()

	records := make([]*ApprovalRecord, 0)
	for rows.Next() {
		rec := &ApprovalRecord{}
		err := rows.Scan(
			&rec.ID,
			&rec.RequestID,
			&rec.ApproverID,
			&rec.ApproverRole,
			&rec.ApproverDepartment,
			&rec.Decision,
			&rec.Reason,
			&rec.DecidedAt,
		)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to scan approval record")
		}
		records = append(records, rec)
	}

	return records, nil
}

// ApplyDecision atomically appends an approval record and moves the request
// to newStatus, conditional on the version the caller read. A version
// mismatch means another decision won the pending slot and yields a
// conflict; the record is not written.
func (r *KanbanRepository) ApplyDecision(
	ctx context.Context,
	id string,
	expectedVersion int64,
	rec *ApprovalRecord,
	newStatus Status,
	decidedAt *time.Time,
) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		updateQuery := `
			UPDATE kanban_requests
			SET status     = $3::kanban_status,
			    version    = version + 1,
			    decided_at = COALESCE($4, decided_at),
			    updated_at = NOW()
			WHERE id = $1 AND version = $2
		`

		tag, err := tx.Exec(ctx, updateQuery, id, expectedVersion, newStatus, decidedAt)
		if err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to update request status")
		}
		if tag.RowsAffected() == 0 {
			return r.conflictOrMissing(ctx, tx, id, expectedVersion)
		}

		recQuery := `
			INSERT INTO kanban_approvals
			    (id, request_id, approver_id, approver_role, approver_department,
			     decision, reason, decided_at)
			VALUES ($1, $2, $3, $4, $5, $6::approval_decision, $7, $8)
		`

		_, err = tx.Exec(ctx, recQuery,
			rec.ID,
			rec.RequestID,
			rec.ApproverID,
			rec.ApproverRole,
			rec.ApproverDepartment,
			rec.Decision,
			rec.Reason,
			rec.DecidedAt,
		)
		if err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to append approval record")
		}

		return nil
	})
}

// UpdateStatus is the versioned status-only transition used by close. No
// approval record is appended.
func (r *KanbanRepository) UpdateStatus(
	ctx context.Context,
	id string,
	expectedVersion int64,
	newStatus Status,
	closedAt *time.Time,
) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			UPDATE kanban_requests
			SET status     = $3::kanban_status,
			    version    = version + 1,
			    closed_at  = COALESCE($4, closed_at),
			    updated_at = NOW()
			WHERE id = $1 AND version = $2
		`

		tag, err := tx.Exec(ctx, query, id, expectedVersion, newStatus, closedAt)
		if err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to update request status")
		}
		if tag.RowsAffected() == 0 {
			return r.conflictOrMissing(ctx, tx, id, expectedVersion)
		}
		return nil
	})
}

// conflictOrMissing distinguishes an optimistic-concurrency loss from an
// unknown request id after a zero-row conditional update.
func (r *KanbanRepository) conflictOrMissing(ctx context.Context, tx pgx.Tx, id string, expectedVersion int64) error {
	var exists bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM kanban_requests WHERE id = $1)`, id,
	).Scan(&exists); err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to check request existence")
	}
	if !exists {
		return apperr.NotFound("kanban request", id)
	}
	return apperr.Newf(apperr.CodeConflict,
		"kanban request %s was modified concurrently (version %d is stale)", id, expectedVersion)
}

// Query returns requests matching the filter, ordered by creation time then
// id for determinism. Approval histories are not loaded; the reporting path
// only needs the request rows, and Get loads history for single requests.
func (r *KanbanRepository) Query(ctx context.Context, filter Filter) ([]*KanbanRequest, error) {
	query := `
		SELECT id, requester_id, department_id, part_ref, quantity,
		       status, version, created_at, updated_at, decided_at, closed_at
		FROM kanban_requests
		WHERE 1 = 1
	`

	args := []any{}
	argCount := 1

	if filter.From != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argCount)
		args = append(args, filter.From.UTC())
		argCount++
	}
	if filter.To != nil {
		query += fmt.Sprintf(" AND created_at < $%d", argCount)
		args = append(args, filter.To.UTC())
		argCount++
	}
	if filter.DepartmentID != nil {
		query += fmt.Sprintf(" AND department_id = $%d", argCount)
		args = append(args, *filter.DepartmentID)
		argCount++
	}
	if filter.RequesterID != nil {
		query += fmt.Sprintf(" AND requester_id = $%d", argCount)
		args = append(args, *filter.RequesterID)
		argCount++
	}
	if len(filter.Statuses) > 0 {
		query += fmt.Sprintf(" AND status = ANY($%d)", argCount)
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		args = append(args, statuses)
		argCount++
	}

	query += " ORDER BY created_at ASC, id ASC"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to query kanban requests")
	}
	defer rows.Close()

	requests := make([]*KanbanRequest, 0)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to scan kanban request")
		}
		requests = append(requests, req)
	}

	return requests, nil
}

// ── scan helper ───────────────────────────────────────────────────────────────

type requestScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row requestScanner) (*KanbanRequest, error) {
	req := &KanbanRequest{}
	err := row.Scan(
		&req.ID,
		&req.RequesterID,
		&req.DepartmentID,
		&req.PartRef,
		&req.Quantity,
		&req.Status,
		&req.Version,
		&req.CreatedAt,
		&req.UpdatedAt,
		&req.DecidedAt,
		&req.ClosedAt,
	)
	if err != nil {
		return nil, err
	}
	return req, nil
}

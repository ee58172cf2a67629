package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/aoba-mfg/be-kanban-approvals/internal/apperr"
	"github.com/aoba-mfg/be-kanban-approvals/internal/export"
	"github.com/aoba-mfg/be-kanban-approvals/internal/logger"
	"github.com/aoba-mfg/be-kanban-approvals/internal/repository"
	"github.com/aoba-mfg/be-kanban-approvals/internal/service"
)

// HTTPHandler is the thin HTTP boundary over the engine and report service.
// The upstream gateway authenticates users and forwards the actor identity
// in headers; the core never parses credentials.
type HTTPHandler struct {
	engine    *service.ApprovalEngine
	reports   *service.ReportService
	formatter *export.Formatter
	log       *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(
	engine *service.ApprovalEngine,
	reports *service.ReportService,
	formatter *export.Formatter,
	log *logger.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		engine:    engine,
		reports:   reports,
		formatter: formatter,
		log:       log,
	}
}

// actorFromRequest reads the gateway-supplied actor headers.
func actorFromRequest(r *http.Request) (repository.Actor, error) {
	actor := repository.Actor{
		UserID:       r.Header.Get("X-User-ID"),
		Role:         repository.Role(r.Header.Get("X-User-Role")),
		DepartmentID: r.Header.Get("X-User-Department"),
	}
	if actor.UserID == "" || !actor.Role.Valid() {
		return repository.Actor{}, apperr.New(apperr.CodeUnauthorized, "missing or invalid actor identity")
	}
	return actor, nil
}

// ── kanban endpoints ──────────────────────────────────────────────────────────

// CreateRequest handles POST /api/v1/kanbans.
func (h *HTTPHandler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req struct {
		DepartmentID string `json:"department_id"`
		PartRef      string `json:"part_ref"`
		Quantity     int64  `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, apperr.New(apperr.CodeValidation, "invalid request body"))
		return
	}

	created, err := h.engine.CreateRequest(r.Context(), service.CreateRequestInput{
		DepartmentID: req.DepartmentID,
		PartRef:      req.PartRef,
		Quantity:     req.Quantity,
	}, actor)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, created)
}

// GetRequest handles GET /api/v1/kanbans/get?id=.
func (h *HTTPHandler) GetRequest(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		h.writeError(w, apperr.InvalidInput("id", "request id is required"))
		return
	}

	req, err := h.engine.GetRequest(r.Context(), id, actor)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, req)
}

// ListRequests handles GET /api/v1/kanbans.
func (h *HTTPHandler) ListRequests(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var filter repository.Filter
	if v := r.URL.Query().Get("department_id"); v != "" {
		filter.DepartmentID = &v
	}
	if v := r.URL.Query().Get("status"); v != "" {
		filter.Statuses = []repository.Status{repository.Status(v)}
	}
	if from, ok := parseTimeParam(r, "from"); ok {
		filter.From = &from
	}
	if to, ok := parseTimeParam(r, "to"); ok {
		filter.To = &to
	}

	requests, err := h.engine.ListRequests(r.Context(), filter, actor)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"kanbans": requests,
		"total":   len(requests),
	})
}

// decisionBody is the shared approve/reject/close payload.
type decisionBody struct {
	ID     string `json:"id"`
	Reason string `json:"reason,omitempty"`
}

// Approve handles POST /api/v1/kanbans/approve.
func (h *HTTPHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, func(body decisionBody, actor repository.Actor) (*repository.KanbanRequest, error) {
		return h.engine.Approve(r.Context(), body.ID, actor)
	})
}

// Reject handles POST /api/v1/kanbans/reject.
func (h *HTTPHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, func(body decisionBody, actor repository.Actor) (*repository.KanbanRequest, error) {
		return h.engine.Reject(r.Context(), body.ID, actor, body.Reason)
	})
}

// Close handles POST /api/v1/kanbans/close.
func (h *HTTPHandler) Close(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, func(body decisionBody, actor repository.Actor) (*repository.KanbanRequest, error) {
		return h.engine.Close(r.Context(), body.ID, actor)
	})
}

func (h *HTTPHandler) decide(
	w http.ResponseWriter,
	r *http.Request,
	fn func(decisionBody, repository.Actor) (*repository.KanbanRequest, error),
) {
	actor, err := actorFromRequest(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var body decisionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, apperr.New(apperr.CodeValidation, "invalid request body"))
		return
	}
	if body.ID == "" {
		h.writeError(w, apperr.InvalidInput("id", "request id is required"))
		return
	}

	req, err := fn(body, actor)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, req)
}

// ── report endpoints ──────────────────────────────────────────────────────────

// MonthlyReport handles GET /api/v1/reports/monthly?year=&month=.
func (h *HTTPHandler) MonthlyReport(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	year, err1 := strconv.Atoi(r.URL.Query().Get("year"))
	month, err2 := strconv.Atoi(r.URL.Query().Get("month"))
	if err1 != nil || err2 != nil {
		h.writeError(w, apperr.InvalidInput("year/month", "numeric year and month are required"))
		return
	}

	result, err := h.reports.Monthly(r.Context(), year, time.Month(month), h.scope(r, actor))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeReport(w, r, result)
}

// RangeReport handles GET /api/v1/reports/range?from=&to=.
func (h *HTTPHandler) RangeReport(w http.ResponseWriter, r *http.Request) {
	h.rangeReport(w, r, func(from, to time.Time, scope service.Scope) (any, error) {
		return h.reports.CustomRange(r.Context(), from, to, scope)
	})
}

// DepartmentReport handles GET /api/v1/reports/department?id=&from=&to=.
func (h *HTTPHandler) DepartmentReport(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		h.writeError(w, apperr.InvalidInput("id", "department id is required"))
		return
	}
	h.rangeReport(w, r, func(from, to time.Time, scope service.Scope) (any, error) {
		return h.reports.Department(r.Context(), id, from, to, scope)
	})
}

// BreakdownReport handles GET /api/v1/reports/breakdown?from=&to=.
func (h *HTTPHandler) BreakdownReport(w http.ResponseWriter, r *http.Request) {
	h.rangeReport(w, r, func(from, to time.Time, scope service.Scope) (any, error) {
		return h.reports.DepartmentBreakdown(r.Context(), from, to, scope)
	})
}

// EfficiencyReport handles GET /api/v1/reports/efficiency?from=&to=.
func (h *HTTPHandler) EfficiencyReport(w http.ResponseWriter, r *http.Request) {
	h.rangeReport(w, r, func(from, to time.Time, scope service.Scope) (any, error) {
		return h.reports.ApprovalEfficiency(r.Context(), from, to, scope)
	})
}

// ActivityReport handles GET /api/v1/reports/activity?from=&to=.
func (h *HTTPHandler) ActivityReport(w http.ResponseWriter, r *http.Request) {
	h.rangeReport(w, r, func(from, to time.Time, scope service.Scope) (any, error) {
		return h.reports.RequesterActivity(r.Context(), from, to, scope)
	})
}

func (h *HTTPHandler) rangeReport(
	w http.ResponseWriter,
	r *http.Request,
	fn func(from, to time.Time, scope service.Scope) (any, error),
) {
	actor, err := actorFromRequest(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	from, okFrom := parseTimeParam(r, "from")
	to, okTo := parseTimeParam(r, "to")
	if !okFrom || !okTo {
		h.writeError(w, apperr.InvalidInput("from/to", "RFC 3339 from and to are required"))
		return
	}

	result, err := fn(from, to, h.scope(r, actor))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeReport(w, r, result)
}

func (h *HTTPHandler) scope(r *http.Request, actor repository.Actor) service.Scope {
	scope := service.Scope{Actor: actor}
	if v := r.URL.Query().Get("department_id"); v != "" {
		scope.DepartmentID = &v
	}
	return scope
}

// ── response helpers ──────────────────────────────────────────────────────────

// writeReport renders the result in the requested format (json by default).
func (h *HTTPHandler) writeReport(w http.ResponseWriter, r *http.Request, result any) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	data, err := h.formatter.Render(result, format)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", h.formatter.ContentType(format))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error().Err(err).Msg("failed to encode response")
	}
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch apperr.CodeOf(err) {
	case apperr.CodeValidation:
		status = http.StatusBadRequest
	case apperr.CodeNotFound:
		status = http.StatusNotFound
	case apperr.CodeUnauthorized:
		status = http.StatusForbidden
	case apperr.CodeConflict:
		status = http.StatusConflict
	case apperr.CodeTimeout:
		status = http.StatusGatewayTimeout
	}

	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("request failed")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"code":  string(apperr.CodeOf(err)),
		"error": err.Error(),
	})
}

func parseTimeParam(r *http.Request, key string) (time.Time, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

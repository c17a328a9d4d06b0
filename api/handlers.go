/*
handlers.go - HTTP API handlers for the leave engine

PURPOSE:
  Exposes the leave lifecycle via REST API. Handles HTTP request/response,
  JSON serialization and validation, and delegates to leave.Service.

ENDPOINTS:
  Requests:
    POST   /api/requests                 Create draft
    GET    /api/requests/{id}            Request with its steps
    PUT    /api/requests/{id}            Edit a DRAFT or RETURNED request
    POST   /api/requests/{id}/submit     Submit into the workflow
    POST   /api/requests/{id}/decision   Approve, refuse or return
    POST   /api/requests/{id}/cancel     Withdraw

  Calendar:
    POST   /api/working-days             Working days for a range

  Balances:
    GET    /api/balances/{userId}/{year}/{type}
    POST   /api/admin/balances           Provision a yearly row

IDENTITY:
  The acting identity comes from the X-Actor-ID header, set by the identity
  provider in front of this service. Requests without it get 401.

RETRIES:
  State-changing calls are retried on ErrConcurrentModification up to the
  configured attempts. The service itself never retries.

ERROR HANDLING:
  Errors are returned as JSON {error, details} with:
  - 400: Validation errors, missing comment, empty range, bad period
  - 401: Missing identity
  - 403: Not the owner / not an approver
  - 404: Unknown request, type, user or balance
  - 409: Illegal transition, concurrent modification
  - 500: Everything else

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

// ActorHeader carries the authenticated identity of the caller.
const ActorHeader = "X-Actor-ID"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Pinger is implemented by stores that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	service  *leave.Service
	pinger   Pinger
	retry    generic.RetryPolicy
	logger   *zap.Logger
	validate *validator.Validate
}

type HandlerOption func(*Handler)

// WithRetryPolicy bounds retries of conflicting writes.
func WithRetryPolicy(p generic.RetryPolicy) HandlerOption {
	return func(h *Handler) { h.retry = p }
}

func WithPinger(p Pinger) HandlerOption {
	return func(h *Handler) { h.pinger = p }
}

func WithHandlerLogger(l *zap.Logger) HandlerOption {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHandler creates a new handler for the given service.
func NewHandler(service *leave.Service, opts ...HandlerOption) *Handler {
	h := &Handler{
		service:  service,
		retry:    generic.DefaultRetryPolicy,
		logger:   zap.NewNop(),
		validate: newValidator(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// =============================================================================
// REQUEST HANDLERS
// =============================================================================

// CreateRequest creates a DRAFT request owned by the caller.
// POST /api/requests
func (h *Handler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req RequestFieldsRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	fields, err := req.toFields()
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	var created *leave.LeaveRequest
	err = generic.Retry(r.Context(), h.retry, func() error {
		var err error
		created, err = h.service.Create(r.Context(), actor, fields)
		return err
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRequestDTO(created, nil))
}

// GetRequest returns a request and its approval steps.
// GET /api/requests/{id}
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	req, err := h.service.GetRequest(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	steps, err := h.service.Steps(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(req, steps))
}

// EditRequest replaces the editable fields.
// PUT /api/requests/{id}
func (h *Handler) EditRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req RequestFieldsRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	fields, err := req.toFields()
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	h.transition(w, r, id, func(ctx context.Context) (leave.Status, error) {
		return h.service.Edit(ctx, id, actor, fields)
	})
}

// SubmitRequest moves a request into its workflow.
// POST /api/requests/{id}/submit
func (h *Handler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	h.transition(w, r, id, func(ctx context.Context) (leave.Status, error) {
		return h.service.Submit(ctx, id, actor)
	})
}

// DecideRequest records an approval, refusal or return.
// POST /api/requests/{id}/decision
func (h *Handler) DecideRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req DecisionRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	h.transition(w, r, id, func(ctx context.Context) (leave.Status, error) {
		return h.service.Decide(ctx, id, actor, leave.Action(req.Action), req.Comment)
	})
}

// CancelRequest withdraws a request that is not decided yet.
// POST /api/requests/{id}/cancel
func (h *Handler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	h.transition(w, r, id, func(ctx context.Context) (leave.Status, error) {
		return h.service.Cancel(ctx, id, actor)
	})
}

// transition runs op with bounded retries and writes {id, status}.
func (h *Handler) transition(w http.ResponseWriter, r *http.Request, id string, op func(ctx context.Context) (leave.Status, error)) {
	var status leave.Status
	err := generic.Retry(r.Context(), h.retry, func() error {
		var err error
		status, err = op(r.Context())
		return err
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TransitionResponse{ID: id, Status: string(status)})
}

// =============================================================================
// CALENDAR AND BALANCES
// =============================================================================

// WorkingDays computes the working days of a range for an office.
// POST /api/working-days
func (h *Handler) WorkingDays(w http.ResponseWriter, r *http.Request) {
	var req WorkingDaysRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	start, err := generic.ParseDate(req.Start)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	end, err := generic.ParseDate(req.End)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	days, err := h.service.ComputeWorkingDays(r.Context(), req.OfficeID, generic.Period{Start: start, End: end},
		generic.HalfDayMarker(req.StartHalfDay).OrFullDay(), generic.HalfDayMarker(req.EndHalfDay).OrFullDay())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, WorkingDaysResponse{Days: days.String()})
}

// GetBalance returns one ledger row with its remaining days.
// GET /api/balances/{userId}/{year}/{type}
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid year", err)
		return
	}
	key := leave.BalanceKey{
		UserID:      chi.URLParam(r, "userId"),
		Year:        year,
		BalanceType: chi.URLParam(r, "type"),
	}
	b, err := h.service.GetBalance(r.Context(), key)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(b))
}

// ProvisionBalance creates a yearly balance row if it does not exist.
// POST /api/admin/balances
func (h *Handler) ProvisionBalance(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req ProvisionRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	in, err := req.toInput(actor)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	var (
		b       *leave.LeaveBalance
		created bool
	)
	err = generic.Retry(r.Context(), h.retry, func() error {
		var err error
		b, created, err = h.service.Provision(r.Context(), in)
		return err
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, ProvisionResponse{BalanceDTO: toBalanceDTO(b), Created: created})
}

// Health reports whether the store answers.
// GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.pinger != nil {
		if err := h.pinger.Ping(r.Context()); err != nil {
			h.logger.Warn("health check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "Store unavailable", nil)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (string, bool) {
	actor := r.Header.Get(ActorHeader)
	if actor == "" {
		writeError(w, http.StatusUnauthorized, "Missing "+ActorHeader+" header", nil)
		return "", false
	}
	return actor, true
}

func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", validationDetails(err))
		return false
	}
	return true
}

// statusFor maps the error taxonomy to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, generic.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, generic.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, generic.ErrInvalidTransition), errors.Is(err, generic.ErrConcurrentModification):
		return http.StatusConflict
	case generic.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		// Store and driver errors stay in the log.
		writeError(w, status, "Internal error", nil)
		return
	}
	writeError(w, status, http.StatusText(status), err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// =============================================================================
// VALIDATION
// =============================================================================

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Registration only fails on an empty tag or nil func.
	_ = v.RegisterValidation("nonnegative_amount", func(fl validator.FieldLevel) bool {
		a, err := generic.ParseAmount(fl.Field().String())
		return err == nil && !a.IsNegative()
	})
	return v
}

func validationDetails(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	if fe.Param() != "" {
		return fmt.Errorf("field '%s' failed '%s=%s'", fe.Field(), fe.Tag(), fe.Param())
	}
	return fmt.Errorf("field '%s' failed '%s'", fe.Field(), fe.Tag())
}

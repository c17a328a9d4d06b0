/*
handlers_test.go - HTTP tests for the leave API

Tests for:
- Full lifecycle over HTTP (create, submit, decide)
- Validation and identity errors
- Error taxonomy to status mapping
- Balance reads and provisioning
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/store/memory"
)

type apiFixture struct {
	t      *testing.T
	mem    *memory.Memory
	svc    *leave.Service
	router http.Handler
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	mem := memory.New()
	mem.SaveLeaveType(leave.LeaveType{ID: "paid", Name: "Paid leave", DeductsBalance: true, BalanceType: "PAID_LEAVE"})
	mem.SetPlacement(leave.Placement{UserID: "alice", TeamID: "core", OfficeID: "paris"})
	mem.SetTeamManager("core", "mgr")
	mem.AddHRApprover("hr-a")
	mem.SaveWorkflow(leave.WorkflowConfig{
		ID: "wf-core", Scope: leave.ScopeTeam, ScopeID: "core", IsActive: true,
		Steps: []leave.WorkflowStep{
			{StepOrder: 1, StepType: leave.StepManager, IsRequired: true},
			{StepOrder: 2, StepType: leave.StepHR, IsRequired: true},
		},
	})
	mem.SaveBalance(leave.LeaveBalance{
		Key:       leave.BalanceKey{UserID: "alice", Year: 2025, BalanceType: "PAID_LEAVE"},
		TotalDays: generic.Days(25),
	})

	now := time.Date(2025, time.January, 2, 9, 0, 0, 0, time.UTC)
	svc := leave.NewService(mem, leave.WithClock(func() time.Time { return now }))
	h := NewHandler(svc, WithRetryPolicy(generic.RetryPolicy{Attempts: 2, Backoff: time.Millisecond}))
	return &apiFixture{t: t, mem: mem, svc: svc, router: NewRouter(h, RouterConfig{})}
}

func (f *apiFixture) do(method, path, actor string, body any) *httptest.ResponseRecorder {
	f.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(f.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		req.Header.Set(ActorHeader, actor)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (f *apiFixture) createDraft() RequestDTO {
	f.t.Helper()
	rec := f.do(http.MethodPost, "/api/requests", "alice", RequestFieldsRequest{
		LeaveTypeID: "paid", StartDate: "2025-01-06", EndDate: "2025-01-10", Reason: "holiday",
	})
	require.Equal(f.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[RequestDTO](f.t, rec)
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestAPI_FullLifecycle(t *testing.T) {
	f := newAPIFixture(t)

	// GIVEN: a five-day draft
	draft := f.createDraft()
	assert.Equal(t, "DRAFT", draft.Status)
	assert.Equal(t, "5", draft.TotalDays)

	// WHEN: submitted, approved by the manager, then by HR
	rec := f.do(http.MethodPost, "/api/requests/"+draft.ID+"/submit", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, TransitionResponse{ID: draft.ID, Status: "PENDING_MANAGER"}, decode[TransitionResponse](t, rec))

	rec = f.do(http.MethodPost, "/api/requests/"+draft.ID+"/decision", "mgr", DecisionRequest{Action: "APPROVED"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "PENDING_HR", decode[TransitionResponse](t, rec).Status)

	rec = f.do(http.MethodPost, "/api/requests/"+draft.ID+"/decision", "hr-a", DecisionRequest{Action: "APPROVED", Comment: "ok"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "APPROVED", decode[TransitionResponse](t, rec).Status)

	// THEN: the request shows both decided steps and the balance is consumed
	rec = f.do(http.MethodGet, "/api/requests/"+draft.ID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[RequestDTO](t, rec)
	require.Len(t, got.Steps, 2)
	for _, s := range got.Steps {
		require.NotNil(t, s.Action)
		assert.Equal(t, "APPROVED", *s.Action)
	}

	rec = f.do(http.MethodGet, "/api/balances/alice/2025/PAID_LEAVE", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	b := decode[BalanceDTO](t, rec)
	assert.Equal(t, "5", b.UsedDays)
	assert.Equal(t, "0", b.PendingDays)
	assert.Equal(t, "20", b.Remaining)
	f.svc.Events().Wait()
}

func TestAPI_EditAndCancel(t *testing.T) {
	f := newAPIFixture(t)
	draft := f.createDraft()

	rec := f.do(http.MethodPut, "/api/requests/"+draft.ID, "alice", RequestFieldsRequest{
		LeaveTypeID: "paid", StartDate: "2025-01-06", EndDate: "2025-01-06", EndHalfDay: "MORNING",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "DRAFT", decode[TransitionResponse](t, rec).Status)

	rec = f.do(http.MethodGet, "/api/requests/"+draft.ID, "", nil)
	assert.Equal(t, "0.5", decode[RequestDTO](t, rec).TotalDays)

	rec = f.do(http.MethodPost, "/api/requests/"+draft.ID+"/cancel", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "CANCELLED", decode[TransitionResponse](t, rec).Status)

	// Cancelling twice is an illegal transition
	rec = f.do(http.MethodPost, "/api/requests/"+draft.ID+"/cancel", "alice", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	f.svc.Events().Wait()
}

// =============================================================================
// ERRORS
// =============================================================================

func TestAPI_ErrorStatuses(t *testing.T) {
	f := newAPIFixture(t)
	draft := f.createDraft()
	rec := f.do(http.MethodPost, "/api/requests/"+draft.ID+"/submit", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	tests := []struct {
		name   string
		method string
		path   string
		actor  string
		body   any
		want   int
	}{
		{"missing identity", http.MethodPost, "/api/requests/" + draft.ID + "/cancel", "", nil, http.StatusUnauthorized},
		{"not the owner", http.MethodPost, "/api/requests/" + draft.ID + "/cancel", "mallory", nil, http.StatusForbidden},
		{"not an approver", http.MethodPost, "/api/requests/" + draft.ID + "/decision", "hr-a", DecisionRequest{Action: "APPROVED"}, http.StatusForbidden},
		{"refusal without comment", http.MethodPost, "/api/requests/" + draft.ID + "/decision", "mgr", DecisionRequest{Action: "REFUSED", Comment: "  "}, http.StatusBadRequest},
		{"unknown action", http.MethodPost, "/api/requests/" + draft.ID + "/decision", "mgr", DecisionRequest{Action: "MAYBE"}, http.StatusBadRequest},
		{"unknown request", http.MethodGet, "/api/requests/nope", "", nil, http.StatusNotFound},
		{"editing a pending request", http.MethodPut, "/api/requests/" + draft.ID, "alice",
			RequestFieldsRequest{LeaveTypeID: "paid", StartDate: "2025-01-06", EndDate: "2025-01-07"}, http.StatusConflict},
		{"bad date", http.MethodPost, "/api/requests", "alice",
			RequestFieldsRequest{LeaveTypeID: "paid", StartDate: "06/01/2025", EndDate: "2025-01-07"}, http.StatusBadRequest},
		{"end before start", http.MethodPost, "/api/requests", "alice",
			RequestFieldsRequest{LeaveTypeID: "paid", StartDate: "2025-01-10", EndDate: "2025-01-06"}, http.StatusBadRequest},
		{"weekend only", http.MethodPost, "/api/requests", "alice",
			RequestFieldsRequest{LeaveTypeID: "paid", StartDate: "2025-01-11", EndDate: "2025-01-12"}, http.StatusBadRequest},
		{"unknown balance", http.MethodGet, "/api/balances/alice/2024/PAID_LEAVE", "", nil, http.StatusNotFound},
		{"non numeric year", http.MethodGet, "/api/balances/alice/last/PAID_LEAVE", "", nil, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(tt.method, tt.path, tt.actor, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode[ErrorResponse](t, rec).Error)
		})
	}
	f.svc.Events().Wait()
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{generic.NotFound("leave_request", "x"), http.StatusNotFound},
		{&generic.NotAuthorizedApproverError{RequestID: "r", ActorID: "a"}, http.StatusForbidden},
		{&generic.TransitionError{From: "APPROVED", Op: "cancel"}, http.StatusConflict},
		{fmt.Errorf("wrapped: %w", generic.ErrConcurrentModification), http.StatusConflict},
		{generic.ErrCommentRequired, http.StatusBadRequest},
		{generic.ErrEmptyWorkingRange, http.StatusBadRequest},
		{generic.ErrInvalidPeriod, http.StatusBadRequest},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

// =============================================================================
// CALENDAR AND PROVISIONING
// =============================================================================

func TestAPI_WorkingDays(t *testing.T) {
	f := newAPIFixture(t)
	f.mem.AddHoliday(generic.Holiday{ID: "h1", OfficeID: "paris", Date: generic.NewTimePoint(2025, time.January, 8)})

	rec := f.do(http.MethodPost, "/api/working-days", "", WorkingDaysRequest{
		OfficeID: "paris", Start: "2025-01-06", End: "2025-01-10", StartHalfDay: "AFTERNOON",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "3.5", decode[WorkingDaysResponse](t, rec).Days)

	rec = f.do(http.MethodPost, "/api/working-days", "", WorkingDaysRequest{Start: "2025-01-06", End: "2025-01-10"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_ProvisionBalance(t *testing.T) {
	f := newAPIFixture(t)
	carryCap := "5"
	body := ProvisionRequest{
		UserID: "bob", Year: 2025, BalanceType: "PAID_LEAVE",
		AnnualDays: "25", HireDate: "2025-07-02", CarryOverCap: &carryCap,
	}

	rec := f.do(http.MethodPost, "/api/admin/balances", "hr-a", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	got := decode[ProvisionResponse](t, rec)
	assert.True(t, got.Created)
	assert.Equal(t, "12.5", got.TotalDays)

	// Provisioning again returns the existing row
	rec = f.do(http.MethodPost, "/api/admin/balances", "hr-a", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[ProvisionResponse](t, rec).Created)

	body.AnnualDays = "-1"
	rec = f.do(http.MethodPost, "/api/admin/balances", "hr-a", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	f.svc.Events().Wait()
}

type downPinger struct{}

func (downPinger) Ping(context.Context) error { return errors.New("connection refused") }

func TestAPI_Health(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	router := NewRouter(NewHandler(f.svc, WithPinger(downPinger{})), RouterConfig{})
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Empty(t, decode[ErrorResponse](t, rec).Details)
}

func TestWriteServiceError_HidesInternalDetails(t *testing.T) {
	h := NewHandler(nil)
	req := httptest.NewRequest(http.MethodPost, "/api/requests/r1/submit", nil)

	// GIVEN: a driver failure and a client error
	rec := httptest.NewRecorder()
	h.writeServiceError(rec, req, fmt.Errorf("reserve balance: %w", errors.New(`no such table: leave_balances`)))

	// THEN: the 500 carries no details
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode[ErrorResponse](t, rec)
	assert.Equal(t, "Internal error", body.Error)
	assert.Empty(t, body.Details)
	assert.NotContains(t, rec.Body.String(), "leave_balances")

	// AND: a 4xx still explains itself
	rec = httptest.NewRecorder()
	h.writeServiceError(rec, req, generic.NotFound("leave_request", "r1"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "leave_request r1 not found", decode[ErrorResponse](t, rec).Details)
}

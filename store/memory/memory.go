// Package memory provides an in-memory leave.Backend for tests and development.
//
// WithTx snapshots every request, step and balance so it can roll back, so
// each transaction costs time proportional to the whole store. It is not
// meant for large datasets; use store/sqlite or store/postgres for those.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements every collaborator interface of the leave core. Values
// are copied on the way in and out, so callers never share state with it.
type Memory struct {
	mu       sync.RWMutex
	requests map[string]leave.LeaveRequest
	steps    map[string][]leave.ApprovalStep
	balances map[leave.BalanceKey]leave.LeaveBalance

	leaveTypes  map[string]leave.LeaveType
	placements  map[string]leave.Placement
	managers    map[string]string
	hr          map[string]bool
	workWeeks   map[string]generic.WorkWeek
	holidays    []generic.Holiday
	workflows   []leave.WorkflowConfig
	delegations []leave.Delegation

	sinkMu        sync.Mutex
	sinkErr       error
	audit         []leave.AuditEvent
	notifications []leave.Notification
}

var _ leave.Backend = (*Memory)(nil)

func New() *Memory {
	return &Memory{
		requests:   make(map[string]leave.LeaveRequest),
		steps:      make(map[string][]leave.ApprovalStep),
		balances:   make(map[leave.BalanceKey]leave.LeaveBalance),
		leaveTypes: make(map[string]leave.LeaveType),
		placements: make(map[string]leave.Placement),
		managers:   make(map[string]string),
		hr:         make(map[string]bool),
		workWeeks:  make(map[string]generic.WorkWeek),
	}
}

// =============================================================================
// STORE - Reads outside a transaction
// =============================================================================

func (m *Memory) GetRequest(_ context.Context, id string) (*leave.LeaveRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getRequestLocked(id)
}

func (m *Memory) ListSteps(_ context.Context, requestID string) ([]leave.ApprovalStep, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listStepsLocked(requestID), nil
}

func (m *Memory) GetBalance(_ context.Context, key leave.BalanceKey) (*leave.LeaveBalance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getBalanceLocked(key)
}

func (m *Memory) GetLeaveType(_ context.Context, id string) (*leave.LeaveType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLeaveTypeLocked(id)
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(leave.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()
	if err := fn(&txView{m: m}); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	requests map[string]leave.LeaveRequest
	steps    map[string][]leave.ApprovalStep
	balances map[leave.BalanceKey]leave.LeaveBalance
}

// snapshot copies the mutable tables. Stored values are never mutated in
// place, so a shallow copy of each map is enough.
func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		requests: make(map[string]leave.LeaveRequest, len(m.requests)),
		steps:    make(map[string][]leave.ApprovalStep, len(m.steps)),
		balances: make(map[leave.BalanceKey]leave.LeaveBalance, len(m.balances)),
	}
	for k, v := range m.requests {
		s.requests[k] = v
	}
	for k, v := range m.steps {
		s.steps[k] = append([]leave.ApprovalStep(nil), v...)
	}
	for k, v := range m.balances {
		s.balances[k] = v
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.requests = s.requests
	m.steps = s.steps
	m.balances = s.balances
}

// =============================================================================
// LOCKED ACCESSORS - Caller holds m.mu
// =============================================================================

func (m *Memory) getRequestLocked(id string) (*leave.LeaveRequest, error) {
	r, ok := m.requests[id]
	if !ok {
		return nil, generic.NotFound("leave_request", id)
	}
	return cloneRequest(r), nil
}

func (m *Memory) listStepsLocked(requestID string) []leave.ApprovalStep {
	stored := m.steps[requestID]
	out := make([]leave.ApprovalStep, len(stored))
	for i, s := range stored {
		out[i] = cloneStep(s)
	}
	sortSteps(out)
	return out
}

func (m *Memory) getBalanceLocked(key leave.BalanceKey) (*leave.LeaveBalance, error) {
	b, ok := m.balances[key]
	if !ok {
		return nil, generic.NotFound("leave_balance", key.String())
	}
	return &b, nil
}

func (m *Memory) getLeaveTypeLocked(id string) (*leave.LeaveType, error) {
	lt, ok := m.leaveTypes[id]
	if !ok {
		return nil, generic.NotFound("leave_type", id)
	}
	return &lt, nil
}

// =============================================================================
// TRANSACTION VIEW
// =============================================================================

type txView struct {
	m *Memory
}

func (tv *txView) GetRequest(_ context.Context, id string) (*leave.LeaveRequest, error) {
	return tv.m.getRequestLocked(id)
}

func (tv *txView) InsertRequest(_ context.Context, r *leave.LeaveRequest) error {
	if _, exists := tv.m.requests[r.ID]; exists {
		return generic.ErrConcurrentModification
	}
	r.Version = 1
	tv.m.requests[r.ID] = *cloneRequest(*r)
	return nil
}

func (tv *txView) UpdateRequest(_ context.Context, r *leave.LeaveRequest) error {
	stored, ok := tv.m.requests[r.ID]
	if !ok {
		return generic.NotFound("leave_request", r.ID)
	}
	if stored.Version != r.Version {
		return generic.ErrConcurrentModification
	}
	r.Version++
	tv.m.requests[r.ID] = *cloneRequest(*r)
	return nil
}

func (tv *txView) ListSteps(_ context.Context, requestID string) ([]leave.ApprovalStep, error) {
	return tv.m.listStepsLocked(requestID), nil
}

func (tv *txView) ReplaceSteps(_ context.Context, requestID string, steps []leave.ApprovalStep) error {
	if len(steps) == 0 {
		delete(tv.m.steps, requestID)
		return nil
	}
	stored := make([]leave.ApprovalStep, len(steps))
	for i, s := range steps {
		s.RequestID = requestID
		stored[i] = cloneStep(s)
	}
	tv.m.steps[requestID] = stored
	return nil
}

func (tv *txView) UpdateStep(_ context.Context, step leave.ApprovalStep) error {
	stored := tv.m.steps[step.RequestID]
	for i := range stored {
		if stored[i].ID == step.ID {
			// Copy-on-write keeps the snapshot's slice intact.
			next := append([]leave.ApprovalStep(nil), stored...)
			next[i] = cloneStep(step)
			tv.m.steps[step.RequestID] = next
			return nil
		}
	}
	return generic.NotFound("approval_step", step.ID)
}

func (tv *txView) GetLeaveType(_ context.Context, id string) (*leave.LeaveType, error) {
	return tv.m.getLeaveTypeLocked(id)
}

func (tv *txView) GetBalance(_ context.Context, key leave.BalanceKey) (*leave.LeaveBalance, error) {
	return tv.m.getBalanceLocked(key)
}

func (tv *txView) InsertBalance(_ context.Context, b *leave.LeaveBalance) error {
	if _, exists := tv.m.balances[b.Key]; exists {
		return generic.ErrConcurrentModification
	}
	b.Version = 1
	tv.m.balances[b.Key] = *b
	return nil
}

func (tv *txView) UpdateBalance(_ context.Context, b *leave.LeaveBalance) error {
	stored, ok := tv.m.balances[b.Key]
	if !ok {
		return generic.NotFound("leave_balance", b.Key.String())
	}
	if stored.Version != b.Version {
		return generic.ErrConcurrentModification
	}
	b.Version++
	tv.m.balances[b.Key] = *b
	return nil
}

// =============================================================================
// COPY HELPERS
// =============================================================================

func cloneRequest(r leave.LeaveRequest) *leave.LeaveRequest {
	r.Attachments = append([]string(nil), r.Attachments...)
	if r.SubmittedAt != nil {
		t := *r.SubmittedAt
		r.SubmittedAt = &t
	}
	return &r
}

func cloneStep(s leave.ApprovalStep) leave.ApprovalStep {
	if s.Action != nil {
		a := *s.Action
		s.Action = &a
	}
	if s.DecidedAt != nil {
		t := *s.DecidedAt
		s.DecidedAt = &t
	}
	return s
}

func sortSteps(steps []leave.ApprovalStep) {
	sort.SliceStable(steps, func(i, j int) bool {
		if steps[i].StepType != steps[j].StepType {
			return steps[i].StepType == leave.StepManager
		}
		if steps[i].StepOrder != steps[j].StepOrder {
			return steps[i].StepOrder < steps[j].StepOrder
		}
		return steps[i].ID < steps[j].ID
	})
}

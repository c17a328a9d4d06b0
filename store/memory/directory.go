package memory

import (
	"context"
	"sort"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// SEEDING - Reference data managed outside the leave core
// =============================================================================

func (m *Memory) SaveLeaveType(lt leave.LeaveType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leaveTypes[lt.ID] = lt
}

func (m *Memory) SetPlacement(p leave.Placement) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.placements[p.UserID] = p
}

// SetTeamManager assigns a team's manager; an empty managerID removes it.
func (m *Memory) SetTeamManager(teamID, managerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if managerID == "" {
		delete(m.managers, teamID)
		return
	}
	m.managers[teamID] = managerID
}

func (m *Memory) AddHRApprover(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hr[userID] = true
}

func (m *Memory) SetWorkWeek(officeID string, week generic.WorkWeek) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workWeeks[officeID] = week
}

func (m *Memory) AddHoliday(h generic.Holiday) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.holidays = append(m.holidays, h)
}

// SaveWorkflow adds or replaces a workflow template by ID.
func (m *Memory) SaveWorkflow(cfg leave.WorkflowConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg.Steps = append([]leave.WorkflowStep(nil), cfg.Steps...)
	for i := range m.workflows {
		if m.workflows[i].ID == cfg.ID {
			m.workflows[i] = cfg
			return
		}
	}
	m.workflows = append(m.workflows, cfg)
}

// SaveDelegation adds or replaces a delegation by ID.
func (m *Memory) SaveDelegation(d leave.Delegation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.delegations {
		if m.delegations[i].ID == d.ID {
			m.delegations[i] = d
			return
		}
	}
	m.delegations = append(m.delegations, d)
}

// SaveBalance writes a balance row directly, bypassing version checks.
func (m *Memory) SaveBalance(b leave.LeaveBalance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.Version == 0 {
		b.Version = 1
	}
	m.balances[b.Key] = b
}

// =============================================================================
// DIRECTORY
// =============================================================================

func (m *Memory) Placement(_ context.Context, userID string) (leave.Placement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.placements[userID]
	if !ok {
		return leave.Placement{}, generic.NotFound("user", userID)
	}
	return p, nil
}

func (m *Memory) TeamManager(_ context.Context, teamID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.managers[teamID], nil
}

func (m *Memory) HRApprovers(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.hr))
	for id := range m.hr {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// =============================================================================
// CALENDAR
// =============================================================================

// WorkWeek defaults to Monday-Friday for offices without a configured week.
func (m *Memory) WorkWeek(_ context.Context, officeID string) (generic.WorkWeek, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if w, ok := m.workWeeks[officeID]; ok {
		return w, nil
	}
	return generic.MondayToFriday(), nil
}

// Holidays returns the office's holidays and the company-wide ones (empty
// OfficeID). Recurring holidays are always included.
func (m *Memory) Holidays(_ context.Context, officeID string, p generic.Period) ([]generic.Holiday, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []generic.Holiday
	for _, h := range m.holidays {
		if h.OfficeID != "" && h.OfficeID != officeID {
			continue
		}
		if h.Recurring || p.Contains(h.Date) {
			out = append(out, h)
		}
	}
	return out, nil
}

// =============================================================================
// WORKFLOWS AND DELEGATIONS
// =============================================================================

// ActiveWorkflow returns the first active template for the scope, by ID.
func (m *Memory) ActiveWorkflow(_ context.Context, scope leave.ScopeKind, scopeID string) (*leave.WorkflowConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var found *leave.WorkflowConfig
	for i := range m.workflows {
		cfg := m.workflows[i]
		if !cfg.IsActive || cfg.Scope != scope || cfg.ScopeID != scopeID {
			continue
		}
		if found == nil || cfg.ID < found.ID {
			c := cfg
			c.Steps = append([]leave.WorkflowStep(nil), cfg.Steps...)
			found = &c
		}
	}
	return found, nil
}

func (m *Memory) DelegationsTo(_ context.Context, toUser string) ([]leave.Delegation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []leave.Delegation
	for _, d := range m.delegations {
		if d.ToUser == toUser {
			out = append(out, d)
		}
	}
	return out, nil
}

// =============================================================================
// SINKS
// =============================================================================

// FailSinks makes RecordAudit and Notify return err (nil restores them).
func (m *Memory) FailSinks(err error) {
	m.sinkMu.Lock()
	defer m.sinkMu.Unlock()
	m.sinkErr = err
}

func (m *Memory) RecordAudit(_ context.Context, e leave.AuditEvent) error {
	m.sinkMu.Lock()
	defer m.sinkMu.Unlock()
	if m.sinkErr != nil {
		return m.sinkErr
	}
	m.audit = append(m.audit, e)
	return nil
}

func (m *Memory) Notify(_ context.Context, n leave.Notification) error {
	m.sinkMu.Lock()
	defer m.sinkMu.Unlock()
	if m.sinkErr != nil {
		return m.sinkErr
	}
	n.RecipientIDs = append([]string(nil), n.RecipientIDs...)
	m.notifications = append(m.notifications, n)
	return nil
}

func (m *Memory) AuditEvents() []leave.AuditEvent {
	m.sinkMu.Lock()
	defer m.sinkMu.Unlock()
	return append([]leave.AuditEvent(nil), m.audit...)
}

func (m *Memory) Notifications() []leave.Notification {
	m.sinkMu.Lock()
	defer m.sinkMu.Unlock()
	return append([]leave.Notification(nil), m.notifications...)
}

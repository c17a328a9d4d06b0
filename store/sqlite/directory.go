package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// SEEDING - Reference data managed outside the leave core
// =============================================================================

func (s *Store) SaveLeaveType(ctx context.Context, lt leave.LeaveType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leave_types (id, name, deducts_balance, balance_exempt, balance_type)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			deducts_balance = excluded.deducts_balance,
			balance_exempt = excluded.balance_exempt,
			balance_type = excluded.balance_type`,
		lt.ID, lt.Name, boolInt(lt.DeductsBalance), boolInt(lt.BalanceExempt), lt.BalanceType,
	)
	return err
}

// SaveOffice stores an office and its work week (nil means Monday-Friday).
func (s *Store) SaveOffice(ctx context.Context, id, name string, week generic.WorkWeek) error {
	if week == nil {
		week = generic.MondayToFriday()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO offices (id, name, work_week) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, work_week = excluded.work_week`,
		id, name, week.String(),
	)
	return err
}

// SaveTeam stores a team; an empty managerID leaves the team without manager.
func (s *Store) SaveTeam(ctx context.Context, id, name, managerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO teams (id, name, manager_id) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, manager_id = excluded.manager_id`,
		id, name, nullString(managerID),
	)
	return err
}

func (s *Store) SaveUser(ctx context.Context, p leave.Placement, isHR bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, team_id, office_id, is_hr, is_active) VALUES (?, ?, ?, ?, 1)
		ON CONFLICT(id) DO UPDATE SET
			team_id = excluded.team_id, office_id = excluded.office_id, is_hr = excluded.is_hr`,
		p.UserID, nullString(p.TeamID), nullString(p.OfficeID), boolInt(isHR),
	)
	return err
}

// DeactivateUser removes the user from HR approver resolution.
func (s *Store) DeactivateUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `UPDATE users SET is_active = 0 WHERE id = ?`, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return generic.NotFound("user", userID)
	}
	return nil
}

func (s *Store) SaveHoliday(ctx context.Context, h generic.Holiday) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO holidays (id, office_id, date, name, recurring) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			office_id = excluded.office_id, date = excluded.date,
			name = excluded.name, recurring = excluded.recurring`,
		h.ID, h.OfficeID, h.Date.String(), h.Name, boolInt(h.Recurring),
	)
	return err
}

// SaveWorkflow adds or replaces a workflow template and its steps.
func (s *Store) SaveWorkflow(ctx context.Context, cfg leave.WorkflowConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO workflow_configs (id, scope_kind, scope_id, is_active) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			scope_kind = excluded.scope_kind, scope_id = excluded.scope_id, is_active = excluded.is_active`,
		cfg.ID, string(cfg.Scope), cfg.ScopeID, boolInt(cfg.IsActive),
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM workflow_steps WHERE workflow_id = ?`, cfg.ID); err != nil {
		return err
	}
	for _, st := range cfg.Steps {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO workflow_steps (workflow_id, step_order, step_type, is_required) VALUES (?, ?, ?, ?)`,
			cfg.ID, st.StepOrder, string(st.StepType), boolInt(st.IsRequired),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) SaveDelegation(ctx context.Context, d leave.Delegation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO delegations (id, from_user, to_user, start_date, end_date, is_active, created_by)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			from_user = excluded.from_user, to_user = excluded.to_user,
			start_date = excluded.start_date, end_date = excluded.end_date,
			is_active = excluded.is_active`,
		d.ID, d.FromUser, d.ToUser, d.StartDate.String(), d.EndDate.String(), boolInt(d.IsActive), d.CreatedBy,
	)
	return err
}

// SaveBalance writes a balance row directly, bypassing version checks.
func (s *Store) SaveBalance(ctx context.Context, b leave.LeaveBalance) error {
	if b.Version == 0 {
		b.Version = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leave_balances (user_id, year, balance_type, total_days, carried_over_days, used_days, pending_days, version, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, year, balance_type) DO UPDATE SET
			total_days = excluded.total_days, carried_over_days = excluded.carried_over_days,
			used_days = excluded.used_days, pending_days = excluded.pending_days,
			version = excluded.version, updated_at = excluded.updated_at`,
		b.Key.UserID, b.Key.Year, b.Key.BalanceType,
		b.TotalDays.String(), b.CarriedOverDays.String(), b.UsedDays.String(), b.PendingDays.String(),
		b.Version, formatTime(b.UpdatedAt),
	)
	return err
}

// =============================================================================
// DIRECTORY
// =============================================================================

func (s *Store) Placement(ctx context.Context, userID string) (leave.Placement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var team, office sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT team_id, office_id FROM users WHERE id = ?`, userID).Scan(&team, &office)
	if errors.Is(err, sql.ErrNoRows) {
		return leave.Placement{}, generic.NotFound("user", userID)
	}
	if err != nil {
		return leave.Placement{}, err
	}
	return leave.Placement{UserID: userID, TeamID: team.String, OfficeID: office.String}, nil
}

func (s *Store) TeamManager(ctx context.Context, teamID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var manager sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT manager_id FROM teams WHERE id = ?`, teamID).Scan(&manager)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return manager.String, nil
}

func (s *Store) HRApprovers(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM users WHERE is_hr = 1 AND is_active = 1 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// =============================================================================
// CALENDAR
// =============================================================================

// WorkWeek defaults to Monday-Friday for unknown offices.
func (s *Store) WorkWeek(ctx context.Context, officeID string) (generic.WorkWeek, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT work_week FROM offices WHERE id = ?`, officeID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return generic.MondayToFriday(), nil
	}
	if err != nil {
		return nil, err
	}
	week, err := generic.ParseWorkWeek(raw)
	if err != nil {
		return nil, fmt.Errorf("office %s: %w", officeID, err)
	}
	return week, nil
}

// Holidays returns the office's holidays plus company-wide ones. Dates are
// stored as YYYY-MM-DD so the range filter compares lexically.
func (s *Store) Holidays(ctx context.Context, officeID string, p generic.Period) ([]generic.Holiday, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, office_id, date, name, recurring FROM holidays
		WHERE office_id IN ('', ?) AND (recurring = 1 OR date BETWEEN ? AND ?)
		ORDER BY date`,
		officeID, p.Start.String(), p.End.String(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []generic.Holiday
	for rows.Next() {
		var (
			h         generic.Holiday
			date      string
			recurring int
		)
		if err := rows.Scan(&h.ID, &h.OfficeID, &date, &h.Name, &recurring); err != nil {
			return nil, err
		}
		if h.Date, err = parseDate(date); err != nil {
			return nil, err
		}
		h.Recurring = recurring == 1
		out = append(out, h)
	}
	return out, rows.Err()
}

// =============================================================================
// WORKFLOWS AND DELEGATIONS
// =============================================================================

func (s *Store) ActiveWorkflow(ctx context.Context, scope leave.ScopeKind, scopeID string) (*leave.WorkflowConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg := leave.WorkflowConfig{Scope: scope, ScopeID: scopeID, IsActive: true}
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM workflow_configs
		WHERE scope_kind = ? AND scope_id = ? AND is_active = 1
		ORDER BY id LIMIT 1`,
		string(scope), scopeID,
	).Scan(&cfg.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT step_order, step_type, is_required FROM workflow_steps
		WHERE workflow_id = ? ORDER BY step_order`, cfg.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			st       leave.WorkflowStep
			required int
		)
		if err := rows.Scan(&st.StepOrder, &st.StepType, &required); err != nil {
			return nil, err
		}
		st.IsRequired = required == 1
		cfg.Steps = append(cfg.Steps, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *Store) DelegationsTo(ctx context.Context, toUser string) ([]leave.Delegation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, from_user, to_user, start_date, end_date, is_active, created_by
		FROM delegations WHERE to_user = ? ORDER BY id`, toUser)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []leave.Delegation
	for rows.Next() {
		var (
			d          leave.Delegation
			start, end string
			active     int
		)
		if err := rows.Scan(&d.ID, &d.FromUser, &d.ToUser, &start, &end, &active, &d.CreatedBy); err != nil {
			return nil, err
		}
		if d.StartDate, err = parseDate(start); err != nil {
			return nil, err
		}
		if d.EndDate, err = parseDate(end); err != nil {
			return nil, err
		}
		d.IsActive = active == 1
		out = append(out, d)
	}
	return out, rows.Err()
}

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// SEEDING
// =============================================================================

func (s *Store) SaveLeaveType(ctx context.Context, lt leave.LeaveType) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO leave_types (id, name, deducts_balance, balance_exempt, balance_type)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, deducts_balance = EXCLUDED.deducts_balance,
			balance_exempt = EXCLUDED.balance_exempt, balance_type = EXCLUDED.balance_type`,
		lt.ID, lt.Name, lt.DeductsBalance, lt.BalanceExempt, lt.BalanceType,
	)
	return err
}

func (s *Store) SaveOffice(ctx context.Context, id, name string, week generic.WorkWeek) error {
	if week == nil {
		week = generic.MondayToFriday()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO offices (id, name, work_week) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, work_week = EXCLUDED.work_week`,
		id, name, week.String(),
	)
	return err
}

func (s *Store) SaveTeam(ctx context.Context, id, name, managerID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO teams (id, name, manager_id) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, manager_id = EXCLUDED.manager_id`,
		id, name, nullable(managerID),
	)
	return err
}

func (s *Store) SaveUser(ctx context.Context, p leave.Placement, isHR bool) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, team_id, office_id, is_hr, is_active) VALUES ($1, $2, $3, $4, TRUE)
		ON CONFLICT (id) DO UPDATE SET
			team_id = EXCLUDED.team_id, office_id = EXCLUDED.office_id, is_hr = EXCLUDED.is_hr`,
		p.UserID, nullable(p.TeamID), nullable(p.OfficeID), isHR,
	)
	return err
}

func (s *Store) SaveHoliday(ctx context.Context, h generic.Holiday) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO holidays (id, office_id, holiday_date, name, recurring) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			office_id = EXCLUDED.office_id, holiday_date = EXCLUDED.holiday_date,
			name = EXCLUDED.name, recurring = EXCLUDED.recurring`,
		h.ID, h.OfficeID, dateValue(h.Date), h.Name, h.Recurring,
	)
	return err
}

// SaveWorkflow adds or replaces a template and its steps in one transaction.
func (s *Store) SaveWorkflow(ctx context.Context, cfg leave.WorkflowConfig) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO workflow_configs (id, scope_kind, scope_id, is_active) VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET
				scope_kind = EXCLUDED.scope_kind, scope_id = EXCLUDED.scope_id, is_active = EXCLUDED.is_active`,
			cfg.ID, string(cfg.Scope), cfg.ScopeID, cfg.IsActive,
		); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM workflow_steps WHERE workflow_id = $1`, cfg.ID); err != nil {
			return err
		}
		for _, st := range cfg.Steps {
			if _, err := tx.Exec(ctx,
				`INSERT INTO workflow_steps (workflow_id, step_order, step_type, is_required) VALUES ($1, $2, $3, $4)`,
				cfg.ID, st.StepOrder, string(st.StepType), st.IsRequired,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) SaveDelegation(ctx context.Context, d leave.Delegation) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO delegations (id, from_user, to_user, start_date, end_date, is_active, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			from_user = EXCLUDED.from_user, to_user = EXCLUDED.to_user,
			start_date = EXCLUDED.start_date, end_date = EXCLUDED.end_date, is_active = EXCLUDED.is_active`,
		d.ID, d.FromUser, d.ToUser, dateValue(d.StartDate), dateValue(d.EndDate), d.IsActive, d.CreatedBy,
	)
	return err
}

// SaveBalance writes a balance row directly, bypassing version checks.
func (s *Store) SaveBalance(ctx context.Context, b leave.LeaveBalance) error {
	if b.Version == 0 {
		b.Version = 1
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO leave_balances (user_id, year, balance_type, total_days, carried_over_days, used_days, pending_days, version, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6::numeric, $7::numeric, $8, $9)
		ON CONFLICT (user_id, year, balance_type) DO UPDATE SET
			total_days = EXCLUDED.total_days, carried_over_days = EXCLUDED.carried_over_days,
			used_days = EXCLUDED.used_days, pending_days = EXCLUDED.pending_days,
			version = EXCLUDED.version, updated_at = EXCLUDED.updated_at`,
		b.Key.UserID, b.Key.Year, b.Key.BalanceType,
		b.TotalDays.String(), b.CarriedOverDays.String(), b.UsedDays.String(), b.PendingDays.String(),
		b.Version, b.UpdatedAt,
	)
	return err
}

// =============================================================================
// DIRECTORY
// =============================================================================

func (s *Store) Placement(ctx context.Context, userID string) (leave.Placement, error) {
	var team, office *string
	err := s.pool.QueryRow(ctx, `SELECT team_id, office_id FROM users WHERE id = $1`, userID).Scan(&team, &office)
	if errors.Is(err, pgx.ErrNoRows) {
		return leave.Placement{}, generic.NotFound("user", userID)
	}
	if err != nil {
		return leave.Placement{}, err
	}
	p := leave.Placement{UserID: userID}
	if team != nil {
		p.TeamID = *team
	}
	if office != nil {
		p.OfficeID = *office
	}
	return p, nil
}

func (s *Store) TeamManager(ctx context.Context, teamID string) (string, error) {
	var manager *string
	err := s.pool.QueryRow(ctx, `SELECT manager_id FROM teams WHERE id = $1`, teamID).Scan(&manager)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if manager == nil {
		return "", nil
	}
	return *manager, nil
}

func (s *Store) HRApprovers(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM users WHERE is_hr AND is_active ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// =============================================================================
// CALENDAR
// =============================================================================

func (s *Store) WorkWeek(ctx context.Context, officeID string) (generic.WorkWeek, error) {
	var raw string
	err := s.pool.QueryRow(ctx, `SELECT work_week FROM offices WHERE id = $1`, officeID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
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

func (s *Store) Holidays(ctx context.Context, officeID string, p generic.Period) ([]generic.Holiday, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, office_id, holiday_date, name, recurring FROM holidays
		WHERE office_id IN ('', $1) AND (recurring OR holiday_date BETWEEN $2 AND $3)
		ORDER BY holiday_date`,
		officeID, dateValue(p.Start), dateValue(p.End),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []generic.Holiday
	for rows.Next() {
		var (
			h    generic.Holiday
			date time.Time
		)
		if err := rows.Scan(&h.ID, &h.OfficeID, &date, &h.Name, &h.Recurring); err != nil {
			return nil, err
		}
		h.Date = generic.DateOf(date)
		out = append(out, h)
	}
	return out, rows.Err()
}

// =============================================================================
// WORKFLOWS AND DELEGATIONS
// =============================================================================

func (s *Store) ActiveWorkflow(ctx context.Context, scope leave.ScopeKind, scopeID string) (*leave.WorkflowConfig, error) {
	cfg := leave.WorkflowConfig{Scope: scope, ScopeID: scopeID, IsActive: true}
	err := s.pool.QueryRow(ctx, `
		SELECT id FROM workflow_configs
		WHERE scope_kind = $1 AND scope_id = $2 AND is_active
		ORDER BY id LIMIT 1`, string(scope), scopeID,
	).Scan(&cfg.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT step_order, step_type, is_required FROM workflow_steps
		WHERE workflow_id = $1 ORDER BY step_order`, cfg.ID)
	if err != nil {
		return nil, err
	}
	cfg.Steps, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (leave.WorkflowStep, error) {
		var st leave.WorkflowStep
		err := row.Scan(&st.StepOrder, &st.StepType, &st.IsRequired)
		return st, err
	})
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *Store) DelegationsTo(ctx context.Context, toUser string) ([]leave.Delegation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, from_user, to_user, start_date, end_date, is_active, created_by
		FROM delegations WHERE to_user = $1 ORDER BY id`, toUser)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (leave.Delegation, error) {
		var (
			d          leave.Delegation
			start, end time.Time
		)
		if err := row.Scan(&d.ID, &d.FromUser, &d.ToUser, &start, &end, &d.IsActive, &d.CreatedBy); err != nil {
			return d, err
		}
		d.StartDate = generic.DateOf(start)
		d.EndDate = generic.DateOf(end)
		return d, nil
	})
}

// =============================================================================
// SINKS
// =============================================================================

func (s *Store) RecordAudit(ctx context.Context, e leave.AuditEvent) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_log (id, actor_id, action, entity_type, entity_id, old_value, new_value, on_behalf_of, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.ActorID, string(e.Action), e.EntityType, e.EntityID, e.OldValue, e.NewValue, e.OnBehalfOf, e.At,
	)
	return err
}

func (s *Store) Notify(ctx context.Context, n leave.Notification) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notifications (id, recipients, kind, payload, created_at) VALUES ($1, $2, $3, $4, $5)`,
		n.ID, n.RecipientIDs, string(n.Kind), n.Payload, n.At,
	)
	return err
}

// ListAuditEvents returns the trail for one entity, oldest first.
func (s *Store) ListAuditEvents(ctx context.Context, entityType, entityID string) ([]leave.AuditEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, actor_id, action, entity_type, entity_id, old_value, new_value, on_behalf_of, created_at
		FROM audit_log WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at, id`, entityType, entityID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (leave.AuditEvent, error) {
		var e leave.AuditEvent
		err := row.Scan(&e.ID, &e.ActorID, &e.Action, &e.EntityType, &e.EntityID,
			&e.OldValue, &e.NewValue, &e.OnBehalfOf, &e.At)
		return e, err
	})
}

// ListNotifications returns every notification addressed to userID, oldest first.
func (s *Store) ListNotifications(ctx context.Context, userID string) ([]leave.Notification, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, recipients, kind, payload, created_at FROM notifications
		WHERE $1 = ANY(recipients)
		ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (leave.Notification, error) {
		var n leave.Notification
		err := row.Scan(&n.ID, &n.RecipientIDs, &n.Kind, &n.Payload, &n.At)
		return n, err
	})
}

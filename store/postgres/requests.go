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
// LEAVE REQUESTS
// =============================================================================

const requestColumns = `id, owner_id, leave_type_id, start_date, end_date, start_half_day, end_half_day,
	total_days::text, status, reason, exceptional_reason, attachments, is_company_closure, balance_reserved,
	reserved_year, reserved_balance_type, reserved_days::text, version, created_at, updated_at, submitted_at`

func getRequest(ctx context.Context, q querier, id string, lock bool) (*leave.LeaveRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM leave_requests WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}

	var (
		r          leave.LeaveRequest
		start, end time.Time
		total      string
		reserved   string
	)
	err := q.QueryRow(ctx, query, id).Scan(&r.ID, &r.OwnerID, &r.LeaveTypeID, &start, &end,
		&r.StartHalfDay, &r.EndHalfDay, &total, &r.Status, &r.Reason, &r.ExceptionalReason,
		&r.Attachments, &r.IsCompanyClosure, &r.BalanceReserved,
		&r.ReservedKey.Year, &r.ReservedKey.BalanceType, &reserved, &r.Version, &r.CreatedAt, &r.UpdatedAt, &r.SubmittedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, generic.NotFound("leave_request", id)
	}
	if err != nil {
		return nil, err
	}

	r.StartDate = generic.DateOf(start)
	r.EndDate = generic.DateOf(end)
	if r.TotalDays, err = parseAmount("leave_request", id, total); err != nil {
		return nil, err
	}
	if r.ReservedDays, err = parseAmount("leave_request", id, reserved); err != nil {
		return nil, err
	}
	if r.BalanceReserved {
		r.ReservedKey.UserID = r.OwnerID
	}
	if len(r.Attachments) == 0 {
		r.Attachments = nil
	}
	return &r, nil
}

func insertRequest(ctx context.Context, q querier, r *leave.LeaveRequest) error {
	attachments := r.Attachments
	if attachments == nil {
		attachments = []string{}
	}
	_, err := q.Exec(ctx, `
		INSERT INTO leave_requests (id, owner_id, leave_type_id, start_date, end_date, start_half_day, end_half_day,
			total_days, status, reason, exceptional_reason, attachments, is_company_closure, balance_reserved,
			reserved_year, reserved_balance_type, reserved_days, version, created_at, updated_at, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9, $10, $11, $12, $13, $14, $15, $16, $17::numeric, 1, $18, $19, $20)`,
		r.ID, r.OwnerID, r.LeaveTypeID, dateValue(r.StartDate), dateValue(r.EndDate),
		string(r.StartHalfDay), string(r.EndHalfDay), r.TotalDays.String(), string(r.Status),
		r.Reason, r.ExceptionalReason, attachments, r.IsCompanyClosure, r.BalanceReserved,
		r.ReservedKey.Year, r.ReservedKey.BalanceType, r.ReservedDays.String(),
		r.CreatedAt, r.UpdatedAt, r.SubmittedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("leave_request %s: %w", r.ID, generic.ErrConcurrentModification)
	}
	if err != nil {
		return err
	}
	r.Version = 1
	return nil
}

func updateRequest(ctx context.Context, q querier, r *leave.LeaveRequest) error {
	attachments := r.Attachments
	if attachments == nil {
		attachments = []string{}
	}
	tag, err := q.Exec(ctx, `
		UPDATE leave_requests SET
			leave_type_id = $1, start_date = $2, end_date = $3, start_half_day = $4, end_half_day = $5,
			total_days = $6::numeric, status = $7, reason = $8, exceptional_reason = $9, attachments = $10,
			is_company_closure = $11, balance_reserved = $12,
			reserved_year = $13, reserved_balance_type = $14, reserved_days = $15::numeric,
			updated_at = $16, submitted_at = $17, version = version + 1
		WHERE id = $18 AND version = $19`,
		r.LeaveTypeID, dateValue(r.StartDate), dateValue(r.EndDate), string(r.StartHalfDay), string(r.EndHalfDay),
		r.TotalDays.String(), string(r.Status), r.Reason, r.ExceptionalReason, attachments,
		r.IsCompanyClosure, r.BalanceReserved,
		r.ReservedKey.Year, r.ReservedKey.BalanceType, r.ReservedDays.String(),
		r.UpdatedAt, r.SubmittedAt,
		r.ID, r.Version,
	)
	if err != nil {
		return err
	}
	if err := checkAffected(ctx, q, tag, "leave_request", r.ID,
		`SELECT 1 FROM leave_requests WHERE id = $1`, r.ID); err != nil {
		return err
	}
	r.Version++
	return nil
}

// =============================================================================
// APPROVAL STEPS
// =============================================================================

func listSteps(ctx context.Context, q querier, requestID string) ([]leave.ApprovalStep, error) {
	rows, err := q.Query(ctx, `
		SELECT id, request_id, step_type, step_order, is_required, approver_id, action, comment, decided_at, on_behalf_of
		FROM approval_steps WHERE request_id = $1
		ORDER BY CASE step_type WHEN 'MANAGER' THEN 0 ELSE 1 END, step_order, id`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []leave.ApprovalStep
	for rows.Next() {
		var (
			s      leave.ApprovalStep
			action *string
		)
		if err := rows.Scan(&s.ID, &s.RequestID, &s.StepType, &s.StepOrder, &s.IsRequired, &s.ApproverID,
			&action, &s.Comment, &s.DecidedAt, &s.OnBehalfOf); err != nil {
			return nil, err
		}
		if action != nil {
			a := leave.Action(*action)
			s.Action = &a
		}
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

func replaceSteps(ctx context.Context, q querier, requestID string, steps []leave.ApprovalStep) error {
	if _, err := q.Exec(ctx, `DELETE FROM approval_steps WHERE request_id = $1`, requestID); err != nil {
		return err
	}
	for _, s := range steps {
		_, err := q.Exec(ctx, `
			INSERT INTO approval_steps (id, request_id, step_type, step_order, is_required, approver_id, action, comment, decided_at, on_behalf_of)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			s.ID, requestID, string(s.StepType), s.StepOrder, s.IsRequired, s.ApproverID,
			actionValue(s.Action), s.Comment, s.DecidedAt, s.OnBehalfOf,
		)
		if err != nil {
			return fmt.Errorf("insert step %s: %w", s.ID, err)
		}
	}
	return nil
}

func updateStep(ctx context.Context, q querier, s leave.ApprovalStep) error {
	tag, err := q.Exec(ctx, `
		UPDATE approval_steps SET approver_id = $1, action = $2, comment = $3, decided_at = $4, on_behalf_of = $5
		WHERE id = $6 AND request_id = $7`,
		s.ApproverID, actionValue(s.Action), s.Comment, s.DecidedAt, s.OnBehalfOf,
		s.ID, s.RequestID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return generic.NotFound("approval_step", s.ID)
	}
	return nil
}

func actionValue(a *leave.Action) *string {
	if a == nil {
		return nil
	}
	s := string(*a)
	return &s
}

// =============================================================================
// LEAVE TYPES
// =============================================================================

func getLeaveType(ctx context.Context, q querier, id string) (*leave.LeaveType, error) {
	var lt leave.LeaveType
	err := q.QueryRow(ctx,
		`SELECT id, name, deducts_balance, balance_exempt, balance_type FROM leave_types WHERE id = $1`, id,
	).Scan(&lt.ID, &lt.Name, &lt.DeductsBalance, &lt.BalanceExempt, &lt.BalanceType)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, generic.NotFound("leave_type", id)
	}
	if err != nil {
		return nil, err
	}
	return &lt, nil
}

// =============================================================================
// LEAVE BALANCES
// =============================================================================

func getBalance(ctx context.Context, q querier, key leave.BalanceKey, lock bool) (*leave.LeaveBalance, error) {
	query := `
		SELECT total_days::text, carried_over_days::text, used_days::text, pending_days::text, version, updated_at
		FROM leave_balances WHERE user_id = $1 AND year = $2 AND balance_type = $3`
	if lock {
		query += ` FOR UPDATE`
	}

	var (
		b                             leave.LeaveBalance
		total, carried, used, pending string
	)
	err := q.QueryRow(ctx, query, key.UserID, key.Year, key.BalanceType).
		Scan(&total, &carried, &used, &pending, &b.Version, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, generic.NotFound("leave_balance", key.String())
	}
	if err != nil {
		return nil, err
	}

	b.Key = key
	id := key.String()
	if b.TotalDays, err = parseAmount("leave_balance", id, total); err != nil {
		return nil, err
	}
	if b.CarriedOverDays, err = parseAmount("leave_balance", id, carried); err != nil {
		return nil, err
	}
	if b.UsedDays, err = parseAmount("leave_balance", id, used); err != nil {
		return nil, err
	}
	if b.PendingDays, err = parseAmount("leave_balance", id, pending); err != nil {
		return nil, err
	}
	return &b, nil
}

func insertBalance(ctx context.Context, q querier, b *leave.LeaveBalance) error {
	_, err := q.Exec(ctx, `
		INSERT INTO leave_balances (user_id, year, balance_type, total_days, carried_over_days, used_days, pending_days, version, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6::numeric, $7::numeric, 1, $8)`,
		b.Key.UserID, b.Key.Year, b.Key.BalanceType,
		b.TotalDays.String(), b.CarriedOverDays.String(), b.UsedDays.String(), b.PendingDays.String(),
		b.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("leave_balance %s: %w", b.Key, generic.ErrConcurrentModification)
	}
	if err != nil {
		return err
	}
	b.Version = 1
	return nil
}

func updateBalance(ctx context.Context, q querier, b *leave.LeaveBalance) error {
	tag, err := q.Exec(ctx, `
		UPDATE leave_balances SET
			total_days = $1::numeric, carried_over_days = $2::numeric, used_days = $3::numeric,
			pending_days = $4::numeric, updated_at = $5, version = version + 1
		WHERE user_id = $6 AND year = $7 AND balance_type = $8 AND version = $9`,
		b.TotalDays.String(), b.CarriedOverDays.String(), b.UsedDays.String(), b.PendingDays.String(),
		b.UpdatedAt,
		b.Key.UserID, b.Key.Year, b.Key.BalanceType, b.Version,
	)
	if err != nil {
		return err
	}
	if err := checkAffected(ctx, q, tag, "leave_balance", b.Key.String(),
		`SELECT 1 FROM leave_balances WHERE user_id = $1 AND year = $2 AND balance_type = $3`,
		b.Key.UserID, b.Key.Year, b.Key.BalanceType); err != nil {
		return err
	}
	b.Version++
	return nil
}

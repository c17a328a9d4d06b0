package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// LEAVE REQUESTS
// =============================================================================

const requestColumns = `id, owner_id, leave_type_id, start_date, end_date, start_half_day, end_half_day,
	total_days, status, reason, exceptional_reason, attachments, is_company_closure, balance_reserved,
	reserved_year, reserved_balance_type, reserved_days, version, created_at, updated_at, submitted_at`

func getRequest(ctx context.Context, q querier, id string) (*leave.LeaveRequest, error) {
	row := q.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM leave_requests WHERE id = ?`, id)

	var (
		r                    leave.LeaveRequest
		start, end, total    string
		reservedDays         string
		attachments          string
		closure, reserved    int
		createdAt, updatedAt string
		submittedAt          sql.NullString
	)
	err := row.Scan(&r.ID, &r.OwnerID, &r.LeaveTypeID, &start, &end, &r.StartHalfDay, &r.EndHalfDay,
		&total, &r.Status, &r.Reason, &r.ExceptionalReason, &attachments, &closure, &reserved,
		&r.ReservedKey.Year, &r.ReservedKey.BalanceType, &reservedDays, &r.Version, &createdAt, &updatedAt, &submittedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.NotFound("leave_request", id)
	}
	if err != nil {
		return nil, err
	}

	if r.StartDate, err = parseDate(start); err != nil {
		return nil, err
	}
	if r.EndDate, err = parseDate(end); err != nil {
		return nil, err
	}
	if r.TotalDays, err = generic.ParseAmount(total); err != nil {
		return nil, err
	}
	if attachments != "" {
		if err := json.Unmarshal([]byte(attachments), &r.Attachments); err != nil {
			return nil, fmt.Errorf("corrupt attachments on %s: %w", id, err)
		}
	}
	r.IsCompanyClosure = closure == 1
	r.BalanceReserved = reserved == 1
	if r.ReservedDays, err = generic.ParseAmount(reservedDays); err != nil {
		return nil, err
	}
	if r.BalanceReserved {
		r.ReservedKey.UserID = r.OwnerID
	}
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	r.SubmittedAt = parseNullTime(submittedAt)
	return &r, nil
}

func encodeAttachments(list []string) (string, error) {
	if len(list) == 0 {
		return "", nil
	}
	b, err := json.Marshal(list)
	return string(b), err
}

func insertRequest(ctx context.Context, q querier, r *leave.LeaveRequest) error {
	attachments, err := encodeAttachments(r.Attachments)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `INSERT INTO leave_requests (`+requestColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.OwnerID, r.LeaveTypeID, r.StartDate.String(), r.EndDate.String(),
		string(r.StartHalfDay), string(r.EndHalfDay), r.TotalDays.String(), string(r.Status),
		r.Reason, r.ExceptionalReason, attachments, boolInt(r.IsCompanyClosure), boolInt(r.BalanceReserved),
		r.ReservedKey.Year, r.ReservedKey.BalanceType, r.ReservedDays.String(),
		1, formatTime(r.CreatedAt), formatTime(r.UpdatedAt), nullTime(r.SubmittedAt),
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("leave_request %s: %w", r.ID, generic.ErrConcurrentModification)
	}
	if err != nil {
		return err
	}
	r.Version = 1
	return nil
}

func updateRequest(ctx context.Context, q querier, r *leave.LeaveRequest) error {
	attachments, err := encodeAttachments(r.Attachments)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, `
		UPDATE leave_requests SET
			leave_type_id = ?, start_date = ?, end_date = ?, start_half_day = ?, end_half_day = ?,
			total_days = ?, status = ?, reason = ?, exceptional_reason = ?, attachments = ?,
			is_company_closure = ?, balance_reserved = ?,
			reserved_year = ?, reserved_balance_type = ?, reserved_days = ?, updated_at = ?, submitted_at = ?,
			version = version + 1
		WHERE id = ? AND version = ?`,
		r.LeaveTypeID, r.StartDate.String(), r.EndDate.String(), string(r.StartHalfDay), string(r.EndHalfDay),
		r.TotalDays.String(), string(r.Status), r.Reason, r.ExceptionalReason, attachments,
		boolInt(r.IsCompanyClosure), boolInt(r.BalanceReserved),
		r.ReservedKey.Year, r.ReservedKey.BalanceType, r.ReservedDays.String(),
		formatTime(r.UpdatedAt), nullTime(r.SubmittedAt),
		r.ID, r.Version,
	)
	if err != nil {
		return err
	}
	if err := checkAffected(ctx, q, res, "leave_request", r.ID,
		`SELECT 1 FROM leave_requests WHERE id = ?`, r.ID); err != nil {
		return err
	}
	r.Version++
	return nil
}

// =============================================================================
// APPROVAL STEPS
// =============================================================================

func listSteps(ctx context.Context, q querier, requestID string) ([]leave.ApprovalStep, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, request_id, step_type, step_order, is_required, approver_id, action, comment, decided_at, on_behalf_of
		FROM approval_steps WHERE request_id = ?
		ORDER BY CASE step_type WHEN 'MANAGER' THEN 0 ELSE 1 END, step_order, id`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []leave.ApprovalStep
	for rows.Next() {
		var (
			s         leave.ApprovalStep
			required  int
			action    sql.NullString
			decidedAt sql.NullString
		)
		if err := rows.Scan(&s.ID, &s.RequestID, &s.StepType, &s.StepOrder, &required, &s.ApproverID,
			&action, &s.Comment, &decidedAt, &s.OnBehalfOf); err != nil {
			return nil, err
		}
		s.IsRequired = required == 1
		if action.Valid {
			a := leave.Action(action.String)
			s.Action = &a
		}
		s.DecidedAt = parseNullTime(decidedAt)
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

func replaceSteps(ctx context.Context, q querier, requestID string, steps []leave.ApprovalStep) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM approval_steps WHERE request_id = ?`, requestID); err != nil {
		return err
	}
	for _, s := range steps {
		_, err := q.ExecContext(ctx, `
			INSERT INTO approval_steps (id, request_id, step_type, step_order, is_required, approver_id, action, comment, decided_at, on_behalf_of)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			s.ID, requestID, string(s.StepType), s.StepOrder, boolInt(s.IsRequired), s.ApproverID,
			nullAction(s.Action), s.Comment, nullTime(s.DecidedAt), s.OnBehalfOf,
		)
		if err != nil {
			return fmt.Errorf("insert step %s: %w", s.ID, err)
		}
	}
	return nil
}

func updateStep(ctx context.Context, q querier, s leave.ApprovalStep) error {
	res, err := q.ExecContext(ctx, `
		UPDATE approval_steps SET approver_id = ?, action = ?, comment = ?, decided_at = ?, on_behalf_of = ?
		WHERE id = ? AND request_id = ?`,
		s.ApproverID, nullAction(s.Action), s.Comment, nullTime(s.DecidedAt), s.OnBehalfOf,
		s.ID, s.RequestID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return generic.NotFound("approval_step", s.ID)
	}
	return nil
}

func nullAction(a *leave.Action) sql.NullString {
	if a == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*a), Valid: true}
}

// =============================================================================
// LEAVE TYPES
// =============================================================================

func getLeaveType(ctx context.Context, q querier, id string) (*leave.LeaveType, error) {
	var (
		lt              leave.LeaveType
		deducts, exempt int
	)
	err := q.QueryRowContext(ctx,
		`SELECT id, name, deducts_balance, balance_exempt, balance_type FROM leave_types WHERE id = ?`, id,
	).Scan(&lt.ID, &lt.Name, &deducts, &exempt, &lt.BalanceType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.NotFound("leave_type", id)
	}
	if err != nil {
		return nil, err
	}
	lt.DeductsBalance = deducts == 1
	lt.BalanceExempt = exempt == 1
	return &lt, nil
}

// =============================================================================
// LEAVE BALANCES
// =============================================================================

func getBalance(ctx context.Context, q querier, key leave.BalanceKey) (*leave.LeaveBalance, error) {
	var (
		b                            leave.LeaveBalance
		total, carried, used, pendng string
		updatedAt                    string
	)
	err := q.QueryRowContext(ctx, `
		SELECT total_days, carried_over_days, used_days, pending_days, version, updated_at
		FROM leave_balances WHERE user_id = ? AND year = ? AND balance_type = ?`,
		key.UserID, key.Year, key.BalanceType,
	).Scan(&total, &carried, &used, &pendng, &b.Version, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.NotFound("leave_balance", key.String())
	}
	if err != nil {
		return nil, err
	}

	b.Key = key
	for _, f := range []struct {
		dst *generic.Amount
		src string
	}{
		{&b.TotalDays, total}, {&b.CarriedOverDays, carried}, {&b.UsedDays, used}, {&b.PendingDays, pendng},
	} {
		if *f.dst, err = generic.ParseAmount(f.src); err != nil {
			return nil, fmt.Errorf("corrupt balance %s: %w", key, err)
		}
	}
	b.UpdatedAt = parseTime(updatedAt)
	return &b, nil
}

func insertBalance(ctx context.Context, q querier, b *leave.LeaveBalance) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO leave_balances (user_id, year, balance_type, total_days, carried_over_days, used_days, pending_days, version, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?)`,
		b.Key.UserID, b.Key.Year, b.Key.BalanceType,
		b.TotalDays.String(), b.CarriedOverDays.String(), b.UsedDays.String(), b.PendingDays.String(),
		formatTime(b.UpdatedAt),
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("leave_balance %s: %w", b.Key, generic.ErrConcurrentModification)
	}
	if err != nil {
		return err
	}
	b.Version = 1
	return nil
}

func updateBalance(ctx context.Context, q querier, b *leave.LeaveBalance) error {
	res, err := q.ExecContext(ctx, `
		UPDATE leave_balances SET
			total_days = ?, carried_over_days = ?, used_days = ?, pending_days = ?, updated_at = ?,
			version = version + 1
		WHERE user_id = ? AND year = ? AND balance_type = ? AND version = ?`,
		b.TotalDays.String(), b.CarriedOverDays.String(), b.UsedDays.String(), b.PendingDays.String(),
		formatTime(b.UpdatedAt),
		b.Key.UserID, b.Key.Year, b.Key.BalanceType, b.Version,
	)
	if err != nil {
		return err
	}
	if err := checkAffected(ctx, q, res, "leave_balance", b.Key.String(),
		`SELECT 1 FROM leave_balances WHERE user_id = ? AND year = ? AND balance_type = ?`,
		b.Key.UserID, b.Key.Year, b.Key.BalanceType); err != nil {
		return err
	}
	b.Version++
	return nil
}

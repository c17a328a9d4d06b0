/*
ledger.go - Balance ledger movements

PURPOSE:
  The three movements a transition may apply to a LeaveBalance row, and the
  single code path that reads, mutates and conditionally writes the row
  inside the caller's transaction.

MOVEMENTS:
  Reserve: pendingDays += days                      (submit)
  Consume: pendingDays -= days, usedDays += days    (final approval)
  Release: pendingDays -= days                      (refuse, return, cancel)

  A request remembers the row and amount it reserved. Consume and Release
  settle that hold as recorded; a new Reserve on a request that still holds
  one releases the old hold first.

  remaining = totalDays + carriedOverDays - usedDays - pendingDays is always
  derived. A movement that would drive pendingDays or usedDays below zero is
  rejected with ErrBalanceUnderflow and nothing is written.

SEE ALSO:
  - store.go: UpdateBalance is version-checked
  - provision.go: creates rows
*/
package leave

import (
	"context"
	"fmt"
	"time"

	"github.com/warp/leave-engine/generic"
)

type Movement string

const (
	MoveReserve Movement = "reserve"
	MoveConsume Movement = "consume"
	MoveRelease Movement = "release"
)

// Apply mutates b in place. b is left unchanged on error.
func (m Movement) Apply(b *LeaveBalance, days generic.Amount) error {
	if days.IsNegative() {
		return fmt.Errorf("%w: negative movement %s", generic.ErrInvalidInput, days)
	}
	pending, used := b.PendingDays, b.UsedDays
	switch m {
	case MoveReserve:
		pending = pending.Add(days)
	case MoveConsume:
		pending = pending.Sub(days)
		used = used.Add(days)
	case MoveRelease:
		pending = pending.Sub(days)
	default:
		return fmt.Errorf("%w: unknown movement %q", generic.ErrInvalidInput, m)
	}
	if pending.IsNegative() {
		return &generic.UnderflowError{Counter: "pending_days", Current: b.PendingDays, Delta: days.Neg()}
	}
	b.PendingDays, b.UsedDays = pending, used
	return nil
}

// moveBalance applies m to the row under key within tx.
func moveBalance(ctx context.Context, tx Tx, key BalanceKey, m Movement, days generic.Amount, now time.Time) (*LeaveBalance, error) {
	b, err := tx.GetBalance(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%s balance: %w", m, err)
	}
	if err := m.Apply(b, days); err != nil {
		return nil, err
	}
	b.UpdatedAt = now
	if err := tx.UpdateBalance(ctx, b); err != nil {
		return nil, fmt.Errorf("%s balance: %w", m, err)
	}
	return b, nil
}

// reserveFor places a hold of days on key for r. A hold r still carries
// (left in place by an exempt decision) is released first, so a request
// never holds more than one reservation.
func reserveFor(ctx context.Context, tx Tx, r *LeaveRequest, key BalanceKey, days generic.Amount, now time.Time) error {
	if r.BalanceReserved {
		if _, err := moveBalance(ctx, tx, r.ReservedKey, MoveRelease, r.ReservedDays, now); err != nil {
			return err
		}
		r.clearReservation()
	}
	if _, err := moveBalance(ctx, tx, key, MoveReserve, days, now); err != nil {
		return err
	}
	r.BalanceReserved, r.ReservedKey, r.ReservedDays = true, key, days
	return nil
}

// settleReservation consumes or releases the hold r carries and clears it.
func settleReservation(ctx context.Context, tx Tx, r *LeaveRequest, m Movement, now time.Time) error {
	if !r.BalanceReserved {
		return nil
	}
	if _, err := moveBalance(ctx, tx, r.ReservedKey, m, r.ReservedDays, now); err != nil {
		return err
	}
	r.clearReservation()
	return nil
}

func (r *LeaveRequest) clearReservation() {
	r.BalanceReserved, r.ReservedKey, r.ReservedDays = false, BalanceKey{}, generic.ZeroDays()
}

// BalanceKeyFor is the row a request of leave type lt books against.
func BalanceKeyFor(r *LeaveRequest, lt *LeaveType) BalanceKey {
	return BalanceKey{UserID: r.OwnerID, Year: r.BalanceYear(), BalanceType: lt.BalanceType}
}

// String renders the key as user/year/type.
func (k BalanceKey) String() string {
	return fmt.Sprintf("%s/%d/%s", k.UserID, k.Year, k.BalanceType)
}

package leave

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/warp/leave-engine/generic"
)

// ProvisionInput describes a yearly balance row to create.
type ProvisionInput struct {
	UserID      string
	Year        int
	BalanceType string

	// AnnualDays is the full-year entitlement.
	AnnualDays generic.Amount
	// HireDate prorates AnnualDays when it falls inside Year. Zero means no proration.
	HireDate generic.TimePoint
	// CarryOverCap bounds the previous year's remaining days carried in;
	// nil means unlimited, zero disables carry-over.
	CarryOverCap *generic.Amount

	ActorID string
}

func (in ProvisionInput) key() BalanceKey {
	return BalanceKey{UserID: in.UserID, Year: in.Year, BalanceType: in.BalanceType}
}

func (in ProvisionInput) validate() error {
	switch {
	case in.UserID == "" || in.BalanceType == "":
		return fmt.Errorf("%w: user and balance type are required", generic.ErrInvalidInput)
	case in.Year < 1970 || in.Year > 9999:
		return fmt.Errorf("%w: year %d", generic.ErrInvalidInput, in.Year)
	case in.AnnualDays.IsNegative():
		return fmt.Errorf("%w: negative annual entitlement", generic.ErrInvalidInput)
	case in.CarryOverCap != nil && in.CarryOverCap.IsNegative():
		return fmt.Errorf("%w: negative carry-over cap", generic.ErrInvalidInput)
	}
	return nil
}

// Provision creates the (user, year, balance type) row if it does not exist.
// totalDays is the annual entitlement prorated from the hire date and rounded
// to half days; carriedOverDays is the capped, non-negative remaining of the
// previous year's row. An existing row is returned untouched with created=false.
func (s *Service) Provision(ctx context.Context, in ProvisionInput) (b *LeaveBalance, created bool, err error) {
	if err := in.validate(); err != nil {
		return nil, false, err
	}
	key := in.key()

	err = s.store.WithTx(ctx, func(tx Tx) error {
		existing, err := tx.GetBalance(ctx, key)
		if err == nil {
			b = existing
			return nil
		}
		if !errors.Is(err, generic.ErrNotFound) {
			return err
		}

		method := generic.ProrateLinear
		if in.HireDate.IsZero() {
			method = generic.ProrateNone
		}
		total := generic.ProRata(in.AnnualDays, in.Year, in.HireDate, method).RoundToHalf()

		carried := generic.ZeroDays()
		prevKey := key
		prevKey.Year--
		prev, err := tx.GetBalance(ctx, prevKey)
		switch {
		case err == nil:
			carried = generic.CarryOver(prev.Remaining(), in.CarryOverCap)
		case !errors.Is(err, generic.ErrNotFound):
			return err
		}

		b = &LeaveBalance{
			Key:             key,
			TotalDays:       total,
			CarriedOverDays: carried,
			UsedDays:        generic.ZeroDays(),
			PendingDays:     generic.ZeroDays(),
			UpdatedAt:       s.now(),
		}
		created = true
		return tx.InsertBalance(ctx, b)
	})
	if err != nil {
		return nil, false, err
	}

	if created {
		s.events.Audit(ctx, s.audit(in.ActorID, AuditBalanceProvisioned, EntityLeaveBalance, key.String(), nil, map[string]any{
			"totalDays":       b.TotalDays.String(),
			"carriedOverDays": b.CarriedOverDays.String(),
		}))
		s.logger.Info("leave balance provisioned",
			zap.String("balance", key.String()),
			zap.String("total_days", b.TotalDays.String()),
			zap.String("carried_over_days", b.CarriedOverDays.String()))
	}
	return b, created, nil
}

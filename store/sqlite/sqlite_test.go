package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/store/sqlite"
)

var clock = time.Date(2025, time.January, 2, 9, 0, 0, 0, time.UTC)

func jan(day int) generic.TimePoint { return generic.NewTimePoint(2025, time.January, day) }

func paidKey(user string) leave.BalanceKey {
	return leave.BalanceKey{UserID: user, Year: 2025, BalanceType: "PAID_LEAVE"}
}

// newStore opens a file-backed store in a temp dir and seeds office paris,
// team core managed by mgr, HR holder hr-a and 25 paid days for alice.
func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	ctx := context.Background()

	store, err := sqlite.New(filepath.Join(t.TempDir(), "leave.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.SaveLeaveType(ctx, leave.LeaveType{ID: "paid", Name: "Paid leave", DeductsBalance: true, BalanceType: "PAID_LEAVE"}))
	require.NoError(t, store.SaveOffice(ctx, "paris", "Paris", nil))
	require.NoError(t, store.SaveTeam(ctx, "core", "Core", "mgr"))
	require.NoError(t, store.SaveUser(ctx, leave.Placement{UserID: "alice", TeamID: "core", OfficeID: "paris"}, false))
	require.NoError(t, store.SaveUser(ctx, leave.Placement{UserID: "mgr", TeamID: "core", OfficeID: "paris"}, false))
	require.NoError(t, store.SaveUser(ctx, leave.Placement{UserID: "hr-a", OfficeID: "paris"}, true))
	require.NoError(t, store.SaveWorkflow(ctx, leave.WorkflowConfig{
		ID: "wf-core", Scope: leave.ScopeTeam, ScopeID: "core", IsActive: true,
		Steps: []leave.WorkflowStep{
			{StepOrder: 1, StepType: leave.StepManager, IsRequired: true},
			{StepOrder: 2, StepType: leave.StepHR, IsRequired: true},
		},
	}))
	require.NoError(t, store.SaveBalance(ctx, leave.LeaveBalance{Key: paidKey("alice"), TotalDays: generic.Days(25), UpdatedAt: clock}))
	return store
}

func newService(store *sqlite.Store) *leave.Service {
	return leave.NewService(store, leave.WithClock(func() time.Time { return clock }))
}

func draftFields() leave.RequestFields {
	return leave.RequestFields{
		LeaveTypeID:  "paid",
		StartDate:    jan(6),
		EndDate:      jan(10),
		StartHalfDay: generic.FullDay,
		EndHalfDay:   generic.FullDay,
		Reason:       "holiday",
		Attachments:  []string{"ticket.pdf"},
	}
}

// =============================================================================
// END TO END
// =============================================================================

func TestStore_FullApprovalFlow(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	svc := newService(store)

	// GIVEN: a five-day draft
	r, err := svc.Create(ctx, "alice", draftFields())
	require.NoError(t, err)

	// WHEN: it is submitted and approved by manager then HR
	status, err := svc.Submit(ctx, r.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, leave.StatusPendingManager, status)

	b, err := store.GetBalance(ctx, paidKey("alice"))
	require.NoError(t, err)
	assert.Equal(t, "5", b.PendingDays.String())

	held, err := store.GetRequest(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, held.BalanceReserved)
	assert.Equal(t, paidKey("alice"), held.ReservedKey)
	assert.Equal(t, "5", held.ReservedDays.String())

	status, err = svc.Decide(ctx, r.ID, "mgr", leave.ActionApproved, "")
	require.NoError(t, err)
	assert.Equal(t, leave.StatusPendingHR, status)

	status, err = svc.Decide(ctx, r.ID, "hr-a", leave.ActionApproved, "enjoy")
	require.NoError(t, err)
	assert.Equal(t, leave.StatusApproved, status)
	svc.Events().Wait()

	// THEN: the row round-trips and the ledger moved pending into used
	got, err := store.GetRequest(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, leave.StatusApproved, got.Status)
	assert.Equal(t, "5", got.TotalDays.String())
	assert.Equal(t, []string{"ticket.pdf"}, got.Attachments)
	assert.False(t, got.BalanceReserved)
	assert.True(t, got.ReservedDays.IsZero())
	require.NotNil(t, got.SubmittedAt)
	assert.True(t, got.SubmittedAt.Equal(clock))
	assert.True(t, got.StartDate.Equal(jan(6)))

	b, err = store.GetBalance(ctx, paidKey("alice"))
	require.NoError(t, err)
	assert.Equal(t, "0", b.PendingDays.String())
	assert.Equal(t, "5", b.UsedDays.String())
	assert.Equal(t, "20", b.Remaining().String())

	steps, err := store.ListSteps(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, leave.StepManager, steps[0].StepType)
	assert.Equal(t, leave.StepHR, steps[1].StepType)
	for _, s := range steps {
		require.NotNil(t, s.Action)
		assert.Equal(t, leave.ActionApproved, *s.Action)
		assert.NotNil(t, s.DecidedAt)
	}
	assert.Equal(t, "enjoy", steps[1].Comment)

	trail, err := store.ListAuditEvents(ctx, leave.EntityLeaveRequest, r.ID)
	require.NoError(t, err)
	var actions []leave.AuditAction
	for _, e := range trail {
		actions = append(actions, e.Action)
	}
	assert.ElementsMatch(t, []leave.AuditAction{
		leave.AuditLeaveCreated, leave.AuditLeaveSubmitted, leave.AuditLeaveApproved,
	}, actions)

	inbox, err := store.ListNotifications(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, leave.NotifyApproved, inbox[0].Kind)
	assert.Equal(t, r.ID, inbox[0].Payload["requestId"])

	hrInbox, err := store.ListNotifications(ctx, "hr-a")
	require.NoError(t, err)
	require.Len(t, hrInbox, 1)
	assert.Equal(t, leave.NotifyNewRequest, hrInbox[0].Kind)
}

func TestStore_ConcurrentCancelsSettleOnce(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	svc := newService(store)

	r, err := svc.Create(ctx, "alice", draftFields())
	require.NoError(t, err)
	_, err = svc.Submit(ctx, r.ID, "alice")
	require.NoError(t, err)

	// WHEN: the owner cancels twice at once
	var g errgroup.Group
	results := make([]error, 2)
	for i := range results {
		i := i
		g.Go(func() error {
			_, results[i] = svc.Cancel(ctx, r.ID, "alice")
			return nil
		})
	}
	require.NoError(t, g.Wait())

	// THEN: exactly one wins and the reservation is released once
	var wins int
	for _, err := range results {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, generic.ErrInvalidTransition)
	}
	assert.Equal(t, 1, wins)

	b, err := store.GetBalance(ctx, paidKey("alice"))
	require.NoError(t, err)
	assert.Equal(t, "0", b.PendingDays.String())
	assert.Equal(t, "0", b.UsedDays.String())
}

// =============================================================================
// CONDITIONAL UPDATES
// =============================================================================

func TestStore_UpdateRequestRejectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	r := &leave.LeaveRequest{
		ID: "req-1", OwnerID: "alice", LeaveTypeID: "paid",
		StartDate: jan(6), EndDate: jan(6),
		StartHalfDay: generic.FullDay, EndHalfDay: generic.FullDay,
		Status: leave.StatusDraft, CreatedAt: clock, UpdatedAt: clock,
	}
	require.NoError(t, store.WithTx(ctx, func(tx leave.Tx) error { return tx.InsertRequest(ctx, r) }))
	assert.Equal(t, int64(1), r.Version)

	stale := *r
	r.Reason = "first"
	require.NoError(t, store.WithTx(ctx, func(tx leave.Tx) error { return tx.UpdateRequest(ctx, r) }))
	assert.Equal(t, int64(2), r.Version)

	stale.Reason = "second"
	err := store.WithTx(ctx, func(tx leave.Tx) error { return tx.UpdateRequest(ctx, &stale) })
	require.ErrorIs(t, err, generic.ErrConcurrentModification)
	assert.Equal(t, int64(1), stale.Version, "a rejected write leaves the version alone")

	got, err := store.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, "first", got.Reason)

	// Inserting the same ID twice is a conflict, updating a missing one is not found
	dup := *r
	err = store.WithTx(ctx, func(tx leave.Tx) error { return tx.InsertRequest(ctx, &dup) })
	assert.ErrorIs(t, err, generic.ErrConcurrentModification)

	ghost := *r
	ghost.ID = "ghost"
	err = store.WithTx(ctx, func(tx leave.Tx) error { return tx.UpdateRequest(ctx, &ghost) })
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestStore_UpdateBalanceRejectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	first, err := store.GetBalance(ctx, paidKey("alice"))
	require.NoError(t, err)
	second := *first

	first.PendingDays = generic.Days(2)
	require.NoError(t, store.WithTx(ctx, func(tx leave.Tx) error { return tx.UpdateBalance(ctx, first) }))

	second.PendingDays = generic.Days(3)
	err = store.WithTx(ctx, func(tx leave.Tx) error { return tx.UpdateBalance(ctx, &second) })
	require.ErrorIs(t, err, generic.ErrConcurrentModification)

	got, err := store.GetBalance(ctx, paidKey("alice"))
	require.NoError(t, err)
	assert.Equal(t, "2", got.PendingDays.String())

	_, err = store.GetBalance(ctx, paidKey("nobody"))
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestStore_WithTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	boom := errors.New("boom")

	err := store.WithTx(ctx, func(tx leave.Tx) error {
		r := &leave.LeaveRequest{
			ID: "req-rollback", OwnerID: "alice", LeaveTypeID: "paid",
			StartDate: jan(6), EndDate: jan(6),
			StartHalfDay: generic.FullDay, EndHalfDay: generic.FullDay,
			Status: leave.StatusDraft, CreatedAt: clock, UpdatedAt: clock,
		}
		if err := tx.InsertRequest(ctx, r); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = store.GetRequest(ctx, "req-rollback")
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

// =============================================================================
// REFERENCE DATA
// =============================================================================

func TestStore_Calendar(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	week, err := store.WorkWeek(ctx, "nowhere")
	require.NoError(t, err)
	assert.Equal(t, generic.MondayToFriday().String(), week.String())

	fourDays, err := generic.ParseWorkWeek("1,2,3,4")
	require.NoError(t, err)
	require.NoError(t, store.SaveOffice(ctx, "lyon", "Lyon", fourDays))
	week, err = store.WorkWeek(ctx, "lyon")
	require.NoError(t, err)
	assert.Equal(t, "1,2,3,4", week.String())

	require.NoError(t, store.SaveHoliday(ctx, generic.Holiday{ID: "h1", OfficeID: "paris", Date: jan(8)}))
	require.NoError(t, store.SaveHoliday(ctx, generic.Holiday{ID: "h2", OfficeID: "lyon", Date: jan(9)}))
	require.NoError(t, store.SaveHoliday(ctx, generic.Holiday{ID: "h3", Date: jan(7)}))
	require.NoError(t, store.SaveHoliday(ctx, generic.Holiday{ID: "h4", OfficeID: "paris", Date: jan(20)}))
	require.NoError(t, store.SaveHoliday(ctx, generic.Holiday{ID: "h5", Date: generic.NewTimePoint(2020, time.May, 1), Recurring: true}))

	got, err := store.Holidays(ctx, "paris", generic.Period{Start: jan(6), End: jan(10)})
	require.NoError(t, err)
	var ids []string
	for _, h := range got {
		ids = append(ids, h.ID)
	}
	assert.ElementsMatch(t, []string{"h1", "h3", "h5"}, ids)
}

func TestStore_Directory(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	p, err := store.Placement(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, leave.Placement{UserID: "alice", TeamID: "core", OfficeID: "paris"}, p)

	_, err = store.Placement(ctx, "nobody")
	assert.ErrorIs(t, err, generic.ErrNotFound)

	mgr, err := store.TeamManager(ctx, "core")
	require.NoError(t, err)
	assert.Equal(t, "mgr", mgr)

	mgr, err = store.TeamManager(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, mgr)

	require.NoError(t, store.SaveUser(ctx, leave.Placement{UserID: "hr-0"}, true))
	hr, err := store.HRApprovers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"hr-0", "hr-a"}, hr)

	require.NoError(t, store.DeactivateUser(ctx, "hr-0"))
	hr, err = store.HRApprovers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"hr-a"}, hr)
}

func TestStore_WorkflowsAndDelegations(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	// An inactive template and a later ID never win over wf-core
	require.NoError(t, store.SaveWorkflow(ctx, leave.WorkflowConfig{ID: "wf-a", Scope: leave.ScopeTeam, ScopeID: "core"}))
	require.NoError(t, store.SaveWorkflow(ctx, leave.WorkflowConfig{ID: "wf-z", Scope: leave.ScopeTeam, ScopeID: "core", IsActive: true}))

	cfg, err := store.ActiveWorkflow(ctx, leave.ScopeTeam, "core")
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "wf-core", cfg.ID)
	require.Len(t, cfg.Steps, 2)
	assert.Equal(t, leave.StepManager, cfg.Steps[0].StepType)
	assert.True(t, cfg.Steps[1].IsRequired)

	cfg, err = store.ActiveWorkflow(ctx, leave.ScopeOffice, "paris")
	require.NoError(t, err)
	assert.Nil(t, cfg)

	d := leave.Delegation{ID: "d1", FromUser: "mgr", ToUser: "deputy", StartDate: jan(1), EndDate: jan(31), IsActive: true, CreatedBy: "mgr"}
	require.NoError(t, store.SaveDelegation(ctx, d))
	got, err := store.DelegationsTo(ctx, "deputy")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "mgr", got[0].FromUser)
	assert.True(t, got[0].ConfersAuthority(clock))
}

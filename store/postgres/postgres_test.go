package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

var clock = time.Date(2025, time.January, 2, 9, 0, 0, 0, time.UTC)

func jan(day int) generic.TimePoint { return generic.NewTimePoint(2025, time.January, day) }

func paidKey(user string) leave.BalanceKey {
	return leave.BalanceKey{UserID: user, Year: 2025, BalanceType: "PAID_LEAVE"}
}

// newTestStore connects to LEAVE_TEST_PGSQL_URL, empties every table and
// seeds team core (manager mgr, MANAGER then HR) with 25 paid days for alice.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("LEAVE_TEST_PGSQL_URL")
	if url == "" {
		t.Skip("LEAVE_TEST_PGSQL_URL not set")
	}
	ctx := context.Background()

	store, err := New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(store.Close)

	_, err = store.pool.Exec(ctx, `TRUNCATE leave_types, offices, teams, users, holidays, workflow_configs,
		workflow_steps, delegations, leave_requests, approval_steps, leave_balances, audit_log, notifications CASCADE`)
	require.NoError(t, err)

	require.NoError(t, store.SaveLeaveType(ctx, leave.LeaveType{ID: "paid", Name: "Paid leave", DeductsBalance: true, BalanceType: "PAID_LEAVE"}))
	require.NoError(t, store.SaveOffice(ctx, "paris", "Paris", nil))
	require.NoError(t, store.SaveTeam(ctx, "core", "Core", "mgr"))
	require.NoError(t, store.SaveUser(ctx, leave.Placement{UserID: "alice", TeamID: "core", OfficeID: "paris"}, false))
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

func TestPostgres_ApproveEndToEnd(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	svc := leave.NewService(store, leave.WithClock(func() time.Time { return clock }))

	r, err := svc.Create(ctx, "alice", leave.RequestFields{
		LeaveTypeID: "paid", StartDate: jan(6), EndDate: jan(7),
		StartHalfDay: generic.FullDay, EndHalfDay: generic.Morning,
	})
	require.NoError(t, err)
	assert.Equal(t, "1.5", r.TotalDays.String())

	_, err = svc.Submit(ctx, r.ID, "alice")
	require.NoError(t, err)
	_, err = svc.Decide(ctx, r.ID, "mgr", leave.ActionApproved, "")
	require.NoError(t, err)
	status, err := svc.Decide(ctx, r.ID, "hr-a", leave.ActionApproved, "")
	require.NoError(t, err)
	assert.Equal(t, leave.StatusApproved, status)
	svc.Events().Wait()

	b, err := store.GetBalance(ctx, paidKey("alice"))
	require.NoError(t, err)
	assert.Equal(t, "1.5", b.UsedDays.String())
	assert.Equal(t, "0", b.PendingDays.String())

	trail, err := store.ListAuditEvents(ctx, leave.EntityLeaveRequest, r.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, trail)

	inbox, err := store.ListNotifications(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, leave.NotifyApproved, inbox[0].Kind)
}

func TestPostgres_ConcurrentDecisionsSerialize(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	svc := leave.NewService(store, leave.WithClock(func() time.Time { return clock }))

	r, err := svc.Create(ctx, "alice", leave.RequestFields{
		LeaveTypeID: "paid", StartDate: jan(6), EndDate: jan(10),
		StartHalfDay: generic.FullDay, EndHalfDay: generic.FullDay,
	})
	require.NoError(t, err)
	_, err = svc.Submit(ctx, r.ID, "alice")
	require.NoError(t, err)

	// GIVEN: the manager approves while also refusing from another session
	var g errgroup.Group
	errs := make([]error, 2)
	actions := []leave.Action{leave.ActionApproved, leave.ActionRefused}
	for i, a := range actions {
		i, a := i, a
		g.Go(func() error {
			_, errs[i] = svc.Decide(ctx, r.ID, "mgr", a, "conflict")
			return nil
		})
	}
	require.NoError(t, g.Wait())

	// THEN: one decision lands, the other finds no decidable step or a moved status
	var wins int
	for _, err := range errs {
		if err == nil {
			wins++
		}
	}
	assert.Equal(t, 1, wins)

	got, err := store.GetRequest(ctx, r.ID)
	require.NoError(t, err)
	b, err := store.GetBalance(ctx, paidKey("alice"))
	require.NoError(t, err)
	switch got.Status {
	case leave.StatusPendingHR:
		assert.Equal(t, "5", b.PendingDays.String())
	case leave.StatusRefused:
		assert.Equal(t, "0", b.PendingDays.String())
	default:
		t.Fatalf("unexpected status %s", got.Status)
	}
}

func TestPostgres_StaleBalanceWriteRejected(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	first, err := store.GetBalance(ctx, paidKey("alice"))
	require.NoError(t, err)
	second := *first

	first.PendingDays = generic.Days(1)
	require.NoError(t, store.WithTx(ctx, func(tx leave.Tx) error { return tx.UpdateBalance(ctx, first) }))

	err = store.WithTx(ctx, func(tx leave.Tx) error { return tx.UpdateBalance(ctx, &second) })
	assert.ErrorIs(t, err, generic.ErrConcurrentModification)
}

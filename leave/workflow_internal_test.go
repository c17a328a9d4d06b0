package leave

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-engine/generic"
)

func mustDays(s string) generic.Amount { return generic.MustParseAmount(s) }

func step(id string, t StepType, order int, required bool, approver string) ApprovalStep {
	return ApprovalStep{ID: id, StepType: t, StepOrder: order, IsRequired: required, ApproverID: approver}
}

func decided(s ApprovalStep, a Action) ApprovalStep {
	s.Action = &a
	now := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	s.DecidedAt = &now
	return s
}

func ids(steps []ApprovalStep) []string {
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = s.ID
	}
	return out
}

func TestDecidableSteps_SequentialWithinType(t *testing.T) {
	steps := []ApprovalStep{
		step("m1", StepManager, 1, true, "lead"),
		step("m2", StepManager, 2, true, "head"),
		step("h1", StepHR, 3, true, "hr"),
	}

	// GIVEN: two required manager steps at orders 1 and 2
	// THEN: only order 1 is decidable
	assert.Equal(t, []string{"m1"}, ids(decidableSteps(steps, StepManager)))

	// WHEN: order 1 is approved
	steps[0] = decided(steps[0], ActionApproved)

	// THEN: order 2 opens, and a required manager step still blocks
	assert.Equal(t, []string{"m2"}, ids(decidableSteps(steps, StepManager)))
	assert.True(t, hasBlocking(steps, StepManager))
	assert.True(t, hasUndecided(steps, StepHR))
}

func TestDecidableSteps_ParallelPeers(t *testing.T) {
	steps := []ApprovalStep{
		step("m1", StepManager, 1, true, "lead"),
		step("m2", StepManager, 1, true, "deputy"),
	}
	assert.Equal(t, []string{"m1", "m2"}, ids(decidableSteps(steps, StepManager)))

	steps[1] = decided(steps[1], ActionApproved)
	assert.Equal(t, []string{"m1"}, ids(decidableSteps(steps, StepManager)))
	assert.True(t, hasBlocking(steps, StepManager))

	steps[0] = decided(steps[0], ActionApproved)
	assert.Empty(t, decidableSteps(steps, StepManager))
	assert.False(t, hasBlocking(steps, StepManager))
}

func TestDecidableSteps_OptionalStepsDoNotGate(t *testing.T) {
	steps := []ApprovalStep{
		step("m1", StepManager, 1, false, "lead"),
		step("m2", StepManager, 2, true, "head"),
	}

	// The optional order-1 step does not hold back order 2
	assert.Equal(t, []string{"m1", "m2"}, ids(decidableSteps(steps, StepManager)))

	steps[1] = decided(steps[1], ActionApproved)
	assert.False(t, hasBlocking(steps, StepManager), "only the optional step is left")
	assert.Equal(t, []string{"m1"}, ids(decidableSteps(steps, StepManager)))
}

func TestPickStep_PrefersOwnAssignment(t *testing.T) {
	candidates := []ApprovalStep{
		step("a", StepManager, 1, true, "boss"),
		step("b", StepManager, 1, true, "deputy"),
	}
	auth := Authority{Actor: "deputy", delegators: map[string]bool{"boss": true}}

	got, ok := pickStep(candidates, auth)
	require.True(t, ok)
	assert.Equal(t, "b", got.ID)

	// Without an own step, the delegated one is chosen
	got, ok = pickStep(candidates[:1], auth)
	require.True(t, ok)
	assert.Equal(t, "a", got.ID)

	_, ok = pickStep(candidates, Authority{Actor: "stranger"})
	assert.False(t, ok)
}

func TestApproveEvent(t *testing.T) {
	assert.Equal(t, EventApprovePeers, approveEvent(StepManager, true, true))
	assert.Equal(t, EventApproveToHR, approveEvent(StepManager, false, true))
	assert.Equal(t, EventApproveFinal, approveEvent(StepManager, false, false))
	assert.Equal(t, EventApprovePeers, approveEvent(StepHR, true, true))
	assert.Equal(t, EventApproveFinal, approveEvent(StepHR, false, false))

	assert.Equal(t, EventSubmitToManager, submitEvent(true, true))
	assert.Equal(t, EventSubmitToHR, submitEvent(false, true))
	assert.Equal(t, EventSubmitNoSteps, submitEvent(false, false))
}

func TestMovementApply(t *testing.T) {
	b := &LeaveBalance{}
	require.NoError(t, MoveReserve.Apply(b, mustDays("2.5")))
	assert.Equal(t, "2.5", b.PendingDays.String())

	require.NoError(t, MoveConsume.Apply(b, mustDays("2")))
	assert.Equal(t, "0.5", b.PendingDays.String())
	assert.Equal(t, "2", b.UsedDays.String())

	// Releasing more than is pending fails and leaves the row unchanged
	err := MoveRelease.Apply(b, mustDays("1"))
	require.Error(t, err)
	assert.Equal(t, "0.5", b.PendingDays.String())
	assert.Equal(t, "2", b.UsedDays.String())
}

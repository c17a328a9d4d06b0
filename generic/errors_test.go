package generic_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-engine/generic"
)

func TestErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		client   bool
		retry    bool
	}{
		{"not found", generic.NotFound("leave_request", "r1"), generic.ErrNotFound, false, false},
		{"transition", &generic.TransitionError{From: "APPROVED", Op: "cancel"}, generic.ErrInvalidTransition, false, false},
		{"approver", &generic.NotAuthorizedApproverError{RequestID: "r1", ActorID: "u9"}, generic.ErrUnauthorized, false, false},
		{"empty range", &generic.EmptyRangeError{Period: span(jan(4), jan(5))}, generic.ErrEmptyWorkingRange, true, false},
		{"comment", fmt.Errorf("refuse: %w", generic.ErrCommentRequired), generic.ErrCommentRequired, true, false},
		{"conflict", fmt.Errorf("update: %w", generic.ErrConcurrentModification), generic.ErrConcurrentModification, false, true},
		{"underflow", &generic.UnderflowError{Counter: "pending_days", Current: generic.Days(1), Delta: generic.Days(-2)}, generic.ErrBalanceUnderflow, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.err, tt.sentinel)
			assert.Equal(t, tt.client, generic.IsClientError(tt.err))
			assert.Equal(t, tt.retry, generic.IsRetryable(tt.err))
			assert.NotEmpty(t, tt.err.Error())
		})
	}

	assert.True(t, generic.IsNotFound(generic.NotFound("leave_balance", "u1/2025/PAID")))
}

func TestRetry(t *testing.T) {
	policy := generic.RetryPolicy{Attempts: 3, Backoff: time.Millisecond}

	t.Run("succeeds after conflicts", func(t *testing.T) {
		calls := 0
		err := generic.Retry(context.Background(), policy, func() error {
			calls++
			if calls < 3 {
				return generic.ErrConcurrentModification
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after the last attempt", func(t *testing.T) {
		calls := 0
		err := generic.Retry(context.Background(), policy, func() error {
			calls++
			return generic.ErrConcurrentModification
		})
		assert.ErrorIs(t, err, generic.ErrConcurrentModification)
		assert.Equal(t, 3, calls)
	})

	t.Run("does not retry other errors", func(t *testing.T) {
		calls := 0
		boom := errors.New("boom")
		err := generic.Retry(context.Background(), policy, func() error {
			calls++
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, calls)
	})

	t.Run("stops on cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		calls := 0
		err := generic.Retry(ctx, generic.RetryPolicy{Attempts: 5, Backoff: time.Hour}, func() error {
			calls++
			return generic.ErrConcurrentModification
		})
		assert.ErrorIs(t, err, generic.ErrConcurrentModification)
		assert.Equal(t, 1, calls)
	})
}

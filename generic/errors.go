/*
errors.go - Centralized error taxonomy for the leave engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Every domain failure is a typed error; nothing fails as a silent no-op.

ERROR CATEGORIES:
  1. Lookup errors      - NotFound
  2. Authority errors   - Unauthorized (owner or approver standing missing)
  3. Lifecycle errors   - InvalidTransition, CommentRequired
  4. Calendar errors    - EmptyWorkingRange, InvalidPeriod
  5. Concurrency errors - ConcurrentModification (optimistic-lock conflict)

USAGE:
  Callers match with errors.Is against the sentinels; structured errors carry
  the context and unwrap to their sentinel:

    if errors.Is(err, generic.ErrUnauthorized) { ... }

    var te *generic.TransitionError
    if errors.As(err, &te) { log(te.From, te.Op) }

RETRY POLICY:
  ConcurrentModification is the only retryable error (IsRetryable). The core
  never retries internally; see retry.go for the caller-side helper.

SEE ALSO:
  - retry.go: Bounded retry for retryable errors
  - api/handlers.go: Maps the taxonomy to HTTP status codes
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a referenced entity doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized is returned when the actor lacks ownership or approver standing.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidTransition is returned when the current status does not permit the operation.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrCommentRequired is returned when a refusal or return carries no comment.
	ErrCommentRequired = errors.New("comment required")

	// ErrEmptyWorkingRange is returned when a date range contains zero working days.
	ErrEmptyWorkingRange = errors.New("empty working range")

	// ErrConcurrentModification is returned when optimistic locking detects a conflict.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrInvalidPeriod is returned when a period is malformed (end before start).
	ErrInvalidPeriod = errors.New("invalid period: end before start")

	// ErrInvalidInput is returned for malformed operation arguments.
	ErrInvalidInput = errors.New("invalid input")

	// ErrBalanceUnderflow is returned when a ledger mutation would drive a
	// stored counter below zero.
	ErrBalanceUnderflow = errors.New("balance counter would become negative")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError names the missing entity.
type NotFoundError struct {
	Kind string // e.g. "leave_request", "leave_balance"
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %s not found", e.Kind, e.ID) }
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NotFound builds a NotFoundError.
func NotFound(kind, id string) error { return &NotFoundError{Kind: kind, ID: id} }

// TransitionError reports an operation the current status does not allow.
type TransitionError struct {
	From string
	Op   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s not allowed from %s", e.Op, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// NotAuthorizedApproverError is returned when no undecided step of the
// current type is assigned to the actor or to anyone the actor may act for.
type NotAuthorizedApproverError struct {
	RequestID string
	ActorID   string
}

func (e *NotAuthorizedApproverError) Error() string {
	return fmt.Sprintf("actor %s is not an authorized approver for request %s", e.ActorID, e.RequestID)
}

func (e *NotAuthorizedApproverError) Unwrap() error { return ErrUnauthorized }

// EmptyRangeError carries the period that produced zero working days.
type EmptyRangeError struct {
	Period Period
}

func (e *EmptyRangeError) Error() string {
	return fmt.Sprintf("no working days in %s", e.Period)
}

func (e *EmptyRangeError) Unwrap() error { return ErrEmptyWorkingRange }

// UnderflowError provides details about a ledger counter that would go negative.
type UnderflowError struct {
	Counter string // "pending_days" or "used_days"
	Current Amount
	Delta   Amount
}

func (e *UnderflowError) Error() string {
	return fmt.Sprintf("%s would become negative: current %v, delta %v", e.Counter, e.Current, e.Delta)
}

func (e *UnderflowError) Unwrap() error { return ErrBalanceUnderflow }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrCommentRequired) ||
		errors.Is(err, ErrEmptyWorkingRange) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrInvalidInput)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

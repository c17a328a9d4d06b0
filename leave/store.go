/*
store.go - Persistence and collaborator interfaces for the leave core

PURPOSE:
  Defines the boundary between the state machine and everything it reads
  or writes. The core owns LeaveRequest, ApprovalStep and LeaveBalance
  writes; directory, calendar, workflow templates and delegations are
  read-only collaborators managed elsewhere.

KEY INTERFACES:
  Store:            Reads outside a transaction + WithTx
  Tx:               Everything a transition reads and writes atomically
  Directory:        Team/office placement, team managers, HR holders
  Calendar:         Office work week and holidays
  WorkflowSource:   Active workflow templates per scope
  DelegationSource: Delegations granted to an identity
  AuditSink:        Best-effort audit trail
  NotificationSink: Best-effort notification trigger

CONDITIONAL UPDATES:
  UpdateRequest and UpdateBalance write only when the stored Version equals
  the Version carried by the argument, then increment it (also on the
  argument). A mismatch returns ErrConcurrentModification and writes
  nothing.

LOCKING RULE:
  Inside WithTx only the Tx may be used. Implementations are free to hold a
  store-wide lock for the duration of fn.

IMPLEMENTATIONS:
  - store/memory: In-memory, for tests and development
  - store/sqlite: Embedded SQLite
  - store/postgres: PostgreSQL with row locks

SEE ALSO:
  - service.go: The only writer
*/
package leave

import (
	"context"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// STORE - Transactional persistence of the four core entities
// =============================================================================

type Store interface {
	GetRequest(ctx context.Context, id string) (*LeaveRequest, error)
	ListSteps(ctx context.Context, requestID string) ([]ApprovalStep, error)
	GetBalance(ctx context.Context, key BalanceKey) (*LeaveBalance, error)
	GetLeaveType(ctx context.Context, id string) (*LeaveType, error)

	// WithTx runs fn in a transaction: committed when fn returns nil,
	// rolled back otherwise.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

type Tx interface {
	GetRequest(ctx context.Context, id string) (*LeaveRequest, error)
	InsertRequest(ctx context.Context, r *LeaveRequest) error
	UpdateRequest(ctx context.Context, r *LeaveRequest) error

	ListSteps(ctx context.Context, requestID string) ([]ApprovalStep, error)
	// ReplaceSteps deletes every step of the request and inserts steps.
	ReplaceSteps(ctx context.Context, requestID string, steps []ApprovalStep) error
	UpdateStep(ctx context.Context, step ApprovalStep) error

	GetLeaveType(ctx context.Context, id string) (*LeaveType, error)

	GetBalance(ctx context.Context, key BalanceKey) (*LeaveBalance, error)
	InsertBalance(ctx context.Context, b *LeaveBalance) error
	UpdateBalance(ctx context.Context, b *LeaveBalance) error
}

// =============================================================================
// READ-ONLY COLLABORATORS
// =============================================================================

type Directory interface {
	Placement(ctx context.Context, userID string) (Placement, error)
	// TeamManager returns "" when the team has no manager.
	TeamManager(ctx context.Context, teamID string) (string, error)
	// HRApprovers returns every active identity holding the HR capability.
	HRApprovers(ctx context.Context) ([]string, error)
}

type Calendar interface {
	WorkWeek(ctx context.Context, officeID string) (generic.WorkWeek, error)
	Holidays(ctx context.Context, officeID string, p generic.Period) ([]generic.Holiday, error)
}

type WorkflowSource interface {
	// ActiveWorkflow returns nil, nil when the scope has no active template.
	ActiveWorkflow(ctx context.Context, scope ScopeKind, scopeID string) (*WorkflowConfig, error)
}

type DelegationSource interface {
	DelegationsTo(ctx context.Context, toUser string) ([]Delegation, error)
}

// =============================================================================
// SINKS - Fire-and-forget, failures never reach the caller
// =============================================================================

type AuditSink interface {
	RecordAudit(ctx context.Context, e AuditEvent) error
}

type NotificationSink interface {
	Notify(ctx context.Context, n Notification) error
}

// Backend bundles everything a Service needs. Every store adapter in this
// module implements it.
type Backend interface {
	Store
	Directory
	Calendar
	WorkflowSource
	DelegationSource
	AuditSink
	NotificationSink
}

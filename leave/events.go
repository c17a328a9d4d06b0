/*
events.go - Audit and notification triggers

PURPOSE:
  Transitions emit audit entries and notification triggers after they
  commit. Delivery is fire-and-forget: every emit runs on its own
  goroutine, a failing or panicking sink is logged and discarded, and the
  transition result never depends on it.

CONTEXT:
  Emits detach from the caller's cancellation (context.WithoutCancel) so an
  HTTP request finishing does not abort the sink call.

SHUTDOWN:
  Wait blocks until in-flight emits return. cmd/server calls it after the
  HTTP server has drained.
*/
package leave

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// AUDIT
// =============================================================================

type AuditAction string

const (
	AuditLeaveCreated       AuditAction = "LEAVE_CREATED"
	AuditLeaveEdited        AuditAction = "LEAVE_EDITED"
	AuditLeaveSubmitted     AuditAction = "LEAVE_SUBMITTED"
	AuditLeaveApproved      AuditAction = "LEAVE_APPROVED"
	AuditLeaveRefused       AuditAction = "LEAVE_REFUSED"
	AuditLeaveReturned      AuditAction = "LEAVE_RETURNED"
	AuditLeaveCancelled     AuditAction = "LEAVE_CANCELLED"
	AuditStepDecided        AuditAction = "STEP_DECIDED"
	AuditBalanceProvisioned AuditAction = "BALANCE_PROVISIONED"
)

const (
	EntityLeaveRequest = "LeaveRequest"
	EntityApprovalStep = "ApprovalStep"
	EntityLeaveBalance = "LeaveBalance"
)

// AuditEvent is {actorId, action, entityType, entityId, oldValue?, newValue?}.
type AuditEvent struct {
	ID         string
	ActorID    string
	Action     AuditAction
	EntityType string
	EntityID   string
	OldValue   map[string]any
	NewValue   map[string]any
	OnBehalfOf string
	At         time.Time
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

type TemplateKind string

const (
	NotifyNewRequest TemplateKind = "NEW_REQUEST"
	NotifyApproved   TemplateKind = "APPROVED"
	NotifyRefused    TemplateKind = "REFUSED"
	NotifyReturned   TemplateKind = "RETURNED"
)

type Notification struct {
	ID           string
	RecipientIDs []string
	Kind         TemplateKind
	Payload      map[string]any
	At           time.Time
}

// =============================================================================
// DISPATCHER
// =============================================================================

type Dispatcher struct {
	audit  AuditSink
	notify NotificationSink
	logger *zap.Logger
	wg     sync.WaitGroup
}

// NewDispatcher accepts nil sinks; emits to a nil sink are dropped.
func NewDispatcher(audit AuditSink, notify NotificationSink, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{audit: audit, notify: notify, logger: logger}
}

func (d *Dispatcher) Audit(ctx context.Context, e AuditEvent) {
	if d.audit == nil {
		return
	}
	d.run(ctx, "audit", []zap.Field{
		zap.String("action", string(e.Action)),
		zap.String("entity_id", e.EntityID),
	}, func(ctx context.Context) error {
		return d.audit.RecordAudit(ctx, e)
	})
}

func (d *Dispatcher) Notify(ctx context.Context, n Notification) {
	if d.notify == nil || len(n.RecipientIDs) == 0 {
		return
	}
	d.run(ctx, "notification", []zap.Field{
		zap.String("kind", string(n.Kind)),
		zap.Strings("recipients", n.RecipientIDs),
	}, func(ctx context.Context) error {
		return d.notify.Notify(ctx, n)
	})
}

// Wait blocks until every emit started so far has returned.
func (d *Dispatcher) Wait() { d.wg.Wait() }

func (d *Dispatcher) run(ctx context.Context, sink string, fields []zap.Field, fn func(context.Context) error) {
	ctx = context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error(sink+" sink panicked", append(fields, zap.String("panic", fmt.Sprint(r)))...)
			}
		}()
		if err := fn(ctx); err != nil {
			d.logger.Warn(sink+" sink failed", append(fields, zap.Error(err))...)
		}
	}()
}

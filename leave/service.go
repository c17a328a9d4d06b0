/*
service.go - Leave request operations

PURPOSE:
  The only writer of requests, steps and balances. Each operation reads its
  collaborators (calendar, directory, workflow templates, delegations)
  first, then performs every check and write in one store transaction, and
  emits audit and notification triggers after commit.

OPERATIONS:
  Create(owner, fields)                 → DRAFT request
  Edit(request, actor, fields)          → status (DRAFT or RETURNED)
  Submit(request, actor)                → PENDING_MANAGER | PENDING_HR | APPROVED
  Decide(request, actor, action, note)  → next status
  Cancel(request, actor)                → CANCELLED
  ComputeWorkingDays(office, range)     → day count

ATOMICITY:
  A failed operation writes nothing. Ledger movements run in the same
  transaction as the status change they belong to; the request row and the
  balance row are both version-checked.

RETRIES:
  The service never retries. ErrConcurrentModification reaches the caller,
  which may retry with generic.Retry.

SEE ALSO:
  - lifecycle.go: transition table
  - ledger.go: balance movements
  - events.go: post-commit triggers
*/
package leave

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	store       Store
	directory   Directory
	calendar    Calendar
	workflows   *WorkflowResolver
	delegations *DelegationResolver
	events      *Dispatcher
	logger      *zap.Logger
	now         func() time.Time
	newID       func() string
}

type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator replaces uuid.NewString for request, step and event ids.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService wires a Service to a backend.
func NewService(b Backend, opts ...Option) *Service {
	s := &Service{
		store:       b,
		directory:   b,
		calendar:    b,
		workflows:   NewWorkflowResolver(b, b),
		delegations: NewDelegationResolver(b),
		logger:      zap.NewNop(),
		now:         time.Now,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.events = NewDispatcher(b, b, s.logger)
	return s
}

// Events exposes the dispatcher so callers can Wait on shutdown.
func (s *Service) Events() *Dispatcher { return s.events }

// =============================================================================
// WORKING DAYS
// =============================================================================

// ComputeWorkingDays counts the leave days of p for an office. It reads the
// calendar and writes nothing.
func (s *Service) ComputeWorkingDays(ctx context.Context, officeID string, p generic.Period, startHalf, endHalf generic.HalfDayMarker) (generic.Amount, error) {
	if err := p.Validate(); err != nil {
		return generic.Amount{}, err
	}
	week, err := s.calendar.WorkWeek(ctx, officeID)
	if err != nil {
		return generic.Amount{}, fmt.Errorf("work week of office %s: %w", officeID, err)
	}
	holidays, err := s.calendar.Holidays(ctx, officeID, p)
	if err != nil {
		return generic.Amount{}, fmt.Errorf("holidays of office %s: %w", officeID, err)
	}
	return generic.WorkingDays(p, startHalf, endHalf, week, generic.NewHolidaySet(holidays))
}

func (s *Service) daysFor(ctx context.Context, ownerID string, p generic.Period, startHalf, endHalf generic.HalfDayMarker) (generic.Amount, error) {
	placement, err := s.directory.Placement(ctx, ownerID)
	if err != nil {
		return generic.Amount{}, fmt.Errorf("placement of %s: %w", ownerID, err)
	}
	return s.ComputeWorkingDays(ctx, placement.OfficeID, p, startHalf, endHalf)
}

// =============================================================================
// CREATE / EDIT
// =============================================================================

// Create stores a new DRAFT request owned by ownerID.
func (s *Service) Create(ctx context.Context, ownerID string, f RequestFields) (*LeaveRequest, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner is required", generic.ErrInvalidInput)
	}
	if _, err := s.store.GetLeaveType(ctx, f.LeaveTypeID); err != nil {
		return nil, err
	}
	days, err := s.daysFor(ctx, ownerID, f.period(), f.StartHalfDay, f.EndHalfDay)
	if err != nil {
		return nil, err
	}

	now := s.now()
	r := &LeaveRequest{
		ID:        s.newID(),
		OwnerID:   ownerID,
		Status:    StatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	f.applyTo(r)
	r.TotalDays = days

	if err := s.store.WithTx(ctx, func(tx Tx) error {
		return tx.InsertRequest(ctx, r)
	}); err != nil {
		return nil, err
	}

	s.events.Audit(ctx, s.audit(ownerID, AuditLeaveCreated, EntityLeaveRequest, r.ID, nil, requestState(r)))
	s.logger.Debug("leave request created", zap.String("request_id", r.ID), zap.String("owner_id", ownerID))
	return r, nil
}

// Edit replaces the owner-editable fields of a DRAFT or RETURNED request and
// recomputes its day count. Steps and the ledger are not touched.
func (s *Service) Edit(ctx context.Context, requestID, actorID string, f RequestFields) (Status, error) {
	current, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return "", err
	}
	if err := checkOwner(current, actorID); err != nil {
		return "", err
	}
	if _, err := Next(current.Status, EventEdit); err != nil {
		return "", err
	}
	if _, err := s.store.GetLeaveType(ctx, f.LeaveTypeID); err != nil {
		return "", err
	}
	days, err := s.daysFor(ctx, current.OwnerID, f.period(), f.StartHalfDay, f.EndHalfDay)
	if err != nil {
		return "", err
	}

	var before, after map[string]any
	var status Status
	err = s.store.WithTx(ctx, func(tx Tx) error {
		r, err := tx.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if err := checkOwner(r, actorID); err != nil {
			return err
		}
		to, err := Next(r.Status, EventEdit)
		if err != nil {
			return err
		}
		before = requestState(r)

		f.applyTo(r)
		r.TotalDays = days
		r.Status = to
		r.UpdatedAt = s.now()
		if err := tx.UpdateRequest(ctx, r); err != nil {
			return err
		}
		after, status = requestState(r), r.Status
		return nil
	})
	if err != nil {
		return "", err
	}

	s.events.Audit(ctx, s.audit(actorID, AuditLeaveEdited, EntityLeaveRequest, requestID, before, after))
	return status, nil
}

// =============================================================================
// SUBMIT
// =============================================================================

// Submit moves a DRAFT or RETURNED request into its approval workflow and
// reserves its days. A zero-step workflow approves the request immediately,
// consuming the reservation in the same transaction.
func (s *Service) Submit(ctx context.Context, requestID, actorID string) (Status, error) {
	current, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return "", err
	}
	if err := checkOwner(current, actorID); err != nil {
		return "", err
	}
	if !CanSubmit(current.Status) {
		return "", &generic.TransitionError{From: string(current.Status), Op: "submit"}
	}

	days, err := s.daysFor(ctx, current.OwnerID, current.Period(), current.StartHalfDay, current.EndHalfDay)
	if err != nil {
		return "", err
	}
	resolved, err := s.workflows.Resolve(ctx, current.OwnerID)
	if err != nil {
		return "", err
	}

	now := s.now()
	steps := make([]ApprovalStep, len(resolved))
	for i, rs := range resolved {
		steps[i] = ApprovalStep{
			ID:         s.newID(),
			RequestID:  requestID,
			StepType:   rs.StepType,
			StepOrder:  rs.StepOrder,
			IsRequired: rs.IsRequired,
			ApproverID: rs.ApproverID,
		}
	}
	event := submitEvent(hasStepType(steps, StepManager), hasStepType(steps, StepHR))

	var from, to Status
	var r *LeaveRequest
	err = s.store.WithTx(ctx, func(tx Tx) error {
		var err error
		if r, err = tx.GetRequest(ctx, requestID); err != nil {
			return err
		}
		// Days and steps were derived from the version read above.
		if r.Version != current.Version {
			return fmt.Errorf("submit %s: %w", requestID, generic.ErrConcurrentModification)
		}
		if err := checkOwner(r, actorID); err != nil {
			return err
		}
		if to, err = Next(r.Status, event); err != nil {
			return err
		}
		from = r.Status

		lt, err := tx.GetLeaveType(ctx, r.LeaveTypeID)
		if err != nil {
			return err
		}
		if err := tx.ReplaceSteps(ctx, requestID, steps); err != nil {
			return err
		}

		r.TotalDays = days
		if lt.CountsAgainstBalance() {
			if err := reserveFor(ctx, tx, r, BalanceKeyFor(r, lt), days, now); err != nil {
				return err
			}
			if to == StatusApproved {
				if err := settleReservation(ctx, tx, r, MoveConsume, now); err != nil {
					return err
				}
			}
		}

		r.Status = to
		r.SubmittedAt = &now
		r.UpdatedAt = now
		return tx.UpdateRequest(ctx, r)
	})
	if err != nil {
		return "", err
	}

	s.events.Audit(ctx, s.audit(actorID, AuditLeaveSubmitted, EntityLeaveRequest, requestID,
		map[string]any{"status": string(from)}, requestState(r)))
	if to == StatusApproved {
		s.events.Audit(ctx, s.audit(actorID, AuditLeaveApproved, EntityLeaveRequest, requestID, nil, requestState(r)))
		s.notifyOwner(ctx, r, NotifyApproved, "")
	} else {
		s.notifyApprovers(ctx, r, decidableSteps(steps, stepTypeOf(to)))
	}

	s.logger.Debug("leave request submitted",
		zap.String("request_id", requestID),
		zap.String("status", string(to)),
		zap.Int("steps", len(steps)),
		zap.String("total_days", days.String()))
	return to, nil
}

// =============================================================================
// DECIDE
// =============================================================================

// Decide records an approver's action on the request's current step type.
// The actor may decide a step assigned to itself or to anyone whose
// delegation to the actor is in effect; a delegated decision reassigns the
// step to the actor and keeps the delegator in OnBehalfOf.
func (s *Service) Decide(ctx context.Context, requestID, actorID string, action Action, comment string) (Status, error) {
	if !action.Valid() {
		return "", fmt.Errorf("%w: action %q", generic.ErrInvalidInput, action)
	}
	comment = strings.TrimSpace(comment)
	if action != ActionApproved && comment == "" {
		return "", fmt.Errorf("%s request %s: %w", strings.ToLower(string(action)), requestID, generic.ErrCommentRequired)
	}

	now := s.now()
	auth, err := s.delegations.Resolve(ctx, actorID, now)
	if err != nil {
		return "", err
	}

	var (
		from, to     Status
		r            *LeaveRequest
		decided      ApprovalStep
		wasDecidable []ApprovalStep
		steps        []ApprovalStep
	)
	err = s.store.WithTx(ctx, func(tx Tx) error {
		var err error
		if r, err = tx.GetRequest(ctx, requestID); err != nil {
			return err
		}
		if !r.Status.IsPending() {
			return &generic.TransitionError{From: string(r.Status), Op: "decide"}
		}
		from = r.Status
		current := stepTypeOf(r.Status)

		if steps, err = tx.ListSteps(ctx, requestID); err != nil {
			return err
		}
		wasDecidable = decidableSteps(steps, current)
		step, ok := pickStep(wasDecidable, auth)
		if !ok {
			return &generic.NotAuthorizedApproverError{RequestID: requestID, ActorID: actorID}
		}

		a := action
		step.Action = &a
		step.Comment = comment
		step.DecidedAt = &now
		if step.ApproverID != actorID {
			step.OnBehalfOf = step.ApproverID
			step.ApproverID = actorID
		}
		if err := tx.UpdateStep(ctx, step); err != nil {
			return err
		}
		for i := range steps {
			if steps[i].ID == step.ID {
				steps[i] = step
			}
		}
		decided = step

		var event Event
		if action == ActionApproved {
			event = approveEvent(current, hasBlocking(steps, current), hasUndecided(steps, StepHR))
		} else {
			event = decisionEvent(action)
		}
		if to, err = Next(r.Status, event); err != nil {
			return err
		}

		if err := s.settle(ctx, tx, r, to, now); err != nil {
			return err
		}
		r.Status = to
		r.UpdatedAt = now
		return tx.UpdateRequest(ctx, r)
	})
	if err != nil {
		return "", err
	}

	s.emitDecision(ctx, r, decided, from, to, wasDecidable, steps)
	s.logger.Debug("leave step decided",
		zap.String("request_id", requestID),
		zap.String("step_id", decided.ID),
		zap.String("actor_id", actorID),
		zap.String("on_behalf_of", decided.OnBehalfOf),
		zap.String("action", string(action)),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	return to, nil
}

// settle applies the ledger movement a decision leading to 'to' implies,
// against the hold recorded at submission. The leave type is read inside the
// transaction so an exemption added after submission is honored; the hold
// then stays on the request until a later submission releases it.
func (s *Service) settle(ctx context.Context, tx Tx, r *LeaveRequest, to Status, now time.Time) error {
	var m Movement
	switch to {
	case StatusApproved:
		m = MoveConsume
	case StatusRefused, StatusReturned, StatusCancelled:
		m = MoveRelease
	default:
		return nil
	}
	if !r.BalanceReserved {
		return nil
	}
	lt, err := tx.GetLeaveType(ctx, r.LeaveTypeID)
	if err != nil {
		return err
	}
	if !lt.CountsAgainstBalance() {
		return nil
	}
	return settleReservation(ctx, tx, r, m, now)
}

func (s *Service) emitDecision(ctx context.Context, r *LeaveRequest, step ApprovalStep, from, to Status, wasDecidable, steps []ApprovalStep) {
	s.events.Audit(ctx, AuditEvent{
		ID:         s.newID(),
		ActorID:    step.ApproverID,
		Action:     AuditStepDecided,
		EntityType: EntityApprovalStep,
		EntityID:   step.ID,
		NewValue: map[string]any{
			"action":    string(*step.Action),
			"comment":   step.Comment,
			"requestId": r.ID,
			"stepType":  string(step.StepType),
		},
		OnBehalfOf: step.OnBehalfOf,
		At:         s.now(),
	})

	switch to {
	case StatusApproved:
		s.events.Audit(ctx, s.audit(step.ApproverID, AuditLeaveApproved, EntityLeaveRequest, r.ID, map[string]any{"status": string(from)}, requestState(r)))
		s.notifyOwner(ctx, r, NotifyApproved, step.Comment)
	case StatusRefused:
		s.events.Audit(ctx, s.audit(step.ApproverID, AuditLeaveRefused, EntityLeaveRequest, r.ID, map[string]any{"status": string(from)}, requestState(r)))
		s.notifyOwner(ctx, r, NotifyRefused, step.Comment)
	case StatusReturned:
		s.events.Audit(ctx, s.audit(step.ApproverID, AuditLeaveReturned, EntityLeaveRequest, r.ID, map[string]any{"status": string(from)}, requestState(r)))
		s.notifyOwner(ctx, r, NotifyReturned, step.Comment)
	default:
		// Still pending: tell approvers whose steps just became decidable.
		already := make(map[string]bool, len(wasDecidable))
		for _, st := range wasDecidable {
			already[st.ID] = true
		}
		var fresh []ApprovalStep
		for _, st := range decidableSteps(steps, stepTypeOf(to)) {
			if !already[st.ID] {
				fresh = append(fresh, st)
			}
		}
		s.notifyApprovers(ctx, r, fresh)
	}
}

// =============================================================================
// CANCEL
// =============================================================================

// Cancel withdraws a request that is not yet decided. A submitted request
// gives back its reserved days.
func (s *Service) Cancel(ctx context.Context, requestID, actorID string) (Status, error) {
	var from Status
	var r *LeaveRequest
	err := s.store.WithTx(ctx, func(tx Tx) error {
		var err error
		if r, err = tx.GetRequest(ctx, requestID); err != nil {
			return err
		}
		if err := checkOwner(r, actorID); err != nil {
			return err
		}
		to, err := Next(r.Status, EventCancel)
		if err != nil {
			return err
		}
		from = r.Status

		now := s.now()
		if from != StatusDraft {
			if err := s.settle(ctx, tx, r, to, now); err != nil {
				return err
			}
		}
		r.Status = to
		r.UpdatedAt = now
		return tx.UpdateRequest(ctx, r)
	})
	if err != nil {
		return "", err
	}

	s.events.Audit(ctx, s.audit(actorID, AuditLeaveCancelled, EntityLeaveRequest, requestID,
		map[string]any{"status": string(from)}, requestState(r)))
	s.logger.Debug("leave request cancelled", zap.String("request_id", requestID), zap.String("from", string(from)))
	return r.Status, nil
}

// =============================================================================
// READS
// =============================================================================

func (s *Service) GetRequest(ctx context.Context, id string) (*LeaveRequest, error) {
	return s.store.GetRequest(ctx, id)
}

// Steps returns the request's approval steps ordered by type, order and id.
func (s *Service) Steps(ctx context.Context, requestID string) ([]ApprovalStep, error) {
	if _, err := s.store.GetRequest(ctx, requestID); err != nil {
		return nil, err
	}
	return s.store.ListSteps(ctx, requestID)
}

func (s *Service) GetBalance(ctx context.Context, key BalanceKey) (*LeaveBalance, error) {
	return s.store.GetBalance(ctx, key)
}

// =============================================================================
// HELPERS
// =============================================================================

func checkOwner(r *LeaveRequest, actorID string) error {
	if r.OwnerID != actorID {
		return fmt.Errorf("%w: %s does not own request %s", generic.ErrUnauthorized, actorID, r.ID)
	}
	return nil
}

// stepTypeOf is the step type decided in a pending status.
func stepTypeOf(s Status) StepType {
	if s == StatusPendingHR {
		return StepHR
	}
	return StepManager
}

func requestState(r *LeaveRequest) map[string]any {
	return map[string]any{
		"status":      string(r.Status),
		"leaveTypeId": r.LeaveTypeID,
		"startDate":   r.StartDate.String(),
		"endDate":     r.EndDate.String(),
		"totalDays":   r.TotalDays.String(),
	}
}

func (s *Service) audit(actor string, action AuditAction, entityType, entityID string, oldValue, newValue map[string]any) AuditEvent {
	return AuditEvent{
		ID:         s.newID(),
		ActorID:    actor,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		OldValue:   oldValue,
		NewValue:   newValue,
		At:         s.now(),
	}
}

func (s *Service) notifyOwner(ctx context.Context, r *LeaveRequest, kind TemplateKind, comment string) {
	payload := map[string]any{
		"requestId": r.ID,
		"status":    string(r.Status),
		"startDate": r.StartDate.String(),
		"endDate":   r.EndDate.String(),
		"totalDays": r.TotalDays.String(),
	}
	if comment != "" {
		payload["comment"] = comment
	}
	s.events.Notify(ctx, Notification{
		ID:           s.newID(),
		RecipientIDs: []string{r.OwnerID},
		Kind:         kind,
		Payload:      payload,
		At:           s.now(),
	})
}

func (s *Service) notifyApprovers(ctx context.Context, r *LeaveRequest, steps []ApprovalStep) {
	if len(steps) == 0 {
		return
	}
	s.events.Notify(ctx, Notification{
		ID:           s.newID(),
		RecipientIDs: stepApprovers(steps),
		Kind:         NotifyNewRequest,
		Payload: map[string]any{
			"requestId": r.ID,
			"ownerId":   r.OwnerID,
			"status":    string(r.Status),
			"startDate": r.StartDate.String(),
			"endDate":   r.EndDate.String(),
			"totalDays": r.TotalDays.String(),
		},
		At: s.now(),
	})
}

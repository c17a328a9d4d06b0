/*
lifecycle.go - Request status state machine

PURPOSE:
  A single transition table decides which status an operation leads to.
  The service never assigns a status directly: it names an event and asks
  Next for the target, so an illegal move is always an InvalidTransition.

STATES:
  DRAFT ──edit──► DRAFT, RETURNED ──edit──► RETURNED
  DRAFT, RETURNED ──submit──► PENDING_MANAGER | PENDING_HR | APPROVED
  PENDING_MANAGER ──approve──► PENDING_MANAGER (peers left) | PENDING_HR | APPROVED
  PENDING_HR ──approve──► PENDING_HR (peers left) | APPROVED
  PENDING_* ──refuse──► REFUSED
  PENDING_* ──return──► RETURNED
  DRAFT, PENDING_* ──cancel──► CANCELLED

  APPROVED, REFUSED and CANCELLED are terminal.

SUBMIT TARGET:
  Submission goes to PENDING_MANAGER when the resolved workflow has a
  manager step, to PENDING_HR when it has only HR steps, and straight to
  APPROVED when it has none. An HR-only workflow deliberately skips
  PENDING_MANAGER: no manager step exists there to ever advance it.

SEE ALSO:
  - service.go: maps operations to events
  - workflow.go: which steps exist and which are still blocking
*/
package leave

import "github.com/warp/leave-engine/generic"

// Event is a lifecycle trigger.
type Event string

const (
	EventEdit            Event = "edit"
	EventSubmitToManager Event = "submit_to_manager"
	EventSubmitToHR      Event = "submit_to_hr"
	EventSubmitNoSteps   Event = "submit_no_steps"
	EventCancel          Event = "cancel"
	EventApprovePeers    Event = "approve_peers_pending"
	EventApproveToHR     Event = "approve_hr_pending"
	EventApproveFinal    Event = "approve_final"
	EventRefuse          Event = "refuse"
	EventReturn          Event = "return"
)

// Operation names the user-facing operation an event belongs to.
func (e Event) Operation() string {
	switch e {
	case EventSubmitToManager, EventSubmitToHR, EventSubmitNoSteps:
		return "submit"
	case EventApprovePeers, EventApproveToHR, EventApproveFinal:
		return "approve"
	}
	return string(e)
}

type transitionKey struct {
	from  Status
	event Event
}

var transitions = map[transitionKey]Status{
	{StatusDraft, EventEdit}:    StatusDraft,
	{StatusReturned, EventEdit}: StatusReturned,

	{StatusDraft, EventSubmitToManager}:    StatusPendingManager,
	{StatusDraft, EventSubmitToHR}:         StatusPendingHR,
	{StatusDraft, EventSubmitNoSteps}:      StatusApproved,
	{StatusReturned, EventSubmitToManager}: StatusPendingManager,
	{StatusReturned, EventSubmitToHR}:      StatusPendingHR,
	{StatusReturned, EventSubmitNoSteps}:   StatusApproved,

	{StatusDraft, EventCancel}:          StatusCancelled,
	{StatusPendingManager, EventCancel}: StatusCancelled,
	{StatusPendingHR, EventCancel}:      StatusCancelled,

	{StatusPendingManager, EventApprovePeers}: StatusPendingManager,
	{StatusPendingManager, EventApproveToHR}:  StatusPendingHR,
	{StatusPendingManager, EventApproveFinal}: StatusApproved,
	{StatusPendingHR, EventApprovePeers}:      StatusPendingHR,
	{StatusPendingHR, EventApproveFinal}:      StatusApproved,

	{StatusPendingManager, EventRefuse}: StatusRefused,
	{StatusPendingHR, EventRefuse}:      StatusRefused,
	{StatusPendingManager, EventReturn}: StatusReturned,
	{StatusPendingHR, EventReturn}:      StatusReturned,
}

// Next returns the status 'event' leads to from 'from', or a TransitionError.
func Next(from Status, event Event) (Status, error) {
	if to, ok := transitions[transitionKey{from, event}]; ok {
		return to, nil
	}
	return "", &generic.TransitionError{From: string(from), Op: event.Operation()}
}

// CanEdit reports whether the owner may still change the request fields.
func CanEdit(s Status) bool {
	_, err := Next(s, EventEdit)
	return err == nil
}

// CanSubmit reports whether the request may enter the approval workflow.
func CanSubmit(s Status) bool {
	return s == StatusDraft || s == StatusReturned
}

// submitEvent picks the event for a workflow's step mix.
func submitEvent(hasManager, hasHR bool) Event {
	switch {
	case hasManager:
		return EventSubmitToManager
	case hasHR:
		return EventSubmitToHR
	default:
		return EventSubmitNoSteps
	}
}

// approveEvent picks the event after an approval, given what still blocks.
func approveEvent(current StepType, currentBlocking, hrBlocking bool) Event {
	switch {
	case currentBlocking:
		return EventApprovePeers
	case current == StepManager && hrBlocking:
		return EventApproveToHR
	default:
		return EventApproveFinal
	}
}

// decisionEvent maps a refuse or return action to its event.
func decisionEvent(a Action) Event {
	if a == ActionRefused {
		return EventRefuse
	}
	return EventReturn
}

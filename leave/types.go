// Package leave implements the leave-request lifecycle and its balance ledger.
//
// A request is created as a DRAFT, submitted into an approval workflow of
// MANAGER and HR steps, decided by approvers (or their delegates), and ends
// APPROVED, REFUSED or CANCELLED. RETURNED sends it back to the owner for
// edit and resubmission. Every transition that reserves, consumes or
// releases days does so on the (user, year, balance type) LeaveBalance row
// inside the same store transaction as the status change.
package leave

import (
	"time"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// STATUS, STEP TYPE, ACTION
// =============================================================================

type Status string

const (
	StatusDraft          Status = "DRAFT"
	StatusPendingManager Status = "PENDING_MANAGER"
	StatusPendingHR      Status = "PENDING_HR"
	StatusApproved       Status = "APPROVED"
	StatusRefused        Status = "REFUSED"
	StatusCancelled      Status = "CANCELLED"
	StatusReturned       Status = "RETURNED"
)

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRefused || s == StatusCancelled
}

// IsPending reports whether the request awaits an approver decision.
func (s Status) IsPending() bool {
	return s == StatusPendingManager || s == StatusPendingHR
}

type StepType string

const (
	StepManager StepType = "MANAGER"
	StepHR      StepType = "HR"
)

type Action string

const (
	ActionApproved Action = "APPROVED"
	ActionRefused  Action = "REFUSED"
	ActionReturned Action = "RETURNED"
)

func (a Action) Valid() bool {
	return a == ActionApproved || a == ActionRefused || a == ActionReturned
}

// =============================================================================
// LEAVE TYPE - Read at every transition, never cached on the request
// =============================================================================

type LeaveType struct {
	ID   string
	Name string

	// DeductsBalance marks a type that consumes a day allotment.
	DeductsBalance bool

	// BalanceExempt excludes the type from ledger mutation at every
	// transition, whatever DeductsBalance says (e.g. exceptional leave).
	BalanceExempt bool

	// BalanceType selects the LeaveBalance row, e.g. "PAID_LEAVE".
	BalanceType string
}

// CountsAgainstBalance reports whether transitions touch the ledger.
func (lt LeaveType) CountsAgainstBalance() bool {
	return lt.DeductsBalance && !lt.BalanceExempt
}

// =============================================================================
// LEAVE REQUEST
// =============================================================================

type LeaveRequest struct {
	ID          string
	OwnerID     string
	LeaveTypeID string

	StartDate    generic.TimePoint
	EndDate      generic.TimePoint
	StartHalfDay generic.HalfDayMarker
	EndHalfDay   generic.HalfDayMarker
	TotalDays    generic.Amount

	Status            Status
	Reason            string
	ExceptionalReason string
	Attachments       []string
	IsCompanyClosure  bool

	// BalanceReserved is true while pendingDays on ReservedKey holds
	// ReservedDays. Both are captured when the hold is placed and settled
	// as captured, whatever later edits do to TotalDays or the dates.
	BalanceReserved bool
	ReservedKey     BalanceKey
	ReservedDays    generic.Amount

	// Version increments on every write; updates are conditional on it.
	Version int64

	CreatedAt   time.Time
	UpdatedAt   time.Time
	SubmittedAt *time.Time
}

// Period returns the requested date range.
func (r *LeaveRequest) Period() generic.Period {
	return generic.Period{Start: r.StartDate, End: r.EndDate}
}

// BalanceYear is the year whose balance row the request is booked against.
func (r *LeaveRequest) BalanceYear() int { return r.StartDate.Year() }

// RequestFields are the owner-editable parts of a request.
type RequestFields struct {
	LeaveTypeID       string
	StartDate         generic.TimePoint
	EndDate           generic.TimePoint
	StartHalfDay      generic.HalfDayMarker
	EndHalfDay        generic.HalfDayMarker
	Reason            string
	ExceptionalReason string
	Attachments       []string
	IsCompanyClosure  bool
}

func (f RequestFields) period() generic.Period {
	return generic.Period{Start: f.StartDate, End: f.EndDate}
}

func (f RequestFields) applyTo(r *LeaveRequest) {
	r.LeaveTypeID = f.LeaveTypeID
	r.StartDate = f.StartDate
	r.EndDate = f.EndDate
	r.StartHalfDay = f.StartHalfDay.OrFullDay()
	r.EndHalfDay = f.EndHalfDay.OrFullDay()
	r.Reason = f.Reason
	r.ExceptionalReason = f.ExceptionalReason
	r.Attachments = append([]string(nil), f.Attachments...)
	r.IsCompanyClosure = f.IsCompanyClosure
}

// =============================================================================
// APPROVAL STEP
// =============================================================================

type ApprovalStep struct {
	ID         string
	RequestID  string
	StepType   StepType
	StepOrder  int
	IsRequired bool

	// ApproverID is reassigned to the acting identity when a delegate decides.
	ApproverID string

	Action    *Action // nil while pending
	Comment   string
	DecidedAt *time.Time

	// OnBehalfOf holds the original approver when a delegate decided.
	OnBehalfOf string
}

func (s ApprovalStep) IsDecided() bool { return s.Action != nil }

// =============================================================================
// LEAVE BALANCE
// =============================================================================

type BalanceKey struct {
	UserID      string
	Year        int
	BalanceType string
}

type LeaveBalance struct {
	Key             BalanceKey
	TotalDays       generic.Amount
	CarriedOverDays generic.Amount
	UsedDays        generic.Amount
	PendingDays     generic.Amount

	Version   int64
	UpdatedAt time.Time
}

// Remaining is always derived, never stored.
func (b LeaveBalance) Remaining() generic.Amount {
	return b.TotalDays.Add(b.CarriedOverDays).Sub(b.UsedDays).Sub(b.PendingDays)
}

// =============================================================================
// DELEGATION
// =============================================================================

type Delegation struct {
	ID        string
	FromUser  string
	ToUser    string
	StartDate generic.TimePoint
	EndDate   generic.TimePoint
	IsActive  bool
	CreatedBy string
}

// ConfersAuthority reports whether the delegation lets ToUser act for
// FromUser at 'now'. Bounds are inclusive calendar days.
func (d Delegation) ConfersAuthority(now time.Time) bool {
	if !d.IsActive {
		return false
	}
	window := generic.Period{Start: d.StartDate, End: d.EndDate}
	return window.Contains(generic.DateOf(now))
}

// =============================================================================
// WORKFLOW TEMPLATES - Managed externally, read here
// =============================================================================

type ScopeKind string

const (
	ScopeTeam   ScopeKind = "TEAM"
	ScopeOffice ScopeKind = "OFFICE"
)

type WorkflowConfig struct {
	ID       string
	Scope    ScopeKind
	ScopeID  string
	IsActive bool
	Steps    []WorkflowStep
}

type WorkflowStep struct {
	StepOrder  int
	StepType   StepType
	IsRequired bool
}

// Placement is a user's organizational position.
type Placement struct {
	UserID   string
	TeamID   string // empty when the user has no team
	OfficeID string
}

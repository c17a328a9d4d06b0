/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the leave domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Small response wrappers

AMOUNTS AND DATES:
  Day amounts travel as decimal strings ("2.5"), dates as YYYY-MM-DD.

VALIDATION:
  Request bodies carry go-playground/validator tags and are checked in
  decodeAndValidate before anything reaches the service.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// REQUEST BODIES
// =============================================================================

// RequestFieldsRequest is the body of create and edit.
type RequestFieldsRequest struct {
	LeaveTypeID       string   `json:"leaveTypeId" validate:"required"`
	StartDate         string   `json:"startDate" validate:"required,datetime=2006-01-02"`
	EndDate           string   `json:"endDate" validate:"required,datetime=2006-01-02"`
	StartHalfDay      string   `json:"startHalfDay,omitempty" validate:"omitempty,oneof=FULL_DAY MORNING AFTERNOON"`
	EndHalfDay        string   `json:"endHalfDay,omitempty" validate:"omitempty,oneof=FULL_DAY MORNING AFTERNOON"`
	Reason            string   `json:"reason,omitempty" validate:"max=2000"`
	ExceptionalReason string   `json:"exceptionalReason,omitempty" validate:"max=2000"`
	Attachments       []string `json:"attachments,omitempty" validate:"max=20,dive,required"`
	IsCompanyClosure  bool     `json:"isCompanyClosure,omitempty"`
}

func (r RequestFieldsRequest) toFields() (leave.RequestFields, error) {
	start, err := generic.ParseDate(r.StartDate)
	if err != nil {
		return leave.RequestFields{}, err
	}
	end, err := generic.ParseDate(r.EndDate)
	if err != nil {
		return leave.RequestFields{}, err
	}
	return leave.RequestFields{
		LeaveTypeID:       r.LeaveTypeID,
		StartDate:         start,
		EndDate:           end,
		StartHalfDay:      generic.HalfDayMarker(r.StartHalfDay).OrFullDay(),
		EndHalfDay:        generic.HalfDayMarker(r.EndHalfDay).OrFullDay(),
		Reason:            r.Reason,
		ExceptionalReason: r.ExceptionalReason,
		Attachments:       r.Attachments,
		IsCompanyClosure:  r.IsCompanyClosure,
	}, nil
}

// DecisionRequest is the body of POST /api/requests/{id}/decision.
type DecisionRequest struct {
	Action  string `json:"action" validate:"required,oneof=APPROVED REFUSED RETURNED"`
	Comment string `json:"comment,omitempty" validate:"max=2000"`
}

// WorkingDaysRequest is the body of POST /api/working-days.
type WorkingDaysRequest struct {
	OfficeID     string `json:"officeId" validate:"required"`
	Start        string `json:"start" validate:"required,datetime=2006-01-02"`
	End          string `json:"end" validate:"required,datetime=2006-01-02"`
	StartHalfDay string `json:"startHalfDay,omitempty" validate:"omitempty,oneof=FULL_DAY MORNING AFTERNOON"`
	EndHalfDay   string `json:"endHalfDay,omitempty" validate:"omitempty,oneof=FULL_DAY MORNING AFTERNOON"`
}

// ProvisionRequest is the body of POST /api/admin/balances.
type ProvisionRequest struct {
	UserID       string  `json:"userId" validate:"required"`
	Year         int     `json:"year" validate:"required,gte=1970,lte=9999"`
	BalanceType  string  `json:"balanceType" validate:"required"`
	AnnualDays   string  `json:"annualDays" validate:"required,nonnegative_amount"`
	HireDate     string  `json:"hireDate,omitempty" validate:"omitempty,datetime=2006-01-02"`
	CarryOverCap *string `json:"carryOverCap,omitempty" validate:"omitempty,nonnegative_amount"`
}

func (p ProvisionRequest) toInput(actorID string) (leave.ProvisionInput, error) {
	annual, err := generic.ParseAmount(p.AnnualDays)
	if err != nil {
		return leave.ProvisionInput{}, err
	}
	in := leave.ProvisionInput{
		UserID:      p.UserID,
		Year:        p.Year,
		BalanceType: p.BalanceType,
		AnnualDays:  annual,
		ActorID:     actorID,
	}
	if p.HireDate != "" {
		if in.HireDate, err = generic.ParseDate(p.HireDate); err != nil {
			return leave.ProvisionInput{}, err
		}
	}
	if p.CarryOverCap != nil {
		c, err := generic.ParseAmount(*p.CarryOverCap)
		if err != nil {
			return leave.ProvisionInput{}, err
		}
		in.CarryOverCap = &c
	}
	return in, nil
}

// =============================================================================
// RESPONSES
// =============================================================================

// TransitionResponse is returned by every state-changing endpoint.
type TransitionResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type StepDTO struct {
	ID         string     `json:"id"`
	StepType   string     `json:"stepType"`
	StepOrder  int        `json:"stepOrder"`
	IsRequired bool       `json:"isRequired"`
	ApproverID string     `json:"approverId"`
	Action     *string    `json:"action,omitempty"`
	Comment    string     `json:"comment,omitempty"`
	DecidedAt  *time.Time `json:"decidedAt,omitempty"`
	OnBehalfOf string     `json:"onBehalfOf,omitempty"`
}

// RequestDTO represents a leave request and its approval steps.
type RequestDTO struct {
	ID                string     `json:"id"`
	OwnerID           string     `json:"ownerId"`
	LeaveTypeID       string     `json:"leaveTypeId"`
	StartDate         string     `json:"startDate"`
	EndDate           string     `json:"endDate"`
	StartHalfDay      string     `json:"startHalfDay"`
	EndHalfDay        string     `json:"endHalfDay"`
	TotalDays         string     `json:"totalDays"`
	Status            string     `json:"status"`
	Reason            string     `json:"reason,omitempty"`
	ExceptionalReason string     `json:"exceptionalReason,omitempty"`
	Attachments       []string   `json:"attachments,omitempty"`
	IsCompanyClosure  bool       `json:"isCompanyClosure"`
	Version           int64      `json:"version"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
	SubmittedAt       *time.Time `json:"submittedAt,omitempty"`
	Steps             []StepDTO  `json:"steps"`
}

func toRequestDTO(r *leave.LeaveRequest, steps []leave.ApprovalStep) RequestDTO {
	dto := RequestDTO{
		ID:                r.ID,
		OwnerID:           r.OwnerID,
		LeaveTypeID:       r.LeaveTypeID,
		StartDate:         r.StartDate.String(),
		EndDate:           r.EndDate.String(),
		StartHalfDay:      string(r.StartHalfDay),
		EndHalfDay:        string(r.EndHalfDay),
		TotalDays:         r.TotalDays.String(),
		Status:            string(r.Status),
		Reason:            r.Reason,
		ExceptionalReason: r.ExceptionalReason,
		Attachments:       r.Attachments,
		IsCompanyClosure:  r.IsCompanyClosure,
		Version:           r.Version,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
		SubmittedAt:       r.SubmittedAt,
		Steps:             make([]StepDTO, len(steps)),
	}
	for i, s := range steps {
		sd := StepDTO{
			ID:         s.ID,
			StepType:   string(s.StepType),
			StepOrder:  s.StepOrder,
			IsRequired: s.IsRequired,
			ApproverID: s.ApproverID,
			Comment:    s.Comment,
			DecidedAt:  s.DecidedAt,
			OnBehalfOf: s.OnBehalfOf,
		}
		if s.Action != nil {
			a := string(*s.Action)
			sd.Action = &a
		}
		dto.Steps[i] = sd
	}
	return dto
}

// BalanceDTO is a ledger row plus its derived remaining days.
type BalanceDTO struct {
	UserID          string    `json:"userId"`
	Year            int       `json:"year"`
	BalanceType     string    `json:"balanceType"`
	TotalDays       string    `json:"totalDays"`
	CarriedOverDays string    `json:"carriedOverDays"`
	UsedDays        string    `json:"usedDays"`
	PendingDays     string    `json:"pendingDays"`
	Remaining       string    `json:"remaining"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

func toBalanceDTO(b *leave.LeaveBalance) BalanceDTO {
	return BalanceDTO{
		UserID:          b.Key.UserID,
		Year:            b.Key.Year,
		BalanceType:     b.Key.BalanceType,
		TotalDays:       b.TotalDays.String(),
		CarriedOverDays: b.CarriedOverDays.String(),
		UsedDays:        b.UsedDays.String(),
		PendingDays:     b.PendingDays.String(),
		Remaining:       b.Remaining().String(),
		UpdatedAt:       b.UpdatedAt,
	}
}

// ProvisionResponse reports whether the balance row was created by this call.
type ProvisionResponse struct {
	BalanceDTO
	Created bool `json:"created"`
}

type WorkingDaysResponse struct {
	Days string `json:"days"`
}

// ErrorResponse represents an error in API responses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

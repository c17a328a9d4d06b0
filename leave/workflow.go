/*
workflow.go - Workflow resolver and step-collection queries

PURPOSE:
  Turns a submitter's organizational placement into the concrete list of
  approval steps a request must clear, and answers the questions the state
  machine asks about a step collection while it is being decided.

RESOLUTION:
  1. Active template scoped to the submitter's team
  2. Otherwise, active template scoped to the submitter's office
  3. Otherwise, no steps (the request is approved on submission)

  MANAGER steps are assigned to the team's manager and dropped when the team
  has none. HR steps are assigned to the lowest HR identity and dropped when
  nobody holds the HR capability.

PRECEDENCE:
  Within one step type, a step is decidable while no undecided required step
  of that type has a lower stepOrder. Steps sharing an order are parallel
  peers. Only required steps gate advancement; an optional step may still be
  decided (and may refuse or return) while its type is pending.

SEE ALSO:
  - lifecycle.go: how decisions map to status changes
  - delegation.go: who may decide which step
*/
package leave

import (
	"context"
	"fmt"
	"math"
	"sort"
)

// ResolvedStep is a template step bound to a concrete approver.
type ResolvedStep struct {
	StepType   StepType
	StepOrder  int
	IsRequired bool
	ApproverID string
}

// WorkflowResolver instantiates workflow templates for a submitter.
type WorkflowResolver struct {
	workflows WorkflowSource
	directory Directory
}

func NewWorkflowResolver(workflows WorkflowSource, directory Directory) *WorkflowResolver {
	return &WorkflowResolver{workflows: workflows, directory: directory}
}

// Resolve returns the steps for a request submitted by userID, ordered by
// stepOrder. An empty result is valid.
func (r *WorkflowResolver) Resolve(ctx context.Context, userID string) ([]ResolvedStep, error) {
	placement, err := r.directory.Placement(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve placement of %s: %w", userID, err)
	}

	cfg, err := r.template(ctx, placement)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, nil
	}

	templates := append([]WorkflowStep(nil), cfg.Steps...)
	sort.SliceStable(templates, func(i, j int) bool { return templates[i].StepOrder < templates[j].StepOrder })

	var (
		manager     string
		managerDone bool
		hr          string
		hrDone      bool
		steps       []ResolvedStep
	)
	for _, tpl := range templates {
		var approver string
		switch tpl.StepType {
		case StepManager:
			if !managerDone {
				if manager, err = r.manager(ctx, placement); err != nil {
					return nil, err
				}
				managerDone = true
			}
			approver = manager
		case StepHR:
			if !hrDone {
				if hr, err = r.hrApprover(ctx); err != nil {
					return nil, err
				}
				hrDone = true
			}
			approver = hr
		default:
			return nil, fmt.Errorf("workflow %s: unknown step type %q", cfg.ID, tpl.StepType)
		}
		if approver == "" {
			continue
		}
		steps = append(steps, ResolvedStep{
			StepType:   tpl.StepType,
			StepOrder:  tpl.StepOrder,
			IsRequired: tpl.IsRequired,
			ApproverID: approver,
		})
	}
	return steps, nil
}

func (r *WorkflowResolver) template(ctx context.Context, p Placement) (*WorkflowConfig, error) {
	if p.TeamID != "" {
		cfg, err := r.workflows.ActiveWorkflow(ctx, ScopeTeam, p.TeamID)
		if err != nil {
			return nil, fmt.Errorf("team workflow %s: %w", p.TeamID, err)
		}
		if cfg != nil {
			return cfg, nil
		}
	}
	if p.OfficeID == "" {
		return nil, nil
	}
	cfg, err := r.workflows.ActiveWorkflow(ctx, ScopeOffice, p.OfficeID)
	if err != nil {
		return nil, fmt.Errorf("office workflow %s: %w", p.OfficeID, err)
	}
	return cfg, nil
}

func (r *WorkflowResolver) manager(ctx context.Context, p Placement) (string, error) {
	if p.TeamID == "" {
		return "", nil
	}
	id, err := r.directory.TeamManager(ctx, p.TeamID)
	if err != nil {
		return "", fmt.Errorf("manager of team %s: %w", p.TeamID, err)
	}
	return id, nil
}

// hrApprover picks the lowest identity so resolution is reproducible.
func (r *WorkflowResolver) hrApprover(ctx context.Context) (string, error) {
	ids, err := r.directory.HRApprovers(ctx)
	if err != nil {
		return "", fmt.Errorf("hr approvers: %w", err)
	}
	if len(ids) == 0 {
		return "", nil
	}
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	return sorted[0], nil
}

// =============================================================================
// STEP COLLECTION QUERIES
// =============================================================================

// hasStepType reports whether any step of type t exists.
func hasStepType(steps []ApprovalStep, t StepType) bool {
	for _, s := range steps {
		if s.StepType == t {
			return true
		}
	}
	return false
}

// hasUndecided reports whether any step of type t is still undecided.
func hasUndecided(steps []ApprovalStep, t StepType) bool {
	for _, s := range steps {
		if s.StepType == t && !s.IsDecided() {
			return true
		}
	}
	return false
}

// hasBlocking reports whether an undecided required step of type t remains.
func hasBlocking(steps []ApprovalStep, t StepType) bool {
	for _, s := range steps {
		if s.StepType == t && s.IsRequired && !s.IsDecided() {
			return true
		}
	}
	return false
}

// decidableSteps returns the undecided steps of type t that precedence allows
// to be decided now.
func decidableSteps(steps []ApprovalStep, t StepType) []ApprovalStep {
	gate := math.MaxInt
	for _, s := range steps {
		if s.StepType == t && s.IsRequired && !s.IsDecided() && s.StepOrder < gate {
			gate = s.StepOrder
		}
	}

	var out []ApprovalStep
	for _, s := range steps {
		if s.StepType == t && !s.IsDecided() && s.StepOrder <= gate {
			out = append(out, s)
		}
	}
	return out
}

// stepApprovers lists the distinct approvers of steps, in order.
func stepApprovers(steps []ApprovalStep) []string {
	seen := make(map[string]bool, len(steps))
	var ids []string
	for _, s := range steps {
		if !seen[s.ApproverID] {
			seen[s.ApproverID] = true
			ids = append(ids, s.ApproverID)
		}
	}
	return ids
}

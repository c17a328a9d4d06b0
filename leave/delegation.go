package leave

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Authority is the set of identities an actor may decide for at one instant:
// the actor itself plus every delegator with a delegation in effect.
type Authority struct {
	Actor      string
	delegators map[string]bool
}

// Covers reports whether a step assigned to approverID is decidable by the actor.
func (a Authority) Covers(approverID string) bool {
	return approverID == a.Actor || a.delegators[approverID]
}

// Principals returns the delegators, sorted.
func (a Authority) Principals() []string {
	ids := make([]string, 0, len(a.delegators))
	for id := range a.delegators {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DelegationResolver computes an actor's Authority from delegations.
type DelegationResolver struct {
	source DelegationSource
}

func NewDelegationResolver(source DelegationSource) *DelegationResolver {
	return &DelegationResolver{source: source}
}

// Resolve returns {actor} ∪ {fromUser : active delegation to actor covering now}.
func (r *DelegationResolver) Resolve(ctx context.Context, actor string, now time.Time) (Authority, error) {
	auth := Authority{Actor: actor, delegators: map[string]bool{}}
	delegations, err := r.source.DelegationsTo(ctx, actor)
	if err != nil {
		return Authority{}, fmt.Errorf("delegations to %s: %w", actor, err)
	}
	for _, d := range delegations {
		if d.ToUser != actor || d.FromUser == actor {
			continue
		}
		if d.ConfersAuthority(now) {
			auth.delegators[d.FromUser] = true
		}
	}
	return auth, nil
}

// pickStep chooses the step the actor decides among the decidable ones: an
// own assignment first, then the lowest order, then the lowest id.
func pickStep(candidates []ApprovalStep, auth Authority) (ApprovalStep, bool) {
	var matched []ApprovalStep
	for _, s := range candidates {
		if auth.Covers(s.ApproverID) {
			matched = append(matched, s)
		}
	}
	if len(matched) == 0 {
		return ApprovalStep{}, false
	}
	sort.SliceStable(matched, func(i, j int) bool {
		oi, oj := matched[i].ApproverID == auth.Actor, matched[j].ApproverID == auth.Actor
		if oi != oj {
			return oi
		}
		if matched[i].StepOrder != matched[j].StepOrder {
			return matched[i].StepOrder < matched[j].StepOrder
		}
		return matched[i].ID < matched[j].ID
	})
	return matched[0], true
}

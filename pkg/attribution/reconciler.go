package attribution

import (
	"time"

	werrors "github.com/logflow/waitlens/pkg/errors"
	"github.com/logflow/waitlens/pkg/interval"
)

// Reconciler turns overlapping claims into an exact partition of the wait.
type Reconciler struct {
	precedence []Cause
}

// NewReconciler validates a precedence order. It must name each of the four
// claimable causes exactly once; an empty order selects DefaultPrecedence.
func NewReconciler(precedence []Cause) (*Reconciler, error) {
	if len(precedence) == 0 {
		precedence = DefaultPrecedence
	}
	if len(precedence) != len(DefaultPrecedence) {
		return nil, werrors.InvalidConfig("engine.precedence", precedence)
	}
	seen := make(map[Cause]bool)
	for _, c := range precedence {
		if c == CauseExtraneous || seen[c] {
			return nil, werrors.InvalidConfig("engine.precedence", precedence)
		}
		if _, err := ParseCause(string(c)); err != nil {
			return nil, werrors.InvalidConfig("engine.precedence", precedence)
		}
		seen[c] = true
	}

	out := make([]Cause, len(precedence))
	copy(out, precedence)
	return &Reconciler{precedence: out}, nil
}

// Precedence returns the order in use.
func (r *Reconciler) Precedence() []Cause {
	out := make([]Cause, len(r.precedence))
	copy(out, r.precedence)
	return out
}

// Reconcile assigns each instant of wait to the highest-precedence cause
// claiming it; unclaimed time is extraneous. An overrun returns the claims
// as computed together with an AttributionOverrun error.
func (r *Reconciler) Reconcile(instanceID string, wait interval.Interval, claims map[Cause]interval.Set) (Attribution, error) {
	var a Attribution
	remaining := interval.Of(wait)

	var claimed time.Duration
	for _, c := range r.precedence {
		got := interval.Intersect(interval.Clip(claims[c], wait), remaining)
		d := got.Duration()
		a.set(c, d)
		claimed += d
		remaining = interval.Subtract(remaining, got)
	}

	total := wait.Duration()
	if claimed > total || remaining.Duration() != total-claimed {
		return a, werrors.AttributionOverrun(instanceID, claimed, total)
	}
	a.Extraneous = total - claimed
	return a, nil
}

// Package attribution splits each waiting interval into its causes: batching,
// prioritization, contention, unavailability and the extraneous residual.
package attribution

import (
	"fmt"
	"time"

	"github.com/logflow/waitlens/internal/model"
	"github.com/logflow/waitlens/pkg/interval"
)

// Cause names a waiting-time cause.
type Cause string

const (
	CauseBatching       Cause = "batching"
	CausePrioritization Cause = "prioritization"
	CauseContention     Cause = "contention"
	CauseUnavailability Cause = "unavailability"
	CauseExtraneous     Cause = "extraneous"
)

// Causes lists every cause in reporting order.
var Causes = []Cause{
	CauseBatching,
	CausePrioritization,
	CauseContention,
	CauseUnavailability,
	CauseExtraneous,
}

// DefaultPrecedence resolves overlapping claims: a higher cause keeps an
// instant claimed by several.
var DefaultPrecedence = []Cause{
	CauseUnavailability,
	CauseBatching,
	CausePrioritization,
	CauseContention,
}

// ParseCause validates a cause name.
func ParseCause(s string) (Cause, error) {
	for _, c := range Causes {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown cause %q", s)
}

// Attribution is the per-cause split of one waiting duration.
type Attribution struct {
	Batching       time.Duration
	Prioritization time.Duration
	Contention     time.Duration
	Unavailability time.Duration
	Extraneous     time.Duration
}

// Get returns the duration assigned to a cause.
func (a Attribution) Get(c Cause) time.Duration {
	switch c {
	case CauseBatching:
		return a.Batching
	case CausePrioritization:
		return a.Prioritization
	case CauseContention:
		return a.Contention
	case CauseUnavailability:
		return a.Unavailability
	case CauseExtraneous:
		return a.Extraneous
	}
	return 0
}

func (a *Attribution) set(c Cause, d time.Duration) {
	switch c {
	case CauseBatching:
		a.Batching = d
	case CausePrioritization:
		a.Prioritization = d
	case CauseContention:
		a.Contention = d
	case CauseUnavailability:
		a.Unavailability = d
	case CauseExtraneous:
		a.Extraneous = d
	}
}

// Total sums all five causes.
func (a Attribution) Total() time.Duration {
	return a.Batching + a.Prioritization + a.Contention + a.Unavailability + a.Extraneous
}

// Record is the attribution output row of one activity instance.
type Record struct {
	InstanceID        string
	CaseID            string
	Activity          string
	Resource          string
	Transition        model.Transition
	EnabledByResource string

	Enabled time.Time
	Start   time.Time
	End     time.Time
	Wait    time.Duration

	Attribution

	// Defect marks a row whose claims overran the wait; its causes are not
	// a valid partition.
	Defect bool
	// Clamped marks a negative wait clamped to zero.
	Clamped bool
}

// NewRecord fills the descriptive fields of a record from an instance.
func NewRecord(inst *model.ActivityInstance) Record {
	return Record{
		InstanceID:        inst.ID,
		CaseID:            inst.CaseID,
		Activity:          inst.Activity,
		Resource:          inst.Resource,
		Transition:        inst.Transition(),
		EnabledByResource: inst.EnabledByResource,
		Enabled:           inst.Enabled,
		Start:             inst.Start,
		End:               inst.End,
	}
}

// Attributor claims the parts of a waiting interval explained by one cause.
// Claims may overlap those of other attributors; the Reconciler resolves them.
type Attributor interface {
	Cause() Cause
	// Claim returns sub-intervals of wait for the instance at position pos.
	Claim(pos uint32, wait interval.Interval) interval.Set
}

// Package model defines the core data structures shared by every stage of a
// waiting-time decomposition run.
package model

import (
	"fmt"
	"time"
)

// CaseStart is the source label of the transition into a case's first activity.
const CaseStart = "<start>"

// Event is one raw log record: an activity executed for a case by a resource.
// A zero Start means the log did not carry a start timestamp.
type Event struct {
	// ID optionally identifies the record in the source log.
	ID string

	CaseID   string
	Activity string
	Resource string

	Start time.Time
	End   time.Time

	Attributes Attributes

	// Predecessors optionally lists the IDs of events in the same case that
	// had to finish before this one could start.
	Predecessors []string
}

// HasStart reports whether the record carries a start timestamp.
func (e *Event) HasStart() bool {
	return !e.Start.IsZero()
}

// Log is an immutable, fully loaded event log.
type Log struct {
	Events []Event

	// Arrivals optionally overrides the arrival time of a case.
	Arrivals map[string]time.Time
}

// InstanceID qualifies a log record ID with its case. Logs commonly reuse
// record IDs across cases.
func InstanceID(caseID, eventID string) string {
	return caseID + "/" + eventID
}

// ActivityInstance is an event placed in its case's precedence structure.
// Invariant once built: Enabled <= Start <= End.
type ActivityInstance struct {
	ID       string
	CaseID   string
	Activity string
	Resource string

	Enabled time.Time
	Start   time.Time
	End     time.Time

	Attributes Attributes

	// Predecessors holds the IDs of the immediate predecessors in the case.
	Predecessors []string

	// EnabledBy is the activity label of the predecessor that finished last,
	// or CaseStart for the first activity of a case.
	EnabledBy string
	// EnabledByResource is the resource of that predecessor, empty for CaseStart.
	EnabledByResource string
}

// Transition returns the (predecessor label, label) pair this instance belongs to.
func (a *ActivityInstance) Transition() Transition {
	return Transition{Source: a.EnabledBy, Target: a.Activity}
}

// Wait returns the raw waiting duration, which may be negative for skewed input.
func (a *ActivityInstance) Wait() time.Duration {
	return a.Start.Sub(a.Enabled)
}

// Transition is the unit of aggregation: many instances map to one transition.
type Transition struct {
	Source string `json:"source" yaml:"source"`
	Target string `json:"target" yaml:"target"`
}

// String renders the transition as "source -> target".
func (t Transition) String() string {
	return fmt.Sprintf("%s -> %s", t.Source, t.Target)
}

// Less orders transitions by source then target.
func (t Transition) Less(o Transition) bool {
	if t.Source != o.Source {
		return t.Source < o.Source
	}
	return t.Target < o.Target
}

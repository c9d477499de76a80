// Package waiting extracts the raw waiting interval of each activity instance.
package waiting

import (
	"time"

	"github.com/logflow/waitlens/internal/model"
	werrors "github.com/logflow/waitlens/pkg/errors"
	"github.com/logflow/waitlens/pkg/interval"
)

// Wait is the waiting interval [enabled, start) of one instance.
type Wait struct {
	InstanceID string
	Transition model.Transition
	Interval   interval.Interval

	// Skew is how far the start preceded the enabled time before clamping.
	Skew time.Duration
}

// Duration returns the (non-negative) waiting duration.
func (w Wait) Duration() time.Duration {
	return w.Interval.Duration()
}

// Clamped reports whether a negative wait was clamped to zero.
func (w Wait) Clamped() bool {
	return w.Skew > 0
}

// Extract computes the wait of inst. A start before the enabled time moves
// the enabled time up to the start and returns a NegativeWait warning along
// with the zero-length wait.
func Extract(inst *model.ActivityInstance) (Wait, error) {
	w := Wait{
		InstanceID: inst.ID,
		Transition: inst.Transition(),
	}

	var warn error
	if inst.Start.Before(inst.Enabled) {
		w.Skew = inst.Enabled.Sub(inst.Start)
		inst.Enabled = inst.Start
		warn = werrors.NegativeWait(inst.ID, w.Skew)
	}
	w.Interval = interval.New(inst.Enabled, inst.Start)
	return w, warn
}

// ExtractAll runs Extract over a slice of instances. Warnings are returned in
// instance order.
func ExtractAll(instances []model.ActivityInstance) ([]Wait, []error) {
	waits := make([]Wait, len(instances))
	var warnings []error
	for i := range instances {
		w, warn := Extract(&instances[i])
		waits[i] = w
		if warn != nil {
			warnings = append(warnings, warn)
		}
	}
	return waits, warnings
}

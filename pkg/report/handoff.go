package report

import (
	"sort"
	"time"

	"github.com/logflow/waitlens/internal/model"
	"github.com/logflow/waitlens/pkg/attribution"
)

// HandoffType distinguishes handoffs between resources from a resource
// handing work to itself.
type HandoffType string

const (
	HandoffStrict HandoffType = "strict"
	HandoffSelf   HandoffType = "self"
)

// HandoffKey identifies work passed between activities and resources.
type HandoffKey struct {
	SourceActivity string
	SourceResource string
	TargetActivity string
	TargetResource string
	Type           HandoffType
}

// Handoff aggregates the waits of one handoff.
type Handoff struct {
	HandoffKey
	Frequency int
	TotalWait time.Duration
	MeanWait  time.Duration
	Causes    map[attribution.Cause]time.Duration
}

// Handoffs groups the records whose enabling predecessor ran a different
// activity. The handoff is strict when the resource changes too and self
// otherwise. Case starts and defect rows are ignored. The result is ordered
// by frequency, then total wait, descending.
func Handoffs(records []attribution.Record) []Handoff {
	byKey := make(map[HandoffKey]*Handoff)
	for i := range records {
		r := &records[i]
		if r.Defect || r.Transition.Source == model.CaseStart {
			continue
		}
		if r.Transition.Source == r.Activity {
			continue
		}
		key := HandoffKey{
			SourceActivity: r.Transition.Source,
			SourceResource: r.EnabledByResource,
			TargetActivity: r.Activity,
			TargetResource: r.Resource,
			Type:           HandoffStrict,
		}
		if r.EnabledByResource == r.Resource {
			key.Type = HandoffSelf
		}
		h, ok := byKey[key]
		if !ok {
			h = &Handoff{HandoffKey: key, Causes: make(map[attribution.Cause]time.Duration)}
			byKey[key] = h
		}
		h.Frequency++
		h.TotalWait += r.Wait
		for _, c := range attribution.Causes {
			h.Causes[c] += r.Get(c)
		}
	}

	out := make([]Handoff, 0, len(byKey))
	for _, h := range byKey {
		h.MeanWait = h.TotalWait / time.Duration(h.Frequency)
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Frequency != b.Frequency {
			return a.Frequency > b.Frequency
		}
		if a.TotalWait != b.TotalWait {
			return a.TotalWait > b.TotalWait
		}
		return keyLess(a.HandoffKey, b.HandoffKey)
	})
	return out
}

func keyLess(a, b HandoffKey) bool {
	switch {
	case a.SourceActivity != b.SourceActivity:
		return a.SourceActivity < b.SourceActivity
	case a.SourceResource != b.SourceResource:
		return a.SourceResource < b.SourceResource
	case a.TargetActivity != b.TargetActivity:
		return a.TargetActivity < b.TargetActivity
	case a.TargetResource != b.TargetResource:
		return a.TargetResource < b.TargetResource
	default:
		return a.Type < b.Type
	}
}

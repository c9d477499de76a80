package eventlog

import (
	"sort"

	"github.com/logflow/waitlens/internal/model"
)

// EnabledStartEstimator fills missing start timestamps for logs that only
// record completions: an event is assumed to start when the latest event of
// its case that ended before it ended, or at the case arrival when there is
// none. Without either, the event is treated as instantaneous.
type EnabledStartEstimator struct{}

// EstimateStarts returns a copy of log with every start populated. Events
// that already carry a start are left unchanged.
func (EnabledStartEstimator) EstimateStarts(log *model.Log) (*model.Log, error) {
	out := &model.Log{
		Events:   make([]model.Event, len(log.Events)),
		Arrivals: log.Arrivals,
	}
	copy(out.Events, log.Events)

	byCase := make(map[string][]int)
	for i := range out.Events {
		byCase[out.Events[i].CaseID] = append(byCase[out.Events[i].CaseID], i)
	}

	for caseID, idxs := range byCase {
		sort.SliceStable(idxs, func(a, b int) bool {
			return out.Events[idxs[a]].End.Before(out.Events[idxs[b]].End)
		})
		arrival, hasArrival := log.Arrivals[caseID]
		for k, i := range idxs {
			ev := &out.Events[i]
			if ev.HasStart() {
				continue
			}
			start := ev.End
			if hasArrival && !arrival.After(ev.End) {
				start = arrival
			}
			for j := k - 1; j >= 0; j-- {
				prev := out.Events[idxs[j]].End
				if prev.Before(ev.End) {
					if !hasArrival || prev.After(arrival) {
						start = prev
					}
					break
				}
			}
			ev.Start = start
		}
	}
	return out, nil
}

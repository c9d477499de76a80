// Package report aggregates attribution records into per-transition and
// per-handoff summaries. Every function here is pure.
package report

import (
	"math"
	"sort"
	"time"

	"github.com/logflow/waitlens/internal/model"
	"github.com/logflow/waitlens/pkg/attribution"
)

// Stats describes a distribution of durations.
type Stats struct {
	Count  int
	Total  time.Duration
	Mean   time.Duration
	Min    time.Duration
	P25    time.Duration
	Median time.Duration
	P75    time.Duration
	P90    time.Duration
	Max    time.Duration
}

// Describe computes Stats. Quantiles interpolate linearly between ranks.
func Describe(values []time.Duration) Stats {
	if len(values) == 0 {
		return Stats{}
	}
	sorted := make([]time.Duration, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var total time.Duration
	for _, v := range sorted {
		total += v
	}
	return Stats{
		Count:  len(sorted),
		Total:  total,
		Mean:   total / time.Duration(len(sorted)),
		Min:    sorted[0],
		P25:    Quantile(sorted, 0.25),
		Median: Quantile(sorted, 0.5),
		P75:    Quantile(sorted, 0.75),
		P90:    Quantile(sorted, 0.9),
		Max:    sorted[len(sorted)-1],
	}
}

// Quantile returns the q-quantile of an ascending slice.
func Quantile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + time.Duration(math.Round(frac*float64(sorted[hi]-sorted[lo])))
}

// TransitionSummary aggregates the instances of one transition.
type TransitionSummary struct {
	Transition model.Transition
	Count      int
	// Defects counts rows excluded from the statistics.
	Defects int
	Wait    Stats
	Causes  map[attribution.Cause]Stats
}

// Share returns the fraction of the transition's wait assigned to a cause.
func (t TransitionSummary) Share(c attribution.Cause) float64 {
	if t.Wait.Total == 0 {
		return 0
	}
	return float64(t.Causes[c].Total) / float64(t.Wait.Total)
}

// Summary is the aggregate output of a run.
type Summary struct {
	Instances   int
	Defects     int
	TotalWait   time.Duration
	Totals      map[attribution.Cause]time.Duration
	Transitions []TransitionSummary
}

// Summarize groups records by transition. Transitions are ordered by total
// wait, descending, then by key.
func Summarize(records []attribution.Record) Summary {
	type bucket struct {
		waits   []time.Duration
		causes  map[attribution.Cause][]time.Duration
		count   int
		defects int
	}

	s := Summary{Totals: make(map[attribution.Cause]time.Duration)}
	buckets := make(map[model.Transition]*bucket)
	for i := range records {
		r := &records[i]
		b, ok := buckets[r.Transition]
		if !ok {
			b = &bucket{causes: make(map[attribution.Cause][]time.Duration)}
			buckets[r.Transition] = b
		}
		b.count++
		s.Instances++
		if r.Defect {
			b.defects++
			s.Defects++
			continue
		}
		b.waits = append(b.waits, r.Wait)
		s.TotalWait += r.Wait
		for _, c := range attribution.Causes {
			d := r.Get(c)
			b.causes[c] = append(b.causes[c], d)
			s.Totals[c] += d
		}
	}

	for tr, b := range buckets {
		ts := TransitionSummary{
			Transition: tr,
			Count:      b.count,
			Defects:    b.defects,
			Wait:       Describe(b.waits),
			Causes:     make(map[attribution.Cause]Stats, len(attribution.Causes)),
		}
		for _, c := range attribution.Causes {
			ts.Causes[c] = Describe(b.causes[c])
		}
		s.Transitions = append(s.Transitions, ts)
	}
	sort.Slice(s.Transitions, func(i, j int) bool {
		a, b := s.Transitions[i], s.Transitions[j]
		if a.Wait.Total != b.Wait.Total {
			return a.Wait.Total > b.Wait.Total
		}
		return a.Transition.Less(b.Transition)
	})
	return s
}

// Package interval implements half-open time interval algebra over immutable
// lists. Every operation returns a new normalized Set; inputs are never modified.
package interval

import (
	"sort"
	"time"
)

// Interval is the half-open range [Start, End).
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// New builds an interval. An End before Start yields an empty interval.
func New(start, end time.Time) Interval {
	if end.Before(start) {
		end = start
	}
	return Interval{Start: start, End: end}
}

// Duration returns End - Start.
func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

// Empty reports a zero-length interval.
func (i Interval) Empty() bool {
	return !i.End.After(i.Start)
}

// Overlaps reports whether the two intervals share a positive-length span.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

// Intersect returns the common span of two intervals.
func (i Interval) Intersect(o Interval) (Interval, bool) {
	start := maxTime(i.Start, o.Start)
	end := minTime(i.End, o.End)
	if !end.After(start) {
		return Interval{}, false
	}
	return Interval{Start: start, End: end}, true
}

// Set is a sorted list of disjoint, non-empty, non-adjacent intervals.
type Set []Interval

// Normalize sorts and merges the given intervals, dropping empty ones.
func Normalize(ivs []Interval) Set {
	out := make(Set, 0, len(ivs))
	for _, iv := range ivs {
		if !iv.Empty() {
			out = append(out, iv)
		}
	}
	if len(out) == 0 {
		return nil
	}

	sort.Slice(out, func(a, b int) bool {
		if !out[a].Start.Equal(out[b].Start) {
			return out[a].Start.Before(out[b].Start)
		}
		return out[a].End.Before(out[b].End)
	})

	merged := out[:1]
	for _, iv := range out[1:] {
		last := &merged[len(merged)-1]
		if !iv.Start.After(last.End) {
			if iv.End.After(last.End) {
				last.End = iv.End
			}
			continue
		}
		merged = append(merged, iv)
	}
	return merged
}

// Of builds a normalized set from intervals.
func Of(ivs ...Interval) Set {
	return Normalize(ivs)
}

// Duration returns the total length covered by the set.
func (s Set) Duration() time.Duration {
	var total time.Duration
	for _, iv := range s {
		total += iv.Duration()
	}
	return total
}

// Union merges two sets.
func Union(a, b Set) Set {
	all := make([]Interval, 0, len(a)+len(b))
	all = append(all, a...)
	all = append(all, b...)
	return Normalize(all)
}

// Intersect returns the spans covered by both sets.
func Intersect(a, b Set) Set {
	var out Set
	i, j := 0, 0
	// Sweep both sorted lists
	for i < len(a) && j < len(b) {
		if iv, ok := a[i].Intersect(b[j]); ok {
			out = append(out, iv)
		}
		if a[i].End.Before(b[j].End) {
			i++
		} else {
			j++
		}
	}
	return out
}

// Subtract returns the spans of a not covered by b.
func Subtract(a, b Set) Set {
	var out Set
	j := 0
	for _, iv := range a {
		cur := iv.Start
		for j < len(b) && !b[j].End.After(cur) {
			j++
		}
		for k := j; k < len(b) && b[k].Start.Before(iv.End); k++ {
			if b[k].Start.After(cur) {
				out = append(out, Interval{Start: cur, End: b[k].Start})
			}
			if b[k].End.After(cur) {
				cur = b[k].End
			}
		}
		if iv.End.After(cur) {
			out = append(out, Interval{Start: cur, End: iv.End})
		}
	}
	return out
}

// Clip restricts the set to a window.
func Clip(s Set, window Interval) Set {
	if window.Empty() {
		return nil
	}
	return Intersect(s, Set{window})
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

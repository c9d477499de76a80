// Package inspect profiles an event log before analysis: what it contains
// and which properties limit the waiting-time decomposition.
package inspect

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/logflow/waitlens/internal/model"
)

// Report summarizes a loaded event log.
type Report struct {
	// Basic counts
	Events     int `json:"events"`
	Cases      int `json:"cases"`
	Activities int `json:"activities"`
	Resources  int `json:"resources"`

	// Time range over end timestamps
	From time.Time     `json:"from"`
	To   time.Time     `json:"to"`
	Span time.Duration `json:"span"`

	Completeness Completeness `json:"completeness"`
	Distribution Distribution `json:"distribution"`

	Issues   []Issue  `json:"issues"`
	Warnings []string `json:"warnings"`
}

// Completeness counts records that lack information the engine uses.
type Completeness struct {
	MissingStarts    int `json:"missing_starts"`
	MissingResources int `json:"missing_resources"`
	Inverted         int `json:"inverted"` // start after end
	Instant          int `json:"instant"`  // start equals end
	Duplicates       int `json:"duplicates"`
	DuplicateIDs     int `json:"duplicate_ids"` // record ID repeated within a case
	WithPredecessors int `json:"with_predecessors"`
}

// StartCoverage is the percentage of records with a start timestamp.
func (c Completeness) StartCoverage(events int) float64 {
	if events == 0 {
		return 0
	}
	return 100 * float64(events-c.MissingStarts) / float64(events)
}

// Distribution describes case sizes and the busiest activities and resources.
type Distribution struct {
	MinEventsPerCase    int     `json:"min_events_per_case"`
	MaxEventsPerCase    int     `json:"max_events_per_case"`
	AvgEventsPerCase    float64 `json:"avg_events_per_case"`
	MedianEventsPerCase int     `json:"median_events_per_case"`

	TopActivities []Count `json:"top_activities"`
	TopResources  []Count `json:"top_resources"`
}

// Count is a frequency.
type Count struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Issue is a property of the log that distorts the decomposition.
type Issue struct {
	Severity     string `json:"severity"` // "error", "warning"
	Description  string `json:"description"`
	AffectedRows int    `json:"affected_rows"`
}

// TopN bounds the activity and resource lists.
const TopN = 10

// Profile analyzes log.
func Profile(log *model.Log) *Report {
	r := &Report{Events: len(log.Events)}

	cases := make(map[string]int)
	activities := make(map[string]int)
	resources := make(map[string]int)
	seen := make(map[string]bool)
	ids := make(map[string]bool)

	for i := range log.Events {
		e := &log.Events[i]
		cases[e.CaseID]++
		activities[e.Activity]++

		if e.Resource == "" {
			r.Completeness.MissingResources++
		} else {
			resources[e.Resource]++
		}

		if r.From.IsZero() || e.End.Before(r.From) {
			r.From = e.End
		}
		if e.End.After(r.To) {
			r.To = e.End
		}

		switch {
		case !e.HasStart():
			r.Completeness.MissingStarts++
		case e.Start.After(e.End):
			r.Completeness.Inverted++
		case e.Start.Equal(e.End):
			r.Completeness.Instant++
		}
		if len(e.Predecessors) > 0 {
			r.Completeness.WithPredecessors++
		}

		key := fmt.Sprintf("%s|%s|%s|%d|%d", e.CaseID, e.Activity, e.Resource, e.Start.UnixNano(), e.End.UnixNano())
		if seen[key] {
			r.Completeness.Duplicates++
		}
		seen[key] = true

		if e.ID != "" {
			ref := model.InstanceID(e.CaseID, e.ID)
			if ids[ref] {
				r.Completeness.DuplicateIDs++
			}
			ids[ref] = true
		}
	}

	r.Cases = len(cases)
	r.Activities = len(activities)
	r.Resources = len(resources)
	if !r.From.IsZero() {
		r.Span = r.To.Sub(r.From)
	}

	r.Distribution = distribution(cases)
	r.Distribution.TopActivities = topN(activities, TopN)
	r.Distribution.TopResources = topN(resources, TopN)

	r.Issues = r.issues()
	r.Warnings = r.warnings(cases)
	return r
}

func distribution(cases map[string]int) Distribution {
	var d Distribution
	if len(cases) == 0 {
		return d
	}

	counts := make([]int, 0, len(cases))
	total := 0
	for _, n := range cases {
		counts = append(counts, n)
		total += n
	}
	sort.Ints(counts)

	d.MinEventsPerCase = counts[0]
	d.MaxEventsPerCase = counts[len(counts)-1]
	d.AvgEventsPerCase = float64(total) / float64(len(cases))
	d.MedianEventsPerCase = counts[len(counts)/2]
	return d
}

// topN returns the n most frequent names; ties break by name.
func topN(m map[string]int, n int) []Count {
	out := make([]Count, 0, len(m))
	for k, v := range m {
		out = append(out, Count{Name: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func (r *Report) issues() []Issue {
	var issues []Issue
	c := r.Completeness

	if c.Inverted > 0 {
		issues = append(issues, Issue{
			Severity:     "error",
			Description:  "Start timestamp after end timestamp; the case is skipped",
			AffectedRows: c.Inverted,
		})
	}
	if c.DuplicateIDs > 0 {
		issues = append(issues, Issue{
			Severity:     "error",
			Description:  "Record IDs repeated within a case; the case is skipped",
			AffectedRows: c.DuplicateIDs,
		})
	}
	if c.MissingStarts > 0 {
		issues = append(issues, Issue{
			Severity:     "warning",
			Description:  "Missing start timestamps; waiting and processing time cannot be separated without estimate_starts",
			AffectedRows: c.MissingStarts,
		})
	}
	if c.Duplicates > 0 {
		issues = append(issues, Issue{
			Severity:     "warning",
			Description:  "Duplicate events (same case, activity, resource and timestamps)",
			AffectedRows: c.Duplicates,
		})
	}
	if c.MissingResources > 0 {
		issues = append(issues, Issue{
			Severity:     "warning",
			Description:  "Events without a resource; contention and unavailability are not attributed for them",
			AffectedRows: c.MissingResources,
		})
	}
	return issues
}

func (r *Report) warnings(cases map[string]int) []string {
	var warnings []string

	if len(cases) > 0 {
		avg := r.Distribution.AvgEventsPerCase
		if avg < 2 {
			warnings = append(warnings, fmt.Sprintf("Average of %.1f events per case - consider verifying the case column mapping", avg))
		}

		single := 0
		for _, n := range cases {
			if n == 1 {
				single++
			}
		}
		if float64(single)/float64(len(cases)) > 0.3 {
			warnings = append(warnings, fmt.Sprintf("%.1f%% of cases have only one event", 100*float64(single)/float64(len(cases))))
		}
	}

	if r.Events > 0 && float64(r.Completeness.Instant)/float64(r.Events) > 0.5 {
		warnings = append(warnings, "Most events have zero duration; the log may record only completions")
	}
	return warnings
}

// ToJSON serializes the report.
func (r *Report) ToJSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

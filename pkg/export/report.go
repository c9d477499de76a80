package export

import (
	"encoding/json"
	"io"
	"time"

	"github.com/logflow/waitlens/pkg/attribution"
	"github.com/logflow/waitlens/pkg/diagnostics"
	"github.com/logflow/waitlens/pkg/engine"
	"github.com/logflow/waitlens/pkg/eventlog"
	"github.com/logflow/waitlens/pkg/report"
)

// RunReport is the serialized form of a run. Durations are in seconds.
type RunReport struct {
	RunID           string                   `json:"run_id"`
	CreatedAt       time.Time                `json:"created_at"`
	Source          string                   `json:"source,omitempty"`
	Cases           int                      `json:"cases"`
	FailedCases     int                      `json:"failed_cases"`
	Warnings        int                      `json:"warnings"`
	Errors          int                      `json:"errors"`
	Precedence      []string                 `json:"precedence"`
	DurationSeconds float64                  `json:"duration_seconds"`
	Load            *eventlog.LoadReport     `json:"load,omitempty"`
	Summary         Summary                  `json:"summary"`
	Handoffs        []Handoff                `json:"handoffs"`
	Rules           []GroupRules             `json:"rules"`
	Diagnostics     []diagnostics.Diagnostic `json:"diagnostics"`
	Records         []Record                 `json:"records"`
}

// Stats mirrors report.Stats in seconds.
type Stats struct {
	Count  int     `json:"count"`
	Total  float64 `json:"total"`
	Mean   float64 `json:"mean"`
	Min    float64 `json:"min"`
	P25    float64 `json:"p25"`
	Median float64 `json:"median"`
	P75    float64 `json:"p75"`
	P90    float64 `json:"p90"`
	Max    float64 `json:"max"`
}

// Transition is the summary of one (source, target) transition.
type Transition struct {
	Source  string           `json:"source"`
	Target  string           `json:"target"`
	Count   int              `json:"count"`
	Defects int              `json:"defects"`
	Wait    Stats            `json:"wait"`
	Causes  map[string]Stats `json:"causes"`
}

// Summary is the run-level aggregate.
type Summary struct {
	Instances        int                `json:"instances"`
	Defects          int                `json:"defects"`
	TotalWaitSeconds float64            `json:"total_wait_seconds"`
	CauseSeconds     map[string]float64 `json:"cause_seconds"`
	Transitions      []Transition       `json:"transitions"`
}

// Handoff is one handoff row.
type Handoff struct {
	SourceActivity   string             `json:"source_activity"`
	SourceResource   string             `json:"source_resource"`
	TargetActivity   string             `json:"target_activity"`
	TargetResource   string             `json:"target_resource"`
	Type             string             `json:"handoff_type"`
	Frequency        int                `json:"frequency"`
	TotalWaitSeconds float64            `json:"total_wait_seconds"`
	MeanWaitSeconds  float64            `json:"mean_wait_seconds"`
	CauseSeconds     map[string]float64 `json:"cause_seconds"`
}

// Rule is one mined prioritization rule.
type Rule struct {
	Condition string  `json:"condition"`
	Positives int     `json:"positives"`
	Negatives int     `json:"negatives"`
	Precision float64 `json:"precision"`
}

// GroupRules is the rule set of one (activity, resource) group.
type GroupRules struct {
	Activity   string `json:"activity"`
	Resource   string `json:"resource"`
	Pairs      int    `json:"pairs"`
	Inversions int    `json:"inversions"`
	Explained  int    `json:"explained"`
	Skipped    bool   `json:"skipped"`
	Rules      []Rule `json:"rules"`
}

// Record is one attribution row.
type Record struct {
	InstanceID            string    `json:"instance_id"`
	CaseID                string    `json:"case_id"`
	Activity              string    `json:"activity"`
	Resource              string    `json:"resource"`
	SourceActivity        string    `json:"source_activity"`
	SourceResource        string    `json:"source_resource,omitempty"`
	Enabled               time.Time `json:"enabled"`
	Start                 time.Time `json:"start"`
	End                   time.Time `json:"end"`
	WaitSeconds           float64   `json:"wait_seconds"`
	BatchingSeconds       float64   `json:"batching_seconds"`
	PrioritizationSeconds float64   `json:"prioritization_seconds"`
	ContentionSeconds     float64   `json:"contention_seconds"`
	UnavailabilitySeconds float64   `json:"unavailability_seconds"`
	ExtraneousSeconds     float64   `json:"extraneous_seconds"`
	Defect                bool      `json:"defect,omitempty"`
	Clamped               bool      `json:"clamped,omitempty"`
}

// CauseSeconds returns the seconds a record assigns to c.
func (r Record) CauseSeconds(c attribution.Cause) float64 {
	switch c {
	case attribution.CauseBatching:
		return r.BatchingSeconds
	case attribution.CausePrioritization:
		return r.PrioritizationSeconds
	case attribution.CauseContention:
		return r.ContentionSeconds
	case attribution.CauseUnavailability:
		return r.UnavailabilitySeconds
	case attribution.CauseExtraneous:
		return r.ExtraneousSeconds
	}
	return 0
}

// NewRunReport converts an engine result.
func NewRunReport(runID, source string, res *engine.Result, load *eventlog.LoadReport) *RunReport {
	rep := &RunReport{
		RunID:           runID,
		CreatedAt:       time.Now().UTC(),
		Source:          source,
		Cases:           res.Cases,
		FailedCases:     res.FailedCases,
		Warnings:        res.Warnings,
		Errors:          res.Errors,
		Precedence:      make([]string, 0, len(res.Precedence)),
		DurationSeconds: res.Duration.Seconds(),
		Load:            load,
		Summary:         newSummary(res.Summary),
		Handoffs:        make([]Handoff, 0, len(res.Handoffs)),
		Rules:           make([]GroupRules, 0, len(res.Rules)),
		Diagnostics:     res.Diagnostics,
		Records:         make([]Record, 0, len(res.Records)),
	}
	if rep.Diagnostics == nil {
		rep.Diagnostics = []diagnostics.Diagnostic{}
	}
	for _, c := range res.Precedence {
		rep.Precedence = append(rep.Precedence, string(c))
	}
	for _, h := range res.Handoffs {
		rep.Handoffs = append(rep.Handoffs, Handoff{
			SourceActivity:   h.SourceActivity,
			SourceResource:   h.SourceResource,
			TargetActivity:   h.TargetActivity,
			TargetResource:   h.TargetResource,
			Type:             string(h.Type),
			Frequency:        h.Frequency,
			TotalWaitSeconds: h.TotalWait.Seconds(),
			MeanWaitSeconds:  h.MeanWait.Seconds(),
			CauseSeconds:     causeSeconds(h.Causes),
		})
	}
	for _, g := range res.Rules {
		rep.Rules = append(rep.Rules, newGroupRules(g))
	}
	for i := range res.Records {
		rep.Records = append(rep.Records, newRecord(&res.Records[i]))
	}
	return rep
}

func newStats(s report.Stats) Stats {
	return Stats{
		Count:  s.Count,
		Total:  s.Total.Seconds(),
		Mean:   s.Mean.Seconds(),
		Min:    s.Min.Seconds(),
		P25:    s.P25.Seconds(),
		Median: s.Median.Seconds(),
		P75:    s.P75.Seconds(),
		P90:    s.P90.Seconds(),
		Max:    s.Max.Seconds(),
	}
}

func newSummary(s report.Summary) Summary {
	out := Summary{
		Instances:        s.Instances,
		Defects:          s.Defects,
		TotalWaitSeconds: s.TotalWait.Seconds(),
		CauseSeconds:     causeSeconds(s.Totals),
		Transitions:      make([]Transition, 0, len(s.Transitions)),
	}
	for _, t := range s.Transitions {
		tr := Transition{
			Source:  t.Transition.Source,
			Target:  t.Transition.Target,
			Count:   t.Count,
			Defects: t.Defects,
			Wait:    newStats(t.Wait),
			Causes:  make(map[string]Stats, len(t.Causes)),
		}
		for c, st := range t.Causes {
			tr.Causes[string(c)] = newStats(st)
		}
		out.Transitions = append(out.Transitions, tr)
	}
	return out
}

func causeSeconds(m map[attribution.Cause]time.Duration) map[string]float64 {
	out := make(map[string]float64, len(attribution.Causes))
	for _, c := range attribution.Causes {
		out[string(c)] = m[c].Seconds()
	}
	return out
}

func newGroupRules(g attribution.GroupRules) GroupRules {
	out := GroupRules{
		Activity:   g.Group.Activity,
		Resource:   g.Group.Resource,
		Pairs:      g.Pairs,
		Inversions: g.Inversions,
		Explained:  len(g.Explained),
		Skipped:    g.Skipped,
		Rules:      make([]Rule, 0, len(g.Rules.Rules)),
	}
	for _, r := range g.Rules.Rules {
		out.Rules = append(out.Rules, Rule{
			Condition: r.String(),
			Positives: r.Positives,
			Negatives: r.Negatives,
			Precision: r.Precision(),
		})
	}
	return out
}

func newRecord(r *attribution.Record) Record {
	return Record{
		InstanceID:            r.InstanceID,
		CaseID:                r.CaseID,
		Activity:              r.Activity,
		Resource:              r.Resource,
		SourceActivity:        r.Transition.Source,
		SourceResource:        r.EnabledByResource,
		Enabled:               r.Enabled,
		Start:                 r.Start,
		End:                   r.End,
		WaitSeconds:           r.Wait.Seconds(),
		BatchingSeconds:       r.Batching.Seconds(),
		PrioritizationSeconds: r.Prioritization.Seconds(),
		ContentionSeconds:     r.Contention.Seconds(),
		UnavailabilitySeconds: r.Unavailability.Seconds(),
		ExtraneousSeconds:     r.Extraneous.Seconds(),
		Defect:                r.Defect,
		Clamped:               r.Clamped,
	}
}

// WriteJSON encodes the report with indentation.
func WriteJSON(w io.Writer, rep *RunReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}

// ReadJSON decodes a report written by WriteJSON.
func ReadJSON(r io.Reader) (*RunReport, error) {
	var rep RunReport
	if err := json.NewDecoder(r).Decode(&rep); err != nil {
		return nil, err
	}
	return &rep, nil
}

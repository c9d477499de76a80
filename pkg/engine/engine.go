// Package engine runs a waiting-time decomposition over a closed event log:
// timelines, waits, cause claims, reconciliation and aggregation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/logflow/waitlens/internal/model"
	"github.com/logflow/waitlens/pkg/attribution"
	"github.com/logflow/waitlens/pkg/diagnostics"
	werrors "github.com/logflow/waitlens/pkg/errors"
	"github.com/logflow/waitlens/pkg/evidence"
	"github.com/logflow/waitlens/pkg/index"
	"github.com/logflow/waitlens/pkg/interval"
	"github.com/logflow/waitlens/pkg/report"
	"github.com/logflow/waitlens/pkg/rules"
	"github.com/logflow/waitlens/pkg/telemetry"
	"github.com/logflow/waitlens/pkg/timeline"
	"github.com/logflow/waitlens/pkg/waiting"
)

// StartEstimator fills in missing start timestamps before the engine runs.
type StartEstimator interface {
	EstimateStarts(log *model.Log) (*model.Log, error)
}

// Stage names a step of a run, reported through the progress callback.
type Stage string

const (
	StageTimeline    Stage = "timeline"
	StageRules       Stage = "rules"
	StageAttribution Stage = "attribution"
)

// ProgressFunc is called as units of a stage complete. It may be called
// from several goroutines.
type ProgressFunc func(stage Stage, done, total int)

// Config holds engine configuration.
type Config struct {
	// Workers bounds parallelism; 0 means GOMAXPROCS.
	Workers int

	// Precedence orders causes for overlap resolution.
	Precedence []attribution.Cause

	// MinInversions is the fewest inversions a group needs for rule mining.
	MinInversions int

	// Learner mines prioritization rules. Nil selects a SequentialCovering
	// learner seeded with Seed.
	Learner rules.Learner
	Seed    int64

	Timeline timeline.Options

	Calendar       evidence.Calendar
	Batches        evidence.BatchDetector
	StartEstimator StartEstimator

	// Sink receives every diagnostic as it is collected.
	Sink diagnostics.Sink
}

// DefaultConfig returns a Config with the default policy and no evidence.
func DefaultConfig() Config {
	return Config{
		Precedence:    attribution.DefaultPrecedence,
		MinInversions: 1,
		Seed:          42,
		Calendar:      evidence.AlwaysAvailable{},
		Batches:       evidence.NoBatches{},
	}
}

// Result is the output of a run.
type Result struct {
	Records     []attribution.Record
	Summary     report.Summary
	Handoffs    []report.Handoff
	Rules       []attribution.GroupRules
	Diagnostics []diagnostics.Diagnostic

	// Precedence is the cause order the reconciler resolved overlaps with.
	Precedence []attribution.Cause

	Cases       int
	FailedCases int
	Warnings    int
	Errors      int
	Duration    time.Duration
}

// Engine executes runs. It holds no per-run state and may be reused.
type Engine struct {
	cfg        Config
	reconciler *attribution.Reconciler
	learner    rules.Learner
	builder    *timeline.Builder
	progressFn ProgressFunc
}

// New validates cfg and creates an Engine.
func New(cfg Config) (*Engine, error) {
	rec, err := attribution.NewReconciler(cfg.Precedence)
	if err != nil {
		return nil, err
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.Calendar == nil {
		cfg.Calendar = evidence.AlwaysAvailable{}
	}
	if cfg.Batches == nil {
		cfg.Batches = evidence.NoBatches{}
	}
	learner := cfg.Learner
	if learner == nil {
		learner = rules.NewSequentialCovering(cfg.Seed)
	}
	return &Engine{
		cfg:        cfg,
		reconciler: rec,
		learner:    learner,
		builder:    timeline.NewBuilder(cfg.Timeline),
	}, nil
}

// SetProgressCallback sets the progress callback.
func (e *Engine) SetProgressCallback(fn ProgressFunc) {
	e.progressFn = fn
}

// caseResult is the write-once output slot of one case.
type caseResult struct {
	instances []model.ActivityInstance
	waits     []waiting.Wait
	warnings  []error
	err       error
}

// Run decomposes the waiting time of every instance in log. Only an empty or
// malformed log fails the run; per-case, per-group and per-instance failures
// are returned as diagnostics next to the successful results.
func (e *Engine) Run(ctx context.Context, log *model.Log) (*Result, error) {
	began := time.Now()
	ctx, span := telemetry.Start(ctx, "engine.run")
	defer span.End()

	log, err := e.prepare(log)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	diags := diagnostics.NewCollector(e.cfg.Sink)
	cases := timeline.GroupCases(log)
	span.SetAttributes(
		attribute.Int("waitlens.events", len(log.Events)),
		attribute.Int("waitlens.cases", len(cases)),
	)

	results, err := e.buildTimelines(ctx, log, cases)
	if err != nil {
		return nil, err
	}

	var instances []model.ActivityInstance
	var waits []waiting.Wait
	failed := 0
	for i, r := range results {
		if r.err != nil {
			failed++
			diags.AddError(diagnostics.ScopeCase, cases[i].ID, r.err)
			continue
		}
		for _, w := range r.warnings {
			diags.AddError(diagnostics.ScopeInstance, instanceOf(w), w)
		}
		instances = append(instances, r.instances...)
		waits = append(waits, r.waits...)
	}

	idx := index.Build(instances)

	groups, err := e.mineRules(ctx, idx)
	if err != nil {
		return nil, err
	}
	for _, g := range groups {
		if g.Warning != nil {
			diags.AddError(diagnostics.ScopeGroup, groupSubject(g.Group), g.Warning)
		}
	}

	records, overruns, err := e.attribute(ctx, idx, waits, groups)
	if err != nil {
		return nil, err
	}
	for i, oerr := range overruns {
		if oerr != nil {
			diags.AddError(diagnostics.ScopeInstance, records[i].InstanceID, oerr)
		}
	}

	_, aggSpan := telemetry.Start(ctx, "engine.aggregate")
	res := &Result{
		Records:     records,
		Summary:     report.Summarize(records),
		Handoffs:    report.Handoffs(records),
		Rules:       groups,
		Diagnostics: diags.Items(),
		Precedence:  e.reconciler.Precedence(),
		Cases:       len(cases),
		FailedCases: failed,
		Warnings:    diags.Count(diagnostics.SeverityWarning),
		Errors:      diags.Count(diagnostics.SeverityError),
	}
	aggSpan.End()

	res.Duration = time.Since(began)
	span.SetAttributes(
		attribute.Int("waitlens.instances", len(records)),
		attribute.Int("waitlens.failed_cases", failed),
		attribute.Int("waitlens.diagnostics", len(res.Diagnostics)),
	)
	return res, nil
}

// prepare applies the top-level checks and start-time estimation.
func (e *Engine) prepare(log *model.Log) (*model.Log, error) {
	if log == nil || len(log.Events) == 0 {
		return nil, werrors.EmptyLog()
	}

	missingStart := false
	for i := range log.Events {
		ev := &log.Events[i]
		switch {
		case ev.CaseID == "":
			return nil, werrors.MalformedLog(fmt.Sprintf("event %d has no case id", i))
		case ev.Activity == "":
			return nil, werrors.MalformedLog(fmt.Sprintf("event %d has no activity", i))
		case ev.End.IsZero():
			return nil, werrors.MalformedLog(fmt.Sprintf("event %d has no end timestamp", i))
		case !ev.HasStart():
			missingStart = true
		}
	}

	if missingStart {
		if e.cfg.StartEstimator == nil {
			return nil, werrors.MalformedLog("start timestamps missing and no start-time estimator configured")
		}
		est, err := e.cfg.StartEstimator.EstimateStarts(log)
		if err != nil {
			return nil, werrors.Wrap(err, werrors.CodeMalformedLog, "start-time estimation failed")
		}
		log = est
	}

	for i := range log.Events {
		ev := &log.Events[i]
		if !ev.HasStart() {
			return nil, werrors.MalformedLog(fmt.Sprintf("event %d has no start timestamp after estimation", i))
		}
	}
	return log, nil
}

// buildTimelines fans out over cases. Each worker writes only its own slot.
func (e *Engine) buildTimelines(ctx context.Context, log *model.Log, cases []timeline.Case) ([]caseResult, error) {
	ctx, span := telemetry.Start(ctx, "engine.timeline")
	defer span.End()

	results := make([]caseResult, len(cases))
	var done atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for i := range cases {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			c := cases[i]
			instances, err := e.builder.Build(c, log.Arrivals[c.ID])
			if err != nil {
				results[i] = caseResult{err: err}
			} else {
				waits, warnings := waiting.ExtractAll(instances)
				results[i] = caseResult{instances: instances, waits: waits, warnings: warnings}
			}
			e.report(StageTimeline, int(done.Add(1)), len(cases))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// mineRules fits one rule set per (activity, resource) group in parallel;
// each fit is single-threaded.
func (e *Engine) mineRules(ctx context.Context, idx *index.InstanceIndex) ([]attribution.GroupRules, error) {
	ctx, span := telemetry.Start(ctx, "engine.rules")
	defer span.End()

	miner := attribution.NewMiner(idx, e.learner, e.cfg.MinInversions)
	groups := idx.Groups()
	out := make([]attribution.GroupRules, len(groups))
	var done atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for i := range groups {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out[i] = miner.Mine(groups[i])
			e.report(StageRules, int(done.Add(1)), len(groups))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("waitlens.groups", len(groups)))
	return out, nil
}

// attribute claims and reconciles every wait. Positions in waits match the
// index positions.
func (e *Engine) attribute(ctx context.Context, idx *index.InstanceIndex, waits []waiting.Wait, groups []attribution.GroupRules) ([]attribution.Record, []error, error) {
	ctx, span := telemetry.Start(ctx, "engine.attribution")
	defer span.End()

	batches := e.cfg.Batches.Detect(idx.Instances())
	attributors := []attribution.Attributor{
		attribution.NewUnavailability(idx, e.cfg.Calendar),
		attribution.NewBatching(idx, batches),
		attribution.NewPrioritization(idx, groups),
		attribution.NewContention(idx),
	}

	records := make([]attribution.Record, len(waits))
	overruns := make([]error, len(waits))
	const chunk = 256
	var done atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for lo := 0; lo < len(waits); lo += chunk {
		hi := lo + chunk
		if hi > len(waits) {
			hi = len(waits)
		}
		lo := lo
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			for pos := lo; pos < hi; pos++ {
				records[pos], overruns[pos] = e.attributeOne(idx, uint32(pos), waits[pos], attributors)
			}
			e.report(StageAttribution, int(done.Add(int64(hi-lo))), len(waits))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return records, overruns, nil
}

func (e *Engine) attributeOne(idx *index.InstanceIndex, pos uint32, w waiting.Wait, attributors []attribution.Attributor) (attribution.Record, error) {
	rec := attribution.NewRecord(idx.Instance(pos))
	rec.Wait = w.Duration()
	rec.Clamped = w.Clamped()

	claims := make(map[attribution.Cause]interval.Set, len(attributors))
	if !w.Interval.Empty() {
		for _, a := range attributors {
			claims[a.Cause()] = a.Claim(pos, w.Interval)
		}
	}

	a, err := e.reconciler.Reconcile(rec.InstanceID, w.Interval, claims)
	rec.Attribution = a
	rec.Defect = err != nil
	return rec, err
}

func (e *Engine) report(stage Stage, done, total int) {
	if e.progressFn != nil {
		e.progressFn(stage, done, total)
	}
}

func instanceOf(err error) string {
	var wErr *werrors.Error
	if errors.As(err, &wErr) {
		if id, ok := wErr.Context["instance"].(string); ok {
			return id
		}
	}
	return ""
}

func groupSubject(g index.Group) string {
	return g.Activity + "@" + g.Resource
}

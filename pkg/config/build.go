package config

import (
	"github.com/logflow/waitlens/pkg/engine"
	"github.com/logflow/waitlens/pkg/eventlog"
	"github.com/logflow/waitlens/pkg/evidence"
	"github.com/logflow/waitlens/pkg/export"
	"github.com/logflow/waitlens/pkg/rules"
	"github.com/logflow/waitlens/pkg/telemetry"
	"github.com/logflow/waitlens/pkg/timeline"
)

// LoaderConfig returns the event log loader settings.
func (c *Config) LoaderConfig() eventlog.Config {
	cfg := eventlog.DefaultConfig()
	cfg.Columns = c.Log.Columns
	cfg.Format, _ = eventlog.ParseFormat(c.Log.Format)
	cfg.TimestampFormat = c.Log.TimestampFormat
	switch c.Log.Delimiter {
	case "":
	case `\t`:
		cfg.Delimiter = '\t'
	default:
		cfg.Delimiter = c.Log.Delimiter[0]
	}
	return cfg
}

// Learner returns the rule learner.
func (c *Config) Learner() *rules.SequentialCovering {
	l := rules.NewSequentialCovering(c.Engine.Seed)
	p := c.Prioritization
	if p.MaxRules > 0 {
		l.MaxRules = p.MaxRules
	}
	if p.MaxConditions > 0 {
		l.MaxConditions = p.MaxConditions
	}
	l.MinPrecision = p.MinPrecision
	l.PruneFraction = p.PruneFraction
	return l
}

// EngineConfig assembles the engine configuration, loading the calendar and
// batch files it references.
func (c *Config) EngineConfig() (engine.Config, error) {
	cfg := engine.DefaultConfig()

	causes, err := c.Causes()
	if err != nil {
		return cfg, err
	}
	cfg.Precedence = causes
	cfg.Workers = c.Engine.Workers
	cfg.Seed = c.Engine.Seed
	cfg.MinInversions = c.Prioritization.MinInversions
	cfg.Learner = c.Learner()
	cfg.Timeline = timeline.Options{
		Model:            timeline.PrecedenceModel(c.Timeline.PrecedenceModel),
		ArrivalAttribute: c.Timeline.ArrivalAttribute,
	}

	if c.Evidence.CalendarFile != "" {
		cal, err := evidence.LoadCalendarFile(c.Evidence.CalendarFile)
		if err != nil {
			return cfg, err
		}
		cfg.Calendar = cal
	}
	if c.Engine.PooledResources {
		cfg.Calendar = evidence.PooledCalendar{Calendar: cfg.Calendar}
	}

	switch {
	case c.Evidence.BatchFile != "":
		batches, err := evidence.LoadBatchFile(c.Evidence.BatchFile)
		if err != nil {
			return cfg, err
		}
		cfg.Batches = batches
	case c.Evidence.DetectBatches:
		cfg.Batches = evidence.SimultaneousStartDetector{}
	}

	if c.Log.EstimateStarts {
		cfg.StartEstimator = eventlog.EnabledStartEstimator{}
	}
	return cfg, nil
}

// ExportOptions returns the report writer settings.
func (c *Config) ExportOptions() (export.Options, error) {
	formats, err := export.ParseFormats(c.Output.Formats)
	if err != nil {
		return export.Options{}, err
	}
	compression, err := export.ParseCompression(c.Output.Compression)
	if err != nil {
		return export.Options{}, err
	}
	return export.Options{Dir: c.Output.Dir, Formats: formats, Compression: compression}, nil
}

// OTLPConfig returns the trace exporter settings.
func (c *Config) OTLPConfig() telemetry.OTLPConfig {
	name := c.Telemetry.ServiceName
	if name == "" {
		name = "waitlens"
	}
	cfg := telemetry.DefaultOTLPConfig(name)
	cfg.Endpoint = c.Telemetry.OTLPEndpoint
	cfg.InsecureTLS = c.Telemetry.Insecure
	cfg.Headers = c.Telemetry.Headers
	cfg.SamplingRatio = c.Telemetry.SamplingRatio
	return cfg
}

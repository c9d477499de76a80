package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/logflow/waitlens/pkg/attribution"
	"github.com/logflow/waitlens/pkg/eventlog"
	werrors "github.com/logflow/waitlens/pkg/errors"
	"github.com/logflow/waitlens/pkg/evidence"
	"github.com/logflow/waitlens/pkg/export"
)

func testManager(env map[string]string, paths ...string) *Manager {
	m := NewManager()
	m.searchPaths = paths
	m.getenv = func(k string) string { return env[k] }
	return m
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() error = %v", err)
	}
	causes, err := Default().Causes()
	if err != nil {
		t.Fatal(err)
	}
	for i, c := range attribution.DefaultPrecedence {
		if causes[i] != c {
			t.Errorf("Causes()[%d] = %v, want %v", i, causes[i], c)
		}
	}
}

func TestLoadPriority(t *testing.T) {
	dir := t.TempDir()
	user := writeFile(t, dir, "user.yaml", `
engine:
  workers: 2
  seed: 7
log:
  case: ticket
  activity: step
prioritization:
  min_inversions: 3
`)
	project := writeFile(t, dir, "project.yaml", `
engine:
  workers: 4
output:
  formats: [json, xlsx]
`)
	explicit := writeFile(t, dir, "explicit.yaml", `
engine:
  precedence: [contention, batching, prioritization, unavailability]
`)

	m := testManager(map[string]string{"WAITLENS_SEED": "99"}, user, filepath.Join(dir, "missing.yaml"), project)
	if err := m.Load(explicit); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	cfg := m.Get()

	if cfg.Engine.Workers != 4 {
		t.Errorf("Workers = %d, want 4 from the project file", cfg.Engine.Workers)
	}
	if cfg.Engine.Seed != 99 {
		t.Errorf("Seed = %d, want 99 from the environment", cfg.Engine.Seed)
	}
	if cfg.Log.Case != "ticket" || cfg.Log.Activity != "step" {
		t.Errorf("columns = %+v, want ticket/step", cfg.Log.Columns)
	}
	if cfg.Log.End != eventlog.DefaultConfig().Columns.End {
		t.Errorf("End column = %q, want default kept", cfg.Log.End)
	}
	if cfg.Prioritization.MinInversions != 3 || cfg.Prioritization.MaxRules != 8 {
		t.Errorf("prioritization = %+v", cfg.Prioritization)
	}
	if cfg.Engine.Precedence[0] != "contention" {
		t.Errorf("Precedence = %v, want explicit file to win", cfg.Engine.Precedence)
	}
	if len(m.GetPaths()) != 3 {
		t.Errorf("GetPaths() = %v, want 3 loaded files", m.GetPaths())
	}
}

func TestLoadExplicitMissing(t *testing.T) {
	m := testManager(nil)
	if err := m.Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load() expected error for missing explicit file")
	}
}

func TestLoadEnv(t *testing.T) {
	m := testManager(map[string]string{
		"WAITLENS_PRECEDENCE":     "batching, unavailability, contention, prioritization",
		"WAITLENS_OUTPUT_FORMATS": "parquet,json",
		"WAITLENS_STORE":          "none",
	})
	if err := m.Load(""); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	cfg := m.Get()
	if got := cfg.Engine.Precedence; len(got) != 4 || got[0] != "batching" || got[3] != "prioritization" {
		t.Errorf("Precedence = %v", got)
	}
	if got := cfg.Output.Formats; len(got) != 2 || got[0] != "parquet" {
		t.Errorf("Formats = %v", got)
	}
	if cfg.Store.Backend != "none" {
		t.Errorf("Store.Backend = %q, want none", cfg.Store.Backend)
	}

	bad := testManager(map[string]string{"WAITLENS_WORKERS": "many"})
	if err := bad.Load(""); !werrors.IsCode(err, werrors.CodeInvalidConfig) {
		t.Errorf("Load() error = %v, want %s", err, werrors.CodeInvalidConfig)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative workers", func(c *Config) { c.Engine.Workers = -1 }},
		{"unknown cause", func(c *Config) { c.Engine.Precedence = []string{"lunch", "batching", "contention", "prioritization"} }},
		{"duplicate cause", func(c *Config) {
			c.Engine.Precedence = []string{"batching", "batching", "contention", "prioritization"}
		}},
		{"extraneous in precedence", func(c *Config) {
			c.Engine.Precedence = append(c.Engine.Precedence, "extraneous")
		}},
		{"negative min inversions", func(c *Config) { c.Prioritization.MinInversions = -1 }},
		{"precision above one", func(c *Config) { c.Prioritization.MinPrecision = 1.5 }},
		{"prune fraction one", func(c *Config) { c.Prioritization.PruneFraction = 1 }},
		{"unknown log format", func(c *Config) { c.Log.Format = "yaml" }},
		{"long delimiter", func(c *Config) { c.Log.Delimiter = "||" }},
		{"unknown output format", func(c *Config) { c.Output.Formats = []string{"csv"} }},
		{"unknown compression", func(c *Config) { c.Output.Compression = "brotli" }},
		{"unknown store", func(c *Config) { c.Store.Backend = "ftp" }},
		{"mirror of itself", func(c *Config) { c.Store.Mirror = "local" }},
		{"sampling ratio above one", func(c *Config) { c.Telemetry.SamplingRatio = 2 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !werrors.IsCode(err, werrors.CodeInvalidConfig) {
				t.Errorf("Validate() error = %v, want %s", err, werrors.CodeInvalidConfig)
			}
		})
	}
}

func TestEngineConfig(t *testing.T) {
	dir := t.TempDir()
	cal := writeFile(t, dir, "calendar.yaml", `
timezone: UTC
resources:
  "*":
    weekdays: ["09:00-17:00"]
`)
	cfg := Default()
	cfg.Evidence.CalendarFile = cal
	cfg.Evidence.DetectBatches = true
	cfg.Engine.PooledResources = true
	cfg.Log.EstimateStarts = true
	cfg.Timeline.PrecedenceModel = map[string][]string{"B": {"A"}}

	ec, err := cfg.EngineConfig()
	if err != nil {
		t.Fatalf("EngineConfig() error = %v", err)
	}
	if _, ok := ec.Calendar.(evidence.PooledCalendar); !ok {
		t.Errorf("Calendar = %T, want PooledCalendar", ec.Calendar)
	}
	if _, ok := ec.Batches.(evidence.SimultaneousStartDetector); !ok {
		t.Errorf("Batches = %T, want SimultaneousStartDetector", ec.Batches)
	}
	if ec.StartEstimator == nil {
		t.Error("StartEstimator = nil, want estimator")
	}
	if got := ec.Timeline.Model["B"]; len(got) != 1 || got[0] != "A" {
		t.Errorf("Model[B] = %v, want [A]", got)
	}
	if ec.Seed != 42 || ec.MinInversions != 1 {
		t.Errorf("Seed = %d MinInversions = %d", ec.Seed, ec.MinInversions)
	}

	cfg.Evidence.CalendarFile = filepath.Join(dir, "missing.yaml")
	if _, err := cfg.EngineConfig(); !werrors.IsCode(err, werrors.CodeEvidenceLoad) {
		t.Errorf("EngineConfig() error = %v, want %s", err, werrors.CodeEvidenceLoad)
	}
}

func TestLoaderAndExportOptions(t *testing.T) {
	cfg := Default()
	cfg.Log.Delimiter = `\t`
	cfg.Log.Format = "xes"
	if lc := cfg.LoaderConfig(); lc.Delimiter != '\t' || lc.Format != eventlog.FormatXES {
		t.Errorf("LoaderConfig() = %+v", lc)
	}

	cfg.Output.Formats = []string{"json", "parquet"}
	cfg.Output.Compression = "zstd"
	opts, err := cfg.ExportOptions()
	if err != nil {
		t.Fatalf("ExportOptions() error = %v", err)
	}
	if len(opts.Formats) != 2 || opts.Formats[1] != export.FormatParquet || opts.Compression != export.CompressionZstd {
		t.Errorf("ExportOptions() = %+v", opts)
	}
}

// Package config provides hierarchical configuration management.
// Priority: defaults < system < user < project < --config file < env < flags
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/logflow/waitlens/pkg/attribution"
	"github.com/logflow/waitlens/pkg/eventlog"
	werrors "github.com/logflow/waitlens/pkg/errors"
	"github.com/logflow/waitlens/pkg/export"
	"github.com/logflow/waitlens/pkg/store"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "WAITLENS_"

// Config holds all waitlens configuration.
type Config struct {
	Version int `yaml:"version"`

	Engine         EngineConfig         `yaml:"engine"`
	Log            LogConfig            `yaml:"log"`
	Timeline       TimelineConfig       `yaml:"timeline"`
	Prioritization PrioritizationConfig `yaml:"prioritization"`
	Evidence       EvidenceConfig       `yaml:"evidence"`
	Output         OutputConfig         `yaml:"output"`
	Store          store.Config         `yaml:"store"`
	Telemetry      TelemetryConfig      `yaml:"telemetry"`
}

// EngineConfig controls the attribution run.
type EngineConfig struct {
	Workers    int      `yaml:"workers"` // 0 = GOMAXPROCS
	Seed       int64    `yaml:"seed"`
	Precedence []string `yaml:"precedence"`

	// PooledResources treats all resources as one pool for availability.
	PooledResources bool `yaml:"pooled_resources"`
}

// LogConfig controls event log loading.
type LogConfig struct {
	eventlog.Columns `yaml:",inline"`

	Format          string `yaml:"format"` // csv | xes | xlsx | duckdb | auto
	TimestampFormat string `yaml:"timestamp_format"`
	Delimiter       string `yaml:"delimiter"`

	// EstimateStarts fills missing start timestamps with the enabled time.
	EstimateStarts bool `yaml:"estimate_starts"`
}

// TimelineConfig controls precedence and arrival resolution.
type TimelineConfig struct {
	PrecedenceModel  map[string][]string `yaml:"precedence_model"`
	ArrivalAttribute string              `yaml:"arrival_attribute"`
}

// PrioritizationConfig controls rule mining.
type PrioritizationConfig struct {
	MinInversions int     `yaml:"min_inversions"`
	MaxRules      int     `yaml:"max_rules"`
	MaxConditions int     `yaml:"max_conditions"`
	MinPrecision  float64 `yaml:"min_precision"`
	PruneFraction float64 `yaml:"prune_fraction"`
}

// EvidenceConfig points at external evidence.
type EvidenceConfig struct {
	CalendarFile  string `yaml:"calendar_file"`
	BatchFile     string `yaml:"batch_file"`
	DetectBatches bool   `yaml:"detect_batches"`
}

// OutputConfig controls report files.
type OutputConfig struct {
	Dir         string   `yaml:"dir"`
	Formats     []string `yaml:"formats"` // json | parquet | xlsx | star
	Compression string   `yaml:"compression"`
}

// TelemetryConfig for optional tracing and metrics.
type TelemetryConfig struct {
	OTLPEndpoint  string            `yaml:"otlp_endpoint"`
	Insecure      bool              `yaml:"insecure"`
	Headers       map[string]string `yaml:"headers"`
	SamplingRatio float64           `yaml:"sampling_ratio"`
	ServiceName   string            `yaml:"service_name"`
	MetricsFile   string            `yaml:"metrics_file"`
}

// Default returns the default configuration.
func Default() *Config {
	precedence := make([]string, len(attribution.DefaultPrecedence))
	for i, c := range attribution.DefaultPrecedence {
		precedence[i] = string(c)
	}
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Version: 1,
		Engine: EngineConfig{
			Seed:       42,
			Precedence: precedence,
		},
		Log: LogConfig{
			Columns:   eventlog.DefaultConfig().Columns,
			Format:    "auto",
			Delimiter: ",",
		},
		Prioritization: PrioritizationConfig{
			MinInversions: 1,
			MaxRules:      8,
			MaxConditions: 3,
			MinPrecision:  0.6,
			PruneFraction: 0.33,
		},
		Output: OutputConfig{
			Dir:         "waitlens-out",
			Formats:     []string{"json"},
			Compression: "snappy",
		},
		Store: store.Config{
			Backend: "local",
			Dir:     filepath.Join(homeDir, ".waitlens", "runs"),
			Redis:   store.DefaultRedisConfig("localhost:6379"),
			S3:      store.DefaultS3Config(""),
			Breaker: store.DefaultBreakerConfig(),
		},
		Telemetry: TelemetryConfig{
			ServiceName:   "waitlens",
			Insecure:      true,
			SamplingRatio: 1,
		},
	}
}

// Validate checks the configuration. Every problem is reported as
// InvalidConfig.
func (c *Config) Validate() error {
	if c.Engine.Workers < 0 {
		return werrors.InvalidConfig("engine.workers", c.Engine.Workers)
	}
	if _, err := c.Causes(); err != nil {
		return err
	}

	p := c.Prioritization
	switch {
	case p.MinInversions < 0:
		return werrors.InvalidConfig("prioritization.min_inversions", p.MinInversions)
	case p.MaxRules < 0:
		return werrors.InvalidConfig("prioritization.max_rules", p.MaxRules)
	case p.MaxConditions < 0:
		return werrors.InvalidConfig("prioritization.max_conditions", p.MaxConditions)
	case p.MinPrecision < 0 || p.MinPrecision > 1:
		return werrors.InvalidConfig("prioritization.min_precision", p.MinPrecision)
	case p.PruneFraction < 0 || p.PruneFraction >= 1:
		return werrors.InvalidConfig("prioritization.prune_fraction", p.PruneFraction)
	}

	if _, err := eventlog.ParseFormat(c.Log.Format); err != nil {
		return werrors.InvalidConfig("log.format", c.Log.Format)
	}
	if len(c.Log.Delimiter) > 1 && c.Log.Delimiter != `\t` {
		return werrors.InvalidConfig("log.delimiter", c.Log.Delimiter)
	}
	if _, err := export.ParseFormats(c.Output.Formats); err != nil {
		return err
	}
	if _, err := export.ParseCompression(c.Output.Compression); err != nil {
		return werrors.InvalidConfig("output.compression", c.Output.Compression)
	}

	if r := c.Telemetry.SamplingRatio; r < 0 || r > 1 {
		return werrors.InvalidConfig("telemetry.sampling_ratio", r)
	}
	if !knownBackend(c.Store.Backend) {
		return werrors.InvalidConfig("store.backend", c.Store.Backend)
	}
	if !knownBackend(c.Store.Mirror) || (c.Store.Mirror != "" && c.Store.Mirror == c.Store.Backend) {
		return werrors.InvalidConfig("store.mirror", c.Store.Mirror)
	}
	return nil
}

func knownBackend(name string) bool {
	if name == "" {
		return true
	}
	for _, b := range store.Backends {
		if name == b {
			return true
		}
	}
	return false
}

// Causes parses the reconciler precedence.
func (c *Config) Causes() ([]attribution.Cause, error) {
	causes := make([]attribution.Cause, 0, len(c.Engine.Precedence))
	for _, name := range c.Engine.Precedence {
		cause, err := attribution.ParseCause(strings.ToLower(strings.TrimSpace(name)))
		if err != nil {
			return nil, werrors.InvalidConfig("engine.precedence", name)
		}
		causes = append(causes, cause)
	}
	if _, err := attribution.NewReconciler(causes); err != nil {
		return nil, err
	}
	return causes, nil
}

// Manager handles configuration loading and merging.
type Manager struct {
	mu     sync.RWMutex
	config *Config
	paths  []string // Paths that were loaded

	searchPaths []string
	getenv      func(string) string
}

// NewManager creates a new configuration manager.
func NewManager() *Manager {
	return &Manager{
		config:      Default(),
		searchPaths: defaultSearchPaths(),
		getenv:      os.Getenv,
	}
}

// defaultSearchPaths returns config file paths in priority order.
func defaultSearchPaths() []string {
	var paths []string
	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/waitlens/config.yaml")
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".waitlens", "config.yaml"))
	}
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".waitlens.yaml"))
	}
	return paths
}

// Load loads configuration from all sources in priority order. explicit,
// when set, must exist.
func (m *Manager) Load(explicit string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.config = Default()
	m.paths = nil

	for _, path := range m.searchPaths {
		if err := m.loadFile(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return err
		}
		m.paths = append(m.paths, path)
	}
	if explicit != "" {
		if err := m.loadFile(explicit); err != nil {
			return err
		}
		m.paths = append(m.paths, explicit)
	}

	if err := m.loadEnv(); err != nil {
		return err
	}
	return m.config.Validate()
}

// loadFile decodes a file over the current configuration; keys absent from
// the file keep their current value.
func (m *Manager) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, m.config); err != nil {
		return werrors.Wrap(err, werrors.CodeInvalidConfig, "parse config file").WithContext("path", path)
	}
	return nil
}

// loadEnv applies WAITLENS_* environment variables.
func (m *Manager) loadEnv() error {
	c := m.config
	env := func(name string) string {
		return strings.TrimSpace(m.getenv(EnvPrefix + name))
	}
	list := func(v string) []string {
		var out []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	}

	if v := env("WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return werrors.InvalidConfig(EnvPrefix+"WORKERS", v)
		}
		c.Engine.Workers = n
	}
	if v := env("SEED"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return werrors.InvalidConfig(EnvPrefix+"SEED", v)
		}
		c.Engine.Seed = n
	}
	if v := env("PRECEDENCE"); v != "" {
		c.Engine.Precedence = list(v)
	}
	if v := env("FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := env("CALENDAR"); v != "" {
		c.Evidence.CalendarFile = v
	}
	if v := env("BATCHES"); v != "" {
		c.Evidence.BatchFile = v
	}
	if v := env("OUTPUT_DIR"); v != "" {
		c.Output.Dir = v
	}
	if v := env("OUTPUT_FORMATS"); v != "" {
		c.Output.Formats = list(v)
	}
	if v := env("STORE"); v != "" {
		c.Store.Backend = v
	}
	if v := env("STORE_MIRROR"); v != "" {
		c.Store.Mirror = v
	}
	if v := env("REDIS_ADDR"); v != "" {
		c.Store.Redis.Address = v
	}
	if v := env("S3_BUCKET"); v != "" {
		c.Store.S3.Bucket = v
	}
	if v := env("OTLP_ENDPOINT"); v != "" {
		c.Telemetry.OTLPEndpoint = v
	}
	if v := env("METRICS_FILE"); v != "" {
		c.Telemetry.MetricsFile = v
	}
	return nil
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetPaths returns the paths that were loaded.
func (m *Manager) GetPaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paths
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/logflow/waitlens/pkg/config"
	"github.com/logflow/waitlens/pkg/diagnostics"
	"github.com/logflow/waitlens/pkg/engine"
	"github.com/logflow/waitlens/pkg/eventlog"
	"github.com/logflow/waitlens/pkg/export"
	"github.com/logflow/waitlens/pkg/store"
	"github.com/logflow/waitlens/pkg/telemetry"
	"github.com/logflow/waitlens/pkg/tui"
)

// Analysis flags. Set flags override the loaded configuration.
var (
	workersFlag     int
	precedenceFlag  string
	calendarFlag    string
	batchesFlag     string
	detectBatches   bool
	estimateStarts  bool
	formatFlag      string
	outputDirFlag   string
	outputFormats   string
	compressionFlag string
	metricsFile     string
	noStore         bool
	noProgress      bool
	topTransitions  int
	topHandoffs     int
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <log>",
	Short: "Decompose the waiting time of an event log",
	Long: `Run the full decomposition: build the precedence timeline of every case,
mine prioritization rules, attribute each waiting interval to its causes and
write the run report.

Examples:
  waitlens analyze events.csv
  waitlens analyze log.xes --calendar calendar.yaml --formats json,parquet,xlsx
  waitlens analyze events.csv --precedence contention,batching,unavailability,prioritization
  waitlens analyze events.parquet --estimate-starts --no-store`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

var rulesCmd = &cobra.Command{
	Use:   "rules <log>",
	Short: "Mine and print the prioritization rules of an event log",
	Args:  cobra.ExactArgs(1),
	RunE:  runRules,
}

var handoffsCmd = &cobra.Command{
	Use:   "handoffs <log>",
	Short: "Print the handoffs of an event log with the most waiting first",
	Args:  cobra.ExactArgs(1),
	RunE:  runHandoffs,
}

func init() {
	for _, cmd := range []*cobra.Command{analyzeCmd, rulesCmd, handoffsCmd} {
		f := cmd.Flags()
		f.IntVarP(&workersFlag, "workers", "w", 0, "Parallel workers (0 = GOMAXPROCS)")
		f.StringVar(&precedenceFlag, "precedence", "", "Cause precedence for overlaps, comma separated")
		f.StringVar(&calendarFlag, "calendar", "", "Resource calendar file (YAML)")
		f.StringVar(&batchesFlag, "batches", "", "Batch evidence file (CSV or YAML)")
		f.BoolVar(&detectBatches, "detect-batches", false, "Treat simultaneous starts on a resource as a batch")
		f.BoolVar(&estimateStarts, "estimate-starts", false, "Estimate missing start timestamps")
		f.StringVarP(&formatFlag, "format", "f", "", "Input format (csv, xes, xlsx, duckdb) - auto-detected if not specified")
		f.StringVar(&metricsFile, "metrics-file", "", "Write Prometheus metrics to this file")
		f.BoolVar(&noProgress, "no-progress", false, "Disable progress bars")
	}

	analyzeCmd.Flags().StringVarP(&outputDirFlag, "output", "o", "", "Output directory for the run report")
	analyzeCmd.Flags().StringVar(&outputFormats, "formats", "", "Report formats (json, parquet, xlsx, star), comma separated")
	analyzeCmd.Flags().StringVar(&compressionFlag, "compression", "", "Parquet compression (none, snappy, gzip, zstd, lz4)")
	analyzeCmd.Flags().BoolVar(&noStore, "no-store", false, "Do not archive the run")
	analyzeCmd.Flags().IntVar(&topTransitions, "top", 15, "Transitions to show (0 = all)")
	handoffsCmd.Flags().IntVar(&topHandoffs, "top", 25, "Handoffs to show (0 = all)")

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(handoffsCmd)
}

// applyFlags overrides cfg with the flags set on cmd and revalidates.
func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	if f.Changed("workers") {
		cfg.Engine.Workers = workersFlag
	}
	if f.Changed("precedence") {
		cfg.Engine.Precedence = splitList(precedenceFlag)
	}
	if f.Changed("calendar") {
		cfg.Evidence.CalendarFile = calendarFlag
	}
	if f.Changed("batches") {
		cfg.Evidence.BatchFile = batchesFlag
	}
	if f.Changed("detect-batches") {
		cfg.Evidence.DetectBatches = detectBatches
	}
	if f.Changed("estimate-starts") {
		cfg.Log.EstimateStarts = estimateStarts
	}
	if f.Changed("format") {
		cfg.Log.Format = formatFlag
	}
	if f.Changed("metrics-file") {
		cfg.Telemetry.MetricsFile = metricsFile
	}
	if f.Changed("output") {
		cfg.Output.Dir = outputDirFlag
	}
	if f.Changed("formats") {
		cfg.Output.Formats = splitList(outputFormats)
	}
	if f.Changed("compression") {
		cfg.Output.Compression = compressionFlag
	}
	if f.Changed("no-store") && noStore {
		cfg.Store.Backend = "none"
	}
	return cfg.Validate()
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// analysis is a completed run.
type analysis struct {
	cfg    *config.Config
	report *export.RunReport
	took   time.Duration
}

// analyze loads the log at path and runs the engine over it.
func analyze(ctx context.Context, cmd *cobra.Command, path string) (*analysis, error) {
	cfg, paths, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := applyFlags(cmd, cfg); err != nil {
		return nil, err
	}
	p := printer(cmd)
	if verbose {
		for _, cfgPath := range paths {
			fmt.Fprintf(os.Stderr, "config: %s\n", cfgPath)
		}
	}

	otlp := cfg.OTLPConfig()
	otlp.ServiceVersion = version
	shutdown, err := telemetry.InitOTLP(ctx, otlp)
	if err != nil {
		return nil, err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(flushCtx); err != nil {
			log.Printf("[waitlens] trace flush: %v", err)
		}
	}()

	startTime := time.Now()

	eventLog, load, err := eventlog.Load(ctx, path, cfg.LoaderConfig())
	if err != nil {
		return nil, err
	}
	p.LoadReport(load)

	engCfg, err := cfg.EngineConfig()
	if err != nil {
		return nil, err
	}
	minSeverity := diagnostics.SeverityError
	if verbose {
		minSeverity = diagnostics.SeverityWarning
	}
	engCfg.Sink = diagnostics.NewLogSink(
		diagnostics.WithLogger(log.New(os.Stderr, "", log.LstdFlags)),
		diagnostics.WithMinSeverity(minSeverity),
	)

	eng, err := engine.New(engCfg)
	if err != nil {
		return nil, err
	}
	var progress *tui.Progress
	if !noProgress {
		progress = tui.NewProgress(os.Stderr)
		eng.SetProgressCallback(progress.Update)
	}

	res, err := eng.Run(ctx, eventLog)
	if progress != nil {
		progress.Finish()
	}
	if err != nil {
		return nil, fmt.Errorf("analysis failed: %w", err)
	}

	a := &analysis{
		cfg:    cfg,
		report: export.NewRunReport(uuid.NewString(), path, res, load),
		took:   time.Since(startTime),
	}

	if cfg.Telemetry.MetricsFile != "" {
		m := telemetry.NewRunMetrics()
		m.Observe(res.Summary, res.Diagnostics, res.FailedCases, a.took)
		if err := m.WriteTextfile(cfg.Telemetry.MetricsFile); err != nil {
			return nil, fmt.Errorf("write metrics: %w", err)
		}
	}
	return a, nil
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := analyze(ctx, cmd, args[0])
	if err != nil {
		return err
	}
	rep := a.report

	opts, err := a.cfg.ExportOptions()
	if err != nil {
		return err
	}
	written, err := export.Write(rep, opts)
	if err != nil {
		return err
	}

	backend, err := store.Open(ctx, a.cfg.Store)
	if err != nil {
		return err
	}
	if backend != nil {
		if err := backend.Save(ctx, rep); err != nil {
			// The report is already on disk; archiving is best effort.
			log.Printf("[waitlens] archive run to %s: %v", backend.Name(), err)
		} else if verbose {
			fmt.Fprintf(os.Stderr, "archived run %s to %s\n", rep.RunID, backend.Name())
		}
	}

	p := printer(cmd)
	p.Summary(rep, topTransitions)
	p.Diagnostics(rep, 10)
	p.Files(written)
	fmt.Fprintf(cmd.OutOrStdout(), "  Took: %s\n\n", a.took.Round(time.Millisecond))
	return nil
}

func runRules(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := analyze(ctx, cmd, args[0])
	if err != nil {
		return err
	}
	printer(cmd).Rules(a.report)
	return nil
}

func runHandoffs(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := analyze(ctx, cmd, args[0])
	if err != nil {
		return err
	}
	printer(cmd).Handoffs(a.report, topHandoffs)
	return nil
}

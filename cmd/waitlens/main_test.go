package main

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/logflow/waitlens/pkg/config"
)

func TestSplitList(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"json", []string{"json"}},
		{" json , parquet,,xlsx ", []string{"json", "parquet", "xlsx"}},
	}
	for _, tt := range tests {
		if got := splitList(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("splitList(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestBatchesFlagUsage(t *testing.T) {
	for _, cmd := range []*cobra.Command{analyzeCmd, rulesCmd, handoffsCmd} {
		f := cmd.Flags().Lookup("batches")
		if f == nil {
			t.Fatalf("%s: no --batches flag", cmd.Name())
		}
		if !strings.Contains(f.Usage, "CSV or YAML") {
			t.Errorf("%s --batches usage = %q, want CSV or YAML", cmd.Name(), f.Usage)
		}
	}
}

func TestApplyFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().IntVar(&workersFlag, "workers", 0, "")
	cmd.Flags().StringVar(&outputFormats, "formats", "", "")
	cmd.Flags().BoolVar(&noStore, "no-store", false, "")
	cmd.Flags().StringVar(&precedenceFlag, "precedence", "", "")
	if err := cmd.Flags().Parse([]string{"--workers", "3", "--formats", "json,xlsx", "--no-store", "--precedence", "contention,batching,unavailability,prioritization"}); err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	if err := applyFlags(cmd, cfg); err != nil {
		t.Fatalf("applyFlags: %v", err)
	}
	if cfg.Engine.Workers != 3 {
		t.Errorf("Workers = %d, want 3", cfg.Engine.Workers)
	}
	if !reflect.DeepEqual(cfg.Output.Formats, []string{"json", "xlsx"}) {
		t.Errorf("Formats = %v", cfg.Output.Formats)
	}
	if cfg.Store.Backend != "none" {
		t.Errorf("Store.Backend = %q, want none", cfg.Store.Backend)
	}
	if cfg.Engine.Precedence[0] != "contention" {
		t.Errorf("Precedence = %v", cfg.Engine.Precedence)
	}
	// Unset flags keep the configured value.
	if cfg.Output.Compression != "snappy" {
		t.Errorf("Compression = %q, want snappy", cfg.Output.Compression)
	}
}

func TestAnalyzeCommand(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "events.csv")
	csv := `case:concept:name,concept:name,org:resource,start_timestamp,time:timestamp
c1,Register,ann,2024-03-04T09:00:00Z,2024-03-04T09:10:00Z
c1,Approve,bob,2024-03-04T09:40:00Z,2024-03-04T10:00:00Z
c2,Register,ann,2024-03-04T09:10:00Z,2024-03-04T09:20:00Z
c2,Approve,bob,2024-03-04T10:00:00Z,2024-03-04T10:15:00Z
`
	if err := os.WriteFile(logPath, []byte(csv), 0o644); err != nil {
		t.Fatal(err)
	}
	cfgPath := filepath.Join(dir, "waitlens.yaml")
	cfgYAML := "output:\n  dir: " + filepath.Join(dir, "out") + "\nstore:\n  backend: local\n  dir: " + filepath.Join(dir, "runs") + "\n"
	if err := os.WriteFile(cfgPath, []byte(cfgYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"analyze", "--config", cfgPath, "--no-progress", logPath})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("analyze: %v", err)
	}

	text := out.String()
	for _, want := range []string{"ANALYSIS COMPLETE", "Register → Approve", "Wrote:"} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}

	reports, _ := filepath.Glob(filepath.Join(dir, "out", "*.json"))
	if len(reports) != 1 {
		t.Errorf("reports = %v, want one json report", reports)
	}
	runs, _ := filepath.Glob(filepath.Join(dir, "runs", "*.json"))
	if len(runs) != 1 {
		t.Errorf("archived runs = %v, want 1", runs)
	}
}

package export

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"
	"github.com/xuri/excelize/v2"

	"github.com/logflow/waitlens/internal/model"
	"github.com/logflow/waitlens/pkg/attribution"
	"github.com/logflow/waitlens/pkg/diagnostics"
	"github.com/logflow/waitlens/pkg/engine"
	werrors "github.com/logflow/waitlens/pkg/errors"
	"github.com/logflow/waitlens/pkg/index"
	"github.com/logflow/waitlens/pkg/report"
	"github.com/logflow/waitlens/pkg/rules"
)

func at(h, m int) time.Time {
	return time.Date(2024, 3, 4, h, m, 0, 0, time.UTC)
}

func sampleResult() *engine.Result {
	records := []attribution.Record{
		{
			InstanceID: "c1#1", CaseID: "c1", Activity: "Register", Resource: "alice",
			Transition: model.Transition{Source: model.CaseStart, Target: "Register"},
			Enabled:    at(9, 0), Start: at(9, 0), End: at(9, 10),
		},
		{
			InstanceID: "c1#2", CaseID: "c1", Activity: "Review", Resource: "bob",
			Transition:        model.Transition{Source: "Register", Target: "Review"},
			EnabledByResource: "alice",
			Enabled:           at(9, 10), Start: at(9, 40), End: at(10, 0),
			Wait:              30 * time.Minute,
			Attribution: attribution.Attribution{
				Prioritization: 20 * time.Minute,
				Extraneous:     10 * time.Minute,
			},
		},
		{
			InstanceID: "c2#1", CaseID: "c2", Activity: "Review", Resource: "bob",
			Transition: model.Transition{Source: model.CaseStart, Target: "Review"},
			Enabled:    at(9, 0), Start: at(9, 0), End: at(9, 20),
		},
	}
	groups := []attribution.GroupRules{{
		Group: index.Group{Activity: "Review", Resource: "bob"},
		Rules: rules.RuleSet{
			Rules: []rules.Rule{{
				Conditions: []rules.Condition{{Attribute: "self.priority", Op: rules.OpEq, Value: model.Categorical("high")}},
				Positives:  3,
				Negatives:  1,
			}},
		},
		Pairs:      5,
		Inversions: 3,
		Explained:  []attribution.Jump{{Waiter: 1, Jumper: 2}},
	}}
	return &engine.Result{
		Records:  records,
		Summary:  report.Summarize(records),
		Handoffs: report.Handoffs(records),
		Rules:    groups,
		Diagnostics: []diagnostics.Diagnostic{
			diagnostics.FromError(diagnostics.ScopeInstance, "c9#1", werrors.NegativeWait("c9#1", time.Minute)),
		},
		Precedence: attribution.DefaultPrecedence,
		Cases:      2,
		Warnings:   1,
		Duration:   1500 * time.Millisecond,
	}
}

func TestNewRunReport(t *testing.T) {
	rep := NewRunReport("run-1", "log.csv", sampleResult(), nil)

	if rep.RunID != "run-1" || rep.Cases != 2 || rep.DurationSeconds != 1.5 {
		t.Errorf("header = %+v", rep)
	}
	if len(rep.Records) != 3 {
		t.Fatalf("len(Records) = %d, want 3", len(rep.Records))
	}
	r := rep.Records[1]
	if r.WaitSeconds != 1800 || r.PrioritizationSeconds != 1200 || r.ExtraneousSeconds != 600 {
		t.Errorf("record seconds = %+v", r)
	}
	if got := r.CauseSeconds(attribution.CausePrioritization); got != 1200 {
		t.Errorf("CauseSeconds(prioritization) = %v, want 1200", got)
	}
	if r.SourceActivity != "Register" || r.SourceResource != "alice" {
		t.Errorf("source = %q/%q, want Register/alice", r.SourceActivity, r.SourceResource)
	}

	if got := rep.Summary.CauseSeconds["prioritization"]; got != 1200 {
		t.Errorf("summary prioritization = %v, want 1200", got)
	}
	if len(rep.Summary.CauseSeconds) != len(attribution.Causes) {
		t.Errorf("summary causes = %v, want every cause", rep.Summary.CauseSeconds)
	}
	if len(rep.Rules) != 1 || rep.Rules[0].Explained != 1 {
		t.Fatalf("rules = %+v", rep.Rules)
	}
	if got := rep.Rules[0].Rules[0]; got.Condition != "self.priority = high" || got.Precision != 0.75 {
		t.Errorf("rule = %+v, want self.priority = high at 0.75", got)
	}
	if len(rep.Handoffs) != 1 || rep.Handoffs[0].TotalWaitSeconds != 1800 || rep.Handoffs[0].Type != "strict" {
		t.Errorf("handoffs = %+v", rep.Handoffs)
	}
	if len(rep.Precedence) != 4 || rep.Precedence[0] != "unavailability" || rep.Warnings != 1 {
		t.Errorf("precedence, warnings = %v, %d, want unavailability first and 1 warning", rep.Precedence, rep.Warnings)
	}
}

func TestReadJSONDiagnostics(t *testing.T) {
	rep := NewRunReport("run-1", "", sampleResult(), nil)
	var buf bytes.Buffer
	if err := WriteJSON(&buf, rep); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"severity": "warning"`)) {
		t.Errorf("severity not written by name:\n%s", buf.String())
	}

	got, err := ReadJSON(&buf)
	if err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if len(got.Diagnostics) != 1 || got.Diagnostics[0].Severity != diagnostics.SeverityWarning {
		t.Errorf("Diagnostics = %+v", got.Diagnostics)
	}
	if got.Diagnostics[0].Code != werrors.CodeNegativeWait {
		t.Errorf("Code = %v, want %v", got.Diagnostics[0].Code, werrors.CodeNegativeWait)
	}
}

func TestWriteParquet(t *testing.T) {
	rep := NewRunReport("run-1", "", sampleResult(), nil)

	var buf bytes.Buffer
	if err := WriteParquet(&buf, rep, CompressionSnappy); err != nil {
		t.Fatalf("WriteParquet() error = %v", err)
	}

	table, err := pqarrow.ReadTable(context.Background(), bytes.NewReader(buf.Bytes()),
		parquet.NewReaderProperties(memory.DefaultAllocator), pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	if err != nil {
		t.Fatalf("ReadTable() error = %v", err)
	}
	defer table.Release()

	if table.NumRows() != 3 {
		t.Errorf("NumRows = %d, want 3", table.NumRows())
	}
	if table.NumCols() != int64(len(recordSchema().Fields())) {
		t.Errorf("NumCols = %d, want %d", table.NumCols(), len(recordSchema().Fields()))
	}
	if name := table.Schema().Field(12).Name; name != "contention_seconds" {
		t.Errorf("field 12 = %q, want contention_seconds", name)
	}
}

func TestParseCompression(t *testing.T) {
	tests := []struct {
		in   string
		want CompressionType
		err  bool
	}{
		{"", CompressionNone, false},
		{"snappy", CompressionSnappy, false},
		{"ZSTD", CompressionZstd, false},
		{"brotli", CompressionNone, true},
	}
	for _, tt := range tests {
		got, err := ParseCompression(tt.in)
		if (err != nil) != tt.err || got != tt.want {
			t.Errorf("ParseCompression(%q) = %v, %v, want %v (error %v)", tt.in, got, err, tt.want, tt.err)
		}
	}
}

func TestWriteXLSX(t *testing.T) {
	rep := NewRunReport("run-1", "", sampleResult(), nil)

	var buf bytes.Buffer
	if err := WriteXLSX(&buf, rep); err != nil {
		t.Fatalf("WriteXLSX() error = %v", err)
	}
	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	defer f.Close()

	want := []string{SheetSummary, SheetHandoffs, SheetRules, SheetDiagnostics}
	got := f.GetSheetList()
	if len(got) != len(want) {
		t.Fatalf("sheets = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sheet %d = %q, want %q", i, got[i], want[i])
		}
	}

	if typ, _ := f.GetCellValue(SheetHandoffs, "E2"); typ != "strict" {
		t.Errorf("Handoffs!E2 = %q, want strict", typ)
	}

	rule, err := f.GetCellValue(SheetRules, "G2")
	if err != nil || rule != "self.priority = high" {
		t.Errorf("Rules!G2 = %q, %v, want self.priority = high", rule, err)
	}
	code, _ := f.GetCellValue(SheetDiagnostics, "B2")
	if code != string(werrors.CodeNegativeWait) {
		t.Errorf("Diagnostics!B2 = %q, want %s", code, werrors.CodeNegativeWait)
	}
}

func TestWrite(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	rep := NewRunReport("run-1", "", sampleResult(), nil)

	paths, err := Write(rep, Options{Dir: dir, Formats: []Format{FormatJSON, FormatParquet, FormatXLSX}})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if len(paths) != 3 {
		t.Fatalf("paths = %v, want 3", paths)
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("Stat(%s) error = %v", p, err)
		}
	}
	leftovers, _ := filepath.Glob(filepath.Join(dir, "*.tmp"))
	if len(leftovers) != 0 {
		t.Errorf("temporary files left: %v", leftovers)
	}
}

func TestParseFormats(t *testing.T) {
	got, err := ParseFormats([]string{"json", " XLSX", "json", "star"})
	if err != nil {
		t.Fatalf("ParseFormats() error = %v", err)
	}
	if len(got) != 3 || got[0] != FormatJSON || got[1] != FormatXLSX || got[2] != FormatStar {
		t.Errorf("ParseFormats() = %v, want [json xlsx star]", got)
	}

	_, err = ParseFormats([]string{"csv"})
	if !werrors.IsCode(err, werrors.CodeInvalidConfig) {
		t.Errorf("ParseFormats(csv) error = %v, want %s", err, werrors.CodeInvalidConfig)
	}
}

func TestWriteStarSchema(t *testing.T) {
	dir := t.TempDir()
	rep := NewRunReport("run-1", "", sampleResult(), nil)

	res, err := WriteStarSchema(rep, dir, CompressionSnappy)
	if err != nil {
		t.Fatalf("WriteStarSchema() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, ".records.parquet")); !os.IsNotExist(err) {
		t.Errorf("staging file left behind: %v", err)
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	tests := []struct {
		path string
		want int
	}{
		{res.FactWaiting, 3},
		{res.DimCases, 2},
		{res.DimActivities, 2},
		{res.DimResources, 2},
		{res.DimDates, 1},
	}
	for _, tt := range tests {
		var n int
		if err := db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM read_parquet('%s')", quote(tt.path))).Scan(&n); err != nil {
			t.Errorf("count %s: %v", filepath.Base(tt.path), err)
			continue
		}
		if n != tt.want {
			t.Errorf("rows(%s) = %d, want %d", filepath.Base(tt.path), n, tt.want)
		}
	}

	var prio float64
	if err := db.QueryRow(fmt.Sprintf("SELECT SUM(prioritization_seconds) FROM read_parquet('%s')", quote(res.FactWaiting))).Scan(&prio); err != nil {
		t.Fatal(err)
	}
	if prio != 1200 {
		t.Errorf("SUM(prioritization_seconds) = %v, want 1200", prio)
	}
}

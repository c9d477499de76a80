// Package eventlog loads event logs from CSV, XES, XLSX and any file DuckDB
// can read, and turns them into a closed model.Log.
package eventlog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/logflow/waitlens/internal/model"
	"github.com/logflow/waitlens/internal/timeparse"
	werrors "github.com/logflow/waitlens/pkg/errors"
)

var (
	// ErrUnsupportedFormat is returned when the input format is not supported.
	ErrUnsupportedFormat = errors.New("eventlog: unsupported format")

	// ErrMissingColumn is returned when a required column is missing.
	ErrMissingColumn = errors.New("eventlog: required column missing")
)

// Format represents a supported input format.
type Format uint8

const (
	FormatAuto Format = iota
	FormatCSV
	FormatXES
	FormatXLSX
	FormatDuckDB
)

// String returns the format name.
func (f Format) String() string {
	switch f {
	case FormatCSV:
		return "csv"
	case FormatXES:
		return "xes"
	case FormatXLSX:
		return "xlsx"
	case FormatDuckDB:
		return "duckdb"
	default:
		return "auto"
	}
}

// ParseFormat parses a format name.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return FormatAuto, nil
	case "csv":
		return FormatCSV, nil
	case "xes":
		return FormatXES, nil
	case "xlsx", "excel":
		return FormatXLSX, nil
	case "duckdb", "parquet":
		return FormatDuckDB, nil
	}
	return FormatAuto, fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// DetectFormat picks a format from the file extension.
func DetectFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".tsv", ".txt":
		return FormatCSV
	case ".xes":
		return FormatXES
	case ".xlsx", ".xlsm":
		return FormatXLSX
	default:
		return FormatDuckDB
	}
}

// Columns maps log fields to source column names.
type Columns struct {
	ID           string `yaml:"id"`
	Case         string `yaml:"case"`
	Activity     string `yaml:"activity"`
	Resource     string `yaml:"resource"`
	Start        string `yaml:"start"`
	End          string `yaml:"end"`
	Predecessors string `yaml:"predecessors"`
}

// Config holds loader configuration.
type Config struct {
	Columns Columns
	Format  Format

	// TimestampFormat is tried before the built-in layouts (Go time layout).
	TimestampFormat string

	// Delimiter is the field delimiter for CSV (default: comma).
	Delimiter byte

	// MaxReportedErrors bounds the row errors kept in a LoadReport.
	MaxReportedErrors int
}

// DefaultConfig returns a Config using the XES-style column names.
func DefaultConfig() Config {
	return Config{
		Columns: Columns{
			Case:     "case:concept:name",
			Activity: "concept:name",
			Resource: "org:resource",
			Start:    "start_timestamp",
			End:      "time:timestamp",
		},
		Delimiter:         ',',
		MaxReportedErrors: 10,
	}
}

// RowError describes a rejected row.
type RowError struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// LoadReport summarizes a load.
type LoadReport struct {
	Source   string     `json:"source"`
	Format   string     `json:"format"`
	Rows     int        `json:"rows"`
	Accepted int        `json:"accepted"`
	Rejected int        `json:"rejected"`
	Errors   []RowError `json:"errors,omitempty"`

	maxErrors int
}

func (r *LoadReport) reject(line int, reason string) {
	r.Rejected++
	if len(r.Errors) < r.maxErrors {
		r.Errors = append(r.Errors, RowError{Line: line, Reason: reason})
	}
}

// Load reads the log at path, picking the loader from cfg.Format or the
// file extension.
func Load(ctx context.Context, path string, cfg Config) (*model.Log, *LoadReport, error) {
	format := cfg.Format
	if format == FormatAuto {
		format = DetectFormat(path)
	}

	var (
		log *model.Log
		rep *LoadReport
		err error
	)
	switch format {
	case FormatDuckDB:
		log, rep, err = LoadDuckDB(ctx, path, cfg)
	case FormatCSV, FormatXES, FormatXLSX:
		f, openErr := os.Open(path)
		if openErr != nil {
			return nil, nil, werrors.Wrap(openErr, werrors.CodeMalformedLog, "open event log").WithContext("path", path)
		}
		defer f.Close()
		switch format {
		case FormatCSV:
			log, rep, err = ReadCSV(ctx, f, cfg)
		case FormatXES:
			log, rep, err = ReadXES(ctx, f, cfg)
		default:
			log, rep, err = ReadXLSX(ctx, f, cfg)
		}
	default:
		return nil, nil, ErrUnsupportedFormat
	}
	if err != nil {
		return nil, rep, werrors.Wrap(err, werrors.CodeMalformedLog, "load event log").WithContext("path", path)
	}
	rep.Source = path
	return log, rep, nil
}

// rowBuilder turns tabular rows into events. Unmapped columns become typed
// attributes.
type rowBuilder struct {
	cfg Config
	rep *LoadReport

	id, caseID, activity, resource, start, end, preds int
	header                                            []string

	// excelSerial accepts numeric cells as Excel serial dates.
	excelSerial bool
}

func newRowBuilder(cfg Config, header []string, format Format) (*rowBuilder, error) {
	colIdx := make(map[string]int, len(header))
	for i, col := range header {
		colIdx[strings.TrimSpace(col)] = i
	}

	c := cfg.Columns
	b := &rowBuilder{
		cfg:    cfg,
		header: header,
		rep:    &LoadReport{Format: format.String(), maxErrors: cfg.MaxReportedErrors},
	}
	var ok bool
	if b.caseID, ok = findColumnIndex(colIdx, c.Case, "case_id", "case", "Case ID", "CaseID"); !ok {
		return nil, fmt.Errorf("%w: case (tried %q)", ErrMissingColumn, c.Case)
	}
	if b.activity, ok = findColumnIndex(colIdx, c.Activity, "activity", "Activity"); !ok {
		return nil, fmt.Errorf("%w: activity (tried %q)", ErrMissingColumn, c.Activity)
	}
	if b.end, ok = findColumnIndex(colIdx, c.End, "end_timestamp", "end", "complete_timestamp", "timestamp"); !ok {
		return nil, fmt.Errorf("%w: end (tried %q)", ErrMissingColumn, c.End)
	}
	b.resource, _ = findColumnIndex(colIdx, c.Resource, "resource", "Resource")
	b.start, _ = findColumnIndex(colIdx, c.Start, "start_timestamp", "start")
	b.id, _ = findColumnIndex(colIdx, c.ID, "event_id", "id")
	b.preds, _ = findColumnIndex(colIdx, c.Predecessors, "predecessors")
	return b, nil
}

// findColumnIndex tries multiple column names and returns the first match.
func findColumnIndex(colIdx map[string]int, names ...string) (int, bool) {
	for _, name := range names {
		if name == "" {
			continue
		}
		if idx, ok := colIdx[name]; ok {
			return idx, true
		}
	}
	return -1, false
}

// build converts one row. A false return means the row was rejected.
func (b *rowBuilder) build(line int, cols []string) (model.Event, bool) {
	b.rep.Rows++
	get := func(i int) string {
		if i < 0 || i >= len(cols) {
			return ""
		}
		return strings.TrimSpace(cols[i])
	}

	ev := model.Event{
		ID:       get(b.id),
		CaseID:   get(b.caseID),
		Activity: get(b.activity),
		Resource: get(b.resource),
	}
	if ev.CaseID == "" || ev.Activity == "" {
		b.rep.reject(line, "missing case or activity")
		return model.Event{}, false
	}

	end, err := b.parseTime(get(b.end))
	if err != nil {
		b.rep.reject(line, fmt.Sprintf("end timestamp: %v", err))
		return model.Event{}, false
	}
	ev.End = end
	if raw := get(b.start); raw != "" {
		start, err := b.parseTime(raw)
		if err != nil {
			b.rep.reject(line, fmt.Sprintf("start timestamp: %v", err))
			return model.Event{}, false
		}
		ev.Start = start
	}
	if raw := get(b.preds); raw != "" {
		for _, p := range strings.Split(raw, ";") {
			if p = strings.TrimSpace(p); p != "" {
				ev.Predecessors = append(ev.Predecessors, p)
			}
		}
	}

	for i, name := range b.header {
		if b.mapped(i) {
			continue
		}
		if raw := get(i); raw != "" {
			if ev.Attributes == nil {
				ev.Attributes = make(model.Attributes)
			}
			ev.Attributes[strings.TrimSpace(name)] = model.InferValue(raw)
		}
	}

	b.rep.Accepted++
	return ev, true
}

func (b *rowBuilder) mapped(i int) bool {
	switch i {
	case b.id, b.caseID, b.activity, b.resource, b.start, b.end, b.preds:
		return true
	}
	return false
}

func (b *rowBuilder) parseTime(s string) (time.Time, error) {
	t, err := parseTimestamp(s, b.cfg.TimestampFormat)
	if err != nil && b.excelSerial {
		return timeparse.ParseExcel(s)
	}
	return t, err
}

func parseTimestamp(s, layout string) (time.Time, error) {
	if s == "" {
		return time.Time{}, timeparse.ErrInvalidTimestamp
	}
	return timeparse.ParseLayout(layout, s)
}

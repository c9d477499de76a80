package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/logflow/waitlens/pkg/attribution"
)

// Workbook sheet names.
const (
	SheetSummary     = "Summary"
	SheetHandoffs    = "Handoffs"
	SheetRules       = "Rules"
	SheetDiagnostics = "Diagnostics"
)

// WriteXLSX writes the summary, handoffs, rules and diagnostics of a report
// as a workbook. Durations are in hours.
func WriteXLSX(output io.Writer, rep *RunReport) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SheetSummary); err != nil {
		return err
	}
	for _, name := range []string{SheetHandoffs, SheetRules, SheetDiagnostics} {
		if _, err := f.NewSheet(name); err != nil {
			return err
		}
	}

	sheets := []struct {
		name string
		rows [][]any
	}{
		{SheetSummary, summaryRows(rep)},
		{SheetHandoffs, handoffRows(rep)},
		{SheetRules, ruleRows(rep)},
		{SheetDiagnostics, diagnosticRows(rep)},
	}
	for _, s := range sheets {
		if err := writeRows(f, s.name, s.rows); err != nil {
			return fmt.Errorf("sheet %s: %w", s.name, err)
		}
	}

	_, err := f.WriteTo(output)
	return err
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &rows[i]); err != nil {
			return err
		}
	}
	return nil
}

func hours(seconds float64) float64 {
	return seconds / 3600
}

func summaryRows(rep *RunReport) [][]any {
	header := []any{"source", "target", "count", "defects", "wait_h", "mean_h", "median_h", "p90_h"}
	for _, c := range attribution.Causes {
		header = append(header, string(c)+"_h", string(c)+"_share")
	}
	rows := [][]any{header}

	for _, t := range rep.Summary.Transitions {
		row := []any{t.Source, t.Target, t.Count, t.Defects,
			hours(t.Wait.Total), hours(t.Wait.Mean), hours(t.Wait.Median), hours(t.Wait.P90)}
		for _, c := range attribution.Causes {
			total := t.Causes[string(c)].Total
			share := 0.0
			if t.Wait.Total > 0 {
				share = total / t.Wait.Total
			}
			row = append(row, hours(total), share)
		}
		rows = append(rows, row)
	}

	total := []any{"(all)", "", rep.Summary.Instances, rep.Summary.Defects,
		hours(rep.Summary.TotalWaitSeconds), "", "", ""}
	for _, c := range attribution.Causes {
		secs := rep.Summary.CauseSeconds[string(c)]
		share := 0.0
		if rep.Summary.TotalWaitSeconds > 0 {
			share = secs / rep.Summary.TotalWaitSeconds
		}
		total = append(total, hours(secs), share)
	}
	return append(rows, total)
}

func handoffRows(rep *RunReport) [][]any {
	header := []any{"source_activity", "source_resource", "target_activity", "target_resource",
		"handoff_type", "frequency", "total_wait_h", "mean_wait_h"}
	for _, c := range attribution.Causes {
		header = append(header, string(c)+"_h")
	}
	rows := [][]any{header}
	for _, h := range rep.Handoffs {
		row := []any{h.SourceActivity, h.SourceResource, h.TargetActivity, h.TargetResource,
			h.Type, h.Frequency, hours(h.TotalWaitSeconds), hours(h.MeanWaitSeconds)}
		for _, c := range attribution.Causes {
			row = append(row, hours(h.CauseSeconds[string(c)]))
		}
		rows = append(rows, row)
	}
	return rows
}

func ruleRows(rep *RunReport) [][]any {
	rows := [][]any{{"activity", "resource", "pairs", "inversions", "explained", "skipped",
		"rule", "positives", "negatives", "precision"}}
	for _, g := range rep.Rules {
		if len(g.Rules) == 0 {
			rows = append(rows, []any{g.Activity, g.Resource, g.Pairs, g.Inversions, g.Explained, g.Skipped})
			continue
		}
		for _, r := range g.Rules {
			rows = append(rows, []any{g.Activity, g.Resource, g.Pairs, g.Inversions, g.Explained, g.Skipped,
				r.Condition, r.Positives, r.Negatives, r.Precision})
		}
	}
	return rows
}

func diagnosticRows(rep *RunReport) [][]any {
	rows := [][]any{{"severity", "code", "scope", "subject", "message"}}
	for _, d := range rep.Diagnostics {
		rows = append(rows, []any{d.Severity.String(), string(d.Code), string(d.Scope), d.Subject, d.Message})
	}
	return rows
}

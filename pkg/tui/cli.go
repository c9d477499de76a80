// Package tui renders run results for the terminal.
// Simple, streaming output: styled lines and plain tables, no full-screen UI.
package tui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/schollz/progressbar/v3"

	"github.com/logflow/waitlens/pkg/attribution"
	"github.com/logflow/waitlens/pkg/diagnostics"
	"github.com/logflow/waitlens/pkg/engine"
	"github.com/logflow/waitlens/pkg/eventlog"
	"github.com/logflow/waitlens/pkg/export"
	"github.com/logflow/waitlens/pkg/inspect"
	"github.com/logflow/waitlens/pkg/store"
)

// Colors (Swiss minimal)
var (
	accent  = lipgloss.Color("#FF0000")
	muted   = lipgloss.Color("#666666")
	success = lipgloss.Color("#00CC66")
	warning = lipgloss.Color("#FFAA00")
	white   = lipgloss.Color("#FFFFFF")
)

// Styles
var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(white)
	accentStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(warning)
	headerStyle  = lipgloss.NewStyle().Foreground(muted).Bold(true)
)

// Printer writes styled output.
type Printer struct {
	w io.Writer
}

// NewPrinter creates a Printer writing to w.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

func (p *Printer) println(a ...any) {
	fmt.Fprintln(p.w, a...)
}

func (p *Printer) printf(format string, a ...any) {
	fmt.Fprintf(p.w, format, a...)
}

// Header prints the program banner.
func (p *Printer) Header(version string) {
	p.println()
	p.println(titleStyle.Render("  WAITLENS") + mutedStyle.Render(" "+version))
	p.println(mutedStyle.Render("  Waiting-time decomposition for event logs"))
	p.println()
}

// LoadReport prints what the loader accepted and rejected.
func (p *Printer) LoadReport(rep *eventlog.LoadReport) {
	if rep == nil {
		return
	}
	p.printf("  %s %s %s\n",
		mutedStyle.Render("Loaded:"),
		titleStyle.Render(formatNumber(int64(rep.Accepted))+" events"),
		mutedStyle.Render(fmt.Sprintf("(%s, %d rows)", rep.Format, rep.Rows)))
	if rep.Rejected == 0 {
		return
	}
	p.printf("  %s %d rows\n", warningStyle.Render("Rejected:"), rep.Rejected)
	for _, e := range rep.Errors {
		p.printf("    %s %s\n", mutedStyle.Render(fmt.Sprintf("line %d:", e.Line)), e.Reason)
	}
}

// Profile prints an event log profile.
func (p *Printer) Profile(r *inspect.Report) {
	p.println()
	p.println(accentStyle.Render("▸ EVENT LOG"))
	p.printf("  %s %s   %s %s   %s %s   %s %s\n",
		mutedStyle.Render("Events:"), titleStyle.Render(formatNumber(int64(r.Events))),
		mutedStyle.Render("Cases:"), titleStyle.Render(formatNumber(int64(r.Cases))),
		mutedStyle.Render("Activities:"), titleStyle.Render(fmt.Sprint(r.Activities)),
		mutedStyle.Render("Resources:"), titleStyle.Render(fmt.Sprint(r.Resources)))
	if !r.From.IsZero() {
		p.printf("  %s %s → %s %s\n", mutedStyle.Render("Range:"),
			r.From.Format(time.RFC3339), r.To.Format(time.RFC3339),
			mutedStyle.Render("("+formatDuration(r.Span)+")"))
	}
	p.printf("  %s %.1f%%\n", mutedStyle.Render("Start timestamps:"), r.Completeness.StartCoverage(r.Events))
	d := r.Distribution
	p.printf("  %s min=%d max=%d avg=%.1f median=%d\n", mutedStyle.Render("Events per case:"),
		d.MinEventsPerCase, d.MaxEventsPerCase, d.AvgEventsPerCase, d.MedianEventsPerCase)
	p.println()

	widths := []int{36, 10}
	if len(d.TopActivities) > 0 {
		p.row(headerStyle, []string{"activity", "events"}, widths)
		for _, c := range d.TopActivities {
			p.row(lipgloss.NewStyle(), []string{truncate(c.Name, 35), fmt.Sprint(c.Count)}, widths)
		}
		p.println()
	}
	if len(d.TopResources) > 0 {
		p.row(headerStyle, []string{"resource", "events"}, widths)
		for _, c := range d.TopResources {
			p.row(lipgloss.NewStyle(), []string{truncate(c.Name, 35), fmt.Sprint(c.Count)}, widths)
		}
		p.println()
	}

	for _, issue := range r.Issues {
		style := warningStyle
		if issue.Severity == "error" {
			style = accentStyle
		}
		p.printf("  %s %s %s\n", style.Render("!"), issue.Description, mutedStyle.Render(fmt.Sprintf("(%d rows)", issue.AffectedRows)))
	}
	for _, w := range r.Warnings {
		p.printf("  %s %s\n", mutedStyle.Render("·"), w)
	}
	if len(r.Issues) == 0 && len(r.Warnings) == 0 {
		p.println(successStyle.Render("  ✓ ready for analysis"))
	}
	p.println()
}

// Summary prints the run overview: totals per cause and the transitions
// with the most waiting.
func (p *Printer) Summary(rep *export.RunReport, limit int) {
	s := rep.Summary
	p.println()
	p.println(successStyle.Render("  ✓ ANALYSIS COMPLETE") + mutedStyle.Render("  run "+rep.RunID))
	p.println()
	p.printf("  %s %s   %s %s   %s %s\n",
		mutedStyle.Render("Instances:"), titleStyle.Render(formatNumber(int64(s.Instances))),
		mutedStyle.Render("Cases:"), titleStyle.Render(formatNumber(int64(rep.Cases))),
		mutedStyle.Render("Waiting:"), titleStyle.Render(formatDuration(seconds(s.TotalWaitSeconds))))
	if s.Defects > 0 || rep.FailedCases > 0 {
		p.printf("  %s %d defect rows, %d failed cases\n", warningStyle.Render("!"), s.Defects, rep.FailedCases)
	}
	if rep.Warnings > 0 || rep.Errors > 0 {
		p.printf("  %s %d warnings, %d errors\n", warningStyle.Render("!"), rep.Warnings, rep.Errors)
	}
	p.println()

	p.println(accentStyle.Render("▸ WAITING BY CAUSE"))
	if len(rep.Precedence) > 0 {
		p.println(mutedStyle.Render("  precedence " + strings.Join(rep.Precedence, " > ")))
	}
	for _, c := range attribution.Causes {
		secs := s.CauseSeconds[string(c)]
		p.printf("  %s %s %s\n",
			cell(string(c), 16, mutedStyle),
			cell(formatDuration(seconds(secs)), 12, titleStyle),
			bar(share(secs, s.TotalWaitSeconds), 30))
	}
	p.println()

	if len(s.Transitions) == 0 {
		return
	}
	p.println(accentStyle.Render("▸ TRANSITIONS"))
	cols := []string{"transition", "count", "mean", "p90"}
	widths := []int{36, 8, 10, 10}
	for _, c := range attribution.Causes {
		cols = append(cols, abbreviation(c))
		widths = append(widths, 7)
	}
	p.row(headerStyle, cols, widths)

	for i, t := range s.Transitions {
		if limit > 0 && i == limit {
			p.println(mutedStyle.Render(fmt.Sprintf("  … %d more", len(s.Transitions)-limit)))
			break
		}
		vals := []string{
			truncate(t.Source+" → "+t.Target, 35),
			fmt.Sprint(t.Count),
			formatDuration(seconds(t.Wait.Mean)),
			formatDuration(seconds(t.Wait.P90)),
		}
		for _, c := range attribution.Causes {
			vals = append(vals, fmt.Sprintf("%.0f%%", 100*share(t.Causes[string(c)].Total, t.Wait.Total)))
		}
		p.row(lipgloss.NewStyle(), vals, widths)
	}
	p.println()
}

// Rules prints the mined prioritization rules per group.
func (p *Printer) Rules(rep *export.RunReport) {
	p.println()
	p.println(accentStyle.Render("▸ PRIORITIZATION RULES"))
	if len(rep.Rules) == 0 {
		p.println(mutedStyle.Render("  no (activity, resource) groups"))
		return
	}
	for _, g := range rep.Rules {
		p.printf("  %s %s\n",
			titleStyle.Render(g.Activity+" @ "+g.Resource),
			mutedStyle.Render(fmt.Sprintf("%d pairs, %d inversions, %d explained", g.Pairs, g.Inversions, g.Explained)))
		switch {
		case g.Skipped:
			p.println(warningStyle.Render("    insufficient evidence"))
		case len(g.Rules) == 0:
			p.println(mutedStyle.Render("    no rule"))
		}
		for _, r := range g.Rules {
			p.printf("    %s %s\n", r.Condition,
				mutedStyle.Render(fmt.Sprintf("(covers %d, precision %.2f)", r.Positives+r.Negatives, r.Precision)))
		}
	}
	p.println()
}

// Handoffs prints the handoffs with the most waiting first.
func (p *Printer) Handoffs(rep *export.RunReport, limit int) {
	p.println()
	p.println(accentStyle.Render("▸ HANDOFFS"))
	widths := []int{24, 14, 24, 14, 8, 6, 10, 10}
	p.row(headerStyle, []string{"from", "by", "to", "by", "type", "freq", "total", "mean"}, widths)
	for i, h := range rep.Handoffs {
		if limit > 0 && i == limit {
			p.println(mutedStyle.Render(fmt.Sprintf("  … %d more", len(rep.Handoffs)-limit)))
			break
		}
		p.row(lipgloss.NewStyle(), []string{
			truncate(h.SourceActivity, 23), truncate(h.SourceResource, 13),
			truncate(h.TargetActivity, 23), truncate(h.TargetResource, 13),
			h.Type, fmt.Sprint(h.Frequency),
			formatDuration(seconds(h.TotalWaitSeconds)),
			formatDuration(seconds(h.MeanWaitSeconds)),
		}, widths)
	}
	p.println()
}

// Diagnostics prints warnings and errors.
func (p *Printer) Diagnostics(rep *export.RunReport, limit int) {
	if len(rep.Diagnostics) == 0 {
		return
	}
	p.println(accentStyle.Render("▸ DIAGNOSTICS"))
	for i, d := range rep.Diagnostics {
		if limit > 0 && i == limit {
			p.println(mutedStyle.Render(fmt.Sprintf("  … %d more", len(rep.Diagnostics)-limit)))
			break
		}
		style := warningStyle
		if d.Severity == diagnostics.SeverityError {
			style = accentStyle
		}
		p.printf("  %s %s %s\n", style.Render(string(d.Code)), mutedStyle.Render(string(d.Scope)+" "+d.Subject), d.Message)
	}
	p.println()
}

// Runs prints archived runs.
func (p *Printer) Runs(entries []store.Entry) {
	if len(entries) == 0 {
		p.println(mutedStyle.Render("  no archived runs"))
		return
	}
	widths := []int{38, 22, 10, 10}
	p.row(headerStyle, []string{"run", "created", "instances", "size"}, widths)
	for _, e := range entries {
		p.row(lipgloss.NewStyle(), []string{
			e.ID,
			e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			formatNumber(int64(e.Instances)),
			formatBytes(e.Size),
		}, widths)
		if e.Source != "" {
			p.println(mutedStyle.Render("    " + e.Source))
		}
	}
}

// Files prints the paths written by a run.
func (p *Printer) Files(paths []string) {
	for _, path := range paths {
		p.printf("  %s %s\n", mutedStyle.Render("Wrote:"), path)
	}
}

func (p *Printer) row(style lipgloss.Style, vals []string, widths []int) {
	var b strings.Builder
	b.WriteString("  ")
	for i, v := range vals {
		b.WriteString(cell(v, widths[i], style))
	}
	p.println(strings.TrimRight(b.String(), " "))
}

func cell(s string, width int, style lipgloss.Style) string {
	return style.Width(width).Render(s)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func abbreviation(c attribution.Cause) string {
	switch c {
	case attribution.CauseBatching:
		return "batch"
	case attribution.CausePrioritization:
		return "prio"
	case attribution.CauseContention:
		return "cont"
	case attribution.CauseUnavailability:
		return "unav"
	default:
		return "extr"
	}
}

func share(part, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return part / total
}

// bar renders a share as a fixed-width gauge followed by the percentage.
func bar(f float64, width int) string {
	n := int(f*float64(width) + 0.5)
	if n > width {
		n = width
	}
	return accentStyle.Render(strings.Repeat("█", n)) +
		mutedStyle.Render(strings.Repeat("░", width-n)) +
		fmt.Sprintf(" %5.1f%%", 100*f)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Progress shows one progress bar per engine stage.
type Progress struct {
	mu    sync.Mutex
	w     io.Writer
	stage engine.Stage
	bar   *progressbar.ProgressBar
}

// NewProgress creates a stage progress display writing to w.
func NewProgress(w io.Writer) *Progress {
	return &Progress{w: w}
}

// Update implements engine.ProgressFunc.
func (p *Progress) Update(stage engine.Stage, done, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.bar == nil || stage != p.stage {
		if p.bar != nil {
			p.bar.Finish()
		}
		p.stage = stage
		p.bar = newBar(p.w, total, "  "+string(stage))
	}
	p.bar.Set(done)
}

// Finish completes the current bar.
func (p *Progress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		p.bar.Finish()
		p.bar = nil
	}
}

func newBar(w io.Writer, total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "",
			BarEnd:        "",
		}),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	switch {
	case d == 0:
		return "0s"
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	default:
		return fmt.Sprintf("%dd%dh", int(d.Hours())/24, int(d.Hours())%24)
	}
}

func formatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%.1fM", float64(n)/1000000)
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}

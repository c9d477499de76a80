// Package diagnostics collects the recovered conditions and scoped failures of
// a run so they can be reported next to the results.
package diagnostics

import (
	"fmt"
	"sort"
	"sync"

	werrors "github.com/logflow/waitlens/pkg/errors"
)

// Severity of a diagnostic.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText renders the severity by name.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a severity name.
func (s *Severity) UnmarshalText(b []byte) error {
	switch string(b) {
	case "info":
		*s = SeverityInfo
	case "warning":
		*s = SeverityWarning
	case "error":
		*s = SeverityError
	default:
		return fmt.Errorf("unknown severity %q", b)
	}
	return nil
}

// Scope names what a diagnostic is about.
type Scope string

const (
	ScopeRun      Scope = "run"
	ScopeCase     Scope = "case"
	ScopeInstance Scope = "instance"
	ScopeGroup    Scope = "group"
)

// Diagnostic is one reported condition.
type Diagnostic struct {
	Severity Severity     `json:"severity"`
	Code     werrors.Code `json:"code"`
	Scope    Scope        `json:"scope"`
	Subject  string       `json:"subject"`
	Message  string       `json:"message"`
	Err      error        `json:"-"`
}

// FromError builds a diagnostic; warning codes become warnings.
func FromError(scope Scope, subject string, err error) Diagnostic {
	d := Diagnostic{
		Severity: SeverityError,
		Code:     werrors.GetCode(err),
		Scope:    scope,
		Subject:  subject,
		Message:  err.Error(),
		Err:      err,
	}
	var wErr *werrors.Error
	if ok := asError(err, &wErr); ok && wErr.IsWarning() {
		d.Severity = SeverityWarning
	}
	return d
}

// Sink receives diagnostics as they are reported.
type Sink interface {
	Report(d Diagnostic)
}

// Collector accumulates diagnostics from concurrent workers and forwards
// each one to an optional sink.
type Collector struct {
	mu    sync.Mutex
	items []Diagnostic
	sink  Sink
}

// NewCollector creates a collector forwarding to sink (may be nil).
func NewCollector(sink Sink) *Collector {
	return &Collector{sink: sink}
}

// Add records a diagnostic.
func (c *Collector) Add(d Diagnostic) {
	c.mu.Lock()
	c.items = append(c.items, d)
	c.mu.Unlock()

	if c.sink != nil {
		c.sink.Report(d)
	}
}

// AddError records err under the given scope.
func (c *Collector) AddError(scope Scope, subject string, err error) {
	if err == nil {
		return
	}
	c.Add(FromError(scope, subject, err))
}

// Items returns the diagnostics in a stable order: scope, subject, code.
func (c *Collector) Items() []Diagnostic {
	c.mu.Lock()
	out := make([]Diagnostic, len(c.items))
	copy(out, c.items)
	c.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Scope != out[j].Scope {
			return out[i].Scope < out[j].Scope
		}
		if out[i].Subject != out[j].Subject {
			return out[i].Subject < out[j].Subject
		}
		return out[i].Code < out[j].Code
	})
	return out
}

// Count returns the number of diagnostics at the given severity.
func (c *Collector) Count(sev Severity) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, d := range c.items {
		if d.Severity == sev {
			n++
		}
	}
	return n
}

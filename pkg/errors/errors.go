// Package errors provides the coded error taxonomy of a decomposition run.
// Errors carry a code, context and a captured stack so that isolated failures
// can be reported next to successful results.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"time"
)

// Error codes for programmatic handling
type Code string

const (
	// Recovered conditions (1xx)
	CodeNegativeWait         Code = "W101"
	CodeInsufficientEvidence Code = "W102"

	// Scoped failures (2xx)
	CodeIncompleteTrace    Code = "E201"
	CodeAttributionOverrun Code = "E202"
	CodeCyclicPrecedence   Code = "E203"
	CodeDuplicateEvent     Code = "E204"
	CodeInvertedEvent      Code = "E205"

	// Run-aborting input errors (3xx)
	CodeEmptyLog     Code = "E301"
	CodeMalformedLog Code = "E302"

	// Collaborator errors (4xx, 5xx)
	CodeInvalidConfig Code = "E401"
	CodeEvidenceLoad  Code = "E402"
	CodeExport        Code = "E501"
	CodeStore         Code = "E502"

	// Unknown
	CodeUnknown Code = "E999"
)

// Error is the base error type for all waitlens errors.
type Error struct {
	Code       Code
	Message    string
	Cause      error
	Context    map[string]interface{}
	StackTrace []Frame
}

// Frame represents a stack frame.
type Frame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		sb.WriteString(")")
	}

	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}

	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithContext adds context to the error.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// IsWarning reports whether the error describes a recovered condition.
func (e *Error) IsWarning() bool {
	return strings.HasPrefix(string(e.Code), "W")
}

// New creates a new Error.
func New(code Code, message string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		StackTrace: captureStack(2),
	}
}

// Wrap wraps an existing error with additional context.
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}

	return &Error{
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: captureStack(2),
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	e := Wrap(err, code, fmt.Sprintf(format, args...))
	e.StackTrace = captureStack(2)
	return e
}

// captureStack captures the current stack trace.
func captureStack(skip int) []Frame {
	var frames []Frame
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+1, pcs)
	pcs = pcs[:n]

	cf := runtime.CallersFrames(pcs)
	for {
		frame, more := cf.Next()
		frames = append(frames, Frame{
			Function: frame.Function,
			File:     frame.File,
			Line:     frame.Line,
		})
		if !more || len(frames) >= 10 {
			break
		}
	}
	return frames
}

// FormatStack returns a formatted stack trace.
func (e *Error) FormatStack() string {
	var sb strings.Builder
	for _, f := range e.StackTrace {
		sb.WriteString(fmt.Sprintf("  at %s\n    %s:%d\n", f.Function, f.File, f.Line))
	}
	return sb.String()
}

// --- Sentinels for errors.Is ---

var (
	ErrNegativeWait         = &Error{Code: CodeNegativeWait}
	ErrInsufficientEvidence = &Error{Code: CodeInsufficientEvidence}
	ErrIncompleteTrace      = &Error{Code: CodeIncompleteTrace}
	ErrAttributionOverrun   = &Error{Code: CodeAttributionOverrun}
	ErrCyclicPrecedence     = &Error{Code: CodeCyclicPrecedence}
	ErrDuplicateEvent       = &Error{Code: CodeDuplicateEvent}
	ErrInvertedEvent        = &Error{Code: CodeInvertedEvent}
	ErrEmptyLog             = &Error{Code: CodeEmptyLog}
	ErrMalformedLog         = &Error{Code: CodeMalformedLog}
)

// --- Convenience constructors ---

// IncompleteTrace reports a predecessor instance missing from a case.
func IncompleteTrace(caseID, activity, missing string) *Error {
	return New(CodeIncompleteTrace, "predecessor instance missing from case").
		WithContext("case", caseID).
		WithContext("activity", activity).
		WithContext("missing", missing)
}

// CyclicPrecedence reports a precedence structure that is not acyclic.
func CyclicPrecedence(caseID string, sorted, total int) *Error {
	return New(CodeCyclicPrecedence, "case precedence graph has a cycle").
		WithContext("case", caseID).
		WithContext("sorted", sorted).
		WithContext("total", total)
}

// DuplicateEvent reports a record ID used twice within one case.
func DuplicateEvent(caseID, eventID string) *Error {
	return New(CodeDuplicateEvent, "record id is not unique within case").
		WithContext("case", caseID).
		WithContext("id", eventID)
}

// InvertedEvent reports a record that ends before it starts.
func InvertedEvent(caseID, activity string, start, end time.Time) *Error {
	return New(CodeInvertedEvent, "record ends before it starts").
		WithContext("case", caseID).
		WithContext("activity", activity).
		WithContext("start", start.Format(time.RFC3339)).
		WithContext("end", end.Format(time.RFC3339))
}

// NegativeWait reports a start before the enabled time, clamped to zero.
func NegativeWait(instanceID string, by time.Duration) *Error {
	return New(CodeNegativeWait, "start precedes enabled time, wait clamped to zero").
		WithContext("instance", instanceID).
		WithContext("skew", by.String())
}

// InsufficientEvidence reports a group skipped by rule mining.
func InsufficientEvidence(activity, resource string, inversions, minimum int) *Error {
	return New(CodeInsufficientEvidence, "too few inversions to mine prioritization rules").
		WithContext("activity", activity).
		WithContext("resource", resource).
		WithContext("inversions", inversions).
		WithContext("min", minimum)
}

// AttributionOverrun reports claimed causes exceeding the raw wait.
func AttributionOverrun(instanceID string, claimed, wait time.Duration) *Error {
	return New(CodeAttributionOverrun, "attributed causes exceed waiting time").
		WithContext("instance", instanceID).
		WithContext("claimed", claimed.String()).
		WithContext("wait", wait.String())
}

// EmptyLog reports a log with no events.
func EmptyLog() *Error {
	return New(CodeEmptyLog, "event log is empty")
}

// MalformedLog reports a log the engine cannot run on.
func MalformedLog(reason string) *Error {
	return New(CodeMalformedLog, "event log is malformed").WithContext("reason", reason)
}

// InvalidConfig reports a rejected configuration value.
func InvalidConfig(field string, value interface{}) *Error {
	return New(CodeInvalidConfig, "invalid configuration").
		WithContext("field", field).
		WithContext("value", value)
}

// --- Error checking utilities ---

// IsCode checks if an error has a specific code.
func IsCode(err error, code Code) bool {
	var wErr *Error
	if errors.As(err, &wErr) {
		return wErr.Code == code
	}
	return false
}

// GetCode extracts the error code from an error.
func GetCode(err error) Code {
	var wErr *Error
	if errors.As(err, &wErr) {
		return wErr.Code
	}
	return CodeUnknown
}

// IsFatal returns true if the error aborts the whole run.
func IsFatal(err error) bool {
	switch GetCode(err) {
	case CodeEmptyLog, CodeMalformedLog, CodeInvalidConfig:
		return true
	default:
		return false
	}
}

// MultiError collects multiple errors.
type MultiError struct {
	Errors []error
}

// Error implements the error interface.
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d errors occurred:\n", len(m.Errors)))
	for i, err := range m.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// HasErrors returns true if any errors were collected.
func (m *MultiError) HasErrors() bool {
	return len(m.Errors) > 0
}

// Combined returns nil if no errors, the single error if one, or the MultiError.
func (m *MultiError) Combined() error {
	switch len(m.Errors) {
	case 0:
		return nil
	case 1:
		return m.Errors[0]
	default:
		return m
	}
}

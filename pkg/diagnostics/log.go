package diagnostics

import (
	"errors"
	"fmt"
	"log"

	werrors "github.com/logflow/waitlens/pkg/errors"
)

// LogSink writes diagnostics to the standard logger.
type LogSink struct {
	prefix   string
	minLevel Severity
	logger   *log.Logger
}

// LogSinkOption configures LogSink.
type LogSinkOption func(*LogSink)

// WithPrefix sets the log prefix.
func WithPrefix(prefix string) LogSinkOption {
	return func(s *LogSink) {
		s.prefix = prefix
	}
}

// WithMinSeverity sets the minimum severity to log.
func WithMinSeverity(level Severity) LogSinkOption {
	return func(s *LogSink) {
		s.minLevel = level
	}
}

// WithLogger routes output to a specific logger instead of the standard one.
func WithLogger(l *log.Logger) LogSinkOption {
	return func(s *LogSink) {
		s.logger = l
	}
}

// NewLogSink creates a new log-based sink.
func NewLogSink(opts ...LogSinkOption) *LogSink {
	s := &LogSink{
		prefix:   "[waitlens]",
		minLevel: SeverityWarning,
		logger:   log.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Report logs the diagnostic.
func (s *LogSink) Report(d Diagnostic) {
	if d.Severity < s.minLevel {
		return
	}

	msg := fmt.Sprintf("%s [%s] %s %s: %s", s.prefix, d.Code, d.Scope, d.Subject, d.Message)

	switch d.Severity {
	case SeverityError:
		s.logger.Printf("ERROR: %s", msg)
	case SeverityWarning:
		s.logger.Printf("WARN: %s", msg)
	default:
		s.logger.Printf("INFO: %s", msg)
	}
}

// Infof logs an informational line through the sink's logger.
func (s *LogSink) Infof(format string, args ...interface{}) {
	if s.minLevel > SeverityInfo {
		return
	}
	s.logger.Printf("INFO: %s %s", s.prefix, fmt.Sprintf(format, args...))
}

func asError(err error, target **werrors.Error) bool {
	return errors.As(err, target)
}

// Verify interface compliance.
var _ Sink = (*LogSink)(nil)

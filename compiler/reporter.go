package compiler

import (
	"fmt"

	"github.com/tliron/commonlog"
)

// Reporter receives compile-time diagnostics.  Source-level errors
// abandon the body being compiled but let other bodies proceed;
// internal errors indicate a compiler inconsistency.
type Reporter interface {
	Error(format string, args ...any)
	Warning(format string, args ...any)
	InternalError(format string, args ...any)
}

// LogReporter routes diagnostics through commonlog.
type LogReporter struct {
	log commonlog.Logger
}

// NewLogReporter creates a reporter on the "zam" logger scope.
func NewLogReporter() *LogReporter {
	return &LogReporter{log: commonlog.GetLogger("zam")}
}

func (r *LogReporter) Error(format string, args ...any) {
	r.log.Errorf(format, args...)
}

func (r *LogReporter) Warning(format string, args ...any) {
	r.log.Warningf(format, args...)
}

func (r *LogReporter) InternalError(format string, args ...any) {
	r.log.Criticalf("internal error: "+format, args...)
}

// CollectingReporter accumulates diagnostics; handy for tests and for
// hosts that present errors themselves.
type CollectingReporter struct {
	Errors    []string
	Warnings  []string
	Internals []string
}

func (r *CollectingReporter) Error(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *CollectingReporter) Warning(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

func (r *CollectingReporter) InternalError(format string, args ...any) {
	r.Internals = append(r.Internals, fmt.Sprintf(format, args...))
}

// Package errors provides structured error handling for the inputlat
// tooling layer. It implements coded errors with context and stack traces.
// The correlation engine itself never returns errors; these exist for the
// trace, sink, export, and analysis boundaries around it.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Code identifies an error class for programmatic handling.
type Code string

const (
	// Trace input errors (1xx)
	CodeTraceNotFound   Code = "E101"
	CodeTracePermission Code = "E102"
	CodeInvalidRecord   Code = "E103"
	CodeUnknownFactType Code = "E104"

	// Replay errors (2xx)
	CodeReplayFailed Code = "E201"
	CodeFollowFailed Code = "E202"
	CodeDecodeFailed Code = "E203"

	// Sink output errors (3xx)
	CodeSinkWrite    Code = "E301"
	CodeSinkClose    Code = "E302"
	CodeRedisConnect Code = "E303"
	CodeExportFailed Code = "E304"

	// System errors (4xx)
	CodeContextCanceled Code = "E401"
	CodeTimeout         Code = "E402"

	// Analysis errors (5xx)
	CodeDuckDBInit  Code = "E501"
	CodeDuckDBQuery Code = "E502"

	// Unknown
	CodeUnknown Code = "E999"
)

// InputlatError is the base error type for all inputlat tooling errors.
type InputlatError struct {
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
func (e *InputlatError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		sb.WriteString(" (")
		first := true
		for k, v := range e.Context {
			if !first {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s=%v", k, v))
			first = false
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
func (e *InputlatError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target error.
func (e *InputlatError) Is(target error) bool {
	if t, ok := target.(*InputlatError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithContext adds context to the error.
func (e *InputlatError) WithContext(key string, value interface{}) *InputlatError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new InputlatError.
func New(code Code, message string) *InputlatError {
	return &InputlatError{
		Code:       code,
		Message:    message,
		StackTrace: captureStack(2),
	}
}

// Wrap wraps an existing error with additional context.
func Wrap(err error, code Code, message string) *InputlatError {
	if err == nil {
		return nil
	}

	return &InputlatError{
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: captureStack(2),
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *InputlatError {
	return Wrap(err, code, fmt.Sprintf(format, args...))
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
func (e *InputlatError) FormatStack() string {
	var sb strings.Builder
	for _, f := range e.StackTrace {
		sb.WriteString(fmt.Sprintf("  at %s\n    %s:%d\n", f.Function, f.File, f.Line))
	}
	return sb.String()
}

// --- Convenience constructors ---

// TraceNotFound creates a trace-file-not-found error.
func TraceNotFound(path string) *InputlatError {
	return New(CodeTraceNotFound, "trace file not found").WithContext("path", path)
}

// InvalidRecord creates a malformed-trace-record error.
func InvalidRecord(line int, err error) *InputlatError {
	return Wrap(err, CodeInvalidRecord, "invalid trace record").
		WithContext("line", line)
}

// UnknownFactType creates an unrecognized-fact-type error.
func UnknownFactType(factType string, line int) *InputlatError {
	return New(CodeUnknownFactType, "unknown fact type").
		WithContext("type", factType).
		WithContext("line", line)
}

// SinkWrite creates a sink write error.
func SinkWrite(sink string, err error) *InputlatError {
	return Wrap(err, CodeSinkWrite, "sink write failed").
		WithContext("sink", sink)
}

// ContextCanceled creates a cancellation error.
func ContextCanceled(operation string) *InputlatError {
	return New(CodeContextCanceled, "operation canceled").
		WithContext("operation", operation)
}

// --- Error checking utilities ---

// IsCode checks if an error has a specific code.
func IsCode(err error, code Code) bool {
	var ilErr *InputlatError
	if errors.As(err, &ilErr) {
		return ilErr.Code == code
	}
	return false
}

// GetCode extracts the error code from an error.
func GetCode(err error) Code {
	var ilErr *InputlatError
	if errors.As(err, &ilErr) {
		return ilErr.Code
	}
	return CodeUnknown
}

// IsRetryable returns true if the error is retryable.
func IsRetryable(err error) bool {
	switch GetCode(err) {
	case CodeTimeout, CodeRedisConnect:
		return true
	default:
		return false
	}
}

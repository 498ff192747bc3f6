// Package errors provides structured error handling for the engine:
// coded errors with context fields and stack traces, matching the error
// taxonomy the pipeline routes on (parse failures, late data, clock skew,
// configuration errors).
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
	// Input errors (1xx)
	CodeSourceNotFound   Code = "E101"
	CodeSourcePermission Code = "E102"
	CodeUnknownStream    Code = "E103"

	// Parse errors (2xx)
	CodeParseFailed        Code = "E201"
	CodeMissingField       Code = "E202"
	CodeMalformedTimestamp Code = "E203"
	CodeUnrecognizedFormat Code = "E204"
	CodeMalformedJSON      Code = "E205"

	// Window errors (3xx)
	CodeLateEvent Code = "E301"
	CodeClockSkew Code = "E302"

	// Configuration errors (4xx) - fatal at startup
	CodeConfigInvalid Code = "E401"
	CodeConfigMissing Code = "E402"

	// System errors (5xx)
	CodeContextCanceled Code = "E501"
	CodeTimeout         Code = "E502"
	CodePanic           Code = "E503"
	CodeCheckpoint      Code = "E504"
	CodeSinkWrite       Code = "E505"

	// Unknown
	CodeUnknown Code = "E999"
)

// EngineError is the base error type for all engine errors.
type EngineError struct {
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
func (e *EngineError) Error() string {
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
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target error.
func (e *EngineError) Is(target error) bool {
	if t, ok := target.(*EngineError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithContext adds context to the error.
func (e *EngineError) WithContext(key string, value interface{}) *EngineError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new EngineError.
func New(code Code, message string) *EngineError {
	return &EngineError{
		Code:       code,
		Message:    message,
		StackTrace: captureStack(2),
	}
}

// Wrap wraps an existing error with additional context.
func Wrap(err error, code Code, message string) *EngineError {
	if err == nil {
		return nil
	}

	return &EngineError{
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: captureStack(2),
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *EngineError {
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
func (e *EngineError) FormatStack() string {
	var sb strings.Builder
	for _, f := range e.StackTrace {
		sb.WriteString(fmt.Sprintf("  at %s\n    %s:%d\n", f.Function, f.File, f.Line))
	}
	return sb.String()
}

// --- Convenience constructors ---

// ConfigInvalid creates a fatal configuration error. Safety-relevant
// thresholds and durations are never silently defaulted when invalid.
func ConfigInvalid(field string, value interface{}, reason string) *EngineError {
	return New(CodeConfigInvalid, "invalid configuration").
		WithContext("field", field).
		WithContext("value", value).
		WithContext("reason", reason)
}

// ConfigMissing creates a fatal missing-configuration error.
func ConfigMissing(field string) *EngineError {
	return New(CodeConfigMissing, "missing configuration").
		WithContext("field", field)
}

// SourceNotFound creates an error for a missing input or config file.
func SourceNotFound(path string) *EngineError {
	return New(CodeSourceNotFound, "file not found").
		WithContext("path", path)
}

// UnknownStream creates an error for a record on an unconfigured stream.
func UnknownStream(stream string) *EngineError {
	return New(CodeUnknownStream, "no parser registered for stream").
		WithContext("stream", stream)
}

// ContextCanceled creates a cancellation error.
func ContextCanceled(operation string) *EngineError {
	return New(CodeContextCanceled, "operation canceled").
		WithContext("operation", operation)
}

// --- Error checking utilities ---

// IsCode checks if an error has a specific code.
func IsCode(err error, code Code) bool {
	var engErr *EngineError
	if errors.As(err, &engErr) {
		return engErr.Code == code
	}
	return false
}

// GetCode extracts the error code from an error.
func GetCode(err error) Code {
	var engErr *EngineError
	if errors.As(err, &engErr) {
		return engErr.Code
	}
	return CodeUnknown
}

// IsFatal returns true if the error must stop the engine. Only
// configuration problems and panics qualify; record-level errors never do.
func IsFatal(err error) bool {
	switch GetCode(err) {
	case CodeConfigInvalid, CodeConfigMissing, CodePanic:
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

package parser

import (
	"errors"
	"fmt"
)

// Reason codes carried by parse failures. These are machine-readable and
// end up on dead-lettered records, so they are stable strings.
const (
	ReasonMissingField       = "missing_field"
	ReasonMalformedTimestamp = "malformed_timestamp"
	ReasonUnrecognizedFormat = "unrecognized_format"
	ReasonMalformedJSON      = "malformed_json"
	ReasonUnknownStream      = "unknown_stream"
)

var (
	// ErrUnsupportedKind is returned when no parser exists for a kind.
	ErrUnsupportedKind = errors.New("parser: unsupported format kind")

	// ErrUnknownStream is returned when a stream has no format binding.
	ErrUnknownStream = errors.New("parser: unknown stream")
)

// Failure describes one rejected record. Parsers never panic or drop input
// silently; a malformed record comes back as a *Failure preserving the
// original payload so it can be dead-lettered and replayed.
type Failure struct {
	Stream  string
	Reason  string
	Detail  string
	Payload []byte
}

// Error implements the error interface.
func (f *Failure) Error() string {
	if f.Detail == "" {
		return fmt.Sprintf("parse failure on %s: %s", f.Stream, f.Reason)
	}
	return fmt.Sprintf("parse failure on %s: %s: %s", f.Stream, f.Reason, f.Detail)
}

// failf builds a Failure for raw input. The payload is copied so the
// failure stays valid after the source reclaims its read buffer.
func failf(stream, reason string, payload []byte, format string, args ...interface{}) *Failure {
	cp := make([]byte, len(payload))
	copy(cp, payload)
	return &Failure{
		Stream:  stream,
		Reason:  reason,
		Detail:  fmt.Sprintf(format, args...),
		Payload: cp,
	}
}

// AsFailure returns the *Failure inside err, or nil if err is not one.
func AsFailure(err error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return nil
}

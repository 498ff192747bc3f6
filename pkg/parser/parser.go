// Package parser provides the per-format log parsers: syslog RFC-3164,
// Nginx combined access log, the legacy application dialects, structured
// JSON, and OTLP-JSON span batches.
package parser

import (
	"time"

	"github.com/logsift/logsift/internal/model"
)

// Parser turns raw records of one format into parsed records. Parse is
// pure: the same input always yields the same output, and no state is
// retained beyond configuration. Implementations must be safe for
// concurrent use.
type Parser interface {
	// Kind identifies the format this parser produces.
	Kind() model.Kind

	// Parse turns one raw record into parsed records. Line formats yield
	// exactly one; the OTLP span parser yields one per span in the batch.
	// A non-nil error is always a *Failure carrying the original payload.
	Parse(raw model.RawRecord) ([]model.ParsedRecord, error)
}

// Config holds common parser configuration.
type Config struct {
	// DefaultYear is injected into year-less RFC-3164 timestamps.
	// Zero means the year at construction time.
	DefaultYear int

	// Location applies to timestamps that carry no zone information.
	Location *time.Location
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DefaultYear: time.Now().Year(),
		Location:    time.UTC,
	}
}

func (c Config) location() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

func (c Config) defaultYear() int {
	if c.DefaultYear <= 0 {
		return time.Now().Year()
	}
	return c.DefaultYear
}

// ParseKindName maps a format name from configuration to its Kind.
func ParseKindName(s string) model.Kind {
	switch s {
	case "structured", "json":
		return model.KindStructured
	case "syslog":
		return model.KindSyslog
	case "nginx", "accesslog", "access_log":
		return model.KindNginx
	case "app_legacy", "app-legacy", "applegacy":
		return model.KindAppLegacy
	case "otel_span", "otel", "otlp":
		return model.KindOTelSpan
	default:
		return model.KindUnknown
	}
}

// New creates a parser for the given format kind.
func New(kind model.Kind, cfg Config) (Parser, error) {
	switch kind {
	case model.KindStructured:
		return NewStructuredParser(cfg), nil
	case model.KindSyslog:
		return NewSyslogParser(cfg), nil
	case model.KindNginx:
		return NewNginxParser(cfg), nil
	case model.KindAppLegacy:
		return NewAppLegacyParser(cfg), nil
	case model.KindOTelSpan:
		return NewOTelSpanParser(cfg), nil
	default:
		return nil, ErrUnsupportedKind
	}
}

// DefaultStreams maps the standard input stream names to their formats.
// The binding is configuration; these are the out-of-the-box defaults.
func DefaultStreams() map[string]model.Kind {
	return map[string]model.Kind{
		"logs-structured": model.KindStructured,
		"logs-syslog-raw": model.KindSyslog,
		"logs-nginx-raw":  model.KindNginx,
		"logs-app-mixed":  model.KindAppLegacy,
		"telemetry-otel":  model.KindOTelSpan,
	}
}

// Registry binds stream names to parsers for pipeline dispatch.
type Registry struct {
	parsers map[string]Parser
}

// NewRegistry builds a registry from a stream-to-format binding.
func NewRegistry(streams map[string]model.Kind, cfg Config) (*Registry, error) {
	parsers := make(map[string]Parser, len(streams))
	for stream, kind := range streams {
		p, err := New(kind, cfg)
		if err != nil {
			return nil, err
		}
		parsers[stream] = p
	}
	return &Registry{parsers: parsers}, nil
}

// For returns the parser bound to a stream.
func (r *Registry) For(stream string) (Parser, error) {
	p, ok := r.parsers[stream]
	if !ok {
		return nil, ErrUnknownStream
	}
	return p, nil
}

// Streams returns the bound stream names.
func (r *Registry) Streams() []string {
	names := make([]string, 0, len(r.parsers))
	for s := range r.parsers {
		names = append(names, s)
	}
	return names
}

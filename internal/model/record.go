package model

import "time"

// RawRecord is one record as delivered on an input stream, before parsing.
// It is created at ingestion and never mutated; once parsed (or terminally
// failed) it is discarded.
type RawRecord struct {
	// Stream is the logical input stream name (e.g. "logs-syslog-raw").
	Stream string

	// Key is the optional partition key. For the app-mixed stream this is
	// the application name; empty otherwise.
	Key string

	// Payload is the raw record body.
	Payload []byte

	// IngestTime is when the engine received the record.
	IngestTime time.Time
}

// Kind tags the parsed-record variant. The set is closed: adding a source
// format means adding a Kind, a payload struct, and a normalizer case.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindStructured
	KindSyslog
	KindNginx
	KindAppLegacy
	KindOTelSpan
)

// String returns the kind name used on output streams and in logs.
func (k Kind) String() string {
	switch k {
	case KindStructured:
		return "structured"
	case KindSyslog:
		return "syslog"
	case KindNginx:
		return "nginx"
	case KindAppLegacy:
		return "app_legacy"
	case KindOTelSpan:
		return "otel_span"
	default:
		return "unknown"
	}
}

// Dialect identifies which app-legacy sub-format a record matched.
type Dialect uint8

const (
	DialectStandard Dialect = iota
	DialectPiped
	DialectBracket
)

func (d Dialect) String() string {
	switch d {
	case DialectPiped:
		return "piped"
	case DialectBracket:
		return "bracket"
	default:
		return "standard"
	}
}

// ParsedRecord is the output of exactly one parser applied to one RawRecord.
// Exactly one of the variant pointers matching Kind is non-nil. Immutable
// once produced.
type ParsedRecord struct {
	Kind      Kind      `json:"kind"`
	LogSource string    `json:"log_source"`
	Key       string    `json:"key,omitempty"`
	EventTime time.Time `json:"event_time"`

	Structured *Structured  `json:"structured,omitempty"`
	Syslog     *Syslog      `json:"syslog,omitempty"`
	Nginx      *NginxAccess `json:"nginx,omitempty"`
	AppLegacy  *AppLegacy   `json:"app_legacy,omitempty"`
	OTelSpan   *OTelSpan    `json:"otel_span,omitempty"`
}

// Structured carries an already schema-conformant JSON log line.
type Structured struct {
	Level      string  `json:"level"`
	Service    string  `json:"service"`
	Message    string  `json:"message"`
	Hostname   *string `json:"hostname,omitempty"`
	StatusCode *int64  `json:"status_code,omitempty"`
	LatencyMS  *int64  `json:"latency_ms,omitempty"`
	TraceID    *string `json:"trace_id,omitempty"`
}

// Syslog carries the fields extracted from one RFC-3164 line.
// Severity and Facility are derived from the priority: severity is
// priority mod 8, facility is priority div 8.
type Syslog struct {
	Priority int    `json:"priority"`
	Severity int    `json:"severity"`
	Facility int    `json:"facility"`
	Hostname string `json:"hostname,omitempty"`
	Process  string `json:"process,omitempty"`
	PID      *int64 `json:"pid,omitempty"`
	Message  string `json:"message"`
}

// NginxAccess carries the fields of one combined-format access log line.
type NginxAccess struct {
	ClientIP      string   `json:"client_ip"`
	Method        string   `json:"method"`
	Path          string   `json:"path"`
	Protocol      string   `json:"protocol,omitempty"`
	Status        int64    `json:"status"`
	BytesSent     int64    `json:"bytes_sent"`
	Referer       string   `json:"referer,omitempty"`
	UserAgent     string   `json:"user_agent,omitempty"`
	ResponseTimeS *float64 `json:"response_time_s,omitempty"`
}

// AppLegacy carries one legacy application log line. Dialect records which
// sub-format the detector matched. DurationMS and Rows come from optional
// "took <N>ms" and "rows=<N>" markers in the message and stay nil when
// absent.
type AppLegacy struct {
	Dialect    Dialect `json:"-"`
	DialectTag string  `json:"dialect"`
	Level      string  `json:"level"`
	Thread     string  `json:"thread,omitempty"`
	Class      string  `json:"class,omitempty"`
	Message    string  `json:"message"`
	DurationMS *int64  `json:"duration_ms,omitempty"`
	Rows       *int64  `json:"rows,omitempty"`
}

// OTelSpan carries one span lifted out of an OTLP-JSON batch. Spans feed
// the span-metrics aggregation only; they are never normalized into the
// unified stream.
type OTelSpan struct {
	ServiceName string        `json:"service_name"`
	SpanName    string        `json:"span_name"`
	TraceID     string        `json:"trace_id,omitempty"`
	SpanID      string        `json:"span_id,omitempty"`
	StartTime   time.Time     `json:"start_time"`
	Duration    time.Duration `json:"-"`
	DurationMS  float64       `json:"duration_ms"`
	StatusCode  string        `json:"status_code,omitempty"`
}

// Package model defines the core data shapes flowing through the engine:
// raw input records, per-format parsed records, the unified event, closed
// window snapshots, and alerts.
package model

import "time"

// Severity labels. Syslog severities 0-7 map onto the first eight in order;
// the nginx mapping uses WARN, structured and app-legacy inputs pass their
// level through as-is.
const (
	SeverityEmergency = "EMERGENCY"
	SeverityAlert     = "ALERT"
	SeverityCritical  = "CRITICAL"
	SeverityError     = "ERROR"
	SeverityWarning   = "WARNING"
	SeverityNotice    = "NOTICE"
	SeverityInfo      = "INFO"
	SeverityDebug     = "DEBUG"
	SeverityWarn      = "WARN"
	SeverityFatal     = "FATAL"
	SeverityUnknown   = "UNKNOWN"
)

// syslogSeverityTable maps severity 0-7 to its label.
var syslogSeverityTable = [8]string{
	SeverityEmergency,
	SeverityAlert,
	SeverityCritical,
	SeverityError,
	SeverityWarning,
	SeverityNotice,
	SeverityInfo,
	SeverityDebug,
}

// SyslogSeverityLabel returns the label for a syslog severity number.
// Severity is always 0-7 by construction (priority mod 8), but anything
// out of range still gets the UNKNOWN default rather than a panic.
func SyslogSeverityLabel(severity int) string {
	if severity < 0 || severity >= len(syslogSeverityTable) {
		return SeverityUnknown
	}
	return syslogSeverityTable[severity]
}

// UnifiedEvent is the canonical shape every log variant maps into. The
// mapping is total and deterministic. A UnifiedEvent is produced once by
// the normalizer and fanned out to the aggregator and the per-record alert
// rules; consumers must not mutate it.
type UnifiedEvent struct {
	EventTime  time.Time `json:"event_time"`
	Severity   string    `json:"severity_label"`
	SourceName string    `json:"source_name"`
	Hostname   *string   `json:"hostname,omitempty"`
	Message    string    `json:"message"`
	StatusCode *int64    `json:"status_code,omitempty"`
	LatencyMS  *int64    `json:"latency_ms,omitempty"`
	TraceID    *string   `json:"trace_id,omitempty"`
	LogType    string    `json:"log_type"`
}

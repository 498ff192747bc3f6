// Package normalize maps every parsed-record variant onto the unified event
// shape. The mapping is total over the four log variants and deterministic:
// the same parsed record always yields the same unified event. Span records
// are out of unified scope and come back with ErrNotUnified.
package normalize

import (
	"errors"
	"math"
	"strings"

	"github.com/logsift/logsift/internal/model"
)

// ErrNotUnified marks record kinds with no unified mapping. The pipeline
// treats it as routing (spans feed span metrics directly), not as a parse
// failure, so nothing carrying it belongs in the dead letter queue.
var ErrNotUnified = errors.New("normalize: record kind has no unified mapping")

// Normalize maps one parsed record onto the unified shape. Exactly one
// mapping exists per log variant; adding a Kind without a case here fails
// every record of that kind, which is the loud way to forget.
func Normalize(p model.ParsedRecord) (model.UnifiedEvent, error) {
	switch {
	case p.Kind == model.KindStructured && p.Structured != nil:
		return fromStructured(p), nil
	case p.Kind == model.KindSyslog && p.Syslog != nil:
		return fromSyslog(p), nil
	case p.Kind == model.KindNginx && p.Nginx != nil:
		return fromNginx(p), nil
	case p.Kind == model.KindAppLegacy && p.AppLegacy != nil:
		return fromAppLegacy(p), nil
	default:
		return model.UnifiedEvent{}, ErrNotUnified
	}
}

// fromStructured passes the already-conformant fields through, upper-casing
// the level so severity membership checks see one canonical spelling.
func fromStructured(p model.ParsedRecord) model.UnifiedEvent {
	s := p.Structured
	return model.UnifiedEvent{
		EventTime:  p.EventTime,
		Severity:   strings.ToUpper(s.Level),
		SourceName: s.Service,
		Hostname:   s.Hostname,
		Message:    s.Message,
		StatusCode: s.StatusCode,
		LatencyMS:  s.LatencyMS,
		TraceID:    s.TraceID,
		LogType:    p.Kind.String(),
	}
}

func fromSyslog(p model.ParsedRecord) model.UnifiedEvent {
	s := p.Syslog
	ev := model.UnifiedEvent{
		EventTime:  p.EventTime,
		Severity:   model.SyslogSeverityLabel(s.Severity),
		SourceName: s.Process,
		Message:    s.Message,
		LogType:    p.Kind.String(),
	}
	if s.Hostname != "" {
		ev.Hostname = &s.Hostname
	}
	return ev
}

// fromNginx derives severity from the status code, renders the message as
// "METHOD path", and converts the response time to whole milliseconds.
func fromNginx(p model.ParsedRecord) model.UnifiedEvent {
	n := p.Nginx
	status := n.Status
	ev := model.UnifiedEvent{
		EventTime:  p.EventTime,
		Severity:   severityFromStatus(n.Status),
		SourceName: "nginx",
		Message:    strings.TrimSpace(n.Method + " " + n.Path),
		StatusCode: &status,
		LogType:    p.Kind.String(),
	}
	if n.ResponseTimeS != nil {
		ms := int64(math.Round(*n.ResponseTimeS * 1000))
		ev.LatencyMS = &ms
	}
	return ev
}

// fromAppLegacy takes the source name from the raw record's key, which on
// the app-mixed stream is the application name. Unkeyed records fall back
// to the parsed logger class.
func fromAppLegacy(p model.ParsedRecord) model.UnifiedEvent {
	a := p.AppLegacy
	source := p.Key
	if source == "" {
		source = a.Class
	}
	if source == "" {
		source = p.Kind.String()
	}
	return model.UnifiedEvent{
		EventTime:  p.EventTime,
		Severity:   a.Level,
		SourceName: source,
		Message:    a.Message,
		LatencyMS:  a.DurationMS,
		LogType:    p.Kind.String(),
	}
}

// severityFromStatus maps an HTTP status onto a severity label with
// boundaries at exactly 400 and 500.
func severityFromStatus(status int64) string {
	switch {
	case status >= 500:
		return model.SeverityError
	case status >= 400:
		return model.SeverityWarn
	default:
		return model.SeverityInfo
	}
}

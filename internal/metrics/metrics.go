// Package metrics defines the engine's Prometheus instrumentation. One
// Metrics value is created per process and shared; a nil *Metrics disables
// every recorder, so library code never has to guard the calls.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "logsift"

// Metrics holds the Prometheus collectors for the whole engine.
type Metrics struct {
	RecordsIngested *prometheus.CounterVec
	ParseFailures   *prometheus.CounterVec
	DeadLetters     *prometheus.CounterVec
	Normalized      prometheus.Counter
	LateEvents      *prometheus.CounterVec
	SkewEvents      *prometheus.CounterVec
	WindowsClosed   *prometheus.CounterVec
	Alerts          *prometheus.CounterVec
	Watermark       *prometheus.GaugeVec
}

// New creates the engine metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		RecordsIngested: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_ingested_total",
			Help:      "Raw records received, by input stream",
		}, []string{"stream"}),
		ParseFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_failures_total",
			Help:      "Records that failed parsing, by stream and reason",
		}, []string{"stream", "reason"}),
		DeadLetters: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dead_letters_total",
			Help:      "Failed records written to the dead letter sink",
		}, []string{"stream"}),
		Normalized: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_normalized_total",
			Help:      "Parsed records mapped onto the unified shape",
		}),
		LateEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "late_events_total",
			Help:      "Events dropped because their window had closed",
		}, []string{"query"}),
		SkewEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clock_skew_events_total",
			Help:      "Events dropped for running ahead of the watermark",
		}, []string{"query"}),
		WindowsClosed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "windows_closed_total",
			Help:      "Window snapshots emitted, by query",
		}, []string{"query"}),
		Alerts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alerts emitted, by rule and severity",
		}, []string{"rule", "severity"}),
		Watermark: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watermark_seconds",
			Help:      "Current watermark as a unix timestamp, by query",
		}, []string{"query"}),
	}
}

func (m *Metrics) RecordIngested(stream string) {
	if m == nil {
		return
	}
	m.RecordsIngested.WithLabelValues(stream).Inc()
}

func (m *Metrics) ParseFailed(stream, reason string) {
	if m == nil {
		return
	}
	m.ParseFailures.WithLabelValues(stream, reason).Inc()
}

func (m *Metrics) DeadLettered(stream string) {
	if m == nil {
		return
	}
	m.DeadLetters.WithLabelValues(stream).Inc()
}

func (m *Metrics) EventNormalized() {
	if m == nil {
		return
	}
	m.Normalized.Inc()
}

func (m *Metrics) LateDropped(query string) {
	if m == nil {
		return
	}
	m.LateEvents.WithLabelValues(query).Inc()
}

func (m *Metrics) SkewDropped(query string) {
	if m == nil {
		return
	}
	m.SkewEvents.WithLabelValues(query).Inc()
}

func (m *Metrics) WindowClosed(query string) {
	if m == nil {
		return
	}
	m.WindowsClosed.WithLabelValues(query).Inc()
}

func (m *Metrics) AlertEmitted(rule, severity string) {
	if m == nil {
		return
	}
	m.Alerts.WithLabelValues(rule, severity).Inc()
}

func (m *Metrics) SetWatermark(query string, t time.Time) {
	if m == nil {
		return
	}
	m.Watermark.WithLabelValues(query).Set(float64(t.Unix()))
}

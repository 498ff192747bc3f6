package model

import "time"

// Alert is one emitted alert. Alerts are immutable and never retracted;
// there is no resolution model. A rule that keeps qualifying keeps
// emitting (level-triggered).
type Alert struct {
	ID       string    `json:"id"`
	Time     time.Time `json:"alert_time"`
	Type     string    `json:"alert_type"`
	Severity string    `json:"severity"`

	// Subject identifies what the alert is about: a source name, host,
	// client IP, status code, or window key depending on the rule.
	Subject string `json:"subject"`

	// Evidence carries the rule-specific fields that justified the alert.
	Evidence map[string]any `json:"evidence,omitempty"`
}

package model

import "time"

// MetricSnapshot is the immutable emission of one closed window: the
// aggregates for one grouping key over one [WindowStart, WindowEnd)
// interval of one query. Avg is computed once at emission as Sum/Count;
// snapshots are never amended after emission.
type MetricSnapshot struct {
	Query       string    `json:"query"`
	Key         string    `json:"key"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`

	Count      int64 `json:"count"`
	ErrorCount int64 `json:"error_count"`

	// Value aggregates are only meaningful when the query extracts a
	// value; ValueCount says how many events contributed one.
	ValueCount int64   `json:"value_count,omitempty"`
	Sum        float64 `json:"sum,omitempty"`
	Min        float64 `json:"min,omitempty"`
	Max        float64 `json:"max,omitempty"`
	Avg        float64 `json:"avg,omitempty"`
}

// ErrorRatePct returns the error percentage for the window, 0 when empty.
func (s *MetricSnapshot) ErrorRatePct() float64 {
	if s.Count == 0 {
		return 0
	}
	return float64(s.ErrorCount) / float64(s.Count) * 100
}

// ErrorRatio returns the error fraction for the window, 0 when empty.
func (s *MetricSnapshot) ErrorRatio() float64 {
	if s.Count == 0 {
		return 0
	}
	return float64(s.ErrorCount) / float64(s.Count)
}

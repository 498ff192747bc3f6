// Package alert evaluates the alerting rules. Two independent rule
// families exist: a per-record severity check on unified events, and
// per-window threshold rules bound to the standard aggregation queries.
// Evaluation is level-triggered and stateless: every qualifying event or
// closed window emits, with no deduplication or resolution tracking.
package alert

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/logsift/logsift/internal/metrics"
	"github.com/logsift/logsift/internal/model"
	"github.com/logsift/logsift/pkg/errors"
	"github.com/logsift/logsift/pkg/window"
)

// Alert type names carried on emitted alerts.
const (
	TypeCriticalLog  = "CRITICAL_LOG"
	TypeErrorRate    = "error-rate"
	TypeLatencySLA   = "latency-sla"
	TypeSSHFailures  = "security-ssh-failures"
	TypeHTTPAnomaly  = "http-status-anomaly"
	TypeSuspiciousIP = "suspicious-ip"
)

// Config holds every rule threshold and severity tier. All of them are
// named and overridable; DefaultConfig returns the stock values. Invalid
// thresholds fail validation instead of being silently replaced.
type Config struct {
	// CriticalSeverities is the severity set that triggers the
	// per-record CRITICAL_LOG rule.
	CriticalSeverities []string `yaml:"critical_severities"`

	// Error-rate rule: percentage of error-severity events per service
	// per window. Fires only above the warning threshold.
	ErrorRateCriticalPct float64 `yaml:"error_rate_critical_pct"`
	ErrorRateWarningPct  float64 `yaml:"error_rate_warning_pct"`

	// Latency SLA rule: maximum observed latency per service per window.
	LatencyCriticalMS float64 `yaml:"latency_critical_ms"`
	LatencyWarningMS  float64 `yaml:"latency_warning_ms"`

	// SSH brute-force rule: failed-password count per host per window.
	// Inclusive thresholds.
	SSHCriticalCount int64 `yaml:"ssh_critical_count"`
	SSHWarningCount  int64 `yaml:"ssh_warning_count"`
	SSHInfoCount     int64 `yaml:"ssh_info_count"`

	// HTTP anomaly rule: 4xx/5xx count per status code per window.
	// Exclusive thresholds.
	HTTPCriticalCount int64 `yaml:"http_critical_count"`
	HTTPWarningCount  int64 `yaml:"http_warning_count"`
	HTTPInfoCount     int64 `yaml:"http_info_count"`

	// Suspicious-IP rule: fires only when both the request count and the
	// error ratio for one client exceed their bounds.
	SuspiciousMinRequests int64   `yaml:"suspicious_min_requests"`
	SuspiciousErrorRatio  float64 `yaml:"suspicious_error_ratio"`
}

// DefaultConfig returns the stock rule thresholds.
func DefaultConfig() Config {
	return Config{
		CriticalSeverities: []string{
			model.SeverityError,
			model.SeverityCritical,
			model.SeverityEmergency,
			model.SeverityFatal,
		},
		ErrorRateCriticalPct:  10,
		ErrorRateWarningPct:   5,
		LatencyCriticalMS:     5000,
		LatencyWarningMS:      2000,
		SSHCriticalCount:      10,
		SSHWarningCount:       5,
		SSHInfoCount:          3,
		HTTPCriticalCount:     100,
		HTTPWarningCount:      50,
		HTTPInfoCount:         10,
		SuspiciousMinRequests: 20,
		SuspiciousErrorRatio:  0.5,
	}
}

// Validate reports every unusable threshold at once.
func (c Config) Validate() error {
	var errs errors.MultiError

	if len(c.CriticalSeverities) == 0 {
		errs.Add(errors.ConfigMissing("alerts.critical_severities"))
	}

	if c.ErrorRateWarningPct <= 0 {
		errs.Add(errors.ConfigInvalid("alerts.error_rate_warning_pct", c.ErrorRateWarningPct, "must be positive"))
	}
	if c.ErrorRateCriticalPct <= c.ErrorRateWarningPct {
		errs.Add(errors.ConfigInvalid("alerts.error_rate_critical_pct", c.ErrorRateCriticalPct, "must exceed the warning threshold"))
	}

	if c.LatencyWarningMS <= 0 {
		errs.Add(errors.ConfigInvalid("alerts.latency_warning_ms", c.LatencyWarningMS, "must be positive"))
	}
	if c.LatencyCriticalMS <= c.LatencyWarningMS {
		errs.Add(errors.ConfigInvalid("alerts.latency_critical_ms", c.LatencyCriticalMS, "must exceed the warning threshold"))
	}

	if c.SSHInfoCount < 1 {
		errs.Add(errors.ConfigInvalid("alerts.ssh_info_count", c.SSHInfoCount, "must be at least 1"))
	}
	if c.SSHWarningCount <= c.SSHInfoCount {
		errs.Add(errors.ConfigInvalid("alerts.ssh_warning_count", c.SSHWarningCount, "must exceed the info threshold"))
	}
	if c.SSHCriticalCount <= c.SSHWarningCount {
		errs.Add(errors.ConfigInvalid("alerts.ssh_critical_count", c.SSHCriticalCount, "must exceed the warning threshold"))
	}

	if c.HTTPInfoCount < 1 {
		errs.Add(errors.ConfigInvalid("alerts.http_info_count", c.HTTPInfoCount, "must be at least 1"))
	}
	if c.HTTPWarningCount <= c.HTTPInfoCount {
		errs.Add(errors.ConfigInvalid("alerts.http_warning_count", c.HTTPWarningCount, "must exceed the info threshold"))
	}
	if c.HTTPCriticalCount <= c.HTTPWarningCount {
		errs.Add(errors.ConfigInvalid("alerts.http_critical_count", c.HTTPCriticalCount, "must exceed the warning threshold"))
	}

	if c.SuspiciousMinRequests < 1 {
		errs.Add(errors.ConfigInvalid("alerts.suspicious_min_requests", c.SuspiciousMinRequests, "must be at least 1"))
	}
	if c.SuspiciousErrorRatio <= 0 || c.SuspiciousErrorRatio >= 1 {
		errs.Add(errors.ConfigInvalid("alerts.suspicious_error_ratio", c.SuspiciousErrorRatio, "must be between 0 and 1 exclusive"))
	}

	return errs.Combined()
}

// Options carries the evaluator's collaborators.
type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Evaluator applies the rule families. Safe for concurrent use: it holds
// no mutable state.
type Evaluator struct {
	cfg      Config
	critical map[string]struct{}
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// New validates the config and builds an Evaluator.
func New(cfg Config, opts Options) (*Evaluator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	critical := make(map[string]struct{}, len(cfg.CriticalSeverities))
	for _, s := range cfg.CriticalSeverities {
		critical[s] = struct{}{}
	}
	return &Evaluator{
		cfg:      cfg,
		critical: critical,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}, nil
}

// Config returns the thresholds the evaluator runs with.
func (e *Evaluator) Config() Config { return e.cfg }

// EvaluateEvent applies the per-record rule: a unified event whose severity
// is in the critical set emits a CRITICAL_LOG alert mirroring that
// severity.
func (e *Evaluator) EvaluateEvent(ev model.UnifiedEvent) (model.Alert, bool) {
	if _, ok := e.critical[ev.Severity]; !ok {
		return model.Alert{}, false
	}
	a := model.Alert{
		ID:       uuid.NewString(),
		Time:     ev.EventTime,
		Type:     TypeCriticalLog,
		Severity: ev.Severity,
		Subject:  ev.SourceName,
		Evidence: map[string]any{
			"severity_label": ev.Severity,
			"source_name":    ev.SourceName,
			"message":        ev.Message,
			"log_type":       ev.LogType,
		},
	}
	e.emitted(a)
	return a, true
}

// EvaluateWindow applies the per-window rule bound to the snapshot's query.
// Snapshots from queries without a rule never alert.
func (e *Evaluator) EvaluateWindow(s model.MetricSnapshot) (model.Alert, bool) {
	var (
		a  model.Alert
		ok bool
	)
	switch s.Query {
	case window.QueryErrorRateByService:
		a, ok = e.errorRate(s)
	case window.QueryLatencyByService:
		a, ok = e.latencySLA(s)
	case window.QuerySSHFailuresByHost:
		a, ok = e.sshFailures(s)
	case window.QueryHTTPErrorsByStatus:
		a, ok = e.httpAnomaly(s)
	case window.QueryRequestsByClient:
		a, ok = e.suspiciousIP(s)
	default:
		return model.Alert{}, false
	}
	if ok {
		e.emitted(a)
	}
	return a, ok
}

func (e *Evaluator) errorRate(s model.MetricSnapshot) (model.Alert, bool) {
	pct := s.ErrorRatePct()
	var severity string
	switch {
	case pct > e.cfg.ErrorRateCriticalPct:
		severity = model.SeverityCritical
	case pct > e.cfg.ErrorRateWarningPct:
		severity = model.SeverityWarning
	default:
		return model.Alert{}, false
	}
	return windowAlert(TypeErrorRate, severity, s, map[string]any{
		"error_rate_pct": pct,
		"count":          s.Count,
		"error_count":    s.ErrorCount,
	}), true
}

func (e *Evaluator) latencySLA(s model.MetricSnapshot) (model.Alert, bool) {
	if s.ValueCount == 0 {
		return model.Alert{}, false
	}
	var severity string
	switch {
	case s.Max > e.cfg.LatencyCriticalMS:
		severity = model.SeverityCritical
	case s.Max > e.cfg.LatencyWarningMS:
		severity = model.SeverityWarning
	default:
		return model.Alert{}, false
	}
	return windowAlert(TypeLatencySLA, severity, s, map[string]any{
		"max_latency_ms": s.Max,
		"avg_latency_ms": s.Avg,
		"sample_count":   s.ValueCount,
	}), true
}

func (e *Evaluator) sshFailures(s model.MetricSnapshot) (model.Alert, bool) {
	var severity string
	switch {
	case s.Count >= e.cfg.SSHCriticalCount:
		severity = model.SeverityCritical
	case s.Count >= e.cfg.SSHWarningCount:
		severity = model.SeverityWarning
	case s.Count >= e.cfg.SSHInfoCount:
		severity = model.SeverityInfo
	default:
		return model.Alert{}, false
	}
	return windowAlert(TypeSSHFailures, severity, s, map[string]any{
		"failed_logins": s.Count,
		"host":          s.Key,
	}), true
}

func (e *Evaluator) httpAnomaly(s model.MetricSnapshot) (model.Alert, bool) {
	var severity string
	switch {
	case s.Count > e.cfg.HTTPCriticalCount:
		severity = model.SeverityCritical
	case s.Count > e.cfg.HTTPWarningCount:
		severity = model.SeverityWarning
	case s.Count > e.cfg.HTTPInfoCount:
		severity = model.SeverityInfo
	default:
		return model.Alert{}, false
	}
	return windowAlert(TypeHTTPAnomaly, severity, s, map[string]any{
		"status_code": s.Key,
		"count":       s.Count,
	}), true
}

func (e *Evaluator) suspiciousIP(s model.MetricSnapshot) (model.Alert, bool) {
	ratio := s.ErrorRatio()
	if s.Count <= e.cfg.SuspiciousMinRequests || ratio <= e.cfg.SuspiciousErrorRatio {
		return model.Alert{}, false
	}
	return windowAlert(TypeSuspiciousIP, model.SeverityWarning, s, map[string]any{
		"client_ip":      s.Key,
		"total_requests": s.Count,
		"error_count":    s.ErrorCount,
		"error_ratio":    ratio,
	}), true
}

func (e *Evaluator) emitted(a model.Alert) {
	e.metrics.AlertEmitted(a.Type, a.Severity)
	e.logger.Info("alert",
		"type", a.Type,
		"severity", a.Severity,
		"subject", a.Subject)
}

// windowAlert builds an alert for one closed window. The alert time is the
// window end, the subject is the grouping key.
func windowAlert(typ, severity string, s model.MetricSnapshot, evidence map[string]any) model.Alert {
	evidence["query"] = s.Query
	evidence["window_start"] = s.WindowStart
	evidence["window_end"] = s.WindowEnd
	return model.Alert{
		ID:       uuid.NewString(),
		Time:     s.WindowEnd,
		Type:     typ,
		Severity: severity,
		Subject:  s.Key,
		Evidence: evidence,
	}
}

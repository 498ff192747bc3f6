package window

import (
	"strconv"
	"strings"
	"time"

	"github.com/logsift/logsift/internal/model"
)

// Names of the standard aggregation queries. Snapshots carry these and the
// alert rules bind to them.
const (
	QueryErrorRateByService      = "error-rate-by-service"
	QueryLatencyByService        = "latency-by-service"
	QueryVolumeByEndpoint        = "volume-by-endpoint"
	QueryVolumeBySourceSeverity  = "volume-by-source-severity"
	QuerySSHFailuresByHost       = "ssh-failures-by-host"
	QueryHTTPErrorsByStatus      = "http-errors-by-status"
	QueryRequestsByClient        = "requests-by-client"
	QuerySpanDurationByOperation = "span-duration-by-operation"
)

// errorSeverities are the labels counted as errors by the rate queries.
var errorSeverities = map[string]struct{}{
	model.SeverityError:     {},
	model.SeverityCritical:  {},
	model.SeverityEmergency: {},
	model.SeverityFatal:     {},
}

func isErrorSeverity(severity string) bool {
	_, ok := errorSeverities[severity]
	return ok
}

// ErrorRateByService counts events and error-severity events per service.
func ErrorRateByService(d, lateness time.Duration) Query {
	return Query{
		Name:     QueryErrorRateByService,
		Window:   d,
		Lateness: lateness,
		Event: func(ev model.UnifiedEvent) (Sample, bool) {
			if ev.SourceName == "" {
				return Sample{}, false
			}
			return Sample{
				Time:  ev.EventTime,
				Key:   ev.SourceName,
				Error: isErrorSeverity(ev.Severity),
			}, true
		},
	}
}

// LatencyByService aggregates latency milliseconds per service. Events
// without a latency carry nothing and are skipped.
func LatencyByService(d, lateness time.Duration) Query {
	return Query{
		Name:     QueryLatencyByService,
		Window:   d,
		Lateness: lateness,
		Event: func(ev model.UnifiedEvent) (Sample, bool) {
			if ev.SourceName == "" || ev.LatencyMS == nil {
				return Sample{}, false
			}
			return Sample{
				Time:     ev.EventTime,
				Key:      ev.SourceName,
				Value:    float64(*ev.LatencyMS),
				HasValue: true,
			}, true
		},
	}
}

// VolumeByEndpoint counts nginx requests per "METHOD path".
func VolumeByEndpoint(d, lateness time.Duration) Query {
	return Query{
		Name:     QueryVolumeByEndpoint,
		Window:   d,
		Lateness: lateness,
		Record: func(rec model.ParsedRecord) (Sample, bool) {
			if rec.Kind != model.KindNginx || rec.Nginx == nil {
				return Sample{}, false
			}
			return Sample{
				Time: rec.EventTime,
				Key:  rec.Nginx.Method + " " + rec.Nginx.Path,
			}, true
		},
	}
}

// VolumeBySourceSeverity counts unified events per source and severity.
func VolumeBySourceSeverity(d, lateness time.Duration) Query {
	return Query{
		Name:     QueryVolumeBySourceSeverity,
		Window:   d,
		Lateness: lateness,
		Event: func(ev model.UnifiedEvent) (Sample, bool) {
			if ev.SourceName == "" {
				return Sample{}, false
			}
			return Sample{
				Time: ev.EventTime,
				Key:  ev.SourceName + "|" + ev.Severity,
			}, true
		},
	}
}

// SSHFailuresByHost counts failed-password sshd lines per host.
func SSHFailuresByHost(d, lateness time.Duration) Query {
	return Query{
		Name:     QuerySSHFailuresByHost,
		Window:   d,
		Lateness: lateness,
		Record: func(rec model.ParsedRecord) (Sample, bool) {
			if rec.Kind != model.KindSyslog || rec.Syslog == nil {
				return Sample{}, false
			}
			s := rec.Syslog
			if s.Process != "sshd" || s.Hostname == "" {
				return Sample{}, false
			}
			if !strings.Contains(strings.ToLower(s.Message), "failed password") {
				return Sample{}, false
			}
			return Sample{Time: rec.EventTime, Key: s.Hostname}, true
		},
	}
}

// HTTPErrorsByStatus counts nginx 4xx/5xx responses per status code.
func HTTPErrorsByStatus(d, lateness time.Duration) Query {
	return Query{
		Name:     QueryHTTPErrorsByStatus,
		Window:   d,
		Lateness: lateness,
		Record: func(rec model.ParsedRecord) (Sample, bool) {
			if rec.Kind != model.KindNginx || rec.Nginx == nil || rec.Nginx.Status < 400 {
				return Sample{}, false
			}
			return Sample{
				Time: rec.EventTime,
				Key:  strconv.FormatInt(rec.Nginx.Status, 10),
			}, true
		},
	}
}

// RequestsByClient counts nginx requests per client IP, flagging 4xx/5xx
// responses as errors for the suspicious-IP rule.
func RequestsByClient(d, lateness time.Duration) Query {
	return Query{
		Name:     QueryRequestsByClient,
		Window:   d,
		Lateness: lateness,
		Record: func(rec model.ParsedRecord) (Sample, bool) {
			if rec.Kind != model.KindNginx || rec.Nginx == nil || rec.Nginx.ClientIP == "" {
				return Sample{}, false
			}
			return Sample{
				Time:  rec.EventTime,
				Key:   rec.Nginx.ClientIP,
				Error: rec.Nginx.Status >= 400,
			}, true
		},
	}
}

// SpanDurationByOperation aggregates span durations per service and
// operation name.
func SpanDurationByOperation(d, lateness time.Duration) Query {
	return Query{
		Name:     QuerySpanDurationByOperation,
		Window:   d,
		Lateness: lateness,
		Record: func(rec model.ParsedRecord) (Sample, bool) {
			if rec.Kind != model.KindOTelSpan || rec.OTelSpan == nil {
				return Sample{}, false
			}
			sp := rec.OTelSpan
			return Sample{
				Time:     rec.EventTime,
				Key:      sp.ServiceName + "|" + sp.SpanName,
				Value:    sp.DurationMS,
				HasValue: true,
				Error:    sp.StatusCode == "ERROR",
			}, true
		},
	}
}

// StandardQueries returns the eight stock queries: one-minute windows
// except the two security ones, which watch five minutes.
func StandardQueries(lateness, maxSkew time.Duration) []Query {
	qs := []Query{
		ErrorRateByService(time.Minute, lateness),
		LatencyByService(time.Minute, lateness),
		VolumeByEndpoint(time.Minute, lateness),
		VolumeBySourceSeverity(time.Minute, lateness),
		SSHFailuresByHost(5*time.Minute, lateness),
		HTTPErrorsByStatus(time.Minute, lateness),
		RequestsByClient(5*time.Minute, lateness),
		SpanDurationByOperation(time.Minute, lateness),
	}
	for i := range qs {
		qs[i].MaxSkew = maxSkew
	}
	return qs
}

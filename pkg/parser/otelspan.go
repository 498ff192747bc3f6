package parser

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/logsift/logsift/internal/model"
	"github.com/logsift/logsift/internal/pool"
)

// OTLP/JSON wire shapes, reduced to the fields span metrics need. The
// *UnixNano fields stay raw because the proto3 JSON mapping encodes uint64
// as a string while several emitters send bare numbers.
type otlpEnvelope struct {
	ResourceSpans []otlpResourceSpans `json:"resourceSpans"`
}

type otlpResourceSpans struct {
	Resource   otlpResource     `json:"resource"`
	ScopeSpans []otlpScopeSpans `json:"scopeSpans"`
}

type otlpResource struct {
	Attributes []otlpKeyValue `json:"attributes"`
}

type otlpKeyValue struct {
	Key   string       `json:"key"`
	Value otlpAnyValue `json:"value"`
}

type otlpAnyValue struct {
	StringValue string `json:"stringValue"`
}

type otlpScopeSpans struct {
	Spans []otlpSpan `json:"spans"`
}

type otlpSpan struct {
	TraceID           string          `json:"traceId"`
	SpanID            string          `json:"spanId"`
	Name              string          `json:"name"`
	StartTimeUnixNano json.RawMessage `json:"startTimeUnixNano"`
	EndTimeUnixNano   json.RawMessage `json:"endTimeUnixNano"`
	Status            otlpStatus      `json:"status"`
}

type otlpStatus struct {
	Code json.RawMessage `json:"code"`
}

// OTelSpanParser lifts spans out of OTLP/JSON trace batches. One payload is
// one ExportTraceServiceRequest and yields one record per span, which is why
// Parse returns a slice. Span records feed the span-duration aggregation
// keyed by service and span name; they never join the unified log stream.
type OTelSpanParser struct {
	cfg Config
}

// NewOTelSpanParser creates a parser for OTLP/JSON span batches.
func NewOTelSpanParser(cfg Config) *OTelSpanParser {
	return &OTelSpanParser{cfg: cfg}
}

// Kind implements the Parser interface.
func (p *OTelSpanParser) Kind() model.Kind { return model.KindOTelSpan }

// Parse implements the Parser interface. A batch with zero spans yields zero
// records and no error; a batch with any malformed span fails whole, so the
// full payload lands in the dead letter queue.
func (p *OTelSpanParser) Parse(raw model.RawRecord) ([]model.ParsedRecord, error) {
	var envelope otlpEnvelope
	if err := json.Unmarshal(raw.Payload, &envelope); err != nil {
		return nil, failf(raw.Stream, ReasonMalformedJSON, raw.Payload, "%v", err)
	}
	if envelope.ResourceSpans == nil {
		return nil, failf(raw.Stream, ReasonUnrecognizedFormat, raw.Payload, "no resourceSpans")
	}

	var records []model.ParsedRecord
	for _, rs := range envelope.ResourceSpans {
		serviceName := resourceServiceName(rs.Resource)
		for _, ss := range rs.ScopeSpans {
			for _, span := range ss.Spans {
				rec, err := p.parseSpan(raw, serviceName, span)
				if err != nil {
					return nil, err
				}
				records = append(records, rec)
			}
		}
	}
	return records, nil
}

func (p *OTelSpanParser) parseSpan(raw model.RawRecord, serviceName string, span otlpSpan) (model.ParsedRecord, error) {
	if span.Name == "" {
		return model.ParsedRecord{}, failf(raw.Stream, ReasonMissingField, raw.Payload, "span without name")
	}

	startNano, err := pool.ParseInt64(unquoteRaw(span.StartTimeUnixNano))
	if err != nil {
		return model.ParsedRecord{}, failf(raw.Stream, ReasonMalformedTimestamp, raw.Payload, "span %s start time: %v", span.SpanID, err)
	}
	endNano, err := pool.ParseInt64(unquoteRaw(span.EndTimeUnixNano))
	if err != nil {
		return model.ParsedRecord{}, failf(raw.Stream, ReasonMalformedTimestamp, raw.Payload, "span %s end time: %v", span.SpanID, err)
	}
	if endNano < startNano {
		return model.ParsedRecord{}, failf(raw.Stream, ReasonMalformedTimestamp, raw.Payload, "span %s ends before it starts", span.SpanID)
	}

	duration := time.Duration(endNano - startNano)
	end := time.Unix(0, endNano).UTC()

	return model.ParsedRecord{
		Kind:      model.KindOTelSpan,
		LogSource: raw.Stream,
		Key:       raw.Key,
		EventTime: end,
		OTelSpan: &model.OTelSpan{
			ServiceName: serviceName,
			SpanName:    span.Name,
			TraceID:     span.TraceID,
			SpanID:      span.SpanID,
			StartTime:   time.Unix(0, startNano).UTC(),
			Duration:    duration,
			DurationMS:  float64(duration) / float64(time.Millisecond),
			StatusCode:  statusCodeLabel(span.Status.Code),
		},
	}, nil
}

// resourceServiceName pulls service.name out of the resource attributes,
// falling back to the SDK convention for unnamed services.
func resourceServiceName(res otlpResource) string {
	for _, kv := range res.Attributes {
		if kv.Key == "service.name" && kv.Value.StringValue != "" {
			return kv.Value.StringValue
		}
	}
	return "unknown_service"
}

// statusCodeLabel maps the status code, which arrives either as a proto enum
// name or a bare number, onto UNSET/OK/ERROR.
func statusCodeLabel(raw json.RawMessage) string {
	code := unquoteRaw(raw)
	if len(code) == 0 {
		return "UNSET"
	}
	if name, ok := bytes.CutPrefix(code, []byte("STATUS_CODE_")); ok {
		return string(name)
	}
	switch string(code) {
	case "1":
		return "OK"
	case "2":
		return "ERROR"
	default:
		return "UNSET"
	}
}

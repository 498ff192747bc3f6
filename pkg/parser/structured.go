package parser

import (
	"encoding/json"

	"github.com/logsift/logsift/internal/model"
	"github.com/logsift/logsift/internal/pool"
)

// structuredLine is the wire shape of one logs-structured record. Timestamp
// stays raw so both quoted ISO strings and bare epoch numbers parse.
type structuredLine struct {
	Timestamp  json.RawMessage `json:"timestamp"`
	Level      string          `json:"level"`
	Service    string          `json:"service"`
	Message    *string         `json:"message"`
	Hostname   *string         `json:"hostname"`
	StatusCode *int64          `json:"status_code"`
	LatencyMS  *int64          `json:"latency_ms"`
	TraceID    *string         `json:"trace_id"`
}

// StructuredParser validates already schema-conformant JSON log lines.
// Unlike the pattern parsers its input claims to match the unified shape, so
// the work here is well-formedness, required-field presence, and timestamp
// parsing. It is the only parser that can fail with malformed_json.
type StructuredParser struct {
	cfg Config
}

// NewStructuredParser creates a parser for the structured JSON stream.
func NewStructuredParser(cfg Config) *StructuredParser {
	return &StructuredParser{cfg: cfg}
}

// Kind implements the Parser interface.
func (p *StructuredParser) Kind() model.Kind { return model.KindStructured }

// Parse implements the Parser interface.
func (p *StructuredParser) Parse(raw model.RawRecord) ([]model.ParsedRecord, error) {
	rec, err := p.parseLine(raw)
	if err != nil {
		return nil, err
	}
	return []model.ParsedRecord{rec}, nil
}

func (p *StructuredParser) parseLine(raw model.RawRecord) (model.ParsedRecord, error) {
	var line structuredLine
	if err := json.Unmarshal(raw.Payload, &line); err != nil {
		return model.ParsedRecord{}, failf(raw.Stream, ReasonMalformedJSON, raw.Payload, "%v", err)
	}

	switch {
	case len(line.Timestamp) == 0:
		return model.ParsedRecord{}, failf(raw.Stream, ReasonMissingField, raw.Payload, "missing timestamp")
	case line.Level == "":
		return model.ParsedRecord{}, failf(raw.Stream, ReasonMissingField, raw.Payload, "missing level")
	case line.Service == "":
		return model.ParsedRecord{}, failf(raw.Stream, ReasonMissingField, raw.Payload, "missing service")
	case line.Message == nil:
		return model.ParsedRecord{}, failf(raw.Stream, ReasonMissingField, raw.Payload, "missing message")
	}

	eventTime, err := pool.ParseEventTime(unquoteRaw(line.Timestamp))
	if err != nil {
		return model.ParsedRecord{}, failf(raw.Stream, ReasonMalformedTimestamp, raw.Payload, "%v", err)
	}

	return model.ParsedRecord{
		Kind:      model.KindStructured,
		LogSource: raw.Stream,
		Key:       raw.Key,
		EventTime: eventTime,
		Structured: &model.Structured{
			Level:      line.Level,
			Service:    line.Service,
			Message:    *line.Message,
			Hostname:   line.Hostname,
			StatusCode: line.StatusCode,
			LatencyMS:  line.LatencyMS,
			TraceID:    line.TraceID,
		},
	}, nil
}

// unquoteRaw strips the quotes from a raw JSON string value, leaving other
// value types untouched.
func unquoteRaw(raw json.RawMessage) []byte {
	if len(raw) >= 2 && raw[0] == '"' && raw[len(raw)-1] == '"' {
		return raw[1 : len(raw)-1]
	}
	return raw
}

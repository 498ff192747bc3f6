package parser

import (
	"time"

	"github.com/logsift/logsift/internal/model"
	"github.com/logsift/logsift/internal/pool"
)

// nginxTimeLayout is the combined-log request time: 10/Oct/2000:13:55:36 -0700
const nginxTimeLayout = "02/Jan/2006:15:04:05 -0700"

// NginxParser parses Nginx combined log format lines, with the optional
// trailing response time some configurations append.
// Format: %h %l %u %t "%r" %>s %b "%{Referer}i" "%{User-Agent}i" [rt]
// Example: 10.2.3.4 - - [09/Dec/2024:18:12:47 +0000] "GET /api/users HTTP/1.1" 200 1234 "-" "curl/8.0" 0.042
type NginxParser struct {
	cfg Config
}

// NewNginxParser creates a new access log parser.
func NewNginxParser(cfg Config) *NginxParser {
	return &NginxParser{cfg: cfg}
}

// Kind implements the Parser interface.
func (p *NginxParser) Kind() model.Kind { return model.KindNginx }

// Parse implements the Parser interface.
func (p *NginxParser) Parse(raw model.RawRecord) ([]model.ParsedRecord, error) {
	rec, err := p.parseLine(raw)
	if err != nil {
		return nil, err
	}
	return []model.ParsedRecord{rec}, nil
}

func (p *NginxParser) parseLine(raw model.RawRecord) (model.ParsedRecord, error) {
	line := pool.TrimSpaces(raw.Payload)
	pos := 0

	// 1. Client IP
	ip, pos := readToken(line, pos)
	if len(ip) == 0 {
		return model.ParsedRecord{}, failf(raw.Stream, ReasonUnrecognizedFormat, raw.Payload, "empty line")
	}
	entry := &model.NginxAccess{ClientIP: string(ip)}

	// 2-3. Skip ident and remote user
	_, pos = readToken(line, pos)
	_, pos = readToken(line, pos)

	// 4. Request time [09/Dec/2024:18:12:47 +0000]
	ts, pos := readBracketedField(line, pos)
	if len(ts) == 0 {
		return model.ParsedRecord{}, failf(raw.Stream, ReasonMalformedTimestamp, raw.Payload, "missing request time")
	}
	eventTime, err := time.Parse(nginxTimeLayout, string(ts))
	if err != nil {
		return model.ParsedRecord{}, failf(raw.Stream, ReasonMalformedTimestamp, raw.Payload, "%v", err)
	}

	// 5. Request line "GET /path HTTP/1.1"
	request, pos := readQuotedField(line, pos)
	entry.Method, entry.Path, entry.Protocol = splitRequestLine(request)

	// 6. Status code. Missing or non-numeric is a hard failure since
	// status drives severity downstream.
	status, pos := readToken(line, pos)
	statusCode, err := pool.ParseInt64(status)
	if err != nil {
		return model.ParsedRecord{}, failf(raw.Stream, ReasonMissingField, raw.Payload, "missing status code")
	}
	entry.Status = statusCode

	// 7. Bytes sent; "-" means zero
	bytesSent, pos := readToken(line, pos)
	if n, err := pool.ParseInt64(bytesSent); err == nil {
		entry.BytesSent = n
	}

	// 8-9. Referer and user agent
	referer, pos := readQuotedField(line, pos)
	if len(referer) > 0 && string(referer) != "-" {
		entry.Referer = string(referer)
	}
	userAgent, pos := readQuotedField(line, pos)
	if len(userAgent) > 0 && string(userAgent) != "-" {
		entry.UserAgent = string(userAgent)
	}

	// 10. Optional trailing response time in seconds; absent is null
	if rt, _ := readToken(line, pos); len(rt) > 0 {
		if secs, err := pool.ParseFloat64(rt); err == nil {
			entry.ResponseTimeS = &secs
		}
	}

	return model.ParsedRecord{
		Kind:      model.KindNginx,
		LogSource: raw.Stream,
		Key:       raw.Key,
		EventTime: eventTime,
		Nginx:     entry,
	}, nil
}

// splitRequestLine splits "GET /path HTTP/1.1" into method, path, protocol.
func splitRequestLine(request []byte) (method, path, protocol string) {
	first := pool.IndexByte(request, ' ')
	if first < 0 {
		return string(request), "", ""
	}
	method = string(request[:first])

	rest := request[first+1:]
	second := pool.IndexByte(rest, ' ')
	if second < 0 {
		return method, string(rest), ""
	}
	return method, string(rest[:second]), string(rest[second+1:])
}

// --- Shared byte-level field readers ---

// readToken reads a space-delimited token.
func readToken(line []byte, pos int) ([]byte, int) {
	// Skip leading spaces
	for pos < len(line) && line[pos] == ' ' {
		pos++
	}

	start := pos
	for pos < len(line) && line[pos] != ' ' {
		pos++
	}

	return line[start:pos], pos
}

// readBracketedField reads a field enclosed in brackets [].
func readBracketedField(line []byte, pos int) ([]byte, int) {
	// Skip to opening bracket
	for pos < len(line) && line[pos] != '[' {
		pos++
	}
	if pos >= len(line) {
		return nil, pos
	}
	pos++ // Skip '['

	start := pos
	for pos < len(line) && line[pos] != ']' {
		pos++
	}

	end := pos
	if pos < len(line) {
		pos++ // Skip ']'
	}

	return line[start:end], pos
}

// readQuotedField reads a field enclosed in double quotes.
func readQuotedField(line []byte, pos int) ([]byte, int) {
	// Skip to opening quote
	for pos < len(line) && line[pos] != '"' {
		pos++
	}
	if pos >= len(line) {
		return nil, pos
	}
	pos++ // Skip opening '"'

	start := pos
	escaped := false
	for pos < len(line) {
		if escaped {
			escaped = false
			pos++
			continue
		}
		if line[pos] == '\\' {
			escaped = true
			pos++
			continue
		}
		if line[pos] == '"' {
			break
		}
		pos++
	}

	end := pos
	if pos < len(line) {
		pos++ // Skip closing '"'
	}

	return line[start:end], pos
}

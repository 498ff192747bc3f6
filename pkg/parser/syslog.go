package parser

import (
	"time"

	"github.com/logsift/logsift/internal/model"
	"github.com/logsift/logsift/internal/pool"
)

// syslogTimeLayout is the RFC-3164 timestamp: fixed 15 bytes, no year.
const syslogTimeLayout = "Jan _2 15:04:05"

// SyslogParser parses RFC-3164 lines.
// Format: <PRI>TIMESTAMP HOSTNAME TAG[PID]: MSG
// Example: <134>Dec  9 18:12:47 web-01 nginx[12345]: Connection from 192.168.1.1 port 443
//
// Severity is priority mod 8, facility is priority div 8. RFC-3164
// timestamps carry no year, so the configured default year is injected.
type SyslogParser struct {
	cfg Config
}

// NewSyslogParser creates a new syslog parser.
func NewSyslogParser(cfg Config) *SyslogParser {
	return &SyslogParser{cfg: cfg}
}

// Kind implements the Parser interface.
func (p *SyslogParser) Kind() model.Kind { return model.KindSyslog }

// Parse implements the Parser interface.
func (p *SyslogParser) Parse(raw model.RawRecord) ([]model.ParsedRecord, error) {
	rec, err := p.parseLine(raw)
	if err != nil {
		return nil, err
	}
	return []model.ParsedRecord{rec}, nil
}

func (p *SyslogParser) parseLine(raw model.RawRecord) (model.ParsedRecord, error) {
	line := pool.TrimSpaces(raw.Payload)

	// Priority tag <N>. Its absence is the one hard structural failure;
	// everything after it degrades to null fields instead.
	if len(line) == 0 || line[0] != '<' {
		return model.ParsedRecord{}, failf(raw.Stream, ReasonUnrecognizedFormat, raw.Payload, "missing priority tag")
	}

	pos := 1
	pri := 0
	digits := 0
	for pos < len(line) && line[pos] >= '0' && line[pos] <= '9' {
		pri = pri*10 + int(line[pos]-'0')
		digits++
		pos++
	}
	if digits == 0 || digits > 3 || pos >= len(line) || line[pos] != '>' {
		return model.ParsedRecord{}, failf(raw.Stream, ReasonUnrecognizedFormat, raw.Payload, "malformed priority tag")
	}
	pos++ // skip '>'

	entry := &model.Syslog{
		Priority: pri,
		Severity: pri % 8,
		Facility: pri / 8,
	}

	// Fixed 15-byte timestamp
	if len(line) < pos+15 {
		return model.ParsedRecord{}, failf(raw.Stream, ReasonMalformedTimestamp, raw.Payload, "truncated timestamp")
	}
	eventTime, err := p.parseSyslogTime(line[pos : pos+15])
	if err != nil {
		return model.ParsedRecord{}, failf(raw.Stream, ReasonMalformedTimestamp, raw.Payload, "%v", err)
	}
	pos += 15

	// Hostname
	host, pos := readToken(line, pos)
	entry.Hostname = string(host)

	// Tag: "proc[pid]:" or "proc:". A token without the trailing colon is
	// already message text.
	tagEnd := pos
	tag, afterTag := readToken(line, tagEnd)
	if n := len(tag); n > 1 && tag[n-1] == ':' {
		tag = tag[:n-1]
		if i := pool.IndexByte(tag, '['); i >= 0 {
			entry.Process = string(tag[:i])
			if j := pool.IndexByte(tag[i+1:], ']'); j >= 0 {
				if pid, err := pool.ParseInt64(tag[i+1 : i+1+j]); err == nil {
					entry.PID = &pid
				}
			}
		} else {
			entry.Process = string(tag)
		}
		pos = afterTag
	}

	// Message: the remainder, minus one leading space
	if pos < len(line) && line[pos] == ' ' {
		pos++
	}
	entry.Message = string(line[pos:])

	return model.ParsedRecord{
		Kind:      model.KindSyslog,
		LogSource: raw.Stream,
		Key:       raw.Key,
		EventTime: eventTime,
		Syslog:    entry,
	}, nil
}

// parseSyslogTime parses the year-less RFC-3164 timestamp and injects the
// configured default year.
func (p *SyslogParser) parseSyslogTime(b []byte) (time.Time, error) {
	loc := p.cfg.location()
	t, err := time.ParseInLocation(syslogTimeLayout, string(b), loc)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(p.cfg.defaultYear(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc), nil
}

package parser

import (
	"bytes"
	"time"

	"github.com/logsift/logsift/internal/model"
	"github.com/logsift/logsift/internal/pool"
)

var (
	pipeSep    = []byte("|")
	classSep   = []byte(" :: ")
	tookMarker = []byte("took ")
	msSuffix   = []byte("ms")
	rowsMarker = []byte("rows=")
)

// AppLegacyParser handles the three legacy application log dialects found on
// the app-mixed stream. The dialect is auto-detected from structural cues in
// a fixed priority order:
//
//  1. three or more top-level pipes  -> piped:    LEVEL|timestamp|thread|class|message
//  2. leading '['                    -> bracket:  [timestamp] LEVEL: class :: message
//  3. anything else                  -> standard: timestamp LEVEL [thread] class - message
//
// A line matching several cues is classified by the first matching rule.
// All three dialects scan the extracted message for optional "took <N>ms"
// and "rows=<N>" markers.
type AppLegacyParser struct {
	cfg Config
}

// NewAppLegacyParser creates a parser for the legacy application dialects.
func NewAppLegacyParser(cfg Config) *AppLegacyParser {
	return &AppLegacyParser{cfg: cfg}
}

// Kind implements the Parser interface.
func (p *AppLegacyParser) Kind() model.Kind { return model.KindAppLegacy }

// Parse implements the Parser interface.
func (p *AppLegacyParser) Parse(raw model.RawRecord) ([]model.ParsedRecord, error) {
	rec, err := p.parseLine(raw)
	if err != nil {
		return nil, err
	}
	return []model.ParsedRecord{rec}, nil
}

func (p *AppLegacyParser) parseLine(raw model.RawRecord) (model.ParsedRecord, error) {
	line := pool.TrimSpaces(raw.Payload)
	if len(line) == 0 {
		return model.ParsedRecord{}, failf(raw.Stream, ReasonUnrecognizedFormat, raw.Payload, "empty line")
	}

	switch detectDialect(line) {
	case model.DialectPiped:
		return p.parsePiped(raw, line)
	case model.DialectBracket:
		return p.parseBracket(raw, line)
	default:
		return p.parseStandard(raw, line)
	}
}

// detectDialect applies the documented priority order. Pipes win over a
// leading bracket; the standard dialect is the fallback.
func detectDialect(line []byte) model.Dialect {
	if bytes.Count(line, pipeSep) >= 3 {
		return model.DialectPiped
	}
	if line[0] == '[' {
		return model.DialectBracket
	}
	return model.DialectStandard
}

// parsePiped handles LEVEL|timestamp|thread|class|message. Pipes inside the
// message are absorbed by the bounded split. A four-field line carries no
// class; the tail is the message.
func (p *AppLegacyParser) parsePiped(raw model.RawRecord, line []byte) (model.ParsedRecord, error) {
	parts := bytes.SplitN(line, pipeSep, 5)

	eventTime, err := pool.ParseEventTime(pool.TrimSpaces(parts[1]))
	if err != nil {
		return model.ParsedRecord{}, failf(raw.Stream, ReasonMalformedTimestamp, raw.Payload, "%v", err)
	}

	level := string(pool.TrimSpaces(parts[0]))
	thread := string(pool.TrimSpaces(parts[2]))

	var class string
	msg := pool.TrimSpaces(parts[3])
	if len(parts) == 5 {
		class = string(msg)
		msg = pool.TrimSpaces(parts[4])
	}

	return buildAppLegacy(raw, eventTime, model.DialectPiped, level, thread, class, msg), nil
}

// parseBracket handles [timestamp] LEVEL: class :: message. The class
// separator is the first " :: "; without one the whole remainder is the
// message and class stays empty.
func (p *AppLegacyParser) parseBracket(raw model.RawRecord, line []byte) (model.ParsedRecord, error) {
	ts, pos := readBracketedField(line, 0)
	eventTime, err := pool.ParseEventTime(ts)
	if err != nil {
		return model.ParsedRecord{}, failf(raw.Stream, ReasonMalformedTimestamp, raw.Payload, "%v", err)
	}

	levelTok, pos := readToken(line, pos)
	if n := len(levelTok); n > 0 && levelTok[n-1] == ':' {
		levelTok = levelTok[:n-1]
	}
	level := string(levelTok)

	var class string
	msg := pool.TrimSpaces(line[pos:])
	if idx := bytes.Index(msg, classSep); idx >= 0 {
		class = string(pool.TrimSpaces(msg[:idx]))
		msg = pool.TrimSpaces(msg[idx+len(classSep):])
	}

	return buildAppLegacy(raw, eventTime, model.DialectBracket, level, "", class, msg), nil
}

// parseStandard handles timestamp LEVEL [thread] class - message. The
// timestamp may span two tokens (log4j "date time,millis"); the second token
// is joined in when it starts with a digit, which a level never does.
func (p *AppLegacyParser) parseStandard(raw model.RawRecord, line []byte) (model.ParsedRecord, error) {
	ts, pos := readToken(line, 0)
	if next, nextPos := readToken(line, pos); len(next) > 0 && next[0] >= '0' && next[0] <= '9' {
		ts = line[:nextPos]
		pos = nextPos
	}
	eventTime, err := pool.ParseEventTime(ts)
	if err != nil {
		return model.ParsedRecord{}, failf(raw.Stream, ReasonMalformedTimestamp, raw.Payload, "%v", err)
	}

	levelTok, pos := readToken(line, pos)
	if len(levelTok) == 0 {
		return model.ParsedRecord{}, failf(raw.Stream, ReasonUnrecognizedFormat, raw.Payload, "timestamp with no level")
	}
	level := string(levelTok)

	var thread string
	for pos < len(line) && line[pos] == ' ' {
		pos++
	}
	if pos < len(line) && line[pos] == '[' {
		var threadTok []byte
		threadTok, pos = readBracketedField(line, pos)
		thread = string(threadTok)
	}

	var class string
	classTok, pos := readToken(line, pos)
	if string(classTok) != "-" {
		class = string(classTok)
		for pos < len(line) && line[pos] == ' ' {
			pos++
		}
		if pos < len(line) && line[pos] == '-' {
			pos++
		}
	}
	msg := pool.TrimSpaces(line[pos:])

	return buildAppLegacy(raw, eventTime, model.DialectStandard, level, thread, class, msg), nil
}

func buildAppLegacy(raw model.RawRecord, eventTime time.Time, d model.Dialect, level, thread, class string, msg []byte) model.ParsedRecord {
	entry := &model.AppLegacy{
		Dialect:    d,
		DialectTag: d.String(),
		Level:      level,
		Thread:     thread,
		Class:      class,
		Message:    string(msg),
	}
	entry.DurationMS, entry.Rows = scanMessageMarkers(msg)

	return model.ParsedRecord{
		Kind:      model.KindAppLegacy,
		LogSource: raw.Stream,
		Key:       raw.Key,
		EventTime: eventTime,
		AppLegacy: entry,
	}
}

// scanMessageMarkers extracts the optional "took <N>ms" duration and
// "rows=<N>" count markers. Absence leaves the fields nil.
func scanMessageMarkers(msg []byte) (durationMS, rows *int64) {
	if i := bytes.Index(msg, tookMarker); i >= 0 {
		j := i + len(tookMarker)
		k := j
		for k < len(msg) && msg[k] >= '0' && msg[k] <= '9' {
			k++
		}
		if k > j && bytes.HasPrefix(msg[k:], msSuffix) {
			if n, err := pool.ParseInt64(msg[j:k]); err == nil {
				durationMS = &n
			}
		}
	}

	if i := bytes.Index(msg, rowsMarker); i >= 0 {
		j := i + len(rowsMarker)
		k := j
		for k < len(msg) && msg[k] >= '0' && msg[k] <= '9' {
			k++
		}
		if k > j {
			if n, err := pool.ParseInt64(msg[j:k]); err == nil {
				rows = &n
			}
		}
	}

	return durationMS, rows
}

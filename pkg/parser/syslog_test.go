package parser

import (
	"testing"
	"time"

	"github.com/logsift/logsift/internal/model"
)

func testConfig() Config {
	return Config{DefaultYear: 2024, Location: time.UTC}
}

func parseOne(t *testing.T, p Parser, stream, payload string) model.ParsedRecord {
	t.Helper()
	recs, err := p.Parse(model.RawRecord{Stream: stream, Payload: []byte(payload)})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(recs))
	}
	return recs[0]
}

func wantFailure(t *testing.T, p Parser, payload, reason string) *Failure {
	t.Helper()
	_, err := p.Parse(model.RawRecord{Stream: "test", Payload: []byte(payload)})
	if err == nil {
		t.Fatalf("Expected %s failure for %q, got none", reason, payload)
	}
	f := AsFailure(err)
	if f == nil {
		t.Fatalf("Expected *Failure, got %T: %v", err, err)
	}
	if f.Reason != reason {
		t.Errorf("Expected reason %q for %q, got %q", reason, payload, f.Reason)
	}
	if string(f.Payload) != payload {
		t.Errorf("Failure does not carry original payload: got %q", f.Payload)
	}
	return f
}

func TestSyslogPriorityMath(t *testing.T) {
	p := NewSyslogParser(testConfig())

	tests := []struct {
		priority int
		severity int
		facility int
		payload  string
	}{
		{134, 6, 16, "<134>Dec  9 18:12:47 web-01 nginx[12345]: hello"},
		{0, 0, 0, "<0>Jan  1 00:00:00 host kernel: panic"},
		{7, 7, 0, "<7>Jan  1 00:00:00 host kernel: debug"},
		{165, 5, 20, "<165>Oct 11 22:14:15 mymachine myproc[10]: msg"},
		{191, 7, 23, "<191>Oct 11 22:14:15 mymachine myproc: msg"},
	}

	for _, tt := range tests {
		rec := parseOne(t, p, "logs-syslog-raw", tt.payload)
		s := rec.Syslog
		if s == nil {
			t.Fatalf("Expected syslog variant for %q", tt.payload)
		}
		if s.Priority != tt.priority {
			t.Errorf("Priority = %d, want %d", s.Priority, tt.priority)
		}
		if s.Severity != tt.severity {
			t.Errorf("<%d> severity = %d, want %d", tt.priority, s.Severity, tt.severity)
		}
		if s.Facility != tt.facility {
			t.Errorf("<%d> facility = %d, want %d", tt.priority, s.Facility, tt.facility)
		}
	}
}

func TestSyslogFullLine(t *testing.T) {
	p := NewSyslogParser(testConfig())

	rec := parseOne(t, p, "logs-syslog-raw",
		"<134>Dec 09 18:12:47 web-01 nginx[12345]: Connection from 192.168.1.1 port 443")

	s := rec.Syslog
	if s.Priority != 134 || s.Severity != 6 || s.Facility != 16 {
		t.Errorf("Priority/severity/facility = %d/%d/%d, want 134/6/16", s.Priority, s.Severity, s.Facility)
	}
	if s.Hostname != "web-01" {
		t.Errorf("Hostname = %q, want web-01", s.Hostname)
	}
	if s.Process != "nginx" {
		t.Errorf("Process = %q, want nginx", s.Process)
	}
	if s.PID == nil || *s.PID != 12345 {
		t.Errorf("PID = %v, want 12345", s.PID)
	}
	if s.Message != "Connection from 192.168.1.1 port 443" {
		t.Errorf("Message = %q", s.Message)
	}

	want := time.Date(2024, time.December, 9, 18, 12, 47, 0, time.UTC)
	if !rec.EventTime.Equal(want) {
		t.Errorf("EventTime = %v, want %v", rec.EventTime, want)
	}
	if rec.Kind != model.KindSyslog {
		t.Errorf("Kind = %v, want syslog", rec.Kind)
	}
}

func TestSyslogDefaultYearInjection(t *testing.T) {
	p := NewSyslogParser(Config{DefaultYear: 1999, Location: time.UTC})

	rec := parseOne(t, p, "logs-syslog-raw", "<34>Oct 11 22:14:15 mymachine su: 'su root' failed")
	if got := rec.EventTime.Year(); got != 1999 {
		t.Errorf("EventTime year = %d, want 1999", got)
	}
}

func TestSyslogWithoutTag(t *testing.T) {
	p := NewSyslogParser(testConfig())

	rec := parseOne(t, p, "logs-syslog-raw", "<13>Feb  5 17:32:18 10.0.0.99 Use the BFG!")
	s := rec.Syslog
	if s.Hostname != "10.0.0.99" {
		t.Errorf("Hostname = %q, want 10.0.0.99", s.Hostname)
	}
	if s.Process != "" {
		t.Errorf("Expected empty process, got %q", s.Process)
	}
	if s.PID != nil {
		t.Errorf("Expected nil pid, got %d", *s.PID)
	}
	if s.Message != "Use the BFG!" {
		t.Errorf("Message = %q", s.Message)
	}
}

func TestSyslogTagWithoutPID(t *testing.T) {
	p := NewSyslogParser(testConfig())

	rec := parseOne(t, p, "logs-syslog-raw", "<38>Dec  9 11:22:33 db-02 sshd: Failed password for root")
	s := rec.Syslog
	if s.Process != "sshd" {
		t.Errorf("Process = %q, want sshd", s.Process)
	}
	if s.PID != nil {
		t.Errorf("Expected nil pid, got %d", *s.PID)
	}
	if s.Message != "Failed password for root" {
		t.Errorf("Message = %q", s.Message)
	}
}

func TestSyslogFailures(t *testing.T) {
	p := NewSyslogParser(testConfig())

	tests := []struct {
		payload string
		reason  string
	}{
		{"Dec  9 18:12:47 web-01 nginx: no priority", ReasonUnrecognizedFormat},
		{"", ReasonUnrecognizedFormat},
		{"<>Dec  9 18:12:47 host proc: empty priority", ReasonUnrecognizedFormat},
		{"<1234>Dec  9 18:12:47 host proc: four digits", ReasonUnrecognizedFormat},
		{"<134 Dec  9 18:12:47 host proc: unclosed", ReasonUnrecognizedFormat},
		{"<134>Dec  9 18:12", ReasonMalformedTimestamp},
		{"<134>not a timestamp ok", ReasonMalformedTimestamp},
	}

	for _, tt := range tests {
		wantFailure(t, p, tt.payload, tt.reason)
	}
}

func TestSyslogEmptyMessage(t *testing.T) {
	p := NewSyslogParser(testConfig())

	rec := parseOne(t, p, "logs-syslog-raw", "<134>Dec  9 18:12:47 web-01 cron[99]:")
	s := rec.Syslog
	if s.Process != "cron" {
		t.Errorf("Process = %q, want cron", s.Process)
	}
	if s.Message != "" {
		t.Errorf("Expected empty message, got %q", s.Message)
	}
}

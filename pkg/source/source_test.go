package source

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/logsift/logsift/internal/model"
	"github.com/logsift/logsift/pkg/errors"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func collect(t *testing.T, src Source) []model.RawRecord {
	t.Helper()
	var out []model.RawRecord
	err := src.Run(context.Background(), func(r model.RawRecord) error {
		out = append(out, r)
		return nil
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	return out
}

func payloads(records []model.RawRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = string(r.Payload)
	}
	return out
}

func TestReaderSourceEmitsLines(t *testing.T) {
	input := "first\nsecond\n\nthird"
	src := NewReaderSource("logs-app-mixed", strings.NewReader(input))

	records := collect(t, src)

	got := payloads(records)
	want := []string{"first", "second", "third"}
	if len(got) != len(want) {
		t.Fatalf("Expected %d records, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Record %d: expected %q, got %q", i, want[i], got[i])
		}
	}
	for i, r := range records {
		if r.Stream != "logs-app-mixed" {
			t.Errorf("Record %d: expected stream logs-app-mixed, got %q", i, r.Stream)
		}
		if r.IngestTime.IsZero() {
			t.Errorf("Record %d: ingest time not set", i)
		}
	}
	if src.Offset() != int64(len(input)) {
		t.Errorf("Expected offset %d, got %d", len(input), src.Offset())
	}
}

func TestReaderSourceCRLF(t *testing.T) {
	src := NewReaderSource("s", strings.NewReader("alpha\r\nbeta\r\n"))

	records := collect(t, src)

	got := payloads(records)
	if len(got) != 2 || got[0] != "alpha" || got[1] != "beta" {
		t.Fatalf("Expected [alpha beta], got %v", got)
	}
	if src.Offset() != 13 {
		t.Errorf("Expected offset 13, got %d", src.Offset())
	}
}

func TestReaderSourceLongLine(t *testing.T) {
	long := strings.Repeat("x", 3*maxLineBytes+17)
	src := NewReaderSource("s", strings.NewReader(long+"\nshort\n"))

	records := collect(t, src)

	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}
	if string(records[0].Payload) != long {
		t.Errorf("Long line mangled: expected %d bytes, got %d",
			len(long), len(records[0].Payload))
	}
	if string(records[1].Payload) != "short" {
		t.Errorf("Expected short, got %q", records[1].Payload)
	}
}

func TestFileSourceReadsAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	content := "one\ntwo\nthree\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	src := NewFileSource(path, "logs-app-mixed", 0)
	records := collect(t, src)

	if len(records) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(records))
	}
	if src.Offset() != int64(len(content)) {
		t.Errorf("Expected offset %d, got %d", len(content), src.Offset())
	}
}

func TestFileSourceResumesFromOffset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	if err := os.WriteFile(path, []byte("one\ntwo\nthree\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	src := NewFileSource(path, "s", int64(len("one\n")))
	records := collect(t, src)

	got := payloads(records)
	if len(got) != 2 || got[0] != "two" || got[1] != "three" {
		t.Fatalf("Expected [two three], got %v", got)
	}
}

func TestFileSourceMissing(t *testing.T) {
	src := NewFileSource(filepath.Join(t.TempDir(), "absent.log"), "s", 0)

	err := src.Run(context.Background(), func(model.RawRecord) error { return nil })
	if err == nil {
		t.Fatal("Expected error for missing file")
	}
	if !errors.IsCode(err, errors.CodeSourceNotFound) {
		t.Errorf("Expected code %s, got %v", errors.CodeSourceNotFound, err)
	}
}

func TestMemorySource(t *testing.T) {
	stamped := time.Date(2024, 12, 9, 10, 0, 0, 0, time.UTC)
	src := NewMemorySource("fixture", []model.RawRecord{
		{Stream: "a", Payload: []byte("x"), IngestTime: stamped},
		{Stream: "b", Payload: []byte("y")},
	})

	records := collect(t, src)

	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}
	if !records[0].IngestTime.Equal(stamped) {
		t.Errorf("Expected stamped ingest time kept, got %v", records[0].IngestTime)
	}
	if records[1].IngestTime.IsZero() {
		t.Error("Expected missing ingest time to be filled in")
	}
}

func TestMemoryLinesSplitsBlob(t *testing.T) {
	blob := []byte("alpha\r\nbeta\n\ngamma")
	src := NewMemoryLines("logs-app-mixed", blob)

	records := collect(t, src)

	got := payloads(records)
	want := []string{"alpha", "beta", "gamma"}
	if len(got) != len(want) {
		t.Fatalf("Expected %d records, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Record %d: expected %q, got %q", i, want[i], got[i])
		}
		if records[i].Stream != "logs-app-mixed" {
			t.Errorf("Record %d: expected stream logs-app-mixed, got %q", i, records[i].Stream)
		}
	}
}

func TestMemorySourceStopsOnEmitError(t *testing.T) {
	src := NewMemorySource("fixture", []model.RawRecord{
		{Stream: "a", Payload: []byte("1")},
		{Stream: "a", Payload: []byte("2")},
		{Stream: "a", Payload: []byte("3")},
	})

	seen := 0
	err := src.Run(context.Background(), func(model.RawRecord) error {
		seen++
		if seen == 2 {
			return io.ErrClosedPipe
		}
		return nil
	})
	if err != io.ErrClosedPipe {
		t.Fatalf("Expected emit error back, got %v", err)
	}
	if seen != 2 {
		t.Errorf("Expected 2 records before stop, got %d", seen)
	}
}

func startTail(t *testing.T, cfg TailConfig) (<-chan model.RawRecord, context.CancelFunc, <-chan error) {
	t.Helper()
	if cfg.Poll == 0 {
		cfg.Poll = 10 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = quietLogger()
	}
	src, err := NewTailSource(cfg)
	if err != nil {
		t.Fatalf("NewTailSource failed: %v", err)
	}
	records := make(chan model.RawRecord, 64)
	done := make(chan error, 1)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		done <- src.Run(ctx, func(r model.RawRecord) error {
			records <- r
			return nil
		})
	}()
	t.Cleanup(cancel)
	return records, cancel, done
}

func waitRecord(t *testing.T, records <-chan model.RawRecord) model.RawRecord {
	t.Helper()
	select {
	case r := <-records:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for record")
		return model.RawRecord{}
	}
}

func appendLine(t *testing.T, path, line string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(line); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestTailSourcePicksUpAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grow.log")
	appendLine(t, path, "existing\n")

	records, cancel, done := startTail(t, TailConfig{Path: path, Stream: "s"})

	if got := waitRecord(t, records); string(got.Payload) != "existing" {
		t.Fatalf("Expected existing, got %q", got.Payload)
	}

	appendLine(t, path, "added one\nadded two\n")

	if got := waitRecord(t, records); string(got.Payload) != "added one" {
		t.Fatalf("Expected added one, got %q", got.Payload)
	}
	if got := waitRecord(t, records); string(got.Payload) != "added two" {
		t.Fatalf("Expected added two, got %q", got.Payload)
	}

	cancel()
	if err := <-done; err != context.Canceled {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestTailSourceWaitsForFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "later.log")

	records, _, _ := startTail(t, TailConfig{Path: path, Stream: "s"})

	time.Sleep(30 * time.Millisecond)
	appendLine(t, path, "finally\n")

	if got := waitRecord(t, records); string(got.Payload) != "finally" {
		t.Fatalf("Expected finally, got %q", got.Payload)
	}
}

func TestTailSourceHoldsPartialLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.log")
	appendLine(t, path, "")

	records, _, _ := startTail(t, TailConfig{Path: path, Stream: "s"})

	appendLine(t, path, "no newline yet")
	select {
	case r := <-records:
		t.Fatalf("Expected no record before newline, got %q", r.Payload)
	case <-time.After(150 * time.Millisecond):
	}

	appendLine(t, path, " done\n")
	if got := waitRecord(t, records); string(got.Payload) != "no newline yet done" {
		t.Fatalf("Expected joined line, got %q", got.Payload)
	}
}

func TestTailSourceSurvivesTruncation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trunc.log")
	appendLine(t, path, "old one\nold two\n")

	records, _, _ := startTail(t, TailConfig{Path: path, Stream: "s"})
	waitRecord(t, records)
	waitRecord(t, records)

	if err := os.Truncate(path, 0); err != nil {
		t.Fatal(err)
	}
	appendLine(t, path, "fresh\n")

	if got := waitRecord(t, records); string(got.Payload) != "fresh" {
		t.Fatalf("Expected fresh after truncation, got %q", got.Payload)
	}
}

func TestTailSourceResumesFromOffset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resume.log")
	appendLine(t, path, "one\ntwo\n")

	records, _, _ := startTail(t, TailConfig{
		Path:   path,
		Stream: "s",
		Start:  int64(len("one\n")),
	})

	if got := waitRecord(t, records); string(got.Payload) != "two" {
		t.Fatalf("Expected two, got %q", got.Payload)
	}
}

func writeFixture(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestReplaySourceOrderAndContent(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "02-second.jsonl",
		`{"stream":"logs-nginx-raw","payload":"GET /"}`+"\n")
	writeFixture(t, dir, "01-first.jsonl",
		`{"stream":"logs-syslog-raw","key":"web-01","payload":"<34>...","ingest_time":"2024-12-09T10:00:00Z"}`+"\n")

	src, err := NewReplaySource(ReplayConfig{Dir: dir, Logger: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}

	if n, err := src.CountRecords(); err != nil || n != 2 {
		t.Fatalf("Expected 2 records counted, got %d (err %v)", n, err)
	}

	records := collect(t, src)
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}
	first := records[0]
	if first.Stream != "logs-syslog-raw" || first.Key != "web-01" {
		t.Errorf("Expected first fixture file first, got %+v", first)
	}
	want := time.Date(2024, 12, 9, 10, 0, 0, 0, time.UTC)
	if !first.IngestTime.Equal(want) {
		t.Errorf("Expected recorded ingest time, got %v", first.IngestTime)
	}
	if records[1].Stream != "logs-nginx-raw" {
		t.Errorf("Expected nginx record second, got %+v", records[1])
	}
}

func TestReplaySourceRejectsBadFixtures(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "bad.jsonl", `{"stream":"s","payload":"ok"}`+"\n{broken\n")

	src, err := NewReplaySource(ReplayConfig{Dir: dir, Logger: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}
	runErr := src.Run(context.Background(), func(model.RawRecord) error { return nil })
	if runErr == nil {
		t.Fatal("Expected error for malformed fixture line")
	}
	if !strings.Contains(runErr.Error(), "bad.jsonl:2") {
		t.Errorf("Expected file and line in error, got %v", runErr)
	}
}

func TestReplaySourceRequiresStream(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "nostream.jsonl", `{"payload":"orphan"}`+"\n")

	src, err := NewReplaySource(ReplayConfig{Dir: dir, Logger: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}
	runErr := src.Run(context.Background(), func(model.RawRecord) error { return nil })
	if runErr == nil || !strings.Contains(runErr.Error(), "no stream") {
		t.Fatalf("Expected missing-stream error, got %v", runErr)
	}
}

func TestReplaySourceEmptyDir(t *testing.T) {
	src, err := NewReplaySource(ReplayConfig{Dir: t.TempDir(), Logger: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}
	if err := src.Run(context.Background(), func(model.RawRecord) error { return nil }); err != nil {
		t.Errorf("Expected empty replay to succeed, got %v", err)
	}
}

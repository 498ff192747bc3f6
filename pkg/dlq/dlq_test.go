package dlq

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/logsift/logsift/internal/model"
	"github.com/logsift/logsift/pkg/parser"
)

func TestWriteAndReadBack(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(DefaultConfig(dir))
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}

	payload := []byte(`{"level":"INFO","message":"no timestamp"}`)
	raw := model.RawRecord{
		Stream:     "logs-structured",
		Payload:    payload,
		IngestTime: time.Date(2024, 12, 9, 10, 0, 0, 0, time.UTC),
	}
	failure := &parser.Failure{
		Stream:  "logs-structured",
		Reason:  parser.ReasonMissingField,
		Detail:  "missing timestamp",
		Payload: payload,
	}
	if err := w.WriteFailure(raw, failure); err != nil {
		t.Fatalf("WriteFailure failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	files, err := ListFiles(dir)
	if err != nil {
		t.Fatalf("ListFiles failed: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("Expected 1 file, got %d", len(files))
	}

	r, err := NewReader(files[0])
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer r.Close()

	rec, err := r.Read()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if rec.Stream != "logs-structured" {
		t.Errorf("Expected stream logs-structured, got %s", rec.Stream)
	}
	if rec.Reason != parser.ReasonMissingField {
		t.Errorf("Expected reason %s, got %s", parser.ReasonMissingField, rec.Reason)
	}
	if !bytes.Equal(rec.Payload, payload) {
		t.Errorf("Payload not preserved byte-for-byte: %q", rec.Payload)
	}
	if rec.Timestamp.IsZero() {
		t.Error("Expected a dead-letter timestamp")
	}
	if !rec.IngestTime.Equal(raw.IngestTime) {
		t.Errorf("Expected ingest time carried, got %v", rec.IngestTime)
	}

	if _, err := r.Read(); err != io.EOF {
		t.Errorf("Expected EOF after last record, got %v", err)
	}
}

func TestBinaryPayloadSurvives(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(DefaultConfig(dir))
	if err != nil {
		t.Fatal(err)
	}

	// Truncated multi-byte rune: invalid UTF-8 must still round-trip
	payload := []byte{'<', '3', '4', 0xe2, 0x28, 0xa1}
	if err := w.Write(Record{Stream: "logs-syslog-raw", Payload: payload, Reason: parser.ReasonUnrecognizedFormat}); err != nil {
		t.Fatal(err)
	}
	w.Close()

	files, _ := ListFiles(dir)
	r, err := NewReader(files[0])
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	rec, err := r.Read()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(rec.Payload, payload) {
		t.Errorf("Expected %v, got %v", payload, rec.Payload)
	}
}

func TestRotation(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(Config{Dir: dir, MaxRecords: 2})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		if err := w.Write(Record{Stream: "logs-nginx-raw", Reason: parser.ReasonMissingField, Payload: []byte("x")}); err != nil {
			t.Fatalf("Write %d failed: %v", i, err)
		}
	}
	stats := w.Stats()
	w.Close()

	if stats.RecordCount != 5 {
		t.Errorf("Expected 5 records total, got %d", stats.RecordCount)
	}
	if stats.FileCount != 3 {
		t.Errorf("Expected 3 files after rotation, got %d", stats.FileCount)
	}

	files, _ := ListFiles(dir)
	if len(files) != 3 {
		t.Errorf("Expected 3 files on disk, got %d", len(files))
	}
}

func TestWriteAfterClose(t *testing.T) {
	w, err := NewWriter(DefaultConfig(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	w.Close()

	if err := w.Write(Record{Stream: "s", Reason: "r"}); err == nil {
		t.Error("Expected error writing to closed writer")
	}
}

func TestSummarize(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(DefaultConfig(dir))
	if err != nil {
		t.Fatal(err)
	}

	records := []Record{
		{Stream: "logs-syslog-raw", Reason: parser.ReasonUnrecognizedFormat, Payload: []byte("a")},
		{Stream: "logs-syslog-raw", Reason: parser.ReasonMalformedTimestamp, Payload: []byte("b")},
		{Stream: "logs-nginx-raw", Reason: parser.ReasonMissingField, Payload: []byte("c")},
		{Stream: "logs-nginx-raw", Reason: parser.ReasonMissingField, Payload: []byte("d")},
	}
	for _, rec := range records {
		if err := w.Write(rec); err != nil {
			t.Fatal(err)
		}
	}
	w.Close()

	summary, err := Summarize(dir)
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if summary.TotalRecords != 4 {
		t.Errorf("Expected 4 records, got %d", summary.TotalRecords)
	}
	if summary.Reasons[parser.ReasonMissingField] != 2 {
		t.Errorf("Expected 2 missing_field, got %d", summary.Reasons[parser.ReasonMissingField])
	}
	if summary.Streams["logs-syslog-raw"] != 2 {
		t.Errorf("Expected 2 syslog records, got %d", summary.Streams["logs-syslog-raw"])
	}
	if summary.FileCount != 1 {
		t.Errorf("Expected 1 file, got %d", summary.FileCount)
	}
	if summary.OldestRecord.IsZero() || summary.NewestRecord.IsZero() {
		t.Error("Expected record time range")
	}
}

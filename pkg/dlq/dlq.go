// Package dlq implements the dead-letter queue for records that failed
// parsing. Dead-lettered records keep the original payload byte-for-byte
// and a machine-readable failure reason, so they can be inspected and
// replayed after the format problem is fixed.
package dlq

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/logsift/logsift/internal/model"
	"github.com/logsift/logsift/pkg/parser"
)

// Record is one dead-lettered input record with full context.
type Record struct {
	// Original data. Payload is the raw input exactly as received.
	Stream  string `json:"stream"`
	Key     string `json:"key,omitempty"`
	Payload []byte `json:"payload"`

	// Failure context. Reason is one of the parser reason codes.
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`

	// Metadata
	IngestTime time.Time `json:"ingest_time,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Writer appends dead-lettered records to rotating JSONL files.
type Writer struct {
	mu sync.Mutex

	dir     string
	file    *os.File
	encoder *json.Encoder

	// Stats
	recordCount  int64
	totalCount   int64
	bytesWritten int64
	startTime    time.Time

	// Configuration
	maxRecords int64 // Max records before rotation (0 = unlimited)
	maxBytes   int64 // Max bytes before rotation (0 = unlimited)
	fileIndex  int

	closed bool
}

// Config configures the dead-letter writer.
type Config struct {
	// Dir is the directory DLQ files are written to.
	Dir string
	// MaxRecords before rotating to a new file (0 = unlimited)
	MaxRecords int64
	// MaxBytes before rotating to a new file (0 = unlimited)
	MaxBytes int64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:        dir,
		MaxRecords: 100000,
		MaxBytes:   100 * 1024 * 1024,
	}
}

// NewWriter creates a dead-letter writer, creating the directory if needed.
func NewWriter(cfg Config) (*Writer, error) {
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create DLQ directory: %w", err)
	}

	w := &Writer{
		dir:        cfg.Dir,
		maxRecords: cfg.MaxRecords,
		maxBytes:   cfg.MaxBytes,
		startTime:  time.Now(),
	}

	if err := w.openFile(); err != nil {
		return nil, err
	}

	return w, nil
}

func (w *Writer) openFile() error {
	filename := fmt.Sprintf("dlq_%s_%04d.jsonl",
		w.startTime.UTC().Format("20060102_150405"),
		w.fileIndex)
	path := filepath.Join(w.dir, filename)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open DLQ file: %w", err)
	}

	w.file = file
	w.encoder = json.NewEncoder(file)
	return nil
}

// Write appends one dead-lettered record.
func (w *Writer) Write(record Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("DLQ writer is closed")
	}

	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	if (w.maxRecords > 0 && w.recordCount >= w.maxRecords) ||
		(w.maxBytes > 0 && w.bytesWritten >= w.maxBytes) {
		if err := w.rotate(); err != nil {
			return err
		}
	}

	if err := w.encoder.Encode(record); err != nil {
		return fmt.Errorf("failed to write DLQ record: %w", err)
	}

	w.recordCount++
	w.totalCount++
	// Approximate size
	w.bytesWritten += int64(len(record.Payload) + 200)

	return nil
}

// WriteFailure dead-letters the raw record behind a parse failure.
func (w *Writer) WriteFailure(raw model.RawRecord, f *parser.Failure) error {
	return w.Write(Record{
		Stream:     f.Stream,
		Key:        raw.Key,
		Payload:    f.Payload,
		Reason:     f.Reason,
		Detail:     f.Detail,
		IngestTime: raw.IngestTime,
	})
}

func (w *Writer) rotate() error {
	if w.file != nil {
		w.file.Close()
	}

	w.recordCount = 0
	w.bytesWritten = 0
	w.fileIndex++

	return w.openFile()
}

// Stats returns writer statistics.
func (w *Writer) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	return Stats{
		RecordCount: w.totalCount,
		FileCount:   w.fileIndex + 1,
		Duration:    time.Since(w.startTime),
	}
}

// Stats contains dead-letter writer statistics.
type Stats struct {
	RecordCount int64
	FileCount   int
	Duration    time.Duration
}

// Flush flushes buffered data to disk.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file != nil {
		return w.file.Sync()
	}
	return nil
}

// Close closes the writer.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true
	if w.file != nil {
		return w.file.Close()
	}
	return nil
}

// Reader reads records back from one DLQ file.
type Reader struct {
	file    *os.File
	decoder *json.Decoder
}

// NewReader opens a DLQ file for reading.
func NewReader(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	return &Reader{
		file:    file,
		decoder: json.NewDecoder(file),
	}, nil
}

// Read reads the next record. Returns io.EOF at the end.
func (r *Reader) Read() (*Record, error) {
	var record Record
	if err := r.decoder.Decode(&record); err != nil {
		return nil, err
	}
	return &record, nil
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.file.Close()
}

// ListFiles returns all DLQ files in a directory.
func ListFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".jsonl" {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	return files, nil
}

// Summary aggregates the contents of a DLQ directory.
type Summary struct {
	TotalRecords int64            `json:"total_records"`
	TotalBytes   int64            `json:"total_bytes"`
	FileCount    int              `json:"file_count"`
	Reasons      map[string]int64 `json:"reasons"`
	Streams      map[string]int64 `json:"streams"`
	OldestRecord time.Time        `json:"oldest_record,omitempty"`
	NewestRecord time.Time        `json:"newest_record,omitempty"`
}

// Summarize analyzes every DLQ file under dir.
func Summarize(dir string) (*Summary, error) {
	files, err := ListFiles(dir)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		Reasons: make(map[string]int64),
		Streams: make(map[string]int64),
	}

	for _, path := range files {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		summary.TotalBytes += info.Size()
		summary.FileCount++

		reader, err := NewReader(path)
		if err != nil {
			continue
		}

		for {
			record, err := reader.Read()
			if err != nil {
				break
			}

			summary.TotalRecords++
			summary.Reasons[record.Reason]++
			summary.Streams[record.Stream]++

			if summary.OldestRecord.IsZero() || record.Timestamp.Before(summary.OldestRecord) {
				summary.OldestRecord = record.Timestamp
			}
			if record.Timestamp.After(summary.NewestRecord) {
				summary.NewestRecord = record.Timestamp
			}
		}
		reader.Close()
	}

	return summary, nil
}

// Package sink writes the engine's typed output streams: unified events,
// per-format parsed records, metric snapshots per query, and alerts.
package sink

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/logsift/logsift/internal/model"
	"github.com/logsift/logsift/pkg/errors"
)

// Output stream names. Metric and parsed-record streams are derived per
// query and per format.
const (
	StreamUnified      = "logs-unified"
	StreamAlertsRecord = "alerts-record"
	StreamAlertsWindow = "alerts-window"
)

// ParsedStream returns the output stream name for parsed records of the
// given format kind.
func ParsedStream(kind model.Kind) string {
	return "logs-parsed-" + kind.String()
}

// MetricsStream returns the output stream name for a query's snapshots.
func MetricsStream(query string) string {
	return "metrics-" + query
}

// Sink receives the engine's outputs. Publish must be safe for
// concurrent use.
type Sink interface {
	// Publish writes one record to the named stream.
	Publish(stream string, v any) error
	// Flush pushes buffered data to the underlying destination.
	Flush() error
	// Close flushes and releases resources. The sink rejects writes
	// afterwards.
	Close() error
}

// FileConfig configures a FileSink.
type FileConfig struct {
	// Dir receives one <stream>.jsonl file per published stream.
	Dir string
	// BufferSize is the write buffer per stream file. Defaults to 64KiB.
	BufferSize int
}

type streamFile struct {
	f     *os.File
	bw    *bufio.Writer
	enc   *json.Encoder
	count int64
}

// FileSink writes each stream to an append-only JSONL file in one
// directory. Files open lazily on first publish.
type FileSink struct {
	dir     string
	bufSize int

	mu     sync.Mutex
	files  map[string]*streamFile
	closed bool
}

// NewFileSink creates the output directory and returns a sink over it.
func NewFileSink(cfg FileConfig) (*FileSink, error) {
	if cfg.Dir == "" {
		return nil, errors.New(errors.CodeConfigInvalid, "sink directory is empty")
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64 * 1024
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.CodeSinkWrite, "create sink directory").
			WithContext("dir", cfg.Dir)
	}
	return &FileSink{
		dir:     cfg.Dir,
		bufSize: cfg.BufferSize,
		files:   make(map[string]*streamFile),
	}, nil
}

// Publish implements Sink.
func (s *FileSink) Publish(stream string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New(errors.CodeSinkWrite, "sink is closed").
			WithContext("stream", stream)
	}
	sf, ok := s.files[stream]
	if !ok {
		path := filepath.Join(s.dir, stream+".jsonl")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return errors.Wrap(err, errors.CodeSinkWrite, "open stream file").
				WithContext("stream", stream).
				WithContext("path", path)
		}
		bw := bufio.NewWriterSize(f, s.bufSize)
		sf = &streamFile{f: f, bw: bw, enc: json.NewEncoder(bw)}
		s.files[stream] = sf
	}
	if err := sf.enc.Encode(v); err != nil {
		return errors.Wrap(err, errors.CodeSinkWrite, "encode record").
			WithContext("stream", stream)
	}
	sf.count++
	return nil
}

// Flush implements Sink.
func (s *FileSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var merr errors.MultiError
	for stream, sf := range s.files {
		if err := sf.bw.Flush(); err != nil {
			merr.Add(errors.Wrap(err, errors.CodeSinkWrite, "flush stream").
				WithContext("stream", stream))
		}
	}
	return merr.Combined()
}

// Close implements Sink. It is idempotent.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var merr errors.MultiError
	for stream, sf := range s.files {
		if err := sf.bw.Flush(); err != nil {
			merr.Add(errors.Wrap(err, errors.CodeSinkWrite, "flush stream").
				WithContext("stream", stream))
		}
		if err := sf.f.Close(); err != nil {
			merr.Add(errors.Wrap(err, errors.CodeSinkWrite, "close stream").
				WithContext("stream", stream))
		}
	}
	return merr.Combined()
}

// WrittenCounts reports records written per stream, for the run summary.
func (s *FileSink) WrittenCounts() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]int64, len(s.files))
	for stream, sf := range s.files {
		out[stream] = sf.count
	}
	return out
}

// Streams lists streams that have received at least one record, sorted.
func (s *FileSink) Streams() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.files))
	for stream := range s.files {
		out = append(out, stream)
	}
	sort.Strings(out)
	return out
}

// Message is one published record with its stream name.
type Message struct {
	Stream string
	Value  any
}

// ChannelSink fans published records out to an in-process consumer.
// Sends never block: when the consumer falls behind, records are dropped
// and counted, so a slow reader cannot stall the pipeline.
type ChannelSink struct {
	ch     chan Message
	drops  atomic.Int64
	closed sync.Once
}

// NewChannelSink builds a channel sink with the given buffer.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 256
	}
	return &ChannelSink{ch: make(chan Message, buffer)}
}

// C returns the consumer side.
func (s *ChannelSink) C() <-chan Message { return s.ch }

// Drops reports records discarded because the buffer was full.
func (s *ChannelSink) Drops() int64 { return s.drops.Load() }

// Publish implements Sink.
func (s *ChannelSink) Publish(stream string, v any) error {
	select {
	case s.ch <- Message{Stream: stream, Value: v}:
	default:
		s.drops.Add(1)
	}
	return nil
}

// Flush implements Sink.
func (s *ChannelSink) Flush() error { return nil }

// Close implements Sink and closes the consumer channel.
func (s *ChannelSink) Close() error {
	s.closed.Do(func() { close(s.ch) })
	return nil
}

// MultiSink tees every publish to all members.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink combines sinks; nil members are skipped.
func NewMultiSink(sinks ...Sink) *MultiSink {
	out := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return &MultiSink{sinks: out}
}

// Publish implements Sink. Every member sees the record even when an
// earlier one fails.
func (m *MultiSink) Publish(stream string, v any) error {
	var merr errors.MultiError
	for _, s := range m.sinks {
		if err := s.Publish(stream, v); err != nil {
			merr.Add(err)
		}
	}
	return merr.Combined()
}

// Flush implements Sink.
func (m *MultiSink) Flush() error {
	var merr errors.MultiError
	for _, s := range m.sinks {
		if err := s.Flush(); err != nil {
			merr.Add(err)
		}
	}
	return merr.Combined()
}

// Close implements Sink.
func (m *MultiSink) Close() error {
	var merr errors.MultiError
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			merr.Add(err)
		}
	}
	return merr.Combined()
}

// Discard drops everything. Used by config checks and benchmarks.
type Discard struct{}

// Publish implements Sink.
func (Discard) Publish(string, any) error { return nil }

// Flush implements Sink.
func (Discard) Flush() error { return nil }

// Close implements Sink.
func (Discard) Close() error { return nil }

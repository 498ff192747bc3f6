// Package window implements the tumbling-window aggregation engine. Each
// aggregation query runs as an independent Aggregator: samples are hashed by
// grouping key onto shard goroutines, each shard exclusively owns its
// (window, key) accumulators, and windows close in non-decreasing end order
// per key once the watermark passes their end.
package window

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/logsift/logsift/internal/metrics"
	"github.com/logsift/logsift/internal/model"
)

var (
	errQueryName      = errors.New("window: query needs a name")
	errQueryWindow    = errors.New("window: query window duration must be positive")
	errQueryLateness  = errors.New("window: query lateness cannot be negative")
	errQueryExtractor = errors.New("window: query needs exactly one of an event or record extractor")
)

// Sample is one observation entering an aggregation, produced by a query's
// extractor. Key groups it, Partition attributes it to an input partition
// for watermark purposes, Value is the optional measured quantity.
type Sample struct {
	Time      time.Time
	Key       string
	Partition string
	Value     float64
	HasValue  bool
	Error     bool
}

// EventExtractor lifts a unified event into a query's sample space.
// Returning false filters the event out of the query.
type EventExtractor func(ev model.UnifiedEvent) (Sample, bool)

// RecordExtractor lifts a parsed record into a query's sample space.
type RecordExtractor func(rec model.ParsedRecord) (Sample, bool)

// Query configures one independent aggregation instance. Exactly one of
// Event or Record is set; it decides which stream the pipeline feeds in.
type Query struct {
	// Name appears on snapshots, metrics and the output stream name.
	Name string

	// Window is the tumbling window duration.
	Window time.Duration

	// Lateness is the out-of-order allowance subtracted from the maximum
	// event time when advancing the watermark.
	Lateness time.Duration

	// MaxSkew bounds how far an event may run ahead of the watermark
	// before it is dropped as a clock-skew anomaly. Zero disables the
	// check.
	MaxSkew time.Duration

	Event  EventExtractor
	Record RecordExtractor
}

// Options tunes an Aggregator.
type Options struct {
	// Shards is the number of key-shard workers. Defaults to 4.
	Shards int

	// QueueSize is the per-shard input buffer. Defaults to 1024.
	QueueSize int

	// SnapshotBuffer is the emitted-snapshot channel buffer. Consumers
	// must drain promptly; emission never stalls watermark progression
	// beyond this buffer. Defaults to 1024.
	SnapshotBuffer int

	// DiscardOnShutdown drops still-open windows at close time instead
	// of force-closing and emitting them. The zero value flushes, which
	// is the documented default.
	DiscardOnShutdown bool

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Aggregator runs one aggregation query. Feed it with OfferEvent or
// OfferRecord depending on the query's extractor, consume Snapshots, and
// Close to flush.
type Aggregator struct {
	query  Query
	opts   Options
	shards []*shard
	out    chan model.MetricSnapshot
	logger *slog.Logger

	late atomic.Int64
	skew atomic.Int64

	started atomic.Bool
	wg      sync.WaitGroup
}

// New validates the query and builds an Aggregator.
func New(q Query, opts Options) (*Aggregator, error) {
	if q.Name == "" {
		return nil, errQueryName
	}
	if q.Window <= 0 {
		return nil, errQueryWindow
	}
	if q.Lateness < 0 {
		return nil, errQueryLateness
	}
	if (q.Event == nil) == (q.Record == nil) {
		return nil, errQueryExtractor
	}

	if opts.Shards <= 0 {
		opts.Shards = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.SnapshotBuffer <= 0 {
		opts.SnapshotBuffer = 1024
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	a := &Aggregator{
		query:  q,
		opts:   opts,
		out:    make(chan model.MetricSnapshot, opts.SnapshotBuffer),
		logger: opts.Logger.With("query", q.Name),
	}
	a.shards = make([]*shard, opts.Shards)
	for i := range a.shards {
		a.shards[i] = newShard(a, i, opts.QueueSize)
	}
	return a, nil
}

// Start launches the shard workers. The context is the hard-abort path:
// cancellation stops shards without flushing, Close is the graceful one.
func (a *Aggregator) Start(ctx context.Context) {
	if !a.started.CompareAndSwap(false, true) {
		return
	}
	for _, s := range a.shards {
		a.wg.Add(1)
		go func(s *shard) {
			defer a.wg.Done()
			s.run(ctx)
		}(s)
	}
	go func() {
		a.wg.Wait()
		close(a.out)
	}()
}

// Query returns the configured query.
func (a *Aggregator) Query() Query { return a.query }

// OfferEvent feeds one unified event. Events the extractor filters out are
// ignored.
func (a *Aggregator) OfferEvent(partition string, ev model.UnifiedEvent) {
	if a.query.Event == nil {
		return
	}
	sample, ok := a.query.Event(ev)
	if !ok {
		return
	}
	sample.Partition = partition
	a.offer(sample)
}

// OfferRecord feeds one parsed record.
func (a *Aggregator) OfferRecord(partition string, rec model.ParsedRecord) {
	if a.query.Record == nil {
		return
	}
	sample, ok := a.query.Record(rec)
	if !ok {
		return
	}
	sample.Partition = partition
	a.offer(sample)
}

func (a *Aggregator) offer(sample Sample) {
	if sample.Time.IsZero() {
		return
	}
	a.shards[int(fnv32a(sample.Key))%len(a.shards)].in <- sample
}

// Snapshots returns the closed-window output stream. It is closed after
// Close (or hard abort) once every shard has drained.
func (a *Aggregator) Snapshots() <-chan model.MetricSnapshot {
	return a.out
}

// Close stops intake and waits for the shards to finish. Open windows are
// force-closed and emitted unless DiscardOnShutdown is set.
func (a *Aggregator) Close() {
	for _, s := range a.shards {
		close(s.in)
	}
	a.wg.Wait()
}

// LateCount reports events dropped because their window had already closed.
func (a *Aggregator) LateCount() int64 { return a.late.Load() }

// SkewCount reports events dropped as clock-skew anomalies.
func (a *Aggregator) SkewCount() int64 { return a.skew.Load() }

// Watermark returns the aggregator's global watermark, the minimum across
// shards that have observed any event. ok is false before the first event.
func (a *Aggregator) Watermark() (time.Time, bool) {
	var min int64
	found := false
	for _, s := range a.shards {
		w := s.watermark.Load()
		if w == 0 {
			continue
		}
		if !found || w < min {
			min = w
			found = true
		}
	}
	if !found {
		return time.Time{}, false
	}
	return time.Unix(0, min).UTC(), true
}

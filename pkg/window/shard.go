package window

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/logsift/logsift/internal/model"
)

// windowKey identifies one (window, grouping key) accumulator within a
// shard. Start is unix nanos; the end is implied by the fixed duration.
type windowKey struct {
	start int64
	key   string
}

// shard exclusively owns the accumulators for its slice of the key space.
// All state below is touched only from the shard goroutine; the watermark
// mirror is the one cross-goroutine read.
type shard struct {
	agg *Aggregator
	id  int
	in  chan Sample

	partitions map[string]time.Time
	windows    map[windowKey]*accumulator
	current    time.Time
	hasWater   bool

	// watermark mirrors current for readers outside the shard goroutine,
	// as unix nanos. Zero means no event seen yet.
	watermark atomic.Int64
}

func newShard(a *Aggregator, id, queue int) *shard {
	return &shard{
		agg:        a,
		id:         id,
		in:         make(chan Sample, queue),
		partitions: make(map[string]time.Time),
		windows:    make(map[windowKey]*accumulator),
	}
}

func (s *shard) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case sample, ok := <-s.in:
			if !ok {
				s.finish(ctx)
				return
			}
			s.observe(ctx, sample)
		}
	}
}

func (s *shard) observe(ctx context.Context, sample Sample) {
	q := &s.agg.query

	// An event too far ahead of the watermark must not drag it forward
	// and mass-expire the in-flight windows. Dropped like a late event
	// but logged and counted as clock skew.
	if q.MaxSkew > 0 && s.hasWater && sample.Time.Sub(s.current) > q.MaxSkew {
		s.agg.skew.Add(1)
		s.agg.opts.Metrics.SkewDropped(q.Name)
		s.agg.logger.Warn("clock skew anomaly dropped",
			"key", sample.Key,
			"event_time", sample.Time,
			"watermark", s.current)
		return
	}

	start := sample.Time.Truncate(q.Window)
	end := start.Add(q.Window)

	// Late: this event's window has already closed. Count and drop; an
	// emitted snapshot is never amended.
	if s.hasWater && !s.current.Before(end) {
		s.agg.late.Add(1)
		s.agg.opts.Metrics.LateDropped(q.Name)
		s.agg.logger.Debug("late event dropped",
			"key", sample.Key,
			"event_time", sample.Time,
			"watermark", s.current)
		return
	}

	wk := windowKey{start: start.UnixNano(), key: sample.Key}
	acc, ok := s.windows[wk]
	if !ok {
		acc = &accumulator{key: sample.Key, start: start, end: end}
		s.windows[wk] = acc
	}
	acc.observe(sample)

	if t := s.partitions[sample.Partition]; sample.Time.After(t) {
		s.partitions[sample.Partition] = sample.Time
	}
	s.advance(ctx)
}

// advance recomputes the watermark as the minimum partition clock minus the
// lateness allowance. It never regresses. Any window whose end the
// watermark has reached is closed.
func (s *shard) advance(ctx context.Context) {
	var min time.Time
	first := true
	for _, t := range s.partitions {
		if first || t.Before(min) {
			min = t
			first = false
		}
	}
	if first {
		return
	}

	wm := min.Add(-s.agg.query.Lateness)
	if s.hasWater && !wm.After(s.current) {
		return
	}
	s.current = wm
	s.hasWater = true
	s.watermark.Store(wm.UnixNano())
	s.closeDue(ctx)
}

func (s *shard) closeDue(ctx context.Context) {
	var due []windowKey
	for wk, acc := range s.windows {
		if !acc.end.After(s.current) {
			due = append(due, wk)
		}
	}
	s.closeKeys(ctx, due)
}

func (s *shard) closeAll(ctx context.Context) {
	due := make([]windowKey, 0, len(s.windows))
	for wk := range s.windows {
		due = append(due, wk)
	}
	s.closeKeys(ctx, due)
}

// closeKeys emits and destroys the given windows, ordered by window end so
// each key's windows close in non-decreasing end order.
func (s *shard) closeKeys(ctx context.Context, due []windowKey) {
	if len(due) == 0 {
		return
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].start != due[j].start {
			return due[i].start < due[j].start
		}
		return due[i].key < due[j].key
	})
	for _, wk := range due {
		s.emit(ctx, s.windows[wk])
		delete(s.windows, wk)
	}
}

func (s *shard) emit(ctx context.Context, acc *accumulator) {
	s.agg.opts.Metrics.WindowClosed(s.agg.query.Name)
	select {
	case s.agg.out <- acc.snapshot(s.agg.query.Name):
	case <-ctx.Done():
	}
}

// finish handles graceful shutdown after intake has closed: flush the open
// windows, or discard them when configured to.
func (s *shard) finish(ctx context.Context) {
	if s.agg.opts.DiscardOnShutdown {
		if n := len(s.windows); n > 0 {
			s.agg.logger.Info("discarding open windows at shutdown",
				"shard", s.id,
				"windows", n)
		}
		return
	}
	s.closeAll(ctx)
}

// accumulator holds the incrementally updated aggregates for one open
// window. The average is derived once at emission, not per event.
type accumulator struct {
	key        string
	start, end time.Time

	count      int64
	errorCount int64
	valueCount int64
	sum        float64
	min, max   float64
}

func (a *accumulator) observe(s Sample) {
	a.count++
	if s.Error {
		a.errorCount++
	}
	if s.HasValue {
		if a.valueCount == 0 || s.Value < a.min {
			a.min = s.Value
		}
		if a.valueCount == 0 || s.Value > a.max {
			a.max = s.Value
		}
		a.valueCount++
		a.sum += s.Value
	}
}

func (a *accumulator) snapshot(query string) model.MetricSnapshot {
	snap := model.MetricSnapshot{
		Query:       query,
		Key:         a.key,
		WindowStart: a.start,
		WindowEnd:   a.end,
		Count:       a.count,
		ErrorCount:  a.errorCount,
		ValueCount:  a.valueCount,
		Sum:         a.sum,
	}
	if a.valueCount > 0 {
		snap.Min = a.min
		snap.Max = a.max
		snap.Avg = a.sum / float64(a.valueCount)
	}
	return snap
}

// fnv32a hashes a grouping key onto a shard without allocating.
func fnv32a(s string) uint32 {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)
	h := uint32(offset32)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime32
	}
	return h
}

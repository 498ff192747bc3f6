package window

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logsift/logsift/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func at(min, sec int) time.Time {
	return time.Date(2024, time.December, 9, 10, min, sec, 0, time.UTC)
}

// countQuery aggregates raw samples by key so the engine can be exercised
// without going through a real extractor.
func countQuery(window, lateness time.Duration) Query {
	return Query{
		Name:     "test-count",
		Window:   window,
		Lateness: lateness,
		Event: func(ev model.UnifiedEvent) (Sample, bool) {
			var s Sample
			s.Time = ev.EventTime
			s.Key = ev.SourceName
			s.Error = ev.Severity == "ERROR"
			if ev.LatencyMS != nil {
				s.Value = float64(*ev.LatencyMS)
				s.HasValue = true
			}
			return s, true
		},
	}
}

func event(t time.Time, key string) model.UnifiedEvent {
	return model.UnifiedEvent{EventTime: t, SourceName: key, Severity: "INFO"}
}

func errorEvent(t time.Time, key string) model.UnifiedEvent {
	return model.UnifiedEvent{EventTime: t, SourceName: key, Severity: "ERROR"}
}

func valueEvent(t time.Time, key string, ms int64) model.UnifiedEvent {
	return model.UnifiedEvent{EventTime: t, SourceName: key, Severity: "INFO", LatencyMS: &ms}
}

func startAggregator(t *testing.T, q Query, opts Options) *Aggregator {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	if opts.Shards == 0 {
		opts.Shards = 1
	}
	a, err := New(q, opts)
	require.NoError(t, err)
	a.Start(context.Background())
	return a
}

// runQuery starts an aggregator, runs feed, closes it, and returns every
// snapshot emitted, including the shutdown flush.
func runQuery(t *testing.T, q Query, opts Options, feed func(a *Aggregator)) []model.MetricSnapshot {
	t.Helper()
	a := startAggregator(t, q, opts)

	collected := make(chan []model.MetricSnapshot, 1)
	go func() {
		var snaps []model.MetricSnapshot
		for s := range a.Snapshots() {
			snaps = append(snaps, s)
		}
		collected <- snaps
	}()

	feed(a)
	a.Close()
	return <-collected
}

// drainClosed reads the snapshot stream to exhaustion. Call after Close.
func drainClosed(a *Aggregator) []model.MetricSnapshot {
	var snaps []model.MetricSnapshot
	for s := range a.Snapshots() {
		snaps = append(snaps, s)
	}
	return snaps
}

// waitWatermark blocks until the aggregator's watermark reaches want.
func waitWatermark(t *testing.T, a *Aggregator, want time.Time) {
	t.Helper()
	require.Eventually(t, func() bool {
		wm, ok := a.Watermark()
		return ok && wm.Equal(want)
	}, 2*time.Second, 5*time.Millisecond, "watermark never reached %v", want)
}

func TestTumblingAssignment(t *testing.T) {
	snaps := runQuery(t, countQuery(time.Minute, 0), Options{}, func(a *Aggregator) {
		a.OfferEvent("p0", event(at(0, 10), "api"))
		a.OfferEvent("p0", event(at(0, 50), "api"))
	})

	require.Len(t, snaps, 1)
	assert.Equal(t, "api", snaps[0].Key)
	assert.Equal(t, "test-count", snaps[0].Query)
	assert.Equal(t, int64(2), snaps[0].Count)
	assert.True(t, snaps[0].WindowStart.Equal(at(0, 0)))
	assert.True(t, snaps[0].WindowEnd.Equal(at(1, 0)))
}

func TestEventAtWindowEndBelongsToNextWindow(t *testing.T) {
	snaps := runQuery(t, countQuery(time.Minute, 0), Options{}, func(a *Aggregator) {
		a.OfferEvent("p0", event(at(0, 30), "api"))
		// Exactly at the boundary: must land in [10:01, 10:02)
		a.OfferEvent("p0", event(at(1, 0), "api"))
	})

	require.Len(t, snaps, 2)
	assert.True(t, snaps[0].WindowStart.Equal(at(0, 0)))
	assert.Equal(t, int64(1), snaps[0].Count)
	assert.True(t, snaps[1].WindowStart.Equal(at(1, 0)))
	assert.Equal(t, int64(1), snaps[1].Count)
}

func TestWatermarkDelaysClosing(t *testing.T) {
	a := startAggregator(t, countQuery(time.Minute, 30*time.Second), Options{})

	a.OfferEvent("p0", event(at(0, 10), "api"))
	a.OfferEvent("p0", event(at(1, 25), "api"))

	// Watermark 10:00:55 has not passed the 10:01:00 window end yet
	waitWatermark(t, a, at(0, 55))
	assert.Zero(t, len(a.Snapshots()), "window closed before watermark passed its end")

	// Watermark 10:01:10 closes the first window
	a.OfferEvent("p0", event(at(1, 40), "api"))
	a.Close()

	snaps := drainClosed(a)
	require.Len(t, snaps, 2)
	assert.Equal(t, int64(1), snaps[0].Count)
	assert.True(t, snaps[0].WindowEnd.Equal(at(1, 0)))
	assert.Equal(t, int64(2), snaps[1].Count, "shutdown flush carries the open window")
}

func TestLateEventCountedAndDropped(t *testing.T) {
	snaps := runQuery(t, countQuery(time.Minute, 0), Options{}, func(a *Aggregator) {
		a.OfferEvent("p0", event(at(0, 30), "api"))
		// Advances the watermark to 10:01:05 and closes [10:00, 10:01)
		a.OfferEvent("p0", event(at(1, 5), "api"))
		// Late: its window has already closed
		a.OfferEvent("p0", event(at(0, 45), "api"))
		require.Eventually(t, func() bool { return a.LateCount() == 1 },
			2*time.Second, 5*time.Millisecond)
	})

	require.Len(t, snaps, 2)
	assert.Equal(t, int64(1), snaps[0].Count, "closed snapshot must not be amended")
	assert.Equal(t, int64(1), snaps[1].Count)
}

func TestClockSkewCountedSeparately(t *testing.T) {
	q := countQuery(time.Minute, 0)
	q.MaxSkew = 10 * time.Minute

	var a *Aggregator
	snaps := runQuery(t, q, Options{}, func(ag *Aggregator) {
		a = ag
		ag.OfferEvent("p0", event(at(0, 30), "api"))
		// Two hours ahead of the watermark: dropped as skew, and the
		// watermark must not jump
		ag.OfferEvent("p0", event(at(0, 30).Add(2*time.Hour), "api"))
		require.Eventually(t, func() bool { return ag.SkewCount() == 1 },
			2*time.Second, 5*time.Millisecond)
	})

	assert.Equal(t, int64(0), a.LateCount())
	require.Len(t, snaps, 1, "skewed event must not open a window")
	assert.Equal(t, int64(1), snaps[0].Count)

	wm, ok := a.Watermark()
	require.True(t, ok)
	assert.True(t, wm.Equal(at(0, 30)), "skewed event advanced the watermark to %v", wm)
}

func TestWatermarkIsMinAcrossPartitions(t *testing.T) {
	a := startAggregator(t, countQuery(time.Minute, 0), Options{})

	a.OfferEvent("fast", event(at(0, 10), "api"))
	a.OfferEvent("slow", event(at(0, 20), "api"))
	// The fast partition races ahead, but the slow one holds the
	// minimum at 10:00:20, so the first window stays open
	a.OfferEvent("fast", event(at(5, 0), "api"))

	waitWatermark(t, a, at(0, 20))
	assert.Zero(t, len(a.Snapshots()), "slow partition must gate the watermark")

	// The slow partition catches up; the minimum becomes 10:03:00
	a.OfferEvent("slow", event(at(3, 0), "api"))
	a.Close()

	snaps := drainClosed(a)
	require.Len(t, snaps, 3)
	assert.True(t, snaps[0].WindowStart.Equal(at(0, 0)))
	assert.Equal(t, int64(2), snaps[0].Count)
	assert.True(t, snaps[1].WindowStart.Equal(at(3, 0)))
	assert.True(t, snaps[2].WindowStart.Equal(at(5, 0)))
}

func TestWindowsCloseInEndOrder(t *testing.T) {
	// Big lateness keeps everything open until the shutdown flush
	snaps := runQuery(t, countQuery(time.Minute, time.Hour), Options{}, func(a *Aggregator) {
		a.OfferEvent("p0", event(at(0, 30), "api"))
		a.OfferEvent("p0", event(at(2, 30), "api"))
		a.OfferEvent("p0", event(at(1, 30), "api"))
	})

	require.Len(t, snaps, 3)
	for i := 1; i < len(snaps); i++ {
		assert.False(t, snaps[i].WindowEnd.Before(snaps[i-1].WindowEnd),
			"windows must close in non-decreasing end order")
	}
}

func TestAggregatesAndAverageAtEmission(t *testing.T) {
	snaps := runQuery(t, countQuery(time.Minute, 0), Options{}, func(a *Aggregator) {
		a.OfferEvent("p0", valueEvent(at(0, 10), "api", 100))
		a.OfferEvent("p0", valueEvent(at(0, 20), "api", 300))
		a.OfferEvent("p0", valueEvent(at(0, 30), "api", 200))
		a.OfferEvent("p0", errorEvent(at(0, 40), "api"))
	})

	require.Len(t, snaps, 1)
	s := snaps[0]
	assert.Equal(t, int64(4), s.Count)
	assert.Equal(t, int64(1), s.ErrorCount)
	assert.Equal(t, int64(3), s.ValueCount)
	assert.Equal(t, float64(600), s.Sum)
	assert.Equal(t, float64(100), s.Min)
	assert.Equal(t, float64(300), s.Max)
	assert.Equal(t, float64(200), s.Avg)
	assert.Equal(t, float64(25), s.ErrorRatePct())
	assert.Equal(t, 0.25, s.ErrorRatio())
}

func TestDiscardOnShutdown(t *testing.T) {
	snaps := runQuery(t, countQuery(time.Minute, 0), Options{DiscardOnShutdown: true}, func(a *Aggregator) {
		a.OfferEvent("p0", event(at(0, 10), "api"))
		a.OfferEvent("p0", event(at(0, 20), "api"))
	})

	assert.Empty(t, snaps, "open windows are discarded, not flushed")
}

func TestShardedKeysKeepTotals(t *testing.T) {
	keys := []string{"api", "auth", "billing", "cart", "search"}
	snaps := runQuery(t, countQuery(time.Minute, 0), Options{Shards: 4}, func(a *Aggregator) {
		for i := 0; i < 100; i++ {
			a.OfferEvent("p0", event(at(0, 1+i%50), keys[i%len(keys)]))
		}
	})

	require.Len(t, snaps, len(keys))
	total := int64(0)
	for _, s := range snaps {
		assert.Equal(t, int64(20), s.Count, "key %s", s.Key)
		total += s.Count
	}
	assert.Equal(t, int64(100), total)
}

func TestWatermarkAccessor(t *testing.T) {
	a := startAggregator(t, countQuery(time.Minute, 30*time.Second), Options{})

	_, ok := a.Watermark()
	assert.False(t, ok, "no watermark before the first event")

	a.OfferEvent("p0", event(at(2, 0), "api"))
	waitWatermark(t, a, at(1, 30))

	a.Close()
	drainClosed(a)
}

func TestOfferRejectsWrongShape(t *testing.T) {
	a := startAggregator(t, countQuery(time.Minute, 0), Options{})

	// An event query ignores parsed records outright
	a.OfferRecord("p0", model.ParsedRecord{Kind: model.KindNginx})
	a.Close()

	assert.Empty(t, drainClosed(a))
	assert.Equal(t, int64(0), a.LateCount())
}

func TestQueryValidation(t *testing.T) {
	valid := countQuery(time.Minute, 0)

	bad := valid
	bad.Name = ""
	_, err := New(bad, Options{})
	assert.Error(t, err)

	bad = valid
	bad.Window = 0
	_, err = New(bad, Options{})
	assert.Error(t, err)

	bad = valid
	bad.Lateness = -time.Second
	_, err = New(bad, Options{})
	assert.Error(t, err)

	bad = valid
	bad.Event = nil
	_, err = New(bad, Options{})
	assert.Error(t, err, "no extractor")

	bad = valid
	bad.Record = func(model.ParsedRecord) (Sample, bool) { return Sample{}, false }
	_, err = New(bad, Options{})
	assert.Error(t, err, "both extractors")
}

// Package pipeline wires the engine together: sources feed raw records to
// parser workers, parsed records flow through the normalizer into the
// window aggregators and alert rules, and everything lands in the sinks.
// Parse failures divert to the dead letter queue with their payloads
// intact.
package pipeline

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/logsift/logsift/internal/metrics"
	"github.com/logsift/logsift/internal/model"
	"github.com/logsift/logsift/pkg/alert"
	"github.com/logsift/logsift/pkg/checkpoint"
	"github.com/logsift/logsift/pkg/config"
	"github.com/logsift/logsift/pkg/dlq"
	"github.com/logsift/logsift/pkg/errors"
	"github.com/logsift/logsift/pkg/normalize"
	"github.com/logsift/logsift/pkg/parser"
	"github.com/logsift/logsift/pkg/sink"
	"github.com/logsift/logsift/pkg/source"
	"github.com/logsift/logsift/pkg/window"
)

// rawBuffer is the channel buffer between sources and parser workers.
const rawBuffer = 4096

// Options configures an Engine.
type Options struct {
	// Config must have passed Validate.
	Config *config.Config

	// Sources feed the engine. At least one is required.
	Sources []source.Source

	// Sink receives every output stream. Defaults to sink.Discard.
	Sink sink.Sink

	// Backend persists checkpoints. Defaults to the null backend.
	Backend checkpoint.Backend

	// InstanceID names this engine's checkpoint state. Defaults to
	// "default".
	InstanceID string

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Stats is a point-in-time snapshot of the run counters.
type Stats struct {
	Ingested     int64 `json:"ingested"`
	Parsed       int64 `json:"parsed"`
	ParseFailed  int64 `json:"parse_failed"`
	DeadLettered int64 `json:"dead_lettered"`
	Normalized   int64 `json:"normalized"`
	LateDropped  int64 `json:"late_dropped"`
	SkewDropped  int64 `json:"skew_dropped"`
	Snapshots    int64 `json:"snapshots"`
	RecordAlerts int64 `json:"record_alerts"`
	WindowAlerts int64 `json:"window_alerts"`
	SinkErrors   int64 `json:"sink_errors"`

	Elapsed    time.Duration        `json:"elapsed_ns"`
	Watermarks map[string]time.Time `json:"watermarks,omitempty"`
}

type counters struct {
	ingested     atomic.Int64
	parsed       atomic.Int64
	parseFailed  atomic.Int64
	deadLettered atomic.Int64
	normalized   atomic.Int64
	snapshots    atomic.Int64
	recordAlerts atomic.Int64
	windowAlerts atomic.Int64
	sinkErrors   atomic.Int64
}

// Engine is one wired run of the processing graph. Build it with New and
// call Run exactly once.
type Engine struct {
	cfg     *config.Config
	id      string
	logger  *slog.Logger
	metrics *metrics.Metrics

	registry *parser.Registry
	eval     *alert.Evaluator
	dlw      *dlq.Writer
	sources  []source.Source
	out      sink.Sink
	backend  checkpoint.Backend

	aggs       []*window.Aggregator
	eventAggs  []*window.Aggregator
	recordAggs []*window.Aggregator

	raw     chan model.RawRecord
	workers int

	started    time.Time
	counts     counters
	progressMu sync.Mutex
	progressFn func(Stats)
}

// New builds an engine from validated configuration.
func New(opts Options) (*Engine, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New(errors.CodeConfigMissing, "engine needs a configuration")
	}
	if len(opts.Sources) == 0 {
		return nil, errors.New(errors.CodeConfigInvalid, "engine needs at least one source")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	out := opts.Sink
	if out == nil {
		out = sink.Discard{}
	}
	backend := opts.Backend
	if backend == nil {
		backend = checkpoint.NullBackend{}
	}
	id := opts.InstanceID
	if id == "" {
		id = "default"
	}

	registry, err := parser.NewRegistry(cfg.StreamKinds(), cfg.ParserOptions())
	if err != nil {
		return nil, err
	}
	eval, err := alert.New(cfg.Alerts, alert.Options{Logger: logger, Metrics: opts.Metrics})
	if err != nil {
		return nil, err
	}
	dlqCfg := dlq.DefaultConfig(cfg.DLQ.Dir)
	if cfg.DLQ.MaxSizeMB > 0 {
		dlqCfg.MaxBytes = cfg.DLQ.MaxSizeMB << 20
	}
	dlw, err := dlq.NewWriter(dlqCfg)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:      cfg,
		id:       id,
		logger:   logger,
		metrics:  opts.Metrics,
		registry: registry,
		eval:     eval,
		dlw:      dlw,
		sources:  opts.Sources,
		out:      out,
		backend:  backend,
		raw:      make(chan model.RawRecord, rawBuffer),
		workers:  cfg.Parsers.Workers,
	}
	if e.workers <= 0 {
		e.workers = 4
	}

	wopts := window.Options{
		Shards:            cfg.Windows.Shards,
		QueueSize:         cfg.Windows.QueueSize,
		SnapshotBuffer:    cfg.Windows.SnapshotBuffer,
		DiscardOnShutdown: !cfg.FlushOnShutdown(),
		Logger:            logger,
		Metrics:           opts.Metrics,
	}
	queries := window.StandardQueries(cfg.Windows.Lateness.Std(), cfg.Windows.MaxSkew.Std())
	for _, q := range queries {
		q.Window = cfg.QueryDuration(q.Name, q.Window)
		a, err := window.New(q, wopts)
		if err != nil {
			return nil, err
		}
		e.aggs = append(e.aggs, a)
		if q.Event != nil {
			e.eventAggs = append(e.eventAggs, a)
		} else {
			e.recordAggs = append(e.recordAggs, a)
		}
	}
	return e, nil
}

// SetProgressCallback registers a stats callback invoked about twice a
// second while the engine runs, and once more after it stops.
func (e *Engine) SetProgressCallback(fn func(Stats)) {
	e.progressMu.Lock()
	e.progressFn = fn
	e.progressMu.Unlock()
}

// Run processes until every source is exhausted or ctx is canceled.
// Cancellation is a graceful stop: sources quit, in-flight records drain,
// open windows flush unless configured to discard, and a final checkpoint
// is written. The returned stats describe the whole run.
func (e *Engine) Run(ctx context.Context) (Stats, error) {
	e.started = time.Now()
	e.logger.Info("engine starting",
		"sources", len(e.sources), "queries", len(e.aggs), "workers", e.workers)

	// Aggregators live on their own context: shutdown must reach them as
	// a channel close so open windows flush instead of being abandoned.
	aggCtx, aggCancel := context.WithCancel(context.Background())
	defer aggCancel()
	for _, a := range e.aggs {
		a.Start(aggCtx)
	}

	// Background loops survive until the graph has fully stopped.
	bgCtx, bgCancel := context.WithCancel(context.Background())
	keeper := checkpoint.NewKeeper(e.backend, e.cfg.Checkpoint.Interval.Std(), e.collectState, e.logger)
	keeperDone := make(chan struct{})
	go func() {
		defer close(keeperDone)
		keeper.Run(bgCtx)
	}()
	statsDone := make(chan struct{})
	go func() {
		defer close(statsDone)
		e.statsLoop(bgCtx)
	}()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(e.raw)
		return e.runSources(gctx)
	})

	g.Go(func() error {
		var wg sync.WaitGroup
		for i := 0; i < e.workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for rec := range e.raw {
					e.process(rec)
				}
			}()
		}
		wg.Wait()
		for _, a := range e.aggs {
			a.Close()
		}
		return nil
	})

	for _, a := range e.aggs {
		a := a
		g.Go(func() error {
			e.consumeSnapshots(a)
			return nil
		})
	}

	err := g.Wait()

	if ferr := e.out.Flush(); ferr != nil {
		e.logger.Warn("sink flush failed", "error", ferr)
	}
	if derr := e.dlw.Close(); derr != nil {
		e.logger.Warn("dead letter close failed", "error", derr)
	}

	bgCancel()
	<-keeperDone
	<-statsDone
	e.updateWatermarkMetrics()

	stats := e.Stats()
	e.progressMu.Lock()
	fn := e.progressFn
	e.progressMu.Unlock()
	if fn != nil {
		fn(stats)
	}

	if err != nil && !stderrors.Is(err, context.Canceled) {
		e.logger.Error("engine stopped with error", "error", err)
		return stats, err
	}
	e.logger.Info("engine stopped",
		"ingested", stats.Ingested, "parsed", stats.Parsed,
		"dead_lettered", stats.DeadLettered, "snapshots", stats.Snapshots,
		"alerts", stats.RecordAlerts+stats.WindowAlerts,
		"elapsed", stats.Elapsed.Round(time.Millisecond))
	return stats, nil
}

// runSources supervises one goroutine per source. A source error stops
// the run; plain cancellation does not.
func (e *Engine) runSources(ctx context.Context) error {
	sg, sctx := errgroup.WithContext(ctx)
	for _, s := range e.sources {
		s := s
		sg.Go(func() error {
			err := s.Run(sctx, func(rec model.RawRecord) error {
				select {
				case e.raw <- rec:
					e.metrics.RecordIngested(rec.Stream)
					e.counts.ingested.Add(1)
					return nil
				case <-sctx.Done():
					return sctx.Err()
				}
			})
			if err != nil && !stderrors.Is(err, context.Canceled) {
				e.logger.Error("source failed", "source", s.Name(), "error", err)
				return err
			}
			e.logger.Debug("source finished", "source", s.Name())
			return nil
		})
	}
	if err := sg.Wait(); err != nil && !stderrors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// process runs one raw record through parse, normalize, evaluate, and
// fan-out.
func (e *Engine) process(rec model.RawRecord) {
	p, err := e.registry.For(rec.Stream)
	if err != nil {
		e.deadLetter(rec, &parser.Failure{
			Stream:  rec.Stream,
			Reason:  parser.ReasonUnknownStream,
			Detail:  "no format bound to stream",
			Payload: rec.Payload,
		})
		return
	}

	parsed, err := p.Parse(rec)
	if err != nil {
		f := parser.AsFailure(err)
		if f == nil {
			f = &parser.Failure{
				Stream:  rec.Stream,
				Reason:  parser.ReasonUnrecognizedFormat,
				Detail:  err.Error(),
				Payload: rec.Payload,
			}
		}
		e.deadLetter(rec, f)
		return
	}
	e.counts.parsed.Add(int64(len(parsed)))

	for _, pr := range parsed {
		e.publish(sink.ParsedStream(pr.Kind), pr)
		for _, a := range e.recordAggs {
			a.OfferRecord(rec.Stream, pr)
		}

		ev, nerr := normalize.Normalize(pr)
		if nerr != nil {
			// Kinds outside the unified shape still reach the parsed
			// streams and record-fed queries above.
			continue
		}
		e.metrics.EventNormalized()
		e.counts.normalized.Add(1)
		e.publish(sink.StreamUnified, ev)

		if al, ok := e.eval.EvaluateEvent(ev); ok {
			e.counts.recordAlerts.Add(1)
			e.publish(sink.StreamAlertsRecord, al)
		}
		for _, a := range e.eventAggs {
			a.OfferEvent(rec.Stream, ev)
		}
	}
}

func (e *Engine) deadLetter(rec model.RawRecord, f *parser.Failure) {
	e.metrics.ParseFailed(f.Stream, f.Reason)
	e.counts.parseFailed.Add(1)
	if err := e.dlw.WriteFailure(rec, f); err != nil {
		e.logger.Error("dead letter write failed",
			"stream", f.Stream, "reason", f.Reason, "error", err)
		return
	}
	e.metrics.DeadLettered(f.Stream)
	e.counts.deadLettered.Add(1)
	e.logger.Debug("record dead lettered", "stream", f.Stream, "reason", f.Reason)
}

func (e *Engine) consumeSnapshots(a *window.Aggregator) {
	query := a.Query().Name
	for snap := range a.Snapshots() {
		e.counts.snapshots.Add(1)
		e.publish(sink.MetricsStream(query), snap)
		if al, ok := e.eval.EvaluateWindow(snap); ok {
			e.counts.windowAlerts.Add(1)
			e.publish(sink.StreamAlertsWindow, al)
		}
	}
}

func (e *Engine) publish(stream string, v any) {
	if err := e.out.Publish(stream, v); err != nil {
		e.counts.sinkErrors.Add(1)
		e.logger.Warn("sink publish failed", "stream", stream, "error", err)
	}
}

// statsLoop refreshes watermark gauges and feeds the progress callback
// while the engine runs.
func (e *Engine) statsLoop(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.updateWatermarkMetrics()
			e.progressMu.Lock()
			fn := e.progressFn
			e.progressMu.Unlock()
			if fn != nil {
				fn(e.Stats())
			}
		}
	}
}

func (e *Engine) updateWatermarkMetrics() {
	for _, a := range e.aggs {
		if wm, ok := a.Watermark(); ok {
			e.metrics.SetWatermark(a.Query().Name, wm)
		}
	}
}

// Stats returns the current counters. Safe to call from any goroutine.
func (e *Engine) Stats() Stats {
	st := Stats{
		Ingested:     e.counts.ingested.Load(),
		Parsed:       e.counts.parsed.Load(),
		ParseFailed:  e.counts.parseFailed.Load(),
		DeadLettered: e.counts.deadLettered.Load(),
		Normalized:   e.counts.normalized.Load(),
		Snapshots:    e.counts.snapshots.Load(),
		RecordAlerts: e.counts.recordAlerts.Load(),
		WindowAlerts: e.counts.windowAlerts.Load(),
		SinkErrors:   e.counts.sinkErrors.Load(),
		Watermarks:   make(map[string]time.Time, len(e.aggs)),
	}
	if !e.started.IsZero() {
		st.Elapsed = time.Since(e.started)
	}
	for _, a := range e.aggs {
		st.LateDropped += a.LateCount()
		st.SkewDropped += a.SkewCount()
		if wm, ok := a.Watermark(); ok {
			st.Watermarks[a.Query().Name] = wm
		}
	}
	return st
}

// collectState assembles the checkpoint: source offsets, query
// watermarks, and run totals.
func (e *Engine) collectState() *checkpoint.State {
	st := checkpoint.NewState(e.id)
	for _, s := range e.sources {
		if p, ok := s.(source.Positioned); ok {
			st.Offsets[s.Name()] = p.Offset()
		}
	}
	stats := e.Stats()
	for query, wm := range stats.Watermarks {
		st.Watermarks[query] = wm
	}
	st.Counters = checkpoint.Counters{
		Ingested:     stats.Ingested,
		Parsed:       stats.Parsed,
		DeadLettered: stats.DeadLettered,
		LateDropped:  stats.LateDropped,
		SkewDropped:  stats.SkewDropped,
		Snapshots:    stats.Snapshots,
		Alerts:       stats.RecordAlerts + stats.WindowAlerts,
	}
	return st
}

// DLQStats exposes the dead letter writer totals for the run summary.
func (e *Engine) DLQStats() dlq.Stats {
	return e.dlw.Stats()
}

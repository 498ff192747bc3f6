// Package server exposes the engine's operational HTTP surface:
// Prometheus metrics, liveness and readiness probes, live run stats,
// recent alerts, and a dead-letter summary.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/logsift/logsift/internal/model"
	"github.com/logsift/logsift/pkg/config"
	"github.com/logsift/logsift/pkg/dlq"
	"github.com/logsift/logsift/pkg/pipeline"
	"github.com/logsift/logsift/pkg/sink"
)

const defaultAlertRing = 256

// StatsFunc returns the engine's current counters.
type StatsFunc func() pipeline.Stats

// Options configures the server.
type Options struct {
	Config config.ServerConfig

	// Stats feeds /api/stats. Required.
	Stats StatsFunc

	// Ready feeds /readyz; nil means always ready.
	Ready func() bool

	// DLQDir feeds /api/dlq; empty disables the endpoint.
	DLQDir string

	// AlertRing is how many recent alerts to keep for /api/alerts.
	AlertRing int

	Logger *slog.Logger
}

// Server handles the operational HTTP endpoints.
type Server struct {
	cfg    config.ServerConfig
	stats  StatsFunc
	ready  func() bool
	dlqDir string
	logger *slog.Logger
	broker *Broker
	mux    *http.ServeMux
	http   *http.Server
	start  time.Time

	mu     sync.Mutex
	recent []model.Alert
	next   int
	total  int64
}

// New creates the server. Start must be called to begin listening.
func New(opts Options) (*Server, error) {
	if opts.Stats == nil {
		opts.Stats = func() pipeline.Stats { return pipeline.Stats{} }
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.AlertRing <= 0 {
		opts.AlertRing = defaultAlertRing
	}

	s := &Server{
		cfg:    opts.Config,
		stats:  opts.Stats,
		ready:  opts.Ready,
		dlqDir: opts.DLQDir,
		logger: opts.Logger,
		broker: NewBroker(),
		mux:    http.NewServeMux(),
		start:  time.Now(),
		recent: make([]model.Alert, 0, opts.AlertRing),
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	s.mux.Handle("GET /metrics", promhttp.Handler())
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /readyz", s.handleReady)
	s.mux.HandleFunc("GET /api/stats", s.handleStats)
	s.mux.HandleFunc("GET /api/alerts", s.handleAlerts)
	s.mux.HandleFunc("GET /api/alerts/stream", s.broker.Handler(s.Recent))
	s.mux.HandleFunc("GET /api/dlq", s.handleDLQ)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Start begins listening on the configured address. The returned error
// covers the bind only; serve errors after that are logged.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return err
	}
	s.http = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.Info("http server listening", "addr", ln.Addr().String())
	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server stopped", "error", err)
		}
	}()
	return nil
}

// Close drains open connections and stops the listener.
func (s *Server) Close() error {
	if s.http == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.http.Shutdown(ctx)
}

// Pump consumes sink messages and records the alerts among them, making
// them available on /api/alerts and the SSE stream. Intended to run as a
// goroutine over a ChannelSink's output; returns when the channel closes
// or the context ends.
func (s *Server) Pump(ctx context.Context, ch <-chan sink.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			switch msg.Stream {
			case sink.StreamAlertsRecord, sink.StreamAlertsWindow:
				if al, ok := msg.Value.(model.Alert); ok {
					s.Offer(al)
				}
			}
		}
	}
}

// Offer records one alert in the ring and broadcasts it to SSE clients.
func (s *Server) Offer(al model.Alert) {
	s.mu.Lock()
	if len(s.recent) < cap(s.recent) {
		s.recent = append(s.recent, al)
	} else {
		s.recent[s.next] = al
		s.next = (s.next + 1) % cap(s.recent)
	}
	s.total++
	s.mu.Unlock()

	s.broker.Publish(Event{Event: "alert", Data: al, ID: al.ID})
}

// Recent returns the buffered alerts, newest first.
func (s *Server) Recent() []model.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Alert, 0, len(s.recent))
	for i := 0; i < len(s.recent); i++ {
		idx := (s.next - 1 - i + len(s.recent)) % len(s.recent)
		out = append(out, s.recent[idx])
	}
	return out
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"uptime":    time.Since(s.start).Round(time.Second).String(),
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ready := s.ready == nil || s.ready()
	status := "ready"
	code := http.StatusOK
	if !ready {
		status = "not ready"
		code = http.StatusServiceUnavailable
	}
	jsonResponse(w, code, map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]any{
		"stats":     s.stats(),
		"uptime":    time.Since(s.start).Round(time.Second).String(),
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	alerts := s.Recent()
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 && limit < len(alerts) {
			alerts = alerts[:limit]
		}
	}

	s.mu.Lock()
	total := s.total
	s.mu.Unlock()

	jsonResponse(w, http.StatusOK, map[string]any{
		"alerts":    alerts,
		"count":     len(alerts),
		"total":     total,
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleDLQ(w http.ResponseWriter, r *http.Request) {
	if s.dlqDir == "" {
		jsonError(w, "dead letter queue not configured", http.StatusNotFound)
		return
	}
	summary, err := dlq.Summarize(s.dlqDir)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, http.StatusOK, summary)
}

func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

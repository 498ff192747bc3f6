// Package lifecycle coordinates graceful shutdown: signal handling for
// the run loop, ordered teardown of registered resources, and the
// readiness state the HTTP probes report.
package lifecycle

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/logsift/logsift/pkg/errors"
)

// Config configures the lifecycle manager.
type Config struct {
	// DrainTimeout is how long Run waits for the engine to stop after
	// the first signal before giving up.
	DrainTimeout time.Duration
	Logger       *slog.Logger
}

// Manager tracks readiness and owns the teardown order of everything the
// run command opens. Closers are released in reverse registration order,
// so the sink registered first is the last thing closed.
type Manager struct {
	mu       sync.Mutex
	ready    bool
	draining bool
	closers  []namedCloser

	drainTimeout time.Duration
	logger       *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

type namedCloser struct {
	name string
	c    io.Closer
}

// New builds a Manager. A zero DrainTimeout defaults to 30s.
func New(cfg Config) *Manager {
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		drainTimeout: cfg.DrainTimeout,
		logger:       cfg.Logger,
		done:         make(chan struct{}),
	}
}

// RegisterCloser adds a resource to tear down during shutdown.
func (m *Manager) RegisterCloser(name string, c io.Closer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closers = append(m.closers, namedCloser{name: name, c: c})
}

// SetReady flips the readiness probe.
func (m *Manager) SetReady(ready bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ready = ready
}

// Ready reports whether the engine is accepting work. Draining always
// reports not ready so load balancers stop routing before teardown.
func (m *Manager) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready && !m.draining
}

// Draining reports whether shutdown has begun.
func (m *Manager) Draining() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.draining
}

// Done is closed once Close has torn everything down.
func (m *Manager) Done() <-chan struct{} { return m.done }

// Close tears down every registered resource in reverse order. Idempotent;
// later calls return nil immediately.
func (m *Manager) Close() error {
	var errs errors.MultiError
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.draining = true
		closers := make([]namedCloser, len(m.closers))
		copy(closers, m.closers)
		m.mu.Unlock()

		for i := len(closers) - 1; i >= 0; i-- {
			nc := closers[i]
			if err := nc.c.Close(); err != nil {
				m.logger.Warn("close failed during shutdown", "resource", nc.name, "error", err)
				errs.Add(err)
			} else {
				m.logger.Debug("closed", "resource", nc.name)
			}
		}
		close(m.done)
	})
	return errs.Combined()
}

// Run executes fn under signal supervision. The first SIGINT or SIGTERM
// cancels fn's context and marks the manager draining; fn then has
// DrainTimeout to return on its own. A second signal or an expired drain
// window aborts without waiting further.
func (m *Manager) Run(parent context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	errc := make(chan error, 1)
	go func() { errc <- fn(ctx) }()

	select {
	case err := <-errc:
		return err
	case sig := <-sigs:
		m.logger.Info("signal received, draining", "signal", sig.String())
		m.beginDrain()
		cancel()
	case <-parent.Done():
		m.beginDrain()
	}

	select {
	case err := <-errc:
		return err
	case sig := <-sigs:
		m.logger.Warn("second signal, aborting drain", "signal", sig.String())
		return errors.New(errors.CodeTimeout, "shutdown aborted by signal")
	case <-time.After(m.drainTimeout):
		return errors.New(errors.CodeTimeout, "drain timeout exceeded").
			WithContext("timeout", m.drainTimeout.String())
	}
}

func (m *Manager) beginDrain() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.draining = true
	m.ready = false
}

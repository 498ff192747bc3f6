package lifecycle

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/logsift/logsift/pkg/errors"
)

type recordCloser struct {
	name string
	log  *[]string
	err  error
}

func (r *recordCloser) Close() error {
	*r.log = append(*r.log, r.name)
	return r.err
}

func testManager(timeout time.Duration) *Manager {
	return New(Config{
		DrainTimeout: timeout,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestCloseRunsInReverseOrder(t *testing.T) {
	m := testManager(time.Second)
	var order []string
	m.RegisterCloser("sink", &recordCloser{name: "sink", log: &order})
	m.RegisterCloser("checkpoint", &recordCloser{name: "checkpoint", log: &order})
	m.RegisterCloser("server", &recordCloser{name: "server", log: &order})

	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	want := []string{"server", "checkpoint", "sink"}
	if len(order) != len(want) {
		t.Fatalf("Expected %d closes, got %d", len(want), len(order))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("Close %d: expected %s, got %s", i, want[i], order[i])
		}
	}

	select {
	case <-m.Done():
	default:
		t.Error("Done should be closed after Close")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	m := testManager(time.Second)
	var order []string
	m.RegisterCloser("sink", &recordCloser{name: "sink", log: &order})

	if err := m.Close(); err != nil {
		t.Fatalf("First close failed: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Second close failed: %v", err)
	}
	if len(order) != 1 {
		t.Errorf("Expected 1 close, got %d", len(order))
	}
}

func TestCloseCollectsErrors(t *testing.T) {
	m := testManager(time.Second)
	var order []string
	m.RegisterCloser("good", &recordCloser{name: "good", log: &order})
	m.RegisterCloser("bad", &recordCloser{name: "bad", log: &order, err: errors.New(errors.CodeSinkWrite, "disk full")})

	err := m.Close()
	if err == nil {
		t.Fatal("Expected an error from the failing closer")
	}
	if len(order) != 2 {
		t.Errorf("Expected both closers to run, got %d", len(order))
	}
}

func TestReadinessFlipsOnDrain(t *testing.T) {
	m := testManager(time.Second)
	if m.Ready() {
		t.Error("New manager should not be ready")
	}
	m.SetReady(true)
	if !m.Ready() {
		t.Error("Expected ready after SetReady")
	}
	m.Close()
	if m.Ready() {
		t.Error("Expected not ready after Close")
	}
	if !m.Draining() {
		t.Error("Expected draining after Close")
	}
}

func TestRunReturnsFunctionError(t *testing.T) {
	m := testManager(time.Second)
	want := errors.New(errors.CodeConfigInvalid, "boom")
	err := m.Run(context.Background(), func(context.Context) error {
		return want
	})
	if !errors.IsCode(err, errors.CodeConfigInvalid) {
		t.Errorf("Expected the function's error, got %v", err)
	}
}

func TestRunDrainsOnParentCancel(t *testing.T) {
	m := testManager(time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{})
	go func() {
		<-started
		cancel()
	}()

	err := m.Run(ctx, func(fnCtx context.Context) error {
		close(started)
		<-fnCtx.Done()
		return nil
	})
	if err != nil {
		t.Fatalf("Expected clean drain, got %v", err)
	}
	if !m.Draining() {
		t.Error("Expected draining after parent cancel")
	}
}

func TestRunDrainTimeout(t *testing.T) {
	m := testManager(30 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})
	defer close(release)

	started := make(chan struct{})
	go func() {
		<-started
		cancel()
	}()

	err := m.Run(ctx, func(context.Context) error {
		close(started)
		<-release
		return nil
	})
	if !errors.IsCode(err, errors.CodeTimeout) {
		t.Errorf("Expected timeout error, got %v", err)
	}
}

package checkpoint

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/logsift/logsift/pkg/config"
	"github.com/logsift/logsift/pkg/errors"
)

func sampleState() *State {
	st := NewState("engine-1")
	st.Offsets["tail:/var/log/syslog"] = 4096
	st.Offsets["file:/data/app.log"] = 128
	st.Watermarks["error-rate-by-service"] = time.Date(2024, 12, 9, 10, 0, 30, 0, time.UTC)
	st.Counters = Counters{Ingested: 100, Parsed: 97, DeadLettered: 3}
	return st
}

func TestFileBackendRoundTrip(t *testing.T) {
	b, err := NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, err := b.Load(ctx, "engine-1"); err != os.ErrNotExist {
		t.Fatalf("Expected os.ErrNotExist before save, got %v", err)
	}

	st := sampleState()
	if err := b.Save(ctx, st); err != nil {
		t.Fatal(err)
	}

	got, err := b.Load(ctx, "engine-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Offset("tail:/var/log/syslog") != 4096 {
		t.Errorf("Expected offset 4096, got %d", got.Offset("tail:/var/log/syslog"))
	}
	wm, ok := got.Watermark("error-rate-by-service")
	if !ok || !wm.Equal(st.Watermarks["error-rate-by-service"]) {
		t.Errorf("Expected watermark back, got %v ok=%v", wm, ok)
	}
	if got.Counters.DeadLettered != 3 {
		t.Errorf("Expected 3 dead lettered, got %d", got.Counters.DeadLettered)
	}

	// Overwrite keeps the newest state.
	st.Offsets["tail:/var/log/syslog"] = 8192
	if err := b.Save(ctx, st); err != nil {
		t.Fatal(err)
	}
	got, err = b.Load(ctx, "engine-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Offset("tail:/var/log/syslog") != 8192 {
		t.Errorf("Expected overwritten offset 8192, got %d", got.Offset("tail:/var/log/syslog"))
	}

	if err := b.Delete(ctx, "engine-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Load(ctx, "engine-1"); err != os.ErrNotExist {
		t.Errorf("Expected os.ErrNotExist after delete, got %v", err)
	}
	if err := b.Delete(ctx, "engine-1"); err != nil {
		t.Errorf("Expected idempotent delete, got %v", err)
	}
}

func TestStateAccessorsOnNil(t *testing.T) {
	var st *State
	if st.Offset("anything") != 0 {
		t.Error("Expected zero offset on nil state")
	}
	if _, ok := st.Watermark("anything"); ok {
		t.Error("Expected no watermark on nil state")
	}
}

func TestMemoryBackendIsolatesCopies(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()

	if err := b.Save(ctx, sampleState()); err != nil {
		t.Fatal(err)
	}
	first, err := b.Load(ctx, "engine-1")
	if err != nil {
		t.Fatal(err)
	}
	first.Offsets["tail:/var/log/syslog"] = 1

	second, err := b.Load(ctx, "engine-1")
	if err != nil {
		t.Fatal(err)
	}
	if second.Offset("tail:/var/log/syslog") != 4096 {
		t.Errorf("Expected stored state untouched, got %d", second.Offset("tail:/var/log/syslog"))
	}
}

func TestNullBackend(t *testing.T) {
	b := NullBackend{}
	ctx := context.Background()
	if err := b.Save(ctx, sampleState()); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Load(ctx, "engine-1"); err != os.ErrNotExist {
		t.Errorf("Expected os.ErrNotExist from null backend, got %v", err)
	}
}

func TestKeeperSavesAndFlushesOnShutdown(t *testing.T) {
	b := NewMemoryBackend()
	var counter atomic.Int64
	collect := func() *State {
		st := NewState("engine-1")
		st.Counters.Ingested = counter.Add(1)
		return st
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	k := NewKeeper(b, 20*time.Millisecond, collect, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		k.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for b.Saves() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("Expected at least 2 interval saves, got %d", b.Saves())
		}
		time.Sleep(5 * time.Millisecond)
	}

	before := b.Saves()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Keeper did not stop")
	}
	if b.Saves() != before+1 {
		t.Errorf("Expected one final save on shutdown, got %d then %d", before, b.Saves())
	}

	st, err := b.Load(context.Background(), "engine-1")
	if err != nil {
		t.Fatal(err)
	}
	if st.SavedAt.IsZero() {
		t.Error("Expected SavedAt stamped by keeper")
	}
	if st.Counters.Ingested != counter.Load() {
		t.Errorf("Expected final state from last collect, got %d want %d",
			st.Counters.Ingested, counter.Load())
	}
}

// testRedis connects to the server named by TEST_REDIS_ADDR, or skips.
func testRedis(t *testing.T) *RedisBackend {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	cfg := DefaultRedisConfig(addr)
	cfg.Prefix = fmt.Sprintf("logsift-test:%d:", time.Now().UnixNano())
	b, err := NewRedisBackend(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestRedisBackendRoundTrip(t *testing.T) {
	b := testRedis(t)
	ctx := context.Background()

	if _, err := b.Load(ctx, "engine-1"); err != os.ErrNotExist {
		t.Fatalf("Expected os.ErrNotExist before save, got %v", err)
	}
	if err := b.Save(ctx, sampleState()); err != nil {
		t.Fatal(err)
	}
	got, err := b.Load(ctx, "engine-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Offset("tail:/var/log/syslog") != 4096 {
		t.Errorf("Expected offset 4096, got %d", got.Offset("tail:/var/log/syslog"))
	}
	if err := b.Delete(ctx, "engine-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Load(ctx, "engine-1"); err != os.ErrNotExist {
		t.Errorf("Expected os.ErrNotExist after delete, got %v", err)
	}
}

func TestRedisLockLifecycle(t *testing.T) {
	b := testRedis(t)
	ctx := context.Background()

	lock, err := b.AcquireLock(ctx, "engine-1", time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := b.AcquireLock(ctx, "engine-1", time.Minute); err == nil {
		t.Fatal("Expected second acquire to fail while held")
	} else if !errors.IsCode(err, errors.CodeCheckpoint) {
		t.Errorf("Expected checkpoint code on contended lock, got %v", err)
	}

	if err := lock.Refresh(ctx, time.Minute); err != nil {
		t.Errorf("Expected refresh while held, got %v", err)
	}

	if err := lock.Release(ctx); err != nil {
		t.Fatal(err)
	}
	if err := lock.Refresh(ctx, time.Minute); err == nil {
		t.Error("Expected refresh to fail after release")
	}
	if err := lock.Release(ctx); err != nil {
		t.Errorf("Expected released lock to release cleanly again, got %v", err)
	}

	// The id is free again for the next run.
	again, err := b.AcquireLock(ctx, "engine-1", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if err := again.Release(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestNewBackendFactory(t *testing.T) {
	ctx := context.Background()

	fileBackend, err := NewBackend(ctx, config.CheckpointConfig{
		Backend: "file",
		Path:    t.TempDir(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if fileBackend.Name() != "file" {
		t.Errorf("Expected file backend, got %s", fileBackend.Name())
	}

	nullBackend, err := NewBackend(ctx, config.CheckpointConfig{Backend: "none"})
	if err != nil {
		t.Fatal(err)
	}
	if nullBackend.Name() != "none" {
		t.Errorf("Expected none backend, got %s", nullBackend.Name())
	}

	_, err = NewBackend(ctx, config.CheckpointConfig{Backend: "etcd"})
	if err == nil {
		t.Fatal("Expected error for unknown backend")
	}
	if !errors.IsCode(err, errors.CodeConfigInvalid) {
		t.Errorf("Expected code %s, got %v", errors.CodeConfigInvalid, err)
	}
}

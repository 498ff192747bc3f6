// Package checkpoint persists engine progress so an interrupted run can
// resume where it stopped: byte offsets per source, watermarks per query,
// and the run counters. Backends cover local files, redis, and s3.
package checkpoint

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/logsift/logsift/pkg/config"
	"github.com/logsift/logsift/pkg/errors"
)

// State is one engine checkpoint.
type State struct {
	ID      string    `json:"id"`
	SavedAt time.Time `json:"saved_at"`

	// Offsets maps source name to the byte offset of the next unread
	// record. Offsets always sit on line boundaries.
	Offsets map[string]int64 `json:"offsets,omitempty"`

	// Watermarks maps query name to the last observed watermark.
	Watermarks map[string]time.Time `json:"watermarks,omitempty"`

	Counters Counters `json:"counters"`
}

// Counters are cumulative run totals carried in each checkpoint.
type Counters struct {
	Ingested     int64 `json:"ingested"`
	Parsed       int64 `json:"parsed"`
	DeadLettered int64 `json:"dead_lettered"`
	LateDropped  int64 `json:"late_dropped"`
	SkewDropped  int64 `json:"skew_dropped"`
	Snapshots    int64 `json:"snapshots"`
	Alerts       int64 `json:"alerts"`
}

// NewState builds an empty state for the given engine instance.
func NewState(id string) *State {
	return &State{
		ID:         id,
		Offsets:    make(map[string]int64),
		Watermarks: make(map[string]time.Time),
	}
}

// Offset returns the recorded offset for a source, zero when unknown.
func (s *State) Offset(source string) int64 {
	if s == nil {
		return 0
	}
	return s.Offsets[source]
}

// Watermark returns the recorded watermark for a query.
func (s *State) Watermark(query string) (time.Time, bool) {
	if s == nil {
		return time.Time{}, false
	}
	wm, ok := s.Watermarks[query]
	return wm, ok
}

// Backend stores engine states. Load returns os.ErrNotExist when no
// state exists for the id.
type Backend interface {
	Save(ctx context.Context, st *State) error
	Load(ctx context.Context, id string) (*State, error)
	Delete(ctx context.Context, id string) error
	Close() error
	Name() string
}

// NewBackend builds the backend named by the config section.
func NewBackend(ctx context.Context, cfg config.CheckpointConfig) (Backend, error) {
	switch cfg.Backend {
	case "file":
		return NewFileBackend(cfg.Path)
	case "redis":
		rc := DefaultRedisConfig(cfg.Redis.Addr)
		rc.Password = cfg.Redis.Password
		rc.DB = cfg.Redis.DB
		if cfg.Redis.KeyPrefix != "" {
			rc.Prefix = cfg.Redis.KeyPrefix
		}
		return NewRedisBackend(rc)
	case "s3":
		sc := DefaultS3Config(cfg.S3.Bucket)
		sc.Prefix = cfg.S3.Prefix
		sc.Region = cfg.S3.Region
		return NewS3Backend(ctx, sc)
	case "none", "":
		return NullBackend{}, nil
	default:
		return nil, errors.ConfigInvalid("checkpoint.backend", cfg.Backend,
			"must be file, redis, s3 or none")
	}
}

// FileBackend stores states as JSON files in one directory. Writes go
// through a temp file and rename, so a crash never leaves a torn state.
type FileBackend struct {
	dir string
}

// NewFileBackend creates the directory and returns a backend over it.
func NewFileBackend(dir string) (*FileBackend, error) {
	if dir == "" {
		return nil, errors.New(errors.CodeConfigInvalid, "checkpoint path is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.CodeCheckpoint, "create checkpoint directory").
			WithContext("dir", dir)
	}
	return &FileBackend{dir: dir}, nil
}

func (b *FileBackend) path(id string) string {
	return filepath.Join(b.dir, id+".checkpoint")
}

// Save implements Backend.
func (b *FileBackend) Save(_ context.Context, st *State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.CodeCheckpoint, "marshal state")
	}
	path := b.path(st.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, errors.CodeCheckpoint, "write state").
			WithContext("path", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrap(err, errors.CodeCheckpoint, "commit state").
			WithContext("path", path)
	}
	return nil
}

// Load implements Backend.
func (b *FileBackend) Load(_ context.Context, id string) (*State, error) {
	data, err := os.ReadFile(b.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, os.ErrNotExist
		}
		return nil, errors.Wrap(err, errors.CodeCheckpoint, "read state").
			WithContext("path", b.path(id))
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, errors.Wrap(err, errors.CodeCheckpoint, "decode state").
			WithContext("path", b.path(id))
	}
	return &st, nil
}

// Delete implements Backend.
func (b *FileBackend) Delete(_ context.Context, id string) error {
	if err := os.Remove(b.path(id)); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, errors.CodeCheckpoint, "delete state").
			WithContext("path", b.path(id))
	}
	return nil
}

// Close implements Backend.
func (b *FileBackend) Close() error { return nil }

// Name implements Backend.
func (b *FileBackend) Name() string { return "file" }

// MemoryBackend keeps states in memory. Used in tests and embedded runs.
type MemoryBackend struct {
	mu     sync.Mutex
	states map[string][]byte
	saves  int
}

// NewMemoryBackend builds an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{states: make(map[string][]byte)}
}

// Save implements Backend.
func (b *MemoryBackend) Save(_ context.Context, st *State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return errors.Wrap(err, errors.CodeCheckpoint, "marshal state")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.states[st.ID] = data
	b.saves++
	return nil
}

// Load implements Backend.
func (b *MemoryBackend) Load(_ context.Context, id string) (*State, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.states[id]
	if !ok {
		return nil, os.ErrNotExist
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, errors.Wrap(err, errors.CodeCheckpoint, "decode state")
	}
	return &st, nil
}

// Delete implements Backend.
func (b *MemoryBackend) Delete(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.states, id)
	return nil
}

// Close implements Backend.
func (b *MemoryBackend) Close() error { return nil }

// Name implements Backend.
func (b *MemoryBackend) Name() string { return "memory" }

// Saves reports how many times Save succeeded.
func (b *MemoryBackend) Saves() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.saves
}

// NullBackend persists nothing. Every run starts fresh.
type NullBackend struct{}

// Save implements Backend.
func (NullBackend) Save(context.Context, *State) error { return nil }

// Load implements Backend.
func (NullBackend) Load(context.Context, string) (*State, error) {
	return nil, os.ErrNotExist
}

// Delete implements Backend.
func (NullBackend) Delete(context.Context, string) error { return nil }

// Close implements Backend.
func (NullBackend) Close() error { return nil }

// Name implements Backend.
func (NullBackend) Name() string { return "none" }

// CollectFunc gathers the current engine state for saving.
type CollectFunc func() *State

// Keeper saves the collected state on an interval and once more on
// shutdown. Save failures are logged and retried on the next tick; a
// flaky backend must not stop the pipeline.
type Keeper struct {
	backend  Backend
	interval time.Duration
	collect  CollectFunc
	logger   *slog.Logger
}

// NewKeeper builds a keeper. Interval defaults to 10s.
func NewKeeper(backend Backend, interval time.Duration, collect CollectFunc, logger *slog.Logger) *Keeper {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Keeper{
		backend:  backend,
		interval: interval,
		collect:  collect,
		logger:   logger,
	}
}

// Run blocks until ctx ends, then writes a final state.
func (k *Keeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// The run context is already gone; give the final save
			// its own deadline.
			final, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			k.save(final)
			cancel()
			return nil
		case <-ticker.C:
			k.save(ctx)
		}
	}
}

func (k *Keeper) save(ctx context.Context) {
	st := k.collect()
	if st == nil {
		return
	}
	st.SavedAt = time.Now().UTC()
	if err := k.backend.Save(ctx, st); err != nil {
		k.logger.Warn("checkpoint save failed",
			"backend", k.backend.Name(), "id", st.ID, "error", err)
		return
	}
	k.logger.Debug("checkpoint saved",
		"backend", k.backend.Name(), "id", st.ID,
		"sources", len(st.Offsets), "queries", len(st.Watermarks))
}

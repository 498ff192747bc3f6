package source

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/logsift/logsift/internal/model"
)

// TailConfig configures a TailSource.
type TailConfig struct {
	// Path is the file to follow.
	Path string
	// Stream is the logical stream name stamped on every record.
	Stream string
	// Start is the byte offset to resume from. Ignored when the file is
	// shorter than Start, which means it was truncated since the offset
	// was recorded.
	Start int64
	// Poll is the stat fallback interval for writes fsnotify missed.
	// Defaults to 2s.
	Poll time.Duration
	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// TailSource follows a file as it grows, like tail -F. It survives
// truncation and rotation: a shrunken file is reread from the start, and
// when the file is renamed away the source waits for it to reappear.
// Partial lines at EOF are held back until the terminating newline
// arrives.
type TailSource struct {
	path   string
	base   string
	stream string
	start  int64
	poll   time.Duration
	logger *slog.Logger

	file   *os.File
	rd     *bufio.Reader
	frag   []byte
	pend   int
	offset atomic.Int64
}

// NewTailSource builds a tail source. The file does not need to exist
// yet; the source waits for it to be created.
func NewTailSource(cfg TailConfig) (*TailSource, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("tail source needs a path")
	}
	if cfg.Stream == "" {
		return nil, fmt.Errorf("tail source needs a stream name")
	}
	if cfg.Poll <= 0 {
		cfg.Poll = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &TailSource{
		path:   cfg.Path,
		base:   filepath.Base(cfg.Path),
		stream: cfg.Stream,
		start:  cfg.Start,
		poll:   cfg.Poll,
		logger: cfg.Logger,
	}, nil
}

// Name implements Source.
func (t *TailSource) Name() string { return "tail:" + t.path }

// Offset implements Positioned. The value only advances past complete
// lines, so a checkpoint taken here never resumes mid-record.
func (t *TailSource) Offset() int64 { return t.offset.Load() }

// Run implements Source. It blocks until ctx ends or emit fails.
func (t *TailSource) Run(ctx context.Context, emit EmitFunc) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the parent directory; watching the file itself breaks
	// across rotations.
	if err := watcher.Add(filepath.Dir(t.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(t.path), err)
	}

	start := t.start
	if fi, err := os.Stat(t.path); err == nil && fi.Size() < start {
		t.logger.Info("tailed file shrank since checkpoint, rereading",
			"path", t.path, "offset", start, "size", fi.Size())
		start = 0
	}
	if err := t.reopen(start); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("open %s: %w", t.path, err)
		}
		t.logger.Info("waiting for tailed file to appear", "path", t.path)
	}
	if t.file != nil {
		if err := t.drain(ctx, emit); err != nil {
			return err
		}
	}

	ticker := time.NewTicker(t.poll)
	defer ticker.Stop()
	defer t.closeFile()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != t.base {
				continue
			}
			switch {
			case ev.Op&fsnotify.Write == fsnotify.Write:
				if t.file == nil {
					continue
				}
				if err := t.drain(ctx, emit); err != nil {
					return err
				}
			case ev.Op&fsnotify.Create == fsnotify.Create:
				// Rotation or first appearance. Finish the old
				// handle before switching to the new file.
				if t.file != nil {
					if err := t.drain(ctx, emit); err != nil {
						return err
					}
				}
				if err := t.reopen(0); err != nil {
					t.logger.Warn("reopen after create failed",
						"path", t.path, "error", err)
					continue
				}
				if err := t.drain(ctx, emit); err != nil {
					return err
				}
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				t.logger.Info("tailed file moved away, waiting for recreate",
					"path", t.path)
				t.closeFile()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			t.logger.Warn("watcher error", "path", t.path, "error", err)

		case <-ticker.C:
			if err := t.check(ctx, emit); err != nil {
				return err
			}
		}
	}
}

// check is the poll fallback: reopen a missing file, detect truncation,
// and pick up writes whose events were dropped.
func (t *TailSource) check(ctx context.Context, emit EmitFunc) error {
	if t.file == nil {
		if err := t.reopen(0); err != nil {
			return nil
		}
		return t.drain(ctx, emit)
	}
	fi, err := os.Stat(t.path)
	if err != nil {
		return nil
	}
	consumed := t.offset.Load() + int64(t.pend)
	if fi.Size() < consumed {
		t.logger.Info("tailed file truncated, rereading",
			"path", t.path, "consumed", consumed, "size", fi.Size())
		if err := t.reopen(0); err != nil {
			return nil
		}
	}
	return t.drain(ctx, emit)
}

func (t *TailSource) reopen(start int64) error {
	t.closeFile()
	f, err := os.Open(t.path)
	if err != nil {
		return err
	}
	if start > 0 {
		if _, err := f.Seek(start, 0); err != nil {
			f.Close()
			return err
		}
	}
	t.file = f
	t.rd = bufio.NewReaderSize(f, maxLineBytes)
	t.frag = nil
	t.pend = 0
	t.offset.Store(start)
	return nil
}

func (t *TailSource) closeFile() {
	if t.file != nil {
		t.file.Close()
		t.file = nil
		t.rd = nil
	}
}

// drain reads everything currently available, emitting complete lines.
// A trailing line with no newline yet stays buffered; the reader keeps
// the fd position, so the next drain continues exactly where this one
// stopped.
func (t *TailSource) drain(ctx context.Context, emit EmitFunc) error {
	if t.rd == nil {
		return nil
	}
	for {
		chunk, err := t.rd.ReadSlice('\n')
		t.pend += len(chunk)
		switch {
		case err == bufio.ErrBufferFull:
			t.frag = append(t.frag, chunk...)
			continue
		case err == io.EOF:
			t.frag = append(t.frag, chunk...)
			return nil
		case err != nil:
			return err
		}

		line := chunk
		if len(t.frag) > 0 {
			t.frag = append(t.frag, chunk...)
			line = t.frag
		}
		if payload := trimEOL(line); len(payload) > 0 {
			rec := model.RawRecord{
				Stream:     t.stream,
				Payload:    append([]byte(nil), payload...),
				IngestTime: time.Now().UTC(),
			}
			if err := emit(rec); err != nil {
				return err
			}
		}
		t.offset.Add(int64(t.pend))
		t.frag = t.frag[:0]
		t.pend = 0

		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

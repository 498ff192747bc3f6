package source

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/logsift/logsift/internal/model"
)

// ReplayConfig configures a ReplaySource.
type ReplayConfig struct {
	// Dir holds the fixture files.
	Dir string
	// Glob selects files within Dir. Defaults to "*.jsonl".
	Glob string
	// Delay paces emission, one record per interval. Zero replays at
	// full speed.
	Delay time.Duration
	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// fixtureRecord is one line of a replay fixture file.
type fixtureRecord struct {
	Stream     string    `json:"stream"`
	Key        string    `json:"key,omitempty"`
	Payload    string    `json:"payload"`
	IngestTime time.Time `json:"ingest_time,omitempty"`
}

// ReplaySource reads recorded raw records back from a directory of JSONL
// fixture files, in file name order. Each line is a JSON object with a
// stream name and the original payload, so one fixture directory can
// feed every stream at once.
type ReplaySource struct {
	dir    string
	glob   string
	delay  time.Duration
	logger *slog.Logger
}

// NewReplaySource builds a replay source over cfg.Dir.
func NewReplaySource(cfg ReplayConfig) (*ReplaySource, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("replay source needs a directory")
	}
	if cfg.Glob == "" {
		cfg.Glob = "*.jsonl"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &ReplaySource{
		dir:    cfg.Dir,
		glob:   cfg.Glob,
		delay:  cfg.Delay,
		logger: cfg.Logger,
	}, nil
}

// Name implements Source.
func (s *ReplaySource) Name() string { return "replay:" + s.dir }

// Files lists the fixture files that Run will read, in order.
func (s *ReplaySource) Files() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, s.glob))
	if err != nil {
		return nil, fmt.Errorf("list fixtures in %s: %w", s.dir, err)
	}
	sort.Strings(matches)
	return matches, nil
}

// CountRecords walks the fixture files and counts non-empty lines,
// for progress reporting before a replay starts.
func (s *ReplaySource) CountRecords() (int, error) {
	files, err := s.Files()
	if err != nil {
		return 0, err
	}
	total := 0
	for _, path := range files {
		f, err := os.Open(path)
		if err != nil {
			return 0, fmt.Errorf("open fixture %s: %w", path, err)
		}
		err = scanLines(bufio.NewReaderSize(f, maxLineBytes), func(line []byte, _ int) error {
			if len(line) > 0 {
				total++
			}
			return nil
		})
		f.Close()
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}

// Run implements Source. Fixture problems fail the replay with the file
// and line number; fixtures are meant to be deterministic inputs, not
// best-effort ones.
func (s *ReplaySource) Run(ctx context.Context, emit EmitFunc) error {
	files, err := s.Files()
	if err != nil {
		return err
	}
	if len(files) == 0 {
		s.logger.Warn("no fixture files matched", "dir", s.dir, "glob", s.glob)
		return nil
	}
	for _, path := range files {
		if err := s.replayFile(ctx, path, emit); err != nil {
			return err
		}
	}
	return nil
}

func (s *ReplaySource) replayFile(ctx context.Context, path string, emit EmitFunc) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open fixture %s: %w", path, err)
	}
	defer f.Close()

	lineno := 0
	return scanLines(bufio.NewReaderSize(f, maxLineBytes), func(line []byte, _ int) error {
		lineno++
		if len(line) == 0 {
			return nil
		}
		var fix fixtureRecord
		if err := json.Unmarshal(line, &fix); err != nil {
			return fmt.Errorf("%s:%d: bad fixture record: %w", path, lineno, err)
		}
		if fix.Stream == "" {
			return fmt.Errorf("%s:%d: fixture record has no stream", path, lineno)
		}
		if s.delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.delay):
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
		rec := model.RawRecord{
			Stream:     fix.Stream,
			Key:        fix.Key,
			Payload:    []byte(fix.Payload),
			IngestTime: fix.IngestTime,
		}
		if rec.IngestTime.IsZero() {
			rec.IngestTime = time.Now().UTC()
		}
		return emit(rec)
	})
}

package source

import (
	"bufio"
	"context"
	"os"
	"sync/atomic"
	"time"

	"github.com/logsift/logsift/internal/model"
	"github.com/logsift/logsift/pkg/errors"
)

// FileSource reads a file once, line by line, and stops at EOF. Use
// TailSource to follow a file that is still being written.
type FileSource struct {
	path   string
	stream string
	offset atomic.Int64
}

// NewFileSource builds a source over path for the named stream. start is
// the byte offset to resume from; pass 0 to read from the beginning.
func NewFileSource(path, stream string, start int64) *FileSource {
	s := &FileSource{path: path, stream: stream}
	s.offset.Store(start)
	return s
}

// Name implements Source.
func (s *FileSource) Name() string { return "file:" + s.path }

// Offset implements Positioned. The value always sits on a line boundary.
func (s *FileSource) Offset() int64 { return s.offset.Load() }

// Run implements Source.
func (s *FileSource) Run(ctx context.Context, emit EmitFunc) error {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.SourceNotFound(s.path)
		}
		if os.IsPermission(err) {
			return errors.Wrap(err, errors.CodeSourcePermission, "cannot open source file").
				WithContext("path", s.path)
		}
		return errors.Wrap(err, errors.CodeSourceNotFound, "cannot open source file")
	}
	defer f.Close()

	if start := s.offset.Load(); start > 0 {
		if _, err := f.Seek(start, 0); err != nil {
			return errors.Wrap(err, errors.CodeCheckpoint, "cannot seek to resume offset").
				WithContext("path", s.path).
				WithContext("offset", start)
		}
	}

	br := bufio.NewReaderSize(f, maxLineBytes)
	return scanLines(br, func(line []byte, consumed int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(line) > 0 {
			rec := model.RawRecord{
				Stream:     s.stream,
				Payload:    append([]byte(nil), line...),
				IngestTime: time.Now().UTC(),
			}
			if err := emit(rec); err != nil {
				return err
			}
		}
		s.offset.Add(int64(consumed))
		return nil
	})
}

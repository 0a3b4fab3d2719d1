package batch

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/meigma/depot/internal/format"
)

// FileSink writes entries beneath a directory. Content goes to a temporary
// file next to the target and is renamed into place on Commit, so a failed
// entry never leaves a partial file behind.
//
// Entry names are resolved through an os.Root, so names that would escape
// the directory are rejected.
type FileSink struct {
	root          *os.Root
	overwrite     bool
	preserveTimes bool
}

// FileSinkOption configures a FileSink.
type FileSinkOption func(*FileSink)

// WithOverwrite replaces existing files instead of skipping them.
func WithOverwrite(b bool) FileSinkOption {
	return func(s *FileSink) {
		s.overwrite = b
	}
}

// WithPreserveTimes applies entry modification times to written files.
func WithPreserveTimes(b bool) FileSinkOption {
	return func(s *FileSink) {
		s.preserveTimes = b
	}
}

// NewFileSink opens dir, creating it if needed.
// The sink must be closed to release the directory handle.
func NewFileSink(dir string, opts ...FileSinkOption) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create destination: %w", err)
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("open destination: %w", err)
	}
	s := &FileSink{root: root}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the destination directory.
func (s *FileSink) Close() error {
	return s.root.Close()
}

// ShouldProcess skips existing files unless overwriting. Invalid names are
// accepted here so that Writer can report them.
func (s *FileSink) ShouldProcess(e *format.Entry) bool {
	if s.overwrite || !fs.ValidPath(e.Name) {
		return true
	}
	_, err := s.root.Stat(filepath.FromSlash(e.Name))
	return errors.Is(err, fs.ErrNotExist)
}

// Writer implements Sink.
func (s *FileSink) Writer(e *format.Entry) (Committer, error) {
	if !fs.ValidPath(e.Name) || e.Name == "." {
		return nil, fs.ErrInvalid
	}
	rel := filepath.FromSlash(e.Name)
	if dir := filepath.Dir(rel); dir != "." {
		if err := s.root.MkdirAll(dir, 0o750); err != nil {
			return nil, err
		}
	}
	tmp, tmpRel, err := createTemp(s.root, filepath.Dir(rel))
	if err != nil {
		return nil, err
	}
	return &fileCommitter{sink: s, entry: e, rel: rel, tmp: tmp, tmpRel: tmpRel}, nil
}

type fileCommitter struct {
	sink   *FileSink
	entry  *format.Entry
	rel    string
	tmp    *os.File
	tmpRel string
}

func (c *fileCommitter) Write(p []byte) (int, error) {
	return c.tmp.Write(p)
}

func (c *fileCommitter) Commit() error {
	if err := c.tmp.Close(); err != nil {
		_ = c.sink.root.Remove(c.tmpRel) //nolint:errcheck // best-effort cleanup
		return err
	}
	if c.sink.preserveTimes && !c.entry.Modified.IsZero() {
		mtime := c.entry.Modified.Time()
		if err := c.sink.root.Chtimes(c.tmpRel, mtime, mtime); err != nil {
			_ = c.sink.root.Remove(c.tmpRel) //nolint:errcheck // best-effort cleanup
			return fmt.Errorf("chtimes: %w", err)
		}
	}
	if err := c.sink.root.Rename(c.tmpRel, c.rel); err != nil {
		_ = c.sink.root.Remove(c.tmpRel) //nolint:errcheck // best-effort cleanup
		return err
	}
	return nil
}

func (c *fileCommitter) Discard() error {
	_ = c.tmp.Close() //nolint:errcheck // the file is being removed
	return c.sink.root.Remove(c.tmpRel)
}

func createTemp(root *os.Root, dir string) (*os.File, string, error) {
	const attempts = 10
	var b [8]byte
	for range attempts {
		if _, err := rand.Read(b[:]); err != nil {
			return nil, "", err
		}
		rel := filepath.Join(dir, ".depot-"+hex.EncodeToString(b[:]))
		f, err := root.OpenFile(rel, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			return f, rel, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", err
		}
	}
	return nil, "", errors.New("create temp file: exhausted retries")
}

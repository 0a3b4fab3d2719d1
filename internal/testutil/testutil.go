// Package testutil provides in-memory sources and sinks for depot tests.
package testutil

import (
	"bytes"
	"errors"
	"io"
	"sync/atomic"

	"github.com/opencontainers/go-digest"
)

// MemSource is an in-memory byte source that counts the bytes read from it.
type MemSource struct {
	data      []byte
	sourceID  string
	bytesRead atomic.Int64
	reads     atomic.Int64
}

// NewMemSource returns a source backed by data.
func NewMemSource(data []byte) *MemSource {
	return &MemSource{
		data:     data,
		sourceID: "mem:" + digest.FromBytes(data).String(),
	}
}

// ReadAt implements io.ReaderAt.
func (m *MemSource) ReadAt(p []byte, off int64) (int, error) {
	m.reads.Add(1)
	if off < 0 {
		return 0, errors.New("testutil: negative offset")
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	m.bytesRead.Add(int64(n))
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Size returns the length of the backing data.
func (m *MemSource) Size() int64 {
	return int64(len(m.data))
}

// SourceID returns a content-derived identifier.
func (m *MemSource) SourceID() string {
	return m.sourceID
}

// Bytes returns the backing slice so tests can corrupt it.
func (m *MemSource) Bytes() []byte {
	return m.data
}

// BytesRead returns the total number of bytes served.
func (m *MemSource) BytesRead() int64 {
	return m.bytesRead.Load()
}

// Reads returns the number of ReadAt calls.
func (m *MemSource) Reads() int64 {
	return m.reads.Load()
}

// ResetCounters zeroes the read statistics.
func (m *MemSource) ResetCounters() {
	m.bytesRead.Store(0)
	m.reads.Store(0)
}

// SeekBuffer is an in-memory io.WriteSeeker.
type SeekBuffer struct {
	buf []byte
	pos int64
}

// Write implements io.Writer, overwriting or extending at the current position.
func (s *SeekBuffer) Write(p []byte) (int, error) {
	end := s.pos + int64(len(p))
	if end > int64(len(s.buf)) {
		grown := make([]byte, end)
		copy(grown, s.buf)
		s.buf = grown
	}
	copy(s.buf[s.pos:], p)
	s.pos = end
	return len(p), nil
}

// Seek implements io.Seeker.
func (s *SeekBuffer) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = s.pos + offset
	case io.SeekEnd:
		abs = int64(len(s.buf)) + offset
	default:
		return 0, errors.New("testutil: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("testutil: negative position")
	}
	s.pos = abs
	return abs, nil
}

// Bytes returns the written contents.
func (s *SeekBuffer) Bytes() []byte {
	return s.buf
}

// Reader returns a reader over the written contents.
func (s *SeekBuffer) Reader() *bytes.Reader {
	return bytes.NewReader(s.buf)
}

// FailingWriter accepts Budget bytes and then fails every write with Err.
type FailingWriter struct {
	W      io.Writer
	Budget int
	Err    error
}

// Write implements io.Writer.
func (f *FailingWriter) Write(p []byte) (int, error) {
	if f.Budget <= 0 {
		return 0, f.Err
	}
	if len(p) > f.Budget {
		n, _ := f.W.Write(p[:f.Budget]) //nolint:errcheck // the injected error wins
		f.Budget = 0
		return n, f.Err
	}
	f.Budget -= len(p)
	return f.W.Write(p)
}

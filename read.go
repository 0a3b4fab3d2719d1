package depot

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"time"

	"github.com/meigma/depot/internal/sizing"
)

// ReadFile returns the decoded content of the named entry after checking
// its digest. Unlike Open, it accepts any entry name, including names that
// are not valid fs paths.
//
// Errors are *fs.PathError values wrapping ErrEntryNotFound, ErrIntegrity,
// ErrDecompression, ErrOffsetOutOfBounds or ErrUnsupportedFeature. A failure
// in one entry never affects reads of another.
func (a *Archive) ReadFile(name string) ([]byte, error) {
	start := time.Now()
	content, err := a.readFile(name)
	a.metrics.EntryRead(start, len(content), err)
	if err != nil {
		a.log().Debug("read failed", "name", name, "error", err)
		return nil, &fs.PathError{Op: "read", Path: name, Err: err}
	}
	return content, nil
}

func (a *Archive) readFile(name string) ([]byte, error) {
	e, ok := a.idx.Lookup(name)
	if !ok {
		return nil, ErrEntryNotFound
	}
	if err := a.checkLimits(&e); err != nil {
		return nil, err
	}
	stored, err := a.readStored(&e)
	if err != nil {
		return nil, err
	}
	return a.adapter.Decode(e.EntryInfo, stored)
}

// Raw returns the stored bytes of the named entry without decompressing or
// verifying them.
func (a *Archive) Raw(name string) ([]byte, error) {
	e, ok := a.idx.Lookup(name)
	if !ok {
		return nil, &fs.PathError{Op: "raw", Path: name, Err: ErrEntryNotFound}
	}
	if err := a.checkLimits(&e); err != nil {
		return nil, &fs.PathError{Op: "raw", Path: name, Err: err}
	}
	stored, err := a.readStored(&e)
	if err != nil {
		return nil, &fs.PathError{Op: "raw", Path: name, Err: err}
	}
	return stored, nil
}

// Section returns a reader over the content of a raw (uncompressed) entry.
// The content is not verified; use ReadFile or Open when integrity matters.
// Compressed entries fail with ErrCompressedEntry.
func (a *Archive) Section(name string) (*io.SectionReader, error) {
	e, ok := a.idx.Lookup(name)
	if !ok {
		return nil, &fs.PathError{Op: "section", Path: name, Err: ErrEntryNotFound}
	}
	if e.Compressed() {
		return nil, &fs.PathError{Op: "section", Path: name, Err: ErrCompressedEntry}
	}
	off, n, err := a.locate(&e)
	if err != nil {
		return nil, &fs.PathError{Op: "section", Path: name, Err: err}
	}
	return io.NewSectionReader(a.src, off, n), nil
}

// checkLimits applies the configured entry size limit.
func (a *Archive) checkLimits(e *Entry) error {
	if a.maxEntrySize == 0 {
		return nil
	}
	if e.Size > a.maxEntrySize || e.StoredSize() > a.maxEntrySize {
		return fmt.Errorf("%w: entry is %d bytes, limit %d", ErrSizeOverflow, max(e.Size, e.StoredSize()), a.maxEntrySize)
	}
	return nil
}

// readStored reads the stored payload of e.
func (a *Archive) readStored(e *Entry) ([]byte, error) {
	off, n, err := a.locate(e)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	read, err := a.src.ReadAt(buf, off)
	if int64(read) == n {
		return buf, nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return nil, ErrTruncated
	}
	return nil, err
}

// locate returns the source offset and length of the stored payload of e,
// skipping a per-entry file header when one is present.
func (a *Archive) locate(e *Entry) (int64, int64, error) {
	end, ok := e.End()
	if !ok || e.Offset < HeaderSize || end > a.header.TOCOffset {
		return 0, 0, ErrOffsetOutOfBounds
	}
	off, err := a.abs(e.Offset)
	if err != nil {
		return 0, 0, err
	}
	n, err := sizing.ToInt64(e.StoredSize(), ErrSizeOverflow)
	if err != nil {
		return 0, 0, err
	}
	if !e.HasFileHeader() {
		return off, n, nil
	}

	if a.fileHeaders == nil {
		return 0, 0, fmt.Errorf("%w: entry has a file header", ErrUnsupportedFeature)
	}
	limit, err := a.abs(a.header.TOCOffset)
	if err != nil {
		return 0, 0, err
	}
	skip, err := a.fileHeaders.ParseFileHeader(e.Name, io.NewSectionReader(a.src, off, limit-off))
	if err != nil {
		return 0, 0, fmt.Errorf("file header: %w", err)
	}
	if skip < 0 || skip > limit-off-n {
		return 0, 0, fmt.Errorf("%w: file header of %d bytes", ErrOffsetOutOfBounds, skip)
	}
	return off + skip, n, nil
}

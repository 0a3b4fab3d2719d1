package depot

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"slices"

	"github.com/meigma/depot/checksum"
	"github.com/meigma/depot/compress"
	"github.com/meigma/depot/internal/format"
	"github.com/meigma/depot/internal/index"
	"github.com/meigma/depot/internal/payload"
	"github.com/meigma/depot/internal/sizing"
	"github.com/meigma/depot/metrics"
)

// Interface compliance.
var (
	_ fs.FS         = (*Archive)(nil)
	_ fs.StatFS     = (*Archive)(nil)
	_ fs.ReadFileFS = (*Archive)(nil)
	_ fs.ReadDirFS  = (*Archive)(nil)
)

// Archive provides random access to the entries of a finalized archive.
//
// Open decodes the header and TOC once; afterwards an Archive holds only
// immutable state and all read methods are safe for concurrent use.
type Archive struct {
	src    ByteSource
	closer io.Closer

	header  Header
	toc     *TOC
	idx     *index.Index
	adapter *payload.Adapter

	codec         compress.Codec
	hash          checksum.HashFunc
	scan          bool
	scanBudget    int64
	base          int64
	fileHeaders   FileHeaderParser
	maxEntrySize  uint64
	maxTOCSize    uint64
	verifyOnClose bool
	levelMeaning  TOCLevelMeaning
	metrics       *metrics.Collector
	logger        *slog.Logger
}

// log returns the logger, falling back to a discard logger if nil.
func (a *Archive) log() *slog.Logger {
	if a.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return a.logger
}

// Open reads the header and TOC from src.
//
// By default the header is expected at offset 0 (or the WithBaseOffset
// position). WithScan searches for it instead, which opens archives that
// were appended to other data.
func Open(src ByteSource, opts ...Option) (*Archive, error) {
	a := &Archive{
		src:           src,
		maxEntrySize:  DefaultMaxEntrySize,
		maxTOCSize:    DefaultMaxTOCSize,
		verifyOnClose: true,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.adapter = payload.New(a.codec, a.hash)

	err := a.load()
	a.metrics.ArchiveOpened(err)
	if err != nil {
		return nil, err
	}
	a.log().Info("opened archive",
		"base", a.base,
		"entries", a.idx.Len(),
		"size", a.toc.Size,
		"level", a.toc.CompressionLevel)
	return a, nil
}

// OpenFile opens the archive stored in the named file. The returned Archive
// must be closed to release the file.
func OpenFile(path string, opts ...Option) (*Archive, error) {
	f, err := os.Open(path) //nolint:gosec // user-provided path is intentional
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	a, err := Open(&fileSource{File: f, size: info.Size()}, opts...)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	a.closer = f
	return a, nil
}

// fileSource adds Size to *os.File.
type fileSource struct {
	*os.File
	size int64
}

func (f *fileSource) Size() int64 { return f.size }

// Close releases the file opened by OpenFile. It is a no-op for archives
// created with Open.
func (a *Archive) Close() error {
	if a.closer == nil {
		return nil
	}
	err := a.closer.Close()
	a.closer = nil
	return err
}

func (a *Archive) load() error {
	size := a.src.Size()
	if a.base < 0 || a.base > size {
		return fmt.Errorf("%w: base offset %d outside source of %d bytes", ErrOffsetOutOfBounds, a.base, size)
	}

	if a.scan {
		h, pos, err := format.Scan(io.NewSectionReader(a.src, a.base, size-a.base), a.scanBudget)
		if err != nil {
			return err
		}
		a.base += pos
		a.header = h
		a.log().Debug("found archive header", "base", a.base)
	} else {
		h, err := format.ReadHeader(io.NewSectionReader(a.src, a.base, size-a.base))
		if err != nil {
			return err
		}
		a.header = h
	}
	if !a.header.Finalized() {
		return ErrNotFinalized
	}

	avail := uint64(size - a.base) //nolint:gosec // base <= size checked above
	tocOffset := a.header.TOCOffset
	if tocOffset < HeaderSize || tocOffset > avail {
		return fmt.Errorf("%w: toc offset %d in %d bytes", ErrOffsetOutOfBounds, tocOffset, avail)
	}
	if avail-tocOffset < format.TOCPrefixSize {
		return fmt.Errorf("%w: %w", ErrTOCDecode, ErrTruncated)
	}

	var prefix [format.TOCPrefixSize]byte
	if err := a.readAt(prefix[:], tocOffset); err != nil {
		return fmt.Errorf("%w: %w", ErrTOCDecode, err)
	}
	_, count, total, err := format.DecodeTOCPrefix(prefix[:])
	if err != nil {
		return err
	}
	minLen, ok := format.MinEncodedSize(count)
	if !ok || total < tocOffset || total-tocOffset < minLen {
		return fmt.Errorf("%w: %d entries cannot fit in archive of %d bytes", ErrTOCDecode, count, total)
	}
	if total > avail {
		return fmt.Errorf("%w: archive is %d bytes, source holds %d", ErrTruncated, total, avail)
	}
	tocLen := total - tocOffset
	if a.maxTOCSize > 0 && tocLen > a.maxTOCSize {
		return fmt.Errorf("%w: toc is %d bytes, limit %d", ErrSizeOverflow, tocLen, a.maxTOCSize)
	}
	n, err := sizing.ToInt(tocLen, ErrSizeOverflow)
	if err != nil {
		return err
	}

	buf := make([]byte, n)
	if err := a.readAt(buf, tocOffset); err != nil {
		return fmt.Errorf("%w: %w", ErrTOCDecode, err)
	}
	r := bytes.NewReader(buf)
	toc, err := format.ReadTOC(r)
	if err != nil {
		return err
	}
	if r.Len() != 0 {
		return fmt.Errorf("%w: %d trailing bytes after entries", ErrTOCDecode, r.Len())
	}
	for i := range toc.Entries {
		e := &toc.Entries[i]
		if end, _ := e.End(); end > tocOffset {
			return fmt.Errorf("%w: %w: %q overlaps the toc", ErrTOCDecode, ErrOffsetOutOfBounds, e.Name)
		}
	}

	a.toc = toc
	a.idx = index.New(toc.Entries)
	return nil
}

// readAt fills p from the archive-relative offset off.
func (a *Archive) readAt(p []byte, off uint64) error {
	abs, err := a.abs(off)
	if err != nil {
		return err
	}
	n, err := a.src.ReadAt(p, abs)
	if n == len(p) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return ErrTruncated
	}
	return err
}

// abs converts an archive-relative offset to a source offset.
func (a *Archive) abs(off uint64) (int64, error) {
	rel, err := sizing.ToInt64(off, ErrOffsetOutOfBounds)
	if err != nil {
		return 0, err
	}
	if rel > (1<<63-1)-a.base {
		return 0, ErrOffsetOutOfBounds
	}
	return a.base + rel, nil
}

// Header returns the decoded archive header.
func (a *Archive) Header() Header {
	return a.header
}

// TOC returns a copy of the decoded table of contents.
func (a *Archive) TOC() TOC {
	t := *a.toc
	t.Entries = slices.Clone(a.toc.Entries)
	return t
}

// Base returns the position of the archive header within the source.
func (a *Archive) Base() int64 {
	return a.base
}

// Size returns the archive length recorded in the TOC.
func (a *Archive) Size() uint64 {
	return a.toc.Size
}

// Source returns the underlying byte source.
func (a *Archive) Source() ByteSource {
	return a.src
}

// DefaultLevel returns the archive-wide default entry compression level.
func (a *Archive) DefaultLevel() int32 {
	switch a.levelMeaning {
	case LevelIsEntryDefault:
		return a.toc.CompressionLevel
	default:
		return compress.DefaultLevel
	}
}

// Codec returns the codec used to decode entries.
func (a *Archive) Codec() compress.Codec {
	return a.adapter.Codec
}

// Len returns the number of entries.
func (a *Archive) Len() int {
	return a.idx.Len()
}

// Names returns every entry name in sorted order.
func (a *Archive) Names() []string {
	return a.idx.Names()
}

// Entries iterates all entries in name order.
func (a *Archive) Entries() iter.Seq[Entry] {
	return a.idx.All()
}

// EntriesWithPrefix iterates the entries whose names start with prefix.
func (a *Archive) EntriesWithPrefix(prefix string) iter.Seq[Entry] {
	return a.idx.WithPrefix(prefix)
}

// Lookup returns the entry with the given name, or ErrEntryNotFound.
func (a *Archive) Lookup(name string) (Entry, error) {
	e, ok := a.idx.Lookup(name)
	if !ok {
		return Entry{}, &fs.PathError{Op: "lookup", Path: name, Err: ErrEntryNotFound}
	}
	return e, nil
}

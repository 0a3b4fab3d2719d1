package depot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/meigma/depot/checksum"
	"github.com/meigma/depot/compress"
	"github.com/meigma/depot/internal/format"
	"github.com/meigma/depot/internal/index"
	"github.com/meigma/depot/internal/pathutil"
	"github.com/meigma/depot/internal/payload"
	"github.com/meigma/depot/internal/sizing"
	"github.com/meigma/depot/metrics"
)

// Writer builds an archive by appending entries to a sink.
//
// On a seekable sink the writer emits a placeholder header, appends
// payloads, and Finalize writes the TOC and patches the header in place.
// On any other sink the header is deferred: Finalize writes the TOC and the
// caller places HeaderBytes in front of the written data.
//
// A Writer is not safe for concurrent use.
type Writer struct {
	dst    io.Writer
	seeker io.WriteSeeker
	start  int64
	pos    uint64

	entries *index.Builder
	adapter *payload.Adapter

	level        int32
	codec        compress.Codec
	hash         checksum.HashFunc
	now          func() time.Time
	skip         []compress.SkipFunc
	progress     ProgressFunc
	deferred     bool
	maxEntrySize uint64
	metrics      *metrics.Collector
	logger       *slog.Logger

	closer io.Closer

	finalized bool
	header    []byte
	size      uint64
	err       error
}

// NewWriter returns a Writer appending to dst. On a seekable sink the
// archive starts at the sink's current position.
func NewWriter(dst io.Writer, opts ...WriterOption) (*Writer, error) {
	w := &Writer{
		dst:     dst,
		pos:     HeaderSize,
		entries: index.NewBuilder(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.adapter = payload.New(w.codec, w.hash)

	if !w.deferred {
		if err := w.writePlaceholder(); err != nil {
			return nil, err
		}
	}
	w.log().Debug("writer ready",
		"codec", w.adapter.Codec.Name(),
		"level", w.level,
		"deferred_header", w.deferred)
	return w, nil
}

func (w *Writer) writePlaceholder() error {
	ws, ok := w.dst.(io.WriteSeeker)
	if !ok {
		w.deferred = true
		return nil
	}
	start, err := ws.Seek(0, io.SeekCurrent)
	if err != nil {
		// Pipes and terminals satisfy io.WriteSeeker but cannot seek.
		w.deferred = true
		w.log().Debug("sink cannot seek, deferring header", "error", err)
		return nil
	}
	w.seeker = ws
	w.start = start
	buf, _ := format.NewHeader().MarshalBinary() //nolint:errcheck // never fails
	if _, err := ws.Write(buf); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	return nil
}

// CreateFile creates or truncates the named file and returns a Writer for
// it. Close finalizes the archive and closes the file.
func CreateFile(path string, opts ...WriterOption) (*Writer, error) {
	f, err := os.Create(path) //nolint:gosec // user-provided path is intentional
	if err != nil {
		return nil, err
	}
	w, err := NewWriter(f, opts...)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.closer = f
	return w, nil
}

// Close finalizes the archive if needed and closes the file opened by
// CreateFile. For other writers it only finalizes.
func (w *Writer) Close() error {
	var err error
	if !w.finalized {
		err = w.Finalize()
	}
	if w.closer != nil {
		err = errors.Join(err, w.closer.Close())
		w.closer = nil
	}
	return err
}

// log returns the logger, falling back to a discard logger if nil.
func (w *Writer) log() *slog.Logger {
	if w.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return w.logger
}

// Append reads r to EOF and adds its content as the entry name.
//
// Content is buffered and compressed unless the codec is "none", the entry
// matches a skip predicate, or AppendWithoutCompression is given, in which
// case it is streamed raw. A duplicate name fails with ErrNameDuplicate
// before r is read. A failed write to the sink leaves the Writer unusable.
func (w *Writer) Append(name string, r io.Reader, opts ...AppendOption) (Entry, error) {
	if w.finalized {
		return Entry{}, &fs.PathError{Op: "append", Path: name, Err: ErrAlreadyFinalized}
	}
	if w.err != nil {
		return Entry{}, w.err
	}
	if err := format.ValidateName(name); err != nil {
		return Entry{}, &fs.PathError{Op: "append", Path: name, Err: err}
	}
	if w.entries.Has(name) {
		return Entry{}, &fs.PathError{Op: "append", Path: name, Err: ErrNameDuplicate}
	}

	cfg := appendConfig{level: w.level}
	for _, opt := range opts {
		opt(&cfg)
	}
	now := w.now()
	if cfg.created.IsZero() {
		cfg.created = now
	}
	if cfg.modified.IsZero() {
		cfg.modified = now
	}

	var (
		info EntryInfo
		err  error
	)
	if cfg.raw || w.adapter.Codec.Name() == "none" {
		info, err = w.appendStream(r)
	} else {
		info, err = w.appendBuffered(name, r, cfg.level)
	}
	if err != nil {
		return Entry{}, &fs.PathError{Op: "append", Path: name, Err: err}
	}
	info.Offset = w.pos
	info.Created = format.TimestampOf(cfg.created)
	info.Modified = format.TimestampOf(cfg.modified)

	next, ok := sizing.Add(w.pos, info.StoredSize())
	if !ok {
		w.err = ErrSizeOverflow
		return Entry{}, w.err
	}
	e := Entry{Name: name, EntryInfo: info}
	if err := w.entries.Add(e); err != nil {
		return Entry{}, &fs.PathError{Op: "append", Path: name, Err: err}
	}
	w.pos = next

	w.metrics.EntryAppended(info.Size, info.StoredSize(), info.Compressed())
	w.log().Debug("appended entry",
		"name", name,
		"size", info.Size,
		"stored", info.StoredSize(),
		"compressed", info.Compressed())
	w.emit(ProgressEvent{
		Stage:       StageAppending,
		Name:        name,
		BytesDone:   info.Size,
		BytesTotal:  info.Size,
		EntriesDone: w.entries.Len(),
	})
	return e, nil
}

// appendBuffered reads the whole entry, then compresses and writes it.
func (w *Writer) appendBuffered(name string, r io.Reader, level int32) (EntryInfo, error) {
	content, err := sizing.ReadAll(r, w.maxEntrySize, ErrSizeOverflow)
	if err != nil {
		return EntryInfo{}, err
	}
	compressible := !compress.ShouldSkip(name, int64(len(content)), w.skip)
	enc, err := w.adapter.Encode(content, int(level), compressible)
	if err != nil {
		return EntryInfo{}, err
	}
	if err := w.write(enc.Stored); err != nil {
		return EntryInfo{}, err
	}
	return EntryInfo{
		Size:           enc.Size,
		CompressedSize: enc.CompressedSize,
		Hash:           enc.Hash,
	}, nil
}

// appendStream copies r to the sink while hashing it.
func (w *Writer) appendStream(r io.Reader) (EntryInfo, error) {
	h := w.adapter.Hash()
	cw := &sizing.CountingWriter{W: w.dst}
	if _, err := io.Copy(io.MultiWriter(cw, h), r); err != nil {
		if cw.N > 0 {
			w.err = fmt.Errorf("depot: entry partially written: %w", err)
			return EntryInfo{}, w.err
		}
		return EntryInfo{}, err
	}
	return EntryInfo{Size: cw.N, Hash: h.Sum64()}, nil
}

// write sends p to the sink. Any failure is sticky since the sink position
// is no longer known.
func (w *Writer) write(p []byte) error {
	n, err := w.dst.Write(p)
	if err == nil && n != len(p) {
		err = io.ErrShortWrite
	}
	if err != nil {
		w.err = fmt.Errorf("depot: write payload: %w", err)
		return w.err
	}
	return nil
}

// AppendBytes adds content as the entry name.
func (w *Writer) AppendBytes(name string, content []byte, opts ...AppendOption) (Entry, error) {
	return w.Append(name, &sliceReader{b: content}, opts...)
}

// sliceReader avoids the seek state of bytes.Reader.
type sliceReader struct {
	b []byte
}

func (s *sliceReader) Read(p []byte) (int, error) {
	if len(s.b) == 0 {
		return 0, io.EOF
	}
	n := copy(p, s.b)
	s.b = s.b[n:]
	return n, nil
}

// AppendFile adds the regular file at path as the entry name, using the
// file's modification time for both timestamps unless opts override them.
func (w *Writer) AppendFile(name, path string, opts ...AppendOption) (Entry, error) {
	f, err := os.Open(path) //nolint:gosec // user-provided path is intentional
	if err != nil {
		return Entry{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Entry{}, err
	}
	if !info.Mode().IsRegular() {
		return Entry{}, &fs.PathError{Op: "append", Path: path, Err: errors.New("not a regular file")}
	}
	mtime := info.ModTime()
	opts = append([]AppendOption{AppendWithTimestamps(mtime, mtime)}, opts...)
	return w.Append(name, f, opts...)
}

// AppendFS adds every regular file in fsys, naming each entry by its path
// joined to prefix. Files are visited in lexical order. Symbolic links and
// other special files are skipped.
//
// The context can be used to cancel between files.
func (w *Writer) AppendFS(ctx context.Context, fsys fs.FS, prefix string, opts ...AppendOption) (int, error) {
	count := 0
	err := fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		f, err := fsys.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		mtime := info.ModTime()
		fileOpts := append([]AppendOption{AppendWithTimestamps(mtime, mtime)}, opts...)
		if _, err := w.Append(pathutil.Join(prefix, path), f, fileOpts...); err != nil {
			return err
		}
		count++
		return nil
	})
	return count, err
}

// Finalize writes the TOC and completes the header. On a seekable sink the
// header is patched in place and the sink is left positioned at the end of
// the archive; a failed Finalize may be retried. With a deferred header the
// final header is available from HeaderBytes afterwards.
//
// Finalize returns ErrAlreadyFinalized if called again.
func (w *Writer) Finalize() error {
	if w.finalized {
		return ErrAlreadyFinalized
	}
	if w.err != nil {
		return w.err
	}
	n := w.entries.Len()
	w.emit(ProgressEvent{Stage: StageFinalizing, EntriesDone: n, EntriesTotal: n})

	toc := &TOC{CompressionLevel: w.level, Entries: w.entries.Sorted()}
	total, ok := sizing.Add(w.pos, toc.EncodedSize())
	if !ok {
		return ErrSizeOverflow
	}
	toc.Size = total
	buf, err := toc.MarshalBinary()
	if err != nil {
		return err
	}
	header := Header{Version: Version, TOCOffset: w.pos}
	hdr, _ := header.MarshalBinary() //nolint:errcheck // never fails

	if w.deferred {
		if err := w.write(buf); err != nil {
			return fmt.Errorf("write toc: %w", err)
		}
	} else if err := w.patch(buf, hdr, total); err != nil {
		return err
	}
	if f, ok := w.dst.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("flush: %w", err)
		}
	}

	w.finalized = true
	w.header = hdr
	w.size = total
	w.metrics.ArchiveFinalized()
	w.log().Info("finalized archive",
		"entries", n,
		"size", total,
		"toc_offset", header.TOCOffset,
		"deferred_header", w.deferred)
	return nil
}

// patch writes the TOC after the last payload, rewrites the header and
// leaves the sink at the end of the archive.
func (w *Writer) patch(toc, hdr []byte, total uint64) error {
	tocOff, err := sizing.ToInt64(w.pos, ErrSizeOverflow)
	if err != nil {
		return err
	}
	end, err := sizing.ToInt64(total, ErrSizeOverflow)
	if err != nil {
		return err
	}
	steps := []struct {
		off  int64
		data []byte
		what string
	}{
		{tocOff, toc, "toc"},
		{0, hdr, "header"},
	}
	for _, s := range steps {
		if _, err := w.seeker.Seek(w.start+s.off, io.SeekStart); err != nil {
			return fmt.Errorf("seek to %s: %w", s.what, err)
		}
		if _, err := w.seeker.Write(s.data); err != nil {
			return fmt.Errorf("write %s: %w", s.what, err)
		}
	}
	if _, err := w.seeker.Seek(w.start+end, io.SeekStart); err != nil {
		return fmt.Errorf("seek to end: %w", err)
	}
	return nil
}

// HeaderBytes returns the encoded final header. It returns ErrNotFinalized
// before Finalize succeeds.
func (w *Writer) HeaderBytes() ([]byte, error) {
	if !w.finalized {
		return nil, ErrNotFinalized
	}
	return slices.Clone(w.header), nil
}

// Deferred reports whether the header is left to the caller.
func (w *Writer) Deferred() bool {
	return w.deferred
}

// Size returns the archive length: the final total after Finalize, or the
// bytes covered so far (header included) before it.
func (w *Writer) Size() uint64 {
	if w.finalized {
		return w.size
	}
	return w.pos
}

// Len returns the number of appended entries.
func (w *Writer) Len() int {
	return w.entries.Len()
}

func (w *Writer) emit(ev ProgressEvent) {
	if w.progress != nil {
		w.progress(ev)
	}
}

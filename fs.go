package depot

import (
	"errors"
	"io"
	"io/fs"
	"iter"
	"time"

	"github.com/meigma/depot/internal/pathutil"
)

// Open implements fs.FS.
//
// Regular entries are streamed: the returned file decodes content as it is
// read and fails with ErrIntegrity at EOF if the digest does not match.
// Close drains unread content to verify it unless WithVerifyOnClose(false)
// was given. Directories are synthesized from slash-separated entry names.
func (a *Archive) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	if e, ok := a.idx.Lookup(name); ok {
		if err := a.checkLimits(&e); err != nil {
			return nil, &fs.PathError{Op: "open", Path: name, Err: err}
		}
		off, n, err := a.locate(&e)
		if err != nil {
			return nil, &fs.PathError{Op: "open", Path: name, Err: err}
		}
		r, err := a.adapter.NewReader(e.EntryInfo, io.NewSectionReader(a.src, off, n))
		if err != nil {
			return nil, &fs.PathError{Op: "open", Path: name, Err: err}
		}
		return &entryFile{entry: e, r: r, verifyOnClose: a.verifyOnClose}, nil
	}
	if a.isDir(name) {
		return &openDir{a: a, name: name}, nil
	}
	return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
}

// Stat implements fs.StatFS.
func (a *Archive) Stat(name string) (fs.FileInfo, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrInvalid}
	}
	if e, ok := a.idx.Lookup(name); ok {
		return fileInfo{name: pathutil.Base(name), entry: e}, nil
	}
	if a.isDir(name) {
		return dirInfo{name: pathutil.Base(name)}, nil
	}
	return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
}

// ReadDir implements fs.ReadDirFS. Entries are returned sorted by name.
func (a *Archive) ReadDir(name string) ([]fs.DirEntry, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrInvalid}
	}
	if _, ok := a.idx.Lookup(name); ok {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: errors.New("not a directory")}
	}
	it := newDirIter(a, name)
	defer it.Close()

	entries := make([]fs.DirEntry, 0)
	for {
		de, ok := it.Next()
		if !ok {
			break
		}
		entries = append(entries, de)
	}
	if len(entries) == 0 && name != "." {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrNotExist}
	}
	return entries, nil
}

// isDir reports whether any entry lives below name.
func (a *Archive) isDir(name string) bool {
	if name == "." {
		return true
	}
	return a.idx.HasPrefix(pathutil.DirPrefix(name))
}

// entryFile is a streaming, verifying fs.File over one entry.
type entryFile struct {
	entry         Entry
	r             io.ReadCloser
	eof           bool
	closed        bool
	verifyOnClose bool
}

func (f *entryFile) Read(p []byte) (int, error) {
	if f.closed {
		return 0, &fs.PathError{Op: "read", Path: f.entry.Name, Err: fs.ErrClosed}
	}
	n, err := f.r.Read(p)
	switch {
	case errors.Is(err, io.EOF):
		f.eof = true
		return n, io.EOF
	case err != nil:
		return n, &fs.PathError{Op: "read", Path: f.entry.Name, Err: err}
	}
	return n, nil
}

func (f *entryFile) Stat() (fs.FileInfo, error) {
	return fileInfo{name: pathutil.Base(f.entry.Name), entry: f.entry}, nil
}

// Close releases the decoder. Unless verification on close is disabled, a
// file that was not read to EOF is drained first and the digest checked.
func (f *entryFile) Close() error {
	if f.closed {
		return &fs.PathError{Op: "close", Path: f.entry.Name, Err: fs.ErrClosed}
	}
	var verr error
	if f.verifyOnClose && !f.eof {
		if _, err := io.Copy(io.Discard, f.r); err != nil {
			verr = &fs.PathError{Op: "close", Path: f.entry.Name, Err: err}
		}
	}
	f.closed = true
	return errors.Join(verr, f.r.Close())
}

// fileInfo describes an entry.
type fileInfo struct {
	name  string
	entry Entry
}

func (i fileInfo) Name() string       { return i.name }
func (i fileInfo) Size() int64        { return int64(i.entry.Size) } //nolint:gosec // sizes beyond int64 are not addressable anyway
func (i fileInfo) Mode() fs.FileMode  { return 0o444 }
func (i fileInfo) ModTime() time.Time { return i.entry.Modified.Time() }
func (i fileInfo) IsDir() bool        { return false }

// Sys returns the Entry.
func (i fileInfo) Sys() any { return i.entry }

// dirInfo describes a synthesized directory.
type dirInfo struct {
	name string
}

func (d dirInfo) Name() string       { return d.name }
func (d dirInfo) Size() int64        { return 0 }
func (d dirInfo) Mode() fs.FileMode  { return fs.ModeDir | 0o555 }
func (d dirInfo) ModTime() time.Time { return time.Time{} }
func (d dirInfo) IsDir() bool        { return true }
func (d dirInfo) Sys() any           { return nil }

// openDir implements fs.ReadDirFile for synthesized directories.
type openDir struct {
	a    *Archive
	name string
	it   *dirIter
}

func (d *openDir) Read([]byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.name, Err: errors.New("is a directory")}
}

func (d *openDir) Stat() (fs.FileInfo, error) {
	return dirInfo{name: pathutil.Base(d.name)}, nil
}

func (d *openDir) Close() error {
	if d.it != nil {
		d.it.Close()
	}
	return nil
}

func (d *openDir) ReadDir(n int) ([]fs.DirEntry, error) {
	if d.it == nil {
		d.it = newDirIter(d.a, d.name)
	}
	var out []fs.DirEntry
	for n <= 0 || len(out) < n {
		de, ok := d.it.Next()
		if !ok {
			break
		}
		out = append(out, de)
	}
	if n > 0 && len(out) == 0 {
		return nil, io.EOF
	}
	return out, nil
}

// dirIter yields the immediate children of a directory, collapsing deeper
// entries into one synthesized subdirectory each. Entries sharing a prefix
// are contiguous in name order, so one look-behind suffices.
type dirIter struct {
	next   func() (Entry, bool)
	stop   func()
	prefix string
	last   string
}

func newDirIter(a *Archive, dir string) *dirIter {
	prefix := pathutil.DirPrefix(dir)
	next, stop := iter.Pull(a.idx.WithPrefix(prefix))
	return &dirIter{next: next, stop: stop, prefix: prefix}
}

func (it *dirIter) Next() (fs.DirEntry, bool) {
	for {
		e, ok := it.next()
		if !ok {
			return nil, false
		}
		child, isDir := pathutil.Child(e.Name, it.prefix)
		if child == "" || child == it.last {
			continue
		}
		it.last = child
		if isDir {
			return fs.FileInfoToDirEntry(dirInfo{name: child}), true
		}
		return fs.FileInfoToDirEntry(fileInfo{name: child, entry: e}), true
	}
}

func (it *dirIter) Close() {
	it.stop()
}

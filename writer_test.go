package depot

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/depot/compress"
	"github.com/meigma/depot/internal/testutil"
)

func TestWriterDeterministic(t *testing.T) {
	t.Parallel()

	files := []file{
		{"z", []byte("last")},
		{"m/n", bytes.Repeat([]byte("middle "), 300)},
		{"a", []byte("first")},
	}
	first := build(t, files)
	second := build(t, files)
	assert.Equal(t, first, second)

	reordered := open(t, build(t, []file{files[2], files[0], files[1]}))
	assert.Equal(t, open(t, first).Names(), reordered.Names())
}

func TestWriterDuplicateName(t *testing.T) {
	t.Parallel()

	var buf testutil.SeekBuffer
	w, err := NewWriter(&buf)
	require.NoError(t, err)

	_, err = w.AppendBytes("dup", []byte("one"))
	require.NoError(t, err)
	before := w.Size()

	r := strings.NewReader("two")
	_, err = w.Append("dup", r)
	require.ErrorIs(t, err, ErrNameDuplicate)
	assert.Equal(t, before, w.Size())
	assert.Equal(t, 3, r.Len(), "reader must not be consumed")

	require.NoError(t, w.Finalize())
	a := open(t, buf.Bytes())
	assert.Equal(t, 1, a.Len())
	got, err := a.ReadFile("dup")
	require.NoError(t, err)
	assert.Equal(t, "one", string(got))
}

func TestWriterFinalizeTwice(t *testing.T) {
	t.Parallel()

	var buf testutil.SeekBuffer
	w, err := NewWriter(&buf)
	require.NoError(t, err)

	_, err = w.HeaderBytes()
	require.ErrorIs(t, err, ErrNotFinalized)

	require.NoError(t, w.Finalize())
	require.ErrorIs(t, w.Finalize(), ErrAlreadyFinalized)
	_, err = w.AppendBytes("late", []byte("x"))
	require.ErrorIs(t, err, ErrAlreadyFinalized)

	hdr, err := w.HeaderBytes()
	require.NoError(t, err)
	assert.Equal(t, buf.Bytes()[:HeaderSize], hdr)

	a := open(t, buf.Bytes())
	assert.Zero(t, a.Len())
	assert.Equal(t, uint64(HeaderSize), a.Header().TOCOffset)
}

func TestWriterDeferredHeader(t *testing.T) {
	t.Parallel()

	var body bytes.Buffer
	w, err := NewWriter(&body, WriterWithClock(func() time.Time { return fixedTime }))
	require.NoError(t, err)
	assert.True(t, w.Deferred())

	_, err = w.AppendBytes("a.txt", []byte("hello"))
	require.NoError(t, err)
	_, err = w.AppendBytes("b.txt", bytes.Repeat([]byte("b"), 512))
	require.NoError(t, err)
	require.NoError(t, w.Finalize())

	hdr, err := w.HeaderBytes()
	require.NoError(t, err)
	data := append(hdr, body.Bytes()...)
	assert.Equal(t, w.Size(), uint64(len(data)))

	a := open(t, data)
	got, err := a.ReadFile("a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	seekable := build(t, []file{{"a.txt", []byte("hello")}, {"b.txt", bytes.Repeat([]byte("b"), 512)}})
	assert.Equal(t, seekable, data)
}

func TestWriterAtNonZeroPosition(t *testing.T) {
	t.Parallel()

	var buf testutil.SeekBuffer
	_, err := buf.Write([]byte("junk"))
	require.NoError(t, err)

	w, err := NewWriter(&buf)
	require.NoError(t, err)
	_, err = w.AppendBytes("f", []byte("content"))
	require.NoError(t, err)
	require.NoError(t, w.Finalize())
	assert.Len(t, buf.Bytes(), 4+int(w.Size()))

	a := open(t, buf.Bytes(), WithBaseOffset(4))
	got, err := a.ReadFile("f")
	require.NoError(t, err)
	assert.Equal(t, "content", string(got))

	standalone := open(t, buf.Bytes()[4:])
	assert.Equal(t, a.TOC(), standalone.TOC())
}

func TestWriterSinkFailureIsSticky(t *testing.T) {
	t.Parallel()

	boom := errors.New("disk full")
	var out bytes.Buffer
	w, err := NewWriter(&testutil.FailingWriter{W: &out, Budget: 10, Err: boom})
	require.NoError(t, err)

	_, err = w.AppendBytes("big", bytes.Repeat([]byte("x"), 100), AppendWithoutCompression())
	require.ErrorIs(t, err, boom)
	_, err = w.AppendBytes("next", []byte("y"))
	require.ErrorIs(t, err, boom)
	require.ErrorIs(t, w.Finalize(), boom)
}

func TestWriterAppendOptions(t *testing.T) {
	t.Parallel()

	created := time.Date(2020, 1, 2, 3, 4, 5, 0, time.FixedZone("X", 3600))
	modified := created.Add(time.Hour)
	content := bytes.Repeat([]byte("raw "), 256)

	var buf testutil.SeekBuffer
	w, err := NewWriter(&buf)
	require.NoError(t, err)
	e, err := w.AppendBytes("raw", content, AppendWithoutCompression(), AppendWithTimestamps(created, modified))
	require.NoError(t, err)
	assert.False(t, e.Compressed())
	assert.Equal(t, created.Unix(), e.Created.Time().Unix())
	assert.Equal(t, modified.Unix(), e.Modified.Time().Unix())
	_, offset := e.Created.Time().Zone()
	assert.Equal(t, 3600, offset)

	e, err = w.AppendBytes("packed", content, AppendWithLevel(19))
	require.NoError(t, err)
	assert.True(t, e.Compressed())
	require.NoError(t, w.Finalize())

	a := open(t, buf.Bytes())
	for _, name := range []string{"raw", "packed"} {
		got, err := a.ReadFile(name)
		require.NoError(t, err)
		assert.Equal(t, content, got)
	}
}

func TestWriterSkipCompression(t *testing.T) {
	t.Parallel()

	content := bytes.Repeat([]byte{0}, 4096)
	var buf testutil.SeekBuffer
	w, err := NewWriter(&buf, WriterWithSkipCompression(compress.DefaultSkip(0)))
	require.NoError(t, err)

	e, err := w.AppendBytes("photo.JPG", content)
	require.NoError(t, err)
	assert.False(t, e.Compressed())
	e, err = w.AppendBytes("zeros.bin", content)
	require.NoError(t, err)
	assert.True(t, e.Compressed())
}

func TestWriterInvalidName(t *testing.T) {
	t.Parallel()

	var buf testutil.SeekBuffer
	w, err := NewWriter(&buf)
	require.NoError(t, err)
	_, err = w.AppendBytes("", []byte("x"))
	require.ErrorIs(t, err, ErrInvalidName)
}

func TestWriterMaxEntrySize(t *testing.T) {
	t.Parallel()

	var buf testutil.SeekBuffer
	w, err := NewWriter(&buf, WriterWithMaxEntrySize(16))
	require.NoError(t, err)
	_, err = w.AppendBytes("big", make([]byte, 17))
	require.ErrorIs(t, err, ErrSizeOverflow)

	// Nothing was written, so the writer stays usable.
	_, err = w.AppendBytes("small", make([]byte, 16))
	require.NoError(t, err)
	require.NoError(t, w.Finalize())
}

func TestWriterAppendFS(t *testing.T) {
	t.Parallel()

	mtime := time.Date(2023, 7, 8, 9, 10, 11, 0, time.UTC)
	fsys := fstest.MapFS{
		"b/c.txt":  {Data: []byte("c"), ModTime: mtime},
		"a.txt":    {Data: []byte("a"), ModTime: mtime},
		"b/d/e.md": {Data: []byte("# e"), ModTime: mtime},
	}

	var events []ProgressEvent
	var buf testutil.SeekBuffer
	w, err := NewWriter(&buf, WriterWithProgress(func(ev ProgressEvent) { events = append(events, ev) }))
	require.NoError(t, err)
	n, err := w.AppendFS(t.Context(), fsys, "root")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.NoError(t, w.Finalize())

	require.Len(t, events, 4)
	assert.Equal(t, StageAppending, events[0].Stage)
	assert.Equal(t, "root/a.txt", events[0].Name)
	assert.Equal(t, StageFinalizing, events[3].Stage)
	assert.Equal(t, 3, events[3].EntriesTotal)

	a := open(t, buf.Bytes())
	assert.Equal(t, []string{"root/a.txt", "root/b/c.txt", "root/b/d/e.md"}, a.Names())
	e, err := a.Lookup("root/b/d/e.md")
	require.NoError(t, err)
	assert.Equal(t, mtime.Unix(), e.Modified.Time().Unix())
}

func TestWriterAppendFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("from disk"), 0o600))
	mtime := time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC)
	require.NoError(t, os.Chtimes(path, mtime, mtime))

	var buf testutil.SeekBuffer
	w, err := NewWriter(&buf)
	require.NoError(t, err)

	e, err := w.AppendFile("f.txt", path)
	require.NoError(t, err)
	assert.Equal(t, mtime.Unix(), e.Modified.Time().Unix())
	assert.Equal(t, uint64(9), e.Size)

	_, err = w.AppendFile("dir", dir)
	require.Error(t, err)
	assert.Equal(t, 1, w.Len())
}

package depot

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"io/fs"
	"testing"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/depot/compress"
	"github.com/meigma/depot/internal/testutil"
)

var fixedTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type file struct {
	name    string
	content []byte
}

// build writes files to an in-memory archive with a fixed clock.
func build(t *testing.T, files []file, opts ...WriterOption) []byte {
	t.Helper()
	var buf testutil.SeekBuffer
	opts = append([]WriterOption{WriterWithClock(func() time.Time { return fixedTime })}, opts...)
	w, err := NewWriter(&buf, opts...)
	require.NoError(t, err)
	for _, f := range files {
		_, err := w.AppendBytes(f.name, f.content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Finalize())
	return buf.Bytes()
}

func open(t *testing.T, data []byte, opts ...Option) *Archive {
	t.Helper()
	a, err := Open(testutil.NewMemSource(data), opts...)
	require.NoError(t, err)
	return a
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	files := []file{
		{"empty", nil},
		{"docs/readme.md", bytes.Repeat([]byte("depot archive "), 200)},
		{"bin/data", []byte{0, 1, 2, 3, 4, 5, 6, 7}},
		{"a.txt", []byte("hello")},
	}
	for _, codec := range []string{"zstd", "s2", "flate", "snappy", "xz", "none"} {
		t.Run(codec, func(t *testing.T) {
			t.Parallel()
			c, err := compress.ByName(codec)
			require.NoError(t, err)

			a := open(t, build(t, files, WriterWithCodec(c)), WithCodec(c))
			require.Equal(t, len(files), a.Len())
			assert.Equal(t, []string{"a.txt", "bin/data", "docs/readme.md", "empty"}, a.Names())

			for _, f := range files {
				got, err := a.ReadFile(f.name)
				require.NoError(t, err, f.name)
				assert.Equal(t, len(f.content), len(got), f.name)
				assert.True(t, bytes.Equal(f.content, got), f.name)

				e, err := a.Lookup(f.name)
				require.NoError(t, err)
				assert.Equal(t, xxhash.Sum64(f.content), e.Hash)
				assert.Equal(t, fixedTime.Unix(), e.Modified.Time().Unix())
			}

			e, err := a.Lookup("empty")
			require.NoError(t, err)
			assert.Zero(t, e.Size)
			assert.Zero(t, e.CompressedSize)
		})
	}
}

func TestScenarioUncompressedEntry(t *testing.T) {
	t.Parallel()

	data := build(t, []file{{"a.txt", []byte("hello")}}, WriterWithCodec(compress.None{}))
	// header + payload + toc prefix + name + entry info
	require.Len(t, data, 18+5+20+(4+5)+56)

	a := open(t, data)
	assert.Equal(t, uint64(len(data)), a.Size())
	assert.Equal(t, uint64(23), a.Header().TOCOffset)

	got, err := a.ReadFile("a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	e, err := a.Lookup("a.txt")
	require.NoError(t, err)
	assert.Equal(t, xxhash.Sum64String("hello"), e.Hash)
	assert.Equal(t, uint64(HeaderSize), e.Offset)
	assert.False(t, e.Compressed())
}

func TestScenarioCompressedZeros(t *testing.T) {
	t.Parallel()

	zeros := make([]byte, 1000)
	a := open(t, build(t, []file{{"x", zeros}}))

	e, err := a.Lookup("x")
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), e.Size)
	assert.NotZero(t, e.CompressedSize)
	assert.Less(t, e.CompressedSize, e.Size)

	got, err := a.ReadFile("x")
	require.NoError(t, err)
	assert.Equal(t, zeros, got)
	assert.Equal(t, e.Hash, xxhash.Sum64(got))
}

func TestOpenRejectsCompressedEmptyEntry(t *testing.T) {
	t.Parallel()

	data := build(t, []file{{"x", make([]byte, 1<<20)}})
	tocOff := binary.BigEndian.Uint64(data[10:18])
	// level, count, size, then name "x" and the entry offset.
	sizeAt := tocOff + 4 + 8 + 8 + 4 + 1 + 8
	binary.BigEndian.PutUint64(data[sizeAt:], 0)

	_, err := Open(testutil.NewMemSource(data))
	require.ErrorIs(t, err, ErrTOCDecode)
}

func TestScenarioUnknownVersion(t *testing.T) {
	t.Parallel()

	data := build(t, []file{{"a", []byte("x")}})
	binary.BigEndian.PutUint16(data[8:10], 99)

	src := testutil.NewMemSource(data)
	_, err := Open(src)
	require.ErrorIs(t, err, ErrUnsupportedVersion)
	assert.Equal(t, int64(HeaderSize), src.BytesRead(), "toc must not be read")
}

func TestOpenErrors(t *testing.T) {
	t.Parallel()

	valid := build(t, []file{{"a", []byte("alpha")}, {"b", []byte("beta")}})

	tests := []struct {
		name   string
		mutate func([]byte) []byte
		want   error
	}{
		{"magic", func(b []byte) []byte { b[0] = 'X'; return b }, ErrMagicMismatch},
		{"short header", func(b []byte) []byte { return b[:10] }, ErrTruncated},
		{"truncated toc", func(b []byte) []byte { return b[:len(b)-3] }, ErrTruncated},
		{"placeholder", func(b []byte) []byte {
			binary.BigEndian.PutUint64(b[10:18], ^uint64(0))
			return b
		}, ErrNotFinalized},
		{"toc offset past end", func(b []byte) []byte {
			binary.BigEndian.PutUint64(b[10:18], uint64(len(b)+10))
			return b
		}, ErrOffsetOutOfBounds},
		{"toc offset inside header", func(b []byte) []byte {
			binary.BigEndian.PutUint64(b[10:18], 4)
			return b
		}, ErrOffsetOutOfBounds},
		{"huge count", func(b []byte) []byte {
			toc := binary.BigEndian.Uint64(b[10:18])
			binary.BigEndian.PutUint64(b[toc+4:toc+12], 1<<40)
			return b
		}, ErrTOCDecode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			data := tt.mutate(bytes.Clone(valid))
			_, err := Open(testutil.NewMemSource(data))
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCorruptionIsIsolated(t *testing.T) {
	t.Parallel()

	data := build(t, []file{
		{"a", bytes.Repeat([]byte("a"), 64)},
		{"b", []byte("bravo bravo bravo")},
		{"c", []byte("charlie")},
	}, WriterWithCodec(compress.None{}))

	a := open(t, data)
	e, err := a.Lookup("b")
	require.NoError(t, err)
	data[e.Offset] ^= 0xff

	_, err = a.ReadFile("b")
	require.ErrorIs(t, err, ErrIntegrity)
	var pe *fs.PathError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "b", pe.Path)

	got, err := a.ReadFile("a")
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte("a"), 64), got)
	got, err = a.ReadFile("c")
	require.NoError(t, err)
	assert.Equal(t, "charlie", string(got))
}

func TestCorruptCompressedEntry(t *testing.T) {
	t.Parallel()

	content := bytes.Repeat([]byte("compressible "), 100)
	data := build(t, []file{{"z", content}, {"ok", []byte("fine")}})
	a := open(t, data)

	e, err := a.Lookup("z")
	require.NoError(t, err)
	require.True(t, e.Compressed())
	for i := e.Offset; i < e.Offset+e.CompressedSize; i++ {
		data[i] = 0xa5
	}

	_, err = a.ReadFile("z")
	require.Error(t, err)
	assert.True(t, errorIsAny(err, ErrDecompression, ErrIntegrity), "got %v", err)

	got, err := a.ReadFile("ok")
	require.NoError(t, err)
	assert.Equal(t, "fine", string(got))
}

func errorIsAny(err error, targets ...error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func TestEntryOutOfBounds(t *testing.T) {
	t.Parallel()

	data := build(t, []file{{"a", []byte("alpha")}}, WriterWithCodec(compress.None{}))
	toc := binary.BigEndian.Uint64(data[10:18])
	// toc prefix, name length, name, then offset
	offPos := toc + 20 + 4 + 1
	binary.BigEndian.PutUint64(data[offPos:offPos+8], toc-2)

	_, err := Open(testutil.NewMemSource(data))
	require.ErrorIs(t, err, ErrOffsetOutOfBounds)
	require.ErrorIs(t, err, ErrTOCDecode)
}

func TestLookupMissing(t *testing.T) {
	t.Parallel()

	a := open(t, build(t, []file{{"a", []byte("x")}}))
	_, err := a.Lookup("nope")
	require.ErrorIs(t, err, ErrEntryNotFound)
	_, err = a.ReadFile("nope")
	require.ErrorIs(t, err, ErrEntryNotFound)
	_, err = a.Raw("nope")
	require.ErrorIs(t, err, ErrEntryNotFound)
}

func TestScanAtOffset(t *testing.T) {
	t.Parallel()

	archive := build(t, []file{{"a.txt", []byte("hello")}, {"b.txt", []byte("world")}})
	prefix := bytes.Repeat([]byte("PREAMBLE"), 1000)
	data := append(bytes.Clone(prefix), archive...)
	data = append(data, []byte("trailing")...)

	_, err := Open(testutil.NewMemSource(data))
	require.ErrorIs(t, err, ErrMagicMismatch)

	a := open(t, data, WithScan(0))
	assert.Equal(t, int64(len(prefix)), a.Base())
	got, err := a.ReadFile("b.txt")
	require.NoError(t, err)
	assert.Equal(t, "world", string(got))

	b := open(t, data, WithBaseOffset(int64(len(prefix))))
	got, err = b.ReadFile("a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	_, err = Open(testutil.NewMemSource(data), WithScan(100))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSectionAndRaw(t *testing.T) {
	t.Parallel()

	big := bytes.Repeat([]byte("z"), 4096)
	a := open(t, build(t, []file{{"big", big}, {"small.jpg", []byte("jpeg")}},
		WriterWithSkipCompression(compress.DefaultSkip(0))))

	sr, err := a.Section("small.jpg")
	require.NoError(t, err)
	got, err := io.ReadAll(sr)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", string(got))

	_, err = a.Section("big")
	require.ErrorIs(t, err, ErrCompressedEntry)

	raw, err := a.Raw("big")
	require.NoError(t, err)
	e, err := a.Lookup("big")
	require.NoError(t, err)
	assert.Len(t, raw, int(e.CompressedSize))
	dec, err := a.Codec().Decompress(raw, int(e.Size))
	require.NoError(t, err)
	assert.Equal(t, big, dec)
}

func TestFileHeaderEntries(t *testing.T) {
	t.Parallel()

	// Build a raw archive, then insert a 4-byte file header before the
	// payload by hand: shift the payload and flag the entry.
	payload := []byte("payload!")
	orig := build(t, []file{{"f", payload}}, WriterWithCodec(compress.None{}))
	toc := binary.BigEndian.Uint64(orig[10:18])

	var data []byte
	data = append(data, orig[:HeaderSize]...)
	data = append(data, 0xde, 0xad, 0xbe, 0xef)
	data = append(data, orig[HeaderSize:toc]...)
	newTOC := len(data)
	data = append(data, orig[toc:]...)
	binary.BigEndian.PutUint64(data[10:18], uint64(newTOC))
	// toc size field
	binary.BigEndian.PutUint64(data[newTOC+12:newTOC+20], uint64(len(data)))
	info := newTOC + 20 + 4 + 1
	// flags is the fourth field of the entry record
	binary.BigEndian.PutUint64(data[info+24:info+32], FlagFileHeader)

	a := open(t, data)
	_, err := a.ReadFile("f")
	require.ErrorIs(t, err, ErrUnsupportedFeature)
	_, err = a.Open("f")
	require.ErrorIs(t, err, ErrUnsupportedFeature)

	parser := FileHeaderParserFunc(func(name string, r io.Reader) (int64, error) {
		var magic [4]byte
		if _, err := io.ReadFull(r, magic[:]); err != nil {
			return 0, err
		}
		return int64(len(magic)), nil
	})
	b := open(t, data, WithFileHeaderParser(parser))
	got, err := b.ReadFile("f")
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestMaxEntrySize(t *testing.T) {
	t.Parallel()

	a := open(t, build(t, []file{{"big", make([]byte, 2048)}}), WithMaxEntrySize(1024))
	_, err := a.ReadFile("big")
	require.ErrorIs(t, err, ErrSizeOverflow)

	for _, codec := range []compress.Codec{compress.S2{}, compress.Snappy{}, compress.NewZstd()} {
		t.Run(codec.Name(), func(t *testing.T) {
			t.Parallel()
			data := build(t, []file{{"big", make([]byte, 2048)}}, WriterWithCodec(codec))
			a := open(t, data, WithCodec(codec), WithMaxEntrySize(1024))
			_, err := a.Open("big")
			require.ErrorIs(t, err, ErrSizeOverflow)
		})
	}
}

func TestOpenFile(t *testing.T) {
	t.Parallel()

	path := t.TempDir() + "/test.depot"
	w, err := CreateFile(path)
	require.NoError(t, err)
	_, err = w.AppendBytes("note", []byte("on disk"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	a, err := OpenFile(path)
	require.NoError(t, err)
	defer a.Close()
	got, err := a.ReadFile("note")
	require.NoError(t, err)
	assert.Equal(t, "on disk", string(got))
}

func TestInfoAndDigest(t *testing.T) {
	t.Parallel()

	data := build(t, []file{
		{"a", bytes.Repeat([]byte("a"), 1000)},
		{"b", []byte("b")},
	}, WriterWithLevel(5))
	a := open(t, data)

	info := a.Info()
	assert.Equal(t, 2, info.Entries)
	assert.Equal(t, 1, info.Compressed)
	assert.Equal(t, uint64(1001), info.ContentSize)
	assert.Less(t, info.StoredSize, info.ContentSize)
	assert.Equal(t, uint64(len(data)), info.ArchiveSize)
	assert.Equal(t, int32(5), info.Level)
	assert.Equal(t, int32(5), a.DefaultLevel())
	assert.Less(t, info.Ratio(), 1.0)
	assert.Equal(t, fixedTime.Unix(), info.Newest.Unix())

	d, err := a.Digest()
	require.NoError(t, err)
	assert.Equal(t, "sha256", d.Algorithm().String())
	require.NoError(t, d.Validate())
}

package depot

import (
	"bytes"
	"io"
	"io/fs"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/depot/compress"
)

func fsFixture(t *testing.T, opts ...WriterOption) []byte {
	t.Helper()
	return build(t, []file{
		{"README", []byte("top level")},
		{"docs/guide.md", bytes.Repeat([]byte("guide "), 400)},
		{"docs/api/index.html", []byte("<html></html>")},
		{"src/main.go", []byte("package main\n")},
		{"src/util/strings.go", []byte("package util\n")},
	}, opts...)
}

func TestFSConformance(t *testing.T) {
	t.Parallel()

	a := open(t, fsFixture(t))
	require.NoError(t, fstest.TestFS(a,
		"README",
		"docs/guide.md",
		"docs/api/index.html",
		"src/main.go",
		"src/util/strings.go",
	))
}

func TestFSReadDir(t *testing.T) {
	t.Parallel()

	a := open(t, fsFixture(t))

	root, err := a.ReadDir(".")
	require.NoError(t, err)
	assert.Equal(t, []string{"README", "docs", "src"}, dirNames(root))
	assert.False(t, root[0].IsDir())
	assert.True(t, root[1].IsDir())

	docs, err := fs.ReadDir(a, "docs")
	require.NoError(t, err)
	assert.Equal(t, []string{"api", "guide.md"}, dirNames(docs))

	_, err = a.ReadDir("missing")
	require.ErrorIs(t, err, fs.ErrNotExist)
	_, err = a.ReadDir("README")
	require.Error(t, err)

	info, err := a.Stat("src/util")
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, "util", info.Name())

	info, err = a.Stat("docs/guide.md")
	require.NoError(t, err)
	assert.Equal(t, int64(2400), info.Size())
	assert.Equal(t, fixedTime.Unix(), info.ModTime().Unix())
	e, ok := info.Sys().(Entry)
	require.True(t, ok)
	assert.True(t, e.Compressed())
}

func dirNames(entries []fs.DirEntry) []string {
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return names
}

func TestFSOpenDirPaging(t *testing.T) {
	t.Parallel()

	a := open(t, fsFixture(t))
	f, err := a.Open(".")
	require.NoError(t, err)
	defer f.Close()

	dir, ok := f.(fs.ReadDirFile)
	require.True(t, ok)
	page, err := dir.ReadDir(2)
	require.NoError(t, err)
	assert.Equal(t, []string{"README", "docs"}, dirNames(page))
	page, err = dir.ReadDir(2)
	require.NoError(t, err)
	assert.Equal(t, []string{"src"}, dirNames(page))
	_, err = dir.ReadDir(2)
	require.ErrorIs(t, err, io.EOF)
}

func TestFSStreamingVerification(t *testing.T) {
	t.Parallel()

	for _, codec := range []compress.Codec{compress.None{}, compress.NewZstd()} {
		t.Run(codec.Name(), func(t *testing.T) {
			t.Parallel()
			content := bytes.Repeat([]byte("stream me "), 500)
			data := build(t, []file{{"f", content}}, WriterWithCodec(codec), WriterWithHash(nil))
			a := open(t, data, WithCodec(codec))

			f, err := a.Open("f")
			require.NoError(t, err)
			got, err := io.ReadAll(f)
			require.NoError(t, err)
			require.NoError(t, f.Close())
			assert.Equal(t, content, got)

			// Corrupt the hash in the toc; the content still decodes.
			e, err := a.Lookup("f")
			require.NoError(t, err)
			bad := open(t, withHash(t, data, e.Hash^1), WithCodec(codec))

			f, err = bad.Open("f")
			require.NoError(t, err)
			_, err = io.ReadAll(f)
			require.ErrorIs(t, err, ErrIntegrity)
			f.Close()

			f, err = bad.Open("f")
			require.NoError(t, err)
			_, err = f.Read(make([]byte, 10))
			require.NoError(t, err)
			require.ErrorIs(t, f.Close(), ErrIntegrity)

			unchecked := open(t, withHash(t, data, e.Hash^1), WithCodec(codec), WithVerifyOnClose(false))
			f, err = unchecked.Open("f")
			require.NoError(t, err)
			_, err = f.Read(make([]byte, 10))
			require.NoError(t, err)
			require.NoError(t, f.Close())
		})
	}
}

// withHash rewrites the hash of the only entry in a single-entry archive.
func withHash(t *testing.T, data []byte, h uint64) []byte {
	t.Helper()
	out := bytes.Clone(data)
	// the hash is the last field of the last entry
	for i := range 8 {
		out[len(out)-1-i] = byte(h >> (8 * i))
	}
	return out
}

func TestFSOpenErrors(t *testing.T) {
	t.Parallel()

	a := open(t, fsFixture(t))
	_, err := a.Open("/abs")
	require.ErrorIs(t, err, fs.ErrInvalid)
	_, err = a.Open("nope")
	require.ErrorIs(t, err, fs.ErrNotExist)

	f, err := a.Open("docs")
	require.NoError(t, err)
	_, err = f.Read(make([]byte, 1))
	require.Error(t, err)
	require.NoError(t, f.Close())

	f, err = a.Open("README")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	_, err = f.Read(make([]byte, 1))
	require.ErrorIs(t, err, fs.ErrClosed)
}

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(&stdout, &stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, defaultConfig(), cfg)

	path := filepath.Join(t.TempDir(), "depot.yaml")
	require.NoError(t, os.WriteFile(path, []byte("codec: s2\nlevel: 3\ncache_size: 1GiB\n"), 0o600))
	cfg, err = loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "s2", cfg.Codec)
	assert.Equal(t, int32(3), cfg.Level)
	assert.Equal(t, "xxh64", cfg.Hash)
	n, err := cfg.cacheBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(1<<30), n)

	require.NoError(t, os.WriteFile(path, []byte("unknown: true\n"), 0o600))
	_, err = loadConfig(path)
	require.Error(t, err)
}

func TestParseSize(t *testing.T) {
	t.Parallel()

	n, err := parseSize("x", "4KiB")
	require.NoError(t, err)
	assert.Equal(t, int64(4096), n)
	n, err = parseSize("x", "")
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = parseSize("x", "lots")
	require.Error(t, err)
}

func TestEntryName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a/b.txt", entryName("./a/b.txt"))
	assert.Equal(t, "abs/path", entryName("/abs/path"))
	assert.Equal(t, ".", entryName("."))
}

func TestCommandsEndToEnd(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "docs"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(src, "docs", "note.txt"), []byte("remember"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(src, "big.bin"), bytes.Repeat([]byte{7}, 8192), 0o600))

	work := t.TempDir()
	archive := filepath.Join(work, "test.depot")
	metricsFile := filepath.Join(work, "metrics.prom")

	out, err := run(t, "bake", archive, src, "--recurse", "--level", "3", "--metrics-file", metricsFile)
	require.NoError(t, err)
	assert.Contains(t, out, "2 entries")
	prom, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(prom), "depot_")

	prefix := entryName(src)
	out, err = run(t, "list", archive)
	require.NoError(t, err)
	assert.Contains(t, out, prefix+"/docs/note.txt")

	out, err = run(t, "show", archive, prefix+"/docs/note.txt")
	require.NoError(t, err)
	assert.Contains(t, out, "remember")

	out, err = run(t, "verify", archive)
	require.NoError(t, err)
	assert.Contains(t, out, "2 entries verified")

	out, err = run(t, "inspect", archive, "--digest")
	require.NoError(t, err)
	assert.Contains(t, out, "sha256:")

	out, err = run(t, "print-toc", archive)
	require.NoError(t, err)
	assert.Contains(t, out, "CompressionLevel: 3")

	dest := filepath.Join(work, "out")
	_, err = run(t, "extract", archive, "-o", dest)
	require.NoError(t, err)
	got, err := os.ReadFile(filepath.Join(dest, filepath.FromSlash(prefix), "docs", "note.txt"))
	require.NoError(t, err)
	assert.Equal(t, "remember", string(got))

	carved := filepath.Join(work, "carved")
	_, err = run(t, "carve", archive, prefix+"/big.bin", "-o", carved)
	require.NoError(t, err)
	raw, err := os.ReadFile(filepath.Join(carved, filepath.FromSlash(prefix), "big.bin.carved"))
	require.NoError(t, err)
	assert.Less(t, len(raw), 8192)

	out, err = run(t, "scan", archive)
	require.NoError(t, err)
	assert.Contains(t, out, "archive at offset 0")
}

func TestBakeDeferredMatchesSeekable(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	file := filepath.Join(src, "f.txt")
	require.NoError(t, os.WriteFile(file, []byte("same bytes"), 0o600))

	work := t.TempDir()
	seekable := filepath.Join(work, "a.depot")
	deferred := filepath.Join(work, "b.depot")
	_, err := run(t, "bake", seekable, file)
	require.NoError(t, err)
	_, err = run(t, "bake", deferred, file, "--deferred-header")
	require.NoError(t, err)

	a, err := os.ReadFile(seekable)
	require.NoError(t, err)
	b, err := os.ReadFile(deferred)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	out, err := run(t, "show", deferred, entryName(file))
	require.NoError(t, err)
	assert.Contains(t, out, "same bytes")
}

func TestBakeRejectsDirectoryWithoutRecurse(t *testing.T) {
	t.Parallel()

	_, err := run(t, "bake", filepath.Join(t.TempDir(), "x.depot"), t.TempDir())
	require.Error(t, err)
}

// Package disk caches remote archive bytes on the local filesystem.
//
// A BlockCache wraps a byte source and serves ReadAt from fixed-size blocks
// stored as files. It suits archives behind slow transports: the header and
// TOC are fetched once, and entries read repeatedly are served locally.
package disk

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/opencontainers/go-digest"
	"golang.org/x/sync/singleflight"
)

// Defaults for BlockCache and Wrap.
const (
	DefaultBlockSize        int64 = 64 << 10
	DefaultMaxBlocksPerRead       = 16

	defaultShardPrefixLen = 2
	defaultDirPerm        = 0o700
)

// Source is a byte source with a stable identity. SourceID must change when
// the underlying bytes change.
type Source interface {
	io.ReaderAt
	Size() int64
	SourceID() string
}

// BlockCache stores blocks of wrapped sources beneath a directory.
// It is safe for concurrent use.
type BlockCache struct {
	dir            string
	shardPrefixLen int
	dirPerm        os.FileMode
	maxBytes       int64
	logger         *slog.Logger

	bytes   atomic.Int64
	fetches singleflight.Group
	pruneMu sync.Mutex
}

// BlockCacheOption configures a BlockCache.
type BlockCacheOption func(*BlockCache)

// WithMaxBytes bounds the cache size. Older blocks are pruned to make room.
// Zero disables the limit.
func WithMaxBytes(n int64) BlockCacheOption {
	return func(c *BlockCache) {
		c.maxBytes = n
	}
}

// WithShardPrefixLen sets the number of key characters used for
// subdirectories. Zero disables sharding. Defaults to 2.
func WithShardPrefixLen(n int) BlockCacheOption {
	return func(c *BlockCache) {
		c.shardPrefixLen = n
	}
}

// WithDirPerm sets the permissions of created directories.
func WithDirPerm(mode os.FileMode) BlockCacheOption {
	return func(c *BlockCache) {
		c.dirPerm = mode
	}
}

// WithLogger sets the logger for cache events.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) BlockCacheOption {
	return func(c *BlockCache) {
		c.logger = logger
	}
}

// NewBlockCache opens or creates a block cache rooted at dir.
func NewBlockCache(dir string, opts ...BlockCacheOption) (*BlockCache, error) {
	if dir == "" {
		return nil, errors.New("block cache: dir is empty")
	}
	c := &BlockCache{
		dir:            dir,
		shardPrefixLen: defaultShardPrefixLen,
		dirPerm:        defaultDirPerm,
	}
	for _, opt := range opts {
		opt(c)
	}
	switch {
	case c.shardPrefixLen < 0:
		return nil, errors.New("block cache: shard prefix length must be >= 0")
	case c.maxBytes < 0:
		return nil, errors.New("block cache: max bytes must be >= 0")
	}
	if err := os.MkdirAll(dir, c.dirPerm); err != nil {
		return nil, err
	}
	size, err := dirSize(dir)
	if err != nil {
		return nil, err
	}
	c.bytes.Store(size)
	return c, nil
}

func (c *BlockCache) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.logger
}

// WrapOption configures a wrapped source.
type WrapOption func(*CachedSource)

// WithBlockSize sets the block size. Defaults to DefaultBlockSize.
func WithBlockSize(n int64) WrapOption {
	return func(s *CachedSource) {
		s.blockSize = n
	}
}

// WithMaxBlocksPerRead reads directly from the source, bypassing the cache,
// when a ReadAt spans more than n blocks. Zero disables the bypass.
func WithMaxBlocksPerRead(n int) WrapOption {
	return func(s *CachedSource) {
		s.maxBlocksPerRead = n
	}
}

// Wrap returns a source that reads src through the cache.
func (c *BlockCache) Wrap(src Source, opts ...WrapOption) (*CachedSource, error) {
	if src == nil {
		return nil, errors.New("block cache: source is nil")
	}
	s := &CachedSource{
		src:              src,
		cache:            c,
		sourceID:         src.SourceID(),
		blockSize:        DefaultBlockSize,
		maxBlocksPerRead: DefaultMaxBlocksPerRead,
	}
	for _, opt := range opts {
		opt(s)
	}
	switch {
	case s.sourceID == "":
		return nil, errors.New("block cache: source id is empty")
	case s.blockSize <= 0 || s.blockSize > 1<<30:
		return nil, fmt.Errorf("block cache: invalid block size %d", s.blockSize)
	case s.maxBlocksPerRead < 0:
		return nil, errors.New("block cache: max blocks per read must be >= 0")
	}
	return s, nil
}

// MaxBytes returns the size limit, or zero when unlimited.
func (c *BlockCache) MaxBytes() int64 {
	return c.maxBytes
}

// SizeBytes returns the bytes currently cached.
func (c *BlockCache) SizeBytes() int64 {
	return c.bytes.Load()
}

// Prune removes the oldest blocks until at most targetBytes remain and
// returns the number of bytes freed.
func (c *BlockCache) Prune(targetBytes int64) (int64, error) {
	c.pruneMu.Lock()
	defer c.pruneMu.Unlock()

	freed, remaining, err := pruneDir(c.dir, max(targetBytes, 0))
	if err != nil {
		return 0, err
	}
	c.bytes.Store(remaining)
	if freed > 0 {
		c.log().Debug("pruned block cache", "freed", freed, "remaining", remaining)
	}
	return freed, nil
}

// CachedSource reads a Source through a BlockCache.
type CachedSource struct {
	src              Source
	cache            *BlockCache
	sourceID         string
	blockSize        int64
	maxBlocksPerRead int
}

// Size returns the size of the wrapped source.
func (s *CachedSource) Size() int64 {
	return s.src.Size()
}

// SourceID returns the identity of the wrapped source.
func (s *CachedSource) SourceID() string {
	return s.sourceID
}

// ReadAt implements io.ReaderAt.
func (s *CachedSource) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if off < 0 {
		return 0, fmt.Errorf("read at %d: negative offset", off)
	}
	size := s.src.Size()
	if off >= size {
		return 0, io.EOF
	}
	want := min(int64(len(p)), size-off)

	first := off / s.blockSize
	last := (off + want - 1) / s.blockSize
	if s.maxBlocksPerRead > 0 && last-first+1 > int64(s.maxBlocksPerRead) {
		return s.src.ReadAt(p, off)
	}

	var n int64
	for idx := first; idx <= last; idx++ {
		start := idx * s.blockSize
		end := min(start+s.blockSize, size)
		block, err := s.cache.block(s.key(idx), end-start, func() ([]byte, error) {
			return s.fetch(start, end-start)
		})
		if err != nil {
			return int(n), err
		}
		from := max(off, start)
		to := min(off+want, end)
		n += int64(copy(p[from-off:to-off], block[from-start:to-start]))
	}
	if want < int64(len(p)) {
		return int(n), io.EOF
	}
	return int(n), nil
}

// key derives the block's cache key from the source identity, block size
// and block index.
func (s *CachedSource) key(idx int64) digest.Digest {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(s.blockSize)) //nolint:gosec // validated positive
	binary.BigEndian.PutUint64(buf[8:], uint64(idx))         //nolint:gosec // never negative
	return digest.FromBytes(append([]byte(s.sourceID), buf[:]...))
}

func (s *CachedSource) fetch(off, length int64) ([]byte, error) {
	buf := make([]byte, length)
	n, err := s.src.ReadAt(buf, off)
	if int64(n) == length {
		return buf, nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return nil, io.ErrUnexpectedEOF
	}
	return nil, err
}

// block returns the cached block for key, fetching and storing it on a
// miss. Concurrent misses for one key share a single fetch.
func (c *BlockCache) block(key digest.Digest, length int64, fetch func() ([]byte, error)) ([]byte, error) {
	v, err, _ := c.fetches.Do(key.Encoded(), func() (any, error) {
		path := c.path(key)
		data, err := os.ReadFile(path) //nolint:gosec // path is derived from a digest
		switch {
		case err == nil && int64(len(data)) == length:
			return data, nil
		case err == nil:
			c.bytes.Add(-int64(len(data)))
			_ = os.Remove(path) //nolint:errcheck // replaced below
		case !errors.Is(err, fs.ErrNotExist):
			return nil, err
		}

		data, err = fetch()
		if err != nil {
			return nil, err
		}
		if err := c.store(path, data); err != nil {
			c.log().Debug("block cache write failed", "key", key, "error", err)
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil //nolint:forcetypeassert // Do returns what the closure returned
}

// store writes a block atomically. Failures leave the cache unchanged.
func (c *BlockCache) store(path string, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if ok, err := c.reserve(int64(len(data))); err != nil || !ok {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, c.dirPerm); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "block-*")
	if err != nil {
		return err
	}
	_, werr := tmp.Write(data)
	if err := errors.Join(werr, tmp.Close()); err != nil {
		_ = os.Remove(tmp.Name()) //nolint:errcheck // best-effort cleanup
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name()) //nolint:errcheck // best-effort cleanup
		return err
	}
	c.bytes.Add(int64(len(data)))
	return nil
}

func (c *BlockCache) path(key digest.Digest) string {
	name := key.Encoded()
	if c.shardPrefixLen <= 0 {
		return filepath.Join(c.dir, name)
	}
	return filepath.Join(c.dir, name[:min(c.shardPrefixLen, len(name))], name)
}

// reserve makes room for need bytes, reporting false when the block cannot
// fit at all.
func (c *BlockCache) reserve(need int64) (bool, error) {
	if c.maxBytes <= 0 {
		return true, nil
	}
	if need > c.maxBytes {
		return false, nil
	}
	if c.SizeBytes()+need <= c.maxBytes {
		return true, nil
	}
	if _, err := c.Prune(c.maxBytes - need); err != nil {
		return false, err
	}
	return c.SizeBytes()+need <= c.maxBytes, nil
}

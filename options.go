package depot

import (
	"log/slog"

	"github.com/meigma/depot/checksum"
	"github.com/meigma/depot/compress"
	"github.com/meigma/depot/metrics"
)

// Default limits applied by Open.
const (
	// DefaultMaxEntrySize bounds the decoded size of a single entry read
	// into memory.
	DefaultMaxEntrySize = 1 << 30

	// DefaultMaxTOCSize bounds the encoded TOC length.
	DefaultMaxTOCSize = 256 << 20
)

// Option configures an Archive.
type Option func(*Archive)

// WithCodec sets the codec used to decode compressed entries. It must match
// the codec the archive was written with. Defaults to zstd.
func WithCodec(c compress.Codec) Option {
	return func(a *Archive) {
		a.codec = c
	}
}

// WithHash sets the digest used to verify entries. It must match the digest
// the archive was written with. Defaults to XXH64.
func WithHash(fn checksum.HashFunc) Option {
	return func(a *Archive) {
		a.hash = fn
	}
}

// WithScan searches the source for the archive header instead of expecting
// it at the base offset. At most budget bytes are searched; budget <= 0
// searches the whole source.
func WithScan(budget int64) Option {
	return func(a *Archive) {
		a.scan = true
		a.scanBudget = budget
	}
}

// WithBaseOffset sets the position of the archive header within the source,
// or the position a scan starts from.
func WithBaseOffset(off int64) Option {
	return func(a *Archive) {
		a.base = off
	}
}

// WithFileHeaderParser enables entries flagged with FlagFileHeader. Without
// a parser, such entries fail with ErrUnsupportedFeature.
func WithFileHeaderParser(p FileHeaderParser) Option {
	return func(a *Archive) {
		a.fileHeaders = p
	}
}

// WithMaxEntrySize limits the size of entries read into memory, both stored
// and decoded. Zero disables the limit.
func WithMaxEntrySize(n uint64) Option {
	return func(a *Archive) {
		a.maxEntrySize = n
	}
}

// WithMaxTOCSize limits the encoded TOC length accepted by Open.
// Zero disables the limit.
func WithMaxTOCSize(n uint64) Option {
	return func(a *Archive) {
		a.maxTOCSize = n
	}
}

// WithVerifyOnClose controls whether closing a partially read file drains
// it to verify the digest. Enabled by default.
func WithVerifyOnClose(enabled bool) Option {
	return func(a *Archive) {
		a.verifyOnClose = enabled
	}
}

// WithLevelMeaning selects how the TOC compression level is interpreted.
func WithLevelMeaning(m TOCLevelMeaning) Option {
	return func(a *Archive) {
		a.levelMeaning = m
	}
}

// WithLogger sets the logger for archive operations.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Archive) {
		a.logger = logger
	}
}

// WithMetrics records reads in c.
func WithMetrics(c *metrics.Collector) Option {
	return func(a *Archive) {
		a.metrics = c
	}
}

package depot

import (
	"log/slog"
	"time"

	"github.com/meigma/depot/checksum"
	"github.com/meigma/depot/compress"
	"github.com/meigma/depot/metrics"
)

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WriterWithLevel sets the default compression level, recorded in the TOC.
// Zero selects the codec's default.
func WriterWithLevel(level int32) WriterOption {
	return func(w *Writer) {
		w.level = level
	}
}

// WriterWithCodec sets the codec used for compressible entries. Readers must
// be opened with the same codec. Defaults to zstd.
func WriterWithCodec(c compress.Codec) WriterOption {
	return func(w *Writer) {
		w.codec = c
	}
}

// WriterWithHash sets the content digest. Defaults to XXH64.
func WriterWithHash(fn checksum.HashFunc) WriterOption {
	return func(w *Writer) {
		w.hash = fn
	}
}

// WriterWithClock sets the time source for default entry timestamps.
// A fixed clock makes the output byte-for-byte reproducible.
func WriterWithClock(now func() time.Time) WriterOption {
	return func(w *Writer) {
		w.now = now
	}
}

// WriterWithSkipCompression adds predicates that store matching entries raw.
// If any predicate returns true, compression is skipped for that entry.
func WriterWithSkipCompression(fns ...compress.SkipFunc) WriterOption {
	return func(w *Writer) {
		w.skip = append(w.skip, fns...)
	}
}

// WriterWithProgress sets a callback invoked after each append and during
// Finalize.
func WriterWithProgress(fn ProgressFunc) WriterOption {
	return func(w *Writer) {
		w.progress = fn
	}
}

// WriterWithLogger sets the logger for writer operations.
// If not set, logging is disabled.
func WriterWithLogger(logger *slog.Logger) WriterOption {
	return func(w *Writer) {
		w.logger = logger
	}
}

// WriterWithMetrics records appends in c.
func WriterWithMetrics(c *metrics.Collector) WriterOption {
	return func(w *Writer) {
		w.metrics = c
	}
}

// WriterWithDeferredHeader skips writing the header. Payloads are written
// as if the header preceded them, and Finalize makes the final header
// available from HeaderBytes for the caller to place in front. This is
// implied for sinks that cannot seek.
func WriterWithDeferredHeader() WriterOption {
	return func(w *Writer) {
		w.deferred = true
	}
}

// WriterWithMaxEntrySize limits how much of a compressible entry is
// buffered in memory. Zero disables the limit. Raw entries are streamed and
// not limited.
func WriterWithMaxEntrySize(n uint64) WriterOption {
	return func(w *Writer) {
		w.maxEntrySize = n
	}
}

// AppendOption configures a single Append.
type AppendOption func(*appendConfig)

type appendConfig struct {
	created  time.Time
	modified time.Time
	level    int32
	raw      bool
}

// AppendWithTimestamps sets the entry's created and modified times. Zero
// values fall back to the writer's clock.
func AppendWithTimestamps(created, modified time.Time) AppendOption {
	return func(c *appendConfig) {
		c.created = created
		c.modified = modified
	}
}

// AppendWithLevel overrides the compression level for one entry.
func AppendWithLevel(level int32) AppendOption {
	return func(c *appendConfig) {
		c.level = level
	}
}

// AppendWithoutCompression stores the entry raw and streams it to the sink
// without buffering.
func AppendWithoutCompression() AppendOption {
	return func(c *appendConfig) {
		c.raw = true
	}
}

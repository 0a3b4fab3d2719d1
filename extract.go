package depot

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/meigma/depot/internal/batch"
)

// DefaultReadAheadBytes bounds the payload bytes buffered by concurrent
// extract and verify workers.
const DefaultReadAheadBytes = 64 << 20

// ExtractOption configures Extract.
type ExtractOption func(*extractConfig)

type extractConfig struct {
	names         []string
	prefix        string
	overwrite     bool
	preserveTimes bool
	workers       int
	progress      ProgressFunc
}

// ExtractNames limits extraction to the named entries. Unknown names fail
// with ErrEntryNotFound before anything is written.
func ExtractNames(names ...string) ExtractOption {
	return func(c *extractConfig) {
		c.names = append(c.names, names...)
	}
}

// ExtractPrefix limits extraction to entries whose names start with prefix.
func ExtractPrefix(prefix string) ExtractOption {
	return func(c *extractConfig) {
		c.prefix = prefix
	}
}

// ExtractWithOverwrite replaces existing files. By default they are skipped.
func ExtractWithOverwrite() ExtractOption {
	return func(c *extractConfig) {
		c.overwrite = true
	}
}

// ExtractWithPreserveTimes sets each file's modification time from its entry.
func ExtractWithPreserveTimes() ExtractOption {
	return func(c *extractConfig) {
		c.preserveTimes = true
	}
}

// ExtractWithWorkers sets the number of concurrent workers.
// Zero uses GOMAXPROCS; negative values force serial processing.
func ExtractWithWorkers(n int) ExtractOption {
	return func(c *extractConfig) {
		c.workers = n
	}
}

// ExtractWithProgress sets a callback invoked after each entry. It is called
// from worker goroutines.
func ExtractWithProgress(fn ProgressFunc) ExtractOption {
	return func(c *extractConfig) {
		c.progress = fn
	}
}

// ExtractStats summarizes an Extract call.
type ExtractStats struct {
	// Extracted is the number of files written.
	Extracted int

	// Skipped is the number of entries left alone because the file existed.
	Skipped int

	// Bytes is the total decoded size of the written files.
	Bytes uint64
}

// Extract writes entries beneath dir, creating it and any parent
// directories. Each file is verified before it is renamed into place, so a
// corrupt entry never leaves a file behind. Names that are not valid
// relative slash paths, or that would escape dir, fail with fs.ErrInvalid.
//
// Extraction stops at the first failure; the error is an *fs.PathError
// naming the entry.
func (a *Archive) Extract(ctx context.Context, dir string, opts ...ExtractOption) (ExtractStats, error) {
	var cfg extractConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	entries, err := a.selectEntries(cfg.names, cfg.prefix)
	if err != nil {
		return ExtractStats{}, err
	}

	sinkOpts := []batch.FileSinkOption{
		batch.WithOverwrite(cfg.overwrite),
		batch.WithPreserveTimes(cfg.preserveTimes),
	}
	sink, err := batch.NewFileSink(dir, sinkOpts...)
	if err != nil {
		return ExtractStats{}, err
	}
	defer sink.Close()

	var done atomic.Int64
	total := len(entries)
	p := a.processor("extract",
		batch.WithWorkers(cfg.workers),
		batch.WithResultFunc(func(e *Entry, n uint64, err error) {
			if err != nil || cfg.progress == nil {
				return
			}
			cfg.progress(ProgressEvent{
				Stage:        StageExtracting,
				Name:         e.Name,
				BytesDone:    n,
				BytesTotal:   e.Size,
				EntriesDone:  int(done.Add(1)),
				EntriesTotal: total,
			})
		}),
	)
	stats, err := p.Process(ctx, entries, sink)
	out := ExtractStats{Extracted: stats.Processed, Skipped: stats.Skipped, Bytes: stats.Bytes}
	if err != nil {
		return out, err
	}
	a.log().Info("extracted archive",
		"dir", dir,
		"files", out.Extracted,
		"skipped", out.Skipped,
		"bytes", out.Bytes)
	return out, nil
}

// VerifyResult is the outcome of verifying one entry.
type VerifyResult struct {
	Name string

	// Err is nil for a valid entry and otherwise wraps ErrIntegrity,
	// ErrDecompression, ErrOffsetOutOfBounds, ErrTruncated or
	// ErrUnsupportedFeature.
	Err error
}

// VerifyAll decodes and checks every entry. A failing entry does not stop
// the others: the results cover all entries in name order and the error
// joins every failure.
func (a *Archive) VerifyAll(ctx context.Context, opts ...ExtractOption) ([]VerifyResult, error) {
	var cfg extractConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	entries, err := a.selectEntries(cfg.names, cfg.prefix)
	if err != nil {
		return nil, err
	}

	results := make([]VerifyResult, len(entries))
	slot := make(map[string]int, len(entries))
	for i := range entries {
		results[i].Name = entries[i].Name
		slot[entries[i].Name] = i
	}

	var done atomic.Int64
	p := a.processor("verify",
		batch.WithWorkers(cfg.workers),
		batch.WithContinueOnError(),
		batch.WithResultFunc(func(e *Entry, n uint64, err error) {
			results[slot[e.Name]].Err = err
			if cfg.progress != nil {
				cfg.progress(ProgressEvent{
					Stage:        StageVerifying,
					Name:         e.Name,
					BytesDone:    n,
					BytesTotal:   e.Size,
					EntriesDone:  int(done.Add(1)),
					EntriesTotal: len(entries),
				})
			}
		}),
	)
	_, err = p.Process(ctx, entries, batch.DiscardSink{})
	return results, err
}

func (a *Archive) processor(op string, opts ...batch.Option) *batch.Processor {
	opts = append([]batch.Option{
		batch.WithOp(op),
		batch.WithReadAheadBytes(DefaultReadAheadBytes),
		batch.WithLogger(a.logger),
	}, opts...)
	return batch.NewProcessor(a.src, a.locate, a.adapter, opts...)
}

// selectEntries resolves names or a prefix to entries, defaulting to all.
func (a *Archive) selectEntries(names []string, prefix string) ([]Entry, error) {
	if len(names) == 0 {
		return slices.Collect(a.idx.WithPrefix(prefix)), nil
	}
	out := make([]Entry, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		e, ok := a.idx.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("extract %s: %w", name, ErrEntryNotFound)
		}
		if strings.HasPrefix(e.Name, prefix) {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(x, y Entry) int { return strings.Compare(x.Name, y.Name) })
	return out, nil
}

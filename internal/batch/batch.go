// Package batch reads, decodes and verifies many entries at once.
//
// Entries are sorted by stored offset and adjacent payloads are fetched with
// a single ranged read, which keeps remote sources from issuing one request
// per entry. Decoded content is handed to a Sink.
package batch

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"runtime"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/meigma/depot/internal/format"
	"github.com/meigma/depot/internal/payload"
	"github.com/meigma/depot/internal/sizing"
)

// maxGroupBytes caps a single coalesced read.
const maxGroupBytes = 8 << 20

// Locator resolves an entry to the absolute byte range of its stored
// payload within the source.
type Locator func(e *format.Entry) (off, length int64, err error)

// ResultFunc observes the outcome of every processed entry.
// It may be called concurrently.
type ResultFunc func(e *format.Entry, n uint64, err error)

// Processor decodes entries from a source and feeds them to a Sink.
type Processor struct {
	source          io.ReaderAt
	locate          Locator
	adapter         *payload.Adapter
	workers         int
	readAheadBytes  int64
	continueOnError bool
	onResult        ResultFunc
	op              string
	logger          *slog.Logger
}

// Option configures a Processor.
type Option func(*Processor)

// WithWorkers sets the number of groups processed concurrently.
// Zero uses GOMAXPROCS; negative values force serial processing.
func WithWorkers(n int) Option {
	return func(p *Processor) {
		p.workers = n
	}
}

// WithReadAheadBytes bounds the bytes buffered by in-flight groups.
// Zero disables the bound.
func WithReadAheadBytes(n int64) Option {
	return func(p *Processor) {
		p.readAheadBytes = max(n, 0)
	}
}

// WithContinueOnError keeps processing after an entry fails. Failures are
// reported through the ResultFunc and joined into the returned error.
func WithContinueOnError() Option {
	return func(p *Processor) {
		p.continueOnError = true
	}
}

// WithResultFunc registers a per-entry observer.
func WithResultFunc(fn ResultFunc) Option {
	return func(p *Processor) {
		p.onResult = fn
	}
}

// WithOp sets the operation name carried by per-entry errors.
func WithOp(op string) Option {
	return func(p *Processor) {
		p.op = op
	}
}

// WithLogger sets the logger used for debug output.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// NewProcessor returns a Processor reading from source.
func NewProcessor(source io.ReaderAt, locate Locator, adapter *payload.Adapter, opts ...Option) *Processor {
	p := &Processor{
		source:  source,
		locate:  locate,
		adapter: adapter,
		op:      "read",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Processor) log() *slog.Logger {
	if p.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return p.logger
}

// Stats summarizes a Process call.
type Stats struct {
	Processed int
	Skipped   int
	Failed    int
	Bytes     uint64
}

type item struct {
	entry *format.Entry
	off   int64
	len   int64
}

type group struct {
	start int64
	end   int64
	items []item
}

// Process decodes every entry accepted by sink and writes it there.
func (p *Processor) Process(ctx context.Context, entries []format.Entry, sink Sink) (Stats, error) {
	var (
		mu    sync.Mutex
		stats Stats
		errs  []error
	)
	record := func(e *format.Entry, n uint64, err error) error {
		mu.Lock()
		defer mu.Unlock()
		if p.onResult != nil {
			p.onResult(e, n, err)
		}
		if err == nil {
			stats.Processed++
			stats.Bytes += n
			return nil
		}
		stats.Failed++
		err = &fs.PathError{Op: p.op, Path: e.Name, Err: err}
		if p.continueOnError {
			errs = append(errs, err)
			return nil
		}
		return err
	}

	items := make([]item, 0, len(entries))
	for i := range entries {
		e := &entries[i]
		if !sink.ShouldProcess(e) {
			stats.Skipped++
			continue
		}
		off, n, err := p.locate(e)
		if err != nil {
			if rerr := record(e, 0, err); rerr != nil {
				return stats, rerr
			}
			continue
		}
		items = append(items, item{entry: e, off: off, len: n})
	}
	if len(items) == 0 {
		return stats, errors.Join(errs...)
	}

	slices.SortFunc(items, func(a, b item) int {
		return cmp.Compare(a.off, b.off)
	})
	groups := coalesce(items)
	p.log().Debug("batch processing", "entries", len(items), "groups", len(groups))

	var budget *semaphore.Weighted
	if p.readAheadBytes > 0 {
		budget = semaphore.NewWeighted(p.readAheadBytes)
	}

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(p.workerCount())
	for _, g := range groups {
		weight := min(g.end-g.start, p.readAheadBytes)
		if budget != nil {
			if err := budget.Acquire(gctx, weight); err != nil {
				break
			}
		}
		eg.Go(func() error {
			if budget != nil {
				defer budget.Release(weight)
			}
			return p.processGroup(gctx, g, sink, record)
		})
	}
	if err := eg.Wait(); err != nil {
		return stats, err
	}
	if err := ctx.Err(); err != nil {
		return stats, err
	}
	return stats, errors.Join(errs...)
}

func (p *Processor) workerCount() int {
	switch {
	case p.workers < 0:
		return 1
	case p.workers == 0:
		return runtime.GOMAXPROCS(0)
	default:
		return p.workers
	}
}

// coalesce groups sorted items whose stored ranges touch.
func coalesce(items []item) []group {
	groups := make([]group, 0, len(items))
	cur := group{start: items[0].off, end: items[0].off + items[0].len, items: items[:1:1]}
	for _, it := range items[1:] {
		end := it.off + it.len
		if it.off == cur.end && end-cur.start <= maxGroupBytes {
			cur.end = end
			cur.items = append(cur.items, it)
			continue
		}
		groups = append(groups, cur)
		cur = group{start: it.off, end: end, items: []item{it}}
	}
	return append(groups, cur)
}

func (p *Processor) processGroup(ctx context.Context, g group, sink Sink, record func(*format.Entry, uint64, error) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := p.readRange(g.start, g.end-g.start)
	for _, it := range g.items {
		var n uint64
		entryErr := err
		if entryErr == nil {
			local := it.off - g.start
			n, entryErr = p.processEntry(it.entry, data[local:local+it.len], sink)
		}
		if rerr := record(it.entry, n, entryErr); rerr != nil {
			return rerr
		}
	}
	return nil
}

func (p *Processor) readRange(off, length int64) ([]byte, error) {
	size, err := sizing.ToInt(uint64(length), format.ErrSizeOverflow) //nolint:gosec // length is never negative
	if err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	n, err := p.source.ReadAt(buf, off)
	if n == size {
		return buf, nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: read %d of %d bytes at %d", format.ErrTruncated, n, size, off)
	}
	return nil, err
}

// processEntry streams one decoded entry into the sink, discarding the
// output when decoding or verification fails.
func (p *Processor) processEntry(e *format.Entry, stored []byte, sink Sink) (uint64, error) {
	r, err := p.adapter.NewReader(e.EntryInfo, bytes.NewReader(stored))
	if err != nil {
		return 0, err
	}
	defer r.Close()

	w, err := sink.Writer(e)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(w, r)
	if err != nil {
		_ = w.Discard() //nolint:errcheck // best-effort cleanup
		return 0, err
	}
	if err := w.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return uint64(n), nil //nolint:gosec // n is never negative
}

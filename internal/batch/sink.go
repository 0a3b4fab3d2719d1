package batch

import (
	"io"

	"github.com/meigma/depot/internal/format"
)

// Sink receives decoded and verified entry content.
type Sink interface {
	// ShouldProcess returns false to skip an entry.
	ShouldProcess(e *format.Entry) bool

	// Writer returns a destination for the entry's content. The processor
	// calls Commit once the content verified, or Discard otherwise.
	Writer(e *format.Entry) (Committer, error)
}

// Committer is a writer whose output only becomes visible on Commit.
type Committer interface {
	io.Writer
	Commit() error
	Discard() error
}

// DiscardSink accepts every entry and drops its content. Verification still
// runs, so it is used to check an archive without writing anything.
type DiscardSink struct{}

// ShouldProcess implements Sink.
func (DiscardSink) ShouldProcess(*format.Entry) bool { return true }

// Writer implements Sink.
func (DiscardSink) Writer(*format.Entry) (Committer, error) { return discard{}, nil }

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
func (discard) Commit() error               { return nil }
func (discard) Discard() error              { return nil }


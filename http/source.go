// Package http reads depot archives over HTTP range requests.
//
// A Source probes the remote once for its size and validators, then serves
// every ReadAt with a single ranged GET guarded by If-Match, so a remote
// that changes underneath an open archive fails loudly instead of mixing
// bytes from two versions.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	nethttp "net/http"
	"strconv"
	"strings"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/depot/metrics"
)

var (
	// ErrRangeUnsupported is returned when the server ignores Range headers.
	ErrRangeUnsupported = errors.New("http: range requests not supported")

	// ErrModified is returned when the remote content changed after the
	// source was opened.
	ErrModified = errors.New("http: remote content changed")
)

// Source implements random access over HTTP. It satisfies depot.ByteSource
// and the disk cache's Source. It is safe for concurrent use.
type Source struct {
	url          string
	client       *nethttp.Client
	headers      nethttp.Header
	metrics      *metrics.Collector
	logger       *slog.Logger
	size         int64
	etag         string
	lastModified string
}

// Option configures a Source.
type Option func(*Source)

// WithClient sets the HTTP client used for requests.
func WithClient(client *nethttp.Client) Option {
	return func(s *Source) {
		s.client = client
	}
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) Option {
	return func(s *Source) {
		if s.headers == nil {
			s.headers = make(nethttp.Header)
		}
		s.headers.Add(key, value)
	}
}

// WithMetrics counts and times requests in c.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Source) {
		s.metrics = c
	}
}

// WithLogger sets the logger for request events.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Source) {
		s.logger = logger
	}
}

// NewSource probes url and returns a Source for it. ctx bounds the probe
// only; use ReadAtContext or the client's timeouts to bound later reads.
func NewSource(ctx context.Context, url string, opts ...Option) (*Source, error) {
	s := &Source{
		url:    url,
		client: nethttp.DefaultClient,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = nethttp.DefaultClient
	}
	if s.metrics != nil {
		instrumented := *s.client
		instrumented.Transport = s.metrics.InstrumentRoundTripper(s.client.Transport)
		s.client = &instrumented
	}
	if err := s.probe(ctx); err != nil {
		return nil, fmt.Errorf("probe %s: %w", url, err)
	}
	s.log().Debug("opened http source", "url", url, "size", s.size, "etag", s.etag)
	return s, nil
}

func (s *Source) log() *slog.Logger {
	if s.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.logger
}

// Size returns the length of the remote content.
func (s *Source) Size() int64 {
	return s.size
}

// URL returns the remote location.
func (s *Source) URL() string {
	return s.url
}

// SourceID identifies the remote content by URL and validators.
func (s *Source) SourceID() string {
	id := digest.FromString(strings.Join([]string{s.url, s.etag, s.lastModified, strconv.FormatInt(s.size, 10)}, "\n"))
	return "http:" + id.String()
}

// ReadAt implements io.ReaderAt with one range request per call.
func (s *Source) ReadAt(p []byte, off int64) (int, error) {
	return s.ReadAtContext(context.Background(), p, off)
}

// ReadAtContext is ReadAt with a per-request context.
func (s *Source) ReadAtContext(ctx context.Context, p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if off < 0 {
		return 0, fmt.Errorf("read at %d: negative offset", off)
	}
	if off >= s.size {
		return 0, io.EOF
	}
	want := int(min(int64(len(p)), s.size-off))

	resp, err := s.get(ctx, off, off+int64(want)-1)
	if err != nil {
		return 0, err
	}
	defer drain(resp)

	n, err := io.ReadFull(resp.Body, p[:want])
	if err != nil {
		return n, fmt.Errorf("read range at %d: %w", off, err)
	}
	if want < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// probe learns the size and validators with HEAD, then confirms range
// support with a one-byte GET.
func (s *Source) probe(ctx context.Context) error {
	headSize := int64(-1)
	if req, err := s.newRequest(ctx, nethttp.MethodHead); err == nil {
		if resp, err := s.client.Do(req); err == nil {
			if resp.StatusCode == nethttp.StatusOK {
				headSize = resp.ContentLength
				s.etag = resp.Header.Get("ETag")
				s.lastModified = resp.Header.Get("Last-Modified")
			}
			drain(resp)
		}
	}

	resp, err := s.get(ctx, 0, 0)
	if err != nil {
		return err
	}
	defer drain(resp)

	total, err := parseContentRange(resp.Header.Get("Content-Range"))
	if err != nil {
		return err
	}
	if headSize >= 0 && headSize != total {
		return fmt.Errorf("content size mismatch: head=%d range=%d", headSize, total)
	}
	if s.etag == "" {
		s.etag = resp.Header.Get("ETag")
	}
	if s.lastModified == "" {
		s.lastModified = resp.Header.Get("Last-Modified")
	}
	s.size = total
	return nil
}

// get requests bytes [first, last] and returns a 206 response.
func (s *Source) get(ctx context.Context, first, last int64) (*nethttp.Response, error) {
	req, err := s.newRequest(ctx, nethttp.MethodGet)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", first, last))

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case nethttp.StatusPartialContent:
		return resp, nil
	case nethttp.StatusOK:
		err = ErrRangeUnsupported
	case nethttp.StatusPreconditionFailed:
		err = ErrModified
	case nethttp.StatusRequestedRangeNotSatisfiable:
		err = io.EOF
	default:
		err = fmt.Errorf("range request failed: %s", resp.Status)
	}
	drain(resp)
	return nil, err
}

func (s *Source) newRequest(ctx context.Context, method string) (*nethttp.Request, error) {
	req, err := nethttp.NewRequestWithContext(ctx, method, s.url, nil)
	if err != nil {
		return nil, err
	}
	for key, values := range s.headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "identity")
	}
	if method == nethttp.MethodGet {
		if s.etag != "" {
			req.Header.Set("If-Match", s.etag)
		} else if s.lastModified != "" {
			req.Header.Set("If-Unmodified-Since", s.lastModified)
		}
	}
	return req, nil
}

func drain(resp *nethttp.Response) {
	_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // connection reuse only
	_ = resp.Body.Close()                 //nolint:errcheck // nothing to do
}

// parseContentRange returns the complete length from a Content-Range value
// of the form "bytes first-last/length".
func parseContentRange(value string) (int64, error) {
	rangeSpec, ok := strings.CutPrefix(strings.TrimSpace(value), "bytes ")
	if !ok {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	_, length, ok := strings.Cut(rangeSpec, "/")
	if !ok || length == "*" {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	size, err := strconv.ParseInt(length, 10, 64)
	if err != nil || size < 0 {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	return size, nil
}

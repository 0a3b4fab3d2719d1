// Package metrics exposes Prometheus instrumentation for depot readers,
// writers and remote sources.
//
// A nil *Collector is valid and records nothing, so callers can thread an
// optional collector through without checks.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meigma/depot/internal/format"
)

var buckets = []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5}

// Collector holds the depot metric vectors.
type Collector struct {
	opens       *prometheus.CounterVec
	reads       *prometheus.CounterVec
	readBytes   prometheus.Counter
	readSeconds prometheus.Histogram
	appends     *prometheus.CounterVec
	appendBytes *prometheus.CounterVec
	finalized   prometheus.Counter
	httpCount   *prometheus.CounterVec
	httpSeconds *prometheus.HistogramVec
}

// New creates a Collector and registers its metrics with reg.
// A nil reg creates unregistered metrics.
func New(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		opens: f.NewCounterVec(prometheus.CounterOpts{
			Name: "depot_archive_opens_total",
			Help: "Archives opened, by result",
		}, []string{"result"}),
		reads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "depot_entry_reads_total",
			Help: "Entry reads, by result",
		}, []string{"result"}),
		readBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "depot_entry_read_bytes_total",
			Help: "Decoded bytes returned by entry reads",
		}),
		readSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "depot_entry_read_seconds",
			Help:    "Latency of whole-entry reads",
			Buckets: buckets,
		}),
		appends: f.NewCounterVec(prometheus.CounterOpts{
			Name: "depot_entries_appended_total",
			Help: "Entries appended by writers, by storage mode",
		}, []string{"mode"}),
		appendBytes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "depot_appended_bytes_total",
			Help: "Bytes appended by writers, original or stored",
		}, []string{"kind"}),
		finalized: f.NewCounter(prometheus.CounterOpts{
			Name: "depot_archives_finalized_total",
			Help: "Archives finalized by writers",
		}),
		httpCount: f.NewCounterVec(prometheus.CounterOpts{
			Name: "depot_http_requests_total",
			Help: "HTTP requests issued by remote sources",
		}, []string{"code", "method"}),
		httpSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "depot_http_request_seconds",
			Help:    "Latency of HTTP requests issued by remote sources",
			Buckets: buckets,
		}, []string{"code", "method"}),
	}
}

func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, format.ErrEntryNotFound):
		return "not_found"
	case errors.Is(err, format.ErrIntegrity):
		return "integrity"
	case errors.Is(err, format.ErrDecompression):
		return "decompression"
	case errors.Is(err, format.ErrUnsupportedFeature):
		return "unsupported"
	default:
		return "error"
	}
}

// ArchiveOpened records the outcome of opening an archive.
func (c *Collector) ArchiveOpened(err error) {
	if c == nil {
		return
	}
	c.opens.WithLabelValues(result(err)).Inc()
}

// EntryRead records a whole-entry read that started at start.
func (c *Collector) EntryRead(start time.Time, n int, err error) {
	if c == nil {
		return
	}
	c.reads.WithLabelValues(result(err)).Inc()
	if err == nil {
		c.readBytes.Add(float64(n))
		c.readSeconds.Observe(time.Since(start).Seconds())
	}
}

// EntryAppended records an appended entry and its sizes.
func (c *Collector) EntryAppended(size, stored uint64, compressed bool) {
	if c == nil {
		return
	}
	mode := "raw"
	if compressed {
		mode = "compressed"
	}
	c.appends.WithLabelValues(mode).Inc()
	c.appendBytes.WithLabelValues("original").Add(float64(size))
	c.appendBytes.WithLabelValues("stored").Add(float64(stored))
}

// ArchiveFinalized records a successful Finalize.
func (c *Collector) ArchiveFinalized() {
	if c == nil {
		return
	}
	c.finalized.Inc()
}

// InstrumentRoundTripper wraps rt so that requests are counted and timed.
func (c *Collector) InstrumentRoundTripper(rt http.RoundTripper) http.RoundTripper {
	if rt == nil {
		rt = http.DefaultTransport
	}
	if c == nil {
		return rt
	}
	rt = promhttp.InstrumentRoundTripperCounter(c.httpCount, rt)
	return promhttp.InstrumentRoundTripperDuration(c.httpSeconds, rt)
}

package http_test

import (
	"bytes"
	"context"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/depot"
	depothttp "github.com/meigma/depot/http"
	"github.com/meigma/depot/internal/testutil"
	"github.com/meigma/depot/metrics"
)

func serve(t *testing.T, data []byte) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var requests atomic.Int64
	modified := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		requests.Add(1)
		w.Header().Set("ETag", `"v1"`)
		nethttp.ServeContent(w, r, "archive.depot", modified, bytes.NewReader(data))
	}))
	t.Cleanup(server.Close)
	return server, &requests
}

func TestSourceReadAt(t *testing.T) {
	t.Parallel()

	data := []byte("hello world")
	server, _ := serve(t, data)

	src, err := depothttp.NewSource(t.Context(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), src.Size())
	assert.Contains(t, src.SourceID(), "http:sha256:")

	buf := make([]byte, 5)
	n, err := src.ReadAt(buf, 6)
	require.NoError(t, err)
	assert.Equal(t, "world", string(buf[:n]))

	edge := make([]byte, 10)
	n, err = src.ReadAt(edge, int64(len(data)-3))
	require.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "rld", string(edge[:n]))

	_, err = src.ReadAt(buf, int64(len(data)))
	require.ErrorIs(t, err, io.EOF)
}

func TestSourceReadsOutliveOpenContext(t *testing.T) {
	t.Parallel()

	server, _ := serve(t, []byte("hello world"))
	ctx, cancel := context.WithCancel(t.Context())
	src, err := depothttp.NewSource(ctx, server.URL)
	require.NoError(t, err)
	cancel()

	buf := make([]byte, 5)
	n, err := src.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))

	_, err = src.ReadAtContext(ctx, buf, 0)
	require.ErrorIs(t, err, context.Canceled)
}

func TestSourceOpensArchive(t *testing.T) {
	t.Parallel()

	var buf testutil.SeekBuffer
	w, err := depot.NewWriter(&buf)
	require.NoError(t, err)
	_, err = w.AppendBytes("remote.txt", bytes.Repeat([]byte("over the wire "), 50))
	require.NoError(t, err)
	require.NoError(t, w.Finalize())

	server, _ := serve(t, buf.Bytes())
	reg := prometheus.NewRegistry()
	src, err := depothttp.NewSource(t.Context(), server.URL, depothttp.WithMetrics(metrics.New(reg)))
	require.NoError(t, err)

	a, err := depot.Open(src)
	require.NoError(t, err)
	got, err := a.ReadFile("remote.txt")
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte("over the wire "), 50), got)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestSourceRangeUnsupported(t *testing.T) {
	t.Parallel()

	data := []byte("range unsupported")
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		if r.Method == nethttp.MethodHead {
			return
		}
		_, _ = w.Write(data)
	}))
	t.Cleanup(server.Close)

	_, err := depothttp.NewSource(t.Context(), server.URL)
	require.ErrorIs(t, err, depothttp.ErrRangeUnsupported)
}

func TestSourceDetectsChange(t *testing.T) {
	t.Parallel()

	var etag atomic.Value
	etag.Store(`"v1"`)
	data := []byte("versioned content")
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("ETag", etag.Load().(string))
		nethttp.ServeContent(w, r, "", time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(server.Close)

	src, err := depothttp.NewSource(t.Context(), server.URL, depothttp.WithHeader("X-Test", "1"))
	require.NoError(t, err)
	etag.Store(`"v2"`)

	_, err = src.ReadAt(make([]byte, 4), 0)
	require.ErrorIs(t, err, depothttp.ErrModified)
}

// Package sizing converts and combines archive sizes without silent overflow.
package sizing

import (
	"io"
	"math"
)

// ToInt converts n to int, returning overflowErr if it does not fit.
func ToInt(n uint64, overflowErr error) (int, error) {
	if n > uint64(math.MaxInt) {
		return 0, overflowErr
	}
	return int(n), nil
}

// ToInt64 converts n to int64, returning overflowErr if it does not fit.
func ToInt64(n uint64, overflowErr error) (int64, error) {
	if n > math.MaxInt64 {
		return 0, overflowErr
	}
	return int64(n), nil
}

// Add returns a+b and false when the sum wraps.
func Add(a, b uint64) (uint64, bool) {
	sum := a + b
	if sum < a {
		return 0, false
	}
	return sum, true
}

// ReadAll reads r to EOF and fails with overflowErr once more than limit
// bytes arrive. A zero limit means no limit.
func ReadAll(r io.Reader, limit uint64, overflowErr error) ([]byte, error) {
	if limit == 0 {
		return io.ReadAll(r)
	}
	if limit > uint64(math.MaxInt-1) {
		return nil, overflowErr
	}
	data, err := io.ReadAll(&io.LimitedReader{R: r, N: int64(limit) + 1}) //nolint:gosec // checked above
	if err != nil {
		return nil, err
	}
	if uint64(len(data)) > limit {
		return nil, overflowErr
	}
	return data, nil
}

// CountingWriter counts bytes passed through to W.
type CountingWriter struct {
	W io.Writer
	N uint64
}

// Write implements io.Writer.
func (cw *CountingWriter) Write(p []byte) (int, error) {
	n, err := cw.W.Write(p)
	cw.N += uint64(n) //nolint:gosec // n is never negative
	return n, err
}

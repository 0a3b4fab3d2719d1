package compress

import (
	"bytes"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/s2"
	"github.com/ulikunitz/xz"
)

// S2 is the klauspost S2 block codec. Levels 1 and below use the fastest
// encoder, 2 the better encoder and 3 and above the best encoder.
type S2 struct{}

// Name implements Codec.
func (S2) Name() string { return "s2" }

// Compress implements Codec.
func (S2) Compress(src []byte, level int) ([]byte, error) {
	switch {
	case level >= 3:
		return s2.EncodeBest(nil, src), nil
	case level == 2, level <= 0:
		return s2.EncodeBetter(nil, src), nil
	default:
		return s2.Encode(nil, src), nil
	}
}

// Decompress implements Codec.
func (S2) Decompress(src []byte, sizeHint int) ([]byte, error) {
	n, err := s2.DecodedLen(src)
	if err != nil {
		return nil, fmt.Errorf("s2: %w", err)
	}
	if sizeHint >= 0 && n > sizeHint {
		return nil, ErrTooLarge
	}
	out, err := s2.Decode(make([]byte, n), src)
	if err != nil {
		return nil, fmt.Errorf("s2: %w", err)
	}
	return out, nil
}

// Snappy is the snappy block codec. The level is ignored.
type Snappy struct{}

// Name implements Codec.
func (Snappy) Name() string { return "snappy" }

// Compress implements Codec.
func (Snappy) Compress(src []byte, _ int) ([]byte, error) {
	return snappy.Encode(nil, src), nil
}

// Decompress implements Codec.
func (Snappy) Decompress(src []byte, sizeHint int) ([]byte, error) {
	n, err := snappy.DecodedLen(src)
	if err != nil {
		return nil, fmt.Errorf("snappy: %w", err)
	}
	if sizeHint >= 0 && n > sizeHint {
		return nil, ErrTooLarge
	}
	out, err := snappy.Decode(make([]byte, n), src)
	if err != nil {
		return nil, fmt.Errorf("snappy: %w", err)
	}
	return out, nil
}

// Flate is raw DEFLATE. Levels are clamped to 1..9.
type Flate struct{}

// Name implements Codec.
func (Flate) Name() string { return "flate" }

// Compress implements Codec.
func (Flate) Compress(src []byte, level int) ([]byte, error) {
	switch {
	case level <= 0:
		level = flate.DefaultCompression
	case level > flate.BestCompression:
		level = flate.BestCompression
	}
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("flate: %w", err)
	}
	if _, err := w.Write(src); err != nil {
		return nil, fmt.Errorf("flate: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("flate: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress implements Codec.
func (f Flate) Decompress(src []byte, sizeHint int) ([]byte, error) {
	r, _ := f.NewReader(bytes.NewReader(src)) //nolint:errcheck // never fails
	defer r.Close()
	out, err := readLimited(r, sizeHint)
	if err != nil {
		return nil, fmt.Errorf("flate: %w", err)
	}
	return out, nil
}

// NewReader implements StreamCodec.
func (Flate) NewReader(r io.Reader) (io.ReadCloser, error) {
	return flate.NewReader(r), nil
}

// XZ is the xz container format backed by LZMA2. The level is ignored.
type XZ struct{}

// Name implements Codec.
func (XZ) Name() string { return "xz" }

// Compress implements Codec.
func (XZ) Compress(src []byte, _ int) ([]byte, error) {
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("xz: %w", err)
	}
	if _, err := w.Write(src); err != nil {
		return nil, fmt.Errorf("xz: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("xz: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress implements Codec.
func (x XZ) Decompress(src []byte, sizeHint int) ([]byte, error) {
	r, err := x.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	out, err := readLimited(r, sizeHint)
	if err != nil {
		return nil, fmt.Errorf("xz: %w", err)
	}
	return out, nil
}

// NewReader implements StreamCodec.
func (XZ) NewReader(r io.Reader) (io.ReadCloser, error) {
	xr, err := xz.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("xz: %w", err)
	}
	return io.NopCloser(xr), nil
}

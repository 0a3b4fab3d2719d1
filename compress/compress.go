// Package compress provides the pluggable per-entry codecs used by depot
// archives.
//
// A Codec maps whole entry payloads to and from their stored form. Codecs
// are stateless from the caller's point of view and safe for concurrent use.
// The level passed to Compress is interpreted by each codec; zero selects
// the codec's own default.
package compress

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
)

// DefaultLevel asks a codec for its default effort.
const DefaultLevel = 0

// ErrTooLarge is returned when decoded output exceeds the expected size.
var ErrTooLarge = errors.New("compress: output exceeds expected size")

// ErrUnknownCodec is returned by ByName for unregistered codec names.
var ErrUnknownCodec = errors.New("compress: unknown codec")

// Codec compresses and decompresses complete payloads.
type Codec interface {
	// Name returns the registry name of the codec.
	Name() string

	// Compress returns the compressed form of src at the given level.
	Compress(src []byte, level int) ([]byte, error)

	// Decompress returns the original bytes of src. sizeHint is the
	// expected decoded length; decoders stop once more than sizeHint
	// bytes would be produced. A negative sizeHint disables the limit.
	Decompress(src []byte, sizeHint int) ([]byte, error)
}

// StreamCodec is implemented by codecs that can decode incrementally.
type StreamCodec interface {
	Codec

	// NewReader returns a reader yielding the decoded form of r.
	NewReader(r io.Reader) (io.ReadCloser, error)
}

var (
	registryMu sync.RWMutex
	registry   = map[string]func() Codec{}
)

func init() {
	Register("none", func() Codec { return None{} })
	Register("zstd", func() Codec { return NewZstd() })
	Register("s2", func() Codec { return S2{} })
	Register("flate", func() Codec { return Flate{} })
	Register("snappy", func() Codec { return Snappy{} })
	Register("xz", func() Codec { return XZ{} })
}

// Register makes a codec constructor available to ByName.
// Registering an existing name replaces it.
func Register(name string, fn func() Codec) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = fn
}

// ByName returns a new instance of the named codec.
func ByName(name string) (Codec, error) {
	registryMu.RLock()
	fn, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
	return fn(), nil
}

// Names returns the registered codec names in sorted order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Default returns the codec used when none is configured.
func Default() Codec {
	return defaultZstd
}

var defaultZstd = NewZstd()

// None stores payloads unchanged.
type None struct{}

// Name implements Codec.
func (None) Name() string { return "none" }

// Compress implements Codec.
func (None) Compress(src []byte, _ int) ([]byte, error) {
	return slices.Clone(src), nil
}

// Decompress implements Codec.
func (None) Decompress(src []byte, sizeHint int) ([]byte, error) {
	if sizeHint >= 0 && len(src) > sizeHint {
		return nil, ErrTooLarge
	}
	return slices.Clone(src), nil
}

// NewReader implements StreamCodec.
func (None) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(r), nil
}

// readLimited drains r into a buffer sized for sizeHint, failing once the
// output grows past it. Only a negative sizeHint reads without a limit.
func readLimited(r io.Reader, sizeHint int) ([]byte, error) {
	if sizeHint < 0 {
		return io.ReadAll(r)
	}
	out := make([]byte, 0, sizeHint)
	lr := &io.LimitedReader{R: r, N: int64(sizeHint) + 1}
	for {
		if len(out) == cap(out) {
			out = append(out, 0)[:len(out)]
		}
		n, err := lr.Read(out[len(out):cap(out)])
		out = out[:len(out)+n]
		if len(out) > sizeHint {
			return nil, ErrTooLarge
		}
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

package compress

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Zstd is the zstandard codec. Encoders are cached per level and decoders
// are pooled.
type Zstd struct {
	pool *DecoderPool

	mu       sync.Mutex
	encoders map[zstd.EncoderLevel]*zstd.Encoder
}

// ZstdOption configures a Zstd codec.
type ZstdOption func(*zstdConfig)

type zstdConfig struct {
	maxDecoderMemory uint64
	lowmem           bool
}

// WithMaxDecoderMemory bounds the memory a single decoder may allocate.
// Zero means no limit.
func WithMaxDecoderMemory(n uint64) ZstdOption {
	return func(c *zstdConfig) {
		c.maxDecoderMemory = n
	}
}

// WithDecoderLowmem trades decoding speed for lower memory use.
func WithDecoderLowmem(b bool) ZstdOption {
	return func(c *zstdConfig) {
		c.lowmem = b
	}
}

// NewZstd returns a zstd codec.
func NewZstd(opts ...ZstdOption) *Zstd {
	var cfg zstdConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Zstd{
		pool:     NewDecoderPool(cfg.maxDecoderMemory, cfg.lowmem),
		encoders: make(map[zstd.EncoderLevel]*zstd.Encoder),
	}
}

// Name implements Codec.
func (z *Zstd) Name() string { return "zstd" }

func (z *Zstd) encoder(level int) (*zstd.Encoder, error) {
	lvl := zstd.SpeedDefault
	if level > 0 {
		lvl = zstd.EncoderLevelFromZstd(level)
	}

	z.mu.Lock()
	defer z.mu.Unlock()
	if enc, ok := z.encoders[lvl]; ok {
		return enc, nil
	}
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(lvl),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, err
	}
	z.encoders[lvl] = enc
	return enc, nil
}

// Compress implements Codec.
func (z *Zstd) Compress(src []byte, level int) ([]byte, error) {
	enc, err := z.encoder(level)
	if err != nil {
		return nil, fmt.Errorf("zstd: %w", err)
	}
	return enc.EncodeAll(src, make([]byte, 0, len(src)/2)), nil
}

// Decompress implements Codec.
func (z *Zstd) Decompress(src []byte, sizeHint int) ([]byte, error) {
	dec, release, err := z.pool.Get(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("zstd: %w", err)
	}
	defer release()
	out, err := readLimited(dec, sizeHint)
	if err != nil {
		return nil, fmt.Errorf("zstd: %w", err)
	}
	return out, nil
}

// NewReader implements StreamCodec.
func (z *Zstd) NewReader(r io.Reader) (io.ReadCloser, error) {
	dec, release, err := z.pool.Get(r)
	if err != nil {
		return nil, fmt.Errorf("zstd: %w", err)
	}
	return &pooledReader{Decoder: dec, release: release}, nil
}

type pooledReader struct {
	*zstd.Decoder
	release func()
	once    sync.Once
}

func (r *pooledReader) Close() error {
	r.once.Do(r.release)
	return nil
}

// DecoderPool manages reusable zstd decoders.
type DecoderPool struct {
	pool      sync.Pool
	maxMemory uint64
	lowmem    bool
}

// NewDecoderPool creates a pool whose decoders allocate at most maxMemory
// bytes each. Zero means no limit.
func NewDecoderPool(maxMemory uint64, lowmem bool) *DecoderPool {
	return &DecoderPool{maxMemory: maxMemory, lowmem: lowmem}
}

// Get returns a decoder reading from r and a function returning it to the
// pool. The release function must be called exactly once.
func (p *DecoderPool) Get(r io.Reader) (*zstd.Decoder, func(), error) {
	if dec, ok := p.pool.Get().(*zstd.Decoder); ok {
		if err := dec.Reset(r); err == nil {
			return dec, func() {
				_ = dec.Reset(nil) //nolint:errcheck // clearing state before pool return
				p.pool.Put(dec)
			}, nil
		}
		dec.Close()
	}

	dec, err := p.newDecoder(r)
	if err != nil {
		return nil, nil, err
	}
	return dec, func() {
		_ = dec.Reset(nil) //nolint:errcheck // clearing state before pool return
		p.pool.Put(dec)
	}, nil
}

func (p *DecoderPool) newDecoder(r io.Reader) (*zstd.Decoder, error) {
	opts := []zstd.DOption{
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderLowmem(p.lowmem),
	}
	if p.maxMemory != 0 {
		opts = append(opts, zstd.WithDecoderMaxMemory(p.maxMemory))
	}
	return zstd.NewReader(r, opts...)
}

// Package payload turns entry content into its stored form and back.
//
// It owns the per-entry compression policy and the integrity check: content
// is hashed before compression, compressed output that does not shrink the
// content is discarded in favor of the raw bytes, and decoded content is
// verified against the recorded hash.
package payload

import (
	"bytes"
	"errors"
	"fmt"
	"hash"
	"io"

	"github.com/meigma/depot/checksum"
	"github.com/meigma/depot/compress"
	"github.com/meigma/depot/internal/format"
	"github.com/meigma/depot/internal/sizing"
)

// Adapter pairs a codec with a hash function.
type Adapter struct {
	Codec compress.Codec
	Hash  checksum.HashFunc
}

// New returns an Adapter, substituting defaults for nil arguments.
func New(codec compress.Codec, hashFn checksum.HashFunc) *Adapter {
	if codec == nil {
		codec = compress.Default()
	}
	if hashFn == nil {
		hashFn = checksum.Default()
	}
	return &Adapter{Codec: codec, Hash: hashFn}
}

// Encoded is the stored form of one entry.
type Encoded struct {
	Stored         []byte
	Size           uint64
	CompressedSize uint64
	Hash           uint64
}

// Encode hashes content and, when compressible is set, tries to compress it
// at level. Empty content is never compressed.
func (a *Adapter) Encode(content []byte, level int, compressible bool) (Encoded, error) {
	enc := Encoded{
		Stored: content,
		Size:   uint64(len(content)),
		Hash:   checksum.Sum(a.Hash, content),
	}
	if !compressible || len(content) == 0 {
		return enc, nil
	}
	packed, err := a.Codec.Compress(content, level)
	if err != nil {
		return Encoded{}, fmt.Errorf("compress with %s: %w", a.Codec.Name(), err)
	}
	if len(packed) == 0 || len(packed) >= len(content) {
		return enc, nil
	}
	enc.Stored = packed
	enc.CompressedSize = uint64(len(packed))
	return enc, nil
}

// Decode returns the original content for info given its stored bytes and
// verifies it.
func (a *Adapter) Decode(info format.EntryInfo, stored []byte) ([]byte, error) {
	if uint64(len(stored)) != info.StoredSize() {
		return nil, format.ErrTruncated
	}
	content := stored
	if info.Compressed() {
		hint, err := sizing.ToInt(info.Size, format.ErrSizeOverflow)
		if err != nil {
			return nil, err
		}
		content, err = a.Codec.Decompress(stored, hint)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", format.ErrDecompression, err)
		}
		if uint64(len(content)) != info.Size {
			return nil, fmt.Errorf("%w: size mismatch (%d != %d)", format.ErrDecompression, len(content), info.Size)
		}
	}
	if err := a.Verify(info, content); err != nil {
		return nil, err
	}
	return content, nil
}

// Verify checks content against the hash recorded in info.
func (a *Adapter) Verify(info format.EntryInfo, content []byte) error {
	if got := checksum.Sum(a.Hash, content); got != info.Hash {
		return fmt.Errorf("%w: hash %016x, want %016x", format.ErrIntegrity, got, info.Hash)
	}
	return nil
}

// NewReader returns a reader over the decoded content of an entry whose
// stored bytes are read from stored. The reader fails with ErrIntegrity at
// EOF when the hash does not match.
func (a *Adapter) NewReader(info format.EntryInfo, stored io.Reader) (io.ReadCloser, error) {
	if !info.Compressed() {
		return a.verifying(info, stored, nil), nil
	}
	if sc, ok := a.Codec.(compress.StreamCodec); ok {
		dec, err := sc.NewReader(stored)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", format.ErrDecompression, err)
		}
		return a.verifying(info, dec, dec.Close), nil
	}

	limit := info.StoredSize()
	raw, err := sizing.ReadAll(stored, limit, format.ErrSizeOverflow)
	if err != nil {
		return nil, err
	}
	content, err := a.Decode(info, raw)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

func (a *Adapter) verifying(info format.EntryInfo, r io.Reader, closeFn func() error) *verifyingReader {
	return &verifyingReader{
		r:       r,
		h:       a.Hash(),
		info:    info,
		closeFn: closeFn,
	}
}

// verifyingReader hashes content as it is read and checks it on EOF.
type verifyingReader struct {
	r       io.Reader
	h       hash.Hash64
	info    format.EntryInfo
	n       uint64
	err     error
	closeFn func() error
}

func (v *verifyingReader) Read(p []byte) (int, error) {
	if v.err != nil {
		return 0, v.err
	}
	if remaining := v.info.Size - v.n; remaining < uint64(len(p)) {
		p = p[:remaining+1]
	}
	n, err := v.r.Read(p)
	v.n += uint64(n) //nolint:gosec // n is never negative
	_, _ = v.h.Write(p[:n]) //nolint:errcheck // hash writes never fail
	if v.n > v.info.Size {
		v.err = fmt.Errorf("%w: content longer than %d bytes", format.ErrDecompression, v.info.Size)
		return 0, v.err
	}
	switch {
	case errors.Is(err, io.EOF):
		v.err = v.finish()
		if v.err == nil {
			v.err = io.EOF
		}
		return n, v.err
	case err != nil:
		if errors.Is(err, io.ErrUnexpectedEOF) {
			err = format.ErrTruncated
		} else if v.info.Compressed() {
			err = fmt.Errorf("%w: %v", format.ErrDecompression, err)
		}
		v.err = err
		return n, err
	}
	return n, nil
}

func (v *verifyingReader) finish() error {
	if v.n != v.info.Size {
		if v.info.Compressed() {
			return fmt.Errorf("%w: size mismatch (%d != %d)", format.ErrDecompression, v.n, v.info.Size)
		}
		return format.ErrTruncated
	}
	if got := v.h.Sum64(); got != v.info.Hash {
		return fmt.Errorf("%w: hash %016x, want %016x", format.ErrIntegrity, got, v.info.Hash)
	}
	return nil
}

func (v *verifyingReader) Close() error {
	if v.closeFn == nil {
		return nil
	}
	fn := v.closeFn
	v.closeFn = nil
	return fn()
}

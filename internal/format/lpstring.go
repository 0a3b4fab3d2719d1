package format

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxNameLength bounds the byte length of a length-prefixed string accepted
// by ReadLPString. Names longer than this are rejected on both write and read.
const MaxNameLength = 1 << 16

// AppendLPString appends s to b as a 32-bit big-endian length followed by the
// raw bytes of s. No terminator or padding is written.
func AppendLPString(b []byte, s string) []byte {
	b = binary.BigEndian.AppendUint32(b, uint32(len(s))) //nolint:gosec // callers bound len(s) by MaxNameLength
	return append(b, s...)
}

// LPStringSize returns the encoded size of s.
func LPStringSize(s string) uint64 {
	return 4 + uint64(len(s))
}

// ReadLPString reads a length-prefixed string from r. A short read of either
// the length or the body returns ErrTruncated.
func ReadLPString(r io.Reader) (string, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", shortRead(err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxNameLength {
		return "", fmt.Errorf("%w: string length %d exceeds %d", ErrInvalidName, n, MaxNameLength)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", shortRead(err)
	}
	return string(buf), nil
}

// ValidateName checks that name can be stored as an entry name.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidName, len(name), MaxNameLength)
	}
	return nil
}

// shortRead maps end-of-stream conditions onto ErrTruncated and passes other
// I/O errors through unchanged.
func shortRead(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrTruncated
	}
	return err
}

// fieldReader decodes fixed-width big-endian integers from a stream.
type fieldReader struct {
	r   io.Reader
	buf [8]byte
}

func (f *fieldReader) uint64() (uint64, error) {
	if _, err := io.ReadFull(f.r, f.buf[:8]); err != nil {
		return 0, shortRead(err)
	}
	return binary.BigEndian.Uint64(f.buf[:8]), nil
}

func (f *fieldReader) int32() (int32, error) {
	if _, err := io.ReadFull(f.r, f.buf[:4]); err != nil {
		return 0, shortRead(err)
	}
	return int32(binary.BigEndian.Uint32(f.buf[:4])), nil //nolint:gosec // two's complement reinterpretation
}

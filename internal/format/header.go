// Package format implements the depot wire format: the fixed archive header,
// the table of contents and the per-entry metadata records.
//
// All integers are big-endian. Offsets are relative to the first byte of the
// archive header, so an archive embedded inside a larger stream stays valid.
//
// Layout:
//
//	header   magic[8] version[2] toc_offset[8]
//	payload  entry bytes, concatenated in append order
//	toc      compression_level[4] entry_count[8] size[8] entry*
//	entry    name_len[4] name[name_len] offset[8] size[8] compressed_size[8]
//	         flags[8] create_ts[8] mod_ts[8] hash[8]
package format

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// Magic identifies a depot archive. It is the first 8 bytes of the header.
	Magic = "DEPOTARC"

	// MagicSize is the byte length of Magic.
	MagicSize = 8

	// Version is the wire-compatibility generation written by this package.
	Version uint16 = 1

	// HeaderSize is the fixed byte length of an encoded Header.
	HeaderSize = MagicSize + 2 + 8

	// PlaceholderTOCOffset is written into the header before the TOC position
	// is known.
	PlaceholderTOCOffset = ^uint64(0)
)

// supportedVersions lists every header version this package can decode.
var supportedVersions = map[uint16]struct{}{
	Version: {},
}

// SupportedVersion reports whether v can be decoded.
func SupportedVersion(v uint16) bool {
	_, ok := supportedVersions[v]
	return ok
}

// Header is the fixed-size record at the start of every archive.
type Header struct {
	Version   uint16
	TOCOffset uint64
}

// NewHeader returns a header for the current version with a placeholder
// TOC offset.
func NewHeader() Header {
	return Header{Version: Version, TOCOffset: PlaceholderTOCOffset}
}

// Finalized reports whether the TOC offset has been patched in.
func (h Header) Finalized() bool {
	return h.TOCOffset != PlaceholderTOCOffset
}

// EncodeTo writes the header into buf, which must hold at least HeaderSize bytes.
func (h Header) EncodeTo(buf []byte) {
	copy(buf[:MagicSize], Magic)
	binary.BigEndian.PutUint16(buf[MagicSize:MagicSize+2], h.Version)
	binary.BigEndian.PutUint64(buf[MagicSize+2:HeaderSize], h.TOCOffset)
}

// MarshalBinary encodes the header.
func (h Header) MarshalBinary() ([]byte, error) {
	buf := make([]byte, HeaderSize)
	h.EncodeTo(buf)
	return buf, nil
}

// UnmarshalBinary decodes and validates a header from data.
func (h *Header) UnmarshalBinary(data []byte) error {
	if len(data) < HeaderSize {
		return fmt.Errorf("%w: header needs %d bytes, got %d", ErrTruncated, HeaderSize, len(data))
	}
	if string(data[:MagicSize]) != Magic {
		return fmt.Errorf("%w: got %q", ErrMagicMismatch, data[:MagicSize])
	}
	version := binary.BigEndian.Uint16(data[MagicSize : MagicSize+2])
	if !SupportedVersion(version) {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}
	h.Version = version
	h.TOCOffset = binary.BigEndian.Uint64(data[MagicSize+2 : HeaderSize])
	return nil
}

// ReadHeader reads and validates a header from r.
func ReadHeader(r io.Reader) (Header, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, shortRead(err)
	}
	var h Header
	if err := h.UnmarshalBinary(buf[:]); err != nil {
		return Header{}, err
	}
	return h, nil
}

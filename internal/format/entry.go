package format

import (
	"encoding/binary"
	"io"
)

// FlagFileHeader marks an entry whose payload is preceded by a per-entry
// file header. All other flag bits are reserved and preserved as-is.
const FlagFileHeader uint64 = 1 << 0

// entryInfoSize is the encoded size of an EntryInfo, excluding the name.
const entryInfoSize = 7 * 8

// EntryInfo is the metadata record for one archived entry.
type EntryInfo struct {
	// Offset is where the entry's payload (or its file header) begins,
	// relative to the start of the archive header.
	Offset uint64

	// Size is the uncompressed content length.
	Size uint64

	// CompressedSize is the stored length of compressed content, or 0 when
	// the entry is stored raw.
	CompressedSize uint64

	// Flags is a bitfield; see FlagFileHeader.
	Flags uint64

	// Created and Modified are the entry timestamps.
	Created  Timestamp
	Modified Timestamp

	// Hash is the 64-bit digest of the uncompressed content.
	Hash uint64
}

// Compressed reports whether the entry is stored compressed.
func (e EntryInfo) Compressed() bool {
	return e.CompressedSize != 0
}

// StoredSize returns the number of payload bytes the entry occupies.
func (e EntryInfo) StoredSize() uint64 {
	if e.CompressedSize != 0 {
		return e.CompressedSize
	}
	return e.Size
}

// HasFileHeader reports whether a per-entry file header precedes the payload.
func (e EntryInfo) HasFileHeader() bool {
	return e.Flags&FlagFileHeader != 0
}

// End returns Offset+StoredSize, or false if the sum overflows.
func (e EntryInfo) End() (uint64, bool) {
	end := e.Offset + e.StoredSize()
	if end < e.Offset {
		return 0, false
	}
	return end, true
}

// AppendBinary appends the fixed-order encoding of e to b.
func (e EntryInfo) AppendBinary(b []byte) ([]byte, error) {
	b = binary.BigEndian.AppendUint64(b, e.Offset)
	b = binary.BigEndian.AppendUint64(b, e.Size)
	b = binary.BigEndian.AppendUint64(b, e.CompressedSize)
	b = binary.BigEndian.AppendUint64(b, e.Flags)
	b = binary.BigEndian.AppendUint64(b, e.Created.Pack())
	b = binary.BigEndian.AppendUint64(b, e.Modified.Pack())
	b = binary.BigEndian.AppendUint64(b, e.Hash)
	return b, nil
}

// ReadEntryInfo decodes an EntryInfo from r.
func ReadEntryInfo(r io.Reader) (EntryInfo, error) {
	var buf [entryInfoSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return EntryInfo{}, shortRead(err)
	}
	field := func(i int) uint64 {
		return binary.BigEndian.Uint64(buf[i*8 : i*8+8])
	}
	return EntryInfo{
		Offset:         field(0),
		Size:           field(1),
		CompressedSize: field(2),
		Flags:          field(3),
		Created:        UnpackTimestamp(field(4)),
		Modified:       UnpackTimestamp(field(5)),
		Hash:           field(6),
	}, nil
}

// Entry pairs an entry name with its metadata.
type Entry struct {
	Name string
	EntryInfo
}

// encodedSize returns the TOC footprint of e.
func (e Entry) encodedSize() uint64 {
	return LPStringSize(e.Name) + entryInfoSize
}

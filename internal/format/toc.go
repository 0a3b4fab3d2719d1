package format

import (
	"cmp"
	"encoding/binary"
	"fmt"
	"io"
	"slices"
)

// tocFixedSize is the encoded size of the TOC fields preceding the entries.
const tocFixedSize = 4 + 8 + 8

// TOCPrefixSize is the number of bytes DecodeTOCPrefix needs.
const TOCPrefixSize = tocFixedSize

// minEntrySize is the smallest possible encoded entry: an empty-length
// prefix plus the fixed record.
const minEntrySize = 4 + entryInfoSize

// maxPrealloc caps the entry slice capacity reserved from an untrusted count.
const maxPrealloc = 4096

// TOC is the table of contents written at the end of an archive.
//
// CompressionLevel is the archive-wide default entry compression level. The
// TOC payload itself is never compressed.
type TOC struct {
	CompressionLevel int32

	// Size is the total byte length of the archive: header, payloads and TOC.
	Size uint64

	// Entries is sorted by name in byte order with no duplicates.
	Entries []Entry
}

// EntryCount returns the number of entries.
func (t *TOC) EntryCount() uint64 {
	return uint64(len(t.Entries))
}

// EncodedSize returns the number of bytes AppendBinary produces.
func (t *TOC) EncodedSize() uint64 {
	n := uint64(tocFixedSize)
	for i := range t.Entries {
		n += t.Entries[i].encodedSize()
	}
	return n
}

// Validate checks ordering, uniqueness and bounds of the entries.
func (t *TOC) Validate() error {
	for i := range t.Entries {
		e := &t.Entries[i]
		if err := ValidateName(e.Name); err != nil {
			return fmt.Errorf("%w: entry %d: %w", ErrTOCDecode, i, err)
		}
		if i > 0 {
			switch prev := t.Entries[i-1].Name; {
			case prev == e.Name:
				return fmt.Errorf("%w: %w: %q", ErrTOCDecode, ErrNameDuplicate, e.Name)
			case prev > e.Name:
				return fmt.Errorf("%w: entries not sorted at %q", ErrTOCDecode, e.Name)
			}
		}
		if e.Size == 0 && e.CompressedSize != 0 {
			return fmt.Errorf("%w: %q: empty entry has compressed size %d", ErrTOCDecode, e.Name, e.CompressedSize)
		}
		if err := t.checkBounds(e); err != nil {
			return err
		}
	}
	return nil
}

func (t *TOC) checkBounds(e *Entry) error {
	end, ok := e.End()
	if !ok || e.Offset < HeaderSize || end > t.Size {
		return fmt.Errorf("%w: %w: %q spans [%d, %d+%d) in archive of %d bytes",
			ErrTOCDecode, ErrOffsetOutOfBounds, e.Name, e.Offset, e.Offset, e.StoredSize(), t.Size)
	}
	return nil
}

// AppendBinary appends the encoded TOC to b. Entries must already be sorted.
func (t *TOC) AppendBinary(b []byte) ([]byte, error) {
	b = binary.BigEndian.AppendUint32(b, uint32(t.CompressionLevel)) //nolint:gosec // two's complement reinterpretation
	b = binary.BigEndian.AppendUint64(b, t.EntryCount())
	b = binary.BigEndian.AppendUint64(b, t.Size)
	for i := range t.Entries {
		e := &t.Entries[i]
		if err := ValidateName(e.Name); err != nil {
			return nil, err
		}
		b = AppendLPString(b, e.Name)
		var err error
		if b, err = e.EntryInfo.AppendBinary(b); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// MarshalBinary encodes the TOC.
func (t *TOC) MarshalBinary() ([]byte, error) {
	return t.AppendBinary(make([]byte, 0, t.EncodedSize()))
}

// WriteTo writes the encoded TOC to w.
func (t *TOC) WriteTo(w io.Writer) (int64, error) {
	buf, err := t.MarshalBinary()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(buf)
	return int64(n), err
}

// DecodeTOCPrefix decodes the fixed TOC fields from the start of b so that
// callers can learn the TOC length before reading it.
func DecodeTOCPrefix(b []byte) (level int32, count, size uint64, err error) {
	if len(b) < tocFixedSize {
		return 0, 0, 0, fmt.Errorf("%w: %w", ErrTOCDecode, ErrTruncated)
	}
	level = int32(binary.BigEndian.Uint32(b[0:4])) //nolint:gosec // two's complement reinterpretation
	count = binary.BigEndian.Uint64(b[4:12])
	size = binary.BigEndian.Uint64(b[12:20])
	return level, count, size, nil
}

// MinEncodedSize returns the smallest TOC that could hold count entries,
// or false if it overflows.
func MinEncodedSize(count uint64) (uint64, bool) {
	if count > (^uint64(0)-tocFixedSize)/minEntrySize {
		return 0, false
	}
	return tocFixedSize + count*minEntrySize, true
}

// ReadTOC decodes a TOC from r, reading exactly the declared number of
// entries. Entries are returned in name order regardless of their order on
// the wire; duplicates and out-of-bounds entries are rejected.
func ReadTOC(r io.Reader) (*TOC, error) {
	fr := fieldReader{r: r}

	level, err := fr.int32()
	if err != nil {
		return nil, fmt.Errorf("%w: compression level: %w", ErrTOCDecode, err)
	}
	count, err := fr.uint64()
	if err != nil {
		return nil, fmt.Errorf("%w: entry count: %w", ErrTOCDecode, err)
	}
	size, err := fr.uint64()
	if err != nil {
		return nil, fmt.Errorf("%w: size: %w", ErrTOCDecode, err)
	}

	t := &TOC{
		CompressionLevel: level,
		Size:             size,
		Entries:          make([]Entry, 0, min(count, maxPrealloc)),
	}
	sorted := true
	for i := uint64(0); i < count; i++ {
		name, err := ReadLPString(r)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d name: %w", ErrTOCDecode, i, err)
		}
		info, err := ReadEntryInfo(r)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d (%q): %w", ErrTOCDecode, i, name, err)
		}
		if n := len(t.Entries); n > 0 && t.Entries[n-1].Name >= name {
			sorted = false
		}
		t.Entries = append(t.Entries, Entry{Name: name, EntryInfo: info})
	}
	if !sorted {
		slices.SortStableFunc(t.Entries, func(a, b Entry) int {
			return cmp.Compare(a.Name, b.Name)
		})
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

package depot

import (
	"io"

	"github.com/meigma/depot/internal/format"
)

// Re-export wire types from internal/format.
type (
	// Header is the fixed archive header.
	Header = format.Header

	// TOC is the decoded table of contents.
	TOC = format.TOC

	// Entry is a named TOC record.
	Entry = format.Entry

	// EntryInfo is the metadata stored for each entry.
	EntryInfo = format.EntryInfo

	// Timestamp is a second-resolution time with its UTC offset.
	Timestamp = format.Timestamp
)

// Re-export format constants.
const (
	// Magic is the 8-byte archive signature.
	Magic = format.Magic

	// Version is the format version written by this package.
	Version = format.Version

	// HeaderSize is the encoded header length.
	HeaderSize = format.HeaderSize

	// FlagFileHeader marks an entry preceded by a per-entry file header.
	FlagFileHeader = format.FlagFileHeader
)

// TimestampOf converts t to a Timestamp.
var TimestampOf = format.TimestampOf

// ByteSource provides random access to archive bytes.
//
// *os.File does not implement Size; use OpenFile for local files.
type ByteSource interface {
	io.ReaderAt
	Size() int64
}

// TOCLevelMeaning selects how the compression level stored in the TOC is
// interpreted.
type TOCLevelMeaning uint8

const (
	// LevelIsEntryDefault treats the TOC level as the default compression
	// level of the archive's entries. The TOC itself is stored uncompressed.
	LevelIsEntryDefault TOCLevelMeaning = iota
)

// String returns the option name.
func (m TOCLevelMeaning) String() string {
	switch m {
	case LevelIsEntryDefault:
		return "entry-default"
	default:
		return "unknown"
	}
}

// FileHeaderParser decodes the per-entry file header that precedes payloads
// flagged with FlagFileHeader. It receives a reader positioned at the entry
// offset and returns the number of header bytes to skip.
type FileHeaderParser interface {
	ParseFileHeader(name string, r io.Reader) (headerLen int64, err error)
}

// FileHeaderParserFunc adapts a function to FileHeaderParser.
type FileHeaderParserFunc func(name string, r io.Reader) (int64, error)

// ParseFileHeader implements FileHeaderParser.
func (f FileHeaderParserFunc) ParseFileHeader(name string, r io.Reader) (int64, error) {
	return f(name, r)
}

// Scan searches r for an archive header, reading at most budget bytes
// (unlimited when budget <= 0). It returns the header and the position of
// its first byte.
func Scan(r io.Reader, budget int64) (Header, int64, error) {
	return format.Scan(r, budget)
}

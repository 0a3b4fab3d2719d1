package depot

import (
	"errors"

	"github.com/meigma/depot/internal/format"
)

// Sentinel errors re-exported from internal/format. Match them with errors.Is;
// per-entry failures arrive wrapped in *fs.PathError.
var (
	// ErrMagicMismatch is returned when the data does not start with the depot magic.
	ErrMagicMismatch = format.ErrMagicMismatch

	// ErrUnsupportedVersion is returned for a header version this package cannot read.
	ErrUnsupportedVersion = format.ErrUnsupportedVersion

	// ErrTruncated is returned on a short read.
	ErrTruncated = format.ErrTruncated

	// ErrTOCDecode is returned when the table of contents is invalid.
	ErrTOCDecode = format.ErrTOCDecode

	// ErrNameDuplicate is returned when appending a name that already exists.
	ErrNameDuplicate = format.ErrNameDuplicate

	// ErrEntryNotFound is returned when no entry has the requested name.
	ErrEntryNotFound = format.ErrEntryNotFound

	// ErrOffsetOutOfBounds is returned when an entry lies outside the archive.
	ErrOffsetOutOfBounds = format.ErrOffsetOutOfBounds

	// ErrIntegrity is returned when decoded content does not match its digest.
	ErrIntegrity = format.ErrIntegrity

	// ErrDecompression is returned when an entry cannot be decompressed.
	ErrDecompression = format.ErrDecompression

	// ErrAlreadyFinalized is returned by a Writer after Finalize succeeded.
	ErrAlreadyFinalized = format.ErrAlreadyFinalized

	// ErrNotFinalized is returned for archives whose header was never patched
	// and by Writer.HeaderBytes before Finalize.
	ErrNotFinalized = format.ErrNotFinalized

	// ErrUnsupportedFeature is returned for entries with a per-entry file
	// header when no FileHeaderParser is installed.
	ErrUnsupportedFeature = format.ErrUnsupportedFeature

	// ErrNotFound is returned when a header scan finds no archive.
	ErrNotFound = format.ErrNotFound

	// ErrSizeOverflow is returned when sizes exceed supported limits.
	ErrSizeOverflow = format.ErrSizeOverflow

	// ErrInvalidName is returned for empty or oversized entry names.
	ErrInvalidName = format.ErrInvalidName
)

// ErrCompressedEntry is returned by Section for entries stored compressed.
var ErrCompressedEntry = errors.New("depot: entry is compressed")

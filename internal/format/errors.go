package format

import "errors"

// Sentinel errors for the depot wire format. They are re-exported by the
// depot package; callers should match them with errors.Is.
var (
	// ErrMagicMismatch is returned when the leading bytes are not the depot magic.
	ErrMagicMismatch = errors.New("depot: magic mismatch")

	// ErrUnsupportedVersion is returned for a header version this package cannot read.
	ErrUnsupportedVersion = errors.New("depot: unsupported version")

	// ErrTruncated is returned on a short read anywhere in the archive.
	ErrTruncated = errors.New("depot: truncated stream")

	// ErrTOCDecode is returned when the table of contents is structurally invalid.
	ErrTOCDecode = errors.New("depot: invalid table of contents")

	// ErrNameDuplicate is returned when an entry name is already present.
	ErrNameDuplicate = errors.New("depot: duplicate entry name")

	// ErrEntryNotFound is returned when no entry has the requested name.
	ErrEntryNotFound = errors.New("depot: entry not found")

	// ErrOffsetOutOfBounds is returned when an entry extends past the archive.
	ErrOffsetOutOfBounds = errors.New("depot: offset out of bounds")

	// ErrIntegrity is returned when decoded content does not match its hash.
	ErrIntegrity = errors.New("depot: integrity check failed")

	// ErrDecompression is returned when the codec fails to decode an entry.
	ErrDecompression = errors.New("depot: decompression failed")

	// ErrAlreadyFinalized is returned by a writer after a successful Finalize.
	ErrAlreadyFinalized = errors.New("depot: archive already finalized")

	// ErrUnsupportedFeature is returned for entries that use a per-entry file
	// header when no parser for it is installed.
	ErrUnsupportedFeature = errors.New("depot: unsupported feature")

	// ErrNotFound is returned when a header scan exhausts its input.
	ErrNotFound = errors.New("depot: header not found")

	// ErrSizeOverflow is returned when sizes exceed supported limits.
	ErrSizeOverflow = errors.New("depot: size overflow")

	// ErrNotFinalized is returned when header bytes are requested before Finalize.
	ErrNotFinalized = errors.New("depot: archive not finalized")

	// ErrInvalidName is returned for empty or oversized entry names.
	ErrInvalidName = errors.New("depot: invalid entry name")
)

package depot

import (
	"fmt"
	"io"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/depot/internal/sizing"
)

// Info summarizes an archive. It is computed from the TOC alone.
type Info struct {
	// Entries is the number of entries.
	Entries int

	// Compressed is the number of entries stored compressed.
	Compressed int

	// ContentSize is the sum of decoded entry sizes.
	ContentSize uint64

	// StoredSize is the sum of stored payload sizes.
	StoredSize uint64

	// ArchiveSize is the total archive length: header, payloads and TOC.
	ArchiveSize uint64

	// TOCOffset is where the TOC starts, relative to the header.
	TOCOffset uint64

	// TOCSize is the encoded TOC length.
	TOCSize uint64

	// Level is the archive-wide default compression level.
	Level int32

	// Base is the position of the header within the source.
	Base int64

	// Newest is the latest entry modification time, or zero for an empty
	// archive.
	Newest time.Time
}

// Ratio returns StoredSize/ContentSize, or 1 for empty archives.
func (i Info) Ratio() float64 {
	if i.ContentSize == 0 {
		return 1
	}
	return float64(i.StoredSize) / float64(i.ContentSize)
}

// Info returns a summary of the archive.
func (a *Archive) Info() Info {
	info := Info{
		Entries:     a.idx.Len(),
		ArchiveSize: a.toc.Size,
		TOCOffset:   a.header.TOCOffset,
		TOCSize:     a.toc.Size - a.header.TOCOffset,
		Level:       a.toc.CompressionLevel,
		Base:        a.base,
	}
	for e := range a.idx.All() {
		if e.Compressed() {
			info.Compressed++
		}
		info.ContentSize += e.Size
		info.StoredSize += e.StoredSize()
		if t := e.Modified.Time(); !e.Modified.IsZero() && t.After(info.Newest) {
			info.Newest = t
		}
	}
	return info
}

// Digest returns the SHA-256 digest of the archive bytes, from the header
// through the end of the TOC. It reads the whole archive.
func (a *Archive) Digest() (digest.Digest, error) {
	n, err := sizing.ToInt64(a.toc.Size, ErrSizeOverflow)
	if err != nil {
		return "", err
	}
	d, err := digest.Canonical.FromReader(io.NewSectionReader(a.src, a.base, n))
	if err != nil {
		return "", fmt.Errorf("digest archive: %w", err)
	}
	return d, nil
}

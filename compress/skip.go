package compress

import (
	"path"
	"strings"
)

// SkipFunc reports whether an entry should be stored uncompressed.
// It is called once per entry with the entry name and its content length.
type SkipFunc func(name string, size int64) bool

// DefaultSkip skips entries smaller than minSize and names with extensions
// of formats that are already compressed.
func DefaultSkip(minSize int64) SkipFunc {
	return func(name string, size int64) bool {
		if minSize > 0 && size < minSize {
			return true
		}
		_, ok := compressedExts[strings.ToLower(path.Ext(name))]
		return ok
	}
}

// ShouldSkip reports whether any predicate asks to skip compression.
func ShouldSkip(name string, size int64, predicates []SkipFunc) bool {
	for _, fn := range predicates {
		if fn != nil && fn(name, size) {
			return true
		}
	}
	return false
}

var compressedExts = map[string]struct{}{
	".7z": {}, ".aac": {}, ".avif": {}, ".br": {}, ".bz2": {},
	".depot": {}, ".flac": {}, ".gif": {}, ".gz": {}, ".heic": {},
	".jpeg": {}, ".jpg": {}, ".lz4": {}, ".mkv": {}, ".mov": {},
	".mp3": {}, ".mp4": {}, ".ogg": {}, ".opus": {}, ".png": {},
	".rar": {}, ".s2": {}, ".sz": {}, ".tgz": {}, ".webm": {},
	".webp": {}, ".woff2": {}, ".xz": {}, ".zip": {}, ".zst": {},
}

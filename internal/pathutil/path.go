// Package pathutil handles the slash-separated entry names used to present
// an archive as a directory tree.
package pathutil

import (
	"path"
	"strings"
)

// Base returns the last element of name, or "." for the root.
func Base(name string) string {
	if name == "" || name == "." {
		return "."
	}
	return path.Base(name)
}

// DirPrefix returns the entry-name prefix shared by the children of dir.
// The root maps to the empty prefix.
func DirPrefix(dir string) string {
	if dir == "." || dir == "" {
		return ""
	}
	return dir + "/"
}

// Child returns the first path element of name below prefix and whether
// further elements follow it, meaning the child is a directory.
func Child(name, prefix string) (child string, isDir bool) {
	rel := strings.TrimPrefix(name, prefix)
	if i := strings.IndexByte(rel, '/'); i >= 0 {
		return rel[:i], true
	}
	return rel, false
}

// Join joins a prefix and a relative slash path into an entry name.
func Join(prefix, rel string) string {
	if prefix == "" || prefix == "." {
		return rel
	}
	return path.Join(prefix, rel)
}

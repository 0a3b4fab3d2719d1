// Package index provides the sorted entry map backing a table of contents.
//
// Entries are kept in byte-wise name order so that serialization is
// deterministic and lookups are binary searches.
package index

import (
	"cmp"
	"iter"
	"slices"
	"strings"

	"github.com/meigma/depot/internal/format"
)

// Index is an immutable, name-sorted view over TOC entries.
// It is safe for concurrent use.
type Index struct {
	entries []format.Entry
}

// New wraps entries, which must be sorted by name without duplicates.
func New(entries []format.Entry) *Index {
	return &Index{entries: entries}
}

func compareName(e format.Entry, name string) int {
	return cmp.Compare(e.Name, name)
}

// Lookup returns the entry with the given name.
func (x *Index) Lookup(name string) (format.Entry, bool) {
	i, ok := slices.BinarySearchFunc(x.entries, name, compareName)
	if !ok {
		return format.Entry{}, false
	}
	return x.entries[i], true
}

// Len returns the number of entries.
func (x *Index) Len() int {
	return len(x.entries)
}

// At returns the i'th entry in name order.
func (x *Index) At(i int) format.Entry {
	return x.entries[i]
}

// All iterates entries in name order.
func (x *Index) All() iter.Seq[format.Entry] {
	return func(yield func(format.Entry) bool) {
		for _, e := range x.entries {
			if !yield(e) {
				return
			}
		}
	}
}

// Names returns all entry names in order.
func (x *Index) Names() []string {
	names := make([]string, len(x.entries))
	for i := range x.entries {
		names[i] = x.entries[i].Name
	}
	return names
}

// WithPrefix iterates, in name order, the entries whose name starts with prefix.
func (x *Index) WithPrefix(prefix string) iter.Seq[format.Entry] {
	return func(yield func(format.Entry) bool) {
		i, _ := slices.BinarySearchFunc(x.entries, prefix, compareName)
		for ; i < len(x.entries); i++ {
			if !strings.HasPrefix(x.entries[i].Name, prefix) {
				return
			}
			if !yield(x.entries[i]) {
				return
			}
		}
	}
}

// HasPrefix reports whether any entry name starts with prefix.
func (x *Index) HasPrefix(prefix string) bool {
	for range x.WithPrefix(prefix) {
		return true
	}
	return false
}

// Builder accumulates entries during writing and rejects duplicate names.
type Builder struct {
	seen    map[string]struct{}
	entries []format.Entry
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{seen: make(map[string]struct{})}
}

// Has reports whether name was already added.
func (b *Builder) Has(name string) bool {
	_, ok := b.seen[name]
	return ok
}

// Add records e. It returns format.ErrNameDuplicate if the name is taken.
func (b *Builder) Add(e format.Entry) error {
	if b.Has(e.Name) {
		return format.ErrNameDuplicate
	}
	b.seen[e.Name] = struct{}{}
	b.entries = append(b.entries, e)
	return nil
}

// Len returns the number of entries added.
func (b *Builder) Len() int {
	return len(b.entries)
}

// Sorted returns a name-sorted copy of the entries.
func (b *Builder) Sorted() []format.Entry {
	out := slices.Clone(b.entries)
	slices.SortFunc(out, func(a, b format.Entry) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return out
}

package pathutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBase(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ".", Base("."))
	assert.Equal(t, ".", Base(""))
	assert.Equal(t, "c.txt", Base("a/b/c.txt"))
	assert.Equal(t, "top", Base("top"))
}

func TestChild(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name, prefix string
		child        string
		isDir        bool
	}{
		{"a/b/c", "a/", "b", true},
		{"a/b", "a/", "b", false},
		{"x", "", "x", false},
		{"x/y", "", "x", true},
	}
	for _, tt := range tests {
		child, isDir := Child(tt.name, tt.prefix)
		assert.Equal(t, tt.child, child, tt.name)
		assert.Equal(t, tt.isDir, isDir, tt.name)
	}
}

func TestDirPrefixAndJoin(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", DirPrefix("."))
	assert.Equal(t, "a/b/", DirPrefix("a/b"))
	assert.Equal(t, "f.txt", Join(".", "f.txt"))
	assert.Equal(t, "pre/f.txt", Join("pre", "f.txt"))
}

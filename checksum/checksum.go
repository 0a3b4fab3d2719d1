// Package checksum provides the 64-bit content digests stored in depot
// entries.
package checksum

import (
	"errors"
	"fmt"
	"hash"
	"hash/crc64"
	"hash/fnv"

	"github.com/cespare/xxhash/v2"
)

// HashFunc constructs a fresh 64-bit hash.
type HashFunc func() hash.Hash64

// ErrUnknownHash is returned by ByName for unknown hash names.
var ErrUnknownHash = errors.New("checksum: unknown hash")

// XXH64 is the default digest.
func XXH64() hash.Hash64 { return xxhash.New() }

// FNV64a is the 64-bit FNV-1a digest.
func FNV64a() hash.Hash64 { return fnv.New64a() }

var ecmaTable = crc64.MakeTable(crc64.ECMA)

// CRC64 is the ECMA-182 CRC.
func CRC64() hash.Hash64 { return crc64.New(ecmaTable) }

// Default returns the digest used when none is configured.
func Default() HashFunc { return XXH64 }

// Sum returns the digest of p.
func Sum(fn HashFunc, p []byte) uint64 {
	h := fn()
	_, _ = h.Write(p) //nolint:errcheck // hash writes never fail
	return h.Sum64()
}

// ByName resolves "xxh64", "fnv64a" or "crc64".
func ByName(name string) (HashFunc, error) {
	switch name {
	case "xxh64", "xxhash", "":
		return XXH64, nil
	case "fnv64a":
		return FNV64a, nil
	case "crc64":
		return CRC64, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownHash, name)
}

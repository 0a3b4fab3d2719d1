package format

import (
	"fmt"
	"time"
)

// Timestamp is an instant paired with the timezone offset it was recorded in.
//
// On the wire it occupies 8 bytes: the upper 32 bits hold Unix seconds and
// the lower 32 bits hold the offset in seconds east of UTC, both as signed
// two's complement values.
type Timestamp struct {
	Unix   int32
	Offset int32
}

// TimestampOf converts t to a Timestamp, keeping its zone offset.
// Sub-second precision is dropped.
func TimestampOf(t time.Time) Timestamp {
	_, offset := t.Zone()
	return Timestamp{
		Unix:   int32(t.Unix()), //nolint:gosec // wire format carries 32-bit seconds
		Offset: int32(offset),   //nolint:gosec // zone offsets fit in 32 bits
	}
}

// Time returns ts as a time.Time in a fixed zone with the recorded offset.
func (ts Timestamp) Time() time.Time {
	return time.Unix(int64(ts.Unix), 0).In(time.FixedZone("", int(ts.Offset)))
}

// IsZero reports whether ts is the zero timestamp.
func (ts Timestamp) IsZero() bool {
	return ts == Timestamp{}
}

// Pack returns the 64-bit wire form of ts.
func (ts Timestamp) Pack() uint64 {
	return uint64(uint32(ts.Unix))<<32 | uint64(uint32(ts.Offset)) //nolint:gosec // bit packing
}

// UnpackTimestamp is the inverse of Timestamp.Pack.
func UnpackTimestamp(v uint64) Timestamp {
	return Timestamp{
		Unix:   int32(uint32(v >> 32)), //nolint:gosec // bit unpacking
		Offset: int32(uint32(v)),       //nolint:gosec // bit unpacking
	}
}

// String formats ts in RFC 3339 with its recorded offset.
func (ts Timestamp) String() string {
	return ts.Time().Format(time.RFC3339)
}

// GoString implements fmt.GoStringer so TOC dumps stay readable.
func (ts Timestamp) GoString() string {
	return fmt.Sprintf("format.Timestamp{%s}", ts.String())
}

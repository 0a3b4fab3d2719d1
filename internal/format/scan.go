package format

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

// scanBufferSize is the read-ahead window used by Scan.
const scanBufferSize = 64 << 10

// Scan searches r forward for the depot magic and returns the first header
// that decodes, along with its byte position in r.
//
// At most budget bytes are consumed; a budget <= 0 means no limit. Scan
// returns ErrNotFound when the input or budget is exhausted. Candidates with
// an unknown version are skipped, and if nothing else was found Scan returns
// ErrUnsupportedVersion instead of ErrNotFound.
func Scan(r io.Reader, budget int64) (Header, int64, error) {
	if budget > 0 {
		r = io.LimitReader(r, budget)
	}
	br := bufio.NewReaderSize(r, scanBufferSize)
	magic := []byte(Magic)

	var (
		pos        int64
		badVersion error
	)
	notFound := func() (Header, int64, error) {
		if badVersion != nil {
			return Header{}, 0, badVersion
		}
		return Header{}, 0, ErrNotFound
	}
	discard := func(n int) error {
		d, err := br.Discard(n)
		pos += int64(d)
		return err
	}

	for {
		window, err := br.Peek(scanBufferSize)
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
			return Header{}, 0, err
		}
		if len(window) < HeaderSize {
			return notFound()
		}

		i := bytes.Index(window, magic)
		if i < 0 {
			// Keep a tail in case the magic straddles the window boundary.
			if derr := discard(len(window) - (MagicSize - 1)); derr != nil {
				return Header{}, 0, derr
			}
			continue
		}
		if i+HeaderSize > len(window) {
			if i == 0 {
				return notFound()
			}
			if derr := discard(i); derr != nil {
				return Header{}, 0, derr
			}
			continue
		}

		var h Header
		decodeErr := h.UnmarshalBinary(window[i : i+HeaderSize])
		if decodeErr == nil {
			return h, pos + int64(i), nil
		}
		if errors.Is(decodeErr, ErrUnsupportedVersion) {
			badVersion = decodeErr
		}
		if derr := discard(i + 1); derr != nil {
			return Header{}, 0, derr
		}
	}
}

// Package devtools implements the wire-level plumbing of the Chrome
// DevTools Protocol: base64 stream decoding, the JSON envelope, and a
// multiplexed connection shared by many concurrent callers.
package devtools

import (
	"encoding/base64"
	"fmt"
)

// Base64Decoder incrementally decodes a base64 text stream split across an
// arbitrary number of chunks, tolerating whitespace anywhere in or between
// chunks. It is not safe for concurrent use; callers serialize pushes
// themselves (the page render loop is single-goroutine per stream).
type Base64Decoder struct {
	remainder [4]byte
	remLen    int
	scratch   []byte
}

// Reset discards any buffered remainder, so the decoder can be reused for
// another stream after a stream handle is closed.
func (d *Base64Decoder) Reset() {
	d.remLen = 0
}

// filter strips whitespace from chunk into the decoder's reusable scratch
// buffer, prefixed with any remainder carried over from the previous
// push, and banks the new sub-group remainder. The returned slice is the
// whole-group prefix ready for decoding; it is only valid until the next
// call.
func (d *Base64Decoder) filter(chunk []byte) []byte {
	filtered := append(d.scratch[:0], d.remainder[:d.remLen]...)

	for _, b := range chunk {
		if isBase64Space(b) {
			continue
		}

		filtered = append(filtered, b)
	}

	d.scratch = filtered

	usable := (len(filtered) / 4) * 4
	d.remLen = copy(d.remainder[:], filtered[usable:])

	return filtered[:usable]
}

func isBase64Space(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\v', '\f', '\r':
		return true
	}

	return false
}

// Push decodes chunk, returning the bytes it could fully decode in a
// freshly allocated slice. Up to three trailing base64 characters that
// don't complete a 4-byte group are buffered internally and joined with
// the next call.
func (d *Base64Decoder) Push(chunk []byte) ([]byte, error) {
	usable := d.filter(chunk)
	if len(usable) == 0 {
		return nil, nil
	}

	out := make([]byte, base64.StdEncoding.DecodedLen(len(usable)))

	n, err := base64.StdEncoding.Decode(out, usable)
	if err != nil {
		return nil, fmt.Errorf("devtools: malformed base64 chunk: %w", err)
	}

	return out[:n], nil
}

// PushInto behaves like Push but decodes straight into dst, growing it
// only when its capacity falls short. Passing the previous call's return
// value back in keeps one buffer cycling through the whole stream; this
// is the allocation-amortized bulk path the render loop uses.
func (d *Base64Decoder) PushInto(dst, chunk []byte) ([]byte, error) {
	usable := d.filter(chunk)
	if len(usable) == 0 {
		return dst[:0], nil
	}

	need := base64.StdEncoding.DecodedLen(len(usable))
	if cap(dst) < need {
		dst = make([]byte, need)
	}

	dst = dst[:need]

	n, err := base64.StdEncoding.Decode(dst, usable)
	if err != nil {
		return nil, fmt.Errorf("devtools: malformed base64 chunk: %w", err)
	}

	return dst[:n], nil
}

// Package framing implements the length-prefixed wire framing used by every
// byte channel: a 4-byte big-endian length prefix followed by that many
// bytes of UTF-8 JSON payload.
package framing

import (
	"encoding/binary"
	"fmt"
)

// LengthPrefixSize is the width, in bytes, of the frame's length prefix.
const LengthPrefixSize = 4

// MaxFrameLength is the largest payload a frame may carry, matching the
// 1 MiB cap enforced by the original socket channel implementation.
const MaxFrameLength = 1024 * 1024

// Frame prepends a 4-byte big-endian length prefix to payload.
func Frame(payload []byte) ([]byte, error) {
	if len(payload) > MaxFrameLength {
		return nil, fmt.Errorf("framing: payload length %d exceeds max frame length %d", len(payload), MaxFrameLength)
	}
	out := make([]byte, LengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(out[:LengthPrefixSize], uint32(len(payload)))
	copy(out[LengthPrefixSize:], payload)
	return out, nil
}

// ParseLength decodes the 4-byte big-endian length prefix from header, which
// must be at least LengthPrefixSize bytes long.
func ParseLength(header []byte) (int, error) {
	if len(header) < LengthPrefixSize {
		return 0, fmt.Errorf("framing: header too short: %d bytes", len(header))
	}
	n := binary.BigEndian.Uint32(header[:LengthPrefixSize])
	if n > MaxFrameLength {
		return 0, fmt.Errorf("framing: declared length %d exceeds max frame length %d", n, MaxFrameLength)
	}
	return int(n), nil
}

// Unframe strips the length prefix from a complete framed message and
// returns the payload, verifying the prefix matches the remaining bytes.
func Unframe(framed []byte) ([]byte, error) {
	n, err := ParseLength(framed)
	if err != nil {
		return nil, err
	}
	if len(framed) != LengthPrefixSize+n {
		return nil, fmt.Errorf("framing: declared length %d does not match body length %d", n, len(framed)-LengthPrefixSize)
	}
	return framed[LengthPrefixSize:], nil
}

// IsValidFrame reports whether framed is a well-formed frame: long enough to
// hold a length prefix, within the size cap, and exactly matching its
// declared length.
func IsValidFrame(framed []byte) bool {
	_, err := Unframe(framed)
	return err == nil
}

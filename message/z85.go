package message

import (
	"errors"
	"fmt"
)

// z85Alphabet is the standard ZeroMQ Z85 alphabet (85 printable characters).
const z85Alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ.-:+=^!/*?&<>()[]{}@%$#"

var z85Decode [256]int8

func init() {
	for i := range z85Decode {
		z85Decode[i] = -1
	}
	for i, c := range []byte(z85Alphabet) {
		z85Decode[c] = int8(i)
	}
}

// ErrNotAligned is returned when a buffer's length is not a multiple of 4
// (required by Z85 encoding) or a Z85 string's length is not a multiple of 5.
var ErrNotAligned = errors.New("message: buffer not 4-byte aligned for z85")

// z85Encode encodes a 4-byte-aligned buffer into a Z85 transport string.
// Callers are responsible for padding (see padTo4) before calling this —
// brypt never lets the encoder itself invent padding, so no trailing
// sentinel byte is ever silently introduced.
func z85Encode(data []byte) (string, error) {
	if len(data)%4 != 0 {
		return "", ErrNotAligned
	}
	out := make([]byte, 0, len(data)/4*5)
	for i := 0; i < len(data); i += 4 {
		value := uint32(data[i])<<24 | uint32(data[i+1])<<16 | uint32(data[i+2])<<8 | uint32(data[i+3])
		var chunk [5]byte
		for j := 4; j >= 0; j-- {
			chunk[j] = z85Alphabet[value%85]
			value /= 85
		}
		out = append(out, chunk[:]...)
	}
	return string(out), nil
}

// z85DecodeString decodes a Z85 string whose length must be a multiple of 5.
func z85DecodeString(s string) ([]byte, error) {
	if len(s)%5 != 0 {
		return nil, fmt.Errorf("message: %w: z85 string length %d", ErrNotAligned, len(s))
	}
	out := make([]byte, 0, len(s)/5*4)
	for i := 0; i < len(s); i += 5 {
		var value uint32
		for j := 0; j < 5; j++ {
			c := s[i+j]
			d := z85Decode[c]
			if d < 0 {
				return nil, fmt.Errorf("message: invalid z85 character %q", c)
			}
			value = value*85 + uint32(d)
		}
		out = append(out, byte(value>>24), byte(value>>16), byte(value>>8), byte(value))
	}
	return out, nil
}

// padTo4 pads data with zero bytes up to the next 4-byte boundary, returning
// the padded buffer and the number of padding bytes added.
func padTo4(data []byte) ([]byte, int) {
	rem := len(data) % 4
	if rem == 0 {
		return data, 0
	}
	pad := 4 - rem
	out := make([]byte, len(data)+pad)
	copy(out, data)
	return out, pad
}

// z85BlockForBytes returns the number of Z85 characters that must be decoded
// to guarantee at least n raw bytes are available, rounded up to a whole
// 5-character block (4 decoded bytes each).
func z85BlockForBytes(n int) int {
	blocks := (n + 3) / 4
	return blocks * 5
}

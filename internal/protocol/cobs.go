package protocol

import "fmt"

// Encode byte-stuffs src so the result contains no 0x00. A run of 254
// non-zero bytes is emitted behind a 0xFF code, which implies no zero.
// The trailing implicit zero is always encoded, so Encode(nil) is {0x01}.
func Encode(src []byte) []byte {
	out := make([]byte, 0, len(src)+len(src)/254+2)
	finalZero := true
	start := 0
	for idx, c := range src {
		if c == 0 {
			finalZero = true
			out = append(out, byte(idx-start+1))
			out = append(out, src[start:idx]...)
			start = idx + 1
		} else if idx-start == 0xFD {
			finalZero = false
			out = append(out, 0xFF)
			out = append(out, src[start:idx+1]...)
			start = idx + 1
		}
	}
	if len(src) != start || finalZero {
		out = append(out, byte(len(src)-start+1))
		out = append(out, src[start:]...)
	}
	return out
}

// Decode reverses Encode. The delimiter must already be stripped.
func Decode(src []byte) ([]byte, error) {
	out := make([]byte, 0, len(src))
	for i := 0; i < len(src); {
		code := src[i]
		if code == 0 {
			return nil, fmt.Errorf("%w: zero code byte at offset %d", ErrCOBS, i)
		}
		i++
		n := int(code) - 1
		if i+n > len(src) {
			return nil, fmt.Errorf("%w: run of %d overruns input at offset %d", ErrCOBS, n, i-1)
		}
		for _, b := range src[i : i+n] {
			if b == 0 {
				return nil, fmt.Errorf("%w: zero byte inside run", ErrCOBS)
			}
		}
		out = append(out, src[i:i+n]...)
		i += n
		if code != 0xFF && i < len(src) {
			out = append(out, 0)
		}
	}
	return out, nil
}

package bridge

import (
	"strings"
	"unicode/utf8"
)

// decodeChunk appends chunk to the bytes carried over from the previous read
// and returns the decodable text plus the trailing bytes of a rune that is
// still incomplete. Invalid sequences become U+FFFD.
func decodeChunk(carry, chunk []byte) (string, []byte) {
	data := chunk
	if len(carry) > 0 {
		data = append(carry, chunk...)
	}
	cut := incompleteTail(data)
	text := strings.ToValidUTF8(string(data[:len(data)-cut]), string(utf8.RuneError))
	if cut == 0 {
		return text, nil
	}
	rest := make([]byte, cut)
	copy(rest, data[len(data)-cut:])
	return text, rest
}

// incompleteTail returns how many trailing bytes of p form the start of a
// multi-byte rune that has not been fully read yet.
func incompleteTail(p []byte) int {
	for i := 1; i < utf8.UTFMax && i <= len(p); i++ {
		if utf8.RuneStart(p[len(p)-i]) {
			if utf8.FullRune(p[len(p)-i:]) {
				return 0
			}
			return i
		}
	}
	return 0
}

// flushCarry renders bytes left over when the stream ends mid-rune.
func flushCarry(carry []byte) string {
	return strings.ToValidUTF8(string(carry), string(utf8.RuneError))
}

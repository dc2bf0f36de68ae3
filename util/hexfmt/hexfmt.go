/*
 * ps3core - Hex formatting and parsing helpers.
 *
 * Adapted from S370's util/hex package (Copyright 2024, Richard Cornwell),
 * which only formatted hex for disassembly output. ParseBytes runs the same
 * digit table in reverse to decode the key database's colon/whitespace
 * tolerant hex fields (spec.md §6).
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

package hexfmt

import (
	"fmt"
	"strings"
)

var hexMap = "0123456789abcdef"

// FormatWords renders a slice of 32-bit words as space-separated 8-digit hex.
func FormatWords(str *strings.Builder, words []uint32) {
	for _, full := range words {
		shift := 28
		for i := 0; i < 8; i++ {
			str.WriteByte(hexMap[(full>>shift)&0xf])
			shift -= 4
		}
		str.WriteByte(' ')
	}
}

// FormatBytes renders a byte slice as hex digit pairs, optionally
// space-separated.
func FormatBytes(str *strings.Builder, space bool, data []byte) {
	for _, by := range data {
		str.WriteByte(hexMap[(by>>4)&0xf])
		str.WriteByte(hexMap[by&0xf])
		if space {
			str.WriteByte(' ')
		}
	}
}

func digit(c byte) (int, bool) {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0'), true
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10, true
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10, true
	default:
		return 0, false
	}
}

// ParseBytes decodes a hex string into bytes, tolerating ':' and whitespace
// as separators between byte pairs (key database format, spec.md §6).
func ParseBytes(s string) ([]byte, error) {
	var out []byte
	var hi int
	haveHi := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == ':' || c == ' ' || c == '\t' {
			continue
		}
		d, ok := digit(c)
		if !ok {
			return nil, fmt.Errorf("hexfmt: invalid hex digit %q at offset %d", c, i)
		}
		if !haveHi {
			hi = d
			haveHi = true
			continue
		}
		out = append(out, byte(hi<<4|d))
		haveHi = false
	}
	if haveHi {
		return nil, fmt.Errorf("hexfmt: odd number of hex digits in %q", s)
	}
	return out, nil
}

/*
 * ps3core - Memory examine/deposit commands.
 *
 * Adapted from S370's command/parser/mem_commands.go (Copyright 2024,
 * Richard Cornwell): the same -b/-h/-w word-size option flags and
 * comma/space separated deposit-value grammar, generalized from the
 * mainframe's register/PSW display modes (which have no analog here) to
 * plain byte/halfword/word/doubleword access against the shared memory
 * manager (spec.md §4.A, §5).
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

package parser

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/cellcore/ps3core/machine"
)

type memoryOpts struct {
	wordSize int // 1, 2, 4 or 8 bytes; defaults to 4.
	decimal  bool
	char     bool
}

// Parse any leading -b/-h/-w/-d/-c option flags, stopping at the first
// character that isn't part of an option.
func (line *cmdLine) parseMemoryOptions(opts *memoryOpts) error {
	for {
		line.skipSpace()
		if line.isEOL() || line.line[line.pos] != '-' {
			return nil
		}
		line.pos++
		for !line.isEOL() && !unicode.IsSpace(rune(line.line[line.pos])) {
			switch line.line[line.pos] {
			case 'b':
				opts.wordSize = 1
			case 'h':
				opts.wordSize = 2
			case 'w':
				opts.wordSize = 4
			case 'g':
				opts.wordSize = 8
			case 'd':
				opts.decimal = true
			case 'c':
				opts.char = true
			default:
				return fmt.Errorf("option invalid: -%c", line.line[line.pos])
			}
			line.pos++
		}
	}
}

func (o *memoryOpts) size() int {
	if o.wordSize == 0 {
		return 4
	}
	return o.wordSize
}

// Display a range of memory starting at a hex address, in the width the
// -b/-h/-w/-g flags select (default word, 4 bytes) and for the count of
// units the optional trailing decimal count gives (default 1).
func examine(line *cmdLine, m *machine.Machine) (bool, error) {
	var opts memoryOpts
	if err := line.parseMemoryOptions(&opts); err != nil {
		return false, err
	}
	addr, err := line.getHex()
	if err != nil {
		return false, errors.New("examine requires a hex address")
	}
	count, err := line.getNumber()
	if err != nil {
		count = 1
	}

	var b strings.Builder
	width := opts.size()
	for i := uint32(0); i < count; i++ {
		cur := addr + i*uint32(width)
		val, err := readMemWidth(m, cur, width)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(&b, "%#010x: ", cur)
		if opts.decimal {
			fmt.Fprintf(&b, "%d", val)
		} else {
			fmt.Fprintf(&b, "%0*x", width*2, val)
		}
		if opts.char {
			fmt.Fprintf(&b, " %s", printableBytes(val, width))
		}
		b.WriteByte('\n')
	}
	fmt.Print(b.String())
	return false, nil
}

func readMemWidth(m *machine.Machine, addr uint32, width int) (uint64, error) {
	switch width {
	case 1:
		v, err := m.Mem.ReadU8(addr)
		return uint64(v), err
	case 2:
		v, err := m.Mem.ReadU16(addr)
		return uint64(v), err
	case 4:
		v, err := m.Mem.ReadU32(addr)
		return uint64(v), err
	case 8:
		return m.Mem.ReadU64(addr)
	default:
		return 0, fmt.Errorf("unsupported width %d", width)
	}
}

func writeMemWidth(m *machine.Machine, addr uint32, width int, val uint64) error {
	switch width {
	case 1:
		return m.Mem.WriteU8(addr, uint8(val))
	case 2:
		return m.Mem.WriteU16(addr, uint16(val))
	case 4:
		return m.Mem.WriteU32(addr, uint32(val))
	case 8:
		return m.Mem.WriteU64(addr, val)
	default:
		return fmt.Errorf("unsupported width %d", width)
	}
}

func printableBytes(val uint64, width int) string {
	out := make([]byte, width)
	for i := width - 1; i >= 0; i-- {
		by := byte(val)
		val >>= 8
		if by < 0x20 || by > 0x7e {
			by = '.'
		}
		out[i] = by
	}
	return string(out)
}

// Write one or more hex values to successive memory locations starting at
// a hex address, values separated by commas or spaces.
func deposit(line *cmdLine, m *machine.Machine) (bool, error) {
	var opts memoryOpts
	if err := line.parseMemoryOptions(&opts); err != nil {
		return false, err
	}
	addr, err := line.getHex()
	if err != nil {
		return false, errors.New("deposit requires a hex address")
	}

	width := opts.size()
	cur := addr
	for !line.isEOL() {
		line.skipSpace()
		if line.isEOL() {
			break
		}
		val, err := line.getHex()
		if err != nil {
			return false, fmt.Errorf("deposit: %w", err)
		}
		if err := writeMemWidth(m, cur, width, uint64(val)); err != nil {
			return false, err
		}
		cur += uint32(width)
		line.skipSpace()
		if !line.isEOL() && line.line[line.pos] == ',' {
			line.pos++
		}
	}
	return false, nil
}

/*
 * ps3core - Auxiliary-core interpreter and local store.
 *
 * Adapted from S370's emu/cpu instruction-stepping discipline (Copyright
 * 2024, Richard Cornwell): the same fetch/decode/dispatch/advance-PC loop
 * used there for the mainframe CPU is generalized here to a second, simpler
 * 128-bit-register ISA operating on a private local store rather than
 * shared main storage (spec.md §4.D-E).
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

// Package spu implements one auxiliary core: its 256 KiB local store, its
// 128 x 128-bit register file, and the interpreter stepping over them
// (spec.md §4.D-E).
package spu

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cellcore/ps3core/emu/channel"
)

func f32frombits(v uint32) float32 { return math.Float32frombits(v) }
func f32bits(v float32) uint32     { return math.Float32bits(v) }

const LocalStoreSize = 256 * 1024
const lsMask = LocalStoreSize - 1
const NumRegs = 128

// LocalStore is one auxiliary core's private 256 KiB memory, addressed by
// its lower 18 bits. It satisfies mfc.LocalStore.
type LocalStore struct {
	data [LocalStoreSize]byte
}

func NewLocalStore() *LocalStore { return &LocalStore{} }

func (ls *LocalStore) ReadAt(addr uint32, n int) []byte {
	addr &= lsMask
	out := make([]byte, n)
	copy(out, ls.data[addr:])
	return out
}

func (ls *LocalStore) WriteAt(addr uint32, data []byte) {
	addr &= lsMask
	copy(ls.data[addr:], data)
}

func (ls *LocalStore) fetch(pc uint32) uint32 {
	return binary.BigEndian.Uint32(ls.data[pc&lsMask:])
}

// Reg is a 128-bit register represented as four big-endian 32-bit lanes,
// matching memory.ReadV128/WriteV128's word order.
type Reg [4]uint32

// BoundaryKind classifies why Step stopped at a basic-block boundary, kept
// for a future JIT translator (spec.md §4.D-E: "Basic-block boundaries").
type BoundaryKind int

const (
	NotBoundary BoundaryKind = iota
	BoundaryBranch
	BoundaryBranchLink
	BoundaryChannel
	BoundaryStop
)

// Core is one auxiliary core's full execution state.
type Core struct {
	ID      int
	LS      *LocalStore
	Regs    [NumRegs]Reg
	PC      uint32
	Ch      *channel.Set
	Halted  bool
	Status  string
	Blocked bool
}

func New(id int, ls *LocalStore, ch *channel.Set) *Core {
	return &Core{ID: id, LS: ls, Ch: ch}
}

// decoded instruction fields, shared by the RR/RI10 instruction classes
// (spec.md §4.D-E's three encodings).
type fields struct {
	op      uint8
	rt, ra, rb uint8
	imm10   int32
}

func decode(word uint32) fields {
	imm := int32(word & 0x3ff)
	if imm&0x200 != 0 {
		imm -= 0x400
	}
	return fields{
		op:    uint8(word >> 24),
		rt:    uint8((word >> 17) & 0x7f),
		ra:    uint8((word >> 10) & 0x7f),
		rb:    uint8((word >> 3) & 0x7f),
		imm10: imm,
	}
}

// Opcodes. The bit layout is this implementation's own; spec.md leaves the
// auxiliary ISA's concrete encoding unspecified beyond the three formats.
const (
	opStop = 0x00
	opAdd  = 0x01
	opSub  = 0x02
	opMpy  = 0x03
	opAnd  = 0x04
	opOr   = 0x05
	opXor  = 0x06
	opAddI = 0x07
	opAndI = 0x08

	opFA   = 0x10
	opFS   = 0x11
	opFM   = 0x12
	opFMA  = 0x13 // RRR
	opFCGT = 0x14

	opLQD  = 0x20
	opSTQD = 0x21
	opROTQBYI = 0x22

	opBR    = 0x30
	opBRA   = 0x31
	opBRSL  = 0x32
	opBRNZ  = 0x33
	opBRHNZ = 0x34

	opRDCH = 0x40
	opWRCH = 0x41
)

// Step executes exactly one instruction (spec.md §4.D-E execution model).
// It returns the basic-block-boundary classification of the instruction
// just executed. A channel access that would block sets Blocked and leaves
// the program counter unchanged, so the same instruction is retried once
// the scheduler reconsiders this thread.
func (c *Core) Step() (BoundaryKind, error) {
	if c.Halted {
		return BoundaryStop, nil
	}
	word := c.LS.fetch(c.PC)
	f := decode(word)

	if f.op == opFMA {
		rt := uint8((word >> 19) & 0x1f)
		ra := uint8((word >> 14) & 0x1f)
		rb := uint8((word >> 9) & 0x1f)
		rc := uint8((word >> 4) & 0x1f)
		c.execFMA(rt, ra, rb, rc)
		c.PC += 4
		return NotBoundary, nil
	}

	switch f.op {
	case opStop:
		c.Halted = true
		c.Status = "stopped"
		return BoundaryStop, nil

	case opAdd, opSub, opMpy, opAnd, opOr, opXor:
		c.execWordLaneRR(f)
		c.PC += 4
		return NotBoundary, nil

	case opAddI, opAndI:
		c.execWordLaneRI(f)
		c.PC += 4
		return NotBoundary, nil

	case opFA, opFS, opFM, opFCGT:
		c.execFloatLaneRR(f)
		c.PC += 4
		return NotBoundary, nil

	case opLQD:
		addr := (c.Regs[f.ra][3] + uint32(f.imm10)*16) & lsMask
		b := c.LS.ReadAt(addr, 16)
		var r Reg
		for i := range r {
			r[i] = be32(b[i*4:])
		}
		c.Regs[f.rt] = r
		c.PC += 4
		return NotBoundary, nil

	case opSTQD:
		addr := (c.Regs[f.ra][3] + uint32(f.imm10)*16) & lsMask
		buf := make([]byte, 16)
		for i, w := range c.Regs[f.rt] {
			putBe32(buf[i*4:], w)
		}
		c.LS.WriteAt(addr, buf)
		c.PC += 4
		return NotBoundary, nil

	case opROTQBYI:
		c.Regs[f.rt] = rotateBytes(c.Regs[f.ra], int(f.imm10)&0xf)
		c.PC += 4
		return NotBoundary, nil

	case opBR:
		c.PC = uint32(int32(c.PC) + f.imm10*4)
		return BoundaryBranch, nil

	case opBRA:
		c.PC = uint32(f.imm10) * 4
		return BoundaryBranch, nil

	case opBRSL:
		c.Regs[f.rt][3] = c.PC + 4
		c.PC = uint32(int32(c.PC) + f.imm10*4)
		return BoundaryBranchLink, nil

	case opBRNZ:
		if c.Regs[f.ra][3] != 0 {
			c.PC = uint32(int32(c.PC) + f.imm10*4)
		} else {
			c.PC += 4
		}
		return BoundaryBranch, nil

	case opBRHNZ:
		if c.Regs[f.ra][3]&0xffff != 0 {
			c.PC = uint32(int32(c.PC) + f.imm10*4)
		} else {
			c.PC += 4
		}
		return BoundaryBranch, nil

	case opRDCH:
		v, ok := c.Ch.ReadChannel(int(f.imm10))
		if !ok {
			c.Blocked = true
			return BoundaryChannel, nil
		}
		c.Blocked = false
		c.Regs[f.rt] = Reg{0, 0, 0, v}
		c.PC += 4
		return BoundaryChannel, nil

	case opWRCH:
		ok := c.Ch.WriteChannel(int(f.imm10), c.Regs[f.rt][3])
		if !ok {
			c.Blocked = true
			return BoundaryChannel, nil
		}
		c.Blocked = false
		c.PC += 4
		return BoundaryChannel, nil

	default:
		c.Halted = true
		c.Status = fmt.Sprintf("invalid instruction %#02x at %#06x", f.op, c.PC)
		return BoundaryStop, fmt.Errorf("spu: %s", c.Status)
	}
}

func (c *Core) execWordLaneRR(f fields) {
	a, b := c.Regs[f.ra], c.Regs[f.rb]
	var r Reg
	for i := 0; i < 4; i++ {
		switch f.op {
		case opAdd:
			r[i] = a[i] + b[i]
		case opSub:
			r[i] = a[i] - b[i]
		case opMpy:
			r[i] = (a[i] & 0xffff) * (b[i] & 0xffff)
		case opAnd:
			r[i] = a[i] & b[i]
		case opOr:
			r[i] = a[i] | b[i]
		case opXor:
			r[i] = a[i] ^ b[i]
		}
	}
	c.Regs[f.rt] = r
}

func (c *Core) execWordLaneRI(f fields) {
	a := c.Regs[f.ra]
	var r Reg
	imm := uint32(int32(f.imm10))
	for i := 0; i < 4; i++ {
		switch f.op {
		case opAddI:
			r[i] = a[i] + imm
		case opAndI:
			r[i] = a[i] & imm
		}
	}
	c.Regs[f.rt] = r
}

func (c *Core) execFloatLaneRR(f fields) {
	a, b := c.Regs[f.ra], c.Regs[f.rb]
	var r Reg
	for i := 0; i < 4; i++ {
		af, bf := f32frombits(a[i]), f32frombits(b[i])
		switch f.op {
		case opFA:
			r[i] = f32bits(af + bf)
		case opFS:
			r[i] = f32bits(af - bf)
		case opFM:
			r[i] = f32bits(af * bf)
		case opFCGT:
			if af > bf {
				r[i] = 0xffffffff
			}
		}
	}
	c.Regs[f.rt] = r
}

func (c *Core) execFMA(rt, ra, rb, rc uint8) {
	a, b, d := c.Regs[ra], c.Regs[rb], c.Regs[rc]
	var r Reg
	for i := 0; i < 4; i++ {
		af, bf, df := f32frombits(a[i]), f32frombits(b[i]), f32frombits(d[i])
		r[i] = f32bits(af*bf + df)
	}
	c.Regs[rt] = r
}

func rotateBytes(r Reg, n int) Reg {
	var buf [16]byte
	for i, w := range r {
		putBe32(buf[i*4:], w)
	}
	var out [16]byte
	for i := 0; i < 16; i++ {
		out[i] = buf[(i+16-n)%16]
	}
	var res Reg
	for i := range res {
		res[i] = be32(out[i*4:])
	}
	return res
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func putBe32(b []byte, v uint32) {
	b[0], b[1], b[2], b[3] = byte(v>>24), byte(v>>16), byte(v>>8), byte(v)
}

/*
 * ps3core - Primary-core fetch/decode/dispatch loop.
 *
 * Adapted from S370's emu/cpu/cpu.go CycleCPU loop (Copyright 2024, Richard
 * Cornwell): the same fetch-decode-dispatch-advance-PC discipline, and the
 * same two-level (primary + extended opcode) table lookup as its
 * table-driven instruction dispatch, generalized to this ISA's 6-bit
 * primary opcode and per-primary extended-opcode field (spec.md §4.C).
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

package ppu

import (
	"fmt"
)

// InvalidInstruction reports a decode failure (spec.md §7).
type InvalidInstruction struct {
	Opcode  uint32
	Address uint32
}

func (e *InvalidInstruction) Error() string {
	return fmt.Sprintf("ppu: invalid instruction %#08x at %#08x", e.Opcode, e.Address)
}

func sext16(v uint32) int32 { return int32(int16(uint16(v))) }

func sext26(v uint32) int32 {
	v &= 0x03fffffc
	if v&0x02000000 != 0 {
		return int32(v | 0xfc000000)
	}
	return int32(v)
}

func sext16Branch(v uint32) int32 {
	v &= 0xfffc
	if v&0x8000 != 0 {
		return int32(v | 0xffff0000)
	}
	return int32(v)
}

// decode extracts every field any supported format might use; unused
// fields for a given opcode are simply ignored by that opcode's handler,
// the same generic-then-ignore approach the teacher's stepInfo takes.
func decode(word uint32) stepInfo {
	s := stepInfo{
		word: word,
		op:   uint8(word >> 26),
		rt:   uint8((word >> 21) & 0x1f),
		ra:   uint8((word >> 16) & 0x1f),
		rb:   uint8((word >> 11) & 0x1f),
		rc:   uint8((word >> 6) & 0x1f),
		bf:   uint8((word >> 23) & 0x7),
		bfa:  uint8((word >> 18) & 0x7),
		bo:   uint8((word >> 21) & 0x1f),
		bi:   uint8((word >> 16) & 0x1f),
		sh:   uint8((word >> 11) & 0x1f),
		mb:   uint8((word >> 6) & 0x1f),
		me:   uint8((word >> 1) & 0x1f),
		simm: sext16(word),
		uimm: word & 0xffff,
		disp: sext16(word),
		aa:   word&0x2 != 0,
		lk:   word&0x1 != 0,
		rc0:  word&0x1 != 0,
	}
	switch s.op {
	case 31, 19, 63, 59:
		// The 10-bit field at bits 21-30 (bit 31 is Rc, decoded separately
		// as rc0). For A-form float ops under 63/59 this also captures the
		// frC operand in its high 5 bits; see regAform in ppu_float.go,
		// which fans a short 5-bit XO out across every frC value so lookup
		// still hits regardless of which register the instruction names
		// there.
		s.xo = uint16((word >> 1) & 0x3ff)
	case 4:
		// Vector instructions carry no Rc bit; the full 11 bits at
		// bits 21-31 are the extended opcode. VA-form vector ops (select,
		// perm) further split this into a vC operand plus a 6-bit XO; see
		// regVAform in ppu_vector.go.
		s.xo = uint16(word & 0x7ff)
	}
	return s
}

// Step executes exactly one instruction (spec.md §4.C). It returns any
// fault the instruction raised; a fault halts the core per spec.md §7's
// propagation policy, leaving Status/Fault set for the caller to inspect.
func (c *Core) Step() error {
	if c.Status == Halted {
		return nil
	}
	word, err := c.Mem.FetchU32(c.PC)
	if err != nil {
		c.Status = Halted
		c.Fault = err
		return err
	}
	s := decode(word)
	fn := c.lookup(s)
	if fn == nil {
		ii := &InvalidInstruction{Opcode: word, Address: c.PC}
		c.Status = Halted
		c.Fault = ii
		return ii
	}
	nextPC := c.PC + 4
	branched, err := fn(c, &s)
	if err != nil {
		c.Status = Halted
		c.Fault = err
		return err
	}
	if !branched {
		c.PC = nextPC
	}
	return nil
}

// Run steps until stop returns true, the core halts, or a breakpoint or
// trap fires (spec.md §4.C). stop may be nil to mean "run until halted or
// trapped".
func (c *Core) Run(stop func(*Core) bool) error {
	for {
		if c.Status == Halted {
			return c.Fault
		}
		if bp, ok := c.breakpoints[c.PC]; ok && bp(c) {
			c.Status = AtBreakpoint
			return nil
		}
		// opSc restores Running once the dispatcher returns, so a system
		// call is recognised from the instruction word before it executes.
		w, werr := c.Mem.ReadU32(c.PC)
		syscall := werr == nil && w>>26 == 17 && c.Syscall != nil
		if err := c.Step(); err != nil {
			return err
		}
		if syscall || c.Status == Trapped {
			return nil
		}
		if stop != nil && stop(c) {
			return nil
		}
	}
}

// action is one instruction's semantic handler. It returns (true, nil) if
// it altered PC itself (a taken branch), so Step should not also advance
// it by 4.
type action func(*Core, *stepInfo) (bool, error)

func (c *Core) lookup(s stepInfo) action {
	switch s.op {
	case 31:
		return opc31[s.xo]
	case 19:
		return opc19[s.xo]
	case 63:
		return opc63[s.xo]
	case 59:
		return opc59[s.xo]
	case 4:
		return opc4[s.xo]
	default:
		return primary[s.op]
	}
}

var primary [64]action
var opc31 = map[uint16]action{}
var opc19 = map[uint16]action{}
var opc63 = map[uint16]action{}
var opc59 = map[uint16]action{}
var opc4 = map[uint16]action{}

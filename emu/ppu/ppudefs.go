/*
 * ps3core - Primary-core interpreter definitions.
 *
 * Adapted from S370's emu/cpu/cpudefs.go (Copyright 2024, Richard Cornwell):
 * the same {register-file struct, decode-result struct, dispatch-table}
 * shape used there for a 32-bit big-endian mainframe CPU is generalized
 * here to the spec's 64-bit big-endian RISC core with GPR/FPR/VR files and
 * a CR/XER/FPSCR status model (spec.md §3, §4.C).
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

// Package ppu implements the primary core: a 64-bit big-endian RISC
// interpreter over the shared process memory model (spec.md §4.C).
package ppu

import "github.com/cellcore/ps3core/emu/memory"

// V128 is a 128-bit vector register, four big-endian 32-bit lanes,
// matching memory.ReadV128/WriteV128's word order.
type V128 [4]uint32

// XER holds the fixed-point exception bits (spec.md §3).
type XER struct {
	SO bool // summary overflow, sticky
	OV bool // overflow, from most recent record
	CA bool // carry, from most recent record
}

// CRField is one 4-bit condition-register field.
type CRField struct {
	LT, GT, EQ, SO bool
}

func (f CRField) pack() uint8 {
	var v uint8
	if f.LT {
		v |= 8
	}
	if f.GT {
		v |= 4
	}
	if f.EQ {
		v |= 2
	}
	if f.SO {
		v |= 1
	}
	return v
}

func unpackCR(v uint8) CRField {
	return CRField{LT: v&8 != 0, GT: v&4 != 0, EQ: v&2 != 0, SO: v&1 != 0}
}

// RoundingMode names FPSCR's active IEEE-754 rounding mode.
type RoundingMode uint8

const (
	RoundNearest RoundingMode = iota
	RoundToZero
	RoundToPosInf
	RoundToNegInf
)

// FPSCR bit layout, condensed to the fields spec.md §4.C names: rounding
// mode and the five sticky exception flags plus their summary bit.
type FPSCR struct {
	Round RoundingMode

	FX  bool // exception summary, sticky
	VX  bool // invalid-operation sticky
	ZX  bool // zero-divide sticky
	OX  bool // overflow sticky
	UX  bool // underflow sticky
	XX  bool // inexact sticky
}

// stepInfo carries one instruction's decode result to its semantic action,
// mirroring the teacher's stepInfo (cpudefs.go) generalized to this ISA's
// register-index and immediate fields.
type stepInfo struct {
	word uint32 // raw instruction word
	op   uint8  // primary 6-bit opcode
	xo   uint16 // extended opcode, where applicable

	rt, ra, rb, rc uint8 // register fields (destination, two/three sources)
	bf, bfa        uint8 // CR field selectors used by compares/moves
	bo, bi         uint8 // branch condition fields
	sh, mb, me     uint8 // rotate amount / mask begin / mask end

	simm  int32  // sign-extended 16-bit immediate
	uimm  uint32 // zero-extended 16-bit immediate
	disp  int32  // sign-extended displacement (loads/stores, branches)
	aa, lk bool  // absolute-address / link bits
	rc0   bool   // record form requested (Rc bit)
}

// Regs is the primary core's full architected register state (spec.md §3).
type Regs struct {
	GPR [32]uint64
	FPR [32]float64 // stored as IEEE double; single-precision ops narrow on store
	VR  [32]V128

	PC  uint32
	LR  uint32
	CTR uint64

	XER   XER
	CR    [8]CRField
	FPSCR FPSCR
}

// Status names why Step/Run last stopped.
type Status int

const (
	Running Status = iota
	Halted
	Trapped
	AtBreakpoint
)

func (s Status) String() string {
	switch s {
	case Running:
		return "running"
	case Halted:
		return "halted"
	case Trapped:
		return "trapped"
	case AtBreakpoint:
		return "breakpoint"
	default:
		return "unknown"
	}
}

// SyscallDispatcher is the external collaborator a system-call instruction
// transfers control to (spec.md §4.C "System"). The call number is read
// from a designated GPR before Dispatch is invoked.
type SyscallDispatcher interface {
	Dispatch(core *Core, callNumber uint64) error
}

// Core is one primary-core thread's full execution state, bound to the
// shared memory manager it fetches from and reads/writes through.
type Core struct {
	Regs
	Mem    *memory.Manager
	Owner  uint64 // reservation-table owner id for this thread
	Status Status
	Fault  error // last fault/trap detail, for a thread-visible status field (spec.md §7)

	Syscall SyscallDispatcher

	breakpoints map[uint32]func(*Core) bool
}

// New creates a primary-core thread bound to mem, using owner as its
// reservation-table identity.
func New(mem *memory.Manager, owner uint64) *Core {
	c := &Core{Mem: mem, Owner: owner, breakpoints: make(map[uint32]func(*Core) bool)}
	for i := range c.CR {
		c.CR[i] = CRField{}
	}
	return c
}

// SetBreakpoint installs a predicate checked before executing the
// instruction at addr; Run stops (without executing it) when predicate
// returns true or is nil.
func (c *Core) SetBreakpoint(addr uint32, predicate func(*Core) bool) {
	if predicate == nil {
		predicate = func(*Core) bool { return true }
	}
	c.breakpoints[addr] = predicate
}

// ClearBreakpoint removes any breakpoint at addr.
func (c *Core) ClearBreakpoint(addr uint32) {
	delete(c.breakpoints, addr)
}

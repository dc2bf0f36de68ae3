/*
 * ps3core - Primary-core interpreter tests.
 *
 * Grounded in the teacher's table-driven testing.T style (emu/cpu tests).
 */

package ppu

import (
	"testing"

	"github.com/cellcore/ps3core/emu/memory"
)

func newTestCore(t *testing.T) *Core {
	t.Helper()
	mem := memory.New()
	if err := mem.Allocate(0, memory.PageSize, memory.Protection{Read: true, Write: true, Execute: true}); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	return New(mem, 1)
}

func putInstr(t *testing.T, c *Core, addr uint32, word uint32) {
	t.Helper()
	if err := c.Mem.WriteU32(addr, word); err != nil {
		t.Fatalf("write instr: %v", err)
	}
}

// addi RT,RA,SIMM: op=14, rt=6-10, ra=11-15, simm=16-31
func encodeD(op uint8, rt, ra uint8, imm uint16) uint32 {
	return uint32(op)<<26 | uint32(rt)<<21 | uint32(ra)<<16 | uint32(imm)
}

// encodeX builds an X-form word: op, rt, ra, rb, xo (10 bits), rc.
func encodeX(op uint8, rt, ra, rb uint8, xo uint16, rc bool) uint32 {
	w := uint32(op)<<26 | uint32(rt)<<21 | uint32(ra)<<16 | uint32(rb)<<11 | uint32(xo)<<1
	if rc {
		w |= 1
	}
	return w
}

func TestAddiBasic(t *testing.T) {
	c := newTestCore(t)
	putInstr(t, c, 0, encodeD(14, 3, 0, 42)) // addi r3,0,42
	if err := c.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	if c.GPR[3] != 42 {
		t.Fatalf("r3 = %d, want 42", c.GPR[3])
	}
	if c.PC != 4 {
		t.Fatalf("pc = %#x, want 4", c.PC)
	}
}

func TestDivwByZeroSetsOverflow(t *testing.T) {
	c := newTestCore(t)
	c.GPR[4] = 10
	c.GPR[5] = 0
	putInstr(t, c, 0, encodeX(31, 3, 4, 5, 491|0x200, false)) // divwo r3,r4,r5 (OE=1)
	if err := c.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	if c.GPR[3] != 0 {
		t.Fatalf("r3 = %d, want 0", c.GPR[3])
	}
	if !c.XER.OV {
		t.Fatalf("XER.OV not set on divide by zero")
	}
}

func TestDivwMinIntOverMinusOne(t *testing.T) {
	c := newTestCore(t)
	c.GPR[4] = uint64(uint32(0x80000000)) // INT32_MIN
	c.GPR[5] = uint64(uint32(0xffffffff)) // -1
	putInstr(t, c, 0, encodeX(31, 3, 4, 5, 491|0x200, false)) // divwo (OE=1)
	if err := c.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	if c.GPR[3] != 0 {
		t.Fatalf("r3 = %d, want 0", c.GPR[3])
	}
	if !c.XER.OV {
		t.Fatalf("XER.OV not set on MIN_INT/-1")
	}
}

func TestDivwPlainLeavesOverflowUntouched(t *testing.T) {
	c := newTestCore(t)
	c.XER.OV = true // pre-set, to prove OE=0 leaves it alone
	c.GPR[4] = 10
	c.GPR[5] = 0
	putInstr(t, c, 0, encodeX(31, 3, 4, 5, 491, false)) // divw (OE=0)
	if err := c.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	if !c.XER.OV {
		t.Fatalf("XER.OV changed by an OE=0 divw")
	}
}

func TestAndDotSetsCR0(t *testing.T) {
	c := newTestCore(t)
	c.GPR[4] = 0
	c.GPR[5] = 0xff
	// and. r3,r4,r5: AND's X-form is RS(source,bits6-10)/RA(dest,bits11-15)/RB(source,bits16-20).
	putInstr(t, c, 0, encodeX(31, 4, 3, 5, 28, true))
	if err := c.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	if c.GPR[3] != 0 {
		t.Fatalf("r3 = %d, want 0", c.GPR[3])
	}
	if !c.CR[0].EQ {
		t.Fatalf("CR0.EQ not set for zero record-form result")
	}
}

func TestRotateMaskWraparound(t *testing.T) {
	// rlwinm with mb > me wraps around the 32-bit field; verify the mask
	// still selects the expected bits rather than coming out empty.
	mask := rotateMask(28, 3)
	want := uint32(0xf000000f)
	if mask != want {
		t.Fatalf("rotateMask(28,3) = %#08x, want %#08x", mask, want)
	}
}

func TestLoadReserveStoreConditionalRoundTrip(t *testing.T) {
	c := newTestCore(t)
	c.GPR[5] = 0x100
	// lwarx r3,0,r5 ; stwcx. r4,0,r5
	putInstr(t, c, 0, encodeX(31, 3, 0, 5, 20, false))
	putInstr(t, c, 4, encodeX(31, 4, 0, 5, 150, false))
	if err := c.Mem.WriteU32(0x100, 0xdeadbeef); err != nil {
		t.Fatalf("seed: %v", err)
	}
	c.GPR[4] = 0x11223344
	if err := c.Run(func(c *Core) bool { return c.PC >= 8 }); err != nil {
		t.Fatalf("run: %v", err)
	}
	if c.GPR[3] != 0xdeadbeef {
		t.Fatalf("lwarx loaded %#x, want 0xdeadbeef", c.GPR[3])
	}
	if !c.CR[0].EQ {
		t.Fatalf("stwcx. did not report success in CR0.EQ")
	}
	got, err := c.Mem.ReadU32(0x100)
	if err != nil {
		t.Fatalf("readback: %v", err)
	}
	if got != 0x11223344 {
		t.Fatalf("store-conditional did not write; got %#x", got)
	}
}

func TestStoreConditionalFailsAfterInterveningStore(t *testing.T) {
	c := newTestCore(t)
	c.GPR[5] = 0x200
	putInstr(t, c, 0, encodeX(31, 3, 0, 5, 20, false))  // lwarx
	putInstr(t, c, 4, encodeX(31, 6, 0, 5, 151, false)) // stwx (breaks the reservation)
	putInstr(t, c, 8, encodeX(31, 4, 0, 5, 150, false)) // stwcx.
	if err := c.Step(); err != nil {
		t.Fatalf("lwarx: %v", err)
	}
	if err := c.Step(); err != nil {
		t.Fatalf("stwx: %v", err)
	}
	if err := c.Step(); err != nil {
		t.Fatalf("stwcx.: %v", err)
	}
	if c.CR[0].EQ {
		t.Fatalf("stwcx. reported success after an intervening store broke the reservation")
	}
}

func TestUnalignedVectorLoadFaults(t *testing.T) {
	c := newTestCore(t)
	if _, err := c.Mem.ReadV128(1); err == nil {
		t.Fatalf("expected fault on unaligned v128 load")
	}
}

func TestInvalidInstructionHalts(t *testing.T) {
	c := newTestCore(t)
	putInstr(t, c, 0, 0x04000000) // primary opcode 1: no registered opcode
	if err := c.Step(); err == nil {
		t.Fatalf("expected invalid-instruction error")
	}
	if c.Status != Halted {
		t.Fatalf("status = %v, want Halted", c.Status)
	}
}

func TestBreakpointStopsRun(t *testing.T) {
	c := newTestCore(t)
	putInstr(t, c, 0, encodeD(14, 3, 0, 1))
	putInstr(t, c, 4, encodeD(14, 3, 0, 2))
	putInstr(t, c, 8, encodeD(14, 3, 0, 3))
	c.SetBreakpoint(4, nil)
	if err := c.Run(nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	if c.Status != AtBreakpoint || c.PC != 4 {
		t.Fatalf("status=%v pc=%#x, want AtBreakpoint at 4", c.Status, c.PC)
	}
}

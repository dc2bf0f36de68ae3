/*
 * ps3core - Primary-core SIMD-128 instruction tests.
 *
 * Grounded in the teacher's table-driven testing.T style (emu/cpu tests),
 * exercising the pack/unpack/splat-immediate/float-vector family spec.md
 * §4.C names.
 */

package ppu

import (
	"math"
	"testing"
)

func vectorOfFloat32(a, b, c, d float32) V128 {
	return V128{math.Float32bits(a), math.Float32bits(b), math.Float32bits(c), math.Float32bits(d)}
}

func floatsOfVector(v V128) []float32 {
	out := make([]float32, 4)
	for i, w := range v {
		out[i] = math.Float32frombits(w)
	}
	return out
}

func encodeVX(rt, ra, rb uint8, xo uint16) uint32 {
	return uint32(4)<<26 | uint32(rt)<<21 | uint32(ra)<<16 | uint32(rb)<<11 | uint32(xo)&0x7ff
}

func encodeVA(rt, ra, rb, rc uint8, xo6 uint16) uint32 {
	return uint32(4)<<26 | uint32(rt)<<21 | uint32(ra)<<16 | uint32(rb)<<11 | (uint32(rc)<<6 | uint32(xo6)&0x3f)
}

func TestPackHalfSignedSaturates(t *testing.T) {
	c := newTestCore(t)
	c.VR[4] = halfwordsToV128([8]uint16{100, 200, 0x7fff, 0x8000, 0, 0, 0, 0})
	c.VR[5] = V128{}
	putInstr(t, c, 0, encodeVX(3, 4, 5, 0x14c)) // vpkshss-equivalent
	if err := c.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	got := laneBytes(c.VR[3])
	want := [4]byte{100, 127, 127, 128} // 200 and 0x7fff saturate to 127, 0x8000 (-32768) to -128
	for i, w := range want {
		if got[i] != w {
			t.Fatalf("byte %d = %d, want %d", i, got[i], w)
		}
	}
}

func TestPackWordUnsignedSaturates(t *testing.T) {
	c := newTestCore(t)
	c.VR[4] = V128{100, 0x1ffff, 0, 0}
	c.VR[5] = V128{}
	putInstr(t, c, 0, encodeVX(3, 4, 5, 0x18c)) // vpkuwus-equivalent
	if err := c.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	got := halfwords(c.VR[3])
	if got[0] != 100 {
		t.Fatalf("halfword 0 = %d, want 100", got[0])
	}
	if got[1] != 0xffff {
		t.Fatalf("halfword 1 = %#x, want 0xffff", got[1])
	}
}

func TestUnpackByteSignExtends(t *testing.T) {
	c := newTestCore(t)
	var in [16]byte
	in[0] = 0x80 // -128
	in[1] = 0x7f // 127
	c.VR[4] = bytesToV128(in)
	putInstr(t, c, 0, encodeVX(3, 4, 0, 0x20c)) // unpack-high
	if err := c.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	got := halfwords(c.VR[3])
	if int16(got[0]) != -128 {
		t.Fatalf("halfword 0 = %d, want -128", int16(got[0]))
	}
	if int16(got[1]) != 127 {
		t.Fatalf("halfword 1 = %d, want 127", int16(got[1]))
	}
}

func TestSplatImmediateByteSignExtends(t *testing.T) {
	c := newTestCore(t)
	// ra carries the 5-bit immediate directly; -3 & 0x1f == 0x1d.
	putInstr(t, c, 0, encodeVX(3, 0x1d, 0, 0x30c))
	if err := c.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	got := laneBytes(c.VR[3])
	for i, b := range got {
		if int8(b) != -3 {
			t.Fatalf("byte %d = %d, want -3", i, int8(b))
		}
	}
}

func TestSaturatingSubtractAllWidths(t *testing.T) {
	c := newTestCore(t)
	c.VR[4] = bytesToV128([16]byte{5, 0x80, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0})
	c.VR[5] = bytesToV128([16]byte{10, 0x7f, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0})
	putInstr(t, c, 0, encodeVX(3, 4, 5, 0x600)) // vsububs
	if err := c.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	got := laneBytes(c.VR[3])
	if got[0] != 0 {
		t.Fatalf("vsububs byte 0 = %d, want 0 (unsigned underflow clamps)", got[0])
	}

	putInstr(t, c, 4, encodeVX(6, 4, 5, 0x700)) // vsubsbs
	if err := c.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	got = laneBytes(c.VR[6])
	if int8(got[1]) != -128 {
		t.Fatalf("vsubsbs byte 1 = %d, want -128 (signed underflow saturates)", int8(got[1]))
	}

	c.VR[7] = halfwordsToV128([8]uint16{5, 0x8000, 0, 0, 0, 0, 0, 0})
	c.VR[8] = halfwordsToV128([8]uint16{10, 0x7fff, 0, 0, 0, 0, 0, 0})
	putInstr(t, c, 8, encodeVX(9, 7, 8, 0x640)) // vsubuhs
	if err := c.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	if halfwords(c.VR[9])[0] != 0 {
		t.Fatalf("vsubuhs halfword 0 = %d, want 0", halfwords(c.VR[9])[0])
	}

	putInstr(t, c, 12, encodeVX(10, 7, 8, 0x740)) // vsubshs
	if err := c.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	if int16(halfwords(c.VR[10])[1]) != -32768 {
		t.Fatalf("vsubshs halfword 1 = %d, want -32768", int16(halfwords(c.VR[10])[1]))
	}

	c.VR[11] = V128{5, 0x80000000, 0, 0}
	c.VR[12] = V128{10, 0x7fffffff, 0, 0}
	putInstr(t, c, 16, encodeVX(13, 11, 12, 0x680)) // vsubuws
	if err := c.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	if c.VR[13][0] != 0 {
		t.Fatalf("vsubuws word 0 = %d, want 0", c.VR[13][0])
	}

	putInstr(t, c, 20, encodeVX(14, 11, 12, 0x780)) // vsubsws
	if err := c.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	if int32(c.VR[14][1]) != -2147483648 {
		t.Fatalf("vsubsws word 1 = %d, want -2147483648", int32(c.VR[14][1]))
	}
}

func TestFloatVectorMaxAndReciprocalEstimate(t *testing.T) {
	c := newTestCore(t)
	c.VR[4] = vectorOfFloat32(1, 5, -2, 9)
	c.VR[5] = vectorOfFloat32(4, 2, -1, 9)
	putInstr(t, c, 0, encodeVX(3, 4, 5, 0x0cc)) // vmaxfp
	if err := c.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	want := []float32{4, 5, -1, 9}
	got := floatsOfVector(c.VR[3])
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("lane %d = %v, want %v", i, got[i], want[i])
		}
	}

	c.VR[6] = vectorOfFloat32(2, 4, 0.5, -8)
	putInstr(t, c, 4, encodeVX(7, 6, 0, 0x18a)) // vrefp
	if err := c.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	re := floatsOfVector(c.VR[7])
	if re[0] != 0.5 || re[1] != 0.25 {
		t.Fatalf("reciprocal estimate = %v, want [0.5 0.25 ...]", re)
	}
}

func TestFloatVectorMultiplyAdd(t *testing.T) {
	c := newTestCore(t)
	c.VR[4] = vectorOfFloat32(2, 3, 4, 5)  // vA
	c.VR[5] = vectorOfFloat32(1, 1, 1, 1)  // vB
	c.VR[6] = vectorOfFloat32(10, 10, 10, 10) // vC
	putInstr(t, c, 0, encodeVA(3, 4, 5, 6, 44)) // vmaddfp: vA*vC+vB
	if err := c.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	want := []float32{21, 31, 41, 51}
	got := floatsOfVector(c.VR[3])
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("lane %d = %v, want %v", i, got[i], want[i])
		}
	}
}

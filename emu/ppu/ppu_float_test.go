/*
 * ps3core - Scalar floating-point exactness and fused multiply-add tests.
 *
 * Grounded in the teacher's table-driven testing.T style (emu/cpu tests),
 * exercising the FPSCR.XX inexact sticky bit and the fused multiply-add
 * family spec.md §4.C names.
 */

package ppu

import "testing"

func encodeAForm(op, rt, ra, rb, rc uint8, xo5 uint16) uint32 {
	return uint32(op)<<26 | uint32(rt)<<21 | uint32(ra)<<16 | uint32(rb)<<11 | uint32(rc)<<6 | uint32(xo5)<<1
}

func TestFaddExactDoesNotSetInexact(t *testing.T) {
	c := newTestCore(t)
	c.FPR[4] = 0.5
	c.FPR[5] = 0.25
	putInstr(t, c, 0, encodeAForm(63, 3, 4, 5, 0, 21)) // fadd
	if err := c.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	if c.FPR[3] != 0.75 {
		t.Fatalf("result = %v, want 0.75", c.FPR[3])
	}
	if c.FPSCR.XX {
		t.Fatal("exact sum set FPSCR.XX")
	}
}

func TestFaddRoundedSetsInexact(t *testing.T) {
	c := newTestCore(t)
	c.FPR[4] = 0.1
	c.FPR[5] = 0.2
	putInstr(t, c, 0, encodeAForm(63, 3, 4, 5, 0, 21)) // fadd
	if err := c.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	if !c.FPSCR.XX {
		t.Fatal("0.1+0.2 rounds on every binary float64 -- expected FPSCR.XX set")
	}
	if !c.FPSCR.FX {
		t.Fatal("FPSCR.XX set without FPSCR.FX")
	}
}

func TestFmulSetsInexactOnRounding(t *testing.T) {
	c := newTestCore(t)
	c.FPR[4] = 0.1
	c.FPR[6] = 0.1 // frC, per the A-form fanout regAform registers fmul under
	putInstr(t, c, 0, encodeAForm(63, 3, 4, 0, 6, 25)) // fmul
	if err := c.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	if !c.FPSCR.XX {
		t.Fatal("0.1*0.1 rounds -- expected FPSCR.XX set")
	}
}

func TestFsqrtExactDoesNotSetInexact(t *testing.T) {
	c := newTestCore(t)
	c.FPR[5] = 4
	putInstr(t, c, 0, encodeAForm(63, 3, 0, 5, 0, 22)) // fsqrt
	if err := c.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	if c.FPR[3] != 2 {
		t.Fatalf("sqrt(4) = %v, want 2", c.FPR[3])
	}
	if c.FPSCR.XX {
		t.Fatal("sqrt(4) is exact -- FPSCR.XX should not be set")
	}
}

func TestFsqrtInexactOnIrrational(t *testing.T) {
	c := newTestCore(t)
	c.FPR[5] = 2
	putInstr(t, c, 0, encodeAForm(63, 3, 0, 5, 0, 22)) // fsqrt
	if err := c.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	if !c.FPSCR.XX {
		t.Fatal("sqrt(2) is irrational -- expected FPSCR.XX set")
	}
}

func TestFresAndFrsqrteAlwaysSetInexact(t *testing.T) {
	c := newTestCore(t)
	c.FPR[5] = 4
	putInstr(t, c, 0, encodeAForm(59, 3, 0, 5, 0, 24)) // fres
	if err := c.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	if !c.FPSCR.XX {
		t.Fatal("reciprocal estimate is architecturally approximate -- expected FPSCR.XX set")
	}

	c.FPSCR.XX = false
	putInstr(t, c, 4, encodeAForm(63, 3, 0, 5, 0, 26)) // frsqrte
	if err := c.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	if !c.FPSCR.XX {
		t.Fatal("reciprocal-square-root estimate is architecturally approximate -- expected FPSCR.XX set")
	}
}

// TestFusedMultiplyAddFamily checks that each fused multiply-add variant
// stores the correct (frA*frC op frB) result and flags FPSCR.XX when that
// single rounding is not exact.
func TestFusedMultiplyAddFamily(t *testing.T) {
	cases := []struct {
		name   string
		xo5    uint16
		single bool
		want   float64
	}{
		{"fmadd", 29, false, 2*3 + 1},
		{"fmsub", 28, false, 2*3 - 1},
		{"fnmadd", 31, false, -(2*3 + 1)},
		{"fnmsub", 30, false, -(2*3 - 1)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestCore(t)
			c.FPR[4] = 2 // frA
			c.FPR[5] = 1 // frB
			c.FPR[6] = 3 // frC
			putInstr(t, c, 0, encodeAForm(63, 3, 4, 5, 6, tc.xo5))
			if err := c.Step(); err != nil {
				t.Fatalf("step: %v", err)
			}
			if c.FPR[3] != tc.want {
				t.Fatalf("%s result = %v, want %v", tc.name, c.FPR[3], tc.want)
			}
			if c.FPSCR.XX {
				t.Fatalf("%s: exact inputs set FPSCR.XX", tc.name)
			}
		})
	}
}

func TestFusedMultiplyAddSingleNarrows(t *testing.T) {
	c := newTestCore(t)
	c.FPR[4] = 2
	c.FPR[5] = 1
	c.FPR[6] = 3
	putInstr(t, c, 0, encodeAForm(59, 3, 4, 5, 6, 29)) // fmadds
	if err := c.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	if c.FPR[3] != 7 {
		t.Fatalf("fmadds result = %v, want 7", c.FPR[3])
	}
}

func TestFusedMultiplyAddSetsInexactOnRounding(t *testing.T) {
	c := newTestCore(t)
	c.FPR[4] = 0.1
	c.FPR[5] = 0.2
	c.FPR[6] = 0.1
	putInstr(t, c, 0, encodeAForm(63, 3, 4, 5, 6, 29)) // fmadd
	if err := c.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	if !c.FPSCR.XX {
		t.Fatal("0.1*0.1+0.2 rounds -- expected FPSCR.XX set")
	}
}

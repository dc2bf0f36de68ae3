/*
 * ps3core - Primary-core integer, logical, branch and load/store execution.
 *
 * Adapted from S370's emu/cpu/cpu_standard.go (Copyright 2024, Richard
 * Cornwell): the same one-function-per-opcode, dispatch-table-registered
 * style, generalized from 32-bit two's-complement mainframe arithmetic to
 * this ISA's 64-bit GPRs with 32-bit-result "word" forms, CR0 record-form
 * side effects, and XER carry/overflow (spec.md §4.C).
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

import "github.com/cellcore/ps3core/emu/memory"

// regXO registers an XO-form action under both its OE=0 and OE=1 encodings;
// bit 9 of the resulting table index (0x200) is XO-form's OE bit, still
// visible to the handler as s.xo&0x200, so a shared handler can gate its
// own XER.OV/SO update on it rather than needing two closures.
func regXO(xo uint16, fn action) {
	opc31[xo] = fn
	opc31[xo|0x200] = fn
}

// oeBit reports whether the decoded XO-form instruction set OE=1, the only
// case real POWER/PPC updates XER.OV/SO for (plain add/subf/mullw/divw/
// divwu with OE=0 leave XER untouched).
func oeBit(s *stepInfo) bool {
	return s.xo&0x200 != 0
}

// setCR0 implements the record-form convention spec.md §4.C names: CR0's
// LT/GT/EQ come from the signed 64-bit result, SO is copied from XER.SO.
func (c *Core) setCR0(result uint64) {
	var f CRField
	switch {
	case int64(result) < 0:
		f.LT = true
	case int64(result) > 0:
		f.GT = true
	default:
		f.EQ = true
	}
	f.SO = c.XER.SO
	c.CR[0] = f
}

func setOV(c *Core, overflow bool) {
	c.XER.OV = overflow
	if overflow {
		c.XER.SO = true
	}
}

func init() {
	primary[14] = opAddi   // addi
	primary[15] = opAddis  // addis
	primary[13] = opSubfic // subfic (D-form)
	primary[24] = opOri
	primary[25] = opOris
	primary[26] = opXori
	primary[27] = opXoris
	primary[28] = opAndiDot
	primary[29] = opAndisDot
	primary[11] = opCmpi
	primary[10] = opCmpli
	primary[7] = opMulli
	primary[20] = opRlwimi
	primary[21] = opRlwinm
	primary[23] = opRlwnm
	primary[18] = opB
	primary[16] = opBc
	primary[17] = opSc

	primary[32] = opLoadStore(4, false, false, false)  // lwz
	primary[33] = opLoadStore(4, false, false, true)   // lwzu
	primary[34] = opLoadStore(1, false, false, false)  // lbz
	primary[35] = opLoadStore(1, false, false, true)   // lbzu
	primary[40] = opLoadStore(2, false, false, false)  // lhz
	primary[41] = opLoadStore(2, false, false, true)   // lhzu
	primary[42] = opLoadStore(2, true, false, false)   // lha
	primary[43] = opLoadStore(2, true, false, true)    // lhau
	primary[36] = opLoadStore(4, false, true, false)   // stw
	primary[37] = opLoadStore(4, false, true, true)    // stwu
	primary[38] = opLoadStore(1, false, true, false)   // stb
	primary[39] = opLoadStore(1, false, true, true)    // stbu
	primary[44] = opLoadStore(2, false, true, false)   // sth
	primary[45] = opLoadStore(2, false, true, true)    // sthu
	primary[58] = opLoadDoubleword
	primary[62] = opStoreDoubleword

	regXO(266, opAdd)
	regXO(10, opAddc)
	regXO(138, opAdde)
	regXO(40, opSubf)
	regXO(8, opSubfc)
	regXO(136, opSubfe)
	regXO(235, opMullw)
	opc31[75] = opMulhw
	opc31[75|0x200] = opMulhw
	opc31[11] = opMulhwu
	opc31[11|0x200] = opMulhwu
	regXO(491, opDivw)
	regXO(459, opDivwu)

	opc31[28] = opAnd
	opc31[444] = opOr
	opc31[316] = opXor
	opc31[476] = opNand
	opc31[124] = opNor
	opc31[60] = opAndc
	opc31[412] = opOrc
	opc31[284] = opEqv
	opc31[24] = opSlw
	opc31[536] = opSrw
	opc31[792] = opSraw
	opc31[824] = opSrawi
	opc31[0] = opCmp
	opc31[32] = opCmpl

	opc31[20] = opLwarx
	opc31[84] = opLdarx
	opc31[150] = opStwcx
	opc31[214] = opStdcx

	opc31[23] = opLwzx
	opc31[151] = opStwx
	opc31[87] = opLbzx
	opc31[215] = opStbx
	opc31[279] = opLhzx
	opc31[407] = opSthx
	opc31[21] = opLdx
	opc31[149] = opStdx

	opc31[598] = opNoop // sync
	opc31[278] = opNoop // dcbt
	opc31[54] = opNoop  // dcbst
	opc31[982] = opNoop // icbi
	opc19[150] = opNoop // isync

	opc19[16] = opBclr
	opc19[528] = opBcctr
	opc19[0] = opMcrf
	opc19[257] = crOp(func(a, b bool) bool { return a && b })
	opc19[449] = crOp(func(a, b bool) bool { return a || b })
	opc19[193] = crOp(func(a, b bool) bool { return a != b })
	opc19[225] = crOp(func(a, b bool) bool { return !(a && b) })
	opc19[33] = crOp(func(a, b bool) bool { return !(a || b) })
	opc19[289] = crOp(func(a, b bool) bool { return a == b })
	opc19[129] = crOp(func(a, b bool) bool { return a && !b })
	opc19[417] = crOp(func(a, b bool) bool { return a || !b })

	opc31[19] = opMfcr
	opc31[144] = opMtcrf
}

func opNoop(c *Core, s *stepInfo) (bool, error) { return false, nil }

// --- immediate arithmetic ---

func opAddi(c *Core, s *stepInfo) (bool, error) {
	var base uint64
	if s.ra != 0 {
		base = c.GPR[s.ra]
	}
	c.GPR[s.rt] = base + uint64(int64(s.simm))
	return false, nil
}

func opAddis(c *Core, s *stepInfo) (bool, error) {
	var base uint64
	if s.ra != 0 {
		base = c.GPR[s.ra]
	}
	c.GPR[s.rt] = base + (uint64(int64(s.simm)) << 16)
	return false, nil
}

func opMulli(c *Core, s *stepInfo) (bool, error) {
	c.GPR[s.rt] = uint64(int64(int32(c.GPR[s.ra])) * int64(s.simm))
	return false, nil
}

func opSubfic(c *Core, s *stepInfo) (bool, error) {
	imm := uint64(int64(s.simm))
	c.XER.CA = imm >= c.GPR[s.ra]
	c.GPR[s.rt] = imm - c.GPR[s.ra]
	return false, nil
}

// --- logical immediate (zero-extended, and.-forcing forms record CR0) ---

func opOri(c *Core, s *stepInfo) (bool, error)  { c.GPR[s.ra] = c.GPR[s.rt] | uint64(s.uimm); return false, nil }
func opXori(c *Core, s *stepInfo) (bool, error) { c.GPR[s.ra] = c.GPR[s.rt] ^ uint64(s.uimm); return false, nil }
func opOris(c *Core, s *stepInfo) (bool, error) {
	c.GPR[s.ra] = c.GPR[s.rt] | (uint64(s.uimm) << 16)
	return false, nil
}
func opXoris(c *Core, s *stepInfo) (bool, error) {
	c.GPR[s.ra] = c.GPR[s.rt] ^ (uint64(s.uimm) << 16)
	return false, nil
}

func opAndiDot(c *Core, s *stepInfo) (bool, error) {
	r := c.GPR[s.rt] & uint64(s.uimm)
	c.GPR[s.ra] = r
	c.setCR0(r)
	return false, nil
}

func opAndisDot(c *Core, s *stepInfo) (bool, error) {
	r := c.GPR[s.rt] & (uint64(s.uimm) << 16)
	c.GPR[s.ra] = r
	c.setCR0(r)
	return false, nil
}

// --- register-register arithmetic ---

func (c *Core) finishArith(s *stepInfo, result uint64) {
	c.GPR[s.rt] = result
	if s.rc0 {
		c.setCR0(result)
	}
}

func opAdd(c *Core, s *stepInfo) (bool, error) {
	a, b := int64(c.GPR[s.ra]), int64(c.GPR[s.rb])
	sum := a + b
	if oeBit(s) {
		setOV(c, (a > 0 && b > 0 && sum < 0) || (a < 0 && b < 0 && sum >= 0))
	}
	c.finishArith(s, uint64(sum))
	return false, nil
}

func opAddc(c *Core, s *stepInfo) (bool, error) {
	a, b := c.GPR[s.ra], c.GPR[s.rb]
	sum := a + b
	c.XER.CA = sum < a
	c.finishArith(s, sum)
	return false, nil
}

func opAdde(c *Core, s *stepInfo) (bool, error) {
	a, b := c.GPR[s.ra], c.GPR[s.rb]
	var carryIn uint64
	if c.XER.CA {
		carryIn = 1
	}
	sum := a + b + carryIn
	c.XER.CA = sum < a || (carryIn == 1 && sum == a)
	c.finishArith(s, sum)
	return false, nil
}

func opSubf(c *Core, s *stepInfo) (bool, error) {
	a, b := int64(c.GPR[s.ra]), int64(c.GPR[s.rb])
	diff := b - a
	if oeBit(s) {
		setOV(c, (b >= 0 && a < 0 && diff < 0) || (b < 0 && a >= 0 && diff >= 0))
	}
	c.finishArith(s, uint64(diff))
	return false, nil
}

func opSubfc(c *Core, s *stepInfo) (bool, error) {
	a, b := c.GPR[s.ra], c.GPR[s.rb]
	diff := b - a
	c.XER.CA = b >= a
	c.finishArith(s, diff)
	return false, nil
}

func opSubfe(c *Core, s *stepInfo) (bool, error) {
	a, b := c.GPR[s.ra], c.GPR[s.rb]
	var carryIn uint64
	if c.XER.CA {
		carryIn = 1
	}
	diff := ^a + b + carryIn
	c.XER.CA = b > a || (b == a && carryIn == 1)
	c.finishArith(s, diff)
	return false, nil
}

func opMullw(c *Core, s *stepInfo) (bool, error) {
	a, b := int64(int32(c.GPR[s.ra])), int64(int32(c.GPR[s.rb]))
	product := a * b
	if oeBit(s) {
		setOV(c, product != int64(int32(product)))
	}
	c.finishArith(s, uint64(int64(int32(product))))
	return false, nil
}

func opMulhw(c *Core, s *stepInfo) (bool, error) {
	a, b := int64(int32(c.GPR[s.ra])), int64(int32(c.GPR[s.rb]))
	c.finishArith(s, uint64(int32((a*b)>>32)))
	return false, nil
}

func opMulhwu(c *Core, s *stepInfo) (bool, error) {
	a, b := uint64(uint32(c.GPR[s.ra])), uint64(uint32(c.GPR[s.rb]))
	c.finishArith(s, uint64(uint32((a*b)>>32)))
	return false, nil
}

// opDivw and opDivwu implement spec.md §4.C's boundary contract: divide by
// zero and MIN_INT/-1 both yield zero and set XER.OV, rather than raising a
// host-level fault (spec.md §8's boundary behaviors).
func opDivw(c *Core, s *stepInfo) (bool, error) {
	a, b := int32(c.GPR[s.ra]), int32(c.GPR[s.rb])
	if b == 0 || (a == -2147483648 && b == -1) {
		if oeBit(s) {
			setOV(c, true)
		}
		c.finishArith(s, 0)
		return false, nil
	}
	if oeBit(s) {
		setOV(c, false)
	}
	c.finishArith(s, uint64(int64(a/b)))
	return false, nil
}

func opDivwu(c *Core, s *stepInfo) (bool, error) {
	a, b := uint32(c.GPR[s.ra]), uint32(c.GPR[s.rb])
	if b == 0 {
		if oeBit(s) {
			setOV(c, true)
		}
		c.finishArith(s, 0)
		return false, nil
	}
	if oeBit(s) {
		setOV(c, false)
	}
	c.finishArith(s, uint64(a/b))
	return false, nil
}

// --- register-register logical ---

func opAnd(c *Core, s *stepInfo) (bool, error) {
	r := c.GPR[s.rt] & c.GPR[s.rb]
	c.GPR[s.ra] = r
	if s.rc0 {
		c.setCR0(r)
	}
	return false, nil
}

func opOr(c *Core, s *stepInfo) (bool, error) {
	r := c.GPR[s.rt] | c.GPR[s.rb]
	c.GPR[s.ra] = r
	if s.rc0 {
		c.setCR0(r)
	}
	return false, nil
}

func opXor(c *Core, s *stepInfo) (bool, error) {
	r := c.GPR[s.rt] ^ c.GPR[s.rb]
	c.GPR[s.ra] = r
	if s.rc0 {
		c.setCR0(r)
	}
	return false, nil
}

func opNand(c *Core, s *stepInfo) (bool, error) {
	r := ^(c.GPR[s.rt] & c.GPR[s.rb])
	c.GPR[s.ra] = r
	if s.rc0 {
		c.setCR0(r)
	}
	return false, nil
}

func opNor(c *Core, s *stepInfo) (bool, error) {
	r := ^(c.GPR[s.rt] | c.GPR[s.rb])
	c.GPR[s.ra] = r
	if s.rc0 {
		c.setCR0(r)
	}
	return false, nil
}

func opAndc(c *Core, s *stepInfo) (bool, error) {
	r := c.GPR[s.rt] &^ c.GPR[s.rb]
	c.GPR[s.ra] = r
	if s.rc0 {
		c.setCR0(r)
	}
	return false, nil
}

func opOrc(c *Core, s *stepInfo) (bool, error) {
	r := c.GPR[s.rt] | ^c.GPR[s.rb]
	c.GPR[s.ra] = r
	if s.rc0 {
		c.setCR0(r)
	}
	return false, nil
}

func opEqv(c *Core, s *stepInfo) (bool, error) {
	r := ^(c.GPR[s.rt] ^ c.GPR[s.rb])
	c.GPR[s.ra] = r
	if s.rc0 {
		c.setCR0(r)
	}
	return false, nil
}

// --- shifts and rotates ---

func opSlw(c *Core, s *stepInfo) (bool, error) {
	n := c.GPR[s.rb] & 0x3f
	var r uint32
	if n < 32 {
		r = uint32(c.GPR[s.rt]) << n
	}
	c.GPR[s.ra] = uint64(r)
	if s.rc0 {
		c.setCR0(uint64(r))
	}
	return false, nil
}

func opSrw(c *Core, s *stepInfo) (bool, error) {
	n := c.GPR[s.rb] & 0x3f
	var r uint32
	if n < 32 {
		r = uint32(c.GPR[s.rt]) >> n
	}
	c.GPR[s.ra] = uint64(r)
	if s.rc0 {
		c.setCR0(uint64(r))
	}
	return false, nil
}

func opSraw(c *Core, s *stepInfo) (bool, error) {
	n := c.GPR[s.rb] & 0x3f
	v := int32(c.GPR[s.rt])
	var r int32
	if n >= 32 {
		if v < 0 {
			r = -1
		}
	} else {
		r = v >> n
	}
	c.XER.CA = v < 0 && (uint32(v)&((1<<uint(min32(n, 32)))-1)) != 0
	c.GPR[s.ra] = uint64(uint32(r))
	if s.rc0 {
		c.setCR0(uint64(uint32(r)))
	}
	return false, nil
}

func opSrawi(c *Core, s *stepInfo) (bool, error) {
	n := uint32(s.sh)
	v := int32(c.GPR[s.rt])
	r := v >> n
	mask := uint32(0)
	if n > 0 {
		mask = (1 << n) - 1
	}
	c.XER.CA = v < 0 && (uint32(v)&mask) != 0
	c.GPR[s.ra] = uint64(uint32(r))
	if s.rc0 {
		c.setCR0(uint64(uint32(r)))
	}
	return false, nil
}

func min32(a uint64, b uint32) uint32 {
	if uint32(a) < b {
		return uint32(a)
	}
	return b
}

// rotateMask builds the 32-bit mask spec.md's "rotate amount and mask
// begin/end" wording describes, including the wrap-around case where
// mb > me (spec.md §8's boundary behavior).
func rotateMask(mb, me uint8) uint32 {
	var mask uint32
	if mb <= me {
		for i := mb; i <= me; i++ {
			mask |= 1 << (31 - i)
		}
	} else {
		for i := uint16(0); i <= uint16(me); i++ {
			mask |= 1 << (31 - i)
		}
		for i := uint16(mb); i <= 31; i++ {
			mask |= 1 << (31 - i)
		}
	}
	return mask
}

func rotl32(v uint32, n uint8) uint32 {
	n &= 31
	return (v << n) | (v >> (32 - n))
}

func opRlwinm(c *Core, s *stepInfo) (bool, error) {
	r := rotl32(uint32(c.GPR[s.rt]), s.sh) & rotateMask(s.mb, s.me)
	c.GPR[s.ra] = uint64(r)
	if s.rc0 {
		c.setCR0(uint64(r))
	}
	return false, nil
}

func opRlwimi(c *Core, s *stepInfo) (bool, error) {
	mask := rotateMask(s.mb, s.me)
	rotated := rotl32(uint32(c.GPR[s.rt]), s.sh)
	r := (rotated & mask) | (uint32(c.GPR[s.ra]) &^ mask)
	c.GPR[s.ra] = uint64(r)
	if s.rc0 {
		c.setCR0(uint64(r))
	}
	return false, nil
}

func opRlwnm(c *Core, s *stepInfo) (bool, error) {
	sh := uint8(c.GPR[s.rb] & 0x1f)
	r := rotl32(uint32(c.GPR[s.rt]), sh) & rotateMask(s.mb, s.me)
	c.GPR[s.ra] = uint64(r)
	if s.rc0 {
		c.setCR0(uint64(r))
	}
	return false, nil
}

// --- compare ---

func (c *Core) compareSigned(field uint8, a, b int64) {
	var f CRField
	switch {
	case a < b:
		f.LT = true
	case a > b:
		f.GT = true
	default:
		f.EQ = true
	}
	f.SO = c.XER.SO
	c.CR[field&7] = f
}

func (c *Core) compareUnsigned(field uint8, a, b uint64) {
	var f CRField
	switch {
	case a < b:
		f.LT = true
	case a > b:
		f.GT = true
	default:
		f.EQ = true
	}
	f.SO = c.XER.SO
	c.CR[field&7] = f
}

// L bit (bit 21 of the compare word, i.e. bit10 of s.xo/uimm-adjacent field)
// selects word vs doubleword comparison width.
func compareIsDoubleword(word uint32) bool { return word&0x00200000 != 0 }

func opCmp(c *Core, s *stepInfo) (bool, error) {
	if compareIsDoubleword(s.word) {
		c.compareSigned(s.bf, int64(c.GPR[s.ra]), int64(c.GPR[s.rb]))
	} else {
		c.compareSigned(s.bf, int64(int32(c.GPR[s.ra])), int64(int32(c.GPR[s.rb])))
	}
	return false, nil
}

func opCmpl(c *Core, s *stepInfo) (bool, error) {
	if compareIsDoubleword(s.word) {
		c.compareUnsigned(s.bf, c.GPR[s.ra], c.GPR[s.rb])
	} else {
		c.compareUnsigned(s.bf, uint64(uint32(c.GPR[s.ra])), uint64(uint32(c.GPR[s.rb])))
	}
	return false, nil
}

func opCmpi(c *Core, s *stepInfo) (bool, error) {
	if compareIsDoubleword(s.word) {
		c.compareSigned(s.bf, int64(c.GPR[s.ra]), int64(s.simm))
	} else {
		c.compareSigned(s.bf, int64(int32(c.GPR[s.ra])), int64(s.simm))
	}
	return false, nil
}

func opCmpli(c *Core, s *stepInfo) (bool, error) {
	if compareIsDoubleword(s.word) {
		c.compareUnsigned(s.bf, c.GPR[s.ra], uint64(s.uimm))
	} else {
		c.compareUnsigned(s.bf, uint64(uint32(c.GPR[s.ra])), uint64(s.uimm))
	}
	return false, nil
}

// --- branch ---

func (c *Core) crBit(bi uint8) bool {
	field := c.CR[bi>>2]
	switch bi & 3 {
	case 0:
		return field.LT
	case 1:
		return field.GT
	case 2:
		return field.EQ
	default:
		return field.SO
	}
}

// branchTaken implements the BO-field encoding spec.md §4.C names
// ("decrement-count-register and CR-bit test"): BO&0x10 skips the CR test,
// BO&0x08 selects the desired sense of the tested CR bit, BO&0x04 skips the
// CTR decrement and test, BO&0x02 selects CTR==0 vs CTR!=0.
func (c *Core) branchTaken(bo, bi uint8) bool {
	ctrOK := true
	if bo&0x4 == 0 {
		c.CTR--
		if bo&0x2 != 0 {
			ctrOK = c.CTR == 0
		} else {
			ctrOK = c.CTR != 0
		}
	}
	crOK := true
	if bo&0x10 == 0 {
		want := bo&0x8 != 0
		crOK = c.crBit(bi) == want
	}
	return ctrOK && crOK
}

func opB(c *Core, s *stepInfo) (bool, error) {
	target := uint32(sext26(s.word))
	if !s.aa {
		target += c.PC
	}
	if s.lk {
		c.LR = c.PC + 4
	}
	c.PC = target
	return true, nil
}

func opBc(c *Core, s *stepInfo) (bool, error) {
	if !c.branchTaken(s.bo, s.bi) {
		return false, nil
	}
	target := uint32(sext16Branch(s.word))
	if !s.aa {
		target += c.PC
	}
	if s.lk {
		c.LR = c.PC + 4
	}
	c.PC = target
	return true, nil
}

func opBclr(c *Core, s *stepInfo) (bool, error) {
	if !c.branchTaken(s.bo, s.bi) {
		return false, nil
	}
	target := c.LR &^ 3
	if s.lk {
		c.LR = c.PC + 4
	}
	c.PC = target
	return true, nil
}

func opBcctr(c *Core, s *stepInfo) (bool, error) {
	// bcctr never tests CTR itself (it is the branch target); only the CR
	// test applies.
	crOK := true
	if s.bo&0x10 == 0 {
		want := s.bo&0x8 != 0
		crOK = c.crBit(s.bi) == want
	}
	if !crOK {
		return false, nil
	}
	target := uint32(c.CTR) &^ 3
	if s.lk {
		c.LR = c.PC + 4
	}
	c.PC = target
	return true, nil
}

// --- CR manipulation ---

func opMcrf(c *Core, s *stepInfo) (bool, error) {
	c.CR[s.bf] = c.CR[s.bfa]
	return false, nil
}

func crOp(f func(a, b bool) bool) action {
	return func(c *Core, s *stepInfo) (bool, error) {
		bt, ba, bb := s.rt, s.ra, s.rb
		a := c.crBit(ba)
		b := c.crBit(bb)
		r := f(a, b)
		field := c.CR[bt>>2]
		switch bt & 3 {
		case 0:
			field.LT = r
		case 1:
			field.GT = r
		case 2:
			field.EQ = r
		default:
			field.SO = r
		}
		c.CR[bt>>2] = field
		return false, nil
	}
}

func opMfcr(c *Core, s *stepInfo) (bool, error) {
	var v uint32
	for i := 0; i < 8; i++ {
		v = (v << 4) | uint32(c.CR[i].pack())
	}
	c.GPR[s.rt] = uint64(v)
	return false, nil
}

func opMtcrf(c *Core, s *stepInfo) (bool, error) {
	mask := uint8((s.word >> 12) & 0xff)
	v := uint32(c.GPR[s.rt])
	for i := 0; i < 8; i++ {
		if mask&(1<<(7-i)) != 0 {
			field := uint8((v >> uint((7-i)*4)) & 0xf)
			c.CR[i] = unpackCR(field)
		}
	}
	return false, nil
}

// --- load/store ---

// opLoadStore builds a D-form load or store handler for width bytes
// (1/2/4), optionally sign-extending on load and/or updating RA with the
// computed effective address (spec.md §4.C: "base+displacement... plain
// and base-register-updating variants").
func opLoadStore(width int, signExtend, store, update bool) action {
	return func(c *Core, s *stepInfo) (bool, error) {
		var base uint64
		if s.ra != 0 || update {
			base = c.GPR[s.ra]
		}
		addr := uint32(base + uint64(int64(s.disp)))
		if store {
			if err := storeWidth(c, addr, width, c.GPR[s.rt]); err != nil {
				return false, err
			}
		} else {
			v, err := loadWidth(c, addr, width, signExtend)
			if err != nil {
				return false, err
			}
			c.GPR[s.rt] = v
		}
		if update {
			c.GPR[s.ra] = uint64(addr)
		}
		return false, nil
	}
}

func loadWidth(c *Core, addr uint32, width int, signExtend bool) (uint64, error) {
	switch width {
	case 1:
		v, err := c.Mem.ReadU8(addr)
		if err != nil {
			return 0, err
		}
		if signExtend {
			return uint64(int64(int8(v))), nil
		}
		return uint64(v), nil
	case 2:
		v, err := c.Mem.ReadU16(addr)
		if err != nil {
			return 0, err
		}
		if signExtend {
			return uint64(int64(int16(v))), nil
		}
		return uint64(v), nil
	case 4:
		v, err := c.Mem.ReadU32(addr)
		if err != nil {
			return 0, err
		}
		if signExtend {
			return uint64(int64(int32(v))), nil
		}
		return uint64(v), nil
	default:
		return c.Mem.ReadU64(addr)
	}
}

func storeWidth(c *Core, addr uint32, width int, v uint64) error {
	switch width {
	case 1:
		return c.Mem.WriteU8(addr, uint8(v))
	case 2:
		return c.Mem.WriteU16(addr, uint16(v))
	case 4:
		return c.Mem.WriteU32(addr, uint32(v))
	default:
		return c.Mem.WriteU64(addr, v)
	}
}

// opLoadDoubleword decodes primary opcode 58's DS-form low two bits: 0=ld,
// 1=ldu, 2=lwa (load word algebraic, sign-extended).
func opLoadDoubleword(c *Core, s *stepInfo) (bool, error) {
	sub := s.word & 0x3
	disp := int32(s.word & 0xfffc)
	if disp&0x8000 != 0 {
		disp |= ^int32(0xffff)
	}
	var base uint64
	if s.ra != 0 {
		base = c.GPR[s.ra]
	}
	addr := uint32(base + uint64(int64(disp)))
	switch sub {
	case 2:
		v, err := c.Mem.ReadU32(addr)
		if err != nil {
			return false, err
		}
		c.GPR[s.rt] = uint64(int64(int32(v)))
	default:
		v, err := c.Mem.ReadU64(addr)
		if err != nil {
			return false, err
		}
		c.GPR[s.rt] = v
		if sub == 1 {
			c.GPR[s.ra] = uint64(addr)
		}
	}
	return false, nil
}

func opStoreDoubleword(c *Core, s *stepInfo) (bool, error) {
	sub := s.word & 0x3
	disp := int32(s.word & 0xfffc)
	if disp&0x8000 != 0 {
		disp |= ^int32(0xffff)
	}
	var base uint64
	if s.ra != 0 {
		base = c.GPR[s.ra]
	}
	addr := uint32(base + uint64(int64(disp)))
	if err := c.Mem.WriteU64(addr, c.GPR[s.rt]); err != nil {
		return false, err
	}
	if sub == 1 {
		c.GPR[s.ra] = uint64(addr)
	}
	return false, nil
}

func indexedAddr(c *Core, s *stepInfo) uint32 {
	var base uint64
	if s.ra != 0 {
		base = c.GPR[s.ra]
	}
	return uint32(base + c.GPR[s.rb])
}

func opLwzx(c *Core, s *stepInfo) (bool, error) {
	v, err := c.Mem.ReadU32(indexedAddr(c, s))
	if err != nil {
		return false, err
	}
	c.GPR[s.rt] = uint64(v)
	return false, nil
}

func opStwx(c *Core, s *stepInfo) (bool, error) {
	return false, c.Mem.WriteU32(indexedAddr(c, s), uint32(c.GPR[s.rt]))
}

func opLbzx(c *Core, s *stepInfo) (bool, error) {
	v, err := c.Mem.ReadU8(indexedAddr(c, s))
	if err != nil {
		return false, err
	}
	c.GPR[s.rt] = uint64(v)
	return false, nil
}

func opStbx(c *Core, s *stepInfo) (bool, error) {
	return false, c.Mem.WriteU8(indexedAddr(c, s), uint8(c.GPR[s.rt]))
}

func opLhzx(c *Core, s *stepInfo) (bool, error) {
	v, err := c.Mem.ReadU16(indexedAddr(c, s))
	if err != nil {
		return false, err
	}
	c.GPR[s.rt] = uint64(v)
	return false, nil
}

func opSthx(c *Core, s *stepInfo) (bool, error) {
	return false, c.Mem.WriteU16(indexedAddr(c, s), uint16(c.GPR[s.rt]))
}

func opLdx(c *Core, s *stepInfo) (bool, error) {
	v, err := c.Mem.ReadU64(indexedAddr(c, s))
	if err != nil {
		return false, err
	}
	c.GPR[s.rt] = v
	return false, nil
}

func opStdx(c *Core, s *stepInfo) (bool, error) {
	return false, c.Mem.WriteU64(indexedAddr(c, s), c.GPR[s.rt])
}

// --- atomic reservation ---

func opLwarx(c *Core, s *stepInfo) (bool, error) {
	addr := indexedAddr(c, s)
	snap, err := c.Mem.Reserve(c.Owner, addr)
	if err != nil {
		return false, err
	}
	off := addr & (memory.LineSize - 1)
	c.GPR[s.rt] = uint64(beU32(snap[off : off+4]))
	return false, nil
}

func opLdarx(c *Core, s *stepInfo) (bool, error) {
	addr := indexedAddr(c, s)
	snap, err := c.Mem.Reserve(c.Owner, addr)
	if err != nil {
		return false, err
	}
	off := addr & (memory.LineSize - 1)
	c.GPR[s.rt] = beU64(snap[off : off+8])
	return false, nil
}

func beU32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func beU64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// opStwcx and opStdcx set CR0.EQ from the success flag (spec.md §4.C's
// atomic-reservation family: "sets EQ of CR0 on success"). Rc is forced to
// 1 for these two real-ISA opcodes, so CR0 is always updated.
func opStwcx(c *Core, s *stepInfo) (bool, error) {
	addr := indexedAddr(c, s)
	buf := putBeU32(uint32(c.GPR[s.rt]))
	ok, err := c.Mem.StoreConditional(c.Owner, addr, buf)
	if err != nil {
		return false, err
	}
	c.CR[0] = CRField{EQ: ok, SO: c.XER.SO}
	return false, nil
}

func opStdcx(c *Core, s *stepInfo) (bool, error) {
	addr := indexedAddr(c, s)
	buf := putBeU64(c.GPR[s.rt])
	ok, err := c.Mem.StoreConditional(c.Owner, addr, buf)
	if err != nil {
		return false, err
	}
	c.CR[0] = CRField{EQ: ok, SO: c.XER.SO}
	return false, nil
}

func putBeU32(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

func putBeU64(v uint64) []byte {
	out := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		out[i] = byte(v)
		v >>= 8
	}
	return out
}

func opSc(c *Core, s *stepInfo) (bool, error) {
	if c.Syscall == nil {
		return false, nil
	}
	c.Status = Trapped
	callNumber := c.GPR[11] // spec.md §4.C: "call number in a designated GPR"
	err := c.Syscall.Dispatch(c, callNumber)
	c.Status = Running
	return false, err
}

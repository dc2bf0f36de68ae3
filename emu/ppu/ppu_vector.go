/*
 * ps3core - Primary-core 128-bit vector (SIMD) execution.
 *
 * Adapted from S370's per-family opcode split (Copyright 2024, Richard
 * Cornwell): a new file per instruction family, same as cpu_float.go sits
 * beside cpu_standard.go there. This family has no teacher analog (S370
 * carries no vector unit), so its lane-wise arithmetic is grounded purely
 * in the public Cell/AltiVec-style 128-bit SIMD model spec.md §4.C names:
 * modulo/saturating add-sub, lane-wise compares producing all-ones/all-zero
 * masks, permute/select/merge/pack/unpack/splat, and float-vector ops.
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

import "math"

// laneBytes views a V128 as 16 big-endian bytes, lane 0 first (matching
// memory.ReadV128/WriteV128's word order, narrowed one level further).
func laneBytes(v V128) [16]byte {
	var b [16]byte
	for w := 0; w < 4; w++ {
		b[w*4+0] = byte(v[w] >> 24)
		b[w*4+1] = byte(v[w] >> 16)
		b[w*4+2] = byte(v[w] >> 8)
		b[w*4+3] = byte(v[w])
	}
	return b
}

func bytesToV128(b [16]byte) V128 {
	var v V128
	for w := 0; w < 4; w++ {
		v[w] = uint32(b[w*4])<<24 | uint32(b[w*4+1])<<16 | uint32(b[w*4+2])<<8 | uint32(b[w*4+3])
	}
	return v
}

func halfwords(v V128) [8]uint16 {
	b := laneBytes(v)
	var h [8]uint16
	for i := range h {
		h[i] = uint16(b[i*2])<<8 | uint16(b[i*2+1])
	}
	return h
}

func halfwordsToV128(h [8]uint16) V128 {
	var b [16]byte
	for i, x := range h {
		b[i*2] = byte(x >> 8)
		b[i*2+1] = byte(x)
	}
	return bytesToV128(b)
}

func satU8(v int32) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}

func satS8(v int32) byte {
	if v < -128 {
		lo := int8(-128)
		return byte(lo)
	}
	if v > 127 {
		return byte(int8(127))
	}
	return byte(int8(v))
}

func satU16(v int32) uint16 {
	if v < 0 {
		return 0
	}
	if v > 0xffff {
		return 0xffff
	}
	return uint16(v)
}

func satS16(v int32) uint16 {
	if v < -32768 {
		lo := int16(-32768)
		return uint16(lo)
	}
	if v > 32767 {
		return uint16(int16(32767))
	}
	return uint16(int16(v))
}

func satU32(v int64) uint32 {
	if v < 0 {
		return 0
	}
	if v > 0xffffffff {
		return 0xffffffff
	}
	return uint32(v)
}

func satS32(v int64) uint32 {
	if v < math.MinInt32 {
		lo := int32(math.MinInt32)
		return uint32(lo)
	}
	if v > math.MaxInt32 {
		return uint32(int32(math.MaxInt32))
	}
	return uint32(int32(v))
}

// vecBytes/vecHalf/vecWord apply a per-lane binary op across a V128 pair at
// the given lane width, the shared core every arithmetic/logical/compare
// vector instruction below is built from.
func vecBytes(a, b V128, op func(x, y byte) byte) V128 {
	ab, bb := laneBytes(a), laneBytes(b)
	var rb [16]byte
	for i := range rb {
		rb[i] = op(ab[i], bb[i])
	}
	return bytesToV128(rb)
}

func vecHalf(a, b V128, op func(x, y uint16) uint16) V128 {
	ah, bh := halfwords(a), halfwords(b)
	var rh [8]uint16
	for i := range rh {
		rh[i] = op(ah[i], bh[i])
	}
	return halfwordsToV128(rh)
}

func vecWord(a, b V128, op func(x, y uint32) uint32) V128 {
	var r V128
	for i := range r {
		r[i] = op(a[i], b[i])
	}
	return r
}

func init() {
	// modulo (wraparound) add/sub
	opc4[0x000] = vecAct(func(a, b V128) V128 { return vecBytes(a, b, func(x, y byte) byte { return x + y }) })
	opc4[0x040] = vecAct(func(a, b V128) V128 { return vecHalf(a, b, func(x, y uint16) uint16 { return x + y }) })
	opc4[0x080] = vecAct(func(a, b V128) V128 { return vecWord(a, b, func(x, y uint32) uint32 { return x + y }) })
	opc4[0x400] = vecAct(func(a, b V128) V128 { return vecBytes(a, b, func(x, y byte) byte { return x - y }) })
	opc4[0x440] = vecAct(func(a, b V128) V128 { return vecHalf(a, b, func(x, y uint16) uint16 { return x - y }) })
	opc4[0x480] = vecAct(func(a, b V128) V128 { return vecWord(a, b, func(x, y uint32) uint32 { return x - y }) })

	// saturating add/sub, unsigned and signed, byte/halfword/word
	opc4[0x200] = vecAct(func(a, b V128) V128 {
		return vecBytes(a, b, func(x, y byte) byte { return satU8(int32(x) + int32(y)) })
	})
	opc4[0x300] = vecAct(func(a, b V128) V128 {
		return vecBytes(a, b, func(x, y byte) byte { return satS8(int32(int8(x)) + int32(int8(y))) })
	})
	opc4[0x240] = vecAct(func(a, b V128) V128 {
		return vecHalf(a, b, func(x, y uint16) uint16 { return satU16(int32(x) + int32(y)) })
	})
	opc4[0x340] = vecAct(func(a, b V128) V128 {
		return vecHalf(a, b, func(x, y uint16) uint16 { return satS16(int32(int16(x)) + int32(int16(y))) })
	})
	opc4[0x280] = vecAct(func(a, b V128) V128 {
		return vecWord(a, b, func(x, y uint32) uint32 { return satU32(int64(x) + int64(y)) })
	})
	opc4[0x380] = vecAct(func(a, b V128) V128 {
		return vecWord(a, b, func(x, y uint32) uint32 { return satS32(int64(int32(x)) + int64(int32(y))) })
	})
	opc4[0x600] = vecAct(func(a, b V128) V128 {
		return vecBytes(a, b, func(x, y byte) byte {
			if int32(x)-int32(y) < 0 {
				return 0
			}
			return x - y
		})
	})
	opc4[0x700] = vecAct(func(a, b V128) V128 {
		return vecBytes(a, b, func(x, y byte) byte { return satS8(int32(int8(x)) - int32(int8(y))) })
	})
	opc4[0x640] = vecAct(func(a, b V128) V128 {
		return vecHalf(a, b, func(x, y uint16) uint16 {
			if int32(x)-int32(y) < 0 {
				return 0
			}
			return x - y
		})
	})
	opc4[0x740] = vecAct(func(a, b V128) V128 {
		return vecHalf(a, b, func(x, y uint16) uint16 { return satS16(int32(int16(x)) - int32(int16(y))) })
	})
	opc4[0x680] = vecAct(func(a, b V128) V128 {
		return vecWord(a, b, func(x, y uint32) uint32 {
			if int64(x)-int64(y) < 0 {
				return 0
			}
			return x - y
		})
	})
	opc4[0x780] = vecAct(func(a, b V128) V128 {
		return vecWord(a, b, func(x, y uint32) uint32 { return satS32(int64(int32(x)) - int64(int32(y))) })
	})

	// multiply: even/odd lane widening, and low modulo word multiply
	opc4[0x108] = vecAct(vecMuloUB)
	opc4[0x008] = vecAct(vecMuleUB)
	opc4[0x0c8] = vecAct(func(a, b V128) V128 { return vecWord(a, b, func(x, y uint32) uint32 { return x * y }) })

	// logical
	opc4[0x404] = vecAct(func(a, b V128) V128 { return vecWord(a, b, func(x, y uint32) uint32 { return x & y }) })
	opc4[0x504] = vecAct(func(a, b V128) V128 { return vecWord(a, b, func(x, y uint32) uint32 { return x &^ y }) })
	opc4[0x484] = vecAct(func(a, b V128) V128 { return vecWord(a, b, func(x, y uint32) uint32 { return x | y }) })
	opc4[0x4c4] = vecAct(func(a, b V128) V128 { return vecWord(a, b, func(x, y uint32) uint32 { return x ^ y }) })
	opc4[0x444] = vecAct(func(a, b V128) V128 { return vecWord(a, b, func(x, y uint32) uint32 { return ^(x | y) }) })

	// compares, producing an all-ones (true) or all-zero (false) mask lane
	opc4[0x006] = vecAct(func(a, b V128) V128 {
		return vecBytes(a, b, func(x, y byte) byte { return maskByte(x == y) })
	})
	opc4[0x046] = vecAct(func(a, b V128) V128 {
		return vecHalf(a, b, func(x, y uint16) uint16 { return maskHalf(x == y) })
	})
	opc4[0x086] = vecAct(func(a, b V128) V128 {
		return vecWord(a, b, func(x, y uint32) uint32 { return maskWord(x == y) })
	})
	opc4[0x206] = vecAct(func(a, b V128) V128 {
		return vecBytes(a, b, func(x, y byte) byte { return maskByte(x > y) })
	})
	opc4[0x386] = vecAct(func(a, b V128) V128 {
		return vecWord(a, b, func(x, y uint32) uint32 { return maskWord(int32(x) > int32(y)) })
	})

	// shifts/rotates, each byte lane shifted by the low 3 bits of its
	// partner lane in vrb (AltiVec-style "shift each lane by its own
	// partner lane" convention)
	opc4[0x204] = vecAct(func(a, b V128) V128 {
		return vecBytes(a, b, func(x, y byte) byte { return x << (y & 7) })
	})
	opc4[0x284] = vecAct(func(a, b V128) V128 {
		return vecBytes(a, b, func(x, y byte) byte { return x >> (y & 7) })
	})
	opc4[0x004] = vecAct(func(a, b V128) V128 {
		return vecBytes(a, b, func(x, y byte) byte { return x<<(y&7) | x>>(8-(y&7)) })
	})

	opc4[0x50c] = vecAct(vecSplatByte0)
	opc4[0x58c] = vecAct(vecSplatHalf0)
	opc4[0x60c] = vecAct(vecSplatWord0)
	regVAform(opc4, 42, vecSelectAction)
	regVAform(opc4, 43, vecPermAction)
	opc4[0x00e] = vecAct(vecMergeHigh)
	opc4[0x00f] = vecAct(vecMergeLow)
	opc4[0x00a] = opFaddVector
	opc4[0x04a] = opFsubVector
	regVAform(opc4, 44, opFmaddVector)
	regVAform(opc4, 45, opFnmsubVector)
	opc4[0x0cc] = vecAct(vecMaxFloat)
	opc4[0x14a] = vecAct(vecMinFloat)
	opc4[0x18a] = vecAct(vecReFloat)

	// splat from a sign-extended 5-bit immediate riding in vA's bit field
	// (vspltisb/vspltish/vspltisw's own-operand form, distinct from the
	// splat-from-element-0 ops above).
	opc4[0x30c] = opSplatImmByte
	opc4[0x34c] = opSplatImmHalf
	opc4[0x38c] = opSplatImmWord

	// pack: narrow two vectors' lanes into one vector at half the width,
	// saturating at the destination type's range.
	opc4[0x10c] = vecAct(vecPackHalfUnsignedSat)
	opc4[0x14c] = vecAct(vecPackHalfSignedSat)
	opc4[0x18c] = vecAct(vecPackWordUnsignedSat)
	opc4[0x1cc] = vecAct(vecPackWordSignedSat)

	// unpack: widen one vector's high or low half-width lanes, sign-extending
	// each into the next width up.
	opc4[0x20c] = vecAct(vecUnpackByteHigh)
	opc4[0x24c] = vecAct(vecUnpackByteLow)
	opc4[0x28c] = vecAct(vecUnpackHalfHigh)
	opc4[0x2cc] = vecAct(vecUnpackHalfLow)
}

// regVAform fans a 6-bit VA-form extended opcode out across all 32 possible
// vC values, mirroring regAform in ppu_float.go for the same reason: s.xo
// here carries vC in its high 5 bits above the 6-bit XO.
func regVAform(table map[uint16]action, xo6 uint16, fn action) {
	for vc := uint16(0); vc < 32; vc++ {
		table[vc<<6|xo6] = fn
	}
}

func maskByte(t bool) byte {
	if t {
		return 0xff
	}
	return 0
}
func maskHalf(t bool) uint16 {
	if t {
		return 0xffff
	}
	return 0
}
func maskWord(t bool) uint32 {
	if t {
		return 0xffffffff
	}
	return 0
}

func vecMuleUB(a, b V128) V128 {
	ab, bb := laneBytes(a), laneBytes(b)
	var h [8]uint16
	for i := 0; i < 8; i++ {
		h[i] = uint16(ab[i*2]) * uint16(bb[i*2])
	}
	return halfwordsToV128(h)
}

func vecMuloUB(a, b V128) V128 {
	ab, bb := laneBytes(a), laneBytes(b)
	var h [8]uint16
	for i := 0; i < 8; i++ {
		h[i] = uint16(ab[i*2+1]) * uint16(bb[i*2+1])
	}
	return halfwordsToV128(h)
}

// vecAct wraps a two-source lane op as an action following VX-form's
// vD(dest)/vA/vB register convention: dest is s.rt, sources are s.ra/s.rb.
func vecAct(f func(a, b V128) V128) action {
	return func(c *Core, s *stepInfo) (bool, error) {
		c.VR[s.rt] = f(c.VR[s.ra], c.VR[s.rb])
		return false, nil
	}
}

func splatByte(v V128, idx int) V128 {
	b := laneBytes(v)[idx]
	var out [16]byte
	for i := range out {
		out[i] = b
	}
	return bytesToV128(out)
}

func vecSplatByte0(a, _ V128) V128 { return splatByte(a, 0) }

func vecSplatHalf0(a, _ V128) V128 {
	h := halfwords(a)[0]
	var out [8]uint16
	for i := range out {
		out[i] = h
	}
	return halfwordsToV128(out)
}

func vecSplatWord0(a, _ V128) V128 {
	var out V128
	for i := range out {
		out[i] = a[0]
	}
	return out
}

func vecMergeHigh(a, b V128) V128 {
	ab, bb := laneBytes(a), laneBytes(b)
	var out [16]byte
	for i := 0; i < 8; i++ {
		out[i*2] = ab[i]
		out[i*2+1] = bb[i]
	}
	return bytesToV128(out)
}

func vecMergeLow(a, b V128) V128 {
	ab, bb := laneBytes(a), laneBytes(b)
	var out [16]byte
	for i := 0; i < 8; i++ {
		out[i*2] = ab[8+i]
		out[i*2+1] = bb[8+i]
	}
	return bytesToV128(out)
}

// vecSelectAction and vecPermAction are VA-form (vD, vA, vB, vC): the
// third source register rides in s.rc, the same bit position float A-form's
// frC uses (ppu.go's decode comment on s.xo applies identically here).
// vecAct's two-source shape can't carry a vC operand, so these bypass it.
func vecSelectAction(c *Core, s *stepInfo) (bool, error) {
	ab, bb, mb := laneBytes(c.VR[s.ra]), laneBytes(c.VR[s.rb]), laneBytes(c.VR[s.rc])
	var out [16]byte
	for i := range out {
		out[i] = (bb[i] & mb[i]) | (ab[i] &^ mb[i])
	}
	c.VR[s.rt] = bytesToV128(out)
	return false, nil
}

func vecPermAction(c *Core, s *stepInfo) (bool, error) {
	ab, bb, idx := laneBytes(c.VR[s.ra]), laneBytes(c.VR[s.rb]), laneBytes(c.VR[s.rc])
	var out [16]byte
	for i := range out {
		sel := idx[i] & 0x1f
		if sel < 16 {
			out[i] = ab[sel]
		} else {
			out[i] = bb[sel-16]
		}
	}
	c.VR[s.rt] = bytesToV128(out)
	return false, nil
}

func opFaddVector(c *Core, s *stepInfo) (bool, error) {
	var r V128
	a, b := c.VR[s.ra], c.VR[s.rb]
	for i := range r {
		r[i] = math.Float32bits(math.Float32frombits(a[i]) + math.Float32frombits(b[i]))
	}
	c.VR[s.rt] = r
	return false, nil
}

func opFsubVector(c *Core, s *stepInfo) (bool, error) {
	var r V128
	a, b := c.VR[s.ra], c.VR[s.rb]
	for i := range r {
		r[i] = math.Float32bits(math.Float32frombits(a[i]) - math.Float32frombits(b[i]))
	}
	c.VR[s.rt] = r
	return false, nil
}

// opFmaddVector and opFnmsubVector are VA-form (vD, vA, vB, vC): the third
// source rides in s.rc, same convention vecSelectAction/vecPermAction use.
func opFmaddVector(c *Core, s *stepInfo) (bool, error) {
	a, b, d := c.VR[s.ra], c.VR[s.rb], c.VR[s.rc]
	var r V128
	for i := range r {
		af, bf, df := math.Float32frombits(a[i]), math.Float32frombits(b[i]), math.Float32frombits(d[i])
		r[i] = math.Float32bits(af*df + bf)
	}
	c.VR[s.rt] = r
	return false, nil
}

func opFnmsubVector(c *Core, s *stepInfo) (bool, error) {
	a, b, d := c.VR[s.ra], c.VR[s.rb], c.VR[s.rc]
	var r V128
	for i := range r {
		af, bf, df := math.Float32frombits(a[i]), math.Float32frombits(b[i]), math.Float32frombits(d[i])
		r[i] = math.Float32bits(-(af*df - bf))
	}
	c.VR[s.rt] = r
	return false, nil
}

func vecMaxFloat(a, b V128) V128 {
	var r V128
	for i := range r {
		af, bf := math.Float32frombits(a[i]), math.Float32frombits(b[i])
		if af > bf {
			r[i] = a[i]
		} else {
			r[i] = b[i]
		}
	}
	return r
}

func vecMinFloat(a, b V128) V128 {
	var r V128
	for i := range r {
		af, bf := math.Float32frombits(a[i]), math.Float32frombits(b[i])
		if af < bf {
			r[i] = a[i]
		} else {
			r[i] = b[i]
		}
	}
	return r
}

// vecReFloat is the reciprocal estimate vrefp; like its scalar counterpart
// fres, hardware only guarantees one-part-in-4096 accuracy, so a plain
// division stands in for whatever approximation real silicon uses.
func vecReFloat(a, _ V128) V128 {
	var r V128
	for i := range r {
		r[i] = math.Float32bits(1 / math.Float32frombits(a[i]))
	}
	return r
}

// simm5 sign-extends the 5-bit immediate vspltisb/vspltish/vspltisw carry
// in vA's bit field (the same position vecSelectAction's s.ra reads a
// register index from for other VX-form ops).
func simm5(ra uint8) int32 {
	v := int32(ra & 0x1f)
	if v&0x10 != 0 {
		v -= 0x20
	}
	return v
}

func opSplatImmByte(c *Core, s *stepInfo) (bool, error) {
	v := byte(simm5(s.ra))
	var out [16]byte
	for i := range out {
		out[i] = v
	}
	c.VR[s.rt] = bytesToV128(out)
	return false, nil
}

func opSplatImmHalf(c *Core, s *stepInfo) (bool, error) {
	v := uint16(simm5(s.ra))
	var out [8]uint16
	for i := range out {
		out[i] = v
	}
	c.VR[s.rt] = halfwordsToV128(out)
	return false, nil
}

func opSplatImmWord(c *Core, s *stepInfo) (bool, error) {
	v := uint32(simm5(s.ra))
	var out V128
	for i := range out {
		out[i] = v
	}
	c.VR[s.rt] = out
	return false, nil
}

// vecPackHalfUnsignedSat narrows 16 halfwords (8 from a, 8 from b), treated
// as unsigned, into 16 bytes, clamping each to [0, 255] (vpkuhus).
func vecPackHalfUnsignedSat(a, b V128) V128 {
	ah, bh := halfwords(a), halfwords(b)
	var out [16]byte
	for i, h := range ah {
		out[i] = satU8(int32(h))
	}
	for i, h := range bh {
		out[8+i] = satU8(int32(h))
	}
	return bytesToV128(out)
}

// vecPackHalfSignedSat narrows 16 halfwords, treated as signed, into 16
// bytes, clamping each to [-128, 127] (vpkshss).
func vecPackHalfSignedSat(a, b V128) V128 {
	ah, bh := halfwords(a), halfwords(b)
	var out [16]byte
	for i, h := range ah {
		out[i] = satS8(int32(int16(h)))
	}
	for i, h := range bh {
		out[8+i] = satS8(int32(int16(h)))
	}
	return bytesToV128(out)
}

func clampU16(w uint32) uint16 {
	if w > 0xffff {
		return 0xffff
	}
	return uint16(w)
}

// vecPackWordUnsignedSat narrows 8 words (4 from a, 4 from b), treated as
// unsigned, into 8 halfwords, clamping each to [0, 65535] (vpkuwus).
func vecPackWordUnsignedSat(a, b V128) V128 {
	var h [8]uint16
	for i, w := range a {
		h[i] = clampU16(w)
	}
	for i, w := range b {
		h[4+i] = clampU16(w)
	}
	return halfwordsToV128(h)
}

// vecPackWordSignedSat narrows 8 words, treated as signed, into 8
// halfwords, clamping each to [-32768, 32767] (vpkswss).
func vecPackWordSignedSat(a, b V128) V128 {
	var h [8]uint16
	for i, w := range a {
		h[i] = satS16(int32(w))
	}
	for i, w := range b {
		h[4+i] = satS16(int32(w))
	}
	return halfwordsToV128(h)
}

// vecUnpackByteHigh widens a's first 8 bytes (lane 0 first) into 8
// sign-extended halfwords (vupkhsb).
func vecUnpackByteHigh(a, _ V128) V128 {
	b := laneBytes(a)
	var h [8]uint16
	for i := 0; i < 8; i++ {
		h[i] = uint16(int16(int8(b[i])))
	}
	return halfwordsToV128(h)
}

// vecUnpackByteLow widens a's last 8 bytes into 8 sign-extended halfwords
// (vupklsb).
func vecUnpackByteLow(a, _ V128) V128 {
	b := laneBytes(a)
	var h [8]uint16
	for i := 0; i < 8; i++ {
		h[i] = uint16(int16(int8(b[8+i])))
	}
	return halfwordsToV128(h)
}

// vecUnpackHalfHigh widens a's first 4 halfwords into 4 sign-extended words
// (vupkhsh).
func vecUnpackHalfHigh(a, _ V128) V128 {
	h := halfwords(a)
	var w V128
	for i := 0; i < 4; i++ {
		w[i] = uint32(int32(int16(h[i])))
	}
	return w
}

// vecUnpackHalfLow widens a's last 4 halfwords into 4 sign-extended words
// (vupklsh).
func vecUnpackHalfLow(a, _ V128) V128 {
	h := halfwords(a)
	var w V128
	for i := 0; i < 4; i++ {
		w[i] = uint32(int32(int16(h[4+i])))
	}
	return w
}

/*
 * ps3core - Primary-core system and condition-register instructions.
 *
 * Adapted from S370's supervisor/system-opcode split in emu/cpu (Copyright
 * 2024, Richard Cornwell): syscalls, serialization, and privileged-adjacent
 * bookkeeping get their own file there; this generalizes that to the
 * memory-barrier and cache-hint no-ops spec.md §4.C names as valid but
 * architecturally inert on a single-host interpreter.
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

// init registers the remaining memory-ordering and cache-hint no-ops: on
// this single-host interpreter every instruction already executes in
// program order against a single shared memory.Manager, so these are
// serialization points in name only (spec.md §4.C "System").
func init() {
	opc31[982|0x200] = opNoop // icbi variant with reserved bit set
	opc31[246] = opNoop       // dcbf
	opc31[86] = opNoop        // dcbst variant some assemblers emit at this XO
	opc19[50] = opNoop        // rfid (no privileged-mode transition modeled)
}

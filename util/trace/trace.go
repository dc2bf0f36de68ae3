/*
 * ps3core - Gated debug tracing.
 *
 * Adapted from S370's util/debug package (Copyright 2024, Richard Cornwell):
 * the same mask-against-level gate, generalized from per-device/per-channel
 * message helpers to per-core ones (primary core, one of eight auxiliary
 * cores) and decoupled from the config package's file-registration scheme —
 * the teacher wired its debug sink to a config-file directive; here the
 * sink is just an io.Writer, os.Stderr unless SetSink replaces it.
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

package trace

import (
	"fmt"
	"io"
	"os"
)

const (
	Decode = 1 << iota
	Exec
	FPSCR
	DMA
	Channel
)

var (
	sink io.Writer = os.Stderr
	mask int
)

// SetSink changes where trace output is written.
func SetSink(w io.Writer) { sink = w }

// SetMask enables the given bitwise-or'd set of trace categories.
func SetMask(m int) { mask = m }

// PPUf emits a primary-core trace line if level is enabled.
func PPUf(level int, format string, a ...any) {
	if mask&level != 0 {
		fmt.Fprintf(sink, "ppu: "+format+"\n", a...)
	}
}

// SPUf emits an auxiliary-core trace line if level is enabled.
func SPUf(id int, level int, format string, a ...any) {
	if mask&level != 0 {
		fmt.Fprintf(sink, "spu%d: "+format+"\n", append([]any{id}, a...)...)
	}
}

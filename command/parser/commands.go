/*
 * ps3core - Debugger command table.
 *
 * Adapted from S370's command/parser/commands.go (Copyright 2024, Richard
 * Cornwell): the same cmdList-of-verbs shape, replacing channel-attach and
 * device show/set/examine/deposit verbs with primary/auxiliary-core step,
 * run, breakpoint, register, memory and module-load verbs (spec.md §9-§10).
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

package parser

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/cellcore/ps3core/machine"
	"github.com/cellcore/ps3core/util/trace"
)

var cmdList = []cmd{
	{Name: "step", Min: 2, Process: step},
	{Name: "run", Min: 3, Process: run},
	{Name: "stop", Min: 3, Process: stop},
	{Name: "continue", Min: 4, Process: cont},
	{Name: "break", Min: 3, Process: setBreak},
	{Name: "clear", Min: 3, Process: clearBreak},
	{Name: "reg", Min: 3, Process: showReg},
	{Name: "examine", Min: 2, Process: examine},
	{Name: "deposit", Min: 2, Process: deposit},
	{Name: "load", Min: 2, Process: load},
	{Name: "aux", Min: 3, Process: aux},
	{Name: "trace", Min: 3, Process: setTrace},
	{Name: "quit", Min: 4, Process: quit},
}

func quit(_ *cmdLine, _ *machine.Machine) (bool, error) {
	slog.Debug("command: quit")
	return true, nil
}

// Advance the machine by n scheduler passes (one primary-core instruction
// plus one round-robined auxiliary-core instruction each).
func step(line *cmdLine, m *machine.Machine) (bool, error) {
	n, err := line.getNumber()
	if err != nil {
		n = 1
	}
	for i := uint32(0); i < n; i++ {
		m.Step()
	}
	fmt.Printf("ppu pc=%#010x status=%s\n", m.Primary.PC, m.Primary.Status)
	return false, nil
}

// Start the scheduler's background run loop.
func run(_ *cmdLine, m *machine.Machine) (bool, error) {
	slog.Debug("command: run")
	m.Run()
	return false, nil
}

// Stop the scheduler's background run loop.
func stop(_ *cmdLine, m *machine.Machine) (bool, error) {
	slog.Debug("command: stop")
	m.Stop()
	return false, nil
}

// Resume the scheduler's background run loop after a stop.
func cont(_ *cmdLine, m *machine.Machine) (bool, error) {
	slog.Debug("command: continue")
	m.Run()
	return false, nil
}

// Set a breakpoint on the primary core at a hex address.
func setBreak(line *cmdLine, m *machine.Machine) (bool, error) {
	addr, err := line.getHex()
	if err != nil {
		return false, errors.New("break requires a hex address")
	}
	m.Primary.SetBreakpoint(addr, nil)
	return false, nil
}

// Clear a breakpoint on the primary core.
func clearBreak(line *cmdLine, m *machine.Machine) (bool, error) {
	addr, err := line.getHex()
	if err != nil {
		return false, errors.New("clear requires a hex address")
	}
	m.Primary.ClearBreakpoint(addr)
	return false, nil
}

// Print the primary core's architected registers, or with "spu <id>"
// an auxiliary core's register file and program counter.
func showReg(line *cmdLine, m *machine.Machine) (bool, error) {
	word := line.getWord(false)
	if word == "spu" {
		id, err := line.getNumber()
		if err != nil || int(id) >= len(m.Aux) || m.Aux[id] == nil {
			return false, errors.New("reg spu: invalid or unattached core id")
		}
		slot := m.Aux[id]
		fmt.Printf("spu%d pc=%#06x halted=%v\n", slot.Cpu.ID, slot.Cpu.PC, slot.Cpu.Halted)
		for i, r := range slot.Cpu.Regs {
			fmt.Printf(" r%-3d %08x %08x %08x %08x\n", i, r[0], r[1], r[2], r[3])
		}
		return false, nil
	}

	c := m.Primary
	fmt.Printf("pc=%#010x lr=%#010x ctr=%#018x status=%s\n", c.PC, c.LR, c.CTR, c.Status)
	for i := 0; i < 32; i += 4 {
		fmt.Printf(" r%-2d %016x r%-2d %016x r%-2d %016x r%-2d %016x\n",
			i, c.GPR[i], i+1, c.GPR[i+1], i+2, c.GPR[i+2], i+3, c.GPR[i+3])
	}
	fmt.Printf(" xer so=%v ov=%v ca=%v\n", c.XER.SO, c.XER.OV, c.XER.CA)
	for i, f := range c.CR {
		fmt.Printf(" cr%d lt=%v gt=%v eq=%v so=%v\n", i, f.LT, f.GT, f.EQ, f.SO)
	}
	return false, nil
}

// Load a file into the machine, as an executable by default or as a
// dynamic module with the "module" qualifier word.
func load(line *cmdLine, m *machine.Machine) (bool, error) {
	path, ok := line.parseQuoteString()
	if !ok || path == "" {
		return false, errors.New("load requires a file path")
	}
	asModule := false
	word := line.getWord(false)
	if word == "module" {
		asModule = true
	}
	base, err := line.getHex()
	if err != nil {
		base = 0
	}
	mod, err := m.LoadFile(path, asModule, base)
	if err != nil {
		return false, err
	}
	fmt.Printf("loaded %s base=%#010x entry=%#010x size=%#x\n", mod.Name, mod.Base, mod.Entry, mod.Size)
	return false, nil
}

// Attach or detach an auxiliary core at a slot index.
func aux(line *cmdLine, m *machine.Machine) (bool, error) {
	sub := line.getWord(false)
	id, err := line.getNumber()
	if err != nil {
		return false, errors.New("aux requires a core id")
	}
	switch sub {
	case "attach":
		slot, err := m.AttachAux(int(id))
		if err != nil {
			return false, err
		}
		fmt.Printf("attached spu%d\n", slot.ID)
	case "detach":
		if err := m.DetachAux(int(id)); err != nil {
			return false, err
		}
		fmt.Printf("detached spu%d\n", id)
	default:
		return false, errors.New("aux requires attach or detach")
	}
	return false, nil
}

// Set the gated debug-trace mask: any comma-separated subset of decode,
// exec, fpscr, dma, channel, or a raw hex bitmask.
func setTrace(line *cmdLine, _ *machine.Machine) (bool, error) {
	line.skipSpace()
	rest := line.line[line.pos:]
	if rest == "" {
		return false, errors.New("trace requires a category list or hex mask")
	}
	if n, err := strconv.ParseUint(rest, 0, 32); err == nil {
		trace.SetMask(int(n))
		return false, nil
	}
	mask := 0
	for _, word := range splitComma(rest) {
		switch word {
		case "decode":
			mask |= trace.Decode
		case "exec":
			mask |= trace.Exec
		case "fpscr":
			mask |= trace.FPSCR
		case "dma":
			mask |= trace.DMA
		case "channel":
			mask |= trace.Channel
		default:
			return false, fmt.Errorf("unknown trace category: %s", word)
		}
	}
	trace.SetMask(mask)
	return false, nil
}

func splitComma(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

/*
 * ps3core - Top-level machine: wires memory, loader, key database, the
 * primary core, up to eight auxiliary cores, and the scheduler together
 * into the single object main.go and the debugger console share.
 *
 * Adapted from S370's emu/core.Core, which played the same role for the
 * teacher's single mainframe CPU plus its telnet console (Copyright 2024,
 * Richard Cornwell): this generalizes "one owned CPU, started/stopped by
 * console commands" to "one owned scheduler driving a primary core and a
 * roster of auxiliary cores" (spec.md §9).
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

// Package machine is the emulator's single owned top-level object: the
// memory manager, loader, key database, primary core, auxiliary-core
// roster and scheduler, plus the bookkeeping the debugger console needs
// to drive them (spec.md §9).
package machine

import (
	"errors"
	"fmt"
	"os"

	"github.com/cellcore/ps3core/emu/channel"
	"github.com/cellcore/ps3core/emu/keydb"
	"github.com/cellcore/ps3core/emu/loader"
	"github.com/cellcore/ps3core/emu/memory"
	"github.com/cellcore/ps3core/emu/mfc"
	"github.com/cellcore/ps3core/emu/ppu"
	"github.com/cellcore/ps3core/emu/scheduler"
	"github.com/cellcore/ps3core/emu/spu"
)

// Default region sizes used when the key database's config document does
// not override them (spec.md §6: main memory, graphics memory, heap).
const (
	DefaultMainMemory = 256 << 20
	DefaultGraphics   = 256 << 20
	DefaultHeap       = 32 << 20
)

// AuxSlot is one attached auxiliary core's owned pieces, kept alongside
// the scheduler.AuxThread so the console can address a slot by index
// without reaching through the scheduler's internals.
type AuxSlot struct {
	ID  int
	LS  *spu.LocalStore
	Ch  *channel.Set
	MFC *mfc.Controller
	Cpu *spu.Core
}

// Machine is the owned object main.go constructs once and the debugger
// console operates on for the life of the process.
type Machine struct {
	Mem    *memory.Manager
	Keys   *keydb.Database
	Loader *loader.Loader

	Primary   *ppu.Core
	Scheduler *scheduler.Scheduler

	Aux [scheduler.MaxAuxCores]*AuxSlot

	modules []*loader.Module
}

// New allocates main memory, graphics memory and a heap region, sized from
// keys' "main", "graphics" and "heap" region directives when present
// (spec.md §6) or the defaults
// otherwise, and builds the primary core, its scheduler, and the
// loader/key-database pair. keys may be nil, in which case an empty
// database is used (no signed modules can load, and default sizes apply).
func New(keys *keydb.Database) (*Machine, error) {
	if keys == nil {
		keys = keydb.New()
	}
	mainSize := uint32(DefaultMainMemory)
	if r, ok := keys.Regions["main"]; ok && r.Size > 0 {
		mainSize = r.Size
	}
	mem := memory.New()
	if err := mem.Allocate(0, mainSize, memory.Protection{Read: true, Write: true, Execute: true}); err != nil {
		return nil, fmt.Errorf("machine: allocate main memory: %w", err)
	}
	graphicsSize := uint32(DefaultGraphics)
	if r, ok := keys.Regions["graphics"]; ok && r.Size > 0 {
		graphicsSize = r.Size
	}
	if err := mem.Allocate(mainSize, graphicsSize, memory.Protection{Read: true, Write: true}); err != nil {
		return nil, fmt.Errorf("machine: allocate graphics memory: %w", err)
	}
	heapSize := uint32(DefaultHeap)
	if r, ok := keys.Regions["heap"]; ok && r.Size > 0 {
		heapSize = r.Size
	}
	if err := mem.Allocate(mainSize+graphicsSize, heapSize, memory.Protection{Read: true, Write: true}); err != nil {
		return nil, fmt.Errorf("machine: allocate heap region: %w", err)
	}

	primary := ppu.New(mem, 1)
	m := &Machine{
		Mem:       mem,
		Keys:      keys,
		Loader:    loader.New(mem, keys),
		Primary:   primary,
		Scheduler: scheduler.New(primary),
	}
	return m, nil
}

// LoadFile reads path and loads it as an executable (or, with asModule
// true, a dynamic module) at baseHint.
func (m *Machine) LoadFile(path string, asModule bool, baseHint uint32) (*loader.Module, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	kind := loader.Executable
	if asModule {
		kind = loader.ModuleKind
	}
	mod, err := m.Loader.Load(path, raw, kind, baseHint)
	if err != nil {
		return nil, err
	}
	m.modules = append(m.modules, mod)
	if !asModule {
		m.Primary.PC = mod.Entry
	}
	return mod, nil
}

// Modules lists every module loaded so far, in load order.
func (m *Machine) Modules() []*loader.Module {
	return m.modules
}

var errBadAuxID = errors.New("machine: auxiliary core id out of range")

// AttachAux creates and attaches a fresh auxiliary core at slot id
// (0-7), giving it its own private local store, channel set and MFC
// bound to this machine's shared memory.
func (m *Machine) AttachAux(id int) (*AuxSlot, error) {
	if id < 0 || id >= scheduler.MaxAuxCores {
		return nil, errBadAuxID
	}
	ls := spu.NewLocalStore()
	ch := channel.New()
	owner := uint64(100 + id)
	cpu := spu.New(id, ls, ch)
	ctrl := mfc.New(m.Mem, ls, ch, owner)
	ch.EnqueueDMA = func(op int, lsAddr, main, size, tag uint32) bool {
		return ctrl.Enqueue(mfc.Command{Op: mfc.Op(op), LS: lsAddr, Main: main, Size: size, Tag: tag}) == nil
	}
	ch.ResumeList = ctrl.ResumeList
	slot := &AuxSlot{ID: id, LS: ls, Ch: ch, MFC: ctrl, Cpu: cpu}
	m.Aux[id] = slot
	m.Scheduler.AttachAux(id, &scheduler.AuxThread{Core: cpu, MFC: ctrl, Ch: ch, Owner: owner})
	return slot, nil
}

// DetachAux tears down the auxiliary core at slot id, if any.
func (m *Machine) DetachAux(id int) error {
	if id < 0 || id >= scheduler.MaxAuxCores {
		return errBadAuxID
	}
	m.Scheduler.DetachAux(id, m.Mem)
	m.Aux[id] = nil
	return nil
}

// Step advances the machine by exactly one scheduler pass.
func (m *Machine) Step() {
	m.Scheduler.Step()
}

// Run starts the scheduler's background goroutine.
func (m *Machine) Run() {
	m.Scheduler.Run()
}

// Stop halts the scheduler's background goroutine, if running.
func (m *Machine) Stop() {
	if m.Scheduler.Running() {
		m.Scheduler.Stop()
	}
}

// Running reports whether the scheduler's background goroutine is active.
func (m *Machine) Running() bool {
	return m.Scheduler.Running()
}

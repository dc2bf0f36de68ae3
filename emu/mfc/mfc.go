/*
 * ps3core - Memory-flow controller (DMA engine).
 *
 * Adapted from S370's emu/sys_channel CCW-chain completion machinery
 * (Copyright 2024, Richard Cornwell): the same queue-and-tick-to-completion
 * discipline used there for channel-command-word chains is generalized
 * here from "channel program" to "auxiliary-core DMA command" completion,
 * with per-command-type cycle budgets in place of device-specific ones
 * (spec.md §4.F).
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

// Package mfc implements one auxiliary core's memory-flow controller: the
// DMA engine moving bytes between main memory and a local store, with
// tag-group completion and lock-line atomics (spec.md §4.F).
package mfc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cellcore/ps3core/emu/channel"
	"github.com/cellcore/ps3core/emu/event"
	"github.com/cellcore/ps3core/emu/memory"
)

// Op names a DMA command kind.
type Op int

const (
	Get Op = iota
	GetList
	Put
	PutList
	GetReservation
	PutConditional
	PutUnconditional
)

const queueDepth = 16
const listEntrySize = 8 // 4-byte LS address, 2-byte size, 2-byte reserved
const maxListEntries = 2048

// listStallBit is the reserved halfword's stall-and-notify flag: an entry
// carrying it suspends the list after that entry transfers, until software
// clears it with an MFCListStallAck channel write (spec.md §4.F).
const listStallBit = 0x8000

var errListStalled = errors.New("mfc: list stalled on stall-and-notify entry")

// listState is a suspended GetList/PutList command, resumed by ResumeList.
type listState struct {
	cmd      Command
	get      bool
	index    int
	mainAddr uint32
}

// Command is one DMA request as enqueued by the auxiliary-core interpreter
// via a channel write (spec.md §4.F).
type Command struct {
	Op      Op
	LS      uint32
	Main    uint32
	Size    uint32
	Tag     uint32
	ListPtr uint32
	Barrier bool
}

// LocalStore is the subset of an auxiliary core's local store the MFC needs
// to move bytes in and out of; implemented by package spu, kept as an
// interface here so mfc never imports spu (mfc is owned by, not owner of,
// the core it serves).
type LocalStore interface {
	ReadAt(addr uint32, n int) []byte
	WriteAt(addr uint32, data []byte)
}

var ErrQueueFull = errors.New("mfc: command queue full")

// Controller is one auxiliary core's MFC, bound to the shared memory
// manager, that core's local store, and that core's channel set.
type Controller struct {
	mu sync.Mutex

	mem   *memory.Manager
	ls    LocalStore
	ch    *channel.Set
	owner uint64

	// queued holds commands not yet performed, in submission order; evlist
	// schedules the completion callback for queued[0] only, re-scheduling
	// the new head each time one fires (spec.md §4.F: "within a single
	// tag, completions appear in submission order").
	queued    []Command
	evlist    *event.List
	errorTags uint32

	stalledLists map[uint32]*listState
}

const evKeyComplete = "complete"

// New creates an MFC for one auxiliary core. owner is the reservation-table
// owner id this core's lock-line operations use in the memory manager.
func New(mem *memory.Manager, ls LocalStore, ch *channel.Set, owner uint64) *Controller {
	return &Controller{mem: mem, ls: ls, ch: ch, owner: owner, evlist: event.NewList(), stalledLists: make(map[uint32]*listState)}
}

func baseCycles(op Op) int {
	switch op {
	case Get, Put, GetReservation, PutConditional, PutUnconditional:
		return 50
	case GetList, PutList:
		return 150
	default:
		return 100
	}
}

func budgetFor(cmd Command) int {
	blocks := (cmd.Size + 127) / 128
	return baseCycles(cmd.Op) + 10*int(blocks)
}

// Enqueue submits a command. Commands of size <= 128 bytes complete
// synchronously (spec.md §4.F); larger ones are queued and completed by
// Tick over subsequent cycles via evlist. Returns ErrQueueFull if the
// 16-entry queue is already saturated with queued (not immediate) commands.
func (c *Controller) Enqueue(cmd Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cmd.Size <= 128 && cmd.Op != GetList && cmd.Op != PutList {
		// Mirrors completeHead's error handling: a command failure (e.g. a
		// PutConditional that loses its reservation) still completes the
		// tag with DMAError set, rather than being reported as Enqueue's
		// own error (spec.md §4.F).
		if err := c.perform(cmd); err != nil {
			c.errorTags |= 1 << cmd.Tag
		}
		c.ch.CompleteTag(cmd.Tag)
		return nil
	}

	if len(c.queued) >= queueDepth {
		return ErrQueueFull
	}
	wasEmpty := len(c.queued) == 0
	c.queued = append(c.queued, cmd)
	if wasEmpty {
		c.evlist.Add(evKeyComplete, c.completeHead, budgetFor(cmd), 0)
	}
	return nil
}

// completeHead performs the front-of-queue command and schedules the next
// one, run from within evlist.Advance while c.mu is already held. Strictly
// serializing the queue this way satisfies the in-order-per-tag ordering
// spec.md §4.F and §9 require, at the cost of also serializing across tags
// — the strict interpretation this module takes for the open question in
// spec.md §9.
func (c *Controller) completeHead(int) {
	cmd := c.queued[0]
	c.queued = c.queued[1:]
	switch err := c.perform(cmd); {
	case err == errListStalled:
		// Left pending: ResumeList completes the tag once software
		// acknowledges the stall.
	case err != nil:
		c.errorTags |= 1 << cmd.Tag
		c.ch.CompleteTag(cmd.Tag)
	default:
		c.ch.CompleteTag(cmd.Tag)
	}
	if len(c.queued) > 0 {
		c.evlist.Add(evKeyComplete, c.completeHead, budgetFor(c.queued[0]), 0)
	}
}

// ResumeList clears a suspended list-DMA's stall condition and resumes it
// from where it stopped, completing the tag once the list is exhausted or
// re-suspending it if another stall-and-notify entry follows (spec.md
// §4.F).
func (c *Controller) ResumeList(tag uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.stalledLists[tag]
	if !ok {
		return fmt.Errorf("mfc: no stalled list for tag %d", tag)
	}
	delete(c.stalledLists, tag)
	stalled, err := c.runListFrom(st.cmd, st.get, st.index, st.mainAddr)
	if stalled {
		return nil
	}
	if err != nil {
		c.errorTags |= 1 << tag
	}
	c.ch.CompleteTag(tag)
	return nil
}

// Tick advances the queue by one scheduler cycle (spec.md §4.H).
func (c *Controller) Tick() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evlist.Advance(1)
}

// ErrorTags reports which tags have completed with an outstanding error
// (e.g. a failed PutConditional), per spec.md §7's DMAError policy.
func (c *Controller) ErrorTags() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errorTags
}

func (c *Controller) perform(cmd Command) error {
	switch cmd.Op {
	case Get:
		data, err := c.mem.CopyToHost(cmd.Main, int(cmd.Size))
		if err != nil {
			return err
		}
		c.ls.WriteAt(cmd.LS, data)
		return nil
	case Put:
		data := c.ls.ReadAt(cmd.LS, int(cmd.Size))
		return c.mem.CopyFromHost(cmd.Main, data)
	case GetList:
		if stalled, err := c.runList(cmd, true); stalled {
			return errListStalled
		} else {
			return err
		}
	case PutList:
		if stalled, err := c.runList(cmd, false); stalled {
			return errListStalled
		} else {
			return err
		}
	case GetReservation:
		snap, err := c.mem.Reserve(c.owner, cmd.Main)
		if err != nil {
			return err
		}
		c.ls.WriteAt(cmd.LS, snap[:])
		return nil
	case PutConditional:
		data := c.ls.ReadAt(cmd.LS, memory.LineSize)
		ok, err := c.mem.StoreConditional(c.owner, cmd.Main, data)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("mfc: store-conditional failed at %#08x", cmd.Main)
		}
		return nil
	case PutUnconditional:
		data := c.ls.ReadAt(cmd.LS, memory.LineSize)
		return c.mem.CopyFromHost(cmd.Main, data)
	default:
		return fmt.Errorf("mfc: unknown op %d", cmd.Op)
	}
}

// runList walks a DMA list read from the local store at cmd.ListPtr,
// transferring each (ls-addr, size) entry independently against a main
// address that advances by each entry's size in turn. cmd.Size gives the
// list's own length in bytes (listEntrySize per entry), not a transfer
// size, for GetList/PutList commands (spec.md §4.F).
func (c *Controller) runList(cmd Command, get bool) (bool, error) {
	return c.runListFrom(cmd, get, 0, cmd.Main)
}

// runListFrom resumes (or starts) a list walk at entry index start against
// mainAddr, returning true if it stopped on a stall-and-notify entry
// rather than running off the end of the list.
func (c *Controller) runListFrom(cmd Command, get bool, start int, mainAddr uint32) (bool, error) {
	entries := int(cmd.Size) / listEntrySize
	if entries > maxListEntries {
		entries = maxListEntries
	}
	for i := start; i < entries; i++ {
		entry := c.ls.ReadAt(cmd.ListPtr+uint32(i*listEntrySize), listEntrySize)
		lsAddr := be32(entry[0:4])
		size := uint16(entry[4])<<8 | uint16(entry[5])
		reserved := uint16(entry[6])<<8 | uint16(entry[7])
		if get {
			data, err := c.mem.CopyToHost(mainAddr, int(size))
			if err != nil {
				return false, err
			}
			c.ls.WriteAt(lsAddr, data)
		} else {
			data := c.ls.ReadAt(lsAddr, int(size))
			if err := c.mem.CopyFromHost(mainAddr, data); err != nil {
				return false, err
			}
		}
		mainAddr += uint32(size)
		if reserved&listStallBit != 0 {
			c.stalledLists[cmd.Tag] = &listState{cmd: cmd, get: get, index: i + 1, mainAddr: mainAddr}
			c.ch.RaiseListStall(cmd.Tag)
			return true, nil
		}
	}
	return false, nil
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

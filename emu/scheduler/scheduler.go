/*
 * ps3core - Machine scheduler: round-robins the primary core and up to
 * eight auxiliary cores, ticking each core's MFC and channel decrementer
 * once per pass.
 *
 * Adapted from S370's emu/core.Core run loop and emu/timer (Copyright 2024,
 * Richard Cornwell): the same running/done-channel driven Start/Stop shape,
 * generalized from "one CPU plus a timer event list" to "one primary-core
 * thread plus N auxiliary-core threads, each ticked in turn" (spec.md §4.H).
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

// Package scheduler drives the machine's cores: one primary-core thread and
// up to eight auxiliary-core threads, cooperatively round-robined one
// instruction (or one blocked-check) at a time (spec.md §4.H).
package scheduler

import (
	"log/slog"
	"sync"

	"github.com/cellcore/ps3core/emu/channel"
	"github.com/cellcore/ps3core/emu/mfc"
	"github.com/cellcore/ps3core/emu/ppu"
	"github.com/cellcore/ps3core/emu/spu"
)

const MaxAuxCores = 8

// AuxThread bundles one auxiliary core's interpreter, local-store owning
// MFC, and channel set, the three pieces the scheduler ticks together.
type AuxThread struct {
	Core *spu.Core
	MFC  *mfc.Controller
	Ch   *channel.Set

	Owner uint64

	stopped bool
	blocked bool
}

// Scheduler owns one primary-core thread and a fixed-size roster of
// auxiliary-core threads, cycling through them in round-robin order
// (spec.md §4.H: "round-robin the primary core and auxiliary cores").
type Scheduler struct {
	mu sync.Mutex

	Primary *ppu.Core
	Aux     [MaxAuxCores]*AuxThread

	primaryStopped bool
	cursor         int // next aux slot to run

	done    chan struct{}
	wg      sync.WaitGroup
	running bool
}

// New creates an idle scheduler bound to primary. Auxiliary threads are
// attached individually with AttachAux as modules enable them.
func New(primary *ppu.Core) *Scheduler {
	return &Scheduler{Primary: primary, done: make(chan struct{})}
}

// AttachAux installs an auxiliary-core thread at slot id (0-7). Replacing
// an already-attached slot is allowed; the prior thread is simply dropped.
func (s *Scheduler) AttachAux(id int, t *AuxThread) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Aux[id] = t
}

// DetachAux removes the auxiliary-core thread at slot id, dropping any
// reservation it held (spec.md §3, §5: cancellation drops reservations).
func (s *Scheduler) DetachAux(id int, mem reservationClearer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.Aux[id]
	s.Aux[id] = nil
	if t != nil && mem != nil {
		mem.ClearReservationsFor(t.Owner)
	}
}

type reservationClearer interface {
	ClearReservationsFor(owner uint64)
}

// Step runs exactly one scheduler pass: one primary-core instruction (if
// not halted), then the next not-yet-serviced auxiliary core's instruction
// in round-robin order, then ticks every attached core's MFC and channel
// decrementer once (spec.md §4.F, §4.G, §4.H).
func (s *Scheduler) Step() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stepLocked()
}

func (s *Scheduler) stepLocked() {
	if !s.primaryStopped && s.Primary != nil {
		if err := s.Primary.Step(); err != nil {
			s.primaryStopped = true
			slog.Debug("primary core stopped", "err", err)
		}
	}

	for i := 0; i < MaxAuxCores; i++ {
		idx := (s.cursor + i) % MaxAuxCores
		t := s.Aux[idx]
		if t == nil || t.stopped {
			continue
		}
		s.stepAux(t)
		s.cursor = (idx + 1) % MaxAuxCores
		break
	}

	for _, t := range s.Aux {
		if t == nil {
			continue
		}
		t.MFC.Tick()
		t.Ch.Tick()
	}
}

// stepAux always calls Core.Step, even when the core was left blocked by
// its previous turn: Step itself retries the channel access that blocked
// it (opRDCH/opWRCH re-check the channel and clear Blocked once the
// condition it was waiting on has cleared), so re-invoking it every pass
// is what actually implements spec.md §4.H's "skip an auxiliary core whose
// last channel access blocked, until its wait condition clears" — skipping
// the Step call entirely, as an earlier version of this function did,
// meant Blocked could never clear once set.
func (s *Scheduler) stepAux(t *AuxThread) {
	t.blocked = t.Core.Blocked
	if _, err := t.Core.Step(); err != nil {
		t.stopped = true
		slog.Debug("auxiliary core stopped", "id", t.Core.ID, "err", err)
	}
	t.blocked = t.Core.Blocked
}

// Run drives Step in a loop on its own goroutine until Stop is called or
// every attached core has halted. Calling Run again after a prior Stop
// starts a fresh goroutine with a fresh done channel.
func (s *Scheduler) Run() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.done = make(chan struct{})
	done := s.done
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-done:
				s.mu.Lock()
				s.running = false
				s.mu.Unlock()
				return
			default:
			}
			s.mu.Lock()
			allStopped := s.primaryStopped
			for _, t := range s.Aux {
				if t != nil && !t.stopped {
					allStopped = false
				}
			}
			if allStopped {
				s.running = false
				s.mu.Unlock()
				return
			}
			s.running = true
			s.stepLocked()
			s.mu.Unlock()
		}
	}()
}

// Stop halts Run's goroutine and waits for it to exit. It is a no-op if
// Run is not currently active.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.done)
	s.mu.Unlock()
	s.wg.Wait()
}

// Running reports whether Run's goroutine is actively stepping cores.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

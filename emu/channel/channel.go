/*
 * ps3core - Auxiliary-core channel subsystem.
 *
 * Adapted from S370's emu/sys_channel package (Copyright 2024, Richard
 * Cornwell): the same condition-bitmask-and-wake style used there for
 * channel-end interrupts is generalized here from "I/O channel reached
 * device end" to "channel subsystem event-status bit became set while
 * covered by event-mask" (spec.md §4.G).
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

// Package channel implements one auxiliary core's mailbox, signal,
// event and decrementer state (spec.md §4.G).
package channel

import "sync"

// Channel numbers recognized by read/write (spec.md §4.G table).
const (
	InMbox = iota
	OutMbox
	OutIntrMbox
	SigNotify1
	SigNotify2
	EventMask
	EventStatus
	EventAck
	Dec
	MFCCommandLSA
	MFCCommandEA
	MFCCommandSize
	MFCCommandTagOp
	MFCTagMask
	MFCTagStatus
	MFCTagQueryType
	MFCListStallAck
)

// Event-status bits (spec.md §4.G).
const (
	EventSignal1 = 1 << iota
	EventSignal2
	EventOutMboxSpace
	EventInMboxData
	EventDecZero
	EventTagComplete
	EventListStall
)

const inMboxDepth = 4

// Set is one auxiliary core's channel state, owned exclusively by that
// core except for the primary-core-facing mailbox/signal writes.
type Set struct {
	mu sync.Mutex

	inMbox    []uint32
	outMbox   *uint32
	outIntr   *uint32
	sig1, sig2 uint32
	sig1Pend, sig2Pend bool

	eventMask   uint32
	eventStatus uint32
	dec         uint32

	tagMask   uint32
	tagStatus uint32

	listStallStatus uint32

	// mfcLSA/mfcEA/mfcSize hold the in-progress DMA command assembled from
	// MFCCommandLSA/EA/Size writes, latched until the MFCCommandTagOp write
	// triggers EnqueueDMA (spec.md §4.F's channel-mediated command protocol).
	mfcLSA, mfcEA, mfcSize uint32

	blockedOnStatus bool
	wake            chan struct{}

	// OutIntrNotify is invoked (outside the lock) whenever a write lands in
	// the outbound-interrupt mailbox, modeling the host-side notification
	// spec.md §4.G requires; nil is a valid no-op.
	OutIntrNotify func(uint32)

	// EnqueueDMA is invoked (outside the lock) when an MFCCommandTagOp write
	// completes a DMA command assembly; wired by machine.AttachAux to that
	// core's mfc.Controller.Enqueue. Its bool result reports whether the
	// command was accepted (false on ErrQueueFull), which WriteChannel
	// passes straight back to the caller so a full MFC queue blocks the
	// writing opWRCH the same way any other full channel does (spec.md
	// §4.F's "the queue-full condition causes the enqueue channel write to
	// block the writer").
	EnqueueDMA func(op int, ls, main, size, tag uint32) bool

	// ResumeList is invoked (outside the lock) by an MFCListStallAck write,
	// clearing a list-DMA's stall-and-notify condition; wired by
	// machine.AttachAux to that core's mfc.Controller.ResumeList.
	ResumeList func(tag uint32) error
}

// New creates an empty channel set for one auxiliary core.
func New() *Set {
	return &Set{wake: make(chan struct{}, 1)}
}

func (s *Set) recomputeStatusLocked() {
	var st uint32
	if s.sig1Pend {
		st |= EventSignal1
	}
	if s.sig2Pend {
		st |= EventSignal2
	}
	if s.outMbox == nil {
		st |= EventOutMboxSpace
	}
	if len(s.inMbox) > 0 {
		st |= EventInMboxData
	}
	if s.dec == 0 {
		st |= EventDecZero
	}
	if s.tagStatus&s.tagMask == s.tagMask && s.tagMask != 0 {
		st |= EventTagComplete
	}
	if s.listStallStatus != 0 {
		st |= EventListStall
	}
	s.eventStatus = st
	if st&s.eventMask != 0 {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
}

// WriteMbox delivers one value into the inbound FIFO mailbox from the
// primary core. Returns false if the mailbox is full (spec.md §4.G).
func (s *Set) WriteMbox(v uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.inMbox) >= inMboxDepth {
		return false
	}
	s.inMbox = append(s.inMbox, v)
	s.recomputeStatusLocked()
	return true
}

// ReadOutMbox drains the 1-deep outbound mailbox, for the primary core.
func (s *Set) ReadOutMbox() (uint32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outMbox == nil {
		return 0, false
	}
	v := *s.outMbox
	s.outMbox = nil
	s.recomputeStatusLocked()
	return v, true
}

// WriteSignal OR-accumulates a value into one of the two signal-notify
// registers, from the primary core.
func (s *Set) WriteSignal(which int, v uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch which {
	case 1:
		s.sig1 |= v
		s.sig1Pend = true
	case 2:
		s.sig2 |= v
		s.sig2Pend = true
	}
	s.recomputeStatusLocked()
}

// SetDec loads the decrementer, used at thread setup or by the auxiliary
// core itself.
func (s *Set) SetDec(v uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dec = v
	s.recomputeStatusLocked()
}

// Tick decrements the decrementer by one scheduler tick if it is running,
// recomputing event status on reaching zero (spec.md §4.H).
func (s *Set) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dec > 0 {
		s.dec--
		s.recomputeStatusLocked()
	}
}

// CompleteTag sets a bit in the tag-completion bitmap, called by the MFC.
func (s *Set) CompleteTag(tag uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tagStatus |= 1 << tag
	s.recomputeStatusLocked()
}

// RaiseListStall records that a list-DMA command has suspended on a
// stall-and-notify entry, called by the MFC. The tag's list stays
// suspended until software acknowledges it with an MFCListStallAck write
// (spec.md §4.F).
func (s *Set) RaiseListStall(tag uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listStallStatus |= 1 << tag
	s.recomputeStatusLocked()
}

// ReadChannel implements the auxiliary core's read-channel instruction. It
// returns (value, true) on success or (0, false) to mean "would block",
// which the auxiliary-core interpreter turns into a thread suspension
// (spec.md §4.D-E, §5: only the auxiliary core ever suspends).
func (s *Set) ReadChannel(ch int) (uint32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch ch {
	case InMbox:
		if len(s.inMbox) == 0 {
			return 0, false
		}
		v := s.inMbox[0]
		s.inMbox = s.inMbox[1:]
		s.recomputeStatusLocked()
		return v, true
	case SigNotify1:
		if !s.sig1Pend {
			return 0, false
		}
		v := s.sig1
		s.sig1, s.sig1Pend = 0, false
		s.recomputeStatusLocked()
		return v, true
	case SigNotify2:
		if !s.sig2Pend {
			return 0, false
		}
		v := s.sig2
		s.sig2, s.sig2Pend = 0, false
		s.recomputeStatusLocked()
		return v, true
	case EventStatus:
		return s.eventStatus, true
	case Dec:
		return s.dec, true
	case MFCTagStatus:
		return s.tagStatus, true
	default:
		return 0, false
	}
}

// WriteChannel implements the auxiliary core's write-channel instruction.
// Returns false to mean "would block": a full outbound mailbox, or an
// MFCCommandTagOp write whose command EnqueueDMA did not accept.
func (s *Set) WriteChannel(ch int, v uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch ch {
	case OutMbox:
		if s.outMbox != nil {
			return false
		}
		nv := v
		s.outMbox = &nv
		s.recomputeStatusLocked()
		return true
	case OutIntrMbox:
		if s.outIntr != nil {
			return false
		}
		nv := v
		s.outIntr = &nv
		notify := s.OutIntrNotify
		s.mu.Unlock()
		if notify != nil {
			notify(v)
		}
		s.mu.Lock()
		s.outIntr = nil
		return true
	case EventMask:
		s.eventMask = v
		s.recomputeStatusLocked()
		return true
	case EventAck:
		s.tagStatus &^= v
		if v&EventSignal1 != 0 {
			s.sig1Pend = false
		}
		if v&EventSignal2 != 0 {
			s.sig2Pend = false
		}
		s.recomputeStatusLocked()
		return true
	case Dec:
		s.dec = v
		s.recomputeStatusLocked()
		return true
	case MFCTagMask:
		s.tagMask = v
		s.recomputeStatusLocked()
		return true
	case MFCCommandLSA:
		s.mfcLSA = v
		return true
	case MFCCommandEA:
		s.mfcEA = v
		return true
	case MFCCommandSize:
		s.mfcSize = v
		return true
	case MFCCommandTagOp:
		// Tag and opcode share one channel word: the low byte is the DMA
		// opcode, the next five bits are the tag group (spec.md §4.F).
		op := int(v & 0xff)
		tag := (v >> 8) & 0x1f
		lsa, ea, size := s.mfcLSA, s.mfcEA, s.mfcSize
		enqueue := s.EnqueueDMA
		s.mu.Unlock()
		accepted := true
		if enqueue != nil {
			accepted = enqueue(op, lsa, ea, size, tag)
		}
		s.mu.Lock()
		return accepted
	case MFCListStallAck:
		s.listStallStatus &^= 1 << v
		s.recomputeStatusLocked()
		resume := s.ResumeList
		tag := v
		s.mu.Unlock()
		if resume != nil {
			_ = resume(tag)
		}
		s.mu.Lock()
		return true
	default:
		return true
	}
}

// WaitStatus blocks the calling goroutine until event-status has a bit set
// that is covered by event-mask, used by the auxiliary-core interpreter
// when it blocks on a channel read.
func (s *Set) WaitStatus() {
	<-s.wake
}

// AnyTag reports whether any bit set in mask is also set in the
// tag-completion bitmap (spec.md §4.F tag query interface).
func (s *Set) AnyTag(mask uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tagStatus&mask != 0
}

// AllTag reports whether every bit set in mask is set in the
// tag-completion bitmap.
func (s *Set) AllTag(mask uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tagStatus&mask == mask
}

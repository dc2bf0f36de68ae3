/* ps3core - Cycle-based event scheduler

   Adapted from S370's event scheduler (emu/event/event.go, Copyright 2024,
   Richard Cornwell): a doubly-linked list of relative-time events, advanced
   one scheduler tick at a time. Generalized to drop the S/370 Device
   pointer in favor of an opaque owner key, and wrapped in a struct instead
   of package-level globals so each auxiliary core's MFC can own an
   independent event list.

   Permission is hereby granted, free of charge, to any person obtaining a
   copy of this software and associated documentation files (the "Software"),
   to deal in the Software without restriction, including without limitation
   the rights to use, copy, modify, merge, publish, distribute, sublicense,
   and/or sell copies of the Software, and to permit persons to whom the
   Software is furnished to do so, subject to the following conditions:

   The above copyright notice and this permission notice shall be included in
   all copies or substantial portions of the Software.

   THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
   IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
   FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT.  IN NO EVENT SHALL
   RICHARD CORNWELL BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
   IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
   CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
*/

// Package event implements a relative-time event list used by the MFC to
// complete queued DMA transfers, driven by the scheduler's cycle tick.
package event

// Callback runs when an event's remaining time reaches zero.
type Callback func(arg int)

type entry struct {
	time int
	key  any
	cb   Callback
	arg  int
	prev *entry
	next *entry
}

// List is a cycle-ordered queue of pending callbacks.
type List struct {
	head *entry
	tail *entry
}

// NewList returns an empty event list.
func NewList() *List {
	return &List{}
}

// Add schedules cb to run after delay cycles, tagged with key (so it can
// later be cancelled) and arg (passed back to cb). A delay of zero runs cb
// immediately, synchronously.
func (l *List) Add(key any, cb Callback, delay int, arg int) {
	if delay <= 0 {
		cb(arg)
		return
	}

	ev := &entry{key: key, cb: cb, time: delay, arg: arg}

	cur := l.head
	if cur == nil {
		l.head = ev
		l.tail = ev
		return
	}

	for cur != nil {
		if ev.time <= cur.time {
			cur.time -= ev.time
			ev.prev = cur.prev
			ev.next = cur
			cur.prev = ev
			if ev.prev != nil {
				ev.prev.next = ev
			} else {
				l.head = ev
			}
			return
		}
		ev.time -= cur.time
		cur = cur.next
	}

	ev.prev = l.tail
	l.tail.next = ev
	l.tail = ev
}

// Cancel removes the first pending event matching key and arg, if any.
func (l *List) Cancel(key any, arg int) {
	cur := l.head
	for cur != nil {
		if cur.key == key && cur.arg == arg {
			if cur.next != nil {
				cur.next.time += cur.time
				cur.next.prev = cur.prev
			} else {
				l.tail = cur.prev
			}
			if cur.prev != nil {
				cur.prev.next = cur.next
			} else {
				l.head = cur.next
			}
			return
		}
		cur = cur.next
	}
}

// Any reports whether any event is pending.
func (l *List) Any() bool {
	return l.head != nil
}

// Advance moves simulated time forward by t cycles, firing every callback
// whose remaining time reaches zero or below, in cycle order.
func (l *List) Advance(t int) {
	cur := l.head
	if cur == nil {
		return
	}
	cur.time -= t
	for cur != nil && cur.time <= 0 {
		cur.cb(cur.arg)
		l.head = cur.next
		if l.head != nil {
			l.head.prev = nil
		} else {
			l.tail = nil
		}
		cur = l.head
	}
}

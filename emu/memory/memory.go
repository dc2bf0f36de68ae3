/* ps3core - Unified process memory model

   Adapted from S370's low level memory manager (Copyright 2024, Richard
   Cornwell), generalized from a 24-bit/2KiB-storage-key model to a flat
   32-bit/4KiB-page model with per-page protection and a reservation table.

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

// Package memory implements the emulated machine's unified 4 GiB process
// address space: page-level protection, big-endian accessors and a
// reservation table shared by the primary core and the auxiliary cores.
package memory

import (
	"fmt"
	"sync"
)

const (
	// PageSize is the fixed page granule of the address space.
	PageSize = 4 * 1024
	pageBits = 12

	// LineSize is the width of a reservation line, fixed by spec.
	LineSize = 128

	numPages = (1 << 32) / PageSize
)

// Protection describes the access rights of a page.
type Protection struct {
	Read    bool
	Write   bool
	Execute bool
}

// Intent names the kind of access that faulted.
type Intent int

const (
	IntentRead Intent = iota
	IntentWrite
	IntentExecute
)

func (i Intent) String() string {
	switch i {
	case IntentRead:
		return "read"
	case IntentWrite:
		return "write"
	case IntentExecute:
		return "execute"
	default:
		return "unknown"
	}
}

// Fault reports an unmapped or insufficiently-protected access.
type Fault struct {
	Address uint32
	Width   int
	Intent  Intent
}

func (f *Fault) Error() string {
	return fmt.Sprintf("memory fault: %s of %d bytes at %#08x", f.Intent, f.Width, f.Address)
}

type page struct {
	present bool
	prot    Protection
	tag     uint32
	data    *[PageSize]byte
}

type reservation struct {
	line uint64 // owning line base address, or noLine if empty
	snap [LineSize]byte
}

const noLine = 1 << 40

// Manager owns the flat address space, its page table and the reservation
// table. All operations are linearizable across concurrent callers (see
// spec.md §5): every exported method takes the single mutex.
type Manager struct {
	mu    sync.Mutex
	pages [numPages]page
	resv  map[uint64]reservation // owner id -> reservation

	// InvalidateCode, if set, is called after any write that lands in an
	// executable page, so a JIT (out of scope, spec.md §9) could drop
	// translations covering the written bytes. The interpreter-only PCI
	// never sets this; the contract holds trivially as a no-op.
	InvalidateCode func(addr, size uint32)
}

// New creates an empty address space with no pages mapped.
func New() *Manager {
	return &Manager{resv: make(map[uint64]reservation)}
}

func pageIndex(addr uint32) uint32 { return addr >> pageBits }

// Allocate maps [base, base+size) with the given protection, rounding size
// up to a page multiple. It never overwrites an already-present page.
func (m *Manager) Allocate(base, size uint32, prot Protection) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pages := (size + PageSize - 1) / PageSize
	start := pageIndex(base)
	for i := uint32(0); i < pages; i++ {
		idx := start + i
		if int(idx) >= numPages {
			return fmt.Errorf("memory: allocate out of range at page %d", idx)
		}
		if m.pages[idx].present {
			return fmt.Errorf("memory: page %#08x already mapped", idx*PageSize)
		}
	}
	for i := uint32(0); i < pages; i++ {
		idx := start + i
		m.pages[idx] = page{present: true, prot: prot, data: new([PageSize]byte)}
	}
	return nil
}

// Free unmaps the pages covering [base, base+size).
func (m *Manager) Free(base, size uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.freeLocked(base, size)
}

func (m *Manager) freeLocked(base, size uint32) {
	pages := (size + PageSize - 1) / PageSize
	start := pageIndex(base)
	for i := uint32(0); i < pages; i++ {
		idx := start + i
		if int(idx) < numPages {
			m.pages[idx] = page{}
		}
	}
}

// Protect changes the protection bits of already-mapped pages covering
// [base, base+size).
func (m *Manager) Protect(base, size uint32, prot Protection) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pages := (size + PageSize - 1) / PageSize
	start := pageIndex(base)
	for i := uint32(0); i < pages; i++ {
		idx := start + i
		if int(idx) >= numPages || !m.pages[idx].present {
			return fmt.Errorf("memory: protect of unmapped page %#08x", (start+i)*PageSize)
		}
		m.pages[idx].prot = prot
	}
	return nil
}

// Tag sets the user-defined tag carried by every page in range, used by the
// loader to mark which module owns a region.
func (m *Manager) Tag(base, size, tag uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pages := (size + PageSize - 1) / PageSize
	start := pageIndex(base)
	for i := uint32(0); i < pages; i++ {
		idx := start + i
		if int(idx) < numPages {
			m.pages[idx].tag = tag
		}
	}
}

func (m *Manager) checkLocked(addr uint32, width int, intent Intent) *Fault {
	idx := pageIndex(addr)
	last := pageIndex(addr + uint32(width) - 1)
	for p := idx; p <= last; p++ {
		pg := &m.pages[p]
		if !pg.present {
			return &Fault{Address: addr, Width: width, Intent: intent}
		}
		switch intent {
		case IntentRead:
			if !pg.prot.Read {
				return &Fault{Address: addr, Width: width, Intent: intent}
			}
		case IntentWrite:
			if !pg.prot.Write {
				return &Fault{Address: addr, Width: width, Intent: intent}
			}
		case IntentExecute:
			if !pg.prot.Execute {
				return &Fault{Address: addr, Width: width, Intent: intent}
			}
		}
	}
	return nil
}

func (m *Manager) byteAt(addr uint32) *byte {
	pg := &m.pages[pageIndex(addr)]
	return &pg.data[addr&(PageSize-1)]
}

func (m *Manager) readLocked(addr uint32, width int, intent Intent) ([]byte, error) {
	if f := m.checkLocked(addr, width, intent); f != nil {
		return nil, f
	}
	out := make([]byte, width)
	for i := 0; i < width; i++ {
		out[i] = *m.byteAt(addr + uint32(i))
	}
	return out, nil
}

func (m *Manager) writeLocked(addr uint32, data []byte) error {
	if f := m.checkLocked(addr, len(data), IntentWrite); f != nil {
		return f
	}
	m.clearOverlapping(addr, uint32(len(data)), noLine)
	for i, b := range data {
		*m.byteAt(addr + uint32(i)) = b
	}
	if m.InvalidateCode != nil && m.pages[pageIndex(addr)].prot.Execute {
		m.InvalidateCode(addr, uint32(len(data)))
	}
	return nil
}

// ReadU8/16/32/64 read a big-endian value of the given width.
func (m *Manager) ReadU8(addr uint32) (uint8, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, err := m.readLocked(addr, 1, IntentRead)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (m *Manager) ReadU16(addr uint32) (uint16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, err := m.readLocked(addr, 2, IntentRead)
	if err != nil {
		return 0, err
	}
	return uint16(b[0])<<8 | uint16(b[1]), nil
}

func (m *Manager) ReadU32(addr uint32) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, err := m.readLocked(addr, 4, IntentRead)
	if err != nil {
		return 0, err
	}
	return beU32(b), nil
}

// FetchU32 reads a big-endian 32-bit instruction word, checking execute
// permission rather than read permission (spec.md §4.C: instruction fetch
// reads a big-endian 32-bit word from the program counter).
func (m *Manager) FetchU32(addr uint32) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, err := m.readLocked(addr, 4, IntentExecute)
	if err != nil {
		return 0, err
	}
	return beU32(b), nil
}

func (m *Manager) ReadU64(addr uint32) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, err := m.readLocked(addr, 8, IntentRead)
	if err != nil {
		return 0, err
	}
	return beU64(b), nil
}

func (m *Manager) WriteU8(addr uint32, v uint8) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeLocked(addr, []byte{v})
}

func (m *Manager) WriteU16(addr uint32, v uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeLocked(addr, []byte{byte(v >> 8), byte(v)})
}

func (m *Manager) WriteU32(addr uint32, v uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeLocked(addr, putBeU32(v))
}

func (m *Manager) WriteU64(addr uint32, v uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeLocked(addr, putBeU64(v))
}

// ReadV128 reads a 16-byte vector as four big-endian 32-bit words. The
// address must be 16-byte aligned.
func (m *Manager) ReadV128(addr uint32) ([4]uint32, error) {
	var out [4]uint32
	if addr&0xf != 0 {
		return out, &Fault{Address: addr, Width: 16, Intent: IntentRead}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, err := m.readLocked(addr, 16, IntentRead)
	if err != nil {
		return out, err
	}
	for i := range out {
		out[i] = beU32(b[i*4 : i*4+4])
	}
	return out, nil
}

// WriteV128 writes a 16-byte vector as four big-endian 32-bit words. The
// address must be 16-byte aligned.
func (m *Manager) WriteV128(addr uint32, v [4]uint32) error {
	if addr&0xf != 0 {
		return &Fault{Address: addr, Width: 16, Intent: IntentWrite}
	}
	buf := make([]byte, 0, 16)
	for _, w := range v {
		buf = append(buf, putBeU32(w)...)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeLocked(addr, buf)
}

// CopyFromHost copies host bytes into the guest address space, used by the
// loader when placing segments and by the MFC when completing a DMA PUT.
func (m *Manager) CopyFromHost(addr uint32, bytes []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeLocked(addr, bytes)
}

// CopyToHost copies guest bytes out to a host buffer, used by the MFC when
// completing a DMA GET.
func (m *Manager) CopyToHost(addr uint32, length int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readLocked(addr, length, IntentRead)
}

// Reserve records a 128-byte-line reservation for owner at addr and returns
// a snapshot of the line. At most one reservation per owner is kept; a new
// Reserve call replaces any previous one.
func (m *Manager) Reserve(owner uint64, addr uint32) ([LineSize]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	line := uint64(addr) &^ (LineSize - 1)
	b, err := m.readLocked(uint32(line), LineSize, IntentRead)
	if err != nil {
		var zero [LineSize]byte
		return zero, err
	}
	var snap [LineSize]byte
	copy(snap[:], b)
	m.resv[owner] = reservation{line: line, snap: snap}
	return snap, nil
}

// ClearReservationsFor drops owner's reservation, used on thread
// cancellation or context-switch notification (spec.md §3, §5).
func (m *Manager) ClearReservationsFor(owner uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.resv, owner)
}

// clearOverlapping invalidates any reservation whose line overlaps
// [addr, addr+size), except exceptOwner's own reservation (used by a
// successful store-conditional, which consumes its own reservation
// separately). Pass noLine to clear unconditionally for all owners.
func (m *Manager) clearOverlapping(addr, size uint32, exceptOwner uint64) {
	if len(m.resv) == 0 {
		return
	}
	lo := uint64(addr)
	hi := uint64(addr) + uint64(size)
	for owner, r := range m.resv {
		if owner == exceptOwner {
			continue
		}
		if r.line < hi && r.line+LineSize > lo {
			delete(m.resv, owner)
		}
	}
}

// StoreConditional attempts an atomic conditional store. It succeeds only
// if owner still holds a reservation on the line containing addr and the
// line's current contents still match the snapshot taken at Reserve time.
// On success the write is applied and the reservation consumed; on failure
// the reservation is consumed without writing.
func (m *Manager) StoreConditional(owner uint64, addr uint32, data []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.resv[owner]
	delete(m.resv, owner)
	if !ok {
		return false, nil
	}
	line := uint64(addr) &^ (LineSize - 1)
	if line != r.line {
		return false, nil
	}
	cur, err := m.readLocked(uint32(line), LineSize, IntentRead)
	if err != nil {
		return false, err
	}
	for i := range cur {
		if cur[i] != r.snap[i] {
			return false, nil
		}
	}
	// This owner's reservation was already consumed above; the store still
	// clears every other owner's reservation overlapping the written bytes.
	m.clearOverlapping(addr, uint32(len(data)), owner)
	for i, b := range data {
		*m.byteAt(addr + uint32(i)) = b
	}
	return true, nil
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

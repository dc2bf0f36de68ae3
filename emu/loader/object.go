package loader

import (
	"encoding/binary"
	"fmt"

	"github.com/cellcore/ps3core/emu/memory"
)

var objMagic = [4]byte{0x7f, 'O', 'B', 'J'}

const objHeaderSize = 48

// Segment types, modeled on the segmented-object format described in
// original_source/crates/oc-loader.
const (
	ptNull = iota
	ptLoad
	ptDynamic
	ptTLS
)

// Segment flag bits.
const (
	flagExec = 1 << iota
	flagWrite
	flagRead
)

// Section types.
const (
	shtNull = iota
	shtProgbits
	shtSymtab
	shtStrtab
	shtRela
	shtHash
	shtDynamic
	shtNote
	shtNobits
)

const shtDynsym = 11

const sectFlagExec = 0x4

type objHeader struct {
	version   uint32
	entry     uint64
	phOff     uint64
	phNum     uint16
	phEntSize uint16
	shOff     uint64
	shNum     uint16
	shEntSize uint16
	shstrndx  uint16
}

type progHeader struct {
	typ    uint32
	flags  uint32
	offset uint64
	vaddr  uint64
	paddr  uint64
	filesz uint64
	memsz  uint64
	align  uint64
}

const progHeaderSize = 56

type sectHeader struct {
	nameOff   uint32
	typ       uint32
	flags     uint64
	addr      uint64
	offset    uint64
	size      uint64
	link      uint32
	info      uint32
	addralign uint64
	entsize   uint64
}

const sectHeaderSize = 64

type symEntry struct {
	nameOff uint32
	info    uint8
	other   uint8
	shndx   uint16
	value   uint64
	size    uint64
}

const symEntrySize = 24

type object struct {
	raw    []byte
	header objHeader
	ph     []progHeader
	sh     []sectHeader
}

func parseObject(data []byte) (*object, error) {
	if len(data) < objHeaderSize || !bytesEqual(data[:4], objMagic[:]) {
		return nil, fmt.Errorf("%w: bad magic", ErrObjectFormat)
	}
	be := binary.BigEndian
	o := &object{raw: data}
	o.header = objHeader{
		version:   be.Uint32(data[4:8]),
		entry:     be.Uint64(data[8:16]),
		phOff:     be.Uint64(data[16:24]),
		phNum:     be.Uint16(data[24:26]),
		phEntSize: be.Uint16(data[26:28]),
		shOff:     be.Uint64(data[28:36]),
		shNum:     be.Uint16(data[36:38]),
		shEntSize: be.Uint16(data[38:40]),
		shstrndx:  be.Uint16(data[40:42]),
	}

	if err := o.readProgramHeaders(); err != nil {
		return nil, err
	}
	if err := o.readSectionHeaders(); err != nil {
		return nil, err
	}
	return o, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (o *object) readProgramHeaders() error {
	be := binary.BigEndian
	off := o.header.phOff
	for i := uint16(0); i < o.header.phNum; i++ {
		end := off + progHeaderSize
		if end > uint64(len(o.raw)) {
			return fmt.Errorf("%w: program header %d out of range", ErrObjectFormat, i)
		}
		b := o.raw[off:end]
		o.ph = append(o.ph, progHeader{
			typ:    be.Uint32(b[0:4]),
			flags:  be.Uint32(b[4:8]),
			offset: be.Uint64(b[8:16]),
			vaddr:  be.Uint64(b[16:24]),
			paddr:  be.Uint64(b[24:32]),
			filesz: be.Uint64(b[32:40]),
			memsz:  be.Uint64(b[40:48]),
			align:  be.Uint64(b[48:56]),
		})
		off = end
	}
	return nil
}

func (o *object) readSectionHeaders() error {
	be := binary.BigEndian
	off := o.header.shOff
	for i := uint16(0); i < o.header.shNum; i++ {
		end := off + sectHeaderSize
		if end > uint64(len(o.raw)) {
			return fmt.Errorf("%w: section header %d out of range", ErrObjectFormat, i)
		}
		b := o.raw[off:end]
		o.sh = append(o.sh, sectHeader{
			nameOff:   be.Uint32(b[0:4]),
			typ:       be.Uint32(b[4:8]),
			flags:     be.Uint64(b[8:16]),
			addr:      be.Uint64(b[16:24]),
			offset:    be.Uint64(b[24:32]),
			size:      be.Uint64(b[32:40]),
			link:      be.Uint32(b[40:44]),
			info:      be.Uint32(b[44:48]),
			addralign: be.Uint64(b[48:56]),
			entsize:   be.Uint64(b[56:64]),
		})
		off = end
	}
	return nil
}

// symbolTable locates the symbol table section (preferring a static symtab,
// falling back to the dynamic symbol table) and its linked string table.
func (o *object) symbolTable() ([]symEntry, []byte, error) {
	var symSec *sectHeader
	for i := range o.sh {
		if o.sh[i].typ == shtSymtab {
			symSec = &o.sh[i]
			break
		}
	}
	if symSec == nil {
		for i := range o.sh {
			if o.sh[i].typ == shtDynsym {
				symSec = &o.sh[i]
				break
			}
		}
	}
	if symSec == nil {
		return nil, nil, nil
	}
	if int(symSec.link) >= len(o.sh) {
		return nil, nil, fmt.Errorf("symbol table link out of range")
	}
	strSec := o.sh[symSec.link]
	strtab := o.raw[strSec.offset : strSec.offset+strSec.size]

	count := symSec.size / symEntrySize
	be := binary.BigEndian
	syms := make([]symEntry, 0, count)
	for i := uint64(0); i < count; i++ {
		off := symSec.offset + i*symEntrySize
		b := o.raw[off : off+symEntrySize]
		syms = append(syms, symEntry{
			nameOff: be.Uint32(b[0:4]),
			info:    b[4],
			other:   b[5],
			shndx:   be.Uint16(b[6:8]),
			value:   be.Uint64(b[8:16]),
			size:    be.Uint64(b[16:24]),
		})
	}
	return syms, strtab, nil
}

func cstring(strtab []byte, off uint32) string {
	if int(off) >= len(strtab) {
		return ""
	}
	end := off
	for int(end) < len(strtab) && strtab[end] != 0 {
		end++
	}
	return string(strtab[off:end])
}

// placeSegments allocates and populates one memory region per PT_LOAD
// segment at base+vaddr, returning the regions placed so the caller can
// roll them back on a later failure.
func (l *Loader) placeSegments(o *object, base uint32, mod *Module) (placement, error) {
	mod.Base = base
	var p placement
	var maxEnd uint32

	for _, ph := range o.ph {
		if ph.typ != ptLoad {
			continue
		}
		addr := base + uint32(ph.vaddr)
		size := pageAlign(uint32(ph.memsz))
		if size == 0 {
			continue
		}
		prot := memory.Protection{
			Read:    ph.flags&flagRead != 0,
			Write:   ph.flags&flagWrite != 0,
			Execute: ph.flags&flagExec != 0,
		}
		// Pages are mapped writable while the file image is copied in, then
		// given the segment's own protection.
		if err := l.mem.Allocate(addr, size, memory.Protection{Read: true, Write: true, Execute: prot.Execute}); err != nil {
			return p, fmt.Errorf("%w: %v", ErrObjectFormat, err)
		}
		p.regs = append(p.regs, struct{ base, size uint32 }{addr, size})

		if ph.filesz > 0 {
			end := ph.offset + ph.filesz
			if end > uint64(len(o.raw)) {
				return p, fmt.Errorf("%w: segment data out of range", ErrObjectFormat)
			}
			if err := l.mem.CopyFromHost(addr, o.raw[ph.offset:end]); err != nil {
				return p, err
			}
		}
		if err := l.mem.Protect(addr, size, prot); err != nil {
			return p, err
		}
		if end := addr + size; end > maxEnd {
			maxEnd = end
		}
	}
	p.base = base
	p.size = maxEnd - base
	return p, nil
}

func pageAlign(n uint32) uint32 {
	const pg = memory.PageSize
	return (n + pg - 1) &^ (pg - 1)
}

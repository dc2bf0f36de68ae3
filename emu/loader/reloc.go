package loader

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
)

// Relocation kinds (spec.md §4.B).
const (
	relocNone = iota
	relocAddr64
	relocAddr32
	relocRelative
	relocGlobDat
	relocJmpSlot
)

const (
	stbLocal = 0
)

const (
	sttFunc = 2
	sttTLS  = 6
)

func symBind(info uint8) uint8 { return info >> 4 }
func symType(info uint8) uint8 { return info & 0xf }

func fnv32a(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}

// buildExports registers every globally (or weakly) bound, defined symbol
// as an export candidate for other modules to import by name-hash.
func (mod *Module) buildExports(o *object, syms []symEntry, strtab []byte) {
	for _, s := range syms {
		if s.shndx == 0 || s.nameOff == 0 || symBind(s.info) == stbLocal {
			continue
		}
		name := cstring(strtab, s.nameOff)
		if name == "" {
			continue
		}
		kind := Variable
		switch symType(s.info) {
		case sttFunc:
			kind = Function
		case sttTLS:
			kind = ThreadLocal
		}
		mod.Exports = append(mod.Exports, Export{
			Name:    name,
			Hash:    fnv32a(name),
			Address: mod.Base + uint32(s.value),
			Kind:    kind,
		})
	}
}

type relaEntry struct {
	offset uint64
	info   uint64
	addend int64
}

// relocate walks every RELA section, patching immediately every entry that
// resolves locally or against an export already registered by a loaded
// module, and recording the rest as pending Imports for the caller's
// registerExports/resolveImports pass (spec.md §4.B, §6: two-pass
// name-hash resolution).
func (l *Loader) relocate(o *object, mod *Module, syms []symEntry, strtab []byte) error {
	be := binary.BigEndian
	for _, sh := range o.sh {
		if sh.typ != shtRela {
			continue
		}
		count := sh.size / 24
		for i := uint64(0); i < count; i++ {
			off := sh.offset + i*24
			b := o.raw[off : off+24]
			r := relaEntry{
				offset: be.Uint64(b[0:8]),
				info:   be.Uint64(b[8:16]),
				addend: int64(be.Uint64(b[16:24])),
			}
			if err := l.applyReloc(mod, syms, strtab, r); err != nil {
				return err
			}
		}
	}
	return nil
}

func (l *Loader) applyReloc(mod *Module, syms []symEntry, strtab []byte, r relaEntry) error {
	addr := mod.Base + uint32(r.offset)
	rtype := uint32(r.info)
	symIdx := uint32(r.info >> 32)

	switch rtype {
	case relocNone:
		return nil
	case relocRelative:
		val := uint32(int64(mod.Base) + r.addend)
		return l.mem.WriteU32(addr, val)
	case relocAddr32, relocAddr64, relocGlobDat, relocJmpSlot:
		if symIdx == 0 || int(symIdx) >= len(syms) {
			return fmt.Errorf("%w: relocation references invalid symbol %d", ErrObjectFormat, symIdx)
		}
		sym := syms[symIdx]
		if sym.shndx != 0 {
			val := mod.Base + uint32(sym.value) + uint32(r.addend)
			if rtype == relocAddr64 {
				return l.mem.WriteU64(addr, uint64(val))
			}
			return l.mem.WriteU32(addr, val)
		}
		name := cstring(strtab, sym.nameOff)
		hash := fnv32a(name)
		if resolved, ok := l.lookupExport(hash, name); ok {
			if rtype == relocAddr64 {
				return l.mem.WriteU64(addr, uint64(resolved))
			}
			return l.mem.WriteU32(addr, resolved)
		}
		mod.Imports = append(mod.Imports, Import{Name: name, Hash: hash, StubAddr: addr})
		return nil
	default:
		return fmt.Errorf("%w: unknown relocation type %d", ErrObjectFormat, rtype)
	}
}

package loader

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"testing"

	"github.com/cellcore/ps3core/emu/keydb"
	"github.com/cellcore/ps3core/emu/memory"
)

type segSpec struct {
	vaddr, memsz uint64
	flags        uint32
	data         []byte
}

type symSpec struct {
	name        string
	value       uint64
	shndx       uint16
	bind, styp  uint8
}

type relaSpec struct {
	offset uint64
	symIdx uint32
	rtype  uint32
	addend int64
}

// buildObject assembles a minimal segmented object by hand, mirroring the
// layout object.go expects, so tests can exercise Load without a real
// toolchain-produced binary.
func buildObject(entry uint64, segs []segSpec, syms []symSpec, relas []relaSpec) []byte {
	be := binary.BigEndian

	strtab := []byte{0}
	nameOff := make([]uint32, len(syms))
	for i, s := range syms {
		nameOff[i] = uint32(len(strtab))
		strtab = append(strtab, []byte(s.name)...)
		strtab = append(strtab, 0)
	}

	// Reserve symbol index 0 as the conventional null/undefined entry so
	// relocations can use symIdx 0 to mean "no symbol".
	symtab := make([]byte, symEntrySize, (len(syms)+1)*symEntrySize)
	for i, s := range syms {
		var b [symEntrySize]byte
		be.PutUint32(b[0:4], nameOff[i])
		b[4] = s.bind<<4 | s.styp
		b[5] = 0
		be.PutUint16(b[6:8], s.shndx)
		be.PutUint64(b[8:16], s.value)
		be.PutUint64(b[16:24], 0)
		symtab = append(symtab, b[:]...)
	}

	relatab := make([]byte, 0, len(relas)*24)
	for _, r := range relas {
		var b [24]byte
		be.PutUint64(b[0:8], r.offset)
		be.PutUint64(b[8:16], uint64(r.symIdx)<<32|uint64(r.rtype))
		be.PutUint64(b[16:24], uint64(r.addend))
		relatab = append(relatab, b[:]...)
	}

	shCount := 2
	if len(relas) > 0 {
		shCount = 3
	}
	phArraySize := len(segs) * progHeaderSize
	shArraySize := shCount * sectHeaderSize
	cursor := uint64(objHeaderSize + phArraySize + shArraySize)

	segOff := make([]uint64, len(segs))
	for i, s := range segs {
		segOff[i] = cursor
		cursor += uint64(len(s.data))
	}
	strtabOff := cursor
	cursor += uint64(len(strtab))
	symtabOff := cursor
	cursor += uint64(len(symtab))
	relaOff := cursor
	cursor += uint64(len(relatab))

	out := make([]byte, cursor)
	copy(out[0:4], objMagic[:])
	be.PutUint32(out[4:8], 1)
	be.PutUint64(out[8:16], entry)
	be.PutUint64(out[16:24], objHeaderSize)
	be.PutUint16(out[24:26], uint16(len(segs)))
	be.PutUint16(out[26:28], progHeaderSize)
	be.PutUint64(out[28:36], uint64(objHeaderSize+phArraySize))
	be.PutUint16(out[36:38], uint16(shCount))
	be.PutUint16(out[38:40], sectHeaderSize)
	be.PutUint16(out[40:42], 0)

	phBase := objHeaderSize
	for i, s := range segs {
		off := phBase + i*progHeaderSize
		b := out[off : off+progHeaderSize]
		be.PutUint32(b[0:4], ptLoad)
		be.PutUint32(b[4:8], s.flags)
		be.PutUint64(b[8:16], segOff[i])
		be.PutUint64(b[16:24], s.vaddr)
		be.PutUint64(b[24:32], s.vaddr)
		be.PutUint64(b[32:40], uint64(len(s.data)))
		be.PutUint64(b[40:48], s.memsz)
		be.PutUint64(b[48:56], 0x1000)
	}

	shBase := objHeaderSize + phArraySize
	writeSH := func(idx int, nameOff, typ uint32, offset, size uint64, link, info uint32, entsize uint64) {
		off := shBase + idx*sectHeaderSize
		b := out[off : off+sectHeaderSize]
		be.PutUint32(b[0:4], nameOff)
		be.PutUint32(b[4:8], typ)
		be.PutUint64(b[8:16], 0)
		be.PutUint64(b[16:24], 0)
		be.PutUint64(b[24:32], offset)
		be.PutUint64(b[32:40], size)
		be.PutUint32(b[40:44], link)
		be.PutUint32(b[44:48], info)
		be.PutUint64(b[48:56], 1)
		be.PutUint64(b[56:64], entsize)
	}
	writeSH(0, 0, shtStrtab, strtabOff, uint64(len(strtab)), 0, 0, 0)
	writeSH(1, 0, shtSymtab, symtabOff, uint64(len(symtab)), 0, 0, symEntrySize)
	if len(relas) > 0 {
		writeSH(2, 0, shtRela, relaOff, uint64(len(relatab)), 1, 0, 24)
	}

	for i, s := range segs {
		copy(out[segOff[i]:], s.data)
	}
	copy(out[strtabOff:], strtab)
	copy(out[symtabOff:], symtab)
	copy(out[relaOff:], relatab)

	return out
}

func newLoader() (*Loader, *memory.Manager) {
	mem := memory.New()
	l := New(mem, keydb.New())
	return l, mem
}

func TestLoadSimpleExecutable(t *testing.T) {
	l, mem := newLoader()
	code := []byte{0xde, 0xad, 0xbe, 0xef}
	obj := buildObject(0x10, []segSpec{
		{vaddr: 0, memsz: 0x1000, flags: flagRead | flagExec, data: code},
	}, nil, nil)

	mod, err := l.Load("exe", obj, Executable, 0x20000)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if mod.Entry != 0x20010 {
		t.Fatalf("unexpected entry: %#x", mod.Entry)
	}
	got, err := mem.CopyToHost(0x20000, 4)
	if err != nil {
		t.Fatal(err)
	}
	for i := range code {
		if got[i] != code[i] {
			t.Fatalf("segment byte %d: got %#x want %#x", i, got[i], code[i])
		}
	}
}

func TestUnresolvedImportFailsForExecutable(t *testing.T) {
	l, _ := newLoader()
	code := make([]byte, 0x10)
	obj := buildObject(0, []segSpec{
		{vaddr: 0, memsz: 0x1000, flags: flagRead | flagWrite | flagExec, data: code},
	}, []symSpec{
		{name: "missing_fn", value: 0, shndx: 0, bind: 1, styp: sttFunc},
	}, []relaSpec{
		{offset: 4, symIdx: 1, rtype: relocAddr32},
	})

	_, err := l.Load("exe", obj, Executable, 0x30000)
	if err == nil {
		t.Fatal("expected unresolved import error")
	}
}

func TestModuleExportImportResolution(t *testing.T) {
	l, mem := newLoader()

	// Module A exports a function "helper" at vaddr 0x40.
	aCode := make([]byte, 0x100)
	aObj := buildObject(0, []segSpec{
		{vaddr: 0, memsz: 0x1000, flags: flagRead | flagExec, data: aCode},
	}, []symSpec{
		{name: "helper", value: 0x40, shndx: 1, bind: 1, styp: sttFunc},
	}, nil)
	modA, err := l.Load("liba", aObj, ModuleKind, 0x50000)
	if err != nil {
		t.Fatalf("load a: %v", err)
	}

	// Module B imports "helper" via a stub relocation site at vaddr 8.
	bCode := make([]byte, 0x100)
	bObj := buildObject(0, []segSpec{
		{vaddr: 0, memsz: 0x1000, flags: flagRead | flagWrite | flagExec, data: bCode},
	}, []symSpec{
		{name: "helper", value: 0, shndx: 0, bind: 1, styp: sttFunc},
	}, []relaSpec{
		{offset: 8, symIdx: 1, rtype: relocAddr32},
	})
	modB, err := l.Load("libb", bObj, ModuleKind, 0x60000)
	if err != nil {
		t.Fatalf("load b: %v", err)
	}
	if len(modB.Imports) != 0 {
		t.Fatalf("expected import resolved inline since liba loaded first, got %+v", modB.Imports)
	}

	patched, err := mem.ReadU32(0x60008)
	if err != nil {
		t.Fatal(err)
	}
	wantAddr := modA.Base + 0x40
	if patched != wantAddr {
		t.Fatalf("stub not patched to helper address: got %#x want %#x", patched, wantAddr)
	}
}

func TestSignedWrapperDecrypt(t *testing.T) {
	keys := keydb.New()
	var key [16]byte
	for i := range key {
		key[i] = byte(i)
	}
	var iv [16]byte
	for i := range iv {
		iv[i] = byte(0xA0 + i)
	}
	keys.Keys[keydb.Retail] = keydb.Key{Type: keydb.Retail, Key: key, IV: iv, HasIV: true}

	inner := buildObject(0, []segSpec{
		{vaddr: 0, memsz: 0x1000, flags: flagRead | flagExec, data: []byte{1, 2, 3, 4}},
	}, nil, nil)

	block, err := aes.NewCipher(key[:])
	if err != nil {
		t.Fatal(err)
	}
	padded := pkcs7Pad(inner, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv[:]).CryptBlocks(ciphertext, padded)

	wrapper := make([]byte, wrapperHeaderSize+len(ciphertext))
	be := binary.BigEndian
	copy(wrapper[0:4], wrapperMagic[:])
	be.PutUint32(wrapper[4:8], 1)
	be.PutUint16(wrapper[8:10], keyTypeRetail)
	be.PutUint16(wrapper[10:12], 0)
	be.PutUint32(wrapper[12:16], 0)
	be.PutUint64(wrapper[16:24], 0)
	be.PutUint64(wrapper[24:32], uint64(len(ciphertext)))
	copy(wrapper[wrapperHeaderSize:], ciphertext)

	l := New(memory.New(), keys)
	mod, err := l.Load("self", wrapper, Executable, 0x70000)
	if err != nil {
		t.Fatalf("load signed wrapper: %v", err)
	}
	if mod.Base != 0x70000 {
		t.Fatalf("unexpected base: %#x", mod.Base)
	}
}

func TestMissingKeyFailsSignedWrapper(t *testing.T) {
	l := New(memory.New(), keydb.New())
	wrapper := make([]byte, wrapperHeaderSize)
	copy(wrapper[0:4], wrapperMagic[:])
	binary.BigEndian.PutUint16(wrapper[8:10], keyTypeRetail)

	_, err := l.Load("self", wrapper, Executable, 0x70000)
	if err == nil {
		t.Fatal("expected missing key error")
	}
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	pad := blockSize - len(data)%blockSize
	out := make([]byte, len(data)+pad)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(pad)
	}
	return out
}

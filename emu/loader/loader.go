/*
 * ps3core - Executable and dynamic-module loader.
 *
 * Adapted from S370's two-pass bring-up discipline (emu/cpu's PSW/IRQ
 * bootstrap reads a fixed low-memory area before the CPU is allowed to
 * run) and from original_source/crates/oc-loader's signed-wrapper / segmented-
 * object framing. Symbol resolution follows spec.md §4.B / §9: register
 * every module's exports first, then patch every module's imports, so
 * cyclic inter-module dependencies resolve regardless of load order.
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

// Package loader parses the console's signed-executable wrapper, its
// segmented object format, and resolves dynamic-module imports/exports by
// name-hash (spec.md §4.B, §6, §9).
package loader

import (
	"errors"
	"fmt"

	"github.com/cellcore/ps3core/emu/keydb"
	"github.com/cellcore/ps3core/emu/memory"
)

// Kind distinguishes a standalone executable from a dynamic module.
type Kind int

const (
	Executable Kind = iota
	ModuleKind
)

// SymbolKind classifies an export or import.
type SymbolKind int

const (
	Function SymbolKind = iota
	Variable
	ThreadLocal
)

// Export describes one symbol a module makes available to others.
type Export struct {
	Name    string
	Hash    uint32
	Address uint32
	Kind    SymbolKind
}

// Import describes one symbol a module needs resolved, plus the address of
// its call/reference stub to be patched on resolution.
type Import struct {
	Name       string
	Hash       uint32
	Kind       SymbolKind
	StubAddr   uint32
	Resolved   bool
	ResolvedTo uint32
}

// Module is a loaded executable or shared module.
type Module struct {
	Name    string
	Base    uint32
	Entry   uint32
	Size    uint32
	Exports []Export
	Imports []Import
}

// Errors surfaced by the loader (spec.md §7).
var (
	ErrMissingKey       = errors.New("loader: missing decryption key")
	ErrObjectFormat     = errors.New("loader: malformed object file")
	ErrUnresolvedImport = errors.New("loader: unresolved import")
)

// Loader owns the memory manager it places modules into and the registry of
// currently loaded modules used to resolve imports. It is an explicit
// resource owned by the top-level emulator object (spec.md §9), never an
// ambient global.
type Loader struct {
	mem     *memory.Manager
	keys    *keydb.Database
	loaded  map[string]*Module
	exports map[uint32][]exportRef // name-hash -> candidate exports, across all loaded modules
}

type exportRef struct {
	module *Module
	export *Export
}

// New creates a loader bound to mem (already constructed with its regions)
// and a key database used for signed-wrapper decryption.
func New(mem *memory.Manager, keys *keydb.Database) *Loader {
	return &Loader{
		mem:     mem,
		keys:    keys,
		loaded:  make(map[string]*Module),
		exports: make(map[uint32][]exportRef),
	}
}

// Load runs the full pipeline described in spec.md §4.B: wrapper detection,
// object parse, segment placement, symbol parse, relocation and (for
// modules) import resolution. On any fatal error, any pages this call
// allocated are freed before returning.
func (l *Loader) Load(name string, raw []byte, kind Kind, baseHint uint32) (*Module, error) {
	inner, err := l.unwrap(raw)
	if err != nil {
		return nil, err
	}

	obj, err := parseObject(inner)
	if err != nil {
		return nil, err
	}

	mod := &Module{Name: name}
	placed, err := l.placeSegments(obj, baseHint, mod)
	if err != nil {
		l.rollback(placed)
		return nil, err
	}

	syms, strtab, err := obj.symbolTable()
	if err != nil {
		l.rollback(placed)
		return nil, fmt.Errorf("%w: %v", ErrObjectFormat, err)
	}
	mod.buildExports(obj, syms, strtab)

	if err := l.relocate(obj, mod, syms, strtab); err != nil {
		l.rollback(placed)
		return nil, err
	}

	mod.Entry = mod.Base + uint32(obj.header.entry)
	mod.Size = placed.size

	l.registerExports(mod)
	if err := l.resolveImports(mod, kind == ModuleKind); err != nil {
		l.rollback(placed)
		l.unregisterExports(mod)
		return nil, err
	}

	l.loaded[name] = mod
	return mod, nil
}

// Unload removes a module's exports from the resolution table and frees its
// pages. Imports it had resolved for other modules are left patched (the
// spec does not require unpatching on unload).
func (l *Loader) Unload(mod *Module) {
	l.unregisterExports(mod)
	l.mem.Free(mod.Base, mod.Size)
	delete(l.loaded, mod.Name)
}

type placement struct {
	base uint32
	size uint32
	regs []struct{ base, size uint32 }
}

func (l *Loader) rollback(p placement) {
	for _, r := range p.regs {
		l.mem.Free(r.base, r.size)
	}
}

func (l *Loader) registerExports(mod *Module) {
	for i := range mod.Exports {
		e := &mod.Exports[i]
		l.exports[e.Hash] = append(l.exports[e.Hash], exportRef{module: mod, export: e})
	}
}

func (l *Loader) unregisterExports(mod *Module) {
	for i := range mod.Exports {
		e := &mod.Exports[i]
		refs := l.exports[e.Hash]
		for j, r := range refs {
			if r.module == mod {
				l.exports[e.Hash] = append(refs[:j], refs[j+1:]...)
				break
			}
		}
	}
}

// resolveImports patches each import's stub to jump at its resolved
// export's address. When lazy is false (executables) every import must
// resolve or the load fails; modules may opt into lazy binding by passing
// lazy=true, leaving unresolved imports in place for a later pass.
func (l *Loader) resolveImports(mod *Module, lazy bool) error {
	for i := range mod.Imports {
		imp := &mod.Imports[i]
		addr, ok := l.lookupExport(imp.Hash, imp.Name)
		if !ok {
			if lazy {
				continue
			}
			return fmt.Errorf("%w: %s", ErrUnresolvedImport, imp.Name)
		}
		if err := l.mem.WriteU32(imp.StubAddr, addr); err != nil {
			return err
		}
		imp.Resolved = true
		imp.ResolvedTo = addr
	}
	return nil
}

// lookupExport resolves a name-hash to an address, preferring the hash
// table and falling back to a string compare on collision (spec.md §6).
func (l *Loader) lookupExport(hash uint32, name string) (uint32, bool) {
	candidates := l.exports[hash]
	if len(candidates) == 1 {
		return candidates[0].export.Address, true
	}
	for _, c := range candidates {
		if c.export.Name == name {
			return c.export.Address, true
		}
	}
	if len(candidates) > 0 {
		return candidates[0].export.Address, true
	}
	return 0, false
}

// ResolvePending retries lazily-bound imports across all loaded modules,
// used after a later Load may have supplied a missing export.
func (l *Loader) ResolvePending() {
	for _, mod := range l.loaded {
		for i := range mod.Imports {
			imp := &mod.Imports[i]
			if imp.Resolved {
				continue
			}
			if addr, ok := l.lookupExport(imp.Hash, imp.Name); ok {
				_ = l.mem.WriteU32(imp.StubAddr, addr)
				imp.Resolved = true
				imp.ResolvedTo = addr
			}
		}
	}
}

/*
 * ps3core - Key database and memory-region layout config parser.
 *
 * Adapted from S370's config/configparser package (Copyright 2024, Richard
 * Cornwell): the same line-oriented, whitespace-tolerant directive format
 * (one directive per line, first token selects the directive, remaining
 * tokens are positional/keyword options) generalized from "attach a
 * peripheral device to a channel" directives to "register a decryption
 * key" and "size a memory region" directives (spec.md §6).
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

// Package keydb loads the signed-wrapper decryption key database and the
// virtual address space's region layout from a single text configuration
// document (spec.md §6).
package keydb

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/cellcore/ps3core/util/hexfmt"
)

// KeyType names the class of signing/encryption key, matching the
// signed-wrapper header's key-type field (spec.md §6).
type KeyType string

const (
	Retail KeyType = "retail"
	Debug  KeyType = "debug"
	App    KeyType = "app"
)

// Key is one decryption key-database entry.
type Key struct {
	Type        KeyType
	Key         [16]byte
	IV          [16]byte
	HasIV       bool
	Description string
}

// Region describes one named slice of the virtual address space
// (spec.md §6: main memory, graphics memory, heap, at minimum).
type Region struct {
	Name string
	Size uint32
}

// Database holds every key and region-size directive loaded at startup. It
// is an explicit resource owned by the top-level emulator object, not an
// ambient global (spec.md §9).
type Database struct {
	Keys    map[KeyType]Key
	Regions map[string]Region
}

// New returns an empty database.
func New() *Database {
	return &Database{Keys: make(map[KeyType]Key), Regions: make(map[string]Region)}
}

// Lookup finds a key of the given type, reporting whether it is present
// (the loader's MissingKey error is raised by the caller when it is not).
func (d *Database) Lookup(t KeyType) (Key, bool) {
	k, ok := d.Keys[t]
	return k, ok
}

// Load parses a key/region configuration document from path.
func Load(path string) (*Database, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadReader(f)
}

// LoadReader parses a key/region configuration document from r.
func LoadReader(r io.Reader) (*Database, error) {
	db := New()
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		directive := strings.ToLower(fields[0])
		var err error
		switch directive {
		case "key":
			err = db.parseKey(fields[1:])
		case "region":
			err = db.parseRegion(fields[1:])
		default:
			err = fmt.Errorf("unknown directive %q", fields[0])
		}
		if err != nil {
			return nil, fmt.Errorf("keydb: line %d: %w", lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return db, nil
}

func (d *Database) parseKey(fields []string) error {
	if len(fields) < 2 {
		return fmt.Errorf("key directive needs a type and a key")
	}
	typ := KeyType(strings.ToLower(fields[0]))
	keyBytes, err := hexfmt.ParseBytes(fields[1])
	if err != nil {
		return fmt.Errorf("key: %w", err)
	}
	if len(keyBytes) != 16 {
		return fmt.Errorf("key: expected 16 bytes, got %d", len(keyBytes))
	}
	entry := Key{Type: typ}
	copy(entry.Key[:], keyBytes)

	rest := fields[2:]
	if len(rest) > 0 && looksLikeHex(rest[0]) {
		ivBytes, err := hexfmt.ParseBytes(rest[0])
		if err != nil {
			return fmt.Errorf("iv: %w", err)
		}
		if len(ivBytes) != 16 {
			return fmt.Errorf("iv: expected 16 bytes, got %d", len(ivBytes))
		}
		copy(entry.IV[:], ivBytes)
		entry.HasIV = true
		rest = rest[1:]
	}
	entry.Description = strings.Join(rest, " ")
	d.Keys[typ] = entry
	return nil
}

func looksLikeHex(s string) bool {
	if s == "-" {
		return false
	}
	stripped := strings.NewReplacer(":", "", " ", "").Replace(s)
	if len(stripped) == 0 || len(stripped)%2 != 0 {
		return false
	}
	_, err := hexfmt.ParseBytes(s)
	return err == nil
}

func (d *Database) parseRegion(fields []string) error {
	if len(fields) < 2 {
		return fmt.Errorf("region directive needs a name and a size")
	}
	size, err := strconv.ParseUint(fields[1], 0, 32)
	if err != nil {
		return fmt.Errorf("region size: %w", err)
	}
	d.Regions[fields[0]] = Region{Name: fields[0], Size: uint32(size)}
	return nil
}

/*
 * ps3core - Command parser.
 *
 * Adapted from S370's command/parser package (Copyright 2024, Richard
 * Cornwell): the cmdLine tokenizer (skipSpace/getWord/getNumber/getHex/
 * parseQuoteString) is domain-agnostic and kept verbatim in spirit; the
 * command table and every option parser tied to the teacher's channel/
 * device-attach model is replaced with debugger verbs against a
 * machine.Machine (spec.md §9, §10).
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

// Package parser implements the debugger console's command line: a small
// fixed command table, matched on unambiguous prefix, operating on a
// machine.Machine (spec.md §10).
package parser

import (
	"errors"
	"strings"
	"unicode"

	"github.com/cellcore/ps3core/machine"
)

type cmd struct {
	Name     string // Command name.
	Min      int    // Minimum match size.
	Process  func(*cmdLine, *machine.Machine) (bool, error)
	Complete func(*cmdLine) []string
}

type cmdLine struct {
	line string // Current command.
	pos  int    // Position in line.
}

// ProcessCommand parses and runs one command line against m. The returned
// bool reports whether the console should exit.
func ProcessCommand(commandLine string, m *machine.Machine) (bool, error) {
	line := cmdLine{line: commandLine}
	command := line.getWord(false)
	if command == "" {
		return false, nil
	}

	match := matchList(command)
	if len(match) == 0 {
		return false, errors.New("command not found: " + command)
	}

	if len(match) > 1 {
		return false, errors.New("unique command not found: " + command)
	}

	return match[0].Process(&line, m)
}

// Check if command matches at least to minimum length.
func matchCommand(match cmd, command string) bool {
	if len(command) > len(match.Name) {
		return false
	}
	l := 0
	for i := 0; i < len(command); i++ {
		l = i
		if match.Name[l] != command[l] {
			return false
		}
	}
	return (l + 1) >= match.Min
}

// Check if command matches one of the commands.
func matchList(command string) []cmd {
	// If command empty just return.
	if command == "" {
		return []cmd{}
	}

	// Try and match one command.
	var match []cmd
	for _, m := range cmdList {
		if matchCommand(m, command) {
			match = append(match, m)
		}
	}
	return match
}

// Skip forward over line until none whitespace character found.
func (line *cmdLine) skipSpace() {
	for {
		if line.pos >= len(line.line) {
			return
		}
		if unicode.IsSpace(rune(line.line[line.pos])) {
			line.pos++
			continue
		}
		return
	}
}

// Check if at end of line.
func (line *cmdLine) isEOL() bool {
	if line.pos >= len(line.line) {
		return true
	}

	if line.line[line.pos] == '#' {
		return true
	}
	return false
}

// Advance one position and return the byte there, or 0 at end of line.
func (line *cmdLine) getNext() byte {
	line.pos++
	if line.isEOL() {
		return 0
	}
	return line.line[line.pos]
}

// Return current digit and advance to next.
func (line *cmdLine) getCurrent() byte {
	if line.isEOL() {
		return 0
	}
	by := line.line[line.pos]
	line.pos++
	return by
}

// Parse string that is "string" or just string.
func (line *cmdLine) parseQuoteString() (string, bool) {
	inQuote := false
	value := ""

	// If quote, set we are in quoted string
	by := line.getCurrent()
	if by == 0 {
		return "", false
	}

	if by == '"' {
		inQuote = true
		by = line.getCurrent()
	}

	for by != 0 {
		// If processing a quoted string "" gets replaced by signal quote
		if by == '"' && inQuote {
			by = line.getCurrent()
			// Single quote terminates string.
			if by != '"' {
				// Hit end of string.
				return value, true
			}
		}

		if inQuote {
			value += string(by)
		} else // Space terminates a no quoted string.
		if by != 0 && unicode.IsSpace(rune(by)) {
			return value, true
		}

		value += string(by)
		// If we hit end of line, stop processing.
		by = line.getCurrent()
	}
	return value, !inQuote
}

// Parse parse a number.
func (line *cmdLine) getNumber() (uint32, error) {
	line.skipSpace()

	// Check if end of line.
	if line.isEOL() {
		return 0, errors.New("not a number")
	}

	value := uint32(0)
	// Characters must be decimal digits
	by := line.getCurrent()
	for by != 0 {
		if !unicode.IsDigit(rune(by)) {
			return 0, errors.New("not a number")
		}
		value = (value * 10) + uint32(by-'0')
		by = line.getCurrent()
		if by != 0 && unicode.IsSpace(rune(by)) {
			break
		}
	}

	return value, nil
}

const hex = "0123456789abcdef"

// Parse hex number.
func (line *cmdLine) getHex() (uint32, error) {
	line.skipSpace()

	pos := line.pos
	value := uint32(0)
	// Characters must be hex digits; a space or comma ends the number
	by := line.getCurrent()
	for by != 0 {
		digit := strings.Index(hex, strings.ToLower(string(by)))
		if digit == -1 {
			line.pos = pos
			return 0, errors.New("not a number")
		}
		value = (value << 4) + uint32(digit)
		by = line.getCurrent()
		if by == ',' {
			line.pos--
			break
		}
		if by != 0 && unicode.IsSpace(rune(by)) {
			break
		}
	}

	return value, nil
}

// Parse option name, lowercased. When equal is true, an '=' ends the word
// (and is consumed).
func (line *cmdLine) getWord(equal bool) string {
	line.skipSpace()

	// Characters must be alphabetic
	value := ""
	pos := line.pos
	by := line.getCurrent()
	for by != 0 {
		if !unicode.IsLetter(rune(by)) {
			line.pos = pos
			return ""
		}
		value += string([]byte{by})
		by = line.getCurrent()
		if by != 0 && unicode.IsSpace(rune(by)) {
			break
		}
		if by == '=' && equal {
			return strings.ToLower(value)
		}
	}

	return strings.ToLower(value)
}

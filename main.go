/*
 * ps3core - Main process.
 *
 * Adapted from S370's main.go (Copyright 2024, Richard Cornwell): the same
 * getopt flag set and slog bootstrap, wired to a machine.Machine and its
 * debugger console instead of the mainframe CPU and telnet servers
 * (spec.md §9-§10).
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

package main

import (
	"log/slog"
	"os"

	getopt "github.com/pborman/getopt/v2"

	reader "github.com/cellcore/ps3core/command/reader"
	"github.com/cellcore/ps3core/emu/keydb"
	"github.com/cellcore/ps3core/machine"
	logger "github.com/cellcore/ps3core/util/logging"
)

func main() {
	optKeyDB := getopt.StringLong("keydb", 'k', "", "Key database and memory layout config file")
	optModule := getopt.StringLong("module", 'm', "", "Executable or module to load at startup")
	optLogFile := getopt.StringLong("log", 'l', "", "Log file")
	optDebug := getopt.BoolLong("debug", 'd', "Log debug to console")
	optHelp := getopt.BoolLong("help", 'h', "Help")
	getopt.Parse()

	if *optHelp {
		getopt.Usage()
		os.Exit(0)
	}

	var file *os.File
	if optLogFile != nil && *optLogFile != "" {
		file, _ = os.Create(*optLogFile)
	}
	programLevel := new(slog.LevelVar)
	programLevel.Set(slog.LevelDebug)
	log := slog.New(logger.NewHandler(file, &slog.HandlerOptions{Level: programLevel, AddSource: false}, optDebug))
	slog.SetDefault(log)

	log.Info("ps3core started")

	var keys *keydb.Database
	if *optKeyDB != "" {
		var err error
		keys, err = keydb.Load(*optKeyDB)
		if err != nil {
			log.Error(err.Error())
			os.Exit(1)
		}
	}

	m, err := machine.New(keys)
	if err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}

	if *optModule != "" {
		mod, err := m.LoadFile(*optModule, false, 0)
		if err != nil {
			log.Error(err.Error())
			os.Exit(1)
		}
		log.Info("loaded startup module", "name", mod.Name, "entry", mod.Entry)
	}

	msg := make(chan string, 1)
	go func() {
		reader.ConsoleReader(m)
		msg <- ""
	}()

	// Wait on shutdown option
	<-msg

	m.Stop()
	log.Info("shutdown complete")
}

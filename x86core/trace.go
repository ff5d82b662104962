// trace.go - per-instruction trace/log façade
//
// Grounded on the teacher's debug_monitor.go/debug_overlay.go verbosity
// toggles (both wrap the standard library's log.Logger rather than a
// structured-logging dependency); this file keeps the same shape: a small
// interface the Emulator holds so tests and gdbstub can swap in a silent or
// buffered sink without touching call sites.

package x86core

import (
	"log"
	"io"
)

// Logger is the trace sink Emulator.Step writes one line to per decoded
// instruction when tracing is enabled.
type Logger interface {
	Tracef(format string, args ...any)
}

// nopLogger discards every trace line; the default, matching the teacher's
// "quiet unless debug overlay is on" behavior.
type nopLogger struct{}

func (nopLogger) Tracef(string, ...any) {}

// stdLogger adapts a standard-library *log.Logger to the Logger interface.
type stdLogger struct {
	l *log.Logger
}

func (s stdLogger) Tracef(format string, args ...any) { s.l.Printf(format, args...) }

// NewWriterLogger builds a Logger writing to w with the teacher's plain
// "no timestamp prefix" log format (debug_monitor.go disables the standard
// log timestamp so trace lines line up with disassembly columns).
func NewWriterLogger(w io.Writer) Logger {
	return stdLogger{l: log.New(w, "", 0)}
}

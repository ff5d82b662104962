// Package ioregistry is the shared device-registration helper spec §4.3's
// I/O dispatcher and spec §6's loader/bootstrap path both need: a single
// place that knows how to wire a device's declared port and MMIO windows
// into an x86core.IODispatcher, so neither the loader nor gdbstub/devices
// test setup has to repeat the RegisterPort/RegisterMMIO call sequence.
//
// Grounded on the teacher's machine_bus.go device-attach routine (a single
// AttachDevice entry point that fans a device's declared windows out to the
// bus's port/MMIO tables), narrowed to this core's two-method
// PortDevice/MMIODevice interfaces.
package ioregistry

import "github.com/gopherwing/x86emu/x86core"

// PortWindow is an inclusive I/O port range a device claims.
type PortWindow struct {
	Base, End uint16
}

// MMIOWindow is a physical address range (given as base + size) a device
// claims for memory-mapped access.
type MMIOWindow struct {
	Base, Size uint64
}

// Declarant is anything with fixed port/MMIO windows to register, per spec
// §4.3's "devices declare the ranges they own." A device with no port
// windows, no MMIO windows, or neither, is valid; Attach registers only the
// windows it reports.
type Declarant interface {
	PortWindows() []PortWindow
	MMIOWindows() []MMIOWindow
}

// Attach registers every window dev declares against disp, routing port
// accesses to asPort and MMIO accesses to asMMIO (usually dev itself,
// implementing x86core.PortDevice and/or x86core.MMIODevice). Devices with
// overlapping declared windows are a configuration bug the caller should
// catch; Attach does not itself detect overlap (the dispatcher's range
// scan does, at access time, by returning whichever registration sorts
// first — see x86core/io_dispatcher.go).
func Attach(disp *x86core.IODispatcher, dev Declarant, asPort x86core.PortDevice, asMMIO x86core.MMIODevice) {
	for _, w := range dev.PortWindows() {
		disp.RegisterPort(w.Base, w.End, asPort)
	}
	for _, w := range dev.MMIOWindows() {
		disp.RegisterMMIO(w.Base, w.Size, asMMIO)
	}
}

// errors.go - architectural and emulator error taxonomy for the x86 core
//
// Two families are kept separate on purpose. ArchFault models a CPU-detectable
// exception (#GP, #SS, #NP, #TS, #PF, #UD) and is always routed through the
// interrupt queue like a hardware event. EmulatorError models a failure of
// this implementation rather than of the guest: an opcode we never built, an
// out-of-range physical access that has no architectural fault of its own, or
// an invariant the core expects to always hold. EmulatorError propagates out
// of Step and halts the loop.

package x86core

import "fmt"

// FaultKind names one of the six architectural exceptions this core raises.
type FaultKind int

const (
	FaultGP FaultKind = iota // general protection
	FaultSS                  // stack fault
	FaultNP                  // segment/gate not present
	FaultTS                  // invalid TSS
	FaultPF                  // page fault
	FaultUD                  // invalid opcode
)

func (k FaultKind) String() string {
	switch k {
	case FaultGP:
		return "#GP"
	case FaultSS:
		return "#SS"
	case FaultNP:
		return "#NP"
	case FaultTS:
		return "#TS"
	case FaultPF:
		return "#PF"
	case FaultUD:
		return "#UD"
	default:
		return "#??"
	}
}

// vectorFor maps a FaultKind to its IDT/IVT vector number.
func (k FaultKind) vectorFor() byte {
	switch k {
	case FaultGP:
		return 13
	case FaultSS:
		return 12
	case FaultNP:
		return 11
	case FaultTS:
		return 10
	case FaultPF:
		return 14
	case FaultUD:
		return 6
	default:
		return 13
	}
}

// ArchFault is an x86 exception raised by descriptor loads, paging walks,
// stack faults, invalid opcodes or privilege violations. Selector and Linear
// carry whatever error-code payload the SDM attaches to the vector; HasCode
// reports whether the fault pushes a hardware error code (selector-class
// faults do, #UD does not).
type ArchFault struct {
	Kind     FaultKind
	Selector uint16 // meaningful for #GP/#SS/#NP/#TS
	Linear   uint64 // meaningful for #PF
	HasCode  bool
	detail   string
}

func (f *ArchFault) Error() string {
	if f.Kind == FaultPF {
		return fmt.Sprintf("%s(laddr=%#x): %s", f.Kind, f.Linear, f.detail)
	}
	return fmt.Sprintf("%s(sel=%#x): %s", f.Kind, f.Selector, f.detail)
}

// Vector returns the IDT/IVT index this fault is delivered through.
func (f *ArchFault) Vector() byte { return f.Kind.vectorFor() }

func gpFault(sel uint16, format string, args ...any) *ArchFault {
	return &ArchFault{Kind: FaultGP, Selector: sel, HasCode: true, detail: fmt.Sprintf(format, args...)}
}

func ssFault(sel uint16, format string, args ...any) *ArchFault {
	return &ArchFault{Kind: FaultSS, Selector: sel, HasCode: true, detail: fmt.Sprintf(format, args...)}
}

func npFault(sel uint16, format string, args ...any) *ArchFault {
	return &ArchFault{Kind: FaultNP, Selector: sel, HasCode: true, detail: fmt.Sprintf(format, args...)}
}

func tsFault(sel uint16, format string, args ...any) *ArchFault {
	return &ArchFault{Kind: FaultTS, Selector: sel, HasCode: true, detail: fmt.Sprintf(format, args...)}
}

func pfFault(laddr uint64, format string, args ...any) *ArchFault {
	return &ArchFault{Kind: FaultPF, Linear: laddr, HasCode: true, detail: fmt.Sprintf(format, args...)}
}

func udFault(format string, args ...any) *ArchFault {
	return &ArchFault{Kind: FaultUD, HasCode: false, detail: fmt.Sprintf(format, args...)}
}

// EmulatorError is an internal failure mode distinct from a guest-visible
// architectural fault: the step function cannot make progress and the loop
// should halt with a diagnostic.
type EmulatorError struct {
	Op     string
	detail string
}

func (e *EmulatorError) Error() string {
	return fmt.Sprintf("emulator: %s: %s", e.Op, e.detail)
}

func notImplemented(op string) *EmulatorError {
	return &EmulatorError{Op: op, detail: "not implemented"}
}

func invariant(op, format string, args ...any) *EmulatorError {
	return &EmulatorError{Op: op, detail: fmt.Sprintf(format, args...)}
}

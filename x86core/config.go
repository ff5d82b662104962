// config.go - emulator construction options
//
// Grounded on the teacher's NewCPU_X86(bus)/NewSystemBus() constructor
// idiom (cpu_x86.go, machine_bus.go): plain New* constructors over struct
// fields, no flags/env configuration library. This file adds the
// functional-options layer the teacher itself doesn't need (its
// constructors take no optional parameters) but that other examples in the
// pack use for multi-parameter construction, generalised to the handful of
// knobs spec §1/§4.5 exposes: A20 default, trace sink, preloaded
// breakpoints.

package x86core

// Option configures an Emulator at construction time.
type Option func(*Emulator)

// WithA20 sets the processor's initial A20 gate state (spec §4.5; real
// hardware powers on with A20 masked on some platforms and not others, so
// this is left to the caller rather than hard-coded).
func WithA20(enabled bool) Option {
	return func(e *Emulator) { e.Proc.SetA20(enabled) }
}

// WithTraceWriter enables per-instruction tracing to the given Logger
// (trace.go). Passing nil restores the silent default.
func WithTraceWriter(l Logger) Option {
	return func(e *Emulator) {
		if l == nil {
			l = nopLogger{}
		}
		e.Trace = l
	}
}

// WithBreakpoints preloads the software-breakpoint set gdbstub would
// otherwise populate one address at a time via SetBreakpoint.
func WithBreakpoints(linearAddrs ...uint64) Option {
	return func(e *Emulator) {
		for _, a := range linearAddrs {
			e.breakpoints[a] = true
		}
	}
}

// emulator.go - the fetch/decode/execute step loop
//
// Grounded on the teacher's CPU_X86.Step in cpu_x86.go (poll halted state,
// fetch one instruction, execute, advance PC), generalised to poll the
// interrupt queue at the instruction boundary and to route faults through
// deliverFault instead of the teacher's direct error return, per spec §4.10.

package x86core

// Emulator drives one Processor through repeated fetch-decode-execute
// cycles, owning the interrupt queue and the halt/wake state HLT and
// hardware interrupts interact with (spec §4.10).
type Emulator struct {
	Proc    *Processor
	Queue   *InterruptQueue
	Dec     *Decoder
	Trace   Logger

	halted     bool
	faultDepth int

	breakpoints map[uint64]bool
}

// NewEmulator constructs an Emulator around an already-wired Processor.
func NewEmulator(p *Processor, opts ...Option) *Emulator {
	e := &Emulator{
		Proc:        p,
		Queue:       newInterruptQueue(),
		Dec:         NewDecoder(),
		Trace:       nopLogger{},
		breakpoints: make(map[uint64]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Halted reports whether the processor is parked in HLT waiting for an
// interrupt (spec §4.10).
func (e *Emulator) Halted() bool { return e.halted }

// SetBreakpoint and ClearBreakpoint manage the software-breakpoint set the
// step loop checks ahead of each fetch, for gdbstub (spec §6).
func (e *Emulator) SetBreakpoint(linearCSIP uint64) { e.breakpoints[linearCSIP] = true }
func (e *Emulator) ClearBreakpoint(linearCSIP uint64) { delete(e.breakpoints, linearCSIP) }

// AtBreakpoint reports whether the linear address of CS:RIP is a set
// breakpoint.
func (e *Emulator) AtBreakpoint() bool {
	return e.breakpoints[e.Proc.linearAddress(SegCS, e.Proc.Regs.IPView(e.Proc.addrSize()))]
}

// Step executes exactly one instruction boundary: moves device IRQs from
// the IODispatcher channel into the interrupt queue, polls for a pending
// hardware interrupt (if IF is set), fetches and decodes the instruction at
// CS:RIP, executes it, and advances RIP by the decoded length unless the
// handler already redirected control flow (spec §4.10).
func (e *Emulator) Step() error {
	e.Proc.Control.tick()

	if e.Proc.IO != nil {
	drain:
		for {
			select {
			case ev := <-e.Proc.IO.IRQChannel():
				e.QueueHardwareInterrupt(ev.Vector)
			default:
				break drain
			}
		}
	}

	if e.halted {
		if ev, ok := e.Queue.pop(); ok && ev.Hardware {
			e.halted = false
			return e.dispatchVector(ev.Vector, false, 0)
		}
		return nil
	}

	if e.Proc.Regs.GetFlag(FlagIF) {
		if ev, ok := e.Queue.pop(); ok && ev.Hardware {
			if err := e.dispatchVector(ev.Vector, false, 0); err != nil {
				return err
			}
		}
	}

	startIP := e.Proc.Regs.IPView(e.Proc.addrSize())
	in, err := e.Dec.Decode(e.Proc)
	if err != nil {
		if af, ok := err.(*ArchFault); ok {
			return e.deliverFault(af)
		}
		return err
	}

	handler := lookupHandler(in.Is0F, in.Opcode)
	if handler == nil {
		return e.deliverFault(udFault("unimplemented opcode %02x%02x", boolByte(in.Is0F), in.Opcode))
	}

	e.Trace.Tracef("%#06x: opcode=%02x modrm=%v len=%d", startIP, in.Opcode, in.HasModRM, in.Length)

	preIP := e.Proc.Regs.IPView(e.Proc.addrSize())
	if err := handler(e, &in); err != nil {
		if af, ok := err.(*ArchFault); ok {
			return e.deliverFault(af)
		}
		return err
	}
	// A REP-prefixed string handler that still has iterations left sets
	// Restart instead of advancing IP, so the next Step call re-fetches this
	// same instruction from scratch (and re-polls for a pending interrupt
	// first, above) rather than resuming mid-instruction.
	if in.Restart {
		e.Proc.Regs.SetIPView(e.Proc.addrSize(), startIP)
		return nil
	}
	// A handler that redirected control flow (branch/call/ret/iret/task
	// switch) already wrote a new IP; only advance past the instruction
	// when it didn't.
	if e.Proc.Regs.IPView(e.Proc.addrSize()) == preIP {
		e.Proc.Regs.SetIPView(e.Proc.addrSize(), startIP+uint64(in.Length))
	}
	return nil
}

func boolByte(b bool) byte {
	if b {
		return 0x0F
	}
	return 0x00
}

// Run steps the emulator until an error occurs, a breakpoint is hit after
// at least one step, or the given step budget is exhausted (0 means
// unbounded). This is the façade gdbstub's continue/step commands drive
// (spec §6).
func (e *Emulator) Run(maxSteps int) error {
	for i := 0; maxSteps == 0 || i < maxSteps; i++ {
		if err := e.Step(); err != nil {
			return err
		}
		if e.AtBreakpoint() {
			return nil
		}
	}
	return nil
}

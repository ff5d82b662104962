// interrupt_queue.go - pending hardware/software events and IDT gate dispatch
//
// New code implementing spec §4.9. The teacher has no interrupt model at
// all (its flat CPU core never leaves ring 0 / real addressing); this is
// written in the teacher's plain-channel idiom (machine_bus.go's IRQ
// channel) generalised to a FIFO the emulator loop polls once per Step,
// and to full IDT gate-class dispatch (interrupt/trap/task gates) instead
// of a bare vector call, per SPEC_FULL.md §3.4's double-fault supplement.
package x86core

// InterruptEvent is one pending hardware or software interrupt/exception.
type InterruptEvent struct {
	Vector       byte
	Hardware     bool
	HasErrorCode bool
	ErrorCode    uint64
}

// InterruptQueue is the FIFO of pending events spec §4.9 describes:
// hardware IRQs that devices raise through IODispatcher, moved here by
// Step. Software interrupts and architectural faults are never queued;
// they are dispatched in-line (raiseInterrupt, deliverFault).
type InterruptQueue struct {
	events []InterruptEvent
}

func newInterruptQueue() *InterruptQueue { return &InterruptQueue{} }

func (q *InterruptQueue) push(e InterruptEvent) { q.events = append(q.events, e) }

func (q *InterruptQueue) pop() (InterruptEvent, bool) {
	if len(q.events) == 0 {
		return InterruptEvent{}, false
	}
	e := q.events[0]
	q.events = q.events[1:]
	return e, true
}

func (q *InterruptQueue) empty() bool { return len(q.events) == 0 }

// QueueHardwareInterrupt enqueues a device-raised IRQ for delivery on the
// next Step poll (spec §4.9: "hardware interrupts are polled once per
// instruction boundary").
func (e *Emulator) QueueHardwareInterrupt(vector byte) {
	e.Queue.push(InterruptEvent{Vector: vector, Hardware: true})
}

// raiseInterrupt delivers vector immediately, with the error-code presence
// and value the caller passes. It dispatches in-line rather than queueing,
// since the interrupt is synchronous with the instruction that raised it.
func (e *Emulator) raiseInterrupt(vector byte, hasErrorCode bool, errorCode uint64) error {
	return e.dispatchVector(vector, hasErrorCode, errorCode)
}

// deliverFault is the entry point executor code calls when a *ArchFault
// bubbles out of an operation; it turns that into an IDT dispatch, folding
// repeated faults into #DF and a #DF-during-#DF into a triple fault.
func (e *Emulator) deliverFault(f *ArchFault) error {
	if e.faultDepth >= 2 {
		return e.tripleFault(f)
	}
	vector := f.Vector()
	errorCode := uint64(0)
	if f.HasCode {
		errorCode = uint64(f.Selector) &^ 0x7
	}
	if e.faultDepth == 1 {
		vector = 8 // #DF
		errorCode = 0
	}
	e.faultDepth++
	defer func() { e.faultDepth-- }()
	return e.dispatchVector(vector, f.HasCode || vector == 8, errorCode)
}

// tripleFault models the processor shutdown/reset a #DF raised while
// delivering a #DF causes (SPEC_FULL.md §3.4, following original_source's
// treatment of an unrecoverable double fault): the core cannot make
// progress, so Step returns an EmulatorError rather than guessing at a
// guest-visible reset sequence no caller here could observe anyway.
func (e *Emulator) tripleFault(cause *ArchFault) error {
	e.halted = true
	return invariant("Emulator.deliverFault", "triple fault (cause: %s)", cause.Error())
}

// dispatchVector performs spec §4.9's IDT-indexed gate dispatch: look up
// the gate, branch on its class, and transfer control.
func (e *Emulator) dispatchVector(vector byte, hasErrorCode bool, errorCode uint64) error {
	p := e.Proc
	if p.Control.Mode() == ModeReal {
		return e.dispatchRealModeVector(vector)
	}

	byteOff := uint64(vector) * 8
	if uint64(vector)*8+7 > uint64(p.IDTR.Limit) {
		return e.deliverFault(gpFault(uint16(vector)*8+2, "vector %d exceeds IDT limit", vector))
	}
	longMode := p.Control.Mode() == ModeLong
	lo := p.readPhysRaw64(p.IDTR.Base + byteOff)
	var hi uint64
	if longMode {
		hi = p.readPhysRaw64(p.IDTR.Base + byteOff + 8)
	}
	gate := UnpackDescriptor(lo, hi, longMode)

	switch gate.Kind {
	case DescTaskGate:
		return p.TaskSwitch(SwitchCallInt, gate.Selector)
	case DescInterruptGate, DescTrapGate:
		if !gate.Present {
			return e.deliverFault(npFault(uint16(vector)*8, "IDT gate not present"))
		}
		return e.gateTransfer(gate, hasErrorCode, errorCode)
	default:
		return e.deliverFault(gpFault(uint16(vector)*8, "IDT entry is not a valid gate"))
	}
}

// dispatchRealModeVector implements the flat IVT dispatch spec §4.9
// describes for real mode: a 4-byte IP:CS pair at IDTR.Base + vector*4.
func (e *Emulator) dispatchRealModeVector(vector byte) error {
	p := e.Proc
	entry := p.IO.ReadPhys(p.IDTR.Base+uint64(vector)*4, 4)
	ip := uint16(entry)
	cs := uint16(entry >> 16)

	if err := p.Push(p.Regs.Flags & 0xFFFF); err != nil {
		return err
	}
	if err := p.Push(uint64(p.Segs[SegCS].Selector)); err != nil {
		return err
	}
	if err := p.Push(p.Regs.IPView(Width16)); err != nil {
		return err
	}
	p.Regs.SetFlag(FlagIF, false)
	p.Regs.SetFlag(FlagTF, false)
	p.Segs[SegCS] = realModeSegment(cs)
	p.Regs.SetIPView(Width16, uint64(ip))
	return nil
}

// gateTransfer pushes the interrupt frame and loads CS:IP from an
// interrupt/trap gate, per spec §4.9. Interrupt gates clear IF; trap gates
// leave it untouched.
func (e *Emulator) gateTransfer(gate Descriptor, hasErrorCode bool, errorCode uint64) error {
	p := e.Proc
	oldCPL := p.CPL()

	destDesc, err := p.descTableEntry(gate.Selector)
	if err != nil {
		return err
	}
	newCPL := destDesc.DPL
	if destDesc.Conforming {
		newCPL = oldCPL
	}

	retCS := savedSSOrCurrent(p)
	if err := p.LoadSegment(SegCS, gate.Selector, newCPL); err != nil {
		return err
	}
	// A privilege-level change ordinarily switches to the target CPL's TSS
	// stack (SS:ESP from the TSS); this core does not model a per-CPL stack
	// table (spec §9 Open Question) and keeps the current stack, which is
	// exact for same-privilege delivery and the single-ring guest workloads
	// this core targets.

	if err := p.Push(p.Regs.Flags & mask(p.stackPointerWidth())); err != nil {
		return err
	}
	if err := p.Push(uint64(retCS)); err != nil {
		return err
	}
	if err := p.Push(p.Regs.IPView(p.addrSize())); err != nil {
		return err
	}
	if hasErrorCode {
		if err := p.Push(errorCode); err != nil {
			return err
		}
	}

	p.Regs.SetFlag(FlagTF, false)
	if gate.Kind == DescInterruptGate {
		p.Regs.SetFlag(FlagIF, false)
	}
	p.Regs.SetIPView(p.addrSize(), gate.Offset)
	return nil
}

func savedSSOrCurrent(p *Processor) uint16 { return p.Segs[SegCS].Selector }

// performIret undoes a gateTransfer/dispatchRealModeVector frame: pop
// IP/CS/flags (and, in protected/long mode, detect a stack-switch-back via
// a changed CPL -- not modeled, see gateTransfer's note) or perform a task
// return when NT is set, spec §4.9/§4.4.
func (p *Processor) performIret(e *Emulator) error {
	if p.Regs.GetFlag(FlagNT) {
		return p.TaskSwitch(SwitchIret, p.readTaskLink())
	}
	if p.Control.Mode() == ModeReal {
		ip, err := p.Pop()
		if err != nil {
			return err
		}
		cs, err := p.Pop()
		if err != nil {
			return err
		}
		fl, err := p.Pop()
		if err != nil {
			return err
		}
		p.Segs[SegCS] = realModeSegment(uint16(cs))
		p.Regs.SetIPView(Width16, ip)
		p.Regs.Flags = (p.Regs.Flags &^ 0xFFFF) | (fl & 0xFFFF)
		return nil
	}
	ip, err := p.Pop()
	if err != nil {
		return err
	}
	cs, err := p.Pop()
	if err != nil {
		return err
	}
	fl, err := p.Pop()
	if err != nil {
		return err
	}
	if err := p.LoadSegment(SegCS, uint16(cs), selectorRPL(uint16(cs))); err != nil {
		return err
	}
	p.Regs.SetIPView(p.addrSize(), ip)
	p.Regs.Flags = fl
	return nil
}

// readTaskLink reads the outgoing-task link field of the current TSS, used
// by an IRET that finds NT set (a nested task return).
func (p *Processor) readTaskLink() uint16 {
	if p.TR.Big {
		return p.readPhysU16(p.TR.Base + tss32Link)
	}
	return p.readPhysU16(p.TR.Base + tss16Link)
}

// exec_control.go - branches, calls, returns, interrupts and flag-bit sets
//
// Grounded on the teacher's jumpIf/opCall/opRet closures in cpu_x86_ops.go,
// generalised to the segmented/long-mode instruction pointer. INT n/INT3 go
// through Emulator.raiseInterrupt and IRET through Processor.performIret
// (interrupt_queue.go); a #UD is returned as a fault that Step hands to
// deliverFault. None of these assign the PC directly as the teacher does.

package x86core

// condCode maps a Jcc/SETcc low nibble to its RFLAGS test, spec §4.8.
func (e *Emulator) condCode(cc byte) bool {
	rf := &e.Proc.Regs
	switch cc & 0xF {
	case 0x0:
		return rf.GetFlag(FlagOF)
	case 0x1:
		return !rf.GetFlag(FlagOF)
	case 0x2:
		return rf.GetFlag(FlagCF)
	case 0x3:
		return !rf.GetFlag(FlagCF)
	case 0x4:
		return rf.GetFlag(FlagZF)
	case 0x5:
		return !rf.GetFlag(FlagZF)
	case 0x6:
		return rf.GetFlag(FlagCF) || rf.GetFlag(FlagZF)
	case 0x7:
		return !rf.GetFlag(FlagCF) && !rf.GetFlag(FlagZF)
	case 0x8:
		return rf.GetFlag(FlagSF)
	case 0x9:
		return !rf.GetFlag(FlagSF)
	case 0xA:
		return rf.GetFlag(FlagPF)
	case 0xB:
		return !rf.GetFlag(FlagPF)
	case 0xC:
		return rf.GetFlag(FlagSF) != rf.GetFlag(FlagOF)
	case 0xD:
		return rf.GetFlag(FlagSF) == rf.GetFlag(FlagOF)
	case 0xE:
		return rf.GetFlag(FlagZF) || (rf.GetFlag(FlagSF) != rf.GetFlag(FlagOF))
	default:
		return !rf.GetFlag(FlagZF) && (rf.GetFlag(FlagSF) == rf.GetFlag(FlagOF))
	}
}

func execJccShort(e *Emulator, in *Instruction) error {
	if e.condCode(in.Opcode) {
		e.branchRel(in)
	}
	return nil
}

func execJccNear(e *Emulator, in *Instruction) error {
	if e.condCode(in.Opcode) {
		e.branchRel(in)
	}
	return nil
}

func execSetcc(e *Emulator, in *Instruction) error {
	v := uint64(0)
	if e.condCode(in.Opcode) {
		v = 1
	}
	return e.Proc.writeRM(in, Width8, v)
}

// branchRel sets RIP to next-instruction-address + the decoded relative
// displacement; used by Jcc, JMP rel and CALL rel.
func (e *Emulator) branchRel(in *Instruction) {
	next := e.Proc.Regs.IPView(e.Proc.addrSize()) + uint64(in.Length)
	target := uint64(int64(next) + in.Imm2AsSigned())
	e.Proc.Regs.SetIPView(e.Proc.addrSize(), target)
}

// Imm2AsSigned sign-extends the decoded Imm field per its ImmBytes width,
// used for relative branch displacements (which are always signed).
func (in *Instruction) Imm2AsSigned() int64 {
	switch in.ImmBytes {
	case 1:
		return int64(int8(in.Imm))
	case 2:
		return int64(int16(in.Imm))
	default:
		return int64(int32(in.Imm))
	}
}

func execJmpRel(e *Emulator, in *Instruction) error {
	e.branchRel(in)
	return nil
}

func execJmpFar(e *Emulator, in *Instruction) error {
	return e.farTransfer(in.FarSelector, in.Imm, false)
}

func execCallRel(e *Emulator, in *Instruction) error {
	next := e.Proc.Regs.IPView(e.Proc.addrSize()) + uint64(in.Length)
	if err := e.Proc.Push(next); err != nil {
		return err
	}
	e.branchRel(in)
	return nil
}

func execCallFar(e *Emulator, in *Instruction) error {
	ip := e.Proc.Regs.IPView(e.Proc.addrSize())
	e.Proc.Regs.SetIPView(e.Proc.addrSize(), ip+uint64(in.Length))
	if err := e.farTransfer(in.FarSelector, in.Imm, true); err != nil {
		e.Proc.Regs.SetIPView(e.Proc.addrSize(), ip)
		return err
	}
	return nil
}

// farTransfer implements JMP/CALL ptr16:xx to a code segment; isCall first
// pushes CS and the current IP, which the callers have already advanced
// past the CALL. Task gates and call gates are not dispatched: a selector
// that names anything other than a code segment fails in LoadSegment.
func (e *Emulator) farTransfer(sel uint16, offset uint64, isCall bool) error {
	p := e.Proc
	if isCall {
		if err := p.Push(uint64(p.Segs[SegCS].Selector)); err != nil {
			return err
		}
		next := p.Regs.IPView(p.addrSize())
		if err := p.Push(next); err != nil {
			return err
		}
	}
	cpl := p.CPL()
	if err := p.LoadSegment(SegCS, sel, cpl); err != nil {
		return err
	}
	p.Regs.SetIPView(p.addrSize(), offset)
	return nil
}

func execRet(e *Emulator, in *Instruction) error {
	v, err := e.Proc.Pop()
	if err != nil {
		return err
	}
	e.Proc.Regs.SetIPView(e.Proc.addrSize(), v)
	if in.Opcode == 0xC2 {
		sp := e.Proc.Regs.Read(RegRSP, e.Proc.stackPointerWidth())
		e.Proc.Regs.Write(RegRSP, e.Proc.stackPointerWidth(), sp+in.Imm)
	}
	return nil
}

func execRetFar(e *Emulator, in *Instruction) error {
	offset, err := e.Proc.Pop()
	if err != nil {
		return err
	}
	sel, err := e.Proc.Pop()
	if err != nil {
		return err
	}
	cpl := selectorRPL(uint16(sel))
	if err := e.Proc.LoadSegment(SegCS, uint16(sel), cpl); err != nil {
		return err
	}
	e.Proc.Regs.SetIPView(e.Proc.addrSize(), offset)
	if in.Opcode == 0xCA {
		sp := e.Proc.Regs.Read(RegRSP, e.Proc.stackPointerWidth())
		e.Proc.Regs.Write(RegRSP, e.Proc.stackPointerWidth(), sp+in.Imm)
	}
	return nil
}

func execLeave(e *Emulator, in *Instruction) error {
	bp := e.Proc.Regs.Read(RegRBP, e.Proc.stackPointerWidth())
	e.Proc.Regs.Write(RegRSP, e.Proc.stackPointerWidth(), bp)
	v, err := e.Proc.Pop()
	if err != nil {
		return err
	}
	e.Proc.Regs.Write(RegRBP, e.Proc.stackPointerWidth(), v)
	return nil
}

func execInt3(e *Emulator, in *Instruction) error {
	return e.raiseInterrupt(3, false, 0)
}

func execIntN(e *Emulator, in *Instruction) error {
	return e.raiseInterrupt(byte(in.Imm), false, 0)
}

func execIret(e *Emulator, in *Instruction) error {
	return e.Proc.performIret(e)
}

func execHlt(e *Emulator, in *Instruction) error {
	e.halted = true
	return nil
}

func execFlagBit(e *Emulator, in *Instruction) error {
	rf := &e.Proc.Regs
	switch in.Opcode {
	case 0xF5:
		rf.SetFlag(FlagCF, !rf.GetFlag(FlagCF))
	case 0xF8:
		rf.SetFlag(FlagCF, false)
	case 0xF9:
		rf.SetFlag(FlagCF, true)
	case 0xFA:
		rf.SetFlag(FlagIF, false)
	case 0xFB:
		rf.SetFlag(FlagIF, true)
	case 0xFC:
		rf.SetFlag(FlagDF, false)
	case 0xFD:
		rf.SetFlag(FlagDF, true)
	}
	return nil
}

func execNop(e *Emulator, in *Instruction) error { return nil }

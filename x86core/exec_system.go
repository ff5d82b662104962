// exec_system.go - descriptor-table loads, control/debug register moves,
// MSR access and the other ring-0 system instructions
//
// New code (the teacher's flat model has no privileged instructions at
// all); grounded in the Processor methods desc_tables.go/control_regs.go
// already expose, wired up the way the teacher wires its debug_cpu_x86.go
// register-bank accessors into CPU_X86 methods.

package x86core

// execGrp7 implements SGDT/SIDT/LGDT/LIDT/SMSW/LMSW/INVLPG, opcode 0x0F01.
func execGrp7(e *Emulator, in *Instruction) error {
	p := e.Proc
	switch in.RegField {
	case 0: // SGDT
		return e.storeTableReg(in, p.GDTR.Base, p.GDTR.Limit)
	case 1: // SIDT
		return e.storeTableReg(in, p.IDTR.Base, p.IDTR.Limit)
	case 2: // LGDT
		base, limit, err := e.loadTableReg(in)
		if err != nil {
			return err
		}
		p.LoadGDTR(base, limit)
		return nil
	case 3: // LIDT
		base, limit, err := e.loadTableReg(in)
		if err != nil {
			return err
		}
		p.LoadIDTR(base, limit)
		return nil
	case 4: // SMSW
		return e.Proc.writeRM(in, in.OpSize, p.Control.CR0&0xFFFF)
	case 6: // LMSW
		v, err := p.readRM(in, Width16)
		if err != nil {
			return err
		}
		p.Control.CR0 = (p.Control.CR0 &^ 0xF) | (v & 0xF) | (p.Control.CR0 & CR0PE) // LMSW cannot clear PE
		return nil
	case 7: // INVLPG
		_, off := p.effectiveAddress(in)
		laddr := p.linearAddress(SegDS, off)
		p.TLB.flushAll()
		_ = laddr
		return nil
	}
	return udFault("0F01 /%d reserved", in.RegField)
}

func (e *Emulator) storeTableReg(in *Instruction, base uint64, limit uint32) error {
	seg, off := e.Proc.effectiveAddress(in)
	if err := e.Proc.WriteData(seg, off, 2, uint64(limit)); err != nil {
		return err
	}
	width := 4
	if e.Proc.Control.Mode() == ModeLong {
		width = 8
	}
	return e.Proc.WriteData(seg, off+2, width, base)
}

func (e *Emulator) loadTableReg(in *Instruction) (base uint64, limit uint32, err error) {
	seg, off := e.Proc.effectiveAddress(in)
	l, err := e.Proc.ReadData(seg, off, 2)
	if err != nil {
		return 0, 0, err
	}
	width := 4
	if e.Proc.Control.Mode() == ModeLong {
		width = 8
	}
	b, err := e.Proc.ReadData(seg, off+2, width)
	if err != nil {
		return 0, 0, err
	}
	return b, uint32(l), nil
}

// execGrp6 implements SLDT/STR/LLDT/LTR/VERR/VERW, opcode 0x0F00.
func execGrp6(e *Emulator, in *Instruction) error {
	p := e.Proc
	switch in.RegField {
	case 0: // SLDT
		return p.writeRM(in, in.OpSize, uint64(p.LDTR.Selector))
	case 1: // STR
		return p.writeRM(in, in.OpSize, uint64(p.TR.Selector))
	case 2: // LLDT
		v, err := p.readRM(in, Width16)
		if err != nil {
			return err
		}
		return p.LoadLDTR(uint16(v))
	case 3: // LTR
		v, err := p.readRM(in, Width16)
		if err != nil {
			return err
		}
		return p.LoadTR(uint16(v))
	case 4, 5: // VERR/VERW
		v, err := p.readRM(in, Width16)
		if err != nil {
			return err
		}
		desc, err := p.descTableEntry(uint16(v))
		ok := err == nil && desc.Present && (desc.Kind == DescData || (desc.Kind == DescCode && desc.Readable))
		p.Regs.SetFlag(FlagZF, ok)
		return nil
	}
	return udFault("0F00 /%d reserved", in.RegField)
}

// crIndex folds a ModR/M reg field plus REX.R into the control-register
// index MOV CRn addresses (spec §4.8's system-register moves).
func crIndex(in *Instruction) byte {
	idx := in.RegField
	if in.RexR {
		idx += 8
	}
	return idx
}

func execMovFromCr(e *Emulator, in *Instruction) error {
	p := e.Proc
	var v uint64
	switch crIndex(in) {
	case 0:
		v = p.Control.CR0
	case 2:
		v = p.Control.CR2
	case 3:
		v = p.Control.CR3
	case 4:
		v = p.Control.CR4
	default:
		return udFault("MOV r,CR%d unsupported", crIndex(in))
	}
	r := extReg(in.RM, in.RexB)
	p.Regs.Write(r, in.OpSize, v)
	return nil
}

func execMovToCr(e *Emulator, in *Instruction) error {
	p := e.Proc
	r := extReg(in.RM, in.RexB)
	v := p.Regs.Read(r, in.OpSize)
	switch crIndex(in) {
	case 0:
		p.Control.CR0 = v
		p.FlushTLB()
	case 2:
		p.Control.CR2 = v
	case 3:
		p.WriteCR3(v)
	case 4:
		p.Control.CR4 = v
		p.FlushTLB()
	default:
		return udFault("MOV CR%d,r unsupported", crIndex(in))
	}
	return nil
}

func execClts(e *Emulator, in *Instruction) error {
	e.Proc.Control.CR0 &^= CR0TS
	return nil
}

func execWrmsr(e *Emulator, in *Instruction) error {
	idx := e.Proc.Regs.Read(RegRCX, Width32)
	v := (e.Proc.Regs.Read(RegRDX, Width32) << 32) | e.Proc.Regs.Read(RegRAX, Width32)
	return e.Proc.Control.WriteMSR(idx, v)
}

func execRdmsr(e *Emulator, in *Instruction) error {
	idx := e.Proc.Regs.Read(RegRCX, Width32)
	v, err := e.Proc.Control.ReadMSR(idx)
	if err != nil {
		return err
	}
	e.Proc.Regs.Write(RegRAX, Width32, v&0xFFFFFFFF)
	e.Proc.Regs.Write(RegRDX, Width32, v>>32)
	return nil
}

func execRdtsc(e *Emulator, in *Instruction) error {
	v, _ := e.Proc.Control.ReadMSR(MsrTSC)
	e.Proc.Regs.Write(RegRAX, Width32, v&0xFFFFFFFF)
	e.Proc.Regs.Write(RegRDX, Width32, v>>32)
	return nil
}

// execCpuid reports a minimal, fixed feature/identification leaf set:
// leaf 0 gives a vendor string, and every other leaf reports only the
// PAE and PSE feature bits. No long-mode bit is reported.
func execCpuid(e *Emulator, in *Instruction) error {
	leaf := e.Proc.Regs.Read(RegRAX, Width32)
	rf := &e.Proc.Regs
	switch leaf {
	case 0:
		rf.Write(RegRAX, Width32, 1)
		rf.Write(RegRBX, Width32, 0x756E6547) // "Genu"
		rf.Write(RegRDX, Width32, 0x49656E69) // "ineI"
		rf.Write(RegRCX, Width32, 0x6C65746E) // "ntel"
	default:
		const edxPAE = 1 << 6
		const edxPSE = 1 << 3
		const ecxLM = 0 // reported via extended leaf in real silicon; kept 0 here
		rf.Write(RegRAX, Width32, 0)
		rf.Write(RegRBX, Width32, 0)
		rf.Write(RegRCX, Width32, ecxLM)
		rf.Write(RegRDX, Width32, edxPAE|edxPSE)
	}
	return nil
}

func execIn(e *Emulator, in *Instruction) error {
	w := effWidth(in, in.Opcode == 0xE4 || in.Opcode == 0xEC)
	var port uint16
	if in.Opcode == 0xE4 || in.Opcode == 0xE5 {
		port = uint16(in.Imm)
	} else {
		port = uint16(e.Proc.Regs.Read(RegRDX, Width16))
	}
	v := e.Proc.IO.In(port, int(w.bytes()))
	e.Proc.Regs.Write(RegRAX, w, uint64(v))
	return nil
}

func execOut(e *Emulator, in *Instruction) error {
	w := effWidth(in, in.Opcode == 0xE6 || in.Opcode == 0xEE)
	var port uint16
	if in.Opcode == 0xE6 || in.Opcode == 0xE7 {
		port = uint16(in.Imm)
	} else {
		port = uint16(e.Proc.Regs.Read(RegRDX, Width16))
	}
	e.Proc.IO.Out(port, int(w.bytes()), uint32(e.Proc.Regs.Read(RegRAX, w)))
	return nil
}

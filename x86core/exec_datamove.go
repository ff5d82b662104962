// exec_datamove.go - MOV family, stack ops, sign/zero extension
//
// Grounded on the teacher's opMov/opPush/opPop/opLea closures in
// cpu_x86_ops.go, generalised to segment-relative addressing and the access
// layer's Push/Pop helpers. String-instruction moves live in exec_string.go.

package x86core

func execMovRmReg(e *Emulator, in *Instruction) error {
	w := effWidth(in, in.Opcode == 0x88 || in.Opcode == 0x8A)
	switch in.Opcode {
	case 0x88, 0x89:
		return e.Proc.writeRM(in, w, e.Proc.readReg(in, w))
	default: // 0x8A, 0x8B
		v, err := e.Proc.readRM(in, w)
		if err != nil {
			return err
		}
		e.Proc.writeReg(in, w, v)
		return nil
	}
}

func execMovImm(e *Emulator, in *Instruction) error {
	switch {
	case in.Opcode == 0xC6:
		return e.Proc.writeRM(in, Width8, in.Imm)
	case in.Opcode == 0xC7:
		return e.Proc.writeRM(in, in.OpSize, in.Imm)
	case in.Opcode >= 0xB0 && in.Opcode <= 0xB7:
		r := gpIndex(in.Opcode - 0xB0)
		if in.RexB {
			r += 8
		}
		if in.HasREX {
			e.Proc.Regs.Write(r, Width8, in.Imm)
		} else {
			e.Proc.Regs.SetGPR8Legacy(byte(in.Opcode-0xB0), byte(in.Imm))
		}
		return nil
	default: // 0xB8-0xBF
		r := gpIndex(in.Opcode - 0xB8)
		if in.RexB {
			r += 8
		}
		w := in.OpSize
		if in.RexW {
			w = Width64
		}
		e.Proc.Regs.Write(r, w, in.Imm)
		return nil
	}
}

func execMovMoffs(e *Emulator, in *Instruction) error {
	seg := in.SegOverride
	if !in.HasSegOverride {
		seg = SegDS
	}
	switch in.Opcode {
	case 0xA0:
		v, err := e.Proc.ReadData(seg, in.Moffs, 1)
		if err != nil {
			return err
		}
		e.Proc.Regs.Write(RegRAX, Width8, v)
	case 0xA1:
		v, err := e.Proc.ReadData(seg, in.Moffs, int(in.OpSize.bytes()))
		if err != nil {
			return err
		}
		e.Proc.Regs.Write(RegRAX, in.OpSize, v)
	case 0xA2:
		return e.Proc.WriteData(seg, in.Moffs, 1, e.Proc.Regs.Read(RegRAX, Width8))
	default:
		return e.Proc.WriteData(seg, in.Moffs, int(in.OpSize.bytes()), e.Proc.Regs.Read(RegRAX, in.OpSize))
	}
	return nil
}

func execLea(e *Emulator, in *Instruction) error {
	_, off := e.Proc.effectiveAddress(in)
	e.Proc.writeReg(in, in.OpSize, off&mask(in.OpSize))
	return nil
}

func execPush(e *Emulator, in *Instruction) error {
	var v uint64
	var err error
	switch {
	case in.Opcode >= 0x50 && in.Opcode <= 0x57:
		r := gpIndex(in.Opcode - 0x50)
		if in.RexB {
			r += 8
		}
		v = e.Proc.Regs.Read(r, pushPopWidth(in))
	case in.Opcode == 0x68:
		v = in.Imm
	case in.Opcode == 0x6A:
		v = in.Imm
	case in.Opcode == 0xFF: // grp5 /6
		v, err = e.Proc.readRM(in, in.OpSize)
		if err != nil {
			return err
		}
	}
	return e.Proc.Push(v)
}

func execPop(e *Emulator, in *Instruction) error {
	v, err := e.Proc.Pop()
	if err != nil {
		return err
	}
	if in.Opcode == 0x8F {
		return e.Proc.writeRM(in, in.OpSize, v)
	}
	r := gpIndex(in.Opcode - 0x58)
	if in.RexB {
		r += 8
	}
	e.Proc.Regs.Write(r, pushPopWidth(in), v)
	return nil
}

func pushPopWidth(in *Instruction) Width {
	if in.OpSize == Width32 {
		return Width32
	}
	return in.OpSize
}

func execMovzx(e *Emulator, in *Instruction) error {
	srcW := Width8
	if in.Opcode == 0xB7 {
		srcW = Width16
	}
	v, err := e.Proc.readRM(in, srcW)
	if err != nil {
		return err
	}
	e.Proc.writeReg(in, in.OpSize, v)
	return nil
}

func execMovsx(e *Emulator, in *Instruction) error {
	srcW := Width8
	if in.Opcode&0xFF == 0xBF {
		srcW = Width16
	}
	v, err := e.Proc.readRM(in, srcW)
	if err != nil {
		return err
	}
	e.Proc.writeReg(in, in.OpSize, signExtend(v, srcW)&mask(in.OpSize))
	return nil
}

func execCbw(e *Emulator, in *Instruction) error {
	switch in.OpSize {
	case Width16:
		v := e.Proc.Regs.Read(RegRAX, Width8)
		e.Proc.Regs.Write(RegRAX, Width16, signExtend(v, Width8)&mask(Width16))
	case Width32:
		v := e.Proc.Regs.Read(RegRAX, Width16)
		e.Proc.Regs.Write(RegRAX, Width32, signExtend(v, Width16)&mask(Width32))
	default:
		v := e.Proc.Regs.Read(RegRAX, Width32)
		e.Proc.Regs.Write(RegRAX, Width64, signExtend(v, Width32))
	}
	return nil
}

func execCwd(e *Emulator, in *Instruction) error {
	switch in.OpSize {
	case Width16:
		v := int16(e.Proc.Regs.Read(RegRAX, Width16))
		if v < 0 {
			e.Proc.Regs.Write(RegRDX, Width16, 0xFFFF)
		} else {
			e.Proc.Regs.Write(RegRDX, Width16, 0)
		}
	case Width32:
		v := int32(e.Proc.Regs.Read(RegRAX, Width32))
		if v < 0 {
			e.Proc.Regs.Write(RegRDX, Width32, 0xFFFFFFFF)
		} else {
			e.Proc.Regs.Write(RegRDX, Width32, 0)
		}
	default:
		v := int64(e.Proc.Regs.Read(RegRAX, Width64))
		if v < 0 {
			e.Proc.Regs.Write(RegRDX, Width64, ^uint64(0))
		} else {
			e.Proc.Regs.Write(RegRDX, Width64, 0)
		}
	}
	return nil
}

func execPushf(e *Emulator, in *Instruction) error {
	return e.Proc.Push(e.Proc.Regs.Flags & mask(pushPopWidth(in)))
}

func execPopf(e *Emulator, in *Instruction) error {
	v, err := e.Proc.Pop()
	if err != nil {
		return err
	}
	keep := e.Proc.Regs.Flags &^ mask(pushPopWidth(in))
	e.Proc.Regs.Flags = keep | (v & mask(pushPopWidth(in)))
	return nil
}

// exec_string.go - MOVS/STOS/LODS/SCAS/CMPS and the REP/REPE/REPNE driver
//
// Grounded on the teacher's string-instruction REP loop shape in
// cpu_x86_ops.go (decrement CX, repeat the body, honor DF for the
// direction), generalised to segment-relative SI/DI addressing through the
// access layer and to the REPE/REPNE early-exit SCAS/CMPS require.

package x86core

// stringStep advances index register r by width bytes, honoring DF.
func (p *Processor) stringStep(r gpIndex, width int) {
	delta := int64(width)
	if p.Regs.GetFlag(FlagDF) {
		delta = -delta
	}
	p.Regs.Update(r, p.addrSizeForStringIdx(), delta)
}

// addrSizeForStringIdx is the width SI/DI/CX are read and updated at: the
// current code segment's default address size (spec §4.8), irrespective of
// any 0x67 address-size override (string instructions don't use ModR/M so
// the override has nothing to act on beyond this).
func (p *Processor) addrSizeForStringIdx() Width {
	if p.Control.Mode() == ModeLong {
		return Width64
	}
	if p.Segs[SegCS].Cache.DefaultBig {
		return Width32
	}
	return Width16
}

func execMovs(e *Emulator, in *Instruction) error {
	w := effWidth(in, in.Opcode == 0xA4)
	return e.repLoop(in, func() (bool, error) {
		seg := in.SegOverride
		if !in.HasSegOverride {
			seg = SegDS
		}
		v, err := e.Proc.ReadData(seg, e.Proc.Regs.Read(RegRSI, e.Proc.addrSizeForStringIdx()), int(w.bytes()))
		if err != nil {
			return false, err
		}
		if err := e.Proc.WriteData(SegES, e.Proc.Regs.Read(RegRDI, e.Proc.addrSizeForStringIdx()), int(w.bytes()), v); err != nil {
			return false, err
		}
		e.Proc.stringStep(RegRSI, int(w.bytes()))
		e.Proc.stringStep(RegRDI, int(w.bytes()))
		return true, nil
	})
}

func execStos(e *Emulator, in *Instruction) error {
	w := effWidth(in, in.Opcode == 0xAA)
	return e.repLoop(in, func() (bool, error) {
		v := e.Proc.Regs.Read(RegRAX, w)
		if err := e.Proc.WriteData(SegES, e.Proc.Regs.Read(RegRDI, e.Proc.addrSizeForStringIdx()), int(w.bytes()), v); err != nil {
			return false, err
		}
		e.Proc.stringStep(RegRDI, int(w.bytes()))
		return true, nil
	})
}

func execLods(e *Emulator, in *Instruction) error {
	w := effWidth(in, in.Opcode == 0xAC)
	return e.repLoop(in, func() (bool, error) {
		seg := in.SegOverride
		if !in.HasSegOverride {
			seg = SegDS
		}
		v, err := e.Proc.ReadData(seg, e.Proc.Regs.Read(RegRSI, e.Proc.addrSizeForStringIdx()), int(w.bytes()))
		if err != nil {
			return false, err
		}
		e.Proc.Regs.Write(RegRAX, w, v)
		e.Proc.stringStep(RegRSI, int(w.bytes()))
		return true, nil
	})
}

func execScas(e *Emulator, in *Instruction) error {
	w := effWidth(in, in.Opcode == 0xAE)
	return e.repLoop(in, func() (bool, error) {
		v, err := e.Proc.ReadData(SegES, e.Proc.Regs.Read(RegRDI, e.Proc.addrSizeForStringIdx()), int(w.bytes()))
		if err != nil {
			return false, err
		}
		a := e.Proc.Regs.Read(RegRAX, w)
		r := a - v
		e.Proc.Regs.setSubFlags(a, v, r, w)
		e.Proc.stringStep(RegRDI, int(w.bytes()))
		return e.Proc.Regs.GetFlag(FlagZF) == (in.RepPrefix == 1), nil
	})
}

func execCmps(e *Emulator, in *Instruction) error {
	w := effWidth(in, in.Opcode == 0xA6)
	return e.repLoop(in, func() (bool, error) {
		seg := in.SegOverride
		if !in.HasSegOverride {
			seg = SegDS
		}
		a, err := e.Proc.ReadData(seg, e.Proc.Regs.Read(RegRSI, e.Proc.addrSizeForStringIdx()), int(w.bytes()))
		if err != nil {
			return false, err
		}
		b, err := e.Proc.ReadData(SegES, e.Proc.Regs.Read(RegRDI, e.Proc.addrSizeForStringIdx()), int(w.bytes()))
		if err != nil {
			return false, err
		}
		r := a - b
		e.Proc.Regs.setSubFlags(a, b, r, w)
		e.Proc.stringStep(RegRSI, int(w.bytes()))
		e.Proc.stringStep(RegRDI, int(w.bytes()))
		return e.Proc.Regs.GetFlag(FlagZF) == (in.RepPrefix == 1), nil
	})
}

// repLoop drives one string-instruction body either once (no REP prefix) or,
// under a REP/REPE/REPNE prefix, exactly one iteration per call: real
// hardware re-fetches and re-decodes a REP-prefixed instruction on every
// iteration specifically so a pending interrupt can be serviced between
// iterations (spec §4.8 restartability), so this runs at most one body call
// and, while RCX/ECX/CX remains nonzero and (for SCAS/CMPS) the REPE/REPNE
// zero-flag condition the body's return value reports still holds, sets
// in.Restart so Emulator.Step rewinds RIP back to the start of this same
// instruction instead of advancing past it. MOVS/STOS/LODS bodies always
// return true and simply run out the counter.
func (e *Emulator) repLoop(in *Instruction, body func() (bool, error)) error {
	in.Restart = false
	if in.RepPrefix == 0 {
		_, err := body()
		return err
	}
	cxWidth := e.Proc.addrSizeForStringIdx()
	if e.Proc.Regs.Read(RegRCX, cxWidth) == 0 {
		return nil
	}
	e.Proc.Regs.Update(RegRCX, cxWidth, -1)
	cont, err := body()
	if err != nil {
		return err
	}
	if cont && e.Proc.Regs.Read(RegRCX, cxWidth) != 0 {
		in.Restart = true
	}
	return nil
}

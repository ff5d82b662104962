// modrm.go - ModR/M operand resolution (register or memory) for the executor
//
// Grounded on the teacher's calcEffectiveAddress16/calcEffectiveAddress32 in
// cpu_x86.go, generalised to three address sizes (adding RIP-relative and the
// 64-bit SIB/index-scale forms long mode introduces) and routed through the
// access layer instead of the teacher's flat bus.Read/bus.Write.

package x86core

// extReg folds a REX extension bit into a 3-bit ModR/M register field to
// produce the full 4-bit register index.
func extReg(field byte, ext bool) gpIndex {
	idx := int(field)
	if ext {
		idx += 8
	}
	return gpIndex(idx)
}

// effectiveAddress computes the (segment, offset) an r/m memory operand
// resolves to, given a decoded Instruction whose Mod != 3. 16-bit addressing
// uses the legacy BX+SI-style table; 32/64-bit addressing uses SIB and
// RIP-relative forms per the Intel SDM.
func (p *Processor) effectiveAddress(in *Instruction) (SegIndex, uint64) {
	seg := in.SegOverride
	if !in.HasSegOverride {
		seg = SegDS
	}

	if in.AddrSize == Width16 {
		if in.Mod == 0 && in.RM == 6 {
			return seg, uint64(uint16(in.Disp))
		}
		var addr int32
		usesSS := false
		switch in.RM {
		case 0:
			addr = int32(p.Regs.GPR16(RegRBX)) + int32(p.Regs.GPR16(RegRSI))
		case 1:
			addr = int32(p.Regs.GPR16(RegRBX)) + int32(p.Regs.GPR16(RegRDI))
		case 2:
			addr = int32(p.Regs.GPR16(RegRBP)) + int32(p.Regs.GPR16(RegRSI))
			usesSS = true
		case 3:
			addr = int32(p.Regs.GPR16(RegRBP)) + int32(p.Regs.GPR16(RegRDI))
			usesSS = true
		case 4:
			addr = int32(p.Regs.GPR16(RegRSI))
		case 5:
			addr = int32(p.Regs.GPR16(RegRDI))
		case 6:
			addr = int32(p.Regs.GPR16(RegRBP))
			usesSS = true
		case 7:
			addr = int32(p.Regs.GPR16(RegRBX))
		}
		if usesSS && !in.HasSegOverride {
			seg = SegSS
		}
		return seg, uint64(uint16(addr + int32(in.Disp)))
	}

	// RIP-relative: Mod==0, RM==5, no SIB, long mode only.
	if in.Mod == 0 && in.RM == 5 && !in.HasSIB && p.Control.Mode() == ModeLong {
		next := p.Regs.IPView(Width64) + uint64(in.Length)
		return seg, uint64(int64(next) + in.Disp)
	}

	var addr uint64
	if in.HasSIB {
		if in.Index != 4 || in.RexXUsed() {
			idx := extReg(in.Index, in.RexX)
			if !(idx == RegRSP) {
				addr += p.Regs.Read(idx, in.AddrSize) << in.Scale
			}
		}
		if in.Mod == 0 && in.Base == 5 {
			addr += uint64(int64(in.Disp))
		} else {
			baseReg := extReg(in.Base, in.RexB)
			addr += p.Regs.Read(baseReg, in.AddrSize)
			addr = uint64(int64(addr) + in.Disp)
			if in.Base == 4 || in.Base == 5 {
				if !in.HasSegOverride {
					seg = SegSS
				}
			}
		}
	} else {
		if in.Mod == 0 && in.RM == 5 {
			addr = uint64(int64(in.Disp))
		} else {
			r := extReg(in.RM, in.RexB)
			addr = uint64(int64(p.Regs.Read(r, in.AddrSize)) + in.Disp)
			if in.RM == 5 && !in.HasSegOverride {
				seg = SegSS
			}
		}
	}
	if in.AddrSize == Width32 {
		addr = uint64(uint32(addr))
	}
	return seg, addr
}

// RexXUsed reports whether this decode observed a REX prefix at all (used to
// distinguish "no index register" from "index register R12", both encoded
// with Index==4, since R12 requires REX.X to have been read even when clear).
func (in *Instruction) RexXUsed() bool { return in.HasREX }

// rmIsMemory reports whether the r/m field addresses memory (Mod != 3).
func (in *Instruction) rmIsMemory() bool { return in.HasModRM && in.Mod != 3 }

// readRM reads the r/m operand (register or memory) at the instruction's
// operand width.
func (p *Processor) readRM(in *Instruction, width Width) (uint64, error) {
	if !in.rmIsMemory() {
		r := extReg(in.RM, in.RexB)
		if width == Width8 && !in.HasREX {
			return uint64(p.Regs.GPR8Legacy(byte(r))), nil
		}
		return p.Regs.Read(r, width), nil
	}
	seg, off := p.effectiveAddress(in)
	return p.ReadData(seg, off, int(width.bytes()))
}

// writeRM writes the r/m operand.
func (p *Processor) writeRM(in *Instruction, width Width, value uint64) error {
	if !in.rmIsMemory() {
		r := extReg(in.RM, in.RexB)
		if width == Width8 && !in.HasREX {
			p.Regs.SetGPR8Legacy(byte(r), byte(value))
			return nil
		}
		p.Regs.Write(r, width, value)
		return nil
	}
	seg, off := p.effectiveAddress(in)
	return p.WriteData(seg, off, int(width.bytes()), value)
}

// readReg/writeReg access the ModR/M reg-field operand.
func (p *Processor) readReg(in *Instruction, width Width) uint64 {
	r := extReg(in.RegField, in.RexR)
	if width == Width8 && !in.HasREX {
		return uint64(p.Regs.GPR8Legacy(byte(r)))
	}
	return p.Regs.Read(r, width)
}

func (p *Processor) writeReg(in *Instruction, width Width, value uint64) {
	r := extReg(in.RegField, in.RexR)
	if width == Width8 && !in.HasREX {
		p.Regs.SetGPR8Legacy(byte(r), byte(value))
		return
	}
	p.Regs.Write(r, width, value)
}

// effWidth returns the operand width for a "b" (byte) suffixed form vs the
// instruction's resolved operand size for a "v"/"z" form.
func effWidth(in *Instruction, isByte bool) Width {
	if isByte {
		return Width8
	}
	return in.OpSize
}

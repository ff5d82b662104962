// opcode_tables.go - opcode -> handler dispatch
//
// Grounded on the teacher's baseOps [256]func(*CPU) table in cpu_x86.go,
// generalised to a (one-byte, two-byte) pair of tables whose entries close
// over a decoded Instruction rather than the teacher's "current opcode"
// implicit state. Operand width is already resolved onto the Instruction by
// decoder.go, so unlike the teacher (and unlike the three-table layout spec
// §4.8 sketches for a design where width resolution happens at dispatch
// time) one opcode maps to one handler regardless of 16/32/64-bit mode.
package x86core

type opcodeHandler func(*Emulator, *Instruction) error

var table1 [256]opcodeHandler
var table0F [256]opcodeHandler

func init() {
	for _, base := range []byte{0x00, 0x08, 0x10, 0x18, 0x20, 0x28, 0x30, 0x38} {
		for i := byte(0); i < 6; i++ {
			table1[base+i] = execALU
		}
	}
	for op := 0x40; op <= 0x4F; op++ {
		table1[op] = execIncDec
	}
	for op := 0x50; op <= 0x57; op++ {
		table1[op] = execPush
	}
	for op := 0x58; op <= 0x5F; op++ {
		table1[op] = execPop
	}
	table1[0x68] = execPush
	table1[0x69] = execImul3
	table1[0x6A] = execPush
	table1[0x6B] = execImul3

	for op := 0x70; op <= 0x7F; op++ {
		table1[op] = execJccShort
	}

	table1[0x80] = execGrp1
	table1[0x81] = execGrp1
	table1[0x83] = execGrp1
	table1[0x84] = execTest
	table1[0x85] = execTest
	table1[0x86] = execXchg
	table1[0x87] = execXchg
	table1[0x88] = execMovRmReg
	table1[0x89] = execMovRmReg
	table1[0x8A] = execMovRmReg
	table1[0x8B] = execMovRmReg
	table1[0x8C] = execMovSreg
	table1[0x8D] = execLea
	table1[0x8E] = execMovSreg
	table1[0x8F] = execPop

	table1[0x90] = execNop
	for op := 0x91; op <= 0x97; op++ {
		table1[op] = execXchg
	}
	table1[0x98] = execCbw
	table1[0x99] = execCwd
	table1[0x9A] = execCallFar
	table1[0x9C] = execPushf
	table1[0x9D] = execPopf

	table1[0xA0] = execMovMoffs
	table1[0xA1] = execMovMoffs
	table1[0xA2] = execMovMoffs
	table1[0xA3] = execMovMoffs
	table1[0xA4] = execMovs
	table1[0xA5] = execMovs
	table1[0xA6] = execCmps
	table1[0xA7] = execCmps
	table1[0xA8] = execTest
	table1[0xA9] = execTest
	table1[0xAA] = execStos
	table1[0xAB] = execStos
	table1[0xAC] = execLods
	table1[0xAD] = execLods
	table1[0xAE] = execScas
	table1[0xAF] = execScas

	for op := 0xB0; op <= 0xBF; op++ {
		table1[op] = execMovImm
	}

	table1[0xC0] = execShiftGroup
	table1[0xC1] = execShiftGroup
	table1[0xC2] = execRet
	table1[0xC3] = execRet
	table1[0xCA] = execRetFar
	table1[0xCB] = execRetFar
	table1[0xC6] = execMovImm
	table1[0xC7] = execMovImm
	table1[0xC9] = execLeave
	table1[0xCC] = execInt3
	table1[0xCD] = execIntN
	table1[0xCF] = execIret

	table1[0xD0] = execShiftGroup
	table1[0xD1] = execShiftGroup
	table1[0xD2] = execShiftGroup
	table1[0xD3] = execShiftGroup

	table1[0xE4] = execIn
	table1[0xE5] = execIn
	table1[0xE6] = execOut
	table1[0xE7] = execOut
	table1[0xE8] = execCallRel
	table1[0xE9] = execJmpRel
	table1[0xEA] = execJmpFar
	table1[0xEB] = execJmpRel
	table1[0xEC] = execIn
	table1[0xED] = execIn
	table1[0xEE] = execOut
	table1[0xEF] = execOut

	table1[0xF4] = execHlt
	table1[0xF5] = execFlagBit
	table1[0xF6] = execGrp3
	table1[0xF7] = execGrp3
	table1[0xF8] = execFlagBit
	table1[0xF9] = execFlagBit
	table1[0xFA] = execFlagBit
	table1[0xFB] = execFlagBit
	table1[0xFC] = execFlagBit
	table1[0xFD] = execFlagBit
	table1[0xFE] = execIncDec
	table1[0xFF] = execGrp5

	table0F[0x00] = execGrp6
	table0F[0x01] = execGrp7
	table0F[0x06] = execClts
	table0F[0x0B] = func(e *Emulator, in *Instruction) error { return udFault("UD2") }
	table0F[0x20] = execMovFromCr
	table0F[0x22] = execMovToCr
	table0F[0x30] = execWrmsr
	table0F[0x31] = execRdtsc
	table0F[0x32] = execRdmsr
	for op := 0x80; op <= 0x8F; op++ {
		table0F[op] = execJccNear
	}
	for op := 0x90; op <= 0x9F; op++ {
		table0F[op] = execSetcc
	}
	table0F[0xA2] = execCpuid
	table0F[0xAF] = execImul2
	table0F[0xB6] = execMovzx
	table0F[0xB7] = execMovzx
	table0F[0xBE] = execMovsx
	table0F[0xBF] = execMovsx
}

// execMovSreg implements MOV Sreg,Ew / MOV Ew,Sreg, opcodes 0x8C/0x8E. The
// reg field addresses one of the six segment registers rather than a GPR.
func execMovSreg(e *Emulator, in *Instruction) error {
	seg := SegIndex(segRegOrder[in.RegField&0x7])
	if in.Opcode == 0x8C {
		return e.Proc.writeRM(in, Width16, uint64(e.Proc.Segs[seg].Selector))
	}
	v, err := e.Proc.readRM(in, Width16)
	if err != nil {
		return err
	}
	return e.Proc.LoadSegment(seg, uint16(v), e.Proc.CPL())
}

// segRegOrder maps a Sreg ModR/M encoding (0-5) to this core's SegIndex.
// Both use the same ES, CS, SS, DS, FS, GS order, so the table is the
// identity mapping spelled out.
var segRegOrder = [6]SegIndex{SegES, SegCS, SegSS, SegDS, SegFS, SegGS}

// execGrp5 implements INC/DEC/CALL/CALLF/JMP/JMPF/PUSH Ev, opcode 0xFF,
// distinguished by the ModR/M reg field.
func execGrp5(e *Emulator, in *Instruction) error {
	switch in.RegField {
	case 0, 1:
		return execIncDec(e, in)
	case 2: // CALL near indirect
		target, err := e.Proc.readRM(in, in.OpSize)
		if err != nil {
			return err
		}
		next := e.Proc.Regs.IPView(e.Proc.addrSize()) + uint64(in.Length)
		if err := e.Proc.Push(next); err != nil {
			return err
		}
		e.Proc.Regs.SetIPView(e.Proc.addrSize(), target)
		return nil
	case 3: // CALL far indirect (memory m16:xx)
		return e.farIndirect(in, true)
	case 4: // JMP near indirect
		target, err := e.Proc.readRM(in, in.OpSize)
		if err != nil {
			return err
		}
		e.Proc.Regs.SetIPView(e.Proc.addrSize(), target)
		return nil
	case 5: // JMP far indirect
		return e.farIndirect(in, false)
	default: // 6: PUSH Ev
		return execPush(e, in)
	}
}

// farIndirect reads a m16:xx far pointer out of memory (grp5 /3 and /5
// require a memory operand; a register r/m is a #UD, per the SDM).
func (e *Emulator) farIndirect(in *Instruction, isCall bool) error {
	if !in.rmIsMemory() {
		return udFault("far CALL/JMP through a register operand")
	}
	seg, off := e.Proc.effectiveAddress(in)
	offset, err := e.Proc.ReadData(seg, off, int(in.OpSize.bytes()))
	if err != nil {
		return err
	}
	sel, err := e.Proc.ReadData(seg, off+in.OpSize.bytes(), 2)
	if err != nil {
		return err
	}
	if !isCall {
		return e.farTransfer(uint16(sel), offset, false)
	}
	ip := e.Proc.Regs.IPView(e.Proc.addrSize())
	e.Proc.Regs.SetIPView(e.Proc.addrSize(), ip+uint64(in.Length))
	if err := e.farTransfer(uint16(sel), offset, true); err != nil {
		e.Proc.Regs.SetIPView(e.Proc.addrSize(), ip)
		return err
	}
	return nil
}

func lookupHandler(is0F bool, op byte) opcodeHandler {
	if is0F {
		return table0F[op]
	}
	return table1[op]
}

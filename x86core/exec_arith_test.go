package x86core

import "testing"

func newTestEmulator() (*Emulator, *Processor) {
	p := newTestProcessor(64)
	e := NewEmulator(p)
	return e, p
}

// regDirect builds an Instruction whose r/m field addresses a register
// (Mod=3) rather than memory, the shape execALU/execGrp1/execGrp3 etc. see
// for the common "both operands are registers" case.
func regDirect(opcode byte, regField, rm byte, w Width, imm uint64) *Instruction {
	return &Instruction{
		Opcode:   opcode,
		HasModRM: true,
		Mod:      3,
		RegField: regField,
		RM:       rm,
		OpSize:   w,
		Imm:      imm,
	}
}

func TestExecALUAddSetsFlags(t *testing.T) {
	e, p := newTestEmulator()
	p.Regs.Write(RegRAX, Width32, 1)
	p.Regs.Write(RegRCX, Width32, 0xFFFFFFFF)
	// 0x01 /r: ADD Ev,Gv with rm=RAX(dst), reg=RCX(src) -- dst += src.
	in := regDirect(0x01, byte(RegRCX), byte(RegRAX), Width32, 0)
	if err := execALU(e, in); err != nil {
		t.Fatalf("execALU: %v", err)
	}
	if got := p.Regs.Read(RegRAX, Width32); got != 0 {
		t.Errorf("RAX = %#x, want 0 (1 + 0xFFFFFFFF wraps)", got)
	}
	if !p.Regs.GetFlag(FlagCF) {
		t.Error("expected CF set on 32-bit add overflow")
	}
	if !p.Regs.GetFlag(FlagZF) {
		t.Error("expected ZF set for a zero result")
	}
}

func TestExecALUCmpDoesNotWriteBack(t *testing.T) {
	e, p := newTestEmulator()
	p.Regs.Write(RegRAX, Width32, 5)
	p.Regs.Write(RegRCX, Width32, 5)
	// 0x39 /r: CMP Ev,Gv, rm=RAX, reg=RCX.
	in := regDirect(0x39, byte(RegRCX), byte(RegRAX), Width32, 0)
	if err := execALU(e, in); err != nil {
		t.Fatalf("execALU: %v", err)
	}
	if got := p.Regs.Read(RegRAX, Width32); got != 5 {
		t.Errorf("RAX = %#x, want unchanged 5: CMP must not write back", got)
	}
	if !p.Regs.GetFlag(FlagZF) {
		t.Error("expected ZF set: 5 - 5 == 0")
	}
}

func TestExecGrp1ImmediateSub(t *testing.T) {
	e, p := newTestEmulator()
	p.Regs.Write(RegRAX, Width32, 10)
	// 0x83 /5: SUB r/m32, imm8 (sign-extended) -- grp1 field 5 is SUB.
	in := regDirect(0x83, 5, byte(RegRAX), Width32, 3)
	if err := execGrp1(e, in); err != nil {
		t.Fatalf("execGrp1: %v", err)
	}
	if got := p.Regs.Read(RegRAX, Width32); got != 7 {
		t.Errorf("RAX = %d, want 7", got)
	}
}

func TestExecGrp3MulUnsigned(t *testing.T) {
	e, p := newTestEmulator()
	p.Regs.Write(RegRAX, Width32, 0x10000)
	// F7 /4: MUL r/m32, rm=RCX holding the multiplier.
	p.Regs.Write(RegRCX, Width32, 0x10000)
	in := regDirect(0xF7, 4, byte(RegRCX), Width32, 0)
	if err := execGrp3(e, in); err != nil {
		t.Fatalf("execGrp3: %v", err)
	}
	if got := p.Regs.Read(RegRAX, Width32); got != 0 {
		t.Errorf("EAX (low) = %#x, want 0", got)
	}
	if got := p.Regs.Read(RegRDX, Width32); got != 1 {
		t.Errorf("EDX (high) = %#x, want 1 (0x10000*0x10000 = 0x100000000)", got)
	}
	if !p.Regs.GetFlag(FlagCF) || !p.Regs.GetFlag(FlagOF) {
		t.Error("expected CF and OF set: the high half is nonzero")
	}
}

func TestExecGrp3MulUnsignedNoOverflow(t *testing.T) {
	e, p := newTestEmulator()
	p.Regs.Write(RegRAX, Width32, 2)
	p.Regs.Write(RegRCX, Width32, 3)
	in := regDirect(0xF7, 4, byte(RegRCX), Width32, 0)
	if err := execGrp3(e, in); err != nil {
		t.Fatalf("execGrp3: %v", err)
	}
	if got := p.Regs.Read(RegRAX, Width32); got != 6 {
		t.Errorf("EAX = %d, want 6", got)
	}
	if p.Regs.GetFlag(FlagCF) || p.Regs.GetFlag(FlagOF) {
		t.Error("CF/OF must be clear: high half is zero")
	}
}

func TestExecGrp3DivByZeroFaults(t *testing.T) {
	e, p := newTestEmulator()
	p.Regs.Write(RegRAX, Width32, 10)
	p.Regs.Write(RegRCX, Width32, 0)
	in := regDirect(0xF7, 6, byte(RegRCX), Width32, 0)
	err := execGrp3(e, in)
	if err == nil {
		t.Fatal("expected an error dividing by zero")
	}
	var af *ArchFault
	if !asArchFault(err, &af) {
		t.Fatalf("expected an *ArchFault, got %T: %v", err, err)
	}
}

func TestExecGrp3DivUnsigned(t *testing.T) {
	e, p := newTestEmulator()
	p.Regs.Write(RegRAX, Width32, 100)
	p.Regs.Write(RegRDX, Width32, 0)
	p.Regs.Write(RegRCX, Width32, 7)
	in := regDirect(0xF7, 6, byte(RegRCX), Width32, 0)
	if err := execGrp3(e, in); err != nil {
		t.Fatalf("execGrp3: %v", err)
	}
	if got := p.Regs.Read(RegRAX, Width32); got != 14 {
		t.Errorf("quotient = %d, want 14", got)
	}
	if got := p.Regs.Read(RegRDX, Width32); got != 2 {
		t.Errorf("remainder = %d, want 2", got)
	}
}

func TestExecIncDecPreservesCF(t *testing.T) {
	e, p := newTestEmulator()
	p.Regs.SetFlag(FlagCF, true)
	p.Regs.Write(RegRAX, Width32, 0xFFFFFFFF)
	// 0x40 + reg: INC eAX (no REX; legacy single-byte INC encoding).
	in := &Instruction{Opcode: 0x40, OpSize: Width32}
	if err := execIncDec(e, in); err != nil {
		t.Fatalf("execIncDec: %v", err)
	}
	if got := p.Regs.Read(RegRAX, Width32); got != 0 {
		t.Errorf("RAX = %#x, want 0 (wrapped)", got)
	}
	if !p.Regs.GetFlag(FlagCF) {
		t.Error("INC must never touch CF")
	}
	if !p.Regs.GetFlag(FlagZF) {
		t.Error("expected ZF set on wraparound to zero")
	}
}

func TestExecShiftGroupShlSetsCFFromLastBitShiftedOut(t *testing.T) {
	e, p := newTestEmulator()
	p.Regs.Write(RegRAX, Width8, 0x81)
	// D0 /4: SHL r/m8, 1.
	in := regDirect(0xD0, 4, byte(RegRAX), Width8, 0)
	if err := execShiftGroup(e, in); err != nil {
		t.Fatalf("execShiftGroup: %v", err)
	}
	if got := p.Regs.Read(RegRAX, Width8); got != 0x02 {
		t.Errorf("AL = %#x, want 0x02", got)
	}
	if !p.Regs.GetFlag(FlagCF) {
		t.Error("expected CF set: bit 7 of 0x81 shifted out")
	}
}

func TestExecShiftGroupRorByCL(t *testing.T) {
	e, p := newTestEmulator()
	p.Regs.Write(RegRAX, Width8, 0x01)
	p.Regs.Write(RegRCX, Width8, 1)
	// D2 /1: ROR r/m8, CL.
	in := regDirect(0xD2, 1, byte(RegRAX), Width8, 0)
	if err := execShiftGroup(e, in); err != nil {
		t.Fatalf("execShiftGroup: %v", err)
	}
	if got := p.Regs.Read(RegRAX, Width8); got != 0x80 {
		t.Errorf("AL = %#x, want 0x80", got)
	}
}

func TestExecImul3ThreeOperandOverflow(t *testing.T) {
	e, p := newTestEmulator()
	p.Regs.Write(RegRCX, Width32, 0x7FFFFFFF)
	// 0x6B /r ib: IMUL Gv, Ev, ib -- reg=RAX(dst), rm=RCX(src), imm=2.
	in := regDirect(0x6B, byte(RegRAX), byte(RegRCX), Width32, 2)
	if err := execImul3(e, in); err != nil {
		t.Fatalf("execImul3: %v", err)
	}
	if !p.Regs.GetFlag(FlagOF) {
		t.Error("expected OF set: 0x7FFFFFFF*2 overflows a signed 32-bit result")
	}
}

func asArchFault(err error, out **ArchFault) bool {
	af, ok := err.(*ArchFault)
	if ok {
		*out = af
	}
	return ok
}

package x86core

import "testing"

func TestEffectiveAddress16BxSiDefaultsDS(t *testing.T) {
	p := newTestProcessor(64)
	p.Regs.Write(RegRBX, Width16, 0x0100)
	p.Regs.Write(RegRSI, Width16, 0x0010)

	in := &Instruction{AddrSize: Width16, Mod: 0, RM: 0}
	seg, off := p.effectiveAddress(in)
	if seg != SegDS {
		t.Errorf("seg = %v, want SegDS for BX+SI", seg)
	}
	if off != 0x0110 {
		t.Errorf("off = %#x, want 0x110", off)
	}
}

func TestEffectiveAddress16BpSiDefaultsSS(t *testing.T) {
	p := newTestProcessor(64)
	p.Regs.Write(RegRBP, Width16, 0x0020)
	p.Regs.Write(RegRSI, Width16, 0x0004)

	in := &Instruction{AddrSize: Width16, Mod: 0, RM: 2} // BP+SI
	seg, off := p.effectiveAddress(in)
	if seg != SegSS {
		t.Errorf("seg = %v, want SegSS for BP+SI (mod=0,rm=2)", seg)
	}
	if off != 0x0024 {
		t.Errorf("off = %#x, want 0x24", off)
	}
}

func TestEffectiveAddress16Mod0RM6IsDisp16Only(t *testing.T) {
	p := newTestProcessor(64)
	in := &Instruction{AddrSize: Width16, Mod: 0, RM: 6, Disp: 0x1234}
	seg, off := p.effectiveAddress(in)
	if seg != SegDS {
		t.Errorf("seg = %v, want SegDS (no base register involved)", seg)
	}
	if off != 0x1234 {
		t.Errorf("off = %#x, want 0x1234 (disp16, no base)", off)
	}
}

func TestEffectiveAddress16SegOverrideWinsOverSSDefault(t *testing.T) {
	p := newTestProcessor(64)
	p.Regs.Write(RegRBP, Width16, 0x0020)
	p.Regs.Write(RegRDI, Width16, 0x0004)

	in := &Instruction{AddrSize: Width16, Mod: 0, RM: 3, HasSegOverride: true, SegOverride: SegES}
	seg, _ := p.effectiveAddress(in)
	if seg != SegES {
		t.Errorf("seg = %v, want SegES: an explicit override must beat the BP-implied SS default", seg)
	}
}

func TestEffectiveAddress32SIBEspAsIndexMeansNone(t *testing.T) {
	p := newTestProcessor(64)
	p.Regs.Write(RegRBX, Width32, 0x2000) // SIB base=3 (EBX)

	in := &Instruction{
		AddrSize: Width32, Mod: 1, RM: 4, HasSIB: true,
		Scale: 0, Index: 4, Base: 3, Disp: 0x10,
	}
	seg, off := p.effectiveAddress(in)
	if seg != SegDS {
		t.Errorf("seg = %v, want SegDS (base EBX, not ESP/EBP)", seg)
	}
	if off != 0x2010 {
		t.Errorf("off = %#x, want 0x2010 (index=ESP means no index contribution)", off)
	}
}

func TestEffectiveAddress32SIBModeZeroBaseFiveIsDisp32Only(t *testing.T) {
	p := newTestProcessor(64)
	in := &Instruction{
		AddrSize: Width32, Mod: 0, RM: 4, HasSIB: true,
		Scale: 0, Index: 4, Base: 5, Disp: 0x12345678,
	}
	seg, off := p.effectiveAddress(in)
	if seg != SegDS {
		t.Errorf("seg = %v, want SegDS", seg)
	}
	if off != 0x12345678 {
		t.Errorf("off = %#x, want 0x12345678 (mod=0,base=5 means no base register, disp32 only)", off)
	}
}

func TestEffectiveAddress32SIBEspBaseDefaultsSS(t *testing.T) {
	p := newTestProcessor(64)
	p.Regs.Write(RegRSP, Width32, 0x8000)

	in := &Instruction{
		AddrSize: Width32, Mod: 1, RM: 4, HasSIB: true,
		Scale: 0, Index: 4, Base: 4, Disp: 0x8,
	}
	seg, off := p.effectiveAddress(in)
	if seg != SegSS {
		t.Errorf("seg = %v, want SegSS for SIB base=ESP", seg)
	}
	if off != 0x8008 {
		t.Errorf("off = %#x, want 0x8008", off)
	}
}

package x86core

import "testing"

// tss16DescriptorRaw packs a 16-bit TSS system descriptor (type 1 = available,
// type 3 = busy); PackDescriptor only knows the code/data segment shape.
func tss16DescriptorRaw(base uint64, limit uint32, typ byte, present bool) uint64 {
	raw := uint64(limit & 0xFFFF)
	raw |= (base & 0xFFFFFF) << 16
	raw |= uint64(typ) << 40
	if present {
		raw |= 1 << 47
	}
	raw |= uint64((limit>>16)&0xF) << 48
	raw |= ((base >> 24) & 0xFF) << 56
	return raw
}

// TestTaskSwitchCallIntUses16BitLayoutAndSetsNT exercises the CallInt flavor
// of TaskSwitch against a pair of 16-bit TSSes, confirming the prev-task link
// and NT flag (spec §4.4 step 6) alongside the 16-bit field layout.
func TestTaskSwitchCallIntUses16BitLayoutAndSetsNT(t *testing.T) {
	p := pagingTestProcessor()
	p.Control.CR0 &^= CR0PG
	const gdtBase = 0x5000
	const outBase = 0x7000
	const inBase = 0x9000
	p.GDTR = TableRegister{Base: gdtBase, Limit: 0xFFFF}

	// Selector 0x10: the incoming 16-bit available TSS descriptor.
	p.writePhysRaw64(gdtBase+0x10, tss16DescriptorRaw(inBase, tss16Size-1, 0x1, true))
	// Selector 0x20: code descriptor for the new task's CS.
	p.writePhysRaw64(gdtBase+0x20, PackDescriptor(Descriptor{
		Kind: DescCode, Base: 0, Limit: 0xFFFFF, Present: true, DPL: 0, Readable: true, Granularity: true,
	}))
	// Selector 0x28: data descriptor for SS/DS/ES.
	p.writePhysRaw64(gdtBase+0x28, PackDescriptor(Descriptor{
		Kind: DescData, Base: 0, Limit: 0xFFFFF, Present: true, DPL: 0, Writable: true, Granularity: true,
	}))

	// The incoming 16-bit TSS: IP/FLAGS/segment selectors and one GPR.
	p.writePhysU16(inBase+tss16IP, 0x4321)
	p.writePhysU16(inBase+tss16FLAG, 0x0002)
	p.writePhysU16(inBase+tss16AX, 0xBEEF)
	p.writePhysU16(inBase+tss16SP, 0x1800)
	p.writePhysU16(inBase+tss16CS, 0x20)
	p.writePhysU16(inBase+tss16SS, 0x28)
	p.writePhysU16(inBase+tss16DS, 0x28)
	p.writePhysU16(inBase+tss16ES, 0x28)
	p.writePhysU16(inBase+tss16LDT, 0)

	// Currently running task: a 16-bit TSS at outBase, installed as TR
	// directly (as LoadTR would have left it).
	p.TR = CachedTableRegister{Selector: 0x08, Base: outBase, Limit: tss16Size - 1}
	p.Regs.RIP = 0x55
	p.Regs.SetGPR16(RegRAX, 0x1111)

	if err := p.TaskSwitch(SwitchCallInt, 0x10); err != nil {
		t.Fatalf("TaskSwitch: %v", err)
	}

	if got := p.Regs.RIP; got != 0x4321 {
		t.Errorf("RIP = %#x, want 0x4321", got)
	}
	if got := p.Regs.GPR16(RegRAX); got != 0xBEEF {
		t.Errorf("AX = %#x, want 0xBEEF", got)
	}
	if got := p.Segs[SegCS].Selector; got != 0x20 {
		t.Errorf("CS = %#x, want 0x20", got)
	}
	if !p.Regs.GetFlag(FlagNT) {
		t.Error("expected NT set after a CallInt task switch")
	}
	if p.TR.Selector != 0x10 {
		t.Errorf("TR = %#x, want 0x10", p.TR.Selector)
	}

	// The outgoing task's state was saved into its own 16-bit TSS, and the
	// incoming TSS's back-link now points at it.
	if got := p.readPhysU16(outBase + tss16IP); got != 0x55 {
		t.Errorf("outgoing TSS saved IP = %#x, want 0x55", got)
	}
	if got := p.readPhysU16(outBase + tss16AX); got != 0x1111 {
		t.Errorf("outgoing TSS saved AX = %#x, want 0x1111", got)
	}
	if got := p.readPhysU16(inBase + tss16Link); got != 0x08 {
		t.Errorf("incoming TSS back-link = %#x, want 0x08 (the outgoing task's selector)", got)
	}
}

// TestTaskSwitchUses16BitLayoutRegardlessOfLargeLimit confirms the 16- vs
// 32-bit TSS layout choice comes from the descriptor's Type/D bit, not its
// encoded Limit: nothing in the architecture caps a 16-bit TSS descriptor's
// limit at tss16Size-1, so a 16-bit-typed descriptor with a limit at or past
// tss32Size-1 must still be read/written as a 16-bit TSS.
func TestTaskSwitchUses16BitLayoutRegardlessOfLargeLimit(t *testing.T) {
	p := pagingTestProcessor()
	p.Control.CR0 &^= CR0PG
	const gdtBase = 0x5000
	const outBase = 0x7000
	const inBase = 0x9000
	p.GDTR = TableRegister{Base: gdtBase, Limit: 0xFFFF}

	// Selector 0x10: a 16-bit available TSS descriptor (type 1) whose limit
	// is large enough to satisfy the 32-bit minimum too.
	p.writePhysRaw64(gdtBase+0x10, tss16DescriptorRaw(inBase, tss32Size-1, 0x1, true))
	p.writePhysRaw64(gdtBase+0x20, PackDescriptor(Descriptor{
		Kind: DescCode, Base: 0, Limit: 0xFFFFF, Present: true, DPL: 0, Readable: true, Granularity: true,
	}))
	p.writePhysRaw64(gdtBase+0x28, PackDescriptor(Descriptor{
		Kind: DescData, Base: 0, Limit: 0xFFFFF, Present: true, DPL: 0, Writable: true, Granularity: true,
	}))

	p.writePhysU16(inBase+tss16IP, 0x4321)
	p.writePhysU16(inBase+tss16FLAG, 0x0002)
	p.writePhysU16(inBase+tss16AX, 0xBEEF)
	p.writePhysU16(inBase+tss16CS, 0x20)
	p.writePhysU16(inBase+tss16SS, 0x28)
	p.writePhysU16(inBase+tss16DS, 0x28)
	p.writePhysU16(inBase+tss16ES, 0x28)
	p.writePhysU16(inBase+tss16LDT, 0)

	p.TR = CachedTableRegister{Selector: 0x08, Base: outBase, Limit: tss16Size - 1}
	p.Regs.RIP = 0x55

	if err := p.TaskSwitch(SwitchJmp, 0x10); err != nil {
		t.Fatalf("TaskSwitch: %v", err)
	}
	if got := p.Regs.RIP; got != 0x4321 {
		t.Errorf("RIP = %#x, want 0x4321 (read via the 16-bit tss16IP offset)", got)
	}
	if got := p.Regs.GPR16(RegRAX); got != 0xBEEF {
		t.Errorf("AX = %#x, want 0xBEEF (read via the 16-bit tss16AX offset)", got)
	}
	// Misclassifying this as a 32-bit TSS would have read EIP/EAX from the
	// tss32EIP/tss32EAX offsets instead, which overlap tss16FLAG/tss16CX/
	// tss16DX here and would not produce 0x4321/0xBEEF.
	if got := p.readPhysU16(outBase + tss16IP); got != 0x55 {
		t.Errorf("outgoing TSS saved IP = %#x, want 0x55 (written via the 16-bit tss16IP offset)", got)
	}
}

func TestTaskSwitchToBusyTSSFaults(t *testing.T) {
	p := pagingTestProcessor()
	p.Control.CR0 &^= CR0PG
	const gdtBase = 0x5000
	p.GDTR = TableRegister{Base: gdtBase, Limit: 0xFFFF}
	// Selector 0x10: a 16-bit TSS already marked busy (type 3).
	p.writePhysRaw64(gdtBase+0x10, tss16DescriptorRaw(0x9000, tss16Size-1, 0x3, true))

	if err := p.TaskSwitch(SwitchJmp, 0x10); err == nil {
		t.Fatal("expected a fault switching (via JMP) to an already-busy TSS")
	}
}

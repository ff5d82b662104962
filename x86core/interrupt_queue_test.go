package x86core

import "testing"

func TestDispatchRealModeVectorPushesFrame(t *testing.T) {
	e, p := stackTestProcessor()
	p.Regs.SetFlag(FlagIF, true)
	p.Segs[SegCS] = realModeSegment(0x1000)
	p.Regs.SetIPView(Width16, 0x50)
	// IVT[0x21] -> 0x2000:0x0300.
	p.IO.WritePhys(0x21*4, 4, (0x2000<<16)|0x0300)

	if err := e.raiseInterrupt(0x21, false, 0); err != nil {
		t.Fatalf("raiseInterrupt: %v", err)
	}
	if got := p.Regs.IPView(Width16); got != 0x0300 {
		t.Errorf("IP = %#x, want 0x300", got)
	}
	if p.Segs[SegCS].Selector != 0x2000 {
		t.Errorf("CS = %#x, want 0x2000", p.Segs[SegCS].Selector)
	}
	if p.Regs.GetFlag(FlagIF) {
		t.Error("expected IF cleared by interrupt entry")
	}

	retIP, err := p.Pop()
	if err != nil {
		t.Fatalf("Pop IP: %v", err)
	}
	if retIP != 0x50 {
		t.Errorf("pushed return IP = %#x, want 0x50", retIP)
	}
	retCS, err := p.Pop()
	if err != nil {
		t.Fatalf("Pop CS: %v", err)
	}
	if retCS != 0x1000 {
		t.Errorf("pushed return CS = %#x, want 0x1000", retCS)
	}
}

func TestQueueHardwareInterruptDeliveredOnStepWithIFSet(t *testing.T) {
	p := newTestProcessor(0x40000)
	e := NewEmulator(p)
	p.ResetAt(0, 0)
	p.Regs.Write(RegRSP, Width16, 0x2000)
	p.Regs.SetFlag(FlagIF, true)
	p.IO.WritePhys(0x20*4, 4, (0x3000<<16)|0x0400)
	p.IO.WritePhys(0x3000*16+0x0400, 1, 0xF4) // HLT at the handler entry
	if err := p.LoadFlatImageBytes([]byte{0x90}, 0); err != nil { // NOP, never reached
		t.Fatalf("LoadFlatImageBytes: %v", err)
	}

	e.QueueHardwareInterrupt(0x20)
	if err := e.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if !e.Halted() {
		t.Error("expected the queued IRQ's handler (a HLT) to run within the same Step")
	}
	if p.Segs[SegCS].Selector != 0x3000 {
		t.Errorf("CS = %#x, want 0x3000 (the queued IRQ was serviced ahead of the NOP)", p.Segs[SegCS].Selector)
	}
}

func TestDeliverFaultEscalatesToTripleFaultWhenIDTUnusable(t *testing.T) {
	p := pagingTestProcessor()
	p.Control.CR0 &^= CR0PG // paging off, isolate the IDT-limit behavior
	p.GDTR = TableRegister{Base: 0x5000, Limit: 0xFFFF}
	p.IDTR = TableRegister{Base: 0x6000, Limit: 0} // any vector exceeds this limit
	e := NewEmulator(p)

	err := e.deliverFault(gpFault(0, "synthetic fault"))
	if err == nil {
		t.Fatal("expected a triple-fault error")
	}
	if !e.Halted() {
		t.Error("expected the emulator to be halted after a triple fault")
	}
}

func TestDispatchVectorProtectedModeInterruptGate(t *testing.T) {
	p := pagingTestProcessor()
	p.Control.CR0 &^= CR0PG
	p.GDTR = TableRegister{Base: 0x5000, Limit: 0xFFFF}
	p.IDTR = TableRegister{Base: 0x6000, Limit: 0x7FF} // room for 256 8-byte gates

	codeDesc := PackDescriptor(Descriptor{
		Kind: DescCode, Base: 0, Limit: 0xFFFFF, Present: true,
		DPL: 0, Readable: true, Granularity: true, Big: true,
	})
	p.writePhysRaw64(0x5000+8, codeDesc) // selector 0x08

	const vector = 0x30
	const offset = 0x1234
	const typ = 0xE // 32-bit interrupt gate
	gateRaw := uint64(offset&0xFFFF) | uint64(0x08)<<16 | uint64(typ)<<40 | uint64(1)<<47
	p.writePhysRaw64(0x6000+vector*8, gateRaw)

	p.Segs[SegCS] = Segment{Selector: 0x08, Cache: SegmentCache{Base: 0, Limit: 0xFFFFFFFF, S: true, DPL: 0, Present: true, DefaultBig: true}}
	p.Segs[SegSS] = realModeSegment(0)
	p.Regs.Write(RegRSP, Width32, 0x8000)
	p.Regs.SetIPView(Width32, 0x500)
	p.Regs.SetFlag(FlagIF, true)

	e := NewEmulator(p)
	if err := e.raiseInterrupt(vector, false, 0); err != nil {
		t.Fatalf("raiseInterrupt: %v", err)
	}
	if got := p.Regs.IPView(Width32); got != offset {
		t.Errorf("IP = %#x, want %#x (interrupt gate target)", got, offset)
	}
	if p.Regs.GetFlag(FlagIF) {
		t.Error("expected IF cleared by an interrupt gate (not a trap gate)")
	}
}

// desc_tables.go - GDT/IDT/LDT/TR management and task switch
//
// New code implementing spec §4.4's descriptor-table and task-switch rules.
// The TSS field layout follows the Intel SDM 32-bit TSS shape; offsets are
// named constants in the style of the teacher's X86_PORT_*/X86_BANK*
// register-address constants in cpu_x86_runner.go.

package x86core

// 32-bit TSS field byte offsets (Intel SDM 7-4).
const (
	tss32Link   = 0x00
	tss32ESP0   = 0x04
	tss32SS0    = 0x08
	tss32ESP1   = 0x0C
	tss32SS1    = 0x10
	tss32ESP2   = 0x14
	tss32SS2    = 0x18
	tss32CR3    = 0x1C
	tss32EIP    = 0x20
	tss32EFLAGS = 0x24
	tss32EAX    = 0x28
	tss32ECX    = 0x2C
	tss32EDX    = 0x30
	tss32EBX    = 0x34
	tss32ESP    = 0x38
	tss32EBP    = 0x3C
	tss32ESI    = 0x40
	tss32EDI    = 0x44
	tss32ES     = 0x48
	tss32CS     = 0x4C
	tss32SS     = 0x50
	tss32DS     = 0x54
	tss32FS     = 0x58
	tss32GS     = 0x5C
	tss32LDT    = 0x60
	tss32Size   = 0x68
)

// 16-bit TSS field byte offsets (Intel SDM, legacy layout).
const (
	tss16Link = 0x00
	tss16SP0  = 0x02
	tss16SS0  = 0x04
	tss16SP1  = 0x06
	tss16SS1  = 0x08
	tss16SP2  = 0x0A
	tss16SS2  = 0x0C
	tss16IP   = 0x0E
	tss16FLAG = 0x10
	tss16AX   = 0x12
	tss16CX   = 0x14
	tss16DX   = 0x16
	tss16BX   = 0x18
	tss16SP   = 0x1A
	tss16BP   = 0x1C
	tss16SI   = 0x1E
	tss16DI   = 0x20
	tss16ES   = 0x22
	tss16CS   = 0x24
	tss16SS   = 0x26
	tss16DS   = 0x28
	tss16LDT  = 0x2A
	tss16Size = 0x2C
)

// LoadGDTR installs the GDT base and limit (LGDT).
func (p *Processor) LoadGDTR(base uint64, limit uint32) { p.GDTR = TableRegister{Base: base, Limit: limit} }

// LoadIDTR installs the IDT base and limit (LIDT).
func (p *Processor) LoadIDTR(base uint64, limit uint32) { p.IDTR = TableRegister{Base: base, Limit: limit} }

// LoadLDTR loads the LDTR from a GDT selector (LLDT). Requires CPL=0 and a
// present LDT descriptor in the GDT, per spec §4.4.
func (p *Processor) LoadLDTR(sel uint16) error {
	if p.CPL() != 0 {
		return gpFault(sel, "LLDT requires CPL 0, have CPL %d", p.CPL())
	}
	if isNullSelector(sel) {
		p.LDTR = CachedTableRegister{Selector: sel}
		return nil
	}
	desc, err := p.descTableEntry(sel)
	if err != nil {
		return err
	}
	if desc.Kind != DescLDT {
		return gpFault(sel, "LLDT selector does not reference an LDT descriptor")
	}
	if !desc.Present {
		return npFault(sel, "LDT not present")
	}
	p.LDTR = CachedTableRegister{Selector: sel, Base: desc.Base, Limit: uint32(desc.EffectiveLimit())}
	return nil
}

// LoadTR loads the task register from a GDT selector (LTR), marking the
// target TSS busy, per spec §4.4.
func (p *Processor) LoadTR(sel uint16) error {
	desc, err := p.descTableEntry(sel)
	if err != nil {
		return err
	}
	if desc.Kind != DescTSSAvailable {
		return gpFault(sel, "LTR selector does not reference an available TSS")
	}
	if !desc.Present {
		return npFault(sel, "TSS not present")
	}
	p.markTSSBusy(sel, true)
	p.TR = CachedTableRegister{Selector: sel, Base: desc.Base, Limit: uint32(desc.EffectiveLimit()), Big: desc.Big}
	return nil
}

// markTSSBusy flips the busy bit (Type bit 1, value 0x2 of the 4-bit Type
// nibble: 0x9 available <-> 0xB busy) of the TSS descriptor named by
// sel, directly in the GDT.
func (p *Processor) markTSSBusy(sel uint16, busy bool) {
	idx := selectorIndex(sel)
	addr := p.GDTR.Base + uint64(idx)*8
	raw := p.readPhysRaw64(addr)
	typ := (raw >> 40) & 0xF
	if busy {
		typ |= 0x2
	} else {
		typ &^= 0x2
	}
	raw = (raw &^ (0xF << 40)) | (typ << 40)
	p.writePhysRaw64(addr, raw)
}

// TaskSwitchKind names the three flavors spec §4.4 distinguishes.
type TaskSwitchKind int

const (
	SwitchJmp TaskSwitchKind = iota
	SwitchCallInt
	SwitchIret
)

// TaskSwitch performs a task switch to newSel, implementing the eight-step
// sequence of spec §4.4. 64-bit TSS layouts are not implemented (spec §9
// Open Question): switching to or from a long-mode TSS returns a
// not-implemented EmulatorError rather than silently corrupting state.
func (p *Processor) TaskSwitch(kind TaskSwitchKind, newSel uint16) error {
	newDesc, err := p.descTableEntry(newSel)
	if err != nil {
		return err
	}

	switch kind {
	case SwitchJmp, SwitchCallInt:
		if newDesc.Kind == DescTSSBusy {
			return gpFault(newSel, "task switch to a busy TSS")
		}
	case SwitchIret:
		if newDesc.Kind != DescTSSBusy {
			return tsFault(newSel, "IRET task return target is not busy")
		}
	}
	if newDesc.Kind != DescTSSAvailable && newDesc.Kind != DescTSSBusy {
		return gpFault(newSel, "task switch target is not a TSS")
	}

	// Step 1: descriptor must be present.
	if !newDesc.Present {
		return npFault(newSel, "incoming TSS not present")
	}

	// Step 2: IRET clears NT before anything else observes it.
	if kind == SwitchIret {
		p.Regs.SetFlag(FlagNT, false)
	}

	if p.Control.Mode() == ModeLong || newDesc.Long {
		return notImplemented("Processor.TaskSwitch: 64-bit TSS layout")
	}

	oldSel := p.TR.Selector
	// The 16- vs 32-bit TSS layout is selected by the descriptor's own D/Type
	// bit (original_source's TSSDesc.D), never by the encoded Limit: nothing
	// in the architecture caps a 16-bit TSS's limit at tss16Size-1, so a
	// limit-size compare can misclassify a legitimately large 16-bit TSS as
	// 32-bit. p.TR.Big/newDesc.Big carry that bit through from LoadTR/
	// UnpackDescriptor.
	use32 := p.TR.Big

	// Step 3: save outgoing state into the outgoing TSS.
	if oldSel != 0 {
		p.saveTaskState(use32)
	}

	// Step 4: load incoming TSS into registers (including CR3 for 32-bit TSS).
	incomingUse32 := newDesc.Big
	minSize := uint64(tss16Size - 1)
	if incomingUse32 {
		minSize = tss32Size - 1
	}
	if newDesc.EffectiveLimit() < minSize {
		return tsFault(newSel, "incoming TSS limit too small for its descriptor layout")
	}
	p.loadTaskState(newDesc.Base, incomingUse32)

	// Step 5: reload segment registers/LDTR through the ordinary load path.
	// loadTaskState already stashed selectors in p.Segs[*].Selector and
	// p.LDTR.Selector; re-run them through LoadSegment/LoadLDTR now that
	// CR3/GPRs are in place so privilege checks see the new task's CPL.
	newCPL := selectorRPL(p.Segs[SegCS].Selector)
	ldtSel := p.LDTR.Selector
	segSels := [7]uint16{p.Segs[SegES].Selector, p.Segs[SegCS].Selector, p.Segs[SegSS].Selector,
		p.Segs[SegDS].Selector, p.Segs[SegFS].Selector, p.Segs[SegGS].Selector, p.Segs[SegKernelGS].Selector}

	if err := p.LoadLDTR(ldtSel); err != nil {
		return err
	}
	for _, seg := range []SegIndex{SegCS, SegSS, SegDS, SegES, SegFS, SegGS} {
		if err := p.LoadSegment(seg, segSels[seg], newCPL); err != nil {
			return err
		}
	}

	// Step 6: CallInt records the outgoing task and sets NT.
	if kind == SwitchCallInt {
		p.writeTaskPrevLink(newDesc.Base, incomingUse32, oldSel)
		p.Regs.SetFlag(FlagNT, true)
	}

	// Step 7: update busy bits.
	switch kind {
	case SwitchJmp:
		if oldSel != 0 {
			p.markTSSBusy(oldSel, false)
		}
		p.markTSSBusy(newSel, true)
	case SwitchCallInt:
		p.markTSSBusy(newSel, true)
	case SwitchIret:
		p.markTSSBusy(oldSel, false)
	}

	// Step 8: TR and CR0.TS.
	p.TR = CachedTableRegister{Selector: newSel, Base: newDesc.Base, Limit: uint32(newDesc.EffectiveLimit()), Big: newDesc.Big}
	p.Control.CR0 |= CR0TS
	return nil
}

func (p *Processor) saveTaskState(use32 bool) {
	base := p.TR.Base
	r := &p.Regs
	if use32 {
		p.writePhysU32(base+tss32EIP, uint32(r.RIP))
		p.writePhysU32(base+tss32EFLAGS, uint32(r.Flags))
		p.writePhysU32(base+tss32EAX, r.GPR32(RegRAX))
		p.writePhysU32(base+tss32ECX, r.GPR32(RegRCX))
		p.writePhysU32(base+tss32EDX, r.GPR32(RegRDX))
		p.writePhysU32(base+tss32EBX, r.GPR32(RegRBX))
		p.writePhysU32(base+tss32ESP, r.GPR32(RegRSP))
		p.writePhysU32(base+tss32EBP, r.GPR32(RegRBP))
		p.writePhysU32(base+tss32ESI, r.GPR32(RegRSI))
		p.writePhysU32(base+tss32EDI, r.GPR32(RegRDI))
		p.writePhysU16(base+tss32ES, p.Segs[SegES].Selector)
		p.writePhysU16(base+tss32CS, p.Segs[SegCS].Selector)
		p.writePhysU16(base+tss32SS, p.Segs[SegSS].Selector)
		p.writePhysU16(base+tss32DS, p.Segs[SegDS].Selector)
		p.writePhysU16(base+tss32FS, p.Segs[SegFS].Selector)
		p.writePhysU16(base+tss32GS, p.Segs[SegGS].Selector)
		p.writePhysU16(base+tss32LDT, p.LDTR.Selector)
		return
	}
	p.writePhysU16(base+tss16IP, uint16(r.RIP))
	p.writePhysU16(base+tss16FLAG, uint16(r.Flags))
	p.writePhysU16(base+tss16AX, r.GPR16(RegRAX))
	p.writePhysU16(base+tss16CX, r.GPR16(RegRCX))
	p.writePhysU16(base+tss16DX, r.GPR16(RegRDX))
	p.writePhysU16(base+tss16BX, r.GPR16(RegRBX))
	p.writePhysU16(base+tss16SP, r.GPR16(RegRSP))
	p.writePhysU16(base+tss16BP, r.GPR16(RegRBP))
	p.writePhysU16(base+tss16SI, r.GPR16(RegRSI))
	p.writePhysU16(base+tss16DI, r.GPR16(RegRDI))
	p.writePhysU16(base+tss16ES, p.Segs[SegES].Selector)
	p.writePhysU16(base+tss16CS, p.Segs[SegCS].Selector)
	p.writePhysU16(base+tss16SS, p.Segs[SegSS].Selector)
	p.writePhysU16(base+tss16DS, p.Segs[SegDS].Selector)
	p.writePhysU16(base+tss16LDT, p.LDTR.Selector)
}

func (p *Processor) loadTaskState(base uint64, use32 bool) {
	r := &p.Regs
	if use32 {
		p.WriteCR3(uint64(p.readPhysU32(base + tss32CR3)))
		r.RIP = uint64(p.readPhysU32(base + tss32EIP))
		r.Flags = uint64(p.readPhysU32(base + tss32EFLAGS))
		r.SetGPR32(RegRAX, p.readPhysU32(base+tss32EAX))
		r.SetGPR32(RegRCX, p.readPhysU32(base+tss32ECX))
		r.SetGPR32(RegRDX, p.readPhysU32(base+tss32EDX))
		r.SetGPR32(RegRBX, p.readPhysU32(base+tss32EBX))
		r.SetGPR32(RegRSP, p.readPhysU32(base+tss32ESP))
		r.SetGPR32(RegRBP, p.readPhysU32(base+tss32EBP))
		r.SetGPR32(RegRSI, p.readPhysU32(base+tss32ESI))
		r.SetGPR32(RegRDI, p.readPhysU32(base+tss32EDI))
		p.Segs[SegES].Selector = p.readPhysU16(base + tss32ES)
		p.Segs[SegCS].Selector = p.readPhysU16(base + tss32CS)
		p.Segs[SegSS].Selector = p.readPhysU16(base + tss32SS)
		p.Segs[SegDS].Selector = p.readPhysU16(base + tss32DS)
		p.Segs[SegFS].Selector = p.readPhysU16(base + tss32FS)
		p.Segs[SegGS].Selector = p.readPhysU16(base + tss32GS)
		p.LDTR.Selector = p.readPhysU16(base + tss32LDT)
		return
	}
	r.RIP = uint64(p.readPhysU16(base + tss16IP))
	r.Flags = uint64(p.readPhysU16(base + tss16FLAG))
	r.SetGPR16(RegRAX, p.readPhysU16(base+tss16AX))
	r.SetGPR16(RegRCX, p.readPhysU16(base+tss16CX))
	r.SetGPR16(RegRDX, p.readPhysU16(base+tss16DX))
	r.SetGPR16(RegRBX, p.readPhysU16(base+tss16BX))
	r.SetGPR16(RegRSP, p.readPhysU16(base+tss16SP))
	r.SetGPR16(RegRBP, p.readPhysU16(base+tss16BP))
	r.SetGPR16(RegRSI, p.readPhysU16(base+tss16SI))
	r.SetGPR16(RegRDI, p.readPhysU16(base+tss16DI))
	p.Segs[SegES].Selector = p.readPhysU16(base + tss16ES)
	p.Segs[SegCS].Selector = p.readPhysU16(base + tss16CS)
	p.Segs[SegSS].Selector = p.readPhysU16(base + tss16SS)
	p.Segs[SegDS].Selector = p.readPhysU16(base + tss16DS)
	p.LDTR.Selector = p.readPhysU16(base + tss16LDT)
}

func (p *Processor) writeTaskPrevLink(base uint64, use32 bool, prevSel uint16) {
	if use32 {
		p.writePhysU16(base+tss32Link, prevSel)
		return
	}
	p.writePhysU16(base+tss16Link, prevSel)
}

func (p *Processor) readPhysU32(addr uint64) uint32 { return uint32(p.IO.ReadPhys(addr, 4)) }
func (p *Processor) writePhysU32(addr uint64, v uint32) { p.IO.WritePhys(addr, 4, uint64(v)) }
func (p *Processor) readPhysU16(addr uint64) uint16 { return uint16(p.IO.ReadPhys(addr, 2)) }
func (p *Processor) writePhysU16(addr uint64, v uint16) { p.IO.WritePhys(addr, 2, uint64(v)) }

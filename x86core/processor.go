// processor.go - the aggregate CPU state spec §3 describes
//
// Processor gathers the register file, segment/table registers, control
// state and I/O dispatcher into the one struct the rest of the package's
// methods hang off. The teacher keeps the equivalent aggregate as CPU_X86 in
// cpu_x86.go; Processor generalises it from four 32-bit GPRs and six flat
// segments to the full register/segmentation/paging model spec §3 requires.

package x86core

// Processor is the complete architectural state of one CPU: registers,
// segment caches, descriptor-table registers, control registers and MSRs,
// plus the TLB and the I/O dispatcher it talks to memory and devices
// through. It is not safe for concurrent use by more than one goroutine
// (spec §5: "single-threaded cooperative"); devices reach it only through
// IODispatcher's RW-locked memory store.
type Processor struct {
	Regs RegisterFile
	Segs [7]Segment

	GDTR TableRegister
	IDTR TableRegister
	LDTR CachedTableRegister
	TR   CachedTableRegister

	Control *ControlState
	TLB     *TLB

	IO *IODispatcher

	a20Enabled bool
}

// NewProcessor constructs a Processor wired to the given I/O dispatcher, in
// the power-on state spec §3 Lifecycle describes: RIP at the reset vector,
// real-mode segment caches synthesized from selector 0xF000/0x0000, an empty
// TLB and A20 enabled.
func NewProcessor(io *IODispatcher) *Processor {
	p := &Processor{
		Control:    newControlState(),
		TLB:        newTLB(),
		IO:         io,
		a20Enabled: true,
	}
	p.Regs.RIP = 0xFFF0
	p.Segs[SegCS] = Segment{Selector: 0xF000, Cache: SegmentCache{Base: 0xFFFF0000, Limit: 0xFFFF, S: true, Present: true}}
	for _, s := range []SegIndex{SegES, SegSS, SegDS, SegFS, SegGS, SegKernelGS} {
		p.Segs[s] = realModeSegment(0)
	}
	return p
}

// CPL returns the current privilege level, which by spec §3 invariant (iii)
// always equals CS.RPL.
func (p *Processor) CPL() byte {
	if p.Control.Mode() == ModeReal {
		return 0
	}
	return selectorRPL(p.Segs[SegCS].Selector)
}

// SetA20 enables or disables the A20 gate (spec §4.5).
func (p *Processor) SetA20(enabled bool) { p.a20Enabled = enabled }

// maskA20 forces bit 20 of a physical address to zero when the A20 gate is
// disabled, spec §4.5.
func (p *Processor) maskA20(phys uint64) uint64 {
	if p.a20Enabled {
		return phys
	}
	return phys &^ (1 << 20)
}

// FlushTLB empties every TLB submap; called on a CR3 write or a mode
// switch, spec §3 invariant (iv) and §4.5.
func (p *Processor) FlushTLB() { p.TLB.flushAll() }

// WriteCR3 installs a new page-directory base and flushes the TLB, per spec
// §3 invariant (iv): "any write to CR3 flushes the TLB entirely."
func (p *Processor) WriteCR3(v uint64) {
	p.Control.CR3 = v
	p.FlushTLB()
}

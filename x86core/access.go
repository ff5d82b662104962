// access.go - virtual -> linear -> physical translation for data, code and stack
//
// New code implementing spec §4.6. Grounded in shape on the teacher's
// fetch8/read8/write8 family in cpu_x86.go, generalised from a flat 25-bit
// address space to the full segment-base + paging pipeline.

package x86core

// limitCheck enforces a segment's effective limit on a data access, raising
// #GP (or #SS for the stack segment) when the offset plus width escapes it.
// Real mode and long-mode flat segments have an effectively unbounded limit
// (0xFFFFFFFF/0xFFFF already cover any offset this core generates), so the
// check only bites in protected-mode non-flat segments.
func (p *Processor) limitCheck(seg SegIndex, offset uint64, width int) error {
	if m := p.Control.Mode(); m == ModeReal || m == ModeLong {
		return nil
	}
	cache := p.Segs[seg].Cache
	limit := uint64(cache.Limit)
	if cache.Granularity {
		limit = uint64(cache.Limit)<<12 | 0xFFF
	}
	if offset+uint64(width)-1 > limit {
		if seg == SegSS {
			return ssFault(p.Segs[seg].Selector, "stack access past segment limit")
		}
		return gpFault(p.Segs[seg].Selector, "data access past segment limit")
	}
	return nil
}

func (p *Processor) addrSize() Width {
	if p.Control.Mode() == ModeLong {
		return Width64
	}
	if p.Segs[SegCS].Cache.DefaultBig {
		return Width32
	}
	return Width16
}

// linearAddress computes segment-base + offset, per spec §4.6.
func (p *Processor) linearAddress(seg SegIndex, offset uint64) uint64 {
	return p.SegmentBase(seg, p.addrSize()) + offset
}

// translateForAccess resolves (seg, offset) through segmentation then
// paging down to a physical address, for the given access mode.
func (p *Processor) translateForAccess(seg SegIndex, offset uint64, width int, mode AccessMode) (uint64, error) {
	if err := p.limitCheck(seg, offset, width); err != nil {
		return 0, err
	}
	laddr := p.linearAddress(seg, offset)
	return p.Translate(laddr, mode, p.CPL() == 3)
}

// ReadData reads a width-bit value (8/16/32/64) from (seg, offset).
func (p *Processor) ReadData(seg SegIndex, offset uint64, width int) (uint64, error) {
	phys, err := p.translateForAccess(seg, offset, width, AccessRead)
	if err != nil {
		return 0, err
	}
	return p.IO.ReadPhys(phys, width), nil
}

// WriteData writes a width-bit value to (seg, offset).
func (p *Processor) WriteData(seg SegIndex, offset uint64, width int, value uint64) error {
	phys, err := p.translateForAccess(seg, offset, width, AccessWrite)
	if err != nil {
		return err
	}
	p.IO.WritePhys(phys, width, value)
	return nil
}

// FetchCode reads width bytes of instruction bytes at CS:offset, using the
// Exec access mode (spec §4.6).
func (p *Processor) FetchCode(offset uint64, width int) (uint64, error) {
	phys, err := p.translateForAccess(SegCS, offset, width, AccessExec)
	if err != nil {
		return 0, err
	}
	return p.IO.ReadPhys(phys, width), nil
}

// stackWidth returns the push/pop width dictated by SS.B and the current
// mode (spec §4.6): 64-bit in long mode, 32-bit if SS.B is set, else 16-bit.
func (p *Processor) stackWidth() int {
	if p.Control.Mode() == ModeLong {
		return 8
	}
	if p.Segs[SegSS].Cache.DefaultBig {
		return 4
	}
	return 2
}

func (p *Processor) stackPointerWidth() Width {
	switch p.stackWidth() {
	case 8:
		return Width64
	case 4:
		return Width32
	default:
		return Width16
	}
}

// Push decrements the stack pointer by the stack width and writes value at
// SS:SP, per spec §4.6.
func (p *Processor) Push(value uint64) error {
	w := p.stackWidth()
	sp := (p.Regs.Read(RegRSP, p.stackPointerWidth()) - uint64(w)) & mask(p.stackPointerWidth())
	if err := p.WriteData(SegSS, sp, w, value); err != nil {
		return err
	}
	p.Regs.Write(RegRSP, p.stackPointerWidth(), sp)
	return nil
}

// Pop reads the stack-width value at SS:SP and advances the stack pointer.
func (p *Processor) Pop() (uint64, error) {
	w := p.stackWidth()
	sp := p.Regs.Read(RegRSP, p.stackPointerWidth())
	v, err := p.ReadData(SegSS, sp, w)
	if err != nil {
		return 0, err
	}
	p.Regs.Write(RegRSP, p.stackPointerWidth(), sp+uint64(w))
	return v, nil
}

// ReadLinear reads width bytes at a raw linear address (bypassing
// segmentation but not paging), used by descriptor/TSS manipulation that
// already has a linear address in hand, spec §4.6.
func (p *Processor) ReadLinear(laddr uint64, width int) (uint64, error) {
	phys, err := p.Translate(laddr, AccessRead, p.CPL() == 3)
	if err != nil {
		return 0, err
	}
	return p.IO.ReadPhys(phys, width), nil
}

// WriteLinear writes width bytes at a raw linear address.
func (p *Processor) WriteLinear(laddr uint64, width int, value uint64) error {
	phys, err := p.Translate(laddr, AccessWrite, p.CPL() == 3)
	if err != nil {
		return err
	}
	p.IO.WritePhys(phys, width, value)
	return nil
}

// ReadPhysical and WritePhysical expose the raw physical bus directly, used
// by descriptor-table and TSS manipulation (GDT/IDT/LDT/TSS bases are
// physical addresses, spec §4.6).
func (p *Processor) ReadPhysical(addr uint64, width int) uint64 { return p.IO.ReadPhys(addr, width) }
func (p *Processor) WritePhysical(addr uint64, width int, value uint64) {
	p.IO.WritePhys(addr, width, value)
}

// paging.go - multi-level page walk
//
// New code (the teacher's flat model has no MMU) implementing spec §4.5's
// walk algorithm across the five paging layouts. Entry-field bit layout
// follows the Intel SDM's common P/RW/US/PWT/PCD/A/D/PS/G/XD shape spec §3
// "Paging structures" describes.

package x86core

// PagingMode names the current layout selection, spec §4.5.
type PagingMode int

const (
	PagingOff PagingMode = iota
	PagingLegacy32
	PagingPAE
	PagingLong4
	PagingLong5
)

// CurrentPagingMode derives the active paging layout from CR0.PG, CR4.PAE
// and CR4.LA57, spec §4.5 "Layout selection".
func (p *Processor) CurrentPagingMode() PagingMode {
	if !p.Control.PagingEnabled() {
		return PagingOff
	}
	if p.Control.Mode() == ModeLong {
		if p.Control.CR4&CR4LA57 != 0 {
			return PagingLong5
		}
		return PagingLong4
	}
	if p.Control.CR4&CR4PAE != 0 {
		return PagingPAE
	}
	return PagingLegacy32
}

// PageEntry is the subset of a page-table-entry's bits the walk and the TLB
// need: P/RW/US/PWT/PCD/A/D/PS/G/XD plus the physical page base, spec §3.
type PageEntry struct {
	Present  bool
	Writable bool
	User     bool
	PWT      bool
	PCD      bool
	Accessed bool
	Dirty    bool
	PS       bool
	Global   bool
	NX       bool
	PageBase uint64
}

func unpackEntry(raw uint64) PageEntry {
	return PageEntry{
		Present:  raw&1 != 0,
		Writable: raw&(1<<1) != 0,
		User:     raw&(1<<2) != 0,
		PWT:      raw&(1<<3) != 0,
		PCD:      raw&(1<<4) != 0,
		Accessed: raw&(1<<5) != 0,
		Dirty:    raw&(1<<6) != 0,
		PS:       raw&(1<<7) != 0,
		Global:   raw&(1<<8) != 0,
		NX:       raw&(1<<63) != 0,
		PageBase: raw &^ 0xFFF &^ (1 << 63) &^ (0x1FF << 52), // strip flag bits and reserved high bits
	}
}

// AccessMode names the kind of access a translation is performed for, used
// to decide write-protect and user/supervisor faults.
type AccessMode int

const (
	AccessRead AccessMode = iota
	AccessWrite
	AccessExec
)

// indices is the per-level table index set (plus page offset) a linear
// address decomposes into; levels a paging mode does not use stay zero.
type indices struct {
	pml5, pml4, pdpt, pd, pt int
	offset                   uint64
}

func decomposeLong(laddr uint64) indices {
	return indices{
		pml5:   int((laddr >> 48) & 0x1FF),
		pml4:   int((laddr >> 39) & 0x1FF),
		pdpt:   int((laddr >> 30) & 0x1FF),
		pd:     int((laddr >> 21) & 0x1FF),
		pt:     int((laddr >> 12) & 0x1FF),
		offset: laddr & 0xFFF,
	}
}

func decomposePAE(laddr uint64) indices {
	return indices{
		pdpt:   int((laddr >> 30) & 0x3),
		pd:     int((laddr >> 21) & 0x1FF),
		pt:     int((laddr >> 12) & 0x1FF),
		offset: laddr & 0xFFF,
	}
}

func decomposeLegacy32(laddr uint64) indices {
	return indices{
		pd:     int((laddr >> 22) & 0x3FF),
		pt:     int((laddr >> 12) & 0x3FF),
		offset: laddr & 0xFFF,
	}
}

// checkCanonical validates spec §4.5's canonical-address rule for IA-32e
// modes: bits above the mode's virtual-address width must be a sign
// extension of the top used bit.
func checkCanonical(laddr uint64, mode PagingMode) error {
	width := 48
	if mode == PagingLong5 {
		width = 57
	}
	top := laddr >> (width - 1) & 1
	mask := ^uint64(0) << (width - 1)
	upper := laddr & mask
	want := uint64(0)
	if top == 1 {
		want = mask
	}
	if upper != want {
		return gpFault(0, "non-canonical linear address %#x", laddr)
	}
	return nil
}

// Translate walks the current paging structures for laddr and returns the
// physical address, per spec §4.5. A20 masking (spec §4.5) is applied to the
// result. If paging is disabled, the identity mapping (with A20 masking
// still applied) is returned.
func (p *Processor) Translate(laddr uint64, mode AccessMode, userMode bool) (uint64, error) {
	pm := p.CurrentPagingMode()
	if pm == PagingOff {
		return p.maskA20(laddr), nil
	}

	if pm == PagingLong4 || pm == PagingLong5 {
		if err := checkCanonical(laddr, pm); err != nil {
			return 0, err
		}
	}

	if cached, ok := p.TLB.lookup(laddr, pm); ok {
		if err := checkProtection(cached.PageEntry, mode, userMode); err != nil {
			return 0, err
		}
		return p.maskA20(cached.PageBase | (laddr & cached.pageOffsetMask())), nil
	}

	entry, pageSize, err := p.walk(laddr, pm, mode, userMode)
	if err != nil {
		return 0, err
	}
	if !entry.PCD {
		p.TLB.insert(laddr, pm, entry, pageSize)
	}
	phys := entry.PageBase | (laddr & (pageSize - 1))
	return p.maskA20(phys), nil
}

func checkProtection(e PageEntry, mode AccessMode, userMode bool) error {
	if mode == AccessWrite && !e.Writable {
		return pfFault(0, "write to read-only page")
	}
	if userMode && !e.User {
		return pfFault(0, "user-mode access to supervisor page")
	}
	if mode == AccessExec && e.NX {
		return pfFault(0, "instruction fetch from NX page")
	}
	return nil
}

// walk performs the level-by-level page table walk of spec §4.5, returning
// the final leaf entry and the page size it covers.
func (p *Processor) walk(laddr uint64, pm PagingMode, mode AccessMode, userMode bool) (PageEntry, uint64, error) {
	switch pm {
	case PagingLegacy32:
		return p.walkLegacy32(laddr, mode, userMode)
	case PagingPAE:
		return p.walkPAE(laddr, mode, userMode)
	default:
		return p.walkLong(laddr, pm, mode, userMode)
	}
}

func (p *Processor) readEntry(tableBase uint64, index int, width int) uint64 {
	return p.IO.ReadPhys(tableBase+uint64(index)*uint64(width), width)
}

func (p *Processor) walkLegacy32(laddr uint64, mode AccessMode, userMode bool) (PageEntry, uint64, error) {
	idx := decomposeLegacy32(laddr)
	pdeRaw := p.readEntry(p.Control.CR3&^0xFFF, idx.pd, 4)
	pde := unpackEntry(pdeRaw)
	if !pde.Present {
		return PageEntry{}, 0, pfFault(laddr, "PDE not present")
	}
	if err := checkProtection(pde, mode, userMode); err != nil {
		return PageEntry{}, 0, err
	}
	if pde.PS && p.Control.CR4&CR4PSE != 0 {
		// 4MiB page: bits 31:22 of the PDE give physical bits 31:22; bits
		// 20:13 give the extended physical bits 39:32 (Intel SDM PSE split
		// base encoding).
		low := pdeRaw & 0xFFC00000
		ext := (pdeRaw >> 13) & 0xFF
		pde.PageBase = low | (ext << 32)
		return pde, 4 * 1024 * 1024, nil
	}

	pteRaw := p.readEntry(pde.PageBase, idx.pt, 4)
	pte := unpackEntry(pteRaw)
	if !pte.Present {
		return PageEntry{}, 0, pfFault(laddr, "PTE not present")
	}
	if err := checkProtection(pte, mode, userMode); err != nil {
		return PageEntry{}, 0, err
	}
	return pte, 4096, nil
}

func (p *Processor) walkPAE(laddr uint64, mode AccessMode, userMode bool) (PageEntry, uint64, error) {
	idx := decomposePAE(laddr)
	pdpteRaw := p.readEntry(p.Control.CR3&^0x1F, idx.pdpt, 8)
	pdpte := unpackEntry(pdpteRaw)
	if !pdpte.Present {
		return PageEntry{}, 0, pfFault(laddr, "PDPTE not present")
	}

	pdeRaw := p.readEntry(pdpte.PageBase, idx.pd, 8)
	pde := unpackEntry(pdeRaw)
	if !pde.Present {
		return PageEntry{}, 0, pfFault(laddr, "PDE not present")
	}
	if err := checkProtection(pde, mode, userMode); err != nil {
		return PageEntry{}, 0, err
	}
	if pde.PS {
		return pde, 2 * 1024 * 1024, nil
	}

	pteRaw := p.readEntry(pde.PageBase, idx.pt, 8)
	pte := unpackEntry(pteRaw)
	if !pte.Present {
		return PageEntry{}, 0, pfFault(laddr, "PTE not present")
	}
	if err := checkProtection(pte, mode, userMode); err != nil {
		return PageEntry{}, 0, err
	}
	return pte, 4096, nil
}

func (p *Processor) walkLong(laddr uint64, pm PagingMode, mode AccessMode, userMode bool) (PageEntry, uint64, error) {
	idx := decomposeLong(laddr)
	base := p.Control.CR3 &^ 0xFFF

	if pm == PagingLong5 {
		pml5Raw := p.readEntry(base, idx.pml5, 8)
		pml5 := unpackEntry(pml5Raw)
		if !pml5.Present {
			return PageEntry{}, 0, pfFault(laddr, "PML5E not present")
		}
		base = pml5.PageBase
	}

	pml4Raw := p.readEntry(base, idx.pml4, 8)
	pml4 := unpackEntry(pml4Raw)
	if !pml4.Present {
		return PageEntry{}, 0, pfFault(laddr, "PML4E not present")
	}

	pdpteRaw := p.readEntry(pml4.PageBase, idx.pdpt, 8)
	pdpte := unpackEntry(pdpteRaw)
	if !pdpte.Present {
		return PageEntry{}, 0, pfFault(laddr, "PDPTE not present")
	}
	if err := checkProtection(pdpte, mode, userMode); err != nil {
		return PageEntry{}, 0, err
	}
	if pdpte.PS {
		return pdpte, 1 * 1024 * 1024 * 1024, nil
	}

	pdeRaw := p.readEntry(pdpte.PageBase, idx.pd, 8)
	pde := unpackEntry(pdeRaw)
	if !pde.Present {
		return PageEntry{}, 0, pfFault(laddr, "PDE not present")
	}
	if err := checkProtection(pde, mode, userMode); err != nil {
		return PageEntry{}, 0, err
	}
	if pde.PS {
		return pde, 2 * 1024 * 1024, nil
	}

	pteRaw := p.readEntry(pde.PageBase, idx.pt, 8)
	pte := unpackEntry(pteRaw)
	if !pte.Present {
		return PageEntry{}, 0, pfFault(laddr, "PTE not present")
	}
	if err := checkProtection(pte, mode, userMode); err != nil {
		return PageEntry{}, 0, err
	}
	return pte, 4096, nil
}

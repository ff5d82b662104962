// segmentation.go - selector loads, descriptor caches, privilege checks
//
// New code (the teacher has no protected-mode segmentation at all), written
// against the Processor type's access-layer raw-read hooks in the same
// bit-masking style as the teacher's ModR/M decode (cpu_x86.go), implementing
// spec §4.4's selector-load algorithm.

package x86core

// descTableEntry fetches the raw 8 (plus, in long mode, a second 8) bytes of
// the descriptor at sel's index from the GDT or the current LDT, range-
// checking the index against the table limit first (spec §4.4, §8 boundary
// behavior: "index equal to limit succeeds; index > limit raises #GP(sel)").
func (p *Processor) descTableEntry(sel uint16) (Descriptor, error) {
	idx := selectorIndex(sel)
	byteOff := uint64(idx) * 8

	var base uint64
	var limit uint32
	if selectorTI(sel) {
		base, limit = p.LDTR.Base, p.LDTR.Limit
	} else {
		base, limit = p.GDTR.Base, p.GDTR.Limit
	}

	if uint64(byteOff)+7 > uint64(limit) {
		return Descriptor{}, gpFault(sel, "selector index %d exceeds table limit %d", idx, limit)
	}

	lo := p.readPhysRaw64(base + byteOff)
	longMode := p.Control.Mode() == ModeLong
	var hi uint64
	kind := classifyType((lo>>44)&1 != 0, byte((lo>>40)&0xF), longMode)
	if longMode && (kind == DescCallGate || kind == DescInterruptGate || kind == DescTrapGate ||
		kind == DescTSSAvailable || kind == DescTSSBusy || kind == DescLDT) {
		hi = p.readPhysRaw64(base + byteOff + 8)
	}
	return UnpackDescriptor(lo, hi, longMode), nil
}

// readPhysRaw64 is a small helper used only by the descriptor/table-walking
// paths, which always address physical memory directly (GDT/IDT/LDT bases
// are physical addresses, not subject to segmentation or paging).
func (p *Processor) readPhysRaw64(addr uint64) uint64 {
	return p.IO.ReadPhys(addr, 8)
}

func (p *Processor) writePhysRaw64(addr uint64, v uint64) {
	p.IO.WritePhys(addr, 8, v)
}

// LoadSegmentMode selects which algorithm LoadSegment follows.
type segLoadKind int

const (
	loadData segLoadKind = iota
	loadCS
	loadSS
)

// LoadSegment implements spec §4.4's selector-load algorithm for the
// segment register identified by seg. cpl is the privilege level the load is
// performed at (current CPL, except during a far control transfer where the
// new CPL applies).
func (p *Processor) LoadSegment(seg SegIndex, sel uint16, cpl byte) error {
	kind := loadData
	switch seg {
	case SegCS:
		kind = loadCS
	case SegSS:
		kind = loadSS
	}

	if p.Control.Mode() == ModeReal {
		p.Segs[seg] = realModeSegment(sel)
		return nil
	}

	if isNullSelector(sel) {
		if kind == loadCS || kind == loadSS {
			return gpFault(sel, "null selector invalid for %s", segName(seg))
		}
		p.Segs[seg] = Segment{Selector: sel}
		return nil
	}

	desc, err := p.descTableEntry(sel)
	if err != nil {
		return err
	}

	switch kind {
	case loadCS:
		if desc.Kind != DescCode {
			return gpFault(sel, "CS selector does not reference a code descriptor")
		}
		if !desc.Present {
			return npFault(sel, "code segment not present")
		}
		if !desc.Conforming && desc.DPL != cpl {
			return gpFault(sel, "non-conforming CS DPL %d != CPL %d", desc.DPL, cpl)
		}
		if desc.Conforming && desc.DPL > cpl {
			return gpFault(sel, "conforming CS DPL %d above CPL %d", desc.DPL, cpl)
		}
	case loadSS:
		if desc.Kind != DescData || !desc.Writable {
			return gpFault(sel, "SS selector does not reference a writable data descriptor")
		}
		if desc.DPL != cpl || selectorRPL(sel) != cpl {
			return ssFault(sel, "SS DPL/RPL %d/%d != CPL %d", desc.DPL, selectorRPL(sel), cpl)
		}
		if !desc.Present {
			return ssFault(sel, "stack segment not present")
		}
	default:
		if desc.Kind != DescData && !(desc.Kind == DescCode && desc.Readable) {
			return gpFault(sel, "data segment selector does not reference a readable segment")
		}
		rpl := selectorRPL(sel)
		maxDPL := rpl
		if cpl > maxDPL {
			maxDPL = cpl
		}
		if desc.Kind == DescData && desc.DPL < maxDPL {
			// Non-conforming data is inaccessible below its own privilege
			// level: both CPL and the selector's RPL must be <= DPL.
			return gpFault(sel, "data segment DPL %d below max(CPL,RPL)=%d", desc.DPL, maxDPL)
		}
		if !desc.Present {
			return npFault(sel, "data segment not present")
		}
	}

	p.Segs[seg] = Segment{
		Selector: sel,
		Cache: SegmentCache{
			Base:        desc.Base,
			Limit:       uint32(desc.EffectiveLimit()),
			Type:        0,
			S:           true,
			DPL:         desc.DPL,
			Present:     desc.Present,
			Granularity: desc.Granularity,
			DefaultBig:  desc.Big,
			Long:        desc.Long,
			AVL:         desc.AVL,
		},
	}
	return nil
}

func segName(s SegIndex) string {
	switch s {
	case SegES:
		return "ES"
	case SegCS:
		return "CS"
	case SegSS:
		return "SS"
	case SegDS:
		return "DS"
	case SegFS:
		return "FS"
	case SegGS:
		return "GS"
	case SegKernelGS:
		return "KernelGS"
	default:
		return "?"
	}
}

// SegmentBase returns the base to use for linear-address computation from
// seg, applying spec §3 invariant (ii): in long mode with 64-bit operand/
// address size, the base is treated as zero except for FS and GS.
func (p *Processor) SegmentBase(seg SegIndex, addrSize Width) uint64 {
	if p.Control.Mode() == ModeLong && addrSize == Width64 && seg != SegFS && seg != SegGS {
		return 0
	}
	return p.Segs[seg].Cache.Base
}

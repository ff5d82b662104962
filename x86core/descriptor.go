// descriptor.go - 16-byte descriptor classification and bit layout
//
// Grounded on the teacher's bit-packed register helpers (cpu_x86.go's
// AL()/AH()-style masked accessors) generalised to the wider, variant-typed
// descriptor layout spec §3 "Descriptor types" calls for. Pack/Unpack are the
// supplement from SPEC_FULL.md §3.2 (original_source's descriptor.rs keeps
// these round-trippable so guest code that walks its own GDT sees back what
// it wrote).

package x86core

// DescKind classifies a 16-byte descriptor from its S bit and 4-bit Type
// field, spec §3.
type DescKind int

const (
	DescData DescKind = iota
	DescCode
	DescLDT
	DescTSSAvailable
	DescTSSBusy
	DescCallGate
	DescTaskGate
	DescInterruptGate
	DescTrapGate
	DescInvalid
)

// Descriptor is the decoded, variant-tagged form of a raw 8/16-byte GDT/LDT/
// IDT entry. Not every field is meaningful for every Kind; callers branch on
// Kind before reading kind-specific fields (Selector/Offset for gates,
// Base/Limit for segments).
type Descriptor struct {
	Kind DescKind

	// Segment (code/data) fields.
	Base        uint64
	Limit       uint32
	Accessed    bool
	Writable    bool // data: W bit; code: unused
	Readable    bool // code: R bit
	Conforming  bool // code only
	Big         bool // D/B bit; for a TSS descriptor, true selects the 32-bit field layout
	Granularity bool // G bit: limit scaled by 4KiB
	Long        bool // L bit: 64-bit code segment
	AVL         bool

	// System-descriptor / gate fields.
	Selector uint16
	Offset   uint64
	ParamCount byte // call gate only

	DPL     byte
	Present bool
}

// classifyType maps the S bit and 4-bit Type field to a DescKind, per the
// Intel SDM's descriptor-type table (spec §3).
func classifyType(s bool, typ byte, longMode bool) DescKind {
	if s {
		if typ&0x8 != 0 {
			return DescCode
		}
		return DescData
	}
	switch typ {
	case 0x2:
		return DescLDT
	case 0x9:
		return DescTSSAvailable // 32-bit/64-bit available TSS
	case 0x1:
		if !longMode {
			return DescTSSAvailable // 16-bit available TSS (16-bit layout; Big stays false)
		}
		return DescInvalid
	case 0xB:
		return DescTSSBusy
	case 0x3:
		if !longMode {
			return DescTSSBusy // 16-bit busy TSS
		}
		return DescInvalid
	case 0x4:
		return DescCallGate // 16-bit call gate
	case 0xC:
		return DescCallGate // 32-bit/64-bit call gate
	case 0x5:
		return DescTaskGate
	case 0x6:
		return DescInterruptGate // 16-bit
	case 0xE:
		return DescInterruptGate // 32-bit/64-bit
	case 0x7:
		return DescTrapGate // 16-bit
	case 0xF:
		return DescTrapGate // 32-bit/64-bit
	default:
		return DescInvalid
	}
}

// UnpackDescriptor decodes an 8-byte (legacy) descriptor. longMode selects
// whether system descriptors are interpreted with the 64-bit expanded (16
// byte, two-entry) layout; the second 8 bytes, when present, are passed in
// hi and fold into Base/Offset's upper bits.
func UnpackDescriptor(raw uint64, hi uint64, longMode bool) Descriptor {
	limitLow := raw & 0xFFFF
	baseLow := (raw >> 16) & 0xFFFFFF
	typ := byte((raw >> 40) & 0xF)
	s := (raw>>44)&1 != 0
	dpl := byte((raw >> 45) & 0x3)
	present := (raw>>47)&1 != 0
	limitHigh := (raw >> 48) & 0xF
	avl := (raw>>52)&1 != 0
	long := (raw>>53)&1 != 0
	big := (raw>>54)&1 != 0
	gran := (raw>>55)&1 != 0
	baseHigh := (raw >> 56) & 0xFF

	kind := classifyType(s, typ, false)
	d := Descriptor{
		Kind:        kind,
		Limit:       uint32(limitLow) | uint32(limitHigh)<<16,
		Base:        baseLow | baseHigh<<24,
		DPL:         dpl,
		Present:     present,
		AVL:         avl,
		Long:        long,
		Big:         big,
		Granularity: gran,
		Accessed:    typ&0x1 != 0,
	}

	if s {
		if kind == DescCode {
			d.Conforming = typ&0x4 != 0
			d.Readable = typ&0x2 != 0
		} else {
			d.Writable = typ&0x2 != 0
		}
		return d
	}

	// System descriptor: base/limit double as selector:offset for gates.
	selector := uint16(raw >> 16)
	offsetLow := uint16(raw)
	offsetHigh := uint16(raw >> 48)
	paramCount := byte(raw >> 32 & 0x1F)

	switch kind {
	case DescCallGate, DescInterruptGate, DescTrapGate:
		d.Selector = selector
		d.Offset = uint64(offsetLow) | uint64(offsetHigh)<<16
		d.ParamCount = paramCount
		if longMode && (kind == DescInterruptGate || kind == DescTrapGate || kind == DescCallGate) {
			d.Offset |= hi << 32
		}
	case DescTaskGate:
		d.Selector = selector
	case DescTSSAvailable, DescTSSBusy:
		// Base/Limit already decoded above as a regular segment shape.
		// For a TSS descriptor the raw bit 54 consumed into Big above is
		// the reserved/always-zero bit, not the layout selector: the Type
		// nibble's own top bit (0x9/0xB vs 0x1/0x3) is the descriptor's D
		// bit, matching original_source's TSSDesc.D at bit 43, and is the
		// only thing that says whether this is a 16- or 32-bit TSS. Use it
		// directly rather than the descriptor's encoded Limit, which the
		// architecture never constrains to match the chosen layout.
		d.Big = typ&0x8 != 0
		if longMode {
			d.Base |= hi << 32
		}
	case DescLDT:
		if longMode {
			d.Base |= hi << 32
		}
	}
	return d
}

// PackDescriptor is the inverse of UnpackDescriptor for the segment
// (code/data) shape, used when guest code or the TSS reload path needs to
// write a descriptor back out (SPEC_FULL.md §3.2). Only the legacy 8-byte
// segment-descriptor shape is supported; gate packing is not needed by any
// operation this core performs (gates are always read, never synthesized,
// by the emulated CPU).
func PackDescriptor(d Descriptor) uint64 {
	var raw uint64
	raw |= uint64(d.Limit & 0xFFFF)
	raw |= (d.Base & 0xFFFFFF) << 16
	typ := uint64(0)
	if d.Kind == DescCode {
		typ |= 0x8
		if d.Conforming {
			typ |= 0x4
		}
		if d.Readable {
			typ |= 0x2
		}
	} else {
		if d.Writable {
			typ |= 0x2
		}
	}
	if d.Accessed {
		typ |= 0x1
	}
	raw |= typ << 40
	raw |= 1 << 44 // S=1: segment descriptor
	raw |= uint64(d.DPL&0x3) << 45
	if d.Present {
		raw |= 1 << 47
	}
	raw |= uint64((d.Limit>>16)&0xF) << 48
	if d.AVL {
		raw |= 1 << 52
	}
	if d.Long {
		raw |= 1 << 53
	}
	if d.Big {
		raw |= 1 << 54
	}
	if d.Granularity {
		raw |= 1 << 55
	}
	raw |= ((d.Base >> 24) & 0xFF) << 56
	return raw
}

// EffectiveLimit returns Limit scaled to bytes when Granularity (the G bit)
// is set, matching the Intel SDM's "limit is in 4KiB page units" rule.
func (d Descriptor) EffectiveLimit() uint64 {
	if d.Granularity {
		return uint64(d.Limit)<<12 | 0xFFF
	}
	return uint64(d.Limit)
}

// segment_cache.go - segment registers, descriptor caches and table registers
//
// The teacher's flat model keeps segment registers as bare uint16 selectors
// with an implicit base of zero (cpu_x86.go's Reset comment: "For flat
// model, all segments effectively point to base 0"). Spec §3/§4.4 needs the
// full hidden descriptor cache per segment register plus the four
// descriptor-table registers, so this file generalises the teacher's plain
// selectors into a (selector, cache) pair synthesized either from a real-mode
// shift (spec §3 Lifecycle) or from a descriptor fetch (segmentation.go).

package x86core

// SegIndex names the seven segment register slots, spec §3.
type SegIndex int

const (
	SegES SegIndex = iota
	SegCS
	SegSS
	SegDS
	SegFS
	SegGS
	SegKernelGS
)

// SegmentCache is the hidden descriptor-cache half of a segment register:
// base, limit, type and attribute bits filled on selector load (spec §3).
type SegmentCache struct {
	Base       uint64
	Limit      uint32
	Type       byte // 4-bit descriptor Type field
	S          bool // 1 = code/data, 0 = system
	DPL        byte
	Present    bool
	Granularity bool // G bit: limit is in 4KiB pages
	DefaultBig bool  // D/B bit: 32-bit default operand/stack size
	Long       bool  // L bit: 64-bit code segment
	AVL        bool
}

// Segment pairs a 16-bit selector with its descriptor cache.
type Segment struct {
	Selector uint16
	Cache    SegmentCache
}

// selectorIndex returns the GDT/LDT index encoded in a selector (bits 15-3).
func selectorIndex(sel uint16) uint16 { return sel >> 3 }

// selectorTI reports whether the selector's table-indicator bit selects the
// LDT (true) rather than the GDT (false).
func selectorTI(sel uint16) bool { return sel&0x4 != 0 }

// selectorRPL returns the requested privilege level encoded in bits 1-0.
func selectorRPL(sel uint16) byte { return byte(sel & 0x3) }

// isNullSelector reports whether sel's index is zero, irrespective of TI/RPL
// (spec §3 invariant v).
func isNullSelector(sel uint16) bool { return selectorIndex(sel) == 0 }

// TableRegister is a plain (base, limit) pair: GDTR or IDTR.
type TableRegister struct {
	Base  uint64
	Limit uint32
}

// CachedTableRegister additionally caches the table it points to, for
// LDTR/TR (spec §4.4: "LDTR/TR additionally cache the table they point to").
type CachedTableRegister struct {
	Selector uint16
	Base     uint64
	Limit    uint32
	Big      bool // TR only: the TSS descriptor's D bit, selects the 32-bit field layout
}

// realModeSegment synthesizes the descriptor cache for a real-mode selector
// load: base = sel<<4, limit = 0xFFFF, default operand size 16-bit (spec §3
// Lifecycle).
func realModeSegment(sel uint16) Segment {
	return Segment{
		Selector: sel,
		Cache: SegmentCache{
			Base:    uint64(sel) << 4,
			Limit:   0xFFFF,
			S:       true,
			Type:    0x3, // read/write data, accessed (doesn't matter in real mode)
			DPL:     0,
			Present: true,
		},
	}
}

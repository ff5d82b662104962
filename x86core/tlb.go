// tlb.go - translation lookaside buffer
//
// New code implementing spec §4.5's four-submap TLB: one map per page size
// (1GiB, 4MiB (legacy PSE), 2MiB, 4KiB), keyed by the virtual page number
// shifted for that page size. find_cache probes largest first; CR3 writes
// and mode changes flush all four submaps atomically (processor.go's
// FlushTLB/WriteCR3).

package x86core

const (
	pageSize4K  = 4096
	pageSize2M  = 2 * 1024 * 1024
	pageSize4M  = 4 * 1024 * 1024
	pageSize1G  = 1024 * 1024 * 1024
)

// tlbEntry is the subset of a PageEntry the TLB needs to re-derive a
// physical address and re-check protection on a hit, per spec §4.5.
type tlbEntry struct {
	PageEntry
	pageSize uint64
}

func (e tlbEntry) pageOffsetMask() uint64 { return e.pageSize - 1 }

// TLB partitions cached translations by page size, per spec §4.5.
type TLB struct {
	m1G map[uint64]tlbEntry
	m4M map[uint64]tlbEntry
	m2M map[uint64]tlbEntry
	m4K map[uint64]tlbEntry
}

func newTLB() *TLB {
	return &TLB{
		m1G: make(map[uint64]tlbEntry),
		m4M: make(map[uint64]tlbEntry),
		m2M: make(map[uint64]tlbEntry),
		m4K: make(map[uint64]tlbEntry),
	}
}

func (t *TLB) flushAll() {
	t.m1G = make(map[uint64]tlbEntry)
	t.m4M = make(map[uint64]tlbEntry)
	t.m2M = make(map[uint64]tlbEntry)
	t.m4K = make(map[uint64]tlbEntry)
}

// lookup probes the largest page size first, matching spec §4.5's
// "find_cache probes largest first".
func (t *TLB) lookup(laddr uint64, mode PagingMode) (tlbEntry, bool) {
	if mode == PagingLong4 || mode == PagingLong5 {
		if e, ok := t.m1G[laddr>>30]; ok {
			return e, true
		}
	}
	if mode == PagingLegacy32 {
		if e, ok := t.m4M[laddr>>22]; ok {
			return e, true
		}
	}
	if e, ok := t.m2M[laddr>>21]; ok {
		return e, true
	}
	if e, ok := t.m4K[laddr>>12]; ok {
		return e, true
	}
	return tlbEntry{}, false
}

// insert caches a completed walk's leaf entry, keyed by the appropriately
// shifted VPN for its page size. Callers only insert entries with PCD=0
// (spec §3 invariant (iv)): "TLB contents reflect only entries whose PCD bit
// is clear."
func (t *TLB) insert(laddr uint64, mode PagingMode, e PageEntry, pageSize uint64) {
	entry := tlbEntry{PageEntry: e, pageSize: pageSize}
	switch pageSize {
	case pageSize1G:
		t.m1G[laddr>>30] = entry
	case pageSize4M:
		t.m4M[laddr>>22] = entry
	case pageSize2M:
		t.m2M[laddr>>21] = entry
	default:
		t.m4K[laddr>>12] = entry
	}
}

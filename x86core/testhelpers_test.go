package x86core

// newTestProcessor builds a real-mode Processor backed by a fresh memory
// store, with CS:IP pointing at linear address 0 so tests can place raw
// instruction bytes at the start of memory and decode/execute them
// directly, without going through LoadFlatImage.
func newTestProcessor(memSize uint64) *Processor {
	store := NewMemoryStore(memSize)
	io := NewIODispatcher(store, 0)
	p := NewProcessor(io)
	p.Segs[SegCS] = realModeSegment(0)
	p.Regs.SetIPView(Width16, 0)
	return p
}

func loadBytes(p *Processor, at uint64, data []byte) {
	for i, b := range data {
		p.IO.WritePhys(at+uint64(i), 1, uint64(b))
	}
}

// loader.go - binary image loading, the memory-store-facing half of spec §6
//
// Grounded on the teacher's file_io.go/program_executor.go host-file access
// pattern (os.ReadFile under a restricted base directory), narrowed to this
// core's actual need: copying a flat binary image into physical memory and
// pointing CS:RIP at it, rather than the teacher's richer load/save/session
// protocol (which belongs to the out-of-scope CLI front end, spec §1).

package x86core

import "os"

// LoadFlatImage reads path and copies it into the processor's backing store
// at physical address base, per spec §6 "binary loading". It does not
// interpret any container format (ELF/PE/raw COM-style images are all just
// bytes to this loader); format-specific parsing is left to the
// out-of-scope CLI front end.
func (p *Processor) LoadFlatImage(path string, base uint64) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return invariant("Processor.LoadFlatImage", "read %s: %v", path, err)
	}
	return p.IO.store.CopyIn(base, data)
}

// LoadFlatImageBytes is LoadFlatImage without a filesystem round-trip, for
// callers (tests, gdbstub's binary-download command) that already hold the
// image in memory.
func (p *Processor) LoadFlatImageBytes(data []byte, base uint64) error {
	return p.IO.store.CopyIn(base, data)
}

// ResetAt reinitializes the processor to its power-on state (spec §3
// Lifecycle) and points CS:IP at the given real-mode entry point, base<<4
// forming the linear start address the BIOS/bootloader convention expects.
func (p *Processor) ResetAt(cs, ip uint16) {
	*p = *NewProcessor(p.IO)
	p.Segs[SegCS] = realModeSegment(cs)
	p.Regs.SetIPView(Width16, uint64(ip))
}

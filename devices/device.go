// Package devices holds the minimal port/MMIO devices spec §6/§9 names as
// the external collaborators the I/O dispatcher talks to: a PS/2-style
// keyboard controller, a programmable interval timer, a DMA descriptor
// stub and a VGA-framebuffer stub. None of these chase real hardware
// fidelity (out of scope, spec §1) — they exist to give the access layer
// and IODispatcher a concrete device to exercise end to end in tests,
// including the interrupt-queue path via RaiseIRQ.
//
// Grounded on the teacher's keyboard_controller.go/timer_pit.go/dma_8237.go
// device shape (a small struct holding latched register state, In/Out or
// ReadByte/WriteByte methods, an IRQ line into the bus) narrowed from the
// teacher's full hardware-accurate register sets down to the handful of
// registers this core's tests actually drive.
package devices

import (
	"sync"

	"github.com/gopherwing/x86emu/internal/ioregistry"
	"github.com/gopherwing/x86emu/x86core"
)

// PS2Controller is a minimal keyboard controller: a one-byte output buffer
// (port 0x60) and a status port (0x64) whose bit 0 reports "data ready".
// Pushing a scancode with Inject raises IRQ1, mirroring the teacher's
// keyboard_controller.go interrupt-on-scancode behavior.
type PS2Controller struct {
	mu      sync.Mutex
	data    byte
	hasData bool
	irq     *x86core.IODispatcher
}

func NewPS2Controller(irq *x86core.IODispatcher) *PS2Controller {
	return &PS2Controller{irq: irq}
}

func (p *PS2Controller) PortWindows() []ioregistry.PortWindow {
	return []ioregistry.PortWindow{{Base: 0x60, End: 0x60}, {Base: 0x64, End: 0x64}}
}
func (p *PS2Controller) MMIOWindows() []ioregistry.MMIOWindow { return nil }

// Inject queues one scancode byte for the guest to read and signals IRQ1,
// the keyboard's conventional PIC line.
func (p *PS2Controller) Inject(scancode byte) {
	p.mu.Lock()
	p.data, p.hasData = scancode, true
	p.mu.Unlock()
	p.irq.RaiseIRQ(1)
}

func (p *PS2Controller) In(port uint16, width int) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch port {
	case 0x64:
		if p.hasData {
			return 1
		}
		return 0
	default: // 0x60
		v := p.data
		p.hasData = false
		return uint32(v)
	}
}

func (p *PS2Controller) Out(port uint16, width int, value uint32) {
	// Command/reset writes aren't modeled; reads are all this core's
	// tests need (spec §9 "minimal PS/2 device").
}

// PIT is a minimal programmable interval timer: one down-counter reloaded
// from the last value written to its data port, decrementing once per
// Tick call and raising IRQ0 on underflow, matching the teacher's
// timer_pit.go channel-0 behavior without its full three-channel model.
type PIT struct {
	mu      sync.Mutex
	reload  uint16
	counter uint16
	irq     *x86core.IODispatcher
}

func NewPIT(irq *x86core.IODispatcher) *PIT { return &PIT{irq: irq} }

func (t *PIT) PortWindows() []ioregistry.PortWindow {
	return []ioregistry.PortWindow{{Base: 0x40, End: 0x43}}
}
func (t *PIT) MMIOWindows() []ioregistry.MMIOWindow { return nil }

func (t *PIT) In(port uint16, width int) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return uint32(t.counter)
}

func (t *PIT) Out(port uint16, width int, value uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if port == 0x40 {
		t.reload = uint16(value)
		t.counter = t.reload
	}
}

// Tick decrements the counter by one, reloading and raising IRQ0 on
// underflow. The emulator's step loop (or a test) drives this directly;
// there is no free-running goroutine (spec §5: devices only raise IRQs,
// they don't drive the CPU clock themselves).
func (t *PIT) Tick() {
	t.mu.Lock()
	underflowed := t.counter == 0
	if underflowed {
		t.counter = t.reload
	} else {
		t.counter--
	}
	t.mu.Unlock()
	if underflowed {
		t.irq.RaiseIRQ(0)
	}
}

// DMAStub is an inert 8237-style DMA controller: it latches whatever is
// written to its registers and returns the last latch on read, enough for
// guest code that probes DMA channel registers without actually moving any
// bytes (full DMA transfer is an out-of-scope external collaborator, spec
// §1).
type DMAStub struct {
	mu   sync.Mutex
	regs [16]byte
}

func NewDMAStub() *DMAStub { return &DMAStub{} }

func (d *DMAStub) PortWindows() []ioregistry.PortWindow {
	return []ioregistry.PortWindow{{Base: 0x00, End: 0x0F}}
}
func (d *DMAStub) MMIOWindows() []ioregistry.MMIOWindow { return nil }

func (d *DMAStub) In(port uint16, width int) uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return uint32(d.regs[port&0xF])
}

func (d *DMAStub) Out(port uint16, width int, value uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.regs[port&0xF] = byte(value)
}

// VGAFramebuffer is a plain byte-addressable MMIO window over the
// conventional 0xA0000-0xBFFFF VGA aperture, with no mode-register or
// palette behavior (rasterizing the result is the out-of-scope windowing
// surface, spec §1) — just enough for tests to prove MMIO writes/reads
// round-trip ahead of the backing memory store.
type VGAFramebuffer struct {
	mu  sync.Mutex
	mem [0x20000]byte
}

func NewVGAFramebuffer() *VGAFramebuffer { return &VGAFramebuffer{} }

func (v *VGAFramebuffer) PortWindows() []ioregistry.PortWindow { return nil }
func (v *VGAFramebuffer) MMIOWindows() []ioregistry.MMIOWindow {
	return []ioregistry.MMIOWindow{{Base: 0xA0000, Size: 0x20000}}
}

func (v *VGAFramebuffer) ReadByte(addr uint64) byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.mem[(addr-0xA0000)&0x1FFFF]
}

func (v *VGAFramebuffer) WriteByte(addr uint64, val byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.mem[(addr-0xA0000)&0x1FFFF] = val
}

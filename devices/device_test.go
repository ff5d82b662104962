package devices

import (
	"testing"

	"github.com/gopherwing/x86emu/x86core"
)

func newTestIO() *x86core.IODispatcher {
	store := x86core.NewMemoryStore(0x10000)
	return x86core.NewIODispatcher(store, 4)
}

func TestPS2ControllerInjectAndRead(t *testing.T) {
	io := newTestIO()
	kb := NewPS2Controller(io)

	if got := kb.In(0x64, 1); got != 0 {
		t.Errorf("status before Inject = %#x, want 0", got)
	}

	kb.Inject(0x1E) // 'A' make code
	if got := kb.In(0x64, 1); got != 1 {
		t.Errorf("status after Inject = %#x, want 1 (data ready)", got)
	}
	if got := kb.In(0x60, 1); got != 0x1E {
		t.Errorf("data port = %#x, want 0x1E", got)
	}
	if got := kb.In(0x64, 1); got != 0 {
		t.Errorf("status after read = %#x, want 0 (data consumed)", got)
	}

	select {
	case ev := <-io.IRQChannel():
		if ev.Vector != 1 {
			t.Errorf("IRQ vector = %d, want 1", ev.Vector)
		}
	default:
		t.Error("expected Inject to raise IRQ1")
	}
}

func TestPITTickUnderflowRaisesIRQ0(t *testing.T) {
	io := newTestIO()
	pit := NewPIT(io)
	pit.Out(0x40, 1, 2) // reload = 2

	pit.Tick() // counter 2 -> 1
	pit.Tick() // counter 1 -> 0
	select {
	case <-io.IRQChannel():
		t.Fatal("did not expect IRQ0 before the counter underflows")
	default:
	}

	pit.Tick() // counter 0 -> reload, underflow fires
	select {
	case ev := <-io.IRQChannel():
		if ev.Vector != 0 {
			t.Errorf("IRQ vector = %d, want 0", ev.Vector)
		}
	default:
		t.Error("expected underflow to raise IRQ0")
	}
	if got := pit.In(0x40, 1); got != 2 {
		t.Errorf("counter after underflow = %d, want reloaded to 2", got)
	}
}

func TestDMAStubLatchesRegisters(t *testing.T) {
	d := NewDMAStub()
	d.Out(0x03, 1, 0x5A)
	if got := d.In(0x03, 1); got != 0x5A {
		t.Errorf("register 3 = %#x, want 0x5A", got)
	}
	if got := d.In(0x13, 1); got != 0x5A { // aliases register 3 via &0xF
		t.Errorf("aliased register = %#x, want 0x5A", got)
	}
}

func TestVGAFramebufferByteAccess(t *testing.T) {
	v := NewVGAFramebuffer()
	v.WriteByte(0xA0000, 0x42)
	v.WriteByte(0xBFFFF, 0x99)
	if got := v.ReadByte(0xA0000); got != 0x42 {
		t.Errorf("byte at 0xA0000 = %#x, want 0x42", got)
	}
	if got := v.ReadByte(0xBFFFF); got != 0x99 {
		t.Errorf("byte at 0xBFFFF = %#x, want 0x99", got)
	}
}

func TestPortAndMMIOWindowsAdvertised(t *testing.T) {
	io := newTestIO()
	kb := NewPS2Controller(io)
	windows := kb.PortWindows()
	if len(windows) != 2 || windows[0].Base != 0x60 || windows[1].Base != 0x64 {
		t.Errorf("PS2Controller.PortWindows() = %+v, want [{0x60 0x60} {0x64 0x64}]", windows)
	}

	v := NewVGAFramebuffer()
	mmio := v.MMIOWindows()
	if len(mmio) != 1 || mmio[0].Base != 0xA0000 || mmio[0].Size != 0x20000 {
		t.Errorf("VGAFramebuffer.MMIOWindows() = %+v, want one 0xA0000/0x20000 window", mmio)
	}
}

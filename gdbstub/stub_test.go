package gdbstub

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/gopherwing/x86emu/x86core"
)

func newTestStub() (*Stub, *x86core.Processor) {
	store := x86core.NewMemoryStore(0x10000)
	io := x86core.NewIODispatcher(store, 0)
	p := x86core.NewProcessor(io)
	e := x86core.NewEmulator(p)
	return &Stub{Emu: e}, p
}

func TestChecksumAndFraming(t *testing.T) {
	body := []byte("OK")
	framed := framePacket(body)
	if framed[0] != '$' || framed[len(framed)-3] != '#' {
		t.Fatalf("framePacket(%q) = %q, malformed frame", body, framed)
	}
	if got, want := string(framed), "$OK#9a"; got != want {
		t.Errorf("framePacket(%q) = %q, want %q", body, got, want)
	}
}

func TestDispatchReadWriteRegister(t *testing.T) {
	s, p := newTestStub()
	// A byte-palindromic value so the reply is stable regardless of which
	// direction the wire's little-endian byte swap runs.
	p.Regs.SetGPRByNumber(0, 0x1111111111111111) // rax

	reply := s.dispatch([]byte("p0"))
	if got, want := string(reply), "1111111111111111"; got != want {
		t.Errorf("p0 reply = %q, want %q", got, want)
	}

	reply = s.dispatch([]byte("P1=0202020202020202")) // rcx
	if string(reply) != "OK" {
		t.Fatalf("P1 reply = %q, want OK", reply)
	}
	if got := p.Regs.GPRByNumber(1); got != 0x0202020202020202 {
		t.Errorf("rcx = %#x, want 0x0202020202020202", got)
	}
}

func TestDispatchReadWriteAllRegisters(t *testing.T) {
	s, p := newTestStub()
	for n := range gdbRegNames {
		// Byte-palindromic per register so the 'g'/'G' round trip is
		// stable regardless of wire byte order.
		v := uint64(n+1) * 0x0101010101010101
		p.Regs.SetGPRByNumber(n, v)
	}
	reply := s.dispatch([]byte("g"))
	// 16 GPRs * 16 hex chars + rip (8 hex chars) + flags (8 hex chars).
	if want := 16*16 + 8 + 8; len(reply) != want {
		t.Fatalf("g reply length = %d, want %d", len(reply), want)
	}

	// Round-trip through G with the same bytes should leave registers as-is.
	if got := string(s.dispatch([]byte("G" + string(reply)))); got != "OK" {
		t.Fatalf("G reply = %q, want OK", got)
	}
	if got, want := p.Regs.GPRByNumber(0), uint64(0x0101010101010101); got != want {
		t.Errorf("rax after round-trip = %#x, want %#x", got, want)
	}
}

func TestDispatchMemoryReadWrite(t *testing.T) {
	s, _ := newTestStub()
	if got := string(s.dispatch([]byte("M100,4:deadbeef"))); got != "OK" {
		t.Fatalf("M reply = %q, want OK", got)
	}
	reply := s.dispatch([]byte("m100,4"))
	if got, want := string(reply), "deadbeef"; got != want {
		t.Errorf("m reply = %q, want %q", got, want)
	}
}

func TestDispatchStepAndBreakpoints(t *testing.T) {
	s, p := newTestStub()
	if err := p.LoadFlatImageBytes([]byte{0x90, 0x90, 0xF4}, 0); err != nil {
		t.Fatalf("LoadFlatImageBytes: %v", err)
	}
	p.ResetAt(0, 0)

	if got := string(s.dispatch([]byte("Z0,1,1"))); got != "OK" {
		t.Fatalf("Z reply = %q, want OK", got)
	}
	if got := string(s.dispatch([]byte("s"))); got != "S05" {
		t.Fatalf("s reply = %q, want S05", got)
	}
	if got := string(s.dispatch([]byte("z0,1,1"))); got != "OK" {
		t.Fatalf("z reply = %q, want OK", got)
	}
}

func TestDispatchUnknownCommandReturnsEmpty(t *testing.T) {
	s, _ := newTestStub()
	if reply := s.dispatch([]byte("Qfoo")); reply != nil {
		t.Errorf("dispatch(unknown) = %q, want nil (unsupported)", reply)
	}
}

func TestReadPacketVerifiesChecksum(t *testing.T) {
	good := framePacket([]byte("g"))
	pkt, err := readPacket(bufio.NewReader(bytes.NewReader(good)))
	if err != nil {
		t.Fatalf("readPacket: %v", err)
	}
	if string(pkt) != "g" {
		t.Errorf("readPacket body = %q, want %q", pkt, "g")
	}

	bad := []byte("$g#00")
	if _, err := readPacket(bufio.NewReader(bytes.NewReader(bad))); err == nil {
		t.Error("expected a checksum mismatch error")
	}
}

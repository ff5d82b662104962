// Package gdbstub bridges an x86core.Emulator to the GDB Remote Serial
// Protocol: a net.Listener accepting one debugger connection at a time,
// '$packet#checksum' framing over that connection, and a small command set
// (register read/write, memory read/write, step, continue, breakpoints)
// translated into Emulator calls.
//
// Grounded on the teacher's debug_cpu_x86.go adapter (GetRegisters/
// GetRegister/SetRegister/Step/SetBreakpoint/Resume/Freeze over a named-
// register map) for the command semantics, and on the teacher's
// terminal_host.go net.Listener accept loop for the connection shape. No
// GDB-protocol library exists anywhere in the retrieval pack, so packet
// framing is hand-rolled with bytes + encoding/hex, matching the corpus's
// general preference for manual wire framing (memory_bus.go's own
// encoding/binary use) over a parser-combinator dependency.
package gdbstub

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/gopherwing/x86emu/x86core"
	"golang.org/x/term"
)

// gdbRegNames is the GDB register numbering this stub exposes: the sixteen
// 64-bit GPRs in x86-64 encoding order, matching gdb's i386:x86-64 target
// description closely enough for register read/write packets
// ('g'/'G'/'p'/'P') to round-trip. Access goes through
// RegisterFile.GPRByNumber/SetGPRByNumber, which index by this same
// encoding number, since gdbstub has no access to x86core's unexported
// gpIndex constants.
var gdbRegNames = []string{
	"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi",
	"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
}

// Stub owns one debugger session at a time over a GDB remote-protocol
// connection, driving an Emulator's Step/Run and breakpoint set.
type Stub struct {
	Emu *x86core.Emulator
	ln  net.Listener
}

// Listen opens a TCP listener for GDB remote-protocol connections, the
// network-facing half of spec §6's debug bridge. addr is a "host:port"
// string, e.g. ":1234".
func Listen(emu *x86core.Emulator, addr string) (*Stub, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("gdbstub: listen %s: %w", addr, err)
	}
	return &Stub{Emu: emu, ln: ln}, nil
}

func (s *Stub) Close() error { return s.ln.Close() }

// Addr reports the listener's bound address, useful when Listen was asked
// for an ephemeral port (":0").
func (s *Stub) Addr() net.Addr { return s.ln.Addr() }

// Serve accepts exactly one debugger connection and handles its command
// stream until the connection closes or a command handler returns an
// error, matching the teacher's single-session debug_monitor.go model
// rather than gdb's theoretical multi-client support.
func (s *Stub) Serve() error {
	conn, err := s.ln.Accept()
	if err != nil {
		return fmt.Errorf("gdbstub: accept: %w", err)
	}
	defer conn.Close()
	return s.handleConn(conn)
}

func (s *Stub) handleConn(conn net.Conn) error {
	r := bufio.NewReader(conn)
	for {
		pkt, err := readPacket(r)
		if err != nil {
			return err
		}
		if pkt == nil {
			continue // a bare ack/nack byte, nothing to dispatch
		}
		if _, err := conn.Write([]byte{'+'}); err != nil {
			return err
		}
		reply := s.dispatch(pkt)
		if _, err := conn.Write(framePacket(reply)); err != nil {
			return err
		}
	}
}

// readPacket reads one '$...#cc' frame, verifying its checksum, or returns
// nil for a lone '+'/'-' ack byte.
func readPacket(r *bufio.Reader) ([]byte, error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		switch b {
		case '+', '-':
			return nil, nil
		case '$':
			body, err := r.ReadBytes('#')
			if err != nil {
				return nil, err
			}
			body = body[:len(body)-1] // drop trailing '#'
			sum := make([]byte, 2)
			if _, err := r.Read(sum); err != nil {
				return nil, err
			}
			want, err := strconv.ParseUint(string(sum), 16, 8)
			if err != nil || checksum(body) != byte(want) {
				return nil, fmt.Errorf("gdbstub: bad checksum on packet %q", body)
			}
			return body, nil
		default:
			return nil, fmt.Errorf("gdbstub: unexpected byte %q before packet start", b)
		}
	}
}

func checksum(body []byte) byte {
	var sum byte
	for _, c := range body {
		sum += c
	}
	return sum
}

func framePacket(body []byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte('$')
	buf.Write(body)
	buf.WriteByte('#')
	fmt.Fprintf(&buf, "%02x", checksum(body))
	return buf.Bytes()
}

// dispatch executes one command packet's body and returns the raw reply
// body (unframed; Serve frames it).
func (s *Stub) dispatch(pkt []byte) []byte {
	if len(pkt) == 0 {
		return nil
	}
	switch pkt[0] {
	case 'g':
		return s.readAllRegisters()
	case 'G':
		return s.writeAllRegisters(pkt[1:])
	case 'p':
		return s.readRegister(string(pkt[1:]))
	case 'P':
		return s.writeRegister(string(pkt[1:]))
	case 'm':
		return s.readMemory(string(pkt[1:]))
	case 'M':
		return s.writeMemory(string(pkt[1:]))
	case 'c':
		return s.cont()
	case 's':
		return s.step()
	case 'Z':
		return s.setBreak(string(pkt[1:]))
	case 'z':
		return s.clearBreak(string(pkt[1:]))
	case '?':
		return []byte("S05") // SIGTRAP: last-stop reason, unconditionally "trapped"
	default:
		return nil // empty reply signals "unsupported" per the protocol
	}
}

func (s *Stub) readAllRegisters() []byte {
	var buf bytes.Buffer
	p := s.Emu.Proc
	for n := range gdbRegNames {
		v := p.Regs.GPRByNumber(n)
		fmt.Fprintf(&buf, "%016x", byteSwap64(v))
	}
	fmt.Fprintf(&buf, "%08x", byteSwap32(uint32(p.Regs.IPView(x86core.Width64))))
	fmt.Fprintf(&buf, "%08x", byteSwap32(uint32(p.Regs.Flags)))
	return []byte(buf.String())
}

func (s *Stub) writeAllRegisters(hexBody []byte) []byte {
	raw, err := hex.DecodeString(string(hexBody))
	if err != nil {
		return []byte("E01")
	}
	p := s.Emu.Proc
	off := 0
	for n := range gdbRegNames {
		if off+8 > len(raw) {
			return []byte("E01")
		}
		p.Regs.SetGPRByNumber(n, leUint64(raw[off:off+8]))
		off += 8
	}
	if off+4 <= len(raw) {
		p.Regs.SetIPView(x86core.Width64, uint64(leUint32(raw[off:off+4])))
	}
	return []byte("OK")
}

func (s *Stub) readRegister(arg string) []byte {
	n, err := strconv.ParseInt(arg, 16, 32)
	if err != nil || int(n) >= len(gdbRegNames) {
		return []byte("E01")
	}
	v := s.Emu.Proc.Regs.GPRByNumber(int(n))
	return []byte(fmt.Sprintf("%016x", byteSwap64(v)))
}

func (s *Stub) writeRegister(arg string) []byte {
	parts := strings.SplitN(arg, "=", 2)
	if len(parts) != 2 {
		return []byte("E01")
	}
	n, err := strconv.ParseInt(parts[0], 16, 32)
	raw, herr := hex.DecodeString(parts[1])
	if err != nil || herr != nil || int(n) >= len(gdbRegNames) || len(raw) < 8 {
		return []byte("E01")
	}
	s.Emu.Proc.Regs.SetGPRByNumber(int(n), leUint64(raw))
	return []byte("OK")
}

// readMemory handles "addr,length" read requests. addr is an offset in DS,
// the implied data segment: DS's base is added to it and the result is read
// through the processor's linear-address (paging) path.
func (s *Stub) readMemory(arg string) []byte {
	addr, length, ok := splitAddrLen(arg)
	if !ok {
		return []byte("E01")
	}
	base := s.Emu.Proc.SegmentBase(x86core.SegDS, x86core.Width64)
	out := make([]byte, 0, length*2)
	for i := uint64(0); i < length; i++ {
		v, err := s.Emu.Proc.ReadLinear(base+addr+i, 1)
		if err != nil {
			return []byte("E03")
		}
		out = append(out, []byte(fmt.Sprintf("%02x", byte(v)))...)
	}
	return out
}

func (s *Stub) writeMemory(arg string) []byte {
	head, data, found := strings.Cut(arg, ":")
	if !found {
		return []byte("E01")
	}
	addr, length, ok := splitAddrLen(head)
	if !ok {
		return []byte("E01")
	}
	raw, err := hex.DecodeString(data)
	if err != nil || uint64(len(raw)) < length {
		return []byte("E01")
	}
	base := s.Emu.Proc.SegmentBase(x86core.SegDS, x86core.Width64)
	for i := uint64(0); i < length; i++ {
		if err := s.Emu.Proc.WriteLinear(base+addr+i, 1, uint64(raw[i])); err != nil {
			return []byte("E03")
		}
	}
	return []byte("OK")
}

func splitAddrLen(arg string) (addr, length uint64, ok bool) {
	a, l, found := strings.Cut(arg, ",")
	if !found {
		return 0, 0, false
	}
	addr, err1 := strconv.ParseUint(a, 16, 64)
	length, err2 := strconv.ParseUint(l, 16, 64)
	return addr, length, err1 == nil && err2 == nil
}

func (s *Stub) cont() []byte {
	if err := s.Emu.Run(0); err != nil {
		return []byte("E0b")
	}
	return []byte("S05")
}

func (s *Stub) step() []byte {
	if err := s.Emu.Step(); err != nil {
		return []byte("E0b")
	}
	return []byte("S05")
}

func (s *Stub) setBreak(arg string) []byte {
	addr, ok := breakpointAddr(arg)
	if !ok {
		return []byte("E01")
	}
	s.Emu.SetBreakpoint(addr)
	return []byte("OK")
}

func (s *Stub) clearBreak(arg string) []byte {
	addr, ok := breakpointAddr(arg)
	if !ok {
		return []byte("E01")
	}
	s.Emu.ClearBreakpoint(addr)
	return []byte("OK")
}

// breakpointAddr parses a "type,addr,kind" Z/z argument, accepting only
// software breakpoints (type 0), the kind gdb actually sends for this
// core's single-stepping debug workflow.
func breakpointAddr(arg string) (uint64, bool) {
	parts := strings.Split(arg, ",")
	if len(parts) < 2 || parts[0] != "0" {
		return 0, false
	}
	addr, err := strconv.ParseUint(parts[1], 16, 64)
	return addr, err == nil
}

func byteSwap64(v uint64) uint64 {
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[7-i] = byte(v >> (8 * i))
	}
	return leUint64(b[:])
}

func byteSwap32(v uint32) uint32 {
	var b [4]byte
	for i := 0; i < 4; i++ {
		b[3-i] = byte(v >> (8 * i))
	}
	return leUint32(b[:])
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func leUint32(b []byte) uint32 {
	var v uint32
	for i := 3; i >= 0; i-- {
		v = v<<8 | uint32(b[i])
	}
	return v
}

// StatusLine renders a one-line register summary to an interactive
// terminal, the same golang.org/x/term-gated "fall back to plain output
// when not a tty" pattern the teacher's terminal front end uses.
func StatusLine(fd int, p *x86core.Processor) string {
	if !term.IsTerminal(fd) {
		return fmt.Sprintf("rip=%#x", p.Regs.IPView(x86core.Width64))
	}
	return fmt.Sprintf("\x1b[1mrip=%#x flags=%#x\x1b[0m", p.Regs.IPView(x86core.Width64), p.Regs.Flags)
}

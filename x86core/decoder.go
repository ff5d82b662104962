// decoder.go - legacy/REX prefixes, opcode, ModR/M, SIB, displacement, immediate
//
// Grounded on the teacher's prefix loop in CPU_X86.Step and its
// fetchModRM/fetchSIB caching (cpu_x86.go), generalised from the teacher's
// "decode and execute in the same pass over baseOps" design into a true
// two-phase decode that emits the "value object" spec §4.7 calls for: the
// executor (opcode_tables.go, exec_*.go) consumes a decoded Instruction
// rather than re-reading CS:RIP itself.

package x86core

// Instruction is the decoder's output: every field the executor needs to
// interpret one instruction, plus the instruction's total encoded length
// (spec §4.7).
type Instruction struct {
	SegOverride     SegIndex
	HasSegOverride  bool
	OpSizeOverride  bool
	AddrSizeOverride bool
	RepPrefix       byte // 0 none, 1 REP/REPE, 2 REPNE
	Lock            bool

	HasREX bool
	RexW, RexR, RexX, RexB bool

	Is0F   bool
	Opcode byte

	HasModRM bool
	Mod, RegField, RM byte
	HasSIB            bool
	Scale, Index, Base byte

	Disp      int64
	DispBytes int

	Imm             uint64
	ImmBytes        int
	ImmSignExtended bool

	HasFarSelector bool
	FarSelector    uint16

	HasMoffs   bool
	Moffs      uint64
	MoffsBytes int

	OpSize   Width
	AddrSize Width

	Length int

	// Restart is set by a REP-prefixed string handler (repLoop) when the
	// repeat condition still holds after the one body iteration it just
	// ran: Step should rewind RIP back to this instruction's start instead
	// of advancing past it, so the next Step call re-polls for a pending
	// interrupt before re-entering the handler (spec §4.8 restartability).
	Restart bool
}

// immKind tags how an opcode's immediate operand is sized, per spec §4.7
// "immediate (sign-extended or zero-extended per the opcode's declared
// form)".
type immKind int

const (
	immNone immKind = iota
	imm8
	imm8SignExt   // sign-extended 8-bit immediate, widened to operand size at use
	immFull       // 16 or 32 bits depending on operand size (never 64: x86 has no imm64 ALU form)
	immFullOr64   // like immFull but imm64 when REX.W is set (MOV r64, imm64)
	imm16
)

// opShape is the decode-time metadata the instruction's opcode implies:
// whether it carries a ModR/M byte and what immediate form follows.
// groupF6F7 marks the F6/F7 family, whose immediate depends on the ModR/M
// reg field, resolved after the byte is fetched.
type opShape struct {
	hasModRM bool
	imm      immKind
	groupF6F7 bool
	farPtr    bool
	hasMoffs  bool
}

// Decoder turns CS:RIP bytes into an Instruction via the Processor's access
// layer (spec §4.7: "Consumes bytes at CS:RIP through the access layer").
type Decoder struct{}

func NewDecoder() *Decoder { return &Decoder{} }

// Decode reads and structurally decodes the instruction at CS:RIP without
// advancing RIP (the emulator loop advances it by Length once the handler
// has run, spec §4.8), and without executing it. A decode-time access fault
// (e.g. CS-limit violation reaching the opcode byte, or a page fault
// fetching an instruction byte) is returned like any other architectural
// fault.
func (d *Decoder) Decode(p *Processor) (Instruction, error) {
	var in Instruction
	in.SegOverride = SegDS
	off := p.Regs.IPView(p.addrSize())
	start := off

	fetch8 := func() (byte, error) {
		v, err := p.FetchCode(off, 1)
		if err != nil {
			return 0, err
		}
		off++
		return byte(v), nil
	}

	// --- legacy prefixes (0-4 bytes) ---
	for {
		b, err := fetch8()
		if err != nil {
			return in, err
		}
		switch b {
		case 0x26:
			in.SegOverride, in.HasSegOverride = SegES, true
			continue
		case 0x2E:
			in.SegOverride, in.HasSegOverride = SegCS, true
			continue
		case 0x36:
			in.SegOverride, in.HasSegOverride = SegSS, true
			continue
		case 0x3E:
			in.SegOverride, in.HasSegOverride = SegDS, true
			continue
		case 0x64:
			in.SegOverride, in.HasSegOverride = SegFS, true
			continue
		case 0x65:
			in.SegOverride, in.HasSegOverride = SegGS, true
			continue
		case 0x66:
			in.OpSizeOverride = true
			continue
		case 0x67:
			in.AddrSizeOverride = true
			continue
		case 0xF0:
			in.Lock = true
			continue
		case 0xF2:
			in.RepPrefix = 2
			continue
		case 0xF3:
			in.RepPrefix = 1
			continue
		}
		off--
		break
	}

	// --- REX prefix (long mode only) ---
	if p.Control.Mode() == ModeLong {
		b, err := fetch8()
		if err != nil {
			return in, err
		}
		if b&0xF0 == 0x40 {
			in.HasREX = true
			in.RexW = b&0x8 != 0
			in.RexR = b&0x4 != 0
			in.RexX = b&0x2 != 0
			in.RexB = b&0x1 != 0
		} else {
			off--
		}
	}

	// --- operand/address size resolution ---
	in.OpSize = d.resolveOpSize(p, in)
	in.AddrSize = d.resolveAddrSize(p, in)

	// --- opcode (1 or 2 bytes) ---
	op, err := fetch8()
	if err != nil {
		return in, err
	}
	if op == 0x0F {
		in.Is0F = true
		op, err = fetch8()
		if err != nil {
			return in, err
		}
	}
	in.Opcode = op

	shape := lookupShape(in.Is0F, op)

	// --- ModR/M + SIB + displacement ---
	if shape.hasModRM {
		mrm, err := fetch8()
		if err != nil {
			return in, err
		}
		in.HasModRM = true
		in.Mod = mrm >> 6
		in.RegField = (mrm >> 3) & 7
		in.RM = mrm & 7

		if in.Mod != 3 && in.RM == 4 && in.AddrSize != Width16 {
			sib, err := fetch8()
			if err != nil {
				return in, err
			}
			in.HasSIB = true
			in.Scale = sib >> 6
			in.Index = (sib >> 3) & 7
			in.Base = sib & 7
		}

		dispBytes := 0
		switch {
		case in.AddrSize == Width16:
			if in.Mod == 1 {
				dispBytes = 1
			} else if in.Mod == 2 || (in.Mod == 0 && in.RM == 6) {
				dispBytes = 2
			}
		default:
			if in.Mod == 1 {
				dispBytes = 1
			} else if in.Mod == 2 || (in.Mod == 0 && in.RM == 5 && !in.HasSIB) {
				dispBytes = 4
			} else if in.HasSIB && in.Base == 5 && in.Mod == 0 {
				dispBytes = 4
			}
		}
		if dispBytes > 0 {
			var v int64
			for i := 0; i < dispBytes; i++ {
				b, err := fetch8()
				if err != nil {
					return in, err
				}
				v |= int64(b) << (8 * uint(i))
			}
			// Sign-extend the raw field.
			shift := uint(64 - 8*dispBytes)
			v = (v << shift) >> shift
			in.Disp = v
			in.DispBytes = dispBytes
		}
	}

	if shape.groupF6F7 {
		// TEST (reg field 0/1) carries an immediate the same size as the
		// operand; NOT/NEG/MUL/IMUL/DIV/IDIV (2-7) carry none.
		if in.RegField <= 1 {
			shape.imm = immFull
			if op == 0xF6 {
				shape.imm = imm8
			}
		} else {
			shape.imm = immNone
		}
	}

	// --- immediate ---
	switch shape.imm {
	case imm8, imm8SignExt:
		b, err := fetch8()
		if err != nil {
			return in, err
		}
		in.ImmBytes = 1
		in.ImmSignExtended = shape.imm == imm8SignExt
		if shape.imm == imm8SignExt {
			in.Imm = uint64(int64(int8(b)))
		} else {
			in.Imm = uint64(b)
		}
	case imm16:
		v, err := readLE(fetch8, 2)
		if err != nil {
			return in, err
		}
		in.Imm, in.ImmBytes = v, 2
	case immFull:
		n := 2
		if in.OpSize != Width16 {
			n = 4
		}
		v, err := readLE(fetch8, n)
		if err != nil {
			return in, err
		}
		in.Imm, in.ImmBytes = v, n
	case immFullOr64:
		n := 4
		if in.OpSize == Width16 {
			n = 2
		} else if in.RexW {
			n = 8
		}
		v, err := readLE(fetch8, n)
		if err != nil {
			return in, err
		}
		in.Imm, in.ImmBytes = v, n
	}

	if shape.farPtr {
		n := 4
		if in.OpSize == Width16 {
			n = 2
		}
		offv, err := readLE(fetch8, n)
		if err != nil {
			return in, err
		}
		selv, err := readLE(fetch8, 2)
		if err != nil {
			return in, err
		}
		in.Imm = offv
		in.ImmBytes = n
		in.FarSelector = uint16(selv)
		in.HasFarSelector = true
	}

	if shape.hasMoffs {
		n := addrSizeBytes(in.AddrSize)
		v, err := readLE(fetch8, n)
		if err != nil {
			return in, err
		}
		in.Moffs, in.MoffsBytes = v, n
		in.HasMoffs = true
	}

	in.Length = int(off - start)
	return in, nil
}

func readLE(fetch8 func() (byte, error), n int) (uint64, error) {
	var v uint64
	for i := 0; i < n; i++ {
		b, err := fetch8()
		if err != nil {
			return 0, err
		}
		v |= uint64(b) << (8 * uint(i))
	}
	return v, nil
}

func addrSizeBytes(w Width) int {
	switch w {
	case Width16:
		return 2
	case Width32:
		return 4
	default:
		return 8
	}
}

func (d *Decoder) resolveOpSize(p *Processor, in Instruction) Width {
	if p.Control.Mode() == ModeLong {
		if in.RexW {
			return Width64
		}
		if in.OpSizeOverride {
			return Width16
		}
		return Width32
	}
	big := p.Segs[SegCS].Cache.DefaultBig
	if in.OpSizeOverride {
		big = !big
	}
	if big {
		return Width32
	}
	return Width16
}

func (d *Decoder) resolveAddrSize(p *Processor, in Instruction) Width {
	if p.Control.Mode() == ModeLong {
		if in.AddrSizeOverride {
			return Width32
		}
		return Width64
	}
	big := p.Segs[SegCS].Cache.DefaultBig
	if in.AddrSizeOverride {
		big = !big
	}
	if big {
		return Width32
	}
	return Width16
}

// opcode_shapes.go - decode-time shape metadata (ModR/M presence, immediate
// form) for every opcode the executor implements.
//
// New code: the teacher's baseOps table conflates shape and semantics in one
// func(*CPU) closure. Here shape is split out so the decoder (decoder.go)
// never needs to know what an opcode DOES, only what bytes follow it, per
// spec §4.7/§4.8's separation of decode from execution.

package x86core

var shapeTable1 [256]opShape
var shapeTable0F [256]opShape

func init() {
	// ALU group: ADD/OR/ADC/SBB/AND/SUB/XOR/CMP, each with the standard
	// eight encodings (rm8,r8 / rm,r / r8,rm8 / r,rm / AL,ib / eAX,iz).
	for _, base := range []byte{0x00, 0x08, 0x10, 0x18, 0x20, 0x28, 0x30, 0x38} {
		shapeTable1[base+0] = opShape{hasModRM: true}
		shapeTable1[base+1] = opShape{hasModRM: true}
		shapeTable1[base+2] = opShape{hasModRM: true}
		shapeTable1[base+3] = opShape{hasModRM: true}
		shapeTable1[base+4] = opShape{imm: imm8}
		shapeTable1[base+5] = opShape{imm: immFull}
	}

	// INC/DEC r16/r32 (invalid in 64-bit mode, where these bytes are REX).
	for op := byte(0x40); op <= 0x4F; op++ {
		shapeTable1[op] = opShape{}
	}
	// PUSH/POP r16/r32/r64.
	for op := byte(0x50); op <= 0x5F; op++ {
		shapeTable1[op] = opShape{}
	}
	shapeTable1[0x60] = opShape{} // PUSHA/PUSHAD
	shapeTable1[0x61] = opShape{} // POPA/POPAD
	shapeTable1[0x68] = opShape{imm: immFull}      // PUSH iz
	shapeTable1[0x6A] = opShape{imm: imm8SignExt}  // PUSH ib
	shapeTable1[0x69] = opShape{hasModRM: true, imm: immFull}     // IMUL r,rm,iz
	shapeTable1[0x6B] = opShape{hasModRM: true, imm: imm8SignExt} // IMUL r,rm,ib

	// Jcc short.
	for op := byte(0x70); op <= 0x7F; op++ {
		shapeTable1[op] = opShape{imm: imm8SignExt}
	}

	shapeTable1[0x80] = opShape{hasModRM: true, imm: imm8} // grp1 Eb,ib
	shapeTable1[0x81] = opShape{hasModRM: true, imm: immFull}     // grp1 Ev,iz
	shapeTable1[0x83] = opShape{hasModRM: true, imm: imm8SignExt} // grp1 Ev,ib
	shapeTable1[0x84] = opShape{hasModRM: true} // TEST Eb,Gb
	shapeTable1[0x85] = opShape{hasModRM: true} // TEST Ev,Gv
	shapeTable1[0x86] = opShape{hasModRM: true} // XCHG Eb,Gb
	shapeTable1[0x87] = opShape{hasModRM: true} // XCHG Ev,Gv
	for op := byte(0x88); op <= 0x8B; op++ {
		shapeTable1[op] = opShape{hasModRM: true} // MOV variants
	}
	shapeTable1[0x8C] = opShape{hasModRM: true} // MOV Ev,Sw
	shapeTable1[0x8D] = opShape{hasModRM: true} // LEA
	shapeTable1[0x8E] = opShape{hasModRM: true} // MOV Sw,Ew
	shapeTable1[0x8F] = opShape{hasModRM: true} // POP Ev

	for op := byte(0x90); op <= 0x97; op++ {
		shapeTable1[op] = opShape{} // XCHG eAX,r / NOP
	}
	shapeTable1[0x98] = opShape{} // CBW/CWDE/CDQE
	shapeTable1[0x99] = opShape{} // CWD/CDQ/CQO
	shapeTable1[0x9A] = opShape{farPtr: true} // CALL ptr16:xx
	shapeTable1[0x9C] = opShape{} // PUSHF
	shapeTable1[0x9D] = opShape{} // POPF

	shapeTable1[0xA0] = opShape{hasMoffs: true} // MOV AL,moffs
	shapeTable1[0xA1] = opShape{hasMoffs: true} // MOV eAX,moffs
	shapeTable1[0xA2] = opShape{hasMoffs: true} // MOV moffs,AL
	shapeTable1[0xA3] = opShape{hasMoffs: true} // MOV moffs,eAX
	for op := byte(0xA4); op <= 0xA7; op++ {
		shapeTable1[op] = opShape{} // MOVS/CMPS
	}
	shapeTable1[0xA8] = opShape{imm: imm8}   // TEST AL,ib
	shapeTable1[0xA9] = opShape{imm: immFull} // TEST eAX,iz
	for op := byte(0xAA); op <= 0xAF; op++ {
		shapeTable1[op] = opShape{} // STOS/LODS/SCAS
	}

	for op := byte(0xB0); op <= 0xB7; op++ {
		shapeTable1[op] = opShape{imm: imm8} // MOV r8,ib
	}
	for op := byte(0xB8); op <= 0xBF; op++ {
		shapeTable1[op] = opShape{imm: immFullOr64} // MOV r,iv (imm64 under REX.W)
	}

	shapeTable1[0xC0] = opShape{hasModRM: true, imm: imm8} // shift grp2 Eb,ib
	shapeTable1[0xC1] = opShape{hasModRM: true, imm: imm8} // shift grp2 Ev,ib
	shapeTable1[0xC2] = opShape{imm: imm16}                // RET iw
	shapeTable1[0xC3] = opShape{}                          // RET
	shapeTable1[0xCA] = opShape{imm: imm16}                // RETF iw
	shapeTable1[0xCB] = opShape{}                          // RETF
	shapeTable1[0xC6] = opShape{hasModRM: true, imm: imm8}  // MOV Eb,ib
	shapeTable1[0xC7] = opShape{hasModRM: true, imm: immFull} // MOV Ev,iz
	shapeTable1[0xC9] = opShape{}                          // LEAVE
	shapeTable1[0xCC] = opShape{}                          // INT3
	shapeTable1[0xCD] = opShape{imm: imm8}                 // INT ib
	shapeTable1[0xCF] = opShape{}                          // IRET

	shapeTable1[0xD0] = opShape{hasModRM: true} // shift grp2 Eb,1
	shapeTable1[0xD1] = opShape{hasModRM: true} // shift grp2 Ev,1
	shapeTable1[0xD2] = opShape{hasModRM: true} // shift grp2 Eb,CL
	shapeTable1[0xD3] = opShape{hasModRM: true} // shift grp2 Ev,CL

	shapeTable1[0xE4] = opShape{imm: imm8} // IN AL,ib
	shapeTable1[0xE5] = opShape{imm: imm8} // IN eAX,ib
	shapeTable1[0xE6] = opShape{imm: imm8} // OUT ib,AL
	shapeTable1[0xE7] = opShape{imm: imm8} // OUT ib,eAX
	shapeTable1[0xE8] = opShape{imm: immFull} // CALL rel
	shapeTable1[0xE9] = opShape{imm: immFull} // JMP rel32/16
	shapeTable1[0xEA] = opShape{farPtr: true} // JMP ptr16:xx
	shapeTable1[0xEB] = opShape{imm: imm8SignExt} // JMP rel8
	shapeTable1[0xEC] = opShape{} // IN AL,DX
	shapeTable1[0xED] = opShape{} // IN eAX,DX
	shapeTable1[0xEE] = opShape{} // OUT DX,AL
	shapeTable1[0xEF] = opShape{} // OUT DX,eAX

	shapeTable1[0xF4] = opShape{} // HLT
	shapeTable1[0xF5] = opShape{} // CMC
	shapeTable1[0xF6] = opShape{hasModRM: true, groupF6F7: true} // grp3 Eb
	shapeTable1[0xF7] = opShape{hasModRM: true, groupF6F7: true} // grp3 Ev
	shapeTable1[0xF8] = opShape{} // CLC
	shapeTable1[0xF9] = opShape{} // STC
	shapeTable1[0xFA] = opShape{} // CLI
	shapeTable1[0xFB] = opShape{} // STI
	shapeTable1[0xFC] = opShape{} // CLD
	shapeTable1[0xFD] = opShape{} // STD
	shapeTable1[0xFE] = opShape{hasModRM: true} // INC/DEC Eb
	shapeTable1[0xFF] = opShape{hasModRM: true} // INC/DEC/CALL/JMP/PUSH Ev

	// Two-byte (0F) opcodes.
	shapeTable0F[0x00] = opShape{hasModRM: true} // grp6 (SLDT/STR/LLDT/LTR/VERR/VERW)
	shapeTable0F[0x01] = opShape{hasModRM: true} // grp7 (SGDT/SIDT/LGDT/LIDT/SMSW/LMSW/INVLPG)
	shapeTable0F[0x06] = opShape{}               // CLTS
	shapeTable0F[0x09] = opShape{}               // WBINVD
	shapeTable0F[0x0B] = opShape{}               // UD2
	shapeTable0F[0x20] = opShape{hasModRM: true} // MOV r,Cr
	shapeTable0F[0x21] = opShape{hasModRM: true} // MOV r,Dr
	shapeTable0F[0x22] = opShape{hasModRM: true} // MOV Cr,r
	shapeTable0F[0x23] = opShape{hasModRM: true} // MOV Dr,r
	shapeTable0F[0x30] = opShape{}               // WRMSR
	shapeTable0F[0x31] = opShape{}               // RDTSC
	shapeTable0F[0x32] = opShape{}               // RDMSR
	for op := byte(0x80); op <= 0x8F; op++ {
		shapeTable0F[op] = opShape{imm: immFull} // Jcc near
	}
	for op := byte(0x90); op <= 0x9F; op++ {
		shapeTable0F[op] = opShape{hasModRM: true} // SETcc
	}
	shapeTable0F[0xA2] = opShape{} // CPUID
	shapeTable0F[0xAF] = opShape{hasModRM: true} // IMUL Gv,Ev
	shapeTable0F[0xB6] = opShape{hasModRM: true} // MOVZX Gv,Eb
	shapeTable0F[0xB7] = opShape{hasModRM: true} // MOVZX Gv,Ew
	shapeTable0F[0xBE] = opShape{hasModRM: true} // MOVSX Gv,Eb
	shapeTable0F[0xBF] = opShape{hasModRM: true} // MOVSX Gv,Ew
}

func lookupShape(is0F bool, op byte) opShape {
	if is0F {
		return shapeTable0F[op]
	}
	return shapeTable1[op]
}

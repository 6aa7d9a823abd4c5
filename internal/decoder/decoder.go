// Package decoder adapts golang.org/x/arch/x86/x86asm into the
// byte-offset-oriented decode contract the patcher and scanner share.
package decoder

import (
	"golang.org/x/arch/x86/x86asm"
)

// Bitness selects the decode mode for a code region.
type Bitness int

const (
	Bits32 Bitness = 32
	Bits64 Bitness = 64
)

// mode returns the x86asm decode mode for this bitness.
func (b Bitness) mode() int {
	return int(b)
}

// FlowControl categorizes how an instruction can transfer control.
type FlowControl int

const (
	FlowNext FlowControl = iota
	FlowConditionalBranch
	FlowCall
	FlowIndirectCall
	FlowUnconditionalBranch
	FlowIndirectBranch
	FlowReturn
	FlowInterrupt
)

// OperandKind classifies an instruction operand.
type OperandKind int

const (
	KindNone OperandKind = iota
	KindRegister
	KindMemory
	KindImmediate
	KindBranch
)

// Prefixes records the legacy prefixes a rule predicate cares about.
type Prefixes struct {
	Lock      bool
	Rep       bool
	Repe      bool
	Repne     bool
	Xacquire  bool
	Xrelease  bool
}

// Any reports whether any of the flagged prefixes is set.
func (p Prefixes) Any() bool {
	return p.Lock || p.Rep || p.Repe || p.Repne || p.Xacquire || p.Xrelease
}

// Instruction is the decoder's output: everything a rule predicate or
// formatter needs, independent of x86asm's own representation.
type Instruction struct {
	Offset   int
	Len      int
	Op       x86asm.Op
	Invalid  bool
	Flow     FlowControl
	Op0Kind  OperandKind
	Op0Reg   x86asm.Reg
	Op1Kind  OperandKind
	Op1Reg   x86asm.Reg
	MemBase  x86asm.Reg
	Prefixes Prefixes

	// HasNearBranch and NearBranchTarget hold the resolved absolute VA
	// of a direct (Rel-operand) branch or call.
	HasNearBranch    bool
	NearBranchTarget uint64

	// asm is the lowercase "mnemonic operands" text, without trailing
	// punctuation; Gadget joins these with "; " and a final ";".
	asm string
}

// Asm returns the canonical "mnemonic[ operands]" text for this
// instruction, lowercase, with no trailing punctuation.
func (i Instruction) Asm() string {
	return i.asm
}

// Decoder streams Instructions forward over a byte slice, for the
// scanner's set_position/can_decode/decode contract.
type Decoder struct {
	data    []byte
	baseVA  uint64
	bitness Bitness
	pos     int
}

// New returns a Decoder over data, whose first byte sits at baseVA.
func New(data []byte, baseVA uint64, bitness Bitness) *Decoder {
	return &Decoder{data: data, baseVA: baseVA, bitness: bitness}
}

// SetPosition moves the decode cursor to offset.
func (d *Decoder) SetPosition(offset int) {
	d.pos = offset
}

// Position returns the current decode cursor.
func (d *Decoder) Position() int {
	return d.pos
}

// CanDecode reports whether there is at least one more byte to decode.
func (d *Decoder) CanDecode() bool {
	return d.pos < len(d.data)
}

// Decode decodes one instruction at the current position into out and
// advances the cursor by its length.
func (d *Decoder) Decode(out *Instruction) error {
	*out = decodeOne(d.data, d.bitness, d.baseVA, d.pos)
	d.pos += out.Len
	return nil
}

// DecodeAtOffset decodes a single instruction at offset without
// disturbing any streaming cursor; used by the patcher.
func DecodeAtOffset(data []byte, baseVA uint64, bitness Bitness, offset int, out *Instruction) error {
	*out = decodeOne(data, bitness, baseVA, offset)
	return nil
}

// decodeOne is the shared decode core. An offset past the end of data,
// or bytes x86asm cannot decode, produce an Instruction with Invalid
// set and Len 1 so callers can always advance.
func decodeOne(data []byte, bitness Bitness, baseVA uint64, offset int) Instruction {
	inst := Instruction{Offset: offset}

	if offset < 0 || offset >= len(data) {
		inst.Invalid = true
		inst.Len = 1
		inst.asm = "(bad)"
		return inst
	}

	window := data[offset:]
	if len(window) > 15 {
		window = window[:15]
	}

	raw, err := x86asm.Decode(window, bitness.mode())
	if err != nil || raw.Len == 0 {
		inst.Invalid = true
		inst.Len = 1
		inst.asm = "(bad)"
		return inst
	}

	inst.Len = raw.Len
	inst.Op = raw.Op
	inst.Prefixes = decodePrefixes(raw)
	inst.Op0Kind, inst.Op0Reg, inst.MemBase = classifyArg(raw.Args[0])
	inst.Op1Kind, inst.Op1Reg, _ = classifyArg(raw.Args[1])

	if rel, ok := raw.Args[0].(x86asm.Rel); ok {
		inst.HasNearBranch = true
		inst.NearBranchTarget = uint64(int64(baseVA) + int64(offset) + int64(raw.Len) + int64(rel))
	}

	inst.Flow = classifyFlow(raw.Op, inst.Op0Kind)
	inst.asm = formatAsm(raw, inst)
	return inst
}

// decodePrefixes scans raw.Prefix for the legacy prefixes rule
// predicates distinguish. x86asm gives xacquire/xrelease their own
// numeric constants distinct from repn/rep, so no lock-context
// heuristic is needed to tell them apart.
func decodePrefixes(raw x86asm.Inst) Prefixes {
	var p Prefixes
	for _, pfx := range raw.Prefix {
		switch byte(pfx & 0xFF) {
		case byte(x86asm.PrefixLOCK):
			p.Lock = true
		case byte(x86asm.PrefixREPN):
			if pfx == x86asm.PrefixXACQUIRE {
				p.Xacquire = true
			} else {
				p.Repne = true
			}
		case byte(x86asm.PrefixREP):
			if pfx == x86asm.PrefixXRELEASE {
				p.Xrelease = true
			} else {
				p.Rep = true
				p.Repe = true
			}
		}
		if pfx == 0 {
			break
		}
	}
	return p
}

// classifyArg reduces an x86asm.Arg into the operand kind/register
// pair rules care about. memBase is only meaningful when kind is
// KindMemory.
func classifyArg(arg x86asm.Arg) (kind OperandKind, reg x86asm.Reg, memBase x86asm.Reg) {
	switch a := arg.(type) {
	case nil:
		return KindNone, 0, 0
	case x86asm.Reg:
		return KindRegister, a, 0
	case x86asm.Mem:
		return KindMemory, 0, a.Base
	case x86asm.Imm:
		return KindImmediate, 0, 0
	case x86asm.Rel:
		return KindBranch, 0, 0
	default:
		return KindNone, 0, 0
	}
}

// classifyFlow derives the spec's flow-control category from the
// decoded mnemonic and its first operand's kind.
func classifyFlow(op x86asm.Op, op0Kind OperandKind) FlowControl {
	switch op {
	case x86asm.RET, x86asm.LRET,
		x86asm.IRET, x86asm.IRETD, x86asm.IRETQ,
		x86asm.SYSRET, x86asm.SYSEXIT:
		return FlowReturn

	case x86asm.JMP, x86asm.LJMP:
		if op0Kind == KindBranch {
			return FlowUnconditionalBranch
		}
		return FlowIndirectBranch

	case x86asm.CALL, x86asm.LCALL:
		if op0Kind == KindBranch {
			return FlowCall
		}
		return FlowIndirectCall

	case x86asm.SYSCALL, x86asm.SYSENTER:
		// iced_x86 and x86asm both tag these as control transfers that
		// fall through to the next instruction on the normal path, so
		// they carry the Call flow-control tag without being the CALL
		// mnemonic itself (is_rop_gadget_head relies on this).
		return FlowCall

	case x86asm.JA, x86asm.JAE, x86asm.JB, x86asm.JBE, x86asm.JE, x86asm.JG,
		x86asm.JGE, x86asm.JL, x86asm.JLE, x86asm.JNE, x86asm.JNO, x86asm.JNP,
		x86asm.JNS, x86asm.JO, x86asm.JP, x86asm.JS,
		x86asm.JCXZ, x86asm.JECXZ, x86asm.JRCXZ,
		x86asm.LOOP, x86asm.LOOPE, x86asm.LOOPNE:
		return FlowConditionalBranch

	case x86asm.INT, x86asm.INTO, x86asm.INT3:
		return FlowInterrupt

	default:
		return FlowNext
	}
}

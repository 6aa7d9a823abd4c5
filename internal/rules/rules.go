// Package rules holds the pure tail/head classification predicates
// the scanner uses to recognize gadget boundaries. Every predicate
// takes a decoder.Instruction (plus, where needed, the resolved thunk
// table) and returns a bool; none of them touch bytes directly.
package rules

import (
	"golang.org/x/arch/x86/x86asm"

	"github.com/zboralski/gadgetry/internal/binary"
	"github.com/zboralski/gadgetry/internal/decoder"
)

// IsRet reports whether instr is a plain RET, or a JMP whose near
// branch target is the resolved return thunk.
func IsRet(instr decoder.Instruction, thunks binary.ThunkTable) bool {
	switch instr.Op {
	case x86asm.RET:
		return true
	case x86asm.JMP:
		return instr.HasNearBranch && thunks.IsRetThunkTarget(instr.NearBranchTarget)
	default:
		return false
	}
}

// IsTargetThunk reports whether instr is a JMP whose near branch
// target is the return thunk or any indirect/jump/call thunk — i.e.
// a retpoline jumping to one of the per-register thunks.
func IsTargetThunk(instr decoder.Instruction, thunks binary.ThunkTable) bool {
	if instr.Op != x86asm.JMP || !instr.HasNearBranch {
		return false
	}
	if thunks.IsRetThunkTarget(instr.NearBranchTarget) {
		return true
	}
	return thunks.IsIndirectThunkTarget(instr.NearBranchTarget)
}

// IsSys reports whether instr is a syscall-return instruction.
// x86asm names SYSRET/SYSEXIT once each (REX.W selects the 64-bit
// form rather than a distinct mnemonic), so the spec's four-name list
// collapses onto two x86asm.Op constants here.
func IsSys(instr decoder.Instruction) bool {
	switch instr.Op {
	case x86asm.IRET, x86asm.IRETD, x86asm.IRETQ, x86asm.SYSRET, x86asm.SYSEXIT:
		return true
	default:
		return false
	}
}

// IsJop reports whether instr is an indirect JMP/CALL: operand-0 is a
// register, or a memory operand not based on the instruction pointer.
// In noisy mode every JMP/CALL qualifies regardless of operand kind.
func IsJop(instr decoder.Instruction, noisy bool) bool {
	switch instr.Op {
	case x86asm.JMP, x86asm.CALL:
		if noisy {
			return true
		}
		switch instr.Op0Kind {
		case decoder.KindRegister:
			return true
		case decoder.KindMemory:
			return instr.MemBase != x86asm.EIP && instr.MemBase != x86asm.RIP
		default:
			return false
		}
	default:
		return false
	}
}

// IsInvalid reports whether the decoder could not classify instr.
func IsInvalid(instr decoder.Instruction) bool {
	return instr.Invalid
}

// IsGadgetTail reports whether instr can terminate a gadget under the
// requested tail families (rop/sys/jop) and noise level.
func IsGadgetTail(instr decoder.Instruction, rop, sys, jop, noisy bool, thunks binary.ThunkTable) bool {
	if IsInvalid(instr) {
		return false
	}
	if instr.Flow == decoder.FlowNext {
		return false
	}
	if rop && IsTargetThunk(instr, thunks) {
		return true
	}
	if rop && IsRet(instr, thunks) {
		return true
	}
	if sys && IsSys(instr) {
		return true
	}
	if jop && IsJop(instr, noisy) {
		return true
	}
	return false
}

// IsRopGadgetHead reports whether instr is admissible as an interior
// (non-terminal) instruction of a gadget.
func IsRopGadgetHead(instr decoder.Instruction, noisy bool) bool {
	if IsInvalid(instr) {
		return false
	}
	if !noisy && instr.Prefixes.Any() {
		return false
	}
	switch instr.Flow {
	case decoder.FlowNext:
		return true
	case decoder.FlowConditionalBranch:
		return noisy
	case decoder.FlowCall:
		// Permits SYSCALL/SYSENTER (tagged Call but not the CALL
		// mnemonic) while still rejecting a plain direct CALL.
		return instr.Op != x86asm.CALL
	default:
		return false
	}
}

// pivotTargetSet is the {64,32,16-bit} aliases of the register a
// stack- or base-pivot head must write into.
type pivotTargetSet struct {
	r64, r32, r16 x86asm.Reg
}

var stackPivotRegs = pivotTargetSet{x86asm.RSP, x86asm.ESP, x86asm.SP}
var basePivotRegs = pivotTargetSet{x86asm.RBP, x86asm.EBP, x86asm.BP}

func (s pivotTargetSet) has(r x86asm.Reg) bool {
	return r == s.r64 || r == s.r32 || r == s.r16
}

// IsStackPivotHead reports whether instr reassigns RSP/ESP/SP.
func IsStackPivotHead(instr decoder.Instruction) bool {
	return isPivotHead(instr, stackPivotRegs)
}

// IsBasePivotHead reports whether instr reassigns RBP/EBP/BP.
func IsBasePivotHead(instr decoder.Instruction) bool {
	return isPivotHead(instr, basePivotRegs)
}

func isPivotHead(instr decoder.Instruction, target pivotTargetSet) bool {
	switch instr.Op {
	// x86asm has no ADCX/BNDMOV mnemonics (it does not decode the ADX
	// or MPX extensions), so those two kropr cases have no analogue
	// here; bytes for them simply decode as some other instruction or
	// INVALID and never reach this switch as a pivot head.
	case x86asm.ADC, x86asm.ADD, x86asm.SBB, x86asm.SUB,
		x86asm.CMOVA, x86asm.CMOVAE, x86asm.CMOVB, x86asm.CMOVBE, x86asm.CMOVE,
		x86asm.CMOVG, x86asm.CMOVGE, x86asm.CMOVL, x86asm.CMOVLE, x86asm.CMOVNE,
		x86asm.CMOVNO, x86asm.CMOVNP, x86asm.CMOVNS, x86asm.CMOVO, x86asm.CMOVP,
		x86asm.CMOVS,
		x86asm.CMPXCHG, x86asm.CMPXCHG8B, x86asm.CMPXCHG16B:
		return target.has(instr.Op0Reg) && instr.Op0Kind == decoder.KindRegister &&
			(instr.Op1Kind == decoder.KindImmediate || instr.Op1Kind == decoder.KindRegister)

	case x86asm.POP, x86asm.POPA, x86asm.POPAD:
		// Single-operand: x86asm leaves Args[1] nil (KindNone) here,
		// unlike iced_x86's zero-initialized operand slots, so the
		// pivot target is decided by op0 alone. "pop rsp"/"pop rbp" is
		// the classic pivot gadget this case exists for.
		return target.has(instr.Op0Reg) && instr.Op0Kind == decoder.KindRegister

	case x86asm.MOV, x86asm.MOVBE, x86asm.MOVD:
		return target.has(instr.Op0Reg) && instr.Op0Kind == decoder.KindRegister &&
			(instr.Op1Kind == decoder.KindRegister || instr.Op1Kind == decoder.KindMemory)

	case x86asm.XADD, x86asm.XCHG:
		return (instr.Op0Kind == decoder.KindRegister && target.has(instr.Op0Reg)) ||
			(instr.Op1Kind == decoder.KindRegister && target.has(instr.Op1Reg))

	case x86asm.LEAVE:
		return target == stackPivotRegs

	case x86asm.ENTER:
		return target == basePivotRegs

	default:
		return false
	}
}

// IsStackPivotTail reports whether instr is a valid gadget tail for a
// stack-pivot gadget: a plain or thunked return.
func IsStackPivotTail(instr decoder.Instruction, thunks binary.ThunkTable) bool {
	return IsRet(instr, thunks)
}

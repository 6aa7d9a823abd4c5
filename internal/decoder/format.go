package decoder

import (
	"fmt"
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

// formatAsm renders one decoded instruction as lowercase Intel-syntax
// text: hex literals prefixed 0x, no leading zeros, no uppercase, RIP-
// relative memory operands left unresolved, direct branch/call targets
// resolved to an absolute address. This text is the dedup key and
// regex-match target once joined across a gadget's instructions, so
// its exact shape must not drift.
func formatAsm(raw x86asm.Inst, inst Instruction) string {
	mnemonic := strings.ToLower(raw.Op.String())

	var operands []string
	for i, arg := range raw.Args {
		if arg == nil {
			break
		}
		operands = append(operands, formatOperand(arg, raw, inst, i))
	}

	if len(operands) == 0 {
		return mnemonic
	}
	return mnemonic + " " + strings.Join(operands, ", ")
}

func formatOperand(arg x86asm.Arg, raw x86asm.Inst, inst Instruction, idx int) string {
	switch a := arg.(type) {
	case x86asm.Reg:
		return strings.ToLower(a.String())
	case x86asm.Mem:
		return formatMem(a, raw)
	case x86asm.Imm:
		return formatImm(int64(a), raw.DataSize)
	case x86asm.Rel:
		if idx == 0 && inst.HasNearBranch {
			return fmt.Sprintf("0x%x", inst.NearBranchTarget)
		}
		return fmt.Sprintf("0x%x", int64(a))
	default:
		return ""
	}
}

func formatImm(v int64, bits int) string {
	if v >= 0 {
		return fmt.Sprintf("0x%x", v)
	}
	var mask uint64
	switch bits {
	case 8:
		mask = 0xff
	case 16:
		mask = 0xffff
	case 32:
		mask = 0xffffffff
	default:
		mask = 0xffffffffffffffff
	}
	return fmt.Sprintf("0x%x", uint64(v)&mask)
}

func formatMem(m x86asm.Mem, raw x86asm.Inst) string {
	var sb strings.Builder

	if size := memSizeName(raw.MemBytes); size != "" {
		sb.WriteString(size)
		sb.WriteString(" ptr ")
	}
	if m.Segment != 0 {
		sb.WriteString(strings.ToLower(m.Segment.String()))
		sb.WriteString(":")
	}

	sb.WriteString("[")
	first := true
	if m.Base != 0 {
		sb.WriteString(strings.ToLower(m.Base.String()))
		first = false
	}
	if m.Index != 0 {
		if !first {
			sb.WriteString("+")
		}
		sb.WriteString(strings.ToLower(m.Index.String()))
		sb.WriteString(fmt.Sprintf("*%d", m.Scale))
		first = false
	}
	if m.Disp != 0 || first {
		if m.Disp < 0 {
			sb.WriteString(fmt.Sprintf("-0x%x", -m.Disp))
		} else {
			if !first {
				sb.WriteString("+")
			}
			sb.WriteString(fmt.Sprintf("0x%x", m.Disp))
		}
	}
	sb.WriteString("]")

	return sb.String()
}

func memSizeName(n int) string {
	switch n {
	case 1:
		return "byte"
	case 2:
		return "word"
	case 4:
		return "dword"
	case 8:
		return "qword"
	case 16:
		return "xmmword"
	case 32:
		return "ymmword"
	default:
		return ""
	}
}

package binary

import (
	"bytes"
	"debug/elf"
	encbin "encoding/binary"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/arch/x86/x86asm"

	"github.com/zboralski/gadgetry/internal/decoder"
	"github.com/zboralski/gadgetry/internal/gdkerr"
	"github.com/zboralski/gadgetry/internal/glog"
)

// retpolineThunkSize is the stride of __x86_indirect_thunk_array: 32 bytes
// per register-indexed thunk.
const retpolineThunkSize = 32

// returnSitePatch is the 5-byte "ret; int3 x4" sequence that replaces
// a "jmp __x86_return_thunk" once the thunk's effect is undone.
var returnSitePatch = [5]byte{0xc3, 0xcc, 0xcc, 0xcc, 0xcc}

// decodeSelfRelativeSites decodes a packed array of i32 little-endian
// self-relative offsets out of data, a section's raw bytes starting
// at virtual address secAddr. Entry i resolves to the absolute VA
// secAddr + i*4 + sign_extend(entry_i).
func decodeSelfRelativeSites(data []byte, secAddr uint64) []uint64 {
	var sites []uint64
	for i := 0; i+4 <= len(data); i += 4 {
		entry := int32(encbin.LittleEndian.Uint32(data[i : i+4]))
		site := secAddr + uint64(i) + uint64(int64(entry))
		sites = append(sites, site)
	}
	return sites
}

// resolveSelfRelativeSites reads sec's raw bytes and decodes them as
// self-relative site offsets.
func resolveSelfRelativeSites(sec *elf.Section) ([]uint64, error) {
	data, err := sec.Data()
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", gdkerr.ErrParse, sec.Name, err)
	}
	return decodeSelfRelativeSites(data, sec.Addr), nil
}

func findSection(f *elf.File, name string) *elf.Section {
	for _, sec := range f.Sections {
		if sec.Name == name {
			return sec
		}
	}
	return nil
}

// ApplyReturnSites undoes the return-thunk CFI mitigation: for every
// resolved site inside .text, it overwrites the 5-byte "jmp
// __x86_return_thunk" with "ret; int3 x4". Sites landing outside
// .text (typically .init.text) are skipped silently, matching the
// upstream tool; sites whose landing bytes don't already decode as a
// direct 5-byte JMP rel32 (or as the patch itself, making the call
// idempotent) are skipped with a warning rather than blindly
// overwritten.
func (b *Binary) ApplyReturnSites(log *glog.Logger) error {
	f, err := elf.NewFile(bytes.NewReader(b.bytes))
	if err != nil {
		return fmt.Errorf("%w: %v", gdkerr.ErrParse, err)
	}
	defer f.Close()

	sitesSec := findSection(f, ".return_sites")
	if sitesSec == nil {
		log.Skipped(".return_sites section not found, skipping", glog.Section(".return_sites"))
		return nil
	}
	textSec := findSection(f, ".text")
	if textSec == nil {
		log.Skipped(".text section not found, skipping return-site patch", glog.Section(".text"))
		return nil
	}

	sites, err := resolveSelfRelativeSites(sitesSec)
	if err != nil {
		return err
	}

	for _, va := range sites {
		if va < textSec.Addr {
			continue
		}
		offset := va - textSec.Addr
		if offset > textSec.Size || offset+5 > uint64(len(b.bytes))-textSec.Offset {
			// Falls in a sibling section such as .init.text.
			continue
		}

		patchOffset := textSec.Offset + offset
		if patchOffset+5 > uint64(len(b.bytes)) {
			continue
		}

		window := b.bytes[patchOffset : patchOffset+5]
		if bytes.Equal(window, returnSitePatch[:]) {
			continue // already patched, idempotent no-op
		}

		var inst decoder.Instruction
		if err := decoder.DecodeAtOffset(b.bytes[patchOffset:], va, decoder.Bits64, 0, &inst); err != nil {
			return err
		}
		if inst.Invalid || inst.Op != x86asm.JMP || !inst.HasNearBranch || inst.Len != 5 {
			log.Skipped("return site landing bytes are not a direct jmp, skipping",
				glog.Addr(va), zap.String("mnemonic", inst.Asm()))
			continue
		}

		copy(b.bytes[patchOffset:patchOffset+5], returnSitePatch[:])
	}
	return nil
}

// PatchRetpolines undoes the retpoline CFI mitigation: for every
// resolved .retpoline_sites entry inside .text, it decodes the
// CALL/JMP rel32 targeting the thunk array and rewrites it as a
// direct indirect CALL/JMP through the selected register, NOP-filling
// the remainder of the original instruction's bytes.
func (b *Binary) PatchRetpolines(thunkArrayVA uint64, log *glog.Logger) error {
	f, err := elf.NewFile(bytes.NewReader(b.bytes))
	if err != nil {
		return fmt.Errorf("%w: %v", gdkerr.ErrParse, err)
	}
	defer f.Close()

	sitesSec := findSection(f, ".retpoline_sites")
	if sitesSec == nil {
		log.Skipped(".retpoline_sites section not found, skipping", glog.Section(".retpoline_sites"))
		return nil
	}
	textSec := findSection(f, ".text")
	if textSec == nil {
		log.Skipped(".text section not found, skipping retpoline patch", glog.Section(".text"))
		return nil
	}

	sites, err := resolveSelfRelativeSites(sitesSec)
	if err != nil {
		return err
	}

	for _, va := range sites {
		if va < textSec.Addr || va-textSec.Addr > textSec.Size {
			// .init.text or similar
			log.Skipped("retpoline site outside .text, skipping", glog.Addr(va))
			continue
		}
		offset := va - textSec.Addr

		patchOffset := textSec.Offset + offset
		if patchOffset+15 > uint64(len(b.bytes)) {
			continue
		}

		var inst decoder.Instruction
		if err := decoder.DecodeAtOffset(b.bytes[patchOffset:], va, decoder.Bits64, 0, &inst); err != nil {
			return err
		}
		if inst.Invalid || !inst.HasNearBranch || (inst.Op != x86asm.CALL && inst.Op != x86asm.JMP) {
			return fmt.Errorf("%w: retpoline site at %#x is neither a direct CALL nor JMP", gdkerr.ErrPatchFatal, va)
		}

		target := inst.NearBranchTarget
		if target < thunkArrayVA {
			return fmt.Errorf("%w: retpoline site at %#x targets before the thunk array", gdkerr.ErrPatchFatal, va)
		}
		reg := int((target - thunkArrayVA) / retpolineThunkSize)

		// Open question (b) from spec.md §9: bound the derived index
		// against the 16-entry thunk array, not just the RSP case.
		if reg < 0 || reg > 15 {
			return fmt.Errorf("%w: retpoline site at %#x resolves to out-of-range register index %d", gdkerr.ErrPatchFatal, va, reg)
		}
		if reg == 4 {
			return fmt.Errorf("%w: retpoline site at %#x targets RSP", gdkerr.ErrPatchFatal, va)
		}

		replacement := buildRetpolineReplacement(inst.Op == x86asm.CALL, reg, inst.Len)
		copy(b.bytes[patchOffset:patchOffset+uint64(inst.Len)], replacement)
	}
	return nil
}

// buildRetpolineReplacement builds the direct indirect CALL/JMP that
// replaces a retpoline call/jump site, per spec.md §4.C step 3-5:
// a 0x10 (CALL) or 0x20 (JMP) base ModR/M byte with mod=11 and the
// low 3 bits set to reg&7, a REX.B prefix when reg>=8, opcode 0xFF,
// then single-byte NOPs filling out to patchLen.
func buildRetpolineReplacement(isCall bool, reg int, patchLen int) []byte {
	var modrm byte
	if isCall {
		modrm = 0x10
	} else {
		modrm = 0x20
	}

	replacement := make([]byte, 0, 3)
	if reg >= 8 {
		replacement = append(replacement, 0x41) // REX.B
		reg -= 8
	}
	modrm |= 0xc0
	modrm += byte(reg)
	replacement = append(replacement, 0xff, modrm)

	for len(replacement) < patchLen {
		replacement = append(replacement, 0x90)
	}
	return replacement
}

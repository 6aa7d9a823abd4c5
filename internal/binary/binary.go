// Package binary loads an executable image, discovers its executable
// code regions, resolves symbols, and rewrites the two CFI mitigations
// a vmlinux image carries before gadget scanning begins.
package binary

import (
	"bytes"
	"debug/elf"
	"debug/pe"
	"fmt"
	"os"

	"github.com/zboralski/gadgetry/internal/decoder"
	"github.com/zboralski/gadgetry/internal/gdkerr"
)

// CodeRegion is a zero-copy view into a Binary's bytes. The absolute
// VA of byte i of Bytes is ProgramBase + SectionVA + i.
type CodeRegion struct {
	FileOffset  int
	SectionVA   uint64
	ProgramBase uint64
	Bitness     decoder.Bitness
	Bytes       []byte
}

// VA returns the absolute virtual address of byte offset within the
// region.
func (r CodeRegion) VA(offset int) uint64 {
	return r.ProgramBase + r.SectionVA + uint64(offset)
}

// Binary owns a file's complete bytes and path. It is mutable only
// through ApplyReturnSites/PatchRetpolines, both called at most once
// during a short single-threaded phase between loading and scanning;
// afterward it is treated as immutable and shared read-only across
// scanner workers.
type Binary struct {
	path  string
	bytes []byte
}

// Load reads path into memory.
func Load(path string) (*Binary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", gdkerr.ErrIO, path, err)
	}
	return &Binary{path: path, bytes: data}, nil
}

// Path returns the file path the Binary was loaded from.
func (b *Binary) Path() string {
	return b.path
}

// Bytes returns the complete file bytes. Callers must not retain a
// reference across a patch call.
func (b *Binary) Bytes() []byte {
	return b.bytes
}

// objectKind distinguishes the three inputs sections() dispatches on.
type objectKind int

const (
	kindUnknown objectKind = iota
	kindELF
	kindPE
)

func detectKind(data []byte) objectKind {
	switch {
	case bytes.HasPrefix(data, []byte("\x7fELF")):
		return kindELF
	case bytes.HasPrefix(data, []byte("MZ")):
		return kindPE
	default:
		return kindUnknown
	}
}

// Sections yields the code regions to scan, per spec.md §4.A:
//   - raw == true: a single region covering the whole file, VA 0, Bits64.
//   - raw == false, ELF: one region per executable program header.
//   - raw == false, PE: one region per IMAGE_SCN_MEM_EXECUTE section.
//   - raw unset: ELF ".text" sections by name, or PE
//     IMAGE_SCN_MEM_EXECUTE sections, falling back to a single raw
//     Bits32 region if neither parser accepts the file or it yields no
//     such section.
func (b *Binary) Sections(raw *bool) ([]CodeRegion, error) {
	if raw != nil && *raw {
		return []CodeRegion{{Bytes: b.bytes, Bitness: decoder.Bits64}}, nil
	}

	kind := detectKind(b.bytes)

	if raw != nil && !*raw {
		switch kind {
		case kindELF:
			return elfProgramHeaderRegions(b.bytes)
		case kindPE:
			return peExecSectionRegions(b.bytes)
		case kindUnknown:
			return nil, fmt.Errorf("%w: %s", gdkerr.ErrUnsupported, b.path)
		}
	}

	switch kind {
	case kindELF:
		regions, err := elfTextSectionRegions(b.bytes)
		if err == nil && len(regions) > 0 {
			return regions, nil
		}
	case kindPE:
		regions, err := peExecSectionRegions(b.bytes)
		if err == nil && len(regions) > 0 {
			return regions, nil
		}
	}
	return []CodeRegion{{Bytes: b.bytes, Bitness: decoder.Bits32}}, nil
}

func elfProgramHeaderRegions(data []byte) ([]CodeRegion, error) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gdkerr.ErrParse, err)
	}
	defer f.Close()

	bitness := elfBitness(f)
	var regions []CodeRegion
	for _, prog := range f.Progs {
		if prog.Flags&elf.PF_X == 0 {
			continue
		}
		start := int(prog.Off)
		end := start + int(prog.Filesz)
		if end > len(data) {
			end = len(data)
		}
		regions = append(regions, CodeRegion{
			FileOffset: start,
			SectionVA:  prog.Vaddr,
			Bitness:    bitness,
			Bytes:      data[start:end],
		})
	}
	return regions, nil
}

func elfTextSectionRegions(data []byte) ([]CodeRegion, error) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gdkerr.ErrParse, err)
	}
	defer f.Close()

	bitness := elfBitness(f)
	var regions []CodeRegion
	for _, sec := range f.Sections {
		if sec.Name != ".text" {
			continue
		}
		raw, err := sec.Data()
		if err != nil {
			continue
		}
		regions = append(regions, CodeRegion{
			FileOffset: int(sec.Offset),
			SectionVA:  sec.Addr,
			Bitness:    bitness,
			Bytes:      raw,
		})
	}
	return regions, nil
}

func elfBitness(f *elf.File) decoder.Bitness {
	if f.Class == elf.ELFCLASS64 {
		return decoder.Bits64
	}
	return decoder.Bits32
}

func peExecSectionRegions(data []byte) ([]CodeRegion, error) {
	f, err := pe.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gdkerr.ErrParse, err)
	}
	defer f.Close()

	bitness := decoder.Bits32
	var imageBase uint64
	switch opt := f.OptionalHeader.(type) {
	case *pe.OptionalHeader64:
		bitness = decoder.Bits64
		imageBase = opt.ImageBase
	case *pe.OptionalHeader32:
		imageBase = uint64(opt.ImageBase)
	}

	const imageScnMemExecute = 0x20000000

	var regions []CodeRegion
	for _, sec := range f.Sections {
		if sec.Characteristics&imageScnMemExecute == 0 {
			continue
		}
		raw, err := sec.Data()
		if err != nil {
			continue
		}
		regions = append(regions, CodeRegion{
			FileOffset:  int(sec.Offset),
			SectionVA:   uint64(sec.VirtualAddress),
			ProgramBase: imageBase,
			Bitness:     bitness,
			Bytes:       raw,
		})
	}
	return regions, nil
}

// GetSymAddr walks the ELF symbol table and returns the st_value of
// the first symbol named name. Only ELF is supported; requesting a
// symbol from a non-ELF image is a fatal error, matching the
// kernel-image use case this resolver exists for.
func (b *Binary) GetSymAddr(name string) (uint64, bool, error) {
	f, err := elf.NewFile(bytes.NewReader(b.bytes))
	if err != nil {
		return 0, false, fmt.Errorf("%w: symbol %q requires an ELF image: %v", gdkerr.ErrUnsupported, name, err)
	}
	defer f.Close()

	syms, err := f.Symbols()
	if err != nil {
		return 0, false, nil
	}
	for _, sym := range syms {
		if sym.Name == name {
			return sym.Value, true, nil
		}
	}
	return 0, false, nil
}

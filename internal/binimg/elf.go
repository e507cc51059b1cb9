package binimg

import (
	"debug/elf"
	"fmt"
	"strings"
)

func elfArch(m elf.Machine) string {
	switch m {
	case elf.EM_386:
		return "386"
	case elf.EM_X86_64:
		return "amd64"
	case elf.EM_AARCH64:
		return "arm64"
	default:
		return strings.ToLower(strings.TrimPrefix(m.String(), "EM_"))
	}
}

func openELF(path string) (*Image, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open elf: %w", err)
	}
	defer f.Close()

	all, m, err := mapFile(path)
	if err != nil {
		return nil, err
	}

	var loads []Seg
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		loads = append(loads, Seg{
			Name:   fmt.Sprintf("LOAD(%s)", p.Flags),
			Vaddr:  p.Vaddr,
			Off:    p.Off,
			Filesz: p.Filesz,
			Memsz:  p.Memsz,
			Exec:   p.Flags&elf.PF_X != 0,
		})
	}

	// Relocatable objects have no program headers; fall back to allocated sections.
	if len(loads) == 0 {
		for _, s := range f.Sections {
			if s.Flags&elf.SHF_ALLOC == 0 || s.Type == elf.SHT_NOBITS {
				continue
			}
			loads = append(loads, Seg{
				Name:   s.Name,
				Vaddr:  s.Addr,
				Off:    s.Offset,
				Filesz: s.Size,
				Memsz:  s.Size,
				Exec:   s.Flags&elf.SHF_EXECINSTR != 0,
			})
		}
	}

	var syms []Symbol
	syms = append(syms, elfSymbols(f.DynamicSymbols)...)
	syms = append(syms, elfSymbols(f.Symbols)...)

	im := New(path, FormatELF, elfArch(f.Machine), f.ByteOrder, all, loads, syms)
	if f.Class == elf.ELFCLASS64 {
		im.PtrSize = 8
	} else {
		im.PtrSize = 4
	}
	im.closer = m
	return im, nil
}

// elfSymbols loads one symbol table. Missing tables (stripped binaries) yield nothing.
func elfSymbols(load func() ([]elf.Symbol, error)) []Symbol {
	table, err := load()
	if err != nil {
		return nil
	}
	var out []Symbol
	for _, s := range table {
		// Skip undefined and PLT helper symbols.
		if s.Value == 0 || s.Section == elf.SHN_UNDEF || strings.HasSuffix(s.Name, "@plt") {
			continue
		}
		typ := elf.ST_TYPE(s.Info)
		if typ == elf.STT_SECTION || typ == elf.STT_FILE {
			continue
		}
		out = append(out, Symbol{
			Name: s.Name,
			Addr: s.Value,
			Func: typ == elf.STT_FUNC,
		})
	}
	return out
}

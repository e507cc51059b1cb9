package binimg

import (
	"debug/pe"
	"encoding/binary"
	"fmt"
	"strings"
)

func peArch(m uint16) string {
	switch m {
	case pe.IMAGE_FILE_MACHINE_I386:
		return "386"
	case pe.IMAGE_FILE_MACHINE_AMD64:
		return "amd64"
	case pe.IMAGE_FILE_MACHINE_ARM64:
		return "arm64"
	default:
		return fmt.Sprintf("pe-machine-%#x", m)
	}
}

func openPE(path string) (*Image, error) {
	f, err := pe.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pe: %w", err)
	}
	defer f.Close()

	var (
		base    uint64
		exports pe.DataDirectory
	)
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		base = uint64(oh.ImageBase)
		if oh.NumberOfRvaAndSizes > pe.IMAGE_DIRECTORY_ENTRY_EXPORT {
			exports = oh.DataDirectory[pe.IMAGE_DIRECTORY_ENTRY_EXPORT]
		}
	case *pe.OptionalHeader64:
		base = oh.ImageBase
		if oh.NumberOfRvaAndSizes > pe.IMAGE_DIRECTORY_ENTRY_EXPORT {
			exports = oh.DataDirectory[pe.IMAGE_DIRECTORY_ENTRY_EXPORT]
		}
	default:
		return nil, fmt.Errorf("open pe: missing optional header")
	}

	all, m, err := mapFile(path)
	if err != nil {
		return nil, err
	}

	var loads []Seg
	for _, s := range f.Sections {
		memsz := uint64(s.VirtualSize)
		if memsz == 0 {
			memsz = uint64(s.Size)
		}
		filesz := uint64(s.Size)
		if filesz > memsz {
			filesz = memsz
		}
		loads = append(loads, Seg{
			Name:   s.Name,
			Vaddr:  base + uint64(s.VirtualAddress),
			Off:    uint64(s.Offset),
			Filesz: filesz,
			Memsz:  memsz,
			Exec:   s.Characteristics&(pe.IMAGE_SCN_MEM_EXECUTE|pe.IMAGE_SCN_CNT_CODE) != 0,
		})
	}

	im := New(path, FormatPE, peArch(f.Machine), binary.LittleEndian, all, loads, nil)
	im.ImageBase = base
	im.closer = m

	for _, s := range im.peExports(exports) {
		im.addSymbol(s)
	}
	for _, s := range f.Symbols {
		if s.SectionNumber <= 0 || int(s.SectionNumber) > len(f.Sections) {
			continue
		}
		sec := f.Sections[s.SectionNumber-1]
		im.addSymbol(Symbol{
			Name: s.Name,
			Addr: base + uint64(sec.VirtualAddress) + uint64(s.Value),
			Func: sec.Characteristics&pe.IMAGE_SCN_CNT_CODE != 0,
		})
	}
	im.finish()
	return im, nil
}

// peExports walks IMAGE_EXPORT_DIRECTORY: the function RVA table plus the
// name and ordinal tables that index into it. Forwarded exports are skipped.
// Ordinal-only exports are named "Ordinal_<n>".
func (im *Image) peExports(dir pe.DataDirectory) []Symbol {
	if dir.VirtualAddress == 0 || dir.Size < 40 {
		return nil
	}
	hdr, ok := im.ReadBytesVA(im.ImageBase+uint64(dir.VirtualAddress), 40)
	if !ok {
		return nil
	}
	le := binary.LittleEndian
	ordBase := le.Uint32(hdr[16:])
	numFuncs := le.Uint32(hdr[20:])
	numNames := le.Uint32(hdr[24:])
	funcsRVA := le.Uint32(hdr[28:])
	namesRVA := le.Uint32(hdr[32:])
	ordsRVA := le.Uint32(hdr[36:])

	names := make(map[uint32]string, numNames)
	for i := uint32(0); i < numNames; i++ {
		nameRVA, ok1 := im.readU32(uint64(namesRVA) + uint64(i)*4)
		ordRaw, ok2 := im.ReadBytesVA(im.ImageBase+uint64(ordsRVA)+uint64(i)*2, 2)
		if !ok1 || !ok2 {
			break
		}
		names[uint32(le.Uint16(ordRaw))] = im.cString(im.ImageBase+uint64(nameRVA), 512)
	}

	var out []Symbol
	for i := uint32(0); i < numFuncs; i++ {
		rva, ok := im.readU32(uint64(funcsRVA) + uint64(i)*4)
		if !ok {
			break
		}
		if rva == 0 {
			continue
		}
		if rva >= dir.VirtualAddress && rva < dir.VirtualAddress+dir.Size {
			continue // forwarder string
		}
		name, ok := names[i]
		if !ok {
			name = fmt.Sprintf("Ordinal_%d", ordBase+i)
		}
		va := im.ImageBase + uint64(rva)
		out = append(out, Symbol{Name: name, Addr: va, Func: im.IsExecutable(va)})
	}
	return out
}

func (im *Image) readU32(rva uint64) (uint32, bool) {
	b, ok := im.ReadBytesVA(im.ImageBase+rva, 4)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint32(b), true
}

// cString reads a NUL-terminated string of at most max bytes.
func (im *Image) cString(va uint64, max int) string {
	var sb strings.Builder
	for i := 0; i < max; i++ {
		b, ok := im.ReadBytesVA(va+uint64(i), 1)
		if !ok || b[0] == 0 {
			break
		}
		sb.WriteByte(b[0])
	}
	return sb.String()
}

// Package binimg opens ELF and PE binaries, records their loadable segments and
// symbols, and maps virtual addresses to file bytes.
package binimg

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
)

// ErrUnknownFormat is returned by Open for files that are neither ELF nor PE.
var ErrUnknownFormat = errors.New("unknown binary format")

type Format string

const (
	FormatELF Format = "elf"
	FormatPE  Format = "pe"
)

// Image is a loaded binary. All holds the whole file; segments index into it.
type Image struct {
	Path      string
	Format    Format
	Arch      string // "386", "amd64", "arm64", or the raw machine name
	PtrSize   int
	ByteOrder binary.ByteOrder
	ImageBase uint64
	All       []byte
	Loads     []Seg
	Symbols   []Symbol

	byAddr map[uint64]int
	closer io.Closer
}

// Seg is a loadable region. Bytes past Filesz up to Memsz read as zero.
type Seg struct {
	Name   string
	Vaddr  uint64
	Off    uint64
	Filesz uint64
	Memsz  uint64
	Exec   bool
}

// Symbol is a named address. Func is false for data symbols when the format says so.
type Symbol struct {
	Name string
	Addr uint64
	Func bool
}

// Open sniffs the file magic and loads it as ELF or PE.
func Open(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	magic := make([]byte, 4)
	_, err = io.ReadFull(f, magic)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}

	switch {
	case bytes.Equal(magic, []byte("\x7fELF")):
		return openELF(path)
	case magic[0] == 'M' && magic[1] == 'Z':
		return openPE(path)
	default:
		return nil, fmt.Errorf("%s: %w", path, ErrUnknownFormat)
	}
}

// New builds an image from already-decoded parts. Used by loaders and tests.
func New(path string, format Format, arch string, order binary.ByteOrder, all []byte, loads []Seg, syms []Symbol) *Image {
	im := &Image{
		Path:      path,
		Format:    format,
		Arch:      arch,
		PtrSize:   ptrSizeFor(arch),
		ByteOrder: order,
		All:       all,
		Loads:     loads,
	}
	for _, s := range syms {
		im.addSymbol(s)
	}
	im.finish()
	return im
}

func ptrSizeFor(arch string) int {
	switch arch {
	case "amd64", "arm64":
		return 8
	default:
		return 4
	}
}

func (im *Image) addSymbol(s Symbol) {
	if s.Name == "" || s.Addr == 0 {
		return
	}
	im.Symbols = append(im.Symbols, s)
}

// finish sorts symbols and builds the address index. The first symbol seen at an
// address wins, so loaders add their preferred table first.
func (im *Image) finish() {
	sort.SliceStable(im.Symbols, func(i, j int) bool {
		return im.Symbols[i].Addr < im.Symbols[j].Addr
	})
	im.byAddr = make(map[uint64]int, len(im.Symbols))
	for i, s := range im.Symbols {
		if _, ok := im.byAddr[s.Addr]; !ok {
			im.byAddr[s.Addr] = i
		}
	}
}

// Close releases the file mapping.
func (im *Image) Close() error {
	im.All = nil
	if im.closer != nil {
		err := im.closer.Close()
		im.closer = nil
		return err
	}
	return nil
}

func (im *Image) segment(va uint64) (Seg, bool) {
	for _, l := range im.Loads {
		if va >= l.Vaddr && va < l.Vaddr+l.Memsz {
			return l, true
		}
	}
	return Seg{}, false
}

// VA2Off translates a virtual address into a file offset. It returns false if
// the VA is unmapped or not backed by file bytes.
func (im *Image) VA2Off(va uint64) (uint64, bool) {
	l, ok := im.segment(va)
	if !ok || va >= l.Vaddr+l.Filesz {
		return 0, false
	}
	return l.Off + (va - l.Vaddr), true
}

// Mapped reports whether VA lies in any loadable segment.
func (im *Image) Mapped(va uint64) bool {
	_, ok := im.segment(va)
	return ok
}

// IsExecutable reports whether VA lies in an executable segment.
func (im *Image) IsExecutable(va uint64) bool {
	l, ok := im.segment(va)
	return ok && l.Exec
}

// ReadBytesVA reads exactly size bytes from a virtual address. The range must
// stay inside one segment; the part past the file-backed size is zero-filled.
func (im *Image) ReadBytesVA(va uint64, size int) ([]byte, bool) {
	if size <= 0 {
		return []byte{}, true
	}
	l, ok := im.segment(va)
	if !ok || va+uint64(size) > l.Vaddr+l.Memsz {
		return nil, false
	}
	out := make([]byte, size)
	rel := va - l.Vaddr
	if rel < l.Filesz {
		n := l.Filesz - rel
		if n > uint64(size) {
			n = uint64(size)
		}
		start := l.Off + rel
		if start+n > uint64(len(im.All)) {
			return nil, false
		}
		copy(out, im.All[start:start+n])
	}
	return out, true
}

// CodeAt returns up to max bytes starting at va, clipped to the end of the
// file-backed part of the segment.
func (im *Image) CodeAt(va uint64, max int) ([]byte, bool) {
	l, ok := im.segment(va)
	if !ok || va >= l.Vaddr+l.Filesz {
		return nil, false
	}
	n := l.Filesz - (va - l.Vaddr)
	if n > uint64(max) {
		n = uint64(max)
	}
	return im.ReadBytesVA(va, int(n))
}

// SymbolAt returns the symbol starting exactly at addr.
func (im *Image) SymbolAt(addr uint64) (Symbol, bool) {
	i, ok := im.byAddr[addr]
	if !ok {
		return Symbol{}, false
	}
	return im.Symbols[i], true
}

// FindSymbol searches for a symbol by name.
func (im *Image) FindSymbol(name string) (Symbol, bool) {
	for _, s := range im.Symbols {
		if s.Name == name {
			return s, true
		}
	}
	return Symbol{}, false
}

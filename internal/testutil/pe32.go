// Package testutil builds small synthetic binaries for tests.
package testutil

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

// Layout of images produced by BuildPE32.
const (
	PEImageBase = 0x10000000
	PETextRVA   = 0x1000
	PERDataRVA  = 0x2000
	PETableRVA  = 0x2100 // start of the caller-supplied table bytes

	peFileAlign = 0x200
	peSectSize  = 0x200
	peTextOff   = 0x200
	peRDataOff  = 0x400
)

// Export names an exported function by its RVA.
type Export struct {
	Name string
	RVA  uint32
}

// BuildPE32 returns an i386 PE32 DLL with a .text section holding text at
// PETextRVA and an .rdata section holding the export directory followed by
// table at PETableRVA. text and table must each fit in 0x100 bytes.
func BuildPE32(text, table []byte, exports []Export) []byte {
	if len(text) > peSectSize || len(table) > 0x100 {
		panic("testutil: section content too large")
	}
	le := binary.LittleEndian
	file := make([]byte, peRDataOff+peSectSize)

	// DOS header: magic and e_lfanew.
	copy(file, "MZ")
	le.PutUint32(file[0x3c:], 0x40)

	var hdr bytes.Buffer
	hdr.WriteString("PE\x00\x00")
	binary.Write(&hdr, le, pe.FileHeader{
		Machine:              pe.IMAGE_FILE_MACHINE_I386,
		NumberOfSections:     2,
		SizeOfOptionalHeader: 224,
		Characteristics:      pe.IMAGE_FILE_EXECUTABLE_IMAGE | pe.IMAGE_FILE_32BIT_MACHINE | pe.IMAGE_FILE_DLL,
	})

	rdata, exportSize := exportDirectory(exports)
	oh := pe.OptionalHeader32{
		Magic:                 0x10b,
		SizeOfCode:            peSectSize,
		BaseOfCode:            PETextRVA,
		BaseOfData:            PERDataRVA,
		ImageBase:             PEImageBase,
		SectionAlignment:      0x1000,
		FileAlignment:         peFileAlign,
		MajorSubsystemVersion: 4,
		SizeOfImage:           0x3000,
		SizeOfHeaders:         peFileAlign,
		Subsystem:             pe.IMAGE_SUBSYSTEM_WINDOWS_GUI,
		NumberOfRvaAndSizes:   16,
	}
	if exportSize > 0 {
		oh.DataDirectory[pe.IMAGE_DIRECTORY_ENTRY_EXPORT] = pe.DataDirectory{VirtualAddress: PERDataRVA, Size: exportSize}
	}
	binary.Write(&hdr, le, oh)

	binary.Write(&hdr, le, pe.SectionHeader32{
		Name:             [8]uint8{'.', 't', 'e', 'x', 't'},
		VirtualSize:      peSectSize,
		VirtualAddress:   PETextRVA,
		SizeOfRawData:    peSectSize,
		PointerToRawData: peTextOff,
		Characteristics:  pe.IMAGE_SCN_CNT_CODE | pe.IMAGE_SCN_MEM_EXECUTE | pe.IMAGE_SCN_MEM_READ,
	})
	binary.Write(&hdr, le, pe.SectionHeader32{
		Name:             [8]uint8{'.', 'r', 'd', 'a', 't', 'a'},
		VirtualSize:      peSectSize,
		VirtualAddress:   PERDataRVA,
		SizeOfRawData:    peSectSize,
		PointerToRawData: peRDataOff,
		Characteristics:  pe.IMAGE_SCN_CNT_INITIALIZED_DATA | pe.IMAGE_SCN_MEM_READ,
	})
	copy(file[0x40:], hdr.Bytes())

	// Pad code with int3 like a linker would.
	textSect := file[peTextOff : peTextOff+peSectSize]
	for i := range textSect {
		textSect[i] = 0xcc
	}
	copy(textSect, text)

	copy(file[peRDataOff:], rdata)
	copy(file[peRDataOff+(PETableRVA-PERDataRVA):], table)
	return file
}

// exportDirectory lays out IMAGE_EXPORT_DIRECTORY, the function, name and
// ordinal tables, then the name strings, all relative to PERDataRVA.
func exportDirectory(exports []Export) ([]byte, uint32) {
	if len(exports) == 0 {
		return nil, 0
	}
	le := binary.LittleEndian
	n := uint32(len(exports))
	funcs := uint32(PERDataRVA + 40)
	names := funcs + 4*n
	ords := names + 4*n
	strs := ords + 2*n

	buf := make([]byte, 0x100)
	le.PutUint32(buf[16:], 1) // ordinal base
	le.PutUint32(buf[20:], n)
	le.PutUint32(buf[24:], n)
	le.PutUint32(buf[28:], funcs)
	le.PutUint32(buf[32:], names)
	le.PutUint32(buf[36:], ords)

	at := strs
	for i, e := range exports {
		le.PutUint32(buf[funcs-PERDataRVA+uint32(i)*4:], e.RVA)
		le.PutUint32(buf[names-PERDataRVA+uint32(i)*4:], at)
		le.PutUint16(buf[ords-PERDataRVA+uint32(i)*2:], uint16(i))
		copy(buf[at-PERDataRVA:], e.Name)
		at += uint32(len(e.Name)) + 1
	}
	if at-PERDataRVA > uint32(len(buf)) {
		panic("testutil: export names overflow")
	}
	return buf[:at-PERDataRVA], at - PERDataRVA
}

// WritePE32 writes BuildPE32 output to a temp file and returns its path.
func WritePE32(t testing.TB, text, table []byte, exports []Export) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sample.dll")
	if err := os.WriteFile(path, BuildPE32(text, table, exports), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// Slots encodes little-endian {uint32 pointer, uint32 tag} pairs.
func Slots(pairs ...[2]uint32) []byte {
	out := make([]byte, 8*len(pairs))
	for i, p := range pairs {
		binary.LittleEndian.PutUint32(out[i*8:], p[0])
		binary.LittleEndian.PutUint32(out[i*8+4:], p[1])
	}
	return out
}

// RVAs of the functions in SampleText.
const (
	SampleStdcallRVA = 0x1000 // int __stdcall f(a, b): two stack args, ret 8
	SampleCdeclRVA   = 0x1010 // int __cdecl f(a): reads [esp+4]
	SampleVoidRVA    = 0x1020 // void f(void): bare ret
)

// SampleText returns i386 code for the three sample functions.
func SampleText() []byte {
	text := bytes.Repeat([]byte{0xcc}, 0x30)
	copy(text[0x00:], []byte{
		0x55,             // push ebp
		0x8b, 0xec,       // mov ebp, esp
		0x8b, 0x45, 0x08, // mov eax, [ebp+8]
		0x03, 0x45, 0x0c, // add eax, [ebp+0xc]
		0x5d,             // pop ebp
		0xc2, 0x08, 0x00, // ret 8
	})
	copy(text[0x10:], []byte{
		0x8b, 0x44, 0x24, 0x04, // mov eax, [esp+4]
		0xc3,                   // ret
	})
	copy(text[0x20:], []byte{0xc3})
	return text
}

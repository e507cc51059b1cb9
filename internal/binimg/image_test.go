package binimg

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"tablewalk/internal/testutil"
)

func TestOpenPE32(t *testing.T) {
	table := testutil.Slots(
		[2]uint32{testutil.PEImageBase + testutil.SampleStdcallRVA, 0x0150e828},
		[2]uint32{0, 0xd22bdd7e},
	)
	path := testutil.WritePE32(t, testutil.SampleText(), table, []testutil.Export{
		{Name: "nvapi_QueryInterface", RVA: testutil.SampleStdcallRVA},
	})

	im, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer im.Close()

	if im.Format != FormatPE {
		t.Errorf("Format = %q, want %q", im.Format, FormatPE)
	}
	if im.Arch != "386" || im.PtrSize != 4 {
		t.Errorf("Arch/PtrSize = %s/%d, want 386/4", im.Arch, im.PtrSize)
	}
	if im.ImageBase != testutil.PEImageBase {
		t.Errorf("ImageBase = %#x", im.ImageBase)
	}

	fn := uint64(testutil.PEImageBase + testutil.SampleStdcallRVA)
	sym, ok := im.SymbolAt(fn)
	if !ok || sym.Name != "nvapi_QueryInterface" || !sym.Func {
		t.Errorf("SymbolAt(%#x) = %+v, %v", fn, sym, ok)
	}
	if !im.IsExecutable(fn) {
		t.Errorf("IsExecutable(%#x) = false", fn)
	}

	slot := uint64(testutil.PEImageBase + testutil.PETableRVA)
	if im.IsExecutable(slot) {
		t.Errorf("table slot reported executable")
	}
	b, ok := im.ReadBytesVA(slot, 8)
	if !ok {
		t.Fatalf("ReadBytesVA(%#x) failed", slot)
	}
	if got := binary.LittleEndian.Uint32(b); got != uint32(fn) {
		t.Errorf("pointer = %#x, want %#x", got, fn)
	}
	if got := binary.LittleEndian.Uint32(b[4:]); got != 0x0150e828 {
		t.Errorf("tag = %#x", got)
	}
}

func TestReadBytesVABounds(t *testing.T) {
	all := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	im := New("mem", FormatELF, "arm64", binary.LittleEndian, all, []Seg{
		{Name: "code", Vaddr: 0x1000, Off: 0, Filesz: 4, Memsz: 4, Exec: true},
		{Name: "bss", Vaddr: 0x2000, Off: 4, Filesz: 2, Memsz: 8},
	}, []Symbol{{Name: "f", Addr: 0x1000, Func: true}, {Name: "dup", Addr: 0x1000}})

	tests := []struct {
		name string
		va   uint64
		size int
		want []byte
		ok   bool
	}{
		{"start of code", 0x1000, 4, []byte{1, 2, 3, 4}, true},
		{"past segment", 0x1002, 4, nil, false},
		{"unmapped", 0x3000, 1, nil, false},
		{"zero fill", 0x2000, 4, []byte{5, 6, 0, 0}, true},
		{"empty", 0x9999, 0, []byte{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := im.ReadBytesVA(tt.va, tt.size)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if string(got) != string(tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}

	if s, _ := im.SymbolAt(0x1000); s.Name != "f" {
		t.Errorf("SymbolAt picked %q, want first symbol f", s.Name)
	}
	if _, ok := im.VA2Off(0x2004); ok {
		t.Errorf("VA2Off in zero-filled tail should fail")
	}
	if code, ok := im.CodeAt(0x1001, 64); !ok || len(code) != 3 {
		t.Errorf("CodeAt = %v, %v", code, ok)
	}
}

func TestOpenUnknownFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blob.bin")
	if err := os.WriteFile(path, []byte("not a binary"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Open(path)
	if !errors.Is(err, ErrUnknownFormat) {
		t.Fatalf("err = %v, want ErrUnknownFormat", err)
	}
}

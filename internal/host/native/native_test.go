package native

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablewalk/internal/binimg"
	"tablewalk/internal/disasm"
	"tablewalk/internal/host"
	"tablewalk/internal/testutil"
)

func openSample(t *testing.T, exports ...testutil.Export) *Host {
	t.Helper()
	path := testutil.WritePE32(t, testutil.SampleText(), testutil.Slots([2]uint32{0, 0}), exports)
	h, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func TestFunctionAt(t *testing.T) {
	h := openSample(t, testutil.Export{Name: "nvapi_QueryInterface", RVA: testutil.SampleStdcallRVA})
	ctx := context.Background()

	tests := []struct {
		name     string
		addr     uint64
		wantOK   bool
		wantName string
	}{
		{"export", testutil.PEImageBase + testutil.SampleStdcallRVA, true, "nvapi_QueryInterface"},
		{"unnamed", testutil.PEImageBase + testutil.SampleCdeclRVA, true, "FUN_10001010"},
		{"null pointer", 0, false, ""},
		{"data section", testutil.PEImageBase + testutil.PETableRVA, false, ""},
		{"unmapped", 0x7fff0000, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn, ok, err := h.FunctionAt(ctx, tt.addr)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantName, fn.Name)
			if ok {
				assert.Equal(t, tt.addr, fn.Entry)
			}
		})
	}
}

func TestDecompileSample(t *testing.T) {
	h := openSample(t)
	ctx := context.Background()

	tests := []struct {
		rva        uint64
		signature  string
		parameters []string
	}{
		{testutil.SampleStdcallRVA, "int __stdcall FUN_10001000(int param_1,int param_2);", []string{"int param_1", "int param_2"}},
		{testutil.SampleCdeclRVA, "int __cdecl FUN_10001010(int param_1);", []string{"int param_1"}},
		{testutil.SampleVoidRVA, "void __cdecl FUN_10001020(void);", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.signature, func(t *testing.T) {
			fn, ok, err := h.FunctionAt(ctx, testutil.PEImageBase+tt.rva)
			require.NoError(t, err)
			require.True(t, ok)

			got, err := h.Decompile(ctx, fn, time.Second, host.Discard)
			require.NoError(t, err)
			assert.Equal(t, tt.signature, got.Signature)
			assert.Equal(t, tt.parameters, got.Parameters)
		})
	}
}

func TestDecompileDebugMonitor(t *testing.T) {
	t.Setenv("TABLEWALK_LOG_LEVEL", "debug")
	h := openSample(t)
	ctx := context.Background()

	fn, ok, err := h.FunctionAt(ctx, testutil.PEImageBase+testutil.SampleStdcallRVA)
	require.NoError(t, err)
	require.True(t, ok)

	var msgs []string
	_, err = h.Decompile(ctx, fn, time.Second, host.MonitorFunc(func(msg string) { msgs = append(msgs, msg) }))
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "FUN_10001000: ")
	assert.Contains(t, msgs[0], " instructions, 2 params")
}

func TestReadMemory(t *testing.T) {
	h := openSample(t)

	b, err := h.ReadMemory(testutil.PEImageBase+testutil.SampleVoidRVA, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xc3, 0xcc}, b)

	_, err = h.ReadMemory(0x10, 4)
	assert.ErrorIs(t, err, host.ErrUnmapped)
}

func TestRecoverPrototype(t *testing.T) {
	tests := []struct {
		name   string
		arch   string
		format binimg.Format
		code   []byte
		want   string
	}{
		{
			name:   "sysv two args",
			arch:   "amd64",
			format: binimg.FormatELF,
			code:   []byte{0x48, 0x89, 0xf8, 0x48, 0x01, 0xf0, 0xc3}, // mov rax,rdi; add rax,rsi; ret
			want:   "long f(long param_1,long param_2);",
		},
		{
			name:   "win64 one arg",
			arch:   "amd64",
			format: binimg.FormatPE,
			code:   []byte{0x89, 0xc8, 0xc3}, // mov eax,ecx; ret
			want:   "long __fastcall f(long param_1);",
		},
		{
			name:   "zeroing idiom is not a read",
			arch:   "amd64",
			format: binimg.FormatELF,
			code:   []byte{0x31, 0xc0, 0xc3}, // xor eax,eax; ret
			want:   "long f(void);",
		},
		{
			name:   "call clobbers argument registers",
			arch:   "amd64",
			format: binimg.FormatELF,
			code:   []byte{0xe8, 0, 0, 0, 0, 0x48, 0x89, 0xf8, 0xc3}, // call; mov rax,rdi; ret
			want:   "long f(void);",
		},
		{
			name:   "arm64 add",
			arch:   "arm64",
			format: binimg.FormatELF,
			code:   []byte{0x00, 0x00, 0x01, 0x8b, 0xc0, 0x03, 0x5f, 0xd6}, // add x0,x0,x1; ret
			want:   "long f(long param_1,long param_2);",
		},
		{
			name:   "arm64 store only",
			arch:   "arm64",
			format: binimg.FormatELF,
			code:   []byte{0x62, 0x00, 0x00, 0xf9, 0xc0, 0x03, 0x5f, 0xd6}, // str x2,[x3]; ret
			want:   "void f(long param_1,long param_2,long param_3,long param_4);",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := disasm.Decode(tt.arch, tt.code, 0x1000, 64)
			require.NoError(t, err)
			assert.Equal(t, tt.want, recoverPrototype(tt.arch, tt.format, s).format("f"))
		})
	}
}

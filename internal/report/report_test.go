package report

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablewalk/internal/ui/colorize"
	"tablewalk/internal/walker"
)

func sampleRecords() []walker.Record {
	return []walker.Record{
		{
			Address:    "0x10001000",
			QueryCode:  "0x0150e828",
			Name:       "FUN_10001000",
			Signature:  "int __stdcall FUN_10001000(int param_1,int param_2);",
			Parameters: []string{"int param_1", "int param_2"},
			KnownName:  "Initialize",
			Found:      true,
		},
		{
			Address:   "0x00000000",
			QueryCode: "0xd22bdd7e",
			Name:      walker.NoFunction,
		},
	}
}

func TestWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "functions.txt")
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0o644))

	require.NoError(t, WriteJSON(path, sampleRecords()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "[\n  {"), "indented array: %s", data)

	var got []map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	require.Len(t, got, 2)
	assert.Equal(t, "int __stdcall FUN_10001000(int param_1,int param_2);", got[0]["signature"])
	assert.Equal(t, []any{"int param_1", "int param_2"}, got[0]["parameters"])
	assert.Equal(t, walker.NoFunction, got[1]["name"])
	assert.NotContains(t, got[1], "signature")
	assert.NotContains(t, got[1], "parameters")

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file left behind")
}

func TestWriteJSONMissingDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope", "functions.txt")
	assert.Error(t, WriteJSON(path, nil))
}

func TestEncodeEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, nil))
	assert.Equal(t, "[]\n", buf.String())
}

func TestEncodeNoHTMLEscape(t *testing.T) {
	var buf bytes.Buffer
	recs := []walker.Record{{Name: "operator<<", Address: "0x1", QueryCode: "0x2"}}
	require.NoError(t, Encode(&buf, recs))
	assert.Contains(t, buf.String(), `"operator<<"`)
}

func TestEncodeSignatureOperators(t *testing.T) {
	var buf bytes.Buffer
	recs := []walker.Record{{
		Address:    "0x10001000",
		QueryCode:  "0x00000001",
		Name:       "operator<",
		Signature:  "bool operator<(A &a,B &b);",
		Parameters: []string{"A &a", "B &b"},
		Found:      true,
	}}
	require.NoError(t, Encode(&buf, recs))
	assert.Contains(t, buf.String(), `"signature": "bool operator<(A &a,B &b);"`)
	assert.NotContains(t, buf.String(), `\u0026`)
}

func TestBannerRecord(t *testing.T) {
	recs := sampleRecords()

	var buf bytes.Buffer
	require.NoError(t, BannerRecord(&buf, recs[0]))
	assert.True(t, strings.HasPrefix(buf.String(), "{\n  \"address\": \"0x10001000\","), buf.String())
	assert.Contains(t, buf.String(), `"known_name": "Initialize"`)

	buf.Reset()
	require.NoError(t, BannerRecord(&buf, recs[1]))
	assert.Empty(t, buf.String(), "empty slots have no record block")
}

func TestDefaultPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	got, err := DefaultPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "functions.txt"), got)
}

func TestBannerPlain(t *testing.T) {
	var buf bytes.Buffer
	recs := sampleRecords()
	Banner(&buf, recs[0], false)
	want := strings.Repeat("X", 54) + "\n" +
		"Query Code: 0x0150e828\n" +
		"Known As: Initialize\n" +
		"Function Address: 0x10001000\n" +
		"Name: FUN_10001000\n" +
		"Signature: int __stdcall FUN_10001000(int param_1,int param_2);\n"
	assert.Equal(t, want, buf.String())

	buf.Reset()
	Banner(&buf, walker.Record{Address: "0x10001030", QueryCode: "0x1", Name: "FUN_10001030", Error: "boom"}, false)
	assert.Contains(t, buf.String(), "Error: boom\n")
	assert.NotContains(t, buf.String(), "Signature:")
}

func TestBannerColor(t *testing.T) {
	t.Setenv("TABLEWALK_NO_COLOR", "")
	t.Setenv("NO_COLOR", "")
	var buf bytes.Buffer
	rec := sampleRecords()[0]
	Banner(&buf, rec, true)
	out := buf.String()
	assert.Contains(t, out, "\x1b[")
	assert.Contains(t, colorize.StripANSI(out), "Signature: "+rec.Signature)
}

func TestSummaryMarkdown(t *testing.T) {
	recs := sampleRecords()
	recs = append(recs, walker.Record{Address: "0x10001030", QueryCode: "0x3", Name: "a|b", Error: "decompile failed", Found: true})
	st := walker.Stats{Slots: 3, Functions: 2, Missing: 1, Failed: 1, Elapsed: 1500 * time.Millisecond}

	md := SummaryMarkdown(recs, st)
	assert.Contains(t, md, "3 slots, 2 functions, 1 empty, 1 failed in 1.5s.")
	assert.Contains(t, md, "| `0x0150e828` | Initialize | `0x10001000` | FUN_10001000 | 2 |")
	assert.Contains(t, md, "| `0xd22bdd7e` | - | `0x00000000` | No Function here | - |")
	assert.Contains(t, md, `a\|b`)
	assert.Contains(t, md, "*decompile failed*")

	assert.Contains(t, SummaryMarkdown(nil, walker.Stats{}), "*No slots.*")
}

func TestSummaryRenders(t *testing.T) {
	out, err := Summary(sampleRecords(), walker.Stats{Slots: 2, Functions: 1, Missing: 1}, 120, false)
	require.NoError(t, err)
	assert.Contains(t, out, "FUN_10001000")
	assert.Contains(t, out, "Initialize")
}

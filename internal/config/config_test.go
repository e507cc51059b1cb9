package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablewalk/internal/signature"
	"tablewalk/internal/walker"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tablewalk.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := load("", map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Stride)
	assert.Equal(t, 4, cfg.PointerSize)
	assert.Equal(t, 4, cfg.TagOffset)
	assert.Equal(t, BackendNative, cfg.Backend)
	assert.Equal(t, 1000*time.Second, cfg.DecompileTimeout)
	assert.Equal(t, "fixed", cfg.TagFormat)
	assert.Equal(t, "legacy", cfg.Params)
	assert.NoError(t, cfg.Validate())
}

func TestLayering(t *testing.T) {
	path := writeFile(t, `
binary: nvapi.dll
start: 0x10395010
end: "0x10398af0"
params: tolerant
decompile_timeout: 30s
enrich: [known-tags, pointers]
tags:
  "0x12345678": Custom
ghidra:
  home: /opt/ghidra
`)

	cfg, err := load(path, map[string]string{
		"TABLEWALK_PARAMS":      "host",
		"TABLEWALK_STRIDE":      "16",
		"TABLEWALK_GHIDRA_HOME": "/usr/share/ghidra",
		"TABLEWALK_ENRICH":      "demangle,pointers",
		"TABLEWALK_END":         "0x10398b00",
	})
	require.NoError(t, err)

	assert.Equal(t, "nvapi.dll", cfg.Binary)
	assert.Equal(t, Address(0x10395010), cfg.Start, "file layer")
	assert.Equal(t, Address(0x10398b00), cfg.End, "env overrides file")
	assert.Equal(t, "host", cfg.Params)
	assert.Equal(t, 16, cfg.Stride)
	assert.Equal(t, 30*time.Second, cfg.DecompileTimeout)
	assert.Equal(t, []string{"demangle", "pointers"}, cfg.Enrich)
	assert.Equal(t, map[string]string{"0x12345678": "Custom"}, cfg.Tags)
	assert.Equal(t, "/usr/share/ghidra", cfg.Ghidra.Home)

	w := cfg.Walker()
	assert.Equal(t, uint64(0x10395010), w.Start)
	assert.Equal(t, signature.Host, w.Params)
	assert.Equal(t, walker.TagFixed, w.TagFormat)
}

func TestLoadErrors(t *testing.T) {
	_, err := load(filepath.Join(t.TempDir(), "missing.yaml"), map[string]string{})
	assert.Error(t, err)

	_, err = load(writeFile(t, "strides: 8\n"), map[string]string{})
	assert.ErrorContains(t, err, "strides", "unknown keys are rejected")

	_, err = load(writeFile(t, "start: [1]\n"), map[string]string{})
	assert.Error(t, err)

	_, err = load("", map[string]string{"TABLEWALK_START": "nope"})
	assert.Error(t, err)

	cfg, err := load(writeFile(t, ""), map[string]string{})
	require.NoError(t, err, "empty file keeps defaults")
	assert.Equal(t, 8, cfg.Stride)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"end before start", func(c *Config) { c.Start, c.End = 0x2000, 0x1000 }, "before start"},
		{"backend", func(c *Config) { c.Backend = "ida" }, "backend"},
		{"tag format", func(c *Config) { c.TagFormat = "octal" }, "tag format"},
		{"params", func(c *Config) { c.Params = "regex" }, "parameter mode"},
		{"pointer size", func(c *Config) { c.PointerSize = 3 }, "pointer size"},
		{"cache", func(c *Config) { c.CacheSize = -1 }, "cache_size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestAddress(t *testing.T) {
	tests := []struct {
		in      string
		want    Address
		wantErr bool
	}{
		{"0x10395010", 0x10395010, false},
		{"0X1000", 0x1000, false},
		{"4096", 4096, false},
		{"dead_beef", 0xdeadbeef, false},
		{"", 0, true},
		{"0xzz", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseAddress(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	var a Address
	require.NoError(t, json.Unmarshal([]byte(`4096`), &a))
	assert.Equal(t, Address(0x1000), a)
	require.NoError(t, json.Unmarshal([]byte(`"0x20"`), &a))
	assert.Equal(t, "0x20", a.String())
	b, err := json.Marshal(a)
	require.NoError(t, err)
	assert.Equal(t, `"0x20"`, string(b))
}

package walker

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablewalk/internal/host"
	"tablewalk/internal/host/hosttest"
	"tablewalk/internal/signature"
	"tablewalk/internal/testutil"
)

const tableBase = 0x1000

func rangeConfig(start, end uint64) Config {
	cfg := DefaultConfig()
	cfg.Start, cfg.End = start, end
	return cfg
}

func TestWalkSlotCount(t *testing.T) {
	mem := testutil.Slots(
		[2]uint32{0x401000, 1},
		[2]uint32{0x402000, 2},
		[2]uint32{0x403000, 3},
		[2]uint32{0x404000, 4},
		[2]uint32{0x405000, 5},
	)
	h := hosttest.New(tableBase, mem)

	tests := []struct {
		name       string
		start, end uint64
		want       int
	}{
		{"single slot", 0x1000, 0x1000, 1},
		{"end is inclusive", 0x1000, 0x1008, 2},
		{"whole table", 0x1000, 0x1020, 5},
		{"unaligned end rounds up", 0x1000, 0x1011, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SlotCount(tt.start, tt.end, 8))
			recs, err := Walk(context.Background(), h, rangeConfig(tt.start, tt.end), Options{})
			require.NoError(t, err)
			require.Len(t, recs, tt.want)
			for i, r := range recs {
				assert.Equal(t, i, r.Slot)
				assert.Equal(t, FormatTag(uint32(i+1), TagFixed), r.QueryCode)
			}
		})
	}
}

func TestWalkEndToEnd(t *testing.T) {
	mem := testutil.Slots([2]uint32{0x401000, 0x0150e828}, [2]uint32{0x402000, 0xd22bdd7e})
	h := hosttest.New(tableBase, mem)
	h.AddFunction(0x401000, "Foo", "int Foo(int a, char * b);")

	t.Run("function found", func(t *testing.T) {
		recs, err := Walk(context.Background(), h, rangeConfig(0x1000, 0x1000), Options{})
		require.NoError(t, err)
		require.Len(t, recs, 1)

		got, err := json.Marshal(recs[0])
		require.NoError(t, err)
		assert.JSONEq(t, `{
			"address": "0x00401000",
			"query_code": "0x0150e828",
			"name": "Foo",
			"signature": "int Foo(int a, char * b);",
			"parameters": ["int a", " char * b"]
		}`, string(got))
	})

	t.Run("no function", func(t *testing.T) {
		recs, err := Walk(context.Background(), h, rangeConfig(0x1008, 0x1008), Options{})
		require.NoError(t, err)
		require.Len(t, recs, 1)

		got, err := json.Marshal(recs[0])
		require.NoError(t, err)
		assert.Equal(t, `{"address":"0x00402000","query_code":"0xd22bdd7e","name":"No Function here"}`, string(got))
	})
}

func TestWalkTagFormat(t *testing.T) {
	mem := testutil.Slots([2]uint32{0, 0xffffffff}, [2]uint32{0, 0x0150e828})
	h := hosttest.New(tableBase, mem)

	cfg := rangeConfig(0x1000, 0x1008)
	recs, err := Walk(context.Background(), h, cfg, Options{})
	require.NoError(t, err)
	assert.Equal(t, "0xffffffff", recs[0].QueryCode)
	assert.Equal(t, "0x0150e828", recs[1].QueryCode)
	assert.Equal(t, uint32(0xffffffff), recs[0].Tag)

	cfg.TagFormat = TagLegacy
	recs, err = Walk(context.Background(), h, cfg, Options{})
	require.NoError(t, err)
	assert.Equal(t, "0xffffffff", recs[0].QueryCode)
	assert.Equal(t, "0x150e828", recs[1].QueryCode)

	assert.Equal(t, uint32(0xfffffffe), DecodeTag(-2))
	v, err := ParseTag("0x150e828")
	require.NoError(t, err)
	assert.Equal(t, uint32(0x0150e828), v)
}

func TestWalkParameterModes(t *testing.T) {
	mem := testutil.Slots([2]uint32{0x401000, 1})
	h := hosttest.New(tableBase, mem)
	h.Functions[0x401000] = host.Function{Entry: 0x401000, Name: "f"}
	h.Results[0x401000] = host.Decompiled{
		Signature:  "void f(void (*cb)(int, int),\n  int x);",
		Parameters: []string{"cb", "x"},
	}

	cfg := rangeConfig(0x1000, 0x1000)

	_, err := Walk(context.Background(), h, cfg, Options{})
	require.ErrorIs(t, err, signature.ErrNoMatch)
	assert.Contains(t, err.Error(), "slot 0 at 0x1000")

	cfg.Params = signature.Tolerant
	recs, err := Walk(context.Background(), h, cfg, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"void (*cb)(int, int)", "int x"}, recs[0].Parameters)

	cfg.Params = signature.Host
	recs, err = Walk(context.Background(), h, cfg, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"cb", "x"}, recs[0].Parameters)
}

func TestWalkVoidParametersStayInJSON(t *testing.T) {
	h := hosttest.New(tableBase, testutil.Slots([2]uint32{0x401000, 1}))
	h.AddFunction(0x401000, "f", "void f(void);")

	cfg := rangeConfig(0x1000, 0x1000)
	cfg.Params = signature.Tolerant
	recs, err := Walk(context.Background(), h, cfg, Options{})
	require.NoError(t, err)

	got, err := json.Marshal(recs[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"address":"0x00401000","query_code":"0x00000001","name":"f","signature":"void f(void);","parameters":[]}`, string(got))
}

func TestWalkFailures(t *testing.T) {
	boom := errors.New("decompiler crashed")
	mem := testutil.Slots([2]uint32{0x401000, 1}, [2]uint32{0x402000, 2}, [2]uint32{0x403000, 3})
	h := hosttest.New(tableBase, mem)
	h.AddFunction(0x401000, "ok", "int ok(int a);")
	h.AddFunction(0x402000, "bad", "int bad(int a);")
	h.Errors[0x402000] = boom
	h.AddFunction(0x403000, "odd", "int odd(int a)")

	cfg := rangeConfig(0x1000, 0x1010)

	t.Run("fatal by default", func(t *testing.T) {
		recs, err := Walk(context.Background(), h, cfg, Options{})
		require.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "slot 1 at 0x1008")
		assert.Nil(t, recs)
	})

	t.Run("keep going", func(t *testing.T) {
		cfg := cfg
		cfg.KeepGoing = true
		recs, st, err := WalkStats(context.Background(), h, cfg, Options{})
		require.NoError(t, err)
		require.Len(t, recs, 3)

		assert.Empty(t, recs[0].Error)
		assert.Contains(t, recs[1].Error, "decompiler crashed")
		assert.Empty(t, recs[1].Signature)
		assert.Equal(t, "int odd(int a)", recs[2].Signature)
		assert.Nil(t, recs[2].Parameters)
		assert.Contains(t, recs[2].Error, "does not match")
		assert.Equal(t, 2, st.Failed)
		assert.Equal(t, 3, st.Functions)

		got, err := json.Marshal(recs[1])
		require.NoError(t, err)
		assert.NotContains(t, string(got), `"signature"`)
	})

	t.Run("unreadable table", func(t *testing.T) {
		_, err := Walk(context.Background(), h, rangeConfig(0x1000, 0x1100), Options{})
		require.ErrorIs(t, err, host.ErrUnmapped)
	})
}

func TestWalkValidate(t *testing.T) {
	h := hosttest.New(tableBase, testutil.Slots([2]uint32{0, 0}))
	bad := []func(*Config){
		func(c *Config) { c.Start, c.End = 0x2000, 0x1000 },
		func(c *Config) { c.Stride = 0 },
		func(c *Config) { c.PointerSize = 2 },
		func(c *Config) { c.TagOffset = 6 },
		func(c *Config) { c.PointerOffset = 5 },
		func(c *Config) { c.TagFormat = "octal" },
		func(c *Config) { c.Params = "regex" },
	}
	for i, mutate := range bad {
		cfg := rangeConfig(0x1000, 0x1000)
		mutate(&cfg)
		_, err := Walk(context.Background(), h, cfg, Options{})
		assert.ErrorIs(t, err, ErrInvalidConfig, "case %d", i)
	}
}

func TestWalkRangeLimits(t *testing.T) {
	h := hosttest.New(tableBase, testutil.Slots([2]uint32{0, 1}, [2]uint32{0, 2}))

	assert.Equal(t, 1<<61, SlotCount(0, ^uint64(0)-8, 8))
	assert.Equal(t, 1<<61+1, SlotCount(0, ^uint64(0), 8), "span near the top of the address space does not wrap")

	t.Run("span overflows", func(t *testing.T) {
		_, err := Walk(context.Background(), h, rangeConfig(0, ^uint64(0)), Options{})
		require.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("mistyped end fails on the first unreadable slot", func(t *testing.T) {
		_, err := Walk(context.Background(), h, rangeConfig(tableBase, 0x7fffffffffff), Options{})
		require.ErrorIs(t, err, host.ErrUnmapped)
		assert.Contains(t, err.Error(), "slot 2 at 0x1010")
	})
}

func TestRecordJSONKeepsOperators(t *testing.T) {
	rec := Record{
		Address:    "0x00401000",
		QueryCode:  "0x00000001",
		Name:       "operator<<",
		Signature:  "bool operator<(A &a,B &b);",
		Parameters: []string{"A &a", "B &b"},
		Found:      true,
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	require.NoError(t, enc.Encode(rec))
	assert.Contains(t, buf.String(), `"signature":"bool operator<(A &a,B &b);"`)
	assert.Contains(t, buf.String(), `"name":"operator<<"`)
}

func TestWalkKnownOnlyAndEnrich(t *testing.T) {
	mem := testutil.Slots([2]uint32{0x401000, 0x0150e828}, [2]uint32{0x402000, 0x12345678}, [2]uint32{0x403000, 0xd22bdd7e})
	h := hosttest.New(tableBase, mem)

	cfg := rangeConfig(0x1000, 0x1010)
	cfg.KnownOnly = true
	known := map[uint32]string{0x0150e828: "Initialize", 0xd22bdd7e: "Unload"}

	var seen []string
	recs, st, err := WalkStats(context.Background(), h, cfg, Options{
		Known: known,
		Enrich: func(rs []Record) []Record {
			for i := range rs {
				rs[i].KnownName = known[rs[i].Tag]
			}
			return rs
		},
		OnRecord: func(r Record) { seen = append(seen, r.KnownName) },
	})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, []string{"Initialize", "Unload"}, seen)
	assert.Equal(t, 2, recs[1].Slot)
	assert.Equal(t, 1, st.Skipped)
}

func TestWalkPrepareCacheAndMonitor(t *testing.T) {
	mem := testutil.Slots(
		[2]uint32{0x401000, 1},
		[2]uint32{0x401000, 2},
		[2]uint32{0, 3},
		[2]uint32{0x402000, 4},
	)
	inner := hosttest.New(tableBase, mem)
	inner.AddFunction(0x401000, "shared", "int shared(int a);")
	inner.AddFunction(0x402000, "other", "int other(void);")
	h := hosttest.Batching{Host: inner}
	mon := &hosttest.Monitor{}

	recs, st, err := WalkStats(context.Background(), h, rangeConfig(0x1000, 0x1018), Options{Monitor: mon, CacheSize: 16})
	require.NoError(t, err)
	require.Len(t, recs, 4)

	assert.Equal(t, [][]uint64{{0x401000, 0x402000}}, inner.Prepared())
	assert.Equal(t, []uint64{0x401000, 0x402000}, inner.Decompiled())
	assert.Equal(t, 1, st.CacheHits)
	assert.Equal(t, 2, st.Decompiles)
	assert.Equal(t, NoFunction, recs[2].Name)
	assert.Contains(t, mon.Messages, "Decompiling Function 1")
	assert.Contains(t, mon.Messages, "Decompiling Function 4")

	_, err = Walk(context.Background(), inner, rangeConfig(0x1000, 0x1018), Options{})
	require.NoError(t, err)
	assert.Len(t, inner.Decompiled(), 5, "no cache without CacheSize")
}

func TestWalkCancelled(t *testing.T) {
	h := hosttest.New(tableBase, testutil.Slots([2]uint32{0x401000, 1}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Walk(ctx, h, rangeConfig(0x1000, 0x1000), Options{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestWalkWidePointers(t *testing.T) {
	mem := make([]byte, 16)
	binary.BigEndian.PutUint64(mem, 0x0000000140001000)
	binary.BigEndian.PutUint32(mem[8:], 0x891fa0ae)

	h := hosttest.New(tableBase, mem)
	h.Order = binary.BigEndian
	h.AddFunction(0x140001000, "SetCoolerLevels", "int SetCoolerLevels(int gpu,int *levels);")

	cfg := rangeConfig(0x1000, 0x1000)
	cfg.Stride, cfg.PointerSize, cfg.TagOffset = 16, 8, 8
	recs, err := Walk(context.Background(), h, cfg, Options{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "0x0000000140001000", recs[0].Address)
	assert.Equal(t, "0x891fa0ae", recs[0].QueryCode)
	assert.Equal(t, []string{"int gpu", "int *levels"}, recs[0].Parameters)
}

// Package hosttest provides an in-memory host.Host for tests.
package hosttest

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"tablewalk/internal/host"
)

// Host is a fake program: a flat memory region at Base plus a table of
// functions and their decompiled forms. Zero values are usable.
type Host struct {
	Order binary.ByteOrder
	Base  uint64
	Mem   []byte

	Functions map[uint64]host.Function
	Results   map[uint64]host.Decompiled
	// Errors makes Decompile fail for the given entry points.
	Errors map[uint64]error

	mu         sync.Mutex
	decompiled []uint64
	prepared   [][]uint64
}

var _ host.Host = (*Host)(nil)

// New returns a little-endian host with mem mapped at base.
func New(base uint64, mem []byte) *Host {
	return &Host{
		Order:     binary.LittleEndian,
		Base:      base,
		Mem:       mem,
		Functions: map[uint64]host.Function{},
		Results:   map[uint64]host.Decompiled{},
		Errors:    map[uint64]error{},
	}
}

// AddFunction defines a function at addr that decompiles to sig.
func (h *Host) AddFunction(addr uint64, name, sig string) {
	h.Functions[addr] = host.Function{Entry: addr, Name: name}
	h.Results[addr] = host.Decompiled{Signature: sig}
}

func (h *Host) ByteOrder() binary.ByteOrder {
	if h.Order == nil {
		return binary.LittleEndian
	}
	return h.Order
}

func (h *Host) ReadMemory(addr uint64, size int) ([]byte, error) {
	if addr < h.Base || addr+uint64(size) > h.Base+uint64(len(h.Mem)) {
		return nil, fmt.Errorf("read %d bytes at %#x: %w", size, addr, host.ErrUnmapped)
	}
	off := addr - h.Base
	return append([]byte(nil), h.Mem[off:off+uint64(size)]...), nil
}

func (h *Host) FunctionAt(ctx context.Context, addr uint64) (host.Function, bool, error) {
	if err := ctx.Err(); err != nil {
		return host.Function{}, false, err
	}
	fn, ok := h.Functions[addr]
	return fn, ok, nil
}

func (h *Host) Decompile(ctx context.Context, fn host.Function, timeout time.Duration, mon host.Monitor) (host.Decompiled, error) {
	h.mu.Lock()
	h.decompiled = append(h.decompiled, fn.Entry)
	h.mu.Unlock()
	if mon != nil {
		mon.SetMessage("decompiling " + fn.Name)
	}
	if err := h.Errors[fn.Entry]; err != nil {
		return host.Decompiled{}, err
	}
	res, ok := h.Results[fn.Entry]
	if !ok {
		return host.Decompiled{}, fmt.Errorf("%s: %w", fn.Name, host.ErrDecompile)
	}
	return res, nil
}

// Decompiled lists the entry points passed to Decompile, in call order.
func (h *Host) Decompiled() []uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]uint64(nil), h.decompiled...)
}

// Monitor records messages for inspection.
type Monitor struct {
	mu       sync.Mutex
	Messages []string
}

func (m *Monitor) SetMessage(msg string) {
	m.mu.Lock()
	m.Messages = append(m.Messages, msg)
	m.mu.Unlock()
}

// Batching wraps Host with a host.Preparer that records each batch.
type Batching struct {
	*Host
}

var _ host.Preparer = Batching{}

func (b Batching) Prepare(ctx context.Context, addrs []uint64, mon host.Monitor) error {
	b.mu.Lock()
	b.prepared = append(b.prepared, append([]uint64(nil), addrs...))
	b.mu.Unlock()
	return ctx.Err()
}

// Prepared returns the batches seen by Prepare.
func (h *Host) Prepared() [][]uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.prepared
}

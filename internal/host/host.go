// Package host defines the disassembler/decompiler services the table walker
// consumes. Backends live in subpackages: native decodes prototypes itself,
// ghidra drives a headless Ghidra install, hosttest is an in-memory fake.
package host

import (
	"context"
	"encoding/binary"
	"errors"
	"time"
)

var (
	// ErrUnmapped is returned by ReadMemory for addresses outside the image.
	ErrUnmapped = errors.New("address not mapped")
	// ErrDecompile wraps backend-specific decompilation failures.
	ErrDecompile = errors.New("decompilation failed")
	// ErrTimeout is returned when a decompilation exceeds its budget.
	ErrTimeout = errors.New("decompilation timed out")
)

// Function is a function defined at an address.
type Function struct {
	Entry uint64
	Name  string
}

// Decompiled is the result of decompiling one function.
type Decompiled struct {
	// Signature is the single prototype line, e.g. "int foo(int a);".
	Signature string
	// Parameters is the structured parameter list when the backend knows it,
	// nil otherwise. An empty non-nil slice means no parameters.
	Parameters []string
}

// Monitor receives progress messages during long operations.
type Monitor interface {
	SetMessage(msg string)
}

// MonitorFunc adapts a function to Monitor.
type MonitorFunc func(msg string)

func (f MonitorFunc) SetMessage(msg string) { f(msg) }

// Discard is a Monitor that drops every message.
var Discard Monitor = MonitorFunc(func(string) {})

// Host is a loaded program plus the analysis services needed to walk a table.
type Host interface {
	// ByteOrder is the program's byte order.
	ByteOrder() binary.ByteOrder
	// ReadMemory reads exactly size bytes at addr.
	ReadMemory(addr uint64, size int) ([]byte, error)
	// FunctionAt returns the function whose entry point is addr. The bool is
	// false when no function is defined there.
	FunctionAt(ctx context.Context, addr uint64) (Function, bool, error)
	// Decompile recovers fn's signature within timeout.
	Decompile(ctx context.Context, fn Function, timeout time.Duration, mon Monitor) (Decompiled, error)
}

// Preparer is implemented by hosts that analyse addresses in batches. The
// walker calls Prepare once with every pointer before the per-slot pass.
type Preparer interface {
	Prepare(ctx context.Context, addrs []uint64, mon Monitor) error
}

// Closer is implemented by hosts holding files or processes.
type Closer interface {
	Close() error
}

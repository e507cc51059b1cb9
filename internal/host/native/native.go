// Package native is a host backend that needs no external tools. It loads ELF
// and PE images itself and recovers function prototypes from machine code.
package native

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"tablewalk/internal/binimg"
	"tablewalk/internal/disasm"
	"tablewalk/internal/host"
	"tablewalk/internal/logging"
)

const (
	// MaxFunctionBytes bounds how much code is decoded per function.
	MaxFunctionBytes = 16 << 10
	// MaxInstructions bounds the linear sweep per function.
	MaxInstructions = 4096
)

// Host answers host.Host queries from a loaded image.
type Host struct {
	im *binimg.Image
}

var _ host.Host = (*Host)(nil)

// Open loads the binary at path.
func Open(path string) (*Host, error) {
	im, err := binimg.Open(path)
	if err != nil {
		return nil, err
	}
	return New(im), nil
}

// New wraps an already loaded image. Close releases it.
func New(im *binimg.Image) *Host {
	return &Host{im: im}
}

// Image exposes the underlying image.
func (h *Host) Image() *binimg.Image { return h.im }

func (h *Host) Close() error { return h.im.Close() }

func (h *Host) ByteOrder() binary.ByteOrder { return h.im.ByteOrder }

func (h *Host) ReadMemory(addr uint64, size int) ([]byte, error) {
	b, ok := h.im.ReadBytesVA(addr, size)
	if !ok {
		return nil, fmt.Errorf("read %d bytes at %#x: %w", size, addr, host.ErrUnmapped)
	}
	return b, nil
}

// FunctionAt reports a function at addr when addr is executable and starts
// with a decodable instruction. Symbols name it; otherwise it gets the
// FUN_<address> name Ghidra would assign.
func (h *Host) FunctionAt(ctx context.Context, addr uint64) (host.Function, bool, error) {
	if err := ctx.Err(); err != nil {
		return host.Function{}, false, err
	}
	if addr == 0 || !h.im.IsExecutable(addr) {
		return host.Function{}, false, nil
	}
	code, ok := h.im.CodeAt(addr, 16)
	if !ok {
		return host.Function{}, false, nil
	}
	if _, err := disasm.Decode(h.im.Arch, code, addr, 1); err != nil {
		if errors.Is(err, disasm.ErrUnsupportedArch) {
			return host.Function{}, false, err
		}
		logging.Default().Debug("no function: undecodable entry", "addr", fmt.Sprintf("0x%x", addr), "error", err)
		return host.Function{}, false, nil
	}
	return host.Function{Entry: addr, Name: h.nameAt(addr)}, true, nil
}

func (h *Host) nameAt(addr uint64) string {
	if s, ok := h.im.SymbolAt(addr); ok {
		return s.Name
	}
	return fmt.Sprintf("FUN_%08x", addr)
}

// Decompile decodes fn up to its first return and prints the recovered
// prototype in Ghidra's style.
func (h *Host) Decompile(ctx context.Context, fn host.Function, timeout time.Duration, mon host.Monitor) (host.Decompiled, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	stream, err := h.Disassemble(fn.Entry)
	if err != nil {
		return host.Decompiled{}, fmt.Errorf("%s: %w: %v", fn.Name, host.ErrDecompile, err)
	}
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return host.Decompiled{}, fmt.Errorf("%s: %w", fn.Name, host.ErrTimeout)
		}
		return host.Decompiled{}, err
	}

	p := recoverPrototype(h.im.Arch, h.im.Format, stream)
	if mon != nil && logging.IsDebug() {
		mon.SetMessage(fmt.Sprintf("%s: %d instructions, %d params", fn.Name, len(stream), p.params))
	}
	return host.Decompiled{
		Signature:  p.format(fn.Name),
		Parameters: p.declarations(),
	}, nil
}

// Disassemble decodes the function at entry up to its first return.
func (h *Host) Disassemble(entry uint64) (disasm.Stream, error) {
	code, ok := h.im.CodeAt(entry, MaxFunctionBytes)
	if !ok {
		return nil, fmt.Errorf("no code at %#x: %w", entry, host.ErrUnmapped)
	}
	return disasm.Decode(h.im.Arch, code, entry, MaxInstructions)
}

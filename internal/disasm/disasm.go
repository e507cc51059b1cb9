// Package disasm defines a common instruction representation used
// across architecture-specific disassemblers.
package disasm

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/arch/arm64/arm64asm"
	"golang.org/x/arch/x86/x86asm"
)

// ErrUnsupportedArch is returned by Decode for architectures it cannot decode.
var ErrUnsupportedArch = errors.New("unsupported architecture")

// Inst is a simplified decoded instruction.
type Inst struct {
	VA   uint64 // virtual address of instruction
	Text string // formatted disassembly string
	Op   string // mnemonic in lowercase
	Raw  []byte // raw encoding

	X86 *x86asm.Inst   // set for 386 and amd64
	A64 *arm64asm.Inst // set for arm64
}

// Len is the encoded size in bytes.
func (in Inst) Len() int { return len(in.Raw) }

// IsReturn reports whether the instruction leaves the function.
func (in Inst) IsReturn() bool {
	switch {
	case in.X86 != nil:
		return in.X86.Op == x86asm.RET || in.X86.Op == x86asm.LRET
	case in.A64 != nil:
		return in.A64.Op == arm64asm.RET
	}
	return false
}

// Stream is a linear sequence of instructions.
type Stream []Inst

// String renders one instruction per line as "address  text".
func (s Stream) String() string {
	var sb strings.Builder
	for _, in := range s {
		fmt.Fprintf(&sb, "%08x  %s\n", in.VA, in.Text)
	}
	return sb.String()
}

// Decode linearly decodes code located at va until the first return or
// maxInsns instructions. Undecodable bytes end the stream; it is an error only
// when not even the first instruction decodes.
func Decode(arch string, code []byte, va uint64, maxInsns int) (Stream, error) {
	var step func([]byte, uint64) (Inst, error)
	switch arch {
	case "386":
		step = x86Step(32)
	case "amd64":
		step = x86Step(64)
	case "arm64":
		step = arm64Step
	default:
		return nil, fmt.Errorf("decode %s: %w", arch, ErrUnsupportedArch)
	}

	var out Stream
	pc := va
	for len(code) > 0 && len(out) < maxInsns {
		in, err := step(code, pc)
		if err != nil {
			if len(out) == 0 {
				return nil, fmt.Errorf("decode at %#x: %w", pc, err)
			}
			break
		}
		out = append(out, in)
		if in.IsReturn() {
			break
		}
		code = code[in.Len():]
		pc += uint64(in.Len())
	}
	return out, nil
}

func x86Step(mode int) func([]byte, uint64) (Inst, error) {
	return func(code []byte, pc uint64) (Inst, error) {
		inst, err := x86asm.Decode(code, mode)
		if err != nil {
			return Inst{}, err
		}
		return Inst{
			VA:   pc,
			Text: x86asm.IntelSyntax(inst, pc, nil),
			Op:   strings.ToLower(inst.Op.String()),
			Raw:  code[:inst.Len],
			X86:  &inst,
		}, nil
	}
}

func arm64Step(code []byte, pc uint64) (Inst, error) {
	if len(code) < 4 {
		return Inst{}, fmt.Errorf("truncated instruction")
	}
	inst, err := arm64asm.Decode(code[:4])
	if err != nil {
		return Inst{}, err
	}
	return Inst{
		VA:   pc,
		Text: arm64asm.GNUSyntax(inst),
		Op:   strings.ToLower(inst.Op.String()),
		Raw:  code[:4],
		A64:  &inst,
	}, nil
}

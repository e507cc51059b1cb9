package native

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/arch/x86/x86asm"

	"tablewalk/internal/binimg"
	"tablewalk/internal/disasm"
)

// prototype is what the sweep learned about a function.
type prototype struct {
	ret    string
	cc     string
	typ    string // parameter type
	params int
}

func (p prototype) declarations() []string {
	out := make([]string, 0, p.params)
	for i := 1; i <= p.params; i++ {
		out = append(out, fmt.Sprintf("%s param_%d", p.typ, i))
	}
	return out
}

// format prints the prototype the way Ghidra's decompiler does: parameters
// joined by a bare comma and "(void)" for an empty list.
func (p prototype) format(name string) string {
	list := "void"
	if p.params > 0 {
		list = strings.Join(p.declarations(), ",")
	}
	head := p.ret + " "
	if p.cc != "" {
		head += p.cc + " "
	}
	return head + name + "(" + list + ");"
}

func recoverPrototype(arch string, format binimg.Format, s disasm.Stream) prototype {
	switch arch {
	case "386":
		return recover386(s)
	case "amd64":
		return recoverAMD64(s, format == binimg.FormatPE)
	case "arm64":
		return recoverARM64(s)
	}
	return prototype{ret: "void", typ: "int"}
}

// writeOnly lists x86 mnemonics whose first operand is written without being read.
var writeOnly = map[x86asm.Op]bool{
	x86asm.MOV:    true,
	x86asm.MOVZX:  true,
	x86asm.MOVSX:  true,
	x86asm.MOVSXD: true,
	x86asm.LEA:    true,
	x86asm.POP:    true,
}

// readOnly lists x86 mnemonics that write none of their operands.
var readOnly = map[x86asm.Op]bool{
	x86asm.CMP:  true,
	x86asm.TEST: true,
	x86asm.PUSH: true,
	x86asm.JMP:  true,
	x86asm.CALL: true,
	x86asm.RET:  true,
}

// x86Family maps sub-registers of the general purpose registers that carry
// arguments or results to their 64-bit name.
var x86Family = map[x86asm.Reg]x86asm.Reg{}

func init() {
	groups := [][]x86asm.Reg{
		{x86asm.AL, x86asm.AH, x86asm.AX, x86asm.EAX, x86asm.RAX},
		{x86asm.CL, x86asm.CH, x86asm.CX, x86asm.ECX, x86asm.RCX},
		{x86asm.DL, x86asm.DH, x86asm.DX, x86asm.EDX, x86asm.RDX},
		{x86asm.SI, x86asm.ESI, x86asm.RSI},
		{x86asm.DI, x86asm.EDI, x86asm.RDI},
		{x86asm.R8B, x86asm.R8W, x86asm.R8L, x86asm.R8},
		{x86asm.R9B, x86asm.R9W, x86asm.R9L, x86asm.R9},
	}
	for _, g := range groups {
		for _, r := range g {
			x86Family[r] = g[len(g)-1]
		}
	}
}

func family(r x86asm.Reg) x86asm.Reg {
	if f, ok := x86Family[r]; ok {
		return f
	}
	return r
}

// x86Access splits an instruction's register operands into reads and writes.
// Memory operands only read their base and index.
func x86Access(in *x86asm.Inst) (reads, writes []x86asm.Reg) {
	// xor r, r and sub r, r zero r without depending on it.
	if (in.Op == x86asm.XOR || in.Op == x86asm.SUB) && in.Args[0] != nil && in.Args[0] == in.Args[1] {
		if r, ok := in.Args[0].(x86asm.Reg); ok {
			return nil, []x86asm.Reg{family(r)}
		}
	}
	for i, a := range in.Args {
		if a == nil {
			break
		}
		switch a := a.(type) {
		case x86asm.Reg:
			r := family(a)
			switch {
			case i > 0 || readOnly[in.Op]:
				reads = append(reads, r)
			case writeOnly[in.Op]:
				writes = append(writes, r)
			default:
				reads = append(reads, r)
				writes = append(writes, r)
			}
		case x86asm.Mem:
			if a.Base != 0 {
				reads = append(reads, family(a.Base))
			}
			if a.Index != 0 {
				reads = append(reads, family(a.Index))
			}
		}
	}
	return reads, writes
}

// regTracker records which registers were read before any write.
type regTracker struct {
	written map[x86asm.Reg]bool
	early   map[x86asm.Reg]bool
}

func newRegTracker() *regTracker {
	return &regTracker{written: map[x86asm.Reg]bool{}, early: map[x86asm.Reg]bool{}}
}

func (t *regTracker) step(in *x86asm.Inst) {
	reads, writes := x86Access(in)
	for _, r := range reads {
		if !t.written[r] {
			t.early[r] = true
		}
	}
	for _, r := range writes {
		t.written[r] = true
	}
}

// recover386 follows the stack pointer through pushes, pops and esp
// adjustments so that both [ebp+n] and [esp+n] reads map to argument slots.
// "ret n" marks a callee-cleaned (__stdcall) function with n/4 arguments.
func recover386(s disasm.Stream) prototype {
	p := prototype{ret: "void", cc: "__cdecl", typ: "int"}
	regs := newRegTracker()

	var (
		delta      int64 // bytes pushed since entry
		frameDelta int64 = -1
		maxSlot          = -1
	)
	slot := func(disp, d int64) {
		off := disp - d - 4
		if off >= 0 && off%4 == 0 {
			if n := int(off / 4); n > maxSlot {
				maxSlot = n
			}
		}
	}

	for _, inst := range s {
		in := inst.X86
		if in == nil {
			continue
		}
		regs.step(in)
		for _, a := range in.Args {
			m, ok := a.(x86asm.Mem)
			if !ok || m.Index != 0 {
				continue
			}
			switch {
			case m.Base == x86asm.ESP:
				slot(m.Disp, delta)
			case m.Base == x86asm.EBP && frameDelta >= 0:
				slot(m.Disp, frameDelta)
			}
		}

		switch in.Op {
		case x86asm.PUSH:
			delta += 4
		case x86asm.POP:
			delta -= 4
		case x86asm.SUB, x86asm.ADD:
			if in.Args[0] == x86asm.ESP {
				if imm, ok := in.Args[1].(x86asm.Imm); ok {
					if in.Op == x86asm.SUB {
						delta += int64(imm)
					} else {
						delta -= int64(imm)
					}
				}
			}
		case x86asm.MOV:
			if in.Args[0] == x86asm.EBP && in.Args[1] == x86asm.ESP {
				frameDelta = delta
			}
		case x86asm.CALL:
			regs.written[x86asm.RAX] = true
		case x86asm.RET:
			if imm, ok := in.Args[0].(x86asm.Imm); ok && imm > 0 {
				p.cc = "__stdcall"
				p.params = int(imm) / 4
			}
		}
	}

	if p.cc == "__cdecl" {
		p.params = maxSlot + 1
	}
	if regs.written[x86asm.RAX] {
		p.ret = "int"
	}
	return p
}

var (
	sysvArgs  = []x86asm.Reg{x86asm.RDI, x86asm.RSI, x86asm.RDX, x86asm.RCX, x86asm.R8, x86asm.R9}
	win64Args = []x86asm.Reg{x86asm.RCX, x86asm.RDX, x86asm.R8, x86asm.R9}
)

// recoverAMD64 counts argument registers read before they are written. The
// count is the highest such register in calling-convention order.
func recoverAMD64(s disasm.Stream, windows bool) prototype {
	p := prototype{ret: "void", typ: "long"}
	args := sysvArgs
	if windows {
		args = win64Args
		p.cc = "__fastcall"
	}
	regs := newRegTracker()
	for _, inst := range s {
		in := inst.X86
		if in == nil {
			continue
		}
		regs.step(in)
		if in.Op == x86asm.CALL {
			// Callee clobbers argument registers and returns in rax.
			for _, r := range args {
				regs.written[r] = true
			}
			regs.written[x86asm.RAX] = true
		}
	}
	for i, r := range args {
		if regs.early[r] {
			p.params = i + 1
		}
	}
	if regs.written[x86asm.RAX] {
		p.ret = "long"
	}
	return p
}

var a64Reg = regexp.MustCompile(`\b[XW]([0-9]|[12][0-9]|30)\b`)

// a64NoDest lists arm64 mnemonics that do not write their first operand.
var a64NoDest = map[string]bool{
	"STR": true, "STRB": true, "STRH": true, "STP": true,
	"STUR": true, "STURB": true, "STURH": true, "STLR": true,
	"CMP": true, "CMN": true, "TST": true, "CCMP": true, "CCMN": true,
	"CBZ": true, "CBNZ": true, "TBZ": true, "TBNZ": true,
	"B": true, "BR": true, "RET": true, "PRFM": true,
}

func a64Regs(s string) []int {
	var out []int
	for _, m := range a64Reg.FindAllStringSubmatch(s, -1) {
		n, _ := strconv.Atoi(m[1])
		out = append(out, n)
	}
	return out
}

// recoverARM64 counts x0..x7 read before written.
func recoverARM64(s disasm.Stream) prototype {
	p := prototype{ret: "void", typ: "long"}
	written := map[int]bool{}
	early := map[int]bool{}

	for _, inst := range s {
		in := inst.A64
		if in == nil {
			continue
		}
		op := in.Op.String()
		if op == "BL" || op == "BLR" {
			for r := 0; r <= 18; r++ {
				written[r] = true
			}
			continue
		}

		dests := 1
		switch {
		case a64NoDest[op]:
			dests = 0
		case op == "LDP" || op == "LDPSW":
			dests = 2
		}

		var reads, writes []int
		for i, a := range in.Args {
			if a == nil {
				break
			}
			regs := a64Regs(a.String())
			if i < dests && !strings.HasPrefix(a.String(), "[") {
				writes = append(writes, regs...)
			} else {
				reads = append(reads, regs...)
			}
		}
		for _, r := range reads {
			if !written[r] {
				early[r] = true
			}
		}
		for _, r := range writes {
			written[r] = true
		}
	}

	for r := 0; r < 8; r++ {
		if early[r] {
			p.params = r + 1
		}
	}
	if written[0] {
		p.ret = "long"
	}
	return p
}

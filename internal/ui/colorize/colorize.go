// Package colorize highlights C prototypes and disassembly for the terminal.
package colorize

import (
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
)

// Enabled reports whether output should carry ANSI colours.
// TABLEWALK_NO_COLOR or NO_COLOR turn colours off.
func Enabled() bool {
	return os.Getenv("TABLEWALK_NO_COLOR") == "" && os.Getenv("NO_COLOR") == ""
}

var (
	// Intel syntax first; the native disassembler prints GNU-style Intel.
	asmLexer  = firstLexer("nasm", "gas", "armasm")
	cLexer    = firstLexer("c", "cpp")
	formatter = formatters.Get("terminal16m")
)

func firstLexer(names ...string) chroma.Lexer {
	for _, name := range names {
		if lexer := lexers.Get(name); lexer != nil {
			return chroma.Coalesce(lexer)
		}
	}
	return nil
}

func highlight(lexer chroma.Lexer, style *chroma.Style, code string) (string, error) {
	if lexer == nil {
		return code, nil
	}
	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code, err
	}
	// Lexers may append a newline the input did not have.
	tokens := iterator.Tokens()
	if n := len(tokens); n > 0 && !strings.HasSuffix(code, "\n") {
		tokens[n-1].Value = strings.TrimSuffix(tokens[n-1].Value, "\n")
	}
	var buf strings.Builder
	if err := formatter.Format(&buf, style, chroma.Literator(tokens...)); err != nil {
		return code, err
	}
	return buf.String(), nil
}

// Signature highlights a decompiled C prototype. Errors leave it plain.
func Signature(sig string) string {
	if !Enabled() {
		return sig
	}
	out, err := highlight(cLexer, SignatureDark, sig)
	if err != nil {
		return sig
	}
	return out
}

// Assembly highlights a whole listing.
func Assembly(code string) (string, error) {
	if !Enabled() {
		return code, nil
	}
	return highlight(asmLexer, DisasmDark, code)
}

// InstructionLine colorizes one "address  mnemonic operands" line, keeping
// the address gray and the alignment intact.
func InstructionLine(line string) string {
	if !Enabled() {
		return line
	}

	parts := strings.SplitN(line, " ", 2)
	if len(parts) < 2 || !isHex(parts[0]) {
		out, _ := highlight(asmLexer, DisasmDark, line)
		return out
	}

	rest, err := highlight(asmLexer, DisasmDark, parts[1])
	if err != nil {
		rest = parts[1]
	}
	// Color address in gray (79, 79, 79)
	return fmt.Sprintf("\033[38;2;79;79;79m%s\033[0m %s", parts[0], rest)
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if !((ch >= '0' && ch <= '9') || (ch >= 'a' && ch <= 'f') || (ch >= 'A' && ch <= 'F')) {
			return false
		}
	}
	return true
}

// StripANSI removes ANSI codes and returns the plain string
func StripANSI(s string) string {
	var result strings.Builder
	inEscape := false

	for _, r := range s {
		if r == '\x1b' {
			inEscape = true
		} else if inEscape {
			if r == 'm' {
				inEscape = false
			}
		} else {
			result.WriteRune(r)
		}
	}

	return result.String()
}

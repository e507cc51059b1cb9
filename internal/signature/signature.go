// Package signature extracts parameter lists from decompiled C prototypes.
package signature

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNoMatch is returned when a signature has no recognisable parameter list.
var ErrNoMatch = errors.New("signature does not match prototype pattern")

// Mode selects how parameters are extracted.
type Mode string

const (
	// Legacy splits the single-line "name(...);" capture on commas, untrimmed.
	Legacy Mode = "legacy"
	// Tolerant understands nesting, line breaks and "(void)".
	Tolerant Mode = "tolerant"
	// Host prefers the backend's structured list and falls back to Tolerant.
	Host Mode = "host"
)

// Modes lists the valid modes in help order.
var Modes = []Mode{Legacy, Tolerant, Host}

func (m Mode) Valid() bool {
	for _, v := range Modes {
		if m == v {
			return true
		}
	}
	return false
}

var legacyPattern = regexp.MustCompile(`^[^\n(]+\(([^\n]*)\);`)

// ParseLegacy matches everything up to the first '(' and captures up to the
// last ");" on that line, then splits the capture on every comma. Elements
// keep their surrounding whitespace, so "int a, char * b" yields
// ["int a", " char * b"]. Function-pointer parameters are split apart.
func ParseLegacy(sig string) ([]string, error) {
	m := legacyPattern.FindStringSubmatch(sig)
	if m == nil {
		return nil, fmt.Errorf("%q: %w", sig, ErrNoMatch)
	}
	return strings.Split(m[1], ","), nil
}

// ParseTolerant finds the parenthesised list that follows the function name
// and splits it on top-level commas only. Whitespace, including line breaks,
// is collapsed and trimmed. "()" and "(void)" give an empty, non-nil slice.
func ParseTolerant(sig string) ([]string, error) {
	flat := strings.Join(strings.Fields(sig), " ")
	open := strings.IndexByte(flat, '(')
	if open < 0 {
		return nil, fmt.Errorf("%q: %w", sig, ErrNoMatch)
	}

	depth := 0
	closeAt := -1
	for i := open; i < len(flat) && closeAt < 0; i++ {
		switch flat[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				closeAt = i
			}
		}
	}
	if closeAt < 0 {
		return nil, fmt.Errorf("%q: unbalanced parentheses: %w", sig, ErrNoMatch)
	}

	inner := strings.TrimSpace(flat[open+1 : closeAt])
	if inner == "" || inner == "void" {
		return []string{}, nil
	}
	return splitTopLevel(inner), nil
}

func splitTopLevel(s string) []string {
	var (
		out   []string
		depth int
		start int
	)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(', '[', '<':
			depth++
		case ')', ']', '>':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				out = append(out, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	return append(out, strings.TrimSpace(s[start:]))
}

// Parse dispatches on mode. structured is the host's own parameter list, used
// by Host mode when non-nil.
func Parse(mode Mode, sig string, structured []string) ([]string, error) {
	switch mode {
	case Legacy, "":
		return ParseLegacy(sig)
	case Tolerant:
		return ParseTolerant(sig)
	case Host:
		if structured != nil {
			return structured, nil
		}
		return ParseTolerant(sig)
	default:
		return nil, fmt.Errorf("unknown parameter mode %q", mode)
	}
}

// PointerDepths counts the '*' characters in each parameter.
func PointerDepths(params []string) []int {
	out := make([]int, len(params))
	for i, p := range params {
		out[i] = strings.Count(p, "*")
	}
	return out
}

package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"
)

// Address is a virtual address written as hex ("0x10395010") or decimal.
type Address uint64

// ParseAddress accepts 0x-prefixed hex, bare hex with a-f digits, or decimal.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, "_", ""))
	if s == "" {
		return 0, fmt.Errorf("empty address")
	}
	base := 10
	switch {
	case strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X"):
		s, base = s[2:], 16
	case strings.ContainsAny(s, "abcdefABCDEF"):
		base = 16
	}
	v, err := strconv.ParseUint(s, base, 64)
	if err != nil {
		return 0, fmt.Errorf("parse address %q: %w", s, err)
	}
	return Address(v), nil
}

func (a Address) String() string { return fmt.Sprintf("0x%x", uint64(a)) }

// Set and Type implement pflag.Value.
func (a *Address) Set(s string) error {
	v, err := ParseAddress(s)
	if err != nil {
		return err
	}
	*a = v
	return nil
}

func (a *Address) Type() string { return "address" }

func (a *Address) UnmarshalText(b []byte) error { return a.Set(string(b)) }

func (a Address) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *Address) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: address must be a scalar", n.Line)
	}
	return a.Set(n.Value)
}

func (a Address) MarshalYAML() (interface{}, error) { return a.String(), nil }

func (a *Address) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		return a.Set(s)
	}
	var n uint64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("address must be a string or number: %w", err)
	}
	*a = Address(n)
	return nil
}

// JSONSchema describes addresses as hex strings.
func (Address) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "string",
		Pattern:     `^(0[xX])?[0-9a-fA-F_]+$`,
		Description: "Virtual address, hex with 0x prefix or decimal",
		Examples:    []interface{}{"0x10395010"},
	}
}

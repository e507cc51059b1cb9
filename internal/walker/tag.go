package walker

import "fmt"

// TagFormat selects how query codes are printed.
type TagFormat string

const (
	// TagFixed prints eight zero-padded hex digits: 0x0150e828.
	TagFixed TagFormat = "fixed"
	// TagLegacy prints minimal hex digits: 0x150e828. This matches dumps
	// produced by the Jython walker once its long-suffix "L" was stripped.
	TagLegacy TagFormat = "legacy"
)

func (f TagFormat) Valid() bool {
	return f == TagFixed || f == TagLegacy || f == ""
}

// DecodeTag reinterprets the signed 32-bit word stored in a slot as unsigned.
func DecodeTag(raw int32) uint32 { return uint32(raw) }

// FormatTag renders a tag as a 0x-prefixed hex string.
func FormatTag(tag uint32, f TagFormat) string {
	if f == TagLegacy {
		return fmt.Sprintf("0x%x", tag)
	}
	return fmt.Sprintf("0x%08x", tag)
}

// FormatAddress renders a pointer zero-padded to the pointer width.
func FormatAddress(addr uint64, ptrSize int) string {
	if ptrSize == 8 {
		return fmt.Sprintf("0x%016x", addr)
	}
	return fmt.Sprintf("0x%08x", addr)
}

// ParseTag accepts "0x"-prefixed or bare hex in either format.
func ParseTag(s string) (uint32, error) {
	var v uint32
	if _, err := fmt.Sscanf(trimHexPrefix(s), "%x", &v); err != nil {
		return 0, fmt.Errorf("parse tag %q: %w", s, err)
	}
	return v, nil
}

func trimHexPrefix(s string) string {
	if len(s) > 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

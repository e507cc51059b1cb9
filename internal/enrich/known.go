package enrich

import (
	"fmt"
	"sort"

	"tablewalk/internal/walker"
)

const KnownTagsName = "known-tags"

// NvAPI_QueryInterface codes used by fan control tools.
var defaultTags = map[uint32]string{
	0x0150e828: "Initialize",
	0xd22bdd7e: "Unload",
	0x891fa0ae: "SetCoolerLevels",
	0xda141340: "GetCoolerSettings",
	0x189a1fdf: "GetUsages",
	0xfb85b01e: "ClientFanCoolersGetInfo",
	0x35aed5e8: "ClientFanCoolersGetStatus",
	0x814b209f: "ClientFanCoolersGetControl",
	0xa58971a5: "ClientFanCoolersSetControl",
	0xe5ac921f: "ApiSupported",
}

// Table maps query codes to API names.
type Table struct {
	names map[uint32]string
}

// DefaultTable returns the built-in codes.
func DefaultTable() *Table {
	t := &Table{names: make(map[uint32]string, len(defaultTags))}
	for k, v := range defaultTags {
		t.names[k] = v
	}
	return t
}

// Merge adds or overrides entries from hex-string keys such as "0x0150e828".
func (t *Table) Merge(extra map[string]string) error {
	for k, v := range extra {
		tag, err := walker.ParseTag(k)
		if err != nil {
			return fmt.Errorf("tag table: %w", err)
		}
		t.names[tag] = v
	}
	return nil
}

func (t *Table) Lookup(tag uint32) (string, bool) {
	if t == nil {
		return "", false
	}
	n, ok := t.names[tag]
	return n, ok
}

// Map returns a copy suitable for walker.Options.Known.
func (t *Table) Map() map[uint32]string {
	out := make(map[uint32]string, len(t.names))
	for k, v := range t.names {
		out[k] = v
	}
	return out
}

// Entry is one row of the table.
type Entry struct {
	Tag  uint32
	Name string
}

// Entries returns the table sorted by name.
func (t *Table) Entries() []Entry {
	out := make([]Entry, 0, len(t.names))
	for k, v := range t.names {
		out = append(out, Entry{Tag: k, Name: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Tag < out[j].Tag
	})
	return out
}

// KnownTags sets Record.KnownName for tags in the table.
type KnownTags struct {
	Table *Table
}

func (KnownTags) Name() string { return KnownTagsName }

func (k KnownTags) Enrich(records []walker.Record) []walker.Record {
	for i := range records {
		if n, ok := k.Table.Lookup(records[i].Tag); ok {
			records[i].KnownName = n
		}
	}
	return records
}

// Package enrich adds derived fields to walker records after each slot is
// resolved: known API names, pointer depths and demangled names.
package enrich

import (
	"fmt"
	"sort"
	"strings"

	"tablewalk/internal/walker"
)

// Enricher analyzes records and fills in extra fields.
type Enricher interface {
	// Name is the key used in configuration.
	Name() string
	// Enrich may modify records in place or drop them.
	Enrich(records []walker.Record) []walker.Record
}

// Chain runs multiple enrichers in sequence
type Chain struct {
	enrichers []Enricher
}

// NewChain creates a new enricher chain
func NewChain(enrichers ...Enricher) *Chain {
	return &Chain{
		enrichers: enrichers,
	}
}

// Enrich runs all enrichers in sequence
func (c *Chain) Enrich(records []walker.Record) []walker.Record {
	result := records
	for _, e := range c.enrichers {
		result = e.Enrich(result)
	}
	return result
}

// Names lists the enrichers in the chain, in order.
func (c *Chain) Names() []string {
	out := make([]string, len(c.enrichers))
	for i, e := range c.enrichers {
		out[i] = e.Name()
	}
	return out
}

// Available lists the enricher names accepted by Build.
func Available() []string {
	names := []string{KnownTagsName, PointersName, DemangleName}
	sort.Strings(names)
	return names
}

// Build assembles a chain from configured names. known is the tag table for
// the known-tags enricher.
func Build(names []string, known *Table) (*Chain, error) {
	var list []Enricher
	seen := map[string]bool{}
	for _, n := range names {
		n = strings.TrimSpace(strings.ToLower(n))
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		switch n {
		case KnownTagsName:
			list = append(list, KnownTags{Table: known})
		case PointersName:
			list = append(list, Pointers{})
		case DemangleName:
			list = append(list, NewDemangler())
		default:
			return nil, fmt.Errorf("unknown enricher %q (available: %s)", n, strings.Join(Available(), ", "))
		}
	}
	return NewChain(list...), nil
}

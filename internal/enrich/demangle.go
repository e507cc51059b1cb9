package enrich

import (
	"sync"

	"github.com/ianlancetaylor/demangle"

	"tablewalk/internal/walker"
)

const DemangleName = "demangle"

// Demangler fills Record.Demangled for C++ (Itanium) and Rust names.
// Results are cached; walks over dispatch tables see the same names often.
type Demangler struct {
	mu    sync.RWMutex
	cache map[string]string
	hits  int
}

func NewDemangler() *Demangler {
	return &Demangler{cache: make(map[string]string)}
}

func (*Demangler) Name() string { return DemangleName }

func (d *Demangler) Enrich(records []walker.Record) []walker.Record {
	for i := range records {
		if !records[i].Found {
			continue
		}
		if out := d.Demangle(records[i].Name); out != records[i].Name {
			records[i].Demangled = out
		}
	}
	return records
}

// Demangle returns the demangled form of name, or name itself when it is not
// a mangled symbol.
func (d *Demangler) Demangle(name string) string {
	d.mu.RLock()
	if cached, ok := d.cache[name]; ok {
		d.mu.RUnlock()
		d.mu.Lock()
		d.hits++
		d.mu.Unlock()
		return cached
	}
	d.mu.RUnlock()

	out := demangle.Filter(name, demangle.NoClones)

	d.mu.Lock()
	d.cache[name] = out
	d.mu.Unlock()
	return out
}

// Stats returns the number of cached names and cache hits.
func (d *Demangler) Stats() (entries, hits int) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.cache), d.hits
}

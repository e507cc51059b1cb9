package enrich

import (
	"tablewalk/internal/signature"
	"tablewalk/internal/walker"
)

const PointersName = "pointers"

// Pointers records how many levels of indirection each parameter has.
type Pointers struct{}

func (Pointers) Name() string { return PointersName }

func (Pointers) Enrich(records []walker.Record) []walker.Record {
	for i := range records {
		if len(records[i].Parameters) > 0 {
			records[i].PointerDepths = signature.PointerDepths(records[i].Parameters)
		}
	}
	return records
}

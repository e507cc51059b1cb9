package walker

import (
	"bytes"
	"encoding/json"
)

// NoFunction is the record name used when a slot's pointer does not land on
// a defined function.
const NoFunction = "No Function here"

// Record describes one table slot. Only the tagged fields are serialised.
type Record struct {
	Address       string   `json:"address" jsonschema:"description=Resolved function pointer as 0x-prefixed hex"`
	QueryCode     string   `json:"query_code" jsonschema:"description=Slot tag as 0x-prefixed hex"`
	Name          string   `json:"name" jsonschema:"description=Function name or 'No Function here'"`
	Signature     string   `json:"signature,omitempty" jsonschema:"description=Decompiled prototype; only when a function was found"`
	Parameters    []string `json:"parameters,omitempty" jsonschema:"description=Parameter declarations split from the signature"`
	KnownName     string   `json:"known_name,omitempty"`
	Demangled     string   `json:"demangled,omitempty"`
	PointerDepths []int    `json:"pointer_depths,omitempty"`
	Error         string   `json:"error,omitempty"`

	Slot    int    `json:"-"`
	Pointer uint64 `json:"-"`
	Tag     uint32 `json:"-"`
	Found   bool   `json:"-"`
}

// MarshalJSON keeps "signature" and "parameters" present for every found
// function, even when the parameter list is empty, and absent otherwise.
func (r Record) MarshalJSON() ([]byte, error) {
	type wire struct {
		Address       string    `json:"address"`
		QueryCode     string    `json:"query_code"`
		Name          string    `json:"name"`
		Signature     *string   `json:"signature,omitempty"`
		Parameters    *[]string `json:"parameters,omitempty"`
		KnownName     string    `json:"known_name,omitempty"`
		Demangled     string    `json:"demangled,omitempty"`
		PointerDepths []int     `json:"pointer_depths,omitempty"`
		Error         string    `json:"error,omitempty"`
	}
	w := wire{
		Address:       r.Address,
		QueryCode:     r.QueryCode,
		Name:          r.Name,
		KnownName:     r.KnownName,
		Demangled:     r.Demangled,
		PointerDepths: r.PointerDepths,
		Error:         r.Error,
	}
	if r.Found && (r.Error == "" || r.Signature != "") {
		sig := r.Signature
		w.Signature = &sig
	}
	if r.Parameters != nil {
		params := r.Parameters
		w.Parameters = &params
	}
	// json.Marshal would escape the <, > and & of C++ names; encoders
	// further up cannot undo that.
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(w); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

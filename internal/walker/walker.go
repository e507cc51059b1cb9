// Package walker scans a fixed-stride table of {function pointer, tag} slots,
// resolves each pointer through a host and records the decompiled prototype.
package walker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/charmbracelet/log"

	"tablewalk/internal/host"
	"tablewalk/internal/signature"
)

// ErrInvalidConfig is returned by Walk when the table geometry is unusable.
var ErrInvalidConfig = errors.New("invalid walk configuration")

// DefaultTimeout is the per-function decompile budget, in line with the
// 1000 seconds Ghidra scripts usually pass.
const DefaultTimeout = 1000 * time.Second

// Config is the table geometry and extraction policy.
type Config struct {
	Start, End    uint64
	Stride        int
	PointerSize   int
	PointerOffset int
	TagOffset     int

	TagFormat        TagFormat
	Params           signature.Mode
	DecompileTimeout time.Duration

	// KeepGoing records per-slot lookup, decompile and parse failures in the
	// record's error field instead of aborting.
	KeepGoing bool
	// KnownOnly skips slots whose tag is not in Options.Known.
	KnownOnly bool
}

// DefaultConfig is an 8-byte stride with a 4-byte pointer then a 4-byte tag.
func DefaultConfig() Config {
	return Config{
		Stride:           8,
		PointerSize:      4,
		PointerOffset:    0,
		TagOffset:        4,
		TagFormat:        TagFixed,
		Params:           signature.Legacy,
		DecompileTimeout: DefaultTimeout,
	}
}

// Validate checks the geometry.
func (c Config) Validate() error {
	switch {
	case c.End < c.Start:
		return fmt.Errorf("%w: end %#x before start %#x", ErrInvalidConfig, c.End, c.Start)
	case c.Stride <= 0:
		return fmt.Errorf("%w: stride must be positive", ErrInvalidConfig)
	case c.End-c.Start > math.MaxUint64-uint64(c.Stride):
		return fmt.Errorf("%w: range %#x-%#x overflows the address space", ErrInvalidConfig, c.Start, c.End)
	case c.PointerSize != 4 && c.PointerSize != 8:
		return fmt.Errorf("%w: pointer size %d (want 4 or 8)", ErrInvalidConfig, c.PointerSize)
	case c.PointerOffset < 0 || c.PointerOffset+c.PointerSize > c.Stride:
		return fmt.Errorf("%w: pointer at +%d does not fit a %d-byte slot", ErrInvalidConfig, c.PointerOffset, c.Stride)
	case c.TagOffset < 0 || c.TagOffset+4 > c.Stride:
		return fmt.Errorf("%w: tag at +%d does not fit a %d-byte slot", ErrInvalidConfig, c.TagOffset, c.Stride)
	case !c.TagFormat.Valid():
		return fmt.Errorf("%w: tag format %q", ErrInvalidConfig, c.TagFormat)
	case c.Params != "" && !c.Params.Valid():
		return fmt.Errorf("%w: parameter mode %q", ErrInvalidConfig, c.Params)
	}
	return nil
}

// SlotCount is the number of slots from start through end inclusive: the
// range is extended by one stride and rounded up to whole slots.
func SlotCount(start, end uint64, stride int) int {
	if end < start || stride <= 0 {
		return 0
	}
	s := uint64(stride)
	span := end - start
	n := span/s + 1
	if span%s != 0 {
		n++
	}
	return int(n)
}

// maxPrealloc bounds the slot slice reserved up front; a mistyped end must
// fail on the first unreadable slot, not on the allocation.
const maxPrealloc = 4096

// Options carries collaborators that are not part of the table geometry.
type Options struct {
	// Known maps tags to names; consulted by KnownOnly.
	Known map[uint32]string
	// Enrich post-processes each finished record. It may drop or expand it.
	Enrich func([]Record) []Record
	// OnRecord is called for every emitted record, in slot order.
	OnRecord func(Record)
	// Monitor receives progress messages; nil discards them.
	Monitor host.Monitor
	// CacheSize bounds the decompile memo; zero disables it.
	CacheSize int
	Logger    *log.Logger
}

// Stats summarises a finished walk.
type Stats struct {
	Slots      int
	Functions  int
	Missing    int
	Failed     int
	Skipped    int
	Decompiles int
	CacheHits  int
	Elapsed    time.Duration
}

type slot struct {
	index   int
	addr    uint64
	pointer uint64
	tag     uint32
}

// Walk reads every slot in cfg's range and returns one record per slot in
// slot order. Any host failure aborts the walk unless cfg.KeepGoing is set;
// nothing is returned on failure.
func Walk(ctx context.Context, h host.Host, cfg Config, opts Options) ([]Record, error) {
	recs, _, err := WalkStats(ctx, h, cfg, opts)
	return recs, err
}

// WalkStats is Walk plus counters.
func WalkStats(ctx context.Context, h host.Host, cfg Config, opts Options) ([]Record, Stats, error) {
	began := time.Now()
	if err := cfg.Validate(); err != nil {
		return nil, Stats{}, err
	}
	if cfg.DecompileTimeout <= 0 {
		cfg.DecompileTimeout = DefaultTimeout
	}
	lg := opts.Logger
	if lg == nil {
		lg = log.New(io.Discard)
	}
	mon := opts.Monitor
	if mon == nil {
		mon = host.Discard
	}

	slots, err := readSlots(h, cfg)
	if err != nil {
		return nil, Stats{}, err
	}
	st := Stats{Slots: len(slots)}
	lg.Debug("read table", "start", fmt.Sprintf("%#x", cfg.Start), "end", fmt.Sprintf("%#x", cfg.End), "slots", len(slots))

	if cfg.KnownOnly {
		kept := slots[:0]
		for _, s := range slots {
			if _, ok := opts.Known[s.tag]; ok {
				kept = append(kept, s)
			}
		}
		st.Skipped = len(slots) - len(kept)
		slots = kept
	}

	if p, ok := h.(host.Preparer); ok {
		if err := p.Prepare(ctx, uniquePointers(slots), mon); err != nil {
			return nil, st, fmt.Errorf("prepare: %w", err)
		}
	}

	cache, err := newDecompileCache(h, opts.CacheSize)
	if err != nil {
		return nil, st, err
	}

	records := make([]Record, 0, len(slots))
	for _, s := range slots {
		if err := ctx.Err(); err != nil {
			return nil, st, err
		}
		rec, err := walkSlot(ctx, h, cache, cfg, mon, s)
		if err != nil {
			if !cfg.KeepGoing {
				return nil, st, fmt.Errorf("slot %d at %#x: %w", s.index, s.addr, err)
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, st, ctxErr
			}
			lg.Warn("slot failed", "slot", s.index, "addr", fmt.Sprintf("%#x", s.addr), "err", err)
			rec.Error = err.Error()
			st.Failed++
		}
		if rec.Found {
			st.Functions++
		} else {
			st.Missing++
		}

		out := []Record{rec}
		if opts.Enrich != nil {
			out = opts.Enrich(out)
		}
		for _, r := range out {
			if opts.OnRecord != nil {
				opts.OnRecord(r)
			}
			records = append(records, r)
		}
	}

	st.Decompiles = cache.calls
	st.CacheHits = cache.hits
	st.Elapsed = time.Since(began)
	lg.Debug("walk done", "records", len(records), "decompiles", st.Decompiles, "cache_hits", st.CacheHits)
	return records, st, nil
}

func readSlots(h host.Host, cfg Config) ([]slot, error) {
	order := h.ByteOrder()
	n := SlotCount(cfg.Start, cfg.End, cfg.Stride)
	out := make([]slot, 0, min(n, maxPrealloc))
	for i := 0; i < n; i++ {
		addr := cfg.Start + uint64(i)*uint64(cfg.Stride)

		raw, err := h.ReadMemory(addr+uint64(cfg.TagOffset), 4)
		if err != nil {
			return nil, fmt.Errorf("slot %d at %#x: read tag: %w", i, addr, err)
		}
		tag := DecodeTag(int32(order.Uint32(raw)))

		raw, err = h.ReadMemory(addr+uint64(cfg.PointerOffset), cfg.PointerSize)
		if err != nil {
			return nil, fmt.Errorf("slot %d at %#x: read pointer: %w", i, addr, err)
		}
		var ptr uint64
		if cfg.PointerSize == 8 {
			ptr = order.Uint64(raw)
		} else {
			ptr = uint64(order.Uint32(raw))
		}
		out = append(out, slot{index: i, addr: addr, pointer: ptr, tag: tag})
	}
	return out, nil
}

func uniquePointers(slots []slot) []uint64 {
	seen := make(map[uint64]bool, len(slots))
	var out []uint64
	for _, s := range slots {
		if s.pointer == 0 || seen[s.pointer] {
			continue
		}
		seen[s.pointer] = true
		out = append(out, s.pointer)
	}
	return out
}

// walkSlot builds the record for one slot. On error the returned record still
// carries everything learned before the failure.
func walkSlot(ctx context.Context, h host.Host, cache *decompileCache, cfg Config, mon host.Monitor, s slot) (Record, error) {
	rec := Record{
		Address:   FormatAddress(s.pointer, cfg.PointerSize),
		QueryCode: FormatTag(s.tag, cfg.TagFormat),
		Slot:      s.index,
		Pointer:   s.pointer,
		Tag:       s.tag,
	}

	fn, ok, err := h.FunctionAt(ctx, s.pointer)
	if err != nil {
		rec.Name = NoFunction
		return rec, fmt.Errorf("function lookup: %w", err)
	}
	if !ok {
		rec.Name = NoFunction
		return rec, nil
	}
	rec.Name = fn.Name
	rec.Found = true

	mon.SetMessage(fmt.Sprintf("Decompiling Function %d", s.index+1))
	d, err := cache.decompile(ctx, fn, cfg.DecompileTimeout, mon)
	if err != nil {
		return rec, fmt.Errorf("decompile %s: %w", fn.Name, err)
	}
	rec.Signature = d.Signature

	params, err := signature.Parse(cfg.Params, d.Signature, d.Parameters)
	if err != nil {
		return rec, err
	}
	rec.Parameters = params
	return rec, nil
}

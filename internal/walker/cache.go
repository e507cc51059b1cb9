package walker

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"tablewalk/internal/host"
)

// decompileCache memoises successful decompilations by entry point. Tables
// often point several tags at one stub.
type decompileCache struct {
	h     host.Host
	c     *lru.Cache[uint64, host.Decompiled]
	hits  int
	calls int
}

// newDecompileCache returns a pass-through cache when size <= 0.
func newDecompileCache(h host.Host, size int) (*decompileCache, error) {
	dc := &decompileCache{h: h}
	if size > 0 {
		c, err := lru.New[uint64, host.Decompiled](size)
		if err != nil {
			return nil, err
		}
		dc.c = c
	}
	return dc, nil
}

func (dc *decompileCache) decompile(ctx context.Context, fn host.Function, timeout time.Duration, mon host.Monitor) (host.Decompiled, error) {
	if dc.c != nil {
		if d, ok := dc.c.Get(fn.Entry); ok {
			dc.hits++
			return d, nil
		}
	}
	dc.calls++
	d, err := dc.h.Decompile(ctx, fn, timeout, mon)
	if err != nil {
		return host.Decompiled{}, err
	}
	if dc.c != nil {
		dc.c.Add(fn.Entry, d)
	}
	return d, nil
}

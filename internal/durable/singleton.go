package durable

import (
	"sync"

	"ddscore/internal/refcount"
)

var (
	singleton     = refcount.NewTable[uint32, *Coordinator](func(c *Coordinator) { c.Close() })
	singletonOnce sync.Mutex
)

// Acquire returns the process-wide Coordinator for domainID, creating it
// via create on the first call and handing out a kept reference on every
// call thereafter. The last matching Release tears the Coordinator down.
func Acquire(domainID uint32, create func() (*Coordinator, error)) (*Coordinator, error) {
	singletonOnce.Lock()
	defer singletonOnce.Unlock()

	if c, ok := singleton.Lookup(domainID); ok {
		return c, nil
	}
	c, err := create()
	if err != nil {
		return nil, err
	}
	c.Start()
	// Insert's initial count of 1 is this first caller's own kept
	// reference (refcount.Table's "table owns one reference" becomes,
	// here, "the first acquirer owns it" — every later Acquire adds its
	// own via Lookup, and the Coordinator tears down when the count
	// returns to zero).
	singleton.Insert(domainID, c)
	return c, nil
}

// Release drops the caller's reference to domainID's Coordinator, tearing
// it down once every caller has released it.
func Release(domainID uint32) {
	singleton.Release(domainID)
}

// Package limits tracks system-wide resource accounting: the number
// of frames, swap slots, and cache entries in use against a
// configured ceiling. Grounded on the teacher's limits.Sysatomic_t
// give/take counters, reimplemented over atomic.Int64 instead of an
// unsafe.Pointer cast — the standard library's atomic package is
// already the idiomatic tool for a single monotonic counter, so no
// third-party dependency is warranted here.
package limits

import "sync/atomic"

// Counter is a resource limit that can be atomically given and taken.
// A zero Counter has no capacity; use NewCounter to set a ceiling.
type Counter struct {
	remaining atomic.Int64
}

// NewCounter returns a Counter initialized with cap units available.
func NewCounter(cap int64) *Counter {
	c := &Counter{}
	c.remaining.Store(cap)
	return c
}

// Take tries to reserve n units, returning false (and taking nothing)
// if fewer than n are available.
func (c *Counter) Take(n int64) bool {
	if n < 0 {
		panic("limits: negative take")
	}
	if c.remaining.Add(-n) >= 0 {
		return true
	}
	c.remaining.Add(n)
	return false
}

// Give returns n units to the counter.
func (c *Counter) Give(n int64) {
	if n < 0 {
		panic("limits: negative give")
	}
	c.remaining.Add(n)
}

// Remaining reports the number of units currently available.
func (c *Counter) Remaining() int64 {
	return c.remaining.Load()
}

// System bundles the resource ceilings exercised by the storage and
// VM core, mirroring the teacher's Syslimit_t grouping (frames,
// swap slots, and cache entries in place of biscuit's process/vnode/
// socket accounting, which belongs to the out-of-scope process and
// network layers).
type System struct {
	Frames *Counter
	Swap   *Counter
	Cache  *Counter
}

// NewSystem returns a System with the given ceilings.
func NewSystem(frames, swapSlots, cacheEntries int64) *System {
	return &System{
		Frames: NewCounter(frames),
		Swap:   NewCounter(swapSlots),
		Cache:  NewCounter(cacheEntries),
	}
}

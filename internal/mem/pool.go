// Package mem simulates the physical page pool backing the frame
// table of spec.md §4.4. Grounded on the teacher's mem/mem.go
// Physmem_t (a refcounted page free-list), but without its per-CPU
// free lists (spec.md §5 assumes a single-CPU scheduling model) and
// without its unsafe direct-map/PML4 addressing, which only makes
// sense inside a real kernel with an MMU. Here a "physical page" is
// simply a []byte of PageSize, indexed by an ordinary integer frame
// number — the idiomatic Go stand-in for bare physical memory in a
// host-process simulation (see SPEC_FULL.md §1).
package mem

import (
	"sync"

	"pintoscore/internal/limits"
)

// PageSize is the size of a page/frame in bytes, matching the
// GLOSSARY's "same size as a frame; typically 4 KiB".
const PageSize = 4096

// Pool is a fixed-capacity arena of physical pages with per-page
// reference counts, grounded on Physmem_t's Refup/Refdown/Refpg_new.
type Pool struct {
	mu      sync.Mutex
	pages   [][]byte
	refcnt  []int32
	free    []int // LIFO free list of page indices
	inUse   int
	limit   *limits.Counter
}

// Option configures a Pool at construction time.
type Option func(*Pool)

// WithLimit ties the pool's allocations to a shared system-wide frame
// counter, so exhaustion can be observed and accounted for outside
// this single Pool (e.g. by cmd/pintoscore's limits.System).
func WithLimit(c *limits.Counter) Option { return func(p *Pool) { p.limit = c } }

// NewPool allocates a pool of n pages.
func NewPool(n int, opts ...Option) *Pool {
	p := &Pool{
		pages:  make([][]byte, n),
		refcnt: make([]int32, n),
		free:   make([]int, n),
	}
	for i := 0; i < n; i++ {
		p.pages[i] = make([]byte, PageSize)
		p.free[n-1-i] = i
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Alloc reserves a free page, zeroes it, sets its refcount to 1, and
// returns its index and backing slice. ok is false if the pool is
// exhausted or, when a limit is attached, if the shared ceiling has no
// units left.
func (p *Pool) Alloc() (idx int, page []byte, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) == 0 {
		return 0, nil, false
	}
	if p.limit != nil && !p.limit.Take(1) {
		return 0, nil, false
	}
	idx = p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	for i := range p.pages[idx] {
		p.pages[idx][i] = 0
	}
	p.refcnt[idx] = 1
	p.inUse++
	return idx, p.pages[idx], true
}

// Free releases a page back to the pool unconditionally (used when a
// frame is reclaimed by eviction or process teardown — this module
// does not share physical frames across processes, so refcounting
// below never observes more than one holder in practice, but the
// counter is kept for parity with the teacher's design and for
// potential future copy-on-write support).
func (p *Pool) Free(idx int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.refcnt[idx] == 0 {
		panic("mem: double free of page")
	}
	p.refcnt[idx] = 0
	p.inUse--
	p.free = append(p.free, idx)
	if p.limit != nil {
		p.limit.Give(1)
	}
}

// Refup increments a page's reference count.
func (p *Pool) Refup(idx int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refcnt[idx]++
}

// Refdown decrements a page's reference count and frees it if it
// reaches zero, returning true in that case.
func (p *Pool) Refdown(idx int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refcnt[idx]--
	if p.refcnt[idx] < 0 {
		panic("mem: refcount underflow")
	}
	if p.refcnt[idx] == 0 {
		p.inUse--
		p.free = append(p.free, idx)
		if p.limit != nil {
			p.limit.Give(1)
		}
		return true
	}
	return false
}

// Page returns the backing slice for a page index.
func (p *Pool) Page(idx int) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pages[idx]
}

// InUse reports how many pages are currently allocated.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse
}

// Capacity reports the pool's total number of pages.
func (p *Pool) Capacity() int {
	return len(p.pages)
}

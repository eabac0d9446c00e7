// Package vm implements the frame table, supplemental page table, and
// swap area of spec.md §4.4–§4.7: clock-style frame eviction, the
// tagged swapped/file-backed/mmap-backed supplemental entry, the swap
// bitmap, and the mmap/munmap and page-fault glue that ties them
// together.
//
// Grounded on the teacher's vm/as.go (address space / fault handling)
// for the overall shape, but the teacher's frame table lives inside
// mem/dmap.go's unsafe direct-map arithmetic, which has no portable
// Go equivalent outside a real kernel; here frames are plain indices
// into an internal/mem.Pool and "mapping a page" is a call through the
// PageDirectory interface rather than a CR3/PTE write.
package vm

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"pintoscore/internal/inode"
	"pintoscore/internal/mem"
)

// ProcessID identifies the owner of a frame or supplemental entry.
type ProcessID uint64

// PageDirectory abstracts a process's page table, per spec.md §4.4's
// "process page directory/table" GLOSSARY entry. A real kernel
// implements this over hardware page tables; this module's tests use
// an in-memory fake.
type PageDirectory interface {
	Map(page uintptr, frame int, writable bool)
	Unmap(page uintptr)
	IsMapped(page uintptr) bool
	IsAccessed(page uintptr) bool
	ClearAccessed(page uintptr)
	IsDirty(page uintptr) bool
	ClearDirty(page uintptr)
}

// Owner bundles the identity, page directory, and supplemental page
// table of whoever asked the frame table for a page. Passing this
// single handle around (rather than looking owners up by ID in a
// registry) mirrors the teacher's habit of passing the owning Proc_t
// pointer directly into vm/as.go's helpers.
type Owner struct {
	ID  ProcessID
	Dir PageDirectory
	SPT *SupTable
}

// mmapInfo records the file-backed-mmap origin of a frame, needed at
// eviction and munmap time to decide whether to write the page back.
type mmapInfo struct {
	mapid     int
	file      *inode.Inode
	offset    int
	readBytes int
}

type frameEntry struct {
	idx      int
	owner    *Owner
	page     uintptr
	writable bool
	mmap     *mmapInfo
}

type ownerPage struct {
	owner ProcessID
	page  uintptr
}

// Metrics are the Prometheus counters/gauges the frame table updates,
// per SPEC_FULL.md's AMBIENT STACK.
type Metrics struct {
	Evictions     prometheus.Counter
	SwapOuts      prometheus.Counter
	MmapWriteback prometheus.Counter
	FramesInUse   prometheus.Gauge
}

// NewMetrics builds a Metrics with all fields registered against reg.
// Passing a nil reg is valid in tests; the counters still work, they
// are simply unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pintoscore_vm_evictions_total",
			Help: "Number of frame evictions performed.",
		}),
		SwapOuts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pintoscore_vm_swap_outs_total",
			Help: "Number of pages written to swap.",
		}),
		MmapWriteback: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pintoscore_vm_mmap_writeback_total",
			Help: "Number of dirty mmap pages written back to their file.",
		}),
		FramesInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pintoscore_vm_frames_in_use",
			Help: "Number of physical frames currently allocated.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Evictions, m.SwapOuts, m.MmapWriteback, m.FramesInUse)
	}
	return m
}

// FrameTable owns the physical page pool and maps frames to the
// single process currently holding them, per spec.md §4.4.
type FrameTable struct {
	mu      sync.Mutex
	pool    *mem.Pool
	swap    *Swap
	layer   *inode.Layer
	entries []*frameEntry // indexed by frame idx, nil when unused
	byOwner map[ownerPage]int
	clock   int
	log     *slog.Logger
	metrics *Metrics
}

// NewFrameTable constructs a frame table over pool, using swap as the
// eviction target for anonymous pages and layer to write back dirty
// mmap-backed pages.
func NewFrameTable(pool *mem.Pool, swap *Swap, layer *inode.Layer, log *slog.Logger, m *Metrics) *FrameTable {
	if log == nil {
		log = slog.Default()
	}
	if m == nil {
		m = NewMetrics(nil)
	}
	return &FrameTable{
		pool:    pool,
		swap:    swap,
		layer:   layer,
		entries: make([]*frameEntry, pool.Capacity()),
		byOwner: make(map[ownerPage]int),
		log:     log,
		metrics: m,
	}
}

// Alloc reserves a frame for an anonymous (stack/zero-fill) page,
// evicting per the clock algorithm if the pool is exhausted, maps it
// into owner's page directory, and returns the frame's backing bytes.
func (ft *FrameTable) Alloc(owner *Owner, page uintptr, writable bool) ([]byte, error) {
	return ft.alloc(owner, page, writable, nil)
}

// AllocMmap is like Alloc but records the frame as backed by a
// memory-mapped file region, so eviction/munmap know to write it back
// instead of swapping it out.
func (ft *FrameTable) AllocMmap(owner *Owner, page uintptr, file *inode.Inode, mapid, offset, readBytes int) ([]byte, error) {
	return ft.alloc(owner, page, true, &mmapInfo{mapid: mapid, file: file, offset: offset, readBytes: readBytes})
}

func (ft *FrameTable) alloc(owner *Owner, page uintptr, writable bool, m *mmapInfo) ([]byte, error) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	idx, buf, ok := ft.pool.Alloc()
	if !ok {
		var err error
		idx, err = ft.evictLocked()
		if err != nil {
			return nil, err
		}
		buf = ft.pool.Page(idx)
		for i := range buf {
			buf[i] = 0
		}
	}

	ft.entries[idx] = &frameEntry{idx: idx, owner: owner, page: page, writable: writable, mmap: m}
	ft.byOwner[ownerPage{owner.ID, page}] = idx
	ft.metrics.FramesInUse.Set(float64(ft.pool.InUse()))
	owner.Dir.Map(page, idx, writable)
	return buf, nil
}

// evictLocked runs the clock algorithm to find and reclaim a victim
// frame. Caller must hold ft.mu; it is released during the eviction's
// disk I/O and re-acquired before returning, per spec.md §9's note
// that no latency bound is offered under the single frame lock.
func (ft *FrameTable) evictLocked() (int, error) {
	total := len(ft.entries)
	if total == 0 {
		return 0, fmt.Errorf("vm: frame table has zero capacity")
	}
	for scanned := 0; ; scanned++ {
		if scanned > 2*total+1 {
			return 0, fmt.Errorf("vm: eviction could not find a victim (all frames pinned?)")
		}
		idx := ft.clock
		ft.clock = (ft.clock + 1) % total
		e := ft.entries[idx]
		if e == nil {
			continue
		}
		if e.owner.Dir.IsAccessed(e.page) {
			e.owner.Dir.ClearAccessed(e.page)
			continue
		}

		// Victim chosen: remove it from the table before releasing the
		// lock so no other allocator can pick the same frame.
		ft.entries[idx] = nil
		delete(ft.byOwner, ownerPage{e.owner.ID, e.page})
		ft.mu.Unlock()
		err := ft.evictOne(e)
		ft.mu.Lock()
		if err != nil {
			return 0, err
		}
		ft.metrics.Evictions.Inc()
		return idx, nil
	}
}

func (ft *FrameTable) evictOne(e *frameEntry) error {
	buf := ft.pool.Page(e.idx)
	dirty := e.owner.Dir.IsDirty(e.page)

	if e.mmap != nil {
		if dirty && ft.layer != nil {
			if _, err := ft.layer.WriteAt(e.mmap.file, buf[:e.mmap.readBytes], e.mmap.readBytes, e.mmap.offset); err != nil {
				return fmt.Errorf("vm: writeback mmap page: %w", err)
			}
			ft.metrics.MmapWriteback.Inc()
		}
		e.owner.SPT.addMmap(e.page, e.mmap.mapid, e.mmap.file, e.mmap.offset, e.mmap.readBytes, mem.PageSize-e.mmap.readBytes)
	} else {
		slot, err := ft.swap.SwapOut(buf)
		if err != nil {
			return fmt.Errorf("vm: swap out: %w", err)
		}
		ft.metrics.SwapOuts.Inc()
		e.owner.SPT.addSwap(e.page, slot, e.writable)
	}

	e.owner.Dir.Unmap(e.page)
	return nil
}

// FreeAt releases the frame owner currently has mapped at page, if
// any, writing back a dirty mmap-backed page first. It is a no-op if
// owner has no frame at page (the page may never have been faulted
// in). Used by munmap and process teardown.
func (ft *FrameTable) FreeAt(owner *Owner, page uintptr) error {
	ft.mu.Lock()
	idx, ok := ft.byOwner[ownerPage{owner.ID, page}]
	if !ok {
		ft.mu.Unlock()
		return nil
	}
	e := ft.entries[idx]
	ft.entries[idx] = nil
	delete(ft.byOwner, ownerPage{owner.ID, page})
	ft.mu.Unlock()

	if e.mmap != nil && e.owner.Dir.IsDirty(e.page) && ft.layer != nil {
		if _, err := ft.layer.WriteAt(e.mmap.file, ft.pool.Page(idx)[:e.mmap.readBytes], e.mmap.readBytes, e.mmap.offset); err != nil {
			return fmt.Errorf("vm: writeback on free: %w", err)
		}
		ft.metrics.MmapWriteback.Inc()
	}
	owner.Dir.Unmap(page)
	ft.pool.Free(idx)
	ft.mu.Lock()
	ft.metrics.FramesInUse.Set(float64(ft.pool.InUse()))
	ft.mu.Unlock()
	return nil
}

// FreeAll tears down every frame belonging to owner, per spec.md
// §4.4's process-exit cleanup.
func (ft *FrameTable) FreeAll(owner *Owner) {
	ft.mu.Lock()
	var pages []uintptr
	for k, idx := range ft.byOwner {
		if k.owner == owner.ID {
			pages = append(pages, k.page)
			_ = idx
		}
	}
	ft.mu.Unlock()
	for _, p := range pages {
		_ = ft.FreeAt(owner, p)
	}
}

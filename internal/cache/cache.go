// Package cache implements the buffered block cache of spec.md §4.1:
// an in-memory set of recently used sectors with dirty tracking,
// pin-count-gated FIFO eviction, and periodic write-behind.
//
// Grounded on the teacher's fs/blk.go (Bdev_block_t: sector, dirty
// implicit in the write path, pin via a reference object,
// Tryevict/Evictnow/EvictDone) and fs/super.go's single-cache-wide-
// mutex discipline. The teacher's list-based block list (BlkList_t)
// becomes a container/list-backed FIFO queue here; pin/unpin is made
// explicit (pinCount) instead of routed through a callback interface,
// since this module has no separate "release" channel back to a
// scheduler.
package cache

import (
	"container/list"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"pintoscore/internal/blockdev"
	"pintoscore/internal/limits"
)

// MaxCacheSize is the maximum number of resident entries, per
// spec.md §3.
const MaxCacheSize = 64

// WriteBehindInterval is how often the background flush task runs,
// per spec.md §4.1.
const WriteBehindInterval = 5 * time.Second

type entry struct {
	sector   int
	buf      [blockdev.SectorSize]byte
	dirty    bool
	accessed bool
	pinCount int
	elem     *list.Element
}

// Metrics bundles the Prometheus collectors the cache reports to.
// Unless WithMetrics supplies a set, NewCache uses an unregistered,
// private one (safe for tests that construct many Cache instances).
type Metrics struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	evictions prometheus.Counter
	resident  prometheus.Gauge
}

// NewMetrics builds and optionally registers a Metrics set. reg may
// be nil, in which case the collectors are created but not exposed on
// any registry (useful for tests and for multiple independent cache
// instances in the same process, per spec.md §9's requirement that
// subsystems be testable in isolation).
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	m := &Metrics{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "hits_total",
			Help: "Number of cache lookups that found the sector resident.",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "misses_total",
			Help: "Number of cache lookups that required a disk read.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "evictions_total",
			Help: "Number of entries evicted to make room for a miss.",
		}),
		resident: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "cache", Name: "resident_entries",
			Help: "Number of sectors currently resident in the cache.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.hits, m.misses, m.evictions, m.resident)
	}
	return m
}

// Cache is the buffered block cache. The zero value is not usable;
// construct with NewCache.
type Cache struct {
	mu      sync.Mutex
	cond    *sync.Cond
	device  blockdev.Device
	entries map[int]*entry
	order   *list.List // FIFO queue of *entry, front = oldest
	maxSize int
	log     *slog.Logger
	metrics *Metrics
	limit   *limits.Counter

	eg                  *errgroup.Group
	egCtx               context.Context
	cancel              context.CancelFunc
	started             bool
	writeBehindInterval time.Duration
}

// Option configures a Cache at construction time.
type Option func(*Cache)

// WithLogger overrides the default slog.Default() logger.
func WithLogger(l *slog.Logger) Option { return func(c *Cache) { c.log = l } }

// WithMetrics attaches a Metrics set built by NewMetrics.
func WithMetrics(m *Metrics) Option { return func(c *Cache) { c.metrics = m } }

// WithMaxSize overrides MaxCacheSize, for tests that want to exercise
// eviction without allocating 64 real sectors.
func WithMaxSize(n int) Option { return func(c *Cache) { c.maxSize = n } }

// WithLimit ties the cache's resident-entry count to a shared
// system-wide counter, so cache exhaustion can be accounted for
// alongside frame and swap-slot exhaustion.
func WithLimit(c *limits.Counter) Option { return func(cc *Cache) { cc.limit = c } }

// WithWriteBehindInterval overrides the default WriteBehindInterval,
// for tests that want to observe a background flush without waiting
// out the production interval.
func WithWriteBehindInterval(d time.Duration) Option {
	return func(c *Cache) { c.writeBehindInterval = d }
}

// NewCache constructs a Cache in front of device.
func NewCache(device blockdev.Device, opts ...Option) *Cache {
	c := &Cache{
		device:              device,
		entries:             make(map[int]*entry),
		order:               list.New(),
		maxSize:             MaxCacheSize,
		log:                 slog.Default(),
		metrics:             NewMetrics(nil, "pintoscore"),
		writeBehindInterval: WriteBehindInterval,
	}
	for _, o := range opts {
		o(c)
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Start launches the write-behind background task, which calls
// Flush(false) every WriteBehindInterval until Close is called.
// Grounded on biscuit's own (unused-by-the-retrieved-fragment, but
// present in its go.mod) golang.org/x/sync dependency: the task runs
// under an errgroup so Close can join it deterministically instead of
// leaking a detached goroutine.
func (c *Cache) Start() {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	ctx, cancel := context.WithCancel(context.Background())
	c.egCtx, c.cancel = ctx, cancel
	eg, egCtx := errgroup.WithContext(ctx)
	c.eg = eg
	c.mu.Unlock()

	eg.Go(func() error {
		t := time.NewTicker(c.writeBehindInterval)
		defer t.Stop()
		for {
			select {
			case <-egCtx.Done():
				return nil
			case <-t.C:
				if err := c.Flush(false); err != nil {
					c.log.Warn("write-behind flush failed", "err", err)
				}
			}
		}
	})
}

// Close quiesces the write-behind task and returns once it has
// stopped, per spec.md §5's requirement that the sleep→flush loop be
// safe during teardown.
func (c *Cache) Close() error {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if !started {
		return nil
	}
	c.cancel()
	return c.eg.Wait()
}

// pin finds or fills the entry for sector and increments its pin
// count, evicting if the cache is full. Caller must call unpin (or
// let ReadAt/WriteAt do so) exactly once per pin.
func (c *Cache) pin(sector int) (*entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[sector]; ok {
		e.pinCount++
		e.accessed = true
		c.metrics.hits.Inc()
		return e, nil
	}
	c.metrics.misses.Inc()

	if len(c.entries) >= c.maxSize {
		if err := c.evictOneLocked(); err != nil {
			return nil, err
		}
	}
	if c.limit != nil && !c.limit.Take(1) {
		return nil, fmt.Errorf("cache: resident-entry limit exhausted")
	}

	e := &entry{sector: sector, pinCount: 1}
	if err := c.device.ReadSector(sector, e.buf[:]); err != nil {
		// A failed fill must not leave a partial entry (spec.md §4.1
		// Failures).
		if c.limit != nil {
			c.limit.Give(1)
		}
		return nil, fmt.Errorf("cache: fill sector %d: %w", sector, err)
	}
	e.elem = c.order.PushBack(e)
	c.entries[sector] = e
	c.metrics.resident.Set(float64(len(c.entries)))
	return e, nil
}

// pinFresh is like pin but for a sector the caller knows has no
// useful on-disk contents yet (just allocated by the free-map): it
// skips the device read and starts the entry zeroed and dirty. Used
// by the inode layer when growing a file, per spec.md §4.2 step 2
// ("Zero the freshly allocated data sector").
func (c *Cache) pinFresh(sector int) (*entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[sector]; ok {
		e.pinCount++
		e.accessed = true
		return e, nil
	}
	if len(c.entries) >= c.maxSize {
		if err := c.evictOneLocked(); err != nil {
			return nil, err
		}
	}
	if c.limit != nil && !c.limit.Take(1) {
		return nil, fmt.Errorf("cache: resident-entry limit exhausted")
	}
	e := &entry{sector: sector, pinCount: 1, dirty: true}
	e.elem = c.order.PushBack(e)
	c.entries[sector] = e
	c.metrics.resident.Set(float64(len(c.entries)))
	return e, nil
}

func (c *Cache) unpin(e *entry) {
	c.mu.Lock()
	e.pinCount--
	if e.pinCount < 0 {
		panic("cache: pin count went negative")
	}
	c.mu.Unlock()
	c.cond.Broadcast()
}

// evictOneLocked evicts the oldest unpinned entry (FIFO scan), per
// spec.md §4.1 Eviction. It blocks on c.cond until some entry becomes
// unpinned if every resident entry is currently pinned, matching
// spec.md's "forward progress once a pin is released" requirement.
// Caller must hold c.mu.
func (c *Cache) evictOneLocked() error {
	for {
		for el := c.order.Front(); el != nil; el = el.Next() {
			e := el.Value.(*entry)
			if e.pinCount != 0 {
				continue
			}
			if e.dirty {
				if err := c.device.WriteSector(e.sector, e.buf[:]); err != nil {
					return fmt.Errorf("cache: writeback sector %d during eviction: %w", e.sector, err)
				}
			}
			c.order.Remove(el)
			delete(c.entries, e.sector)
			if c.limit != nil {
				c.limit.Give(1)
			}
			c.metrics.evictions.Inc()
			c.metrics.resident.Set(float64(len(c.entries)))
			c.log.Debug("evicted cache entry", "sector", e.sector, "dirty", e.dirty)
			return nil
		}
		// Every resident entry is pinned; wait for a release.
		c.cond.Wait()
	}
}

// ReadAt ensures sector is resident and copies [offset, offset+size)
// from it into dst, returning the number of bytes read.
func (c *Cache) ReadAt(sector int, dst []byte, size, offset int) (int, error) {
	if offset < 0 || size < 0 || offset+size > blockdev.SectorSize {
		return 0, fmt.Errorf("cache: read range [%d,%d) out of sector bounds", offset, offset+size)
	}
	e, err := c.pin(sector)
	if err != nil {
		return 0, err
	}
	defer c.unpin(e)

	c.mu.Lock()
	n := copy(dst, e.buf[offset:offset+size])
	c.mu.Unlock()
	return n, nil
}

// WriteAt ensures sector is resident, copies src into it at
// [offset, offset+size), and marks it dirty.
func (c *Cache) WriteAt(sector int, src []byte, size, offset int) (int, error) {
	if offset < 0 || size < 0 || offset+size > blockdev.SectorSize {
		return 0, fmt.Errorf("cache: write range [%d,%d) out of sector bounds", offset, offset+size)
	}
	e, err := c.pin(sector)
	if err != nil {
		return 0, err
	}
	defer c.unpin(e)

	c.mu.Lock()
	n := copy(e.buf[offset:offset+size], src)
	e.dirty = true
	c.mu.Unlock()
	return n, nil
}

// ZeroFillAt behaves like WriteAt into a sector that has no useful
// on-disk contents yet, skipping the read-before-write a plain
// WriteAt would otherwise require on a miss.
func (c *Cache) ZeroFillAt(sector int) error {
	e, err := c.pinFresh(sector)
	if err != nil {
		return err
	}
	defer c.unpin(e)
	c.mu.Lock()
	for i := range e.buf {
		e.buf[i] = 0
	}
	e.dirty = true
	c.mu.Unlock()
	return nil
}

// Free evicts sector immediately without writing it back, for use
// when the sector is being returned to the free-map (spec.md §4.1).
func (c *Cache) Free(sector int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[sector]
	if !ok {
		return
	}
	if e.pinCount != 0 {
		// The caller is responsible for not freeing a sector it still
		// holds a reference to; surfacing this as a panic matches the
		// teacher's "wtf"/"wut" style invariant panics.
		panic(fmt.Sprintf("cache: Free on pinned sector %d", sector))
	}
	c.order.Remove(e.elem)
	delete(c.entries, sector)
	if c.limit != nil {
		c.limit.Give(1)
	}
	c.metrics.resident.Set(float64(len(c.entries)))
}

// Flush writes every dirty entry to disk. If halt is true, it also
// empties the cache (used at shutdown).
func (c *Cache) Flush(halt bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for el := c.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		if e.dirty {
			if err := c.device.WriteSector(e.sector, e.buf[:]); err != nil {
				return fmt.Errorf("cache: flush sector %d: %w", e.sector, err)
			}
			e.dirty = false
		}
	}
	if halt {
		if c.limit != nil {
			c.limit.Give(int64(len(c.entries)))
		}
		c.entries = make(map[int]*entry)
		c.order.Init()
		c.metrics.resident.Set(0)
	}
	return c.device.Sync()
}

// Len reports the number of resident entries, for tests.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

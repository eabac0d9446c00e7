package vm

import (
	"log/slog"
	"sync"

	"pintoscore/internal/inode"
	"pintoscore/internal/kernelerr"
	"pintoscore/internal/mem"
)

// supEntry is the tagged sum type of spec.md §4.5: a supplemental
// page table entry is exactly one of swapped, file-backed, or
// mmap-backed. Go has no sum types, so this is expressed the
// idiomatic way — an unexported marker interface implemented by three
// distinct structs — rather than one struct with a discriminant field
// and unused members, which is how the teacher's C-shaped ancestor
// would have to do it but Go need not.
type supEntry interface {
	isSupEntry()
}

type swappedEntry struct {
	slot     int
	writable bool
}

type fileBackedEntry struct {
	file      *inode.Inode
	offset    int
	readBytes int
	zeroBytes int
	writable  bool
}

type mmapBackedEntry struct {
	mapid     int
	file      *inode.Inode
	offset    int
	readBytes int
	zeroBytes int
}

func (swappedEntry) isSupEntry()     {}
func (fileBackedEntry) isSupEntry()  {}
func (mmapBackedEntry) isSupEntry()  {}

// SupTable is a process's supplemental page table: a record, per
// unmapped-but-known user page, of where its contents currently live
// (spec.md §4.5).
type SupTable struct {
	mu      sync.Mutex
	entries map[uintptr]supEntry
	swap    *Swap
	ft      *FrameTable
	layer   *inode.Layer
	log     *slog.Logger
}

// NewSupTable constructs a supplemental page table that loads swapped
// pages from swap, file/mmap-backed pages through layer, and
// allocates frames from ft.
func NewSupTable(swap *Swap, ft *FrameTable, layer *inode.Layer, log *slog.Logger) *SupTable {
	if log == nil {
		log = slog.Default()
	}
	return &SupTable{
		entries: make(map[uintptr]supEntry),
		swap:    swap,
		ft:      ft,
		layer:   layer,
		log:     log,
	}
}

// AddSwap records that page's contents currently live in swap slot
// slot. Used both by normal swap-in bookkeeping and by eviction.
func (spt *SupTable) AddSwap(page uintptr, slot int, writable bool) {
	spt.addSwap(page, slot, writable)
}

func (spt *SupTable) addSwap(page uintptr, slot int, writable bool) {
	spt.mu.Lock()
	defer spt.mu.Unlock()
	spt.entries[page] = swappedEntry{slot: slot, writable: writable}
}

// AddFile records that page should be lazily loaded from file at
// offset the first time it is touched (spec.md §4.5's lazy-load
// executable/mmap segment case before any fault has occurred).
func (spt *SupTable) AddFile(page uintptr, file *inode.Inode, offset, readBytes, zeroBytes int, writable bool) {
	spt.mu.Lock()
	defer spt.mu.Unlock()
	spt.entries[page] = fileBackedEntry{file: file, offset: offset, readBytes: readBytes, zeroBytes: zeroBytes, writable: writable}
}

// AddMmap records that page belongs to memory-mapped region mapid and
// should be loaded from (or, on eviction, written back to) file.
func (spt *SupTable) AddMmap(page uintptr, mapid int, file *inode.Inode, offset, readBytes, zeroBytes int) {
	spt.addMmap(page, mapid, file, offset, readBytes, zeroBytes)
}

func (spt *SupTable) addMmap(page uintptr, mapid int, file *inode.Inode, offset, readBytes, zeroBytes int) {
	spt.mu.Lock()
	defer spt.mu.Unlock()
	spt.entries[page] = mmapBackedEntry{mapid: mapid, file: file, offset: offset, readBytes: readBytes, zeroBytes: zeroBytes}
}

// Remove deletes any entry recorded for page, used once the page has
// been permanently unmapped (munmap, process exit).
func (spt *SupTable) Remove(page uintptr) {
	spt.mu.Lock()
	defer spt.mu.Unlock()
	delete(spt.entries, page)
}

// Find reports whether page has a supplemental entry, without
// loading it.
func (spt *SupTable) Find(page uintptr) bool {
	spt.mu.Lock()
	defer spt.mu.Unlock()
	_, ok := spt.entries[page]
	return ok
}

// Load resolves page's supplemental entry into a freshly mapped
// frame in owner's page directory, per spec.md §4.5/§4.7: a swapped
// page is read back from its slot, a file- or mmap-backed page is
// read from disk and zero-padded. It reports ok == false if page has
// no supplemental entry at all, which the caller should treat as a
// genuine segmentation fault (spec.md §9's check_valid_user_pointer
// decision, DESIGN.md #4).
func (spt *SupTable) Load(owner *Owner, page uintptr) (ok bool, err error) {
	spt.mu.Lock()
	entry, found := spt.entries[page]
	if found {
		delete(spt.entries, page)
	}
	spt.mu.Unlock()
	if !found {
		return false, nil
	}

	switch e := entry.(type) {
	case swappedEntry:
		buf, err := spt.ft.Alloc(owner, page, e.writable)
		if err != nil {
			return false, err
		}
		if err := spt.swap.SwapIn(e.slot, buf); err != nil {
			return false, err
		}
		spt.swap.Release(e.slot)
		return true, nil

	case fileBackedEntry:
		buf, err := spt.ft.Alloc(owner, page, e.writable)
		if err != nil {
			return false, err
		}
		if e.readBytes > 0 {
			if _, err := spt.layer.ReadAt(e.file, buf[:e.readBytes], e.readBytes, e.offset); err != nil {
				return false, err
			}
		}
		return true, nil

	case mmapBackedEntry:
		buf, err := spt.ft.AllocMmap(owner, page, e.file, e.mapid, e.offset, e.readBytes)
		if err != nil {
			return false, err
		}
		if e.readBytes > 0 {
			if _, err := spt.layer.ReadAt(e.file, buf[:e.readBytes], e.readBytes, e.offset); err != nil {
				return false, err
			}
		}
		return true, nil

	default:
		return false, kernelerr.EINVAL
	}
}

// PageSize is re-exported for callers outside the package that need
// to compute page-aligned offsets without importing internal/mem
// directly for just the constant.
const PageSize = mem.PageSize

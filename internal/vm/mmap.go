package vm

import (
	"sync"

	"pintoscore/internal/inode"
	"pintoscore/internal/kernelerr"
	"pintoscore/internal/util"
)

// mapping is one active memory-mapped region, per spec.md §4.7.
type mapping struct {
	addr   uintptr
	file   *inode.Inode
	length int
}

// MmapTable is the per-process registry of active mmap ids, mirroring
// spec.md's "mmap record (mapid, file_handle)" per-process state.
type MmapTable struct {
	mu   sync.Mutex
	next int
	byID map[int]*mapping
}

// NewMmapTable constructs an empty per-process mmap registry.
func NewMmapTable() *MmapTable {
	return &MmapTable{byID: make(map[int]*mapping)}
}

// Mmap maps file into owner's address space starting at addr, one
// page-sized (and page-aligned) supplemental entry per page, per
// spec.md §4.7 Mmap. It rejects addr == 0, a non-page-aligned addr, an
// empty file, or any overlap with an existing mapping or already
// faulted-in page.
func Mmap(owner *Owner, layer *inode.Layer, mappings *MmapTable, file *inode.Inode, addr uintptr) (int, error) {
	if addr == 0 || addr%PageSize != 0 {
		return 0, kernelerr.EINVAL
	}
	length := file.Length()
	if length == 0 {
		return 0, kernelerr.EINVAL
	}
	numPages := (length + PageSize - 1) / PageSize

	for i := 0; i < numPages; i++ {
		page := addr + uintptr(i)*PageSize
		if owner.Dir.IsMapped(page) || owner.SPT.Find(page) {
			return 0, kernelerr.EINVAL
		}
	}

	mappings.mu.Lock()
	mappings.next++
	mapid := mappings.next
	mappings.byID[mapid] = &mapping{addr: addr, file: file, length: length}
	mappings.mu.Unlock()

	for i := 0; i < numPages; i++ {
		page := addr + uintptr(i)*PageSize
		offset := i * PageSize
		readBytes := util.Min(PageSize, length-offset)
		zeroBytes := PageSize - readBytes
		owner.SPT.AddMmap(page, mapid, file, offset, readBytes, zeroBytes)
	}
	return mapid, nil
}

// Munmap unmaps mapid from owner's address space: every page still
// resident is written back (if dirty) through layer and released to
// the frame table; every page not yet faulted in simply loses its
// supplemental entry, per spec.md §4.7 Munmap.
func Munmap(owner *Owner, ft *FrameTable, mappings *MmapTable, mapid int) error {
	mappings.mu.Lock()
	m, ok := mappings.byID[mapid]
	if ok {
		delete(mappings.byID, mapid)
	}
	mappings.mu.Unlock()
	if !ok {
		return kernelerr.EINVAL
	}

	numPages := (m.length + PageSize - 1) / PageSize
	for i := 0; i < numPages; i++ {
		page := m.addr + uintptr(i)*PageSize
		if err := ft.FreeAt(owner, page); err != nil {
			return err
		}
		owner.SPT.Remove(page)
	}
	return nil
}

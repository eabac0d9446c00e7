package vm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"pintoscore/internal/blockdev"
	"pintoscore/internal/cache"
	"pintoscore/internal/freemap"
	"pintoscore/internal/inode"
	"pintoscore/internal/kernelerr"
	"pintoscore/internal/mem"
)

func newMmapTestLayer(t *testing.T) (*inode.Layer, *inode.Inode) {
	t.Helper()
	dev := blockdev.NewMemDisk(64)
	c := cache.NewCache(dev)
	fm := freemap.New(c, 0, 64)
	_, ok, err := fm.Allocate(1)
	require.NoError(t, err)
	require.True(t, ok)
	layer := inode.New(c, fm, nil)

	sector, err := layer.Create(0, false, 0)
	require.NoError(t, err)
	in, err := layer.Open(sector)
	require.NoError(t, err)

	payload := make([]byte, PageSize+100)
	for i := range payload {
		payload[i] = byte(i)
	}
	_, err = layer.WriteAt(in, payload, len(payload), 0)
	require.NoError(t, err)

	return layer, in
}

func TestMmapRegistersOnePageEntryPerPage(t *testing.T) {
	layer, in := newMmapTestLayer(t)
	ft, swap := newTestFrameTable(t, 4)
	owner := &Owner{ID: 1, Dir: newFakeDir()}
	owner.SPT = NewSupTable(swap, ft, layer, nil)
	mappings := NewMmapTable()

	const addr uintptr = 0x10000
	mapid, err := Mmap(owner, layer, mappings, in, addr)
	require.NoError(t, err)
	require.NotZero(t, mapid)

	require.True(t, owner.SPT.Find(addr))
	require.True(t, owner.SPT.Find(addr+PageSize), "a two-page file needs two supplemental entries")
}

func TestMmapRejectsUnalignedAddr(t *testing.T) {
	layer, in := newMmapTestLayer(t)
	ft, swap := newTestFrameTable(t, 4)
	owner := &Owner{ID: 1, Dir: newFakeDir()}
	owner.SPT = NewSupTable(swap, ft, layer, nil)
	mappings := NewMmapTable()

	_, err := Mmap(owner, layer, mappings, in, 0x1001)
	require.ErrorIs(t, err, kernelerr.EINVAL)
}

func TestMmapRejectsOverlap(t *testing.T) {
	layer, in := newMmapTestLayer(t)
	ft, swap := newTestFrameTable(t, 4)
	owner := &Owner{ID: 1, Dir: newFakeDir()}
	owner.SPT = NewSupTable(swap, ft, layer, nil)
	mappings := NewMmapTable()

	const addr uintptr = 0x20000
	_, err := Mmap(owner, layer, mappings, in, addr)
	require.NoError(t, err)

	_, err = Mmap(owner, layer, mappings, in, addr)
	require.ErrorIs(t, err, kernelerr.EINVAL)
}

func TestMunmapWritesBackDirtyPagesAndClearsEntries(t *testing.T) {
	layer, in := newMmapTestLayer(t)
	swap := NewSwap(blockdev.NewMemDisk(16*sectorsPerSlot), nil)
	ft := NewFrameTable(mem.NewPool(4), swap, layer, nil, nil)
	owner := &Owner{ID: 1, Dir: newFakeDir()}
	owner.SPT = NewSupTable(swap, ft, layer, nil)
	mappings := NewMmapTable()

	const addr uintptr = 0x30000
	mapid, err := Mmap(owner, layer, mappings, in, addr)
	require.NoError(t, err)

	// Fault the first page in, then dirty it.
	ok, err := owner.SPT.Load(owner, addr)
	require.NoError(t, err)
	require.True(t, ok)

	dir := owner.Dir.(*fakeDir)
	ft.pool.Page(dir.pages[addr].frame)[0] = 0xAA
	dir.SetDirty(addr, true)

	require.NoError(t, Munmap(owner, ft, mappings, mapid))
	require.False(t, owner.Dir.IsMapped(addr))
	require.False(t, owner.SPT.Find(addr))
	require.False(t, owner.SPT.Find(addr+PageSize))

	got := make([]byte, 1)
	_, err = layer.ReadAt(in, got, 1, 0)
	require.NoError(t, err)
	require.Equal(t, byte(0xAA), got[0], "munmap must write the dirty page back to the file")
}

func TestMunmapUnknownMapidIsError(t *testing.T) {
	ft, swap := newTestFrameTable(t, 4)
	owner := &Owner{ID: 1, Dir: newFakeDir()}
	owner.SPT = NewSupTable(swap, ft, nil, nil)
	mappings := NewMmapTable()

	err := Munmap(owner, ft, mappings, 999)
	require.ErrorIs(t, err, kernelerr.EINVAL)
}

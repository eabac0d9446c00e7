package inode

import (
	"testing"

	"github.com/stretchr/testify/require"

	"pintoscore/internal/blockdev"
	"pintoscore/internal/cache"
	"pintoscore/internal/freemap"
)

func newTestLayer(t *testing.T, nsec uint) (*Layer, *freemap.Map) {
	t.Helper()
	dev := blockdev.NewMemDisk(int(nsec))
	c := cache.NewCache(dev)
	fm := freemap.New(c, 0, nsec)
	// Reserve sector 0 the way fsops.Mkfs reserves the superblock, so
	// the inode layer never hands it out as a data sector.
	_, ok, err := fm.Allocate(1)
	require.NoError(t, err)
	require.True(t, ok)
	return New(c, fm, nil), fm
}

func TestCreateOpenWriteCloseReopenRead(t *testing.T) {
	l, _ := newTestLayer(t, 64)

	sector, err := l.Create(0, false, 0)
	require.NoError(t, err)

	in, err := l.Open(sector)
	require.NoError(t, err)
	require.Equal(t, 1, in.OpenCount())

	payload := []byte("hello, pintoscore")
	n, err := l.WriteAt(in, payload, len(payload), 0)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.Equal(t, len(payload), in.Length())

	require.NoError(t, l.Close(in))

	reopened, err := l.Open(sector)
	require.NoError(t, err)
	require.Equal(t, 1, reopened.OpenCount())

	got := make([]byte, len(payload))
	n, err = l.ReadAt(reopened, got, len(got), 0)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.Equal(t, payload, got)

	require.NoError(t, l.Close(reopened))
}

func TestOpenSameSectorSharesInMemoryInode(t *testing.T) {
	l, _ := newTestLayer(t, 64)
	sector, err := l.Create(0, false, 0)
	require.NoError(t, err)

	a, err := l.Open(sector)
	require.NoError(t, err)
	b, err := l.Open(sector)
	require.NoError(t, err)

	require.Same(t, a, b, "spec.md §4.2: at most one in-memory inode per sector")
	require.Equal(t, 2, a.OpenCount())

	require.NoError(t, l.Close(a))
	require.Equal(t, 1, b.OpenCount())
	require.NoError(t, l.Close(b))
}

func TestWriteSparseZeroFillsGap(t *testing.T) {
	l, _ := newTestLayer(t, 64)
	sector, err := l.Create(0, false, 0)
	require.NoError(t, err)
	in, err := l.Open(sector)
	require.NoError(t, err)

	// Write starting well past offset 0: the gap must read back zero.
	tail := []byte("tail")
	_, err = l.WriteAt(in, tail, len(tail), 100)
	require.NoError(t, err)
	require.Equal(t, 104, in.Length())

	gap := make([]byte, 100)
	n, err := l.ReadAt(in, gap, 100, 0)
	require.NoError(t, err)
	require.Equal(t, 100, n)
	require.Equal(t, make([]byte, 100), gap)

	got := make([]byte, len(tail))
	_, err = l.ReadAt(in, got, len(tail), 100)
	require.NoError(t, err)
	require.Equal(t, tail, got)

	require.NoError(t, l.Close(in))
}

func TestReadPastEndOfFileReturnsShortCount(t *testing.T) {
	l, _ := newTestLayer(t, 64)
	sector, err := l.Create(0, false, 0)
	require.NoError(t, err)
	in, err := l.Open(sector)
	require.NoError(t, err)

	payload := []byte("short")
	_, err = l.WriteAt(in, payload, len(payload), 0)
	require.NoError(t, err)

	buf := make([]byte, 100)
	n, err := l.ReadAt(in, buf, 100, 0)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)

	require.NoError(t, l.Close(in))
}

func TestDenyWriteRejectsWrite(t *testing.T) {
	l, _ := newTestLayer(t, 64)
	sector, err := l.Create(0, false, 0)
	require.NoError(t, err)
	in, err := l.Open(sector)
	require.NoError(t, err)

	in.DenyWrite()
	n, err := l.WriteAt(in, []byte("nope"), 4, 0)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	in.AllowWrite()
	n, err = l.WriteAt(in, []byte("ok"), 2, 0)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	require.NoError(t, l.Close(in))
}

func TestRemoveWhileOpenDelaysReclaimUntilLastClose(t *testing.T) {
	l, fm := newTestLayer(t, 64)
	before := fm.Count()

	sector, err := l.Create(0, false, 0)
	require.NoError(t, err)
	_, err = l.Open(sector) // second opener, held across the remove
	require.NoError(t, err)
	second, err := l.Open(sector)
	require.NoError(t, err)

	_, err = l.WriteAt(second, []byte("data"), 4, 0)
	require.NoError(t, err)
	afterCreate := fm.Count()
	require.Greater(t, afterCreate, before, "create+write must consume sectors")

	l.Remove(second)
	// Still open (refcount 2->well, opened twice above, closing once
	// should not reclaim yet).
	require.NoError(t, l.Close(second))
	require.Equal(t, afterCreate, fm.Count(), "sectors stay allocated while still open")

	require.NoError(t, l.Close(second))
	require.Equal(t, before, fm.Count(), "final close of a removed inode reclaims every sector")
}

func TestRemoveReclaimsSingleIndirectSectors(t *testing.T) {
	l, fm := newTestLayer(t, 64)
	before := fm.Count()

	sector, err := l.Create(0, false, 0)
	require.NoError(t, err)
	in, err := l.Open(sector)
	require.NoError(t, err)

	// directCount is 1 sector (512 bytes); a payload several sectors
	// past that forces allocation of the single-indirect index block
	// in addition to the direct block and its own data sectors.
	payload := make([]byte, 6*SZ)
	n, err := l.WriteAt(in, payload, len(payload), 0)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	afterWrite := fm.Count()
	require.Greater(t, afterWrite, before, "write past the direct block must consume index and data sectors")

	l.Remove(in)
	require.NoError(t, l.Close(in))
	require.Equal(t, before, fm.Count(), "reclaim must walk the single-indirect block and free every data sector plus the index sector itself")
}

func TestRemoveReclaimsDoubleIndirectSectors(t *testing.T) {
	// directCount (1) + singleCount (128) sectors exhaust the
	// single-indirect tier; one sector past that forces the
	// double-indirect outer block and its first leaf block.
	nsec := uint(directCount+singleCount+2)*2 + 16
	l, fm := newTestLayer(t, nsec)
	before := fm.Count()

	sector, err := l.Create(0, false, 0)
	require.NoError(t, err)
	in, err := l.Open(sector)
	require.NoError(t, err)

	payload := make([]byte, (directCount+singleCount+2)*SZ)
	n, err := l.WriteAt(in, payload, len(payload), 0)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	afterWrite := fm.Count()
	require.Greater(t, afterWrite, before, "write past the single-indirect tier must consume the double-indirect outer and leaf blocks")

	l.Remove(in)
	require.NoError(t, l.Close(in))
	require.Equal(t, before, fm.Count(), "reclaim must walk the double-indirect outer block, free every leaf pointer it finds, and free the outer block itself")
}

func TestCreateRollsBackOnFailure(t *testing.T) {
	// A device with only a handful of sectors cannot satisfy a large
	// initial size; Create must leave no sectors allocated behind.
	l, fm := newTestLayer(t, 4)
	before := fm.Count()

	_, err := l.Create(0, false, MaxFileSize)
	require.Error(t, err)
	require.Equal(t, before, fm.Count(), "a failed Create must not leak allocated sectors")
}

func TestMaxFileSizeMatchesIndexGeometry(t *testing.T) {
	require.Equal(t, (1+PointersPerIndirect+PointersPerIndirect*PointersPerIndirect)*SZ, MaxFileSize)
}

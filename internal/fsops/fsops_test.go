package fsops

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"pintoscore/internal/blockdev"
	"pintoscore/internal/kernelerr"
	"pintoscore/internal/mem"
	"pintoscore/internal/vm"
)

func TestMkfsBootShutdownRoundTrip(t *testing.T) {
	dev := blockdev.NewMemDisk(256)
	fs, err := Mkfs(dev, nil, nil)
	require.NoError(t, err)
	require.NoError(t, fs.Shutdown())

	fs2, err := Boot(dev, nil, nil)
	require.NoError(t, err)
	require.NoError(t, fs2.Shutdown())
}

func TestCreateOpenWriteCloseReopenRead(t *testing.T) {
	dev := blockdev.NewMemDisk(256)
	fs, err := Mkfs(dev, nil, nil)
	require.NoError(t, err)
	defer fs.Shutdown()

	require.NoError(t, fs.Create("hello.txt", 0))

	proc := NewProc()
	fd, err := fs.Open(proc, "hello.txt")
	require.NoError(t, err)

	payload := []byte("round trip through the syscall surface")
	n, err := fs.Write(proc, fd, payload)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.NoError(t, fs.Close(proc, fd))

	fd2, err := fs.Open(proc, "hello.txt")
	require.NoError(t, err)
	got := make([]byte, len(payload))
	n, err = fs.Read(proc, fd2, got)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.Equal(t, payload, got)
	require.NoError(t, fs.Close(proc, fd2))
}

func TestCreateRejectsDuplicateName(t *testing.T) {
	dev := blockdev.NewMemDisk(256)
	fs, err := Mkfs(dev, nil, nil)
	require.NoError(t, err)
	defer fs.Shutdown()

	require.NoError(t, fs.Create("dup.txt", 0))
	err = fs.Create("dup.txt", 0)
	require.ErrorIs(t, err, kernelerr.EEXIST)
}

func TestOpenMissingNameReturnsENOENT(t *testing.T) {
	dev := blockdev.NewMemDisk(256)
	fs, err := Mkfs(dev, nil, nil)
	require.NoError(t, err)
	defer fs.Shutdown()

	proc := NewProc()
	_, err = fs.Open(proc, "nope.txt")
	require.ErrorIs(t, err, kernelerr.ENOENT)
}

func TestSeekTellFileSize(t *testing.T) {
	dev := blockdev.NewMemDisk(256)
	fs, err := Mkfs(dev, nil, nil)
	require.NoError(t, err)
	defer fs.Shutdown()

	require.NoError(t, fs.Create("seek.txt", 0))
	proc := NewProc()
	fd, err := fs.Open(proc, "seek.txt")
	require.NoError(t, err)

	payload := []byte("0123456789")
	_, err = fs.Write(proc, fd, payload)
	require.NoError(t, err)

	size, err := fs.FileSize(proc, fd)
	require.NoError(t, err)
	require.Equal(t, len(payload), size)

	require.NoError(t, fs.Seek(proc, fd, 3))
	pos, err := fs.Tell(proc, fd)
	require.NoError(t, err)
	require.Equal(t, 3, pos)

	got := make([]byte, 4)
	n, err := fs.Read(proc, fd, got)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, []byte("3456"), got)

	require.NoError(t, fs.Close(proc, fd))
}

func TestRemoveWhileOpenDelaysReclaimUntilLastClose(t *testing.T) {
	dev := blockdev.NewMemDisk(256)
	fs, err := Mkfs(dev, nil, nil)
	require.NoError(t, err)
	defer fs.Shutdown()

	require.NoError(t, fs.Create("victim.txt", 0))
	proc := NewProc()
	fd, err := fs.Open(proc, "victim.txt")
	require.NoError(t, err)
	_, err = fs.Write(proc, fd, []byte("still referenced"))
	require.NoError(t, err)

	require.NoError(t, fs.Remove("victim.txt"))

	// The name is gone from the directory immediately...
	_, err = fs.Open(proc, "victim.txt")
	require.ErrorIs(t, err, kernelerr.ENOENT)

	// ...but the already-open fd keeps working until closed.
	got := make([]byte, len("still referenced"))
	_, err = fs.Read(proc, fd, got)
	require.NoError(t, err)
	require.Equal(t, "still referenced", string(got))
	require.NoError(t, fs.Close(proc, fd))
}

func TestRemoveMissingNameReturnsENOENT(t *testing.T) {
	dev := blockdev.NewMemDisk(256)
	fs, err := Mkfs(dev, nil, nil)
	require.NoError(t, err)
	defer fs.Shutdown()

	require.ErrorIs(t, fs.Remove("nope.txt"), kernelerr.ENOENT)
}

func TestStatReportsSizeAndKind(t *testing.T) {
	dev := blockdev.NewMemDisk(256)
	fs, err := Mkfs(dev, nil, nil)
	require.NoError(t, err)
	defer fs.Shutdown()

	require.NoError(t, fs.Create("statme.txt", 0))
	proc := NewProc()
	fd, err := fs.Open(proc, "statme.txt")
	require.NoError(t, err)
	_, err = fs.Write(proc, fd, []byte("twelve bytes"))
	require.NoError(t, err)
	require.NoError(t, fs.Close(proc, fd))

	info, err := fs.Stat("statme.txt")
	require.NoError(t, err)
	require.Equal(t, uint64(12), info.Size)
	require.False(t, info.IsDir)
}

// fakeDir is a minimal in-memory vm.PageDirectory, mirroring
// cmd/pintoscore's fakePageDirectory, used here to exercise mmap/munmap
// through the fsops facade without a real MMU.
type fakeDir struct {
	mu    sync.Mutex
	pages map[uintptr]*fakeDirEntry
}

type fakeDirEntry struct {
	frame    int
	writable bool
	accessed bool
	dirty    bool
}

func newFakeDir() *fakeDir { return &fakeDir{pages: make(map[uintptr]*fakeDirEntry)} }

func (d *fakeDir) Map(page uintptr, frame int, writable bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pages[page] = &fakeDirEntry{frame: frame, writable: writable}
}
func (d *fakeDir) Unmap(page uintptr) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.pages, page)
}
func (d *fakeDir) IsMapped(page uintptr) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pages[page]
	return ok
}
func (d *fakeDir) IsAccessed(page uintptr) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.pages[page]
	return ok && e.accessed
}
func (d *fakeDir) ClearAccessed(page uintptr) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.pages[page]; ok {
		e.accessed = false
	}
}
func (d *fakeDir) IsDirty(page uintptr) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.pages[page]
	return ok && e.dirty
}
func (d *fakeDir) ClearDirty(page uintptr) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.pages[page]; ok {
		e.dirty = false
	}
}
func (d *fakeDir) SetDirty(page uintptr, v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.pages[page]; ok {
		e.dirty = v
	}
}

func TestMmapMunmapWritesBackThroughFacade(t *testing.T) {
	dev := blockdev.NewMemDisk(256)
	fs, err := Mkfs(dev, nil, nil)
	require.NoError(t, err)
	defer fs.Shutdown()

	require.NoError(t, fs.Create("mapped.txt", 0))
	proc := NewProc()
	fd, err := fs.Open(proc, "mapped.txt")
	require.NoError(t, err)
	payload := []byte("mapped file contents")
	_, err = fs.Write(proc, fd, payload)
	require.NoError(t, err)

	swapDev := blockdev.NewMemDisk(64)
	pool := mem.NewPool(4)
	swap := vm.NewSwap(swapDev, nil)
	ft := vm.NewFrameTable(pool, swap, fs.inodes, nil, nil)

	dir := newFakeDir()
	owner := &vm.Owner{ID: 1, Dir: dir}
	owner.SPT = vm.NewSupTable(swap, ft, fs.inodes, nil)

	const addr uintptr = 0x40000
	mapid, err := fs.Mmap(proc, owner, fd, addr)
	require.NoError(t, err)
	require.NotZero(t, mapid)

	ok, err := owner.SPT.Load(owner, addr)
	require.NoError(t, err)
	require.True(t, ok)
	pool.Page(dir.pages[addr].frame)[0] = 'M'
	dir.SetDirty(addr, true)

	require.NoError(t, fs.Munmap(proc, ft, owner, mapid))
	require.False(t, dir.IsMapped(addr))

	require.NoError(t, fs.Seek(proc, fd, 0))
	got := make([]byte, len(payload))
	n, err := fs.Read(proc, fd, got)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.Equal(t, "Mapped file contents", string(got))
	require.NoError(t, fs.Close(proc, fd))
}

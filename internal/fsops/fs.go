package fsops

import (
	"fmt"
	"log/slog"
	"sync"

	"pintoscore/internal/blockdev"
	"pintoscore/internal/cache"
	"pintoscore/internal/freemap"
	"pintoscore/internal/inode"
	"pintoscore/internal/kernelerr"
	"pintoscore/internal/limits"
	"pintoscore/internal/vm"
)

// FS is the process-facing filesystem facade: the syscall surface of
// spec.md §6, grounded on the teacher's ufs.Ufs_t. It wires the
// cache, free-map, and inode layer together and adds the single flat
// root directory this module implements in place of ufs's
// hierarchical path walker.
type FS struct {
	c       *cache.Cache
	fm      *freemap.Map
	inodes  *inode.Layer
	root    *inode.Inode
	dirMu   sync.Mutex // serializes root-directory mutation, separate from any inode's own lock
	log     *slog.Logger
}

// Mkfs formats dev: it writes a superblock, reserves the sectors the
// superblock and free-map bitmap themselves occupy, and creates an
// empty root directory inode. It returns an FS ready for use. lim may
// be nil, in which case the cache is unaccounted for in any
// system-wide resource ceiling. cacheOpts is passed through to the
// underlying cache.NewCache, e.g. to override the write-behind
// interval.
func Mkfs(dev blockdev.Device, log *slog.Logger, lim *limits.System, cacheOpts ...cache.Option) (*FS, error) {
	if log == nil {
		log = slog.Default()
	}
	n := uint(dev.NumSectors())
	bitsPerSector := uint(blockdev.SectorSize * 8)
	freemapSectors := int((n + bitsPerSector - 1) / bitsPerSector)
	if freemapSectors < 1 {
		freemapSectors = 1
	}

	opts := append([]cache.Option{cache.WithLogger(log), cache.WithLimit(cacheLimit(lim))}, cacheOpts...)
	c := cache.NewCache(dev, opts...)
	c.Start()

	fm := freemap.New(c, 1, n)
	// Reserve the superblock sector and the free-map's own sectors.
	// The bitmap starts entirely clear, so these sequential Allocate
	// calls are guaranteed to return sectors 0..freemapSectors in
	// order before anything else can claim them.
	reserve := 1 + freemapSectors
	for i := 0; i < reserve; i++ {
		if _, ok, err := fm.Allocate(1); err != nil {
			return nil, err
		} else if !ok {
			return nil, fmt.Errorf("fsops: volume too small to format (need %d reserved sectors, have %d total)", reserve, n)
		}
	}

	layer := inode.New(c, fm, log)
	rootSector, err := layer.Create(0, true, 0)
	if err != nil {
		return nil, err
	}

	super := &superblock{
		magic:        superMagic,
		freemapStart: 1,
		freemapBits:  int32(n),
		rootSector:   int32(rootSector),
	}
	if err := writeSuper(c, super); err != nil {
		return nil, err
	}
	if err := c.Flush(false); err != nil {
		return nil, err
	}

	root, err := layer.Open(rootSector)
	if err != nil {
		return nil, err
	}
	return &FS{c: c, fm: fm, inodes: layer, root: root, log: log}, nil
}

// Boot reopens an already-formatted volume, reading its superblock
// and reloading the free-map, per spec.md's BootFS/ShutdownFS
// lifecycle (grounded on ufs.Ufs_t). lim may be nil, in which case the
// cache is unaccounted for in any system-wide resource ceiling.
// cacheOpts is passed through to the underlying cache.NewCache, e.g.
// to override the write-behind interval.
func Boot(dev blockdev.Device, log *slog.Logger, lim *limits.System, cacheOpts ...cache.Option) (*FS, error) {
	if log == nil {
		log = slog.Default()
	}
	opts := append([]cache.Option{cache.WithLogger(log), cache.WithLimit(cacheLimit(lim))}, cacheOpts...)
	c := cache.NewCache(dev, opts...)
	c.Start()

	super, err := readSuper(c)
	if err != nil {
		return nil, err
	}
	fm := freemap.New(c, int(super.freemapStart), uint(super.freemapBits))
	if err := fm.Load(); err != nil {
		return nil, err
	}
	layer := inode.New(c, fm, log)
	root, err := layer.Open(int(super.rootSector))
	if err != nil {
		return nil, err
	}
	return &FS{c: c, fm: fm, inodes: layer, root: root, log: log}, nil
}

// cacheLimit extracts the cache counter from lim, tolerating a nil
// system (no accounting) the way WithLogger tolerates a nil logger.
func cacheLimit(lim *limits.System) *limits.Counter {
	if lim == nil {
		return nil
	}
	return lim.Cache
}

// Shutdown flushes all dirty cache entries to disk and stops the
// write-behind task, per spec.md's ShutdownFS.
func (fs *FS) Shutdown() error {
	if err := fs.inodes.Close(fs.root); err != nil {
		return err
	}
	if err := fs.c.Flush(true); err != nil {
		return err
	}
	return fs.c.Close()
}

// Proc is a process's open-file table: spec.md §6 assigns file
// descriptors starting at 2 (0 and 1 are reserved for
// stdin/stdout by the out-of-scope dispatcher).
type Proc struct {
	mu    sync.Mutex
	next  int
	files map[int]*openFile
	mmaps *vm.MmapTable
}

type openFile struct {
	mu  sync.Mutex
	in  *inode.Inode
	pos int
}

// NewProc creates an empty open-file table for a new process.
func NewProc() *Proc {
	return &Proc{next: 2, files: make(map[int]*openFile), mmaps: vm.NewMmapTable()}
}

// Mmaps exposes the process's mmap registry for use with vm.Mmap/
// vm.Munmap.
func (p *Proc) Mmaps() *vm.MmapTable { return p.mmaps }

func (p *Proc) lookup(fd int) (*openFile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, ok := p.files[fd]
	if !ok {
		return nil, kernelerr.EINVAL
	}
	return f, nil
}

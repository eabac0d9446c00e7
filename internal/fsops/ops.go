package fsops

import (
	"pintoscore/internal/kernelerr"
	"pintoscore/internal/stat"
	"pintoscore/internal/vm"
)

func (fs *FS) dirLookup(name string) (sector int, ok bool, err error) {
	length := fs.root.Length()
	n := length / dirEntrySize
	buf := make([]byte, dirEntrySize)
	for i := 0; i < n; i++ {
		if _, err := fs.inodes.ReadAt(fs.root, buf, dirEntrySize, i*dirEntrySize); err != nil {
			return 0, false, err
		}
		if isFreeDirEntry(buf) {
			continue
		}
		e := decodeDirEntry(buf)
		if e.name == name {
			return e.sector, true, nil
		}
	}
	return 0, false, nil
}

func (fs *FS) dirAdd(name string, sector int) error {
	if len(name) == 0 || len(name) > nameLen {
		return kernelerr.EINVAL
	}
	length := fs.root.Length()
	n := length / dirEntrySize
	buf := make([]byte, dirEntrySize)
	for i := 0; i < n; i++ {
		if _, err := fs.inodes.ReadAt(fs.root, buf, dirEntrySize, i*dirEntrySize); err != nil {
			return err
		}
		if isFreeDirEntry(buf) {
			enc := encodeDirEntry(dirEntry{name: name, sector: sector})
			_, err := fs.inodes.WriteAt(fs.root, enc[:], dirEntrySize, i*dirEntrySize)
			return err
		}
	}
	enc := encodeDirEntry(dirEntry{name: name, sector: sector})
	_, err := fs.inodes.WriteAt(fs.root, enc[:], dirEntrySize, n*dirEntrySize)
	return err
}

func (fs *FS) dirRemove(name string) error {
	length := fs.root.Length()
	n := length / dirEntrySize
	buf := make([]byte, dirEntrySize)
	zero := make([]byte, dirEntrySize)
	for i := 0; i < n; i++ {
		if _, err := fs.inodes.ReadAt(fs.root, buf, dirEntrySize, i*dirEntrySize); err != nil {
			return err
		}
		if isFreeDirEntry(buf) {
			continue
		}
		if decodeDirEntry(buf).name == name {
			_, err := fs.inodes.WriteAt(fs.root, zero, dirEntrySize, i*dirEntrySize)
			return err
		}
	}
	return kernelerr.ENOENT
}

// Create adds a new, initially-empty-or-sized file named name to the
// root directory, per spec.md §6 create. It fails with EEXIST if name
// is already present.
func (fs *FS) Create(name string, initialSize int) error {
	fs.dirMu.Lock()
	defer fs.dirMu.Unlock()

	if _, ok, err := fs.dirLookup(name); err != nil {
		return err
	} else if ok {
		return kernelerr.EEXIST
	}

	sector, err := fs.inodes.Create(fs.root.Sector(), false, initialSize)
	if err != nil {
		return err
	}
	if err := fs.dirAdd(name, sector); err != nil {
		if in, oerr := fs.inodes.Open(sector); oerr == nil {
			fs.inodes.Remove(in)
			_ = fs.inodes.Close(in)
		}
		return err
	}
	return nil
}

// Remove unlinks name from the root directory, per spec.md §6 remove.
// If the file is currently open elsewhere, its sectors are not
// reclaimed until the last opener closes it (spec.md §8 scenario 6).
func (fs *FS) Remove(name string) error {
	fs.dirMu.Lock()
	defer fs.dirMu.Unlock()

	sector, ok, err := fs.dirLookup(name)
	if err != nil {
		return err
	}
	if !ok {
		return kernelerr.ENOENT
	}
	if err := fs.dirRemove(name); err != nil {
		return err
	}
	in, err := fs.inodes.Open(sector)
	if err != nil {
		return err
	}
	fs.inodes.Remove(in)
	return fs.inodes.Close(in)
}

// Open returns a file descriptor for name in p's open-file table, per
// spec.md §6 open.
func (fs *FS) Open(p *Proc, name string) (int, error) {
	fs.dirMu.Lock()
	sector, ok, err := fs.dirLookup(name)
	fs.dirMu.Unlock()
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, kernelerr.ENOENT
	}

	in, err := fs.inodes.Open(sector)
	if err != nil {
		return 0, err
	}

	p.mu.Lock()
	fd := p.next
	p.next++
	p.files[fd] = &openFile{in: in}
	p.mu.Unlock()
	return fd, nil
}

// Close releases fd, per spec.md §6 close.
func (fs *FS) Close(p *Proc, fd int) error {
	p.mu.Lock()
	f, ok := p.files[fd]
	if ok {
		delete(p.files, fd)
	}
	p.mu.Unlock()
	if !ok {
		return kernelerr.EINVAL
	}
	return fs.inodes.Close(f.in)
}

// Read reads into dst from fd's current position, advancing it by
// the number of bytes actually read, per spec.md §6 read.
func (fs *FS) Read(p *Proc, fd int, dst []byte) (int, error) {
	f, err := p.lookup(fd)
	if err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := fs.inodes.ReadAt(f.in, dst, len(dst), f.pos)
	f.pos += n
	return n, err
}

// Write writes src at fd's current position, growing the file as
// needed, per spec.md §6 write.
func (fs *FS) Write(p *Proc, fd int, src []byte) (int, error) {
	f, err := p.lookup(fd)
	if err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := fs.inodes.WriteAt(f.in, src, len(src), f.pos)
	f.pos += n
	return n, err
}

// Seek repositions fd, per spec.md §6 seek.
func (fs *FS) Seek(p *Proc, fd int, pos int) error {
	f, err := p.lookup(fd)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.pos = pos
	f.mu.Unlock()
	return nil
}

// Tell reports fd's current position, per spec.md §6 tell.
func (fs *FS) Tell(p *Proc, fd int) (int, error) {
	f, err := p.lookup(fd)
	if err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pos, nil
}

// FileSize reports fd's current length, per spec.md §6 filesize.
func (fs *FS) FileSize(p *Proc, fd int) (int, error) {
	f, err := p.lookup(fd)
	if err != nil {
		return 0, err
	}
	return f.in.Length(), nil
}

// Mmap maps fd into owner's address space at addr, per spec.md §6/§4.7
// mmap.
func (fs *FS) Mmap(p *Proc, owner *vm.Owner, fd int, addr uintptr) (int, error) {
	f, err := p.lookup(fd)
	if err != nil {
		return 0, err
	}
	return vm.Mmap(owner, fs.inodes, p.mmaps, f.in, addr)
}

// Munmap tears down a mapping previously returned by Mmap, per
// spec.md §6/§4.7 munmap.
func (fs *FS) Munmap(p *Proc, ft *vm.FrameTable, owner *vm.Owner, mapid int) error {
	return vm.Munmap(owner, ft, p.mmaps, mapid)
}

// Stat returns the stat.Info for name, analogous to the teacher's
// ufs.Ufs_t.Stat.
func (fs *FS) Stat(name string) (stat.Info, error) {
	fs.dirMu.Lock()
	sector, ok, err := fs.dirLookup(name)
	fs.dirMu.Unlock()
	if err != nil {
		return stat.Info{}, err
	}
	if !ok {
		return stat.Info{}, kernelerr.ENOENT
	}
	in, err := fs.inodes.Open(sector)
	if err != nil {
		return stat.Info{}, err
	}
	defer fs.inodes.Close(in)

	length := in.Length()
	blocks := (length + 511) / 512
	return stat.Info{
		Ino:    uint64(sector),
		Mode:   modeFromIsDir(in.IsDir()),
		Size:   uint64(length),
		Blocks: uint64(blocks),
		IsDir:  in.IsDir(),
	}, nil
}

func modeFromIsDir(isDir bool) uint32 {
	if isDir {
		return 0040755
	}
	return 0100644
}

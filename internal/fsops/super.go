// Package fsops implements the file-operation syscall surface of
// spec.md §6 (create/remove/open/close/read/write/seek/tell/filesize/
// mmap/munmap): a thin process-facing layer over internal/cache,
// internal/freemap, internal/inode, and internal/vm, grounded on the
// teacher's own userspace harness ufs.Ufs_t (MkFile/Update/Append/
// Unlink/Stat/Read/Ls/BootFS/ShutdownFS). Because hierarchical
// directory traversal is out of scope (spec.md §1), fsops implements
// a single flat root directory — a per-name lookup over one
// directory-entry file — rather than ufs's path-walking layer.
package fsops

import (
	"encoding/binary"
	"fmt"

	"pintoscore/internal/blockdev"
	"pintoscore/internal/cache"
)

// superMagic identifies a formatted volume.
const superMagic uint32 = 0x50544653 // "PTFS"

// superSector is the fixed location of the superblock: sector 0 is
// reserved filesystem metadata (see internal/inode/ondisk.go's
// sentinel-value comment), so nothing else ever claims it.
const superSector = 0

// superblock records where the free-map and root directory live, so
// a volume can be reopened (Boot) without re-running Mkfs.
type superblock struct {
	magic          uint32
	freemapStart   int32
	freemapBits    int32
	rootSector     int32
}

func encodeSuper(s *superblock) [blockdev.SectorSize]byte {
	var buf [blockdev.SectorSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], s.magic)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(s.freemapStart))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(s.freemapBits))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(s.rootSector))
	return buf
}

func decodeSuper(buf []byte) superblock {
	var s superblock
	s.magic = binary.LittleEndian.Uint32(buf[0:4])
	s.freemapStart = int32(binary.LittleEndian.Uint32(buf[4:8]))
	s.freemapBits = int32(binary.LittleEndian.Uint32(buf[8:12]))
	s.rootSector = int32(binary.LittleEndian.Uint32(buf[12:16]))
	return s
}

func writeSuper(c *cache.Cache, s *superblock) error {
	buf := encodeSuper(s)
	_, err := c.WriteAt(superSector, buf[:], blockdev.SectorSize, 0)
	return err
}

func readSuper(c *cache.Cache) (superblock, error) {
	buf := make([]byte, blockdev.SectorSize)
	if _, err := c.ReadAt(superSector, buf, blockdev.SectorSize, 0); err != nil {
		return superblock{}, err
	}
	s := decodeSuper(buf)
	if s.magic != superMagic {
		return superblock{}, fmt.Errorf("fsops: not a pintoscore volume (bad superblock magic)")
	}
	return s, nil
}

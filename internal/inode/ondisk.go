package inode

import (
	"encoding/binary"

	"pintoscore/internal/blockdev"
)

// Magic identifies a valid on-disk inode, per spec.md §6.
const Magic uint32 = 0x494E4F44

// SZ is the unit of file-offset translation: one sector. spec.md
// addresses files directly in 512-byte sectors (unlike the teacher,
// whose fs package aggregates 8 sectors into a 4096-byte "BSIZE"
// disk block); this module follows spec.md's sector-granular layout.
const SZ = blockdev.SectorSize

// PointersPerIndirect is the number of sector pointers an indirect
// block holds (512 bytes / 4 bytes per pointer).
const PointersPerIndirect = SZ / 4

// directCount, singleCount, doubleCount give the size of each index
// tier in sectors, per spec.md §3.
const (
	directCount = 1
	singleCount = PointersPerIndirect
	doubleCount = PointersPerIndirect * PointersPerIndirect
)

// MaxFileSize is (1 + 128 + 128*128) * 512 bytes, per spec.md §3.
const MaxFileSize = (directCount + singleCount + doubleCount) * SZ

// onDiskInode is the exactly-one-sector on-disk representation from
// spec.md §6. A pointer value of 0 means "not yet allocated" — legal
// because sector 0 is always reserved for filesystem metadata and
// never handed out as a data sector (see freemap wiring in the
// fsops/CLI boot sequence).
type onDiskInode struct {
	Direct         int32
	SingleIndirect int32
	DoubleIndirect int32
	Length         int32
	Magic          uint32
	IsDir          bool
	ParentSector   int32
}

func encodeInode(in *onDiskInode) [SZ]byte {
	var buf [SZ]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(in.Direct))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(in.SingleIndirect))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(in.DoubleIndirect))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(in.Length))
	binary.LittleEndian.PutUint32(buf[16:20], in.Magic)
	if in.IsDir {
		buf[20] = 1
	}
	binary.LittleEndian.PutUint32(buf[24:28], uint32(in.ParentSector))
	return buf
}

func decodeInode(buf []byte) onDiskInode {
	var in onDiskInode
	in.Direct = int32(binary.LittleEndian.Uint32(buf[0:4]))
	in.SingleIndirect = int32(binary.LittleEndian.Uint32(buf[4:8]))
	in.DoubleIndirect = int32(binary.LittleEndian.Uint32(buf[8:12]))
	in.Length = int32(binary.LittleEndian.Uint32(buf[12:16]))
	in.Magic = binary.LittleEndian.Uint32(buf[16:20])
	in.IsDir = buf[20] != 0
	in.ParentSector = int32(binary.LittleEndian.Uint32(buf[24:28]))
	return in
}

func encodeIndirect(ptrs [PointersPerIndirect]int32) [SZ]byte {
	var buf [SZ]byte
	for i, p := range ptrs {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], uint32(p))
	}
	return buf
}

func decodeIndirect(buf []byte) [PointersPerIndirect]int32 {
	var ptrs [PointersPerIndirect]int32
	for i := range ptrs {
		ptrs[i] = int32(binary.LittleEndian.Uint32(buf[i*4 : i*4+4]))
	}
	return ptrs
}

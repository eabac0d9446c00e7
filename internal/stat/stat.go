// Package stat mirrors a file's stat(2)-style result, ported from the
// teacher's stat.Stat_t. The teacher exposes the raw struct bytes via
// an unsafe.Pointer cast (Bytes()); this port keeps the same field
// set but marshals through encoding/binary instead, since the value
// never needs to be the literal in-memory layout of a Go struct.
package stat

import (
	"bytes"
	"encoding/binary"
)

// Info holds the fields callers query about a file or directory.
type Info struct {
	Ino     uint64
	Mode    uint32
	Size    uint64
	Blocks  uint64
	IsDir   bool
	ModTime int64 // unix seconds
}

// Bytes returns a stable little-endian wire encoding of the stat
// result: Ino, Mode, Size, Blocks, one IsDir byte, then ModTime.
func (in Info) Bytes() []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, in.Ino)
	_ = binary.Write(&buf, binary.LittleEndian, in.Mode)
	_ = binary.Write(&buf, binary.LittleEndian, in.Size)
	_ = binary.Write(&buf, binary.LittleEndian, in.Blocks)
	isDir := uint8(0)
	if in.IsDir {
		isDir = 1
	}
	_ = buf.WriteByte(isDir)
	_ = binary.Write(&buf, binary.LittleEndian, in.ModTime)
	return buf.Bytes()
}

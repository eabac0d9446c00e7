package fsops

import "encoding/binary"

// nameLen bounds a file name to fit a fixed-size directory entry,
// matching spec.md's flat-namespace assumption.
const nameLen = 28

// dirEntrySize is nameLen bytes of name plus a 4-byte sector pointer.
// An entry with an all-zero name field is a free/tombstoned slot.
const dirEntrySize = nameLen + 4

type dirEntry struct {
	name   string
	sector int
}

func encodeDirEntry(e dirEntry) [dirEntrySize]byte {
	var buf [dirEntrySize]byte
	n := copy(buf[:nameLen], e.name)
	_ = n
	binary.LittleEndian.PutUint32(buf[nameLen:nameLen+4], uint32(e.sector))
	return buf
}

func decodeDirEntry(buf []byte) dirEntry {
	end := 0
	for end < nameLen && buf[end] != 0 {
		end++
	}
	return dirEntry{
		name:   string(buf[:end]),
		sector: int(binary.LittleEndian.Uint32(buf[nameLen : nameLen+4])),
	}
}

func isFreeDirEntry(buf []byte) bool {
	for i := 0; i < nameLen; i++ {
		if buf[i] != 0 {
			return false
		}
	}
	return true
}

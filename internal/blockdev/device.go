// Package blockdev provides the fixed-size sector read/write
// primitive that sits below the buffered block cache. It is the
// external collaborator spec.md §1 calls the "block device"; this
// package gives it two concrete, host-process-friendly
// implementations instead of leaving it abstract, grounded on the
// teacher's ufs.ahci_disk_t, which simulates a disk by seeking and
// reading/writing an *os.File.
package blockdev

import (
	"fmt"
	"os"
	"sync"
)

// SectorSize is the fixed size of one addressable sector, per
// spec.md §3.
const SectorSize = 512

// InvalidSector is the distinguished "no such sector" value.
const InvalidSector = -1

// Device is the synchronous sector read/write contract described in
// spec.md §6. Implementations must serialize their own I/O; callers
// (the cache) never issue concurrent requests for the same device
// without expecting Device to order them itself.
type Device interface {
	// ReadSector reads exactly SectorSize bytes from the given
	// sector into dst, which must have length SectorSize.
	ReadSector(sector int, dst []byte) error
	// WriteSector writes exactly SectorSize bytes from src to the
	// given sector. src must have length SectorSize.
	WriteSector(sector int, src []byte) error
	// Sync flushes any buffering the device itself performs.
	Sync() error
	// NumSectors reports the fixed capacity of the device.
	NumSectors() int
}

// FileDisk is a Device backed by a regular file, sized up front. It
// mirrors the teacher's ahci_disk_t: a mutex-guarded *os.File with
// Seek preceding every Read/Write so concurrent callers cannot
// interleave a seek with another goroutine's read.
type FileDisk struct {
	mu  sync.Mutex
	f   *os.File
	nsec int
}

// OpenFileDisk opens (creating if necessary) a file-backed device
// with capacity nsec sectors. If the file is smaller than that, it is
// extended and zero-filled.
func OpenFileDisk(path string, nsec int) (*FileDisk, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("blockdev: open %s: %w", path, err)
	}
	size := int64(nsec) * SectorSize
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, fmt.Errorf("blockdev: truncate %s: %w", path, err)
	}
	return &FileDisk{f: f, nsec: nsec}, nil
}

// OpenExistingFileDisk opens an already-formatted file-backed device
// without resizing it, sizing nsec from the file's current length.
// Used to reopen a volume created earlier by OpenFileDisk/mkfs.
func OpenExistingFileDisk(path string) (*FileDisk, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("blockdev: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("blockdev: stat %s: %w", path, err)
	}
	return &FileDisk{f: f, nsec: int(info.Size() / SectorSize)}, nil
}

// ReadSector implements Device.
func (d *FileDisk) ReadSector(sector int, dst []byte) error {
	if len(dst) != SectorSize {
		panic("blockdev: dst must be SectorSize bytes")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if sector < 0 || sector >= d.nsec {
		return fmt.Errorf("blockdev: sector %d out of range [0,%d)", sector, d.nsec)
	}
	if _, err := d.f.Seek(int64(sector)*SectorSize, 0); err != nil {
		return err
	}
	_, err := readFull(d.f, dst)
	return err
}

// WriteSector implements Device.
func (d *FileDisk) WriteSector(sector int, src []byte) error {
	if len(src) != SectorSize {
		panic("blockdev: src must be SectorSize bytes")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if sector < 0 || sector >= d.nsec {
		return fmt.Errorf("blockdev: sector %d out of range [0,%d)", sector, d.nsec)
	}
	if _, err := d.f.Seek(int64(sector)*SectorSize, 0); err != nil {
		return err
	}
	_, err := d.f.Write(src)
	return err
}

// Sync implements Device.
func (d *FileDisk) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.f.Sync()
}

// NumSectors implements Device.
func (d *FileDisk) NumSectors() int { return d.nsec }

// Close releases the underlying file.
func (d *FileDisk) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.f.Close()
}

func readFull(f *os.File, dst []byte) (int, error) {
	total := 0
	for total < len(dst) {
		n, err := f.Read(dst[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
	}
	return total, nil
}

// MemDisk is an in-memory Device, used by tests so the whole stack can
// run without a disk image on hand. The CLI always uses FileDisk.
type MemDisk struct {
	mu    sync.Mutex
	sects [][]byte
}

// NewMemDisk returns a zero-filled in-memory device of nsec sectors.
func NewMemDisk(nsec int) *MemDisk {
	m := &MemDisk{sects: make([][]byte, nsec)}
	for i := range m.sects {
		m.sects[i] = make([]byte, SectorSize)
	}
	return m
}

// ReadSector implements Device.
func (m *MemDisk) ReadSector(sector int, dst []byte) error {
	if len(dst) != SectorSize {
		panic("blockdev: dst must be SectorSize bytes")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if sector < 0 || sector >= len(m.sects) {
		return fmt.Errorf("blockdev: sector %d out of range [0,%d)", sector, len(m.sects))
	}
	copy(dst, m.sects[sector])
	return nil
}

// WriteSector implements Device.
func (m *MemDisk) WriteSector(sector int, src []byte) error {
	if len(src) != SectorSize {
		panic("blockdev: src must be SectorSize bytes")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if sector < 0 || sector >= len(m.sects) {
		return fmt.Errorf("blockdev: sector %d out of range [0,%d)", sector, len(m.sects))
	}
	copy(m.sects[sector], src)
	return nil
}

// Sync implements Device.
func (m *MemDisk) Sync() error { return nil }

// NumSectors implements Device.
func (m *MemDisk) NumSectors() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sects)
}

package blockdev

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemDiskReadWriteRoundTrip(t *testing.T) {
	d := NewMemDisk(4)
	require.Equal(t, 4, d.NumSectors())

	src := make([]byte, SectorSize)
	for i := range src {
		src[i] = byte(i)
	}
	require.NoError(t, d.WriteSector(2, src))

	dst := make([]byte, SectorSize)
	require.NoError(t, d.ReadSector(2, dst))
	require.Equal(t, src, dst)

	other := make([]byte, SectorSize)
	require.NoError(t, d.ReadSector(0, other))
	require.Equal(t, make([]byte, SectorSize), other, "unwritten sectors start zero-filled")
}

func TestMemDiskOutOfRange(t *testing.T) {
	d := NewMemDisk(2)
	buf := make([]byte, SectorSize)
	require.Error(t, d.ReadSector(5, buf))
	require.Error(t, d.WriteSector(-1, buf))
}

func TestFileDiskPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")

	d, err := OpenFileDisk(path, 4)
	require.NoError(t, err)
	require.Equal(t, 4, d.NumSectors())

	src := make([]byte, SectorSize)
	copy(src, []byte("hello sector"))
	require.NoError(t, d.WriteSector(1, src))
	require.NoError(t, d.Sync())
	require.NoError(t, d.Close())

	reopened, err := OpenExistingFileDisk(path)
	require.NoError(t, err)
	require.Equal(t, 4, reopened.NumSectors())

	dst := make([]byte, SectorSize)
	require.NoError(t, reopened.ReadSector(1, dst))
	require.Equal(t, src, dst)
}

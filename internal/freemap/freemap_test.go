package freemap

import (
	"testing"

	"github.com/stretchr/testify/require"

	"pintoscore/internal/blockdev"
	"pintoscore/internal/cache"
)

func TestAllocateReleaseRoundTrip(t *testing.T) {
	dev := blockdev.NewMemDisk(16)
	c := cache.NewCache(dev)
	m := New(c, 0, 64)

	start, ok, err := m.Allocate(5)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint(0), start)
	require.Equal(t, uint(5), m.Count())

	require.NoError(t, m.Release(start, 5))
	require.Equal(t, uint(0), m.Count())
}

func TestAllocateFindsContiguousGap(t *testing.T) {
	dev := blockdev.NewMemDisk(16)
	c := cache.NewCache(dev)
	m := New(c, 0, 16)

	_, ok, err := m.Allocate(10)
	require.NoError(t, err)
	require.True(t, ok)

	// Only 6 bits remain; a request for 8 contiguous bits must fail.
	_, ok, err = m.Allocate(8)
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = m.Allocate(6)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestLoadRestoresPersistedBitmap(t *testing.T) {
	dev := blockdev.NewMemDisk(16)
	c := cache.NewCache(dev)
	m := New(c, 0, 64)

	_, ok, err := m.Allocate(3)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, c.Flush(false))

	m2 := New(c, 0, 64)
	require.NoError(t, m2.Load())
	require.Equal(t, uint(3), m2.Count())
}

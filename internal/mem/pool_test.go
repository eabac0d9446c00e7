package mem

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocZeroesAndTracksCapacity(t *testing.T) {
	p := NewPool(2)
	require.Equal(t, 2, p.Capacity())
	require.Equal(t, 0, p.InUse())

	idx, page, ok := p.Alloc()
	require.True(t, ok)
	require.Equal(t, PageSize, len(page))
	for _, b := range page {
		require.Equal(t, byte(0), b)
	}
	require.Equal(t, 1, p.InUse())

	page[0] = 0xAB
	require.Equal(t, byte(0xAB), p.Page(idx)[0])
}

func TestAllocExhaustion(t *testing.T) {
	p := NewPool(1)
	_, _, ok := p.Alloc()
	require.True(t, ok)

	_, _, ok = p.Alloc()
	require.False(t, ok)
}

func TestFreeReturnsPageToPool(t *testing.T) {
	p := NewPool(1)
	idx, _, ok := p.Alloc()
	require.True(t, ok)
	p.Free(idx)
	require.Equal(t, 0, p.InUse())

	_, _, ok = p.Alloc()
	require.True(t, ok, "a freed page must be reusable")
}

func TestRefupRefdown(t *testing.T) {
	p := NewPool(1)
	idx, _, _ := p.Alloc()
	p.Refup(idx)
	require.False(t, p.Refdown(idx), "refcount 2 -> 1 must not free")
	require.Equal(t, 1, p.InUse())
	require.True(t, p.Refdown(idx), "refcount 1 -> 0 must free")
	require.Equal(t, 0, p.InUse())
}

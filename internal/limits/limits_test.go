package limits

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCounterTakeGive(t *testing.T) {
	c := NewCounter(4)
	require.Equal(t, int64(4), c.Remaining())

	require.True(t, c.Take(3))
	require.Equal(t, int64(1), c.Remaining())

	require.False(t, c.Take(2))
	require.Equal(t, int64(1), c.Remaining(), "a failed Take must not partially consume the counter")

	require.True(t, c.Take(1))
	require.Equal(t, int64(0), c.Remaining())

	c.Give(2)
	require.Equal(t, int64(2), c.Remaining())
}

func TestNewSystem(t *testing.T) {
	s := NewSystem(10, 20, 30)
	require.Equal(t, int64(10), s.Frames.Remaining())
	require.Equal(t, int64(20), s.Swap.Remaining())
	require.Equal(t, int64(30), s.Cache.Remaining())
}

package util

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMinMax(t *testing.T) {
	require.Equal(t, 3, Min(3, 5))
	require.Equal(t, 3, Min(5, 3))
	require.Equal(t, 5, Max(3, 5))
	require.Equal(t, 5, Max(5, 3))
	require.Equal(t, -1, Min(-1, 0))
}

func TestRounddownRoundup(t *testing.T) {
	require.Equal(t, 0, Rounddown(5, 8))
	require.Equal(t, 8, Rounddown(8, 8))
	require.Equal(t, 8, Rounddown(15, 8))
	require.Equal(t, 8, Roundup(1, 8))
	require.Equal(t, 8, Roundup(8, 8))
	require.Equal(t, 16, Roundup(9, 8))
}

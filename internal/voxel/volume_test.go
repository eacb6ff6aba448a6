package voxel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVolume_LayoutIsYZX(t *testing.T) {
	v, err := NewVolume(3, 2, 4)
	require.NoError(t, err)

	require.True(t, v.Set(2, 1, 3, 7))
	assert.Equal(t, uint8(7), v.Data[(1*4+3)*3+2])
	assert.Equal(t, uint8(7), v.At(2, 1, 3))

	assert.False(t, v.Set(3, 0, 0, 1))
	assert.Equal(t, Air, v.At(-1, 0, 0))
}

func TestVolume_HistogramAndSolid(t *testing.T) {
	v, err := NewVolume(2, 2, 2)
	require.NoError(t, err)
	v.Set(0, 0, 0, 3)
	v.Set(1, 1, 1, 3)
	v.Set(1, 0, 1, 5)

	assert.Equal(t, map[uint8]int{0: 5, 3: 2, 5: 1}, v.Histogram())
	assert.Equal(t, 3, v.Solid())
}

func TestVolume_ForEachOrder(t *testing.T) {
	v, err := NewVolume(2, 2, 2)
	require.NoError(t, err)
	var got [][3]int
	v.ForEach(func(x, y, z int, _ uint8) {
		got = append(got, [3]int{x, y, z})
	})
	require.Len(t, got, 8)
	assert.Equal(t, [3]int{0, 0, 0}, got[0])
	assert.Equal(t, [3]int{1, 0, 0}, got[1])
	assert.Equal(t, [3]int{0, 0, 1}, got[2])
	assert.Equal(t, [3]int{0, 1, 0}, got[4])
}

func TestVolume_Slice(t *testing.T) {
	v, err := NewVolume(2, 3, 2)
	require.NoError(t, err)
	v.Set(1, 2, 0, 6)

	cells, w, h, err := v.Slice(2, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, w)
	assert.Equal(t, 3, h)
	// Top row first.
	assert.Equal(t, []uint8{0, 6, 0, 0, 0, 0}, cells)

	_, _, _, err = v.Slice(1, 3)
	assert.Error(t, err)
}

func TestOrdinalOffset(t *testing.T) {
	size := [3]int{2, 3, 4}
	seen := map[[3]int]bool{}
	for i := 0; i < 24; i++ {
		dx, dy, dz := OrdinalOffset(i, size)
		require.True(t, dx >= 0 && dx < 2 && dy >= 0 && dy < 3 && dz >= 0 && dz < 4)
		seen[[3]int{dx, dy, dz}] = true
	}
	assert.Len(t, seen, 24)

	dx, dy, dz := OrdinalOffset(13, size)
	assert.Equal(t, [3]int{1, 0, 1}, [3]int{dx, dy, dz})
}

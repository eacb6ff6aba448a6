package schem

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxelscan/internal/palette"
	"voxelscan/internal/voxel"
)

func TestWriteReadRoundTrip(t *testing.T) {
	prof, err := palette.Builtin("cherry")
	require.NoError(t, err)

	vol, err := voxel.NewVolume(3, 2, 2)
	require.NoError(t, err)
	vol.Set(0, 0, 0, 3)
	vol.Set(2, 1, 1, 7)
	vol.Set(1, 0, 1, 6)
	vol.Set(2, 0, 0, 1)

	path := filepath.Join(t.TempDir(), "scan.schem")
	require.NoError(t, WriteFile(path, vol, prof, [3]int{100, 10, -4}))

	s, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, int32(SpongeVersion), s.Version)
	assert.Equal(t, int16(3), s.Width)
	assert.Equal(t, int16(2), s.Height)
	assert.Equal(t, int16(2), s.Length)
	assert.Equal(t, []int32{100, 10, -4}, s.Offset)
	assert.Equal(t, "cherry", s.Metadata.Profile)
	assert.Equal(t, int32(0), s.Palette["minecraft:air"])
	// log (6) and the default label (1) both replay as cherry wood.
	assert.Equal(t, int32(len(s.Palette)), s.PaletteMax)
	assert.Len(t, s.Palette, 4)

	blocks, err := s.Blocks()
	require.NoError(t, err)
	require.Len(t, blocks, vol.Len())
	assert.Equal(t, prof.BlockFor(3), blocks[vol.Index(0, 0, 0)])
	assert.Equal(t, prof.BlockFor(7), blocks[vol.Index(2, 1, 1)])
	assert.Equal(t, "minecraft:cherry_wood", blocks[vol.Index(1, 0, 1)])
	assert.Equal(t, "minecraft:cherry_wood", blocks[vol.Index(2, 0, 0)])
	assert.Equal(t, "minecraft:air", blocks[vol.Index(1, 1, 0)])
}

func TestBuildAllAir(t *testing.T) {
	prof, err := palette.Builtin("natural")
	require.NoError(t, err)
	vol, err := voxel.NewVolume(1, 1, 1)
	require.NoError(t, err)

	s, err := Build(vol, prof, [3]int{}, "empty")
	require.NoError(t, err)
	assert.Equal(t, []byte{0}, s.BlockData)
	assert.Equal(t, map[string]int32{"minecraft:air": 0}, s.Palette)
}

func TestBuildRejectsOversizedAxis(t *testing.T) {
	prof, err := palette.Builtin("natural")
	require.NoError(t, err)
	vol := &voxel.Volume{NX: 40000, NY: 1, NZ: 1, Data: make([]uint8, 40000)}
	_, err = Build(vol, prof, [3]int{}, "wide")
	assert.Error(t, err)
}

func TestBlocksDetectsTruncation(t *testing.T) {
	s := &Schematic{Width: 2, Height: 1, Length: 1, Palette: map[string]int32{"minecraft:air": 0}, BlockData: []byte{0}}
	_, err := s.Blocks()
	assert.Error(t, err)
}

package vti

import (
	"bytes"
	"encoding/xml"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxelscan/internal/voxel"
)

func TestCellOrderIsXThenYThenZ(t *testing.T) {
	vol, err := voxel.NewVolume(2, 2, 2)
	require.NoError(t, err)
	vol.Set(1, 0, 0, 1)
	vol.Set(0, 1, 0, 2)
	vol.Set(0, 0, 1, 3)

	assert.Equal(t, []uint8{0, 1, 2, 0, 3, 0, 0, 0}, CellOrder(vol))
}

func TestEncodeParsesBack(t *testing.T) {
	vol, err := voxel.NewVolume(3, 2, 4)
	require.NoError(t, err)
	for i := range vol.Data {
		vol.Data[i] = uint8(i % 6)
	}

	path := filepath.Join(t.TempDir(), "scan.vti")
	require.NoError(t, WriteFile(path, vol, [3]int{0, 10, 0}))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(raw, []byte("<?xml")))

	var doc vtkFile
	require.NoError(t, xml.Unmarshal(raw, &doc))
	assert.Equal(t, "ImageData", doc.Type)
	assert.Equal(t, "0 3 0 2 0 4", doc.Image.WholeExtent)
	assert.Equal(t, "0 10 0", doc.Image.Origin)

	arr := doc.Image.Piece.CellData.Array
	assert.Equal(t, "block", arr.Name)
	assert.Equal(t, "UInt8", arr.Type)
	assert.Equal(t, 0, arr.Min)
	assert.Equal(t, 5, arr.Max)

	var got []uint8
	for _, f := range strings.Fields(arr.Values) {
		n, err := strconv.Atoi(f)
		require.NoError(t, err)
		got = append(got, uint8(n))
	}
	assert.Equal(t, CellOrder(vol), got)
}

package npy

import (
	"bytes"
	"encoding/binary"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	npyio "github.com/sbinet/npyio/npy"

	"voxelscan/internal/voxel"
)

func volume(t *testing.T) *voxel.Volume {
	t.Helper()
	v, err := voxel.NewVolume(4, 3, 2)
	require.NoError(t, err)
	for i := range v.Data {
		v.Data[i] = uint8(i * 7 % 9)
	}
	return v
}

// rawNPY builds a v1.0 file by hand the way numpy.save lays it out.
func rawNPY(descr string, fortran bool, shape string, data []byte) []byte {
	f := "False"
	if fortran {
		f = "True"
	}
	dict := "{'descr': '" + descr + "', 'fortran_order': " + f + ", 'shape': " + shape + ", }"
	for (10+len(dict)+1)%64 != 0 {
		dict += " "
	}
	dict += "\n"
	var b bytes.Buffer
	b.Write(magic)
	b.Write([]byte{1, 0})
	_ = binary.Write(&b, binary.LittleEndian, uint16(len(dict)))
	b.WriteString(dict)
	b.Write(data)
	return b.Bytes()
}

func TestEncodeHeaderLayout(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, volume(t), DefaultDType))

	b := buf.Bytes()
	require.True(t, bytes.HasPrefix(b, magic))
	hlen := int(binary.LittleEndian.Uint16(b[8:10]))
	assert.Zero(t, (10+hlen)%64)
	header := string(b[10 : 10+hlen])
	assert.True(t, strings.HasSuffix(header, "\n"))
	assert.Contains(t, header, "'shape': (3, 2, 4)")
	assert.Contains(t, header, "'descr': '<i8'")
	assert.Len(t, b, 10+hlen+24*8)
}

func TestRoundTripDTypes(t *testing.T) {
	for _, dt := range []string{"<i8", "|u1", "<i2", "<u4"} {
		t.Run(dt, func(t *testing.T) {
			v := volume(t)
			path := filepath.Join(t.TempDir(), "scan_volume.npy")
			require.NoError(t, WriteFile(path, v, dt))
			got, err := ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, v.Dims(), got.Dims())
			assert.Equal(t, v.Data, got.Data)
		})
	}
}

func TestEncodeReadsBackWithNpyio(t *testing.T) {
	v := volume(t)
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, v, "|u1"))

	nr, err := npyio.NewReader(&buf)
	require.NoError(t, err)
	assert.Equal(t, "|u1", nr.Header.Descr.Type)
	assert.False(t, nr.Header.Descr.Fortran)
	assert.Equal(t, []int{3, 2, 4}, nr.Header.Descr.Shape)

	var flat []uint8
	require.NoError(t, nr.Read(&flat))
	assert.Equal(t, v.Data, flat)
}

func TestDecodeNumpyInt64(t *testing.T) {
	data := make([]byte, 0, 8*6)
	for _, x := range []int64{0, 1, 2, 3, 5, 7} {
		data = binary.LittleEndian.AppendUint64(data, uint64(x))
	}
	vol, err := Decode(bytes.NewReader(rawNPY("<i8", false, "(1, 2, 3)", data)))
	require.NoError(t, err)
	assert.Equal(t, [3]int{3, 1, 2}, vol.Dims())
	assert.Equal(t, uint8(7), vol.At(2, 0, 1))
}

func TestDecodeRejects(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
		want error
	}{
		{"fortran", rawNPY("<i8", true, "(1, 1, 1)", make([]byte, 8)), ErrFortranOrder},
		{"big endian", rawNPY(">i8", false, "(1, 1, 1)", make([]byte, 8)), ErrUnsupportedDType},
		{"float", rawNPY("<f8", false, "(1, 1, 1)", make([]byte, 8)), ErrUnsupportedDType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(bytes.NewReader(tt.raw))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDecodeValueRange(t *testing.T) {
	neg := binary.LittleEndian.AppendUint32(nil, uint32(0xFFFFFFFF))
	_, err := Decode(bytes.NewReader(rawNPY("<i4", false, "(1, 1, 1)", neg)))
	assert.ErrorContains(t, err, "-1 outside label range")

	big := binary.LittleEndian.AppendUint16(nil, 300)
	_, err = Decode(bytes.NewReader(rawNPY("<u2", false, "(1, 1, 1)", big)))
	assert.ErrorContains(t, err, "300 outside label range")

	huge := binary.LittleEndian.AppendUint64(binary.LittleEndian.AppendUint64(nil, 4), 1<<63)
	_, err = Decode(bytes.NewReader(rawNPY("<u8", false, "(1, 1, 2)", huge)))
	assert.ErrorContains(t, err, "element 1")
}

func TestDecodeShapeAndTruncation(t *testing.T) {
	_, err := Decode(bytes.NewReader(rawNPY("|u1", false, "(4,)", make([]byte, 4))))
	assert.ErrorContains(t, err, "3-D")

	_, err = Decode(bytes.NewReader(rawNPY("|u1", false, "(2, 2, 2)", make([]byte, 5))))
	assert.Error(t, err)

	_, err = Decode(strings.NewReader("PK\x03\x04 not numpy"))
	assert.Error(t, err)
}

func TestEncodeRejectsUnknownDType(t *testing.T) {
	var buf bytes.Buffer
	assert.ErrorIs(t, Encode(&buf, volume(t), "<f4"), ErrUnsupportedDType)
}

// Package npy reads and writes label volumes as NumPy .npy arrays of shape
// (NY, NZ, NX) in C order, the layout scan_volume.npy files use.
package npy

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	npyio "github.com/sbinet/npyio/npy"

	"voxelscan/internal/voxel"
)

// DefaultDType matches numpy's default integer array.
const DefaultDType = "<i8"

var (
	ErrUnsupportedDType = errors.New("unsupported npy dtype")
	ErrFortranOrder     = errors.New("fortran-ordered npy arrays are not supported")

	magic = []byte("\x93NUMPY")
)

// itemSize returns the byte width of a supported little-endian dtype.
func itemSize(descr string) (int, bool) {
	switch descr {
	case "|u1", "|i1":
		return 1, true
	case "<i2", "<u2":
		return 2, true
	case "<i4", "<u4":
		return 4, true
	case "<i8", "<u8":
		return 8, true
	}
	return 0, false
}

// Decode reads a 3-D integer array into a volume. Every value must lie in
// 0..255.
func Decode(r io.Reader) (*voxel.Volume, error) {
	nr, err := npyio.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("npy header: %w", err)
	}
	d := nr.Header.Descr
	if d.Fortran {
		return nil, ErrFortranOrder
	}
	if _, ok := itemSize(d.Type); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDType, d.Type)
	}
	if len(d.Shape) != 3 {
		return nil, fmt.Errorf("npy: want 3-D array (ny, nz, nx), got shape %v", d.Shape)
	}
	vol, err := voxel.NewVolume(d.Shape[2], d.Shape[0], d.Shape[1])
	if err != nil {
		return nil, err
	}

	switch d.Type {
	case "|u1":
		err = readLabels[uint8](nr, vol.Data)
	case "|i1":
		err = readLabels[int8](nr, vol.Data)
	case "<i2":
		err = readLabels[int16](nr, vol.Data)
	case "<u2":
		err = readLabels[uint16](nr, vol.Data)
	case "<i4":
		err = readLabels[int32](nr, vol.Data)
	case "<u4":
		err = readLabels[uint32](nr, vol.Data)
	case "<i8":
		err = readLabels[int64](nr, vol.Data)
	case "<u8":
		err = readLabels[uint64](nr, vol.Data)
	}
	if err != nil {
		return nil, err
	}
	return vol, nil
}

type integer interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

// readLabels reads the array as []T and narrows it into dst.
func readLabels[T integer](nr *npyio.Reader, dst []uint8) error {
	vals := make([]T, len(dst))
	if err := nr.Read(&vals); err != nil {
		return fmt.Errorf("npy data: %w", err)
	}
	if len(vals) != len(dst) {
		return fmt.Errorf("npy data: got %d elements, want %d", len(vals), len(dst))
	}
	for i, v := range vals {
		if v < 0 || uint64(v) > 255 {
			return fmt.Errorf("npy data at element %d: value %d outside label range 0..255", i, v)
		}
		dst[i] = uint8(v)
	}
	return nil
}

// Encode writes vol as a version 1.0 array of the given dtype. npyio derives
// the shape from the Go type it is handed, and a slice always comes out 1-D,
// so the (NY, NZ, NX) header is written here.
func Encode(w io.Writer, vol *voxel.Volume, descr string) error {
	size, ok := itemSize(descr)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedDType, descr)
	}
	dict := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': (%d, %d, %d), }", descr, vol.NY, vol.NZ, vol.NX)
	// Pad so the data starts on a 64-byte boundary; the dict ends in '\n'.
	total := len(magic) + 2 + 2 + len(dict) + 1
	if pad := (64 - total%64) % 64; pad > 0 {
		dict += strings.Repeat(" ", pad)
	}
	dict += "\n"

	bw := bufio.NewWriter(w)
	bw.Write(magic)
	bw.Write([]byte{1, 0})
	_ = binary.Write(bw, binary.LittleEndian, uint16(len(dict)))
	bw.WriteString(dict)

	buf := make([]byte, size)
	for _, v := range vol.Data {
		clear(buf)
		buf[0] = v
		if _, err := bw.Write(buf); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func WriteFile(path string, vol *voxel.Volume, descr string) error {
	if descr == "" {
		descr = DefaultDType
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Encode(f, vol, descr); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func ReadFile(path string) (*voxel.Volume, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	vol, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return vol, nil
}

package voxel

import "fmt"

// Air is label 0 in every profile.
const Air uint8 = 0

// Volume is a dense label grid stored as [NY][NZ][NX] with x varying fastest.
type Volume struct {
	NX, NY, NZ int
	Data       []uint8
}

func NewVolume(nx, ny, nz int) (*Volume, error) {
	if nx <= 0 || ny <= 0 || nz <= 0 {
		return nil, fmt.Errorf("invalid volume dims %dx%dx%d", nx, ny, nz)
	}
	return &Volume{NX: nx, NY: ny, NZ: nz, Data: make([]uint8, nx*ny*nz)}, nil
}

// VolumeFor allocates a volume matching the box extent.
func VolumeFor(b Box) (*Volume, error) {
	s := b.Size()
	return NewVolume(s[0], s[1], s[2])
}

// Dims returns (nx, ny, nz).
func (v *Volume) Dims() [3]int { return [3]int{v.NX, v.NY, v.NZ} }

func (v *Volume) Len() int { return v.NX * v.NY * v.NZ }

func (v *Volume) InBounds(x, y, z int) bool {
	return x >= 0 && x < v.NX && y >= 0 && y < v.NY && z >= 0 && z < v.NZ
}

func (v *Volume) Index(x, y, z int) int {
	return (y*v.NZ+z)*v.NX + x
}

func (v *Volume) At(x, y, z int) uint8 {
	if !v.InBounds(x, y, z) {
		return Air
	}
	return v.Data[v.Index(x, y, z)]
}

func (v *Volume) Set(x, y, z int, label uint8) bool {
	if !v.InBounds(x, y, z) {
		return false
	}
	v.Data[v.Index(x, y, z)] = label
	return true
}

// ForEach visits every cell in storage order (y, then z, then x).
func (v *Volume) ForEach(fn func(x, y, z int, label uint8)) {
	i := 0
	for y := 0; y < v.NY; y++ {
		for z := 0; z < v.NZ; z++ {
			for x := 0; x < v.NX; x++ {
				fn(x, y, z, v.Data[i])
				i++
			}
		}
	}
}

func (v *Volume) Histogram() map[uint8]int {
	h := map[uint8]int{}
	for _, l := range v.Data {
		h[l]++
	}
	return h
}

// Solid counts non-air cells.
func (v *Volume) Solid() int {
	n := 0
	for _, l := range v.Data {
		if l != Air {
			n++
		}
	}
	return n
}

// Layer returns a copy of the y-th horizontal layer in [z][x] order.
func (v *Volume) Layer(y int) []uint8 {
	if y < 0 || y >= v.NY {
		return nil
	}
	n := v.NX * v.NZ
	out := make([]uint8, n)
	copy(out, v.Data[y*n:(y+1)*n])
	return out
}

// Slice returns the 2D cut perpendicular to axis (0=x, 1=y, 2=z) at index,
// row-major with the remaining axes in (y|z, x|z) order, plus its width and height.
func (v *Volume) Slice(axis, index int) (cells []uint8, w, h int, err error) {
	switch axis {
	case 0:
		if index < 0 || index >= v.NX {
			return nil, 0, 0, fmt.Errorf("x index %d out of range [0,%d)", index, v.NX)
		}
		w, h = v.NZ, v.NY
		cells = make([]uint8, 0, w*h)
		for y := v.NY - 1; y >= 0; y-- {
			for z := 0; z < v.NZ; z++ {
				cells = append(cells, v.At(index, y, z))
			}
		}
	case 1:
		if index < 0 || index >= v.NY {
			return nil, 0, 0, fmt.Errorf("y index %d out of range [0,%d)", index, v.NY)
		}
		w, h = v.NX, v.NZ
		cells = v.Layer(index)
	case 2:
		if index < 0 || index >= v.NZ {
			return nil, 0, 0, fmt.Errorf("z index %d out of range [0,%d)", index, v.NZ)
		}
		w, h = v.NX, v.NY
		cells = make([]uint8, 0, w*h)
		for y := v.NY - 1; y >= 0; y-- {
			for x := 0; x < v.NX; x++ {
				cells = append(cells, v.At(x, y, index))
			}
		}
	default:
		return nil, 0, 0, fmt.Errorf("bad axis %d", axis)
	}
	return cells, w, h, nil
}

// OrdinalOffset maps the i-th block of a GET /blocks response for a box of the
// given size to its offset from the box origin. The API enumerates x slowest,
// then y, then z.
func OrdinalOffset(i int, size [3]int) (dx, dy, dz int) {
	sy, sz := size[1], size[2]
	dx = i / (sy * sz)
	dy = (i / sz) % sy
	dz = i % sz
	return dx, dy, dz
}

package voxel

import (
	"fmt"
	"strconv"
	"strings"
)

// Box is a half-open axis-aligned region [Min, Max) in world block coordinates.
type Box struct {
	Min [3]int `json:"min" yaml:"min"`
	Max [3]int `json:"max" yaml:"max"`
}

func NewBox(min, max [3]int) (Box, error) {
	b := Box{Min: min, Max: max}
	for i := 0; i < 3; i++ {
		if max[i] <= min[i] {
			return Box{}, fmt.Errorf("empty box on axis %c: [%d,%d)", "xyz"[i], min[i], max[i])
		}
	}
	return b, nil
}

// BoxAt returns the box of the given size whose minimum corner is origin.
func BoxAt(origin [3]int, size [3]int) Box {
	return Box{
		Min: origin,
		Max: [3]int{origin[0] + size[0], origin[1] + size[1], origin[2] + size[2]},
	}
}

// ParseBox parses "x1,y1,z1:x2,y2,z2". Corners may be given in any order; the
// result always has Min <= Max per axis and Max is exclusive.
func ParseBox(s string) (Box, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return Box{}, fmt.Errorf("expected x1,y1,z1:x2,y2,z2")
	}
	a, err := ParseVec3(parts[0])
	if err != nil {
		return Box{}, err
	}
	b, err := ParseVec3(parts[1])
	if err != nil {
		return Box{}, err
	}
	var min, max [3]int
	for i := 0; i < 3; i++ {
		if a[i] <= b[i] {
			min[i], max[i] = a[i], b[i]
		} else {
			min[i], max[i] = b[i], a[i]
		}
	}
	return NewBox(min, max)
}

func ParseVec3(s string) ([3]int, error) {
	var v [3]int
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 3 {
		return v, fmt.Errorf("expected x,y,z")
	}
	for i := 0; i < 3; i++ {
		n, err := strconv.Atoi(strings.TrimSpace(parts[i]))
		if err != nil {
			return v, err
		}
		v[i] = n
	}
	return v, nil
}

func (b Box) String() string {
	return fmt.Sprintf("%d,%d,%d:%d,%d,%d", b.Min[0], b.Min[1], b.Min[2], b.Max[0], b.Max[1], b.Max[2])
}

// Size returns the extent along x, y, z.
func (b Box) Size() [3]int {
	return [3]int{b.Max[0] - b.Min[0], b.Max[1] - b.Min[1], b.Max[2] - b.Min[2]}
}

func (b Box) Volume() int {
	s := b.Size()
	if s[0] <= 0 || s[1] <= 0 || s[2] <= 0 {
		return 0
	}
	return s[0] * s[1] * s[2]
}

func (b Box) Empty() bool { return b.Volume() == 0 }

func (b Box) Contains(x, y, z int) bool {
	return x >= b.Min[0] && x < b.Max[0] &&
		y >= b.Min[1] && y < b.Max[1] &&
		z >= b.Min[2] && z < b.Max[2]
}

func (b Box) Translate(d [3]int) Box {
	return Box{
		Min: [3]int{b.Min[0] + d[0], b.Min[1] + d[1], b.Min[2] + d[2]},
		Max: [3]int{b.Max[0] + d[0], b.Max[1] + d[1], b.Max[2] + d[2]},
	}
}

// Intersect returns the overlap of two boxes; the result may be empty.
func (b Box) Intersect(o Box) Box {
	var out Box
	for i := 0; i < 3; i++ {
		out.Min[i] = maxInt(b.Min[i], o.Min[i])
		out.Max[i] = minInt(b.Max[i], o.Max[i])
		if out.Max[i] < out.Min[i] {
			out.Max[i] = out.Min[i]
		}
	}
	return out
}

// Cubes tiles the box into step-sized cubes anchored at Min, clipped to the
// box. Order is Y outermost, then Z, then X.
func (b Box) Cubes(step int) []Box {
	if step <= 0 || b.Empty() {
		return nil
	}
	var out []Box
	for y := b.Min[1]; y < b.Max[1]; y += step {
		for z := b.Min[2]; z < b.Max[2]; z += step {
			for x := b.Min[0]; x < b.Max[0]; x += step {
				c := Box{
					Min: [3]int{x, y, z},
					Max: [3]int{x + step, y + step, z + step},
				}
				out = append(out, c.Intersect(b))
			}
		}
	}
	return out
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

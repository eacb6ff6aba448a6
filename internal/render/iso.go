package render

import (
	"image"
	"image/draw"
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl64"
	"golang.org/x/image/vector"

	"voxelscan/internal/palette"
	"voxelscan/internal/voxel"
)

type Options struct {
	// Yaw rotates around the vertical axis, Pitch tilts toward the viewer.
	// Both in degrees.
	Yaw   float64
	Pitch float64
	// Scale is pixels per voxel edge.
	Scale  float64
	Margin int
}

func DefaultOptions() Options {
	return Options{Yaw: 45, Pitch: 30, Scale: 6, Margin: 8}
}

type faceDir struct {
	normal  [3]int
	corners [4][3]float64
}

var faceDirs = [6]faceDir{
	{[3]int{1, 0, 0}, [4][3]float64{{1, 0, 0}, {1, 1, 0}, {1, 1, 1}, {1, 0, 1}}},
	{[3]int{-1, 0, 0}, [4][3]float64{{0, 0, 0}, {0, 0, 1}, {0, 1, 1}, {0, 1, 0}}},
	{[3]int{0, 1, 0}, [4][3]float64{{0, 1, 0}, {0, 1, 1}, {1, 1, 1}, {1, 1, 0}}},
	{[3]int{0, -1, 0}, [4][3]float64{{0, 0, 0}, {1, 0, 0}, {1, 0, 1}, {0, 0, 1}}},
	{[3]int{0, 0, 1}, [4][3]float64{{0, 0, 1}, {1, 0, 1}, {1, 1, 1}, {0, 1, 1}}},
	{[3]int{0, 0, -1}, [4][3]float64{{0, 0, 0}, {0, 1, 0}, {1, 1, 0}, {1, 0, 0}}},
}

var lightDir = mgl64.Vec3{0.4, 1, 0.7}.Normalize()

type face struct {
	pts   [4]mgl64.Vec3
	depth float64
	label uint8
	shade float64
}

// Isometric projects the visible surface of vol. A face is drawn when the
// neighbouring cell is air, outside the volume, or a different transparent
// label; faces are painted far to near.
func Isometric(vol *voxel.Volume, prof *palette.Profile, opts Options) image.Image {
	if opts.Scale <= 0 {
		opts.Scale = DefaultOptions().Scale
	}
	// Face bounding boxes must stay inside the canvas.
	if opts.Margin < 1 {
		opts.Margin = 1
	}
	rot := mgl64.Rotate3DX(mgl64.DegToRad(opts.Pitch)).Mul3(mgl64.Rotate3DY(mgl64.DegToRad(opts.Yaw)))
	center := mgl64.Vec3{float64(vol.NX) / 2, float64(vol.NY) / 2, float64(vol.NZ) / 2}

	var visible [6]bool
	var shades [6]float64
	for i, d := range faceDirs {
		n := mgl64.Vec3{float64(d.normal[0]), float64(d.normal[1]), float64(d.normal[2])}
		visible[i] = rot.Mul3x1(n).Z() > 1e-9
		shades[i] = 0.6 + 0.4*math.Max(0, n.Dot(lightDir))
	}

	var faces []face
	vol.ForEach(func(x, y, z int, label uint8) {
		if label == voxel.Air {
			return
		}
		for i, d := range faceDirs {
			if !visible[i] {
				continue
			}
			nx, ny, nz := x+d.normal[0], y+d.normal[1], z+d.normal[2]
			if vol.InBounds(nx, ny, nz) {
				nl := vol.At(nx, ny, nz)
				if nl != voxel.Air {
					_, na := prof.Color(nl)
					if na >= 1 || nl == label {
						continue
					}
				}
			}
			f := face{label: label, shade: shades[i]}
			var sum float64
			for k, c := range d.corners {
				p := mgl64.Vec3{float64(x) + c[0], float64(y) + c[1], float64(z) + c[2]}.Sub(center)
				f.pts[k] = rot.Mul3x1(p)
				sum += f.pts[k].Z()
			}
			f.depth = sum / 4
			faces = append(faces, f)
		}
	})

	// Image bounds from the rotated volume corners.
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, cx := range []float64{0, float64(vol.NX)} {
		for _, cy := range []float64{0, float64(vol.NY)} {
			for _, cz := range []float64{0, float64(vol.NZ)} {
				p := rot.Mul3x1(mgl64.Vec3{cx, cy, cz}.Sub(center))
				minX, maxX = math.Min(minX, p.X()), math.Max(maxX, p.X())
				minY, maxY = math.Min(minY, -p.Y()), math.Max(maxY, -p.Y())
			}
		}
	}
	m := float64(opts.Margin)
	w := int(math.Ceil((maxX-minX)*opts.Scale + 2*m))
	h := int(math.Ceil((maxY-minY)*opts.Scale + 2*m))
	img := newCanvas(w, h)

	sort.SliceStable(faces, func(i, j int) bool { return faces[i].depth < faces[j].depth })

	ras := vector.NewRasterizer(1, 1)
	for _, f := range faces {
		var sx, sy [4]float64
		fx0, fy0 := math.Inf(1), math.Inf(1)
		fx1, fy1 := math.Inf(-1), math.Inf(-1)
		for k, p := range f.pts {
			sx[k] = (p.X()-minX)*opts.Scale + m
			sy[k] = (-p.Y()-minY)*opts.Scale + m
			fx0, fx1 = math.Min(fx0, sx[k]), math.Max(fx1, sx[k])
			fy0, fy1 = math.Min(fy0, sy[k]), math.Max(fy1, sy[k])
		}
		bb := image.Rect(int(math.Floor(fx0)), int(math.Floor(fy0)), int(math.Ceil(fx1)), int(math.Ceil(fy1)))
		if bb.Empty() {
			continue
		}
		ox, oy := float64(bb.Min.X), float64(bb.Min.Y)
		ras.Reset(bb.Dx(), bb.Dy())
		ras.DrawOp = draw.Over
		ras.MoveTo(float32(sx[0]-ox), float32(sy[0]-oy))
		for k := 1; k < 4; k++ {
			ras.LineTo(float32(sx[k]-ox), float32(sy[k]-oy))
		}
		ras.ClosePath()

		c, a := labelColor(prof, f.label, f.shade)
		ras.Draw(img, bb, image.NewUniform(toNRGBA(c, a)), image.Point{})
	}
	return img
}

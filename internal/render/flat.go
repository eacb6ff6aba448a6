package render

import (
	"image"

	"github.com/lucasb-eyer/go-colorful"

	"voxelscan/internal/palette"
	"voxelscan/internal/voxel"
)

// TopDown looks straight down: one pixel per (x, z) column, showing the
// highest non-air label darkened by its depth below the top of the volume.
// Transparent labels let the column below show through.
func TopDown(vol *voxel.Volume, prof *palette.Profile) image.Image {
	img := newCanvas(vol.NX, vol.NZ)
	var (
		layers []colorful.Color
		alphas []float64
	)
	for z := 0; z < vol.NZ; z++ {
		for x := 0; x < vol.NX; x++ {
			layers, alphas = layers[:0], alphas[:0]
			for y := vol.NY - 1; y >= 0; y-- {
				l := vol.At(x, y, z)
				if l == voxel.Air {
					continue
				}
				c, a := labelColor(prof, l, depthShade(y, vol.NY))
				layers = append(layers, c)
				alphas = append(alphas, a)
				if a >= 1 {
					break
				}
			}
			if len(layers) > 0 {
				img.Set(x, z, over(layers, alphas))
			}
		}
	}
	return img
}

func depthShade(y, ny int) float64 {
	if ny <= 1 {
		return 1
	}
	return 0.45 + 0.55*float64(y)/float64(ny-1)
}

// Slice draws one layer of vol perpendicular to axis (0=x, 1=y, 2=z).
// Vertical cuts put the top of the world at the top of the image.
func Slice(vol *voxel.Volume, prof *palette.Profile, axis, index int) (image.Image, error) {
	cells, w, h, err := vol.Slice(axis, index)
	if err != nil {
		return nil, err
	}
	img := newCanvas(w, h)
	for i, l := range cells {
		if l == voxel.Air {
			continue
		}
		c, a := prof.Color(l)
		img.Set(i%w, i/w, over([]colorful.Color{c}, []float64{a}))
	}
	return img, nil
}

// Package render draws label volumes as static images: an isometric view of
// the voxel surface, a top-down height map and single slices.
package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"

	"voxelscan/internal/palette"
)

var Background = color.NRGBA{R: 255, G: 255, B: 255, A: 255}

// SavePNG writes img to path, upscaled by an integer factor with nearest
// neighbour sampling so voxel edges stay crisp.
func SavePNG(path string, img image.Image, scale int) error {
	if scale > 1 {
		b := img.Bounds()
		img = imaging.Resize(img, b.Dx()*scale, b.Dy()*scale, imaging.NearestNeighbor)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := imaging.Save(img, path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

func newCanvas(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(Background), image.Point{}, draw.Src)
	return img
}

func toNRGBA(c colorful.Color, alpha float64) color.NRGBA {
	r, g, b := c.Clamped().RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: uint8(alpha*255 + 0.5)}
}

// labelColor is the profile colour of label scaled by shade.
func labelColor(prof *palette.Profile, label uint8, shade float64) (colorful.Color, float64) {
	c, a := prof.Color(label)
	return colorful.Color{R: c.R * shade, G: c.G * shade, B: c.B * shade}, a
}

// over composites a front-to-back stack of (colour, alpha) layers onto the
// background.
func over(layers []colorful.Color, alphas []float64) color.NRGBA {
	bg := colorful.Color{R: 1, G: 1, B: 1}
	var acc colorful.Color
	remaining := 1.0
	for i, c := range layers {
		a := alphas[i] * remaining
		acc.R += c.R * a
		acc.G += c.G * a
		acc.B += c.B * a
		remaining -= a
		if remaining <= 1e-6 {
			break
		}
	}
	acc.R += bg.R * remaining
	acc.G += bg.G * remaining
	acc.B += bg.B * remaining
	return toNRGBA(acc, 1)
}

package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sort"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"voxelscan/internal/palette"
)

const (
	legendRow    = 18
	legendSwatch = 12
	legendPad    = 6
)

// WithLegend returns img with a strip below it listing every label present
// in hist with its colour, name and count. Air is omitted.
func WithLegend(img image.Image, prof *palette.Profile, hist map[uint8]int) image.Image {
	labels := make([]int, 0, len(hist))
	for l, n := range hist {
		if l != 0 && n > 0 {
			labels = append(labels, int(l))
		}
	}
	if len(labels) == 0 {
		return img
	}
	sort.Ints(labels)

	lines := make([]string, len(labels))
	textW := 0
	for i, l := range labels {
		lines[i] = fmt.Sprintf("%d %s (%d)", l, prof.LabelName(uint8(l)), hist[uint8(l)])
		textW = max(textW, len(lines[i])*basicfont.Face7x13.Advance)
	}

	src := img.Bounds()
	w := max(src.Dx(), legendPad*3+legendSwatch+textW)
	h := src.Dy() + legendPad*2 + legendRow*len(labels)
	out := newCanvas(w, h)
	draw.Draw(out, src.Sub(src.Min), img, src.Min, draw.Src)

	d := &font.Drawer{Dst: out, Src: image.NewUniform(color.Black), Face: basicfont.Face7x13}
	for i, l := range labels {
		top := src.Dy() + legendPad + i*legendRow
		c, a := prof.Color(uint8(l))
		sw := image.Rect(legendPad, top+3, legendPad+legendSwatch, top+3+legendSwatch)
		draw.Draw(out, sw, image.NewUniform(toNRGBA(c, a)), image.Point{}, draw.Over)

		d.Dot = fixed.Point26_6{X: fixed.I(legendPad*2 + legendSwatch), Y: fixed.I(top + 13)}
		d.DrawString(lines[i])
	}
	return out
}

// Package vti writes label volumes as VTK XML ImageData (.vti) for ParaView
// and PyVista. Each voxel is one cell carrying a UInt8 "block" value.
package vti

import (
	"bufio"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"voxelscan/internal/voxel"
)

const ArrayName = "block"

type vtkFile struct {
	XMLName   xml.Name  `xml:"VTKFile"`
	Type      string    `xml:"type,attr"`
	Version   string    `xml:"version,attr"`
	ByteOrder string    `xml:"byte_order,attr"`
	Image     imageData `xml:"ImageData"`
}

type imageData struct {
	WholeExtent string `xml:"WholeExtent,attr"`
	Origin      string `xml:"Origin,attr"`
	Spacing     string `xml:"Spacing,attr"`
	Piece       piece  `xml:"Piece"`
}

type piece struct {
	Extent   string    `xml:"Extent,attr"`
	CellData cellData  `xml:"CellData"`
	Point    *struct{} `xml:"PointData"`
}

type cellData struct {
	Scalars string    `xml:"Scalars,attr"`
	Array   dataArray `xml:"DataArray"`
}

type dataArray struct {
	Type   string `xml:"type,attr"`
	Name   string `xml:"Name,attr"`
	Format string `xml:"format,attr"`
	Min    int    `xml:"RangeMin,attr"`
	Max    int    `xml:"RangeMax,attr"`
	Values string `xml:",chardata"`
}

// CellOrder returns the labels in VTK cell order: x fastest, then y, then z.
func CellOrder(vol *voxel.Volume) []uint8 {
	out := make([]uint8, 0, vol.Len())
	for z := 0; z < vol.NZ; z++ {
		for y := 0; y < vol.NY; y++ {
			for x := 0; x < vol.NX; x++ {
				out = append(out, vol.At(x, y, z))
			}
		}
	}
	return out
}

// Encode writes vol with its origin at the given world position.
func Encode(w io.Writer, vol *voxel.Volume, origin [3]int) error {
	cells := CellOrder(vol)
	lo, hi := 255, 0
	var sb strings.Builder
	sb.Grow(len(cells) * 2)
	for i, v := range cells {
		if i > 0 {
			if i%vol.NX == 0 {
				sb.WriteByte('\n')
			} else {
				sb.WriteByte(' ')
			}
		}
		sb.WriteString(strconv.Itoa(int(v)))
		lo, hi = min(lo, int(v)), max(hi, int(v))
	}
	extent := fmt.Sprintf("0 %d 0 %d 0 %d", vol.NX, vol.NY, vol.NZ)
	doc := vtkFile{
		Type:      "ImageData",
		Version:   "1.0",
		ByteOrder: "LittleEndian",
		Image: imageData{
			WholeExtent: extent,
			Origin:      fmt.Sprintf("%d %d %d", origin[0], origin[1], origin[2]),
			Spacing:     "1 1 1",
			Piece: piece{
				Extent: extent,
				CellData: cellData{
					Scalars: ArrayName,
					Array: dataArray{
						Type:   "UInt8",
						Name:   ArrayName,
						Format: "ascii",
						Min:    lo,
						Max:    hi,
						Values: "\n" + sb.String() + "\n",
					},
				},
				Point: &struct{}{},
			},
		},
	}

	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(bw)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	return bw.Flush()
}

func WriteFile(path string, vol *voxel.Volume, origin [3]int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Encode(f, vol, origin); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

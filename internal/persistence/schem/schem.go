// Package schem exports label volumes as Sponge Schematic v2 files
// (gzip-compressed NBT) so a scan can be pasted with WorldEdit.
package schem

import (
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/Tnze/go-mc/nbt"

	"voxelscan/internal/palette"
	"voxelscan/internal/voxel"
)

const (
	SpongeVersion = 2
	// DataVersion of Minecraft 1.20.1.
	DataVersion = 3465

	rootName = "Schematic"
	airBlock = "minecraft:air"
)

// Schematic mirrors the Sponge v2 root compound.
type Schematic struct {
	Version     int32            `nbt:"Version"`
	DataVersion int32            `nbt:"DataVersion"`
	Metadata    Metadata         `nbt:"Metadata"`
	Width       int16            `nbt:"Width"`
	Height      int16            `nbt:"Height"`
	Length      int16            `nbt:"Length"`
	Offset      []int32          `nbt:"Offset"`
	PaletteMax  int32            `nbt:"PaletteMax"`
	Palette     map[string]int32 `nbt:"Palette"`
	BlockData   []byte           `nbt:"BlockData"`
}

type Metadata struct {
	Name    string `nbt:"Name"`
	Profile string `nbt:"Profile"`
}

// Build converts vol to a schematic, replaying labels through prof. Offset
// is the world position of the volume's minimum corner.
func Build(vol *voxel.Volume, prof *palette.Profile, offset [3]int, name string) (*Schematic, error) {
	for i, n := range vol.Dims() {
		if n > math.MaxInt16 {
			return nil, fmt.Errorf("schematic axis %c too large: %d", "xyz"[i], n)
		}
	}

	ids := map[string]int32{airBlock: 0}
	labelIdx := make(map[uint8]int32)
	hist := vol.Histogram()
	labels := make([]int, 0, len(hist))
	for l := range hist {
		labels = append(labels, int(l))
	}
	sort.Ints(labels)
	for _, l := range labels {
		id := airBlock
		if uint8(l) != voxel.Air {
			id = prof.BlockFor(uint8(l))
		}
		idx, ok := ids[id]
		if !ok {
			idx = int32(len(ids))
			ids[id] = idx
		}
		labelIdx[uint8(l)] = idx
	}

	// Data is already [y][z][x], the order Sponge expects.
	data := make([]byte, 0, vol.Len())
	for _, l := range vol.Data {
		data = binary.AppendUvarint(data, uint64(labelIdx[l]))
	}

	return &Schematic{
		Version:     SpongeVersion,
		DataVersion: DataVersion,
		Metadata:    Metadata{Name: name, Profile: prof.Name},
		Width:       int16(vol.NX),
		Height:      int16(vol.NY),
		Length:      int16(vol.NZ),
		Offset:      []int32{int32(offset[0]), int32(offset[1]), int32(offset[2])},
		PaletteMax:  int32(len(ids)),
		Palette:     ids,
		BlockData:   data,
	}, nil
}

func Encode(w io.Writer, s *Schematic) error {
	zw := gzip.NewWriter(w)
	if err := nbt.NewEncoder(zw).Encode(s, rootName); err != nil {
		_ = zw.Close()
		return fmt.Errorf("nbt encode: %w", err)
	}
	return zw.Close()
}

func Decode(r io.Reader) (*Schematic, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	var s Schematic
	if _, err := nbt.NewDecoder(zr).Decode(&s); err != nil {
		return nil, fmt.Errorf("nbt decode: %w", err)
	}
	return &s, nil
}

func WriteFile(path string, vol *voxel.Volume, prof *palette.Profile, offset [3]int) error {
	s, err := Build(vol, prof, offset, filepath.Base(path))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Encode(f, s); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func ReadFile(path string) (*Schematic, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

// Blocks expands BlockData back to one block id per cell in [y][z][x] order.
func (s *Schematic) Blocks() ([]string, error) {
	byIdx := make(map[int32]string, len(s.Palette))
	for id, idx := range s.Palette {
		byIdx[idx] = id
	}
	n := int(s.Width) * int(s.Height) * int(s.Length)
	out := make([]string, 0, n)
	data := s.BlockData
	for len(data) > 0 {
		v, k := binary.Uvarint(data)
		if k <= 0 {
			return nil, fmt.Errorf("bad varint at cell %d", len(out))
		}
		data = data[k:]
		id, ok := byIdx[int32(v)]
		if !ok {
			return nil, fmt.Errorf("palette index %d not defined", v)
		}
		out = append(out, id)
	}
	if len(out) != n {
		return nil, fmt.Errorf("block data has %d cells, want %d", len(out), n)
	}
	return out, nil
}

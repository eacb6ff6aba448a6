// Package frame outlines a region with a one-block-thick wireframe so the
// scanned area is visible in game.
package frame

import (
	"context"

	"go.uber.org/zap"

	"voxelscan/internal/gdmc"
	"voxelscan/internal/logging"
	"voxelscan/internal/paste"
	"voxelscan/internal/voxel"
)

const DefaultBlock = "minecraft:glass"

// Edges returns the twelve edges of box as placements of id: four along X,
// four along Z, then four vertical. Shared corners appear once.
func Edges(box voxel.Box, id string) []gdmc.Placement {
	if box.Empty() {
		return nil
	}
	x1, y1, z1 := box.Min[0], box.Min[1], box.Min[2]
	x2, y2, z2 := box.Max[0]-1, box.Max[1]-1, box.Max[2]-1

	seen := make(map[[3]int]struct{})
	var out []gdmc.Placement
	add := func(x, y, z int) {
		k := [3]int{x, y, z}
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		out = append(out, gdmc.Placement{X: x, Y: y, Z: z, ID: id})
	}

	for x := x1; x <= x2; x++ {
		add(x, y1, z1)
		add(x, y1, z2)
		add(x, y2, z1)
		add(x, y2, z2)
	}
	for z := z1; z <= z2; z++ {
		add(x1, y1, z)
		add(x2, y1, z)
		add(x1, y2, z)
		add(x2, y2, z)
	}
	for y := y1; y <= y2; y++ {
		add(x1, y, z1)
		add(x1, y, z2)
		add(x2, y, z1)
		add(x2, y, z2)
	}
	return out
}

type Options struct {
	Block     string
	Writer    paste.BlockWriter
	BatchSize int
	RunID     string
	Logger    *zap.Logger
	Journal   paste.Journal
}

// Place sends the frame of box through a batcher. A frame smaller than the
// batch size goes out as a single request.
func Place(ctx context.Context, box voxel.Box, opts Options) (paste.Counts, error) {
	id := opts.Block
	if id == "" {
		id = DefaultBlock
	}
	log := logging.OrNop(opts.Logger)
	b := &paste.Batcher{
		Writer:  opts.Writer,
		Size:    opts.BatchSize,
		Phase:   "frame",
		RunID:   opts.RunID,
		Logger:  log,
		Journal: opts.Journal,
	}
	for _, p := range Edges(box, id) {
		if err := b.Add(ctx, p); err != nil {
			return b.Counts(), err
		}
	}
	if err := b.Flush(ctx); err != nil {
		return b.Counts(), err
	}
	c := b.Counts()
	log.Info("frame placed", zap.Stringer("region", box), zap.String("block", id), zap.Int("placed", c.Succeeded), zap.Int("failed", c.Failed))
	return c, nil
}

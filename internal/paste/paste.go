// Package paste replays a label volume into another region of the world:
// an optional clear phase fills the destination with air, then every
// non-air voxel is placed as the block its label maps to.
package paste

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"voxelscan/internal/gdmc"
	"voxelscan/internal/logging"
	"voxelscan/internal/palette"
	"voxelscan/internal/progress"
	"voxelscan/internal/voxel"
)

const (
	AirBlock = "minecraft:air"

	ColumnMinY = 0
	ColumnMaxY = 320
)

type ClearMode string

const (
	ClearColumn ClearMode = "column"
	ClearBand   ClearMode = "band"
	ClearNone   ClearMode = "none"
)

func ParseClearMode(s string) (ClearMode, error) {
	switch m := ClearMode(s); m {
	case ClearColumn, ClearBand, ClearNone:
		return m, nil
	case "":
		return ClearColumn, nil
	}
	return "", fmt.Errorf("unknown clear mode %q (want column, band or none)", s)
}

// Anchor decides where the copy lands. With nothing set the destination sits
// directly against the source on +X at the same Y and Z.
type Anchor struct {
	// BaseY overrides the destination's lowest Y.
	BaseY *int
	// Origin overrides the destination's minimum corner entirely.
	Origin *[3]int
}

// Target returns the destination box for a copy of src.
func Target(src voxel.Box, a Anchor) voxel.Box {
	if a.Origin != nil {
		return voxel.BoxAt(*a.Origin, src.Size())
	}
	origin := [3]int{src.Max[0], src.Min[1], src.Min[2]}
	if a.BaseY != nil {
		origin[1] = *a.BaseY
	}
	return voxel.BoxAt(origin, src.Size())
}

type Options struct {
	// Source is the region the volume was scanned from. Its size must match
	// the volume.
	Source voxel.Box
	Anchor Anchor

	Clear ClearMode
	// ClearY is the Y range cleared in column mode; zero means [0,320).
	ClearY [2]int
	// KeepAir also places air voxels during the copy.
	KeepAir bool

	Profile   *palette.Profile
	Writer    BlockWriter
	BatchSize int

	RunID    string
	Logger   *zap.Logger
	Journal  Journal
	Progress progress.Reporter
}

type Report struct {
	Dest          voxel.Box     `json:"dest"`
	Cleared       int           `json:"cleared"`
	ClearFailed   int           `json:"clear_failed"`
	Copied        int           `json:"copied"`
	CopyFailed    int           `json:"copy_failed"`
	Skipped       int           `json:"skipped"`
	Batches       int           `json:"batches"`
	FailedBatches int           `json:"failed_batches"`
	Elapsed       time.Duration `json:"elapsed"`
}

// ClearBox returns the region the clear phase fills with air, and false when
// nothing is cleared.
func ClearBox(dest voxel.Box, opts Options) (voxel.Box, bool) {
	switch opts.Clear {
	case ClearNone:
		return voxel.Box{}, false
	case ClearBand:
		return dest, true
	}
	lo, hi := opts.ClearY[0], opts.ClearY[1]
	if lo == 0 && hi == 0 {
		lo, hi = ColumnMinY, ColumnMaxY
	}
	b, err := voxel.NewBox([3]int{dest.Min[0], lo, dest.Min[2]}, [3]int{dest.Max[0], hi, dest.Max[2]})
	if err != nil {
		return voxel.Box{}, false
	}
	return b, true
}

// Estimate is the number of placements Run will send, for progress totals.
func Estimate(vol *voxel.Volume, opts Options) int {
	n := 0
	if cb, ok := ClearBox(Target(opts.Source, opts.Anchor), opts); ok {
		n += cb.Volume()
	}
	if opts.KeepAir {
		return n + vol.Len()
	}
	return n + vol.Solid()
}

// Run clears the destination and copies vol into it. Failed batches are
// counted in the report; only ctx cancellation or bad options return an
// error.
func Run(ctx context.Context, vol *voxel.Volume, opts Options) (Report, error) {
	start := time.Now()
	log := logging.OrNop(opts.Logger)

	if opts.Writer == nil {
		return Report{}, fmt.Errorf("paste: no block writer")
	}
	if got, want := vol.Dims(), opts.Source.Size(); got != want {
		return Report{}, fmt.Errorf("paste: volume dims %v do not match source region %v", got, opts.Source)
	}
	prof := opts.Profile
	if prof == nil {
		var err error
		if prof, err = palette.Builtin(palette.DefaultProfile); err != nil {
			return Report{}, err
		}
	}

	dest := Target(opts.Source, opts.Anchor)
	rep := Report{Dest: dest}
	log.Info("paste start",
		zap.Stringer("source", opts.Source),
		zap.Stringer("dest", dest),
		zap.String("clear", string(opts.Clear)),
		zap.String("profile", prof.Name),
	)

	newBatcher := func(phase string) *Batcher {
		return &Batcher{
			Writer:   opts.Writer,
			Size:     opts.BatchSize,
			Phase:    phase,
			RunID:    opts.RunID,
			Logger:   log,
			Journal:  opts.Journal,
			Progress: opts.Progress,
		}
	}

	if cb, ok := ClearBox(dest, opts); ok {
		b := newBatcher("clear")
		if err := clearBox(ctx, b, cb); err != nil {
			return rep, err
		}
		c := b.Counts()
		rep.Cleared, rep.ClearFailed = c.Succeeded, c.Failed
		rep.Batches += c.Batches
		rep.FailedBatches += c.FailedBatches
		log.Info("clear done", zap.Stringer("box", cb), zap.Int("cleared", c.Succeeded), zap.Int("failed", c.Failed))
	}

	b := newBatcher("copy")
	if err := copyVolume(ctx, b, vol, dest, prof, opts.KeepAir, &rep); err != nil {
		return rep, err
	}
	c := b.Counts()
	rep.Copied, rep.CopyFailed = c.Succeeded, c.Failed
	rep.Batches += c.Batches
	rep.FailedBatches += c.FailedBatches
	rep.Elapsed = time.Since(start)

	log.Info("paste complete",
		zap.Stringer("dest", dest),
		zap.Int("copied", rep.Copied),
		zap.Int("copy_failed", rep.CopyFailed),
		zap.Int("batches", rep.Batches),
		zap.Int("failed_batches", rep.FailedBatches),
		zap.Duration("elapsed", rep.Elapsed),
	)
	return rep, nil
}

// clearBox fills box with air, Y outer then Z then X.
func clearBox(ctx context.Context, b *Batcher, box voxel.Box) error {
	for y := box.Min[1]; y < box.Max[1]; y++ {
		for z := box.Min[2]; z < box.Max[2]; z++ {
			for x := box.Min[0]; x < box.Max[0]; x++ {
				if err := b.Add(ctx, gdmc.Placement{X: x, Y: y, Z: z, ID: AirBlock}); err != nil {
					return err
				}
			}
		}
	}
	return b.Flush(ctx)
}

// copyVolume places every voxel at dest in (y, z, x) order.
func copyVolume(ctx context.Context, b *Batcher, vol *voxel.Volume, dest voxel.Box, prof *palette.Profile, keepAir bool, rep *Report) error {
	i := 0
	for y := 0; y < vol.NY; y++ {
		for z := 0; z < vol.NZ; z++ {
			for x := 0; x < vol.NX; x++ {
				label := vol.Data[i]
				i++
				if label == voxel.Air && !keepAir {
					rep.Skipped++
					continue
				}
				id := AirBlock
				if label != voxel.Air {
					id = prof.BlockFor(label)
				}
				p := gdmc.Placement{X: dest.Min[0] + x, Y: dest.Min[1] + y, Z: dest.Min[2] + z, ID: id}
				if err := b.Add(ctx, p); err != nil {
					return err
				}
			}
		}
	}
	return b.Flush(ctx)
}

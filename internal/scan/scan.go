// Package scan reads a world region cube by cube through the block API and
// reduces it to a label volume.
package scan

import (
	"context"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"voxelscan/internal/gdmc"
	"voxelscan/internal/logging"
	"voxelscan/internal/palette"
	"voxelscan/internal/progress"
	"voxelscan/internal/voxel"
)

const DefaultCubeSize = 16

// BlockReader is the read half of the block API.
type BlockReader interface {
	GetBlocks(ctx context.Context, box voxel.Box) ([]gdmc.Block, error)
}

type Scanner struct {
	Reader  BlockReader
	Profile *palette.Profile

	CubeSize int
	Workers  int

	Logger   *zap.Logger
	Progress progress.Reporter
}

type Stats struct {
	Cubes       int           `json:"cubes"`
	FailedCubes int           `json:"failed_cubes"`
	Blocks      int           `json:"blocks"`
	Ignored     int           `json:"ignored"`
	Histogram   map[uint8]int `json:"histogram"`
	Elapsed     time.Duration `json:"elapsed"`
}

// Run scans box and returns its label volume, indexed relative to box.Min.
// A cube that cannot be read is logged and left as air; only ctx
// cancellation stops the scan early.
func (s *Scanner) Run(ctx context.Context, box voxel.Box) (*voxel.Volume, Stats, error) {
	var st Stats
	start := time.Now()
	log := logging.OrNop(s.Logger)

	vol, err := voxel.VolumeFor(box)
	if err != nil {
		return nil, st, err
	}
	prof := s.Profile
	if prof == nil {
		if prof, err = palette.Builtin(palette.DefaultProfile); err != nil {
			return nil, st, err
		}
	}
	step := s.CubeSize
	if step <= 0 {
		step = DefaultCubeSize
	}
	workers := s.Workers
	if workers <= 0 {
		workers = 1
	}

	cubes := box.Cubes(step)
	st.Cubes = len(cubes)

	var (
		failed  atomic.Int64
		blocks  atomic.Int64
		ignored atomic.Int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, cube := range cubes {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			got, err := s.Reader.GetBlocks(gctx, cube)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failed.Inc()
				log.Warn("cube read failed; treating as air", zap.Stringer("cube", cube), zap.Error(err))
				s.report()
				return nil
			}
			// Cubes never overlap, so concurrent writes touch disjoint cells.
			for _, b := range got {
				if !cube.Contains(b.X, b.Y, b.Z) {
					ignored.Inc()
					continue
				}
				vol.Set(b.X-box.Min[0], b.Y-box.Min[1], b.Z-box.Min[2], prof.Classify(b.ID))
				blocks.Inc()
			}
			s.report()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, st, err
	}
	if err := ctx.Err(); err != nil {
		return nil, st, err
	}

	st.FailedCubes = int(failed.Load())
	st.Blocks = int(blocks.Load())
	st.Ignored = int(ignored.Load())
	st.Histogram = vol.Histogram()
	st.Elapsed = time.Since(start)

	log.Info("scan complete",
		zap.Stringer("region", box),
		zap.Int("cubes", st.Cubes),
		zap.Int("failed_cubes", st.FailedCubes),
		zap.Int("blocks", st.Blocks),
		zap.Int("solid", vol.Solid()),
		zap.Duration("elapsed", st.Elapsed),
	)
	return vol, st, nil
}

func (s *Scanner) report() {
	if s.Progress != nil {
		s.Progress.Add(1)
	}
}

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"voxelscan/internal/frame"
	"voxelscan/internal/paste"
	"voxelscan/internal/persistence/index"
	"voxelscan/internal/persistence/journal"
	"voxelscan/internal/persistence/volumefile"
	"voxelscan/internal/progress"
	"voxelscan/internal/voxel"
)

func (a *app) pasteCmd() *cobra.Command {
	var (
		in        string
		srcRegion string
		baseY     int
		dest      string
		clearMode string
		keepAir   bool
		batchSize int
	)
	cmd := &cobra.Command{
		Use:   "paste",
		Short: "Clear a destination region and replay a stored volume into it",
		Long: `paste places a stored volume next to its source region (on +X, same Y and Z)
unless --base-y or --dest move it. The destination columns are cleared to
air first: "column" clears Y 0..320, "band" clears only the destination's own
Y range, "none" skips clearing. Failed batches are logged, journalled under
<data-dir>/journal and skipped.`,
		Example: `  voxelscan paste --in data/scans/scan.vol.zst
  voxelscan paste --in scan.vol.zst --base-y -60 --clear band --profile cherry`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, vol, err := volumefile.Read(in)
			if err != nil {
				return err
			}
			src := h.Region
			if srcRegion != "" {
				if src, err = voxel.ParseBox(srcRegion); err != nil {
					return fmt.Errorf("--src-region: %w", err)
				}
			}
			if !cmd.Flags().Changed("clear") {
				clearMode = a.cfg.Paste.Clear
			}
			mode, err := paste.ParseClearMode(clearMode)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("batch-size") {
				batchSize = a.cfg.Paste.BatchSize
			}
			if !cmd.Flags().Changed("keep-air") {
				keepAir = a.cfg.Paste.KeepAir
			}

			var anchor paste.Anchor
			if cmd.Flags().Changed("base-y") {
				anchor.BaseY = &baseY
			} else if a.cfg.Paste.BaseY != nil {
				anchor.BaseY = a.cfg.Paste.BaseY
			}
			if dest != "" {
				origin, err := voxel.ParseVec3(dest)
				if err != nil {
					return fmt.Errorf("--dest: %w", err)
				}
				anchor.Origin = &origin
			}

			prof, err := a.volumeProfile(h)
			if err != nil {
				return err
			}
			if h.ProfileDigest != "" && h.Profile == prof.Name && h.ProfileDigest != prof.Digest {
				a.log.Warn("profile changed since the scan; labels may map differently",
					zap.String("profile", prof.Name))
			}
			client, err := a.client()
			if err != nil {
				return err
			}

			rt := a.openRuntime(true)
			defer rt.Close()

			runID := index.NewRunID()
			opts := paste.Options{
				Source:    src,
				Anchor:    anchor,
				Clear:     mode,
				ClearY:    a.cfg.Paste.ClearY,
				KeepAir:   keepAir,
				Profile:   prof,
				Writer:    client,
				BatchSize: batchSize,
				RunID:     runID,
				Logger:    a.log.Named("paste"),
				Journal:   rt.journalSink(),
			}
			bar := progress.New("paste", paste.Estimate(vol, opts), cmd.ErrOrStderr())
			opts.Progress = bar

			started := time.Now().UTC()
			rep, err := paste.Run(cmd.Context(), vol, opts)
			bar.Finish()
			if err != nil {
				return err
			}
			d := rep.Dest
			rt.record(cmd.Context(), index.Run{
				ID:            runID,
				Kind:          index.KindPaste,
				API:           client.BaseURL(),
				Region:        src,
				Dest:          &d,
				Artifact:      in,
				Profile:       prof.Name,
				ProfileDigest: prof.Digest,
				OK:            rep.Cleared + rep.Copied,
				Failed:        rep.ClearFailed + rep.CopyFailed,
				Batches:       rep.Batches,
				FailedBatches: rep.FailedBatches,
				StartedAt:     started,
				FinishedAt:    time.Now().UTC(),
			}, prof)

			s := newSummary(stdout(cmd)).
				add("source", "%s", src).
				add("dest", "%s", rep.Dest).
				add("cleared", "%s ok, %s failed", comma(rep.Cleared), comma(rep.ClearFailed)).
				add("copied", "%s ok, %s failed, %s air skipped", comma(rep.Copied), comma(rep.CopyFailed), comma(rep.Skipped)).
				add("batches", "%s (%s failed)", comma(rep.Batches), comma(rep.FailedBatches)).
				add("elapsed", "%s", rep.Elapsed.Round(time.Millisecond)).
				add("run", "%s", runID)
			if rep.FailedBatches > 0 {
				s.add("journal", "%s", rt.journal.Dir())
			}
			s.print("paste complete", rep.ClearFailed+rep.CopyFailed)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&in, "in", "i", "", "volume file to paste")
	f.StringVar(&srcRegion, "src-region", "", "source region (default from the volume header)")
	f.IntVar(&baseY, "base-y", 0, "destination Y origin, e.g. the superflat ground height")
	f.StringVar(&dest, "dest", "", "destination origin x,y,z (overrides --base-y)")
	f.StringVar(&clearMode, "clear", string(paste.ClearColumn), "clear mode: column, band or none")
	f.BoolVar(&keepAir, "keep-air", false, "also place air voxels")
	f.IntVar(&batchSize, "batch-size", paste.DefaultBatchSize, "placements per PUT /blocks")
	_ = cmd.MarkFlagRequired("in")
	return cmd
}

func (a *app) frameCmd() *cobra.Command {
	var (
		region    string
		block     string
		batchSize int
	)
	cmd := &cobra.Command{
		Use:   "frame",
		Short: "Outline a region's twelve edges with a block",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("region") {
				region = a.cfg.Scan.Region
			}
			if !cmd.Flags().Changed("block") {
				block = a.cfg.Frame.Block
			}
			if !cmd.Flags().Changed("batch-size") {
				batchSize = a.cfg.Paste.BatchSize
			}
			box, err := voxel.ParseBox(region)
			if err != nil {
				return fmt.Errorf("--region: %w", err)
			}
			client, err := a.client()
			if err != nil {
				return err
			}
			rt := a.openRuntime(true)
			defer rt.Close()

			runID := index.NewRunID()
			started := time.Now().UTC()
			c, err := frame.Place(cmd.Context(), box, frame.Options{
				Block:     block,
				Writer:    client,
				BatchSize: batchSize,
				RunID:     runID,
				Logger:    a.log.Named("frame"),
				Journal:   rt.journalSink(),
			})
			if err != nil {
				return err
			}
			rt.record(cmd.Context(), index.Run{
				ID:            runID,
				Kind:          index.KindFrame,
				API:           client.BaseURL(),
				Region:        box,
				OK:            c.Succeeded,
				Failed:        c.Failed,
				Batches:       c.Batches,
				FailedBatches: c.FailedBatches,
				StartedAt:     started,
				FinishedAt:    time.Now().UTC(),
			}, nil)

			newSummary(stdout(cmd)).
				add("region", "%s", box).
				add("block", "%s", block).
				add("placed", "%s of %s", comma(c.Succeeded), comma(c.Sent)).
				add("run", "%s", runID).
				print("frame placed", c.Failed)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&region, "region", "", "region x1,y1,z1:x2,y2,z2 (default from config)")
	f.StringVar(&block, "block", frame.DefaultBlock, "block id for the edges")
	f.IntVar(&batchSize, "batch-size", paste.DefaultBatchSize, "placements per PUT /blocks")
	return cmd
}

func (a *app) retryCmd() *cobra.Command {
	var (
		dir    string
		prune  bool
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Resend the failed batches recorded in a journal directory",
		Long: `retry replays every journalled batch exactly as it was sent. Batches that
fail again are written to a "retry" journal below the one being replayed.
With --prune, a journal file is deleted once all of its batches succeed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				dir = a.cfg.JournalDir()
			}
			files, err := journal.Files(dir)
			if err != nil {
				return fmt.Errorf("journal: %w", err)
			}
			if len(files) == 0 {
				fmt.Fprintf(stdout(cmd), "no journal files in %s\n", dir)
				return nil
			}
			if dryRun {
				entries, err := journal.ReadDir(dir)
				if err != nil {
					return fmt.Errorf("journal: %w", err)
				}
				newSummary(stdout(cmd)).
					add("journal", "%s (%d files)", dir, len(files)).
					add("pending", "%s placements in %s batches", comma(journal.Placements(entries)), comma(len(entries))).
					print("retry dry run", 0)
				return nil
			}
			client, err := a.client()
			if err != nil {
				return err
			}
			rt := a.openRuntime(false)
			defer rt.Close()
			again := journal.NewWriter(filepath.Join(dir, "retry"))
			defer func() {
				if err := again.Close(); err != nil {
					a.log.Warn("retry journal close", zap.Error(err))
				}
			}()

			runID := index.NewRunID()
			started := time.Now().UTC()
			var total paste.Counts
			for _, path := range files {
				entries, err := journal.ReadFile(path)
				if err != nil {
					a.log.Warn("skipping unreadable journal", zap.String("file", path), zap.Error(err))
					continue
				}
				b := &paste.Batcher{
					Writer:  client,
					Phase:   "retry",
					RunID:   runID,
					Logger:  a.log.Named("retry"),
					Journal: again,
				}
				for _, e := range entries {
					b.Size = len(e.Placements)
					for _, p := range e.Placements {
						if err := b.Add(cmd.Context(), p); err != nil {
							return err
						}
					}
					if err := b.Flush(cmd.Context()); err != nil {
						return err
					}
				}
				c := b.Counts()
				a.log.Info("journal replayed",
					zap.String("file", filepath.Base(path)),
					zap.Int("entries", len(entries)),
					zap.Int("placed", c.Succeeded),
					zap.Int("failed", c.Failed),
				)
				total.Sent += c.Sent
				total.Succeeded += c.Succeeded
				total.Failed += c.Failed
				total.Batches += c.Batches
				total.FailedBatches += c.FailedBatches
				if prune && c.Failed == 0 {
					if err := os.Remove(path); err != nil {
						a.log.Warn("prune journal", zap.String("file", path), zap.Error(err))
					}
				}
			}

			rt.record(cmd.Context(), index.Run{
				ID:            runID,
				Kind:          index.KindRetry,
				API:           client.BaseURL(),
				Artifact:      dir,
				OK:            total.Succeeded,
				Failed:        total.Failed,
				Batches:       total.Batches,
				FailedBatches: total.FailedBatches,
				StartedAt:     started,
				FinishedAt:    time.Now().UTC(),
			}, nil)

			newSummary(stdout(cmd)).
				add("journal", "%s (%d files)", dir, len(files)).
				add("placed", "%s of %s", comma(total.Succeeded), comma(total.Sent)).
				add("batches", "%s (%s failed)", comma(total.Batches), comma(total.FailedBatches)).
				add("run", "%s", runID).
				print("retry complete", total.Failed)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "journal", "", "journal directory (default <data-dir>/journal)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "count pending placements without sending")
	cmd.Flags().BoolVar(&prune, "prune", false, "delete journal files whose batches all succeeded")
	return cmd
}

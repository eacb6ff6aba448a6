package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"voxelscan/internal/persistence/index"
	"voxelscan/internal/persistence/npy"
	"voxelscan/internal/persistence/volumefile"
	"voxelscan/internal/progress"
	"voxelscan/internal/render"
	"voxelscan/internal/scan"
	"voxelscan/internal/voxel"
)

func (a *app) scanCmd() *cobra.Command {
	var (
		region    string
		out       string
		npyOut    string
		renderOut string
		workers   int
		cubeSize  int
	)
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Read a region through GET /blocks and store its label volume",
		Example: `  voxelscan scan --region 0,10,0:100,110,100 --out data/scan.vol.zst
  voxelscan scan --workers 4 --npy scan_volume.npy --render scan.png`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("region") {
				region = a.cfg.Scan.Region
			}
			if !cmd.Flags().Changed("workers") {
				workers = a.cfg.Scan.Workers
			}
			if !cmd.Flags().Changed("cube-size") {
				cubeSize = a.cfg.Scan.CubeSize
			}
			box, err := voxel.ParseBox(region)
			if err != nil {
				return fmt.Errorf("--region: %w", err)
			}
			prof, err := a.loadProfile()
			if err != nil {
				return err
			}
			client, err := a.client()
			if err != nil {
				return err
			}

			started := time.Now().UTC()
			if out == "" {
				out = a.defaultArtifact("scans", "scan", volumefile.Extension, started)
			}
			rt := a.openRuntime(false)
			defer rt.Close()

			bar := progress.New("scan", len(box.Cubes(cubeSize)), cmd.ErrOrStderr())
			sc := &scan.Scanner{
				Reader:   client,
				Profile:  prof,
				CubeSize: cubeSize,
				Workers:  workers,
				Logger:   a.log.Named("scan"),
				Progress: bar,
			}
			a.log.Info("scanning",
				zap.Stringer("region", box),
				zap.Int("blocks", box.Volume()),
				zap.String("api", client.BaseURL()),
				zap.String("profile", prof.Name),
			)
			vol, st, err := sc.Run(cmd.Context(), box)
			bar.Finish()
			if err != nil {
				return err
			}

			runID := index.NewRunID()
			h := volumefile.Header{
				Run:           runID,
				Source:        client.BaseURL(),
				Region:        box,
				Profile:       prof.Name,
				ProfileDigest: prof.Digest,
				CreatedAt:     started,
				Stats:         &st,
			}
			if err := volumefile.Write(out, h, vol); err != nil {
				return err
			}
			artifacts := []string{out}
			if npyOut != "" {
				if err := npy.WriteFile(npyOut, vol, npy.DefaultDType); err != nil {
					return err
				}
				artifacts = append(artifacts, npyOut)
			}
			if renderOut != "" {
				img := render.WithLegend(render.Isometric(vol, prof, render.DefaultOptions()), prof, st.Histogram)
				if err := render.SavePNG(renderOut, img, 1); err != nil {
					return err
				}
				artifacts = append(artifacts, renderOut)
			}
			rt.upload(artifacts...)

			rt.record(cmd.Context(), index.Run{
				ID:            runID,
				Kind:          index.KindScan,
				API:           client.BaseURL(),
				Region:        box,
				Artifact:      out,
				Profile:       prof.Name,
				ProfileDigest: prof.Digest,
				OK:            st.Blocks,
				Failed:        st.FailedCubes,
				Batches:       st.Cubes,
				FailedBatches: st.FailedCubes,
				Histogram:     st.Histogram,
				StartedAt:     started,
				FinishedAt:    time.Now().UTC(),
			}, prof)

			s := newSummary(stdout(cmd)).
				add("region", "%s (%s blocks)", box, comma(box.Volume())).
				add("cubes", "%s read, %s failed", comma(st.Cubes-st.FailedCubes), comma(st.FailedCubes)).
				add("solid", "%s", comma(vol.Solid())).
				add("elapsed", "%s", st.Elapsed.Round(time.Millisecond)).
				add("volume", "%s (%s)", out, fileSize(out))
			if npyOut != "" {
				s.add("npy", "%s", npyOut)
			}
			if renderOut != "" {
				s.add("render", "%s", renderOut)
			}
			s.add("run", "%s", runID)
			s.print("scan complete", st.FailedCubes)
			printHistogram(stdout(cmd), prof, st.Histogram)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&region, "region", "", "region x1,y1,z1:x2,y2,z2 (default from config)")
	f.StringVarP(&out, "out", "o", "", "volume file (default <data-dir>/scans/scan-<time>.vol.zst)")
	f.StringVar(&npyOut, "npy", "", "also write a NumPy array of shape (NY,NZ,NX)")
	f.StringVar(&renderOut, "render", "", "also write an isometric PNG")
	f.IntVar(&workers, "workers", 1, "concurrent cube reads")
	f.IntVar(&cubeSize, "cube-size", scan.DefaultCubeSize, "edge of each GET /blocks cube")
	return cmd
}

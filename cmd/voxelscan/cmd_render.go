package main

import (
	"fmt"
	"image"
	"net"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"voxelscan/internal/persistence/volumefile"
	"voxelscan/internal/render"
	"voxelscan/internal/viewer"
	"voxelscan/internal/viewerproto"
)

func (a *app) renderCmd() *cobra.Command {
	var (
		in      string
		out     string
		mode    string
		axis    string
		layer   int
		upscale int
		legend  bool
		opts    = render.DefaultOptions()
	)
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Draw a stored volume to PNG",
		Long: `render draws a stored volume. "iso" projects the visible voxel faces with the
given yaw and pitch, "top" shows the highest solid label of every column
shaded by depth, "slice" shows a single layer along --axis.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, vol, err := volumefile.Read(in)
			if err != nil {
				return err
			}
			prof, err := a.volumeProfile(h)
			if err != nil {
				return err
			}
			if out == "" {
				out = strings.TrimSuffix(in, volumefile.Extension) + "-" + mode + ".png"
			}

			var img image.Image
			switch mode {
			case "iso":
				img = render.Isometric(vol, prof, opts)
			case "top":
				img = render.TopDown(vol, prof)
			case "slice":
				ax, ok := viewerproto.AxisIndex(axis)
				if !ok {
					return fmt.Errorf("--axis %q: want x, y or z", axis)
				}
				if img, err = render.Slice(vol, prof, ax, layer); err != nil {
					return err
				}
			default:
				return fmt.Errorf("--mode %q: want iso, top or slice", mode)
			}
			if legend {
				img = render.WithLegend(img, prof, vol.Histogram())
			}
			if err := render.SavePNG(out, img, upscale); err != nil {
				return err
			}

			rt := a.openRuntime(false)
			rt.upload(out)
			rt.Close()

			b := img.Bounds()
			newSummary(stdout(cmd)).
				add("volume", "%s (%s)", in, h.Region).
				add("mode", "%s", mode).
				add("profile", "%s", prof.Name).
				add("image", "%s %dx%d x%d (%s)", out, b.Dx(), b.Dy(), max(upscale, 1), fileSize(out)).
				print("rendered", 0)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&in, "in", "i", "", "volume file")
	f.StringVarP(&out, "out", "o", "", "PNG path (default next to the volume)")
	f.StringVar(&mode, "mode", "iso", "iso, top or slice")
	f.Float64Var(&opts.Yaw, "yaw", opts.Yaw, "iso: rotation around Y in degrees")
	f.Float64Var(&opts.Pitch, "pitch", opts.Pitch, "iso: tilt in degrees")
	f.Float64Var(&opts.Scale, "scale", opts.Scale, "iso: pixels per voxel edge")
	f.StringVar(&axis, "axis", "y", "slice: x, y or z")
	f.IntVar(&layer, "index", 0, "slice: layer index along --axis")
	f.IntVar(&upscale, "upscale", 1, "nearest-neighbour upscale factor")
	f.BoolVar(&legend, "legend", true, "append a label legend")
	_ = cmd.MarkFlagRequired("in")
	return cmd
}

func (a *app) viewCmd() *cobra.Command {
	var (
		in   string
		addr string
	)
	cmd := &cobra.Command{
		Use:   "view",
		Short: "Browse a stored volume layer by layer in a local web viewer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, vol, err := volumefile.Read(in)
			if err != nil {
				return err
			}
			prof, err := a.volumeProfile(h)
			if err != nil {
				return err
			}
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			srv := viewer.NewServer(vol, prof, viewer.Meta{
				Name:   filepath.Base(in),
				Region: h.Region,
			}, a.log.Named("viewer"))

			okColor.Fprintf(stdout(cmd), "viewer on http://%s/ (Ctrl-C to stop)\n", ln.Addr())
			err = srv.Serve(cmd.Context(), ln)
			a.log.Debug("viewer stopped", zap.Error(err))
			return err
		},
	}
	cmd.Flags().StringVarP(&in, "in", "i", "", "volume file")
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8081", "listen address; only loopback clients are served")
	_ = cmd.MarkFlagRequired("in")
	return cmd
}

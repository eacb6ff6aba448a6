package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"voxelscan/internal/palette"
	"voxelscan/internal/persistence/index"
	"voxelscan/internal/persistence/npy"
	"voxelscan/internal/persistence/schem"
	"voxelscan/internal/persistence/volumefile"
	"voxelscan/internal/persistence/vti"
	"voxelscan/internal/voxel"
)

var exportExt = map[string]string{
	"npy":   ".npy",
	"schem": ".schem",
	"vti":   ".vti",
}

func (a *app) exportCmd() *cobra.Command {
	var (
		in     string
		format string
		out    string
		dtype  string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Convert a stored volume to npy, Sponge schematic or VTK ImageData",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ext, ok := exportExt[format]
			if !ok {
				return fmt.Errorf("--format %q: want npy, schem or vti", format)
			}
			h, vol, err := volumefile.Read(in)
			if err != nil {
				return err
			}
			if out == "" {
				out = strings.TrimSuffix(in, volumefile.Extension) + ext
			}

			switch format {
			case "npy":
				err = npy.WriteFile(out, vol, dtype)
			case "schem":
				var prof *palette.Profile
				if prof, err = a.volumeProfile(h); err == nil {
					err = schem.WriteFile(out, vol, prof, h.Region.Min)
				}
			case "vti":
				err = vti.WriteFile(out, vol, h.Region.Min)
			}
			if err != nil {
				return err
			}

			rt := a.openRuntime(false)
			rt.upload(out)
			rt.Close()

			newSummary(stdout(cmd)).
				add("volume", "%s", in).
				add("dims", "%v", vol.Dims()).
				add(format, "%s (%s)", out, fileSize(out)).
				print("exported", 0)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&in, "in", "i", "", "volume file")
	f.StringVar(&format, "format", "npy", "npy, schem or vti")
	f.StringVarP(&out, "out", "o", "", "output path (default next to the volume)")
	f.StringVar(&dtype, "dtype", npy.DefaultDType, "npy: element type, e.g. <i8 or |u1")
	_ = cmd.MarkFlagRequired("in")
	return cmd
}

func (a *app) importCmd() *cobra.Command {
	var (
		npyPath string
		region  string
		out     string
	)
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Bring a NumPy (NY,NZ,NX) scan array in as a volume file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("region") {
				region = a.cfg.Scan.Region
			}
			box, err := voxel.ParseBox(region)
			if err != nil {
				return fmt.Errorf("--region: %w", err)
			}
			vol, err := npy.ReadFile(npyPath)
			if err != nil {
				return err
			}
			if vol.Dims() != box.Size() {
				return fmt.Errorf("array dims %v do not match region %s (size %v)", vol.Dims(), box, box.Size())
			}
			prof, err := a.loadProfile()
			if err != nil {
				return err
			}

			started := time.Now().UTC()
			if out == "" {
				base := strings.TrimSuffix(filepath.Base(npyPath), filepath.Ext(npyPath))
				out = filepath.Join(a.cfg.DataDir, "scans", base+volumefile.Extension)
			}
			runID := index.NewRunID()
			hist := vol.Histogram()
			err = volumefile.Write(out, volumefile.Header{
				Run:           runID,
				Source:        "npy:" + filepath.Base(npyPath),
				Region:        box,
				Profile:       prof.Name,
				ProfileDigest: prof.Digest,
				CreatedAt:     started,
			}, vol)
			if err != nil {
				return err
			}

			rt := a.openRuntime(false)
			defer rt.Close()
			rt.upload(out)
			rt.record(cmd.Context(), index.Run{
				ID:            runID,
				Kind:          index.KindImport,
				Region:        box,
				Artifact:      out,
				Profile:       prof.Name,
				ProfileDigest: prof.Digest,
				OK:            vol.Len(),
				Histogram:     hist,
				StartedAt:     started,
			}, prof)

			newSummary(stdout(cmd)).
				add("array", "%s", npyPath).
				add("region", "%s", box).
				add("volume", "%s (%s)", out, fileSize(out)).
				add("run", "%s", runID).
				print("imported", 0)
			printHistogram(stdout(cmd), prof, hist)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&npyPath, "npy", "", "NumPy array, e.g. scan_volume.npy")
	f.StringVar(&region, "region", "", "region the array was scanned from (default from config)")
	f.StringVarP(&out, "out", "o", "", "volume file (default <data-dir>/scans/<name>.vol.zst)")
	_ = cmd.MarkFlagRequired("npy")
	return cmd
}

func (a *app) inspectCmd() *cobra.Command {
	var (
		in         string
		asJSON     bool
		headerOnly bool
	)
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show a volume file's header and label histogram",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if headerOnly {
				// Skips decompressing the label payload.
				h, err := volumefile.ReadHeader(in)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(stdout(cmd))
				enc.SetIndent("", "  ")
				return enc.Encode(h)
			}
			h, vol, err := volumefile.Read(in)
			if err != nil {
				return err
			}
			hist := vol.Histogram()
			if asJSON {
				enc := json.NewEncoder(stdout(cmd))
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					Header    volumefile.Header `json:"header"`
					Histogram map[uint8]int     `json:"histogram"`
				}{h, hist})
			}

			prof, err := palette.Resolve(h.Profile)
			if err != nil {
				prof = nil
			}
			s := newSummary(stdout(cmd)).
				add("file", "%s (%s)", in, fileSize(in)).
				add("region", "%s", h.Region).
				add("dims", "%v (%s cells, %s solid)", h.Dims, comma(vol.Len()), comma(vol.Solid())).
				add("profile", "%s %s", h.Profile, shortDigest(h.ProfileDigest)).
				add("created", "%s", h.CreatedAt.Format(time.RFC3339))
			if h.Source != "" {
				s.add("source", "%s", h.Source)
			}
			if h.Run != "" {
				s.add("run", "%s", h.Run)
			}
			if h.Stats != nil {
				s.add("scan", "%s cubes, %s failed, %s", comma(h.Stats.Cubes), comma(h.Stats.FailedCubes), h.Stats.Elapsed.Round(time.Millisecond))
			}
			s.print(filepath.Base(in), 0)
			printHistogram(stdout(cmd), prof, hist)
			return nil
		},
	}
	cmd.Flags().StringVarP(&in, "in", "i", "", "volume file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print header and histogram as JSON")
	cmd.Flags().BoolVar(&headerOnly, "header", false, "print only the header as JSON")
	_ = cmd.MarkFlagRequired("in")
	return cmd
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}

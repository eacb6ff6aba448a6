package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"voxelscan/internal/palette"
	"voxelscan/internal/persistence/index"
)

func (a *app) runsCmd() *cobra.Command {
	var (
		kind  string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded scan, paste and frame runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := index.OpenSQLite(a.cfg.IndexPath(), a.log.Named("index"))
			if err != nil {
				return err
			}
			defer idx.Close()

			runs, err := idx.ListRuns(cmd.Context(), kind, limit)
			if err != nil {
				return err
			}
			w := stdout(cmd)
			if len(runs) == 0 {
				fmt.Fprintln(w, "no runs recorded")
				return nil
			}
			tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tKIND\tREGION\tDEST\tOK\tFAILED\tWHEN\tARTIFACT")
			for _, r := range runs {
				dest := "-"
				if r.Dest != nil {
					dest = r.Dest.String()
				}
				failed := comma(r.Failed)
				if r.Failed > 0 {
					failed = warnColor.Sprint(failed)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					shortDigest(r.ID), r.Kind, r.Region, dest, comma(r.OK), failed,
					humanize.Time(r.FinishedAt), r.Artifact)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "only runs of this kind (scan, paste, frame, import, retry)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum rows")
	return cmd
}

func (a *app) profilesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "profiles [name-or-path]",
		Short: "List built-in label profiles, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := stdout(cmd)
			if len(args) == 0 {
				for _, n := range palette.BuiltinNames() {
					p, err := palette.Builtin(n)
					if err != nil {
						return err
					}
					fmt.Fprintf(w, "%s\t%d labels\t%s\n", n, len(p.Labels), shortDigest(p.Digest))
				}
				return nil
			}
			p, err := palette.Resolve(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%s (%s)\n", p.Name, p.Digest)
			tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
			fmt.Fprintln(tw, "LABEL\tNAME\tREPLAY AS\tCOLOUR")
			for _, d := range p.SortedLabels() {
				c, alpha := p.Color(d.Label)
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s a=%.2f\n", d.Label, d.Name, p.BlockFor(d.Label), c.Hex(), alpha)
			}
			return tw.Flush()
		},
	}
}

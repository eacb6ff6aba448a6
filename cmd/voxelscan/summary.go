package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"voxelscan/internal/palette"
)

var (
	okColor   = color.New(color.FgGreen, color.Bold)
	warnColor = color.New(color.FgYellow, color.Bold)
	keyColor  = color.New(color.FgCyan)
)

// summary prints an aligned block of key/value lines under a coloured title.
type summary struct {
	w    io.Writer
	rows [][2]string
}

func newSummary(w io.Writer) *summary { return &summary{w: w} }

func (s *summary) add(key, format string, args ...any) *summary {
	s.rows = append(s.rows, [2]string{key, fmt.Sprintf(format, args...)})
	return s
}

func (s *summary) print(title string, failed int) {
	if failed > 0 {
		warnColor.Fprintf(s.w, "%s (%s failed)\n", title, humanize.Comma(int64(failed)))
	} else {
		okColor.Fprintln(s.w, title)
	}
	tw := tabwriter.NewWriter(s.w, 0, 2, 2, ' ', 0)
	for _, r := range s.rows {
		fmt.Fprintf(tw, "  %s\t%s\n", keyColor.Sprint(r[0]), r[1])
	}
	_ = tw.Flush()
}

func comma(n int) string { return humanize.Comma(int64(n)) }

func fileSize(path string) string {
	fi, err := os.Stat(path)
	if err != nil {
		return "?"
	}
	return humanize.Bytes(uint64(fi.Size()))
}

// printHistogram lists label counts, most common first.
func printHistogram(w io.Writer, prof *palette.Profile, hist map[uint8]int) {
	total := 0
	labels := make([]uint8, 0, len(hist))
	for l, n := range hist {
		total += n
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool {
		if hist[labels[i]] != hist[labels[j]] {
			return hist[labels[i]] > hist[labels[j]]
		}
		return labels[i] < labels[j]
	})
	tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', tabwriter.AlignRight)
	for _, l := range labels {
		name := fmt.Sprintf("label_%d", l)
		if prof != nil {
			name = prof.LabelName(l)
		}
		pct := 0.0
		if total > 0 {
			pct = 100 * float64(hist[l]) / float64(total)
		}
		fmt.Fprintf(tw, "  %d\t%s\t%s\t%.1f%%\t\n", l, name, comma(hist[l]), pct)
	}
	_ = tw.Flush()
}

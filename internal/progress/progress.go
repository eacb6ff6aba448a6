// Package progress draws a single-line progress bar for long scan and paste
// loops. Output is suppressed unless the writer is a terminal.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"go.uber.org/atomic"
	"golang.org/x/term"
)

const redrawEvery = 100 * time.Millisecond

// Reporter receives unit increments. A nil *Bar is a valid no-op Reporter.
type Reporter interface {
	Add(n int)
}

type Bar struct {
	label string
	total int64
	done  atomic.Int64
	start time.Time

	out     io.Writer
	enabled bool

	mu       sync.Mutex
	model    progress.Model
	lastDraw time.Time
}

// New creates a bar over total units. Drawing is enabled only when out is a
// terminal; counting always works.
func New(label string, total int, out io.Writer) *Bar {
	b := &Bar{
		label: label,
		total: int64(total),
		start: time.Now(),
		out:   out,
		model: progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
	}
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b.enabled = true
	}
	return b
}

func (b *Bar) Add(n int) {
	if b == nil {
		return
	}
	b.done.Add(int64(n))
	if !b.enabled {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if time.Since(b.lastDraw) < redrawEvery && b.done.Load() < b.total {
		return
	}
	b.drawLocked()
}

func (b *Bar) Done() int64 {
	if b == nil {
		return 0
	}
	return b.done.Load()
}

func (b *Bar) Fraction() float64 {
	if b == nil || b.total <= 0 {
		return 0
	}
	f := float64(b.done.Load()) / float64(b.total)
	if f > 1 {
		f = 1
	}
	return f
}

// Finish draws the final state and ends the line.
func (b *Bar) Finish() {
	if b == nil || !b.enabled {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.drawLocked()
	fmt.Fprintln(b.out)
}

func (b *Bar) drawLocked() {
	b.lastDraw = time.Now()
	elapsed := time.Since(b.start).Truncate(time.Second)
	fmt.Fprintf(b.out, "\r%s %s %d/%d %s", b.label, b.model.ViewAs(b.Fraction()), b.done.Load(), b.total, elapsed)
}

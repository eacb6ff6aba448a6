// Package journal keeps a record of write batches the block API refused so
// they can be replayed later with `voxelscan retry`.
package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"voxelscan/internal/gdmc"
)

const (
	Prefix    = "failed"
	Extension = ".jsonl.zst"
)

// Entry is one failed batch.
type Entry struct {
	Time       time.Time        `json:"time"`
	Run        string           `json:"run,omitempty"`
	Phase      string           `json:"phase"`
	Status     int              `json:"status,omitempty"`
	Error      string           `json:"error"`
	Placements []gdmc.Placement `json:"placements"`
}

// Writer appends entries to hourly files under dir, one zstd stream per
// open file. Entries become readable once the file is rotated or closed.
type Writer struct {
	dir string
	now func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewWriter(dir string) *Writer {
	return &Writer{dir: dir, now: time.Now}
}

func (w *Writer) Dir() string { return w.dir }

func (w *Writer) Append(e Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if e.Time.IsZero() {
		e.Time = w.now()
	}
	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *Writer) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	// O_APPEND after a restart adds a second zstd frame; readers handle
	// concatenated frames.
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 64*1024)
	w.curHour = hour
	return nil
}

func (w *Writer) closeLocked() error {
	var err error
	if w.w != nil {
		err = w.w.Flush()
	}
	if w.enc != nil {
		err = errors.Join(err, w.enc.Close())
		w.enc = nil
	}
	if w.f != nil {
		err = errors.Join(err, w.f.Close())
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return err
}

func (w *Writer) pathForHour(hour string) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s-%s%s", Prefix, hour, Extension))
}

// Files lists journal files in dir, oldest first.
func Files(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, Prefix+"-") || !strings.HasSuffix(name, Extension) {
			continue
		}
		out = append(out, filepath.Join(dir, name))
	}
	sort.Strings(out)
	return out, nil
}

// ReadFile decodes every entry of one journal file.
func ReadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []Entry
	jd := json.NewDecoder(dec)
	for {
		var e Entry
		if err := jd.Decode(&e); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, fmt.Errorf("%s: entry %d: %w", filepath.Base(path), len(out), err)
		}
		out = append(out, e)
	}
}

// ReadDir decodes all journal files in dir in chronological order.
func ReadDir(dir string) ([]Entry, error) {
	files, err := Files(dir)
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, p := range files {
		es, err := ReadFile(p)
		if err != nil {
			return out, err
		}
		out = append(out, es...)
	}
	return out, nil
}

// Placements returns the total number of placements across entries.
func Placements(entries []Entry) int {
	n := 0
	for _, e := range entries {
		n += len(e.Placements)
	}
	return n
}

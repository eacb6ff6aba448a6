// Package volumefile stores label volumes as a zstd stream holding one JSON
// header line followed by the raw label bytes in [y][z][x] order.
package volumefile

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"voxelscan/internal/scan"
	"voxelscan/internal/voxel"
)

const (
	Version   = 1
	Extension = ".vol.zst"
)

var ErrSizeMismatch = errors.New("volume body does not match header dims")

type Header struct {
	Version       int         `json:"version"`
	Run           string      `json:"run,omitempty"`
	Source        string      `json:"source,omitempty"`
	Region        voxel.Box   `json:"region"`
	Dims          [3]int      `json:"dims"`
	Profile       string      `json:"profile"`
	ProfileDigest string      `json:"profile_digest,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	Stats         *scan.Stats `json:"stats,omitempty"`
}

// Write stores vol at path, creating parent directories. Version and Dims
// are filled from vol.
func Write(path string, h Header, vol *voxel.Volume) error {
	if vol == nil || len(vol.Data) != vol.Len() {
		return ErrSizeMismatch
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := Encode(f, h, vol); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// Encode writes the compressed stream to w.
func Encode(w io.Writer, h Header, vol *voxel.Volume) error {
	h.Version = Version
	h.Dims = vol.Dims()
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now().UTC()
	}

	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, err := json.Marshal(h)
	if err != nil {
		_ = enc.Close()
		return err
	}
	if _, err := bw.Write(hb); err != nil {
		_ = enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		_ = enc.Close()
		return err
	}
	if _, err := bw.Write(vol.Data); err != nil {
		_ = enc.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

func Read(path string) (Header, *voxel.Volume, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, nil, err
	}
	defer f.Close()
	h, vol, err := Decode(f)
	if err != nil {
		return h, nil, fmt.Errorf("read %s: %w", path, err)
	}
	return h, vol, nil
}

// ReadHeader decodes only the header line.
func ReadHeader(path string) (Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return Header{}, err
	}
	defer dec.Close()
	h, err := readHeader(bufio.NewReader(dec))
	if err != nil {
		return h, fmt.Errorf("read %s: %w", path, err)
	}
	return h, nil
}

func Decode(r io.Reader) (Header, *voxel.Volume, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return Header{}, nil, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)
	h, err := readHeader(br)
	if err != nil {
		return h, nil, err
	}
	vol, err := voxel.NewVolume(h.Dims[0], h.Dims[1], h.Dims[2])
	if err != nil {
		return h, nil, err
	}
	if _, err := io.ReadFull(br, vol.Data); err != nil {
		return h, nil, fmt.Errorf("%w: %v", ErrSizeMismatch, err)
	}
	if n, _ := br.Read(make([]byte, 1)); n != 0 {
		return h, nil, fmt.Errorf("%w: trailing bytes", ErrSizeMismatch)
	}
	return h, vol, nil
}

func readHeader(br *bufio.Reader) (Header, error) {
	var h Header
	line, err := br.ReadSlice('\n')
	if err != nil {
		if errors.Is(err, bufio.ErrBufferFull) {
			return h, fmt.Errorf("header longer than %d bytes", br.Size())
		}
		return h, fmt.Errorf("header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("header: %w", err)
	}
	if h.Version != Version {
		return h, fmt.Errorf("unsupported volume file version %d", h.Version)
	}
	if s := h.Region.Size(); !h.Region.Empty() && s != h.Dims {
		return h, fmt.Errorf("%w: region %v vs dims %v", ErrSizeMismatch, h.Region, h.Dims)
	}
	return h, nil
}

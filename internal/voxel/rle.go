package voxel

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
)

// EncodeRLE encodes labels into base64(varint pairs).
// The pairs are (label, run_len) repeated.
func EncodeRLE(labels []uint8) string {
	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte

	i := 0
	for i < len(labels) {
		l := labels[i]
		run := 1
		for j := i + 1; j < len(labels) && labels[j] == l; j++ {
			run++
		}

		n := binary.PutUvarint(tmp[:], uint64(l))
		buf.Write(tmp[:n])
		n = binary.PutUvarint(tmp[:], uint64(run))
		buf.Write(tmp[:n])

		i += run
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

// DecodeRLE reverses EncodeRLE. The decoded length must be exactly size,
// so a corrupt run length cannot grow the output past the layer.
func DecodeRLE(b64 string, size int) ([]uint8, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	if size < 0 {
		return nil, fmt.Errorf("negative size %d", size)
	}
	out := make([]uint8, 0, size)
	for i := 0; i < len(raw); {
		l, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		run, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		if l > 0xFF {
			return nil, fmt.Errorf("label too large: %d", l)
		}
		if run > uint64(size-len(out)) {
			return nil, fmt.Errorf("run of %d overflows %d cells", run, size)
		}
		for k := uint64(0); k < run; k++ {
			out = append(out, uint8(l))
		}
	}
	if len(out) != size {
		return nil, fmt.Errorf("decoded %d cells, want %d", len(out), size)
	}
	return out, nil
}

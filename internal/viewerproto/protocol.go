// Package viewerproto defines the JSON messages exchanged between the volume
// viewer page and its server.
package viewerproto

import "voxelscan/internal/voxel"

const Version = "1.0"

const (
	TypeSubscribe = "SUBSCRIBE"
	TypeLayer     = "LAYER"
	TypeDone      = "DONE"
	TypeError     = "ERROR"
)

// Client -> Server. First message on the websocket; sending it again restarts
// the stream along the new axis.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	// Axis is "x", "y" or "z"; empty means "y".
	Axis string `json:"axis,omitempty"`
}

// HTTP response for GET /api/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string        `json:"protocol_version"`
	Name            string        `json:"name"`
	Region          voxel.Box     `json:"region"`
	Dims            [3]int        `json:"dims"`
	Profile         string        `json:"profile"`
	ProfileDigest   string        `json:"profile_digest,omitempty"`
	Labels          []LabelInfo   `json:"labels"`
	Histogram       map[uint8]int `json:"histogram"`
}

type LabelInfo struct {
	Label uint8   `json:"label"`
	Name  string  `json:"name"`
	Color string  `json:"color"`
	Alpha float64 `json:"alpha"`
}

// Server -> Client. One per layer, lowest index first. Cells are row-major
// Width x Height, RLE-encoded; vertical cuts put the highest y in row 0.
type LayerMsg struct {
	Type   string `json:"type"`
	Axis   string `json:"axis"`
	Index  int    `json:"index"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	RLE    string `json:"rle"`
}

// Server -> Client after the last layer of a stream.
type DoneMsg struct {
	Type   string `json:"type"`
	Axis   string `json:"axis"`
	Layers int    `json:"layers"`
}

type ErrorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// AxisIndex maps "x", "y", "z" to 0, 1, 2.
func AxisIndex(axis string) (int, bool) {
	switch axis {
	case "x":
		return 0, true
	case "", "y":
		return 1, true
	case "z":
		return 2, true
	}
	return 0, false
}

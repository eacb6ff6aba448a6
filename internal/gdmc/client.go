// Package gdmc talks to the HTTP block-access interface of a running game
// world: GET /blocks reads a sub-cube, PUT /blocks writes a list of blocks.
package gdmc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"voxelscan/internal/logging"
	"voxelscan/internal/voxel"
)

const (
	DefaultBaseURL      = "http://127.0.0.1:9000"
	DefaultReadTimeout  = 1 * time.Second
	DefaultWriteTimeout = 10 * time.Second

	maxErrorBody = 8 * 1024
)

// Block is one entry of a GET /blocks response.
type Block struct {
	X     int               `json:"x"`
	Y     int               `json:"y"`
	Z     int               `json:"z"`
	ID    string            `json:"id"`
	State map[string]string `json:"state,omitempty"`
}

// Placement is one entry of a PUT /blocks body.
type Placement struct {
	X  int    `json:"x"`
	Y  int    `json:"y"`
	Z  int    `json:"z"`
	ID string `json:"id"`
}

type PutResult struct {
	Sent     int
	Placed   int
	Rejected int
	Messages []string
	// RejectedAt holds the batch indexes of refused blocks.
	RejectedAt []int
}

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status=%d body=%s", e.Method, e.URL, e.Code, e.Body)
}

type Client struct {
	base         string
	httpClient   *http.Client
	readTimeout  time.Duration
	writeTimeout time.Duration
	log          *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeouts sets the per-request deadline for reads and writes.
func WithTimeouts(read, write time.Duration) Option {
	return func(c *Client) {
		if read > 0 {
			c.readTimeout = read
		}
		if write > 0 {
			c.writeTimeout = write
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.log = logging.OrNop(l) }
}

func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "http://" + baseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid base url: %s", baseURL)
	}

	c := &Client{
		base:         strings.TrimRight(u.String(), "/"),
		httpClient:   &http.Client{Transport: http.DefaultTransport},
		readTimeout:  DefaultReadTimeout,
		writeTimeout: DefaultWriteTimeout,
		log:          zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (c *Client) BaseURL() string { return c.base }

// GetBlocks reads every block of the box in a single request. Blocks without
// coordinates in the response are positioned by their ordinal.
func (c *Client) GetBlocks(ctx context.Context, box voxel.Box) ([]Block, error) {
	if box.Empty() {
		return nil, fmt.Errorf("empty box %s", box)
	}
	size := box.Size()
	q := url.Values{}
	q.Set("x", strconv.Itoa(box.Min[0]))
	q.Set("y", strconv.Itoa(box.Min[1]))
	q.Set("z", strconv.Itoa(box.Min[2]))
	q.Set("dx", strconv.Itoa(size[0]))
	q.Set("dy", strconv.Itoa(size[1]))
	q.Set("dz", strconv.Itoa(size[2]))
	reqURL := c.base + "/blocks?" + q.Encode()

	ctx, cancel := context.WithTimeout(ctx, c.readTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(resp, http.MethodGet, reqURL)
	}

	var raw []rawBlock
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode blocks: %w", err)
	}

	out := make([]Block, 0, len(raw))
	for i, rb := range raw {
		b := Block{ID: rb.ID, State: rb.State}
		if rb.X != nil && rb.Y != nil && rb.Z != nil {
			b.X, b.Y, b.Z = *rb.X, *rb.Y, *rb.Z
		} else {
			dx, dy, dz := voxel.OrdinalOffset(i, size)
			b.X, b.Y, b.Z = box.Min[0]+dx, box.Min[1]+dy, box.Min[2]+dz
		}
		out = append(out, b)
	}
	c.log.Debug("get blocks", zap.Stringer("box", box), zap.Int("blocks", len(out)))
	return out, nil
}

type rawBlock struct {
	X     *int              `json:"x"`
	Y     *int              `json:"y"`
	Z     *int              `json:"z"`
	ID    string            `json:"id"`
	State map[string]string `json:"state"`
}

// PutBlocks writes the placements in a single request.
func (c *Client) PutBlocks(ctx context.Context, blocks []Placement) (PutResult, error) {
	res := PutResult{Sent: len(blocks)}
	if len(blocks) == 0 {
		return res, nil
	}
	body, err := json.Marshal(blocks)
	if err != nil {
		return res, err
	}
	reqURL := c.base + "/blocks"

	ctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, reqURL, bytes.NewReader(body))
	if err != nil {
		return res, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return res, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return res, statusError(resp, http.MethodPut, reqURL)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return res, err
	}
	tallyPut(&res, respBody)
	c.log.Debug("put blocks", zap.Int("sent", res.Sent), zap.Int("placed", res.Placed), zap.Int("rejected", res.Rejected))
	return res, nil
}

// tallyPut interprets a 200 body. Per-block results look like
// [{"status":1}, {"status":0,"message":"..."}] or ["1","0"]; anything else
// counts every block as placed.
func tallyPut(res *PutResult, body []byte) {
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil || len(items) != res.Sent {
		res.Placed = res.Sent
		return
	}
	for i, it := range items {
		ok, msg := itemOK(it)
		if ok {
			res.Placed++
			continue
		}
		res.Rejected++
		res.RejectedAt = append(res.RejectedAt, i)
		if msg != "" && len(res.Messages) < 16 {
			res.Messages = append(res.Messages, msg)
		}
	}
}

func itemOK(raw json.RawMessage) (bool, string) {
	var obj struct {
		Status  json.RawMessage `json:"status"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && len(obj.Status) > 0 {
		return truthy(obj.Status), obj.Message
	}
	return truthy(raw), ""
}

func truthy(raw json.RawMessage) bool {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	switch s {
	case "0", "false", "":
		return false
	}
	return true
}

func statusError(resp *http.Response, method, reqURL string) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{
		Method: method,
		URL:    reqURL,
		Code:   resp.StatusCode,
		Body:   strings.TrimSpace(string(body)),
	}
}

// NormalizeID strips block-state and NBT suffixes:
// "minecraft:oak_log[axis=y]" -> "minecraft:oak_log".
func NormalizeID(id string) string {
	id = strings.TrimSpace(id)
	if i := strings.IndexAny(id, "[{"); i >= 0 {
		id = id[:i]
	}
	return id
}

// Package viewer serves a scanned volume to a browser: a static page, a
// bootstrap document and a websocket that streams the volume layer by layer.
package viewer

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"voxelscan/internal/logging"
	"voxelscan/internal/palette"
	"voxelscan/internal/viewerproto"
	"voxelscan/internal/voxel"
)

//go:embed static/index.html
var staticFS embed.FS

// Meta describes where the volume came from.
type Meta struct {
	Name   string
	Region voxel.Box
}

type Server struct {
	vol  *voxel.Volume
	prof *palette.Profile
	meta Meta
	log  *zap.Logger

	upgrader websocket.Upgrader
	sessions atomic.Int64
	// allowRemote disables the loopback check; tests only.
	allowRemote bool
}

func NewServer(vol *voxel.Volume, prof *palette.Profile, meta Meta, logger *zap.Logger) *Server {
	return &Server{
		vol:  vol,
		prof: prof,
		meta: meta,
		log:  logging.OrNop(logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handler routes /, /api/bootstrap and /ws.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.indexHandler)
	mux.HandleFunc("/api/bootstrap", s.BootstrapHandler())
	mux.HandleFunc("/ws", s.WSHandler())
	return mux
}

// Serve runs the HTTP server on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx2)
	}()
	s.log.Info("viewer listening", zap.String("addr", ln.Addr().String()))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Sessions is the number of open websocket connections.
func (s *Server) Sessions() int { return int(s.sessions.Load()) }

func (s *Server) indexHandler(rw http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(rw, r)
		return
	}
	if !s.allowed(r) {
		http.Error(rw, "forbidden", http.StatusForbidden)
		return
	}
	b, err := staticFS.ReadFile("static/index.html")
	if err != nil {
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}
	rw.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = rw.Write(b)
}

func (s *Server) Bootstrap() viewerproto.BootstrapResponse {
	resp := viewerproto.BootstrapResponse{
		ProtocolVersion: viewerproto.Version,
		Name:            s.meta.Name,
		Region:          s.meta.Region,
		Dims:            s.vol.Dims(),
		Profile:         s.prof.Name,
		ProfileDigest:   s.prof.Digest,
		Histogram:       s.vol.Histogram(),
	}
	for _, d := range s.prof.SortedLabels() {
		c, a := s.prof.Color(d.Label)
		resp.Labels = append(resp.Labels, viewerproto.LabelInfo{
			Label: d.Label,
			Name:  d.Name,
			Color: c.Hex(),
			Alpha: a,
		})
	}
	return resp
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !s.allowed(r) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(s.Bootstrap())
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.allowed(r) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		s.sessions.Inc()
		defer s.sessions.Dec()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		axis, ok := parseSubscribe(msg)
		if !ok {
			closeWith(conn, websocket.ClosePolicyViolation, "expected SUBSCRIBE")
			return
		}

		var (
			mu     sync.Mutex
			wmu    sync.Mutex
			cancel context.CancelFunc = func() {}
			done                      = make(chan struct{})
		)
		send := func(v any) error {
			wmu.Lock()
			defer wmu.Unlock()
			return writeJSON(conn, v)
		}
		close(done)
		start := func(axis int) {
			mu.Lock()
			defer mu.Unlock()
			cancel()
			<-done
			ctx, c := context.WithCancel(r.Context())
			cancel = c
			d := make(chan struct{})
			done = d
			go func() {
				defer close(d)
				if err := s.stream(ctx, send, axis); err != nil && ctx.Err() == nil {
					s.log.Debug("viewer stream ended", zap.Error(err))
				}
			}()
		}
		start(axis)

		// Reader loop: SUBSCRIBE again to switch axis.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(10 * time.Minute))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			axis, ok := parseSubscribe(msg)
			if !ok {
				// The current stream keeps running.
				err := send(viewerproto.ErrorMsg{Type: viewerproto.TypeError, Message: badSubscribe})
				if err != nil {
					break
				}
				continue
			}
			start(axis)
		}

		mu.Lock()
		cancel()
		<-done
		mu.Unlock()
		closeWith(conn, websocket.CloseNormalClosure, "bye")
	}
}

// stream sends every layer along axis followed by DONE.
func (s *Server) stream(ctx context.Context, send func(any) error, axis int) error {
	name := "xyz"[axis : axis+1]
	n := s.vol.Dims()[axis]
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		cells, w, h, err := s.vol.Slice(axis, i)
		if err != nil {
			return err
		}
		msg := viewerproto.LayerMsg{
			Type:   viewerproto.TypeLayer,
			Axis:   name,
			Index:  i,
			Width:  w,
			Height: h,
			RLE:    voxel.EncodeRLE(cells),
		}
		if err := send(msg); err != nil {
			return err
		}
	}
	return send(viewerproto.DoneMsg{Type: viewerproto.TypeDone, Axis: name, Layers: n})
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

const badSubscribe = `expected {"type":"SUBSCRIBE","protocol_version":"` + viewerproto.Version + `"} with axis x, y or z`

func parseSubscribe(msg []byte) (int, bool) {
	var sub viewerproto.SubscribeMsg
	if err := json.Unmarshal(msg, &sub); err != nil {
		return 0, false
	}
	if sub.Type != viewerproto.TypeSubscribe || sub.ProtocolVersion != viewerproto.Version {
		return 0, false
	}
	return viewerproto.AxisIndex(sub.Axis)
}

func closeWith(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
}

func (s *Server) allowed(r *http.Request) bool {
	return s.allowRemote || isLoopbackRemote(r.RemoteAddr)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Package mockserver is a stand-in for the detection service: it accepts the
// per-stream WebSocket endpoints, answers every video_frame with a
// detection_result for the same stream, and ignores heartbeats.
package mockserver

import (
	"bytes"
	"encoding/json"
	"image"
	_ "image/jpeg"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lisuiheng/hatcam-go/pkg/schema"
)

const DefaultPathPrefix = "/ws/safety-hat-detection"

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Options struct {
	PathPrefix string
	// Heartbeat is the text the clients send as keep-alive.
	Heartbeat string
	// Labels maps a stream to the label echoed in results.
	Labels map[schema.StreamID]string
	// Types cycles through the detection types returned.
	Types []string
	// CrossTalk also sends each result to every other connected stream, to
	// exercise client side filtering.
	CrossTalk bool
}

type Server struct {
	opts   Options
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}

	frames     atomic.Int64
	heartbeats atomic.Int64
	ignored    atomic.Int64
}

type client struct {
	conn      *websocket.Conn
	streamID  schema.StreamID
	sessionID string
	sequence  int
	writeMu   sync.Mutex
}

func New(opts Options, logger *slog.Logger) *Server {
	if opts.PathPrefix == "" {
		opts.PathPrefix = DefaultPathPrefix
	}
	if opts.Heartbeat == "" {
		opts.Heartbeat = schema.DefaultHeartbeat
	}
	if len(opts.Types) == 0 {
		opts.Types = []string{"wearing_hat", "no_hat", "person_detected"}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		opts:    opts,
		logger:  logger.With("component", "mockserver"),
		clients: make(map[*client]struct{}),
	}
}

// Routes returns the HTTP routes of the mock service.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get(s.opts.PathPrefix+"/{streamID}/", s.handleWebSocket)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

type Stats struct {
	Clients    int
	Frames     int64
	Heartbeats int64
	Ignored    int64
}

func (s *Server) Stats() Stats {
	s.mu.RLock()
	n := len(s.clients)
	s.mu.RUnlock()
	return Stats{
		Clients:    n,
		Frames:     s.frames.Load(),
		Heartbeats: s.heartbeats.Load(),
		Ignored:    s.ignored.Load(),
	}
}

// DisconnectAll drops every connection without a close handshake, as a
// network failure would.
func (s *Server) DisconnectAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		_ = c.conn.Close()
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	streamID := schema.StreamID(chi.URLParam(r, "streamID"))
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection", "error", err)
		return
	}

	c := &client{conn: conn, streamID: streamID, sessionID: uuid.NewString()}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	s.logger.Info("Stream connected", "stream_id", streamID, "session_id", c.sessionID, "addr", r.RemoteAddr)

	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
		_ = conn.Close()
		s.logger.Info("Stream disconnected", "stream_id", streamID)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("WebSocket connection error", "stream_id", streamID, "error", err)
			}
			return
		}
		s.handleMessage(c, data)
	}
}

func (s *Server) handleMessage(c *client, data []byte) {
	if string(data) == s.opts.Heartbeat {
		s.heartbeats.Add(1)
		return
	}

	var frame schema.OutboundFrame
	if err := json.Unmarshal(data, &frame); err != nil || frame.Kind != schema.KindVideoFrame {
		s.ignored.Add(1)
		s.logger.Debug("Ignoring message", "stream_id", c.streamID, "text", schema.Summarize(data, 200))
		return
	}
	s.frames.Add(1)

	img, err := frame.Image()
	if err != nil {
		s.ignored.Add(1)
		s.logger.Warn("Invalid frame payload", "stream_id", c.streamID, "error", err)
		return
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(img))
	if err != nil {
		s.ignored.Add(1)
		s.logger.Warn("Undecodable frame", "stream_id", c.streamID, "error", err)
		return
	}

	// results are addressed to the stream id carried in the frame
	target := frame.StreamID
	if target == "" {
		target = c.streamID
	}
	c.sequence++
	res := schema.DetectionResult{
		Kind:        schema.KindDetectionResult,
		Detections:  s.detect(c.sequence, cfg.Width, cfg.Height),
		Sequence:    c.sequence,
		SessionID:   c.sessionID,
		StreamID:    target,
		StreamLabel: s.opts.Labels[target],
	}
	out, err := json.Marshal(res)
	if err != nil {
		s.logger.Error("Failed to marshal result", "error", err)
		return
	}

	c.write(out)
	if s.opts.CrossTalk {
		s.mu.RLock()
		for other := range s.clients {
			if other != c {
				other.write(out)
			}
		}
		s.mu.RUnlock()
	}
}

func (s *Server) detect(seq, width, height int) []schema.Detection {
	n := seq % 3
	out := make([]schema.Detection, 0, n)
	for i := 0; i < n; i++ {
		w := float64(width) / 4
		h := float64(height) / 3
		out = append(out, schema.Detection{
			ClassID:    (seq + i) % len(s.opts.Types),
			Type:       s.opts.Types[(seq+i)%len(s.opts.Types)],
			Confidence: 0.5 + rand.Float64()/2,
			BBox: schema.BBox{
				X:      rand.Float64() * (float64(width) - w),
				Y:      rand.Float64() * (float64(height) - h),
				Width:  w,
				Height: h,
			},
		})
	}
	return out
}

func (c *client) write(data []byte) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_ = c.conn.WriteMessage(websocket.TextMessage, data)
}

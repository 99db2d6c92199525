package core

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lisuiheng/hatcam-go/media"
	"github.com/lisuiheng/hatcam-go/metrics"
	"github.com/lisuiheng/hatcam-go/pkg/interfaces"
	"github.com/lisuiheng/hatcam-go/pkg/schema"
	"github.com/lisuiheng/hatcam-go/utils"
)

const (
	DefaultBasePath          = "ws://127.0.0.1:8000/ws/safety-hat-detection"
	DefaultHeartbeatInterval = 20 * time.Second
)

// ResultHandler receives the detection results addressed to one stream, in
// the order they arrived.
type ResultHandler func(schema.DetectionResult)

type CaptureConfig struct {
	FPS      float64
	Quality  int
	MaxWidth int
}

// SessionConfig carries every value a Session needs; nothing is read from the
// environment.
type SessionConfig struct {
	BasePath          string
	Reconnect         utils.ReconnectPolicy
	HeartbeatInterval time.Duration
	HeartbeatPayload  string
	Capture           CaptureConfig
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		BasePath:          DefaultBasePath,
		Reconnect:         utils.DefaultReconnectPolicy(),
		HeartbeatInterval: DefaultHeartbeatInterval,
		HeartbeatPayload:  schema.DefaultHeartbeat,
		Capture: CaptureConfig{
			FPS:     DefaultCadence,
			Quality: media.DefaultJPEGQuality,
		},
	}
}

// Stream names one logical stream.
type Stream struct {
	ID    schema.StreamID
	Label string
}

// Session binds one stream identity to its own Manager and Producer and
// delivers the results addressed to that identity to a ResultHandler.
type Session struct {
	stream   Stream
	endpoint string
	handler  ResultHandler
	manager  *Manager
	producer *Producer
	logger   *slog.Logger
	metrics  *metrics.StreamMetrics

	unsubscribe func()
	dispatched  chan struct{}
	closeOnce   sync.Once
}

func NewSession(cfg SessionConfig, stream Stream, handler ResultHandler, factory interfaces.TransportFactory, log *slog.Logger, met *metrics.Metrics) (*Session, error) {
	if stream.ID == "" {
		return nil, errors.New("stream id cannot be empty")
	}
	if log == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.BasePath == "" {
		cfg.BasePath = DefaultBasePath
	}

	log = log.With("stream_id", stream.ID)
	sm := met.Stream(string(stream.ID))
	endpoint := schema.Endpoint(cfg.BasePath, stream.ID)

	mgr, err := NewManager(ManagerConfig{
		Endpoint:          endpoint,
		Reconnect:         cfg.Reconnect,
		HeartbeatInterval: cfg.HeartbeatInterval,
		HeartbeatPayload:  cfg.HeartbeatPayload,
	}, factory, log, sm)
	if err != nil {
		return nil, fmt.Errorf("create connection manager: %w", err)
	}

	prod, err := NewProducer(ProducerConfig{
		StreamID: stream.ID,
		Cadence:  cfg.Capture.FPS,
		Quality:  cfg.Capture.Quality,
		MaxWidth: cfg.Capture.MaxWidth,
	}, mgr, log, sm)
	if err != nil {
		mgr.Shutdown()
		return nil, fmt.Errorf("create frame producer: %w", err)
	}

	s := &Session{
		stream:     stream,
		endpoint:   endpoint,
		handler:    handler,
		manager:    mgr,
		producer:   prod,
		logger:     log,
		metrics:    sm,
		dispatched: make(chan struct{}),
	}
	// queued: a slow handler delays results but never loses them
	events, unsubscribe := mgr.SubscribeQueued()
	s.unsubscribe = unsubscribe
	go s.dispatch(events)
	return s, nil
}

func (s *Session) ID() schema.StreamID { return s.stream.ID }

func (s *Session) Label() string { return s.stream.Label }

func (s *Session) Endpoint() string { return s.endpoint }

func (s *Session) Status() Status { return s.manager.Status() }

// Events subscribes to the session's connection events, for callers that
// display live or stalled status.
func (s *Session) Events(buffer int) (<-chan Event, func()) {
	return s.manager.Subscribe(buffer)
}

func (s *Session) Connect() error {
	return s.manager.Connect()
}

// Disconnect stops capture before closing the connection so no frame is sent
// after it returns.
func (s *Session) Disconnect() error {
	s.producer.Stop()
	return s.manager.Close(interfaces.CloseNormal, "client disconnect")
}

func (s *Session) SetSource(src media.Source) { s.producer.SetSource(src) }

func (s *Session) SetCadence(hz float64) { s.producer.SetCadence(hz) }

func (s *Session) StartDetection() error { return s.producer.Start() }

func (s *Session) StopDetection() { s.producer.Stop() }

func (s *Session) Detecting() bool { return s.producer.Running() }

// Handle routes one inbound payload. It reports whether the payload was a
// detection result for this stream and was handed to the ResultHandler.
// Anything else is discarded without error.
func (s *Session) Handle(payload []byte) bool {
	res, ok := schema.ParseDetectionResult(payload)
	if !ok {
		s.metrics.MessageDiscarded(metrics.DiscardForeign)
		s.logger.Debug("Ignoring non-result message", "text", schema.Summarize(payload, 200))
		return false
	}
	if res.StreamID != s.stream.ID {
		s.metrics.MessageDiscarded(metrics.DiscardOtherStream)
		s.logger.Debug("Ignoring result for another stream", "target", res.StreamID)
		return false
	}

	types := make([]string, 0, len(res.Detections))
	for _, d := range res.Detections {
		types = append(types, d.Type)
	}
	s.metrics.ResultDispatched(types)
	if s.handler != nil {
		s.handler(res)
	}
	return true
}

// Close tears the session down: capture stops, the connection closes, and
// the dispatch goroutine exits. It is safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.producer.Stop()
		s.manager.Shutdown()
		s.unsubscribe()
		<-s.dispatched
		s.logger.Info("Session closed")
	})
}

func (s *Session) dispatch(events <-chan Event) {
	defer close(s.dispatched)
	for ev := range events {
		switch ev.Kind {
		case EventMessage:
			s.Handle(ev.Message.Payload)
		case EventExhausted:
			s.logger.Error("Stream stalled, reconnection abandoned", "attempts", ev.Attempt)
		}
	}
}

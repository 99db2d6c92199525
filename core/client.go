package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/lisuiheng/hatcam-go/metrics"
	"github.com/lisuiheng/hatcam-go/pkg/interfaces"
	"github.com/lisuiheng/hatcam-go/pkg/schema"
)

// Client 管理配置中的所有摄像头流，每一路流各自拥有连接和采集
type Client struct {
	config   Config
	sessions []*Session
	logger   *slog.Logger

	closeOnce sync.Once
}

type clientOptions struct {
	factory  interfaces.TransportFactory
	metrics  *metrics.Metrics
	handlers []func(Stream, schema.DetectionResult)
}

type ClientOption func(*clientOptions)

// WithTransportFactory replaces the transport built from the network config.
func WithTransportFactory(f interfaces.TransportFactory) ClientOption {
	return func(o *clientOptions) { o.factory = f }
}

func WithMetrics(m *metrics.Metrics) ClientOption {
	return func(o *clientOptions) { o.metrics = m }
}

// WithResultHandler adds a receiver for every stream's results. Handlers run
// in order on the stream's dispatch goroutine, after the result is logged.
func WithResultHandler(h func(Stream, schema.DetectionResult)) ClientOption {
	return func(o *clientOptions) { o.handlers = append(o.handlers, h) }
}

// NewClient 创建客户端，为每一路流创建会话并绑定媒体源
func NewClient(cfg Config, log *slog.Logger, opts ...ClientOption) (*Client, error) {
	if log == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	o := clientOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.factory == nil {
		f, err := NewTransportFactory(cfg.System.Network, log)
		if err != nil {
			return nil, err
		}
		o.factory = f
	}

	c := &Client{config: cfg, logger: log}
	sessCfg := cfg.SessionConfig()
	for _, sc := range cfg.Streams {
		stream := Stream{ID: sc.StreamID(), Label: sc.Label}
		if stream.Label == "" {
			stream.Label = string(stream.ID)
		}

		handler := c.resultHandler(stream, o.handlers)

		src, err := sc.NewSource(log.With("stream_id", stream.ID))
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("stream %s: failed to create media source: %w", stream.ID, err)
		}
		sess, err := NewSession(sessCfg, stream, handler, o.factory, log, o.metrics)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("stream %s: %w", stream.ID, err)
		}
		sess.SetSource(src)
		c.sessions = append(c.sessions, sess)
	}
	return c, nil
}

func (c *Client) Sessions() []*Session { return c.sessions }

// Session looks a stream up by identity.
func (c *Client) Session(id schema.StreamID) (*Session, bool) {
	for _, s := range c.sessions {
		if s.ID() == id {
			return s, true
		}
	}
	return nil, false
}

// Run 连接所有流并按配置开始采集，直到 ctx 结束
func (c *Client) Run(ctx context.Context) error {
	c.logger.Info("Starting client", "streams", len(c.sessions))
	defer c.logger.Info("Client stopped")

	for _, s := range c.sessions {
		if err := s.Connect(); err != nil {
			return fmt.Errorf("stream %s: connect: %w", s.ID(), err)
		}
		if c.config.Capture.AutoStart {
			if err := s.StartDetection(); err != nil {
				return fmt.Errorf("stream %s: start detection: %w", s.ID(), err)
			}
		}
	}

	<-ctx.Done()
	for _, s := range c.sessions {
		if err := s.Disconnect(); err != nil && !errors.Is(err, ErrShutdown) {
			c.logger.Warn("Failed to disconnect stream", "stream_id", s.ID(), "error", err)
		}
	}
	return nil
}

// Status 返回每一路流的连接状态
func (c *Client) Status() map[schema.StreamID]Status {
	out := make(map[schema.StreamID]Status, len(c.sessions))
	for _, s := range c.sessions {
		out[s.ID()] = s.Status()
	}
	return out
}

// Close 关闭所有会话，可重复调用
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.logger.Info("Closing client")
		for _, s := range c.sessions {
			s.Close()
		}
	})
}

func (c *Client) resultHandler(stream Stream, handlers []func(Stream, schema.DetectionResult)) ResultHandler {
	return func(res schema.DetectionResult) {
		types := make([]string, 0, len(res.Detections))
		for _, d := range res.Detections {
			types = append(types, d.Type)
		}
		c.logger.Info("Detection result",
			"stream_id", stream.ID,
			"label", stream.Label,
			"sequence", res.Sequence,
			"session_id", res.SessionID,
			"detections", len(res.Detections),
			"types", types)
		for _, h := range handlers {
			h(stream, res)
		}
	}
}

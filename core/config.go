package core

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/lisuiheng/hatcam-go/media"
	"github.com/lisuiheng/hatcam-go/pkg/interfaces"
	"github.com/lisuiheng/hatcam-go/pkg/schema"
	"github.com/lisuiheng/hatcam-go/protocols/websocket"
	"github.com/lisuiheng/hatcam-go/utils"
)

// Config 是应用配置，结构与 YAML 文件一致
type Config struct {
	System struct {
		BasePath  string          `mapstructure:"base_path"`
		Network   NetworkConfig   `mapstructure:"network"`
		Reconnect ReconnectConfig `mapstructure:"reconnect"`
		Heartbeat HeartbeatConfig `mapstructure:"heartbeat"`
	} `mapstructure:"system"`

	Capture struct {
		FPS       float64 `mapstructure:"fps"`
		Quality   int     `mapstructure:"quality"`
		MaxWidth  int     `mapstructure:"max_width"`
		AutoStart bool    `mapstructure:"auto_start"`
	} `mapstructure:"capture"`

	Streams []StreamConfig `mapstructure:"streams"`

	Logging struct {
		Level    string         `mapstructure:"level"`
		Format   string         `mapstructure:"format"`
		Outputs  []string       `mapstructure:"outputs"`
		Rotation RotationConfig `mapstructure:"rotation"`
	} `mapstructure:"logging"`

	Metrics struct {
		Enabled bool   `mapstructure:"enabled"`
		Listen  string `mapstructure:"listen"`
	} `mapstructure:"metrics"`

	Inspection struct {
		BaseURL  string        `mapstructure:"base_url"`
		Timeout  time.Duration `mapstructure:"timeout"`
		CacheTTL time.Duration `mapstructure:"cache_ttl"`
	} `mapstructure:"inspection"`

	Publish struct {
		Redis RedisConfig `mapstructure:"redis"`
	} `mapstructure:"publish"`
}

// RedisConfig 配置检测结果转发到 Redis 频道
type RedisConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Addr          string        `mapstructure:"addr"`
	Password      string        `mapstructure:"password"`
	DB            int           `mapstructure:"db"`
	ChannelPrefix string        `mapstructure:"channel_prefix"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type NetworkConfig struct {
	Transport string          `mapstructure:"transport"`
	Websocket WebsocketConfig `mapstructure:"websocket"`
}

type WebsocketConfig struct {
	AccessToken      string            `mapstructure:"access_token"`
	Headers          map[string]string `mapstructure:"headers"`
	HandshakeTimeout time.Duration     `mapstructure:"handshake_timeout"`
	WriteTimeout     time.Duration     `mapstructure:"write_timeout"`
	ReadLimit        int64             `mapstructure:"read_limit"`
}

type ReconnectConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	Strategy    string        `mapstructure:"strategy"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

type HeartbeatConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Payload  string        `mapstructure:"payload"`
}

type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

// StreamConfig 描述一路摄像头流
type StreamConfig struct {
	ID string `mapstructure:"id"`
	// Camera is used to derive the id (CAM%03d) when ID is empty.
	Camera int          `mapstructure:"camera"`
	Label  string       `mapstructure:"label"`
	Source SourceConfig `mapstructure:"source"`
}

// SourceConfig selects the media source of a stream: "pattern" renders a
// synthetic frame, "directory" loops over the images in Path.
type SourceConfig struct {
	Type   string `mapstructure:"type"`
	Path   string `mapstructure:"path"`
	Width  int    `mapstructure:"width"`
	Height int    `mapstructure:"height"`
}

const (
	SourcePattern   = "pattern"
	SourceDirectory = "directory"
)

// DefaultConfig 返回默认配置，YAML 中出现的字段会覆盖它
func DefaultConfig() Config {
	var cfg Config
	cfg.System.BasePath = DefaultBasePath
	cfg.System.Network.Transport = "websocket"
	cfg.System.Reconnect = ReconnectConfig{
		Interval:    3 * time.Second,
		MaxAttempts: 5,
		Strategy:    utils.StrategyFixed,
	}
	cfg.System.Heartbeat = HeartbeatConfig{
		Interval: DefaultHeartbeatInterval,
		Payload:  schema.DefaultHeartbeat,
	}
	cfg.Capture.FPS = DefaultCadence
	cfg.Capture.Quality = media.DefaultJPEGQuality
	cfg.Capture.AutoStart = true
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"
	cfg.Logging.Outputs = []string{"stdout"}
	cfg.Metrics.Listen = ":9090"
	cfg.Inspection.BaseURL = "http://127.0.0.1:8000"
	cfg.Inspection.Timeout = 10 * time.Second
	cfg.Inspection.CacheTTL = 5 * time.Second
	cfg.Publish.Redis.Addr = "127.0.0.1:6379"
	cfg.Publish.Redis.ChannelPrefix = "hatcam:results:"
	cfg.Publish.Redis.Timeout = 2 * time.Second
	return cfg
}

func (c Config) Validate() error {
	if c.System.BasePath == "" {
		return errors.New("system.base_path is required")
	}
	if err := c.ReconnectPolicy().Validate(); err != nil {
		return fmt.Errorf("system.reconnect: %w", err)
	}
	if len(c.Streams) == 0 {
		return errors.New("at least one stream must be configured")
	}
	if c.Publish.Redis.Enabled && c.Publish.Redis.Addr == "" {
		return errors.New("publish.redis.addr is required when enabled")
	}
	seen := make(map[schema.StreamID]bool, len(c.Streams))
	for i, s := range c.Streams {
		id := s.StreamID()
		if id == "" {
			return fmt.Errorf("streams[%d]: id or camera is required", i)
		}
		if seen[id] {
			return fmt.Errorf("streams[%d]: duplicate stream id %s", i, id)
		}
		seen[id] = true
		switch s.Source.Type {
		case "", SourcePattern:
		case SourceDirectory:
			if s.Source.Path == "" {
				return fmt.Errorf("streams[%d]: directory source needs a path", i)
			}
		default:
			return fmt.Errorf("streams[%d]: unknown source type %q", i, s.Source.Type)
		}
	}
	return nil
}

func (c Config) ReconnectPolicy() utils.ReconnectPolicy {
	r := c.System.Reconnect
	return utils.ReconnectPolicy{
		Interval:    r.Interval,
		MaxAttempts: r.MaxAttempts,
		Strategy:    r.Strategy,
		MaxDelay:    r.MaxDelay,
	}
}

// SessionConfig is the explicit, immutable view of Config handed to every
// Session.
func (c Config) SessionConfig() SessionConfig {
	return SessionConfig{
		BasePath:          c.System.BasePath,
		Reconnect:         c.ReconnectPolicy(),
		HeartbeatInterval: c.System.Heartbeat.Interval,
		HeartbeatPayload:  c.System.Heartbeat.Payload,
		Capture: CaptureConfig{
			FPS:      c.Capture.FPS,
			Quality:  c.Capture.Quality,
			MaxWidth: c.Capture.MaxWidth,
		},
	}
}

func (s StreamConfig) StreamID() schema.StreamID {
	if s.ID != "" {
		return schema.StreamID(s.ID)
	}
	if s.Camera > 0 {
		return schema.FormatCameraID(s.Camera)
	}
	return ""
}

// NewSource 根据配置创建媒体源
func (s StreamConfig) NewSource(log *slog.Logger) (media.Source, error) {
	switch s.Source.Type {
	case "", SourcePattern:
		w, h := s.Source.Width, s.Source.Height
		if w <= 0 || h <= 0 {
			w, h = 640, 480
		}
		return media.NewPatternSource(w, h), nil
	case SourceDirectory:
		src, err := media.NewDirectorySource(s.Source.Path, log)
		if err != nil {
			return nil, err
		}
		return src, nil
	default:
		return nil, fmt.Errorf("unknown source type %q", s.Source.Type)
	}
}

// NewTransportFactory 根据配置创建对应的传输层工厂
func NewTransportFactory(cfg NetworkConfig, log *slog.Logger) (interfaces.TransportFactory, error) {
	switch cfg.Transport {
	case "", "websocket":
		header := http.Header{}
		for k, v := range cfg.Websocket.Headers {
			header.Set(k, v)
		}
		if cfg.Websocket.AccessToken != "" {
			header.Set("Authorization", "Bearer "+cfg.Websocket.AccessToken)
		}
		return websocket.Factory(websocket.Config{
			Header:           header,
			HandshakeTimeout: cfg.Websocket.HandshakeTimeout,
			WriteTimeout:     cfg.Websocket.WriteTimeout,
			ReadLimit:        cfg.Websocket.ReadLimit,
		}, log), nil
	default:
		return nil, fmt.Errorf("%w: %s", interfaces.ErrUnsupportedProtocol, cfg.Transport)
	}
}

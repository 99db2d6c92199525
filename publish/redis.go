// Package publish forwards detection results to downstream consumers outside
// the process.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lisuiheng/hatcam-go/pkg/schema"
	"github.com/redis/go-redis/v9"
)

const DefaultChannelPrefix = "hatcam:results:"

// redisClient is the subset of go-redis used here.
type redisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// ChannelPrefix is followed by the stream id, e.g. hatcam:results:CAM001.
	ChannelPrefix string
	Timeout       time.Duration
}

// RedisPublisher publishes every result as JSON on a per-stream channel.
type RedisPublisher struct {
	client  redisClient
	prefix  string
	timeout time.Duration
	logger  *slog.Logger
}

func NewRedisPublisher(cfg RedisConfig, logger *slog.Logger) (*RedisPublisher, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address cannot be empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return newRedisPublisher(client, cfg, logger), nil
}

func newRedisPublisher(client redisClient, cfg RedisConfig, logger *slog.Logger) *RedisPublisher {
	if cfg.ChannelPrefix == "" {
		cfg.ChannelPrefix = DefaultChannelPrefix
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisPublisher{
		client:  client,
		prefix:  cfg.ChannelPrefix,
		timeout: cfg.Timeout,
		logger:  logger.With("component", "redis-publisher"),
	}
}

func (p *RedisPublisher) Channel(id schema.StreamID) string {
	return p.prefix + string(id)
}

// Publish sends one result and reports how many subscribers received it.
func (p *RedisPublisher) Publish(ctx context.Context, res schema.DetectionResult) (int64, error) {
	data, err := json.Marshal(res)
	if err != nil {
		return 0, fmt.Errorf("marshal result: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	n, err := p.client.Publish(ctx, p.Channel(res.StreamID), data).Result()
	if err != nil {
		return 0, fmt.Errorf("publish to %s: %w", p.Channel(res.StreamID), err)
	}
	return n, nil
}

// Handler adapts Publish to a result callback. Failures are only logged.
func (p *RedisPublisher) Handler() func(schema.DetectionResult) {
	return func(res schema.DetectionResult) {
		if _, err := p.Publish(context.Background(), res); err != nil {
			p.logger.Warn("Failed to publish result", "stream_id", res.StreamID, "error", err)
		}
	}
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

package publish

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/lisuiheng/hatcam-go/pkg/schema"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	channel string
	message []byte
}

type fakeRedis struct {
	mu     sync.Mutex
	msgs   []published
	err    error
	closed bool
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	f.msgs = append(f.msgs, published{channel: channel, message: message.([]byte)})
	return redis.NewIntResult(2, nil)
}

func (f *fakeRedis) Ping(ctx context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (f *fakeRedis) Close() error {
	f.closed = true
	return nil
}

func TestRedisPublisherPublish(t *testing.T) {
	fake := &fakeRedis{}
	p := newRedisPublisher(fake, RedisConfig{}, nil)

	res := schema.DetectionResult{
		Kind:       schema.KindDetectionResult,
		StreamID:   "CAM003",
		Sequence:   4,
		Detections: []schema.Detection{{Type: "no_hat", Confidence: 0.7}},
	}
	n, err := p.Publish(context.Background(), res)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.Len(t, fake.msgs, 1)
	assert.Equal(t, "hatcam:results:CAM003", fake.msgs[0].channel)
	var got schema.DetectionResult
	require.NoError(t, json.Unmarshal(fake.msgs[0].message, &got))
	assert.Equal(t, res, got)

	require.NoError(t, p.Close())
	assert.True(t, fake.closed)
}

func TestRedisPublisherHandlerSwallowsErrors(t *testing.T) {
	fake := &fakeRedis{err: errors.New("connection reset")}
	p := newRedisPublisher(fake, RedisConfig{ChannelPrefix: "site-a:"}, nil)
	assert.Equal(t, "site-a:CAM001", p.Channel("CAM001"))

	_, err := p.Publish(context.Background(), schema.DetectionResult{StreamID: "CAM001"})
	assert.ErrorContains(t, err, "site-a:CAM001")
	assert.NotPanics(t, func() { p.Handler()(schema.DetectionResult{StreamID: "CAM001"}) })
}

func TestNewRedisPublisherRequiresAddr(t *testing.T) {
	_, err := NewRedisPublisher(RedisConfig{}, nil)
	assert.Error(t, err)
}

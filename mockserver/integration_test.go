package mockserver_test

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lisuiheng/hatcam-go/core"
	"github.com/lisuiheng/hatcam-go/media"
	"github.com/lisuiheng/hatcam-go/mockserver"
	"github.com/lisuiheng/hatcam-go/pkg/schema"
	"github.com/lisuiheng/hatcam-go/protocols/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collected struct {
	mu      sync.Mutex
	results []schema.DetectionResult
}

func (c *collected) add(r schema.DetectionResult) {
	c.mu.Lock()
	c.results = append(c.results, r)
	c.mu.Unlock()
}

func (c *collected) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.results)
}

func (c *collected) all() []schema.DetectionResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]schema.DetectionResult(nil), c.results...)
}

func TestStreamingEndToEnd(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := mockserver.New(mockserver.Options{CrossTalk: true}, log)
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	cfg := core.DefaultSessionConfig()
	cfg.BasePath = "ws" + strings.TrimPrefix(ts.URL, "http") + mockserver.DefaultPathPrefix
	cfg.Reconnect.Interval = 20 * time.Millisecond
	cfg.HeartbeatInterval = 20 * time.Millisecond
	cfg.Capture.FPS = 20
	factory := websocket.Factory(websocket.Config{}, log)

	ids := []schema.StreamID{"CAM001", "CAM002"}
	results := map[schema.StreamID]*collected{}
	sessions := map[schema.StreamID]*core.Session{}
	for _, id := range ids {
		c := &collected{}
		s, err := core.NewSession(cfg, core.Stream{ID: id}, c.add, factory, log, nil)
		require.NoError(t, err)
		defer s.Close()
		s.SetSource(media.NewPatternSource(64, 48))
		require.NoError(t, s.StartDetection())
		results[id], sessions[id] = c, s
	}

	for _, id := range ids {
		require.Eventually(t, func() bool { return results[id].len() >= 3 }, 5*time.Second, 10*time.Millisecond)
	}
	require.Eventually(t, func() bool { return srv.Stats().Heartbeats > 0 }, 5*time.Second, 10*time.Millisecond)

	// a dropped network is recovered without help from the caller
	srv.DisconnectAll()
	before := results["CAM001"].len()
	require.Eventually(t, func() bool { return results["CAM001"].len() > before+2 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, core.StateOpen, sessions["CAM001"].Status().State)

	for _, id := range ids {
		require.NoError(t, sessions[id].Disconnect())
	}
	for _, id := range ids {
		for _, r := range results[id].all() {
			assert.Equal(t, id, r.StreamID)
		}
	}
	require.Eventually(t, func() bool { return srv.Stats().Clients == 0 }, 5*time.Second, 10*time.Millisecond)
	for _, id := range ids {
		s := sessions[id]
		require.Eventually(t, func() bool { return s.Status().State == core.StateClosed }, 5*time.Second, 10*time.Millisecond)
		assert.Equal(t, core.CauseManual, s.Status().Cause)
	}
}

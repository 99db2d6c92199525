package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lisuiheng/hatcam-go/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
system:
  base_path: ws://10.0.0.5:8000/ws/safety-hat-detection
  reconnect:
    max_attempts: 8
capture:
  fps: 4
streams:
  - camera: 7
    label: Crane
  - id: YARD
    source:
      type: directory
      path: /srv/yard
publish:
  redis:
    enabled: true
`), 0o644))

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "ws://10.0.0.5:8000/ws/safety-hat-detection", cfg.System.BasePath)
	assert.Equal(t, 8, cfg.System.Reconnect.MaxAttempts)
	// untouched keys keep their defaults
	assert.Equal(t, 3*time.Second, cfg.System.Reconnect.Interval)
	assert.Equal(t, 20*time.Second, cfg.System.Heartbeat.Interval)
	assert.Equal(t, "ping", cfg.System.Heartbeat.Payload)
	assert.Equal(t, 70, cfg.Capture.Quality)
	assert.InDelta(t, 4.0, cfg.Capture.FPS, 1e-9)
	assert.True(t, cfg.Publish.Redis.Enabled)
	assert.Equal(t, "127.0.0.1:6379", cfg.Publish.Redis.Addr)

	require.Len(t, cfg.Streams, 2)
	assert.Equal(t, "CAM007", string(cfg.Streams[0].StreamID()))
	assert.Equal(t, "Crane", cfg.Streams[0].Label)
	assert.Equal(t, core.SourceDirectory, cfg.Streams[1].Source.Type)
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigDefaultsToSyntheticCameras(t *testing.T) {
	t.Chdir(t.TempDir())
	old := cameras
	cameras = 3
	t.Cleanup(func() { cameras = old })

	cfg, err := loadConfig("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	require.Len(t, cfg.Streams, 3)
	assert.Equal(t, "CAM003", cfg.Streams[2].ID)
	assert.Equal(t, core.DefaultBasePath, cfg.System.BasePath)
}

func TestPercent(t *testing.T) {
	assert.Equal(t, "93.5%", percent(0.935))
	assert.Equal(t, "0.0%", percent(0))
}

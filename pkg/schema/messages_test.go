package schema

import (
	"bytes"
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutboundFrameRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, size := range []int{0, 1, 2, 3, 1024, 65537} {
		img := make([]byte, size)
		rng.Read(img)

		data, err := json.Marshal(NewOutboundFrame(img, "CAM001"))
		require.NoError(t, err)

		var decoded OutboundFrame
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Equal(t, KindVideoFrame, decoded.Kind)
		assert.Equal(t, StreamID("CAM001"), decoded.StreamID)

		got, err := decoded.Image()
		require.NoError(t, err)
		assert.True(t, bytes.Equal(img, got), "size %d", size)
	}
}

func TestOutboundFrameWireShape(t *testing.T) {
	data, err := json.Marshal(NewOutboundFrame([]byte{0xff, 0xd8}, "CAM007"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"video_frame","payload":"/9g=","stream_id":"CAM007"}`, string(data))
	assert.NotContains(t, string(data), "data:image")
}

func TestParseDetectionResult(t *testing.T) {
	raw := `{"kind":"detection_result","detections":[{"class_id":1,"type":"no_hat","confidence":0.87,
		"bbox":{"x":10,"y":20,"width":30.5,"height":40}}],"sequence":42,"session_id":"s-1",
		"stream_id":"CAM002","stream_label":"Gate"}`

	res, ok := ParseDetectionResult([]byte(raw))
	require.True(t, ok)
	assert.Equal(t, StreamID("CAM002"), res.StreamID)
	assert.Equal(t, 42, res.Sequence)
	assert.Equal(t, "Gate", res.StreamLabel)
	require.Len(t, res.Detections, 1)
	assert.Equal(t, "no_hat", res.Detections[0].Type)
	assert.InDelta(t, 0.87, res.Detections[0].Confidence, 1e-9)
	assert.Equal(t, BBox{X: 10, Y: 20, Width: 30.5, Height: 40}, res.Detections[0].BBox)
}

func TestParseDetectionResultIgnoresForeignMessages(t *testing.T) {
	cases := map[string]string{
		"heartbeat":   DefaultHeartbeat,
		"not json":    "{{{",
		"empty":       "",
		"other kind":  `{"kind":"video_frame","payload":"","stream_id":"CAM001"}`,
		"no kind":     `{"stream_id":"CAM001"}`,
		"bad field":   `{"kind":"detection_result","sequence":"nope"}`,
		"json string": `"detection_result"`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, ok := ParseDetectionResult([]byte(raw))
			assert.False(t, ok)
		})
	}
}

func TestEndpoint(t *testing.T) {
	assert.Equal(t, "ws://host/ws/safety-hat-detection/CAM001/",
		Endpoint("ws://host/ws/safety-hat-detection", "CAM001"))
	assert.Equal(t, "ws://host/ws/CAM001/", Endpoint("ws://host/ws/", "CAM001"))
	assert.Equal(t, "ws://host/ws/a%2Fb/", Endpoint("ws://host/ws", "a/b"))
}

func TestFormatCameraID(t *testing.T) {
	assert.Equal(t, StreamID("CAM001"), FormatCameraID(1))
	assert.Equal(t, StreamID("CAM042"), FormatCameraID(42))
	assert.Equal(t, StreamID("CAM1234"), FormatCameraID(1234))
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, "short", Summarize([]byte("short"), 10))
	assert.Equal(t, "abc ...(6)", Summarize([]byte("abcdef"), 3))
}

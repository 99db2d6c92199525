package mockserver

import (
	"bytes"
	"encoding/json"
	"image"
	"image/jpeg"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lisuiheng/hatcam-go/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h)), nil))
	return buf.Bytes()
}

func startServer(t *testing.T, opts Options) (*Server, string) {
	t.Helper()
	srv := New(opts, nil)
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return srv, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dial(t *testing.T, base string, id schema.StreamID) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(schema.Endpoint(base+DefaultPathPrefix, id), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, id schema.StreamID, img []byte) {
	t.Helper()
	data, err := json.Marshal(schema.NewOutboundFrame(img, id))
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func readResult(t *testing.T, conn *websocket.Conn) schema.DetectionResult {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	res, ok := schema.ParseDetectionResult(data)
	require.True(t, ok, "not a detection result: %s", data)
	return res
}

func TestServerAnswersFrames(t *testing.T) {
	srv, base := startServer(t, Options{Labels: map[schema.StreamID]string{"CAM001": "North gate"}})
	conn := dial(t, base, "CAM001")

	img := jpegBytes(t, 64, 48)
	sendFrame(t, conn, "CAM001", img)
	first := readResult(t, conn)
	sendFrame(t, conn, "CAM001", img)
	second := readResult(t, conn)

	assert.Equal(t, schema.StreamID("CAM001"), first.StreamID)
	assert.Equal(t, "North gate", first.StreamLabel)
	assert.Equal(t, 1, first.Sequence)
	assert.Equal(t, 2, second.Sequence)
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.NotEmpty(t, first.SessionID)
	for _, d := range append(first.Detections, second.Detections...) {
		assert.GreaterOrEqual(t, d.Confidence, 0.5)
		assert.LessOrEqual(t, d.BBox.X+d.BBox.Width, 64.0)
		assert.LessOrEqual(t, d.BBox.Y+d.BBox.Height, 48.0)
	}
	assert.Equal(t, int64(2), srv.Stats().Frames)
}

func TestServerIgnoresHeartbeatAndGarbage(t *testing.T) {
	srv, base := startServer(t, Options{})
	conn := dial(t, base, "CAM001")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"kind":"video_frame","payload":"%%%","stream_id":"CAM001"}`)))
	sendFrame(t, conn, "CAM001", jpegBytes(t, 8, 8))

	// only the valid frame is answered
	res := readResult(t, conn)
	assert.Equal(t, 1, res.Sequence)

	st := srv.Stats()
	assert.Equal(t, int64(1), st.Heartbeats)
	assert.Equal(t, int64(2), st.Ignored)
	assert.Equal(t, 1, st.Clients)
}

func TestServerCrossTalk(t *testing.T) {
	srv, base := startServer(t, Options{CrossTalk: true})
	a := dial(t, base, "CAM001")
	b := dial(t, base, "CAM002")
	require.Eventually(t, func() bool { return srv.Stats().Clients == 2 }, time.Second, 5*time.Millisecond)

	sendFrame(t, a, "CAM001", jpegBytes(t, 8, 8))
	assert.Equal(t, schema.StreamID("CAM001"), readResult(t, a).StreamID)
	// b receives a result that is not addressed to it
	assert.Equal(t, schema.StreamID("CAM001"), readResult(t, b).StreamID)
}

func TestServerRejectsPlainHTTP(t *testing.T) {
	srv := New(Options{}, nil)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest("GET", DefaultPathPrefix+"/CAM001/", nil))
	assert.Equal(t, 400, rec.Code)

	rec = httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	assert.Equal(t, 200, rec.Code)
}

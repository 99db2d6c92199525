// Package schema defines the wire messages exchanged with the detection
// service and the naming convention for per-stream endpoints.
package schema

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

const (
	KindVideoFrame      = "video_frame"
	KindDetectionResult = "detection_result"

	// DefaultHeartbeat is sent as a bare text frame, never as JSON.
	DefaultHeartbeat = "ping"
)

// StreamID identifies one logical stream, usually one camera.
type StreamID string

func (id StreamID) String() string { return string(id) }

// FormatCameraID renders the conventional camera identity, e.g. CAM001.
func FormatCameraID(index int) StreamID {
	return StreamID(fmt.Sprintf("CAM%03d", index))
}

// Endpoint joins the base transport path and a stream identity as
// <base>/<id>/.
func Endpoint(base string, id StreamID) string {
	return strings.TrimRight(base, "/") + "/" + url.PathEscape(string(id)) + "/"
}

// OutboundFrame carries one encoded image.
type OutboundFrame struct {
	Kind     string   `json:"kind"`
	Payload  string   `json:"payload"` // base64, no data URL prefix
	StreamID StreamID `json:"stream_id"`
}

func NewOutboundFrame(image []byte, id StreamID) OutboundFrame {
	return OutboundFrame{
		Kind:     KindVideoFrame,
		Payload:  base64.StdEncoding.EncodeToString(image),
		StreamID: id,
	}
}

// Image decodes the payload back to the encoded image bytes.
func (f OutboundFrame) Image() ([]byte, error) {
	return base64.StdEncoding.DecodeString(f.Payload)
}

type BBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type Detection struct {
	ClassID    int     `json:"class_id"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
	BBox       BBox    `json:"bbox"`
}

type DetectionResult struct {
	Kind        string      `json:"kind"`
	Detections  []Detection `json:"detections"`
	Sequence    int         `json:"sequence"`
	SessionID   string      `json:"session_id"`
	StreamID    StreamID    `json:"stream_id"`
	StreamLabel string      `json:"stream_label"`
}

// envelope is the minimum needed to route a message by kind.
type envelope struct {
	Kind string `json:"kind"`
}

// ParseDetectionResult returns ok=false for anything that is not a well formed
// detection_result: non-JSON text, heartbeats, and other kinds are expected on
// a shared channel and are not errors.
func ParseDetectionResult(data []byte) (DetectionResult, bool) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Kind != KindDetectionResult {
		return DetectionResult{}, false
	}
	var res DetectionResult
	if err := json.Unmarshal(data, &res); err != nil {
		return DetectionResult{}, false
	}
	return res, true
}

// Summarize shortens text for logging, keeping the total length visible.
func Summarize(data []byte, limit int) string {
	if len(data) <= limit {
		return string(data)
	}
	return fmt.Sprintf("%s ...(%d)", data[:limit], len(data))
}

// pkg/interfaces/transport.go
package interfaces

import (
	"context"
	"errors"
)

var (
	ErrConnectionFailed    = errors.New("connection failed")
	ErrNotConnected        = errors.New("transport not connected")
	ErrUnsupportedProtocol = errors.New("unsupported protocol")
)

// Close codes surfaced by transports. They mirror the WebSocket close codes so
// that every transport reports the same vocabulary.
const (
	CloseNormal    = 1000
	CloseGoingAway = 1001
	CloseAbnormal  = 1006
)

// TransportProtocol is one physical bidirectional connection. It opens once,
// is never reused after Close, and has no retry logic of its own.
type TransportProtocol interface {
	Connect(ctx context.Context) error
	Send(data []byte, msgType MessageType) error
	// Receive is closed when a connected transport ends, for any reason.
	Receive() <-chan Message
	// CloseStatus is valid once Receive has been closed.
	CloseStatus() CloseStatus
	Close(code int, reason string) error
	ProtocolType() string
}

// TransportFactory builds a fresh, unopened transport for an endpoint.
type TransportFactory func(endpoint string) (TransportProtocol, error)

type Message struct {
	Payload []byte
	Type    MessageType
}

type MessageType int

const (
	MsgText    MessageType = iota // JSON文本 / heartbeat
	MsgBinary                     // 二进制数据
	MsgControl                    // 控制指令
)

// CloseStatus describes how a transport ended.
type CloseStatus struct {
	Code   int
	Reason string
	Err    error
}

// protocols/websocket/transport.go
package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lisuiheng/hatcam-go/pkg/interfaces"
)

var _ interfaces.TransportProtocol = (*WSProtocol)(nil)

type WSProtocol struct {
	conn      *websocket.Conn
	config    Config
	id        string
	logger    *slog.Logger
	msgChan   chan interfaces.Message
	closeChan chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex

	statusMu sync.Mutex
	status   interfaces.CloseStatus
}

// Config 定义websocket特有的配置
type Config struct {
	URL              string
	Header           http.Header
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadLimit        int64
}

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 5 * time.Second
)

func NewWebSocketProtocol(config Config, logger *slog.Logger) (*WSProtocol, error) {
	if config.URL == "" {
		return nil, errors.New("websocket url is empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = defaultHandshakeTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaultWriteTimeout
	}
	id := uuid.NewString()
	return &WSProtocol{
		config:    config,
		id:        id,
		logger:    logger.With("conn_id", id),
		msgChan:   make(chan interfaces.Message, 100),
		closeChan: make(chan struct{}),
	}, nil
}

// Factory returns a TransportFactory that dials every endpoint with the
// settings in base.
func Factory(base Config, logger *slog.Logger) interfaces.TransportFactory {
	return func(endpoint string) (interfaces.TransportProtocol, error) {
		cfg := base
		cfg.URL = endpoint
		return NewWebSocketProtocol(cfg, logger)
	}
}

// ID identifies this physical connection in logs.
func (p *WSProtocol) ID() string { return p.id }

func (p *WSProtocol) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != nil {
		return errors.New("websocket already connected")
	}
	select {
	case <-p.closeChan:
		return fmt.Errorf("%w: transport already closed", interfaces.ErrConnectionFailed)
	default:
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: p.config.HandshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, p.config.URL, p.config.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		p.setStatus(interfaces.CloseStatus{Code: interfaces.CloseAbnormal, Err: err})
		p.shutdown()
		close(p.msgChan)
		return fmt.Errorf("%w: %v", interfaces.ErrConnectionFailed, err)
	}
	if p.config.ReadLimit > 0 {
		conn.SetReadLimit(p.config.ReadLimit)
	}
	p.conn = conn
	p.logger.Debug("websocket connected", "url", p.config.URL)

	go p.readPump(conn)
	return nil
}

func (p *WSProtocol) readPump(conn *websocket.Conn) {
	defer close(p.msgChan)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			p.recordReadError(err)
			p.shutdown()
			return
		}
		select {
		case p.msgChan <- interfaces.Message{Payload: data, Type: convertMsgType(msgType)}:
		case <-p.closeChan:
			return
		}
	}
}

func (p *WSProtocol) recordReadError(err error) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		p.setStatus(interfaces.CloseStatus{Code: ce.Code, Reason: ce.Text})
		return
	}
	select {
	case <-p.closeChan:
		// local close already recorded its own status
	default:
		p.setStatus(interfaces.CloseStatus{Code: interfaces.CloseAbnormal, Err: err})
	}
}

func convertMsgType(wsType int) interfaces.MessageType {
	switch wsType {
	case websocket.TextMessage:
		return interfaces.MsgText
	case websocket.BinaryMessage:
		return interfaces.MsgBinary
	default:
		return interfaces.MsgControl
	}
}

func (p *WSProtocol) Send(data []byte, msgType interfaces.MessageType) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		return interfaces.ErrNotConnected
	}

	wsType := websocket.TextMessage
	if msgType == interfaces.MsgBinary {
		wsType = websocket.BinaryMessage
	}
	_ = p.conn.SetWriteDeadline(time.Now().Add(p.config.WriteTimeout))
	return p.conn.WriteMessage(wsType, data)
}

func (p *WSProtocol) Receive() <-chan interfaces.Message {
	return p.msgChan
}

func (p *WSProtocol) CloseStatus() interfaces.CloseStatus {
	p.statusMu.Lock()
	defer p.statusMu.Unlock()
	return p.status
}

func (p *WSProtocol) ProtocolType() string { return "websocket" }

// Close sends a close frame with code and reason, then drops the connection.
// Safe to call more than once.
func (p *WSProtocol) Close(code int, reason string) error {
	if code == 0 {
		code = websocket.CloseNormalClosure
	}

	p.mu.Lock()
	conn := p.conn
	p.conn = nil
	p.mu.Unlock()

	p.statusMu.Lock()
	if p.status.Code == 0 {
		p.status = interfaces.CloseStatus{Code: code, Reason: reason}
	}
	p.statusMu.Unlock()

	p.shutdown()
	if conn == nil {
		return nil
	}

	msg := websocket.FormatCloseMessage(code, reason)
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(p.config.WriteTimeout)); err != nil {
		p.logger.Debug("failed to send close frame", "error", err)
	}
	return conn.Close()
}

func (p *WSProtocol) shutdown() {
	p.closeOnce.Do(func() { close(p.closeChan) })
}

func (p *WSProtocol) setStatus(s interfaces.CloseStatus) {
	p.statusMu.Lock()
	defer p.statusMu.Unlock()
	if p.status.Code == 0 {
		p.status = s
	}
}

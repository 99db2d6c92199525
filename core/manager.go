package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lisuiheng/hatcam-go/metrics"
	"github.com/lisuiheng/hatcam-go/pkg/interfaces"
	"github.com/lisuiheng/hatcam-go/pkg/schema"
	"github.com/lisuiheng/hatcam-go/utils"
)

const defaultEventBuffer = 64

// ManagerConfig is immutable once the Manager is built.
type ManagerConfig struct {
	Endpoint  string
	Reconnect utils.ReconnectPolicy
	// HeartbeatInterval <= 0 disables heartbeats.
	HeartbeatInterval time.Duration
	HeartbeatPayload  string
}

// Manager keeps one logical connection alive over a series of physical
// transports. A single goroutine owns all state: commands, transport events
// and timers are handled one at a time, so transitions never overlap.
type Manager struct {
	cfg     ManagerConfig
	factory interfaces.TransportFactory
	logger  *slog.Logger
	metrics *metrics.StreamMetrics

	cmds     chan command
	inbound  chan transportEvent
	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}

	// snapshots for readers outside the loop
	state    atomic.Int32
	cause    atomic.Int32
	attempts atomic.Int32

	subMu      sync.Mutex
	subs       map[int]subscriber
	nextSub    int
	subsClosed bool

	// loop-owned
	transport  interfaces.TransportProtocol
	gen        uint64
	dialCancel context.CancelFunc
	strategy   utils.ReconnectStrategy
	heartbeat  *time.Ticker
	backoff    *time.Timer
}

type cmdKind int

const (
	cmdConnect cmdKind = iota
	cmdClose
	cmdSend
)

type command struct {
	kind   cmdKind
	code   int
	reason string
	data   []byte
	reply  chan error
}

type transportEvent struct {
	gen       uint64
	kind      EventKind
	transport interfaces.TransportProtocol
	msg       interfaces.Message
	status    interfaces.CloseStatus
	err       error
}

func NewManager(cfg ManagerConfig, factory interfaces.TransportFactory, log *slog.Logger, m *metrics.StreamMetrics) (*Manager, error) {
	if log == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if factory == nil {
		return nil, errors.New("transport factory cannot be nil")
	}
	if cfg.Endpoint == "" {
		return nil, errors.New("endpoint cannot be empty")
	}
	if err := cfg.Reconnect.Validate(); err != nil {
		return nil, err
	}
	if cfg.HeartbeatPayload == "" {
		cfg.HeartbeatPayload = schema.DefaultHeartbeat
	}

	mgr := &Manager{
		cfg:      cfg,
		factory:  factory,
		logger:   log.With("endpoint", cfg.Endpoint),
		metrics:  m,
		cmds:     make(chan command),
		inbound:  make(chan transportEvent),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		subs:     make(map[int]subscriber),
		strategy: cfg.Reconnect.NewStrategy(),
	}
	mgr.metrics.SetState(int(StateIdle))
	go mgr.run()
	return mgr, nil
}

// Connect opens a transport unless one is already held (any state other than
// Idle or Closed), in which case it only logs a warning. The dial happens in
// the background; watch events or Status for the outcome.
func (m *Manager) Connect() error {
	return m.do(command{kind: cmdConnect})
}

// Close closes the connection on request. No reconnection follows, including
// for close signals still in flight from the old transport. Pending backoff
// and heartbeat timers are cancelled.
func (m *Manager) Close(code int, reason string) error {
	return m.do(command{kind: cmdClose, code: code, reason: reason})
}

// Send JSON-encodes v and writes it as a text frame. It returns ErrNotOpen,
// after logging a warning, unless the connection is Open.
func (m *Manager) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return m.do(command{kind: cmdSend, data: data})
}

// SendRaw writes text as-is.
func (m *Manager) SendRaw(text string) error {
	return m.do(command{kind: cmdSend, data: []byte(text)})
}

// Shutdown closes the connection and stops the manager goroutine. Every
// subscription channel is closed. Later calls return ErrShutdown.
func (m *Manager) Shutdown() {
	m.quitOnce.Do(func() { close(m.quit) })
	<-m.done
}

func (m *Manager) State() State { return State(m.state.Load()) }

func (m *Manager) IsOpen() bool { return m.State() == StateOpen }

func (m *Manager) Status() Status {
	return Status{
		State:    m.State(),
		Cause:    CloseCause(m.cause.Load()),
		Attempts: int(m.attempts.Load()),
	}
}

// Subscribe returns a channel of manager events and a function that cancels
// the subscription. Delivery never blocks the manager: if the channel buffer
// is full the event is dropped and a warning logged.
func (m *Manager) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	ch := make(chan Event, buffer)
	unsubscribe := m.addSubscriber(bufferedSub(ch), func() {})
	return ch, unsubscribe
}

// SubscribeQueued is like Subscribe but never drops: events the consumer has
// not read yet are queued without bound. After Shutdown the backlog is still
// delivered before the channel closes; unsubscribing discards it.
func (m *Manager) SubscribeQueued() (<-chan Event, func()) {
	q := newQueuedSub()
	unsubscribe := m.addSubscriber(q, q.cancel)
	return q.out, unsubscribe
}

func (m *Manager) addSubscriber(sub subscriber, release func()) func() {
	m.subMu.Lock()
	if m.subsClosed {
		m.subMu.Unlock()
		sub.end()
		return release
	}
	id := m.nextSub
	m.nextSub++
	m.subs[id] = sub
	m.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.subMu.Lock()
			if s, ok := m.subs[id]; ok {
				delete(m.subs, id)
				s.end()
			}
			m.subMu.Unlock()
			release()
		})
	}
}

func (m *Manager) do(c command) error {
	c.reply = make(chan error, 1)
	select {
	case m.cmds <- c:
	case <-m.done:
		return ErrShutdown
	}
	select {
	case err := <-c.reply:
		return err
	case <-m.done:
		return ErrShutdown
	}
}

func (m *Manager) run() {
	defer close(m.done)
	for {
		var heartbeatC, backoffC <-chan time.Time
		if m.heartbeat != nil {
			heartbeatC = m.heartbeat.C
		}
		if m.backoff != nil {
			backoffC = m.backoff.C
		}

		select {
		case <-m.quit:
			m.shutdown()
			return
		case c := <-m.cmds:
			c.reply <- m.handleCommand(c)
		case ev := <-m.inbound:
			m.handleTransportEvent(ev)
		case <-heartbeatC:
			m.sendHeartbeat()
		case <-backoffC:
			m.backoff = nil
			m.logger.Info("Reconnecting", "attempt", m.attempts.Load())
			m.dial()
		}
	}
}

func (m *Manager) handleCommand(c command) error {
	switch c.kind {
	case cmdConnect:
		m.connect()
		return nil
	case cmdClose:
		m.closeManual(c.code, c.reason)
		return nil
	case cmdSend:
		return m.write(c.data)
	default:
		return fmt.Errorf("unknown command %d", c.kind)
	}
}

func (m *Manager) connect() {
	if st := m.State(); st != StateIdle && st != StateClosed {
		m.logger.Warn("Connect ignored, connection already held", "state", st)
		return
	}
	m.cause.Store(int32(CauseNone))
	m.dial()
}

func (m *Manager) dial() {
	t, err := m.factory(m.cfg.Endpoint)
	if err != nil {
		m.logger.Error("Failed to create transport", "error", err)
		m.setState(StateConnecting)
		m.emit(Event{Kind: EventError, Err: err})
		m.onClose(interfaces.CloseStatus{Code: interfaces.CloseAbnormal, Err: err})
		return
	}

	m.gen++
	ctx, cancel := context.WithCancel(context.Background())
	m.transport = t
	m.dialCancel = cancel
	m.setState(StateConnecting)
	m.logger.Info("Connecting", "transport", t.ProtocolType())
	go m.pump(ctx, m.gen, t)
}

// pump runs one transport: dial, then hand every inbound message to the loop
// in arrival order, then report the close.
func (m *Manager) pump(ctx context.Context, gen uint64, t interfaces.TransportProtocol) {
	if err := t.Connect(ctx); err != nil {
		status := t.CloseStatus()
		if status.Code == 0 {
			status = interfaces.CloseStatus{Code: interfaces.CloseAbnormal, Err: err}
		}
		if m.post(transportEvent{gen: gen, kind: EventError, err: err}) {
			m.post(transportEvent{gen: gen, kind: EventClose, status: status})
		}
		return
	}
	if ctx.Err() != nil || !m.post(transportEvent{gen: gen, kind: EventOpen, transport: t}) {
		_ = t.Close(interfaces.CloseGoingAway, "connection abandoned")
		return
	}
	for msg := range t.Receive() {
		if !m.post(transportEvent{gen: gen, kind: EventMessage, msg: msg}) {
			_ = t.Close(interfaces.CloseGoingAway, "manager stopped")
			return
		}
	}
	m.post(transportEvent{gen: gen, kind: EventClose, status: t.CloseStatus()})
}

func (m *Manager) post(ev transportEvent) bool {
	select {
	case m.inbound <- ev:
		return true
	case <-m.done:
		return false
	}
}

func (m *Manager) handleTransportEvent(ev transportEvent) {
	if ev.gen != m.gen {
		if ev.kind == EventOpen {
			go ev.transport.Close(interfaces.CloseGoingAway, "connection abandoned")
		}
		m.logger.Debug("Dropping event from stale transport", "event", ev.kind)
		return
	}

	switch ev.kind {
	case EventOpen:
		m.onOpen()
	case EventMessage:
		m.logger.Debug("Received message",
			"size", len(ev.msg.Payload),
			"text", schema.Summarize(ev.msg.Payload, 200))
		m.emit(Event{Kind: EventMessage, Message: ev.msg})
	case EventError:
		m.logger.Warn("Transport error", "error", ev.err)
		m.emit(Event{Kind: EventError, Err: ev.err})
	case EventClose:
		m.onClose(ev.status)
	}
}

func (m *Manager) onOpen() {
	m.attempts.Store(0)
	m.strategy.Reset()
	m.setState(StateOpen)
	m.startHeartbeat()
	m.logger.Info("Connection open")
	m.emit(Event{Kind: EventOpen})
}

func (m *Manager) onClose(status interfaces.CloseStatus) {
	m.stopHeartbeat()
	m.transport = nil
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}

	manual := CloseCause(m.cause.Load()) == CauseManual
	if manual {
		m.setState(StateClosed)
	}
	m.logger.Info("Connection closed",
		"code", status.Code,
		"reason", status.Reason,
		"manual", manual,
		"error", status.Err)
	m.emit(Event{Kind: EventClose, Code: status.Code, Reason: status.Reason, Manual: manual, Err: status.Err})

	if !manual {
		m.scheduleReconnect()
	}
}

// scheduleReconnect counts the attempt before arming the timer and gives up
// once MaxAttempts have been used.
func (m *Manager) scheduleReconnect() {
	attempts := int(m.attempts.Load())
	if attempts >= m.cfg.Reconnect.MaxAttempts {
		m.cause.Store(int32(CauseExhausted))
		m.setState(StateClosed)
		m.metrics.Exhausted()
		m.logger.Warn("Reconnect attempts exhausted, giving up", "attempts", attempts)
		m.emit(Event{Kind: EventExhausted, Attempt: attempts, Err: ErrReconnectGaveUp})
		return
	}

	attempts++
	m.attempts.Store(int32(attempts))
	delay := m.strategy.NextDelay()
	m.setState(StateConnecting)
	m.backoff = time.NewTimer(delay)
	m.metrics.Reconnect()
	m.logger.Info("Scheduling reconnect", "attempt", attempts, "delay", delay)
	m.emit(Event{Kind: EventReconnecting, Attempt: attempts, Delay: delay})
}

func (m *Manager) closeManual(code int, reason string) {
	if code == 0 {
		code = interfaces.CloseNormal
	}
	m.cause.Store(int32(CauseManual))
	m.stopHeartbeat()
	if m.backoff != nil {
		m.backoff.Stop()
		m.backoff = nil
	}

	switch m.State() {
	case StateOpen:
		m.setState(StateClosing)
		if err := m.transport.Close(code, reason); err != nil {
			m.logger.Warn("Failed to close transport", "error", err)
		}
		// the pump reports the close and onClose finishes the transition
	case StateConnecting:
		if m.dialCancel != nil {
			m.dialCancel()
			m.dialCancel = nil
		}
		m.gen++
		m.transport = nil
		m.setState(StateClosed)
		m.logger.Info("Connection closed while connecting", "code", code, "reason", reason)
		m.emit(Event{Kind: EventClose, Code: code, Reason: reason, Manual: true})
	case StateClosing:
	default:
		m.setState(StateClosed)
	}
}

func (m *Manager) shutdown() {
	m.closeManual(interfaces.CloseGoingAway, "shutdown")
	if m.State() == StateClosing {
		m.gen++
		m.transport = nil
		m.setState(StateClosed)
		m.emit(Event{Kind: EventClose, Code: interfaces.CloseGoingAway, Reason: "shutdown", Manual: true})
	}

	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.subsClosed = true
	for id, sub := range m.subs {
		delete(m.subs, id)
		sub.end()
	}
}

func (m *Manager) write(data []byte) error {
	if st := m.State(); st != StateOpen || m.transport == nil {
		m.logger.Warn("Send skipped, connection not open", "state", st)
		return ErrNotOpen
	}
	if err := m.transport.Send(data, interfaces.MsgText); err != nil {
		m.logger.Warn("Send failed", "error", err)
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

func (m *Manager) sendHeartbeat() {
	if m.State() != StateOpen || m.transport == nil {
		return
	}
	if err := m.transport.Send([]byte(m.cfg.HeartbeatPayload), interfaces.MsgText); err != nil {
		m.logger.Warn("Heartbeat failed", "error", err)
		return
	}
	m.metrics.Heartbeat()
}

func (m *Manager) startHeartbeat() {
	m.stopHeartbeat()
	if m.cfg.HeartbeatInterval > 0 {
		m.heartbeat = time.NewTicker(m.cfg.HeartbeatInterval)
	}
}

func (m *Manager) stopHeartbeat() {
	if m.heartbeat != nil {
		m.heartbeat.Stop()
		m.heartbeat = nil
	}
}

func (m *Manager) setState(s State) {
	old := State(m.state.Swap(int32(s)))
	if old != s {
		m.logger.Info("State changed", "from", old, "to", s)
		m.metrics.SetState(int(s))
	}
}

func (m *Manager) emit(ev Event) {
	ev.State = m.State()
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for id, sub := range m.subs {
		if !sub.deliver(ev) {
			m.logger.Warn("Subscriber too slow, dropping event", "subscriber", id, "event", ev.Kind)
		}
	}
}

package core

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/lisuiheng/hatcam-go/pkg/interfaces"
)

var errRefused = errors.New("connection refused")

type fakeTransport struct {
	mu          sync.Mutex
	connectErr  error
	connectGate chan struct{}
	ignoreCtx   bool
	recv        chan interfaces.Message
	sent        []string
	opened      bool
	closed      bool
	status      interfaces.CloseStatus
	closeOnce   sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{recv: make(chan interfaces.Message, 16)}
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	if f.connectGate != nil && f.ignoreCtx {
		<-f.connectGate
	} else if f.connectGate != nil {
		select {
		case <-f.connectGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		f.status = interfaces.CloseStatus{Code: interfaces.CloseAbnormal, Err: f.connectErr}
		return f.connectErr
	}
	f.opened = true
	return nil
}

// Send records every call, successful or not.
func (f *fakeTransport) Send(data []byte, _ interfaces.MessageType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, string(data))
	if !f.opened || f.closed {
		return interfaces.ErrNotConnected
	}
	return nil
}

func (f *fakeTransport) Receive() <-chan interfaces.Message { return f.recv }

func (f *fakeTransport) CloseStatus() interfaces.CloseStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeTransport) Close(code int, reason string) error {
	f.end(interfaces.CloseStatus{Code: code, Reason: reason})
	return nil
}

func (f *fakeTransport) ProtocolType() string { return "fake" }

// drop simulates the remote end or the network going away.
func (f *fakeTransport) drop() {
	f.end(interfaces.CloseStatus{Code: interfaces.CloseAbnormal, Reason: "network down"})
}

func (f *fakeTransport) end(s interfaces.CloseStatus) {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closed = true
		if f.status.Code == 0 {
			f.status = s
		}
		f.mu.Unlock()
		close(f.recv)
	})
}

func (f *fakeTransport) deliver(text string) {
	f.recv <- interfaces.Message{Payload: []byte(text), Type: interfaces.MsgText}
}

func (f *fakeTransport) sends() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeDialer hands out fake transports; configure, when set, adjusts the n-th
// transport (0-based) before it is dialled.
type fakeDialer struct {
	mu         sync.Mutex
	transports []*fakeTransport
	endpoints  []string
	configure  func(n int, t *fakeTransport)
}

func (d *fakeDialer) factory(endpoint string) (interfaces.TransportProtocol, error) {
	t := newFakeTransport()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.configure != nil {
		d.configure(len(d.transports), t)
	}
	d.transports = append(d.transports, t)
	d.endpoints = append(d.endpoints, endpoint)
	return t, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.transports)
}

func (d *fakeDialer) last() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}

func (d *fakeDialer) allSends() []string {
	d.mu.Lock()
	ts := append([]*fakeTransport(nil), d.transports...)
	d.mu.Unlock()
	var out []string
	for _, t := range ts {
		out = append(out, t.sends()...)
	}
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// eventLog drains a subscription in the background.
type eventLog struct {
	mu     sync.Mutex
	events []Event
	done   chan struct{}
}

func recordEvents(ch <-chan Event) *eventLog {
	l := &eventLog{done: make(chan struct{})}
	go func() {
		defer close(l.done)
		for ev := range ch {
			l.mu.Lock()
			l.events = append(l.events, ev)
			l.mu.Unlock()
		}
	}()
	return l
}

func (l *eventLog) count(kind EventKind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ev := range l.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func (l *eventLog) kinds() []EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EventKind, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, ev.Kind)
	}
	return out
}

func (l *eventLog) snapshot() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

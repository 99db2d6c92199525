package core

import (
	"time"

	"github.com/lisuiheng/hatcam-go/pkg/interfaces"
)

type EventKind int

const (
	// EventOpen: the transport connected; heartbeats are running.
	EventOpen EventKind = iota
	// EventMessage carries one inbound frame in Message.
	EventMessage
	// EventClose: the transport ended. Code and Reason describe it.
	EventClose
	// EventError is informational; the close that follows drives the state.
	EventError
	// EventReconnecting: a reconnect is scheduled after Delay, Attempt counts it.
	EventReconnecting
	// EventExhausted: max attempts reached, the manager is Closed for good.
	EventExhausted
)

func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventMessage:
		return "message"
	case EventClose:
		return "close"
	case EventError:
		return "error"
	case EventReconnecting:
		return "reconnecting"
	case EventExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Event is one notification from a Manager. State is the manager state at the
// time the event was emitted.
type Event struct {
	Kind    EventKind
	State   State
	Attempt int
	Delay   time.Duration
	Code    int
	Reason  string
	Manual  bool
	Err     error
	Message interfaces.Message
}

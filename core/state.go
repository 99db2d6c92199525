package core

// State is the lifecycle state of a Manager's logical connection.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CloseCause tells the two terminal Closed variants apart: closed on request,
// or closed because reconnection gave up.
type CloseCause int32

const (
	CauseNone CloseCause = iota
	CauseManual
	CauseExhausted
)

func (c CloseCause) String() string {
	switch c {
	case CauseManual:
		return "manual"
	case CauseExhausted:
		return "exhausted"
	default:
		return "none"
	}
}

// Status is a point-in-time view of a Manager.
type Status struct {
	State    State
	Cause    CloseCause
	Attempts int
}

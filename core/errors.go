package core

import "errors"

var (
	ErrNotOpen         = errors.New("connection not open")
	ErrNoSource        = errors.New("no media source bound")
	ErrShutdown        = errors.New("connection manager shut down")
	ErrReconnectGaveUp = errors.New("reconnection attempts exhausted")
)

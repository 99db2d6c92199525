package utils

import (
	"fmt"
	"time"
)

type ReconnectStrategy interface {
	NextDelay() time.Duration
	Reset()
}

const (
	StrategyFixed       = "fixed"
	StrategyExponential = "exponential"
)

// ReconnectPolicy is fixed for the lifetime of a connection manager.
type ReconnectPolicy struct {
	Interval    time.Duration
	MaxAttempts int
	// Strategy is "fixed" (default) or "exponential". Exponential doubles from
	// Interval up to MaxDelay.
	Strategy string
	MaxDelay time.Duration
}

func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		Interval:    3 * time.Second,
		MaxAttempts: 5,
		Strategy:    StrategyFixed,
	}
}

func (p ReconnectPolicy) Validate() error {
	if p.Interval <= 0 {
		return fmt.Errorf("reconnect interval must be positive, got %s", p.Interval)
	}
	if p.MaxAttempts < 0 {
		return fmt.Errorf("reconnect max attempts must not be negative, got %d", p.MaxAttempts)
	}
	switch p.Strategy {
	case "", StrategyFixed, StrategyExponential:
		return nil
	default:
		return fmt.Errorf("unknown reconnect strategy %q", p.Strategy)
	}
}

// NewStrategy builds the delay sequence described by the policy.
func (p ReconnectPolicy) NewStrategy() ReconnectStrategy {
	if p.Strategy == StrategyExponential {
		maxDelay := p.MaxDelay
		if maxDelay < p.Interval {
			maxDelay = 30 * time.Second
			if maxDelay < p.Interval {
				maxDelay = p.Interval
			}
		}
		return NewExponentialBackoff(p.Interval, maxDelay)
	}
	return NewFixedBackoff(p.Interval)
}

type FixedBackoff struct {
	delay time.Duration
}

func NewFixedBackoff(delay time.Duration) *FixedBackoff {
	return &FixedBackoff{delay: delay}
}

func (f *FixedBackoff) NextDelay() time.Duration { return f.delay }

func (f *FixedBackoff) Reset() {}

type ExponentialBackoff struct {
	initialDelay time.Duration
	currentDelay time.Duration
	maxDelay     time.Duration
}

func NewExponentialBackoff(initial, maxDelay time.Duration) *ExponentialBackoff {
	return &ExponentialBackoff{
		initialDelay: initial,
		currentDelay: initial,
		maxDelay:     maxDelay,
	}
}

func (e *ExponentialBackoff) NextDelay() time.Duration {
	delay := e.currentDelay
	e.currentDelay *= 2
	if e.currentDelay > e.maxDelay {
		e.currentDelay = e.maxDelay
	}
	return delay
}

func (e *ExponentialBackoff) Reset() {
	e.currentDelay = e.initialDelay
}

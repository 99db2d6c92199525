package core

import "sync"

// subscriber receives manager events. deliver is called from the manager
// loop and must not block.
type subscriber interface {
	deliver(ev Event) bool
	// end means no more events will be delivered.
	end()
}

// bufferedSub drops events once its buffer is full.
type bufferedSub chan Event

func (s bufferedSub) deliver(ev Event) bool {
	select {
	case s <- ev:
		return true
	default:
		return false
	}
}

func (s bufferedSub) end() { close(s) }

// queuedSub never drops: events wait in an unbounded FIFO until the consumer
// reads them. The backlog is bounded in practice by the inbound rate.
type queuedSub struct {
	mu    sync.Mutex
	items []Event
	ended bool

	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	out      chan Event
}

func newQueuedSub() *queuedSub {
	q := &queuedSub{
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		out:  make(chan Event),
	}
	go q.forward()
	return q
}

func (q *queuedSub) deliver(ev Event) bool {
	q.mu.Lock()
	q.items = append(q.items, ev)
	q.mu.Unlock()
	q.notify()
	return true
}

func (q *queuedSub) end() {
	q.mu.Lock()
	q.ended = true
	q.mu.Unlock()
	q.notify()
}

// cancel abandons whatever is still queued and closes out.
func (q *queuedSub) cancel() {
	q.stopOnce.Do(func() { close(q.stop) })
}

func (q *queuedSub) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// forward hands queued events to out in order; out is closed after end once
// the backlog is drained, or at once on cancel.
func (q *queuedSub) forward() {
	defer close(q.out)
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			ended := q.ended
			q.mu.Unlock()
			if ended {
				return
			}
			select {
			case <-q.wake:
				continue
			case <-q.stop:
				return
			}
		}
		ev := q.items[0]
		q.items[0] = Event{}
		q.items = q.items[1:]
		q.mu.Unlock()

		select {
		case q.out <- ev:
		case <-q.stop:
			return
		}
	}
}

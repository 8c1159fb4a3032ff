package events

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Next once the queue is closed and drained.
var ErrClosed = errors.New("event queue closed")

// Queue is an unbounded FIFO between one producer and one consumer. Push
// never blocks, so a slow consumer cannot stall the producer.
type Queue struct {
	mu     sync.Mutex
	items  []Event
	ready  chan struct{}
	closed bool
}

func NewQueue() *Queue {
	return &Queue{ready: make(chan struct{}, 1)}
}

// Push appends ev. Pushes after Close are dropped.
func (q *Queue) Push(ev Event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, ev)
	q.mu.Unlock()
	q.signal()
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Next returns the oldest event, waiting until one is available.
func (q *Queue) Next(ctx context.Context) (Event, error) {
	for {
		if ev, ok, closed := q.pop(); ok {
			return ev, nil
		} else if closed {
			return nil, ErrClosed
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.ready:
		}
	}
}

// TryNext returns the oldest event without waiting.
func (q *Queue) TryNext() (Event, bool) {
	ev, ok, _ := q.pop()
	return ev, ok
}

func (q *Queue) pop() (Event, bool, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false, q.closed
	}
	ev := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return ev, true, false
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops accepting events. Queued events can still be read.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

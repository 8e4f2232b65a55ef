package gate

import (
	"sync"

	"github.com/ircarchive/ircview/pkg/domain"
)

// Queue is an unbounded, ordered event queue between one session and its
// consumer. Emit never blocks. Events are delivered on Events in emission
// order; the channel is closed once the producer has closed the queue and
// everything has been delivered, or after Detach.
type Queue struct {
	mu       sync.Mutex
	buf      []domain.Event
	closed   bool
	detached bool
	terminal bool

	notify   chan struct{}
	out      chan domain.Event
	done     chan struct{}
	doneOnce sync.Once
}

// NewQueue creates a queue and starts its delivery goroutine.
func NewQueue() *Queue {
	q := &Queue{
		notify: make(chan struct{}, 1),
		out:    make(chan domain.Event),
		done:   make(chan struct{}),
	}
	go q.pump()
	return q
}

// Emit appends ev. It is a no-op after Close, after Detach, and after a
// terminal event has been emitted.
func (q *Queue) Emit(ev domain.Event) {
	q.mu.Lock()
	if q.closed || q.detached || q.terminal {
		q.mu.Unlock()
		return
	}
	if ev.Terminal() {
		q.terminal = true
	}
	q.buf = append(q.buf, ev)
	q.mu.Unlock()
	q.wake()
}

// Terminated reports whether a terminal event has been emitted.
func (q *Queue) Terminated() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.terminal
}

// Events returns the delivery channel.
func (q *Queue) Events() <-chan domain.Event {
	return q.out
}

// Close marks the end of production. Pending events are still delivered.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

// Detach is called when the consumer goes away. Pending and future events
// are dropped.
func (q *Queue) Detach() {
	q.mu.Lock()
	q.detached = true
	q.buf = nil
	q.mu.Unlock()
	q.doneOnce.Do(func() { close(q.done) })
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Queue) pump() {
	defer close(q.out)
	for {
		q.mu.Lock()
		for len(q.buf) == 0 && !q.closed {
			q.mu.Unlock()
			select {
			case <-q.notify:
			case <-q.done:
				return
			}
			q.mu.Lock()
		}
		if len(q.buf) == 0 {
			q.mu.Unlock()
			return
		}
		ev := q.buf[0]
		q.buf[0] = domain.Event{}
		q.buf = q.buf[1:]
		q.mu.Unlock()

		select {
		case q.out <- ev:
		case <-q.done:
			return
		}
	}
}

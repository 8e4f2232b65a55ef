// Package gate bounds the number of concurrently running search sessions.
package gate

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/ircarchive/ircview/pkg/domain"
	"github.com/ircarchive/ircview/pkg/metrics"
	"golang.org/x/sync/semaphore"
)

// ErrBusy is returned by Admit when every permit is in use.
var ErrBusy = errors.New("too many concurrent sessions")

// RunFunc is the body of an admitted session. It must push its events to q.
type RunFunc func(ctx context.Context, q *Queue)

// Gate is a non-blocking counting semaphore for sessions.
type Gate struct {
	sem     *semaphore.Weighted
	metrics *metrics.Metrics
	wg      sync.WaitGroup
}

// Option configures a Gate.
type Option func(*Gate)

// WithMetrics records admissions on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gate) { g.metrics = m }
}

// New returns a gate admitting up to capacity sessions at once. A capacity
// below one is treated as one.
func New(capacity int64, opts ...Option) *Gate {
	if capacity < 1 {
		capacity = 1
	}
	g := &Gate{sem: semaphore.NewWeighted(capacity)}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Admit starts run in its own goroutine if a permit is free and returns the
// session's event queue. It never waits: without a free permit it returns
// ErrBusy. The session does not observe cancellation of ctx.
//
// The permit is released before the queue is closed, so a consumer that
// has seen the end of the stream can be admitted again right away.
func (g *Gate) Admit(ctx context.Context, run RunFunc) (*Queue, error) {
	if !g.sem.TryAcquire(1) {
		g.metrics.SessionRejected()
		return nil, ErrBusy
	}
	g.metrics.SessionAdmitted()

	q := NewQueue()
	runCtx := context.WithoutCancel(ctx)
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer q.Close()
		defer g.sem.Release(1)
		defer g.metrics.SessionFinished()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Session panicked", "panic", r)
				q.Emit(domain.Event{Type: domain.EventError, Message: "internal error"})
			}
		}()
		run(runCtx, q)
	}()
	return q, nil
}

// Wait blocks until every admitted session has finished.
func (g *Gate) Wait() {
	g.wg.Wait()
}

// Package eventloop serializes every state mutation of a peer onto a single
// goroutine.
//
// Transport callbacks, signaling reads, timers and the simulation tick all
// post closures onto a Loop; the closures run one at a time, in the order
// they were posted, so handlers never interleave writes to shared state.
package eventloop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrStopped is returned by Run when the loop was stopped with Stop.
var ErrStopped = errors.New("eventloop: stopped")

// Scheduler is the subset of Loop that components depend on. Tests use
// Manual instead of a running Loop.
type Scheduler interface {
	Now() time.Time
	// AfterFunc runs fn on the scheduler's goroutine after d. The returned
	// Timer cancels the call; a stopped timer's fn never runs.
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is a cancellable handle for a scheduled callback.
type Timer interface {
	// Stop prevents the callback from running. It reports whether the call
	// was still pending.
	Stop() bool
}

// Loop is a single-consumer task queue.
type Loop struct {
	tasks chan func()
	done  chan struct{}

	stopOnce sync.Once
}

// New returns a Loop whose queue holds up to backlog pending tasks.
func New(backlog int) *Loop {
	if backlog <= 0 {
		backlog = 256
	}
	return &Loop{
		tasks: make(chan func(), backlog),
		done:  make(chan struct{}),
	}
}

// Post enqueues fn. It blocks only while the queue is full and returns false
// once the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.tasks <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Run executes posted tasks until ctx is cancelled or Stop is called.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			l.Stop()
			return ctx.Err()
		case <-l.done:
			return ErrStopped
		case fn := <-l.tasks:
			fn()
		}
	}
}

// Stop makes Run return. Tasks still queued are discarded.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.done) })
}

// Done is closed once the loop has stopped.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) Now() time.Time {
	return time.Now()
}

func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	t := &loopTimer{}
	t.t = time.AfterFunc(d, func() {
		l.Post(func() {
			// Stop may have raced with the runtime timer firing; the flag is
			// checked again on the loop.
			if t.stopped.Load() {
				return
			}
			t.fired.Store(true)
			fn()
		})
	})
	return t
}

type loopTimer struct {
	t       *time.Timer
	stopped atomic.Bool
	fired   atomic.Bool
}

func (t *loopTimer) Stop() bool {
	if t.fired.Load() {
		return false
	}
	wasPending := !t.stopped.Swap(true)
	t.t.Stop()
	return wasPending
}

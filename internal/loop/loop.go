// Package loop runs every core handler on a single goroutine.
//
// Timers post their callbacks onto the loop and external callers use Do, so
// state owned by the loop is never touched concurrently.
package loop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ErrStopped is returned by Do once the loop has exited
var ErrStopped = errors.New("loop stopped")

// Handle cancels a timer. Stop is idempotent.
type Handle interface {
	Stop()
}

// Timers creates timers whose callbacks run on the loop
type Timers interface {
	Now() time.Time
	Every(d time.Duration, fn func()) Handle
	After(d time.Duration, fn func()) Handle
}

// Runner is Timers plus the ability to run a command on the loop and wait
type Runner interface {
	Timers
	Do(ctx context.Context, fn func()) error
}

// Loop is a single goroutine draining a task queue
type Loop struct {
	tasks  chan func()
	done   chan struct{}
	once   sync.Once
	logger zerolog.Logger
}

// New creates a loop with the given queue capacity
func New(queueSize int, logger zerolog.Logger) *Loop {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Loop{
		tasks:  make(chan func(), queueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Run drains the queue until ctx is cancelled
func (l *Loop) Run(ctx context.Context) {
	defer l.once.Do(func() { close(l.done) })

	l.logger.Debug().Msg("Loop started")
	for {
		select {
		case <-ctx.Done():
			l.logger.Debug().Msg("Loop stopped")
			return
		case fn := <-l.tasks:
			l.run(fn)
		}
	}
}

func (l *Loop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error().Interface("panic", r).Msg("Loop task panicked")
		}
	}()
	fn()
}

// Done is closed when Run returns
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Post enqueues fn without waiting for it to run.
// It returns false if the loop has exited.
func (l *Loop) Post(fn func()) bool {
	select {
	case l.tasks <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Task states used by Do to decide between running and abandoning
const (
	taskQueued int32 = iota
	taskRunning
	taskAbandoned
)

// Do runs fn on the loop and waits for it to finish. A nil error means fn
// ran; an error means it never will. Cancelling ctx abandons a task that is
// still queued, but once fn has started Do waits for it.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var state atomic.Int32
	finished := make(chan struct{})
	task := func() {
		defer close(finished)
		if state.CompareAndSwap(taskQueued, taskRunning) {
			fn()
		}
	}

	select {
	case l.tasks <- task:
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-l.done:
		// The task may have been queued behind the shutdown
		if state.CompareAndSwap(taskQueued, taskAbandoned) {
			return ErrStopped
		}
		<-finished
		return nil
	case <-ctx.Done():
		if state.CompareAndSwap(taskQueued, taskAbandoned) {
			return ctx.Err()
		}
		<-finished
		return nil
	}
}

// Now returns the wall clock
func (l *Loop) Now() time.Time {
	return time.Now()
}

// Every posts fn to the loop every d until the handle is stopped
func (l *Loop) Every(d time.Duration, fn func()) Handle {
	t := newTimer()
	ticker := time.NewTicker(d)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if !l.Post(t.guard(fn)) {
					return
				}
			case <-t.quit:
				return
			case <-l.done:
				return
			}
		}
	}()
	return t
}

// After posts fn to the loop once after d unless the handle is stopped first
func (l *Loop) After(d time.Duration, fn func()) Handle {
	t := newTimer()
	timer := time.NewTimer(d)
	go func() {
		defer timer.Stop()
		select {
		case <-timer.C:
			l.Post(t.guard(fn))
		case <-t.quit:
		case <-l.done:
		}
	}()
	return t
}

// timer backs the handles returned by Every and After
type timer struct {
	stopped atomic.Bool
	quit    chan struct{}
	once    sync.Once
}

func newTimer() *timer {
	return &timer{quit: make(chan struct{})}
}

// guard drops a callback that was queued before Stop ran
func (t *timer) guard(fn func()) func() {
	return func() {
		if !t.stopped.Load() {
			fn()
		}
	}
}

func (t *timer) Stop() {
	t.once.Do(func() {
		t.stopped.Store(true)
		close(t.quit)
	})
}

// Package testutil provides fakes shared by package tests.
package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/afroash/greenhouse-monitor/internal/loop"
)

// Clock is a manual clock implementing loop.Runner.
// Timers fire only from Advance, on the calling goroutine.
type Clock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
	seq    int
}

var _ loop.Runner = (*Clock)(nil)

type fakeTimer struct {
	at      time.Time
	period  time.Duration
	fn      func()
	stopped bool
	seq     int
	clock   *Clock
}

func (t *fakeTimer) Stop() {
	t.clock.mu.Lock()
	t.stopped = true
	t.clock.mu.Unlock()
}

// NewClock returns a clock set to now
func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

// Now returns the current fake time
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t without firing any timers
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *Clock) add(d, period time.Duration, fn func()) loop.Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &fakeTimer{at: c.now.Add(d), period: period, fn: fn, seq: c.seq, clock: c}
	c.timers = append(c.timers, t)
	return t
}

// Every registers a periodic timer
func (c *Clock) Every(d time.Duration, fn func()) loop.Handle {
	return c.add(d, d, fn)
}

// After registers a one-shot timer
func (c *Clock) After(d time.Duration, fn func()) loop.Handle {
	return c.add(d, 0, fn)
}

// Do runs fn inline
func (c *Clock) Do(ctx context.Context, fn func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fn()
	return nil
}

// Advance moves the clock forward by d, firing due timers in time order
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		t := c.nextDue(target)
		if t == nil {
			break
		}
		t.fn()
	}

	c.mu.Lock()
	c.now = target
	c.mu.Unlock()
}

// nextDue pops the earliest live timer due at or before target
func (c *Clock) nextDue(target time.Time) *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()

	live := c.timers[:0]
	for _, t := range c.timers {
		if !t.stopped {
			live = append(live, t)
		}
	}
	c.timers = live

	sort.SliceStable(c.timers, func(i, j int) bool {
		if c.timers[i].at.Equal(c.timers[j].at) {
			return c.timers[i].seq < c.timers[j].seq
		}
		return c.timers[i].at.Before(c.timers[j].at)
	})

	if len(c.timers) == 0 || c.timers[0].at.After(target) {
		return nil
	}

	t := c.timers[0]
	c.now = t.at
	if t.period > 0 {
		t.at = t.at.Add(t.period)
	} else {
		t.stopped = true
	}
	return t
}

// Pending returns the number of live timers
func (c *Clock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

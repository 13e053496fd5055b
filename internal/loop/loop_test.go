package loop

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func startLoop(t *testing.T) (*Loop, func()) {
	t.Helper()
	l := New(16, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	return l, func() {
		cancel()
		<-l.Done()
	}
}

func TestLoop_DoRunsInOrder(t *testing.T) {
	l, cleanup := startLoop(t)
	defer cleanup()

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		l.Post(func() { order = append(order, i) })
	}

	var got []int
	if err := l.Do(context.Background(), func() { got = append(got, order...) }); err != nil {
		t.Fatalf("Do failed: %v", err)
	}

	if len(got) != 5 {
		t.Fatalf("len(order) = %d, want 5", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Errorf("order[%d] = %d, want %d", i, v, i)
		}
	}
}

func TestLoop_DoAfterStop(t *testing.T) {
	l, cleanup := startLoop(t)
	cleanup()

	err := l.Do(context.Background(), func() {})
	if !errors.Is(err, ErrStopped) {
		t.Errorf("Do() error = %v, want ErrStopped", err)
	}
}

func TestLoop_DoContextCancelled(t *testing.T) {
	l := New(1, zerolog.Nop()) // never started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := l.Do(ctx, func() {})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Do() error = %v, want DeadlineExceeded", err)
	}
}

func TestLoop_Every(t *testing.T) {
	l, cleanup := startLoop(t)
	defer cleanup()

	var count atomic.Int32
	h := l.Every(5*time.Millisecond, func() { count.Add(1) })

	time.Sleep(60 * time.Millisecond)
	h.Stop()
	h.Stop() // idempotent

	// Flush anything queued before the stop
	l.Do(context.Background(), func() {})
	after := count.Load()
	if after == 0 {
		t.Fatal("Every never fired")
	}

	time.Sleep(30 * time.Millisecond)
	if count.Load() != after {
		t.Errorf("ticker fired after Stop: %d -> %d", after, count.Load())
	}
}

func TestLoop_AfterStopped(t *testing.T) {
	l, cleanup := startLoop(t)
	defer cleanup()

	var fired atomic.Bool
	h := l.After(20*time.Millisecond, func() { fired.Store(true) })
	h.Stop()

	time.Sleep(50 * time.Millisecond)
	if fired.Load() {
		t.Error("After fired despite Stop")
	}
}

func TestLoop_RecoversPanic(t *testing.T) {
	l, cleanup := startLoop(t)
	defer cleanup()

	l.Post(func() { panic("boom") })

	ran := false
	if err := l.Do(context.Background(), func() { ran = true }); err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if !ran {
		t.Error("loop should keep running after a panic")
	}
}

func TestLoop_DoCancelledWhileQueued(t *testing.T) {
	l, cleanup := startLoop(t)
	defer cleanup()

	release := make(chan struct{})
	l.Post(func() { <-release })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	var ran atomic.Bool
	err := l.Do(ctx, func() { ran.Store(true) })
	close(release)

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Do() error = %v, want DeadlineExceeded", err)
	}
	// Drain the queue so the abandoned task has had its turn
	if err := l.Do(context.Background(), func() {}); err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if ran.Load() {
		t.Error("an abandoned task must not run")
	}
}

func TestLoop_DoCancelledWhileRunning(t *testing.T) {
	l, cleanup := startLoop(t)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	var ran atomic.Bool
	err := l.Do(ctx, func() {
		cancel()
		time.Sleep(10 * time.Millisecond)
		ran.Store(true)
	})

	if err != nil {
		t.Errorf("Do() error = %v, want nil once the task has started", err)
	}
	if !ran.Load() {
		t.Error("Do returned before the running task finished")
	}
}

package timer

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestTimerTicksAndExpires(t *testing.T) {
	tm := New(3, time.Millisecond)

	var mu sync.Mutex
	var ticks []int
	expired := make(chan struct{})

	tm.Start(func(elapsed int) {
		mu.Lock()
		ticks = append(ticks, elapsed)
		mu.Unlock()
	}, func() {
		close(expired)
	})

	select {
	case <-expired:
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not expire")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(ticks) != 3 {
		t.Fatalf("expected 3 ticks, got %d: %v", len(ticks), ticks)
	}
	for i, e := range ticks {
		if e != i+1 {
			t.Errorf("tick %d: expected elapsed %d, got %d", i, i+1, e)
		}
	}
}

func TestTimerExpiresExactlyOnce(t *testing.T) {
	tm := New(1, time.Millisecond)

	var expiries int32
	tm.Start(nil, func() {
		atomic.AddInt32(&expiries, 1)
	})

	time.Sleep(50 * time.Millisecond)

	if n := atomic.LoadInt32(&expiries); n != 1 {
		t.Fatalf("expected exactly 1 expiry, got %d", n)
	}
	if tm.IsRunning() {
		t.Error("timer should not be running after expiry")
	}
}

func TestTimerStopPreventsExpiry(t *testing.T) {
	tm := New(5, 10*time.Millisecond)

	var expiries int32
	tm.Start(nil, func() {
		atomic.AddInt32(&expiries, 1)
	})

	tm.Stop()
	time.Sleep(100 * time.Millisecond)

	if n := atomic.LoadInt32(&expiries); n != 0 {
		t.Fatalf("expected no expiry after stop, got %d", n)
	}
}

func TestTimerStopIsIdempotent(t *testing.T) {
	tm := New(5, time.Millisecond)

	// Never started
	tm.Stop()
	tm.Stop()

	tm.Start(nil, nil)
	tm.Stop()
	tm.Stop()

	if tm.IsRunning() {
		t.Error("timer should not be running after stop")
	}
}

func TestTimerRestart(t *testing.T) {
	tm := New(2, time.Millisecond)

	first := make(chan struct{})
	tm.Start(nil, func() { close(first) })
	<-first

	second := make(chan struct{})
	tm.Start(nil, func() { close(second) })

	select {
	case <-second:
	case <-time.After(2 * time.Second):
		t.Fatal("restarted timer did not expire")
	}
}

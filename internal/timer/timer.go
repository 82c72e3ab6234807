// Package timer counts elapsed whole seconds for a recording session and
// signals expiry once a configured limit is reached.
package timer

import (
	"sync"
	"time"
)

// Timer invokes a tick callback at every interval with the new elapsed
// count and an expiry callback exactly once when the count reaches the
// limit. It does not stop anything itself; the caller decides what
// expiry means.
type Timer struct {
	limit    int
	interval time.Duration

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// New creates a timer that expires after limit ticks. The production
// interval is one second; tests inject something shorter.
func New(limit int, interval time.Duration) *Timer {
	if interval <= 0 {
		interval = time.Second
	}
	return &Timer{limit: limit, interval: interval}
}

// Start begins counting from zero. onTick receives each new elapsed
// value; onExpire fires at most once, after the tick that reaches the
// limit. Starting an already running timer restarts it.
func (t *Timer) Start(onTick func(elapsed int), onExpire func()) {
	t.Stop()

	t.mu.Lock()
	t.running = true
	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	stop, done := t.stop, t.done
	t.mu.Unlock()

	go func() {
		defer close(done)

		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()

		elapsed := 0
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				elapsed++
				if onTick != nil {
					onTick(elapsed)
				}
				if elapsed >= t.limit {
					if onExpire != nil {
						onExpire()
					}
					t.markStopped(stop)
					return
				}
			}
		}
	}()
}

// Stop halts counting. It is idempotent and safe to call when the timer
// was never started. It does not wait for an in-flight callback.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return
	}
	t.running = false
	close(t.stop)
}

// markStopped records that the run identified by stop ended on its own.
// A Stop that raced us wins; the lock serializes the two.
func (t *Timer) markStopped(stop chan struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running && t.stop == stop {
		t.running = false
		close(stop)
	}
}

// IsRunning reports whether the timer is currently counting
func (t *Timer) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

package util

import (
	"sync"
	"time"
)

// IdleTimer fires once its window elapses without a call to Touch.
// It is safe for concurrent use.
//
//	idle := NewIdleTimer(time.Second)
//	defer idle.Stop()
//
//	for {
//	    select {
//	    case frame := <-frames:
//	        idle.Touch()
//	        handle(frame)
//	    case <-idle.C():
//	        return // no input for a full window
//	    }
//	}
type IdleTimer struct {
	window  time.Duration
	timer   *time.Timer
	mu      sync.Mutex
	last    time.Time
	stopped bool
}

// NewIdleTimer starts a timer that expires after window of inactivity.
func NewIdleTimer(window time.Duration) *IdleTimer {
	return &IdleTimer{
		window: window,
		timer:  time.NewTimer(window),
		last:   time.Now(),
	}
}

// Touch records activity and pushes expiry a full window into the future.
// Touch after Stop is a no-op.
func (t *IdleTimer) Touch() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return
	}

	if !t.timer.Stop() {
		select {
		case <-t.timer.C:
		default:
		}
	}
	t.timer.Reset(t.window)
	t.last = time.Now()
}

// C delivers a value when the window elapses.
func (t *IdleTimer) C() <-chan time.Time {
	return t.timer.C
}

// Window returns the configured inactivity window.
func (t *IdleTimer) Window() time.Duration {
	return t.window
}

// IdleFor reports how long it has been since the last Touch.
func (t *IdleTimer) IdleFor() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	return time.Since(t.last)
}

// Stop disarms the timer. It is safe to call Stop multiple times.
func (t *IdleTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.stopped {
		t.timer.Stop()
		t.stopped = true
	}
}

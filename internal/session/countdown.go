package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

const DefaultWindow = 30 * time.Minute

// Countdown tracks the payment window against an absolute expiry. While
// active it ticks once a second; the tick that finds no time left
// deactivates it and calls onExpire once.
type Countdown struct {
	clock    clock.Clock
	window   time.Duration
	onExpire func()

	// tickMu serializes Tick so a caller never observes an expiry whose
	// callback is still running.
	tickMu sync.Mutex

	mu     sync.Mutex
	expiry time.Time
	active bool
	fired  bool
	stop   chan struct{}
}

func NewCountdown(c clock.Clock, window time.Duration, onExpire func()) *Countdown {
	if c == nil {
		c = clock.New()
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Countdown{clock: c, window: window, onExpire: onExpire}
}

// Start arms a fresh window and returns its expiry.
func (t *Countdown) Start() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.expiry = t.clock.Now().Add(t.window)
	t.active = true
	t.fired = false
	t.startLoopLocked()
	return t.expiry
}

// Extend re-arms the window after it ran out.
func (t *Countdown) Extend() time.Time {
	return t.Start()
}

// Restore picks up a persisted window. Callers should Tick afterwards so a
// window that ran out while nobody was watching expires right away.
func (t *Countdown) Restore(expiry time.Time, active bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.expiry = expiry
	t.active = active && !expiry.IsZero()
	t.fired = !t.active
	t.stopLoopLocked()
	if t.active {
		t.startLoopLocked()
	}
}

// Tick evaluates the window and reports whether this call expired it.
func (t *Countdown) Tick() bool {
	t.tickMu.Lock()
	defer t.tickMu.Unlock()

	t.mu.Lock()
	if !t.active || t.clock.Now().Before(t.expiry) {
		t.mu.Unlock()
		return false
	}
	t.active = false
	t.stopLoopLocked()
	first := !t.fired
	t.fired = true
	cb := t.onExpire
	t.mu.Unlock()

	if first && cb != nil {
		cb()
	}
	return first
}

// Stop halts the tick loop but keeps the window.
func (t *Countdown) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLoopLocked()
}

// Reset halts the loop and forgets the window.
func (t *Countdown) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLoopLocked()
	t.expiry = time.Time{}
	t.active = false
	t.fired = false
}

func (t *Countdown) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

func (t *Countdown) Expiry() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.expiry
}

func (t *Countdown) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remainingLocked()
}

func (t *Countdown) remainingLocked() time.Duration {
	if t.expiry.IsZero() {
		return 0
	}
	if d := t.expiry.Sub(t.clock.Now()); d > 0 {
		return d
	}
	return 0
}

// Label renders the remaining time as MM:SS.
func (t *Countdown) Label() string {
	secs := int(t.Remaining() / time.Second)
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}

func (t *Countdown) startLoopLocked() {
	t.stopLoopLocked()
	stop := make(chan struct{})
	t.stop = stop
	ticker := t.clock.Ticker(time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				select {
				case <-stop:
					return
				default:
				}
				t.Tick()
			}
		}
	}()
}

func (t *Countdown) stopLoopLocked() {
	if t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
}

package breaker

import (
	"sync"
	"time"
)

// Watchdog is a kicked timer. Start arms it, Kick reschedules it; if it
// is not kicked within the timeout it fires the callback and records a
// timeout event. The callback must not act on shared state directly; it
// should post a command to the state store.
type Watchdog struct {
	mu sync.Mutex

	timeout   time.Duration
	timer     *time.Timer
	running   bool
	lastKick  time.Time
	timeouts  int
	onTimeout func()
}

// NewWatchdog creates a watchdog firing fn after timeout without kicks.
func NewWatchdog(timeout time.Duration, fn func()) *Watchdog {
	return &Watchdog{timeout: timeout, onTimeout: fn}
}

// Start arms the watchdog. Starting a running watchdog reschedules it.
func (w *Watchdog) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.running = true
	w.lastKick = time.Now()
	w.timer = time.AfterFunc(w.timeout, w.fire)
}

// Kick reschedules the timer. Kicking a stopped watchdog is a no-op.
func (w *Watchdog) Kick() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	w.lastKick = time.Now()
	w.timer.Stop()
	w.timer = time.AfterFunc(w.timeout, w.fire)
}

// Stop disarms the watchdog.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.running = false
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

func (w *Watchdog) fire() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.timeouts++
	fn := w.onTimeout
	// Stays armed so repeated silence keeps firing.
	w.timer = time.AfterFunc(w.timeout, w.fire)
	w.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// Running reports whether the watchdog is armed.
func (w *Watchdog) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// LastKick returns the time of the last Start or Kick.
func (w *Watchdog) LastKick() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastKick
}

// Timeouts returns how many times the watchdog has fired.
func (w *Watchdog) Timeouts() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.timeouts
}

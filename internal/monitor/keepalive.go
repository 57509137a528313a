package monitor

import (
	"sync"
	"time"
)

// keepAlive holds the monitor awake for at most max. If it is not released
// in time, onExpire runs once so a call whose end was never signalled does
// not stream forever.
type keepAlive struct {
	onExpire func()

	mu       sync.Mutex
	timer    *time.Timer
	released bool
}

func newKeepAlive(onExpire func()) *keepAlive {
	return &keepAlive{onExpire: onExpire}
}

func acquireKeepAlive(max time.Duration, onExpire func()) *keepAlive {
	k := newKeepAlive(onExpire)
	k.arm(max)
	return k
}

// arm starts the ceiling timer. It is separate from construction so the
// owner can publish k before the timer can fire.
func (k *keepAlive) arm(max time.Duration) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.released || k.timer != nil {
		return
	}
	k.timer = time.AfterFunc(max, k.expire)
}

func (k *keepAlive) expire() {
	k.mu.Lock()
	if k.released {
		k.mu.Unlock()
		return
	}
	k.released = true
	k.mu.Unlock()
	k.onExpire()
}

// Release stops the ceiling timer. It reports whether the hold was still
// active.
func (k *keepAlive) Release() bool {
	if k == nil {
		return false
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.released {
		return false
	}
	k.released = true
	if k.timer != nil {
		k.timer.Stop()
	}
	return true
}

// Active reports whether the hold is still armed.
func (k *keepAlive) Active() bool {
	if k == nil {
		return false
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	return !k.released
}

package ticker

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle bounds how often push updates are applied per (topic, accountID)
// key. An update arriving before the window has elapsed since the last
// accepted one is dropped; the next accepted push or the next reconciliation
// catches the cache up.
type Throttle struct {
	mu       sync.Mutex
	window   time.Duration
	limiters map[string]*rate.Limiter
}

// NewThrottle creates a throttle with the given fixed window.
func NewThrottle(window time.Duration) *Throttle {
	return &Throttle{
		window:   window,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether an update for (topic, accountID) may be applied now.
func (t *Throttle) Allow(topic, accountID string) bool {
	if t.window <= 0 {
		return true
	}
	key := topic + "|" + accountID

	t.mu.Lock()
	lim, ok := t.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(t.window), 1)
		t.limiters[key] = lim
	}
	t.mu.Unlock()

	return lim.Allow()
}

// Forget drops the limiter state for every key belonging to accountID.
func (t *Throttle) Forget(accountID string) {
	suffix := "|" + accountID
	t.mu.Lock()
	defer t.mu.Unlock()
	for key := range t.limiters {
		if len(key) >= len(suffix) && key[len(key)-len(suffix):] == suffix {
			delete(t.limiters, key)
		}
	}
}

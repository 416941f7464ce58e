package logx

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle limits how often a keyed message is emitted.
//
// Each key gets its own token bucket; a zero-value or nil Throttle allows everything.
// Keys idle for longer than the sweep window are dropped so the map stays bounded
// by the number of recently active keys.
type Throttle struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*throttleEntry
	lastGC   time.Time
}

type throttleEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

const throttleSweepEvery = time.Minute

// NewThrottle allows perSec events per key with the given burst.
// perSec <= 0 disables throttling.
func NewThrottle(perSec float64, burst int) *Throttle {
	if burst <= 0 {
		burst = 1
	}
	return &Throttle{
		limit:    rate.Limit(perSec),
		burst:    burst,
		limiters: map[string]*throttleEntry{},
	}
}

// Allow reports whether an event for key may be emitted now.
func (t *Throttle) Allow(key string) bool {
	if t == nil || t.limit <= 0 {
		return true
	}
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if now.Sub(t.lastGC) >= throttleSweepEvery {
		for k, e := range t.limiters {
			if now.Sub(e.seen) >= throttleSweepEvery {
				delete(t.limiters, k)
			}
		}
		t.lastGC = now
	}

	e := t.limiters[key]
	if e == nil {
		e = &throttleEntry{lim: rate.NewLimiter(t.limit, t.burst)}
		t.limiters[key] = e
	}
	e.seen = now
	return e.lim.AllowN(now, 1)
}

// SetLimit updates the rate for all current and future keys.
func (t *Throttle) SetLimit(perSec float64) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.limit = rate.Limit(perSec)
	for _, e := range t.limiters {
		e.lim.SetLimit(t.limit)
	}
	t.mu.Unlock()
}

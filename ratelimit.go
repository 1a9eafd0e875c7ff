package main

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// newCommandLimiter builds a per-connection limiter allowing short
// bursts over the steady rate.
func newCommandLimiter(perSecond int) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(perSecond), perSecond*2)
}

// connRateTracker limits how fast one IP may open connections. Safe
// for use from the accept goroutines and the event loop.
type connRateTracker struct {
	mu        sync.Mutex
	perMinute int
	limiters  map[string]*rate.Limiter
	lastSeen  map[string]time.Time
}

func newConnRateTracker(perMinute int) *connRateTracker {
	return &connRateTracker{
		perMinute: perMinute,
		limiters:  make(map[string]*rate.Limiter),
		lastSeen:  make(map[string]time.Time),
	}
}

func (t *connRateTracker) allow(ip string) bool {
	if t.perMinute <= 0 {
		return true
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	limiter, exists := t.limiters[ip]
	if !exists {
		limiter = rate.NewLimiter(
			rate.Every(time.Minute/time.Duration(t.perMinute)), t.perMinute)
		t.limiters[ip] = limiter
	}
	t.lastSeen[ip] = time.Now()

	return limiter.Allow()
}

// sweep drops limiters for IPs we haven't seen in a while.
func (t *connRateTracker) sweep(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for ip, seen := range t.lastSeen {
		if now.Sub(seen) > 10*time.Minute {
			delete(t.limiters, ip)
			delete(t.lastSeen, ip)
		}
	}
}

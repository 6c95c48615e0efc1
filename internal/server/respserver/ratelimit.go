package respserver

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiterTTL is how long an idle per-IP limiter survives before the
// cleanup pass drops it.
const limiterTTL = 10 * time.Minute

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// ipLimiter applies a token bucket per client IP.
type ipLimiter struct {
	mu          sync.Mutex
	perSecond   int
	entries     map[string]*limiterEntry
	lastCleanup time.Time
}

func newIPLimiter(perSecond int) *ipLimiter {
	return &ipLimiter{
		perSecond:   perSecond,
		entries:     make(map[string]*limiterEntry),
		lastCleanup: time.Now(),
	}
}

func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Sub(l.lastCleanup) > limiterTTL {
		for k, e := range l.entries {
			if now.Sub(e.lastSeen) > limiterTTL {
				delete(l.entries, k)
			}
		}
		l.lastCleanup = now
	}

	e, ok := l.entries[ip]
	if !ok {
		e = &limiterEntry{
			lim: rate.NewLimiter(rate.Limit(l.perSecond), l.perSecond),
		}
		l.entries[ip] = e
	}
	e.lastSeen = now
	return e.lim.Allow()
}

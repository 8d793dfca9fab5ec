package auth

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiterEntry is the token bucket of one client key.
type limiterEntry struct {
	l        *rate.Limiter
	lastSeen time.Time
}

// limiterPool hands out one limiter per client key and forgets keys that
// have been idle longer than ttl.
type limiterPool struct {
	mu            sync.Mutex
	m             map[string]*limiterEntry
	limit         rate.Limit
	burst         int
	ttl           time.Duration
	cleanupPeriod time.Duration
	now           func() time.Time
	startCleanup  sync.Once
	stopOnce      sync.Once
	stopCh        chan struct{}
}

func newLimiterPool(perSecond float64, burst int) *limiterPool {
	if burst <= 0 {
		burst = 1
	}
	return &limiterPool{
		m:             make(map[string]*limiterEntry),
		limit:         rate.Limit(perSecond),
		burst:         burst,
		ttl:           10 * time.Minute,
		cleanupPeriod: time.Minute,
		now:           time.Now,
		stopCh:        make(chan struct{}),
	}
}

func (p *limiterPool) get(key string) *rate.Limiter {
	p.startCleanup.Do(func() { go p.cleanupLoop() })

	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.m[key]; ok {
		e.lastSeen = p.now()
		return e.l
	}
	l := rate.NewLimiter(p.limit, p.burst)
	p.m[key] = &limiterEntry{l: l, lastSeen: p.now()}
	return l
}

// Allow reports whether another attempt from key may proceed now.
func (p *limiterPool) Allow(key string) bool {
	return p.get(key).AllowN(p.now(), 1)
}

// sweep removes limiters unused for longer than ttl.
func (p *limiterPool) sweep() int {
	cutoff := p.now().Add(-p.ttl)
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for k, e := range p.m {
		if e.lastSeen.Before(cutoff) {
			delete(p.m, k)
			n++
		}
	}
	return n
}

func (p *limiterPool) cleanupLoop() {
	ticker := time.NewTicker(p.cleanupPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.sweep()
		case <-p.stopCh:
			return
		}
	}
}

// Shutdown stops the cleanup goroutine.
func (p *limiterPool) Shutdown() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const defaultIdleTTL = 10 * time.Minute

// entry is a refilling bucket, or a fixed budget when the refill rate is zero.
type entry struct {
	lim      *rate.Limiter
	budget   int
	lastSeen time.Time
}

// Limiter is a set of token buckets keyed by caller (client IP, upstream host).
// Buckets are created lazily with the capacity and refill of the first call for the key,
// and dropped once they have been idle for the idle TTL and are full again.
type Limiter struct {
	mu        sync.Mutex
	m         map[string]*entry
	now       func() time.Time
	idleTTL   time.Duration
	lastSweep time.Time
}

type Option func(*Limiter)

// WithClock injects the time source, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithIdleTTL sets how long an untouched key is kept.
func WithIdleTTL(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.idleTTL = d
		}
	}
}

func New(opts ...Option) *Limiter {
	l := &Limiter{m: make(map[string]*entry), now: time.Now, idleTTL: defaultIdleTTL}
	for _, o := range opts {
		o(l)
	}
	l.lastSweep = l.now()
	return l
}

// Allow returns true if one token can be consumed for key.
func (l *Limiter) Allow(key string, capacity, refillPerSec float64) bool {
	ok, _ := l.Reserve(key, capacity, refillPerSec)
	return ok
}

// Reserve consumes a token when available; otherwise it reports how long until one is.
// The wait is zero when the bucket never refills (zero refill rate).
func (l *Limiter) Reserve(key string, capacity, refillPerSec float64) (bool, time.Duration) {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweep(now)
	e, ok := l.m[key]
	if !ok {
		e = &entry{budget: int(math.Floor(capacity))}
		if refillPerSec > 0 {
			e.lim = rate.NewLimiter(rate.Limit(refillPerSec), e.budget)
		}
		l.m[key] = e
	}
	e.lastSeen = now

	if e.lim == nil {
		if e.budget <= 0 {
			return false, 0
		}
		e.budget--
		return true, 0
	}

	r := e.lim.ReserveN(now, 1)
	if !r.OK() {
		return false, 0
	}
	wait := r.DelayFrom(now)
	if wait == 0 {
		return true, 0
	}
	r.CancelAt(now)
	return false, wait
}

// Len reports how many keys are tracked.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}

// sweep runs at most twice per idle TTL. A bucket that is idle but not yet full is kept so
// dropping it cannot hand a throttled caller fresh tokens; buckets that never refill are
// never full again and are kept for the same reason. Caller holds mu.
func (l *Limiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.idleTTL/2 {
		return
	}
	l.lastSweep = now
	for k, e := range l.m {
		if now.Sub(e.lastSeen) < l.idleTTL {
			continue
		}
		if e.lim != nil && e.lim.TokensAt(now) >= float64(e.lim.Burst()) {
			delete(l.m, k)
		}
	}
}

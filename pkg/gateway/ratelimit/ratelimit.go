// Package ratelimit holds in-memory, single-process limits: a token bucket
// per client address for HTTP requests and a concurrent live session cap per
// user.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

type Config struct {
	RPS   float64
	Burst int

	MaxSessionsPerUser int

	// Bounds for the bucket map.
	MaxEntries int
	EntryTTL   time.Duration
}

type Limiter struct {
	cfg Config

	mu       sync.Mutex
	buckets  map[string]*tokenBucket
	sessions map[string]int
}

type tokenBucket struct {
	tokens float64
	last   time.Time
}

type Decision struct {
	Allowed    bool
	RetryAfter int // seconds
	// Permit is set for allowed session acquisitions.
	Permit *Permit
}

// Permit returns a session slot. Release is idempotent and nil-safe.
type Permit struct {
	once    sync.Once
	release func()
}

func (p *Permit) Release() {
	if p == nil || p.release == nil {
		return
	}
	p.once.Do(p.release)
}

func New(cfg Config) *Limiter {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10_000
	}
	if cfg.EntryTTL <= 0 {
		cfg.EntryTTL = 30 * time.Minute
	}
	return &Limiter{
		cfg:      cfg,
		buckets:  make(map[string]*tokenBucket),
		sessions: make(map[string]int),
	}
}

// AcquireRequest takes one token from key's bucket. A zero RPS or burst
// disables the limit.
func (l *Limiter) AcquireRequest(key string, now time.Time) Decision {
	if l.cfg.RPS <= 0 || l.cfg.Burst <= 0 {
		return Decision{Allowed: true}
	}
	if key == "" {
		key = "anonymous"
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) >= l.cfg.MaxEntries {
			l.evictLocked(now)
		}
		b = &tokenBucket{tokens: float64(l.cfg.Burst), last: now}
		l.buckets[key] = b
	}

	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens = math.Min(float64(l.cfg.Burst), b.tokens+elapsed*l.cfg.RPS)
		b.last = now
	}
	if b.tokens >= 1 {
		b.tokens--
		return Decision{Allowed: true}
	}
	retryAfter := int(math.Ceil((1 - b.tokens) / l.cfg.RPS))
	return Decision{Allowed: false, RetryAfter: max(1, retryAfter)}
}

// AcquireSession reserves one live session slot for userID. A zero cap
// disables the limit.
func (l *Limiter) AcquireSession(userID string, _ time.Time) Decision {
	if l.cfg.MaxSessionsPerUser <= 0 {
		return Decision{Allowed: true, Permit: &Permit{}}
	}
	if userID == "" {
		userID = "anonymous"
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sessions[userID] >= l.cfg.MaxSessionsPerUser {
		return Decision{Allowed: false, RetryAfter: 1}
	}
	l.sessions[userID]++
	return Decision{Allowed: true, Permit: &Permit{release: func() { l.releaseSession(userID) }}}
}

// ActiveSessions reports the slots userID currently holds.
func (l *Limiter) ActiveSessions(userID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sessions[userID]
}

func (l *Limiter) releaseSession(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n := l.sessions[userID] - 1; n > 0 {
		l.sessions[userID] = n
	} else {
		delete(l.sessions, userID)
	}
}

// evictLocked drops idle buckets, then the stalest one if the map is still
// full.
func (l *Limiter) evictLocked(now time.Time) {
	var oldestKey string
	var oldest time.Time
	for k, b := range l.buckets {
		if now.Sub(b.last) > l.cfg.EntryTTL {
			delete(l.buckets, k)
			continue
		}
		if oldestKey == "" || b.last.Before(oldest) {
			oldestKey, oldest = k, b.last
		}
	}
	if len(l.buckets) >= l.cfg.MaxEntries && oldestKey != "" {
		delete(l.buckets, oldestKey)
	}
}

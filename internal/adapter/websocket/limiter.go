package websocket

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

const (
	rateLimiterIdle    = 10 * time.Minute
	rateLimiterCleanup = 5 * time.Minute
)

// LimitReason describes why a connection attempt was refused. It doubles as
// the metrics label.
type LimitReason string

const (
	LimitReasonGlobal LimitReason = "global_limit"
	LimitReasonPerIP  LimitReason = "per_ip_limit"
	LimitReasonRate   LimitReason = "rate_limit"
	LimitReasonOrigin LimitReason = "origin"
)

// LimitsConfig bounds inbound connections. Zero disables the respective limit.
type LimitsConfig struct {
	MaxConnections int
	MaxPerIP       int
	RatePerSecond  float64
	Burst          int
}

// Limits gates new connections by a global cap, a per-IP cap and a per-IP
// token bucket. Safe for concurrent use.
type Limits struct {
	cfg   LimitsConfig
	clock clockwork.Clock

	active atomic.Int64

	mu        sync.Mutex
	perIP     map[string]int
	buckets   map[string]*bucket
	cleanupAt time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLimits creates connection limits.
func NewLimits(cfg LimitsConfig, clock clockwork.Clock) *Limits {
	return &Limits{
		cfg:       cfg,
		clock:     clock,
		perIP:     make(map[string]int),
		buckets:   make(map[string]*bucket),
		cleanupAt: clock.Now().Add(rateLimiterCleanup),
	}
}

// Acquire reserves a connection slot for ip. On success the caller must call Release(ip).
func (l *Limits) Acquire(ip string) (LimitReason, bool) {
	// Rate first: a refused attempt still consumes a token.
	if !l.allow(ip) {
		return LimitReasonRate, false
	}

	if !l.acquireGlobal() {
		return LimitReasonGlobal, false
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cfg.MaxPerIP > 0 && l.perIP[ip] >= l.cfg.MaxPerIP {
		l.active.Add(-1)
		return LimitReasonPerIP, false
	}
	l.perIP[ip]++
	return "", true
}

// Release frees the slot taken by a successful Acquire.
func (l *Limits) Release(ip string) {
	l.active.Add(-1)

	l.mu.Lock()
	defer l.mu.Unlock()
	if n := l.perIP[ip]; n > 1 {
		l.perIP[ip] = n - 1
	} else {
		delete(l.perIP, ip)
	}
}

// Active returns the number of held slots.
func (l *Limits) Active() int64 {
	return l.active.Load()
}

// CountFor returns the number of held slots for ip.
func (l *Limits) CountFor(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.perIP[ip]
}

func (l *Limits) acquireGlobal() bool {
	limit := int64(l.cfg.MaxConnections)
	for {
		current := l.active.Load()
		if limit > 0 && current >= limit {
			return false
		}
		if l.active.CompareAndSwap(current, current+1) {
			return true
		}
	}
}

func (l *Limits) allow(ip string) bool {
	if l.cfg.RatePerSecond <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if now.After(l.cleanupAt) {
		cutoff := now.Add(-rateLimiterIdle)
		for key, b := range l.buckets {
			if b.lastSeen.Before(cutoff) {
				delete(l.buckets, key)
			}
		}
		l.cleanupAt = now.Add(rateLimiterCleanup)
	}

	b, ok := l.buckets[ip]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(l.cfg.RatePerSecond), l.cfg.Burst)}
		l.buckets[ip] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

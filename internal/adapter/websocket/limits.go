package websocket

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

const (
	limiterCleanupInterval = 5 * time.Minute
	limiterIdleExpiry      = 10 * time.Minute
)

// LimitReason describes why a connection was refused.
type LimitReason string

const (
	LimitReasonGlobal LimitReason = "global_limit"
	LimitReasonPerIP  LimitReason = "per_ip_limit"
	LimitReasonRate   LimitReason = "rate_limit"
)

// ConnectionLimits caps concurrent connections per instance and per IP, and
// the rate of new connections per IP.
type ConnectionLimits struct {
	clock clockwork.Clock

	current   atomic.Int64
	globalMax int64

	ipMu     sync.Mutex
	perIP    map[string]int
	perIPMax int

	rateMu    sync.Mutex
	limiters  map[string]*rateLimiterEntry
	rate      rate.Limit
	burst     int
	cleanupAt time.Time
}

type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewConnectionLimits creates the limiter. A non-positive perIPMax disables the
// per-IP cap; a non-positive connectionsPerSecond disables rate limiting.
func NewConnectionLimits(clock clockwork.Clock, globalMax int64, perIPMax int, connectionsPerSecond float64, burst int) *ConnectionLimits {
	return &ConnectionLimits{
		clock:     clock,
		globalMax: globalMax,
		perIP:     make(map[string]int),
		perIPMax:  perIPMax,
		limiters:  make(map[string]*rateLimiterEntry),
		rate:      rate.Limit(connectionsPerSecond),
		burst:     burst,
		cleanupAt: clock.Now().Add(limiterCleanupInterval),
	}
}

// Acquire takes a slot for ip. On refusal nothing is held.
func (l *ConnectionLimits) Acquire(ip string) (bool, LimitReason) {
	if !l.allow(ip) {
		return false, LimitReasonRate
	}
	if !l.acquireGlobal() {
		return false, LimitReasonGlobal
	}
	if !l.acquireIP(ip) {
		l.current.Add(-1)
		return false, LimitReasonPerIP
	}
	return true, ""
}

// Release returns the slot taken by a successful Acquire.
func (l *ConnectionLimits) Release(ip string) {
	l.ipMu.Lock()
	if count := l.perIP[ip]; count > 1 {
		l.perIP[ip] = count - 1
	} else {
		delete(l.perIP, ip)
	}
	l.ipMu.Unlock()
	l.current.Add(-1)
}

// Current returns the number of held slots.
func (l *ConnectionLimits) Current() int64 {
	return l.current.Load()
}

func (l *ConnectionLimits) acquireGlobal() bool {
	for {
		current := l.current.Load()
		if current >= l.globalMax {
			return false
		}
		if l.current.CompareAndSwap(current, current+1) {
			return true
		}
	}
}

func (l *ConnectionLimits) acquireIP(ip string) bool {
	l.ipMu.Lock()
	defer l.ipMu.Unlock()

	if l.perIPMax > 0 && l.perIP[ip] >= l.perIPMax {
		return false
	}
	l.perIP[ip]++
	return true
}

func (l *ConnectionLimits) allow(ip string) bool {
	if l.rate <= 0 {
		return true
	}

	l.rateMu.Lock()
	defer l.rateMu.Unlock()

	now := l.clock.Now()
	if now.After(l.cleanupAt) {
		cutoff := now.Add(-limiterIdleExpiry)
		for key, entry := range l.limiters {
			if entry.lastSeen.Before(cutoff) {
				delete(l.limiters, key)
			}
		}
		l.cleanupAt = now.Add(limiterCleanupInterval)
	}

	entry, ok := l.limiters[ip]
	if !ok {
		entry = &rateLimiterEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[ip] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

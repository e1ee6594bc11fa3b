package hub

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// connectionAdmitter rate-limits new connection ATTEMPTS (burst of
// upgrade requests per second), distinct from admitIP's concurrent
// connection-count cap. Grounded on
// ws/internal/shared/limits/connection_rate_limiter.go's two-level
// (global + per-IP) token-bucket admission, adapted down to the
// fields the relay's Config exposes.
type connectionAdmitter struct {
	mu     sync.Mutex
	ip     map[string]*ipBucket
	ipTTL  time.Duration

	global *rate.Limiter

	ipBurst int
	ipRate  rate.Limit
}

type ipBucket struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

func newConnectionAdmitter(globalBurst int, globalRate float64, ipBurst int, ipRate float64) *connectionAdmitter {
	if globalBurst <= 0 {
		globalBurst = 300
	}
	if globalRate <= 0 {
		globalRate = 50.0
	}
	if ipBurst <= 0 {
		ipBurst = 10
	}
	if ipRate <= 0 {
		ipRate = 1.0
	}
	return &connectionAdmitter{
		ip:      make(map[string]*ipBucket),
		ipTTL:   5 * time.Minute,
		global:  rate.NewLimiter(rate.Limit(globalRate), globalBurst),
		ipBurst: ipBurst,
		ipRate:  rate.Limit(ipRate),
	}
}

// allow reports whether a new connection attempt from ip may proceed.
// Checks the global bucket first (cheap, no map lookup), then the
// per-IP bucket.
func (a *connectionAdmitter) allow(ip string) bool {
	if !a.global.Allow() {
		return false
	}
	return a.ipLimiter(ip).Allow()
}

func (a *connectionAdmitter) ipLimiter(ip string) *rate.Limiter {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.ip[ip]
	if !ok {
		b = &ipBucket{limiter: rate.NewLimiter(a.ipRate, a.ipBurst)}
		a.ip[ip] = b
	}
	b.lastAccess = time.Now()
	return b.limiter
}

// sweep evicts IP buckets idle longer than the TTL, preventing
// unbounded growth from one-shot clients.
func (a *connectionAdmitter) sweep() {
	a.mu.Lock()
	defer a.mu.Unlock()
	deadline := time.Now().Add(-a.ipTTL)
	for ip, b := range a.ip {
		if b.lastAccess.Before(deadline) {
			delete(a.ip, ip)
		}
	}
}

package companionauth

import (
	"sync"
	"time"
)

const (
	// rateLimitWindow is the sliding window over which failed PIN attempts
	// are counted per source IP.
	rateLimitWindow = 60 * time.Second
	// maxFailures is the number of failures tolerated within the window;
	// the next attempt is rejected with 429.
	maxFailures = 5
)

// RateLimiter tracks failed PIN attempts per source IP over a sliding
// window. Successful verifications do not clear prior failures, so an
// attacker cannot launder attempts by interleaving a known-good PIN.
type RateLimiter struct {
	mu       sync.Mutex
	failures map[string][]time.Time
	now      func() time.Time
}

// NewRateLimiter returns a limiter using the wall clock.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		failures: make(map[string][]time.Time),
		now:      time.Now,
	}
}

// newRateLimiterAt is the test seam: the clock is injected so window expiry
// can be exercised without sleeping.
func newRateLimiterAt(now func() time.Time) *RateLimiter {
	return &RateLimiter{
		failures: make(map[string][]time.Time),
		now:      now,
	}
}

// prune drops failures older than the window. Caller holds the lock.
func (r *RateLimiter) prune(ip string) {
	cutoff := r.now().Add(-rateLimitWindow)
	kept := r.failures[ip][:0]
	for _, t := range r.failures[ip] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		delete(r.failures, ip)
		return
	}
	r.failures[ip] = kept
}

// Blocked reports whether ip has exhausted its failure budget and must be
// rejected before the PIN is even compared.
func (r *RateLimiter) Blocked(ip string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune(ip)
	return len(r.failures[ip]) >= maxFailures
}

// RecordFailure notes one failed verification for ip.
func (r *RateLimiter) RecordFailure(ip string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune(ip)
	r.failures[ip] = append(r.failures[ip], r.now())
}

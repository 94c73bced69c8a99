package executor

import (
	"sync"
	"time"
)

// Idempotency remembers client-supplied trade keys for a TTL so a retried
// HTTP request does not submit the same trade twice. Safe for concurrent use.
type Idempotency struct {
	mu      sync.Mutex
	claimed map[string]time.Time
	ttl     time.Duration
	now     func() time.Time
}

// NewIdempotency creates a guard with the given key lifetime.
func NewIdempotency(ttl time.Duration) *Idempotency {
	return &Idempotency{
		claimed: make(map[string]time.Time),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Claim returns true if key was not claimed within the TTL, recording it.
// An empty key is always accepted.
func (g *Idempotency) Claim(key string) bool {
	if key == "" {
		return true
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if at, ok := g.claimed[key]; ok && now.Sub(at) < g.ttl {
		return false
	}
	g.claimed[key] = now
	return true
}

// Release forgets key so the caller may retry, used when an attempt failed
// before anything reached the ledger.
func (g *Idempotency) Release(key string) {
	g.mu.Lock()
	delete(g.claimed, key)
	g.mu.Unlock()
}

// Sweep drops expired keys.
func (g *Idempotency) Sweep() {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	for k, at := range g.claimed {
		if now.Sub(at) >= g.ttl {
			delete(g.claimed, k)
		}
	}
}

package executor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIdempotency(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	g := NewIdempotency(time.Minute)
	g.now = func() time.Time { return now }

	assert.True(t, g.Claim("k1"))
	assert.False(t, g.Claim("k1"))
	assert.True(t, g.Claim(""))
	assert.True(t, g.Claim(""))

	g.Release("k1")
	assert.True(t, g.Claim("k1"))

	now = now.Add(2 * time.Minute)
	assert.True(t, g.Claim("k1"), "expired keys are reclaimable")

	assert.True(t, g.Claim("k2"))
	now = now.Add(2 * time.Minute)
	g.Sweep()
	g.mu.Lock()
	assert.Empty(t, g.claimed)
	g.mu.Unlock()
}

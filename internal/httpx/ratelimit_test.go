package httpx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_PerKey(t *testing.T) {
	rl := NewRateLimiter(0.001, 2)

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"), "keys have separate buckets")
}

func TestRateLimiter_NilAllowsEverything(t *testing.T) {
	var rl *RateLimiter
	assert.True(t, rl.Allow("x"))
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	rl.Allow("old")
	rl.Allow("fresh")
	rl.limiters["old"].lastSeen = time.Now().Add(-time.Hour)

	rl.Cleanup()

	assert.NotContains(t, rl.limiters, "old")
	assert.Contains(t, rl.limiters, "fresh")
}

package router

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterPerIP(t *testing.T) {
	rl := newIPRateLimiter(0.001, 1)

	assert.True(t, rl.allow("10.0.0.1"))
	assert.False(t, rl.allow("10.0.0.1"))
	assert.True(t, rl.allow("10.0.0.2"))
}

func TestRateLimiterEvictIdle(t *testing.T) {
	rl := newIPRateLimiter(1, 1)
	rl.allow("10.0.0.1")
	rl.allow("10.0.0.2")

	rl.mu.Lock()
	rl.visitors["10.0.0.1"].lastSeen = time.Now().Add(-2 * visitorIdle)
	rl.evictIdle(time.Now())
	_, stale := rl.visitors["10.0.0.1"]
	_, fresh := rl.visitors["10.0.0.2"]
	rl.mu.Unlock()

	assert.False(t, stale)
	assert.True(t, fresh)
}

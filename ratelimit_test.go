package auth_test

import (
	"testing"

	auth "github.com/goliatone/go-trace-auth"
	"github.com/stretchr/testify/assert"
)

func TestRateLimiterPerKey(t *testing.T) {
	limiter := auth.NewRateLimiter(0.001, 2)

	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.False(t, limiter.Allow("10.0.0.1"))

	assert.True(t, limiter.Allow("10.0.0.2"), "buckets are per key")
	assert.Equal(t, 0, limiter.Sweep(), "fresh buckets are kept")
}

func TestRateLimiterDisabled(t *testing.T) {
	var nilLimiter *auth.RateLimiter
	assert.True(t, nilLimiter.Allow("any"))
	assert.Equal(t, 0, nilLimiter.Sweep())

	open := auth.NewRateLimiter(0, 0)
	for i := 0; i < 10; i++ {
		assert.True(t, open.Allow(""))
	}
}

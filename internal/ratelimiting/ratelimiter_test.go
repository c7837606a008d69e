package ratelimiting

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockedRateLimiter struct {
	consumeFunc func(key string) bool
}

func (m *mockedRateLimiter) Consume(key string) bool {
	return m.consumeFunc(key)
}

func TestTokenBucketRateLimiter(t *testing.T) {
	t.Parallel()

	// Slow enough refill that no token is regained during the test
	rateLimiter, stop := NewTokenBucketRateLimiter(0.001, 2)
	t.Cleanup(stop)

	assert.True(t, rateLimiter.Consume("user2"))

	// Burst of 2
	assert.True(t, rateLimiter.Consume("user1"))
	assert.True(t, rateLimiter.Consume("user1"))
	assert.False(t, rateLimiter.Consume("user1"))

	// Keys are independent
	assert.True(t, rateLimiter.Consume("user3"))
	assert.True(t, rateLimiter.Consume("user3"))
	assert.False(t, rateLimiter.Consume("user3"))

	assert.True(t, rateLimiter.Consume("user2"))
	assert.False(t, rateLimiter.Consume("user2"))
}

func TestIPKeyFunc(t *testing.T) {
	t.Parallel()

	cases := []struct {
		remoteAddr string
		want       string
	}{
		{remoteAddr: "123.123.123.123", want: "ip: 123.123.123.123"},
		{remoteAddr: "123.123.123.123:5678", want: "ip: 123.123.123.123"},
		{remoteAddr: "[2001:db8::1]:443", want: "ip: 2001:db8::1"},
	}

	for _, c := range cases {
		t.Run(c.remoteAddr, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, c.want, IPKeyFunc(&http.Request{RemoteAddr: c.remoteAddr}))
		})
	}
}

func TestRequestBasedRateLimiter(t *testing.T) {
	t.Parallel()

	var expectedKey string
	var allowed bool
	rateLimiter := &mockedRateLimiter{
		consumeFunc: func(key string) bool {
			t.Helper()
			assert.Equal(t, expectedKey, key)
			return allowed
		},
	}
	requestRateLimiter := NewRequestBasedRateLimiter(rateLimiter, IPKeyFunc)

	expectedKey = "ip: 1.1.1.1"
	allowed = true
	assert.True(t, requestRateLimiter.Consume(&http.Request{RemoteAddr: "1.1.1.1:1000"}))
	assert.True(t, requestRateLimiter.Consume(&http.Request{RemoteAddr: "1.1.1.1:1001"}))
	allowed = false
	assert.False(t, requestRateLimiter.Consume(&http.Request{RemoteAddr: "1.1.1.1:1002"}))

	expectedKey = "ip: 2.1.1.1"
	allowed = true
	assert.True(t, requestRateLimiter.Consume(&http.Request{RemoteAddr: "2.1.1.1"}))
	assert.Equal(t, "ip: 2.1.1.1", requestRateLimiter.KeyFor(&http.Request{RemoteAddr: "2.1.1.1:80"}))
}

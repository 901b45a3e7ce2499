package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func newTestLimiter(perMinute int) (*RateLimiter, *time.Time) {
	logger := zerolog.Nop()
	rl := NewRateLimiter(perMinute, &logger)
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	return rl, &now
}

func TestRateLimiter_Allow(t *testing.T) {
	rl, now := newTestLimiter(3)

	for i := range 3 {
		assert.True(t, rl.Allow("10.0.0.1"), "request %d", i)
	}
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"), "other clients have their own bucket")

	// one token refills every 20s at 3/min
	*now = now.Add(20 * time.Second)
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))
}

func TestRateLimiter_Sweep(t *testing.T) {
	rl, now := newTestLimiter(10)
	rl.Allow("10.0.0.1")
	*now = now.Add(5 * time.Minute)
	rl.Allow("10.0.0.2")
	assert.Equal(t, 2, rl.Visitors())

	*now = now.Add(6 * time.Minute)
	assert.Equal(t, 1, rl.Sweep())
	assert.Equal(t, 1, rl.Visitors())
}

func TestRateLimit_Middleware(t *testing.T) {
	rl, _ := newTestLimiter(1)
	h := RateLimit(rl)(http.HandlerFunc(okHandler))

	send := func(forwarded string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil)
		r.RemoteAddr = "192.0.2.1:5555"
		if forwarded != "" {
			r.Header.Set("X-Forwarded-For", forwarded)
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w
	}

	assert.Equal(t, http.StatusOK, send("").Code)
	limited := send("")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "60", limited.Header().Get("Retry-After"))
	assert.Contains(t, limited.Body.String(), "RATE_LIMITED")

	assert.Equal(t, http.StatusOK, send("203.0.113.7, 10.0.0.1").Code, "forwarded client is separate")
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.1:5555"
	assert.Equal(t, "192.0.2.1", clientIP(r))

	r.Header.Set("X-Forwarded-For", " 203.0.113.7 , 10.0.0.1")
	assert.Equal(t, "203.0.113.7", clientIP(r))
}

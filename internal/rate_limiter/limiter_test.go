package ratelimiter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestIPRateLimiter(t *testing.T) {
	rl := NewIPRateLimiter(3, time.Hour, CleanupOpts{TTL: time.Minute, Interval: time.Hour})
	t.Cleanup(rl.Cancel)

	ctx := context.Background()
	for i := range 3 {
		assert.True(t, rl.Allow(ctx, "10.0.0.1"), "request %d", i)
	}
	assert.False(t, rl.Allow(ctx, "10.0.0.1"))

	// Buckets are per key.
	assert.True(t, rl.Allow(ctx, "10.0.0.2"))
	assert.Equal(t, 2, rl.size())

	rl.evict(time.Now().Add(2 * time.Minute))
	assert.Equal(t, 0, rl.size())

	// An evicted key starts with a full bucket.
	assert.True(t, rl.Allow(ctx, "10.0.0.1"))
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		want       string
	}{
		{"remote_addr", "192.0.2.1:1234", "", "192.0.2.1"},
		{"forwarded_header_ignored", "192.0.2.1:1234", "203.0.113.5, 198.51.100.7", "192.0.2.1"},
		{"no_port", "192.0.2.1", "", "192.0.2.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/login", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			assert.Equal(t, tt.want, GetClientIP(req))
		})
	}
}

func TestMiddleware(t *testing.T) {
	rl := NewIPRateLimiter(1, time.Hour, CleanupOpts{TTL: time.Minute, Interval: time.Hour})
	t.Cleanup(rl.Cancel)

	handler := Middleware(rl)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/login", nil))
	assert.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/login", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.JSONEq(t, `{"error":"Too many requests. Try again later."}`, second.Body.String())

	// Rotating X-Forwarded-For does not buy a fresh bucket.
	for _, xff := range []string{"203.0.113.1", "203.0.113.2"} {
		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		req.Header.Set("X-Forwarded-For", xff)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code, "X-Forwarded-For %s", xff)
	}
}

func TestRedisLimiterFailsOpen(t *testing.T) {
	// Nothing listens on this port, so every call errors.
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	rl := newRedisLimiter(client, 1, time.Minute)
	t.Cleanup(func() { _ = rl.Close() })

	ctx := context.Background()
	assert.True(t, rl.Allow(ctx, "10.0.0.1"))
	assert.True(t, rl.Allow(ctx, "10.0.0.1"))
}

func TestNewRedisLimiterUnreachable(t *testing.T) {
	_, err := NewRedisLimiter(context.Background(), "127.0.0.1:1", "", 0, 1, time.Minute)
	assert.Error(t, err)
}

func TestRedisLimiter(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}

	ctx := context.Background()
	rl, err := NewRedisLimiter(ctx, addr, "", 0, 2, time.Minute)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = rl.Close() })

	key := "test-" + t.Name() + "-" + time.Now().Format(time.RFC3339Nano)
	t.Cleanup(func() { rl.client.Del(context.Background(), rl.prefix+key) })

	assert.True(t, rl.Allow(ctx, key))
	assert.True(t, rl.Allow(ctx, key))
	assert.False(t, rl.Allow(ctx, key))
}

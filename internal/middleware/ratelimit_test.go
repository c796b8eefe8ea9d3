package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func TestRateLimitPerKey(t *testing.T) {
	pool := NewLimiterPool(0.001, 2)
	handler := RateLimit(pool, func(r *http.Request) string {
		return r.Header.Get("X-Session")
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(key string) int {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set("X-Session", key)
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		return resp.Code
	}

	for i := 0; i < 2; i++ {
		if code := send("a"); code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, code)
		}
	}
	if code := send("a"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 once burst is spent, got %d", code)
	}
	if code := send("b"); code != http.StatusOK {
		t.Fatalf("other keys must not be throttled, got %d", code)
	}
	if code := send(""); code != http.StatusOK {
		t.Fatalf("empty key should pass, got %d", code)
	}

	pool.Forget("a")
	if code := send("a"); code != http.StatusOK {
		t.Fatalf("expected fresh bucket after Forget, got %d", code)
	}
}

func TestLimiterPoolEvictsIdleBuckets(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	pool := NewLimiterPool(0.001, 1)
	pool.now = func() time.Time { return now }

	for i := 0; i < 100; i++ {
		pool.Allow("ghost-" + strconv.Itoa(i))
	}
	if !pool.Allow("live") {
		t.Fatal("first request for a new key should pass")
	}
	if pool.Len() != 101 {
		t.Fatalf("expected 101 buckets, got %d", pool.Len())
	}

	// Only "live" keeps being used.
	now = now.Add(DefaultIdleTTL - time.Minute)
	if pool.Allow("live") {
		t.Fatal("live bucket should still be empty")
	}
	now = now.Add(2 * time.Minute)
	pool.Allow("live")

	if pool.Len() != 1 {
		t.Fatalf("expected idle buckets evicted, %d left", pool.Len())
	}
	if pool.Allow("live") {
		t.Fatal("eviction must not reset a bucket still in use")
	}
}

func TestCORSPreflight(t *testing.T) {
	called := false
	handler := CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodOptions, "/api/sessions", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusNoContent || called {
		t.Fatalf("expected short-circuited preflight, got %d called=%v", resp.Code, called)
	}
	if resp.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("missing CORS header")
	}
}

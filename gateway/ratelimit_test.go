package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiterRejectsOverBudget(t *testing.T) {
	rl := NewRateLimiter(RateLimit{PerSecond: 1, Burst: 2})
	handler := rl.Middleware("test")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/pool", nil)
		req.Header.Set("X-Real-IP", "10.0.0.1")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		statuses = append(statuses, rec.Code)
	}
	if statuses[0] != http.StatusOK || statuses[1] != http.StatusOK {
		t.Fatalf("burst requests: got %v", statuses)
	}
	if statuses[2] != http.StatusTooManyRequests {
		t.Fatalf("over-budget request: got %d", statuses[2])
	}
}

func TestRateLimiterIsolatesClients(t *testing.T) {
	rl := NewRateLimiter(RateLimit{PerSecond: 1, Burst: 1})
	handler := rl.Middleware("test")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for _, ip := range []string{"10.0.0.1", "10.0.0.2"} {
		req := httptest.NewRequest(http.MethodGet, "/v1/pool", nil)
		req.Header.Set("X-Real-IP", ip)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("first request for %s: got %d", ip, rec.Code)
		}
	}
}

func TestRateLimiterEvictsIdleClients(t *testing.T) {
	rl := NewRateLimiter(RateLimit{PerSecond: 1, Burst: 1})
	now := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	rl.clockNow = func() time.Time { return now }

	rl.obtainLimiter("10.0.0.1")
	now = now.Add(11 * time.Minute)
	rl.obtainLimiter("10.0.0.2")

	rl.mu.Lock()
	_, stale := rl.visitors["10.0.0.1"]
	_, fresh := rl.visitors["10.0.0.2"]
	rl.mu.Unlock()
	if stale {
		t.Fatalf("idle visitor not evicted")
	}
	if !fresh {
		t.Fatalf("fresh visitor missing")
	}
}

func TestClientIDPrefersForwardingHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.9:1234"
	if got := clientID(req); got != "192.168.1.9" {
		t.Fatalf("remote addr: got %s", got)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 70.41.3.18")
	if got := clientID(req); got != "203.0.113.7" {
		t.Fatalf("forwarded-for: got %s", got)
	}
	req.Header.Set("X-Real-IP", "198.51.100.2")
	if got := clientID(req); got != "198.51.100.2" {
		t.Fatalf("real-ip: got %s", got)
	}
}

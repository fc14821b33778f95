package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRateLimiterCleanupEvictsIdleVisitors(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	rl.visitor("10.0.0.1")
	rl.visitor("10.0.0.2")

	if n := rl.cleanup(time.Now()); n != 0 {
		t.Fatalf("fresh visitors evicted: %d", n)
	}
	if n := rl.cleanup(time.Now().Add(visitorIdleTTL + time.Second)); n != 2 {
		t.Fatalf("evicted %d, want 2", n)
	}
	if len(rl.visitors) != 0 {
		t.Fatalf("visitors left: %d", len(rl.visitors))
	}
}

func TestIdempotencySkipsServerErrors(t *testing.T) {
	idem := NewIdempotency(time.Hour)
	calls := 0
	h := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			writeError(w, http.StatusServiceUnavailable, "busy")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"call": calls})
	}))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/transfers", strings.NewReader(`{}`))
		req.Header.Set("Idempotency-Key", "k1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	if rec := send(); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("first: %d", rec.Code)
	}
	if rec := send(); rec.Code != http.StatusOK || rec.Header().Get("Idempotent-Replayed") != "" {
		t.Fatalf("a 5xx must not be replayed: %d", rec.Code)
	}
	rec := send()
	if rec.Header().Get("Idempotent-Replayed") != "true" || !strings.Contains(rec.Body.String(), `"call":2`) {
		t.Fatalf("third request should replay the second: %q", rec.Body.String())
	}
	if calls != 2 {
		t.Fatalf("handler ran %d times, want 2", calls)
	}
}

func TestIdempotencyExpiry(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	idem := NewIdempotency(time.Hour)
	idem.now = func() time.Time { return now }

	calls := 0
	h := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}))
	send := func(method string) {
		req := httptest.NewRequest(method, "/v1/market/trades", nil)
		req.Header.Set("Idempotency-Key", "k2")
		h.ServeHTTP(httptest.NewRecorder(), req)
	}

	send(http.MethodPost)
	send(http.MethodPost)
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	send(http.MethodGet)
	if calls != 2 {
		t.Fatalf("GET requests are never cached, calls = %d", calls)
	}

	now = now.Add(2 * time.Hour)
	idem.cleanup()
	if len(idem.entries) != 0 {
		t.Fatalf("expired entries kept: %d", len(idem.entries))
	}
	send(http.MethodPost)
	if calls != 3 {
		t.Fatalf("expired key should run again, calls = %d", calls)
	}
}

package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSimpleRateLimiterWindow(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	limiter := newSimpleRateLimiter(2, time.Minute, func() time.Time { return now }).(*simpleRateLimiter)

	if !limiter.Allow("10.0.0.1") {
		t.Fatal("first request must pass")
	}
	if !limiter.Allow("10.0.0.1") {
		t.Fatal("second request must pass")
	}
	if limiter.Allow("10.0.0.1") {
		t.Fatal("third request within window must be rejected")
	}
	if !limiter.Allow("10.0.0.2") {
		t.Fatal("distinct clients must not share a bucket")
	}

	now = now.Add(2 * time.Minute)
	if !limiter.Allow("10.0.0.1") {
		t.Fatal("window expiry must reset the counter")
	}
}

func TestNewSimpleRateLimiterDisabled(t *testing.T) {
	if limiter := newSimpleRateLimiter(0, time.Minute, nil); limiter != nil {
		t.Fatal("zero limit must disable the limiter")
	}
	if limiter := newSimpleRateLimiter(5, 0, nil); limiter != nil {
		t.Fatal("zero window must disable the limiter")
	}
}

func TestRateLimitMiddlewareRejectsOverLimit(t *testing.T) {
	handler := RateLimitMiddleware(1, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	request := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	if rec := request("203.0.113.7:4411"); rec.Code != http.StatusNoContent {
		t.Fatalf("expected first request to pass, got %d", rec.Code)
	}
	if rec := request("203.0.113.7:4412"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request from same host rejected, got %d", rec.Code)
	}
	if rec := request("198.51.100.9:4411"); rec.Code != http.StatusNoContent {
		t.Fatalf("expected different host to pass, got %d", rec.Code)
	}
}

func TestRateLimitMiddlewarePrefersForwardedHeader(t *testing.T) {
	handler := RateLimitMiddleware(1, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected first request to pass, got %d", rec.Code)
	}

	req2 := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", nil)
	req2.RemoteAddr = "10.0.0.2:9999"
	req2.Header.Set("X-Forwarded-For", "203.0.113.7")
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected forwarded client to be throttled, got %d", rec2.Code)
	}
}

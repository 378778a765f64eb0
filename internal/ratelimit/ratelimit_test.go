package ratelimit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func doRequest(h http.Handler, path, ip string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", path, nil)
	req.Header.Set("X-Real-IP", ip)
	h.ServeHTTP(rr, req)
	return rr
}

func TestAllowsWithinBurst(t *testing.T) {
	l := New(1, 3, time.Minute)
	defer l.Stop()
	h := l.Middleware(okHandler())

	for i := 0; i < 3; i++ {
		if rr := doRequest(h, "/api/ai/generate", "1.2.3.4"); rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rr.Code)
		}
	}
}

func TestRejectsOverBurst(t *testing.T) {
	l := New(1, 2, time.Minute)
	defer l.Stop()
	h := l.Middleware(okHandler())

	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		last = doRequest(h, "/api/ai/generate", "5.6.7.8")
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on third request, got %d", last.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(last.Body.Bytes(), &body); err != nil {
		t.Fatalf("rejection body is not JSON: %v", err)
	}
	if body["error"] != "rate limit exceeded" {
		t.Errorf("error = %q, want %q", body["error"], "rate limit exceeded")
	}
}

func TestRejectionCarriesRetryAfterSeconds(t *testing.T) {
	l := New(1, 1, time.Minute)
	defer l.Stop()
	h := l.Middleware(okHandler())

	doRequest(h, "/api/ai/generate", "9.9.9.9")
	rr := doRequest(h, "/api/ai/generate", "9.9.9.9")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}

	secs, err := strconv.Atoi(rr.Header().Get("Retry-After"))
	if err != nil {
		t.Fatalf("Retry-After %q is not integer seconds: %v", rr.Header().Get("Retry-After"), err)
	}
	if secs < 1 || secs > 60 {
		t.Errorf("Retry-After = %d, want within (0, 60]", secs)
	}
}

func TestHealthAndMetricsAreExempt(t *testing.T) {
	l := New(1, 1, time.Minute)
	defer l.Stop()
	h := l.Middleware(okHandler())

	// Exhaust the client's budget on the API.
	doRequest(h, "/api/ai/generate", "7.7.7.7")
	if rr := doRequest(h, "/api/ai/generate", "7.7.7.7"); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected API rejection, got %d", rr.Code)
	}

	// Probes and scrapes still pass.
	for _, path := range []string{"/health", "/metrics"} {
		for i := 0; i < 5; i++ {
			if rr := doRequest(h, path, "7.7.7.7"); rr.Code != http.StatusOK {
				t.Errorf("%s request %d: expected 200, got %d", path, i, rr.Code)
			}
		}
	}
}

func TestWithExemptPathsReplacesDefaults(t *testing.T) {
	l := New(1, 1, time.Minute, WithExemptPaths("/custom"))
	defer l.Stop()
	h := l.Middleware(okHandler())

	doRequest(h, "/custom", "8.8.8.8") // exempt, budget untouched
	if rr := doRequest(h, "/api/ai/generate", "8.8.8.8"); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	// /health is no longer exempt once the defaults are replaced.
	if rr := doRequest(h, "/health", "8.8.8.8"); rr.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429 for /health, got %d", rr.Code)
	}
}

func TestSeparateIPsSeparateBuckets(t *testing.T) {
	l := New(1, 1, time.Minute)
	defer l.Stop()
	h := l.Middleware(okHandler())

	for _, ip := range []string{"10.0.0.1", "10.0.0.2"} {
		if rr := doRequest(h, "/api/ai/generate", ip); rr.Code != http.StatusOK {
			t.Errorf("ip %s: expected 200, got %d", ip, rr.Code)
		}
	}
}

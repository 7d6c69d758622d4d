package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// ─── Auth ────────────────────────────────────────────────────────────────────

func TestAuthMiddleware(t *testing.T) {
	s := NewServer(testEngineWithAuth(t, "k1", "k2"), Options{})

	tests := []struct {
		name    string
		path    string
		headers []string
		want    int
	}{
		{"health is open", "/health", nil, http.StatusOK},
		{"missing key", "/api/v1/rules", nil, http.StatusUnauthorized},
		{"bearer ok", "/api/v1/rules", []string{"Authorization", "Bearer k1"}, http.StatusOK},
		{"x-api-key ok", "/api/v1/rules", []string{"X-API-Key", "k2"}, http.StatusOK},
		{"wrong key", "/api/v1/rules", []string{"Authorization", "Bearer nope"}, http.StatusForbidden},
		{"metrics protected", "/metrics", nil, http.StatusUnauthorized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := do(t, s, http.MethodGet, tc.path, "", tc.headers...)
			if w.Code != tc.want {
				t.Errorf("status = %d, want %d", w.Code, tc.want)
			}
		})
	}
}

func TestAuthMiddleware_OpenMode(t *testing.T) {
	s := NewServer(testEngine(t), Options{})
	if w := do(t, s, http.MethodGet, "/api/v1/rules", ""); w.Code != http.StatusOK {
		t.Errorf("open mode = %d", w.Code)
	}
}

// ─── Rate limit ──────────────────────────────────────────────────────────────

func TestIPLimiter(t *testing.T) {
	l := newIPLimiter(2)
	now := t0
	allowed := 0
	for i := 0; i < 5; i++ {
		if l.allow("1.2.3.4", now) {
			allowed++
		}
	}
	if allowed != 2 {
		t.Errorf("allowed = %d in a burst, want 2", allowed)
	}
	if !l.allow("5.6.7.8", now) {
		t.Error("other IPs have their own bucket")
	}
	if !l.allow("1.2.3.4", now.Add(time.Second)) {
		t.Error("bucket should refill")
	}

	l.prune(now.Add(time.Hour))
	if len(l.buckets) != 0 {
		t.Errorf("buckets after prune = %d", len(l.buckets))
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	e := testEngine(t)
	e.Config.Server.RateLimit = 1
	s := NewServer(e, Options{})

	codes := map[int]int{}
	for i := 0; i < 5; i++ {
		codes[do(t, s, http.MethodGet, "/api/v1/rules", "").Code]++
	}
	if codes[http.StatusTooManyRequests] == 0 {
		t.Errorf("codes = %v, want some 429s", codes)
	}
	if w := do(t, s, http.MethodGet, "/health", ""); w.Code != http.StatusOK {
		t.Errorf("health is not rate limited, got %d", w.Code)
	}
}

// ─── CORS ────────────────────────────────────────────────────────────────────

func TestCORSMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	h := corsMiddleware(ok, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("default origin = %q", w.Header().Get("Access-Control-Allow-Origin"))
	}

	h = corsMiddleware(ok, []string{"https://console.example"})
	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://console.example")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent || w.Header().Get("Access-Control-Allow-Origin") != "https://console.example" {
		t.Errorf("preflight = %d %q", w.Code, w.Header().Get("Access-Control-Allow-Origin"))
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("disallowed origin got CORS headers")
	}
}

func TestRedactDSN(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", ""},
		{"./data/fw.db", "./data/fw.db"},
		{"postgres://u:p@db:5432/fw", "***@db:5432/fw"},
		{"u:p@tcp(db:3306)/fw", "***@tcp(db:3306)/fw"},
		{"host=db user=fw password=s3cret dbname=fw sslmode=disable", "host=db user=fw password=*** dbname=fw sslmode=disable"},
		{"host=db password='s3 cret' dbname=fw", "host=db password=*** dbname=fw"},
		{"host=db PASSWORD = s3cret", "host=db PASSWORD = ***"},
		{"postgres://db/fw?user=fw&password=s3cret&sslmode=disable", "postgres://db/fw?user=fw&password=***&sslmode=disable"},
	}
	for _, tc := range tests {
		if got := redactDSN(tc.in); got != tc.want {
			t.Errorf("redactDSN(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

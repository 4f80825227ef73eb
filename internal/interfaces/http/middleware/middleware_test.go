package middleware

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dreschagin/desertyard/pkg/logger"
)

func TestRecovery_ConvertsPanicTo500(t *testing.T) {
	var logs bytes.Buffer
	h := Recovery(logger.NewWithWriter("error", &logs))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("index exploded")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if !strings.Contains(logs.String(), "index exploded") {
		t.Fatalf("panic not logged: %q", logs.String())
	}
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" || rec.Header().Get(RequestIDHeader) != seen {
		t.Fatalf("generated id not propagated: ctx=%q header=%q", seen, rec.Header().Get(RequestIDHeader))
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "upstream-42")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if seen != "upstream-42" {
		t.Fatalf("expected incoming id to be kept, got %q", seen)
	}
}

func TestLogger_RecordsStatus(t *testing.T) {
	var logs bytes.Buffer
	h := Logger(logger.NewWithWriter("info", &logs))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/imgs", nil))
	if !strings.Contains(logs.String(), "path=/imgs status=204") {
		t.Fatalf("unexpected log line: %q", logs.String())
	}
}

func TestRateLimit_PerClient(t *testing.T) {
	limiter := NewIPRateLimiter(0.001, 2)
	rejected := 0
	h := RateLimit(limiter, func() { rejected++ })(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	call := func(remote, forwarded string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = remote
		if forwarded != "" {
			req.Header.Set("X-Forwarded-For", forwarded)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < 2; i++ {
		if code := call("10.0.0.1:5000", ""); code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, code)
		}
	}
	// другой порт того же хоста делит bucket
	if code := call("10.0.0.1:6000", ""); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", code)
	}
	// без доверия к прокси подделанный X-Forwarded-For не дает нового bucket
	if code := call("10.0.0.1:7000", "198.51.100.7"); code != http.StatusTooManyRequests {
		t.Fatalf("expected spoofed forwarded header to be ignored, got %d", code)
	}
	if code := call("10.0.0.9:5000", ""); code != http.StatusOK {
		t.Fatalf("expected another host to have its own bucket, got %d", code)
	}
	if rejected != 2 {
		t.Fatalf("expected 2 rejection callbacks, got %d", rejected)
	}
}

func TestRateLimit_TrustedProxyHeaders(t *testing.T) {
	limiter := NewIPRateLimiter(0.001, 1).TrustProxyHeaders(true)
	h := RateLimit(limiter, nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name      string
		forwarded string
		realIP    string
		want      int
	}{
		{name: "first client", forwarded: "198.51.100.7, 10.0.0.1", want: http.StatusOK},
		{name: "same first hop", forwarded: "198.51.100.7", want: http.StatusTooManyRequests},
		{name: "other client", forwarded: "203.0.113.4, 10.0.0.1", want: http.StatusOK},
		{name: "real ip header", realIP: "192.0.2.10", want: http.StatusOK},
		{name: "connection address", want: http.StatusOK},
	}

	for _, tc := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:5000"
		if tc.forwarded != "" {
			req.Header.Set("X-Forwarded-For", tc.forwarded)
		}
		if tc.realIP != "" {
			req.Header.Set("X-Real-IP", tc.realIP)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, rec.Code)
		}
	}
}

func TestIPRateLimiter_Prune(t *testing.T) {
	limiter := NewIPRateLimiter(1, 1)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	limiter.Allow("a")
	now = now.Add(10 * time.Minute)
	limiter.Allow("b")

	if removed := limiter.Prune(); removed != 1 {
		t.Fatalf("expected 1 pruned limiter, got %d", removed)
	}
	if _, ok := limiter.limiters["b"]; !ok {
		t.Fatalf("recent limiter must survive pruning")
	}
}

func TestCompression(t *testing.T) {
	payload := `{"tv721":["` + strings.Repeat("tv721/0123456789abcdef0123456789abcdef.jpg\",\"", 50) + `"]}`
	h := Compression(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/empty" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, payload)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Encoding", "gzip, deflate")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("expected gzip encoding, headers: %v", rec.Header())
	}
	zr, err := gzip.NewReader(rec.Body)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	decoded, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("read gzip: %v", err)
	}
	if string(decoded) != payload {
		t.Fatalf("payload mismatch")
	}

	req = httptest.NewRequest(http.MethodGet, "/empty", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || rec.Header().Get("Content-Encoding") != "" || rec.Body.Len() != 0 {
		t.Fatalf("204 must not be compressed: code=%d headers=%v", rec.Code, rec.Header())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Header().Get("Content-Encoding") != "" || rec.Body.String() != payload {
		t.Fatalf("plain client must get identity encoding")
	}
}

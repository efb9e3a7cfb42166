package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"switchboard.dev/internal/apperr"
	"switchboard.dev/internal/audit"
	"switchboard.dev/internal/obs"
)

func TestRateLimitExceeded(t *testing.T) {
	done := make(chan struct{})
	defer close(done)

	base := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := RequestID(RateLimit(base, 1, 1, done))

	req := httptest.NewRequest(http.MethodGet, "/limited", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, req.Clone(context.Background()))
	if rr1.Code != http.StatusOK {
		t.Fatalf("expected first call 200, got %d", rr1.Code)
	}

	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, req.Clone(context.Background()))
	if rr2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr2.Code)
	}
	if rr2.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}

	var body errorResponse
	if err := json.Unmarshal(rr2.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode rate limit body: %v", err)
	}
	if body.Code != apperr.CodeRateLimited || body.Error == "" {
		t.Fatalf("unexpected body %+v", body)
	}
	if body.RequestID == "" {
		t.Fatalf("expected request_id in body")
	}

	other := req.Clone(context.Background())
	other.RemoteAddr = "10.0.0.2:1234"
	rr3 := httptest.NewRecorder()
	handler.ServeHTTP(rr3, other)
	if rr3.Code != http.StatusOK {
		t.Fatalf("expected a separate bucket per client, got %d", rr3.Code)
	}
}

func TestLimiterSweepsIdleBuckets(t *testing.T) {
	l := newLimiter(1, 1)
	now := time.Now()
	l.allow("10.0.0.1", now.Add(-10*time.Minute))
	l.allow("10.0.0.2", now)
	l.sweep(now)
	if _, ok := l.buckets["10.0.0.1"]; ok {
		t.Fatal("expected idle bucket to be swept")
	}
	if _, ok := l.buckets["10.0.0.2"]; !ok {
		t.Fatal("expected recent bucket to survive")
	}
}

func TestLoggingEmitsStructuredEntry(t *testing.T) {
	orig := *obs.Logger()
	defer obs.SetLogger(orig)

	var buf bytes.Buffer
	obs.SetLogger(zerolog.New(&buf))

	handler := RequestID(Logging(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("ok"))
	})))

	req := httptest.NewRequest(http.MethodGet, "/log-test", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	line := strings.TrimSpace(buf.String())
	if line == "" {
		t.Fatal("expected log line")
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log is not valid JSON: %v", err)
	}
	for _, key := range []string{"level", "message", "tx_id", "method", "path", "status", "duration"} {
		if _, ok := entry[key]; !ok {
			t.Fatalf("expected key %q in log entry", key)
		}
	}
	if entry["message"] != "request_complete" {
		t.Fatalf("unexpected message: %v", entry["message"])
	}
	if entry["status"] != float64(http.StatusTeapot) {
		t.Fatalf("unexpected status: %v", entry["status"])
	}
	if entry["tx_id"] != "req-123" {
		t.Fatalf("unexpected tx_id: %v", entry["tx_id"])
	}
}

func TestRequestIDBindsRequestAndTrace(t *testing.T) {
	var (
		req audit.Request
		sc  trace.SpanContext
	)
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, _ = audit.RequestFromContext(r.Context())
		sc = trace.SpanContextFromContext(r.Context())
	}))

	r := httptest.NewRequest(http.MethodPatch, "/v1/admins/3", nil)
	r.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, r)

	if req.TxID == "" || rr.Header().Get("X-Request-ID") != req.TxID {
		t.Fatalf("expected generated tx id echoed in header, got %q / %q", req.TxID, rr.Header().Get("X-Request-ID"))
	}
	if req.Method != http.MethodPatch || req.Path != "/v1/admins/3" || req.Start.IsZero() {
		t.Fatalf("unexpected request binding %+v", req)
	}
	if !sc.IsRemote() || sc.TraceID().String() != "4bf92f3577b34da6a3ce929d0e0e4736" || !sc.IsSampled() {
		t.Fatalf("unexpected span context %+v", sc)
	}

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Request-ID", strings.Repeat("x", maxRequestIDLen+1))
	r.Header.Set("traceparent", "garbage")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, r)
	if len(req.TxID) > maxRequestIDLen || req.TxID == "" {
		t.Fatalf("expected oversized request id to be replaced, got %q", req.TxID)
	}
	if sc.IsValid() {
		t.Fatal("expected malformed traceparent to be ignored")
	}
}

func TestCORSPreflight(t *testing.T) {
	called := false
	handler := CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodOptions, "/v1/admins", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent || called {
		t.Fatalf("expected preflight to be answered directly, got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Fatalf("unexpected allow origin %q", rr.Header().Get("Access-Control-Allow-Origin"))
	}
	if !strings.Contains(rr.Header().Get("Access-Control-Allow-Methods"), http.MethodPatch) {
		t.Fatal("expected PATCH in allowed methods")
	}
}

func TestMaxBodyBytesRejectsLargeBodies(t *testing.T) {
	handler := MaxBodyBytes(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := readBody(r); err != nil {
			handleServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}), 8)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"too long"}`))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestExtractBearerToken(t *testing.T) {
	cases := map[string]bool{
		"Bearer abc": true,
		"bearer abc": true,
		"Basic abc":  false,
		"Bearer    ": false,
		"":           false,
	}
	for header, ok := range cases {
		tok, err := extractBearerToken(header)
		if ok && (err != nil || tok != "abc") {
			t.Fatalf("%q: expected token abc, got %q (%v)", header, tok, err)
		}
		if !ok && err == nil {
			t.Fatalf("%q: expected error", header)
		}
	}
}

package shield

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hazyhaar/docenrich/kit"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func chain(h http.Handler, stack []func(http.Handler) http.Handler) http.Handler {
	for i := len(stack) - 1; i >= 0; i-- {
		h = stack[i](h)
	}
	return h
}

func TestTraceIDSetsContext(t *testing.T) {
	// WHAT: every request gets trace and request ids in headers and context.
	var traceID, requestID string
	h := TraceID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID = kit.GetTraceID(r.Context())
		requestID = kit.GetRequestID(r.Context())
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/documents", nil))

	if traceID == "" || rec.Header().Get("X-Trace-ID") != traceID {
		t.Fatalf("trace id %q, header %q", traceID, rec.Header().Get("X-Trace-ID"))
	}
	if !strings.HasPrefix(requestID, "req_") {
		t.Fatalf("request id = %q", requestID)
	}
}

func TestTraceIDKeepsClientRequestID(t *testing.T) {
	var got string
	h := TraceID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = kit.GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "client-42")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got != "client-42" {
		t.Fatalf("request id = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "bad id\n")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got == "bad id\n" {
		t.Fatal("unsafe request id kept")
	}
}

func TestMaxBody(t *testing.T) {
	var readErr error
	h := MaxBody(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", strings.NewReader("0123456789")))
	var mbe *http.MaxBytesError
	if !errors.As(readErr, &mbe) || mbe.Limit != 8 {
		t.Fatalf("err = %v", readErr)
	}
}

func TestRateLimiterLimitsWritesOnly(t *testing.T) {
	// WHAT: POSTs over the burst get 429 while GETs pass.
	// WHY: uploads and process requests are the expensive calls.
	h := NewRateLimiter(0.001, 2, "/healthz").Middleware(okHandler())

	post := func(path string) int {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	if post("/api/documents") != http.StatusOK || post("/api/documents") != http.StatusOK {
		t.Fatal("burst rejected")
	}
	if code := post("/api/documents"); code != http.StatusTooManyRequests {
		t.Fatalf("third post = %d", code)
	}
	if code := post("/healthz"); code != http.StatusOK {
		t.Fatalf("excluded path = %d", code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/documents", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("get = %d", rec.Code)
	}

	// Another client has its own bucket.
	req = httptest.NewRequest(http.MethodPost, "/api/documents", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("other client = %d", rec.Code)
	}
}

func TestExtractIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	if ip := ExtractIP(req); ip != "192.0.2.1" {
		t.Fatalf("ip = %q", ip)
	}
	req.Header.Set("X-Forwarded-For", " 203.0.113.9 , 10.0.0.1")
	if ip := ExtractIP(req); ip != "203.0.113.9" {
		t.Fatalf("forwarded ip = %q", ip)
	}
}

func TestAPIStackHeaders(t *testing.T) {
	h := chain(okHandler(), APIStack(Config{MaxBodyBytes: 1 << 10}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" || rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Fatalf("headers = %v", rec.Header())
	}
}

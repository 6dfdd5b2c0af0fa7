package httpmw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/nanocms/nanocms/internal/log"
)

func TestChainOrder(t *testing.T) {
	var order []string
	tag := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	})

	Chain(h, tag("outer"), nil, tag("inner")).ServeHTTP(
		httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	if got := strings.Join(order, ","); got != "outer,inner,handler" {
		t.Fatalf("order = %s", got)
	}
}

func TestRequestIDGeneratedAndEchoed(t *testing.T) {
	var seen string
	h := RequestID("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	if seen == "" {
		t.Fatal("no request ID in context")
	}
	if got := rec.Header().Get("X-Request-Id"); got != seen {
		t.Fatalf("header = %q, context = %q", got, seen)
	}
}

func TestRequestIDPropagated(t *testing.T) {
	var seen string
	h := RequestID("X-Request-Id")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set("X-Request-Id", "upstream-id")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if seen != "upstream-id" {
		t.Fatalf("seen = %q, want upstream-id", seen)
	}
}

func TestClientIPDirect(t *testing.T) {
	var seen string
	h := ClientIP(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ClientIPFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.RemoteAddr = "203.0.113.7:51234"
	req.Header.Set("X-Forwarded-For", "198.51.100.1")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if seen != "203.0.113.7" {
		t.Fatalf("ip = %q, want peer address with header ignored", seen)
	}
}

func TestClientIPTrustedHop(t *testing.T) {
	cases := []struct {
		name   string
		remote string
		xff    string
		hops   int
		want   string
	}{
		{"one hop takes rightmost", "10.0.0.2:80", "198.51.100.1, 203.0.113.9", 1, "203.0.113.9"},
		{"two hops walks back", "10.0.0.2:80", "198.51.100.1, 203.0.113.9", 2, "198.51.100.1"},
		{"too few entries fails closed", "10.0.0.2:80", "203.0.113.9", 3, "10.0.0.2"},
		{"public peer never trusted", "203.0.113.7:80", "198.51.100.1", 1, "203.0.113.7"},
		{"garbage entry ignored", "10.0.0.2:80", "not-an-ip", 1, "10.0.0.2"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var seen string
			h := ClientIPWithOptions(ClientIPOptions{TrustedHops: tc.hops})(
				http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					seen = ClientIPFromContext(r.Context())
				}))

			req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			req.RemoteAddr = tc.remote
			req.Header.Set("X-Forwarded-For", tc.xff)
			h.ServeHTTP(httptest.NewRecorder(), req)

			if seen != tc.want {
				t.Fatalf("ip = %q, want %q", seen, tc.want)
			}
		})
	}
}

func TestMaxBody(t *testing.T) {
	h := MaxBody(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 64)
		if _, err := r.Body.Read(buf); err != nil {
			http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("well over eight bytes")))

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
}

func TestSecurityHeaders(t *testing.T) {
	h := SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	for _, header := range []string{
		"Content-Security-Policy",
		"X-Content-Type-Options",
		"X-Frame-Options",
		"Referrer-Policy",
		"Permissions-Policy",
	} {
		if rec.Header().Get(header) == "" {
			t.Errorf("missing %s", header)
		}
	}
	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q", got)
	}
}

// spyLogger captures Error calls for assertions.
type spyLogger struct {
	log.Logger
	mu     sync.Mutex
	errors []spyError
}

type spyError struct {
	msg string
	err error
}

func newSpyLogger() *spyLogger {
	return &spyLogger{Logger: log.Nop()}
}

func (s *spyLogger) With(kv ...any) log.Logger { return s }

func (s *spyLogger) Error(ctx context.Context, err error, msg string, kv ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, spyError{msg: msg, err: err})
}

func (s *spyLogger) lastError() (spyError, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.errors) == 0 {
		return spyError{}, false
	}
	return s.errors[len(s.errors)-1], true
}

func TestRecoverNoPanic(t *testing.T) {
	spy := newSpyLogger()
	h := Recover(spy, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if _, logged := spy.lastError(); logged {
		t.Fatal("error logged when no panic occurred")
	}
}

func TestRecoverPanic(t *testing.T) {
	spy := newSpyLogger()
	var hooked int
	h := Recover(spy, func() { hooked++ })(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("something broke")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", http.NoBody))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	e, ok := spy.lastError()
	if !ok {
		t.Fatal("expected error to be logged")
	}
	if e.msg != "httpserver panic recovered" {
		t.Fatalf("msg = %q", e.msg)
	}
	if hooked != 1 {
		t.Fatalf("onPanic calls = %d, want 1", hooked)
	}
}

func TestAccessLogSetsDefaults(t *testing.T) {
	// Logger present in context but handler writes nothing: AccessLog
	// must not panic and must treat the status as 200.
	h := Chain(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}),
		WithLogger(log.Nop()),
		AccessLog(),
	)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/page", http.NoBody))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

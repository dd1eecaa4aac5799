package http

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

type hijackRecorder struct {
	*httptest.ResponseRecorder
	hijacked bool
}

func (h *hijackRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h.hijacked = true
	return nil, nil, nil
}

func TestStatusRecorderHijack(t *testing.T) {
	inner := &hijackRecorder{ResponseRecorder: httptest.NewRecorder()}
	rec := &statusRecorder{ResponseWriter: inner, status: http.StatusOK}

	if _, _, err := rec.Hijack(); err != nil {
		t.Fatalf("Hijack: %v", err)
	}
	if !inner.hijacked {
		t.Fatal("expected hijack to reach the wrapped writer")
	}
	if rec.status != http.StatusSwitchingProtocols {
		t.Fatalf("status = %d, want 101", rec.status)
	}

	plain := &statusRecorder{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := plain.Hijack(); !errors.Is(err, errNotHijacker) {
		t.Fatalf("expected errNotHijacker, got %v", err)
	}
}

func TestStatusRecorderCapturesFirstStatus(t *testing.T) {
	inner := httptest.NewRecorder()
	rec := &statusRecorder{ResponseWriter: inner, status: http.StatusOK}

	rec.WriteHeader(http.StatusTeapot)
	rec.WriteHeader(http.StatusInternalServerError)
	_, _ = rec.Write([]byte("short"))
	rec.Flush()

	if rec.status != http.StatusTeapot {
		t.Fatalf("status = %d, want 418", rec.status)
	}
	if rec.written != 5 {
		t.Fatalf("written = %d, want 5", rec.written)
	}
	if !inner.Flushed {
		t.Fatal("expected flush to reach the wrapped writer")
	}
	if rec.Unwrap() != inner {
		t.Fatal("Unwrap should return the wrapped writer")
	}
}

func TestRequestLevel(t *testing.T) {
	tests := []struct {
		path   string
		status int
		want   slog.Level
	}{
		{"/api/v1/projects", http.StatusOK, slog.LevelInfo},
		{"/api/v1/projects", http.StatusNotFound, slog.LevelInfo},
		{"/api/v1/projects", http.StatusBadGateway, slog.LevelError},
		{"/health", http.StatusOK, slog.LevelDebug},
		{"/health/ready", http.StatusServiceUnavailable, slog.LevelError},
	}
	for _, tt := range tests {
		if got := requestLevel(tt.path, tt.status); got != tt.want {
			t.Errorf("requestLevel(%s, %d) = %v, want %v", tt.path, tt.status, got, tt.want)
		}
	}
}

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	tests := []struct {
		name       string
		allowed    string
		origin     string
		method     string
		preflight  bool
		wantCode   int
		wantOrigin string
		wantCreds  string
	}{
		{"matching origin", "http://localhost:3000", "http://localhost:3000", http.MethodGet, false, http.StatusOK, "http://localhost:3000", "true"},
		{"foreign origin", "http://localhost:3000", "http://evil.test", http.MethodGet, false, http.StatusOK, "", ""},
		{"wildcard", "*", "http://any.test", http.MethodGet, false, http.StatusOK, "*", ""},
		{"preflight", "http://localhost:3000", "http://localhost:3000", http.MethodOptions, true, http.StatusNoContent, "http://localhost:3000", "true"},
		{"plain options", "http://localhost:3000", "", http.MethodOptions, false, http.StatusOK, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/v1/projects", http.NoBody)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}
			rec := httptest.NewRecorder()
			CORS(tt.allowed)(next).ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("allow-origin = %q, want %q", got, tt.wantOrigin)
			}
			if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != tt.wantCreds {
				t.Errorf("allow-credentials = %q, want %q", got, tt.wantCreds)
			}
		})
	}
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))

	for _, h := range []string{"X-Content-Type-Options", "X-Frame-Options", "Content-Security-Policy", "Cache-Control"} {
		if rec.Header().Get(h) == "" {
			t.Errorf("missing %s", h)
		}
	}
}

package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sharplines/odds-fabric/internal/platform/logging"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireInternalJobToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		configured string
		provided   string
		wantStatus int
	}{
		{name: "matching token passes", configured: "secret", provided: "secret", wantStatus: http.StatusOK},
		{name: "missing token rejected", configured: "secret", provided: "", wantStatus: http.StatusUnauthorized},
		{name: "wrong token rejected", configured: "secret", provided: "nope", wantStatus: http.StatusUnauthorized},
		{name: "surrounding whitespace tolerated", configured: " secret ", provided: "secret", wantStatus: http.StatusOK},
		{name: "unconfigured token unavailable", configured: "", provided: "anything", wantStatus: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			handler := RequireInternalJobToken(tt.configured, okHandler())
			req := httptest.NewRequest(http.MethodPost, "/v1/internal/jobs/x/fire", nil)
			if tt.provided != "" {
				req.Header.Set("X-Internal-Job-Token", tt.provided)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestCORSAllowedOrigin(t *testing.T) {
	t.Parallel()

	handler := CORS([]string{"https://ops.sharplines.io"}, okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs", nil)
	req.Header.Set("Origin", "https://ops.sharplines.io")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://ops.sharplines.io" {
		t.Fatalf("Access-Control-Allow-Origin = %q", got)
	}
	if !strings.Contains(rec.Header().Get("Access-Control-Allow-Headers"), "X-Internal-Job-Token") {
		t.Fatalf("allow headers must include the job token header, got %q",
			rec.Header().Get("Access-Control-Allow-Headers"))
	}
	if got := rec.Header().Get("Vary"); got != "Origin" {
		t.Fatalf("Vary = %q", got)
	}
}

func TestCORSUnknownOriginGetsNoHeaders(t *testing.T) {
	t.Parallel()

	handler := CORS([]string{"https://ops.sharplines.io"}, okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("Access-Control-Allow-Origin = %q, want empty", got)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("request itself should still be served, status = %d", rec.Code)
	}
}

func TestCORSWildcard(t *testing.T) {
	t.Parallel()

	handler := CORS([]string{"*"}, okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs", nil)
	req.Header.Set("Origin", "https://anywhere.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("Access-Control-Allow-Origin = %q, want *", got)
	}
}

func TestCORSPreflightShortCircuits(t *testing.T) {
	t.Parallel()

	called := false
	handler := CORS([]string{"*"}, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodOptions, "/v1/jobs", nil)
	req.Header.Set("Origin", "https://ops.sharplines.io")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if called {
		t.Fatal("preflight must not reach the next handler")
	}
}

func TestRequestLoggingPassesThrough(t *testing.T) {
	t.Parallel()

	handler := RequestLogging(logging.NewNop(), okHandler())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestShouldTraceRequest(t *testing.T) {
	t.Parallel()

	for _, path := range []string{"/healthz", "/health", "/livez", "/readyz", " /HEALTHZ "} {
		if shouldTraceRequest(path) {
			t.Fatalf("health path %q must not be traced", path)
		}
	}
	if !shouldTraceRequest("/v1/jobs") {
		t.Fatal("api paths must be traced")
	}
}

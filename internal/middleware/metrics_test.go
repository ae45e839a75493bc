package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestBasicAuthMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		username   string
		password   string
		setAuth    bool
		user, pass string
		wantStatus int
	}{
		{name: "disabled", wantStatus: http.StatusOK},
		{name: "valid credentials", username: "prom", password: "s3cret", setAuth: true, user: "prom", pass: "s3cret", wantStatus: http.StatusOK},
		{name: "missing credentials", username: "prom", password: "s3cret", wantStatus: http.StatusUnauthorized},
		{name: "wrong password", username: "prom", password: "s3cret", setAuth: true, user: "prom", pass: "nope", wantStatus: http.StatusUnauthorized},
		{name: "wrong username", username: "prom", password: "s3cret", setAuth: true, user: "admin", pass: "s3cret", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mw := NewBasicAuthMiddleware("metrics", tt.username, tt.password, logger)
			req := httptest.NewRequest("GET", "/metrics", nil)
			if tt.setAuth {
				req.SetBasicAuth(tt.user, tt.pass)
			}
			rec := httptest.NewRecorder()
			mw.Handler(ok).ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusUnauthorized && rec.Header().Get("WWW-Authenticate") != `Basic realm="metrics"` {
				t.Errorf("unexpected WWW-Authenticate header: %q", rec.Header().Get("WWW-Authenticate"))
			}
		})
	}
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	tests := []struct {
		name     string
		isSecure bool
		wantHSTS bool
	}{
		{"development", false, false},
		{"production", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			NewSecurityHeadersMiddleware(tt.isSecure).Handler(handler).ServeHTTP(rec, httptest.NewRequest("GET", "/v1/teams", nil))

			if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
				t.Errorf("X-Content-Type-Options = %q", got)
			}
			if got := rec.Header().Get("Cache-Control"); got != "no-store" {
				t.Errorf("Cache-Control = %q", got)
			}
			if hasHSTS := rec.Header().Get("Strict-Transport-Security") != ""; hasHSTS != tt.wantHSTS {
				t.Errorf("HSTS present = %v, want %v", hasHSTS, tt.wantHSTS)
			}
		})
	}
}

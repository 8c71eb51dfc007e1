package server

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
)

func nopHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestAbsPath(t *testing.T) {
	got := AbsPath("journal.db")
	if !filepath.IsAbs(got) || filepath.Base(got) != "journal.db" {
		t.Errorf("AbsPath() = %q", got)
	}
	if got := AbsPath("/srv/store"); got != "/srv/store" {
		t.Errorf("AbsPath(abs) = %q", got)
	}
}

func TestOriginAllowed(t *testing.T) {
	allowed := []string{"https://app.example.com", "*.trusted.dev"}
	tests := []struct {
		origin string
		want   bool
	}{
		{"https://app.example.com", true},
		{"https://api.trusted.dev", true},
		{"https://example.com", false},
		{"https://trusted.dev.evil.io", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := OriginAllowed(tt.origin, allowed); got != tt.want {
			t.Errorf("OriginAllowed(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
	if !OriginAllowed("http://anything", []string{"*"}) {
		t.Error("\"*\" should allow any origin")
	}
}

func TestCORSMiddleware(t *testing.T) {
	restricted := CORSConfig{AllowedOrigins: []string{"https://app.example.com"}}

	tests := []struct {
		name        string
		cfg         CORSConfig
		method      string
		origin      string
		wantStatus  int
		wantOrigin  string
		credentials bool
	}{
		{"open get", CORSConfig{}, http.MethodGet, "https://x.test", http.StatusNoContent, "*", false},
		{"open preflight", CORSConfig{}, http.MethodOptions, "https://x.test", http.StatusOK, "*", false},
		{"allowed get", restricted, http.MethodGet, "https://app.example.com", http.StatusNoContent, "https://app.example.com", true},
		{"allowed preflight", restricted, http.MethodOptions, "https://app.example.com", http.StatusOK, "https://app.example.com", true},
		{"denied get", restricted, http.MethodGet, "https://evil.test", http.StatusNoContent, "", false},
		{"denied preflight", restricted, http.MethodOptions, "https://evil.test", http.StatusForbidden, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/journal", nil)
			req.Header.Set("Origin", tt.origin)
			rec := httptest.NewRecorder()
			CORSMiddlewareWithConfig(tt.cfg, nopHandler()).ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
			if got := rec.Header().Get("Access-Control-Allow-Credentials") == "true"; got != tt.credentials {
				t.Errorf("Allow-Credentials = %v, want %v", got, tt.credentials)
			}
			if tt.wantOrigin != "" && !strings.Contains(rec.Header().Get("Access-Control-Expose-Headers"), "X-Annotation-Id") {
				t.Error("annotation headers not exposed")
			}
		})
	}
}

func TestBuildCSPHeader(t *testing.T) {
	if got, want := APICSPConfig().BuildCSPHeader(),
		"default-src 'none'; frame-ancestors 'none'; base-uri 'none'; form-action 'none'"; got != want {
		t.Errorf("APICSPConfig header = %q, want %q", got, want)
	}

	cfg := CSPConfig{DefaultSrc: []string{"'self'"}, ConnectSrc: []string{"'self'", "wss:"}, UpgradeInsecureRequests: true}
	if got, want := cfg.BuildCSPHeader(), "default-src 'self'; connect-src 'self' wss:; upgrade-insecure-requests"; got != want {
		t.Errorf("header = %q, want %q", got, want)
	}
	if got := (CSPConfig{}).BuildCSPHeader(); got != "" {
		t.Errorf("empty config header = %q", got)
	}
}

func TestSecurityHeadersWithCSP(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeadersWithCSP(APICSPConfig(), nopHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	for header, want := range map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"Referrer-Policy":         "no-referrer",
		"Content-Security-Policy": APICSPConfig().BuildCSPHeader(),
	} {
		if got := rec.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}

	rec = httptest.NewRecorder()
	SecurityHeadersWithCSP(CSPConfig{}, nopHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if _, ok := rec.Header()["Content-Security-Policy"]; ok {
		t.Error("empty CSP config should not set the header")
	}
}

func TestValidateContentType(t *testing.T) {
	tests := []struct {
		contentType string
		want        bool
	}{
		{"", true},
		{"application/octet-stream", true},
		{"application/zip", true},
		{"APPLICATION/ZIP", true},
		{"application/vnd.openxmlformats-officedocument.wordprocessingml.document", true},
		{"application/zip; charset=binary", true},
		{"text/html", false},
		{"image/png", false},
		{";;;", false},
	}
	for _, tt := range tests {
		if got := ValidateContentType(tt.contentType, AllowedUploadContentTypes); got != tt.want {
			t.Errorf("ValidateContentType(%q) = %v, want %v", tt.contentType, got, tt.want)
		}
	}
}

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name   string
		cfg    Config
		method string
		path   string
		header string
		want   int
	}{
		{"disabled", Config{}, "POST", "/api/v1/generate", "", http.StatusNoContent},
		{"health exempt", Config{Enabled: true, Token: "s3cret"}, "GET", "/healthz", "", http.StatusNoContent},
		{"reads are public", Config{Enabled: true, Token: "s3cret"}, "GET", "/api/v1/passes/1000", "", http.StatusNoContent},
		{"post without token", Config{Enabled: true, Token: "s3cret"}, "POST", "/api/v1/passes/1000/upload", "", http.StatusUnauthorized},
		{"post wrong token", Config{Enabled: true, Token: "s3cret"}, "POST", "/api/v1/generate", "Bearer nope", http.StatusUnauthorized},
		{"post no bearer prefix", Config{Enabled: true, Token: "s3cret"}, "POST", "/api/v1/generate", "s3cret", http.StatusUnauthorized},
		{"post valid token", Config{Enabled: true, Token: "s3cret"}, "POST", "/api/v1/generate", "Bearer s3cret", http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			Middleware(tt.cfg)(ok).ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			if tt.want == http.StatusUnauthorized && w.Header().Get("WWW-Authenticate") == "" {
				t.Error("missing WWW-Authenticate header")
			}
		})
	}
}

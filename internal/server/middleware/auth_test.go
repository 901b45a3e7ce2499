package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestAuth(t *testing.T) {
	logger := zerolog.Nop()
	enabled := DefaultAuthConfig()
	enabled.Enabled = true
	enabled.APIKey = "secret"

	noKey := enabled
	noKey.APIKey = ""

	tests := []struct {
		name    string
		config  AuthConfig
		path    string
		headers map[string]string
		want    int
	}{
		{"disabled", DefaultAuthConfig(), "/api/v1/runs", nil, http.StatusOK},
		{"public path", enabled, "/health", nil, http.StatusOK},
		{"metrics is public", enabled, "/metrics", nil, http.StatusOK},
		{"missing key", enabled, "/api/v1/runs", nil, http.StatusUnauthorized},
		{"wrong key", enabled, "/api/v1/runs", map[string]string{"X-API-Key": "nope"}, http.StatusUnauthorized},
		{"header key", enabled, "/api/v1/runs", map[string]string{"X-API-Key": "secret"}, http.StatusOK},
		{"bearer", enabled, "/api/v1/runs", map[string]string{"Authorization": "Bearer secret"}, http.StatusOK},
		{"raw authorization", enabled, "/api/v1/runs", map[string]string{"Authorization": "secret"}, http.StatusOK},
		{"enabled without key", noKey, "/api/v1/runs", map[string]string{"X-API-Key": ""}, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := Auth(tt.config, &logger)(http.HandlerFunc(okHandler))
			r := httptest.NewRequest(http.MethodGet, tt.path, nil)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestExtractAPIKey(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, extractAPIKey(r, "X-API-Key"))

	r.Header.Set("Authorization", "Bearer token")
	assert.Equal(t, "token", extractAPIKey(r, "X-API-Key"))

	r.Header.Set("X-API-Key", "header")
	assert.Equal(t, "header", extractAPIKey(r, "X-API-Key"), "custom header wins")
}

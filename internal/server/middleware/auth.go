package middleware

import (
	"crypto/subtle"
	"net/http"
	"slices"
	"strings"

	"github.com/rs/zerolog"
)

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	Enabled     bool
	APIKey      string
	HeaderName  string
	PublicPaths []string
}

// DefaultAuthConfig returns default authentication configuration.
func DefaultAuthConfig() AuthConfig {
	return AuthConfig{
		Enabled:     false,
		HeaderName:  "X-API-Key",
		PublicPaths: []string{"/health", "/metrics"},
	}
}

// Auth middleware validates API keys for protected endpoints.
// An enabled config without a key rejects every protected request.
func Auth(config AuthConfig, logger *zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !config.Enabled || slices.Contains(config.PublicPaths, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			apiKey := extractAPIKey(r, config.HeaderName)
			if config.APIKey == "" || subtle.ConstantTimeCompare([]byte(apiKey), []byte(config.APIKey)) != 1 {
				logger.Warn().
					Str("path", r.URL.Path).
					Str("remote_addr", r.RemoteAddr).
					Bool("key_provided", apiKey != "").
					Msg("Authentication failed")

				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or missing API key",
					"Provide a valid API key in the "+config.HeaderName+" header")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractAPIKey reads the key from the configured header, falling back to
// a bearer token.
func extractAPIKey(r *http.Request, header string) string {
	if apiKey := r.Header.Get(header); apiKey != "" {
		return apiKey
	}
	if auth := r.Header.Get("Authorization"); auth != "" {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

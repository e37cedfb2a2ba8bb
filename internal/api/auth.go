package api

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"slices"

	"github.com/FocuswithJustin/voc2coco/internal/logging"
)

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	Enabled bool
	APIKey  string
}

// minAPIKeyLength is the shortest accepted API key.
const minAPIKeyLength = 16

// publicPaths bypass authentication.
var publicPaths = []string{"/", "/health"}

// AuthMiddleware requires a matching X-API-Key header when auth is enabled.
// /ws is passed through because SecureWebSocketHandler checks the key
// itself, accepting the api_key query parameter as well.
func AuthMiddleware(authCfg AuthConfig, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !authCfg.Enabled || isPublicEndpoint(r.URL.Path) || r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}

		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			logging.SecurityEvent("unauthorized_request", "auth",
				"path", r.URL.Path,
				"reason", "missing API key")
			respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing X-API-Key header")
			return
		}

		if !constantTimeCompare(apiKey, authCfg.APIKey) {
			logging.SecurityEvent("unauthorized_request", "auth",
				"path", r.URL.Path,
				"reason", "invalid API key")
			respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func isPublicEndpoint(path string) bool {
	return slices.Contains(publicPaths, path)
}

// ValidateAuthConfig validates the authentication configuration.
func ValidateAuthConfig(cfg AuthConfig) error {
	if !cfg.Enabled {
		return nil
	}
	if cfg.APIKey == "" {
		return fmt.Errorf("API key is required when authentication is enabled")
	}
	if len(cfg.APIKey) < minAPIKeyLength {
		return fmt.Errorf("API key must be at least %d characters (got %d)", minAPIKeyLength, len(cfg.APIKey))
	}
	return nil
}

// GenerateAPIKeyExample returns a shell hint for creating an API key.
func GenerateAPIKeyExample() string {
	return "Example: export VOC2COCO_API_KEY=$(openssl rand -base64 32)"
}

func constantTimeCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

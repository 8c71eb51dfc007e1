package api

import (
	"crypto/subtle"
	"fmt"
	"net/http"

	"github.com/FocuswithJustin/docanchor/internal/logging"
)

// APIKeyEnv names the environment variable the serve command reads the API
// key from.
const APIKeyEnv = "DOCANCHOR_API_KEY"

const minAPIKeyLength = 16

// AuthConfig enables API key authentication.
type AuthConfig struct {
	Enabled bool
	APIKey  string
}

// publicPaths stay reachable without a key so load balancers can probe a
// locked-down server.
var publicPaths = map[string]bool{
	"/":       true,
	"/health": true,
}

// AuthMiddleware requires a matching X-API-Key header on every non-public
// path when cfg is enabled.
func AuthMiddleware(cfg AuthConfig, next http.Handler) http.Handler {
	if !cfg.Enabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicEndpoint(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get("X-API-Key")
		var reason, message string
		switch {
		case key == "":
			reason, message = "missing API key", "Missing X-API-Key header"
		case !constantTimeCompare(key, cfg.APIKey):
			reason, message = "invalid API key", "Invalid API key"
		default:
			next.ServeHTTP(w, r)
			return
		}
		logging.SecurityEvent("unauthorized_request", "auth", "path", r.URL.Path, "reason", reason)
		respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", message)
	})
}

func isPublicEndpoint(path string) bool {
	return publicPaths[path]
}

// ValidateAuthConfig rejects an enabled configuration with a short or
// missing key.
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

// GenerateAPIKeyExample returns a hint for creating a key.
func GenerateAPIKeyExample() string {
	return "Example: export " + APIKeyEnv + "=$(openssl rand -base64 32)"
}

func constantTimeCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/upb/llm-router/utils"
	"go.uber.org/zap"
)

// Auth enforces bearer authentication with the configured gateway key.
// When no key is configured every request passes; the liveness
// endpoint is mounted outside this middleware and stays exempt either
// way.
type Auth struct {
	apiKey string
	logger *zap.Logger
}

// NewAuth creates the auth middleware.
func NewAuth(apiKey string, logger *zap.Logger) *Auth {
	return &Auth{apiKey: apiKey, logger: logger}
}

// RequireKey is the middleware handler.
func (a *Auth) RequireKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.apiKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(a.apiKey)) != 1 {
			a.logger.Warn("rejected unauthenticated request",
				zap.String("path", r.URL.Path))
			_ = utils.WriteUnauthorized(w, "invalid or missing API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

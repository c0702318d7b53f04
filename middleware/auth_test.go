package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func authedRequest(t *testing.T, auth *Auth, header string) int {
	t.Helper()
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	auth.RequireKey(next).ServeHTTP(rec, req)
	return rec.Code
}

func TestRequireKey(t *testing.T) {
	t.Run("no configured key passes everything", func(t *testing.T) {
		auth := NewAuth("", zap.NewNop())
		assert.Equal(t, http.StatusOK, authedRequest(t, auth, ""))
		assert.Equal(t, http.StatusOK, authedRequest(t, auth, "Bearer whatever"))
	})

	t.Run("configured key enforces bearer", func(t *testing.T) {
		auth := NewAuth("sk-gateway", zap.NewNop())
		assert.Equal(t, http.StatusUnauthorized, authedRequest(t, auth, ""))
		assert.Equal(t, http.StatusUnauthorized, authedRequest(t, auth, "Bearer wrong"))
		assert.Equal(t, http.StatusUnauthorized, authedRequest(t, auth, "sk-gateway"))
		assert.Equal(t, http.StatusOK, authedRequest(t, auth, "Bearer sk-gateway"))
	})
}

package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenantgate/tenantgate/internal/audit"
	"github.com/tenantgate/tenantgate/internal/session"
)

var testSecret = []byte("test-signing-secret")

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)
	return token
}

func sessionHandler(t *testing.T) (http.Handler, *session.Identity) {
	t.Helper()
	h := NewHandler(nil, nil, nil, nil, audit.Nop{}, testSecret)
	captured := &session.Identity{}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ident := session.FromContext(r.Context()); ident != nil {
			*captured = *ident
		}
		w.WriteHeader(http.StatusOK)
	})
	return h.SessionMiddleware(next), captured
}

func TestSessionMiddleware(t *testing.T) {
	t.Run("no token passes through anonymous", func(t *testing.T) {
		handler, captured := sessionHandler(t)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.False(t, captured.HasSession())
	})

	t.Run("valid token populates the identity", func(t *testing.T) {
		handler, captured := sessionHandler(t)
		token := signedToken(t, jwt.MapClaims{
			"sub":      "7",
			"username": "dev",
			"tenant":   "acme",
			"admin":    true,
		})

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, int64(7), captured.UserID)
		assert.Equal(t, "dev", captured.Username)
		assert.Equal(t, "acme", captured.Tenant)
		assert.True(t, captured.Admin)
	})

	t.Run("garbage token is rejected", func(t *testing.T) {
		handler, _ := sessionHandler(t)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer not.a.token")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("token signed with another key is rejected", func(t *testing.T) {
		handler, _ := sessionHandler(t)
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub": "7", "tenant": "acme",
		}).SignedString([]byte("some-other-secret"))
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("token without a tenant is rejected", func(t *testing.T) {
		handler, _ := sessionHandler(t)
		token := signedToken(t, jwt.MapClaims{"sub": "7"})

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("tenant header on an authenticated request is rejected", func(t *testing.T) {
		handler, _ := sessionHandler(t)
		token := signedToken(t, jwt.MapClaims{"sub": "7", "tenant": "acme"})

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("X-Tenant-ID", "victim")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

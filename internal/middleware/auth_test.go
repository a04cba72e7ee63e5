package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-admin-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func protectedRequest(authHeader string) *httptest.ResponseRecorder {
	handler := AdminAuth(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/wristbands", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestAdminAuthValidToken(t *testing.T) {
	token := signToken(t, testSecret, jwt.MapClaims{
		"role": "admin",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	rec := protectedRequest("Bearer " + token)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminAuthMissingHeader(t *testing.T) {
	rec := protectedRequest("")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminAuthMalformedHeader(t *testing.T) {
	rec := protectedRequest("Basic abc123")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminAuthWrongSecret(t *testing.T) {
	token := signToken(t, "some-other-secret", jwt.MapClaims{
		"role": "admin",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	rec := protectedRequest("Bearer " + token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminAuthWrongRole(t *testing.T) {
	token := signToken(t, testSecret, jwt.MapClaims{
		"role": "user",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	rec := protectedRequest("Bearer " + token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminAuthExpiredToken(t *testing.T) {
	token := signToken(t, testSecret, jwt.MapClaims{
		"role": "admin",
		"exp":  time.Now().Add(-time.Hour).Unix(),
	})
	rec := protectedRequest("Bearer " + token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

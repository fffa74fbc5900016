package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localmart/messaging/internal/auth"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestTokenAuthPassesClaimsThrough(t *testing.T) {
	v := auth.NewVerifier("mw-secret")
	token, err := v.Issue("u1", "t1", "member", time.Hour)
	require.NoError(t, err)

	var got *auth.Claims
	h := TokenAuth(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetClaims(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	r := httptest.NewRequest("GET", "/api/push/subscribe", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	assert.Equal(t, http.StatusNoContent, w.Code)
	require.NotNil(t, got)
	assert.Equal(t, "u1", got.Subject)
	assert.Equal(t, "t1", got.TenantID)
}

func TestTokenAuthRejectsBadToken(t *testing.T) {
	v := auth.NewVerifier("mw-secret")
	h := TokenAuth(v)(okHandler())

	for _, header := range []string{"", "Bearer garbage"} {
		r := httptest.NewRequest("GET", "/api/push/subscribe", nil)
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.JSONEq(t, `{"error":"unauthorized"}`, w.Body.String())
	}
}

func TestInternalOnlySecretHeader(t *testing.T) {
	h := InternalOnly("topsecret")(okHandler())

	r := httptest.NewRequest("POST", "/internal/bookings/notify", nil)
	r.RemoteAddr = "203.0.113.7:4444"
	r.Header.Set("X-Internal-Secret", "topsecret")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusNoContent, w.Code)

	r = httptest.NewRequest("POST", "/internal/bookings/notify", nil)
	r.RemoteAddr = "203.0.113.7:4444"
	r.Header.Set("X-Internal-Secret", "wrong")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestInternalOnlyPrivateIP(t *testing.T) {
	h := InternalOnly("")(okHandler())

	r := httptest.NewRequest("POST", "/internal/bookings/notify", nil)
	r.RemoteAddr = "10.1.2.3:4444"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusNoContent, w.Code)

	r = httptest.NewRequest("POST", "/internal/bookings/notify", nil)
	r.RemoteAddr = "203.0.113.7:4444"
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRecoverJSON(t *testing.T) {
	h := RecoverJSON(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/api/anything", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, w.Body.String())
}

package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	v := NewVerifier("test-secret")

	token, err := v.Issue("user-1", "tenant-1", "member", time.Hour)
	require.NoError(t, err)

	claims, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "tenant-1", claims.TenantID)
	assert.Equal(t, "member", claims.Role)
}

func TestVerifyBearerPrefix(t *testing.T) {
	v := NewVerifier("test-secret")
	token, err := v.Issue("user-1", "tenant-1", "member", time.Hour)
	require.NoError(t, err)

	claims, err := v.Verify("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
}

func TestVerifyMissingToken(t *testing.T) {
	v := NewVerifier("test-secret")
	_, err := v.Verify("")
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestVerifyExpiredToken(t *testing.T) {
	v := NewVerifier("test-secret")
	token, err := v.Issue("user-1", "tenant-1", "member", -time.Minute)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestVerifyWrongSecret(t *testing.T) {
	issuer := NewVerifier("secret-a")
	token, err := issuer.Issue("user-1", "tenant-1", "member", time.Hour)
	require.NoError(t, err)

	v := NewVerifier("secret-b")
	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyMangledToken(t *testing.T) {
	v := NewVerifier("test-secret")
	_, err := v.Verify("not.a.jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestFromRequestQueryWinsOverHeader(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws?token=query-token", nil)
	r.Header.Set("Authorization", "Bearer header-token")
	assert.Equal(t, "query-token", FromRequest(r))
}

func TestFromRequestHeaderFallback(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Authorization", "Bearer header-token")
	assert.Equal(t, "header-token", FromRequest(r))

	empty := httptest.NewRequest("GET", "/ws", nil)
	assert.Equal(t, "", FromRequest(empty))
}

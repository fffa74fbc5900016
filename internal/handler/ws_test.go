package handler

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localmart/messaging/internal/auth"
	"github.com/localmart/messaging/internal/model"
	"github.com/localmart/messaging/internal/repository"
)

type stubDirectory struct {
	users map[string]*model.User
}

func (s *stubDirectory) GetByID(ctx context.Context, id string) (*model.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return u, nil
}

func newTestWSHandler() (*WSHandler, *auth.Verifier) {
	verifier := auth.NewVerifier("handler-test-secret")
	disabledAt := time.Now()
	dir := &stubDirectory{users: map[string]*model.User{
		"u-active":   {ID: "u-active", TenantID: "t1", Username: "active"},
		"u-disabled": {ID: "u-disabled", TenantID: "t1", Username: "disabled", DisabledAt: &disabledAt},
	}}
	return NewWSHandler(nil, verifier, dir, "*"), verifier
}

func TestServeWSRejectsMissingToken(t *testing.T) {
	h, _ := newTestWSHandler()
	w := httptest.NewRecorder()
	h.ServeWS(w, httptest.NewRequest("GET", "/ws", nil))
	assert.Equal(t, 401, w.Code)
}

func TestServeWSRejectsInvalidToken(t *testing.T) {
	h, _ := newTestWSHandler()
	w := httptest.NewRecorder()
	h.ServeWS(w, httptest.NewRequest("GET", "/ws?token=garbage", nil))
	assert.Equal(t, 401, w.Code)
}

func TestServeWSRejectsExpiredToken(t *testing.T) {
	h, v := newTestWSHandler()
	token, err := v.Issue("u-active", "t1", "member", -time.Minute)
	require.NoError(t, err)
	w := httptest.NewRecorder()
	h.ServeWS(w, httptest.NewRequest("GET", "/ws?token="+token, nil))
	assert.Equal(t, 401, w.Code)
}

func TestServeWSRejectsUnknownUser(t *testing.T) {
	h, v := newTestWSHandler()
	token, err := v.Issue("u-ghost", "t1", "member", time.Hour)
	require.NoError(t, err)
	w := httptest.NewRecorder()
	h.ServeWS(w, httptest.NewRequest("GET", "/ws?token="+token, nil))
	assert.Equal(t, 401, w.Code)
}

func TestServeWSRejectsDisabledUser(t *testing.T) {
	h, v := newTestWSHandler()
	token, err := v.Issue("u-disabled", "t1", "member", time.Hour)
	require.NoError(t, err)
	w := httptest.NewRecorder()
	h.ServeWS(w, httptest.NewRequest("GET", "/ws?token="+token, nil))
	assert.Equal(t, 403, w.Code)
}

func TestServeWSRejectsTenantMismatch(t *testing.T) {
	h, v := newTestWSHandler()
	token, err := v.Issue("u-active", "other-tenant", "member", time.Hour)
	require.NoError(t, err)
	w := httptest.NewRecorder()
	h.ServeWS(w, httptest.NewRequest("GET", "/ws?token="+token, nil))
	assert.Equal(t, 401, w.Code)
}

func TestServeWSRejectsDisallowedOrigin(t *testing.T) {
	verifier := auth.NewVerifier("handler-test-secret")
	dir := &stubDirectory{users: map[string]*model.User{
		"u-active": {ID: "u-active", TenantID: "t1", Username: "active"},
	}}
	h := NewWSHandler(nil, verifier, dir, "https://app.example.com")

	token, err := verifier.Issue("u-active", "t1", "member", time.Hour)
	require.NoError(t, err)
	r := httptest.NewRequest("GET", "/ws?token="+token, nil)
	r.Header.Set("Origin", "https://evil.example.com")
	w := httptest.NewRecorder()
	h.ServeWS(w, r)
	assert.Equal(t, 403, w.Code)
}

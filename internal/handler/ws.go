package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/localmart/messaging/internal/auth"
	"github.com/localmart/messaging/internal/logger"
	"github.com/localmart/messaging/internal/ws"
)

// WSHandler upgrades authenticated requests into hub connections. The token
// is checked here, before the upgrade: a bad token gets an HTTP status, not
// a WebSocket close frame.
type WSHandler struct {
	hub            *ws.Hub
	verifier       *auth.Verifier
	users          ws.UserDirectory
	allowedOrigins string
}

// NewWSHandler creates the WebSocket endpoint handler. allowedOrigins uses
// the CORS notation (comma-separated or "*").
func NewWSHandler(hub *ws.Hub, verifier *auth.Verifier, users ws.UserDirectory, allowedOrigins string) *WSHandler {
	return &WSHandler{hub: hub, verifier: verifier, users: users, allowedOrigins: strings.TrimSpace(allowedOrigins)}
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	if h.allowedOrigins == "*" || h.allowedOrigins == "" {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, o := range strings.Split(h.allowedOrigins, ",") {
		if strings.TrimSpace(o) == origin {
			return true
		}
	}
	return false
}

func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	claims, err := h.verifier.Verify(auth.FromRequest(r))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	user, err := h.users.GetByID(r.Context(), claims.Subject)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	// Disabled accounts keep valid tokens until expiry; refuse them here.
	if !user.Active() {
		http.Error(w, "account disabled", http.StatusForbidden)
		return
	}
	if claims.TenantID != "" && claims.TenantID != user.TenantID {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return h.checkOrigin(r) },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("ws upgrade: %v", err)
		return
	}

	identity := ws.Identity{
		UserID:      user.ID,
		TenantID:    user.TenantID,
		Role:        claims.Role,
		ConnectedAt: time.Now(),
	}
	ctx, cancel := context.WithCancel(context.Background())
	client := ws.NewClient(h.hub, conn, identity)
	client.Start(ctx, cancel)
	h.hub.Register(client)
}

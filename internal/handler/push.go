package handler

import (
	"encoding/json"
	"net/http"

	"github.com/localmart/messaging/internal/logger"
	"github.com/localmart/messaging/internal/middleware"
	"github.com/localmart/messaging/internal/push"
)

// PushHandler exposes subscription management for Web Push. The user comes
// from the verified token, never from the request body.
type PushHandler struct {
	dispatcher *push.Dispatcher
	vapidPub   string
}

func NewPushHandler(dispatcher *push.Dispatcher, vapidPublicKey string) *PushHandler {
	return &PushHandler{dispatcher: dispatcher, vapidPub: vapidPublicKey}
}

// VAPIDPublic serves the public key browsers need to subscribe.
func (h *PushHandler) VAPIDPublic(w http.ResponseWriter, r *http.Request) {
	if h.vapidPub == "" {
		writeError(w, http.StatusServiceUnavailable, "push not configured")
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte(h.vapidPub))
}

func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	if !h.dispatcher.Enabled() {
		writeError(w, http.StatusServiceUnavailable, "push not configured")
		return
	}
	claims := middleware.GetClaims(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var sub push.Subscription
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if sub.Endpoint == "" || sub.Keys.P256dh == "" || sub.Keys.Auth == "" {
		writeError(w, http.StatusBadRequest, "endpoint, keys.p256dh and keys.auth required")
		return
	}
	if err := h.dispatcher.Subscribe(r.Context(), claims.Subject, sub); err != nil {
		logger.Errorf("push subscribe user=%s: %v", claims.Subject, err)
		writeError(w, http.StatusInternalServerError, "failed to save subscription")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	if !h.dispatcher.Enabled() {
		writeError(w, http.StatusServiceUnavailable, "push not configured")
		return
	}
	claims := middleware.GetClaims(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req struct {
		Endpoint string `json:"endpoint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "endpoint required")
		return
	}
	if err := h.dispatcher.Unsubscribe(r.Context(), claims.Subject, req.Endpoint); err != nil {
		logger.Errorf("push unsubscribe user=%s: %v", claims.Subject, err)
		writeError(w, http.StatusInternalServerError, "failed to remove subscription")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

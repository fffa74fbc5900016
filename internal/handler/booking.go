package handler

import (
	"encoding/json"
	"net/http"

	"github.com/localmart/messaging/internal/ws"
)

// BookingHandler receives booking updates from sibling services and fans
// them out to subscribed connections. Mounted behind InternalOnly.
type BookingHandler struct {
	hub *ws.Hub
}

func NewBookingHandler(hub *ws.Hub) *BookingHandler {
	return &BookingHandler{hub: hub}
}

type bookingNotifyRequest struct {
	BookingID string          `json:"booking_id"`
	Update    json.RawMessage `json:"update"`
}

func (h *BookingHandler) Notify(w http.ResponseWriter, r *http.Request) {
	var req bookingNotifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.BookingID == "" || len(req.Update) == 0 {
		writeError(w, http.StatusBadRequest, "booking_id and update required")
		return
	}
	h.hub.PublishBookingUpdate(req.BookingID, req.Update)
	w.WriteHeader(http.StatusNoContent)
}

package ws

import (
	"context"
	"time"

	"github.com/localmart/messaging/internal/logger"
	"github.com/localmart/messaging/internal/storage"
)

// handlePresenceUpdate applies a client-declared status (online, away, busy)
// and fans it out to the tenant.
func (h *Hub) handlePresenceUpdate(ctx context.Context, c *Client, event IncomingEvent) {
	if !storage.ValidClientStatus(event.Status) {
		h.sendError(c, "invalid presence status")
		return
	}
	rec := storage.PresenceRecord{UserID: c.identity.UserID, Status: event.Status, LastSeen: h.clock.Now()}
	if err := h.store.SetPresence(ctx, rec); err != nil {
		logger.Errorf("ws presence update user=%s: %v", c.identity.UserID, err)
		h.sendError(c, "presence update failed")
		return
	}
	h.broadcastPresence(c.identity.TenantID, rec)
}

// handleTyping adds or removes a typing entry and broadcasts the updated
// typing set to the conversation room, excluding the typist. A new entry
// arms an expiry timer; repeated typing events push the deadline forward.
func (h *Hub) handleTyping(ctx context.Context, c *Client, event IncomingEvent) {
	if event.ConversationID == "" {
		h.sendError(c, "conversation_id required")
		return
	}
	ok, err := h.convs.IsParticipant(ctx, event.ConversationID, c.identity.UserID)
	if err != nil {
		logger.Errorf("ws typing participant check conv=%s user=%s: %v", event.ConversationID, c.identity.UserID, err)
		h.sendError(c, "typing update failed")
		return
	}
	if !ok {
		h.sendError(c, "forbidden")
		return
	}

	if !event.IsTyping {
		h.clearTyping(ctx, event.ConversationID, c.identity.UserID)
		return
	}

	if err := h.store.AddTyping(ctx, event.ConversationID, c.identity.UserID); err != nil {
		logger.Errorf("ws add typing conv=%s user=%s: %v", event.ConversationID, c.identity.UserID, err)
		h.sendError(c, "typing update failed")
		return
	}
	h.armTypingExpiry(event.ConversationID, c.identity.UserID)

	users, err := h.store.TypingUsers(ctx, event.ConversationID)
	if err != nil {
		logger.Errorf("ws typing users conv=%s: %v", event.ConversationID, err)
		users = []string{c.identity.UserID}
	}
	h.sendToRoom(conversationRoom(event.ConversationID), OutgoingEvent{
		Type: EventUserTyping,
		Payload: TypingPayload{
			ConversationID: event.ConversationID,
			UserID:         c.identity.UserID,
			IsTyping:       true,
			TypingUsers:    users,
		},
	}, c.identity.UserID)
}

func typingKey(conversationID, userID string) string {
	return conversationID + "|" + userID
}

func (h *Hub) armTypingExpiry(conversationID, userID string) {
	key := typingKey(conversationID, userID)
	h.timersMu.Lock()
	if t, ok := h.typingTimers[key]; ok {
		t.Stop()
	}
	h.typingTimers[key] = h.clock.AfterFunc(h.cfg.TypingTTL, func() {
		h.timersMu.Lock()
		delete(h.typingTimers, key)
		h.timersMu.Unlock()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.removeTyping(ctx, conversationID, userID)
	})
	h.timersMu.Unlock()
}

func (h *Hub) cancelTypingExpiry(conversationID, userID string) {
	key := typingKey(conversationID, userID)
	h.timersMu.Lock()
	if t, ok := h.typingTimers[key]; ok {
		t.Stop()
		delete(h.typingTimers, key)
	}
	h.timersMu.Unlock()
}

// removeTyping drops the entry if present and re-broadcasts the shrunken set.
// A user who was not in the set produces no broadcast.
func (h *Hub) removeTyping(ctx context.Context, conversationID, userID string) {
	users, err := h.store.TypingUsers(ctx, conversationID)
	if err != nil {
		logger.Errorf("ws typing users conv=%s: %v", conversationID, err)
		return
	}
	found := false
	remaining := make([]string, 0, len(users))
	for _, u := range users {
		if u == userID {
			found = true
			continue
		}
		remaining = append(remaining, u)
	}
	if !found {
		return
	}
	if err := h.store.RemoveTyping(ctx, conversationID, userID); err != nil {
		logger.Errorf("ws remove typing conv=%s user=%s: %v", conversationID, userID, err)
		return
	}
	h.sendToRoom(conversationRoom(conversationID), OutgoingEvent{
		Type: EventUserTyping,
		Payload: TypingPayload{
			ConversationID: conversationID,
			UserID:         userID,
			IsTyping:       false,
			TypingUsers:    remaining,
		},
	}, "")
}

// clearTyping cancels the expiry timer and removes the entry. Used on
// explicit stop, on message send and on disconnect.
func (h *Hub) clearTyping(ctx context.Context, conversationID, userID string) {
	h.cancelTypingExpiry(conversationID, userID)
	h.removeTyping(ctx, conversationID, userID)
}

package ws

import (
	"context"
	"errors"

	"github.com/localmart/messaging/internal/logger"
	"github.com/localmart/messaging/internal/repository"
	"github.com/localmart/messaging/internal/storage"
)

// handleJoinConversation verifies the conversation belongs to the caller's
// tenant and that the caller is a participant, subscribes the connection to
// the conversation room and replies with recent history, newest last.
func (h *Hub) handleJoinConversation(ctx context.Context, c *Client, event IncomingEvent) {
	if event.ConversationID == "" {
		h.sendError(c, "conversation_id required")
		return
	}

	// Tenant-scoped lookup: a conversation from another tenant is
	// indistinguishable from a missing one.
	conv, err := h.convs.GetByID(ctx, event.ConversationID, c.identity.TenantID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			h.sendError(c, "conversation not found")
			return
		}
		logger.Errorf("ws join conv=%s: %v", event.ConversationID, err)
		h.sendError(c, "join failed")
		return
	}
	ok, err := h.convs.IsParticipant(ctx, event.ConversationID, c.identity.UserID)
	if err != nil {
		logger.Errorf("ws join participant check conv=%s user=%s: %v", event.ConversationID, c.identity.UserID, err)
		h.sendError(c, "join failed")
		return
	}
	if !ok {
		h.sendError(c, "forbidden")
		return
	}

	h.mu.Lock()
	h.joinRoomLocked(c, conversationRoom(event.ConversationID))
	h.mu.Unlock()

	history, err := h.msgs.GetRecent(ctx, event.ConversationID, h.cfg.HistoryLimit)
	if err != nil {
		logger.Errorf("ws history conv=%s: %v", event.ConversationID, err)
		h.sendError(c, "join failed")
		return
	}
	for i := range history {
		history[i].Content = h.decryptOrStored(history[i].Content)
	}
	// Opening a conversation counts as reading it. Best effort.
	if err := h.msgs.MarkRead(ctx, event.ConversationID, c.identity.UserID); err != nil {
		logger.Errorf("ws mark read conv=%s user=%s: %v", event.ConversationID, c.identity.UserID, err)
	}

	h.sendToClient(c, OutgoingEvent{
		Type: EventConversationJoined,
		Payload: ConversationJoinedPayload{
			Conversation: conv,
			Messages:     history,
		},
	})

	// Let participants already in the room know the user is reachable.
	h.sendToRoom(conversationRoom(event.ConversationID), OutgoingEvent{
		Type: EventPresenceChanged,
		Payload: PresencePayload{
			UserID:   c.identity.UserID,
			Status:   storage.StatusOnline,
			LastSeen: h.clock.Now(),
		},
	}, c.identity.UserID)
}

// decryptOrStored decrypts at-rest content, falling back to the stored value
// when it predates encryption or the key rotated.
func (h *Hub) decryptOrStored(content string) string {
	if content == "" || h.cipher == nil {
		return content
	}
	plain, err := h.cipher.Decrypt(content)
	if err != nil {
		return content
	}
	return plain
}

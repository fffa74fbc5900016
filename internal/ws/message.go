package ws

import (
	"encoding/json"
	"time"

	"github.com/localmart/messaging/internal/model"
	"github.com/localmart/messaging/internal/storage"
)

type EventType string

// Client -> server events.
const (
	EventJoinConversation   EventType = "join_conversation"
	EventSendMessage        EventType = "send_message"
	EventTyping             EventType = "typing"
	EventPresenceUpdate     EventType = "presence_update"
	EventUploadFile         EventType = "upload_file"
	EventSubscribeBooking   EventType = "subscribe_booking_updates"
	EventUnsubscribeBooking EventType = "unsubscribe_booking_updates"
	EventRequestSuggestions EventType = "request_ai_suggestions"
)

// Server -> client events.
const (
	EventConversationJoined EventType = "conversation_joined"
	EventNewMessage         EventType = "new_message"
	EventUserTyping         EventType = "user_typing"
	EventPresenceChanged    EventType = "user_presence_changed"
	EventQueuedMessage      EventType = "queued_message"
	EventBookingUpdate      EventType = "booking_update"
	EventAISuggestions      EventType = "ai_suggestions"
	EventError              EventType = "error"
)

// IncomingEvent is what the client sends to the server.
type IncomingEvent struct {
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversation_id,omitempty"`

	// send_message
	Content          string            `json:"content,omitempty"`
	MessageType      model.MessageType `json:"message_type,omitempty"`
	MediaURLs        []string          `json:"media_urls,omitempty"`
	ReplyToMessageID string            `json:"reply_to_message_id,omitempty"`

	// typing
	IsTyping bool `json:"is_typing,omitempty"`

	// presence_update
	Status storage.PresenceStatus `json:"status,omitempty"`

	// upload_file (file_data is base64)
	FileName string `json:"file_name,omitempty"`
	FileType string `json:"file_type,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
	FileData string `json:"file_data,omitempty"`

	// booking subscriptions
	BookingID string `json:"booking_id,omitempty"`

	// request_ai_suggestions
	Context string `json:"context,omitempty"`
}

// OutgoingEvent is what the server sends to the client.
// Payload uses typed structs to avoid heap-heavy map[string]any.
type OutgoingEvent struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// ConversationJoinedPayload carries the conversation and its recent history,
// decrypted, in ascending chronological order.
type ConversationJoinedPayload struct {
	Conversation *model.Conversation `json:"conversation"`
	Messages     []model.Message     `json:"messages"`
}

// TypingPayload is broadcast when a conversation's typing set changes.
type TypingPayload struct {
	ConversationID string   `json:"conversation_id"`
	UserID         string   `json:"user_id,omitempty"`
	IsTyping       bool     `json:"is_typing"`
	TypingUsers    []string `json:"typing_users"`
}

// PresencePayload is broadcast on presence transitions.
type PresencePayload struct {
	UserID   string                 `json:"user_id"`
	Status   storage.PresenceStatus `json:"status"`
	LastSeen time.Time              `json:"last_seen"`
}

// BookingUpdatePayload is fanned out to booking-update subscribers. The
// update body is opaque to the messaging core.
type BookingUpdatePayload struct {
	BookingID string          `json:"booking_id"`
	Update    json.RawMessage `json:"update"`
}

// AISuggestionsPayload is the stub reply for suggestion requests.
type AISuggestionsPayload struct {
	ConversationID string   `json:"conversation_id"`
	Suggestions    []string `json:"suggestions"`
}

// ErrorPayload is a scoped notice delivered to the originating connection only.
type ErrorPayload struct {
	Message string `json:"message"`
}

package model

import "time"

type Conversation struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenant_id"`
	IsGroup        bool      `json:"is_group"`
	Title          string    `json:"title"`
	CreatedBy      string    `json:"created_by"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

type Participant struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	JoinedAt       time.Time `json:"joined_at"`
}

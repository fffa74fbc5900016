// Package storage defines the ephemeral state stores behind the messaging
// core: presence records, per-conversation typing sets and per-recipient
// offline queues. Implementations: redis.Client and memory.Client (for -dev
// and tests). The protocol logic depends only on these interfaces; a single
// process can run on memory, multiple processes share state via Redis.
package storage

import (
	"context"
	"time"
)

type PresenceStatus string

const (
	StatusOnline         PresenceStatus = "online"
	StatusAway           PresenceStatus = "away"
	StatusBusy           PresenceStatus = "busy"
	StatusOfflinePending PresenceStatus = "offline_pending"
	StatusOffline        PresenceStatus = "offline"
)

// ValidClientStatus reports whether a status may be set by an explicit
// client event. The offline transitions are driven by the gateway only.
func ValidClientStatus(s PresenceStatus) bool {
	return s == StatusOnline || s == StatusAway || s == StatusBusy
}

// PresenceRecord is a user's ephemeral availability entry.
type PresenceRecord struct {
	UserID   string         `json:"user_id"`
	Status   PresenceStatus `json:"status"`
	LastSeen time.Time      `json:"last_seen"`
}

type PresenceStore interface {
	SetPresence(ctx context.Context, rec PresenceRecord) error
	GetPresence(ctx context.Context, userID string) (PresenceRecord, bool, error)
	RemovePresence(ctx context.Context, userID string) error
}

type TypingStore interface {
	AddTyping(ctx context.Context, conversationID, userID string) error
	RemoveTyping(ctx context.Context, conversationID, userID string) error
	TypingUsers(ctx context.Context, conversationID string) ([]string, error)
	// ClearAllTyping wipes every typing set and returns the conversation ids
	// that had at least one typist, so callers can re-broadcast empty sets.
	ClearAllTyping(ctx context.Context) ([]string, error)
}

// QueuedPayload is one pending deliverable for a disconnected recipient.
type QueuedPayload struct {
	Payload  []byte    `json:"payload"`
	QueuedAt time.Time `json:"queued_at"`
}

type QueueStore interface {
	Enqueue(ctx context.Context, userID string, payload []byte, at time.Time) error
	// Drain returns all pending entries in enqueue order and clears the
	// queue. The queue is cleared whether or not the subsequent emission
	// succeeds; redelivery happens only through a later enqueue cycle.
	Drain(ctx context.Context, userID string) ([]QueuedPayload, error)
	// PruneQueues drops entries enqueued before cutoff across all queues.
	PruneQueues(ctx context.Context, cutoff time.Time) error
}

// Store bundles the three ephemeral stores behind one backend handle.
type Store interface {
	PresenceStore
	TypingStore
	QueueStore
	Close() error
}

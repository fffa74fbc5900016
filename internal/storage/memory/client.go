// Package memory is the in-process storage.Store used in -dev mode and in
// tests. All state is process-local; it does not scale past one gateway.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/localmart/messaging/internal/storage"
)

type Client struct {
	mu       sync.RWMutex
	presence map[string]storage.PresenceRecord
	typing   map[string]map[string]struct{}
	queues   map[string][]storage.QueuedPayload
}

func New() *Client {
	return &Client{
		presence: make(map[string]storage.PresenceRecord),
		typing:   make(map[string]map[string]struct{}),
		queues:   make(map[string][]storage.QueuedPayload),
	}
}

func (c *Client) Close() error { return nil }

func (c *Client) SetPresence(ctx context.Context, rec storage.PresenceRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.presence[rec.UserID] = rec
	return nil
}

func (c *Client) GetPresence(ctx context.Context, userID string) (storage.PresenceRecord, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.presence[userID]
	return rec, ok, nil
}

func (c *Client) RemovePresence(ctx context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.presence, userID)
	return nil
}

func (c *Client) AddTyping(ctx context.Context, conversationID, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.typing[conversationID]
	if !ok {
		set = make(map[string]struct{})
		c.typing[conversationID] = set
	}
	set[userID] = struct{}{}
	return nil
}

func (c *Client) RemoveTyping(ctx context.Context, conversationID, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.typing[conversationID]
	if !ok {
		return nil
	}
	delete(set, userID)
	if len(set) == 0 {
		delete(c.typing, conversationID)
	}
	return nil
}

func (c *Client) TypingUsers(ctx context.Context, conversationID string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	set := c.typing[conversationID]
	users := make([]string, 0, len(set))
	for id := range set {
		users = append(users, id)
	}
	return users, nil
}

func (c *Client) ClearAllTyping(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cleared := make([]string, 0, len(c.typing))
	for id := range c.typing {
		cleared = append(cleared, id)
	}
	c.typing = make(map[string]map[string]struct{})
	return cleared, nil
}

func (c *Client) Enqueue(ctx context.Context, userID string, payload []byte, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Copy: callers may reuse the payload buffer.
	buf := make([]byte, len(payload))
	copy(buf, payload)
	c.queues[userID] = append(c.queues[userID], storage.QueuedPayload{Payload: buf, QueuedAt: at})
	return nil
}

func (c *Client) Drain(ctx context.Context, userID string) ([]storage.QueuedPayload, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries := c.queues[userID]
	delete(c.queues, userID)
	return entries, nil
}

func (c *Client) PruneQueues(ctx context.Context, cutoff time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for userID, entries := range c.queues {
		kept := entries[:0]
		for _, e := range entries {
			if !e.QueuedAt.Before(cutoff) {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(c.queues, userID)
		} else {
			c.queues[userID] = kept
		}
	}
	return nil
}

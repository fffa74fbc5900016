// Package redis implements storage.Store on Redis so presence, typing and
// offline-queue state survives gateway restarts and can be shared by
// multiple gateway processes.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/localmart/messaging/internal/storage"
)

const (
	presenceKeyPrefix = "presence:"
	typingKeyPrefix   = "typing:"
	typingIndexKey    = "typing_conversations"
	queueKeyPrefix    = "offline_queue:"
	queueIndexKey     = "offline_queue_users"

	// Presence keys self-expire as a backstop against gateway crashes that
	// skip RemovePresence.
	presenceTTL = 24 * time.Hour
)

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

// Raw exposes the underlying connection for sibling Redis-backed stores
// that share it (push subscriptions).
func (c *Client) Raw() *redis.Client {
	return c.cli
}

func (c *Client) SetPresence(ctx context.Context, rec storage.PresenceRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("presence encode: %w", err)
	}
	return c.cli.Set(ctx, presenceKeyPrefix+rec.UserID, raw, presenceTTL).Err()
}

func (c *Client) GetPresence(ctx context.Context, userID string) (storage.PresenceRecord, bool, error) {
	raw, err := c.cli.Get(ctx, presenceKeyPrefix+userID).Result()
	if err == redis.Nil {
		return storage.PresenceRecord{}, false, nil
	}
	if err != nil {
		return storage.PresenceRecord{}, false, err
	}
	var rec storage.PresenceRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return storage.PresenceRecord{}, false, fmt.Errorf("presence decode: %w", err)
	}
	return rec, true, nil
}

func (c *Client) RemovePresence(ctx context.Context, userID string) error {
	return c.cli.Del(ctx, presenceKeyPrefix+userID).Err()
}

func (c *Client) AddTyping(ctx context.Context, conversationID, userID string) error {
	pipe := c.cli.Pipeline()
	pipe.SAdd(ctx, typingKeyPrefix+conversationID, userID)
	pipe.SAdd(ctx, typingIndexKey, conversationID)
	_, err := pipe.Exec(ctx)
	return err
}

func (c *Client) RemoveTyping(ctx context.Context, conversationID, userID string) error {
	if err := c.cli.SRem(ctx, typingKeyPrefix+conversationID, userID).Err(); err != nil {
		return err
	}
	n, err := c.cli.SCard(ctx, typingKeyPrefix+conversationID).Result()
	if err == nil && n == 0 {
		c.cli.SRem(ctx, typingIndexKey, conversationID)
	}
	return nil
}

func (c *Client) TypingUsers(ctx context.Context, conversationID string) ([]string, error) {
	return c.cli.SMembers(ctx, typingKeyPrefix+conversationID).Result()
}

func (c *Client) ClearAllTyping(ctx context.Context) ([]string, error) {
	ids, err := c.cli.SMembers(ctx, typingIndexKey).Result()
	if err != nil {
		return nil, err
	}
	cleared := make([]string, 0, len(ids))
	pipe := c.cli.Pipeline()
	for _, id := range ids {
		cleared = append(cleared, id)
		pipe.Del(ctx, typingKeyPrefix+id)
	}
	pipe.Del(ctx, typingIndexKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return cleared, nil
}

func (c *Client) Enqueue(ctx context.Context, userID string, payload []byte, at time.Time) error {
	raw, err := json.Marshal(storage.QueuedPayload{Payload: payload, QueuedAt: at})
	if err != nil {
		return fmt.Errorf("queue encode: %w", err)
	}
	pipe := c.cli.Pipeline()
	pipe.RPush(ctx, queueKeyPrefix+userID, raw)
	pipe.SAdd(ctx, queueIndexKey, userID)
	_, err = pipe.Exec(ctx)
	return err
}

func (c *Client) Drain(ctx context.Context, userID string) ([]storage.QueuedPayload, error) {
	key := queueKeyPrefix + userID
	pipe := c.cli.TxPipeline()
	rangeCmd := pipe.LRange(ctx, key, 0, -1)
	pipe.Del(ctx, key)
	pipe.SRem(ctx, queueIndexKey, userID)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	items := rangeCmd.Val()
	entries := make([]storage.QueuedPayload, 0, len(items))
	for _, item := range items {
		var e storage.QueuedPayload
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			// Skip undecodable entries instead of wedging the drain.
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// PruneQueues rewrites each queue keeping only entries at or after cutoff.
func (c *Client) PruneQueues(ctx context.Context, cutoff time.Time) error {
	users, err := c.cli.SMembers(ctx, queueIndexKey).Result()
	if err != nil {
		return err
	}
	for _, userID := range users {
		key := queueKeyPrefix + userID
		items, err := c.cli.LRange(ctx, key, 0, -1).Result()
		if err != nil {
			return err
		}
		kept := make([]interface{}, 0, len(items))
		for _, item := range items {
			var e storage.QueuedPayload
			if err := json.Unmarshal([]byte(item), &e); err != nil {
				continue
			}
			if !e.QueuedAt.Before(cutoff) {
				kept = append(kept, item)
			}
		}
		if len(kept) == len(items) {
			continue
		}
		pipe := c.cli.TxPipeline()
		pipe.Del(ctx, key)
		if len(kept) > 0 {
			pipe.RPush(ctx, key, kept...)
		} else {
			pipe.SRem(ctx, queueIndexKey, userID)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localmart/messaging/internal/storage"
)

func TestPresenceLifecycle(t *testing.T) {
	ctx := context.Background()
	c := New()

	_, ok, err := c.GetPresence(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	rec := storage.PresenceRecord{UserID: "u1", Status: storage.StatusOnline, LastSeen: time.Now()}
	require.NoError(t, c.SetPresence(ctx, rec))

	got, ok, err := c.GetPresence(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, storage.StatusOnline, got.Status)

	rec.Status = storage.StatusAway
	require.NoError(t, c.SetPresence(ctx, rec))
	got, _, _ = c.GetPresence(ctx, "u1")
	assert.Equal(t, storage.StatusAway, got.Status)

	require.NoError(t, c.RemovePresence(ctx, "u1"))
	_, ok, _ = c.GetPresence(ctx, "u1")
	assert.False(t, ok)
}

func TestTypingSet(t *testing.T) {
	ctx := context.Background()
	c := New()

	require.NoError(t, c.AddTyping(ctx, "conv1", "u1"))
	require.NoError(t, c.AddTyping(ctx, "conv1", "u2"))
	require.NoError(t, c.AddTyping(ctx, "conv1", "u1")) // idempotent

	users, err := c.TypingUsers(ctx, "conv1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u1", "u2"}, users)

	require.NoError(t, c.RemoveTyping(ctx, "conv1", "u1"))
	users, _ = c.TypingUsers(ctx, "conv1")
	assert.Equal(t, []string{"u2"}, users)

	// Removing an absent entry is a no-op.
	require.NoError(t, c.RemoveTyping(ctx, "conv1", "missing"))
	require.NoError(t, c.RemoveTyping(ctx, "no-such-conv", "u1"))
}

func TestClearAllTypingReturnsAffectedConversations(t *testing.T) {
	ctx := context.Background()
	c := New()

	require.NoError(t, c.AddTyping(ctx, "conv1", "u1"))
	require.NoError(t, c.AddTyping(ctx, "conv2", "u2"))

	cleared, err := c.ClearAllTyping(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"conv1", "conv2"}, cleared)

	users, _ := c.TypingUsers(ctx, "conv1")
	assert.Empty(t, users)

	cleared, err = c.ClearAllTyping(ctx)
	require.NoError(t, err)
	assert.Empty(t, cleared)
}

func TestQueueDrainPreservesOrderAndClears(t *testing.T) {
	ctx := context.Background()
	c := New()
	now := time.Now()

	for i := 0; i < 3; i++ {
		payload := []byte(fmt.Sprintf(`{"n":%d}`, i))
		require.NoError(t, c.Enqueue(ctx, "u1", payload, now.Add(time.Duration(i)*time.Second)))
	}

	entries, err := c.Drain(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, e := range entries {
		assert.Equal(t, fmt.Sprintf(`{"n":%d}`, i), string(e.Payload))
	}

	entries, err = c.Drain(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestEnqueueCopiesPayload(t *testing.T) {
	ctx := context.Background()
	c := New()

	buf := []byte("original")
	require.NoError(t, c.Enqueue(ctx, "u1", buf, time.Now()))
	copy(buf, "CLOBBER!")

	entries, err := c.Drain(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "original", string(entries[0].Payload))
}

func TestPruneQueuesDropsExpiredEntries(t *testing.T) {
	ctx := context.Background()
	c := New()
	now := time.Now()

	require.NoError(t, c.Enqueue(ctx, "u1", []byte("old"), now.Add(-25*time.Hour)))
	require.NoError(t, c.Enqueue(ctx, "u1", []byte("fresh"), now))
	require.NoError(t, c.Enqueue(ctx, "u2", []byte("old"), now.Add(-48*time.Hour)))

	require.NoError(t, c.PruneQueues(ctx, now.Add(-24*time.Hour)))

	entries, _ := c.Drain(ctx, "u1")
	require.Len(t, entries, 1)
	assert.Equal(t, "fresh", string(entries[0].Payload))

	entries, _ = c.Drain(ctx, "u2")
	assert.Empty(t, entries)
}

package ws

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localmart/messaging/internal/storage"
)

func TestTypingBroadcastExcludesTypist(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.connect(t, "u-alice")
	bob := f.connect(t, "u-bob")
	f.join(t, alice, testConv)
	f.join(t, bob, testConv)
	drainEvents(alice)
	drainEvents(bob)

	f.hub.HandleEvent(ctx, alice, IncomingEvent{Type: EventTyping, ConversationID: testConv, IsTyping: true})

	bobEvents := eventsOfType(drainEvents(bob), EventUserTyping)
	require.Len(t, bobEvents, 1)
	p := bobEvents[0].Payload.(TypingPayload)
	assert.Equal(t, "u-alice", p.UserID)
	assert.True(t, p.IsTyping)
	assert.Equal(t, []string{"u-alice"}, p.TypingUsers)

	assert.Empty(t, eventsOfType(drainEvents(alice), EventUserTyping))
}

func TestTypingExpiresAfterTTL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.connect(t, "u-alice")
	bob := f.connect(t, "u-bob")
	f.join(t, alice, testConv)
	f.join(t, bob, testConv)
	drainEvents(alice)
	drainEvents(bob)

	f.hub.HandleEvent(ctx, alice, IncomingEvent{Type: EventTyping, ConversationID: testConv, IsTyping: true})
	drainEvents(bob)

	f.clk.Advance(f.hub.cfg.TypingTTL)

	users, err := f.store.TypingUsers(ctx, testConv)
	require.NoError(t, err)
	assert.Empty(t, users)

	events := eventsOfType(drainEvents(bob), EventUserTyping)
	require.Len(t, events, 1)
	p := events[0].Payload.(TypingPayload)
	assert.False(t, p.IsTyping)
	assert.Empty(t, p.TypingUsers)
}

func TestRepeatedTypingExtendsExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.connect(t, "u-alice")
	bob := f.connect(t, "u-bob")
	f.join(t, alice, testConv)
	f.join(t, bob, testConv)
	drainEvents(bob)

	f.hub.HandleEvent(ctx, alice, IncomingEvent{Type: EventTyping, ConversationID: testConv, IsTyping: true})
	f.clk.Advance(f.hub.cfg.TypingTTL - time.Second)
	f.hub.HandleEvent(ctx, alice, IncomingEvent{Type: EventTyping, ConversationID: testConv, IsTyping: true})
	f.clk.Advance(f.hub.cfg.TypingTTL - time.Second)

	users, _ := f.store.TypingUsers(ctx, testConv)
	assert.Equal(t, []string{"u-alice"}, users, "refreshed entry must not expire early")

	f.clk.Advance(time.Second)
	users, _ = f.store.TypingUsers(ctx, testConv)
	assert.Empty(t, users)
}

func TestExplicitTypingStop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.connect(t, "u-alice")
	bob := f.connect(t, "u-bob")
	f.join(t, alice, testConv)
	f.join(t, bob, testConv)
	drainEvents(bob)

	f.hub.HandleEvent(ctx, alice, IncomingEvent{Type: EventTyping, ConversationID: testConv, IsTyping: true})
	drainEvents(bob)
	f.hub.HandleEvent(ctx, alice, IncomingEvent{Type: EventTyping, ConversationID: testConv, IsTyping: false})

	events := eventsOfType(drainEvents(bob), EventUserTyping)
	require.Len(t, events, 1)
	assert.False(t, events[0].Payload.(TypingPayload).IsTyping)

	// The expiry timer was cancelled: no duplicate broadcast later.
	f.clk.Advance(f.hub.cfg.TypingTTL * 2)
	assert.Empty(t, eventsOfType(drainEvents(bob), EventUserTyping))
}

func TestSendClearsTypingEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.connect(t, "u-alice")
	bob := f.connect(t, "u-bob")
	f.join(t, alice, testConv)
	f.join(t, bob, testConv)
	drainEvents(bob)

	f.hub.HandleEvent(ctx, alice, IncomingEvent{Type: EventTyping, ConversationID: testConv, IsTyping: true})
	drainEvents(bob)
	f.hub.HandleEvent(ctx, alice, IncomingEvent{Type: EventSendMessage, ConversationID: testConv, Content: "done typing"})

	users, _ := f.store.TypingUsers(ctx, testConv)
	assert.Empty(t, users)

	events := eventsOfType(drainEvents(bob), EventUserTyping)
	require.Len(t, events, 1)
	assert.False(t, events[0].Payload.(TypingPayload).IsTyping)
}

func TestDisconnectClearsTyping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.connect(t, "u-alice")
	bob := f.connect(t, "u-bob")
	f.join(t, alice, testConv)
	f.join(t, bob, testConv)
	drainEvents(bob)

	f.hub.HandleEvent(ctx, alice, IncomingEvent{Type: EventTyping, ConversationID: testConv, IsTyping: true})
	drainEvents(bob)

	f.hub.removeClient(alice)

	users, _ := f.store.TypingUsers(ctx, testConv)
	assert.Empty(t, users)
	events := eventsOfType(drainEvents(bob), EventUserTyping)
	require.Len(t, events, 1)
	assert.False(t, events[0].Payload.(TypingPayload).IsTyping)
}

func TestTypingRequiresParticipant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	eve := f.connect(t, "u-eve")
	drainEvents(eve)

	f.hub.HandleEvent(ctx, eve, IncomingEvent{Type: EventTyping, ConversationID: testConv, IsTyping: true})

	events := eventsOfType(drainEvents(eve), EventError)
	require.Len(t, events, 1)
	assert.Equal(t, "forbidden", events[0].Payload.(ErrorPayload).Message)
	users, _ := f.store.TypingUsers(ctx, testConv)
	assert.Empty(t, users)
}

func TestPresenceUpdateBroadcastsToTenant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.connect(t, "u-alice")
	bob := f.connect(t, "u-bob")
	drainEvents(alice)
	drainEvents(bob)

	f.hub.HandleEvent(ctx, alice, IncomingEvent{Type: EventPresenceUpdate, Status: storage.StatusAway})

	rec, ok, _ := f.store.GetPresence(ctx, "u-alice")
	require.True(t, ok)
	assert.Equal(t, storage.StatusAway, rec.Status)

	events := eventsOfType(drainEvents(bob), EventPresenceChanged)
	require.Len(t, events, 1)
	assert.Equal(t, storage.StatusAway, events[0].Payload.(PresencePayload).Status)
}

func TestPresenceUpdateRejectsGatewayOnlyStatuses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.connect(t, "u-alice")
	drainEvents(alice)

	for _, status := range []storage.PresenceStatus{storage.StatusOffline, storage.StatusOfflinePending, "invented"} {
		f.hub.HandleEvent(ctx, alice, IncomingEvent{Type: EventPresenceUpdate, Status: status})
		events := eventsOfType(drainEvents(alice), EventError)
		require.Len(t, events, 1, "status %q", status)
	}
}

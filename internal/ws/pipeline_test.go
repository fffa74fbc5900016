package ws

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localmart/messaging/internal/model"
)

func TestSendMessageEncryptsAtRestAndBroadcastsPlaintext(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.connect(t, "u-alice")
	bob := f.connect(t, "u-bob")
	f.join(t, alice, testConv)
	f.join(t, bob, testConv)
	drainEvents(alice)
	drainEvents(bob)

	f.hub.HandleEvent(ctx, alice, IncomingEvent{
		Type:           EventSendMessage,
		ConversationID: testConv,
		Content:        "hello bob",
	})

	created := f.msgs.all()
	require.Len(t, created, 1)
	assert.NotEqual(t, "hello bob", created[0].Content, "stored content must be ciphertext")
	plain, err := f.cipher.Decrypt(created[0].Content)
	require.NoError(t, err)
	assert.Equal(t, "hello bob", plain)
	assert.Equal(t, "u-alice", created[0].SenderID)
	assert.Equal(t, model.MessageTypeText, created[0].Type)

	bobEvents := eventsOfType(drainEvents(bob), EventNewMessage)
	require.Len(t, bobEvents, 1)
	msg := bobEvents[0].Payload.(model.Message)
	assert.Equal(t, "hello bob", msg.Content)
	require.NotNil(t, msg.Sender)
	assert.Equal(t, "alice", msg.Sender.Username)

	// The sender's own connections receive the message too.
	aliceEvents := eventsOfType(drainEvents(alice), EventNewMessage)
	require.Len(t, aliceEvents, 1)
}

func TestSendMessageValidation(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.MaxContentLength = 20 })
	ctx := context.Background()
	alice := f.connect(t, "u-alice")
	f.join(t, alice, testConv)
	drainEvents(alice)

	cases := []struct {
		name  string
		event IncomingEvent
	}{
		{"missing conversation", IncomingEvent{Type: EventSendMessage, Content: "hi"}},
		{"empty content", IncomingEvent{Type: EventSendMessage, ConversationID: testConv, Content: "   "}},
		{"too long", IncomingEvent{Type: EventSendMessage, ConversationID: testConv, Content: strings.Repeat("x", 21)}},
		{"bad type", IncomingEvent{Type: EventSendMessage, ConversationID: testConv, Content: "hi", MessageType: "carrier-pigeon"}},
		{"bad media url", IncomingEvent{Type: EventSendMessage, ConversationID: testConv, Content: "hi", MediaURLs: []string{"javascript:alert(1)"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f.hub.HandleEvent(ctx, alice, tc.event)
			events := eventsOfType(drainEvents(alice), EventError)
			require.Len(t, events, 1, "expected a scoped error event")
			assert.Empty(t, f.msgs.all(), "nothing may be persisted")
		})
	}
}

func TestSendMessageNonParticipantForbidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	eve := f.connect(t, "u-eve")
	bob := f.connect(t, "u-bob")
	f.join(t, bob, testConv)
	drainEvents(eve)
	drainEvents(bob)

	f.hub.HandleEvent(ctx, eve, IncomingEvent{
		Type:           EventSendMessage,
		ConversationID: testConv,
		Content:        "let me in",
	})

	events := eventsOfType(drainEvents(eve), EventError)
	require.Len(t, events, 1)
	assert.Equal(t, "forbidden", events[0].Payload.(ErrorPayload).Message)
	assert.Empty(t, f.msgs.all())
	assert.Empty(t, eventsOfType(drainEvents(bob), EventNewMessage))
}

func TestOfflineRecipientQueueDrainOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.connect(t, "u-alice")
	f.join(t, alice, testConv)
	drainEvents(alice)

	for _, text := range []string{"first", "second", "third"} {
		f.hub.HandleEvent(ctx, alice, IncomingEvent{
			Type:           EventSendMessage,
			ConversationID: testConv,
			Content:        text,
		})
	}
	require.Len(t, f.msgs.all(), 3)

	bob := f.connect(t, "u-bob")
	queued := eventsOfType(drainEvents(bob), EventQueuedMessage)
	require.Len(t, queued, 3)
	for i, want := range []string{"first", "second", "third"} {
		var msg model.Message
		require.NoError(t, json.Unmarshal(queued[i].Payload.(json.RawMessage), &msg))
		assert.Equal(t, want, msg.Content, "queued messages replay in enqueue order")
		assert.Equal(t, testConv, msg.ConversationID)
	}

	// A reconnect finds the queue empty.
	f.hub.removeClient(bob)
	f.clk.Advance(f.hub.cfg.PresenceGrace * 2)
	bob2 := f.connect(t, "u-bob")
	assert.Empty(t, eventsOfType(drainEvents(bob2), EventQueuedMessage))
}

func TestUploadFileStoresAndSendsMediaMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.connect(t, "u-alice")
	bob := f.connect(t, "u-bob")
	f.join(t, alice, testConv)
	f.join(t, bob, testConv)
	drainEvents(alice)
	drainEvents(bob)

	data := base64.StdEncoding.EncodeToString([]byte("fake image bytes"))
	f.hub.HandleEvent(ctx, alice, IncomingEvent{
		Type:           EventUploadFile,
		ConversationID: testConv,
		FileName:       "photo.png",
		FileType:       "image/png",
		FileSize:       16,
		FileData:       data,
	})

	require.Equal(t, []string{"photo.png"}, f.files.saved)
	events := eventsOfType(drainEvents(bob), EventNewMessage)
	require.Len(t, events, 1)
	msg := events[0].Payload.(model.Message)
	assert.Equal(t, model.MessageTypeImage, msg.Type)
	assert.Equal(t, []string{"/api/files/stored-file.png"}, msg.MediaURLs)
}

func TestUploadFileRejectsOversizeAndBadType(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.MaxUploadSize = 8 })
	ctx := context.Background()
	alice := f.connect(t, "u-alice")
	f.join(t, alice, testConv)
	drainEvents(alice)

	tooBig := base64.StdEncoding.EncodeToString([]byte("way more than eight"))
	f.hub.HandleEvent(ctx, alice, IncomingEvent{
		Type: EventUploadFile, ConversationID: testConv,
		FileName: "big.png", FileType: "image/png", FileData: tooBig,
	})
	events := eventsOfType(drainEvents(alice), EventError)
	require.Len(t, events, 1)

	f.hub.HandleEvent(ctx, alice, IncomingEvent{
		Type: EventUploadFile, ConversationID: testConv,
		FileName: "run.exe", FileType: "application/x-msdownload",
		FileData: base64.StdEncoding.EncodeToString([]byte("MZ")),
	})
	events = eventsOfType(drainEvents(alice), EventError)
	require.Len(t, events, 1)
	assert.Equal(t, "unsupported file type", events[0].Payload.(ErrorPayload).Message)

	assert.Empty(t, f.files.saved)
	assert.Empty(t, f.msgs.all())
}

func TestUploadFileAcceptsDataURLFraming(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.connect(t, "u-alice")
	f.join(t, alice, testConv)
	drainEvents(alice)

	payload := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("png bytes"))
	f.hub.HandleEvent(ctx, alice, IncomingEvent{
		Type: EventUploadFile, ConversationID: testConv,
		FileName: "photo.png", FileType: "image/png", FileData: payload,
	})

	assert.Empty(t, eventsOfType(drainEvents(alice), EventError))
	assert.Equal(t, []string{"photo.png"}, f.files.saved)
}

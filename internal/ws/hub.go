package ws

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/localmart/messaging/internal/crypto"
	"github.com/localmart/messaging/internal/logger"
	"github.com/localmart/messaging/internal/model"
	"github.com/localmart/messaging/internal/sched"
	"github.com/localmart/messaging/internal/storage"
)

// UserDirectory looks up identities. Accounts with a disabled flag are
// refused at the gateway.
type UserDirectory interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
}

// ConversationStore is the persistence surface the room manager and the
// message pipeline authorize against.
type ConversationStore interface {
	GetByID(ctx context.Context, id, tenantID string) (*model.Conversation, error)
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
	ParticipantIDs(ctx context.Context, conversationID string) ([]string, error)
}

// MessageStore persists messages. Create is atomic: the message row and the
// conversation's last-activity bump commit together or not at all.
type MessageStore interface {
	Create(ctx context.Context, m *model.Message) error
	GetRecent(ctx context.Context, conversationID string, limit int) ([]model.Message, error)
	MarkRead(ctx context.Context, conversationID, userID string) error
}

// PushNotifier sends push notifications. If nil, pushes are not sent.
type PushNotifier interface {
	Notify(ctx context.Context, userID, title, body string, data map[string]string)
}

// SuggestionTrigger kicks off asynchronous reply-suggestion generation.
// The content of suggestions is out of scope here; nil disables the trigger.
type SuggestionTrigger interface {
	Trigger(conversationID, content string)
}

// FileStore persists validated uploads and returns a serving URL.
type FileStore interface {
	Save(fileName, contentType string, data []byte) (string, error)
}

// Config holds the hub's protocol limits and timings.
type Config struct {
	MaxConnections    int
	SendBufferSize    int
	MaxMessageSize    int
	MaxUploadSize     int64
	HistoryLimit      int
	MaxContentLength  int
	PresenceGrace     time.Duration
	TypingTTL         time.Duration
	HeartbeatInterval time.Duration
	QueueTTL          time.Duration
}

func (c *Config) withDefaults() {
	if c.MaxConnections <= 0 {
		c.MaxConnections = 10000
	}
	if c.SendBufferSize <= 0 {
		c.SendBufferSize = 256
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 16 << 20
	}
	if c.MaxUploadSize <= 0 {
		c.MaxUploadSize = 10 << 20
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 50
	}
	if c.MaxContentLength <= 0 {
		c.MaxContentLength = 5000
	}
	if c.PresenceGrace <= 0 {
		c.PresenceGrace = 30 * time.Second
	}
	if c.TypingTTL <= 0 {
		c.TypingTTL = 5 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.QueueTTL <= 0 {
		c.QueueTTL = 24 * time.Hour
	}
}

// Deps are the hub's external collaborators.
type Deps struct {
	Users         UserDirectory
	Conversations ConversationStore
	Messages      MessageStore
	Store         storage.Store
	Cipher        *crypto.Cipher
	Files         FileStore
	Push          PushNotifier
	Suggestions   SuggestionTrigger
	Clock         sched.Clock
}

// Hub owns all active connections and their room subscriptions, and runs the
// heartbeat loop. Register/unregister are serialized through Run.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}
	total   int

	cfg    Config
	users  UserDirectory
	convs  ConversationStore
	msgs   MessageStore
	store  storage.Store
	cipher *crypto.Cipher
	files  FileStore
	push   PushNotifier
	sugg   SuggestionTrigger
	clock  sched.Clock

	// Cancellable timers: presence grace per user, typing expiry per
	// conversation/user pair, plus the heartbeat.
	timersMu     sync.Mutex
	graceTimers  map[string]sched.Timer
	typingTimers map[string]sched.Timer
	heartbeat    sched.Timer

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(cfg Config, deps Deps) *Hub {
	cfg.withDefaults()
	clock := deps.Clock
	if clock == nil {
		clock = sched.Real{}
	}
	return &Hub{
		clients:      make(map[string]map[*Client]struct{}),
		rooms:        make(map[string]map[*Client]struct{}),
		cfg:          cfg,
		users:        deps.Users,
		convs:        deps.Conversations,
		msgs:         deps.Messages,
		store:        deps.Store,
		cipher:       deps.Cipher,
		files:        deps.Files,
		push:         deps.Push,
		sugg:         deps.Suggestions,
		clock:        clock,
		graceTimers:  make(map[string]sched.Timer),
		typingTimers: make(map[string]sched.Timer),
		register:     make(chan *Client, 64),
		unregister:   make(chan *Client, 64),
		done:         make(chan struct{}),
	}
}

// Room keys. A room is a broadcast group of connections.
func userRoom(userID string) string         { return "user:" + userID }
func tenantRoom(tenantID string) string     { return "tenant:" + tenantID }
func conversationRoom(convID string) string { return "conv:" + convID }
func bookingRoom(bookingID string) string   { return "booking:" + bookingID }

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	h.scheduleHeartbeat()
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	h.timersMu.Lock()
	if h.heartbeat != nil {
		h.heartbeat.Stop()
	}
	for key, t := range h.graceTimers {
		t.Stop()
		delete(h.graceTimers, key)
	}
	for key, t := range h.typingTimers {
		t.Stop()
		delete(h.typingTimers, key)
	}
	h.timersMu.Unlock()

	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	allClients := make([]*Client, 0, h.total)
	for _, clients := range h.clients {
		for c := range clients {
			allClients = append(allClients, c)
		}
	}
	h.clients = make(map[string]map[*Client]struct{})
	h.rooms = make(map[string]map[*Client]struct{})
	h.total = 0
	h.mu.Unlock()

	// Close connections outside the lock (network I/O).
	for _, c := range allClients {
		c.Close()
	}
	for _, c := range allClients {
		c.Wait()
	}
}

// addClient registers a connection: joins the implicit personal-inbox and
// tenant rooms, marks the user online and replays the offline queue.
func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.cfg.MaxConnections {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.cfg.MaxConnections, c.identity.UserID)
		c.Close()
		return
	}
	if _, ok := h.clients[c.identity.UserID]; !ok {
		h.clients[c.identity.UserID] = make(map[*Client]struct{})
	}
	h.clients[c.identity.UserID][c] = struct{}{}
	h.total++
	h.joinRoomLocked(c, userRoom(c.identity.UserID))
	h.joinRoomLocked(c, tenantRoom(c.identity.TenantID))
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// A reconnect inside the grace window cancels the pending offline
	// transition; observers are never notified of the blip.
	reconnect := h.cancelGrace(c.identity.UserID)
	rec := storage.PresenceRecord{UserID: c.identity.UserID, Status: storage.StatusOnline, LastSeen: h.clock.Now()}
	if err := h.store.SetPresence(ctx, rec); err != nil {
		logger.Errorf("ws set presence user=%s: %v", c.identity.UserID, err)
	}
	if !reconnect {
		h.broadcastPresence(c.identity.TenantID, rec)
	}

	h.drainQueue(ctx, c)
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	clients, ok := h.clients[c.identity.UserID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := clients[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(clients, c)
	h.total--
	lastClient := len(clients) == 0
	if lastClient {
		delete(h.clients, c.identity.UserID)
	}
	var convIDs []string
	for room := range c.rooms {
		if rest, ok := strings.CutPrefix(room, "conv:"); ok {
			convIDs = append(convIDs, rest)
		}
		h.leaveRoomLocked(c, room)
	}
	h.mu.Unlock()

	// Network I/O outside the lock.
	c.Close()

	if !lastClient {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Typing entries for a user are always cleared on disconnect.
	for _, convID := range convIDs {
		h.clearTyping(ctx, convID, c.identity.UserID)
	}

	rec := storage.PresenceRecord{UserID: c.identity.UserID, Status: storage.StatusOfflinePending, LastSeen: h.clock.Now()}
	if err := h.store.SetPresence(ctx, rec); err != nil {
		logger.Errorf("ws set presence pending user=%s: %v", c.identity.UserID, err)
	}
	h.armGrace(c.identity)
}

// armGrace schedules the offline transition. It fires only if no reconnect
// cancels it within the grace window.
func (h *Hub) armGrace(identity Identity) {
	h.timersMu.Lock()
	if t, ok := h.graceTimers[identity.UserID]; ok {
		t.Stop()
	}
	h.graceTimers[identity.UserID] = h.clock.AfterFunc(h.cfg.PresenceGrace, func() {
		h.timersMu.Lock()
		delete(h.graceTimers, identity.UserID)
		h.timersMu.Unlock()
		if h.userConnected(identity.UserID) {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		rec := storage.PresenceRecord{UserID: identity.UserID, Status: storage.StatusOffline, LastSeen: h.clock.Now()}
		if err := h.store.RemovePresence(ctx, identity.UserID); err != nil {
			logger.Errorf("ws remove presence user=%s: %v", identity.UserID, err)
		}
		h.broadcastPresence(identity.TenantID, rec)
	})
	h.timersMu.Unlock()
}

// cancelGrace stops a pending offline transition and reports whether one
// was pending.
func (h *Hub) cancelGrace(userID string) bool {
	h.timersMu.Lock()
	defer h.timersMu.Unlock()
	t, ok := h.graceTimers[userID]
	if !ok {
		return false
	}
	t.Stop()
	delete(h.graceTimers, userID)
	return true
}

func (h *Hub) broadcastPresence(tenantID string, rec storage.PresenceRecord) {
	h.sendToRoom(tenantRoom(tenantID), OutgoingEvent{
		Type:    EventPresenceChanged,
		Payload: PresencePayload{UserID: rec.UserID, Status: rec.Status, LastSeen: rec.LastSeen},
	}, rec.UserID)
}

// drainQueue replays queued offline payloads to a freshly registered
// connection in enqueue order, then the queue is empty. Entries are cleared
// once emission is issued, not acknowledged: a client dropping mid-drain
// misses the remainder until the next enqueue cycle.
func (h *Hub) drainQueue(ctx context.Context, c *Client) {
	entries, err := h.store.Drain(ctx, c.identity.UserID)
	if err != nil {
		logger.Errorf("ws drain queue user=%s: %v", c.identity.UserID, err)
		return
	}
	for _, e := range entries {
		h.sendToClient(c, OutgoingEvent{Type: EventQueuedMessage, Payload: json.RawMessage(e.Payload)})
	}
}

// HandleEvent dispatches incoming WebSocket events.
func (h *Hub) HandleEvent(ctx context.Context, c *Client, event IncomingEvent) {
	switch event.Type {
	case EventJoinConversation:
		h.handleJoinConversation(ctx, c, event)
	case EventSendMessage:
		h.handleSendMessage(ctx, c, event)
	case EventTyping:
		h.handleTyping(ctx, c, event)
	case EventPresenceUpdate:
		h.handlePresenceUpdate(ctx, c, event)
	case EventUploadFile:
		h.handleUploadFile(ctx, c, event)
	case EventSubscribeBooking:
		h.handleSubscribeBooking(c, event)
	case EventUnsubscribeBooking:
		h.handleUnsubscribeBooking(c, event)
	case EventRequestSuggestions:
		h.handleRequestSuggestions(c, event)
	default:
		h.sendError(c, "unknown event type")
	}
}

// handleSubscribeBooking joins the booking-update room. Booking internals
// live outside the messaging core; updates arrive via PublishBookingUpdate.
func (h *Hub) handleSubscribeBooking(c *Client, event IncomingEvent) {
	if event.BookingID == "" {
		h.sendError(c, "booking_id required")
		return
	}
	h.mu.Lock()
	h.joinRoomLocked(c, bookingRoom(event.BookingID))
	h.mu.Unlock()
}

func (h *Hub) handleUnsubscribeBooking(c *Client, event IncomingEvent) {
	if event.BookingID == "" {
		h.sendError(c, "booking_id required")
		return
	}
	h.mu.Lock()
	h.leaveRoomLocked(c, bookingRoom(event.BookingID))
	h.mu.Unlock()
}

// PublishBookingUpdate fans an opaque booking update out to subscribers.
// Called from the internal HTTP endpoint.
func (h *Hub) PublishBookingUpdate(bookingID string, update json.RawMessage) {
	h.sendToRoom(bookingRoom(bookingID), OutgoingEvent{
		Type:    EventBookingUpdate,
		Payload: BookingUpdatePayload{BookingID: bookingID, Update: update},
	}, "")
}

// handleRequestSuggestions is a stub: suggestion generation is owned by an
// external service.
func (h *Hub) handleRequestSuggestions(c *Client, event IncomingEvent) {
	if event.ConversationID == "" {
		h.sendError(c, "conversation_id required")
		return
	}
	if h.sugg != nil {
		go h.sugg.Trigger(event.ConversationID, event.Context)
	}
	h.sendToClient(c, OutgoingEvent{
		Type:    EventAISuggestions,
		Payload: AISuggestionsPayload{ConversationID: event.ConversationID, Suggestions: []string{}},
	})
}

// scheduleHeartbeat arms the periodic maintenance sweep.
func (h *Hub) scheduleHeartbeat() {
	h.timersMu.Lock()
	h.heartbeat = h.clock.AfterFunc(h.cfg.HeartbeatInterval, func() {
		h.sweep()
		select {
		case <-h.done:
		default:
			h.scheduleHeartbeat()
		}
	})
	h.timersMu.Unlock()
}

// sweep is the coarse safety net on top of the per-entry timers: clears all
// typing sets unconditionally and prunes offline-queue entries past their TTL.
func (h *Hub) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	h.timersMu.Lock()
	for key, t := range h.typingTimers {
		t.Stop()
		delete(h.typingTimers, key)
	}
	h.timersMu.Unlock()

	cleared, err := h.store.ClearAllTyping(ctx)
	if err != nil {
		logger.Errorf("heartbeat clear typing: %v", err)
	}
	for _, convID := range cleared {
		h.sendToRoom(conversationRoom(convID), OutgoingEvent{
			Type:    EventUserTyping,
			Payload: TypingPayload{ConversationID: convID, TypingUsers: []string{}},
		}, "")
	}

	if err := h.store.PruneQueues(ctx, h.clock.Now().Add(-h.cfg.QueueTTL)); err != nil {
		logger.Errorf("heartbeat prune queues: %v", err)
	}
}

func (h *Hub) joinRoomLocked(c *Client, room string) {
	if _, ok := h.rooms[room]; !ok {
		h.rooms[room] = make(map[*Client]struct{})
	}
	h.rooms[room][c] = struct{}{}
	c.rooms[room] = struct{}{}
}

func (h *Hub) leaveRoomLocked(c *Client, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(c.rooms, room)
}

// userConnected reports whether the user has at least one live connection.
func (h *Hub) userConnected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

// sendToRoom fans an event out to every room member, except connections of
// exceptUser when non-empty.
func (h *Hub) sendToRoom(room string, event OutgoingEvent, exceptUser string) {
	h.mu.RLock()
	members, ok := h.rooms[room]
	if !ok {
		h.mu.RUnlock()
		return
	}
	targets := make([]*Client, 0, len(members))
	for c := range members {
		if exceptUser != "" && c.identity.UserID == exceptUser {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, event)
	}
}

func (h *Hub) sendToUser(userID string, event OutgoingEvent) {
	h.mu.RLock()
	clients, ok := h.clients[userID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	targets := make([]*Client, 0, len(clients))
	for c := range clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, event)
	}
}

func (h *Hub) sendToClient(c *Client, event OutgoingEvent) {
	select {
	case c.send <- event:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.identity.UserID)
		c.Close()
	}
}

// sendError emits a scoped error event to the originating connection only.
func (h *Hub) sendError(c *Client, msg string) {
	h.sendToClient(c, OutgoingEvent{Type: EventError, Payload: ErrorPayload{Message: msg}})
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

package ws

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/localmart/messaging/internal/logger"
	"github.com/localmart/messaging/internal/model"
)

// handleSendMessage runs the full pipeline: validate, authorize, clear the
// sender's typing entry, encrypt, persist atomically, fan out plaintext to
// participants and queue for the offline ones.
func (h *Hub) handleSendMessage(ctx context.Context, c *Client, event IncomingEvent) {
	content := strings.TrimSpace(event.Content)
	if event.ConversationID == "" {
		h.sendError(c, "conversation_id required")
		return
	}
	if content == "" && len(event.MediaURLs) == 0 {
		h.sendError(c, "message content required")
		return
	}
	if len(content) > h.cfg.MaxContentLength {
		h.sendError(c, fmt.Sprintf("message exceeds %d characters", h.cfg.MaxContentLength))
		return
	}
	msgType := event.MessageType
	if msgType == "" {
		msgType = model.MessageTypeText
	}
	if !model.ValidMessageType(msgType) {
		h.sendError(c, "invalid message type")
		return
	}
	for _, raw := range event.MediaURLs {
		if !validMediaURL(raw) {
			h.sendError(c, "invalid media url")
			return
		}
	}

	var replyTo *string
	if event.ReplyToMessageID != "" {
		id := event.ReplyToMessageID
		replyTo = &id
	}
	h.persistAndFanOut(ctx, c, event.ConversationID, content, msgType, event.MediaURLs, replyTo)
}

// Upload size and type limits. The allowlist is checked against the declared
// content type; the serving layer never executes uploads.
var allowedUploadTypes = map[string]struct{}{
	"image/jpeg":      {},
	"image/png":       {},
	"image/gif":       {},
	"image/webp":      {},
	"application/pdf": {},
	"text/plain":      {},
	"audio/mpeg":      {},
	"audio/ogg":       {},
	"audio/webm":      {},
	"video/mp4":       {},
	"video/webm":      {},
}

// handleUploadFile decodes an inline base64 upload, validates size and type,
// stores the file and sends a media message referencing it.
func (h *Hub) handleUploadFile(ctx context.Context, c *Client, event IncomingEvent) {
	if event.ConversationID == "" {
		h.sendError(c, "conversation_id required")
		return
	}
	if event.FileName == "" || event.FileData == "" {
		h.sendError(c, "file_name and file_data required")
		return
	}
	if _, ok := allowedUploadTypes[event.FileType]; !ok {
		h.sendError(c, "unsupported file type")
		return
	}
	if event.FileSize > h.cfg.MaxUploadSize {
		h.sendError(c, fmt.Sprintf("file exceeds %d bytes", h.cfg.MaxUploadSize))
		return
	}
	if h.files == nil {
		h.sendError(c, "uploads disabled")
		return
	}

	raw := event.FileData
	// Tolerate data-URL framing from browser FileReader clients.
	if i := strings.Index(raw, ";base64,"); i >= 0 {
		raw = raw[i+len(";base64,"):]
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		h.sendError(c, "file_data is not valid base64")
		return
	}
	if int64(len(data)) > h.cfg.MaxUploadSize {
		h.sendError(c, fmt.Sprintf("file exceeds %d bytes", h.cfg.MaxUploadSize))
		return
	}

	fileURL, err := h.files.Save(event.FileName, event.FileType, data)
	if err != nil {
		logger.Errorf("ws upload save user=%s name=%s: %v", c.identity.UserID, event.FileName, err)
		h.sendError(c, "upload failed")
		return
	}

	h.persistAndFanOut(ctx, c, event.ConversationID,
		strings.TrimSpace(event.Content), messageTypeForMIME(event.FileType), []string{fileURL}, nil)
}

func messageTypeForMIME(contentType string) model.MessageType {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return model.MessageTypeImage
	case strings.HasPrefix(contentType, "audio/"):
		return model.MessageTypeAudio
	case strings.HasPrefix(contentType, "video/"):
		return model.MessageTypeVideo
	default:
		return model.MessageTypeFile
	}
}

// validMediaURL accepts absolute http(s) URLs and gateway-local paths.
func validMediaURL(raw string) bool {
	if strings.HasPrefix(raw, "/") {
		return true
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// persistAndFanOut is shared by send_message and upload_file. Authorization
// is re-checked here on every send: room membership alone never grants the
// right to post.
func (h *Hub) persistAndFanOut(ctx context.Context, c *Client, conversationID, content string, msgType model.MessageType, mediaURLs []string, replyTo *string) {
	ok, err := h.convs.IsParticipant(ctx, conversationID, c.identity.UserID)
	if err != nil {
		logger.Errorf("ws send participant check conv=%s user=%s: %v", conversationID, c.identity.UserID, err)
		h.sendError(c, "send failed")
		return
	}
	if !ok {
		h.sendError(c, "forbidden")
		return
	}

	// Sending implies the user stopped typing.
	h.clearTyping(ctx, conversationID, c.identity.UserID)

	stored := content
	if stored != "" && h.cipher != nil {
		stored, err = h.cipher.Encrypt(content)
		if err != nil {
			logger.Errorf("ws encrypt conv=%s: %v", conversationID, err)
			h.sendError(c, "send failed")
			return
		}
	}

	msg := &model.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       c.identity.UserID,
		Content:        stored,
		Type:           msgType,
		MediaURLs:      mediaURLs,
		ReplyToID:      replyTo,
		CreatedAt:      h.clock.Now(),
	}
	if err := h.msgs.Create(ctx, msg); err != nil {
		logger.Errorf("ws persist message conv=%s: %v", conversationID, err)
		h.sendError(c, "send failed")
		return
	}

	// Outbound copies carry plaintext; ciphertext never leaves storage.
	out := *msg
	out.Content = content
	if sender, err := h.users.GetByID(ctx, c.identity.UserID); err == nil {
		pub := sender.ToPublic()
		out.Sender = &pub
	}

	participants, err := h.convs.ParticipantIDs(ctx, conversationID)
	if err != nil {
		logger.Errorf("ws fan-out participants conv=%s: %v", conversationID, err)
		h.sendError(c, "send failed")
		return
	}

	event := OutgoingEvent{Type: EventNewMessage, Payload: out}
	for _, userID := range participants {
		if h.userConnected(userID) {
			h.sendToUser(userID, event)
			continue
		}
		if userID == c.identity.UserID {
			continue
		}
		h.queueForOffline(ctx, userID, &out)
	}
}

// queueForOffline stores the plaintext message for replay on the recipient's
// next connect and fires a push notification.
func (h *Hub) queueForOffline(ctx context.Context, userID string, msg *model.Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		logger.Errorf("ws queue marshal user=%s: %v", userID, err)
		return
	}
	if err := h.store.Enqueue(ctx, userID, payload, h.clock.Now()); err != nil {
		logger.Errorf("ws enqueue user=%s: %v", userID, err)
	}
	if h.push != nil {
		preview := msg.Content
		if len(preview) > 120 {
			preview = preview[:120]
		}
		if preview == "" && len(msg.MediaURLs) > 0 {
			preview = "Sent an attachment"
		}
		go h.push.Notify(context.Background(), userID, "New message", preview, map[string]string{
			"conversation_id": msg.ConversationID,
			"message_id":      msg.ID,
		})
	}
}

package realtime

import (
	"encoding/json"
	"time"
)

// MessageType identifies the payload carried by an Envelope.
type MessageType string

// Inbound message types sent by clients.
const (
	TypeTypingStatus MessageType = "typing_status"
	TypeStatusUpdate MessageType = "status_update"
	TypeChatMessage  MessageType = "chat_message"
	// TypeReadReceipt is used in both directions.
	TypeReadReceipt MessageType = "read_receipt"
)

// Outbound message types pushed by the server.
const (
	TypeConnectionEstablished MessageType = "connection_established"
	TypeNewMessage            MessageType = "new_message"
	TypeUserTyping            MessageType = "user_typing"
	TypeUserStatusChanged     MessageType = "user_status_changed"
	TypeChatCreated           MessageType = "chat_created"
	TypeError                 MessageType = "error"
)

// Envelope is the wire frame for every WebSocket message in both directions.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type outboundEnvelope struct {
	Type    MessageType `json:"type"`
	Payload any         `json:"payload"`
}

func encodeEnvelope(t MessageType, payload any) ([]byte, error) {
	return json.Marshal(outboundEnvelope{Type: t, Payload: payload})
}

// TypingStatusRequest is the payload of an inbound typing_status frame.
type TypingStatusRequest struct {
	ChatID   string `json:"chatId" validate:"required"`
	IsTyping *bool  `json:"isTyping" validate:"required"`
}

// ReadReceiptRequest is the payload of an inbound read_receipt frame.
type ReadReceiptRequest struct {
	ChatID    string `json:"chatId" validate:"required"`
	MessageID string `json:"messageId" validate:"required"`
}

// StatusUpdateRequest is the payload of an inbound status_update frame.
// Offline is derived from the connection lifecycle and cannot be requested.
type StatusUpdateRequest struct {
	Status Status `json:"status" validate:"required,oneof=online away"`
}

// ChatMessageRequest is the payload of an inbound chat_message frame. The
// message is handed to the MessageHandler, which persists it before fan-out.
type ChatMessageRequest struct {
	ChatID    string `json:"chatId" validate:"required"`
	Content   string `json:"content" validate:"required,max=4000"`
	Type      string `json:"type,omitempty" validate:"omitempty,oneof=text image video audio file"`
	MediaURL  string `json:"mediaUrl,omitempty" validate:"omitempty,url"`
	ReplyToID string `json:"replyToId,omitempty"`
}

// ConnectionEstablishedEvent greets a freshly admitted connection.
type ConnectionEstablishedEvent struct {
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
	Message  string `json:"message"`
}

// TypingEvent is pushed to the other participants of a chat.
type TypingEvent struct {
	ChatID   string `json:"chatId"`
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
	IsTyping bool   `json:"isTyping"`
}

// ReadReceiptEvent is pushed to every participant of a chat, reader included.
type ReadReceiptEvent struct {
	ChatID    string    `json:"chatId"`
	MessageID string    `json:"messageId"`
	ReaderID  string    `json:"readerId"`
	Timestamp time.Time `json:"timestamp"`
}

// PresenceEvent announces a presence transition.
type PresenceEvent struct {
	UserID    string     `json:"userId"`
	Status    Status     `json:"status"`
	LastSeen  *time.Time `json:"lastSeen,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// ErrorEvent is returned to a client whose frame could not be handled.
type ErrorEvent struct {
	Message string `json:"message"`
}

func presenceEvent(rec PresenceRecord, at time.Time) PresenceEvent {
	ev := PresenceEvent{UserID: rec.UserID, Status: rec.Status, Timestamp: at}
	if !rec.LastSeen.IsZero() {
		lastSeen := rec.LastSeen
		ev.LastSeen = &lastSeen
	}
	return ev
}

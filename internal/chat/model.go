//go:generate go run go.uber.org/mock/mockgen -source=model.go -destination=mocks/mock_chat.go -package=mocks

// Package chat is the domain layer behind the REST surface and the inbound
// chat_message and read_receipt frames. It writes through a Store first and
// only then notifies connected participants.
package chat

import (
	"context"
	"time"

	"github.com/Tyrowin/gochat-live/internal/realtime"
)

// ChatType distinguishes one-to-one chats from groups.
type ChatType string

// Chat types.
const (
	ChatDirect ChatType = "direct"
	ChatGroup  ChatType = "group"
)

// MessageType is the kind of content a message carries.
type MessageType string

// Message types.
const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageVideo MessageType = "video"
	MessageAudio MessageType = "audio"
	MessageFile  MessageType = "file"
)

// Chat is a conversation between a fixed set of participants.
type Chat struct {
	ID            string    `json:"id"`
	Name          string    `json:"name,omitempty"`
	Type          ChatType  `json:"type"`
	CreatedBy     string    `json:"createdBy"`
	Participants  []string  `json:"participants"`
	LastMessageID string    `json:"lastMessageId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Message is a persisted chat message.
type Message struct {
	ID        string      `json:"id"`
	ChatID    string      `json:"chatId"`
	SenderID  string      `json:"senderId"`
	Content   string      `json:"content"`
	Type      MessageType `json:"type"`
	MediaURL  string      `json:"mediaUrl,omitempty"`
	ReplyToID string      `json:"replyToId,omitempty"`
	ReadBy    []string    `json:"readBy"`
	CreatedAt time.Time   `json:"createdAt"`
}

// Store persists chats and messages. Lookups of unknown ids return
// errs.ErrChatNotFound or errs.ErrMessageNotFound.
type Store interface {
	CreateChat(ctx context.Context, chat Chat) error
	GetChat(ctx context.Context, chatID string) (Chat, error)
	PersistMessage(ctx context.Context, msg Message) error
	GetMessage(ctx context.Context, chatID, messageID string) (Message, error)
	MarkRead(ctx context.Context, chatID, messageID, readerID string) (Message, error)
	ListMessages(ctx context.Context, chatID string, limit int) ([]Message, error)
	AddParticipant(ctx context.Context, chatID, userID string) (Chat, error)
	RemoveParticipant(ctx context.Context, chatID, userID string) (Chat, error)
}

// Notifier pushes persisted changes to connected participants.
type Notifier interface {
	NotifyNewMessage(ctx context.Context, chatID string, message any, senderID string) (realtime.DeliveryReport, error)
	NotifyReadReceipt(ctx context.Context, chatID, messageID, readerID string) (realtime.DeliveryReport, error)
	NotifyChatCreated(ctx context.Context, chatID string, chat any, creatorID string) (realtime.DeliveryReport, error)
}

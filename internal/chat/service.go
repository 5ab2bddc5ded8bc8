package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/Tyrowin/gochat-live/internal/errs"
	"github.com/Tyrowin/gochat-live/internal/realtime"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// CreateChatInput describes a new chat. The creator is always added to the
// participants.
type CreateChatInput struct {
	Name         string   `json:"name" validate:"max=100"`
	Type         ChatType `json:"type" validate:"required,oneof=direct group"`
	Participants []string `json:"participants" validate:"required,min=1,dive,required"`
}

// SendMessageInput describes a message to post into a chat.
type SendMessageInput struct {
	ChatID    string      `json:"chatId" validate:"required"`
	Content   string      `json:"content" validate:"required,max=4000"`
	Type      MessageType `json:"type" validate:"omitempty,oneof=text image video audio file"`
	MediaURL  string      `json:"mediaUrl" validate:"omitempty,url"`
	ReplyToID string      `json:"replyToId"`
}

// Service implements the chat use cases. Every mutation is persisted before
// the Notifier is called; notification failures are logged and never undo
// the write.
type Service struct {
	store    Store
	notifier Notifier
	validate *validator.Validate
	log      zerolog.Logger
	now      func() time.Time
}

// NewService creates a Service.
func NewService(store Store, notifier Notifier, log zerolog.Logger) *Service {
	return &Service{
		store:    store,
		notifier: notifier,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      log.With().Str("component", "chat").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateChat creates a chat owned by creatorID and tells the other
// participants about it.
func (s *Service) CreateChat(ctx context.Context, creatorID string, in CreateChatInput) (Chat, error) {
	if err := s.validate.Struct(in); err != nil {
		return Chat{}, fmt.Errorf("%w: %v", errs.ErrInvalidInput, err)
	}

	participants := lo.Uniq(append([]string{creatorID}, in.Participants...))
	switch in.Type {
	case ChatDirect:
		if len(participants) != 2 {
			return Chat{}, fmt.Errorf("%w: a direct chat needs exactly two participants", errs.ErrInvalidInput)
		}
	case ChatGroup:
		if in.Name == "" {
			return Chat{}, fmt.Errorf("%w: a group chat needs a name", errs.ErrInvalidInput)
		}
	}

	now := s.now()
	chat := Chat{
		ID:           uuid.Must(uuid.NewV7()).String(),
		Name:         in.Name,
		Type:         in.Type,
		CreatedBy:    creatorID,
		Participants: participants,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateChat(ctx, chat); err != nil {
		return Chat{}, fmt.Errorf("create chat: %w", err)
	}

	if _, err := s.notifier.NotifyChatCreated(ctx, chat.ID, chat, creatorID); err != nil {
		s.log.Warn().Err(err).Str("chat_id", chat.ID).Msg("Chat created but participants were not notified")
	}
	return chat, nil
}

// Chat returns chatID if userID participates in it.
func (s *Service) Chat(ctx context.Context, userID, chatID string) (Chat, error) {
	return s.memberChat(ctx, userID, chatID)
}

// SendMessage persists a message from senderID and then pushes it to the
// other participants.
func (s *Service) SendMessage(ctx context.Context, senderID string, in SendMessageInput) (Message, error) {
	if err := s.validate.Struct(in); err != nil {
		return Message{}, fmt.Errorf("%w: %v", errs.ErrInvalidInput, err)
	}
	if _, err := s.memberChat(ctx, senderID, in.ChatID); err != nil {
		return Message{}, err
	}
	if in.ReplyToID != "" {
		if _, err := s.store.GetMessage(ctx, in.ChatID, in.ReplyToID); err != nil {
			return Message{}, fmt.Errorf("reply target: %w", err)
		}
	}

	msgType := in.Type
	if msgType == "" {
		msgType = MessageText
	}
	msg := Message{
		ID:        uuid.Must(uuid.NewV7()).String(),
		ChatID:    in.ChatID,
		SenderID:  senderID,
		Content:   in.Content,
		Type:      msgType,
		MediaURL:  in.MediaURL,
		ReplyToID: in.ReplyToID,
		ReadBy:    []string{senderID},
		CreatedAt: s.now(),
	}
	if err := s.store.PersistMessage(ctx, msg); err != nil {
		return Message{}, fmt.Errorf("persist message: %w", err)
	}

	report, err := s.notifier.NotifyNewMessage(ctx, msg.ChatID, msg, senderID)
	if err != nil {
		s.log.Warn().Err(err).Str("message_id", msg.ID).Msg("Message persisted but not broadcast")
	} else {
		s.log.Debug().Str("message_id", msg.ID).Int("delivered", report.Delivered).Msg("Message sent")
	}
	return msg, nil
}

// MarkRead records that readerID has read messageID and pushes a receipt to
// every participant.
func (s *Service) MarkRead(ctx context.Context, readerID, chatID, messageID string) (Message, error) {
	if chatID == "" || messageID == "" {
		return Message{}, fmt.Errorf("%w: chat and message ids are required", errs.ErrInvalidInput)
	}
	if _, err := s.memberChat(ctx, readerID, chatID); err != nil {
		return Message{}, err
	}

	msg, err := s.store.MarkRead(ctx, chatID, messageID, readerID)
	if err != nil {
		return Message{}, fmt.Errorf("mark read: %w", err)
	}

	if _, err := s.notifier.NotifyReadReceipt(ctx, chatID, messageID, readerID); err != nil {
		s.log.Warn().Err(err).Str("message_id", messageID).Msg("Read receipt stored but not broadcast")
	}
	return msg, nil
}

// Messages returns up to limit of the most recent messages in chatID, oldest
// first. It is how clients catch up on anything missed while offline.
func (s *Service) Messages(ctx context.Context, userID, chatID string, limit int) ([]Message, error) {
	if _, err := s.memberChat(ctx, userID, chatID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	limit = min(limit, maxPageSize)

	msgs, err := s.store.ListMessages(ctx, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// AddParticipant adds userID to a group chat. Only the chat's creator may
// change membership. Broadcasts resolve participants at send time, so the
// new member receives events from the next one on.
func (s *Service) AddParticipant(ctx context.Context, requesterID, chatID, userID string) (Chat, error) {
	if _, err := s.manageableChat(ctx, requesterID, chatID, userID); err != nil {
		return Chat{}, err
	}

	chat, err := s.store.AddParticipant(ctx, chatID, userID)
	if err != nil {
		return Chat{}, fmt.Errorf("add participant: %w", err)
	}
	s.log.Info().Str("chat_id", chatID).Str("user_id", userID).Str("by", requesterID).Msg("Participant added")
	return chat, nil
}

// RemoveParticipant removes userID from a group chat. The creator cannot
// remove themselves.
func (s *Service) RemoveParticipant(ctx context.Context, requesterID, chatID, userID string) (Chat, error) {
	if userID == requesterID {
		return Chat{}, fmt.Errorf("%w: the creator cannot remove themselves", errs.ErrInvalidInput)
	}
	if _, err := s.manageableChat(ctx, requesterID, chatID, userID); err != nil {
		return Chat{}, err
	}

	chat, err := s.store.RemoveParticipant(ctx, chatID, userID)
	if err != nil {
		return Chat{}, fmt.Errorf("remove participant: %w", err)
	}
	s.log.Info().Str("chat_id", chatID).Str("user_id", userID).Str("by", requesterID).Msg("Participant removed")
	return chat, nil
}

func (s *Service) manageableChat(ctx context.Context, requesterID, chatID, userID string) (Chat, error) {
	if userID == "" {
		return Chat{}, fmt.Errorf("%w: user id is required", errs.ErrInvalidInput)
	}
	chat, err := s.memberChat(ctx, requesterID, chatID)
	if err != nil {
		return Chat{}, err
	}
	if chat.Type != ChatGroup {
		return Chat{}, fmt.Errorf("%w: direct chats have fixed participants", errs.ErrInvalidInput)
	}
	if chat.CreatedBy != requesterID {
		return Chat{}, errs.ErrForbidden
	}
	return chat, nil
}

// SubmitMessage handles an inbound chat_message frame.
func (s *Service) SubmitMessage(ctx context.Context, senderID string, req realtime.ChatMessageRequest) error {
	_, err := s.SendMessage(ctx, senderID, SendMessageInput{
		ChatID:    req.ChatID,
		Content:   req.Content,
		Type:      MessageType(req.Type),
		MediaURL:  req.MediaURL,
		ReplyToID: req.ReplyToID,
	})
	return err
}

// SubmitReadReceipt handles an inbound read_receipt frame.
func (s *Service) SubmitReadReceipt(ctx context.Context, readerID, chatID, messageID string) error {
	_, err := s.MarkRead(ctx, readerID, chatID, messageID)
	return err
}

func (s *Service) memberChat(ctx context.Context, userID, chatID string) (Chat, error) {
	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		if errors.Is(err, errs.ErrChatNotFound) {
			return Chat{}, err
		}
		return Chat{}, fmt.Errorf("load chat %s: %w", chatID, err)
	}
	if !lo.Contains(chat.Participants, userID) {
		return Chat{}, errs.ErrNotParticipant
	}
	return chat, nil
}

var _ realtime.MessageHandler = (*Service)(nil)

package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/gochat-live/internal/errs"
	"github.com/Tyrowin/gochat-live/internal/metrics"
)

const frameTimeout = 5 * time.Second

// Error messages returned to clients in error envelopes.
const (
	msgInvalidFormat   = "Invalid message format"
	msgUnsupportedType = "Unsupported message type"
	msgUnavailable     = "Message submission is not available on this connection"
	msgInternal        = "Internal error"
)

// MessageHandler is the domain layer behind inbound chat_message and
// read_receipt frames. Implementations persist first and then call the hub's
// Notify methods.
type MessageHandler interface {
	SubmitMessage(ctx context.Context, senderID string, req ChatMessageRequest) error
	SubmitReadReceipt(ctx context.Context, readerID, chatID, messageID string) error
}

// Router decodes inbound envelopes and dispatches them by type. Malformed
// frames are answered with an error envelope; frames the sender is not
// allowed to send are dropped and only logged.
type Router struct {
	hub      *Hub
	validate *validator.Validate
	metrics  *metrics.Registry
	log      zerolog.Logger
}

// NewRouter creates a router bound to hub.
func NewRouter(h *Hub, m *metrics.Registry, log zerolog.Logger) *Router {
	return &Router{
		hub:      h,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		metrics:  m,
		log:      log.With().Str("component", "router").Logger(),
	}
}

// Route handles one raw inbound frame from c.
func (r *Router) Route(ctx context.Context, c *Connection, raw []byte) {
	defer recoverPanic(c.log, "route")

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Type == "" {
		c.log.Debug().Err(err).Msg("Malformed frame")
		r.replyError(c, msgInvalidFormat)
		return
	}
	r.metrics.FramesReceived.WithLabelValues(labelFor(env.Type)).Inc()

	ctx, cancel := context.WithTimeout(ctx, frameTimeout)
	defer cancel()

	var err error
	switch env.Type {
	case TypeTypingStatus:
		err = r.handleTyping(ctx, c, env.Payload)
	case TypeReadReceipt:
		err = r.handleReadReceipt(ctx, c, env.Payload)
	case TypeStatusUpdate:
		err = r.handleStatusUpdate(c, env.Payload)
	case TypeChatMessage:
		err = r.handleChatMessage(ctx, c, env.Payload)
	default:
		c.log.Debug().Str("type", string(env.Type)).Msg("Unsupported frame type")
		r.replyError(c, msgUnsupportedType)
		return
	}

	r.handleError(c, env.Type, err)
}

func (r *Router) handleTyping(ctx context.Context, c *Connection, payload json.RawMessage) error {
	var req TypingStatusRequest
	if err := r.decode(payload, &req); err != nil {
		return err
	}
	return r.hub.typing.SetTyping(ctx, c.userID, c.username, req.ChatID, *req.IsTyping)
}

func (r *Router) handleReadReceipt(ctx context.Context, c *Connection, payload json.RawMessage) error {
	var req ReadReceiptRequest
	if err := r.decode(payload, &req); err != nil {
		return err
	}
	if h := r.hub.messageHandler(); h != nil {
		return h.SubmitReadReceipt(ctx, c.userID, req.ChatID, req.MessageID)
	}
	_, err := r.hub.NotifyReadReceipt(ctx, req.ChatID, req.MessageID, c.userID)
	return err
}

func (r *Router) handleStatusUpdate(c *Connection, payload json.RawMessage) error {
	var req StatusUpdateRequest
	if err := r.decode(payload, &req); err != nil {
		return err
	}
	return r.hub.updateStatus(c, req.Status)
}

func (r *Router) handleChatMessage(ctx context.Context, c *Connection, payload json.RawMessage) error {
	var req ChatMessageRequest
	if err := r.decode(payload, &req); err != nil {
		return err
	}
	h := r.hub.messageHandler()
	if h == nil {
		r.replyError(c, msgUnavailable)
		return nil
	}
	return h.SubmitMessage(ctx, c.userID, req)
}

// decode unmarshals and validates a payload. Failures wrap errs.ErrInvalidInput.
func (r *Router) decode(payload json.RawMessage, dst any) error {
	if len(payload) == 0 {
		return fmt.Errorf("%w: missing payload", errs.ErrInvalidInput)
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrInvalidInput, err)
	}
	if err := r.validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrInvalidInput, err)
	}
	return nil
}

// handleError maps a handler error onto the client-facing behaviour.
func (r *Router) handleError(c *Connection, t MessageType, err error) {
	switch {
	case err == nil:
	case errors.Is(err, errs.ErrInvalidInput), errors.Is(err, errs.ErrInvalidStatus):
		c.log.Debug().Err(err).Str("type", string(t)).Msg("Rejected frame")
		r.replyError(c, msgInvalidFormat)
	case errors.Is(err, errs.ErrNotParticipant), errors.Is(err, errs.ErrChatNotFound), errors.Is(err, errs.ErrMessageNotFound):
		c.log.Warn().Err(err).Str("type", string(t)).Msg("Dropped unauthorized frame")
	default:
		c.log.Error().Err(err).Str("type", string(t)).Msg("Failed to handle frame")
		r.replyError(c, msgInternal)
	}
}

func (r *Router) replyError(c *Connection, message string) {
	if !r.hub.fanout.send(c, TypeError, ErrorEvent{Message: message}) {
		c.log.Debug().Msg("Could not queue error reply")
	}
}

// labelFor keeps the frames_received label set bounded.
func labelFor(t MessageType) string {
	switch t {
	case TypeTypingStatus, TypeReadReceipt, TypeStatusUpdate, TypeChatMessage:
		return string(t)
	default:
		return "unknown"
	}
}

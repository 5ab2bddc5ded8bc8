package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/Tyrowin/gochat-live/internal/auth"
	"github.com/Tyrowin/gochat-live/internal/errs"
	"github.com/Tyrowin/gochat-live/internal/metrics"
)

const welcomeMessage = "Connected to chat server"

// ParticipantLookup answers which users belong to a chat. The answer is
// fetched fresh for every broadcast.
type ParticipantLookup interface {
	Participants(ctx context.Context, chatID string) ([]string, error)
}

// RateLimit bounds inbound frames per connection: Burst frames, refilled
// over RefillInterval.
type RateLimit struct {
	Burst          int
	RefillInterval time.Duration
}

// Options tunes the hub. Zero fields take the defaults from DefaultOptions.
type Options struct {
	HeartbeatInterval time.Duration
	TypingTimeout     time.Duration
	WriteWait         time.Duration
	MaxMessageSize    int64
	SendBufferSize    int
	RateLimit         RateLimit
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		HeartbeatInterval: 30 * time.Second,
		TypingTimeout:     5 * time.Second,
		WriteWait:         10 * time.Second,
		MaxMessageSize:    4096,
		SendBufferSize:    256,
		RateLimit:         RateLimit{Burst: 5, RefillInterval: time.Second},
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = d.HeartbeatInterval
	}
	if o.TypingTimeout <= 0 {
		o.TypingTimeout = d.TypingTimeout
	}
	if o.WriteWait <= 0 {
		o.WriteWait = d.WriteWait
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = d.MaxMessageSize
	}
	if o.SendBufferSize <= 0 {
		o.SendBufferSize = d.SendBufferSize
	}
	if o.RateLimit.Burst <= 0 {
		o.RateLimit.Burst = d.RateLimit.Burst
	}
	if o.RateLimit.RefillInterval <= 0 {
		o.RateLimit.RefillInterval = d.RateLimit.RefillInterval
	}
	return o
}

// Hub owns every piece of live-connection state: the registry, presence,
// typing sessions and the liveness monitor. All access goes through its
// methods; there is no package-level state.
type Hub struct {
	opts         Options
	participants ParticipantLookup
	metrics      *metrics.Registry
	log          zerolog.Logger

	registry *Registry
	presence *PresenceStore
	fanout   *Fanout
	typing   *TypingTracker
	monitor  *LivenessMonitor
	router   *Router

	handlerMu sync.RWMutex
	handler   MessageHandler

	// conns holds every open connection, including ones superseded in the
	// registry, so the liveness monitor can reap orphans.
	connsMu sync.RWMutex
	conns   map[*Connection]struct{}
	closing bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub creates a hub. Run must be called to start heartbeats.
func NewHub(opts Options, participants ParticipantLookup, m *metrics.Registry, log zerolog.Logger) *Hub {
	opts = opts.withDefaults()
	log = log.With().Str("component", "hub").Logger()
	ctx, cancel := context.WithCancel(context.Background())

	h := &Hub{
		opts:         opts,
		participants: participants,
		metrics:      m,
		log:          log,
		registry:     NewRegistry(),
		presence:     NewPresenceStore(),
		conns:        make(map[*Connection]struct{}),
		ctx:          ctx,
		cancel:       cancel,
	}
	h.fanout = NewFanout(h.registry, m, log)
	h.typing = NewTypingTracker(opts.TypingTimeout, participants, h.fanout, m, log)
	h.monitor = NewLivenessMonitor(opts.HeartbeatInterval, opts.WriteWait, h.snapshot, h.reap, m, log)
	h.router = NewRouter(h, m, log)
	return h
}

// SetMessageHandler installs the domain layer that persists inbound chat
// messages and read receipts.
func (h *Hub) SetMessageHandler(handler MessageHandler) {
	h.handlerMu.Lock()
	defer h.handlerMu.Unlock()
	h.handler = handler
}

func (h *Hub) messageHandler() MessageHandler {
	h.handlerMu.RLock()
	defer h.handlerMu.RUnlock()
	return h.handler
}

// Registry exposes the connection registry.
func (h *Hub) Registry() *Registry { return h.registry }

// Presence exposes the presence store.
func (h *Hub) Presence() *PresenceStore { return h.presence }

// Typing exposes the typing-session tracker.
func (h *Hub) Typing() *TypingTracker { return h.typing }

// Fanout exposes the broadcast fan-out.
func (h *Hub) Fanout() *Fanout { return h.fanout }

// Run drives the liveness monitor until ctx is cancelled or Shutdown is
// called. It should be started in its own goroutine.
func (h *Hub) Run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-h.ctx.Done():
			cancel()
		case <-runCtx.Done():
		}
	}()

	h.monitor.Start(runCtx)
}

// Attach admits an authenticated transport. It greets the client, registers
// the connection, flips the user online and announces that to every other
// connected user, then starts the read and write pumps. Once Shutdown has
// begun the transport is closed with 1001 and errs.ErrHubClosed is returned.
func (h *Hub) Attach(ws transport, id auth.Identity, remote string) (*Connection, error) {
	c := newConnection(h, ws, id, remote)

	// The pumps are counted under connsMu so Shutdown never waits on a
	// group that is still growing.
	h.connsMu.Lock()
	if h.closing {
		h.connsMu.Unlock()
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, errs.ErrHubClosed.Error())
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(h.opts.WriteWait))
		_ = ws.Close()
		return nil, errs.ErrHubClosed
	}
	h.conns[c] = struct{}{}
	h.wg.Add(2)
	h.connsMu.Unlock()

	c.configureRead()
	h.metrics.ConnectionsActive.Inc()

	// Queued before registration so it is the first frame the client reads.
	h.fanout.send(c, TypeConnectionEstablished, ConnectionEstablishedEvent{
		UserID:   id.UserID,
		Username: id.Username,
		Message:  welcomeMessage,
	})

	var superseded *Connection
	h.presence.TransitionIf(id.UserID, StatusOnline,
		func() bool {
			superseded = h.registry.Register(id.UserID, c)
			return true
		},
		h.announce,
	)
	if superseded != nil {
		superseded.log.Info().Str("superseded_by", c.id).Msg("Connection superseded by a newer login")
	} else {
		h.metrics.UsersOnline.Inc()
	}

	go func() {
		defer h.wg.Done()
		defer recoverPanic(c.log, "writePump")
		c.writePump()
	}()
	go func() {
		defer h.wg.Done()
		defer recoverPanic(c.log, "readPump")
		c.readPump()
	}()

	c.log.Info().Int("users_online", h.registry.Len()).Msg("Connection established")
	return c, nil
}

// disconnect tears c down exactly once. Presence flips to offline only when
// c is still the registered connection for its user.
func (h *Hub) disconnect(c *Connection, reason string) {
	c.releaseOnce.Do(func() {
		h.connsMu.Lock()
		delete(h.conns, c)
		h.connsMu.Unlock()
		h.metrics.ConnectionsActive.Dec()

		c.closeSend()

		_, evicted := h.presence.TransitionIf(c.userID, StatusOffline,
			func() bool { return h.registry.UnregisterIf(c.userID, c) },
			h.announce,
		)
		if evicted {
			h.metrics.UsersOnline.Dec()
		}

		c.log.Info().
			Str("reason", reason).
			Bool("evicted", evicted).
			Dur("duration", time.Since(c.openedAt)).
			Msg("Connection closed")
	})
}

// reap is the liveness monitor's callback for a connection that missed a
// heartbeat.
func (h *Hub) reap(c *Connection) {
	c.terminate()
	h.disconnect(c, "heartbeat timeout")
}

func (h *Hub) snapshot() []*Connection {
	h.connsMu.RLock()
	defer h.connsMu.RUnlock()
	return lo.Keys(h.conns)
}

// announce broadcasts a presence record to every registered user except its
// owner. It runs inside a presence transition.
func (h *Hub) announce(rec PresenceRecord) {
	h.fanout.Broadcast(h.registry.AllUserIDs(), TypeUserStatusChanged, presenceEvent(rec, time.Now()), rec.UserID)
}

// updateStatus applies a client-requested status for the connection's user.
// Requests from a superseded connection are ignored.
func (h *Hub) updateStatus(c *Connection, status Status) error {
	if status != StatusOnline && status != StatusAway {
		return fmt.Errorf("%w: %q", errs.ErrInvalidStatus, status)
	}

	_, applied := h.presence.TransitionIf(c.userID, status,
		func() bool {
			current, ok := h.registry.Lookup(c.userID)
			return ok && current == c
		},
		h.announce,
	)
	if !applied {
		c.log.Debug().Str("status", string(status)).Msg("Ignored status update from superseded connection")
	}
	return nil
}

// NotifyPresenceChange records a status decided by the domain layer and
// broadcasts it to every other connected user. Only online and away are
// accepted, and only for a user with a registered connection; offline is
// owned by the connection lifecycle.
func (h *Hub) NotifyPresenceChange(userID string, status Status) (PresenceRecord, error) {
	if status != StatusOnline && status != StatusAway {
		return PresenceRecord{}, fmt.Errorf("%w: %q", errs.ErrInvalidStatus, status)
	}

	rec, applied := h.presence.TransitionIf(userID, status,
		func() bool {
			_, ok := h.registry.Lookup(userID)
			return ok
		},
		h.announce,
	)
	if !applied {
		return rec, fmt.Errorf("set %s status for %s: %w", status, userID, errs.ErrNotConnected)
	}
	return rec, nil
}

// NotifyNewMessage pushes an already persisted message to every participant
// of chatID except its sender.
func (h *Hub) NotifyNewMessage(ctx context.Context, chatID string, message any, senderID string) (DeliveryReport, error) {
	participants, err := h.participants.Participants(ctx, chatID)
	if err != nil {
		return DeliveryReport{}, fmt.Errorf("notify new message in chat %s: %w", chatID, err)
	}
	return h.fanout.Broadcast(participants, TypeNewMessage, message, senderID), nil
}

// NotifyReadReceipt pushes a read receipt to every participant of chatID,
// the reader and the original sender included. A reader outside the chat
// gets errs.ErrNotParticipant.
func (h *Hub) NotifyReadReceipt(ctx context.Context, chatID, messageID, readerID string) (DeliveryReport, error) {
	participants, err := h.participants.Participants(ctx, chatID)
	if err != nil {
		return DeliveryReport{}, fmt.Errorf("notify read receipt in chat %s: %w", chatID, err)
	}
	if !lo.Contains(participants, readerID) {
		return DeliveryReport{}, errs.ErrNotParticipant
	}
	return h.fanout.Broadcast(participants, TypeReadReceipt, ReadReceiptEvent{
		ChatID:    chatID,
		MessageID: messageID,
		ReaderID:  readerID,
		Timestamp: time.Now().UTC(),
	}, ""), nil
}

// NotifyChatCreated tells the participants of a new chat, except its creator.
func (h *Hub) NotifyChatCreated(ctx context.Context, chatID string, chat any, creatorID string) (DeliveryReport, error) {
	participants, err := h.participants.Participants(ctx, chatID)
	if err != nil {
		return DeliveryReport{}, fmt.Errorf("notify chat created %s: %w", chatID, err)
	}
	return h.fanout.Broadcast(participants, TypeChatCreated, chat, creatorID), nil
}

// GetStatus returns the presence status of userID.
func (h *Hub) GetStatus(userID string) Status {
	return h.presence.GetStatus(userID)
}

// IsUserConnected reports whether userID has a registered connection.
func (h *Hub) IsUserConnected(userID string) bool {
	_, ok := h.registry.Lookup(userID)
	return ok
}

// SendToUser delivers one event to userID's registered connection.
func (h *Hub) SendToUser(userID string, t MessageType, payload any) bool {
	return h.fanout.SendTo(userID, t, payload)
}

// Shutdown stops heartbeats and typing timers, closes every connection and
// waits for the pumps to exit, giving up after timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info().Msg("Initiating hub shutdown")

	h.connsMu.Lock()
	h.closing = true
	h.connsMu.Unlock()

	h.cancel()
	h.monitor.Stop()
	h.typing.Stop()

	conns := h.snapshot()
	for _, c := range conns {
		c.closeSend()
	}
	h.log.Info().Int("connections", len(conns)).Msg("Closing client connections")

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info().Msg("Hub shutdown completed")
		return nil
	case <-time.After(timeout):
		for _, c := range h.snapshot() {
			c.terminate()
		}
		h.log.Warn().Dur("timeout", timeout).Msg("Hub shutdown timed out; connections terminated")
		return context.DeadlineExceeded
	}
}

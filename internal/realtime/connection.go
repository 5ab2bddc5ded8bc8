package realtime

import (
	"errors"
	"io"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/Tyrowin/gochat-live/internal/auth"
)

// transport is the part of *websocket.Conn a Connection relies on.
type transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Connection is one authenticated WebSocket session. Outbound frames are
// queued on send and written by a single writer goroutine, so the order in
// which events are enqueued for a user is the order the user receives them.
type Connection struct {
	id       string
	userID   string
	username string
	remote   string
	openedAt time.Time

	ws      transport
	hub     *Hub
	log     zerolog.Logger
	limiter *rate.Limiter

	mu     sync.Mutex
	send   chan []byte
	closed bool

	alive    atomic.Bool
	lastPong atomic.Int64

	releaseOnce   sync.Once
	terminateOnce sync.Once
}

func newConnection(h *Hub, ws transport, id auth.Identity, remote string) *Connection {
	c := &Connection{
		id:       uuid.NewString(),
		userID:   id.UserID,
		username: id.Username,
		remote:   remote,
		openedAt: time.Now(),
		ws:       ws,
		hub:      h,
		limiter:  newFrameLimiter(h.opts.RateLimit),
		send:     make(chan []byte, h.opts.SendBufferSize),
	}
	c.log = h.log.With().
		Str("conn_id", c.id).
		Str("user_id", c.userID).
		Str("remote_addr", remote).
		Logger()
	c.alive.Store(true)
	c.lastPong.Store(c.openedAt.UnixNano())
	return c
}

// ID returns the unique id of this connection.
func (c *Connection) ID() string { return c.id }

// UserID returns the authenticated user bound at handshake.
func (c *Connection) UserID() string { return c.userID }

// Username returns the display name carried by the credential.
func (c *Connection) Username() string { return c.username }

// IsAlive reports whether a pong has been seen since the last heartbeat probe.
func (c *Connection) IsAlive() bool { return c.alive.Load() }

// LastPongAt returns when the last pong arrived, or the open time if none has.
func (c *Connection) LastPongAt() time.Time {
	return time.Unix(0, c.lastPong.Load())
}

func (c *Connection) markAlive() {
	c.alive.Store(true)
	c.lastPong.Store(time.Now().UnixNano())
}

// probe clears the alive flag and reports whether it was set, i.e. whether the
// peer answered the previous ping.
func (c *Connection) probe() bool {
	return c.alive.CompareAndSwap(true, false)
}

// enqueue hands payload to the writer without blocking. It returns false when
// the connection is closed or its queue is full.
func (c *Connection) enqueue(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// closeSend stops the writer once it has drained the queue.
func (c *Connection) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Connection) ping(deadline time.Time) error {
	return c.ws.WriteControl(websocket.PingMessage, nil, deadline)
}

// terminate closes the underlying socket without a close handshake.
func (c *Connection) terminate() {
	c.terminateOnce.Do(func() {
		if err := c.ws.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Warn().Err(err).Msg("Error closing connection")
		}
	})
}

func (c *Connection) allowFrame() bool {
	if c.limiter.Allow() {
		return true
	}
	c.hub.metrics.FramesRateLimited.Inc()
	c.log.Warn().
		Int("burst", c.hub.opts.RateLimit.Burst).
		Dur("refill_interval", c.hub.opts.RateLimit.RefillInterval).
		Msg("Rate limit exceeded; discarding frame")
	return false
}

// configureRead installs the read limit and pong handler. It runs before the
// pumps start so no pong can arrive unobserved.
func (c *Connection) configureRead() {
	c.ws.SetReadLimit(c.hub.opts.MaxMessageSize)
	c.ws.SetPongHandler(func(string) error {
		c.markAlive()
		return nil
	})
}

func (c *Connection) readPump() {
	defer c.hub.disconnect(c, "connection closed")

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		if !c.allowFrame() {
			continue
		}

		c.hub.router.Route(c.hub.ctx, c, raw)
	}
}

// logReadError logs read failures at a level matching how surprising they are.
func (c *Connection) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn().Int64("max_message_size", c.hub.opts.MaxMessageSize).Msg("Frame exceeded maximum size")
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		c.log.Debug().Err(err).Msg("Client disconnected")
	case errors.Is(err, io.EOF), isExpectedCloseError(err):
		c.log.Debug().Err(err).Msg("Connection closed")
	case websocket.IsUnexpectedCloseError(err, websocket.CloseAbnormalClosure):
		c.log.Warn().Err(err).Msg("Unexpected WebSocket close")
	default:
		c.log.Debug().Err(err).Msg("WebSocket read error")
	}
}

func (c *Connection) writePump() {
	defer c.terminate()

	for payload := range c.send {
		if !c.writeTextMessage(payload) {
			return
		}
	}
	c.writeCloseMessage()
}

func (c *Connection) writeTextMessage(payload []byte) bool {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.hub.opts.WriteWait)); err != nil {
		c.log.Warn().Err(err).Msg("Error setting write deadline")
		return false
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn().Err(err).Msg("Error writing message")
		}
		return false
	}
	return true
}

func (c *Connection) writeCloseMessage() {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	err := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.hub.opts.WriteWait))
	if err != nil && !isExpectedCloseError(err) {
		c.log.Debug().Err(err).Msg("Error writing close message")
	}
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset by peer")
}

func newFrameLimiter(cfg RateLimit) *rate.Limiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	interval := cfg.RefillInterval
	if interval <= 0 {
		interval = time.Second
	}
	return rate.NewLimiter(rate.Limit(float64(burst)/interval.Seconds()), burst)
}

// recoverPanic logs a recovered panic with its stack so one bad goroutine
// cannot take the process down. It must be deferred directly.
func recoverPanic(log zerolog.Logger, goroutine string) {
	if r := recover(); r != nil {
		log.Error().
			Str("goroutine", goroutine).
			Interface("panic_value", r).
			Str("stack_trace", string(debug.Stack())).
			Msg("Recovered goroutine panic")
	}
}

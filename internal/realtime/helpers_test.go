package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gochat-live/internal/auth"
	"github.com/Tyrowin/gochat-live/internal/errs"
	"github.com/Tyrowin/gochat-live/internal/metrics"
)

const frameWait = time.Second

// fakeTransport stands in for a *websocket.Conn. Frames the server writes
// land on writes; frames pushed on inbound are returned by ReadMessage.
type fakeTransport struct {
	inbound   chan []byte
	writes    chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu          sync.Mutex
	pings       int
	closeSent   bool
	pongHandler func(string) error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound: make(chan []byte, 64),
		writes:  make(chan []byte, 256),
		closed:  make(chan struct{}),
	}
}

func (f *fakeTransport) ReadMessage() (int, []byte, error) {
	select {
	case <-f.closed:
		return 0, nil, net.ErrClosed
	default:
	}
	select {
	case data := <-f.inbound:
		return websocket.TextMessage, data, nil
	case <-f.closed:
		return 0, nil, net.ErrClosed
	}
}

func (f *fakeTransport) WriteMessage(_ int, data []byte) error {
	select {
	case <-f.closed:
		return net.ErrClosed
	default:
	}
	select {
	case f.writes <- data:
		return nil
	case <-f.closed:
		return net.ErrClosed
	}
}

func (f *fakeTransport) WriteControl(messageType int, _ []byte, _ time.Time) error {
	select {
	case <-f.closed:
		return net.ErrClosed
	default:
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	switch messageType {
	case websocket.PingMessage:
		f.pings++
	case websocket.CloseMessage:
		f.closeSent = true
	}
	return nil
}

func (f *fakeTransport) SetReadLimit(int64) {}

func (f *fakeTransport) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeTransport) SetPongHandler(h func(string) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pongHandler = h
}

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

// pong simulates the peer answering a ping.
func (f *fakeTransport) pong() {
	f.mu.Lock()
	h := f.pongHandler
	f.mu.Unlock()
	if h != nil {
		_ = h("")
	}
}

func (f *fakeTransport) pingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pings
}

func (f *fakeTransport) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// send pushes an inbound envelope as if the client wrote it.
func (f *fakeTransport) send(t *testing.T, typ MessageType, payload any) {
	t.Helper()
	data, err := json.Marshal(map[string]any{"type": typ, "payload": payload})
	require.NoError(t, err)
	f.inbound <- data
}

// staticParticipants is an in-memory ParticipantLookup.
type staticParticipants struct {
	mu    sync.Mutex
	chats map[string][]string
	err   error
}

func newStaticParticipants(chats map[string][]string) *staticParticipants {
	return &staticParticipants{chats: chats}
}

func (s *staticParticipants) Participants(_ context.Context, chatID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	members, ok := s.chats[chatID]
	if !ok {
		return nil, errs.ErrChatNotFound
	}
	return append([]string(nil), members...), nil
}

// set replaces the members of chatID, as a membership change would.
func (s *staticParticipants) set(chatID string, members ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats[chatID] = members
}

func (s *staticParticipants) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

var errLookupDown = errors.New("lookup unavailable")

func testOptions() Options {
	opts := DefaultOptions()
	opts.TypingTimeout = 80 * time.Millisecond
	opts.HeartbeatInterval = time.Hour
	opts.RateLimit = RateLimit{Burst: 100, RefillInterval: time.Second}
	return opts
}

func newTestHub(t *testing.T, participants ParticipantLookup, opts Options) (*Hub, *metrics.Registry) {
	t.Helper()
	m := metrics.New()
	h := NewHub(opts, participants, m, zerolog.Nop())
	t.Cleanup(func() { _ = h.Shutdown(time.Second) })
	return h, m
}

func attach(t *testing.T, h *Hub, userID string) (*Connection, *fakeTransport) {
	t.Helper()
	ft := newFakeTransport()
	c, err := h.Attach(ft, auth.Identity{UserID: userID, Username: userID}, "test")
	require.NoError(t, err)
	expectFrame(t, ft, TypeConnectionEstablished)
	return c, ft
}

func decodeFrame(t *testing.T, data []byte) Envelope {
	t.Helper()
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

// expectFrame waits for the next frame of type typ, skipping any others.
func expectFrame(t *testing.T, ft *fakeTransport, typ MessageType) Envelope {
	t.Helper()
	deadline := time.After(frameWait)
	for {
		select {
		case data := <-ft.writes:
			env := decodeFrame(t, data)
			if env.Type == typ {
				return env
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s frame", typ)
			return Envelope{}
		}
	}
}

// expectNoFrame asserts that no frame of type typ arrives within wait.
func expectNoFrame(t *testing.T, ft *fakeTransport, typ MessageType, wait time.Duration) {
	t.Helper()
	deadline := time.After(wait)
	for {
		select {
		case data := <-ft.writes:
			env := decodeFrame(t, data)
			require.NotEqual(t, typ, env.Type, "unexpected %s frame: %s", typ, string(data))
		case <-deadline:
			return
		}
	}
}

func payloadOf[T any](t *testing.T, env Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Payload, &v))
	return v
}

// bareConnection builds a Connection with only an outbound queue, for tests
// that exercise the fan-out without pumps.
func bareConnection(userID string, buffer int) *Connection {
	return &Connection{
		userID: userID,
		send:   make(chan []byte, buffer),
		log:    zerolog.Nop(),
	}
}

func drain(c *Connection) []Envelope {
	var out []Envelope
	for {
		select {
		case data := <-c.send:
			var env Envelope
			_ = json.Unmarshal(data, &env)
			out = append(out, env)
		default:
			return out
		}
	}
}

func authIdentity(userID string) auth.Identity {
	return auth.Identity{UserID: userID, Username: userID}
}

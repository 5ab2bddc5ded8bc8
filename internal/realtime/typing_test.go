package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gochat-live/internal/errs"
	"github.com/Tyrowin/gochat-live/internal/metrics"
)

const typingTimeout = 60 * time.Millisecond

type typingFixture struct {
	tracker      *TypingTracker
	participants *staticParticipants
	metrics      *metrics.Registry
	alice, bob   *Connection
}

func newTypingFixture() *typingFixture {
	alice := bareConnection("alice", 16)
	bob := bareConnection("bob", 16)
	f, m := newTestFanout(alice, bob)
	participants := newStaticParticipants(map[string][]string{"chat-1": {"alice", "bob"}})
	return &typingFixture{
		tracker:      NewTypingTracker(typingTimeout, participants, f, m, zerolog.Nop()),
		participants: participants,
		metrics:      m,
		alice:        alice,
		bob:          bob,
	}
}

// typingFrames waits for queued frames on c and decodes the typing events.
func typingFrames(t *testing.T, c *Connection, wait time.Duration) []TypingEvent {
	t.Helper()
	time.Sleep(wait)
	var events []TypingEvent
	for _, env := range drain(c) {
		require.Equal(t, TypeUserTyping, env.Type)
		events = append(events, payloadOf[TypingEvent](t, env))
	}
	return events
}

func TestTypingTracker_ExpiresWithExactlyOneStop(t *testing.T) {
	req := require.New(t)
	fx := newTypingFixture()

	req.NoError(fx.tracker.SetTyping(context.Background(), "alice", "Alice", "chat-1", true))
	req.True(fx.tracker.Active("alice", "chat-1"))

	events := typingFrames(t, fx.bob, 3*typingTimeout)
	req.Equal([]TypingEvent{
		{ChatID: "chat-1", UserID: "alice", Username: "Alice", IsTyping: true},
		{ChatID: "chat-1", UserID: "alice", Username: "Alice", IsTyping: false},
	}, events)
	req.False(fx.tracker.Active("alice", "chat-1"))
	req.Equal(0, fx.tracker.Len())
	req.Equal(1.0, testutil.ToFloat64(fx.metrics.TypingExpired))

	req.Empty(drain(fx.alice), "the typist is never notified of their own typing")
}

func TestTypingTracker_ExplicitStopCancelsTimer(t *testing.T) {
	req := require.New(t)
	fx := newTypingFixture()
	ctx := context.Background()

	req.NoError(fx.tracker.SetTyping(ctx, "alice", "Alice", "chat-1", true))
	req.NoError(fx.tracker.SetTyping(ctx, "alice", "Alice", "chat-1", false))
	req.False(fx.tracker.Active("alice", "chat-1"))

	events := typingFrames(t, fx.bob, 3*typingTimeout)
	req.Equal([]TypingEvent{
		{ChatID: "chat-1", UserID: "alice", Username: "Alice", IsTyping: true},
		{ChatID: "chat-1", UserID: "alice", Username: "Alice", IsTyping: false},
	}, events, "no second stop may follow once the timer is cancelled")
	req.Equal(0.0, testutil.ToFloat64(fx.metrics.TypingExpired))
}

func TestTypingTracker_RestartResetsTimer(t *testing.T) {
	req := require.New(t)
	fx := newTypingFixture()
	ctx := context.Background()

	req.NoError(fx.tracker.SetTyping(ctx, "alice", "Alice", "chat-1", true))
	time.Sleep(typingTimeout / 2)
	req.NoError(fx.tracker.SetTyping(ctx, "alice", "Alice", "chat-1", true))
	req.Equal(1, fx.tracker.Len())

	events := typingFrames(t, fx.bob, 3*typingTimeout)
	req.Len(events, 3)
	req.True(events[0].IsTyping)
	req.True(events[1].IsTyping)
	req.False(events[2].IsTyping)
	req.Equal(1.0, testutil.ToFloat64(fx.metrics.TypingExpired))
}

func TestTypingTracker_NonParticipantIsDropped(t *testing.T) {
	req := require.New(t)
	fx := newTypingFixture()

	err := fx.tracker.SetTyping(context.Background(), "mallory", "Mallory", "chat-1", true)
	req.ErrorIs(err, errs.ErrNotParticipant)
	req.Equal(0, fx.tracker.Len())

	req.Empty(drain(fx.alice))
	req.Empty(drain(fx.bob))
}

func TestTypingTracker_LookupFailure(t *testing.T) {
	req := require.New(t)
	fx := newTypingFixture()
	fx.participants.fail(errLookupDown)

	err := fx.tracker.SetTyping(context.Background(), "alice", "Alice", "chat-1", true)
	req.ErrorIs(err, errLookupDown)
	req.Equal(0, fx.tracker.Len())
}

func TestTypingTracker_StopCancelsAllWithoutBroadcast(t *testing.T) {
	req := require.New(t)
	fx := newTypingFixture()
	ctx := context.Background()

	req.NoError(fx.tracker.SetTyping(ctx, "alice", "Alice", "chat-1", true))
	req.NoError(fx.tracker.SetTyping(ctx, "bob", "Bob", "chat-1", true))
	drain(fx.alice)
	drain(fx.bob)

	fx.tracker.Stop()
	req.Equal(0, fx.tracker.Len())

	time.Sleep(3 * typingTimeout)
	req.Empty(drain(fx.alice))
	req.Empty(drain(fx.bob))
}

func TestTypingTracker_SessionsAreScopedPerChat(t *testing.T) {
	req := require.New(t)
	fx := newTypingFixture()
	fx.participants.chats["chat-2"] = []string{"alice", "bob"}
	ctx := context.Background()

	req.NoError(fx.tracker.SetTyping(ctx, "alice", "Alice", "chat-1", true))
	req.NoError(fx.tracker.SetTyping(ctx, "alice", "Alice", "chat-2", true))
	req.NoError(fx.tracker.SetTyping(ctx, "alice", "Alice", "chat-1", false))

	req.False(fx.tracker.Active("alice", "chat-1"))
	req.True(fx.tracker.Active("alice", "chat-2"))
}

package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/Tyrowin/gochat-live/internal/errs"
	"github.com/Tyrowin/gochat-live/internal/metrics"
)

const expiryLookupTimeout = 5 * time.Second

type typingKey struct {
	userID string
	chatID string
}

type typingSession struct {
	username string
	timer    *time.Timer
}

// TypingTracker holds one auto-expiring typing session per (user, chat).
// Every session ends with exactly one isTyping=false broadcast, whether it is
// stopped explicitly or its timer fires.
type TypingTracker struct {
	mu       sync.Mutex
	sessions map[typingKey]*typingSession

	timeout      time.Duration
	participants ParticipantLookup
	fanout       *Fanout
	metrics      *metrics.Registry
	log          zerolog.Logger
}

// NewTypingTracker creates a tracker whose sessions expire after timeout.
func NewTypingTracker(timeout time.Duration, participants ParticipantLookup, fanout *Fanout, m *metrics.Registry, log zerolog.Logger) *TypingTracker {
	return &TypingTracker{
		sessions:     make(map[typingKey]*typingSession),
		timeout:      timeout,
		participants: participants,
		fanout:       fanout,
		metrics:      m,
		log:          log.With().Str("component", "typing").Logger(),
	}
}

// SetTyping starts, refreshes or stops the typing session of userID in chatID
// and tells the other participants. username rides along on every event of
// the session, the expiry stop included. Users outside the chat get
// errs.ErrNotParticipant and nothing is broadcast.
func (t *TypingTracker) SetTyping(ctx context.Context, userID, username, chatID string, isTyping bool) error {
	participants, err := t.participants.Participants(ctx, chatID)
	if err != nil {
		return fmt.Errorf("lookup participants of chat %s: %w", chatID, err)
	}
	if !lo.Contains(participants, userID) {
		return errs.ErrNotParticipant
	}

	key := typingKey{userID: userID, chatID: chatID}

	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.sessions[key]; ok {
		s.timer.Stop()
		delete(t.sessions, key)
	}

	if isTyping {
		s := &typingSession{username: username}
		s.timer = time.AfterFunc(t.timeout, func() { t.expire(key, s) })
		t.sessions[key] = s
	}

	t.fanout.Broadcast(participants, TypeUserTyping, TypingEvent{
		ChatID:   chatID,
		UserID:   userID,
		Username: username,
		IsTyping: isTyping,
	}, userID)
	return nil
}

// expire runs on the timer goroutine. A session that was stopped or replaced
// after the timer fired is no longer in the map under the same pointer and
// is ignored.
func (t *TypingTracker) expire(key typingKey, s *typingSession) {
	defer recoverPanic(t.log, "typing-expiry")

	ctx, cancel := context.WithTimeout(context.Background(), expiryLookupTimeout)
	defer cancel()
	participants, err := t.participants.Participants(ctx, key.chatID)

	t.mu.Lock()
	defer t.mu.Unlock()

	if current, ok := t.sessions[key]; !ok || current != s {
		return
	}
	delete(t.sessions, key)
	t.metrics.TypingExpired.Inc()

	if err != nil {
		t.log.Warn().Err(err).
			Str("user_id", key.userID).
			Str("chat_id", key.chatID).
			Msg("Typing session expired but participants lookup failed")
		return
	}

	t.fanout.Broadcast(participants, TypeUserTyping, TypingEvent{
		ChatID:   key.chatID,
		UserID:   key.userID,
		Username: s.username,
		IsTyping: false,
	}, key.userID)
}

// Active reports whether userID currently has a typing session in chatID.
func (t *TypingTracker) Active(userID, chatID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.sessions[typingKey{userID: userID, chatID: chatID}]
	return ok
}

// Len returns the number of active sessions.
func (t *TypingTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// Stop cancels every pending timer without broadcasting.
func (t *TypingTracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key, s := range t.sessions {
		s.timer.Stop()
		delete(t.sessions, key)
	}
}

// Package store is the Badger-backed persistence for chats and messages. It
// implements chat.Store and, through Participants, the participant lookup the
// realtime hub consults before every broadcast.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/Tyrowin/gochat-live/internal/chat"
	"github.com/Tyrowin/gochat-live/internal/errs"
)

const maxTxnRetries = 5

// Store keeps chats under chat/<id> and messages under msg/<chatID>/<id>.
// Message ids are UUIDv7, so key order within a chat is creation order.
type Store struct {
	db  *badger.DB
	log zerolog.Logger
}

// Open opens the database in dir, or an in-memory database when dir is empty.
func Open(dir string, log zerolog.Logger) (*Store, error) {
	log = log.With().Str("component", "store").Logger()

	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLogger(badgerLogger{log: log}).WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", dir, err)
	}

	log.Info().Str("dir", dir).Bool("in_memory", dir == "").Msg("Store opened")
	return &Store{db: db, log: log}, nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func chatKey(chatID string) []byte {
	return []byte("chat/" + chatID)
}

func messagePrefix(chatID string) []byte {
	return []byte("msg/" + chatID + "/")
}

func messageKey(chatID, messageID string) []byte {
	return append(messagePrefix(chatID), messageID...)
}

// CreateChat stores a new chat. Reusing an id is an error.
func (s *Store) CreateChat(ctx context.Context, c chat.Chat) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(chatKey(c.ID)); err == nil {
			return fmt.Errorf("%w: chat %s already exists", errs.ErrInvalidInput, c.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return putJSON(txn, chatKey(c.ID), c)
	})
}

// GetChat loads a chat by id.
func (s *Store) GetChat(ctx context.Context, chatID string) (chat.Chat, error) {
	var c chat.Chat
	err := s.view(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, chatKey(chatID), &c, errs.ErrChatNotFound)
	})
	return c, err
}

// Participants returns the user ids of chatID's participants.
func (s *Store) Participants(ctx context.Context, chatID string) ([]string, error) {
	c, err := s.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return c.Participants, nil
}

// AddParticipant appends userID to chatID's participants and returns the
// updated chat.
func (s *Store) AddParticipant(ctx context.Context, chatID, userID string) (chat.Chat, error) {
	return s.updateChat(ctx, chatID, func(c *chat.Chat) error {
		if lo.Contains(c.Participants, userID) {
			return errs.ErrAlreadyParticipant
		}
		c.Participants = append(c.Participants, userID)
		return nil
	})
}

// RemoveParticipant drops userID from chatID's participants and returns the
// updated chat.
func (s *Store) RemoveParticipant(ctx context.Context, chatID, userID string) (chat.Chat, error) {
	return s.updateChat(ctx, chatID, func(c *chat.Chat) error {
		if !lo.Contains(c.Participants, userID) {
			return errs.ErrParticipantNotFound
		}
		c.Participants = lo.Without(c.Participants, userID)
		return nil
	})
}

// updateChat applies mutate to chatID inside one transaction.
func (s *Store) updateChat(ctx context.Context, chatID string, mutate func(c *chat.Chat) error) (chat.Chat, error) {
	var c chat.Chat
	err := s.update(ctx, func(txn *badger.Txn) error {
		c = chat.Chat{}
		if err := getJSON(txn, chatKey(chatID), &c, errs.ErrChatNotFound); err != nil {
			return err
		}
		if err := mutate(&c); err != nil {
			return err
		}
		c.UpdatedAt = time.Now().UTC()
		return putJSON(txn, chatKey(chatID), c)
	})
	return c, err
}

// PersistMessage stores msg and advances the chat's last message.
func (s *Store) PersistMessage(ctx context.Context, msg chat.Message) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		var c chat.Chat
		if err := getJSON(txn, chatKey(msg.ChatID), &c, errs.ErrChatNotFound); err != nil {
			return err
		}
		if err := putJSON(txn, messageKey(msg.ChatID, msg.ID), msg); err != nil {
			return err
		}
		c.LastMessageID = msg.ID
		c.UpdatedAt = msg.CreatedAt
		return putJSON(txn, chatKey(c.ID), c)
	})
}

// GetMessage loads a message of chatID.
func (s *Store) GetMessage(ctx context.Context, chatID, messageID string) (chat.Message, error) {
	var msg chat.Message
	err := s.view(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, messageKey(chatID, messageID), &msg, errs.ErrMessageNotFound)
	})
	return msg, err
}

// MarkRead adds readerID to the message's readers. Marking twice is a no-op.
func (s *Store) MarkRead(ctx context.Context, chatID, messageID, readerID string) (chat.Message, error) {
	var msg chat.Message
	err := s.update(ctx, func(txn *badger.Txn) error {
		if err := getJSON(txn, messageKey(chatID, messageID), &msg, errs.ErrMessageNotFound); err != nil {
			return err
		}
		if lo.Contains(msg.ReadBy, readerID) {
			return nil
		}
		msg.ReadBy = append(msg.ReadBy, readerID)
		return putJSON(txn, messageKey(chatID, messageID), msg)
	})
	return msg, err
}

// ListMessages returns the newest limit messages of chatID in creation order.
func (s *Store) ListMessages(ctx context.Context, chatID string, limit int) ([]chat.Message, error) {
	msgs := make([]chat.Message, 0, limit)
	err := s.view(ctx, func(txn *badger.Txn) error {
		prefix := messagePrefix(chatID)
		it := txn.NewIterator(badger.IteratorOptions{
			PrefetchValues: true,
			PrefetchSize:   limit,
			Reverse:        true,
			Prefix:         prefix,
		})
		defer it.Close()

		for it.Seek(append(prefix, 0xFF)); it.ValidForPrefix(prefix) && len(msgs) < limit; it.Next() {
			var msg chat.Message
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &msg)
			}); err != nil {
				return err
			}
			msgs = append(msgs, msg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Reverse(msgs)
	return msgs, nil
}

func (s *Store) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(fn)
}

// update runs fn in a read-write transaction, retrying on write conflicts.
func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxTxnRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debug().Int("attempt", attempt+1).Msg("Transaction conflict; retrying")
		time.Sleep(time.Duration(attempt+1) * time.Millisecond)
	}
	return fmt.Errorf("transaction failed after %d attempts: %w", maxTxnRetries, err)
}

func getJSON(txn *badger.Txn, key []byte, dst any, notFound error) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return notFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, dst)
	})
}

func putJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

// badgerLogger routes Badger's internal logging into zerolog.
type badgerLogger struct {
	log zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error().Msg(trimLine(format, args...))
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn().Msg(trimLine(format, args...))
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Info().Msg(trimLine(format, args...))
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Debug().Msg(trimLine(format, args...))
}

func trimLine(format string, args ...interface{}) string {
	return strings.TrimRight(fmt.Sprintf(format, args...), "\n")
}

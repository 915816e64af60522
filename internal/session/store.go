// ABOUTME: Durable session persistence over the KV store
// ABOUTME: Sessions are stored as JSON blobs with a sliding TTL

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/marketmind/internal/store"
)

// ErrNotFound is returned when a session id has no stored history.
var ErrNotFound = errors.New("session not found")

const keyPrefix = "session:"

// Store persists sessions in the shared KV layer. Each save refreshes the
// TTL, so a session expires only after the configured idle window.
type Store struct {
	kv     store.KV
	ttl    time.Duration
	logger *slog.Logger
}

// NewStore creates a session store. A ttl of zero disables expiry.
func NewStore(kv store.KV, ttl time.Duration, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		kv:     kv,
		ttl:    ttl,
		logger: logger.With("component", "session"),
	}
}

// Load returns the session for id, or ErrNotFound.
func (s *Store) Load(ctx context.Context, id string) (*Session, error) {
	raw, err := s.kv.Get(ctx, keyPrefix+id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading session %s: %w", id, err)
	}

	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decoding session %s: %w", id, err)
	}
	return &sess, nil
}

// LoadOrCreate returns the stored session for id, or a fresh session when
// the id is empty or unknown. A client-supplied id that has no stored
// history simply starts a new conversation under that id.
func (s *Store) LoadOrCreate(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		sess := New()
		s.logger.Debug("session created", "session_id", sess.ID)
		return sess, nil
	}

	sess, err := s.Load(ctx, id)
	if errors.Is(err, ErrNotFound) {
		s.logger.Debug("session id unknown, starting fresh", "session_id", id)
		return &Session{ID: id, UpdatedAt: time.Now()}, nil
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// Save persists the session as a single write. The whole history is written
// atomically, so a crash mid-turn never leaves a half-appended message.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encoding session %s: %w", sess.ID, err)
	}

	if err := s.kv.Set(ctx, keyPrefix+sess.ID, raw, s.ttl); err != nil {
		return fmt.Errorf("saving session %s: %w", sess.ID, err)
	}

	s.logger.Debug("session saved", "session_id", sess.ID, "messages", len(sess.Messages))
	return nil
}

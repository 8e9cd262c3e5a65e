package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrSessionNotFound is returned when no snapshot exists for the user.
var ErrSessionNotFound = errors.New("session snapshot not found")

// SessionStore mirrors per-user session snapshots into Redis under fixed
// logical keys. The Mongo user document stays the source of truth; the
// snapshot is refreshed after every identity mutation and dropped on logout.
type SessionStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewSessionStore creates a SessionStore. A zero ttl means snapshots do not expire.
func NewSessionStore(rdb *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{rdb: rdb, ttl: ttl}
}

func sessionKey(userID string) string {
	return fmt.Sprintf("session:user:%s", userID)
}

// Put stores (or replaces) the snapshot for a user.
func (s *SessionStore) Put(ctx context.Context, userID string, snapshot interface{}) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal session snapshot for user %s: %w", userID, err)
	}
	if err := s.rdb.Set(ctx, sessionKey(userID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session snapshot for user %s: %w", userID, err)
	}
	return nil
}

// Get loads the snapshot for a user into out.
func (s *SessionStore) Get(ctx context.Context, userID string, out interface{}) error {
	data, err := s.rdb.Get(ctx, sessionKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("failed to load session snapshot for user %s: %w", userID, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal session snapshot for user %s: %w", userID, err)
	}
	return nil
}

// Drop removes the snapshot for a user. Missing keys are not an error.
func (s *SessionStore) Drop(ctx context.Context, userID string) error {
	if err := s.rdb.Del(ctx, sessionKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to drop session snapshot for user %s: %w", userID, err)
	}
	return nil
}

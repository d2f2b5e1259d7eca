package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ledgertrace/ledgertrace-backend/internal/domain/errors"
)

const sessionPrefix = "lt:session:"

// SessionStore tracks issued sessions so tokens can be revoked before they
// expire.
type SessionStore struct {
	client *redis.Client
}

// NewSessionStore creates a redis-backed session store
func NewSessionStore(client *redis.Client) *SessionStore {
	return &SessionStore{client: client}
}

// Create registers a session under the token's jti with a TTL matching the
// token expiry
func (s *SessionStore) Create(ctx context.Context, sessionID string, userID uuid.UUID, ttl time.Duration) error {
	if err := s.client.Set(ctx, sessionPrefix+sessionID, userID.String(), ttl).Err(); err != nil {
		return errors.NewUpstreamError("redis", "creating session failed").WithCause(err)
	}
	return nil
}

// Valid reports whether a session is still live
func (s *SessionStore) Valid(ctx context.Context, sessionID string) (bool, error) {
	exists, err := s.client.Exists(ctx, sessionPrefix+sessionID).Result()
	if err != nil {
		return false, errors.NewUpstreamError("redis", "checking session failed").WithCause(err)
	}
	return exists == 1, nil
}

// Revoke deletes a session, invalidating its token immediately
func (s *SessionStore) Revoke(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, sessionPrefix+sessionID).Err(); err != nil {
		return errors.NewUpstreamError("redis", "revoking session failed").WithCause(err)
	}
	return nil
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/anzac2cdo/roster-api/pkg/cache"
)

// SessionStore records forced sign-outs so access tokens issued before the
// revocation stop validating.
type SessionStore struct {
	client *redis.Client
}

// NewSessionStore constructs a Redis backed revocation store.
func NewSessionStore(client *redis.Client) *SessionStore {
	return &SessionStore{client: client}
}

func revocationKey(personnelID string) string {
	return cache.Key("session", "revoked", personnelID)
}

// Revoke stores the revocation instant for ttl.
func (s *SessionStore) Revoke(ctx context.Context, personnelID string, at time.Time, ttl time.Duration) error {
	if s.client == nil {
		return nil
	}
	if err := s.client.Set(ctx, revocationKey(personnelID), at.UTC().UnixMilli(), ttl).Err(); err != nil {
		return fmt.Errorf("store session revocation: %w", err)
	}
	return nil
}

// RevokedAt returns the last revocation instant, or the zero time when none is recorded.
func (s *SessionStore) RevokedAt(ctx context.Context, personnelID string) (time.Time, error) {
	if s.client == nil {
		return time.Time{}, nil
	}
	raw, err := s.client.Get(ctx, revocationKey(personnelID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("read session revocation: %w", err)
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse session revocation: %w", err)
	}
	return time.UnixMilli(ms).UTC(), nil
}

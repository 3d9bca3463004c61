// Package sessionstore keeps sign-up sessions in Redis between requests.
package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/face-signup/internal/enrollment"
	"github.com/example/face-signup/internal/retry"
)

// ErrNotFound is returned for unknown or expired sessions.
var ErrNotFound = errors.New("sign-up session not found")

const keyPrefix = "signup:session:"

// RedisStore is a session store backed by go-redis.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
	policy retry.Policy
}

// NewRedisStore constructs a store whose entries expire ttl after their last write.
func NewRedisStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		ttl:    ttl,
		logger: logger.Named("session_store"),
		policy: retry.DefaultPolicy,
	}
}

// Save writes the session and refreshes its TTL.
func (s *RedisStore) Save(ctx context.Context, session *enrollment.Session) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	return retry.Do(ctx, s.logger, s.policy, "sessionstore.save", session.ID, func() error {
		return s.client.Set(ctx, key(session.ID), payload, s.ttl).Err()
	})
}

// Load reads a session. Missing or expired sessions yield ErrNotFound.
func (s *RedisStore) Load(ctx context.Context, id string) (*enrollment.Session, error) {
	var (
		payload string
		missing bool
	)
	err := retry.Do(ctx, s.logger, s.policy, "sessionstore.load", id, func() error {
		value, err := s.client.Get(ctx, key(id)).Result()
		if errors.Is(err, redis.Nil) {
			missing = true
			return nil
		}
		if err != nil {
			return err
		}
		payload = value
		return nil
	})
	if err != nil {
		return nil, err
	}
	if missing {
		return nil, ErrNotFound
	}

	var session enrollment.Session
	if err := json.Unmarshal([]byte(payload), &session); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	if err := session.Validate(); err != nil {
		s.logger.Error("stored session is inconsistent", zap.String("session_id", id), zap.String("state", string(session.State)))
		return nil, err
	}
	return &session, nil
}

// Delete discards a session. Deleting an unknown session is not an error.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	return retry.Do(ctx, s.logger, s.policy, "sessionstore.delete", id, func() error {
		return s.client.Del(ctx, key(id)).Err()
	})
}

func key(id string) string {
	return keyPrefix + id
}

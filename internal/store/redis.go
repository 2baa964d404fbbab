package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/studyloop/tutor-engine/internal/tutor"
)

const sessionKeyPrefix = "tutor:session:"

// RedisSessions is a Redis/Dragonfly-backed tutor.SessionStore. Handles
// expire with the configured TTL; an expired handle simply forces a fresh
// session on the next turn.
type RedisSessions struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSessions creates a Redis-backed session-handle store.
func NewRedisSessions(client *redis.Client, ttl time.Duration) (*RedisSessions, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &RedisSessions{client: client, ttl: ttl}, nil
}

func sessionKey(subjectID string) string {
	return sessionKeyPrefix + subjectID
}

func (s *RedisSessions) LoadSession(ctx context.Context, subjectID string) (tutor.SessionHandle, bool, error) {
	raw, err := s.client.Get(ctx, sessionKey(subjectID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return tutor.SessionHandle{}, false, nil
	}
	if err != nil {
		return tutor.SessionHandle{}, false, fmt.Errorf("load session: %w", err)
	}

	var h tutor.SessionHandle
	if err := json.Unmarshal(raw, &h); err != nil {
		return tutor.SessionHandle{}, false, fmt.Errorf("decode session: %w", err)
	}
	return h, true, nil
}

func (s *RedisSessions) SaveSession(ctx context.Context, subjectID string, h tutor.SessionHandle) error {
	raw, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKey(subjectID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *RedisSessions) DeleteSession(ctx context.Context, subjectID string) error {
	if err := s.client.Del(ctx, sessionKey(subjectID)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrResetTokenInvalid covers unknown, used and expired reset tokens.
var ErrResetTokenInvalid = errors.New("reset token invalid")

// ResetStore holds single-use password reset tokens.
type ResetStore interface {
	Put(ctx context.Context, token, userID string, ttl time.Duration) error
	Take(ctx context.Context, token string) (string, error)
}

const resetKeyPrefix = "pwreset:v1:"

// RedisResetStore keeps tokens as expiring Redis keys.
type RedisResetStore struct {
	client *redis.Client
}

// NewRedisResetStore builds a Redis-backed reset token store.
func NewRedisResetStore(client *redis.Client) *RedisResetStore {
	return &RedisResetStore{client: client}
}

func (s *RedisResetStore) Put(ctx context.Context, token, userID string, ttl time.Duration) error {
	if err := s.client.Set(ctx, resetKeyPrefix+token, userID, ttl).Err(); err != nil {
		return fmt.Errorf("store reset token: %w", err)
	}
	return nil
}

// Take returns the owner of token and deletes it in one step.
func (s *RedisResetStore) Take(ctx context.Context, token string) (string, error) {
	userID, err := s.client.GetDel(ctx, resetKeyPrefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrResetTokenInvalid
	}
	if err != nil {
		return "", fmt.Errorf("load reset token: %w", err)
	}
	return userID, nil
}

type resetEntry struct {
	userID   string
	deadline time.Time
}

type memoryResetStore struct {
	mu     sync.Mutex
	tokens map[string]resetEntry
}

// NewMemoryResetStore builds an in-memory reset token store.
func NewMemoryResetStore() ResetStore {
	return &memoryResetStore{tokens: make(map[string]resetEntry)}
}

func (s *memoryResetStore) Put(_ context.Context, token, userID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = resetEntry{userID: userID, deadline: time.Now().Add(ttl)}
	return nil
}

func (s *memoryResetStore) Take(_ context.Context, token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tokens[token]
	delete(s.tokens, token)
	if !ok || time.Now().After(e.deadline) {
		return "", ErrResetTokenInvalid
	}
	return e.userID, nil
}

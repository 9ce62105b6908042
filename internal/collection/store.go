package collection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store keeps collection requests so polling can resume after a restart.
type Store interface {
	Save(ctx context.Context, req Request) error
	Load(ctx context.Context, referenceID string) (Request, error)
}

const (
	redisKeyPrefix = "collection:v1:"
	// requestRetention bounds how long a request stays queryable in Redis.
	requestRetention = 7 * 24 * time.Hour
)

// RedisStore stores requests as JSON values.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore builds a Redis-backed request store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Save(ctx context.Context, req Request) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode collection request: %w", err)
	}
	if err := s.client.Set(ctx, redisKeyPrefix+req.ReferenceID, payload, requestRetention).Err(); err != nil {
		return fmt.Errorf("store collection request: %w", err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, referenceID string) (Request, error) {
	raw, err := s.client.Get(ctx, redisKeyPrefix+referenceID).Bytes()
	if errors.Is(err, redis.Nil) {
		return Request{}, ErrRequestNotFound
	}
	if err != nil {
		return Request{}, fmt.Errorf("load collection request: %w", err)
	}
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return Request{}, fmt.Errorf("decode collection request: %w", err)
	}
	return req, nil
}

type memoryStore struct {
	mu       sync.RWMutex
	requests map[string]Request
}

// NewMemoryStore builds an in-memory store for tests and development.
func NewMemoryStore() Store {
	return &memoryStore{requests: make(map[string]Request)}
}

func (s *memoryStore) Save(_ context.Context, req Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[req.ReferenceID] = req
	return nil
}

func (s *memoryStore) Load(_ context.Context, referenceID string) (Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[referenceID]
	if !ok {
		return Request{}, ErrRequestNotFound
	}
	return req, nil
}

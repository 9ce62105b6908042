package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrSessionNotFound means the session was never created, was logged out or has expired.
var ErrSessionNotFound = errors.New("session not found")

// Record is the persisted part of a session. A Pending record is waiting for its passcode.
type Record struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Pending   bool      `json:"pending"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists sessions and their re-verification deadline.
type Store interface {
	Save(ctx context.Context, rec Record, ttl time.Duration) error
	Load(ctx context.Context, id string) (Record, error)
	Delete(ctx context.Context, id string) error
	// MarkVerified records that the session needs no passcode until the given time. The
	// marker itself is kept for ttl.
	MarkVerified(ctx context.Context, id string, until time.Time, ttl time.Duration) error
	VerifiedUntil(ctx context.Context, id string) (time.Time, error)
	ClearVerified(ctx context.Context, id string) error
}

const sessionKeyPrefix = "session:v1:"

// RedisStore keeps sessions as JSON values and the deadline as a separate expiring key.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore builds a Redis-backed session store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func sessionKey(id string) string  { return sessionKeyPrefix + id }
func reverifyKey(id string) string { return sessionKeyPrefix + id + ":reverify" }

func (s *RedisStore) Save(ctx context.Context, rec Record, ttl time.Duration) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKey(rec.ID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, id string) (Record, error) {
	raw, err := s.client.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrSessionNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("load session: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, fmt.Errorf("decode session: %w", err)
	}
	return rec, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, sessionKey(id), reverifyKey(id)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *RedisStore) MarkVerified(ctx context.Context, id string, until time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		return s.ClearVerified(ctx, id)
	}
	if err := s.client.Set(ctx, reverifyKey(id), until.UTC().Format(time.RFC3339Nano), ttl).Err(); err != nil {
		return fmt.Errorf("store reverify marker: %w", err)
	}
	return nil
}

// VerifiedUntil returns the zero time when no marker exists.
func (s *RedisStore) VerifiedUntil(ctx context.Context, id string) (time.Time, error) {
	raw, err := s.client.Get(ctx, reverifyKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("load reverify marker: %w", err)
	}
	until, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("decode reverify marker: %w", err)
	}
	return until, nil
}

func (s *RedisStore) ClearVerified(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, reverifyKey(id)).Err(); err != nil {
		return fmt.Errorf("clear reverify marker: %w", err)
	}
	return nil
}

type memoryEntry struct {
	rec      Record
	deadline time.Time
}

type memoryStore struct {
	mu       sync.Mutex
	sessions map[string]memoryEntry
	verified map[string]time.Time
}

// NewMemoryStore builds an in-memory session store for tests and development.
func NewMemoryStore() Store {
	return &memoryStore{sessions: make(map[string]memoryEntry), verified: make(map[string]time.Time)}
}

func (s *memoryStore) Save(_ context.Context, rec Record, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[rec.ID] = memoryEntry{rec: rec, deadline: time.Now().Add(ttl)}
	return nil
}

func (s *memoryStore) Load(_ context.Context, id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[id]
	if !ok {
		return Record{}, ErrSessionNotFound
	}
	if time.Now().After(e.deadline) {
		delete(s.sessions, id)
		delete(s.verified, id)
		return Record{}, ErrSessionNotFound
	}
	return e.rec, nil
}

func (s *memoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	delete(s.verified, id)
	return nil
}

func (s *memoryStore) MarkVerified(_ context.Context, id string, until time.Time, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verified[id] = until
	return nil
}

func (s *memoryStore) VerifiedUntil(_ context.Context, id string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.verified[id], nil
}

func (s *memoryStore) ClearVerified(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.verified, id)
	return nil
}

package otp

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store persists at most one record per user. Attempt and Consume must be atomic across
// every process sharing the store.
type Store interface {
	Save(ctx context.Context, rec Record, ttl time.Duration) error
	Load(ctx context.Context, userID string) (Record, error)
	Delete(ctx context.Context, userID string) error
	// Attempt counts one verification attempt and returns the new total.
	Attempt(ctx context.Context, userID string) (int, error)
	// Consume marks the record holding code as used. It reports false when it already
	// was, and errRecordMissing when the record is gone or holds another code.
	Consume(ctx context.Context, userID, code string) (bool, error)
}

const redisKeyPrefix = "otp:v1:"

const (
	fieldUserID    = "user_id"
	fieldCode      = "code"
	fieldCreatedAt = "created_at"
	fieldExpiresAt = "expires_at"
	fieldAttempts  = "attempts"
	fieldVerified  = "verified"
)

// Both scripts refuse to recreate a record that expired or was deleted.
var (
	attemptScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then return -1 end
return redis.call("HINCRBY", KEYS[1], "attempts", 1)
`)
	consumeScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "code") ~= ARGV[1] then return -1 end
return redis.call("HSETNX", KEYS[1], "verified", "1")
`)
)

// RedisStore keeps each record as a hash with a key TTL.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore builds a Redis-backed OTP store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Save(ctx context.Context, rec Record, ttl time.Duration) error {
	key := redisKeyPrefix + rec.UserID
	fields := map[string]any{
		fieldUserID:    rec.UserID,
		fieldCode:      rec.Code,
		fieldCreatedAt: rec.CreatedAt.Format(time.RFC3339Nano),
		fieldExpiresAt: rec.ExpiresAt.Format(time.RFC3339Nano),
		fieldAttempts:  rec.Attempts,
	}
	if rec.Verified {
		fields[fieldVerified] = "1"
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, fields)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("store otp record: %w", err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, userID string) (Record, error) {
	fields, err := s.client.HGetAll(ctx, redisKeyPrefix+userID).Result()
	if err != nil {
		return Record{}, fmt.Errorf("load otp record: %w", err)
	}
	if len(fields) == 0 {
		return Record{}, errRecordMissing
	}

	rec := Record{
		UserID:   fields[fieldUserID],
		Code:     fields[fieldCode],
		Verified: fields[fieldVerified] == "1",
	}
	if rec.Attempts, err = strconv.Atoi(fields[fieldAttempts]); err != nil {
		return Record{}, fmt.Errorf("decode otp attempts: %w", err)
	}
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, fields[fieldCreatedAt]); err != nil {
		return Record{}, fmt.Errorf("decode otp record: %w", err)
	}
	if rec.ExpiresAt, err = time.Parse(time.RFC3339Nano, fields[fieldExpiresAt]); err != nil {
		return Record{}, fmt.Errorf("decode otp record: %w", err)
	}
	return rec, nil
}

func (s *RedisStore) Delete(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, redisKeyPrefix+userID).Err(); err != nil {
		return fmt.Errorf("delete otp record: %w", err)
	}
	return nil
}

func (s *RedisStore) Attempt(ctx context.Context, userID string) (int, error) {
	n, err := attemptScript.Run(ctx, s.client, []string{redisKeyPrefix + userID}).Int()
	if err != nil {
		return 0, fmt.Errorf("count otp attempt: %w", err)
	}
	if n < 0 {
		return 0, errRecordMissing
	}
	return n, nil
}

func (s *RedisStore) Consume(ctx context.Context, userID, code string) (bool, error) {
	n, err := consumeScript.Run(ctx, s.client, []string{redisKeyPrefix + userID}, code).Int()
	if err != nil {
		return false, fmt.Errorf("consume otp record: %w", err)
	}
	if n < 0 {
		return false, errRecordMissing
	}
	return n == 1, nil
}

type memoryEntry struct {
	rec      Record
	deadline time.Time
}

type memoryStore struct {
	mu      sync.Mutex
	records map[string]memoryEntry
}

// NewMemoryStore builds an in-memory store for tests and development.
func NewMemoryStore() Store {
	return &memoryStore{records: make(map[string]memoryEntry)}
}

func (s *memoryStore) Save(_ context.Context, rec Record, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.UserID] = memoryEntry{rec: rec, deadline: time.Now().Add(ttl)}
	return nil
}

func (s *memoryStore) Load(_ context.Context, userID string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.entry(userID)
	return e.rec, err
}

func (s *memoryStore) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, userID)
	return nil
}

func (s *memoryStore) Attempt(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.entry(userID)
	if err != nil {
		return 0, err
	}
	e.rec.Attempts++
	s.records[userID] = e
	return e.rec.Attempts, nil
}

func (s *memoryStore) Consume(_ context.Context, userID, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.entry(userID)
	if err != nil {
		return false, err
	}
	if e.rec.Code != code {
		return false, errRecordMissing
	}
	if e.rec.Verified {
		return false, nil
	}
	e.rec.Verified = true
	s.records[userID] = e
	return true, nil
}

// entry must be called with mu held.
func (s *memoryStore) entry(userID string) (memoryEntry, error) {
	e, ok := s.records[userID]
	if !ok {
		return memoryEntry{}, errRecordMissing
	}
	if time.Now().After(e.deadline) {
		delete(s.records, userID)
		return memoryEntry{}, errRecordMissing
	}
	return e, nil
}

var _ Store = (*RedisStore)(nil)

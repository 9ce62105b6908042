package identity

import (
	"context"
	"strings"
	"sync"
)

type memoryRepository struct {
	mu    sync.RWMutex
	users map[string]User
}

// NewMemoryRepository builds an in-memory user store for testing.
func NewMemoryRepository() Repository {
	return &memoryRepository{users: make(map[string]User)}
}

func (r *memoryRepository) Create(_ context.Context, user User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if strings.EqualFold(existing.Email, user.Email) || existing.Phone == user.Phone || existing.AccountNumber == user.AccountNumber {
			return ErrUserExists
		}
	}
	r.users[user.ID] = user
	return nil
}

func (r *memoryRepository) FindByID(_ context.Context, id string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (r *memoryRepository) FindByEmail(_ context.Context, email string) (User, error) {
	return r.find(func(u User) bool { return strings.EqualFold(u.Email, email) })
}

func (r *memoryRepository) FindByPhone(_ context.Context, phone string) (User, error) {
	return r.find(func(u User) bool { return u.Phone == phone })
}

func (r *memoryRepository) UpdateSecret(_ context.Context, id string, hash []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return ErrUserNotFound
	}
	user.SecretHash = hash
	r.users[id] = user
	return nil
}

func (r *memoryRepository) find(match func(User) bool) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, user := range r.users {
		if match(user) {
			return user, nil
		}
	}
	return User{}, ErrUserNotFound
}

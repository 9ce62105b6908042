// Package otp issues and checks the six-digit step-up codes sent by SMS after a
// successful credential login.
package otp

import (
	"errors"
	"fmt"
	"time"
)

// Reason explains why a verification did not succeed.
type Reason string

const (
	ReasonNotFound        Reason = "not_found"
	ReasonExpired         Reason = "expired"
	ReasonTooManyAttempts Reason = "too_many_attempts"
	ReasonMismatch        Reason = "mismatch"
)

// Error is returned by Verify for every rejected code.
type Error struct {
	Reason    Reason
	Remaining int
}

func (e *Error) Error() string {
	if e.Reason == ReasonMismatch {
		return fmt.Sprintf("otp mismatch: %d attempts remaining", e.Remaining)
	}
	return "otp " + string(e.Reason)
}

// Is matches on Reason so errors.Is(err, ErrMismatch) works regardless of Remaining.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Reason == e.Reason
}

var (
	ErrNotFound        = &Error{Reason: ReasonNotFound}
	ErrExpired         = &Error{Reason: ReasonExpired}
	ErrTooManyAttempts = &Error{Reason: ReasonTooManyAttempts}
	ErrMismatch        = &Error{Reason: ReasonMismatch}

	// ErrDelivery wraps SMS failures. The stored code stays valid.
	ErrDelivery = errors.New("otp delivery failed")

	errRecordMissing = errors.New("otp record missing")
)

// Record is the single active passcode of a user.
type Record struct {
	UserID    string    `json:"user_id"`
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Verified  bool      `json:"verified"`
	Attempts  int       `json:"attempts"`
}

// Result is the outcome of a verification.
type Result struct {
	Valid     bool
	Reason    Reason
	Remaining int
}

// Config tunes code shape and lifetime.
type Config struct {
	Length      int
	TTL         time.Duration
	MaxAttempts int
}

// DefaultConfig is six digits, five minutes, three attempts.
func DefaultConfig() Config {
	return Config{Length: 6, TTL: 5 * time.Minute, MaxAttempts: 3}
}

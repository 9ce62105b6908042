package identity

import "time"

// User is an account holder. Identity fields never change after registration.
type User struct {
	ID            string
	FullName      string
	Phone         string
	Email         string
	AccountNumber string
	SecretHash    []byte
	CreatedAt     time.Time
}

// Registration captures the data needed to open an account.
type Registration struct {
	FullName string `json:"full_name" validate:"required,min=2,max=120"`
	Email    string `json:"email" validate:"required,email"`
	Phone    string `json:"phone" validate:"required,msisdn"`
	Secret   string `json:"password" validate:"required,min=8,max=72"`
}

// Principal is what a successful sign-in yields.
type Principal struct {
	UserID string
	Email  string
}

// Profile is the display data of a user.
type Profile struct {
	FullName      string
	PhoneNumber   string
	AccountNumber string
}

func (u User) principal() Principal {
	return Principal{UserID: u.ID, Email: u.Email}
}

func (u User) profile() Profile {
	return Profile{FullName: u.FullName, PhoneNumber: u.Phone, AccountNumber: u.AccountNumber}
}

package models

import (
	"time"
)

// Account is the credential projection the login path works with.
// It carries no profile data beyond the display name.
type Account struct {
	ID               string
	Email            string
	DisplayName      string
	PasswordHash     string // empty when no password has been set
	Role             string // e.g., "user", "admin"
	Active           bool
	FailedAttempts   int
	LockoutUntil     *time.Time
	TwoFactorEnabled bool
	TwoFactorSecret  []byte // AES-GCM ciphertext
	TwoFactorNonce   []byte
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// HasPassword reports whether a password hash is on record.
func (a *Account) HasPassword() bool {
	return a != nil && a.PasswordHash != ""
}

// CounterState is the result of an atomic failed-attempt update.
type CounterState struct {
	FailedAttempts int
	LockoutUntil   *time.Time
}

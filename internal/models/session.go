package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Session token types
const (
	SessionTokenType = "session"
)

// RefreshTrigger names why a session refresh was requested
type RefreshTrigger string

const (
	// RefreshTriggerNone re-encodes the claims as they are.
	RefreshTriggerNone RefreshTrigger = ""
	// RefreshTriggerUpdate re-reads the capability list from the credential store.
	RefreshTriggerUpdate RefreshTrigger = "update"
)

// SessionClaims is the fixed payload of a session token
type SessionClaims struct {
	Type         string   `json:"type"`
	UserID       string   `json:"user_id,omitempty"`
	Name         string   `json:"name,omitempty"`
	Role         string   `json:"role"`
	Capabilities []string `json:"capabilities"`
	jwt.RegisteredClaims
}

// SubjectID returns the explicit user id, falling back to the registered subject claim.
func (c *SessionClaims) SubjectID() string {
	if c == nil {
		return ""
	}
	if c.UserID != "" {
		return c.UserID
	}
	return c.Subject
}

// HasCapability reports whether the claims grant capability
func (c *SessionClaims) HasCapability(capability string) bool {
	if c == nil {
		return false
	}
	return HasCapability(c.Capabilities, capability)
}

// SessionGrant is the account state a session refresh is checked against
type SessionGrant struct {
	Active       bool
	LockoutUntil *time.Time
	Capabilities []string
}

// Usable reports whether a session may still be carried for the account at now
func (g SessionGrant) Usable(now time.Time) bool {
	return g.Active && (g.LockoutUntil == nil || !g.LockoutUntil.After(now))
}

package models

import "time"

// LoginAttempt is a single credential submission. It is never persisted as-is;
// AttemptRecord is the history row the anomaly scorer keeps.
type LoginAttempt struct {
	Identifier string
	Password   string
	OTP        string
	IPAddress  string
	UserAgent  string
	Timestamp  time.Time
}

// AttemptRecord is a persisted login attempt used for risk scoring
type AttemptRecord struct {
	ID          string    `db:"id"`
	AccountID   *string   `db:"account_id"`
	Identifier  string    `db:"identifier"`
	IPAddress   string    `db:"ip_address"`
	UserAgent   string    `db:"user_agent"`
	Success     bool      `db:"success"`
	AttemptTime time.Time `db:"attempt_time"`
	ExpiresAt   time.Time `db:"expires_at"`
}

// AttemptStats aggregates attempt history for a single scoring decision
type AttemptStats struct {
	FailuresByIP          int  // Failed attempts from the IP in the lookback window
	DistinctIdentifiersIP int  // Distinct identifiers tried from the IP
	FailuresByAccount     int  // Failed attempts against the account
	KnownDevice           bool // User agent seen on an earlier successful login
}

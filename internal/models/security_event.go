package models

import (
	"database/sql/driver"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Severity of a security event
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityLow      Severity = "LOW"
	SeverityWarning  Severity = "WARNING"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// LogLevel maps a severity onto the slog level used for the event
func (s Severity) LogLevel() slog.Level {
	switch s {
	case SeverityHigh, SeverityCritical:
		return slog.LevelError
	case SeverityWarning, SeverityMedium:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// Rank orders severities for threshold comparisons
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityWarning:
		return 2
	case SeverityMedium:
		return 3
	case SeverityHigh:
		return 4
	case SeverityCritical:
		return 5
	default:
		return 0
	}
}

// Event types written by the login path
const (
	EventLoginSuccess         = "login_success"
	EventLoginFailed          = "login_failed"
	EventLoginIPBlocked       = "login_ip_blocked"
	EventLoginAccountDisabled = "login_account_disabled"
	EventLoginAccountLocked   = "login_account_locked"
	EventSecondFactorRequired = "second_factor_required"
	EventSecondFactorFailed   = "second_factor_failed"
	EventSecondFactorVerified = "second_factor_verified"
	EventLoginUnavailable     = "login_unavailable"
	EventIPAutoBlocked        = "ip_auto_blocked"
	EventAnomalousLogin       = "anomalous_login"
	EventSecondFactorEnrolled = "second_factor_enrolled"
	EventSessionRefreshed     = "session_refreshed"
)

// Outcomes
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeBlocked = "blocked"
)

// SecurityEvent is an append-only record; it is never updated after creation.
type SecurityEvent struct {
	ID        uuid.UUID    `db:"id"`
	EventType string       `db:"event_type"`
	Severity  Severity     `db:"severity"`
	SubjectID *string      `db:"subject_id"`
	IPAddress string       `db:"ip_address"`
	Outcome   string       `db:"outcome"`
	Details   EventDetails `db:"details"`
	CreatedAt time.Time    `db:"created_at"`
}

// NewSecurityEvent stamps an event with an id and the current time
func NewSecurityEvent(eventType string, severity Severity, subjectID *string, ip, outcome string, details EventDetails) SecurityEvent {
	if details == nil {
		details = EventDetails{}
	}
	return SecurityEvent{
		ID:        uuid.New(),
		EventType: eventType,
		Severity:  severity,
		SubjectID: subjectID,
		IPAddress: ip,
		Outcome:   outcome,
		Details:   details,
		CreatedAt: time.Now().UTC(),
	}
}

// EventDetails holds the structured context of a security event
type EventDetails map[string]interface{}

// Scan implements sql.Scanner for JSONB
func (d *EventDetails) Scan(value interface{}) error {
	if value == nil {
		*d = make(EventDetails)
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return ErrBadRequest
	}

	var m map[string]interface{}
	if err := json.Unmarshal(bytes, &m); err != nil {
		return err
	}
	*d = EventDetails(m)
	return nil
}

// Value implements driver.Valuer for JSONB
func (d EventDetails) Value() (driver.Value, error) {
	if d == nil {
		return nil, nil
	}
	return json.Marshal(map[string]interface{}(d))
}

package models

import "time"

// FailureReason is the public, typed reason a login attempt did not produce a session.
type FailureReason string

const (
	FailureIPBlocked            FailureReason = "IP_BLOCKED"
	FailureAccountDisabled      FailureReason = "ACCOUNT_DISABLED"
	FailureAccountLocked        FailureReason = "ACCOUNT_LOCKED"
	FailureInvalidCredentials   FailureReason = "INVALID_CREDENTIALS"
	FailureSecondFactorRequired FailureReason = "SECOND_FACTOR_REQUIRED"
	// FailureUnavailable is the generic failure used when a collaborator
	// needed for the decision could not be reached.
	FailureUnavailable FailureReason = "UNAVAILABLE"
)

// Principal is the verified identity handed to the session issuer.
type Principal struct {
	ID           string   `json:"id"`
	DisplayName  string   `json:"name"`
	Role         string   `json:"role"`
	Capabilities []string `json:"capabilities"`
}

// LoginOutcome is either a success carrying a Principal or a failure carrying a reason.
type LoginOutcome struct {
	Principal  *Principal
	Reason     FailureReason
	RetryAfter time.Duration // set for ACCOUNT_LOCKED and IP_BLOCKED when known
}

// Succeeded returns a successful outcome
func Succeeded(p *Principal) LoginOutcome {
	return LoginOutcome{Principal: p}
}

// Failed returns a failed outcome
func Failed(reason FailureReason) LoginOutcome {
	return LoginOutcome{Reason: reason}
}

// OK reports whether the attempt succeeded.
func (o LoginOutcome) OK() bool {
	return o.Reason == "" && o.Principal != nil
}

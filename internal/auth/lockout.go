package auth

import (
	"time"

	"github.com/BradenHooton/gatekeeper/internal/models"
)

// LockoutPolicy decides account lockout from the counters on the account row.
// The counters themselves are advanced by the credential store.
type LockoutPolicy struct {
	Threshold int           // Consecutive failures that trigger a lock
	Duration  time.Duration // How long a triggered lock lasts
}

// LockoutState is the outcome of evaluating an account at a point in time
type LockoutState struct {
	Locked    bool
	Remaining time.Duration
}

// Evaluate reports whether acct is locked at now. A lock applies while lockout_until
// is strictly after now; an expired lock is treated as unlocked without any write.
func (p LockoutPolicy) Evaluate(acct *models.Account, now time.Time) LockoutState {
	if acct == nil || acct.LockoutUntil == nil {
		return LockoutState{}
	}
	if !acct.LockoutUntil.After(now) {
		return LockoutState{}
	}
	return LockoutState{Locked: true, Remaining: acct.LockoutUntil.Sub(now)}
}

// LockUntil is the expiry a failure recorded at now would set if it reaches the threshold
func (p LockoutPolicy) LockUntil(now time.Time) time.Time {
	return now.Add(p.Duration)
}

// Triggered reports whether a post-increment counter state represents a fresh lock at now
func (p LockoutPolicy) Triggered(state models.CounterState, now time.Time) bool {
	return state.FailedAttempts >= p.Threshold && state.LockoutUntil != nil && state.LockoutUntil.After(now)
}

package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/BradenHooton/gatekeeper/internal/auth"
	"github.com/BradenHooton/gatekeeper/internal/models"
	pkglogger "github.com/BradenHooton/gatekeeper/pkg/logger"
)

// CredentialStore is the account data the login path reads and the counters it advances
type CredentialStore interface {
	FindByIdentifier(ctx context.Context, identifier string) (*models.Account, error)
	IncrementFailedAttempts(ctx context.Context, id string, threshold int, lockUntil time.Time) (models.CounterState, error)
	ResetCounters(ctx context.Context, id string) error
	GetCapabilities(ctx context.Context, id string) ([]string, error)
}

// RiskGate blocks known-bad IPs and scores every attempt
type RiskGate interface {
	CheckBlocked(ctx context.Context, ip string) (bool, time.Duration)
	RecordOutcome(ctx context.Context, accountID *string, ip string, success bool, rc models.RiskContext) models.RiskAssessment
}

// SecondFactorChecker decides whether a code is needed and checks it against the stored secret
type SecondFactorChecker interface {
	Required(acct *models.Account) bool
	VerifyEncrypted(ciphertext, nonce []byte, code string) (bool, error)
}

// PasswordHasher compares passwords against stored hashes
type PasswordHasher interface {
	Compare(hashedPassword, password string) bool
	CompareDummy(password string)
}

// EventLogger receives security events without blocking the caller
type EventLogger interface {
	Log(ctx context.Context, event models.SecurityEvent)
}

// LoginConfig holds the lockout policy and the store deadline
type LoginConfig struct {
	Lockout      auth.LockoutPolicy
	StoreTimeout time.Duration
}

// LoginService runs one login attempt through the gates in a fixed order:
// IP block, account lookup, active flag, lockout, password, second factor.
// The first failing gate ends the attempt.
type LoginService struct {
	store  CredentialStore
	gate   RiskGate
	second SecondFactorChecker
	hasher PasswordHasher
	events EventLogger
	timing *auth.TimingDelay
	logger *slog.Logger
	cfg    LoginConfig
	now    func() time.Time
}

// NewLoginService creates a new LoginService. timing may be nil.
func NewLoginService(store CredentialStore, gate RiskGate, second SecondFactorChecker, hasher PasswordHasher,
	events EventLogger, timing *auth.TimingDelay, logger *slog.Logger, cfg LoginConfig) *LoginService {
	if cfg.Lockout.Threshold <= 0 {
		cfg.Lockout.Threshold = 5
	}
	if cfg.Lockout.Duration <= 0 {
		cfg.Lockout.Duration = 15 * time.Minute
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 3 * time.Second
	}
	return &LoginService{
		store:  store,
		gate:   gate,
		second: second,
		hasher: hasher,
		events: events,
		timing: timing,
		logger: logger,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Authenticate decides whether attempt yields a principal.
// The error is non-nil only with FailureUnavailable and wraps ErrStoreUnavailable
// or ErrSecretDecryption; it is for logs and must not reach the client.
func (s *LoginService) Authenticate(ctx context.Context, attempt models.LoginAttempt) (models.LoginOutcome, error) {
	start := time.Now()
	if attempt.Timestamp.IsZero() {
		attempt.Timestamp = s.now()
	}
	attempt.Identifier = strings.ToLower(strings.TrimSpace(attempt.Identifier))

	outcome, err := s.authenticate(ctx, attempt)
	s.timing.WaitFrom(ctx, start, outcome.OK())
	return outcome, err
}

func (s *LoginService) authenticate(ctx context.Context, attempt models.LoginAttempt) (models.LoginOutcome, error) {
	ip := attempt.IPAddress
	now := attempt.Timestamp
	rc := models.RiskContext{Identifier: attempt.Identifier, UserAgent: attempt.UserAgent, Timestamp: now}

	// IP_CHECK
	if blocked, remaining := s.gate.CheckBlocked(ctx, ip); blocked {
		s.emit(ctx, models.EventLoginIPBlocked, models.SeverityHigh, nil, ip, models.OutcomeBlocked, models.EventDetails{
			"reason":              string(models.FailureIPBlocked),
			"retry_after_seconds": ceilSeconds(remaining),
		})
		return models.LoginOutcome{Reason: models.FailureIPBlocked, RetryAfter: remaining}, nil
	}

	// ACCOUNT_LOOKUP
	var acct *models.Account
	if attempt.Identifier != "" {
		var err error
		acct, err = s.findAccount(ctx, attempt.Identifier)
		if err != nil {
			return s.unavailable(ctx, nil, ip, "find_account", err)
		}
	}

	if acct == nil || !acct.HasPassword() {
		s.hasher.CompareDummy(attempt.Password)

		// Scored like an unknown account so the two cases look the same to the risk history
		assessment := s.gate.RecordOutcome(ctx, nil, ip, false, rc)

		var subject *string
		if acct != nil {
			subject = &acct.ID
		}

		details := withRisk(models.EventDetails{
			"reason":     string(models.FailureInvalidCredentials),
			"identifier": pkglogger.SanitizedEmail(attempt.Identifier),
			"known":      acct != nil,
		}, assessment)
		s.emit(ctx, models.EventLoginFailed, models.SeverityLow, subject, ip, models.OutcomeFailure, details)
		return models.Failed(models.FailureInvalidCredentials), nil
	}

	// ACTIVE_CHECK
	if !acct.Active {
		s.emit(ctx, models.EventLoginAccountDisabled, models.SeverityMedium, &acct.ID, ip, models.OutcomeFailure, models.EventDetails{
			"reason": string(models.FailureAccountDisabled),
		})
		return models.Failed(models.FailureAccountDisabled), nil
	}

	// LOCKOUT_CHECK
	if lock := s.cfg.Lockout.Evaluate(acct, now); lock.Locked {
		s.emit(ctx, models.EventLoginAccountLocked, models.SeverityMedium, &acct.ID, ip, models.OutcomeBlocked, models.EventDetails{
			"reason":              string(models.FailureAccountLocked),
			"failed_attempts":     acct.FailedAttempts,
			"lockout_until":       acct.LockoutUntil.UTC().Format(time.RFC3339),
			"retry_after_seconds": ceilSeconds(lock.Remaining),
		})
		return models.LoginOutcome{Reason: models.FailureAccountLocked, RetryAfter: lock.Remaining}, nil
	}

	// PASSWORD_CHECK
	if !s.hasher.Compare(acct.PasswordHash, attempt.Password) {
		return s.rejectCredentials(ctx, acct, ip, now, rc, models.EventLoginFailed, "password")
	}

	// SECOND_FACTOR_CHECK
	if s.second.Required(acct) {
		code := strings.TrimSpace(attempt.OTP)
		if code == "" {
			s.emit(ctx, models.EventSecondFactorRequired, models.SeverityInfo, &acct.ID, ip, models.OutcomeFailure, models.EventDetails{
				"reason": string(models.FailureSecondFactorRequired),
			})
			return models.Failed(models.FailureSecondFactorRequired), nil
		}

		valid, err := s.second.VerifyEncrypted(acct.TwoFactorSecret, acct.TwoFactorNonce, code)
		if err != nil {
			return s.unavailable(ctx, &acct.ID, ip, "verify_second_factor", err)
		}
		if !valid {
			return s.rejectCredentials(ctx, acct, ip, now, rc, models.EventSecondFactorFailed, "second_factor")
		}

		s.emit(ctx, models.EventSecondFactorVerified, models.SeverityInfo, &acct.ID, ip, models.OutcomeSuccess, nil)
	}

	return s.succeed(ctx, acct, ip, rc)
}

// rejectCredentials applies the uniform failure penalty for a wrong password or code
func (s *LoginService) rejectCredentials(ctx context.Context, acct *models.Account, ip string, now time.Time,
	rc models.RiskContext, eventType, factor string) (models.LoginOutcome, error) {
	state, err := s.incrementFailures(ctx, acct.ID, now)
	if err != nil {
		return s.unavailable(ctx, &acct.ID, ip, "increment_failed_attempts", err)
	}

	assessment := s.gate.RecordOutcome(ctx, &acct.ID, ip, false, rc)

	locked := s.cfg.Lockout.Triggered(state, now)
	severity := models.SeverityLow
	if factor == "second_factor" || locked {
		severity = models.SeverityMedium
	}

	details := withRisk(models.EventDetails{
		"reason":          string(models.FailureInvalidCredentials),
		"factor":          factor,
		"failed_attempts": state.FailedAttempts,
		"threshold":       s.cfg.Lockout.Threshold,
		"locked":          locked,
	}, assessment)
	if state.LockoutUntil != nil {
		details["lockout_until"] = state.LockoutUntil.UTC().Format(time.RFC3339)
	}
	s.emit(ctx, eventType, severity, &acct.ID, ip, models.OutcomeFailure, details)

	return models.Failed(models.FailureInvalidCredentials), nil
}

func (s *LoginService) succeed(ctx context.Context, acct *models.Account, ip string, rc models.RiskContext) (models.LoginOutcome, error) {
	if acct.FailedAttempts != 0 || acct.LockoutUntil != nil {
		if err := s.resetCounters(ctx, acct.ID); err != nil {
			return s.unavailable(ctx, &acct.ID, ip, "reset_counters", err)
		}
	}

	caps, err := s.capabilities(ctx, acct.ID)
	if err != nil {
		return s.unavailable(ctx, &acct.ID, ip, "get_capabilities", err)
	}
	caps = models.NormalizeCapabilities(acct.Role, caps)

	assessment := s.gate.RecordOutcome(ctx, &acct.ID, ip, true, rc)

	s.emit(ctx, models.EventLoginSuccess, models.SeverityInfo, &acct.ID, ip, models.OutcomeSuccess, withRisk(models.EventDetails{
		"second_factor":        acct.TwoFactorEnabled,
		"cleared_failures":     acct.FailedAttempts,
		"capabilities_granted": len(caps),
	}, assessment))

	return models.Succeeded(&models.Principal{
		ID:           acct.ID,
		DisplayName:  acct.DisplayName,
		Role:         acct.Role,
		Capabilities: caps,
	}), nil
}

// unavailable ends the attempt when a collaborator needed for the decision failed
func (s *LoginService) unavailable(ctx context.Context, subject *string, ip, stage string, err error) (models.LoginOutcome, error) {
	if !errors.Is(err, models.ErrStoreUnavailable) && !errors.Is(err, models.ErrSecretDecryption) &&
		!errors.Is(err, models.ErrSecondFactorNotEnrolled) {
		err = fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	err = fmt.Errorf("%s: %w", stage, err)

	s.logger.Error("login attempt could not be decided", slog.String("stage", stage), slog.Any("error", err))
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", "login")
		scope.SetTag("stage", stage)
		sentry.CaptureException(err)
	})

	s.emit(ctx, models.EventLoginUnavailable, models.SeverityHigh, subject, ip, models.OutcomeFailure, models.EventDetails{
		"reason": string(models.FailureUnavailable),
		"stage":  stage,
	})
	return models.Failed(models.FailureUnavailable), err
}

func (s *LoginService) findAccount(ctx context.Context, identifier string) (*models.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	return s.store.FindByIdentifier(ctx, identifier)
}

func (s *LoginService) incrementFailures(ctx context.Context, id string, now time.Time) (models.CounterState, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	return s.store.IncrementFailedAttempts(ctx, id, s.cfg.Lockout.Threshold, s.cfg.Lockout.LockUntil(now))
}

func (s *LoginService) resetCounters(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	return s.store.ResetCounters(ctx, id)
}

func (s *LoginService) capabilities(ctx context.Context, id string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	return s.store.GetCapabilities(ctx, id)
}

func (s *LoginService) emit(ctx context.Context, eventType string, severity models.Severity, subject *string, ip, outcome string, details models.EventDetails) {
	s.events.Log(ctx, models.NewSecurityEvent(eventType, severity, subject, ip, outcome, details))
}

func withRisk(details models.EventDetails, a models.RiskAssessment) models.EventDetails {
	details["risk_score"] = a.Score
	details["risk_level"] = string(a.Level)
	if len(a.Anomalies) > 0 {
		details["anomalies"] = a.Anomalies
	}
	if a.Degraded {
		details["risk_degraded"] = true
	}
	return details
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}

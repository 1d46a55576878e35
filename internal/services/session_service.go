package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/models"
)

// Authenticator decides login attempts
type Authenticator interface {
	Authenticate(ctx context.Context, attempt models.LoginAttempt) (models.LoginOutcome, error)
}

// SessionTokens issues, refreshes and signs session claims
type SessionTokens interface {
	Issue(p *models.Principal) (*models.SessionClaims, error)
	Refresh(ctx context.Context, claims *models.SessionClaims, trigger models.RefreshTrigger) (*models.SessionClaims, error)
	Encode(claims *models.SessionClaims) (string, error)
}

// Session is a signed set of claims ready to be set as a cookie
type Session struct {
	Claims    *models.SessionClaims
	Token     string
	ExpiresAt time.Time
}

// LoginResult carries the orchestrator outcome and, on success, the new session
type LoginResult struct {
	Outcome models.LoginOutcome
	Session *Session
}

// SessionService turns login outcomes into sessions and refreshes live sessions
type SessionService struct {
	authenticator Authenticator
	tokens        SessionTokens
	events        EventLogger
	logger        *slog.Logger
}

func NewSessionService(authenticator Authenticator, tokens SessionTokens, events EventLogger, logger *slog.Logger) *SessionService {
	return &SessionService{
		authenticator: authenticator,
		tokens:        tokens,
		events:        events,
		logger:        logger,
	}
}

// Login authenticates the attempt and issues a session on success.
// Claims are built only from the principal the orchestrator returned.
func (s *SessionService) Login(ctx context.Context, attempt models.LoginAttempt) (*LoginResult, error) {
	outcome, err := s.authenticator.Authenticate(ctx, attempt)
	if err != nil {
		return &LoginResult{Outcome: outcome}, err
	}
	if !outcome.OK() {
		return &LoginResult{Outcome: outcome}, nil
	}

	claims, err := s.tokens.Issue(outcome.Principal)
	if err != nil {
		s.logger.Error("failed to issue session", slog.String("user_id", outcome.Principal.ID), slog.Any("error", err))
		return &LoginResult{Outcome: models.Failed(models.FailureUnavailable)}, fmt.Errorf("issue session: %w", err)
	}

	session, err := s.sign(claims)
	if err != nil {
		s.logger.Error("failed to sign session", slog.String("user_id", outcome.Principal.ID), slog.Any("error", err))
		return &LoginResult{Outcome: models.Failed(models.FailureUnavailable)}, err
	}

	return &LoginResult{Outcome: outcome, Session: session}, nil
}

// Refresh re-signs claims. The update trigger re-reads capabilities from the store.
func (s *SessionService) Refresh(ctx context.Context, claims *models.SessionClaims, trigger models.RefreshTrigger, ip string) (*Session, error) {
	refreshed, err := s.tokens.Refresh(ctx, claims, trigger)
	if err != nil {
		return nil, err
	}

	session, err := s.sign(refreshed)
	if err != nil {
		return nil, err
	}

	if trigger == models.RefreshTriggerUpdate {
		subject := refreshed.SubjectID()
		s.events.Log(ctx, models.NewSecurityEvent(models.EventSessionRefreshed, models.SeverityInfo, &subject, ip,
			models.OutcomeSuccess, models.EventDetails{
				"trigger":      string(trigger),
				"capabilities": refreshed.Capabilities,
			}))
	}

	return session, nil
}

func (s *SessionService) sign(claims *models.SessionClaims) (*Session, error) {
	token, err := s.tokens.Encode(claims)
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}

	session := &Session{Claims: claims, Token: token}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	return session, nil
}

package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/gatekeeper/internal/auth"
	"github.com/BradenHooton/gatekeeper/internal/models"
)

func succeedingAuthenticator(p *models.Principal) *MockAuthenticator {
	return &MockAuthenticator{
		AuthenticateFunc: func(context.Context, models.LoginAttempt) (models.LoginOutcome, error) {
			return models.Succeeded(p), nil
		},
	}
}

func TestSessionService_Login_IssuesFromPrincipal(t *testing.T) {
	store := newFakeCredentialStore()
	issuer := auth.NewSessionIssuer("test-secret-32-characters-long!!", time.Hour, store)
	principal := &models.Principal{ID: "u1", DisplayName: "Alice", Role: "user", Capabilities: []string{models.CapabilityTasksRead}}

	svc := NewSessionService(succeedingAuthenticator(principal), issuer, &MockEventLogger{}, discardLogger())

	result, err := svc.Login(context.Background(), models.LoginAttempt{Identifier: "alice@example.com", Password: testPassword})
	require.NoError(t, err)
	require.True(t, result.Outcome.OK())
	require.NotNil(t, result.Session)

	assert.NotEmpty(t, result.Session.Token)
	assert.WithinDuration(t, time.Now().Add(time.Hour), result.Session.ExpiresAt, 5*time.Second)

	decoded, err := issuer.Decode(result.Session.Token)
	require.NoError(t, err)
	assert.Equal(t, "u1", decoded.SubjectID())
	assert.Equal(t, "Alice", decoded.Name)
	assert.Equal(t, []string{models.CapabilityTasksRead}, decoded.Capabilities)
}

func TestSessionService_Login_FailureHasNoSession(t *testing.T) {
	tokens := &MockSessionTokens{
		IssueFunc: func(*models.Principal) (*models.SessionClaims, error) {
			t.Fatal("issue must not be called for a failed login")
			return nil, nil
		},
	}
	authn := &MockAuthenticator{
		AuthenticateFunc: func(context.Context, models.LoginAttempt) (models.LoginOutcome, error) {
			return models.LoginOutcome{Reason: models.FailureAccountLocked, RetryAfter: time.Minute}, nil
		},
	}

	svc := NewSessionService(authn, tokens, &MockEventLogger{}, discardLogger())
	result, err := svc.Login(context.Background(), models.LoginAttempt{})
	require.NoError(t, err)
	assert.Nil(t, result.Session)
	assert.Equal(t, models.FailureAccountLocked, result.Outcome.Reason)
	assert.Equal(t, time.Minute, result.Outcome.RetryAfter)
}

func TestSessionService_Login_PassesUnavailableThrough(t *testing.T) {
	authn := &MockAuthenticator{
		AuthenticateFunc: func(context.Context, models.LoginAttempt) (models.LoginOutcome, error) {
			return models.Failed(models.FailureUnavailable), models.ErrStoreUnavailable
		},
	}

	svc := NewSessionService(authn, &MockSessionTokens{}, &MockEventLogger{}, discardLogger())
	result, err := svc.Login(context.Background(), models.LoginAttempt{})
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)
	assert.Equal(t, models.FailureUnavailable, result.Outcome.Reason)
	assert.Nil(t, result.Session)
}

func TestSessionService_Login_IssueErrors(t *testing.T) {
	principal := &models.Principal{ID: "u1", Role: "user"}

	tests := []struct {
		name   string
		tokens *MockSessionTokens
	}{
		{
			name: "issue",
			tokens: &MockSessionTokens{
				IssueFunc: func(*models.Principal) (*models.SessionClaims, error) { return nil, errors.New("boom") },
			},
		},
		{
			name: "encode",
			tokens: &MockSessionTokens{
				IssueFunc: func(p *models.Principal) (*models.SessionClaims, error) {
					return &models.SessionClaims{UserID: p.ID}, nil
				},
				EncodeFunc: func(*models.SessionClaims) (string, error) { return "", errors.New("boom") },
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewSessionService(succeedingAuthenticator(principal), tt.tokens, &MockEventLogger{}, discardLogger())
			result, err := svc.Login(context.Background(), models.LoginAttempt{})
			assert.Error(t, err)
			assert.Equal(t, models.FailureUnavailable, result.Outcome.Reason)
			assert.Nil(t, result.Outcome.Principal)
			assert.Nil(t, result.Session)
		})
	}
}

func TestSessionService_Refresh_UpdateRereadsCapabilities(t *testing.T) {
	store := newFakeCredentialStore()
	store.add(&models.Account{ID: "u1", Email: "alice@example.com", Role: "user", Active: true},
		models.CapabilityTasksRead, models.CapabilityRequestsSubmit)
	issuer := auth.NewSessionIssuer("test-secret-32-characters-long!!", time.Hour, store)
	events := &MockEventLogger{}
	svc := NewSessionService(&MockAuthenticator{}, issuer, events, discardLogger())

	claims, err := issuer.Issue(&models.Principal{ID: "u1", Role: "user", Capabilities: []string{models.CapabilityTasksRead}})
	require.NoError(t, err)

	session, err := svc.Refresh(context.Background(), claims, models.RefreshTriggerUpdate, clientIP)
	require.NoError(t, err)
	assert.Equal(t, []string{models.CapabilityRequestsSubmit, models.CapabilityTasksRead}, session.Claims.Capabilities)
	assert.Equal(t, "u1", session.Claims.SubjectID())

	ev := events.Last()
	assert.Equal(t, models.EventSessionRefreshed, ev.EventType)
	assert.Equal(t, strPtr("u1"), ev.SubjectID)
}

func TestSessionService_Refresh_NoTriggerKeepsClaims(t *testing.T) {
	store := newFakeCredentialStore()
	store.CapsErr = errors.New("must not be read")
	issuer := auth.NewSessionIssuer("test-secret-32-characters-long!!", time.Hour, store)
	events := &MockEventLogger{}
	svc := NewSessionService(&MockAuthenticator{}, issuer, events, discardLogger())

	claims, err := issuer.Issue(&models.Principal{ID: "u1", Role: "user", Capabilities: []string{models.CapabilityTasksRead}})
	require.NoError(t, err)

	session, err := svc.Refresh(context.Background(), claims, models.RefreshTriggerNone, clientIP)
	require.NoError(t, err)
	assert.Equal(t, claims.Capabilities, session.Claims.Capabilities)
	assert.Equal(t, claims.ID, session.Claims.ID)
	assert.Empty(t, events.Events())
}

func TestSessionService_Refresh_StoreError(t *testing.T) {
	store := newFakeCredentialStore()
	store.CapsErr = models.ErrStoreUnavailable
	issuer := auth.NewSessionIssuer("test-secret-32-characters-long!!", time.Hour, store)
	svc := NewSessionService(&MockAuthenticator{}, issuer, &MockEventLogger{}, discardLogger())

	claims, err := issuer.Issue(&models.Principal{ID: "u1", Role: "user"})
	require.NoError(t, err)

	session, err := svc.Refresh(context.Background(), claims, models.RefreshTriggerUpdate, clientIP)
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)
	assert.Nil(t, session)
}

func TestSessionService_Refresh_DisabledOrLockedAccount(t *testing.T) {
	lockedUntil := time.Now().Add(10 * time.Minute)
	tests := []struct {
		name string
		acct *models.Account
	}{
		{"disabled", &models.Account{ID: "u1", Role: "user", Active: false}},
		{"locked", &models.Account{ID: "u1", Role: "user", Active: true, LockoutUntil: &lockedUntil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeCredentialStore()
			store.add(tt.acct, models.CapabilityTasksRead)
			issuer := auth.NewSessionIssuer("test-secret-32-characters-long!!", time.Hour, store)
			events := &MockEventLogger{}
			svc := NewSessionService(&MockAuthenticator{}, issuer, events, discardLogger())

			claims, err := issuer.Issue(&models.Principal{ID: "u1", Role: "user"})
			require.NoError(t, err)

			session, err := svc.Refresh(context.Background(), claims, models.RefreshTriggerUpdate, clientIP)
			assert.ErrorIs(t, err, models.ErrUnauthorized)
			assert.Nil(t, session)
			assert.Empty(t, events.Events())
		})
	}
}

package services

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/BradenHooton/gatekeeper/internal/auth"
	"github.com/BradenHooton/gatekeeper/internal/models"
	pkgauth "github.com/BradenHooton/gatekeeper/pkg/auth"
)

// fakeCredentialStore mirrors the repository's single-statement counter update under a mutex
type fakeCredentialStore struct {
	mu       sync.Mutex
	accounts map[string]*models.Account
	caps     map[string][]string

	FindErr  error
	IncErr   error
	ResetErr error
	CapsErr  error

	findCalls  atomic.Int32
	incCalls   atomic.Int32
	resetCalls atomic.Int32
}

func newFakeCredentialStore() *fakeCredentialStore {
	return &fakeCredentialStore{
		accounts: make(map[string]*models.Account),
		caps:     make(map[string][]string),
	}
}

func (f *fakeCredentialStore) add(acct *models.Account, caps ...string) *models.Account {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[acct.ID] = acct
	f.caps[acct.ID] = caps
	return acct
}

func (f *fakeCredentialStore) get(id string) models.Account {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.accounts[id]
}

func (f *fakeCredentialStore) FindByIdentifier(ctx context.Context, identifier string) (*models.Account, error) {
	f.findCalls.Add(1)
	if f.FindErr != nil {
		return nil, f.FindErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.accounts {
		if strings.EqualFold(a.Email, identifier) {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeCredentialStore) IncrementFailedAttempts(ctx context.Context, id string, threshold int, lockUntil time.Time) (models.CounterState, error) {
	f.incCalls.Add(1)
	if f.IncErr != nil {
		return models.CounterState{}, f.IncErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return models.CounterState{}, models.ErrNotFound
	}
	a.FailedAttempts++
	if a.FailedAttempts >= threshold {
		if a.LockoutUntil == nil || lockUntil.After(*a.LockoutUntil) {
			lu := lockUntil
			a.LockoutUntil = &lu
		}
	}
	return models.CounterState{FailedAttempts: a.FailedAttempts, LockoutUntil: a.LockoutUntil}, nil
}

func (f *fakeCredentialStore) ResetCounters(ctx context.Context, id string) error {
	f.resetCalls.Add(1)
	if f.ResetErr != nil {
		return f.ResetErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return models.ErrNotFound
	}
	a.FailedAttempts = 0
	a.LockoutUntil = nil
	return nil
}

func (f *fakeCredentialStore) GetCapabilities(ctx context.Context, id string) ([]string, error) {
	if f.CapsErr != nil {
		return nil, f.CapsErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.caps[id]...), nil
}

func (f *fakeCredentialStore) GetSessionGrant(ctx context.Context, id string) (models.SessionGrant, error) {
	if f.CapsErr != nil {
		return models.SessionGrant{}, f.CapsErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return models.SessionGrant{}, models.ErrNotFound
	}
	return models.SessionGrant{
		Active:       a.Active,
		LockoutUntil: a.LockoutUntil,
		Capabilities: append([]string{}, f.caps[id]...),
	}, nil
}

func (f *fakeCredentialStore) GetByID(ctx context.Context, id string) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeCredentialStore) SaveSecondFactorSecret(ctx context.Context, id string, ciphertext, nonce []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return models.ErrNotFound
	}
	a.TwoFactorSecret = ciphertext
	a.TwoFactorNonce = nonce
	a.TwoFactorEnabled = false
	return nil
}

func (f *fakeCredentialStore) EnableSecondFactor(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok || len(a.TwoFactorSecret) == 0 {
		return models.ErrSecondFactorNotEnrolled
	}
	a.TwoFactorEnabled = true
	return nil
}

// MockScorer implements risk.Scorer
type MockScorer struct {
	AssessFunc func(ctx context.Context, accountID *string, ip string, success bool, rc models.RiskContext) (models.RiskAssessment, error)
}

func (m *MockScorer) Assess(ctx context.Context, accountID *string, ip string, success bool, rc models.RiskContext) (models.RiskAssessment, error) {
	if m.AssessFunc != nil {
		return m.AssessFunc(ctx, accountID, ip, success, rc)
	}
	return models.LowRisk(), nil
}

// MockEventLogger records events in order
type MockEventLogger struct {
	mu     sync.Mutex
	events []models.SecurityEvent
}

func (m *MockEventLogger) Log(_ context.Context, event models.SecurityEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

func (m *MockEventLogger) Events() []models.SecurityEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.SecurityEvent(nil), m.events...)
}

func (m *MockEventLogger) Last() models.SecurityEvent {
	events := m.Events()
	if len(events) == 0 {
		return models.SecurityEvent{}
	}
	return events[len(events)-1]
}

func (m *MockEventLogger) Types() []string {
	var types []string
	for _, e := range m.Events() {
		types = append(types, e.EventType)
	}
	return types
}

func (m *MockEventLogger) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = nil
}

// MockSessionTokens implements SessionTokens
type MockSessionTokens struct {
	IssueFunc   func(p *models.Principal) (*models.SessionClaims, error)
	RefreshFunc func(ctx context.Context, claims *models.SessionClaims, trigger models.RefreshTrigger) (*models.SessionClaims, error)
	EncodeFunc  func(claims *models.SessionClaims) (string, error)
}

func (m *MockSessionTokens) Issue(p *models.Principal) (*models.SessionClaims, error) {
	return m.IssueFunc(p)
}

func (m *MockSessionTokens) Refresh(ctx context.Context, claims *models.SessionClaims, trigger models.RefreshTrigger) (*models.SessionClaims, error) {
	return m.RefreshFunc(ctx, claims, trigger)
}

func (m *MockSessionTokens) Encode(claims *models.SessionClaims) (string, error) {
	if m.EncodeFunc != nil {
		return m.EncodeFunc(claims)
	}
	return "signed-token", nil
}

// MockAuthenticator implements Authenticator
type MockAuthenticator struct {
	AuthenticateFunc func(ctx context.Context, attempt models.LoginAttempt) (models.LoginOutcome, error)
}

func (m *MockAuthenticator) Authenticate(ctx context.Context, attempt models.LoginAttempt) (models.LoginOutcome, error) {
	return m.AuthenticateFunc(ctx, attempt)
}

const testPassword = "Correct-Horse-9!"

var testHasher = pkgauth.NewHasher(bcrypt.MinCost)

func hashPassword(pw string) string {
	h, err := testHasher.Hash(pw)
	if err != nil {
		panic(err)
	}
	return h
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestVerifier() *auth.SecondFactorVerifier {
	v, err := auth.NewSecondFactorVerifier([]byte("0123456789abcdef0123456789abcdef"), "Gatekeeper")
	if err != nil {
		panic(err)
	}
	return v
}

func strPtr(s string) *string {
	return &s
}

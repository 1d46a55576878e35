package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/gatekeeper/internal/auth"
	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/BradenHooton/gatekeeper/internal/risk"
)

const (
	clientIP   = "198.51.100.20"
	attackerIP = "203.0.113.66"
)

type loginFixture struct {
	svc      *LoginService
	store    *fakeCredentialStore
	gate     *risk.Gate
	blocks   *risk.MemoryBlockList
	events   *MockEventLogger
	verifier *auth.SecondFactorVerifier
	scorer   *MockScorer
}

func newLoginFixture(t *testing.T) *loginFixture {
	t.Helper()

	f := &loginFixture{
		store:    newFakeCredentialStore(),
		blocks:   risk.NewMemoryBlockList(),
		events:   &MockEventLogger{},
		verifier: newTestVerifier(),
		scorer:   &MockScorer{},
	}
	f.gate = risk.NewGate(f.blocks, f.scorer, f.events, discardLogger(), risk.GateConfig{
		HighBlockDuration:     15 * time.Minute,
		CriticalBlockDuration: 30 * time.Minute,
		ScoreTimeout:          time.Second,
	})
	f.svc = NewLoginService(f.store, f.gate, f.verifier, testHasher, f.events, nil, discardLogger(), LoginConfig{
		Lockout:      auth.LockoutPolicy{Threshold: 5, Duration: 15 * time.Minute},
		StoreTimeout: time.Second,
	})
	return f
}

func (f *loginFixture) addUser(id, email string) *models.Account {
	return f.store.add(&models.Account{
		ID:           id,
		Email:        email,
		DisplayName:  "User " + id,
		PasswordHash: hashPassword(testPassword),
		Role:         "user",
		Active:       true,
	}, models.CapabilityTasksWrite, models.CapabilityTasksRead, models.CapabilityUsersManage)
}

// addTwoFactorUser returns the plaintext base32 secret
func (f *loginFixture) addTwoFactorUser(t *testing.T, id, email string) string {
	t.Helper()
	enrollment, err := f.verifier.Provision(email)
	require.NoError(t, err)

	acct := f.addUser(id, email)
	acct.TwoFactorEnabled = true
	acct.TwoFactorSecret = enrollment.Ciphertext
	acct.TwoFactorNonce = enrollment.Nonce
	return enrollment.Secret
}

func (f *loginFixture) login(identifier, password, otp, ip string) (models.LoginOutcome, error) {
	return f.svc.Authenticate(context.Background(), models.LoginAttempt{
		Identifier: identifier,
		Password:   password,
		OTP:        otp,
		IPAddress:  ip,
		UserAgent:  "test-agent",
	})
}

func currentCode(t *testing.T, secret string) string {
	t.Helper()
	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	return code
}

func TestLogin_Success(t *testing.T) {
	f := newLoginFixture(t)
	f.addUser("u1", "alice@example.com")

	outcome, err := f.login("  Alice@Example.com ", testPassword, "", clientIP)
	require.NoError(t, err)
	require.True(t, outcome.OK())

	p := outcome.Principal
	assert.Equal(t, "u1", p.ID)
	assert.Equal(t, "User u1", p.DisplayName)
	assert.Equal(t, "user", p.Role)
	// Admin-only grants are stripped for non-admin roles
	assert.Equal(t, []string{models.CapabilityTasksRead, models.CapabilityTasksWrite}, p.Capabilities)

	// No counters to clear, so no write
	assert.Equal(t, int32(0), f.store.resetCalls.Load())
	assert.Equal(t, []string{models.EventLoginSuccess}, f.events.Types())
	assert.Equal(t, models.SeverityInfo, f.events.Last().Severity)
}

func TestLogin_UnknownAccount(t *testing.T) {
	f := newLoginFixture(t)
	f.addUser("u1", "alice@example.com")

	var scoredAccount *string
	scored := false
	f.scorer.AssessFunc = func(_ context.Context, accountID *string, _ string, success bool, _ models.RiskContext) (models.RiskAssessment, error) {
		scored = true
		scoredAccount = accountID
		assert.False(t, success)
		return models.LowRisk(), nil
	}

	outcome, err := f.login("nobody@example.com", testPassword, "", clientIP)
	require.NoError(t, err)
	assert.Equal(t, models.FailureInvalidCredentials, outcome.Reason)
	assert.Nil(t, outcome.Principal)

	assert.True(t, scored)
	assert.Nil(t, scoredAccount)
	assert.Equal(t, int32(0), f.store.incCalls.Load())

	ev := f.events.Last()
	assert.Equal(t, models.EventLoginFailed, ev.EventType)
	assert.Nil(t, ev.SubjectID)
	assert.Equal(t, "n*****@*******.com", ev.Details["identifier"])
}

func TestLogin_UnknownAndWrongPasswordLookAlike(t *testing.T) {
	f := newLoginFixture(t)
	f.addUser("u1", "alice@example.com")

	unknown, err := f.login("nobody@example.com", "whatever", "", clientIP)
	require.NoError(t, err)
	wrong, err := f.login("alice@example.com", "whatever", "", clientIP)
	require.NoError(t, err)

	assert.Equal(t, unknown, wrong)
}

func TestLogin_AccountWithoutPassword(t *testing.T) {
	f := newLoginFixture(t)
	acct := f.addUser("u1", "alice@example.com")
	acct.PasswordHash = ""

	scored := false
	f.scorer.AssessFunc = func(_ context.Context, accountID *string, _ string, _ bool, _ models.RiskContext) (models.RiskAssessment, error) {
		scored = true
		assert.Nil(t, accountID)
		return models.LowRisk(), nil
	}

	outcome, err := f.login("alice@example.com", "", "", clientIP)
	require.NoError(t, err)
	assert.Equal(t, models.FailureInvalidCredentials, outcome.Reason)
	assert.Equal(t, 0, f.store.get("u1").FailedAttempts)
	assert.True(t, scored)
}

func TestLogin_WrongPasswordIncrementsCounter(t *testing.T) {
	f := newLoginFixture(t)
	f.addUser("u1", "alice@example.com")

	outcome, err := f.login("alice@example.com", "wrong", "", clientIP)
	require.NoError(t, err)
	assert.Equal(t, models.FailureInvalidCredentials, outcome.Reason)

	acct := f.store.get("u1")
	assert.Equal(t, 1, acct.FailedAttempts)
	assert.Nil(t, acct.LockoutUntil)

	ev := f.events.Last()
	assert.Equal(t, models.EventLoginFailed, ev.EventType)
	assert.Equal(t, models.SeverityLow, ev.Severity)
	assert.Equal(t, "password", ev.Details["factor"])
	assert.Equal(t, 1, ev.Details["failed_attempts"])
}

// Scenario A
func TestLogin_LockoutAfterThreshold(t *testing.T) {
	f := newLoginFixture(t)
	f.addUser("u1", "alice@example.com")

	for i := 1; i <= 5; i++ {
		outcome, err := f.login("alice@example.com", "wrong", "", clientIP)
		require.NoError(t, err)
		assert.Equal(t, models.FailureInvalidCredentials, outcome.Reason, "attempt %d", i)
	}

	assert.Equal(t, models.SeverityMedium, f.events.Last().Severity)
	assert.Equal(t, true, f.events.Last().Details["locked"])

	outcome, err := f.login("alice@example.com", testPassword, "", clientIP)
	require.NoError(t, err)
	assert.Equal(t, models.FailureAccountLocked, outcome.Reason)
	assert.InDelta(t, (15 * time.Minute).Seconds(), outcome.RetryAfter.Seconds(), 5)

	assert.Equal(t, models.EventLoginAccountLocked, f.events.Last().EventType)
	// The locked attempt does not touch the counter
	assert.Equal(t, 5, f.store.get("u1").FailedAttempts)
}

func TestLogin_ExpiredLockoutAllowsLoginAndResets(t *testing.T) {
	f := newLoginFixture(t)
	acct := f.addUser("u1", "alice@example.com")
	expired := time.Now().Add(-time.Millisecond)
	acct.FailedAttempts = 5
	acct.LockoutUntil = &expired

	outcome, err := f.login("alice@example.com", testPassword, "", clientIP)
	require.NoError(t, err)
	require.True(t, outcome.OK())

	reloaded := f.store.get("u1")
	assert.Equal(t, 0, reloaded.FailedAttempts)
	assert.Nil(t, reloaded.LockoutUntil)
	assert.Equal(t, int32(1), f.store.resetCalls.Load())
}

func TestLogin_SuccessResetsPriorFailures(t *testing.T) {
	f := newLoginFixture(t)
	f.addUser("u1", "alice@example.com")

	for i := 0; i < 3; i++ {
		_, _ = f.login("alice@example.com", "wrong", "", clientIP)
	}
	assert.Equal(t, 3, f.store.get("u1").FailedAttempts)

	outcome, err := f.login("alice@example.com", testPassword, "", clientIP)
	require.NoError(t, err)
	require.True(t, outcome.OK())
	assert.Equal(t, 0, f.store.get("u1").FailedAttempts)
}

func TestLogin_DisabledAccount(t *testing.T) {
	f := newLoginFixture(t)
	acct := f.addUser("u1", "alice@example.com")
	acct.Active = false

	outcome, err := f.login("alice@example.com", "wrong", "", clientIP)
	require.NoError(t, err)
	assert.Equal(t, models.FailureAccountDisabled, outcome.Reason)
	assert.Equal(t, 0, f.store.get("u1").FailedAttempts)

	ev := f.events.Last()
	assert.Equal(t, models.EventLoginAccountDisabled, ev.EventType)
	assert.Equal(t, models.SeverityMedium, ev.Severity)
	assert.Equal(t, strPtr("u1"), ev.SubjectID)
}

// Scenario B
func TestLogin_SecondFactorRequired(t *testing.T) {
	f := newLoginFixture(t)
	f.addTwoFactorUser(t, "u2", "bob@example.com")

	outcome, err := f.login("bob@example.com", testPassword, "", clientIP)
	require.NoError(t, err)
	assert.Equal(t, models.FailureSecondFactorRequired, outcome.Reason)
	assert.Equal(t, 0, f.store.get("u2").FailedAttempts)
	assert.Equal(t, models.EventSecondFactorRequired, f.events.Last().EventType)
}

func TestLogin_SecondFactorNotRevealedBeforePassword(t *testing.T) {
	f := newLoginFixture(t)
	f.addTwoFactorUser(t, "u2", "bob@example.com")

	outcome, err := f.login("bob@example.com", "wrong", "", clientIP)
	require.NoError(t, err)
	assert.Equal(t, models.FailureInvalidCredentials, outcome.Reason)
	assert.Equal(t, 1, f.store.get("u2").FailedAttempts)
}

func TestLogin_SecondFactorInvalidCode(t *testing.T) {
	f := newLoginFixture(t)
	secret := f.addTwoFactorUser(t, "u2", "bob@example.com")

	stale, err := totp.GenerateCode(secret, time.Now().Add(-10*time.Minute))
	require.NoError(t, err)

	outcome, err := f.login("bob@example.com", testPassword, stale, clientIP)
	require.NoError(t, err)
	assert.Equal(t, models.FailureInvalidCredentials, outcome.Reason)
	assert.Equal(t, 1, f.store.get("u2").FailedAttempts)

	ev := f.events.Last()
	assert.Equal(t, models.EventSecondFactorFailed, ev.EventType)
	assert.Equal(t, models.SeverityMedium, ev.Severity)

	// Malformed codes take the same penalty path
	outcome, err = f.login("bob@example.com", testPassword, "12ab", clientIP)
	require.NoError(t, err)
	assert.Equal(t, models.FailureInvalidCredentials, outcome.Reason)
	assert.Equal(t, 2, f.store.get("u2").FailedAttempts)
}

func TestLogin_SecondFactorFailuresLockTheAccount(t *testing.T) {
	f := newLoginFixture(t)
	f.addTwoFactorUser(t, "u2", "bob@example.com")

	for i := 0; i < 5; i++ {
		_, _ = f.login("bob@example.com", testPassword, "000000x", clientIP)
	}

	outcome, err := f.login("bob@example.com", testPassword, "", clientIP)
	require.NoError(t, err)
	assert.Equal(t, models.FailureAccountLocked, outcome.Reason)
}

func TestLogin_SecondFactorValid(t *testing.T) {
	f := newLoginFixture(t)
	secret := f.addTwoFactorUser(t, "u2", "bob@example.com")
	_, _ = f.login("bob@example.com", "wrong", "", clientIP)

	outcome, err := f.login("bob@example.com", testPassword, currentCode(t, secret), clientIP)
	require.NoError(t, err)
	require.True(t, outcome.OK())
	assert.Equal(t, 0, f.store.get("u2").FailedAttempts)

	types := f.events.Types()
	assert.Equal(t, []string{models.EventSecondFactorVerified, models.EventLoginSuccess}, types[len(types)-2:])
}

func TestLogin_SecondFactorDecryptFailure(t *testing.T) {
	f := newLoginFixture(t)
	f.addTwoFactorUser(t, "u2", "bob@example.com")
	f.store.mu.Lock()
	f.store.accounts["u2"].TwoFactorSecret = []byte("corrupted-ciphertext")
	f.store.mu.Unlock()

	outcome, err := f.login("bob@example.com", testPassword, "123456", clientIP)
	assert.Equal(t, models.FailureUnavailable, outcome.Reason)
	assert.ErrorIs(t, err, models.ErrSecretDecryption)
	assert.Equal(t, 0, f.store.get("u2").FailedAttempts)
}

// Scenario C
func TestLogin_CriticalRiskBlocksIP(t *testing.T) {
	f := newLoginFixture(t)
	f.addUser("u1", "alice@example.com")

	f.scorer.AssessFunc = func(_ context.Context, accountID *string, ip string, success bool, _ models.RiskContext) (models.RiskAssessment, error) {
		if ip == attackerIP && !success {
			return models.RiskAssessment{Score: 95, Level: models.RiskCritical, Anomalous: true}, nil
		}
		return models.LowRisk(), nil
	}

	outcome, err := f.login("ghost@example.com", "guess", "", attackerIP)
	require.NoError(t, err)
	assert.Equal(t, models.FailureInvalidCredentials, outcome.Reason)
	assert.Contains(t, f.events.Types(), models.EventIPAutoBlocked)

	lookups := f.store.findCalls.Load()

	outcome, err = f.login("alice@example.com", testPassword, "", attackerIP)
	require.NoError(t, err)
	assert.Equal(t, models.FailureIPBlocked, outcome.Reason)
	assert.GreaterOrEqual(t, outcome.RetryAfter, 29*time.Minute+59*time.Second)

	// A blocked IP never reaches the credential store
	assert.Equal(t, lookups, f.store.findCalls.Load())

	ev := f.events.Last()
	assert.Equal(t, models.EventLoginIPBlocked, ev.EventType)
	assert.Equal(t, models.SeverityHigh, ev.Severity)
	assert.Nil(t, ev.SubjectID)

	// Other IPs are unaffected
	outcome, err = f.login("alice@example.com", testPassword, "", clientIP)
	require.NoError(t, err)
	assert.True(t, outcome.OK())
}

func TestLogin_BlockedIPShortCircuits(t *testing.T) {
	f := newLoginFixture(t)
	f.addUser("u1", "alice@example.com")

	_, err := f.gate.Block(context.Background(), attackerIP, time.Hour)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		outcome, err := f.login("alice@example.com", testPassword, "", attackerIP)
		require.NoError(t, err)
		assert.Equal(t, models.FailureIPBlocked, outcome.Reason)
	}
	assert.Equal(t, int32(0), f.store.findCalls.Load())
	assert.Equal(t, int32(0), f.store.incCalls.Load())
}

func TestLogin_HighRiskFailureBlocksIPButSuccessDoesNot(t *testing.T) {
	f := newLoginFixture(t)
	f.addUser("u1", "alice@example.com")

	f.scorer.AssessFunc = func(context.Context, *string, string, bool, models.RiskContext) (models.RiskAssessment, error) {
		return models.RiskAssessment{Score: 65, Level: models.RiskHigh, Anomalous: true}, nil
	}

	outcome, err := f.login("alice@example.com", testPassword, "", clientIP)
	require.NoError(t, err)
	require.True(t, outcome.OK())
	assert.Contains(t, f.events.Types(), models.EventAnomalousLogin)

	blocked, _ := f.gate.CheckBlocked(context.Background(), clientIP)
	assert.False(t, blocked)

	_, _ = f.login("alice@example.com", "wrong", "", clientIP)
	blocked, remaining := f.gate.CheckBlocked(context.Background(), clientIP)
	assert.True(t, blocked)
	assert.InDelta(t, (15 * time.Minute).Seconds(), remaining.Seconds(), 5)
}

func TestLogin_ScorerFailureDoesNotFailLogin(t *testing.T) {
	f := newLoginFixture(t)
	f.addUser("u1", "alice@example.com")
	f.scorer.AssessFunc = func(context.Context, *string, string, bool, models.RiskContext) (models.RiskAssessment, error) {
		return models.RiskAssessment{}, errors.New("history table missing")
	}

	outcome, err := f.login("alice@example.com", testPassword, "", clientIP)
	require.NoError(t, err)
	assert.True(t, outcome.OK())
	assert.Equal(t, true, f.events.Last().Details["risk_degraded"])
}

func TestLogin_StoreUnavailable(t *testing.T) {
	tests := []struct {
		name  string
		setup func(s *fakeCredentialStore)
		pw    string
		stage string
	}{
		{
			name:  "lookup",
			setup: func(s *fakeCredentialStore) { s.FindErr = errors.New("dial tcp: connection refused") },
			pw:    testPassword,
			stage: "find_account",
		},
		{
			name:  "increment",
			setup: func(s *fakeCredentialStore) { s.IncErr = models.ErrStoreUnavailable },
			pw:    "wrong",
			stage: "increment_failed_attempts",
		},
		{
			name:  "capabilities",
			setup: func(s *fakeCredentialStore) { s.CapsErr = context.DeadlineExceeded },
			pw:    testPassword,
			stage: "get_capabilities",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newLoginFixture(t)
			f.addUser("u1", "alice@example.com")
			tt.setup(f.store)

			outcome, err := f.login("alice@example.com", tt.pw, "", clientIP)
			assert.Equal(t, models.FailureUnavailable, outcome.Reason)
			assert.Nil(t, outcome.Principal)
			assert.ErrorIs(t, err, models.ErrStoreUnavailable)

			ev := f.events.Last()
			assert.Equal(t, models.EventLoginUnavailable, ev.EventType)
			assert.Equal(t, models.SeverityHigh, ev.Severity)
			assert.Equal(t, tt.stage, ev.Details["stage"])
		})
	}
}

func TestLogin_StoreCallIsBounded(t *testing.T) {
	f := newLoginFixture(t)
	f.svc.cfg.StoreTimeout = 20 * time.Millisecond

	slow := &slowStore{fakeCredentialStore: f.store}
	f.svc.store = slow

	start := time.Now()
	outcome, err := f.login("alice@example.com", testPassword, "", clientIP)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, models.FailureUnavailable, outcome.Reason)
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)
}

type slowStore struct {
	*fakeCredentialStore
}

func (s *slowStore) FindByIdentifier(ctx context.Context, identifier string) (*models.Account, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestLogin_EmptyIdentifierSkipsStore(t *testing.T) {
	f := newLoginFixture(t)

	outcome, err := f.login("   ", testPassword, "", clientIP)
	require.NoError(t, err)
	assert.Equal(t, models.FailureInvalidCredentials, outcome.Reason)
	assert.Equal(t, int32(0), f.store.findCalls.Load())
}

func TestLogin_ConcurrentFailuresAreNotLost(t *testing.T) {
	f := newLoginFixture(t)
	f.addUser("u1", "alice@example.com")

	const workers = 20
	var wg sync.WaitGroup
	var invalid, locked atomic.Int32
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := f.login("alice@example.com", "wrong", "", clientIP)
			assert.NoError(t, err)
			switch outcome.Reason {
			case models.FailureInvalidCredentials:
				invalid.Add(1)
			case models.FailureAccountLocked:
				locked.Add(1)
			}
		}()
	}
	wg.Wait()

	acct := f.store.get("u1")
	// Every attempt that passed the lockout gate was counted
	assert.Equal(t, int(invalid.Load()), acct.FailedAttempts)
	assert.Equal(t, int32(workers), invalid.Load()+locked.Load())
	assert.GreaterOrEqual(t, acct.FailedAttempts, 5)
	require.NotNil(t, acct.LockoutUntil)

	outcome, err := f.login("alice@example.com", testPassword, "", clientIP)
	require.NoError(t, err)
	assert.Equal(t, models.FailureAccountLocked, outcome.Reason)
}

func TestLogin_OneEventPerFailure(t *testing.T) {
	f := newLoginFixture(t)
	f.addUser("u1", "alice@example.com")
	disabled := f.addUser("u3", "carol@example.com")
	disabled.Active = false

	attempts := []struct {
		identifier string
		password   string
		want       string
	}{
		{"nobody@example.com", "x", models.EventLoginFailed},
		{"alice@example.com", "x", models.EventLoginFailed},
		{"carol@example.com", "x", models.EventLoginAccountDisabled},
		{"alice@example.com", testPassword, models.EventLoginSuccess},
	}

	for _, a := range attempts {
		f.events.Reset()
		_, err := f.login(a.identifier, a.password, "", clientIP)
		require.NoError(t, err)
		assert.Equal(t, []string{a.want}, f.events.Types(), a.identifier)
	}
}

func TestLogin_TimingDelayAppliesToFailures(t *testing.T) {
	f := newLoginFixture(t)
	f.addUser("u1", "alice@example.com")
	f.svc.timing = auth.NewTimingDelay(auth.TimingConfig{BaseDelayMs: 60})

	start := time.Now()
	_, _ = f.login("nobody@example.com", "x", "", clientIP)
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

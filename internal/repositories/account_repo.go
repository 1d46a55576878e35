package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/database"
	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
)

// AccountRepository is the Postgres-backed credential store
type AccountRepository struct {
	pool *pgxpool.Pool
}

func NewAccountRepository(db *database.DB) *AccountRepository {
	return &AccountRepository{pool: db.Pool}
}

// rowScanner interface for scanning rows (supports both single row and multiple rows)
type rowScanner interface {
	Scan(dest ...interface{}) error
}

const accountColumns = `id, email, display_name, password_hash, role, active,
	failed_attempts, lockout_until, two_factor_enabled, two_factor_secret, two_factor_nonce,
	created_at, updated_at`

// loginColumns is the projection the login path needs; no contact details or timestamps
const loginColumns = `id, display_name, password_hash, role, active,
	failed_attempts, lockout_until, two_factor_enabled, two_factor_secret, two_factor_nonce`

func scanLoginRow(scanner rowScanner) (*models.Account, error) {
	var acct models.Account

	err := scanner.Scan(
		&acct.ID, &acct.DisplayName, &acct.PasswordHash, &acct.Role, &acct.Active,
		&acct.FailedAttempts, &acct.LockoutUntil, &acct.TwoFactorEnabled, &acct.TwoFactorSecret, &acct.TwoFactorNonce,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &acct, nil
}

func scanAccountRow(scanner rowScanner) (*models.Account, error) {
	var acct models.Account
	var lockoutUntil *time.Time

	err := scanner.Scan(
		&acct.ID, &acct.Email, &acct.DisplayName, &acct.PasswordHash, &acct.Role, &acct.Active,
		&acct.FailedAttempts, &lockoutUntil, &acct.TwoFactorEnabled, &acct.TwoFactorSecret, &acct.TwoFactorNonce,
		&acct.CreatedAt, &acct.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	acct.LockoutUntil = lockoutUntil

	return &acct, nil
}

// FindByIdentifier looks an account up by its login identifier (case-insensitive email).
// Returns (nil, nil) when no account matches.
func (r *AccountRepository) FindByIdentifier(ctx context.Context, identifier string) (*models.Account, error) {
	query := `SELECT ` + loginColumns + ` FROM accounts WHERE LOWER(email) = LOWER($1)`

	acct, err := scanLoginRow(r.pool.QueryRow(ctx, query, strings.TrimSpace(identifier)))
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return acct, nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccountRow(r.pool.QueryRow(ctx, query, id))
}

// IncrementFailedAttempts adds one failure and, when the new count reaches threshold,
// extends lockout_until to lockUntil. A later expiry already on record is kept.
// The read-modify-write happens in one statement so concurrent failures cannot lose updates.
func (r *AccountRepository) IncrementFailedAttempts(ctx context.Context, id string, threshold int, lockUntil time.Time) (models.CounterState, error) {
	query := `
		UPDATE accounts SET
			failed_attempts = failed_attempts + 1,
			lockout_until = CASE
				WHEN failed_attempts + 1 >= $2 THEN GREATEST(COALESCE(lockout_until, $3::timestamptz), $3::timestamptz)
				ELSE lockout_until
			END,
			updated_at = NOW()
		WHERE id = $1
		RETURNING failed_attempts, lockout_until
	`

	var state models.CounterState
	var lockoutUntil *time.Time
	if err := r.pool.QueryRow(ctx, query, id, threshold, lockUntil).Scan(&state.FailedAttempts, &lockoutUntil); err != nil {
		return models.CounterState{}, database.MapPostgresError(err)
	}
	state.LockoutUntil = lockoutUntil

	return state, nil
}

// ResetCounters clears the failure count and any lockout after a successful login
func (r *AccountRepository) ResetCounters(ctx context.Context, id string) error {
	query := `
		UPDATE accounts SET failed_attempts = 0, lockout_until = NULL, updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// GetCapabilities returns the account's granted capabilities, never nil
func (r *AccountRepository) GetCapabilities(ctx context.Context, id string) ([]string, error) {
	query := `SELECT capabilities FROM accounts WHERE id = $1`

	capabilities := make([]string, 0)
	if err := r.pool.QueryRow(ctx, query, id).Scan(pq.Array(&capabilities)); err != nil {
		return nil, database.MapPostgresError(err)
	}
	if capabilities == nil {
		capabilities = []string{}
	}
	return capabilities, nil
}

// GetSessionGrant returns what a session refresh needs: the active flag, any lockout and the capabilities
func (r *AccountRepository) GetSessionGrant(ctx context.Context, id string) (models.SessionGrant, error) {
	query := `SELECT active, lockout_until, capabilities FROM accounts WHERE id = $1`

	grant := models.SessionGrant{Capabilities: make([]string, 0)}
	if err := r.pool.QueryRow(ctx, query, id).Scan(&grant.Active, &grant.LockoutUntil, pq.Array(&grant.Capabilities)); err != nil {
		return models.SessionGrant{}, database.MapPostgresError(err)
	}
	if grant.Capabilities == nil {
		grant.Capabilities = []string{}
	}
	return grant, nil
}

// SetCapabilities replaces the account's capability grants
func (r *AccountRepository) SetCapabilities(ctx context.Context, id string, capabilities []string) error {
	query := `UPDATE accounts SET capabilities = $2, updated_at = NOW() WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, id, pq.Array(capabilities))
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// SaveSecondFactorSecret stores a pending (not yet confirmed) encrypted TOTP secret
func (r *AccountRepository) SaveSecondFactorSecret(ctx context.Context, id string, ciphertext, nonce []byte) error {
	query := `
		UPDATE accounts SET two_factor_secret = $2, two_factor_nonce = $3, two_factor_enabled = FALSE, updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.pool.Exec(ctx, query, id, ciphertext, nonce)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// EnableSecondFactor marks a previously saved secret as confirmed
func (r *AccountRepository) EnableSecondFactor(ctx context.Context, id string) error {
	query := `
		UPDATE accounts SET two_factor_enabled = TRUE, updated_at = NOW()
		WHERE id = $1 AND two_factor_secret IS NOT NULL
	`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrSecondFactorNotEnrolled
	}
	return nil
}

// Create inserts a new account with the given capability grants
func (r *AccountRepository) Create(ctx context.Context, acct *models.Account, capabilities []string) (*models.Account, error) {
	if acct.Role == "" {
		acct.Role = "user"
	}
	if capabilities == nil {
		capabilities = []string{}
	}

	query := `
		INSERT INTO accounts (email, display_name, password_hash, role, active, capabilities)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + accountColumns

	created, err := scanAccountRow(r.pool.QueryRow(ctx, query,
		strings.ToLower(strings.TrimSpace(acct.Email)), acct.DisplayName, acct.PasswordHash,
		acct.Role, acct.Active, pq.Array(capabilities),
	))
	if err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	return created, nil
}

// SetActive enables or disables an account
func (r *AccountRepository) SetActive(ctx context.Context, id string, active bool) error {
	query := `UPDATE accounts SET active = $2, updated_at = NOW() WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, id, active)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// CountByRole is used by the admin bootstrap to decide whether seeding is needed
func (r *AccountRepository) CountByRole(ctx context.Context, role string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM accounts WHERE role = $1`, role).Scan(&count)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return 0, database.MapPostgresError(err)
	}
	return count, nil
}

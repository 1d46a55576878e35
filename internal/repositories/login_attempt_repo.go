package repositories

import (
	"context"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/database"
	"github.com/BradenHooton/gatekeeper/internal/models"
)

// LoginAttemptRepository handles database operations for login attempt history
type LoginAttemptRepository struct {
	db *database.DB
}

// NewLoginAttemptRepository creates a new LoginAttemptRepository
func NewLoginAttemptRepository(db *database.DB) *LoginAttemptRepository {
	return &LoginAttemptRepository{db: db}
}

// Record stores one attempt for later risk scoring
func (r *LoginAttemptRepository) Record(ctx context.Context, rec *models.AttemptRecord) error {
	query := `
		INSERT INTO login_attempts (account_id, identifier, ip_address, user_agent, success, attempt_time, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		rec.AccountID,
		rec.Identifier,
		rec.IPAddress,
		rec.UserAgent,
		rec.Success,
		rec.AttemptTime,
		rec.ExpiresAt,
	)

	return database.MapPostgresError(err)
}

// Stats aggregates the history the scorer needs for one attempt in a single round trip.
// accountID may be nil for unknown identifiers.
func (r *LoginAttemptRepository) Stats(ctx context.Context, ipAddress string, accountID *string, userAgent string, since time.Time) (models.AttemptStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE ip_address = $1 AND success = false),
			COUNT(DISTINCT LOWER(identifier)) FILTER (WHERE ip_address = $1),
			COUNT(*) FILTER (WHERE $2::uuid IS NOT NULL AND account_id = $2::uuid AND success = false),
			COALESCE(BOOL_OR($2::uuid IS NOT NULL AND account_id = $2::uuid AND success = true AND user_agent = $3), false)
		FROM login_attempts
		WHERE attempt_time >= $4 AND (ip_address = $1 OR account_id = $2::uuid)
	`

	var stats models.AttemptStats
	err := r.db.Pool.QueryRow(ctx, query, ipAddress, accountID, userAgent, since).Scan(
		&stats.FailuresByIP,
		&stats.DistinctIdentifiersIP,
		&stats.FailuresByAccount,
		&stats.KnownDevice,
	)
	if err != nil {
		return models.AttemptStats{}, database.MapPostgresError(err)
	}

	return stats, nil
}

// DeleteExpired removes attempts past their retention and returns how many were removed
func (r *LoginAttemptRepository) DeleteExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM login_attempts WHERE expires_at <= CURRENT_TIMESTAMP`
	result, err := r.db.Pool.Exec(ctx, query)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}

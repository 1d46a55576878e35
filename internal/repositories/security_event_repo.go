package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/database"
	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SecurityEventRepository persists security events for later review
type SecurityEventRepository struct {
	pool *pgxpool.Pool
}

func NewSecurityEventRepository(db *database.DB) *SecurityEventRepository {
	return &SecurityEventRepository{pool: db.Pool}
}

func scanSecurityEventRow(row rowScanner) (*models.SecurityEvent, error) {
	var ev models.SecurityEvent

	err := row.Scan(
		&ev.ID, &ev.EventType, &ev.Severity, &ev.SubjectID,
		&ev.IPAddress, &ev.Outcome, &ev.Details, &ev.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &ev, nil
}

func scanSecurityEventRows(rows pgx.Rows) ([]*models.SecurityEvent, error) {
	defer rows.Close()

	events := make([]*models.SecurityEvent, 0)

	for rows.Next() {
		ev, err := scanSecurityEventRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan security event: %w", err)
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating security event rows: %w", err)
	}

	return events, nil
}

// Insert writes one event
func (r *SecurityEventRepository) Insert(ctx context.Context, ev models.SecurityEvent) error {
	query := `
		INSERT INTO security_events (id, event_type, severity, subject_id, ip_address, outcome, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	details := ev.Details
	if details == nil {
		details = models.EventDetails{}
	}

	_, err := r.pool.Exec(ctx, query,
		ev.ID, ev.EventType, ev.Severity, ev.SubjectID,
		ev.IPAddress, ev.Outcome, details, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert security event: %w", database.MapPostgresError(err))
	}
	return nil
}

// ListBySubject returns a subject's most recent events
func (r *SecurityEventRepository) ListBySubject(ctx context.Context, subjectID string, limit int) ([]*models.SecurityEvent, error) {
	query := `
		SELECT id, event_type, severity, subject_id, ip_address, outcome, details, created_at
		FROM security_events
		WHERE subject_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, subjectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query security events: %w", database.MapPostgresError(err))
	}

	return scanSecurityEventRows(rows)
}

// DeleteOlderThan removes events created before cutoff
func (r *SecurityEventRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM security_events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}

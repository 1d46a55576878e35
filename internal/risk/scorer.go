package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/models"
)

// Scorer produces a risk assessment for one login attempt
type Scorer interface {
	Assess(ctx context.Context, accountID *string, ip string, success bool, rc models.RiskContext) (models.RiskAssessment, error)
}

// AttemptStore is the attempt history the HistoryScorer reads and appends to
type AttemptStore interface {
	Record(ctx context.Context, attempt *models.AttemptRecord) error
	Stats(ctx context.Context, ip string, accountID *string, userAgent string, since time.Time) (models.AttemptStats, error)
}

// Anomaly tags
const (
	AnomalyHighVelocity       = "high_velocity"
	AnomalyElevatedVelocity   = "elevated_velocity"
	AnomalyCredentialStuffing = "credential_stuffing"
	AnomalyMultipleAccounts   = "multiple_accounts"
	AnomalyAccountTargeted    = "account_targeted"
	AnomalyNewDevice          = "new_device"
)

// HistoryScorer scores attempts from recent login history
type HistoryScorer struct {
	store     AttemptStore
	window    time.Duration
	retention time.Duration
}

// NewHistoryScorer scores over window and keeps history rows for retention
func NewHistoryScorer(store AttemptStore, window, retention time.Duration) *HistoryScorer {
	if window <= 0 {
		window = 15 * time.Minute
	}
	if retention < window {
		retention = window
	}
	return &HistoryScorer{store: store, window: window, retention: retention}
}

// Assess scores the attempt against history that precedes it, then records it.
// A failed record still returns the assessment alongside the error.
func (s *HistoryScorer) Assess(ctx context.Context, accountID *string, ip string, success bool, rc models.RiskContext) (models.RiskAssessment, error) {
	now := rc.Timestamp
	if now.IsZero() {
		now = time.Now()
	}

	stats, err := s.store.Stats(ctx, ip, accountID, rc.UserAgent, now.Add(-s.window))
	if err != nil {
		return models.RiskAssessment{}, fmt.Errorf("load attempt stats: %w", err)
	}

	if !success {
		stats.FailuresByIP++
		if accountID != nil {
			stats.FailuresByAccount++
		}
	}

	assessment := Evaluate(stats, accountID != nil, success)

	err = s.store.Record(ctx, &models.AttemptRecord{
		AccountID:   accountID,
		Identifier:  rc.Identifier,
		IPAddress:   ip,
		UserAgent:   rc.UserAgent,
		Success:     success,
		AttemptTime: now,
		ExpiresAt:   now.Add(s.retention),
	})
	if err != nil {
		return assessment, fmt.Errorf("record attempt: %w", err)
	}

	return assessment, nil
}

// Evaluate turns aggregated history into an additive 0-100 score.
// stats must already include the attempt being scored.
func Evaluate(stats models.AttemptStats, knownAccount, success bool) models.RiskAssessment {
	var score int
	var anomalies []string

	switch {
	case stats.FailuresByIP >= 20:
		score += 50
		anomalies = append(anomalies, AnomalyHighVelocity)
	case stats.FailuresByIP >= 10:
		score += 35
		anomalies = append(anomalies, AnomalyHighVelocity)
	case stats.FailuresByIP >= 5:
		score += 20
		anomalies = append(anomalies, AnomalyElevatedVelocity)
	}

	switch {
	case stats.DistinctIdentifiersIP >= 10:
		score += 40
		anomalies = append(anomalies, AnomalyCredentialStuffing)
	case stats.DistinctIdentifiersIP >= 5:
		score += 25
		anomalies = append(anomalies, AnomalyCredentialStuffing)
	case stats.DistinctIdentifiersIP >= 3:
		score += 10
		anomalies = append(anomalies, AnomalyMultipleAccounts)
	}

	switch {
	case stats.FailuresByAccount >= 10:
		score += 30
		anomalies = append(anomalies, AnomalyAccountTargeted)
	case stats.FailuresByAccount >= 5:
		score += 15
		anomalies = append(anomalies, AnomalyAccountTargeted)
	}

	if knownAccount && !stats.KnownDevice {
		score += 10
		anomalies = append(anomalies, AnomalyNewDevice)
	}

	if score > 100 {
		score = 100
	}

	level := models.RiskLevelForScore(score)
	return models.RiskAssessment{
		Score:              score,
		Level:              level,
		Anomalous:          level != models.RiskLow,
		Anomalies:          anomalies,
		RecommendedActions: recommendedActions(level, knownAccount, success),
	}
}

func recommendedActions(level models.RiskLevel, knownAccount, success bool) []string {
	var actions []string
	switch level {
	case models.RiskCritical:
		actions = append(actions, models.ActionBlockIP)
	case models.RiskHigh:
		actions = append(actions, models.ActionBlockIP, models.ActionRequireSecondFactor)
	case models.RiskMedium:
		actions = append(actions, models.ActionMonitor)
	}
	if knownAccount && level != models.RiskLow {
		if success || level == models.RiskCritical {
			actions = append(actions, models.ActionNotifyUser)
		}
	}
	return actions
}

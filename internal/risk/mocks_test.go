package risk

import (
	"context"
	"sync"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/models"
)

type MockScorer struct {
	AssessFunc func(ctx context.Context, accountID *string, ip string, success bool, rc models.RiskContext) (models.RiskAssessment, error)
}

func (m *MockScorer) Assess(ctx context.Context, accountID *string, ip string, success bool, rc models.RiskContext) (models.RiskAssessment, error) {
	if m.AssessFunc != nil {
		return m.AssessFunc(ctx, accountID, ip, success, rc)
	}
	return models.LowRisk(), nil
}

type MockAttemptStore struct {
	RecordFunc func(ctx context.Context, attempt *models.AttemptRecord) error
	StatsFunc  func(ctx context.Context, ip string, accountID *string, userAgent string, since time.Time) (models.AttemptStats, error)
}

func (m *MockAttemptStore) Record(ctx context.Context, attempt *models.AttemptRecord) error {
	if m.RecordFunc != nil {
		return m.RecordFunc(ctx, attempt)
	}
	return nil
}

func (m *MockAttemptStore) Stats(ctx context.Context, ip string, accountID *string, userAgent string, since time.Time) (models.AttemptStats, error) {
	if m.StatsFunc != nil {
		return m.StatsFunc(ctx, ip, accountID, userAgent, since)
	}
	return models.AttemptStats{}, nil
}

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

func (m *MockEventLogger) Types() []string {
	var types []string
	for _, e := range m.Events() {
		types = append(types, e.EventType)
	}
	return types
}

func strPtr(s string) *string {
	return &s
}

package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/models"
)

// EventLogger receives security events; it must not block the caller
type EventLogger interface {
	Log(ctx context.Context, event models.SecurityEvent)
}

// GateConfig holds the auto-block durations and the scorer deadline
type GateConfig struct {
	HighBlockDuration     time.Duration
	CriticalBlockDuration time.Duration
	ScoreTimeout          time.Duration
	LookupTimeout         time.Duration
}

// Gate decides whether an IP may attempt a login and escalates risky IPs into the block list
type Gate struct {
	blocks BlockList
	scorer Scorer
	events EventLogger
	logger *slog.Logger
	cfg    GateConfig
	now    func() time.Time
}

func NewGate(blocks BlockList, scorer Scorer, events EventLogger, logger *slog.Logger, cfg GateConfig) *Gate {
	if cfg.HighBlockDuration <= 0 {
		cfg.HighBlockDuration = 15 * time.Minute
	}
	if cfg.CriticalBlockDuration <= 0 {
		cfg.CriticalBlockDuration = 30 * time.Minute
	}
	if cfg.ScoreTimeout <= 0 {
		cfg.ScoreTimeout = 2 * time.Second
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = 500 * time.Millisecond
	}
	return &Gate{
		blocks: blocks,
		scorer: scorer,
		events: events,
		logger: logger,
		cfg:    cfg,
		now:    time.Now,
	}
}

// BlockDuration maps a risk level to its auto-block duration; zero means no block
func (g *Gate) BlockDuration(level models.RiskLevel) time.Duration {
	switch level {
	case models.RiskCritical:
		return g.cfg.CriticalBlockDuration
	case models.RiskHigh:
		return g.cfg.HighBlockDuration
	default:
		return 0
	}
}

// CheckBlocked reports whether ip has an unexpired block entry and how long it has left.
// A block-list read error is logged and treated as not blocked.
func (g *Gate) CheckBlocked(ctx context.Context, ip string) (bool, time.Duration) {
	if ip == "" {
		return false, 0
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.LookupTimeout)
	defer cancel()

	now := g.now()
	entry, blocked, err := g.blocks.Lookup(ctx, ip, now)
	if err != nil {
		g.logger.Warn("block list lookup failed", "ip_address", ip, "error", err)
		return false, 0
	}
	if !blocked {
		return false, 0
	}
	return true, entry.ExpiresAt.Sub(now)
}

// Block adds or extends a block entry; an existing later expiry is kept
func (g *Gate) Block(ctx context.Context, ip string, d time.Duration) (models.IPBlockEntry, error) {
	if ip == "" {
		return models.IPBlockEntry{}, fmt.Errorf("block: %w", models.ErrBadRequest)
	}
	if d <= 0 {
		return models.IPBlockEntry{}, fmt.Errorf("block duration must be positive: %w", models.ErrBadRequest)
	}
	return g.blocks.Extend(ctx, ip, g.now().Add(d))
}

// RecordOutcome scores the attempt and applies the result.
// Failures at HIGH or CRITICAL block the IP. Successful but anomalous attempts are only logged.
// A scorer error without an assessment, or a timeout, degrades to a LOW assessment.
func (g *Gate) RecordOutcome(ctx context.Context, accountID *string, ip string, success bool, rc models.RiskContext) models.RiskAssessment {
	assessment := g.assess(ctx, accountID, ip, success, rc)

	if success {
		if assessment.Anomalous {
			g.events.Log(ctx, models.NewSecurityEvent(models.EventAnomalousLogin, models.SeverityWarning, accountID, ip,
				models.OutcomeSuccess, RiskDetails(assessment)))
		}
		return assessment
	}

	d := g.BlockDuration(assessment.Level)
	if d == 0 || ip == "" {
		return assessment
	}

	entry, err := g.Block(ctx, ip, d)
	if err != nil {
		g.logger.Error("failed to block ip", "ip_address", ip, "risk_level", assessment.Level, "error", err)
		return assessment
	}

	details := RiskDetails(assessment)
	details["blocked_until"] = entry.ExpiresAt.UTC().Format(time.RFC3339)
	details["block_duration_seconds"] = int(d.Seconds())
	g.events.Log(ctx, models.NewSecurityEvent(models.EventIPAutoBlocked, models.SeverityHigh, accountID, ip,
		models.OutcomeBlocked, details))

	return assessment
}

type assessResult struct {
	assessment models.RiskAssessment
	err        error
}

func (g *Gate) assess(ctx context.Context, accountID *string, ip string, success bool, rc models.RiskContext) models.RiskAssessment {
	if g.scorer == nil {
		return degraded()
	}
	if rc.Timestamp.IsZero() {
		rc.Timestamp = g.now()
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.ScoreTimeout)
	defer cancel()

	// Buffered so a scorer that ignores ctx can still finish and exit
	done := make(chan assessResult, 1)
	go func() {
		a, err := g.scorer.Assess(ctx, accountID, ip, success, rc)
		done <- assessResult{assessment: a, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && res.assessment.Level != "" {
			// Scored but not persisted; the score still applies
			g.logger.Warn("risk scoring completed with error",
				"ip_address", ip,
				"risk_level", res.assessment.Level,
				"error", res.err,
			)
			return res.assessment
		}
		if res.err != nil {
			g.logger.Warn("risk scoring failed, treating attempt as low risk",
				"ip_address", ip,
				"error", res.err,
			)
			return degraded()
		}
		if res.assessment.Level == "" {
			res.assessment.Level = models.RiskLevelForScore(res.assessment.Score)
		}
		return res.assessment
	case <-ctx.Done():
		err := ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", models.ErrScorerUnavailable, err)
		}
		g.logger.Warn("risk scoring timed out, treating attempt as low risk",
			"ip_address", ip,
			"timeout", g.cfg.ScoreTimeout,
			"error", err,
		)
		return degraded()
	}
}

func degraded() models.RiskAssessment {
	a := models.LowRisk()
	a.Degraded = true
	return a
}

// RiskDetails is the event detail map for an assessment
func RiskDetails(a models.RiskAssessment) models.EventDetails {
	details := models.EventDetails{
		"risk_score": a.Score,
		"risk_level": string(a.Level),
	}
	if len(a.Anomalies) > 0 {
		details["anomalies"] = a.Anomalies
	}
	if len(a.RecommendedActions) > 0 {
		details["recommended_actions"] = a.RecommendedActions
	}
	return details
}

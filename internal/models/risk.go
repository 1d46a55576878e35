package models

import "time"

// RiskLevel is the coarse output of the anomaly scorer
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// Recommended actions emitted by the scorer
const (
	ActionBlockIP             = "block_ip"
	ActionRequireSecondFactor = "require_second_factor"
	ActionNotifyUser          = "notify_user"
	ActionMonitor             = "monitor"
)

// RiskLevelForScore maps a 0-100 score onto a level.
func RiskLevelForScore(score int) RiskLevel {
	switch {
	case score >= 80:
		return RiskCritical
	case score >= 60:
		return RiskHigh
	case score >= 30:
		return RiskMedium
	default:
		return RiskLow
	}
}

// RiskAssessment is consumed once per attempt
type RiskAssessment struct {
	Score              int       `json:"risk_score"`
	Level              RiskLevel `json:"risk_level"`
	Anomalous          bool      `json:"anomalous"`
	Anomalies          []string  `json:"anomalies,omitempty"`
	RecommendedActions []string  `json:"recommended_actions,omitempty"`
	// Degraded is set when the scorer could not be consulted and the
	// assessment is the LOW fallback.
	Degraded bool `json:"degraded,omitempty"`
}

// LowRisk is the assessment used when nothing is known or scoring failed
func LowRisk() RiskAssessment {
	return RiskAssessment{Score: 0, Level: RiskLow}
}

// RiskContext carries the request attributes the scorer looks at.
type RiskContext struct {
	Identifier string
	UserAgent  string
	Timestamp  time.Time
}

// IPBlockEntry is a block-list row: the IP is blocked while now <= ExpiresAt.
type IPBlockEntry struct {
	IPAddress string
	ExpiresAt time.Time
}

// Active reports whether the block still applies at now
func (e IPBlockEntry) Active(now time.Time) bool {
	return !now.After(e.ExpiresAt)
}

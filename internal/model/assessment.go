package model

import (
	"errors"
	"time"
)

// Risk score categories used by the threshold rules
const (
	CategorySafety         = "safety_risk"
	CategoryMentalHealth   = "mental_health"
	CategorySubstanceAbuse = "substance_abuse"
	CategoryCardiovascular = "cardiovascular"
	CategoryPreventiveCare = "preventive_care"
)

// ErrInvalidRiskScores is returned when an assessment carries a malformed
// risk_scores document
var ErrInvalidRiskScores = errors.New("invalid risk scores")

// RiskScores is the scoring document produced by the upstream risk-scoring
// service. This system treats it as read-only input.
type RiskScores struct {
	Overall    int            `json:"overall"`
	Categories map[string]int `json:"categories"`
	Flags      []string       `json:"flags"`
}

// Validate checks the minimal shape required for rule evaluation
func (r *RiskScores) Validate() error {
	if r == nil || r.Categories == nil {
		return ErrInvalidRiskScores
	}
	for name, score := range r.Categories {
		if name == "" || score < 0 {
			return ErrInvalidRiskScores
		}
	}
	return nil
}

// HasFlag reports whether the named flag is present
func (r *RiskScores) HasFlag(name string) bool {
	for _, f := range r.Flags {
		if f == name {
			return true
		}
	}
	return false
}

// HasAnyFlag reports whether any of the named flags is present
func (r *RiskScores) HasAnyFlag(names ...string) bool {
	for _, n := range names {
		if r.HasFlag(n) {
			return true
		}
	}
	return false
}

// Assessment represents a completed health-risk assessment. The processing
// fields form the idempotency boundary: clinical_alerts_processed transitions
// false to true exactly once and the assessment is never re-evaluated after.
type Assessment struct {
	ID            string      `json:"id"`
	BeneficiaryID string      `json:"beneficiary_id"`
	CompletedAt   time.Time   `json:"completed_at"`
	RiskScores    *RiskScores `json:"risk_scores"`

	Processed     bool       `json:"clinical_alerts_processed"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
	AlertsCreated int        `json:"alerts_created"`
}

// Beneficiary carries the minimal demographic attributes the webhook payload
// builder needs. Read-only to this system.
type Beneficiary struct {
	ID           string     `json:"id"`
	HealthPlanID string     `json:"health_plan_id"`
	BirthDate    *time.Time `json:"birth_date,omitempty"`
}

// StaffMember is an internal notification recipient
type StaffMember struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Email string   `json:"email"`
	Roles []string `json:"roles"`
}

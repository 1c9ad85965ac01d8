package model

import "time"

// AlertPriority represents the escalation priority of a clinical alert
type AlertPriority string

const (
	AlertPriorityMedium    AlertPriority = "medium"
	AlertPriorityHigh      AlertPriority = "high"
	AlertPriorityUrgent    AlertPriority = "urgent"
	AlertPriorityEmergency AlertPriority = "emergency"
)

// priorityRank orders priorities from lowest to highest
var priorityRank = map[AlertPriority]int{
	AlertPriorityMedium:    1,
	AlertPriorityHigh:      2,
	AlertPriorityUrgent:    3,
	AlertPriorityEmergency: 4,
}

// Rank returns the numeric rank of the priority. Higher is more severe.
func (p AlertPriority) Rank() int {
	return priorityRank[p]
}

// AtLeast reports whether p is at least as severe as other
func (p AlertPriority) AtLeast(other AlertPriority) bool {
	return priorityRank[p] >= priorityRank[other]
}

// AlertType represents the rule family that produced an alert
type AlertType string

const (
	AlertTypeRiskThreshold   AlertType = "risk_threshold"
	AlertTypeRiskTrend       AlertType = "risk_trend"
	AlertTypeFollowUpDue     AlertType = "follow_up_due"
	AlertTypeCombinedFactors AlertType = "combined_factors"
)

// AlertStatus represents the workflow status of an alert
type AlertStatus string

const (
	AlertStatusActive    AlertStatus = "active"
	AlertStatusResolved  AlertStatus = "resolved"
	AlertStatusDismissed AlertStatus = "dismissed"
)

// WebhookStatus represents the external delivery state of an alert
type WebhookStatus string

const (
	WebhookStatusPending           WebhookStatus = "pending"
	WebhookStatusDelivered         WebhookStatus = "delivered"
	WebhookStatusFailed            WebhookStatus = "failed"
	WebhookStatusFailedPermanently WebhookStatus = "failed_permanently"
)

// ClinicalAlert represents a materialized clinical alert. Alerts are never
// deleted; status changes are recorded through AlertWorkflow entries.
type ClinicalAlert struct {
	ID                  string        `json:"id"`
	BeneficiaryID       string        `json:"beneficiary_id"`
	AssessmentID        *string       `json:"assessment_id,omitempty"`
	SourceAlertID       *string       `json:"source_alert_id,omitempty"`
	Type                AlertType     `json:"alert_type"`
	Category            string        `json:"category"`
	Priority            AlertPriority `json:"priority"`
	RiskScore           int           `json:"risk_score"`
	RiskFactors         []string      `json:"risk_factors,omitempty"`
	Title               string        `json:"title"`
	Message             string        `json:"message"`
	Recommendations     []string      `json:"clinical_recommendations,omitempty"`
	InterventionOptions []string      `json:"intervention_options,omitempty"`
	Status              AlertStatus   `json:"status"`
	SLADeadline         time.Time     `json:"sla_deadline"`
	SLABreached         bool          `json:"sla_breached"`
	WebhookNotifiedAt   *time.Time    `json:"webhook_notified_at,omitempty"`
	WebhookStatus       WebhookStatus `json:"webhook_notification_status"`
	WebhookLastError    string        `json:"webhook_last_error,omitempty"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
}

// AlertDraft is the output of rule evaluation before persistence
type AlertDraft struct {
	BeneficiaryID       string        `json:"beneficiary_id"`
	AssessmentID        *string       `json:"assessment_id,omitempty"`
	SourceAlertID       *string       `json:"source_alert_id,omitempty"`
	Type                AlertType     `json:"alert_type"`
	Category            string        `json:"category"`
	Priority            AlertPriority `json:"priority"`
	RiskScore           int           `json:"risk_score"`
	RiskFactors         []string      `json:"risk_factors,omitempty"`
	Title               string        `json:"title"`
	Message             string        `json:"message"`
	Recommendations     []string      `json:"clinical_recommendations,omitempty"`
	InterventionOptions []string      `json:"intervention_options,omitempty"`
}

// Workflow action types. The first entry for every alert is alert_created.
const (
	WorkflowActionCreated   = "alert_created"
	WorkflowActionResolved  = "alert_resolved"
	WorkflowActionDismissed = "alert_dismissed"
	WorkflowActionReviewed  = "alert_reviewed"
)

// AlertWorkflow represents one append-only workflow ledger entry for an alert
type AlertWorkflow struct {
	ID             string     `json:"id"`
	AlertID        string     `json:"alert_id"`
	ActionType     string     `json:"action_type"`
	ActionDesc     string     `json:"action_description"`
	PerformedBy    *string    `json:"performed_by,omitempty"` // nil means system
	NextReviewDate *time.Time `json:"next_review_date,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// WorkflowAction describes a workflow entry to append to an alert
type WorkflowAction struct {
	ActionType     string
	Description    string
	PerformedBy    *string
	NextReviewDate *time.Time
}

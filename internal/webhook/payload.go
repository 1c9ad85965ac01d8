package webhook

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/t77yq/clinical-alerts/internal/model"
)

// SchemaVersion is the payload schema version advertised to subscribers
const SchemaVersion = "1.2"

// Event types delivered to subscribers
const (
	EventEmergencyAlert      = "emergency_alert"
	EventSuicideRisk         = "suicide_risk"
	EventViolenceExposure    = "violence_exposure"
	EventCriticalAllergy     = "critical_allergy"
	EventCardiacEmergency    = "cardiac_emergency"
	EventCriticalHealthAlert = "critical_health_alert"
)

// Urgency levels carried in the payload, independent of event type
const (
	UrgencyImmediate = "immediate"
	UrgencyUrgent    = "urgent"
	UrgencyHigh      = "high"
	UrgencyModerate  = "moderate"
)

// priorityCritical is not a ClinicalAlert priority in this system but may
// arrive from upstream score data; the mapping accepts it defensively.
const priorityCritical model.AlertPriority = "critical"

const categoryAllergy = "allergy"

// Payload is the document POSTed to subscriber endpoints. It never carries
// the raw beneficiary id or an exact age.
type Payload struct {
	NotificationID string             `json:"notification_id"`
	EventType      string             `json:"event_type"`
	Urgency        string             `json:"urgency"`
	Beneficiary    PayloadBeneficiary `json:"beneficiary"`
	Alert          PayloadAlert       `json:"alert"`
	Metadata       PayloadMetadata    `json:"metadata"`
}

// PayloadBeneficiary carries only pseudonymized beneficiary attributes
type PayloadBeneficiary struct {
	PseudonymizedID string `json:"pseudonymized_id"`
	AgeBucket       string `json:"age_bucket"`
}

// PayloadAlert carries the full risk detail of the alert
type PayloadAlert struct {
	ID                  string              `json:"id"`
	Type                model.AlertType     `json:"alert_type"`
	Category            string              `json:"category"`
	Priority            model.AlertPriority `json:"priority"`
	RiskScore           int                 `json:"risk_score"`
	RiskFactors         []string            `json:"risk_factors,omitempty"`
	Title               string              `json:"title"`
	Message             string              `json:"message"`
	Recommendations     []string            `json:"clinical_recommendations,omitempty"`
	InterventionOptions []string            `json:"intervention_options,omitempty"`
	CreatedAt           time.Time           `json:"created_at"`
}

// PayloadMetadata describes the notification itself
type PayloadMetadata struct {
	NotificationType string    `json:"notification_type"`
	SchemaVersion    string    `json:"schema_version"`
	GeneratedAt      time.Time `json:"generated_at"`
}

// EventTypeFor maps an alert to the subscriber event type. Priority outranks
// category.
func EventTypeFor(alert *model.ClinicalAlert) string {
	switch {
	case alert.Priority == model.AlertPriorityEmergency:
		return EventEmergencyAlert
	case alert.Category == model.CategoryMentalHealth && alert.RiskScore > 80:
		return EventSuicideRisk
	case alert.Category == model.CategorySafety:
		return EventViolenceExposure
	case alert.Category == categoryAllergy && alert.Priority == priorityCritical:
		return EventCriticalAllergy
	case alert.Category == model.CategoryCardiovascular && alert.Priority == priorityCritical:
		return EventCardiacEmergency
	default:
		return EventCriticalHealthAlert
	}
}

// UrgencyFor maps an alert to its payload urgency, independent of event type
func UrgencyFor(alert *model.ClinicalAlert) string {
	switch {
	case alert.Priority == model.AlertPriorityEmergency:
		return UrgencyImmediate
	case alert.Priority == priorityCritical || alert.RiskScore > 90:
		return UrgencyUrgent
	case alert.Priority == model.AlertPriorityHigh || alert.RiskScore > 70:
		return UrgencyHigh
	default:
		return UrgencyModerate
	}
}

// PseudonymizeID derives the one-way subscriber-facing beneficiary id from
// the raw id and the subscriber's health plan id
func PseudonymizeID(beneficiaryID, healthPlanID string) string {
	sum := sha256.Sum256([]byte(beneficiaryID + healthPlanID))
	return hex.EncodeToString(sum[:])
}

// AgeBucket coarsens a birth date into a decade bucket. Unknown birth dates
// and ages outside the adult range map to "unknown".
func AgeBucket(birthDate *time.Time, now time.Time) string {
	if birthDate == nil {
		return "unknown"
	}
	age := now.Year() - birthDate.Year()
	if now.YearDay() < birthDate.YearDay() {
		age--
	}
	switch {
	case age < 18:
		return "unknown"
	case age < 30:
		return "18-29"
	case age < 40:
		return "30-39"
	case age < 50:
		return "40-49"
	case age < 60:
		return "50-59"
	case age < 70:
		return "60-69"
	default:
		return "70+"
	}
}

// BuildPayload assembles the subscriber payload for one (alert, webhook) pair
func BuildPayload(notificationID string, alert *model.ClinicalAlert, beneficiary *model.Beneficiary, webhook *model.WebhookConfiguration, now time.Time) Payload {
	ageBucket := "unknown"
	if beneficiary != nil {
		ageBucket = AgeBucket(beneficiary.BirthDate, now)
	}

	return Payload{
		NotificationID: notificationID,
		EventType:      EventTypeFor(alert),
		Urgency:        UrgencyFor(alert),
		Beneficiary: PayloadBeneficiary{
			PseudonymizedID: PseudonymizeID(alert.BeneficiaryID, webhook.HealthPlanID),
			AgeBucket:       ageBucket,
		},
		Alert: PayloadAlert{
			ID:                  alert.ID,
			Type:                alert.Type,
			Category:            alert.Category,
			Priority:            alert.Priority,
			RiskScore:           alert.RiskScore,
			RiskFactors:         alert.RiskFactors,
			Title:               alert.Title,
			Message:             alert.Message,
			Recommendations:     alert.Recommendations,
			InterventionOptions: alert.InterventionOptions,
			CreatedAt:           alert.CreatedAt,
		},
		Metadata: PayloadMetadata{
			NotificationType: "clinical_alert",
			SchemaVersion:    SchemaVersion,
			GeneratedAt:      now,
		},
	}
}

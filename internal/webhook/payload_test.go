package webhook

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/t77yq/clinical-alerts/internal/model"
)

func sampleAlert(priority model.AlertPriority, category string, riskScore int) *model.ClinicalAlert {
	return &model.ClinicalAlert{
		ID:            "alert-1",
		BeneficiaryID: "beneficiary-raw-id",
		Type:          model.AlertTypeRiskThreshold,
		Category:      category,
		Priority:      priority,
		RiskScore:     riskScore,
		Title:         "Safety risk identified",
		Message:       "Safety risk score meets the clinical escalation threshold.",
		CreatedAt:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestEventTypeFor(t *testing.T) {
	tests := []struct {
		name  string
		alert *model.ClinicalAlert
		want  string
	}{
		{"emergency outranks category", sampleAlert(model.AlertPriorityEmergency, model.CategorySafety, 50), EventEmergencyAlert},
		{"high mental health score", sampleAlert(model.AlertPriorityUrgent, model.CategoryMentalHealth, 85), EventSuicideRisk},
		{"mental health at 80 falls through", sampleAlert(model.AlertPriorityUrgent, model.CategoryMentalHealth, 80), EventCriticalHealthAlert},
		{"safety category", sampleAlert(model.AlertPriorityHigh, model.CategorySafety, 40), EventViolenceExposure},
		{"critical allergy", sampleAlert(priorityCritical, categoryAllergy, 50), EventCriticalAllergy},
		{"critical cardiovascular", sampleAlert(priorityCritical, model.CategoryCardiovascular, 70), EventCardiacEmergency},
		{"default", sampleAlert(model.AlertPriorityMedium, model.CategoryCardiovascular, 60), EventCriticalHealthAlert},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, EventTypeFor(tt.alert))
		})
	}
}

func TestUrgencyFor(t *testing.T) {
	require.Equal(t, UrgencyImmediate, UrgencyFor(sampleAlert(model.AlertPriorityEmergency, model.CategorySafety, 10)))
	require.Equal(t, UrgencyUrgent, UrgencyFor(sampleAlert(model.AlertPriorityMedium, model.CategorySafety, 91)))
	require.Equal(t, UrgencyHigh, UrgencyFor(sampleAlert(model.AlertPriorityHigh, model.CategorySafety, 40)))
	require.Equal(t, UrgencyHigh, UrgencyFor(sampleAlert(model.AlertPriorityMedium, model.CategorySafety, 71)))
	require.Equal(t, UrgencyModerate, UrgencyFor(sampleAlert(model.AlertPriorityMedium, model.CategorySafety, 60)))
}

func TestPseudonymizeID(t *testing.T) {
	a := PseudonymizeID("beneficiary-1", "plan-1")
	require.Len(t, a, 64)
	require.Equal(t, a, PseudonymizeID("beneficiary-1", "plan-1"))

	// Different subscriber plans receive unlinkable ids
	require.NotEqual(t, a, PseudonymizeID("beneficiary-1", "plan-2"))
	require.NotEqual(t, a, PseudonymizeID("beneficiary-2", "plan-1"))
}

func TestAgeBucket(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	birth := func(year int) *time.Time {
		d := time.Date(year, 1, 15, 0, 0, 0, 0, time.UTC)
		return &d
	}

	require.Equal(t, "unknown", AgeBucket(nil, now))
	require.Equal(t, "unknown", AgeBucket(birth(2015), now))
	require.Equal(t, "18-29", AgeBucket(birth(2000), now))
	require.Equal(t, "30-39", AgeBucket(birth(1990), now))
	require.Equal(t, "40-49", AgeBucket(birth(1980), now))
	require.Equal(t, "50-59", AgeBucket(birth(1970), now))
	require.Equal(t, "60-69", AgeBucket(birth(1960), now))
	require.Equal(t, "70+", AgeBucket(birth(1950), now))
}

func TestBuildPayloadOmitsRawIdentity(t *testing.T) {
	alert := sampleAlert(model.AlertPriorityHigh, model.CategorySafety, 40)
	birth := time.Date(1980, 6, 15, 0, 0, 0, 0, time.UTC)
	beneficiary := &model.Beneficiary{
		ID:           alert.BeneficiaryID,
		HealthPlanID: "plan-1",
		BirthDate:    &birth,
	}
	wh := &model.WebhookConfiguration{ID: "wh-1", HealthPlanID: "plan-1", Secret: "secret"}
	now := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)

	payload := BuildPayload("notif-1", alert, beneficiary, wh, now)
	require.Equal(t, "notif-1", payload.NotificationID)
	require.Equal(t, EventViolenceExposure, payload.EventType)
	require.Equal(t, UrgencyHigh, payload.Urgency)
	require.Equal(t, PseudonymizeID(alert.BeneficiaryID, "plan-1"), payload.Beneficiary.PseudonymizedID)
	require.Equal(t, "40-49", payload.Beneficiary.AgeBucket)
	require.Equal(t, SchemaVersion, payload.Metadata.SchemaVersion)
	require.Equal(t, "clinical_alert", payload.Metadata.NotificationType)

	// The wire document never carries the raw beneficiary id or birth date
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	require.False(t, strings.Contains(string(body), alert.BeneficiaryID))
	require.False(t, strings.Contains(string(body), "1980"))
}

func TestBuildPayloadUnknownBeneficiary(t *testing.T) {
	alert := sampleAlert(model.AlertPriorityHigh, model.CategorySafety, 40)
	wh := &model.WebhookConfiguration{ID: "wh-1", HealthPlanID: "plan-1"}

	payload := BuildPayload("notif-1", alert, nil, wh, time.Now().UTC())
	require.Equal(t, "unknown", payload.Beneficiary.AgeBucket)
	require.NotEmpty(t, payload.Beneficiary.PseudonymizedID)
}

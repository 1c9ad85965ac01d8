package model

import "time"

// WebhookConfigStatus represents the lifecycle state of a subscriber endpoint
type WebhookConfigStatus string

const (
	WebhookConfigActive   WebhookConfigStatus = "active"
	WebhookConfigInactive WebhookConfigStatus = "inactive"
)

// WebhookConfiguration is a subscriber endpoint provisioned out-of-band by an
// admin process. Read-only to this system. The secret is stored encrypted and
// decrypted on load.
type WebhookConfiguration struct {
	ID           string              `json:"webhook_id"`
	Endpoint     string              `json:"endpoint"`
	Secret       string              `json:"-"`
	HealthPlanID string              `json:"health_plan_id"`
	Status       WebhookConfigStatus `json:"status"`
}

// WebhookDelivery is one append-only ledger row per delivery attempt
type WebhookDelivery struct {
	ID            string    `json:"id"`
	WebhookID     string    `json:"webhook_id"`
	AlertID       string    `json:"alert_id"`
	Endpoint      string    `json:"endpoint"`
	StatusCode    int       `json:"status_code"`
	Success       bool      `json:"success"`
	AttemptNumber int       `json:"attempt_number"`
	Error         string    `json:"error,omitempty"`
	DeliveredAt   time.Time `json:"delivered_at"`
}

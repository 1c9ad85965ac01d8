package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/clinical-alerts/internal/model"
)

// EventType identifies a domain event emitted by the evaluation pipeline
type EventType string

const (
	EventAlertCreated        EventType = "alert.created"
	EventEmergencyDetected   EventType = "alert.emergency"
	EventSLABreached         EventType = "alert.sla_breached"
	EventWebhookFailed       EventType = "webhook.failed_permanently"
	EventEvaluationCompleted EventType = "evaluation.completed"
)

// Event is the envelope published for every domain event
type Event struct {
	ID         string          `json:"id"`
	Type       EventType       `json:"type"`
	AlertID    string          `json:"alert_id,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Publisher is the explicit event-publishing dependency injected into the
// evaluation pass. It replaces ambient global event emission.
type Publisher interface {
	Publish(ctx context.Context, eventType EventType, alertID string, payload interface{}) error
}

// StreamName is the JetStream stream holding clinical domain events
const StreamName = "CLINICAL_ALERTS"

// JetStreamPublisher publishes domain events to a JetStream stream
type JetStreamPublisher struct {
	logger *zap.Logger
	js     nats.JetStreamContext
}

// NewJetStreamPublisher creates a publisher, bootstrapping the stream if it
// does not exist yet
func NewJetStreamPublisher(logger *zap.Logger, js nats.JetStreamContext) (*JetStreamPublisher, error) {
	stream, err := js.StreamInfo(StreamName)
	if err != nil && err != nats.ErrStreamNotFound {
		return nil, fmt.Errorf("failed to get stream info: %w", err)
	}

	if stream == nil {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:     StreamName,
			Subjects: []string{"alert.*", "webhook.*", "evaluation.*"},
			Storage:  nats.FileStorage,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create stream: %w", err)
		}
	}

	return &JetStreamPublisher{
		logger: logger.Named("events"),
		js:     js,
	}, nil
}

// Publish implements Publisher
func (p *JetStreamPublisher) Publish(ctx context.Context, eventType EventType, alertID string, payload interface{}) error {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal event payload: %w", err)
		}
		raw = data
	}

	event := Event{
		ID:         newEventID(),
		Type:       eventType,
		AlertID:    alertID,
		Payload:    raw,
		OccurredAt: time.Now().UTC(),
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := p.js.Publish(string(eventType), data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug("Published domain event",
		zap.String("type", string(eventType)),
		zap.String("alert_id", alertID))

	return nil
}

func newEventID() string {
	return uuid.New().String()
}

// EventTypeForAlert returns the domain event type an alert creation maps to
func EventTypeForAlert(alert *model.ClinicalAlert) EventType {
	if alert.Priority == model.AlertPriorityEmergency {
		return EventEmergencyDetected
	}
	return EventAlertCreated
}

// NopPublisher discards all events. Used in tests and when NATS is disabled.
type NopPublisher struct{}

// Publish implements Publisher
func (NopPublisher) Publish(ctx context.Context, eventType EventType, alertID string, payload interface{}) error {
	return nil
}

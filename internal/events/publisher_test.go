package events_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/clinical-alerts/internal/events"
	"github.com/t77yq/clinical-alerts/internal/model"
	"github.com/t77yq/clinical-alerts/internal/testutil"
)

func TestJetStreamPublisher(t *testing.T) {
	_, js, cleanup := testutil.StartJetStream(t)
	defer cleanup()

	publisher, err := events.NewJetStreamPublisher(zap.NewNop(), js)
	require.NoError(t, err)

	err = publisher.Publish(context.Background(), events.EventAlertCreated, "alert-1", map[string]string{
		"category": model.CategorySafety,
	})
	require.NoError(t, err)

	messages := testutil.ConsumeMessages(t, js, string(events.EventAlertCreated), time.Second)
	require.Len(t, messages, 1)

	var event events.Event
	require.NoError(t, json.Unmarshal(messages[0], &event))
	require.NotEmpty(t, event.ID)
	require.Equal(t, events.EventAlertCreated, event.Type)
	require.Equal(t, "alert-1", event.AlertID)
	require.False(t, event.OccurredAt.IsZero())

	var payload map[string]string
	require.NoError(t, json.Unmarshal(event.Payload, &payload))
	require.Equal(t, model.CategorySafety, payload["category"])
}

func TestJetStreamPublisherIdempotentBootstrap(t *testing.T) {
	_, js, cleanup := testutil.StartJetStream(t)
	defer cleanup()

	_, err := events.NewJetStreamPublisher(zap.NewNop(), js)
	require.NoError(t, err)

	// Creating a second publisher against the existing stream succeeds
	publisher, err := events.NewJetStreamPublisher(zap.NewNop(), js)
	require.NoError(t, err)
	require.NoError(t, publisher.Publish(context.Background(), events.EventSLABreached, "alert-2", nil))
}

func TestEventTypeForAlert(t *testing.T) {
	require.Equal(t, events.EventEmergencyDetected, events.EventTypeForAlert(&model.ClinicalAlert{
		Priority: model.AlertPriorityEmergency,
	}))
	require.Equal(t, events.EventAlertCreated, events.EventTypeForAlert(&model.ClinicalAlert{
		Priority: model.AlertPriorityHigh,
	}))
}

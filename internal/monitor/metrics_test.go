package monitor

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/clinical-alerts/internal/events"
	"github.com/t77yq/clinical-alerts/internal/testutil"
)

func TestPublishTick(t *testing.T) {
	_, js, cleanup := testutil.StartJetStream(t)
	defer cleanup()

	// Bootstrap the stream holding evaluation.* subjects
	_, err := events.NewJetStreamPublisher(zap.NewNop(), js)
	require.NoError(t, err)

	collector := NewMetricsCollector(js, time.Minute, zap.NewNop())
	collector.PublishTick(TickStats{
		Duration:      250 * time.Millisecond,
		Assessments:   12,
		AlertsCreated: 3,
		Failures:      1,
	})

	messages := testutil.ConsumeMessages(t, js, "evaluation.completed", time.Second)
	require.Len(t, messages, 1)

	var stats TickStats
	require.NoError(t, json.Unmarshal(messages[0], &stats))
	require.Equal(t, 12, stats.Assessments)
	require.Equal(t, 3, stats.AlertsCreated)
	require.Equal(t, 1, stats.Failures)
	require.False(t, stats.Timestamp.IsZero())
}

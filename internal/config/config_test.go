package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "clinical-alerts", cfg.App.Name)
	require.Equal(t, []string{"nats://127.0.0.1:4222"}, cfg.NATS.URLs)
	require.Equal(t, "0 */15 * * * *", cfg.Evaluation.CronExpression)
	require.Equal(t, 100, cfg.Evaluation.BatchSize)
	require.Equal(t, 5, cfg.Evaluation.TrendLookback)
	require.Equal(t, 2*time.Hour, cfg.SLA.Emergency)
	require.Equal(t, 168*time.Hour, cfg.SLA.Medium)
	require.Equal(t, 3, cfg.Webhook.MaxAttempts)
	require.Equal(t, []time.Duration{60 * time.Second, 180 * time.Second, 300 * time.Second}, cfg.Webhook.Backoff)
	require.Equal(t, []string{"clinician", "crisis_team"}, cfg.Notification.EmergencyRoles)
	require.True(t, cfg.Metrics.Enabled)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
app:
  name: clinical-alerts-test
  environment: test

evaluation:
  batch_size: 25
  cron_expression: "0 */5 * * * *"

webhook:
  max_attempts: 5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "clinical-alerts-test", cfg.App.Name)
	require.Equal(t, 25, cfg.Evaluation.BatchSize)
	require.Equal(t, "0 */5 * * * *", cfg.Evaluation.CronExpression)
	require.Equal(t, 5, cfg.Webhook.MaxAttempts)

	// Unset keys keep their defaults
	require.Equal(t, 2*time.Hour, cfg.SLA.Emergency)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

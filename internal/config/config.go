package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	App          AppConfig          `mapstructure:"app"`
	NATS         NATSConfig         `mapstructure:"nats"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Evaluation   EvaluationConfig   `mapstructure:"evaluation"`
	SLA          SLAConfig          `mapstructure:"sla"`
	Webhook      WebhookConfig      `mapstructure:"webhook"`
	Notification NotificationConfig `mapstructure:"notification"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
}

// AppConfig holds service identity settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// NATSConfig holds messaging settings
type NATSConfig struct {
	URLs           []string      `mapstructure:"urls"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// StorageConfig holds database settings
type StorageConfig struct {
	Path      string `mapstructure:"path"`
	SecretKey string `mapstructure:"secret_key"` // hex, 64 chars
}

// EvaluationConfig tunes the batch evaluation job
type EvaluationConfig struct {
	CronExpression string        `mapstructure:"cron_expression"`
	BatchSize      int           `mapstructure:"batch_size"`
	MaxRetries     int           `mapstructure:"max_retries"`
	Timeout        time.Duration `mapstructure:"timeout"`
	TrendLookback  int           `mapstructure:"trend_lookback"`
}

// SLAConfig maps alert priorities to escalation deadlines
type SLAConfig struct {
	Emergency time.Duration `mapstructure:"emergency"`
	Urgent    time.Duration `mapstructure:"urgent"`
	High      time.Duration `mapstructure:"high"`
	Medium    time.Duration `mapstructure:"medium"`
}

// WebhookConfig tunes external delivery
type WebhookConfig struct {
	Timeout     time.Duration   `mapstructure:"timeout"`
	Backoff     []time.Duration `mapstructure:"backoff"`
	MaxAttempts int             `mapstructure:"max_attempts"`
	Workers     int             `mapstructure:"workers"`
	QueueSize   int             `mapstructure:"queue_size"`
}

// NotificationConfig holds staff notification settings
type NotificationConfig struct {
	EmergencyRoles []string    `mapstructure:"emergency_roles"`
	UrgentRoles    []string    `mapstructure:"urgent_roles"`
	Email          EmailConfig `mapstructure:"email"`
}

// EmailConfig holds SMTP settings
type EmailConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

// MetricsConfig tunes the runtime metrics collector
type MetricsConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// Load reads configuration from the given file (optional) with environment
// variable overrides under the CLINICAL_ALERTS prefix
func Load(configPath string) (*Config, error) {
	setDefaults()

	viper.SetEnvPrefix("CLINICAL_ALERTS")
	viper.AutomaticEnv()

	if configPath != "" {
		viper.SetConfigFile(configPath)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("app.name", "clinical-alerts")
	viper.SetDefault("app.environment", "development")

	viper.SetDefault("nats.urls", []string{"nats://127.0.0.1:4222"})
	viper.SetDefault("nats.max_reconnects", 10)
	viper.SetDefault("nats.reconnect_wait", 2*time.Second)
	viper.SetDefault("nats.connect_timeout", 5*time.Second)

	viper.SetDefault("storage.path", "clinical_alerts.db")

	viper.SetDefault("evaluation.cron_expression", "0 */15 * * * *")
	viper.SetDefault("evaluation.batch_size", 100)
	viper.SetDefault("evaluation.max_retries", 3)
	viper.SetDefault("evaluation.timeout", 5*time.Minute)
	viper.SetDefault("evaluation.trend_lookback", 5)

	viper.SetDefault("sla.emergency", 2*time.Hour)
	viper.SetDefault("sla.urgent", 12*time.Hour)
	viper.SetDefault("sla.high", 48*time.Hour)
	viper.SetDefault("sla.medium", 168*time.Hour)

	viper.SetDefault("webhook.timeout", 30*time.Second)
	viper.SetDefault("webhook.backoff", []time.Duration{60 * time.Second, 180 * time.Second, 300 * time.Second})
	viper.SetDefault("webhook.max_attempts", 3)
	viper.SetDefault("webhook.workers", 4)
	viper.SetDefault("webhook.queue_size", 256)

	viper.SetDefault("notification.emergency_roles", []string{"clinician", "crisis_team"})
	viper.SetDefault("notification.urgent_roles", []string{"clinician", "care_manager"})
	viper.SetDefault("notification.email.port", 587)

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.interval", 30*time.Second)
}

package storage

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/t77yq/clinical-alerts/internal/model"
)

// SLAPolicy maps alert priority to the duration before the SLA deadline
type SLAPolicy map[model.AlertPriority]time.Duration

// DefaultSLAPolicy returns the standard escalation deadlines
func DefaultSLAPolicy() SLAPolicy {
	return SLAPolicy{
		model.AlertPriorityEmergency: 2 * time.Hour,
		model.AlertPriorityUrgent:    12 * time.Hour,
		model.AlertPriorityHigh:      48 * time.Hour,
		model.AlertPriorityMedium:    7 * 24 * time.Hour,
	}
}

// Deadline computes the SLA deadline for an alert created at the given time
func (p SLAPolicy) Deadline(priority model.AlertPriority, createdAt time.Time) time.Time {
	d, ok := p[priority]
	if !ok {
		d = 7 * 24 * time.Hour
	}
	return createdAt.Add(d)
}

// Store is the SQLite-backed persistence layer. It owns the ClinicalAlert and
// AlertWorkflow lifecycles, the assessment idempotency flag, and the webhook
// delivery ledger.
type Store struct {
	logger    *zap.Logger
	db        *sql.DB
	sla       SLAPolicy
	secretKey []byte
}

// Options configures a Store
type Options struct {
	Path      string
	SLA       SLAPolicy
	SecretKey []byte // 32-byte AES key for webhook secrets at rest
}

// Open opens (or creates) the database and runs schema initialization
func Open(logger *zap.Logger, opts Options) (*Store, error) {
	if opts.SLA == nil {
		opts.SLA = DefaultSLAPolicy()
	}
	if len(opts.SecretKey) != 0 && len(opts.SecretKey) != 32 {
		return nil, fmt.Errorf("secret key must be 32 bytes, got %d", len(opts.SecretKey))
	}

	db, err := sql.Open("sqlite3", opts.Path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{
		logger:    logger.Named("storage"),
		db:        db,
		sla:       opts.SLA,
		secretKey: opts.SecretKey,
	}

	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// initialize creates the necessary tables if they don't exist
func (s *Store) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS beneficiaries (
			id TEXT PRIMARY KEY,
			health_plan_id TEXT NOT NULL,
			birth_date DATETIME
		);
		CREATE TABLE IF NOT EXISTS staff (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT NOT NULL,
			roles TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS assessments (
			id TEXT PRIMARY KEY,
			beneficiary_id TEXT NOT NULL,
			completed_at DATETIME NOT NULL,
			risk_scores TEXT NOT NULL,
			clinical_alerts_processed INTEGER NOT NULL DEFAULT 0,
			processed_at DATETIME,
			alerts_created INTEGER NOT NULL DEFAULT 0,
			claim_token TEXT,
			claimed_at DATETIME
		);
		CREATE INDEX IF NOT EXISTS idx_assessments_unprocessed
			ON assessments(clinical_alerts_processed, completed_at);
		CREATE INDEX IF NOT EXISTS idx_assessments_beneficiary
			ON assessments(beneficiary_id, completed_at);
		CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			beneficiary_id TEXT NOT NULL,
			assessment_id TEXT,
			source_alert_id TEXT,
			alert_type TEXT NOT NULL,
			category TEXT NOT NULL,
			priority TEXT NOT NULL,
			risk_score INTEGER NOT NULL,
			risk_factors TEXT,
			title TEXT NOT NULL,
			message TEXT NOT NULL,
			recommendations TEXT,
			intervention_options TEXT,
			status TEXT NOT NULL,
			sla_deadline DATETIME NOT NULL,
			sla_breached INTEGER NOT NULL DEFAULT 0,
			webhook_notified_at DATETIME,
			webhook_status TEXT NOT NULL DEFAULT 'pending',
			webhook_last_error TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_alerts_beneficiary ON alerts(beneficiary_id);
		CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status);
		CREATE INDEX IF NOT EXISTS idx_alerts_sla ON alerts(status, sla_breached, sla_deadline);
		CREATE TABLE IF NOT EXISTS alert_workflow (
			id TEXT PRIMARY KEY,
			alert_id TEXT NOT NULL REFERENCES alerts(id),
			action_type TEXT NOT NULL,
			action_description TEXT NOT NULL,
			performed_by TEXT,
			next_review_date DATETIME,
			created_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_workflow_alert ON alert_workflow(alert_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_workflow_review ON alert_workflow(next_review_date);
		CREATE TABLE IF NOT EXISTS webhook_configs (
			webhook_id TEXT PRIMARY KEY,
			endpoint TEXT NOT NULL,
			secret_encrypted TEXT NOT NULL,
			health_plan_id TEXT NOT NULL,
			status TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS webhook_deliveries (
			id TEXT PRIMARY KEY,
			webhook_id TEXT NOT NULL,
			alert_id TEXT NOT NULL,
			endpoint TEXT NOT NULL,
			status_code INTEGER NOT NULL,
			success INTEGER NOT NULL,
			attempt_number INTEGER NOT NULL,
			error TEXT,
			delivered_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_deliveries_pair ON webhook_deliveries(webhook_id, alert_id);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// encryptSecret encrypts a webhook secret with AES-256-GCM for storage.
// Without a key configured, the secret is stored as-is.
func (s *Store) encryptSecret(plain string) (string, error) {
	if len(s.secretKey) == 0 {
		return plain, nil
	}
	block, err := aes.NewCipher(s.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plain), nil)
	return hex.EncodeToString(sealed), nil
}

// decryptSecret reverses encryptSecret
func (s *Store) decryptSecret(stored string) (string, error) {
	if len(s.secretKey) == 0 {
		return stored, nil
	}
	raw, err := hex.DecodeString(stored)
	if err != nil {
		return "", fmt.Errorf("failed to decode secret: %w", err)
	}
	block, err := aes.NewCipher(s.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}
	if len(raw) < gcm.NonceSize() {
		return "", fmt.Errorf("stored secret too short")
	}
	plain, err := gcm.Open(nil, raw[:gcm.NonceSize()], raw[gcm.NonceSize():], nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt secret: %w", err)
	}
	return string(plain), nil
}

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/t77yq/clinical-alerts/internal/model"
)

// AddWebhook stores a subscriber endpoint configuration. Provisioning is an
// admin concern; this exists for bootstrap and tests.
func (s *Store) AddWebhook(ctx context.Context, w *model.WebhookConfiguration) error {
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	encrypted, err := s.encryptSecret(w.Secret)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO webhook_configs (webhook_id, endpoint, secret_encrypted, health_plan_id, status)
		VALUES (?, ?, ?, ?, ?)`,
		w.ID, w.Endpoint, encrypted, w.HealthPlanID, w.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to store webhook config: %w", err)
	}
	return nil
}

// ActiveWebhooks returns all active subscriber endpoints with decrypted secrets
func (s *Store) ActiveWebhooks(ctx context.Context) ([]*model.WebhookConfiguration, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT webhook_id, endpoint, secret_encrypted, health_plan_id, status
		FROM webhook_configs WHERE status = ?`, model.WebhookConfigActive)
	if err != nil {
		return nil, fmt.Errorf("failed to load webhook configs: %w", err)
	}
	defer rows.Close()

	var configs []*model.WebhookConfiguration
	for rows.Next() {
		w := &model.WebhookConfiguration{}
		var encrypted string
		if err := rows.Scan(&w.ID, &w.Endpoint, &encrypted, &w.HealthPlanID, &w.Status); err != nil {
			return nil, fmt.Errorf("failed to scan webhook config: %w", err)
		}
		secret, err := s.decryptSecret(encrypted)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt secret for webhook %s: %w", w.ID, err)
		}
		w.Secret = secret
		configs = append(configs, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return configs, nil
}

// RecordDelivery appends one row to the delivery ledger. Every attempt,
// success or failure, produces exactly one row.
func (s *Store) RecordDelivery(ctx context.Context, d *model.WebhookDelivery) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.DeliveredAt.IsZero() {
		d.DeliveredAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_deliveries (id, webhook_id, alert_id, endpoint, status_code, success, attempt_number, error, delivered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.WebhookID, d.AlertID, d.Endpoint, d.StatusCode, d.Success, d.AttemptNumber,
		sql.NullString{String: d.Error, Valid: d.Error != ""},
		d.DeliveredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record delivery: %w", err)
	}
	return nil
}

// ListDeliveries returns the delivery ledger for one (webhook, alert) pair in
// attempt order
func (s *Store) ListDeliveries(ctx context.Context, webhookID, alertID string) ([]*model.WebhookDelivery, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, webhook_id, alert_id, endpoint, status_code, success, attempt_number, error, delivered_at
		FROM webhook_deliveries
		WHERE webhook_id = ? AND alert_id = ?
		ORDER BY attempt_number`, webhookID, alertID)
	if err != nil {
		return nil, fmt.Errorf("failed to list deliveries: %w", err)
	}
	defer rows.Close()

	var deliveries []*model.WebhookDelivery
	for rows.Next() {
		d := &model.WebhookDelivery{}
		var errStr sql.NullString
		if err := rows.Scan(&d.ID, &d.WebhookID, &d.AlertID, &d.Endpoint, &d.StatusCode, &d.Success, &d.AttemptNumber, &errStr, &d.DeliveredAt); err != nil {
			return nil, fmt.Errorf("failed to scan delivery: %w", err)
		}
		if errStr.Valid {
			d.Error = errStr.String
		}
		deliveries = append(deliveries, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return deliveries, nil
}

// SetWebhookDelivered records a successful delivery on the alert
func (s *Store) SetWebhookDelivered(ctx context.Context, alertID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET webhook_status = ?, webhook_notified_at = ?, webhook_last_error = NULL, updated_at = ?
		WHERE id = ?`,
		model.WebhookStatusDelivered, at, time.Now().UTC(), alertID,
	)
	if err != nil {
		return fmt.Errorf("failed to set webhook delivered: %w", err)
	}
	return nil
}

// SetWebhookFailed records a delivery failure on the alert. When permanent is
// true the alert enters failed_permanently, a terminal state that is never
// retried automatically and requires operator follow-up.
func (s *Store) SetWebhookFailed(ctx context.Context, alertID, lastError string, permanent bool) error {
	status := model.WebhookStatusFailed
	if permanent {
		status = model.WebhookStatusFailedPermanently
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET webhook_status = ?, webhook_last_error = ?, updated_at = ?
		WHERE id = ? AND webhook_status != ?`,
		status, lastError, time.Now().UTC(), alertID, model.WebhookStatusDelivered,
	)
	if err != nil {
		return fmt.Errorf("failed to set webhook failure: %w", err)
	}
	return nil
}

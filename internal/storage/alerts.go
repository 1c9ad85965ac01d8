package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/clinical-alerts/internal/model"
)

// OverdueReview is one workflow entry whose review date has elapsed while the
// owning alert is still open
type OverdueReview struct {
	AlertID        string
	BeneficiaryID  string
	Category       string
	Priority       model.AlertPriority
	NextReviewDate time.Time
}

// CommitEvaluation persists all drafts produced for one assessment and marks
// the assessment processed in a single transaction. Either every alert, its
// initial workflow entry, and the processed flag commit together, or none do;
// a crash mid-batch cannot leave an assessment half-processed.
func (s *Store) CommitEvaluation(ctx context.Context, assessmentID string, drafts []model.AlertDraft) ([]*model.ClinicalAlert, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	alerts := make([]*model.ClinicalAlert, 0, len(drafts))
	for _, draft := range drafts {
		alert, err := s.insertAlertTx(ctx, tx, draft, now)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE assessments
		SET clinical_alerts_processed = 1, processed_at = ?, alerts_created = ?,
		    claim_token = NULL, claimed_at = NULL
		WHERE id = ? AND clinical_alerts_processed = 0`,
		now, len(alerts), assessmentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to mark assessment processed: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		// Already processed by an earlier commit; keep the idempotency
		// boundary intact by dropping this batch.
		return nil, fmt.Errorf("assessment %s already processed", assessmentID)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit evaluation: %w", err)
	}

	s.logger.Info("Committed assessment evaluation",
		zap.String("assessment_id", assessmentID),
		zap.Int("alerts_created", len(alerts)))

	return alerts, nil
}

// PersistAlert creates a single alert plus its initial workflow entry
// transactionally. Used for follow-up alerts that have no source assessment.
func (s *Store) PersistAlert(ctx context.Context, draft model.AlertDraft) (*model.ClinicalAlert, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	alert, err := s.insertAlertTx(ctx, tx, draft, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit alert: %w", err)
	}
	return alert, nil
}

// insertAlertTx inserts the alert row and its alert_created workflow entry
func (s *Store) insertAlertTx(ctx context.Context, tx *sql.Tx, draft model.AlertDraft, now time.Time) (*model.ClinicalAlert, error) {
	alert := &model.ClinicalAlert{
		ID:                  uuid.New().String(),
		BeneficiaryID:       draft.BeneficiaryID,
		AssessmentID:        draft.AssessmentID,
		SourceAlertID:       draft.SourceAlertID,
		Type:                draft.Type,
		Category:            draft.Category,
		Priority:            draft.Priority,
		RiskScore:           draft.RiskScore,
		RiskFactors:         draft.RiskFactors,
		Title:               draft.Title,
		Message:             draft.Message,
		Recommendations:     draft.Recommendations,
		InterventionOptions: draft.InterventionOptions,
		Status:              model.AlertStatusActive,
		SLADeadline:         s.sla.Deadline(draft.Priority, now),
		WebhookStatus:       model.WebhookStatusPending,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	factors, _ := json.Marshal(alert.RiskFactors)
	recs, _ := json.Marshal(alert.Recommendations)
	interventions, _ := json.Marshal(alert.InterventionOptions)

	_, err := tx.ExecContext(ctx, `
		INSERT INTO alerts (
			id, beneficiary_id, assessment_id, source_alert_id, alert_type,
			category, priority, risk_score, risk_factors, title, message,
			recommendations, intervention_options, status, sla_deadline,
			sla_breached, webhook_status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)`,
		alert.ID,
		alert.BeneficiaryID,
		nullableString(alert.AssessmentID),
		nullableString(alert.SourceAlertID),
		alert.Type,
		alert.Category,
		alert.Priority,
		alert.RiskScore,
		string(factors),
		alert.Title,
		alert.Message,
		string(recs),
		string(interventions),
		alert.Status,
		alert.SLADeadline,
		alert.WebhookStatus,
		alert.CreatedAt,
		alert.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert alert: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO alert_workflow (id, alert_id, action_type, action_description, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		uuid.New().String(),
		alert.ID,
		model.WorkflowActionCreated,
		fmt.Sprintf("Alert created: %s", alert.Title),
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert workflow entry: %w", err)
	}

	return alert, nil
}

// AppendWorkflow appends a workflow entry to an existing alert
func (s *Store) AppendWorkflow(ctx context.Context, alertID string, action model.WorkflowAction) error {
	var performedBy sql.NullString
	if action.PerformedBy != nil {
		performedBy = sql.NullString{String: *action.PerformedBy, Valid: true}
	}
	var reviewDate sql.NullTime
	if action.NextReviewDate != nil {
		reviewDate = sql.NullTime{Time: *action.NextReviewDate, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alert_workflow (id, alert_id, action_type, action_description, performed_by, next_review_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(),
		alertID,
		action.ActionType,
		action.Description,
		performedBy,
		reviewDate,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to append workflow entry: %w", err)
	}
	return nil
}

// setAlertStatus flips alert status and appends the matching workflow entry
func (s *Store) setAlertStatus(ctx context.Context, alertID string, status model.AlertStatus, actionType, description string, performedBy *string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx, `
		UPDATE alerts SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		status, now, alertID, model.AlertStatusActive,
	)
	if err != nil {
		return fmt.Errorf("failed to update alert status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("alert %s is not active", alertID)
	}

	var by sql.NullString
	if performedBy != nil {
		by = sql.NullString{String: *performedBy, Valid: true}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO alert_workflow (id, alert_id, action_type, action_description, performed_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), alertID, actionType, description, by, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert workflow entry: %w", err)
	}

	return tx.Commit()
}

// ResolveAlert marks an active alert resolved
func (s *Store) ResolveAlert(ctx context.Context, alertID, description string, performedBy *string) error {
	return s.setAlertStatus(ctx, alertID, model.AlertStatusResolved, model.WorkflowActionResolved, description, performedBy)
}

// DismissAlert marks an active alert dismissed
func (s *Store) DismissAlert(ctx context.Context, alertID, description string, performedBy *string) error {
	return s.setAlertStatus(ctx, alertID, model.AlertStatusDismissed, model.WorkflowActionDismissed, description, performedBy)
}

// GetAlert retrieves one alert by ID, or nil when not found
func (s *Store) GetAlert(ctx context.Context, id string) (*model.ClinicalAlert, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, beneficiary_id, assessment_id, source_alert_id, alert_type,
		       category, priority, risk_score, risk_factors, title, message,
		       recommendations, intervention_options, status, sla_deadline,
		       sla_breached, webhook_notified_at, webhook_status,
		       webhook_last_error, created_at, updated_at
		FROM alerts WHERE id = ?`, id)

	alert, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return alert, err
}

// ListWorkflow returns an alert's workflow ledger oldest first
func (s *Store) ListWorkflow(ctx context.Context, alertID string) ([]*model.AlertWorkflow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, alert_id, action_type, action_description, performed_by, next_review_date, created_at
		FROM alert_workflow WHERE alert_id = ? ORDER BY created_at`, alertID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow: %w", err)
	}
	defer rows.Close()

	var entries []*model.AlertWorkflow
	for rows.Next() {
		e := &model.AlertWorkflow{}
		var performedBy sql.NullString
		var reviewDate sql.NullTime
		if err := rows.Scan(&e.ID, &e.AlertID, &e.ActionType, &e.ActionDesc, &performedBy, &reviewDate, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan workflow entry: %w", err)
		}
		if performedBy.Valid {
			e.PerformedBy = &performedBy.String
		}
		if reviewDate.Valid {
			e.NextReviewDate = &reviewDate.Time
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return entries, nil
}

// OverdueReviews returns workflow entries with an elapsed next_review_date
// whose owning alert is still open and has no follow-up alert created since
// the review date.
func (s *Store) OverdueReviews(ctx context.Context, now time.Time) ([]*OverdueReview, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT w.alert_id, a.beneficiary_id, a.category, a.priority, w.next_review_date
		FROM alert_workflow w
		JOIN alerts a ON a.id = w.alert_id
		WHERE w.next_review_date IS NOT NULL
		  AND w.next_review_date < ?
		  AND a.status = ?
		  AND NOT EXISTS (
			SELECT 1 FROM alerts f
			WHERE f.source_alert_id = w.alert_id
			  AND f.created_at > w.next_review_date
		  )
		ORDER BY w.next_review_date`, now, model.AlertStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to query overdue reviews: %w", err)
	}
	defer rows.Close()

	var reviews []*OverdueReview
	for rows.Next() {
		r := &OverdueReview{}
		if err := rows.Scan(&r.AlertID, &r.BeneficiaryID, &r.Category, &r.Priority, &r.NextReviewDate); err != nil {
			return nil, fmt.Errorf("failed to scan overdue review: %w", err)
		}
		reviews = append(reviews, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return reviews, nil
}

// MarkSLABreached flips sla_breached on active alerts whose deadline has
// elapsed and returns the flipped alert IDs. The flip is monotonic: breached
// alerts are never reset.
func (s *Store) MarkSLABreached(ctx context.Context, now time.Time) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM alerts
		WHERE status = ? AND sla_breached = 0 AND sla_deadline < ?`,
		model.AlertStatusActive, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query SLA candidates: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan alert id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	rows.Close()

	if len(ids) == 0 {
		return nil, tx.Commit()
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE alerts SET sla_breached = 1, updated_at = ?
		WHERE status = ? AND sla_breached = 0 AND sla_deadline < ?`,
		now, model.AlertStatusActive, now)
	if err != nil {
		return nil, fmt.Errorf("failed to mark SLA breaches: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit SLA sweep: %w", err)
	}

	s.logger.Info("Marked SLA breaches", zap.Int("count", len(ids)))
	return ids, nil
}

func scanAlert(row *sql.Row) (*model.ClinicalAlert, error) {
	alert := &model.ClinicalAlert{}
	var assessmentID, sourceAlertID, lastErr sql.NullString
	var factors, recs, interventions sql.NullString
	var notifiedAt sql.NullTime

	err := row.Scan(
		&alert.ID,
		&alert.BeneficiaryID,
		&assessmentID,
		&sourceAlertID,
		&alert.Type,
		&alert.Category,
		&alert.Priority,
		&alert.RiskScore,
		&factors,
		&alert.Title,
		&alert.Message,
		&recs,
		&interventions,
		&alert.Status,
		&alert.SLADeadline,
		&alert.SLABreached,
		&notifiedAt,
		&alert.WebhookStatus,
		&lastErr,
		&alert.CreatedAt,
		&alert.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if assessmentID.Valid {
		alert.AssessmentID = &assessmentID.String
	}
	if sourceAlertID.Valid {
		alert.SourceAlertID = &sourceAlertID.String
	}
	if lastErr.Valid {
		alert.WebhookLastError = lastErr.String
	}
	if notifiedAt.Valid {
		alert.WebhookNotifiedAt = &notifiedAt.Time
	}
	if factors.Valid && factors.String != "" {
		json.Unmarshal([]byte(factors.String), &alert.RiskFactors)
	}
	if recs.Valid && recs.String != "" {
		json.Unmarshal([]byte(recs.String), &alert.Recommendations)
	}
	if interventions.Valid && interventions.String != "" {
		json.Unmarshal([]byte(interventions.String), &alert.InterventionOptions)
	}
	return alert, nil
}

func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

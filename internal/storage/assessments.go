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

// ClaimLease is how long a claimed assessment stays invisible to other ticks
// before it becomes reclaimable. A crashed tick cannot strand rows past this.
const ClaimLease = 10 * time.Minute

// AddAssessment stores a completed assessment received from the upstream
// scoring pipeline
func (s *Store) AddAssessment(ctx context.Context, a *model.Assessment) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	scores, err := json.Marshal(a.RiskScores)
	if err != nil {
		return fmt.Errorf("failed to marshal risk scores: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO assessments (id, beneficiary_id, completed_at, risk_scores)
		VALUES (?, ?, ?, ?)`,
		a.ID, a.BeneficiaryID, a.CompletedAt, string(scores),
	)
	if err != nil {
		return fmt.Errorf("failed to store assessment: %w", err)
	}
	return nil
}

// ClaimUnprocessed atomically claims up to limit unprocessed assessments for
// this tick. The claim is a single conditional UPDATE stamping a token and a
// lease, so concurrent ticks can never observe the same rows; the original
// find-then-mark split had a read/write race.
func (s *Store) ClaimUnprocessed(ctx context.Context, limit int) ([]*model.Assessment, error) {
	token := uuid.New().String()
	now := time.Now().UTC()
	expiry := now.Add(-ClaimLease)

	result, err := s.db.ExecContext(ctx, `
		UPDATE assessments
		SET claim_token = ?, claimed_at = ?
		WHERE id IN (
			SELECT id FROM assessments
			WHERE clinical_alerts_processed = 0
			  AND (claim_token IS NULL OR claimed_at < ?)
			ORDER BY completed_at
			LIMIT ?
		)`,
		token, now, expiry, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim assessments: %w", err)
	}

	claimed, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get claimed count: %w", err)
	}
	if claimed == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, beneficiary_id, completed_at, risk_scores,
		       clinical_alerts_processed, processed_at, alerts_created
		FROM assessments
		WHERE claim_token = ?
		ORDER BY completed_at`, token)
	if err != nil {
		return nil, fmt.Errorf("failed to load claimed assessments: %w", err)
	}
	defer rows.Close()

	assessments, err := scanAssessments(rows)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Claimed assessments for evaluation",
		zap.Int("count", len(assessments)),
		zap.String("claim_token", token))

	return assessments, nil
}

// ReleaseClaim clears the lease on an assessment without marking it processed,
// so the next tick retries it. Used when validation fails.
func (s *Store) ReleaseClaim(ctx context.Context, assessmentID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE assessments SET claim_token = NULL, claimed_at = NULL
		WHERE id = ? AND clinical_alerts_processed = 0`,
		assessmentID,
	)
	if err != nil {
		return fmt.Errorf("failed to release claim: %w", err)
	}
	return nil
}

// RecentAssessments returns a beneficiary's most recent assessments ordered by
// completion time descending. Input to trend detection.
func (s *Store) RecentAssessments(ctx context.Context, beneficiaryID string, limit int) ([]*model.Assessment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, beneficiary_id, completed_at, risk_scores,
		       clinical_alerts_processed, processed_at, alerts_created
		FROM assessments
		WHERE beneficiary_id = ?
		ORDER BY completed_at DESC
		LIMIT ?`, beneficiaryID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent assessments: %w", err)
	}
	defer rows.Close()

	return scanAssessments(rows)
}

// GetAssessment retrieves one assessment by ID
func (s *Store) GetAssessment(ctx context.Context, id string) (*model.Assessment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, beneficiary_id, completed_at, risk_scores,
		       clinical_alerts_processed, processed_at, alerts_created
		FROM assessments WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load assessment: %w", err)
	}
	defer rows.Close()

	assessments, err := scanAssessments(rows)
	if err != nil {
		return nil, err
	}
	if len(assessments) == 0 {
		return nil, nil
	}
	return assessments[0], nil
}

func scanAssessments(rows *sql.Rows) ([]*model.Assessment, error) {
	var assessments []*model.Assessment
	for rows.Next() {
		a := &model.Assessment{}
		var scoresJSON string
		var processedAt sql.NullTime

		if err := rows.Scan(
			&a.ID,
			&a.BeneficiaryID,
			&a.CompletedAt,
			&scoresJSON,
			&a.Processed,
			&processedAt,
			&a.AlertsCreated,
		); err != nil {
			return nil, fmt.Errorf("failed to scan assessment: %w", err)
		}

		if processedAt.Valid {
			a.ProcessedAt = &processedAt.Time
		}
		// Malformed risk_scores is surfaced at evaluation time, not here;
		// the row still has to be claimable and releasable.
		var scores model.RiskScores
		if err := json.Unmarshal([]byte(scoresJSON), &scores); err == nil {
			a.RiskScores = &scores
		}

		assessments = append(assessments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return assessments, nil
}

// AddBeneficiary stores beneficiary demographics
func (s *Store) AddBeneficiary(ctx context.Context, b *model.Beneficiary) error {
	var birth sql.NullTime
	if b.BirthDate != nil {
		birth = sql.NullTime{Time: *b.BirthDate, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO beneficiaries (id, health_plan_id, birth_date)
		VALUES (?, ?, ?)`,
		b.ID, b.HealthPlanID, birth,
	)
	if err != nil {
		return fmt.Errorf("failed to store beneficiary: %w", err)
	}
	return nil
}

// GetBeneficiary retrieves beneficiary demographics, or nil when unknown
func (s *Store) GetBeneficiary(ctx context.Context, id string) (*model.Beneficiary, error) {
	b := &model.Beneficiary{}
	var birth sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, health_plan_id, birth_date FROM beneficiaries WHERE id = ?`, id).
		Scan(&b.ID, &b.HealthPlanID, &birth)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load beneficiary: %w", err)
	}
	if birth.Valid {
		b.BirthDate = &birth.Time
	}
	return b, nil
}

// AddStaff stores an internal notification recipient
func (s *Store) AddStaff(ctx context.Context, m *model.StaffMember) error {
	roles, err := json.Marshal(m.Roles)
	if err != nil {
		return fmt.Errorf("failed to marshal roles: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO staff (id, name, email, roles)
		VALUES (?, ?, ?, ?)`,
		m.ID, m.Name, m.Email, string(roles),
	)
	if err != nil {
		return fmt.Errorf("failed to store staff member: %w", err)
	}
	return nil
}

// StaffByRoles returns staff members holding at least one of the given roles
func (s *Store) StaffByRoles(ctx context.Context, roles []string) ([]*model.StaffMember, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, email, roles FROM staff`)
	if err != nil {
		return nil, fmt.Errorf("failed to load staff: %w", err)
	}
	defer rows.Close()

	wanted := make(map[string]bool, len(roles))
	for _, r := range roles {
		wanted[r] = true
	}

	var members []*model.StaffMember
	for rows.Next() {
		m := &model.StaffMember{}
		var rolesJSON string
		if err := rows.Scan(&m.ID, &m.Name, &m.Email, &rolesJSON); err != nil {
			return nil, fmt.Errorf("failed to scan staff member: %w", err)
		}
		if err := json.Unmarshal([]byte(rolesJSON), &m.Roles); err != nil {
			return nil, fmt.Errorf("failed to unmarshal roles: %w", err)
		}
		for _, r := range m.Roles {
			if wanted[r] {
				members = append(members, m)
				break
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return members, nil
}

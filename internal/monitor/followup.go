package monitor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/clinical-alerts/internal/model"
	"github.com/t77yq/clinical-alerts/internal/storage"
)

// FollowUpStore is the persistence surface the follow-up monitor needs
type FollowUpStore interface {
	OverdueReviews(ctx context.Context, now time.Time) ([]*storage.OverdueReview, error)
	PersistAlert(ctx context.Context, draft model.AlertDraft) (*model.ClinicalAlert, error)
}

// FollowUpMonitor scans open workflow entries for overdue review dates and
// materializes follow-up alerts
type FollowUpMonitor struct {
	logger *zap.Logger
	store  FollowUpStore
}

// NewFollowUpMonitor creates a follow-up monitor
func NewFollowUpMonitor(logger *zap.Logger, store FollowUpStore) *FollowUpMonitor {
	return &FollowUpMonitor{
		logger: logger.Named("follow-up"),
		store:  store,
	}
}

// Sweep emits one follow_up_due alert per overdue review. The new alert
// references the original alert and its own alert_created workflow entry is
// written by the store.
func (m *FollowUpMonitor) Sweep(ctx context.Context, now time.Time) ([]*model.ClinicalAlert, error) {
	reviews, err := m.store.OverdueReviews(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to find overdue reviews: %w", err)
	}

	var created []*model.ClinicalAlert
	for _, review := range reviews {
		daysOverdue := int(now.Sub(review.NextReviewDate).Hours() / 24)
		sourceID := review.AlertID

		draft := model.AlertDraft{
			BeneficiaryID: review.BeneficiaryID,
			SourceAlertID: &sourceID,
			Type:          model.AlertTypeFollowUpDue,
			Category:      review.Category,
			Priority:      model.AlertPriorityMedium,
			RiskFactors:   []string{fmt.Sprintf("days_overdue:%d", daysOverdue)},
			Title:         fmt.Sprintf("Follow-up overdue for %s alert", review.Category),
			Message: fmt.Sprintf("The review scheduled for alert %s was due on %s and is %d day(s) overdue.",
				review.AlertID, review.NextReviewDate.Format("2006-01-02"), daysOverdue),
			Recommendations: []string{
				"Contact the beneficiary to complete the outstanding review",
			},
		}

		alert, err := m.store.PersistAlert(ctx, draft)
		if err != nil {
			m.logger.Error("Failed to persist follow-up alert",
				zap.String("source_alert_id", review.AlertID),
				zap.Error(err))
			continue
		}

		m.logger.Info("Created follow-up alert",
			zap.String("alert_id", alert.ID),
			zap.String("source_alert_id", review.AlertID),
			zap.Int("days_overdue", daysOverdue))

		created = append(created, alert)
	}
	return created, nil
}

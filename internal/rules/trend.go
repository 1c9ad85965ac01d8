package rules

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/t77yq/clinical-alerts/internal/model"
)

// Trend trigger conditions: absolute increase and relative growth between the
// two most recent assessments in the same category.
const (
	trendMinIncrease = 10
	trendMinPercent  = 0.25
	trendLookback    = 5
)

// TrendDetector compares a beneficiary's recent assessments per category and
// emits deterioration alerts.
type TrendDetector struct {
	logger *zap.Logger
}

// NewTrendDetector creates a trend detector
func NewTrendDetector(logger *zap.Logger) *TrendDetector {
	return &TrendDetector{logger: logger.Named("trend-detector")}
}

// Detect compares the two most recent qualifying assessments per category.
// history may arrive in any order; only the last trendLookback assessments by
// completion time are considered. A previous score of zero is skipped since
// relative growth is undefined.
func (d *TrendDetector) Detect(history []*model.Assessment) []model.AlertDraft {
	qualifying := make([]*model.Assessment, 0, len(history))
	for _, a := range history {
		if a.RiskScores != nil && a.RiskScores.Categories != nil {
			qualifying = append(qualifying, a)
		}
	}
	if len(qualifying) < 2 {
		return nil
	}

	sort.Slice(qualifying, func(i, j int) bool {
		return qualifying[i].CompletedAt.After(qualifying[j].CompletedAt)
	})
	if len(qualifying) > trendLookback {
		qualifying = qualifying[:trendLookback]
	}

	latest, previous := qualifying[0], qualifying[1]

	categories := make([]string, 0, len(latest.RiskScores.Categories))
	for name := range latest.RiskScores.Categories {
		categories = append(categories, name)
	}
	sort.Strings(categories)

	var drafts []model.AlertDraft
	for _, category := range categories {
		latestScore := latest.RiskScores.Categories[category]
		previousScore, ok := previous.RiskScores.Categories[category]
		if !ok || previousScore == 0 {
			continue
		}

		increase := latestScore - previousScore
		percent := float64(increase) / float64(previousScore)
		if increase < trendMinIncrease || percent < trendMinPercent {
			continue
		}

		d.logger.Debug("Risk trend detected",
			zap.String("beneficiary_id", latest.BeneficiaryID),
			zap.String("category", category),
			zap.Int("previous", previousScore),
			zap.Int("latest", latestScore))

		assessmentID := latest.ID
		drafts = append(drafts, model.AlertDraft{
			BeneficiaryID: latest.BeneficiaryID,
			AssessmentID:  &assessmentID,
			Type:          model.AlertTypeRiskTrend,
			Category:      category,
			Priority:      model.AlertPriorityMedium,
			RiskScore:     latestScore,
			RiskFactors: []string{
				fmt.Sprintf("previous_score:%d", previousScore),
				fmt.Sprintf("latest_score:%d", latestScore),
				fmt.Sprintf("increase:%d", increase),
			},
			Title:   fmt.Sprintf("Deteriorating %s risk", category),
			Message: fmt.Sprintf("Risk score for %s rose from %d to %d (+%.0f%%) between the last two assessments.", category, previousScore, latestScore, percent*100),
			Recommendations: []string{
				"Review the contributing assessment answers with the beneficiary",
				"Consider shortening the reassessment interval",
			},
		})
	}
	return drafts
}

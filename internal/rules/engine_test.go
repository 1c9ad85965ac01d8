package rules

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/clinical-alerts/internal/model"
)

func draftsByCategory(drafts []model.AlertDraft) map[string]model.AlertDraft {
	byCategory := make(map[string]model.AlertDraft, len(drafts))
	for _, d := range drafts {
		byCategory[d.Category] = d
	}
	return byCategory
}

func TestEngine_SafetyThreshold(t *testing.T) {
	engine := NewEngine(zap.NewNop())

	scores := &model.RiskScores{
		Categories: map[string]int{model.CategorySafety: 35},
	}
	drafts := engine.Evaluate("b-1", "a-1", scores)
	require.Len(t, drafts, 1)
	require.Equal(t, model.CategorySafety, drafts[0].Category)
	require.Equal(t, model.AlertPriorityHigh, drafts[0].Priority)
	require.Equal(t, model.AlertTypeRiskThreshold, drafts[0].Type)
	require.NotNil(t, drafts[0].AssessmentID)
	require.Equal(t, "a-1", *drafts[0].AssessmentID)

	// Below threshold, no flags
	scores = &model.RiskScores{
		Categories: map[string]int{model.CategorySafety: 34},
	}
	require.Empty(t, engine.Evaluate("b-1", "a-2", scores))
}

func TestEngine_SuicideFlagIsEmergencyRegardlessOfScore(t *testing.T) {
	engine := NewEngine(zap.NewNop())

	scores := &model.RiskScores{
		Categories: map[string]int{model.CategorySafety: 5},
		Flags:      []string{FlagSuicideRisk},
	}
	drafts := engine.Evaluate("b-1", "a-1", scores)
	require.Len(t, drafts, 1)
	require.Equal(t, model.AlertPriorityEmergency, drafts[0].Priority)
	require.Contains(t, drafts[0].RiskFactors, FlagSuicideRisk)
}

func TestEngine_ViolenceExposureIsUrgent(t *testing.T) {
	engine := NewEngine(zap.NewNop())

	scores := &model.RiskScores{
		Categories: map[string]int{model.CategorySafety: 40},
		Flags:      []string{FlagViolenceExposure},
	}
	drafts := engine.Evaluate("b-1", "a-1", scores)
	require.Len(t, drafts, 1)
	require.Equal(t, model.AlertPriorityUrgent, drafts[0].Priority)
}

func TestEngine_MentalHealth(t *testing.T) {
	engine := NewEngine(zap.NewNop())

	// Score over threshold, no flags: high
	scores := &model.RiskScores{
		Categories: map[string]int{model.CategoryMentalHealth: 25},
	}
	drafts := engine.Evaluate("b-1", "a-1", scores)
	require.Len(t, drafts, 1)
	require.Equal(t, model.AlertPriorityHigh, drafts[0].Priority)

	// Severe depression flag: urgent even below threshold
	scores = &model.RiskScores{
		Categories: map[string]int{model.CategoryMentalHealth: 10},
		Flags:      []string{FlagSevereDepression},
	}
	drafts = engine.Evaluate("b-1", "a-2", scores)
	require.Len(t, drafts, 1)
	require.Equal(t, model.AlertPriorityUrgent, drafts[0].Priority)
}

func TestEngine_SubstanceAbuse(t *testing.T) {
	engine := NewEngine(zap.NewNop())

	scores := &model.RiskScores{
		Categories: map[string]int{model.CategorySubstanceAbuse: 30},
	}
	drafts := engine.Evaluate("b-1", "a-1", scores)
	require.Len(t, drafts, 1)
	require.Equal(t, model.AlertPriorityHigh, drafts[0].Priority)

	scores = &model.RiskScores{
		Categories: map[string]int{model.CategorySubstanceAbuse: 5},
		Flags:      []string{FlagIllegalDrugUse},
	}
	require.Len(t, engine.Evaluate("b-1", "a-2", scores), 1)
}

func TestEngine_Cardiovascular(t *testing.T) {
	engine := NewEngine(zap.NewNop())

	scores := &model.RiskScores{
		Categories: map[string]int{model.CategoryCardiovascular: 60},
	}
	drafts := engine.Evaluate("b-1", "a-1", scores)
	require.Len(t, drafts, 1)
	require.Equal(t, model.AlertPriorityMedium, drafts[0].Priority)

	scores = &model.RiskScores{
		Categories: map[string]int{model.CategoryCardiovascular: 59},
	}
	require.Empty(t, engine.Evaluate("b-1", "a-2", scores))
}

func TestEngine_CombinedFactors(t *testing.T) {
	engine := NewEngine(zap.NewNop())

	// Three elevated categories and overall at the floor
	scores := &model.RiskScores{
		Overall: 100,
		Categories: map[string]int{
			model.CategoryMentalHealth:   20,
			model.CategoryCardiovascular: 20,
			model.CategorySubstanceAbuse: 20,
		},
	}
	drafts := engine.Evaluate("b-1", "a-1", scores)
	byCategory := draftsByCategory(drafts)
	combined, ok := byCategory[model.CategoryPreventiveCare]
	require.True(t, ok)
	require.Equal(t, model.AlertTypeCombinedFactors, combined.Type)
	require.Equal(t, model.AlertPriorityHigh, combined.Priority)

	// Only two qualifying categories: no combined alert
	scores = &model.RiskScores{
		Overall: 100,
		Categories: map[string]int{
			model.CategoryMentalHealth:   20,
			model.CategoryCardiovascular: 20,
			model.CategorySubstanceAbuse: 19,
		},
	}
	drafts = engine.Evaluate("b-1", "a-2", scores)
	_, ok = draftsByCategory(drafts)[model.CategoryPreventiveCare]
	require.False(t, ok)

	// Overall below the floor
	scores = &model.RiskScores{
		Overall: 99,
		Categories: map[string]int{
			model.CategoryMentalHealth:   20,
			model.CategoryCardiovascular: 20,
			model.CategorySubstanceAbuse: 20,
		},
	}
	drafts = engine.Evaluate("b-1", "a-3", scores)
	_, ok = draftsByCategory(drafts)[model.CategoryPreventiveCare]
	require.False(t, ok)
}

func TestEngine_MultipleRulesFromOneAssessment(t *testing.T) {
	engine := NewEngine(zap.NewNop())

	scores := &model.RiskScores{
		Overall: 120,
		Categories: map[string]int{
			model.CategorySafety:         40,
			model.CategoryMentalHealth:   30,
			model.CategorySubstanceAbuse: 35,
		},
	}
	drafts := engine.Evaluate("b-1", "a-1", scores)
	byCategory := draftsByCategory(drafts)
	require.Len(t, drafts, 4)
	require.Contains(t, byCategory, model.CategorySafety)
	require.Contains(t, byCategory, model.CategoryMentalHealth)
	require.Contains(t, byCategory, model.CategorySubstanceAbuse)
	require.Contains(t, byCategory, model.CategoryPreventiveCare)
}

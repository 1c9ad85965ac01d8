package rules

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/t77yq/clinical-alerts/internal/model"
)

// Flags recognized by the threshold rules
const (
	FlagSuicideRisk          = "suicide_risk"
	FlagRecentSuicideAttempt = "recent_suicide_attempt"
	FlagViolenceExposure     = "current_violence_exposure"
	FlagSevereDepression     = "severe_depression"
	FlagSevereAnxiety        = "severe_anxiety"
	FlagHighRiskAlcoholUse   = "high_risk_alcohol_use"
	FlagIllegalDrugUse       = "illegal_drug_use"
)

// Score thresholds per rule family
const (
	safetyThreshold         = 35
	mentalHealthThreshold   = 25
	substanceAbuseThreshold = 30
	cardiovascularThreshold = 60
	combinedOverallMin      = 100
	combinedCategoryMin     = 20
	combinedCategoryCount   = 3
)

// ruleFunc evaluates one rule family against a scoring document. It returns
// nil when the rule does not match.
type ruleFunc func(scores *model.RiskScores) *model.AlertDraft

// Engine classifies risk scores against the clinical threshold rules. It is
// pure: evaluation never mutates the input and carries no state between calls.
type Engine struct {
	logger *zap.Logger
	rules  []namedRule
}

type namedRule struct {
	name string
	fn   ruleFunc
}

// NewEngine creates a rule engine with the standard five rule families
func NewEngine(logger *zap.Logger) *Engine {
	e := &Engine{logger: logger.Named("rule-engine")}
	e.rules = []namedRule{
		{"safety", evaluateSafety},
		{"mental_health", evaluateMentalHealth},
		{"substance_abuse", evaluateSubstanceAbuse},
		{"cardiovascular", evaluateCardiovascular},
		{"combined_factors", evaluateCombined},
	}
	return e
}

// Evaluate runs every rule family independently and returns one draft per
// matched rule. A panic inside one family is logged and must not suppress
// evaluation of the others.
func (e *Engine) Evaluate(beneficiaryID, assessmentID string, scores *model.RiskScores) []model.AlertDraft {
	var drafts []model.AlertDraft
	for _, rule := range e.rules {
		draft := e.evaluateOne(rule, scores)
		if draft == nil {
			continue
		}
		draft.BeneficiaryID = beneficiaryID
		id := assessmentID
		draft.AssessmentID = &id
		drafts = append(drafts, *draft)
	}
	return drafts
}

func (e *Engine) evaluateOne(rule namedRule, scores *model.RiskScores) (draft *model.AlertDraft) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Rule evaluation panicked",
				zap.String("rule", rule.name),
				zap.Any("panic", r))
			draft = nil
		}
	}()
	return rule.fn(scores)
}

func evaluateSafety(scores *model.RiskScores) *model.AlertDraft {
	score := scores.Categories[model.CategorySafety]
	flagged := scores.HasAnyFlag(FlagSuicideRisk, FlagViolenceExposure, FlagRecentSuicideAttempt)
	if score < safetyThreshold && !flagged {
		return nil
	}

	priority := model.AlertPriorityHigh
	switch {
	case scores.HasAnyFlag(FlagSuicideRisk, FlagRecentSuicideAttempt):
		priority = model.AlertPriorityEmergency
	case scores.HasFlag(FlagViolenceExposure):
		priority = model.AlertPriorityUrgent
	}

	return &model.AlertDraft{
		Type:        model.AlertTypeRiskThreshold,
		Category:    model.CategorySafety,
		Priority:    priority,
		RiskScore:   score,
		RiskFactors: matchedFlags(scores, FlagSuicideRisk, FlagRecentSuicideAttempt, FlagViolenceExposure),
		Title:       "Safety risk identified",
		Message:     fmt.Sprintf("Safety risk score %d meets the clinical escalation threshold.", score),
		Recommendations: []string{
			"Immediate safety evaluation by a licensed clinician",
			"Review crisis intervention plan with the beneficiary",
		},
		InterventionOptions: []string{
			"Crisis hotline referral",
			"Same-day telehealth consultation",
			"Emergency services dispatch if imminent danger",
		},
	}
}

func evaluateMentalHealth(scores *model.RiskScores) *model.AlertDraft {
	score := scores.Categories[model.CategoryMentalHealth]
	flagged := scores.HasAnyFlag(FlagSevereDepression, FlagSevereAnxiety)
	if score < mentalHealthThreshold && !flagged {
		return nil
	}

	priority := model.AlertPriorityHigh
	if flagged {
		priority = model.AlertPriorityUrgent
	}

	return &model.AlertDraft{
		Type:        model.AlertTypeRiskThreshold,
		Category:    model.CategoryMentalHealth,
		Priority:    priority,
		RiskScore:   score,
		RiskFactors: matchedFlags(scores, FlagSevereDepression, FlagSevereAnxiety),
		Title:       "Elevated mental health risk",
		Message:     fmt.Sprintf("Mental health risk score %d exceeds the referral threshold.", score),
		Recommendations: []string{
			"Behavioral health referral within 72 hours",
			"Administer PHQ-9 and GAD-7 at next contact",
		},
		InterventionOptions: []string{
			"Outpatient therapy referral",
			"Psychiatric medication review",
		},
	}
}

func evaluateSubstanceAbuse(scores *model.RiskScores) *model.AlertDraft {
	score := scores.Categories[model.CategorySubstanceAbuse]
	if score < substanceAbuseThreshold && !scores.HasAnyFlag(FlagHighRiskAlcoholUse, FlagIllegalDrugUse) {
		return nil
	}

	return &model.AlertDraft{
		Type:        model.AlertTypeRiskThreshold,
		Category:    model.CategorySubstanceAbuse,
		Priority:    model.AlertPriorityHigh,
		RiskScore:   score,
		RiskFactors: matchedFlags(scores, FlagHighRiskAlcoholUse, FlagIllegalDrugUse),
		Title:       "Substance use risk identified",
		Message:     fmt.Sprintf("Substance use risk score %d meets the intervention threshold.", score),
		Recommendations: []string{
			"SBIRT screening at next encounter",
			"Substance use counseling referral",
		},
		InterventionOptions: []string{
			"Outpatient addiction program",
			"Peer support group referral",
		},
	}
}

func evaluateCardiovascular(scores *model.RiskScores) *model.AlertDraft {
	score := scores.Categories[model.CategoryCardiovascular]
	if score < cardiovascularThreshold {
		return nil
	}

	return &model.AlertDraft{
		Type:      model.AlertTypeRiskThreshold,
		Category:  model.CategoryCardiovascular,
		Priority:  model.AlertPriorityMedium,
		RiskScore: score,
		Title:     "Cardiovascular risk factors accumulating",
		Message:   fmt.Sprintf("Cardiovascular risk score %d indicates five or more discrete risk factors.", score),
		Recommendations: []string{
			"Schedule preventive cardiology consult",
			"Lipid panel and blood pressure monitoring",
		},
		InterventionOptions: []string{
			"Lifestyle modification program",
			"Primary care follow-up within 30 days",
		},
	}
}

func evaluateCombined(scores *model.RiskScores) *model.AlertDraft {
	if scores.Overall < combinedOverallMin {
		return nil
	}
	elevated := 0
	for _, score := range scores.Categories {
		if score >= combinedCategoryMin {
			elevated++
		}
	}
	if elevated < combinedCategoryCount {
		return nil
	}

	return &model.AlertDraft{
		Type:      model.AlertTypeCombinedFactors,
		Category:  model.CategoryPreventiveCare,
		Priority:  model.AlertPriorityHigh,
		RiskScore: scores.Overall,
		Title:     "Multiple elevated risk domains",
		Message:   fmt.Sprintf("Overall risk score %d with %d elevated categories warrants a comprehensive care review.", scores.Overall, elevated),
		Recommendations: []string{
			"Comprehensive care plan review",
			"Care coordinator assignment",
		},
		InterventionOptions: []string{
			"Multidisciplinary case conference",
			"Enhanced care management enrollment",
		},
	}
}

func matchedFlags(scores *model.RiskScores, names ...string) []string {
	var matched []string
	for _, n := range names {
		if scores.HasFlag(n) {
			matched = append(matched, n)
		}
	}
	return matched
}

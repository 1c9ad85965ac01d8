package job

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/clinical-alerts/internal/events"
	"github.com/t77yq/clinical-alerts/internal/model"
	"github.com/t77yq/clinical-alerts/internal/monitor"
	"github.com/t77yq/clinical-alerts/internal/rules"
	"github.com/t77yq/clinical-alerts/internal/storage"
)

// Notifier fans urgent and emergency alerts out to staff
type Notifier interface {
	Dispatch(ctx context.Context, alert *model.ClinicalAlert) int
}

// WebhookEnqueuer queues external subscriber deliveries for an alert
type WebhookEnqueuer interface {
	EnqueueAlert(ctx context.Context, alert *model.ClinicalAlert) (int, error)
}

// TickObserver receives the summary of each completed tick
type TickObserver interface {
	PublishTick(stats monitor.TickStats)
}

// Config tunes the evaluation job
type Config struct {
	BatchSize     int
	MaxRetries    int // job-level retry budget for infrastructure failures
	Timeout       time.Duration
	TrendLookback int
}

// DefaultConfig returns the production job settings
func DefaultConfig() Config {
	return Config{
		BatchSize:     100,
		MaxRetries:    3,
		Timeout:       5 * time.Minute,
		TrendLookback: 5,
	}
}

// Evaluation is the periodic batch driver. One run claims a batch of
// unprocessed assessments, evaluates each inside its own error boundary,
// persists and routes the resulting alerts, then runs the follow-up and SLA
// sweeps.
type Evaluation struct {
	logger    *zap.Logger
	config    Config
	store     *storage.Store
	engine    *rules.Engine
	trends    *rules.TrendDetector
	followUps *monitor.FollowUpMonitor
	sla       *monitor.SLATracker
	notifier  Notifier
	webhooks  WebhookEnqueuer
	publisher events.Publisher
	observer  TickObserver
}

// NewEvaluation creates the evaluation job. observer may be nil.
func NewEvaluation(
	logger *zap.Logger,
	config Config,
	store *storage.Store,
	engine *rules.Engine,
	trends *rules.TrendDetector,
	followUps *monitor.FollowUpMonitor,
	sla *monitor.SLATracker,
	notifier Notifier,
	webhooks WebhookEnqueuer,
	publisher events.Publisher,
	observer TickObserver,
) *Evaluation {
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.TrendLookback <= 0 {
		config.TrendLookback = 5
	}
	return &Evaluation{
		logger:    logger.Named("evaluation-job"),
		config:    config,
		store:     store,
		engine:    engine,
		trends:    trends,
		followUps: followUps,
		sla:       sla,
		notifier:  notifier,
		webhooks:  webhooks,
		publisher: publisher,
		observer:  observer,
	}
}

// Run executes one tick with the job-level retry budget. Exhausting the
// budget abandons the tick; claimed-but-unprocessed assessments become
// eligible again once their lease expires.
func (j *Evaluation) Run(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= j.config.MaxRetries; attempt++ {
		err := j.runOnce(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		j.logger.Warn("Evaluation tick failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", j.config.MaxRetries),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second * time.Duration(attempt)):
		}
	}
	j.logger.Error("Evaluation tick abandoned",
		zap.Int("attempts", j.config.MaxRetries),
		zap.Error(lastErr))
	return fmt.Errorf("evaluation tick abandoned after %d attempts: %w", j.config.MaxRetries, lastErr)
}

// runOnce performs one full evaluation pass. Only infrastructure-level
// failures return an error; per-assessment failures are contained.
func (j *Evaluation) runOnce(ctx context.Context) error {
	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	started := time.Now()
	now := started.UTC()

	assessments, err := j.store.ClaimUnprocessed(ctx, j.config.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to claim assessments: %w", err)
	}

	alertsCreated := 0
	failures := 0
	for _, assessment := range assessments {
		created, err := j.processAssessment(ctx, assessment)
		if err != nil {
			failures++
			j.logger.Error("Assessment evaluation failed",
				zap.String("assessment_id", assessment.ID),
				zap.Error(err))
			continue
		}
		alertsCreated += created
	}

	followUps, err := j.followUps.Sweep(ctx, now)
	if err != nil {
		j.logger.Error("Follow-up sweep failed", zap.Error(err))
	}
	for _, alert := range followUps {
		j.routeAlert(ctx, alert)
		alertsCreated++
	}

	if _, err := j.sla.Sweep(ctx, now); err != nil {
		j.logger.Error("SLA sweep failed", zap.Error(err))
	}

	duration := time.Since(started)
	j.logger.Info("Evaluation tick complete",
		zap.Int("assessments", len(assessments)),
		zap.Int("alerts_created", alertsCreated),
		zap.Int("failures", failures),
		zap.Duration("duration", duration))

	if j.observer != nil {
		j.observer.PublishTick(monitor.TickStats{
			Duration:      duration,
			Assessments:   len(assessments),
			AlertsCreated: alertsCreated,
			Failures:      failures,
		})
	}
	return nil
}

// processAssessment evaluates one assessment inside its own recoverable
// boundary so a single bad record cannot abort the batch
func (j *Evaluation) processAssessment(ctx context.Context, assessment *model.Assessment) (created int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("evaluation panicked: %v", r)
			if releaseErr := j.store.ReleaseClaim(ctx, assessment.ID); releaseErr != nil {
				j.logger.Error("Failed to release claim after panic",
					zap.String("assessment_id", assessment.ID),
					zap.Error(releaseErr))
			}
		}
	}()

	if assessment.RiskScores == nil {
		// Malformed scores: leave unprocessed so the next tick retries once
		// the upstream pipeline repairs the document.
		if err := j.store.ReleaseClaim(ctx, assessment.ID); err != nil {
			j.logger.Error("Failed to release claim",
				zap.String("assessment_id", assessment.ID),
				zap.Error(err))
		}
		return 0, fmt.Errorf("assessment %s: %w", assessment.ID, model.ErrInvalidRiskScores)
	}
	if err := assessment.RiskScores.Validate(); err != nil {
		if releaseErr := j.store.ReleaseClaim(ctx, assessment.ID); releaseErr != nil {
			j.logger.Error("Failed to release claim",
				zap.String("assessment_id", assessment.ID),
				zap.Error(releaseErr))
		}
		return 0, fmt.Errorf("assessment %s: %w", assessment.ID, err)
	}

	drafts := j.engine.Evaluate(assessment.BeneficiaryID, assessment.ID, assessment.RiskScores)

	history, err := j.store.RecentAssessments(ctx, assessment.BeneficiaryID, j.config.TrendLookback)
	if err != nil {
		j.logger.Error("Failed to load assessment history for trends",
			zap.String("beneficiary_id", assessment.BeneficiaryID),
			zap.Error(err))
	} else {
		// Trend comparison only looks at history up to this assessment, so
		// two same-beneficiary assessments in one batch each see their own
		// window.
		window := history[:0:0]
		for _, h := range history {
			if !h.CompletedAt.After(assessment.CompletedAt) {
				window = append(window, h)
			}
		}
		drafts = append(drafts, j.trends.Detect(window)...)
	}

	alerts, err := j.store.CommitEvaluation(ctx, assessment.ID, drafts)
	if err != nil {
		return 0, fmt.Errorf("failed to commit evaluation: %w", err)
	}

	for _, alert := range alerts {
		j.routeAlert(ctx, alert)
	}
	return len(alerts), nil
}

// routeAlert publishes the domain event, notifies staff, and queues webhook
// deliveries for one freshly created alert. Routing failures are logged and
// never fail the batch.
func (j *Evaluation) routeAlert(ctx context.Context, alert *model.ClinicalAlert) {
	if err := j.publisher.Publish(ctx, events.EventTypeForAlert(alert), alert.ID, alert); err != nil {
		j.logger.Error("Failed to publish alert event",
			zap.String("alert_id", alert.ID),
			zap.Error(err))
	}

	j.notifier.Dispatch(ctx, alert)

	// External subscribers receive high-severity alerts only.
	if alert.Priority.AtLeast(model.AlertPriorityHigh) {
		if _, err := j.webhooks.EnqueueAlert(ctx, alert); err != nil {
			j.logger.Error("Failed to queue webhook deliveries",
				zap.String("alert_id", alert.ID),
				zap.Error(err))
		}
	}
}

package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/clinical-alerts/internal/events"
	"github.com/t77yq/clinical-alerts/internal/model"
)

// Ledger is the persistence surface the delivery service depends on. The
// service exclusively owns WebhookDelivery rows and the webhook_* fields on
// alerts.
type Ledger interface {
	ActiveWebhooks(ctx context.Context) ([]*model.WebhookConfiguration, error)
	GetBeneficiary(ctx context.Context, id string) (*model.Beneficiary, error)
	RecordDelivery(ctx context.Context, d *model.WebhookDelivery) error
	SetWebhookDelivered(ctx context.Context, alertID string, at time.Time) error
	SetWebhookFailed(ctx context.Context, alertID, lastError string, permanent bool) error
}

// Config tunes the delivery service
type Config struct {
	Timeout     time.Duration   // per-attempt HTTP timeout
	Backoff     []time.Duration // delays between attempts
	MaxAttempts int             // total attempts per (alert, webhook) pair
	Workers     int
	QueueSize   int
}

// DefaultConfig returns the production delivery settings
func DefaultConfig() Config {
	return Config{
		Timeout:     30 * time.Second,
		Backoff:     []time.Duration{60 * time.Second, 180 * time.Second, 300 * time.Second},
		MaxAttempts: 3,
		Workers:     4,
		QueueSize:   256,
	}
}

// deliveryTask is one unit of work for one (alert, webhook) pair attempt
type deliveryTask struct {
	notificationID string
	alert          *model.ClinicalAlert
	webhook        *model.WebhookConfiguration
	beneficiary    *model.Beneficiary
	attempt        int
}

// Service signs, sends, and retries alert payloads to subscriber endpoints.
// Delivery is at-least-once with a bounded retry budget; exhausting it leaves
// the alert in failed_permanently, which is never retried automatically.
type Service struct {
	logger    *zap.Logger
	ledger    Ledger
	publisher events.Publisher
	client    *http.Client
	config    Config

	tasks chan *deliveryTask
	stop  chan struct{}
	wg    sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

// NewService creates a delivery service
func NewService(logger *zap.Logger, ledger Ledger, publisher events.Publisher, config Config) *Service {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 64
	}
	return &Service{
		logger:    logger.Named("webhook-delivery"),
		ledger:    ledger,
		publisher: publisher,
		client:    &http.Client{Timeout: config.Timeout},
		config:    config,
		tasks:     make(chan *deliveryTask, config.QueueSize),
		stop:      make(chan struct{}),
	}
}

// Start launches the delivery workers
func (s *Service) Start(ctx context.Context) {
	s.logger.Info("Starting webhook delivery workers",
		zap.Int("workers", s.config.Workers))
	for i := 0; i < s.config.Workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}
}

// Stop drains the workers. Pending retries scheduled for the future are
// dropped; the next evaluation of the alert's terminal state is an operator
// concern at that point.
func (s *Service) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	close(s.stop)
	s.wg.Wait()
	s.logger.Info("Webhook delivery stopped")
}

// EnqueueAlert queues one delivery per active subscriber endpoint for the
// alert. Returns the number of deliveries queued.
func (s *Service) EnqueueAlert(ctx context.Context, alert *model.ClinicalAlert) (int, error) {
	webhooks, err := s.ledger.ActiveWebhooks(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load webhook configs: %w", err)
	}
	if len(webhooks) == 0 {
		return 0, nil
	}

	beneficiary, err := s.ledger.GetBeneficiary(ctx, alert.BeneficiaryID)
	if err != nil {
		return 0, fmt.Errorf("failed to load beneficiary: %w", err)
	}

	queued := 0
	for _, wh := range webhooks {
		task := &deliveryTask{
			notificationID: uuid.New().String(),
			alert:          alert,
			webhook:        wh,
			beneficiary:    beneficiary,
			attempt:        1,
		}
		if s.submit(task) {
			queued++
		}
	}
	return queued, nil
}

// submit enqueues a task unless the service is stopping
func (s *Service) submit(task *deliveryTask) bool {
	select {
	case <-s.stop:
		return false
	case s.tasks <- task:
		return true
	}
}

func (s *Service) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case task := <-s.tasks:
			s.deliver(ctx, task)
		}
	}
}

// deliver executes one attempt and either finishes the pair or schedules the
// next attempt
func (s *Service) deliver(ctx context.Context, task *deliveryTask) {
	statusCode, err := s.post(ctx, task)

	row := &model.WebhookDelivery{
		WebhookID:     task.webhook.ID,
		AlertID:       task.alert.ID,
		Endpoint:      task.webhook.Endpoint,
		StatusCode:    statusCode,
		Success:       err == nil,
		AttemptNumber: task.attempt,
		DeliveredAt:   time.Now().UTC(),
	}
	if err != nil {
		row.Error = err.Error()
	}
	if recordErr := s.ledger.RecordDelivery(ctx, row); recordErr != nil {
		s.logger.Error("Failed to record delivery attempt",
			zap.String("alert_id", task.alert.ID),
			zap.Error(recordErr))
	}

	if err == nil {
		if updateErr := s.ledger.SetWebhookDelivered(ctx, task.alert.ID, row.DeliveredAt); updateErr != nil {
			s.logger.Error("Failed to mark alert delivered",
				zap.String("alert_id", task.alert.ID),
				zap.Error(updateErr))
		}
		s.logger.Info("Webhook delivered",
			zap.String("alert_id", task.alert.ID),
			zap.String("webhook_id", task.webhook.ID),
			zap.Int("attempt", task.attempt))
		return
	}

	if task.attempt >= s.config.MaxAttempts {
		if updateErr := s.ledger.SetWebhookFailed(ctx, task.alert.ID, err.Error(), true); updateErr != nil {
			s.logger.Error("Failed to mark alert permanently failed",
				zap.String("alert_id", task.alert.ID),
				zap.Error(updateErr))
		}
		if pubErr := s.publisher.Publish(ctx, events.EventWebhookFailed, task.alert.ID, map[string]string{
			"webhook_id": task.webhook.ID,
			"endpoint":   task.webhook.Endpoint,
			"last_error": err.Error(),
		}); pubErr != nil {
			s.logger.Error("Failed to publish permanent failure event", zap.Error(pubErr))
		}
		s.logger.Error("Webhook delivery failed permanently",
			zap.String("alert_id", task.alert.ID),
			zap.String("webhook_id", task.webhook.ID),
			zap.Int("attempts", task.attempt),
			zap.Error(err))
		return
	}

	if updateErr := s.ledger.SetWebhookFailed(ctx, task.alert.ID, err.Error(), false); updateErr != nil {
		s.logger.Error("Failed to mark alert delivery failure",
			zap.String("alert_id", task.alert.ID),
			zap.Error(updateErr))
	}

	delay := s.retryDelay(task.attempt)
	s.logger.Warn("Webhook delivery failed, scheduling retry",
		zap.String("alert_id", task.alert.ID),
		zap.String("webhook_id", task.webhook.ID),
		zap.Int("attempt", task.attempt),
		zap.Duration("delay", delay),
		zap.Error(err))

	next := *task
	next.attempt++
	time.AfterFunc(delay, func() {
		s.submit(&next)
	})
}

// retryDelay returns the delay before the next attempt. Attempts are
// 1-indexed; the schedule covers the gaps between attempts.
func (s *Service) retryDelay(attempt int) time.Duration {
	if len(s.config.Backoff) == 0 {
		return time.Minute
	}
	idx := attempt - 1
	if idx >= len(s.config.Backoff) {
		idx = len(s.config.Backoff) - 1
	}
	return s.config.Backoff[idx]
}

// post performs one signed HTTP POST. Any non-2xx response or transport
// error is a delivery failure.
func (s *Service) post(ctx context.Context, task *deliveryTask) (int, error) {
	payload := BuildPayload(task.notificationID, task.alert, task.beneficiary, task.webhook, time.Now().UTC())
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal payload: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, task.webhook.Endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSignature, Sign(task.webhook.Secret, body))
	req.Header.Set(HeaderEvent, payload.EventType)
	req.Header.Set(HeaderWebhookID, task.webhook.ID)

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("delivery failed with status: %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/t77yq/clinical-alerts/internal/model"
)

// AlertSummary is the transport-neutral notification content handed to sinks
type AlertSummary struct {
	AlertID       string              `json:"alert_id"`
	BeneficiaryID string              `json:"beneficiary_id"`
	Category      string              `json:"category"`
	Priority      model.AlertPriority `json:"priority"`
	Title         string              `json:"title"`
	Message       string              `json:"message"`
}

// Sink delivers one notification to one recipient over a concrete transport
type Sink interface {
	Name() string
	Send(ctx context.Context, recipient *model.StaffMember, summary AlertSummary) error
}

// StaffDirectory resolves notification recipients by role
type StaffDirectory interface {
	StaffByRoles(ctx context.Context, roles []string) ([]*model.StaffMember, error)
}

// Dispatcher routes urgent and emergency alerts to subscribed staff through
// every registered sink. Send failures are logged, never fatal to the batch.
type Dispatcher struct {
	logger        *zap.Logger
	directory     StaffDirectory
	sinks         []Sink
	rolesByUrgent map[model.AlertPriority][]string
}

// NewDispatcher creates a dispatcher. rolesByPriority maps each notifiable
// priority to the staff roles subscribed to it.
func NewDispatcher(logger *zap.Logger, directory StaffDirectory, rolesByPriority map[model.AlertPriority][]string, sinks ...Sink) *Dispatcher {
	return &Dispatcher{
		logger:        logger.Named("dispatcher"),
		directory:     directory,
		sinks:         sinks,
		rolesByUrgent: rolesByPriority,
	}
}

// Dispatch fans an alert out to every (recipient x sink) pair. Alerts below
// urgent are ignored. Returns the number of successful sends.
func (d *Dispatcher) Dispatch(ctx context.Context, alert *model.ClinicalAlert) int {
	if !alert.Priority.AtLeast(model.AlertPriorityUrgent) {
		return 0
	}

	roles := d.rolesByUrgent[alert.Priority]
	if len(roles) == 0 {
		d.logger.Warn("No roles subscribed for priority",
			zap.String("priority", string(alert.Priority)))
		return 0
	}

	recipients, err := d.directory.StaffByRoles(ctx, roles)
	if err != nil {
		d.logger.Error("Failed to resolve notification recipients",
			zap.String("alert_id", alert.ID),
			zap.Error(err))
		return 0
	}
	if len(recipients) == 0 {
		d.logger.Warn("No staff subscribed for alert",
			zap.String("alert_id", alert.ID),
			zap.Strings("roles", roles))
		return 0
	}

	summary := AlertSummary{
		AlertID:       alert.ID,
		BeneficiaryID: alert.BeneficiaryID,
		Category:      alert.Category,
		Priority:      alert.Priority,
		Title:         alert.Title,
		Message:       alert.Message,
	}

	sent := 0
	for _, recipient := range recipients {
		for _, sink := range d.sinks {
			if err := sink.Send(ctx, recipient, summary); err != nil {
				d.logger.Error("Notification send failed",
					zap.String("sink", sink.Name()),
					zap.String("recipient", recipient.ID),
					zap.String("alert_id", alert.ID),
					zap.Error(err))
				continue
			}
			sent++
		}
	}

	d.logger.Info("Dispatched staff notifications",
		zap.String("alert_id", alert.ID),
		zap.String("priority", string(alert.Priority)),
		zap.Int("recipients", len(recipients)),
		zap.Int("sent", sent))

	return sent
}

// SummarySubject is a short subject line for transports that need one
func (s AlertSummary) SummarySubject() string {
	return fmt.Sprintf("[%s] %s", s.Priority, s.Title)
}

package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/marketplace-support/internal/config"
	"github.com/spec-kit/marketplace-support/internal/events"
)

// NotificationService turns domain events into outbound notifications.
// Delivery is stubbed: email and webhook sends are logged.
type NotificationService struct {
	logger *zap.Logger
	cfg    config.NotificationConfig
}

// NewNotificationService creates the service.
func NewNotificationService(logger *zap.Logger, cfg config.NotificationConfig) *NotificationService {
	return &NotificationService{
		logger: logger,
		cfg:    cfg,
	}
}

// Handle routes one event to the channels interested in it.
func (n *NotificationService) Handle(ctx context.Context, event events.Event) error {
	n.logger.Info(string(event.Type),
		zap.String("subject_id", event.SubjectID),
		zap.String("actor_id", event.Actor.ID),
		zap.Any("payload", event.Payload))

	switch event.Type {
	case events.EventTicketCreated, events.EventRefundRequested, events.EventRefundProcessed:
		n.sendEmailNotificationStub(ctx, event)
		n.sendWebhookNotificationStub(ctx, event)
	case events.EventTicketMessageAdded:
		if payload, ok := event.Payload.(events.TicketMessageAddedPayload); ok && payload.Internal {
			return nil
		}
		n.sendEmailNotificationStub(ctx, event)
	case events.EventTicketStatusChanged, events.EventTicketAssigned:
		n.sendWebhookNotificationStub(ctx, event)
	}
	return nil
}

func (n *NotificationService) sendEmailNotificationStub(ctx context.Context, event events.Event) {
	if strings.TrimSpace(n.cfg.EmailFrom) == "" {
		return
	}
	n.logger.Debug("sendEmailNotificationStub",
		zap.String("from", n.cfg.EmailFrom),
		zap.String("subject_id", event.SubjectID),
		zap.String("event_type", string(event.Type)))
}

func (n *NotificationService) sendWebhookNotificationStub(ctx context.Context, event events.Event) {
	if strings.TrimSpace(n.cfg.WebhookURL) == "" {
		return
	}
	n.logger.Debug("sendWebhookNotificationStub",
		zap.String("url", n.cfg.WebhookURL),
		zap.String("subject_id", event.SubjectID),
		zap.String("event_type", string(event.Type)))
}

package handlers

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sowflow/sowflow/modules/sow/domain/events"
	"github.com/sowflow/sowflow/modules/sow/infrastructure/notify"
	"github.com/sowflow/sowflow/pkg/application"
	"github.com/sowflow/sowflow/pkg/outbox"
)

const defaultNotifyTimeout = 10 * time.Second

// NotificationHandler forwards relayed workflow events to the notifier.
// Returning an error leaves the outbox row for the relay to retry.
type NotificationHandler struct {
	notifier notify.Notifier
	logger   *logrus.Logger
	timeout  time.Duration
}

func NewNotificationHandler(notifier notify.Notifier, logger *logrus.Logger, timeout time.Duration) *NotificationHandler {
	if timeout <= 0 {
		timeout = defaultNotifyTimeout
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &NotificationHandler{notifier: notifier, logger: logger, timeout: timeout}
}

func RegisterNotificationHandlers(app application.Application, notifier notify.Notifier, timeout time.Duration) *NotificationHandler {
	handler := NewNotificationHandler(notifier, app.Logger(), timeout)
	app.EventPublisher().Subscribe(handler.OnWorkflowEventV1)
	return handler
}

func (h *NotificationHandler) OnWorkflowEventV1(ctx context.Context, meta *outbox.Meta, ev *events.WorkflowEventV1) error {
	if h == nil || h.notifier == nil || meta == nil || ev == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	if err := h.notifier.Notify(ctx, ev); err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"topic":       meta.Topic,
			"event_id":    meta.EventID.String(),
			"document_id": ev.DocumentID.String(),
			"attempts":    meta.Attempts,
		}).Warn("sow: workflow notification failed")
		return err
	}
	return nil
}

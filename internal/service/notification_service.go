package service

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/virtual-queue/internal/config"
	"github.com/spec-kit/virtual-queue/internal/events"
)

// NotificationService forwards session transition events to the
// configured webhook. Delivery is at-least-once and consumers are
// expected to deduplicate on the event id; failures are logged and
// never propagate back into a transition.
type NotificationService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	cfg        config.NotificationConfig
	client     *http.Client
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, logger *zap.Logger, cfg config.NotificationConfig) *NotificationService {
	timeout := time.Duration(cfg.WebhookTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &NotificationService{
		dispatcher: dispatcher,
		logger:     logger,
		cfg:        cfg,
		client:     &http.Client{Timeout: timeout},
	}
}

// RegisterHandlers subscribes to session lifecycle events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	for _, eventType := range []events.EventType{
		events.EventSessionEnqueued,
		events.EventSessionPromoted,
		events.EventSessionLeft,
		events.EventSessionDropped,
		events.EventSessionServed,
	} {
		n.dispatcher.Subscribe(eventType, n.handleSessionEvent)
	}
}

func (n *NotificationService) handleSessionEvent(ctx context.Context, event events.Event) error {
	n.logger.Info("session event",
		zap.String("type", string(event.Type)),
		zap.String("queue_id", event.QueueID),
		zap.String("session_id", event.SessionID),
		zap.String("old_status", string(event.OldStatus)),
		zap.String("new_status", string(event.NewStatus)))
	n.sendWebhook(ctx, event)
	return nil
}

func (n *NotificationService) sendWebhook(ctx context.Context, event events.Event) {
	if strings.TrimSpace(n.cfg.WebhookURL) == "" {
		return
	}

	body, err := json.Marshal(event)
	if err != nil {
		n.logger.Warn("webhook payload marshal failed", zap.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		n.logger.Warn("webhook request build failed", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn("webhook delivery failed",
			zap.String("event_id", event.ID),
			zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		n.logger.Warn("webhook rejected",
			zap.String("event_id", event.ID),
			zap.Int("status", resp.StatusCode))
	}
}

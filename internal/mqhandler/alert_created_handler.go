package mqhandler

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"buildtrack/internal/events"
	"buildtrack/internal/service/alerts"
	"buildtrack/pkg/logger"
	"buildtrack/pkg/mq"
	"buildtrack/pkg/trace"
)

// AlertCreatedHandler consumes alert.created events and marks the alert as
// handed off to downstream delivery.
type AlertCreatedHandler struct {
	engine    *alerts.Engine
	publisher *mq.Publisher
	logger    *zap.Logger
}

func NewAlertCreatedHandler(engine *alerts.Engine, publisher *mq.Publisher, logger *zap.Logger) *AlertCreatedHandler {
	return &AlertCreatedHandler{
		engine:    engine,
		publisher: publisher,
		logger:    logger,
	}
}

func (h *AlertCreatedHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	var payload events.AlertEventPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		h.logger.Error("Invalid AlertEventPayload, sending to DLQ",
			zap.String("raw", string(raw)),
			zap.Error(err),
		)
		h.sendToDLQ(raw, err)
		return nil // ack: poison message, retrying will not help
	}

	if payload.TraceID != "" {
		ctx = trace.WithContext(ctx, payload.TraceID)
	}
	traceLogger := logger.WithTrace(ctx, h.logger)

	a, err := h.engine.MarkSent(ctx, payload.AlertID)
	if err != nil {
		if errors.Is(err, alerts.ErrAlertNotFound) {
			traceLogger.Warn("alert.created for unknown alert, sending to DLQ",
				zap.Int("alert_id", payload.AlertID),
			)
			h.sendToDLQ(raw, err)
			return nil // ack
		}
		return err // nack, broker retries
	}

	traceLogger.Info("Alert marked sent",
		zap.Int("alert_id", a.ID),
		zap.String("rule_key", a.RuleKey),
		zap.String("priority", string(a.Priority)),
	)
	return nil
}

func (h *AlertCreatedHandler) sendToDLQ(raw json.RawMessage, cause error) {
	if h.publisher == nil {
		return
	}
	if err := h.publisher.PublishToDLQ(events.RoutingKeyAlertCreated, raw, cause.Error()); err != nil {
		h.logger.Error("Failed to publish to DLQ",
			zap.String("routing_key", events.RoutingKeyAlertCreated),
			zap.Error(err),
		)
	}
}

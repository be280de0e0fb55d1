package alerts

import (
	"context"

	"go.uber.org/zap"

	"buildtrack/internal/model"
	"buildtrack/pkg/logger"
)

// List returns alerts matching the filter.
func (e *Engine) List(ctx context.Context, f ListFilter) ([]model.Alert, error) {
	return e.store.ListAlerts(ctx, f)
}

// Acknowledge moves a pending or sent alert to read.
func (e *Engine) Acknowledge(ctx context.Context, alertID int) (*model.Alert, error) {
	a, err := e.store.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if a.Status != model.AlertPending && a.Status != model.AlertSent {
		if a.Status.IsTerminal() {
			return nil, ErrAlertTerminal
		}
		return nil, ErrInvalidTransition
	}

	a.Status = model.AlertRead
	a.UpdatedAt = e.nowFn()
	if err := e.store.UpdateAlert(ctx, a); err != nil {
		return nil, err
	}

	logger.WithTrace(ctx, e.logger).Info("Alert acknowledged",
		zap.Int("alert_id", a.ID),
		zap.String("rule_key", a.RuleKey),
	)
	return a, nil
}

// Dismiss moves any non-terminal alert to dismissed.
func (e *Engine) Dismiss(ctx context.Context, alertID int) (*model.Alert, error) {
	a, err := e.store.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if a.Status.IsTerminal() {
		return nil, ErrAlertTerminal
	}

	a.Status = model.AlertDismissed
	a.UpdatedAt = e.nowFn()
	if err := e.store.UpdateAlert(ctx, a); err != nil {
		return nil, err
	}

	logger.WithTrace(ctx, e.logger).Info("Alert dismissed",
		zap.Int("alert_id", a.ID),
		zap.String("rule_key", a.RuleKey),
	)
	return a, nil
}

// Reassign routes a non-terminal alert to another user.
func (e *Engine) Reassign(ctx context.Context, alertID, userID int) (*model.Alert, error) {
	a, err := e.store.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if a.Status.IsTerminal() {
		return nil, ErrAlertTerminal
	}

	a.AssignedToUserID = &userID
	a.UpdatedAt = e.nowFn()
	if err := e.store.UpdateAlert(ctx, a); err != nil {
		return nil, err
	}

	logger.WithTrace(ctx, e.logger).Info("Alert reassigned",
		zap.Int("alert_id", a.ID),
		zap.Int("assigned_to", userID),
	)
	return a, nil
}

// MarkSent records downstream delivery of a pending alert. Called by the
// alert.created consumer; any other status is left untouched.
func (e *Engine) MarkSent(ctx context.Context, alertID int) (*model.Alert, error) {
	a, err := e.store.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if a.Status != model.AlertPending {
		return a, nil
	}

	a.Status = model.AlertSent
	a.UpdatedAt = e.nowFn()
	if err := e.store.UpdateAlert(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

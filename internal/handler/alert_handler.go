package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"buildtrack/internal/model"
	"buildtrack/internal/service/alerts"
)

// ContextUserIDKey is where the auth middleware stores the acting user.
const ContextUserIDKey = "user_id"

type AlertHandler struct {
	engine *alerts.Engine
	logger *zap.Logger
}

func NewAlertHandler(engine *alerts.Engine, logger *zap.Logger) *AlertHandler {
	return &AlertHandler{engine: engine, logger: logger}
}

func (h *AlertHandler) RunSweep(c *gin.Context) {
	var projectID *int
	if raw := c.Query("project_id"); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project_id"})
			return
		}
		projectID = &id
	}

	report, err := h.engine.RunSweep(c.Request.Context(), projectID)
	if err != nil {
		switch {
		case errors.Is(err, alerts.ErrSweepInProgress):
			c.JSON(http.StatusConflict, gin.H{"error": "sweep already running"})
		case errors.Is(err, alerts.ErrProjectNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "project not found"})
		default:
			h.logger.Error("RunSweep failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "sweep failed"})
		}
		return
	}

	c.JSON(http.StatusOK, report)
}

func (h *AlertHandler) ListAlerts(c *gin.Context) {
	var f alerts.ListFilter

	if raw := c.Query("project_id"); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project_id"})
			return
		}
		f.ProjectID = &id
	}
	if raw := c.Query("user_id"); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
			return
		}
		f.UserID = &id
	}
	if raw := c.Query("status"); raw != "" {
		status := model.AlertStatus(raw)
		f.Status = &status
	}
	if raw := c.Query("priority"); raw != "" {
		priority := model.AlertPriority(raw)
		f.Priority = &priority
	}

	list, err := h.engine.List(c.Request.Context(), f)
	if err != nil {
		h.logger.Error("ListAlerts failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list alerts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"alerts": list})
}

func (h *AlertHandler) alertID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid alert id"})
		return 0, false
	}
	return id, true
}

func (h *AlertHandler) respondLifecycle(c *gin.Context, a *model.Alert, err error, op string) {
	if err != nil {
		switch {
		case errors.Is(err, alerts.ErrAlertNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
		case errors.Is(err, alerts.ErrAlertTerminal):
			c.JSON(http.StatusConflict, gin.H{"error": "alert is already closed"})
		case errors.Is(err, alerts.ErrInvalidTransition):
			c.JSON(http.StatusConflict, gin.H{"error": "alert cannot be acknowledged in its current status"})
		default:
			h.logger.Error("Alert lifecycle operation failed",
				zap.String("op", op),
				zap.Error(err),
			)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update alert"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"alert": a})
}

func (h *AlertHandler) AcknowledgeAlert(c *gin.Context) {
	id, ok := h.alertID(c)
	if !ok {
		return
	}
	a, err := h.engine.Acknowledge(c.Request.Context(), id)
	h.respondLifecycle(c, a, err, "acknowledge")
}

func (h *AlertHandler) DismissAlert(c *gin.Context) {
	id, ok := h.alertID(c)
	if !ok {
		return
	}
	a, err := h.engine.Dismiss(c.Request.Context(), id)
	h.respondLifecycle(c, a, err, "dismiss")
}

type reassignRequest struct {
	UserID int `json:"user_id" binding:"required"`
}

func (h *AlertHandler) ReassignAlert(c *gin.Context) {
	id, ok := h.alertID(c)
	if !ok {
		return
	}

	var req reassignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
		return
	}

	a, err := h.engine.Reassign(c.Request.Context(), id, req.UserID)
	h.respondLifecycle(c, a, err, "reassign")
}

package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"buildtrack/internal/service/workflow"
	"buildtrack/internal/template"
)

type WorkflowHandler struct {
	engine *workflow.Engine
	logger *zap.Logger
}

func NewWorkflowHandler(engine *workflow.Engine, logger *zap.Logger) *WorkflowHandler {
	return &WorkflowHandler{engine: engine, logger: logger}
}

func (h *WorkflowHandler) InitializeWorkflow(c *gin.Context) {
	projectID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project id"})
		return
	}

	tracker, err := h.engine.Initialize(c.Request.Context(), projectID)
	if err != nil {
		switch {
		case errors.Is(err, template.ErrEmptyTemplate):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "workflow template is empty"})
		case errors.Is(err, workflow.ErrTrackerExists):
			c.JSON(http.StatusConflict, gin.H{"error": "workflow already initialized"})
		default:
			h.logger.Error("InitializeWorkflow failed",
				zap.Int("project_id", projectID),
				zap.Error(err),
			)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to initialize workflow"})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"tracker": tracker})
}

type completeLineItemRequest struct {
	LineItemID int    `json:"line_item_id" binding:"required"`
	Notes      string `json:"notes"`
}

func (h *WorkflowHandler) CompleteLineItem(c *gin.Context) {
	projectID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project id"})
		return
	}

	var req completeLineItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "line_item_id required"})
		return
	}

	actorID := c.GetInt(ContextUserIDKey)
	result, err := h.engine.CompleteCurrentItem(c.Request.Context(), projectID, req.LineItemID, actorID, req.Notes)
	if err != nil {
		switch {
		case errors.Is(err, workflow.ErrTrackerNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "workflow not initialized for this project"})
		case errors.Is(err, workflow.ErrTrackerTerminal):
			c.JSON(http.StatusConflict, gin.H{"error": "workflow already completed"})
		case errors.Is(err, workflow.ErrOutOfOrder):
			c.JSON(http.StatusConflict, gin.H{"error": "this is not the current step"})
		default:
			h.logger.Error("CompleteLineItem failed",
				zap.Int("project_id", projectID),
				zap.Int("line_item_id", req.LineItemID),
				zap.Error(err),
			)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to complete line item"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tracker":  result.Tracker,
		"advanced": result.Advanced,
	})
}

func (h *WorkflowHandler) GetProgress(c *gin.Context) {
	projectID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project id"})
		return
	}

	report, err := h.engine.Progress(c.Request.Context(), projectID)
	if err != nil {
		if errors.Is(err, workflow.ErrTrackerNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "workflow not initialized for this project"})
			return
		}
		h.logger.Error("GetProgress failed",
			zap.Int("project_id", projectID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load progress"})
		return
	}

	c.JSON(http.StatusOK, report)
}

func (h *WorkflowHandler) GetHistory(c *gin.Context) {
	projectID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project id"})
		return
	}

	items, err := h.engine.History(c.Request.Context(), projectID)
	if err != nil {
		h.logger.Error("GetHistory failed",
			zap.Int("project_id", projectID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"completed_items": items})
}

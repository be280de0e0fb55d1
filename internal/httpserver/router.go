package httpserver

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"buildtrack/internal/handler"
	"buildtrack/pkg/metrics"
	"buildtrack/pkg/mq"
	"buildtrack/pkg/trace"
)

func NewRouter(
	workflowHandler *handler.WorkflowHandler,
	alertHandler *handler.AlertHandler,
	logger *zap.Logger,
	db *pgxpool.Pool,
	consumer *mq.Consumer,
	jwtSecret string,
) *gin.Engine {
	r := gin.Default()

	// Every request carries a trace id, either inbound or freshly generated.
	r.Use(func(c *gin.Context) {
		traceID := c.GetHeader(trace.HeaderName())
		if traceID == "" {
			traceID = trace.GenerateTraceID()
		}
		c.Request = c.Request.WithContext(trace.WithContext(c.Request.Context(), traceID))
		c.Header(trace.HeaderName(), traceID)
		c.Next()
	})

	r.Use(func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		metrics.RecordHTTPRequestDuration(c.Request.Method, path, strconv.Itoa(c.Writer.Status()), latency)
		logger.Info("HTTP Request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
			zap.String("trace_id", trace.FromContext(c.Request.Context())),
		)
	})

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(200)
	})
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.HEAD("/health", func(c *gin.Context) {
		c.Status(200)
	})

	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c, 1*time.Second)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			c.JSON(500, gin.H{"status": "db_not_ready", "error": err.Error()})
			return
		}

		if consumer != nil && !consumer.IsConnected() {
			c.JSON(500, gin.H{"status": "mq_not_ready"})
			return
		}

		c.JSON(200, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/", AuthMiddleware(jwtSecret))

	api.POST("/projects/:id/workflow", workflowHandler.InitializeWorkflow)
	api.POST("/projects/:id/workflow/complete", workflowHandler.CompleteLineItem)
	api.GET("/projects/:id/workflow/progress", workflowHandler.GetProgress)
	api.GET("/projects/:id/workflow/history", workflowHandler.GetHistory)

	api.POST("/alerts/sweep", alertHandler.RunSweep)
	api.GET("/alerts", alertHandler.ListAlerts)
	api.POST("/alerts/:id/acknowledge", alertHandler.AcknowledgeAlert)
	api.POST("/alerts/:id/dismiss", alertHandler.DismissAlert)
	api.POST("/alerts/:id/reassign", alertHandler.ReassignAlert)

	return r
}

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"cosme-inventory/internal/agent"
	"cosme-inventory/internal/auth"
	"cosme-inventory/internal/models"
	"cosme-inventory/internal/service"
	"cosme-inventory/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Pinger is a dependency the readiness check probes
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	inventory *service.InventoryService
	migration *service.MigrationJob
	resolver  auth.Resolver
	checks    map[string]Pinger
	logger    *zap.Logger
}

// NewHandler creates a new HTTP handler. checks are probed by /ready.
func NewHandler(
	inventory *service.InventoryService,
	migration *service.MigrationJob,
	resolver auth.Resolver,
	checks map[string]Pinger,
) *Handler {
	return &Handler{
		inventory: inventory,
		migration: migration,
		resolver:  resolver,
		checks:    checks,
		logger:    util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(requestLogger(h.logger))

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.Use(auth.Middleware(h.resolver))
	{
		v1.GET("/inventory", h.listItems)
		v1.POST("/inventory", h.registerItems)
		v1.POST("/inventory/confirm", h.confirmItems)
		v1.POST("/inventory/scan", h.scan)
		v1.POST("/inventory/bulk", h.bulk)
		v1.POST("/inventory/migrate", h.migrate)
		v1.GET("/inventory/:id", h.getItem)
		v1.PUT("/inventory/:id", h.updateItem)
		v1.DELETE("/inventory/:id", h.deleteItem)

		v1.GET("/products", h.listProducts)
		v1.GET("/products/:id", h.getProduct)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every backing dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			h.logger.Warn("Readiness check failed", zap.String("dependency", name), zap.Error(err))
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"failed": failed,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

func (h *Handler) listItems(c *gin.Context) {
	items, err := h.inventory.ListItems(c.Request.Context(), auth.UserID(c), c.Query("category"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

// registerItems accepts one item or {"items": [...]}
func (h *Handler) registerItems(c *gin.Context) {
	var body models.Fields
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	items, err := itemsFromBody(body)
	if err != nil {
		h.writeError(c, err)
		return
	}

	res, err := h.inventory.RegisterItems(c.Request.Context(), auth.UserID(c), items, c.GetHeader("Idempotency-Key"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

func itemsFromBody(body models.Fields) ([]models.Fields, error) {
	raw, ok := body["items"]
	if !ok {
		return []models.Fields{body}, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, models.Invalid("items must be an array")
	}
	items := make([]models.Fields, 0, len(list))
	for i, v := range list {
		m, ok := v.(map[string]any)
		if !ok {
			return nil, models.Invalid("items[%d] must be an object", i)
		}
		items = append(items, models.Fields(m))
	}
	return items, nil
}

type confirmRequest struct {
	Items []models.Fields `json:"items"`
}

func (h *Handler) confirmItems(c *gin.Context) {
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	res, err := h.inventory.ConfirmItems(c.Request.Context(), auth.UserID(c), req.Items)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

type scanRequest struct {
	Images []agent.Image `json:"images" binding:"required,min=1,dive"`
}

func (h *Handler) scan(c *gin.Context) {
	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	drafts, err := h.inventory.Scan(c.Request.Context(), auth.UserID(c), req.Images)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": drafts, "count": len(drafts)})
}

func (h *Handler) bulk(c *gin.Context) {
	var req service.BulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	res, err := h.inventory.Bulk(c.Request.Context(), auth.UserID(c), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// migrate runs the migration inline, or enqueues it with ?async=true
func (h *Handler) migrate(c *gin.Context) {
	ctx := c.Request.Context()
	userID := auth.UserID(c)

	if async, _ := strconv.ParseBool(c.Query("async")); async {
		eventID, err := h.migration.Request(ctx, userID)
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "queued", "event_id": eventID})
		return
	}

	// a client disconnect must not stop a migration halfway
	res, err := h.migration.Run(context.WithoutCancel(ctx), userID)
	if err != nil {
		if res != nil && !errors.Is(err, models.ErrMigrationInProgress) {
			h.logger.Error("Migration failed", zap.String("user_id", userID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":  "Migration stopped before completion",
				"result": res,
			})
			return
		}
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) getItem(c *gin.Context) {
	item, err := h.inventory.GetItem(c.Request.Context(), auth.UserID(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *Handler) updateItem(c *gin.Context) {
	var patch models.Fields
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	res, err := h.inventory.UpdateItem(c.Request.Context(), auth.UserID(c), c.Param("id"), patch)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) deleteItem(c *gin.Context) {
	if err := h.inventory.DeleteItem(c.Request.Context(), auth.UserID(c), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) listProducts(c *gin.Context) {
	products, err := h.inventory.ListProducts(c.Request.Context(), auth.UserID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products, "count": len(products)})
}

func (h *Handler) getProduct(c *gin.Context) {
	p, err := h.inventory.GetProduct(c.Request.Context(), auth.UserID(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// writeError maps service errors onto HTTP statuses
func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrUnauthenticated):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found", "details": err.Error()})
	case errors.Is(err, models.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
	case errors.Is(err, models.ErrBrokenReference),
		errors.Is(err, models.ErrDuplicateProduct),
		errors.Is(err, models.ErrMigrationInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": "Conflict", "details": err.Error()})
	case errors.Is(err, agent.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Scan service unavailable"})
	default:
		h.logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.String("user_id", auth.UserID(c)),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}

// requestLogger writes one structured line per request
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("user_id", auth.UserID(c)))
	}
}

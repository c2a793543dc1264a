// Package handlers exposes the cache service's maintenance surface over
// HTTP.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prefeitura-rio/app-resume-cache/internal/cache"
	"github.com/prefeitura-rio/app-resume-cache/internal/logging"
	"github.com/prefeitura-rio/app-resume-cache/internal/models"
	"github.com/prefeitura-rio/app-resume-cache/internal/observability"
	"github.com/prefeitura-rio/app-resume-cache/internal/services"
	"github.com/prefeitura-rio/app-resume-cache/internal/syncqueue"
	"github.com/prefeitura-rio/app-resume-cache/internal/utils"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// CacheService is the part of services.CacheService the handlers use
type CacheService interface {
	GetCacheStats(ctx context.Context) (cache.Stats, error)
	OptimizeCache(ctx context.Context) (services.OptimizeResult, error)
	ClearCache(ctx context.Context) error
	SyncNow(ctx context.Context) (syncqueue.Result, error)
	RetryFailedSync(ctx context.Context) (syncqueue.Result, error)
	GetSyncStatus(ctx context.Context) (syncqueue.Status, error)
	GetFailedItems(ctx context.Context) ([]models.SyncQueueItem, error)
	ClearFailedItems(ctx context.Context) error
	NotifyVisible() error
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

// FailedItemsResponse lists the failed log
type FailedItemsResponse struct {
	Items []models.SyncQueueItem `json:"items"`
	Total int                    `json:"total"`
}

// Handlers serves the admin routes
type Handlers struct {
	svc    CacheService
	logger *logging.SafeLogger
}

func New(svc CacheService) *Handlers {
	return &Handlers{svc: svc, logger: observability.Logger().Named("handlers")}
}

// Register mounts the routes on r
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/health", h.Health)

	cacheGroup := r.Group("/cache")
	{
		cacheGroup.GET("/stats", h.GetCacheStats)
		cacheGroup.POST("/optimize", h.OptimizeCache)
		cacheGroup.DELETE("", h.ClearCache)
	}

	syncGroup := r.Group("/sync")
	{
		syncGroup.GET("/status", h.GetSyncStatus)
		syncGroup.POST("", h.SyncNow)
		syncGroup.POST("/retry", h.RetryFailedSync)
		syncGroup.GET("/failed", h.GetFailedItems)
		syncGroup.DELETE("/failed", h.ClearFailedItems)
		syncGroup.POST("/visible", h.NotifyVisible)
	}
}

// statusFor maps service errors onto HTTP statuses
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrNotInitialized), errors.Is(err, models.ErrOffline):
		return http.StatusServiceUnavailable
	case errors.Is(err, models.ErrDisabled):
		return http.StatusConflict
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// fail records err on the span, logs it and writes the error response
func (h *Handlers) fail(c *gin.Context, span trace.Span, operation string, err error) {
	status := statusFor(err)
	utils.RecordErrorInSpan(span, err, map[string]interface{}{
		"error.operation": operation,
		"http.status":     status,
	})
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		h.logger.Error(operation+" failed", zap.Error(err))
	} else {
		h.logger.Warn(operation+" rejected", zap.Int("status", status), zap.Error(err))
	}
	c.JSON(status, ErrorResponse{Error: err.Error()})
}

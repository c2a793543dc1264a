package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prefeitura-rio/app-resume-cache/internal/models"
	"github.com/prefeitura-rio/app-resume-cache/internal/utils"
	"go.uber.org/zap"
)

type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services"`
}

// Health godoc
// @Summary Verificar saúde do serviço
// @Description Informa se o cache local está aberto e o estado da fila de sincronização
// @Tags health
// @Produce json
// @Success 200 {object} HealthResponse
// @Failure 503 {object} HealthResponse
// @Router /health [get]
func (h *Handlers) Health(c *gin.Context) {
	ctx, span, end := utils.TraceCacheOperation(c.Request.Context(), "health")
	defer end()

	health := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Services:  make(map[string]string),
	}

	_, err := h.svc.GetCacheStats(ctx)
	switch {
	case err == nil:
		health.Services["cache"] = "healthy"
	case errors.Is(err, models.ErrDisabled):
		health.Services["cache"] = "disabled"
	default:
		health.Services["cache"] = "unhealthy"
		health.Status = "unhealthy"
	}

	status, err := h.svc.GetSyncStatus(ctx)
	switch {
	case err == nil && status.IsOnline:
		health.Services["sync"] = "online"
	case err == nil:
		health.Services["sync"] = "offline"
	case errors.Is(err, models.ErrDisabled):
		health.Services["sync"] = "disabled"
	default:
		health.Services["sync"] = "unhealthy"
		health.Status = "unhealthy"
	}

	utils.AddSpanAttribute(span, "health.status", health.Status)
	if health.Status != "healthy" {
		c.JSON(http.StatusServiceUnavailable, health)
		return
	}
	c.JSON(http.StatusOK, health)
}

// GetCacheStats godoc
// @Summary Estatísticas do cache
// @Description Tamanho total, quantidade de itens, taxa de acerto e acessos extremos
// @Tags cache
// @Produce json
// @Success 200 {object} cache.Stats
// @Failure 409 {object} ErrorResponse "LRU desabilitado"
// @Failure 503 {object} ErrorResponse "Serviço não inicializado"
// @Router /cache/stats [get]
func (h *Handlers) GetCacheStats(c *gin.Context) {
	ctx, span, end := utils.TraceCacheOperation(c.Request.Context(), "stats")
	defer end()

	stats, err := h.svc.GetCacheStats(ctx)
	if err != nil {
		h.fail(c, span, "get cache stats", err)
		return
	}
	utils.AddSpanAttribute(span, "cache.items", stats.TotalItems)
	c.JSON(http.StatusOK, stats)
}

// OptimizeCache godoc
// @Summary Otimizar o cache
// @Description Remove entradas expiradas, aplica o orçamento LRU e apaga análises fora da retenção
// @Tags cache
// @Produce json
// @Success 200 {object} services.OptimizeResult
// @Failure 500 {object} ErrorResponse
// @Router /cache/optimize [post]
func (h *Handlers) OptimizeCache(c *gin.Context) {
	ctx, span, end := utils.TraceCacheOperation(c.Request.Context(), "optimize")
	defer end()

	result, err := h.svc.OptimizeCache(ctx)
	if err != nil {
		h.fail(c, span, "optimize cache", err)
		return
	}
	h.logger.Info("cache optimized",
		zap.Int("expired", result.Expired),
		zap.Int("evicted", result.Evicted),
		zap.Int("analyses_pruned", result.AnalysesPruned))
	c.JSON(http.StatusOK, result)
}

// ClearCache godoc
// @Summary Limpar o cache local
// @Description Apaga todos os registros locais e seus metadados sem replicar para o remoto
// @Tags cache
// @Produce json
// @Success 200 {object} MessageResponse
// @Failure 500 {object} ErrorResponse
// @Router /cache [delete]
func (h *Handlers) ClearCache(c *gin.Context) {
	ctx, span, end := utils.TraceCacheOperation(c.Request.Context(), "clear")
	defer end()

	if err := h.svc.ClearCache(ctx); err != nil {
		h.fail(c, span, "clear cache", err)
		return
	}
	h.logger.Warn("local cache cleared")
	c.JSON(http.StatusOK, MessageResponse{Message: "cache cleared"})
}

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prefeitura-rio/app-resume-cache/internal/utils"
	"go.uber.org/zap"
)

// GetSyncStatus godoc
// @Summary Estado da fila de sincronização
// @Tags sync
// @Produce json
// @Success 200 {object} syncqueue.Status
// @Failure 409 {object} ErrorResponse "Sincronização desabilitada"
// @Router /sync/status [get]
func (h *Handlers) GetSyncStatus(c *gin.Context) {
	ctx, span, end := utils.TraceSyncOperation(c.Request.Context(), "status")
	defer end()

	status, err := h.svc.GetSyncStatus(ctx)
	if err != nil {
		h.fail(c, span, "get sync status", err)
		return
	}
	utils.AddSpanAttribute(span, "sync.queue_length", status.QueueLength)
	c.JSON(http.StatusOK, status)
}

// SyncNow godoc
// @Summary Sincronizar agora
// @Description Executa uma passada da fila; falha com 503 quando o remoto está inacessível
// @Tags sync
// @Produce json
// @Success 200 {object} syncqueue.Result
// @Failure 503 {object} ErrorResponse "Sem conexão"
// @Router /sync [post]
func (h *Handlers) SyncNow(c *gin.Context) {
	ctx, span, end := utils.TraceSyncOperation(c.Request.Context(), "force")
	defer end()

	result, err := h.svc.SyncNow(ctx)
	if err != nil {
		h.fail(c, span, "sync now", err)
		return
	}
	h.logger.Info("manual sync finished",
		zap.Int("success", result.Success),
		zap.Int("failed", result.Failed),
		zap.Int("resolved", result.Resolved))
	c.JSON(http.StatusOK, result)
}

// RetryFailedSync godoc
// @Summary Reprocessar itens com falha
// @Description Devolve o log de falhas à fila com contagem zerada e sincroniza
// @Tags sync
// @Produce json
// @Success 200 {object} syncqueue.Result
// @Router /sync/retry [post]
func (h *Handlers) RetryFailedSync(c *gin.Context) {
	ctx, span, end := utils.TraceSyncOperation(c.Request.Context(), "retry")
	defer end()

	result, err := h.svc.RetryFailedSync(ctx)
	if err != nil {
		h.fail(c, span, "retry failed sync", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetFailedItems godoc
// @Summary Listar itens com falha
// @Tags sync
// @Produce json
// @Success 200 {object} FailedItemsResponse
// @Router /sync/failed [get]
func (h *Handlers) GetFailedItems(c *gin.Context) {
	ctx, span, end := utils.TraceSyncOperation(c.Request.Context(), "failed")
	defer end()

	items, err := h.svc.GetFailedItems(ctx)
	if err != nil {
		h.fail(c, span, "get failed items", err)
		return
	}
	c.JSON(http.StatusOK, FailedItemsResponse{Items: items, Total: len(items)})
}

// ClearFailedItems godoc
// @Summary Descartar itens com falha
// @Tags sync
// @Produce json
// @Success 200 {object} MessageResponse
// @Router /sync/failed [delete]
func (h *Handlers) ClearFailedItems(c *gin.Context) {
	ctx, span, end := utils.TraceSyncOperation(c.Request.Context(), "clear_failed")
	defer end()

	if err := h.svc.ClearFailedItems(ctx); err != nil {
		h.fail(c, span, "clear failed items", err)
		return
	}
	h.logger.Warn("failed log cleared")
	c.JSON(http.StatusOK, MessageResponse{Message: "failed items cleared"})
}

// NotifyVisible godoc
// @Summary Aplicação voltou ao primeiro plano
// @Description Dispara uma sincronização em segundo plano se houver conexão
// @Tags sync
// @Produce json
// @Success 202 {object} MessageResponse
// @Router /sync/visible [post]
func (h *Handlers) NotifyVisible(c *gin.Context) {
	if err := h.svc.NotifyVisible(); err != nil {
		_, span, end := utils.TraceSyncOperation(c.Request.Context(), "visible")
		defer end()
		h.fail(c, span, "notify visible", err)
		return
	}
	c.JSON(http.StatusAccepted, MessageResponse{Message: "sync scheduled"})
}

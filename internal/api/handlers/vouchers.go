package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/radmesh/radmesh/internal/db"
	"github.com/radmesh/radmesh/internal/models"
	"github.com/radmesh/radmesh/internal/vouchers"
)

// VoucherStore defines the persistence operations of the voucher
// operator endpoints.
type VoucherStore interface {
	GetVoucherByID(ctx context.Context, id uuid.UUID) (*models.Voucher, error)
	ListVouchersByBatch(ctx context.Context, routerID uuid.UUID, batch string, syncStatus models.SyncStatus) ([]*models.Voucher, error)
	ListVoucherLogs(ctx context.Context, voucherID uuid.UUID, limit int) ([]*models.VoucherLog, error)
	ListRouterVoucherLogs(ctx context.Context, routerID uuid.UUID, limit int) ([]*models.VoucherLog, error)
}

// VoucherHandler serves the operator voucher endpoints.
type VoucherHandler struct {
	store   VoucherStore
	service *vouchers.Service
	logger  zerolog.Logger
}

// NewVoucherHandler creates a new VoucherHandler.
func NewVoucherHandler(store VoucherStore, service *vouchers.Service, logger zerolog.Logger) *VoucherHandler {
	return &VoucherHandler{
		store:   store,
		service: service,
		logger:  logger.With().Str("component", "voucher_handler").Logger(),
	}
}

// RegisterRoutes registers voucher routes on the given group.
func (h *VoucherHandler) RegisterRoutes(r *gin.RouterGroup) {
	v := r.Group("/vouchers")
	{
		v.POST("/generate", h.GenerateBatch)
		v.POST("", h.CreateSingle)
		v.GET("/:id", h.Get)
		v.DELETE("/:id", h.Delete)
		v.GET("/:id/logs", h.Logs)
	}
	r.GET("/routers/:id/batches/:batch", h.BatchStatus)
	r.GET("/routers/:id/voucher-logs", h.RouterLogs)
}

type generateRequest struct {
	RouterID   uuid.UUID `json:"router_id" binding:"required"`
	ProfileID  uuid.UUID `json:"profile_id" binding:"required"`
	Count      int       `json:"count" binding:"required,min=1"`
	CodeLength int       `json:"code_length"`
}

// GenerateBatch creates a batch of vouchers.
// POST /api/v1/vouchers/generate
func (h *VoucherHandler) GenerateBatch(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	result, err := h.service.GenerateBatch(c.Request.Context(), vouchers.GenerateRequest{
		RouterID:   req.RouterID,
		ProfileID:  req.ProfileID,
		Count:      req.Count,
		CodeLength: req.CodeLength,
	})
	if err != nil {
		if errors.Is(err, db.ErrInsufficientBalance) {
			c.JSON(http.StatusPaymentRequired, gin.H{"error": "insufficient balance"})
			return
		}
		h.logger.Error().Err(err).Msg("batch generation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate vouchers"})
		return
	}
	c.JSON(http.StatusCreated, result)
}

type createSingleRequest struct {
	RouterID  uuid.UUID `json:"router_id" binding:"required"`
	ProfileID uuid.UUID `json:"profile_id" binding:"required"`
}

// CreateSingle creates one voucher and pushes it to the RADIUS node.
// POST /api/v1/vouchers
func (h *VoucherHandler) CreateSingle(c *gin.Context) {
	var req createSingleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	voucher, err := h.service.CreateSingle(c.Request.Context(), req.RouterID, req.ProfileID)
	if err != nil {
		if errors.Is(err, db.ErrInsufficientBalance) {
			c.JSON(http.StatusPaymentRequired, gin.H{"error": "insufficient balance"})
			return
		}
		h.logger.Error().Err(err).Msg("voucher creation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create voucher"})
		return
	}
	c.JSON(http.StatusCreated, voucher)
}

// Get returns one voucher.
// GET /api/v1/vouchers/:id
func (h *VoucherHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid voucher id"})
		return
	}

	voucher, err := h.store.GetVoucherByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrVoucherNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "voucher not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load voucher"})
		return
	}
	c.JSON(http.StatusOK, voucher)
}

// Delete removes a voucher, propagating to the RADIUS node.
// DELETE /api/v1/vouchers/:id
func (h *VoucherHandler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid voucher id"})
		return
	}

	if err := h.service.Delete(c.Request.Context(), id); err != nil {
		if errors.Is(err, db.ErrVoucherNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "voucher not found"})
			return
		}
		h.logger.Error().Err(err).Str("voucher_id", id.String()).Msg("voucher deletion failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete voucher"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Logs returns the ledger entries of one voucher.
// GET /api/v1/vouchers/:id/logs
func (h *VoucherHandler) Logs(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid voucher id"})
		return
	}

	logs, err := h.store.ListVoucherLogs(c.Request.Context(), id, 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load logs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs, "count": len(logs)})
}

// RouterLogs returns a router's recent voucher ledger entries.
// GET /api/v1/routers/:id/voucher-logs
func (h *VoucherHandler) RouterLogs(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid router id"})
		return
	}

	logs, err := h.store.ListRouterVoucherLogs(c.Request.Context(), id, 200)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load logs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs, "count": len(logs)})
}

// BatchStatus reports the sync progress of one batch.
// GET /api/v1/routers/:id/batches/:batch
func (h *VoucherHandler) BatchStatus(c *gin.Context) {
	routerID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid router id"})
		return
	}
	batch := c.Param("batch")

	batchVouchers, err := h.store.ListVouchersByBatch(c.Request.Context(), routerID, batch, "")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load batch"})
		return
	}
	if len(batchVouchers) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "batch not found"})
		return
	}

	counts := map[models.SyncStatus]int{}
	for _, v := range batchVouchers {
		counts[v.RadiusSyncStatus]++
	}
	c.JSON(http.StatusOK, gin.H{
		"batch":   batch,
		"total":   len(batchVouchers),
		"pending": counts[models.SyncStatusPending],
		"synced":  counts[models.SyncStatusSynced],
		"failed":  counts[models.SyncStatusFailed],
	})
}

package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/radmesh/radmesh/internal/db"
	"github.com/radmesh/radmesh/internal/models"
	"github.com/radmesh/radmesh/internal/provision"
	"github.com/radmesh/radmesh/internal/radius"
)

// RadiusServerStore defines the persistence operations of the node
// endpoints.
type RadiusServerStore interface {
	CreateRadiusServer(ctx context.Context, s *models.RadiusServer) error
	GetRadiusServerByID(ctx context.Context, id uuid.UUID) (*models.RadiusServer, error)
	ListRadiusServers(ctx context.Context, userID uuid.UUID) ([]*models.RadiusServer, error)
	UpdateRadiusServer(ctx context.Context, s *models.RadiusServer) error
	DeleteRadiusServer(ctx context.Context, id uuid.UUID) error
}

// ProvisionEnqueuer queues a node for cloud provisioning.
type ProvisionEnqueuer interface {
	EnqueueProvision(ctx context.Context, serverID uuid.UUID) (*models.Job, error)
}

// RadiusServerHandler serves RADIUS node registration and lifecycle
// endpoints.
type RadiusServerHandler struct {
	store  RadiusServerStore
	queue  ProvisionEnqueuer
	client radius.Client
	cloud  provision.CloudClient
	logger zerolog.Logger
}

// NewRadiusServerHandler creates a new RadiusServerHandler.
func NewRadiusServerHandler(store RadiusServerStore, queue ProvisionEnqueuer, client radius.Client, cloud provision.CloudClient, logger zerolog.Logger) *RadiusServerHandler {
	return &RadiusServerHandler{
		store:  store,
		queue:  queue,
		client: client,
		cloud:  cloud,
		logger: logger.With().Str("component", "radius_server_handler").Logger(),
	}
}

// RegisterRoutes registers node routes on the given group.
func (h *RadiusServerHandler) RegisterRoutes(r *gin.RouterGroup) {
	servers := r.Group("/radius-servers")
	{
		servers.POST("", h.Create)
		servers.GET("", h.List)
		servers.GET("/:id", h.Get)
		servers.POST("/:id/provision", h.Provision)
		servers.GET("/:id/health", h.Health)
		servers.PATCH("/:id/active", h.SetActive)
		servers.DELETE("/:id", h.Delete)
	}
}

type createRadiusServerRequest struct {
	UserID uuid.UUID `json:"user_id" binding:"required"`
	Name   string    `json:"name" binding:"required"`
	Region string    `json:"region" binding:"required"`
	Plan   string    `json:"plan" binding:"required"`
	Image  string    `json:"image" binding:"required"`
}

// Create registers a node and queues its provisioning.
// POST /api/v1/radius-servers
func (h *RadiusServerHandler) Create(c *gin.Context) {
	var req createRadiusServerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	node := models.NewRadiusServer(req.UserID, req.Name, req.Region, req.Plan, req.Image)
	if err := h.store.CreateRadiusServer(c.Request.Context(), node); err != nil {
		h.logger.Error().Err(err).Str("name", req.Name).Msg("node creation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create node"})
		return
	}

	job, err := h.queue.EnqueueProvision(c.Request.Context(), node.ID)
	if err != nil {
		h.logger.Error().Err(err).Str("node", node.Name).Msg("failed to enqueue provisioning")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "node created but provisioning not queued"})
		return
	}

	h.logger.Info().Str("node", node.Name).Str("job_id", job.ID.String()).Msg("node registered, provisioning queued")
	c.JSON(http.StatusCreated, gin.H{"server": node, "job_id": job.ID})
}

// List returns a user's nodes.
// GET /api/v1/radius-servers?user_id=..
func (h *RadiusServerHandler) List(c *gin.Context) {
	userID, err := uuid.Parse(c.Query("user_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id query parameter required"})
		return
	}

	servers, err := h.store.ListRadiusServers(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list nodes"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"servers": servers, "count": len(servers)})
}

// Get returns one node.
// GET /api/v1/radius-servers/:id
func (h *RadiusServerHandler) Get(c *gin.Context) {
	node := h.loadNode(c)
	if node == nil {
		return
	}
	c.JSON(http.StatusOK, node)
}

// Provision re-queues a failed node. The failed state resets to pending
// so the provisioning lifecycle starts over.
// POST /api/v1/radius-servers/:id/provision
func (h *RadiusServerHandler) Provision(c *gin.Context) {
	node := h.loadNode(c)
	if node == nil {
		return
	}

	if node.InstallationStatus == models.InstallFailed {
		if err := node.Transition(models.InstallPending, "re-provisioning requested"); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		if err := h.store.UpdateRadiusServer(c.Request.Context(), node); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to reset node"})
			return
		}
	} else if node.InstallationStatus != models.InstallPending {
		c.JSON(http.StatusConflict, gin.H{"error": "node is " + string(node.InstallationStatus)})
		return
	}

	job, err := h.queue.EnqueueProvision(c.Request.Context(), node.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to queue provisioning"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "job_id": job.ID})
}

// Health probes the node's voucher API.
// GET /api/v1/radius-servers/:id/health
func (h *RadiusServerHandler) Health(c *gin.Context) {
	node := h.loadNode(c)
	if node == nil {
		return
	}

	if err := h.client.Health(c.Request.Context(), node); err != nil {
		c.JSON(http.StatusOK, gin.H{"healthy": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"healthy": true})
}

type setActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// SetActive enables or disables a node for voucher pushes.
// PATCH /api/v1/radius-servers/:id/active
func (h *RadiusServerHandler) SetActive(c *gin.Context) {
	node := h.loadNode(c)
	if node == nil {
		return
	}

	var req setActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	node.IsActive = *req.Active
	if err := h.store.UpdateRadiusServer(c.Request.Context(), node); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update node"})
		return
	}
	c.JSON(http.StatusOK, node)
}

// Delete removes a node and destroys its cloud instance.
// DELETE /api/v1/radius-servers/:id
func (h *RadiusServerHandler) Delete(c *gin.Context) {
	node := h.loadNode(c)
	if node == nil {
		return
	}

	if node.InstanceID != nil && *node.InstanceID != "" {
		instanceID, err := strconv.Atoi(*node.InstanceID)
		if err == nil {
			if err := h.cloud.DeleteInstance(c.Request.Context(), instanceID); err != nil {
				h.logger.Error().Err(err).Str("node", node.Name).Msg("failed to destroy instance")
				c.JSON(http.StatusBadGateway, gin.H{"error": "failed to destroy cloud instance"})
				return
			}
		}
	}

	if err := h.store.DeleteRadiusServer(c.Request.Context(), node.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete node"})
		return
	}

	h.logger.Info().Str("node", node.Name).Msg("node deleted")
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *RadiusServerHandler) loadNode(c *gin.Context) *models.RadiusServer {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid node id"})
		return nil
	}

	node, err := h.store.GetRadiusServerByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrRadiusServerNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "node not found"})
			return nil
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load node"})
		return nil
	}
	return node
}

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
)

// RouterStore defines the persistence operations of the router endpoints.
type RouterStore interface {
	CreateRouter(ctx context.Context, r *models.Router) error
	GetRouterByID(ctx context.Context, id uuid.UUID) (*models.Router, error)
	ListRouters(ctx context.Context) ([]*models.Router, error)
	UpdateRouter(ctx context.Context, r *models.Router) error
	DeleteRouter(ctx context.Context, id uuid.UUID) error
}

// RouterHandler serves router registration and management endpoints.
type RouterHandler struct {
	store  RouterStore
	logger zerolog.Logger
}

// NewRouterHandler creates a new RouterHandler.
func NewRouterHandler(store RouterStore, logger zerolog.Logger) *RouterHandler {
	return &RouterHandler{
		store:  store,
		logger: logger.With().Str("component", "router_handler").Logger(),
	}
}

// RegisterRoutes registers router routes on the given group.
func (h *RouterHandler) RegisterRoutes(r *gin.RouterGroup) {
	routers := r.Group("/routers")
	{
		routers.POST("", h.Create)
		routers.GET("", h.List)
		routers.GET("/:id", h.Get)
		routers.PUT("/:id", h.Update)
		routers.DELETE("/:id", h.Delete)
		routers.POST("/:id/rotate-key", h.RotateKey)
	}
}

type createRouterRequest struct {
	UserID         uuid.UUID  `json:"user_id" binding:"required"`
	Name           string     `json:"name" binding:"required"`
	Host           string     `json:"host"`
	IP             string     `json:"ip"`
	NASIdentifier  string     `json:"nas_identifier"`
	ParentID       *uuid.UUID `json:"parent_id"`
	RadiusServerID *uuid.UUID `json:"radius_server_id"`
}

// Create registers a router. The response is the only place the app key
// appears in full; it authenticates every later script exchange.
// POST /api/v1/routers
func (h *RouterHandler) Create(c *gin.Context) {
	var req createRouterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if req.ParentID != nil && req.RadiusServerID != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "NAS devices inherit the parent's RADIUS association"})
		return
	}

	router, err := models.NewRouter(req.UserID, req.Name, req.Host)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create router"})
		return
	}
	router.IP = req.IP
	router.NASIdentifier = req.NASIdentifier
	router.ParentID = req.ParentID
	router.RadiusServerID = req.RadiusServerID

	if err := h.store.CreateRouter(c.Request.Context(), router); err != nil {
		h.logger.Error().Err(err).Str("name", req.Name).Msg("router creation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create router"})
		return
	}

	h.logger.Info().Str("router", router.Name).Msg("router registered")
	c.JSON(http.StatusCreated, gin.H{
		"router":  router,
		"app_key": router.AppKey,
	})
}

// List returns all routers.
// GET /api/v1/routers
func (h *RouterHandler) List(c *gin.Context) {
	routers, err := h.store.ListRouters(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list routers"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"routers": routers, "count": len(routers)})
}

// Get returns one router.
// GET /api/v1/routers/:id
func (h *RouterHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid router id"})
		return
	}

	router, err := h.store.GetRouterByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrRouterNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "router not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load router"})
		return
	}
	c.JSON(http.StatusOK, router)
}

type updateRouterRequest struct {
	Name           string     `json:"name" binding:"required"`
	Host           string     `json:"host"`
	IP             string     `json:"ip"`
	NASIdentifier  string     `json:"nas_identifier"`
	RadiusServerID *uuid.UUID `json:"radius_server_id"`
}

// Update modifies a router's connection fields.
// PUT /api/v1/routers/:id
func (h *RouterHandler) Update(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid router id"})
		return
	}

	var req updateRouterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	router, err := h.store.GetRouterByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrRouterNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "router not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load router"})
		return
	}

	router.Name = req.Name
	router.Host = req.Host
	router.IP = req.IP
	router.NASIdentifier = req.NASIdentifier
	if router.ParentID == nil {
		router.RadiusServerID = req.RadiusServerID
	}

	if err := h.store.UpdateRouter(c.Request.Context(), router); err != nil {
		h.logger.Error().Err(err).Str("router", router.Name).Msg("router update failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update router"})
		return
	}
	c.JSON(http.StatusOK, router)
}

// Delete removes a router.
// DELETE /api/v1/routers/:id
func (h *RouterHandler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid router id"})
		return
	}

	if err := h.store.DeleteRouter(c.Request.Context(), id); err != nil {
		if errors.Is(err, db.ErrRouterNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "router not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete router"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// RotateKey replaces a router's app key, cutting off scripts still using
// the old one.
// POST /api/v1/routers/:id/rotate-key
func (h *RouterHandler) RotateKey(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid router id"})
		return
	}

	router, err := h.store.GetRouterByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrRouterNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "router not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load router"})
		return
	}

	key, err := models.GenerateAppKey()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to rotate key"})
		return
	}
	router.AppKey = key

	if err := h.store.UpdateRouter(c.Request.Context(), router); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to rotate key"})
		return
	}

	h.logger.Info().Str("router", router.Name).Msg("app key rotated")
	c.JSON(http.StatusOK, gin.H{"app_key": key})
}

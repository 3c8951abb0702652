package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/radmesh/radmesh/internal/db"
	"github.com/radmesh/radmesh/internal/models"
)

// ProfileStore defines the persistence operations of the profile
// endpoints.
type ProfileStore interface {
	CreateProfile(ctx context.Context, p *models.Profile) error
	GetProfileByID(ctx context.Context, id uuid.UUID) (*models.Profile, error)
	ListProfilesByUser(ctx context.Context, userID uuid.UUID) ([]*models.Profile, error)
	UpdateProfile(ctx context.Context, p *models.Profile) error
	DeleteProfile(ctx context.Context, id uuid.UUID) error
}

// ProfileHandler serves service profile endpoints.
type ProfileHandler struct {
	store  ProfileStore
	logger zerolog.Logger
}

// NewProfileHandler creates a new ProfileHandler.
func NewProfileHandler(store ProfileStore, logger zerolog.Logger) *ProfileHandler {
	return &ProfileHandler{
		store:  store,
		logger: logger.With().Str("component", "profile_handler").Logger(),
	}
}

// RegisterRoutes registers profile routes on the given group.
func (h *ProfileHandler) RegisterRoutes(r *gin.RouterGroup) {
	profiles := r.Group("/profiles")
	{
		profiles.POST("", h.Create)
		profiles.GET("", h.List)
		profiles.PUT("/:id", h.Update)
		profiles.DELETE("/:id", h.Delete)
	}
}

type profileRequest struct {
	UserID        uuid.UUID `json:"user_id"`
	Name          string    `json:"name" binding:"required"`
	RateLimit     string    `json:"rate_limit"`
	SharedUsers   int       `json:"shared_users" binding:"required,min=1"`
	ValidityHours int       `json:"validity_hours" binding:"min=0"`
	MACBinding    bool      `json:"mac_binding"`
	Price         float64   `json:"price" binding:"min=0"`
}

// Create adds a service profile.
// POST /api/v1/profiles
func (h *ProfileHandler) Create(c *gin.Context) {
	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	now := time.Now()
	profile := &models.Profile{
		ID:            uuid.New(),
		UserID:        req.UserID,
		Name:          req.Name,
		RateLimit:     req.RateLimit,
		SharedUsers:   req.SharedUsers,
		ValidityHours: req.ValidityHours,
		MACBinding:    req.MACBinding,
		Price:         req.Price,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := profile.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.store.CreateProfile(c.Request.Context(), profile); err != nil {
		h.logger.Error().Err(err).Str("name", req.Name).Msg("profile creation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create profile"})
		return
	}
	c.JSON(http.StatusCreated, profile)
}

// List returns a user's profiles.
// GET /api/v1/profiles?user_id=..
func (h *ProfileHandler) List(c *gin.Context) {
	userID, err := uuid.Parse(c.Query("user_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id query parameter required"})
		return
	}

	profiles, err := h.store.ListProfilesByUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list profiles"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"profiles": profiles, "count": len(profiles)})
}

// Update modifies a profile. Renames propagate to routers on their next
// profile pull; the orphan cleanup removes the old name.
// PUT /api/v1/profiles/:id
func (h *ProfileHandler) Update(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid profile id"})
		return
	}

	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	profile, err := h.store.GetProfileByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrProfileNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load profile"})
		return
	}

	profile.Name = req.Name
	profile.RateLimit = req.RateLimit
	profile.SharedUsers = req.SharedUsers
	profile.ValidityHours = req.ValidityHours
	profile.MACBinding = req.MACBinding
	profile.Price = req.Price
	profile.UpdatedAt = time.Now()
	if err := profile.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.store.UpdateProfile(c.Request.Context(), profile); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update profile"})
		return
	}
	c.JSON(http.StatusOK, profile)
}

// Delete removes a profile.
// DELETE /api/v1/profiles/:id
func (h *ProfileHandler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid profile id"})
		return
	}

	if err := h.store.DeleteProfile(c.Request.Context(), id); err != nil {
		if errors.Is(err, db.ErrProfileNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete profile"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

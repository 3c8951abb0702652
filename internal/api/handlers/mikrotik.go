// Package handlers implements the RadMesh HTTP API: the MikroTik flat
// text channel, the RADIUS accounting intake, and the operator endpoints
// for vouchers, routers, and RADIUS nodes.
package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/radmesh/radmesh/internal/api/middleware"
	"github.com/radmesh/radmesh/internal/mikrotik"
	"github.com/radmesh/radmesh/internal/models"
)

// maxPushBody bounds usage and orphan submissions. A hotspot with a few
// thousand users stays well under this.
const maxPushBody = 1 << 20

// MikrotikStore defines the persistence operations of the flat channel.
type MikrotikStore interface {
	ListVouchersByStatus(ctx context.Context, routerID uuid.UUID, status models.VoucherStatus) ([]*models.Voucher, error)
	GetProfilesByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.Profile, error)
	ListProfilesForRouter(ctx context.Context, routerID uuid.UUID) ([]*models.Profile, error)
	ListUsernamesByRouter(ctx context.Context, routerID uuid.UUID) (map[string]struct{}, error)
	ListProfileNamesByRouter(ctx context.Context, routerID uuid.UUID) (map[string]struct{}, error)
}

// UsageEnqueuer queues a usage push for asynchronous ingestion.
type UsageEnqueuer interface {
	EnqueueUsageIngest(ctx context.Context, routerID uuid.UUID, lines string) (*models.Job, error)
}

// MikrotikHandler serves the flat text channel spoken by RouterOS scripts.
type MikrotikHandler struct {
	store   MikrotikStore
	queue   UsageEnqueuer
	baseURL string
	logger  zerolog.Logger
}

// NewMikrotikHandler creates a new MikrotikHandler. baseURL is the public
// URL of this server, baked into generated scripts.
func NewMikrotikHandler(store MikrotikStore, queue UsageEnqueuer, baseURL string, logger zerolog.Logger) *MikrotikHandler {
	return &MikrotikHandler{
		store:   store,
		queue:   queue,
		baseURL: baseURL,
		logger:  logger.With().Str("component", "mikrotik_handler").Logger(),
	}
}

// RegisterRoutes registers the flat channel routes on the given group.
// The group must carry RouterAuth.
func (h *MikrotikHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/pull-users", h.PullUsers)
	r.GET("/pull-active-users", h.PullActiveUsers)
	r.GET("/pull-profiles", h.PullProfiles)
	r.POST("/push-usage", h.PushUsage)
	r.POST("/orphan-users", h.OrphanUsers)
	r.POST("/orphan-profiles", h.OrphanProfiles)
	r.GET("/scripts/:name", h.Script)
}

// PullUsers serves unused vouchers for additive creation on the router.
// GET /api/mikrotik/pull-users
func (h *MikrotikHandler) PullUsers(c *gin.Context) {
	h.serveVouchers(c, models.VoucherStatusUnused)
}

// PullActiveUsers serves in-use vouchers. The center is authoritative:
// the router updates existing entries to match, activation stamps
// included.
// GET /api/mikrotik/pull-active-users
func (h *MikrotikHandler) PullActiveUsers(c *gin.Context) {
	h.serveVouchers(c, models.VoucherStatusActive)
}

func (h *MikrotikHandler) serveVouchers(c *gin.Context, status models.VoucherStatus) {
	router := middleware.RequireRouter(c)
	if router == nil {
		return
	}

	vouchers, err := h.store.ListVouchersByStatus(c.Request.Context(), router.ID, status)
	if err != nil {
		h.logger.Error().Err(err).Str("router", router.Name).Msg("failed to list vouchers")
		c.String(http.StatusInternalServerError, "server error")
		return
	}

	profileIDs := make([]uuid.UUID, 0, len(vouchers))
	seen := make(map[uuid.UUID]struct{})
	for _, v := range vouchers {
		if _, ok := seen[v.ProfileID]; !ok {
			seen[v.ProfileID] = struct{}{}
			profileIDs = append(profileIDs, v.ProfileID)
		}
	}
	profiles, err := h.store.GetProfilesByIDs(c.Request.Context(), profileIDs)
	if err != nil {
		h.logger.Error().Err(err).Str("router", router.Name).Msg("failed to load profiles")
		c.String(http.StatusInternalServerError, "server error")
		return
	}

	lines := make([]mikrotik.UserLine, 0, len(vouchers))
	for _, v := range vouchers {
		profileName := ""
		macBinding := false
		if p, ok := profiles[v.ProfileID]; ok {
			profileName = p.Name
			macBinding = p.MACBinding
		}
		lines = append(lines, mikrotik.UserLine{
			Username: v.Username,
			Password: v.Password,
			Profile:  profileName,
			Comment:  v.Comment(macBinding),
		})
	}

	if c.Query("format") == "flat" {
		c.String(http.StatusOK, mikrotik.EncodeUserLines(lines))
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": lines, "count": len(lines)})
}

// PullProfiles serves the router's service profiles.
// GET /api/mikrotik/pull-profiles
func (h *MikrotikHandler) PullProfiles(c *gin.Context) {
	router := middleware.RequireRouter(c)
	if router == nil {
		return
	}

	profiles, err := h.store.ListProfilesForRouter(c.Request.Context(), router.ID)
	if err != nil {
		h.logger.Error().Err(err).Str("router", router.Name).Msg("failed to list profiles")
		c.String(http.StatusInternalServerError, "server error")
		return
	}

	if c.Query("format") == "flat" {
		lines := make([]mikrotik.ProfileLine, 0, len(profiles))
		for _, p := range profiles {
			lines = append(lines, mikrotik.ProfileLine{
				Name:        p.Name,
				SharedUsers: p.SharedUsers,
				RateLimit:   p.RateLimit,
			})
		}
		c.String(http.StatusOK, mikrotik.EncodeProfileLines(lines))
		return
	}
	c.JSON(http.StatusOK, gin.H{"profiles": profiles, "count": len(profiles)})
}

// PushUsage accepts a flat usage body and queues it for ingestion. The
// router does not parse the response, so success is a bare OK.
// POST /api/mikrotik/push-usage
func (h *MikrotikHandler) PushUsage(c *gin.Context) {
	router := middleware.RequireRouter(c)
	if router == nil {
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPushBody))
	if err != nil {
		c.String(http.StatusBadRequest, "unreadable body")
		return
	}

	if _, err := h.queue.EnqueueUsageIngest(c.Request.Context(), router.ID, string(body)); err != nil {
		h.logger.Error().Err(err).Str("router", router.Name).Msg("failed to enqueue usage push")
		c.String(http.StatusInternalServerError, "server error")
		return
	}
	c.String(http.StatusOK, "OK")
}

// OrphanUsers computes which locally present usernames no longer exist
// centrally. The router submits its full comma-separated list and deletes
// exactly the names returned.
// POST /api/mikrotik/orphan-users
func (h *MikrotikHandler) OrphanUsers(c *gin.Context) {
	router := middleware.RequireRouter(c)
	if router == nil {
		return
	}
	h.serveOrphans(c, router, h.store.ListUsernamesByRouter)
}

// OrphanProfiles computes which locally present profile names no longer
// exist centrally.
// POST /api/mikrotik/orphan-profiles
func (h *MikrotikHandler) OrphanProfiles(c *gin.Context) {
	router := middleware.RequireRouter(c)
	if router == nil {
		return
	}
	h.serveOrphans(c, router, h.store.ListProfileNamesByRouter)
}

func (h *MikrotikHandler) serveOrphans(c *gin.Context, router *models.Router, list func(context.Context, uuid.UUID) (map[string]struct{}, error)) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPushBody))
	if err != nil {
		c.String(http.StatusBadRequest, "unreadable body")
		return
	}
	local := mikrotik.ParseNameList(string(body))
	if len(local) == 0 {
		c.String(http.StatusOK, "")
		return
	}

	known, err := list(c.Request.Context(), router.ID)
	if err != nil {
		h.logger.Error().Err(err).Str("router", router.Name).Msg("failed to list central names")
		c.String(http.StatusInternalServerError, "server error")
		return
	}

	var orphans []string
	for _, name := range local {
		if _, ok := known[name]; !ok {
			orphans = append(orphans, name)
		}
	}

	if len(orphans) > 0 {
		h.logger.Info().
			Str("router", router.Name).
			Int("orphans", len(orphans)).
			Msg("orphan cleanup diff served")
	}
	c.String(http.StatusOK, mikrotik.EncodeNameList(orphans))
}

// Script serves a generated RouterOS script with this router's app key
// baked in. The special name "installer" returns a script that installs
// everything plus the schedulers.
// GET /api/mikrotik/scripts/:name
func (h *MikrotikHandler) Script(c *gin.Context) {
	router := middleware.RequireRouter(c)
	if router == nil {
		return
	}

	name := c.Param("name")
	channelURL := h.baseURL + "/api/mikrotik"

	if name == "installer" {
		c.String(http.StatusOK, mikrotik.InstallerScript(channelURL, router.AppKey, "00:05:00", "00:10:00"))
		return
	}

	script, ok := mikrotik.BuildScript(name, channelURL, router.AppKey)
	if !ok {
		c.String(http.StatusNotFound, "unknown script")
		return
	}
	c.String(http.StatusOK, script)
}

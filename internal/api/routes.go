// Package api provides the HTTP API for the RadMesh server.
package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/radmesh/radmesh/internal/api/handlers"
	"github.com/radmesh/radmesh/internal/api/middleware"
	"github.com/radmesh/radmesh/internal/db"
	"github.com/radmesh/radmesh/internal/jobs"
	"github.com/radmesh/radmesh/internal/provision"
	"github.com/radmesh/radmesh/internal/radius"
	"github.com/radmesh/radmesh/internal/vouchers"
)

// Config holds configuration for the API router.
type Config struct {
	// BaseURL is the public URL routers reach this server on; it is baked
	// into generated RouterOS scripts.
	BaseURL string
	// RateLimitRequests is the number of requests allowed per period.
	RateLimitRequests int64
	// RateLimitPeriod is the duration string for rate limiting (e.g. "1m", "1h").
	RateLimitPeriod string
	// RedisURL selects a shared rate limit store; empty uses memory.
	RedisURL string
	// AdminToken guards the operator API; empty disables the guard.
	AdminToken string
	// Version information for the version endpoint.
	Version string
}

// DefaultConfig returns a Config with sensible defaults for development.
func DefaultConfig() Config {
	return Config{
		BaseURL:           "http://localhost:8080",
		RateLimitRequests: 120,
		RateLimitPeriod:   "1m",
		Version:           "dev",
	}
}

// Router wraps a Gin engine with configured middleware and routes.
type Router struct {
	Engine *gin.Engine
	logger zerolog.Logger
	db     *db.DB
}

// NewRouter creates a new Router with the given dependencies.
func NewRouter(
	cfg Config,
	database *db.DB,
	queue *jobs.Queue,
	voucherService *vouchers.Service,
	radiusClient radius.Client,
	cloudClient provision.CloudClient,
	logger zerolog.Logger,
) (*Router, error) {
	r := &Router{
		Engine: gin.New(),
		logger: logger.With().Str("component", "router").Logger(),
		db:     database,
	}

	// Global middleware
	r.Engine.Use(gin.Recovery())
	r.Engine.Use(middleware.RequestLogger(logger))

	rateLimiter, err := middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitPeriod, cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	r.Engine.Use(rateLimiter)

	// Health, version, and metrics (no auth required)
	healthHandler := handlers.NewHealthHandler(database, cfg.Version, logger)
	healthHandler.RegisterPublicRoutes(r.Engine)
	r.Engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// MikroTik flat channel (app key query auth)
	mikrotikGroup := r.Engine.Group("/api/mikrotik")
	mikrotikGroup.Use(middleware.RouterAuth(database, logger))
	mikrotikHandler := handlers.NewMikrotikHandler(database, queue, cfg.BaseURL, logger)
	mikrotikHandler.RegisterRoutes(mikrotikGroup)

	// RADIUS accounting intake (node bearer auth)
	radiusGroup := r.Engine.Group("/api/radius")
	radiusGroup.Use(middleware.RadiusNodeAuth(database, logger))
	intakeHandler := handlers.NewRadiusIntakeHandler(queue, logger)
	intakeHandler.RegisterRoutes(radiusGroup)

	// Operator API (static admin token)
	apiV1 := r.Engine.Group("/api/v1")
	apiV1.Use(middleware.AdminAuth(cfg.AdminToken))

	voucherHandler := handlers.NewVoucherHandler(database, voucherService, logger)
	voucherHandler.RegisterRoutes(apiV1)

	routerHandler := handlers.NewRouterHandler(database, logger)
	routerHandler.RegisterRoutes(apiV1)

	profileHandler := handlers.NewProfileHandler(database, logger)
	profileHandler.RegisterRoutes(apiV1)

	serverHandler := handlers.NewRadiusServerHandler(database, queue, radiusClient, cloudClient, logger)
	serverHandler.RegisterRoutes(apiV1)

	jobHandler := handlers.NewJobHandler(database, logger)
	jobHandler.RegisterRoutes(apiV1)

	return r, nil
}

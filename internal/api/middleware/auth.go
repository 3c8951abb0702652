// Package middleware provides gin middleware for the RadMesh API: channel
// authentication, request logging, and rate limiting.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/radmesh/radmesh/internal/models"
)

const (
	routerContextKey = "radmesh_router"
	nodeContextKey   = "radmesh_radius_server"
)

// RouterStore resolves a router from its app key.
type RouterStore interface {
	GetRouterByAppKey(ctx context.Context, appKey string) (*models.Router, error)
}

// NodeStore resolves an active RADIUS node from its auth token.
type NodeStore interface {
	GetRadiusServerByToken(ctx context.Context, token string) (*models.RadiusServer, error)
}

// RouterAuth authenticates MikroTik channel requests by the token query
// parameter. RouterOS fetch cannot set headers, so the app key rides the
// URL; failures answer plain text because the script side never parses
// JSON.
func RouterAuth(store RouterStore, logger zerolog.Logger) gin.HandlerFunc {
	log := logger.With().Str("component", "router_auth").Logger()

	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			c.String(http.StatusUnauthorized, "Invalid Token")
			c.Abort()
			return
		}

		router, err := store.GetRouterByAppKey(c.Request.Context(), token)
		if err != nil {
			log.Warn().
				Str("client_ip", c.ClientIP()).
				Str("path", c.Request.URL.Path).
				Msg("rejected router token")
			c.String(http.StatusUnauthorized, "Invalid Token")
			c.Abort()
			return
		}

		c.Set(routerContextKey, router)
		c.Next()
	}
}

// RequireRouter returns the authenticated router, aborting with 401 if the
// auth middleware did not run.
func RequireRouter(c *gin.Context) *models.Router {
	v, ok := c.Get(routerContextKey)
	if !ok {
		c.String(http.StatusUnauthorized, "Invalid Token")
		c.Abort()
		return nil
	}
	router, ok := v.(*models.Router)
	if !ok {
		c.String(http.StatusUnauthorized, "Invalid Token")
		c.Abort()
		return nil
	}
	return router
}

// AdminAuth guards the operator API with a static bearer token. An empty
// token disables the guard for local development.
func AdminAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		header := c.GetHeader("Authorization")
		provided, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || provided != token {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// RadiusNodeAuth authenticates accounting intake requests by bearer token
// against active RADIUS nodes.
func RadiusNodeAuth(store NodeStore, logger zerolog.Logger) gin.HandlerFunc {
	log := logger.With().Str("component", "radius_auth").Logger()

	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			c.Abort()
			return
		}

		node, err := store.GetRadiusServerByToken(c.Request.Context(), token)
		if err != nil {
			log.Warn().
				Str("client_ip", c.ClientIP()).
				Msg("rejected radius node token")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}

		c.Set(nodeContextKey, node)
		c.Next()
	}
}

// RequireRadiusServer returns the authenticated RADIUS node, aborting with
// 401 if the auth middleware did not run.
func RequireRadiusServer(c *gin.Context) *models.RadiusServer {
	v, ok := c.Get(nodeContextKey)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		c.Abort()
		return nil
	}
	node, ok := v.(*models.RadiusServer)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		c.Abort()
		return nil
	}
	return node
}

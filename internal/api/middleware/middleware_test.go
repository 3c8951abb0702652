package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radmesh/radmesh/internal/db"
	"github.com/radmesh/radmesh/internal/models"
)

type stubRouterStore struct {
	router *models.Router
}

func (s *stubRouterStore) GetRouterByAppKey(_ context.Context, appKey string) (*models.Router, error) {
	if s.router != nil && s.router.AppKey == appKey {
		return s.router, nil
	}
	return nil, db.ErrRouterNotFound
}

func TestRedactQueryString(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"no sensitive params", "format=flat&limit=10", "format=flat&limit=10"},
		{"token redacted", "token=secret123&format=flat", "format=flat&token=%5BREDACTED%5D"},
		{"case insensitive", "Token=abc", "Token=%5BREDACTED%5D"},
		{"password redacted", "password=hunter2", "password=%5BREDACTED%5D"},
		{"malformed left alone", "a=%zz&token=x;y", "a=%zz&token=x;y"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, redactQueryString(tt.in))
		})
	}
}

func TestRouterAuthSetsRouter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := &stubRouterStore{router: &models.Router{Name: "gw-1", AppKey: "key-1"}}

	engine := gin.New()
	engine.Use(RouterAuth(store, zerolog.Nop()))
	engine.GET("/ping", func(c *gin.Context) {
		router := RequireRouter(c)
		require.NotNil(t, router)
		c.String(http.StatusOK, router.Name)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping?token=key-1", nil)
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "gw-1", w.Body.String())
}

func TestRouterAuthRejectsPlainText(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := &stubRouterStore{router: &models.Router{Name: "gw-1", AppKey: "key-1"}}

	engine := gin.New()
	engine.Use(RouterAuth(store, zerolog.Nop()))
	engine.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	for _, url := range []string{"/ping", "/ping?token=", "/ping?token=bad"} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, url, nil)
		engine.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code, url)
		assert.Equal(t, "Invalid Token", w.Body.String(), url)
	}
}

func TestAdminAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)

	engine := gin.New()
	engine.Use(AdminAuth("admin-secret"))
	engine.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid", "Bearer admin-secret", http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"wrong token", "Bearer nope", http.StatusUnauthorized},
		{"no bearer prefix", "admin-secret", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/ping", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			engine.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestAdminAuthDisabledWhenEmpty(t *testing.T) {
	gin.SetMode(gin.TestMode)

	engine := gin.New()
	engine.Use(AdminAuth(""))
	engine.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

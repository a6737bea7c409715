package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codetribe/bootcamp-api/internal/middleware"
	"github.com/codetribe/bootcamp-api/internal/models"
	"github.com/codetribe/bootcamp-api/internal/service"
)

type resolveEnvelope struct {
	Data models.RouteDecision `json:"data"`
}

func resolveRequest(t *testing.T, claims *models.JWTClaims, path string) (*httptest.ResponseRecorder, resolveEnvelope) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	handler := NewRouteHandler(service.NewRouteGuard(nil))
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/routes/resolve?path="+path, nil)
	c.Request = req
	if claims != nil {
		c.Set(middleware.ContextUserKey, claims)
	}

	handler.Resolve(c)

	var envelope resolveEnvelope
	if w.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	}
	return w, envelope
}

func TestRouteResolveAnonymousOnPublicPath(t *testing.T) {
	w, envelope := resolveRequest(t, nil, "/courses")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.RouteActionAllow, envelope.Data.Action)
}

func TestRouteResolveAnonymousOnProtectedPath(t *testing.T) {
	w, envelope := resolveRequest(t, nil, "/dashboard")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.RouteActionRedirectLogin, envelope.Data.Action)
	assert.Equal(t, service.LoginPath, envelope.Data.RedirectTo)
	assert.Equal(t, "/dashboard", envelope.Data.ReturnTo)
}

func TestRouteResolveMisroutedStudent(t *testing.T) {
	claims := &models.JWTClaims{UserID: "user-1", Role: models.RoleUser}
	w, envelope := resolveRequest(t, claims, "/admin/certificates")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.RouteActionRedirectRoleHome, envelope.Data.Action)
	assert.Equal(t, service.StudentHome, envelope.Data.RedirectTo)
}

func TestRouteResolveAdminAllowed(t *testing.T) {
	claims := &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}
	w, envelope := resolveRequest(t, claims, "/admin/certificates")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.RouteActionAllow, envelope.Data.Action)
}

func TestRouteResolveRequiresPath(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewRouteHandler(service.NewRouteGuard(nil))
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/routes/resolve", nil)
	c.Request = req

	handler.Resolve(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

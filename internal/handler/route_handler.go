package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codetribe/bootcamp-api/internal/service"
	appErrors "github.com/codetribe/bootcamp-api/pkg/errors"
	"github.com/codetribe/bootcamp-api/pkg/response"
)

// RouteHandler exposes the navigation guard to the client.
type RouteHandler struct {
	guard *service.RouteGuard
}

// NewRouteHandler constructs RouteHandler.
func NewRouteHandler(guard *service.RouteGuard) *RouteHandler {
	return &RouteHandler{guard: guard}
}

// Resolve godoc
// @Summary Resolve whether the caller may navigate to a path
// @Tags Routes
// @Produce json
// @Param path query string true "Requested client path"
// @Success 200 {object} response.Envelope
// @Router /routes/resolve [get]
func (h *RouteHandler) Resolve(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "path is required"))
		return
	}
	decision := h.guard.Resolve(actorFromContext(c), path)
	response.JSON(c, http.StatusOK, decision, nil)
}

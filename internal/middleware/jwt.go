package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/codetribe/bootcamp-api/internal/models"
	"github.com/codetribe/bootcamp-api/internal/service"
	appErrors "github.com/codetribe/bootcamp-api/pkg/errors"
	"github.com/codetribe/bootcamp-api/pkg/response"
)

// ContextUserKey is the gin context key storing JWT claims.
const ContextUserKey = "currentUser"

// JWT protects routes by requiring a valid access token.
func JWT(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "missing or malformed authorization header"))
			c.Abort()
			return
		}

		claims, err := authService.ValidateToken(token)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(ContextUserKey, claims)
		c.Next()
	}
}

// OptionalJWT attaches claims when a valid token is present but never blocks.
// Route resolution uses it so anonymous visitors still get a guard verdict.
func OptionalJWT(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			c.Next()
			return
		}
		claims, err := authService.ValidateToken(token)
		if err != nil {
			c.Next()
			return
		}
		c.Set(ContextUserKey, claims)
		c.Next()
	}
}

// ActorFromContext builds the guard principal from whatever claims the
// request carries. Absent or invalid claims yield an anonymous actor.
func ActorFromContext(c *gin.Context) models.Actor {
	value, exists := c.Get(ContextUserKey)
	if !exists {
		return models.Actor{}
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return models.Actor{}
	}
	return models.Actor{
		UserID:          claims.UserID,
		Role:            claims.Role,
		IsAuthenticated: true,
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}

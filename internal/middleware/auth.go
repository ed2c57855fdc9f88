package middleware

import (
	"net/http"

	"instanext/internal/service"
	apperrors "instanext/pkg/errors"
	"instanext/pkg/logger"

	"github.com/gin-gonic/gin"
)

const UserIDKey = "user_id"

type AuthMiddleware struct {
	identity service.IdentityResolver
	log      logger.Logger
}

func NewAuthMiddleware(identity service.IdentityResolver, log logger.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		identity: identity,
		log:      log,
	}
}

// RequireAuth принимает токен только из заголовка Authorization.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return m.require(false)
}

// RequireSocketAuth дополнительно принимает ?token=, браузерный WebSocket не умеет слать заголовки.
func (m *AuthMiddleware) RequireSocketAuth() gin.HandlerFunc {
	return m.require(true)
}

func (m *AuthMiddleware) require(allowQuery bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		credential := c.GetHeader("Authorization")
		if credential == "" && allowQuery {
			credential = c.Query("token")
		}

		userID, err := m.identity.ResolveUserID(credential)
		if err != nil {
			m.log.Debug("Unauthenticated request", "path", c.FullPath(), "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, apperrors.NewAPIError(apperrors.PublicMessage(err), http.StatusUnauthorized))
			return
		}

		c.Set(UserIDKey, userID)
		c.Next()
	}
}

// UserID возвращает пользователя, установленного RequireAuth.
func UserID(c *gin.Context) (string, bool) {
	userID := c.GetString(UserIDKey)
	return userID, userID != ""
}

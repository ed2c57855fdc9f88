package middleware

import (
	"net/http"
	"strconv"
	"time"

	"instanext/internal/service"
	apperrors "instanext/pkg/errors"
	"instanext/pkg/logger"

	"github.com/gin-gonic/gin"
)

type RateLimitMiddleware struct {
	rateLimitService service.RateLimitService
	log              logger.Logger
}

func NewRateLimitMiddleware(rateLimitService service.RateLimitService, log logger.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		rateLimitService: rateLimitService,
		log:              log,
	}
}

// Limit ограничивает число запросов с одного IP в окне. scope разделяет счетчики разных маршрутов.
// Без Redis пропускает все запросы.
func (m *RateLimitMiddleware) Limit(scope string, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.rateLimitService == nil || limit <= 0 {
			c.Next()
			return
		}

		key := scope + ":" + c.ClientIP()
		count, err := m.rateLimitService.Increment(c.Request.Context(), key, window)
		if err != nil {
			m.log.Warn("Rate limit increment failed", "error", err, "scope", scope)
			c.Next()
			return
		}

		remaining := limit - int(count)
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if count > int64(limit) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, apperrors.NewAPIError(apperrors.ErrRateLimited.Error(), http.StatusTooManyRequests))
			return
		}

		c.Next()
	}
}

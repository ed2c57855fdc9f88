package middleware

import (
	"instanext/pkg/errors"

	"github.com/gin-gonic/gin"
)

// ErrorHandler отдает последнюю ошибку из c.Errors, если обработчик сам не записал ответ.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last()
		statusCode := errors.HTTPStatusFromError(err.Err)
		c.JSON(statusCode, errors.NewAPIError(errors.PublicMessage(err.Err), statusCode))
	}
}

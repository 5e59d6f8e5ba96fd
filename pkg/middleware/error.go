package middleware

import (
	"errors"

	"fulfillment-controlplane/pkg/errutil"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Error renders the last handler error as the errutil JSON envelope.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil || c.Writer.Written() {
			return
		}

		var be errutil.BaseError
		if errors.As(last.Err, &be) {
			c.JSON(be.Code.HTTPStatus(), be.JSON())
			return
		}

		code := errutil.StatusOf(last.Err)
		message := errutil.ReasonOf(last.Err)
		if code == errutil.StatusInternal {
			zap.L().Error("unhandled request error",
				zap.String("method", c.Request.Method),
				zap.String("path", c.FullPath()),
				zap.Error(last.Err),
			)
			message = "internal server error"
		}
		c.JSON(code.HTTPStatus(), errutil.BaseError{
			Code:    code,
			Message: message,
		}.JSON())
	}
}

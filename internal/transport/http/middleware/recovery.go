package middleware

import (
	"github.com/gin-gonic/gin"

	resp "studyhub-server/internal/transport/http/response"
)

func SimpleRecovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				resp.Fail(c, resp.CodeServerError, "internal error")
			}
		}()
		c.Next()
	}
}

package middleware

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/myshop-backend/internal/http/response"
)

const HeaderAdminToken = "X-Admin-Token"

// RequireAdminToken guards staff endpoints with a shared token. An empty token
// disables the check.
func RequireAdminToken(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		got := c.GetHeader(HeaderAdminToken)
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			response.RespondError(c, http.StatusUnauthorized, "unauthorized", errors.New("invalid admin token"))
			c.Abort()
			return
		}
		c.Next()
	}
}

package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/mrag/internal/pkg/errcode"
	"github.com/xxxsen/mrag/internal/pkg/jwt"
	"github.com/xxxsen/mrag/internal/pkg/response"
)

const ContextUserKey = "user"

// JWTAuth accepts the token from the Authorization header, or from the
// access_token query parameter for EventSource clients that cannot set headers.
func JWTAuth(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ""
		if header := c.GetHeader("Authorization"); header != "" {
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				response.Error(c, errcode.ErrUnauthorized, "invalid authorization")
				c.Abort()
				return
			}
			token = parts[1]
		} else {
			token = c.Query("access_token")
		}
		if token == "" {
			response.Error(c, errcode.ErrUnauthorized, "missing authorization")
			c.Abort()
			return
		}
		claims, err := jwt.ParseToken(token, secret)
		if err != nil {
			response.Error(c, errcode.ErrUnauthorized, "invalid token")
			c.Abort()
			return
		}
		c.Set(ContextUserKey, claims.Subject)
		c.Next()
	}
}

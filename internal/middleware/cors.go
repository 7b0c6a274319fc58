package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

var corsStatic = map[string]string{
	"Access-Control-Allow-Methods":  "GET, POST, DELETE, OPTIONS",
	"Access-Control-Allow-Headers":  "Authorization, Content-Type, X-Request-Id, Last-Event-ID",
	"Access-Control-Expose-Headers": "X-Request-Id",
	"Access-Control-Max-Age":        "600",
}

// CORS allows every origin when allowlist is empty, otherwise only the listed
// origins. Preflight requests end here with 204.
func CORS(allowlist []string) gin.HandlerFunc {
	origins := map[string]bool{}
	for _, o := range allowlist {
		if o = strings.TrimSpace(o); o != "" {
			origins[o] = true
		}
	}
	return func(c *gin.Context) {
		h := c.Writer.Header()
		switch origin := c.GetHeader("Origin"); {
		case len(origins) == 0:
			h.Set("Access-Control-Allow-Origin", "*")
			setCORSStatic(h)
		case origin != "" && origins[origin]:
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			setCORSStatic(h)
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func setCORSStatic(h http.Header) {
	for k, v := range corsStatic {
		h.Set(k, v)
	}
}

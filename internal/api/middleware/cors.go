package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"trustedshare/core/internal/config"
)

// CORSMiddleware sets the CORS headers. The allowed origin comes from
// cfg.AllowedOrigin (ALLOWED_ORIGIN env var, "*" by default).
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	origin := cfg.AllowedOrigin
	if origin == "" {
		origin = "*"
	}
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", origin)
		if origin != "*" {
			// Credentials are only meaningful for a concrete origin, and
			// caches must not reuse the response across origins.
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Vary", "Origin")
		}
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With, X-BFP, X-SPA, X-C-V, X-C-T")
		c.Header("Access-Control-Expose-Headers", "X-C-T")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

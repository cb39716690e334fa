package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/kiliankoe/dropone/internal/identity"
)

const (
	ctxIdentity = "identity"
	ctxName     = "identity_name"
)

// RequestLogger logs every request except the socket.io polling noise.
func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.Request.URL.Path
		if strings.HasPrefix(path, "/socket.io") {
			return
		}
		logger.Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", c.Writer.Status()).
			Dur("dur", time.Since(start)).
			Msg("http")
	}
}

// CORS allows the configured origins, or any origin when none are set.
func CORS(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cors.New(cfg)
}

// PlayerAuth resolves the bearer token into the caller's identity.
func PlayerAuth(v *identity.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := identity.BearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized", "message": "bearer token required"})
			return
		}
		claims, err := v.Verify(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized", "message": "invalid or expired token"})
			return
		}
		c.Set(ctxIdentity, claims.Subject)
		c.Set(ctxName, claims.Name)
		c.Next()
	}
}

func identityOf(c *gin.Context) string {
	return c.GetString(ctxIdentity)
}

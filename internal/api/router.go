package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/kiliankoe/dropone/internal/game"
	"github.com/kiliankoe/dropone/internal/identity"
)

type RouterConfig struct {
	Engine      *game.Engine
	Verifier    *identity.Verifier
	AdminUser   string
	AdminPass   string
	CORSOrigins []string
	Version     string
	Logger      zerolog.Logger
	// Ping reports store health on /health when set.
	Ping func(ctx context.Context) error
}

// NewRouter builds the gin engine with health, player, and admin routes.
// Player routes need a verifier; admin routes need basic auth credentials.
// Either group is left out when its credentials are missing.
func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(cfg.Logger))
	r.Use(CORS(cfg.CORSOrigins))

	r.GET("/health", func(c *gin.Context) {
		if cfg.Ping != nil {
			if err := cfg.Ping(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "version": cfg.Version, "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"ok": true, "version": cfg.Version, "time": time.Now().UTC()})
	})

	h := NewHandlers(cfg.Engine)
	api := r.Group("/api")
	{
		api.GET("/sessions", h.ListSessions)
		api.GET("/sessions/:id", h.GetSession)
	}

	if cfg.Verifier != nil {
		play := api.Group("/sessions/:id")
		play.Use(PlayerAuth(cfg.Verifier))
		{
			play.POST("/enroll", h.Enroll)
			play.GET("/me", h.Me)
			play.POST("/activate", h.Activate)
			play.POST("/deactivate", h.Deactivate)
			play.POST("/heartbeat", h.Heartbeat)
			play.POST("/selection", h.SubmitSelection)
			play.POST("/drop", h.SubmitDrop)
			play.POST("/final", h.SubmitFinal)
		}
	} else {
		cfg.Logger.Warn().Msg("no JWT secret configured, player routes disabled")
	}

	if cfg.AdminUser != "" && cfg.AdminPass != "" {
		admin := api.Group("/admin")
		admin.Use(gin.BasicAuth(gin.Accounts{cfg.AdminUser: cfg.AdminPass}))
		{
			admin.POST("/sessions", h.CreateSession)
			admin.POST("/sessions/:id/start", h.StartSession)
			admin.POST("/sessions/:id/close", h.CloseSession)
			admin.POST("/sessions/:id/tick", h.Tick)
			admin.POST("/sessions/:id/rounds/:round/resolve", h.ResolveRound)
			admin.POST("/sessions/:id/participants/:pid/lives", h.AdjustLives)
			admin.POST("/reap", h.Reap)
		}
	}

	return r
}

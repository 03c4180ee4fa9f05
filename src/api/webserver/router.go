package webserver

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/stake-plus/reactionroles/src/config"
)

func attachRoutes(r *gin.Engine, cfg config.StatusConfig, store Store, sweeper Sweeper) {
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:  cfg.AllowedOrigins,
			AllowMethods:  []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
			ExposeHeaders: []string{"Content-Length"},
		}))
	}

	h := &handlers{store: store, sweeper: sweeper}
	r.GET("/healthz", h.Health)

	v1 := r.Group("/v1")
	v1.Use(JWTMiddleware([]byte(cfg.JWTSecret)))
	{
		v1.GET("/bindings", h.ListBindings)
		v1.GET("/bindings/:messageID", h.GetBinding)
		v1.GET("/cleanup", h.CleanupQueue)
		v1.POST("/sweep", h.Sweep)
	}
}

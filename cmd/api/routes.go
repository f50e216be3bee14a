package main

import (
	"database/sql"
	"time"

	"cart-recovery/internal/recovery"
	"cart-recovery/pkg/utils"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h recovery.Handlers, db *sql.DB, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), db, 2*time.Second); err != nil {
			c.JSON(503, gin.H{"status": "degraded"})
			return
		}
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Provider webhooks (public). Authenticated by HMAC signature inside the
	// handler, before any state is read.
	r.POST("/webhooks/superu/voice", h.HandleProviderWebhook)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		voice := v1.Group("/voice")
		{
			voice.GET("/jobs", h.ListJobs)
			voice.GET("/calls", h.ListCalls)
			voice.GET("/alerts", h.ListAlerts)
			voice.GET("/stats", h.GetStats)

			voice.GET("/settings", h.GetSettings)
			voice.PUT("/settings", h.UpdateSettings)

			voice.GET("/suppressions", h.ListSuppressions)
			voice.POST("/suppressions", h.Suppress)
			voice.DELETE("/suppressions/:user_id", h.Unsuppress)

			voice.POST("/cycle", h.RunCycle)
		}
	}
}

package main

import (
	"database/sql"
	"time"

	"callmap-service/internal/callmap"
	"callmap-service/internal/httpapi"
	"callmap-service/pkg/utils"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers delegate to internal/callmap.
func registerRoutes(r *gin.Engine, mappings *callmap.Service, db *sql.DB) {
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), db, 2*time.Second); err != nil {
			c.JSON(503, gin.H{"status": "degraded"})
			return
		}
		c.JSON(200, gin.H{"status": "ok"})
	})

	h := httpapi.Handlers{Mappings: mappings}

	v1 := r.Group("/v1")
	{
		mappingsGroup := v1.Group("/mappings")
		{
			mappingsGroup.POST("", h.CreateMapping)
			mappingsGroup.GET("", h.ListMappings)
			mappingsGroup.GET("/range", h.RangeMappings)
			mappingsGroup.GET("/:id", h.GetMapping)
			mappingsGroup.PATCH("/:id", h.PatchMapping)
			mappingsGroup.DELETE("/:id", h.DeleteMapping)
		}

		v1.PUT("/agents/:agent_id/endpoint", h.RegisterEndpoint)
		v1.DELETE("/endpoints/:key", h.CloseEndpoint)

		calls := v1.Group("/calls")
		{
			calls.POST("/:call_id/assign", h.AssignCall)
			calls.POST("/:call_id/complete", h.CompleteCall)
			calls.PUT("/:call_id/transcript", h.AttachTranscript)
			calls.GET("/:call_id/sock-url", h.SockURL)
		}
	}
}

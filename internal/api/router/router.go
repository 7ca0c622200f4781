package router

import (
	"context"
	"net/http"
	"time"

	"github.com/cuongbtq/calc-jobs/internal/api/handler"
	"github.com/cuongbtq/calc-jobs/internal/auth"
	"github.com/cuongbtq/calc-jobs/shared/middleware"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(deps.Logger))
	r.Use(middleware.CORS(deps.AllowedOrigins))

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		if deps.Health != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := deps.Health(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":  "unhealthy",
					"service": "calc-api-service",
				})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "calc-api-service",
		})
	})

	jobGroupHandler := handler.NewJobGroupHandler(deps)

	// API v1 routes, all behind a session
	v1 := r.Group("/api/v1")
	v1.Use(auth.RequireSession(deps.Sessions, deps.Logger))
	{
		// POST /api/v1/compute - Dispatch a job group
		v1.POST("/compute", jobGroupHandler.Compute)

		groups := v1.Group("/job-groups")
		{
			// GET /api/v1/job-groups - Caller's history, newest first
			groups.GET("", jobGroupHandler.ListJobGroups)

			// GET /api/v1/job-groups/:id - One group with its jobs
			groups.GET("/:id", jobGroupHandler.GetJobGroup)

			// POST /api/v1/job-groups/:id/token - Realtime capability token
			groups.POST("/:id/token", jobGroupHandler.IssueToken)
		}
	}

	return r
}

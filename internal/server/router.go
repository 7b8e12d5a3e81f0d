package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/StudentTechUsher/plangen-backend/internal/handlers"
	"github.com/StudentTechUsher/plangen-backend/internal/middleware"
)

type RouterConfig struct {
	AuthMiddleware *middleware.AuthMiddleware
	JobsHandler    *handlers.JobsHandler
	PlansHandler   *handlers.PlansHandler
	SSEHandler     *handlers.SSEHandler
	AllowOrigins   []string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	origins := cfg.AllowOrigins
	if len(origins) == 0 {
		origins = []string{
			"http://localhost:80",
			"http://localhost:3000",
			"http://localhost:5174",
		}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	// ===============
	// || Public    ||
	// ===============
	router.GET("/healthcheck", handlers.HealthCheck)

	// ===============
	// || Protected ||
	// ===============
	protected := router.Group("/")
	protected.Use(cfg.AuthMiddleware.RequireAuth())
	// SSE
	protected.GET("/sse/stream", cfg.SSEHandler.Stream)
	// Jobs
	api := protected.Group("/api")
	api.POST("/conversations/:conversationId/plan-jobs", cfg.JobsHandler.Create)
	api.GET("/plan-jobs/:id", cfg.JobsHandler.GetByID)
	api.GET("/plan-jobs/:id/events", cfg.JobsHandler.ListEvents)
	api.POST("/plan-jobs/:id/cancel", cfg.JobsHandler.Cancel)
	api.POST("/plan-jobs/:id/trigger", cfg.JobsHandler.Trigger)
	// Plans
	api.GET("/plans/:accessId", cfg.PlansHandler.GetByAccessID)

	return router
}

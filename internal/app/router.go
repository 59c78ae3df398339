package app

import (
	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"

	"tripshare/internal/handler"
	"tripshare/internal/metrics"
	"tripshare/internal/middleware"
)

// RouterDeps contains all dependencies needed for the router.
type RouterDeps struct {
	SessionHandler *handler.SessionHandler
	TripHandler    *handler.TripHandler
	RedisClient    *redis.Client
	NewRelicApp    *newrelic.Application
	Metrics        *metrics.Collector
}

// maxRequestBody caps device payloads; every request body is a small JSON object.
const maxRequestBody = 64 << 10

// NewRouter creates a new Gin router with all routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()

	// Global middleware.
	router.Use(gin.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.CORSMiddleware())

	// Add New Relic middleware if enabled.
	if deps.NewRelicApp != nil {
		router.Use(nrgin.Middleware(deps.NewRelicApp))
		router.Use(middleware.TransactionAttributes())
	}

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	// Share links land here.
	router.GET("/track/:id", deps.TripHandler.Track)

	// API v1 routes.
	v1 := router.Group("/v1")
	{
		// Device session routes.
		sessions := v1.Group("/sessions", middleware.MaxBodySize(maxRequestBody))
		{
			sessions.POST("", deps.SessionHandler.Create)
			sessions.GET("/:sid", deps.SessionHandler.Get)
			sessions.DELETE("/:sid", deps.SessionHandler.Close)
			sessions.POST("/:sid/location", deps.SessionHandler.ReportLocation)
			sessions.PUT("/:sid/permission", deps.SessionHandler.SetPermission)
			sessions.POST("/:sid/trip", middleware.IdempotencyMiddleware(deps.RedisClient), deps.SessionHandler.StartTrip)
			sessions.DELETE("/:sid/trip", deps.SessionHandler.StopTrip)
		}

		// Observer routes.
		trips := v1.Group("/trips")
		{
			trips.GET("/:id", deps.TripHandler.GetTrip)
			trips.GET("/:id/view", deps.TripHandler.GetView)
			trips.GET("/:id/stream", deps.TripHandler.Stream)
		}

		v1.GET("/links/resolve", deps.TripHandler.ResolveLink)

		// Archive routes.
		archive := v1.Group("/archive/trips")
		{
			archive.GET("", deps.TripHandler.ListArchived)
			archive.GET("/:id", deps.TripHandler.GetArchived)
		}
	}

	return router
}

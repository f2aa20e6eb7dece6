package app

import (
	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"

	"subscription/internal/handler"
	"subscription/internal/middleware"
)

// RouterDeps contains all dependencies needed for the router.
type RouterDeps struct {
	PaymentHandler      *handler.PaymentHandler
	SubscriptionHandler *handler.SubscriptionHandler
	RedisClient         *redis.Client
	NewRelicApp         *newrelic.Application
	JWTSecret           string
	FrontendURL         string
}

// NewRouter creates a new Gin router with all routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()

	// Global middleware.
	router.Use(gin.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.CORSMiddleware(deps.FrontendURL))

	// Add New Relic middleware if enabled.
	if deps.NewRelicApp != nil {
		router.Use(nrgin.Middleware(deps.NewRelicApp))
	}

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// API v1 routes.
	v1 := router.Group("/v1")
	{
		// Plan catalogue is public.
		v1.GET("/plans", deps.SubscriptionHandler.ListPlans)

		authed := v1.Group("")
		authed.Use(middleware.AuthMiddleware(deps.JWTSecret))

		// Payment routes.
		payments := authed.Group("/payments")
		{
			payments.GET("", deps.PaymentHandler.ListPayments)
			payments.POST("/initiate", middleware.IdempotencyMiddleware(deps.RedisClient), deps.PaymentHandler.Initiate)
			payments.POST("/verify", deps.PaymentHandler.Verify)
			payments.GET("/callback", deps.PaymentHandler.Callback)
			payments.GET("/:id", deps.PaymentHandler.GetPayment)
			payments.POST("/:id/refund",
				middleware.RequireRole(middleware.RoleAdmin),
				middleware.IdempotencyMiddleware(deps.RedisClient),
				deps.PaymentHandler.Refund,
			)
		}

		// Subscription routes.
		subscriptions := authed.Group("/subscriptions")
		{
			subscriptions.GET("/current", deps.SubscriptionHandler.Current)
		}
	}

	return router
}

package http

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/visionlane/backend/config"
)

// SetupRouter creates and configures the Gin router
func SetupRouter(cfg *config.Config, handler *Handler, logger *zap.Logger) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(RecoveryMiddleware())
	router.Use(LoggerMiddleware(logger))
	router.Use(CORSMiddleware(cfg.Server.AllowedOrigins))
	router.Use(RateLimitMiddleware(cfg.RateLimit.PerIP))

	// Health check endpoint
	router.GET("/health", handler.HealthCheck)

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		catalog := v1.Group("/catalog")
		{
			catalog.GET("", handler.ListCatalog)
			catalog.GET("/:id", handler.GetProduct)
		}

		session := v1.Group("/session")
		{
			session.GET("", handler.GetSession)
			session.POST("/scan/start", handler.StartScan)
			session.POST("/scan/stop", handler.StopScan)

			gates := session.Group("/gates")
			{
				gates.POST("/age/verify", handler.VerifyAge)
				gates.POST("/weight/confirm", handler.ConfirmWeight)
				gates.POST("/ambiguity/confirm", handler.ConfirmAmbiguity)
				gates.POST("/:kind/cancel", handler.CancelGate)
			}

			session.PATCH("/lines/:id", handler.UpdateLine)
			session.DELETE("/lines/:id", handler.RemoveLine)
			session.POST("/bagging/confirm", handler.ConfirmBagging)
			session.POST("/clear", handler.ClearTray)
			session.POST("/assistance", handler.RequestAssistance)
			session.POST("/checkout", handler.Checkout)
		}

		payments := v1.Group("/payments")
		{
			payments.GET("", handler.ListPayments)
			payments.POST("/:id/complete", handler.CompletePayment)
			payments.POST("/:id/cancel", handler.CancelPayment)
		}
	}

	return router
}

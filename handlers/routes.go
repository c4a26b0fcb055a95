package handlers

import (
	"time"

	"storefront-svc/config"
	"storefront-svc/middleware"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

type RouterDeps struct {
	Catalog            CatalogReader
	Checkout           *CheckoutHandler
	Webhook            *WebhookHandler
	Redis              *redis.Client
	RateLimit          config.RateLimitConfig
	CORSAllowedOrigins []string
	Logger             *zap.Logger
}

func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	// Tracing first so the logger sees the trace id.
	router.Use(otelgin.Middleware(config.ServiceName))
	router.Use(middleware.RequestID())
	router.Use(middleware.LoggerMiddleware(deps.Logger))
	router.Use(middleware.MetricsMiddleware())

	if len(deps.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     deps.CORSAllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", middleware.RequestIDHeader},
			ExposeHeaders:    []string{middleware.RequestIDHeader},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	router.GET("/health", HealthCheck(deps.Catalog))
	router.GET("/metrics", middleware.PrometheusHandler())

	router.GET("/api/catalog", NewCatalogHandler(deps.Catalog).GetCatalog)
	router.POST("/get-cart", deps.Checkout.GetCart)

	limited := router.Group("/")
	limited.Use(middleware.RateLimiter(deps.Redis, deps.RateLimit.Max, deps.RateLimit.Window, deps.Logger))
	limited.POST("/create-checkout-session", deps.Checkout.CreateCheckoutSession)
	limited.POST("/create-checkout-session-cart", deps.Checkout.CreateCartCheckoutSession)
	limited.POST("/create-checkout-session-full-pack", deps.Checkout.CreateFullPackCheckoutSession)

	router.POST("/stripe/webhook", deps.Webhook.StripeWebhook)

	return router
}

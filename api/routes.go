package api

import (
	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	"github.com/customeros/mailsync/api/handlers"
	"github.com/customeros/mailsync/api/middleware"
	"github.com/customeros/mailsync/internal/tracing"
)

const appSource = "mailsync"

type RouteConfig struct {
	APIKey    string
	PushToken string
}

// RegisterRoutes sets up all API endpoints
func RegisterRoutes(r *gin.Engine, h *handlers.APIHandlers, cfg RouteConfig) {
	if h == nil {
		panic("Handlers cannot be nil")
	}

	r.Use(gin.Recovery())
	r.Use(tracing.RecoveryWithJaeger(opentracing.GlobalTracer()))

	r.GET("/health", handlers.HealthCheck)

	// gmail push endpoint, authenticated by the token in the subscription url
	r.POST("/gmail/pubsub", middleware.PushTokenMiddleware(cfg.PushToken), h.PubSub.Push())

	api := r.Group("/v1")
	api.Use(middleware.APIKeyMiddleware(middleware.APIKeyConfig{
		HeaderName:  middleware.APIKeyHeader,
		ValidAPIKey: cfg.APIKey,
	}))
	api.Use(middleware.CustomContextMiddleware(appSource))
	api.Use(middleware.TracingMiddleware())
	{
		accounts := api.Group("/accounts/:accountId")
		{
			accounts.POST("/sync", h.Accounts.Sync())
			accounts.POST("/resync", h.Accounts.Resync())
			accounts.POST("/labels/sync", h.Accounts.SyncLabels())
			accounts.POST("/watch", h.Accounts.Watch())
		}

		threads := api.Group("/threads")
		{
			threads.GET("", h.Threads.ListByReference())
			threads.PUT("/:id/reference", h.Threads.Link())
			threads.DELETE("/:id/reference", h.Threads.Unlink())
		}

		api.GET("/attachments/:id", h.Attachments.Download())
	}
}

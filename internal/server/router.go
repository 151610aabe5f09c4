package server

import (
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/openadmit/counselor-backend/internal/http/handlers"
	"github.com/openadmit/counselor-backend/internal/http/middleware"
	"github.com/openadmit/counselor-backend/internal/platform/envutil"
)

type RouterConfig struct {
	AuthMiddleware      *middleware.AuthMiddleware
	HealthHandler       *handlers.HealthHandler
	ConversationHandler *handlers.ConversationHandler
	TurnHandler         *handlers.TurnHandler
	RealtimeHandler     *handlers.RealtimeHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	if strings.EqualFold(envutil.Str("APP_MODE", "dev"), "prod") {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	router.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Split(envutil.Str("CORS_ORIGINS", "http://localhost:3000"), ","),
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))
	router.Use(otelgin.Middleware("counselor-backend"))

	router.GET("/healthcheck", cfg.HealthHandler.HealthCheck)

	api := router.Group("/api")
	api.Use(cfg.AuthMiddleware.RequireAuth())
	{
		api.POST("/conversations", cfg.ConversationHandler.Create)
		api.GET("/conversations", cfg.ConversationHandler.List)
		api.GET("/conversations/:id", cfg.ConversationHandler.Get)
		api.PATCH("/conversations/:id", cfg.ConversationHandler.Update)
		api.DELETE("/conversations/:id", cfg.ConversationHandler.Delete)
		api.GET("/conversations/:id/messages", cfg.ConversationHandler.Messages)

		api.POST("/conversations/:id/turns", cfg.TurnHandler.Run)
		api.POST("/conversations/:id/turns/stream", cfg.TurnHandler.Stream)

		api.GET("/stream", cfg.RealtimeHandler.Stream)
	}

	return router
}

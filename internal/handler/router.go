package handler

import (
	"time"

	"instanext/internal/config"
	"instanext/internal/middleware"
	"instanext/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func NewRouter(
	handlers *Handlers,
	authMiddleware *middleware.AuthMiddleware,
	rateLimitMiddleware *middleware.RateLimitMiddleware,
	cfg *config.Config,
	log logger.Logger,
) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Realtime.AllowedOrigins))
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.ErrorHandler())

	router.GET("/health", handlers.Health.Check)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Канал реального времени, /api/socket_io оставлен для старых клиентов
	socket := authMiddleware.RequireSocketAuth()
	router.GET("/ws", socket, handlers.WebSocket.Connect)
	router.GET("/api/socket_io", socket, handlers.WebSocket.Connect)

	loginLimit := rateLimitMiddleware.Limit("login", cfg.RateLimit.LoginPerMinute, time.Minute)
	if !cfg.RateLimit.Enabled {
		loginLimit = func(c *gin.Context) { c.Next() }
	}

	v1 := router.Group("/api/v1")
	{
		v1.POST("/auth/login", loginLimit, handlers.Auth.Login)

		protected := v1.Group("")
		protected.Use(authMiddleware.RequireAuth())
		{
			protected.GET("/conversations", handlers.Message.ListConversations)
			protected.GET("/conversations/:userId", handlers.Message.History)
			protected.POST("/messages/send", handlers.Message.Send)
		}
	}

	// Пути без версии, как в исходном API
	legacy := router.Group("")
	legacy.Use(authMiddleware.RequireAuth())
	{
		legacy.GET("/conversations", handlers.Message.ListConversations)
		legacy.POST("/messages/send", handlers.Message.Send)
	}

	return router
}

package handler

import (
	"context"
	"net/http"

	"instanext/internal/config"
	"instanext/internal/middleware"
	"instanext/internal/realtime"
	"instanext/internal/service"
	"instanext/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type WebSocketHandler struct {
	// ctx живет до остановки сервера, соединения закрываются вместе с ним
	ctx       context.Context
	rooms     realtime.RoomRegistry
	messaging service.MessagingService
	upgrader  *websocket.Upgrader
	opts      realtime.Options
	log       logger.Logger
}

func NewWebSocketHandler(ctx context.Context, rooms realtime.RoomRegistry, messaging service.MessagingService, cfg config.RealtimeConfig, log logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		ctx:       ctx,
		rooms:     rooms,
		messaging: messaging,
		upgrader:  realtime.NewUpgrader(cfg.AllowedOrigins),
		opts:      realtime.OptionsFromConfig(cfg),
		log:       log,
	}
}

// Connect поднимает канал реального времени. Пользователь уже установлен RequireSocketAuth.
func (h *WebSocketHandler) Connect(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade сам пишет ответ клиенту
		h.log.Warn("Failed to upgrade connection", "error", err, "user_id", userID)
		return
	}

	realtime.NewConn(ws, userID, h.rooms, h.messaging, h.opts, h.log).Serve(h.ctx)
}

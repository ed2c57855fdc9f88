package handler

import (
	"context"

	"instanext/internal/config"
	"instanext/internal/realtime"
	"instanext/internal/service"
	"instanext/pkg/logger"
)

type Handlers struct {
	Health    *HealthHandler
	Auth      *AuthHandler
	Message   *MessageHandler
	WebSocket *WebSocketHandler
}

func NewHandlers(ctx context.Context, services *service.Services, rooms realtime.RoomRegistry, checks map[string]Pinger, cfg *config.Config, log logger.Logger) *Handlers {
	return &Handlers{
		Health:    NewHealthHandler(checks),
		Auth:      NewAuthHandler(services.Auth, log),
		Message:   NewMessageHandler(services.Messaging, log),
		WebSocket: NewWebSocketHandler(ctx, rooms, services.Messaging, cfg.Realtime, log),
	}
}

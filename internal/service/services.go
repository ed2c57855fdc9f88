package service

import (
	"instanext/internal/config"
	"instanext/internal/realtime"
	"instanext/internal/repository"
	"instanext/pkg/logger"
)

type Services struct {
	Auth      AuthService
	Identity  IdentityResolver
	Messaging MessagingService
	RateLimit RateLimitService
}

func NewServices(repos *repository.Repositories, rooms realtime.RoomRegistry, cfg *config.Config, log logger.Logger) *Services {
	services := &Services{
		Auth:     NewAuthService(repos.Profile, cfg.JWT, log),
		Identity: NewIdentityResolver(cfg.JWT),
	}

	// Без Redis ограничение частоты не работает
	if repos.RateLimit != nil {
		services.RateLimit = NewRateLimitService(repos.RateLimit, log)
	} else {
		log.Warn("RateLimit repository is nil, rate limiting disabled")
	}

	services.Messaging = NewMessagingService(repos.Conversation, repos.Profile, rooms, services.RateLimit, cfg.RateLimit, log)

	return services
}

package service

import (
	"context"
	"time"

	"instanext/internal/repository"
	"instanext/pkg/logger"
)

type RateLimitService interface {
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type rateLimitService struct {
	rateLimitRepo repository.RateLimitRepository
	log           logger.Logger
}

func NewRateLimitService(rateLimitRepo repository.RateLimitRepository, log logger.Logger) RateLimitService {
	return &rateLimitService{
		rateLimitRepo: rateLimitRepo,
		log:           log,
	}
}

func (s *rateLimitService) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	return s.rateLimitRepo.Increment(ctx, key, window)
}

// Allow засчитывает попытку и сообщает, укладывается ли она в окно.
func (s *rateLimitService) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	count, err := s.rateLimitRepo.Increment(ctx, key, window)
	if err != nil {
		return false, err
	}
	return count <= int64(limit), nil
}

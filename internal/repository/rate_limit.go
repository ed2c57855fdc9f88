package repository

import (
	"context"
	"time"

	"instanext/pkg/logger"

	"github.com/redis/go-redis/v9"
)

const rateLimitKeyPrefix = "ratelimit:"

type RateLimitRepository interface {
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)
}

type rateLimitRepository struct {
	redis *redis.Client
	log   logger.Logger
}

func NewRateLimitRepository(redis *redis.Client, log logger.Logger) RateLimitRepository {
	return &rateLimitRepository{redis: redis, log: log}
}

func (r *rateLimitRepository) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	var incr *redis.IntCmd

	// INCR и EXPIRE NX в одной транзакции: окно не теряет TTL, если процесс упадет между командами.
	_, err := r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, rateLimitKeyPrefix+key)
		pipe.ExpireNX(ctx, rateLimitKeyPrefix+key, window)
		return nil
	})
	if err != nil {
		r.log.Error("Failed to increment rate limit", "error", err)
		return 0, err
	}

	return incr.Val(), nil
}

//go:build integration

package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"instanext/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisRateLimit_IncrementSetsWindowOnce(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR is not set")
	}
	req := require.New(t)
	ctx := context.Background()
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })

	repo := NewRateLimitRepository(rdb, logger.NewNop())
	key := "it:" + uuid.NewString()
	t.Cleanup(func() { rdb.Del(context.Background(), rateLimitKeyPrefix+key) })

	first, err := repo.Increment(ctx, key, time.Minute)
	req.NoError(err)
	req.EqualValues(1, first)

	second, err := repo.Increment(ctx, key, time.Hour)
	req.NoError(err)
	req.EqualValues(2, second)

	// The window is set by the first hit and is not extended later
	ttl, err := rdb.TTL(ctx, rateLimitKeyPrefix+key).Result()
	req.NoError(err)
	req.LessOrEqual(ttl, time.Minute)
	req.Positive(int64(ttl))
}

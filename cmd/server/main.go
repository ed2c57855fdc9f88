package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"instanext/internal/config"
	"instanext/internal/domain"
	"instanext/internal/handler"
	"instanext/internal/middleware"
	"instanext/internal/realtime"
	"instanext/internal/repository"
	"instanext/internal/service"
	"instanext/pkg/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Инициализация логгера
	appLogger := logger.New(cfg.Log.Level)
	defer func() { _ = appLogger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	checks := make(map[string]handler.Pinger)

	// Redis нужен только для ограничения частоты, без него сервис работает
	rdb := connectRedis(ctx, cfg.Redis, appLogger)
	if rdb != nil {
		defer rdb.Close()
		checks["redis"] = handler.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}

	var repos *repository.Repositories
	switch cfg.Store.Driver {
	case config.StoreDriverMemory:
		profiles := repository.NewMemoryProfileRepository()
		if !cfg.IsProduction() {
			seedDemoAccounts(profiles, appLogger)
		}
		repos = repository.NewMemoryRepositories(profiles, rdb, appLogger)
	default:
		dbPool, err := connectPostgres(ctx, cfg.Database)
		if err != nil {
			appLogger.Fatal("Failed to connect to database", "error", err)
		}
		defer dbPool.Close()
		appLogger.Info("Database connection established")

		checks["postgres"] = dbPool
		repos = repository.NewRepositories(dbPool, rdb, appLogger)
	}

	hub := realtime.NewHub(appLogger)
	services := service.NewServices(repos, hub, cfg, appLogger)

	authMiddleware := middleware.NewAuthMiddleware(services.Identity, appLogger)
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(services.RateLimit, appLogger)

	handlers := handler.NewHandlers(ctx, services, hub, checks, cfg, appLogger)
	router := handler.NewRouter(handlers, authMiddleware, rateLimitMiddleware, cfg, appLogger)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		appLogger.Info("Starting server", "addr", srv.Addr, "store", cfg.Store.Driver)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal("Failed to start server", "error", err)
		}
	}()

	// Ожидание сигнала для graceful shutdown
	<-ctx.Done()
	appLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	appLogger.Info("Server exited")
}

func connectPostgres(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConnections)
	poolCfg.MaxConnIdleTime = cfg.MaxIdleTime
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

func connectRedis(ctx context.Context, cfg config.RedisConfig, log logger.Logger) *redis.Client {
	if cfg.Addr == "" {
		log.Warn("REDIS_ADDR is empty, rate limiting disabled")
		return nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Warn("Redis is unreachable, rate limiting disabled", "error", err, "addr", cfg.Addr)
		_ = rdb.Close()
		return nil
	}

	log.Info("Redis connection established")
	return rdb
}

// seedDemoAccounts заводит двух пользователей для локального запуска без базы.
func seedDemoAccounts(profiles *repository.MemoryProfileRepository, log logger.Logger) {
	hash, err := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.DefaultCost)
	if err != nil {
		log.Error("Failed to hash demo password", "error", err)
		return
	}

	for _, p := range []domain.Profile{
		{ID: "demo-alice", Username: "alice", Name: "Alice"},
		{ID: "demo-bob", Username: "bob", Name: "Bob"},
	} {
		profiles.Put(domain.Account{
			Profile:      p,
			Email:        p.Username + "@example.com",
			PasswordHash: string(hash),
		})
	}

	log.Warn("Seeded demo accounts alice@example.com and bob@example.com with password \"password\"")
}

package repository

import (
	"instanext/pkg/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

//go:generate mockgen -source=conversation.go -destination=../mocks/mock_conversation_repository.go -package=mocks
//go:generate mockgen -source=profile.go -destination=../mocks/mock_profile_repository.go -package=mocks

type Repositories struct {
	Conversation ConversationRepository
	Profile      ProfileRepository
	RateLimit    RateLimitRepository
}

func NewRepositories(db *pgxpool.Pool, rdb *redis.Client, log logger.Logger) *Repositories {
	repos := &Repositories{
		Conversation: NewConversationRepository(db, log),
		Profile:      NewProfileRepository(db, log),
	}

	if rdb != nil {
		repos.RateLimit = NewRateLimitRepository(rdb, log)
		log.Info("RateLimit repository initialized")
	} else {
		log.Warn("Redis is not configured, send rate limiting disabled")
	}

	return repos
}

// NewMemoryRepositories собирает хранилища в памяти процесса (STORE_DRIVER=memory).
func NewMemoryRepositories(profiles *MemoryProfileRepository, rdb *redis.Client, log logger.Logger) *Repositories {
	repos := &Repositories{
		Conversation: NewMemoryConversationRepository(),
		Profile:      profiles,
	}

	if rdb != nil {
		repos.RateLimit = NewRateLimitRepository(rdb, log)
	}

	log.Warn("Using in-memory conversation store, data is lost on restart")
	return repos
}

package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"instanext/internal/domain"
	apperrors "instanext/pkg/errors"

	"github.com/google/uuid"
)

// memoryConversationRepository хранит переписки в памяти процесса.
// Используется при STORE_DRIVER=memory и в тестах.
type memoryConversationRepository struct {
	mu            sync.RWMutex
	conversations map[domain.ParticipantPair]*domain.Conversation
}

func NewMemoryConversationRepository() ConversationRepository {
	return &memoryConversationRepository{
		conversations: make(map[domain.ParticipantPair]*domain.Conversation),
	}
}

func (r *memoryConversationRepository) AppendMessage(ctx context.Context, pair domain.ParticipantPair, message domain.Message) (*domain.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrPersistence, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	conversation, ok := r.conversations[pair]
	if !ok {
		conversation = &domain.Conversation{
			ID:             uuid.NewString(),
			ParticipantIDs: pair.IDs(),
			Messages:       []domain.Message{},
			CreatedAt:      message.CreatedAt.UTC(),
			UpdatedAt:      message.CreatedAt.UTC(),
		}
		r.conversations[pair] = conversation
	}

	message.CreatedAt = message.CreatedAt.UTC()
	if message.CreatedAt.Before(conversation.UpdatedAt) {
		message.CreatedAt = conversation.UpdatedAt
	}

	conversation.Messages = append(conversation.Messages, message)
	conversation.UpdatedAt = message.CreatedAt

	return cloneConversation(conversation), nil
}

func (r *memoryConversationRepository) FindForUser(ctx context.Context, userID string) ([]*domain.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrPersistence, err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.Conversation, 0)
	for pair, conversation := range r.conversations {
		if pair.Contains(userID) {
			result = append(result, cloneConversation(conversation))
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		if result[i].UpdatedAt.Equal(result[j].UpdatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})

	return result, nil
}

func (r *memoryConversationRepository) GetByParticipants(ctx context.Context, pair domain.ParticipantPair) (*domain.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrPersistence, err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	conversation, ok := r.conversations[pair]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", pair.Key(), apperrors.ErrNotFound)
	}

	return cloneConversation(conversation), nil
}

func cloneConversation(c *domain.Conversation) *domain.Conversation {
	out := *c
	out.ParticipantIDs = append([]string(nil), c.ParticipantIDs...)
	out.Messages = append(make([]domain.Message, 0, len(c.Messages)), c.Messages...)
	return &out
}

package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"instanext/internal/domain"
	apperrors "instanext/pkg/errors"
	"instanext/pkg/logger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ConversationRepository interface {
	// AppendMessage атомарно находит или создает переписку пары и дописывает сообщение в конец.
	// CreatedAt сохраненного сообщения не меньше, чем у предыдущего в этой переписке.
	AppendMessage(ctx context.Context, pair domain.ParticipantPair, message domain.Message) (*domain.Conversation, error)
	FindForUser(ctx context.Context, userID string) ([]*domain.Conversation, error)
	GetByParticipants(ctx context.Context, pair domain.ParticipantPair) (*domain.Conversation, error)
}

type conversationRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewConversationRepository(db *pgxpool.Pool, log logger.Logger) ConversationRepository {
	return &conversationRepository{db: db, log: log}
}

// Одна инструкция: ON CONFLICT DO UPDATE берет блокировку строки, поэтому два
// одновременных сообщения в одну переписку выполняются друг за другом и оба сохраняются.
// createdAt сообщения выравнивается по updated_at, чтобы порядок вставки совпадал с порядком времени.
const appendMessageQuery = `
	INSERT INTO conversations (id, participant_a, participant_b, messages, created_at, updated_at)
	VALUES ($1, $2, $3, jsonb_build_array($4::jsonb || jsonb_build_object('createdAt', $5::timestamptz)), $5, $5)
	ON CONFLICT (participant_a, participant_b) DO UPDATE
	SET messages = conversations.messages || jsonb_build_array(
	        (EXCLUDED.messages -> 0) || jsonb_build_object('createdAt', GREATEST(conversations.updated_at, EXCLUDED.updated_at))
	    ),
	    updated_at = GREATEST(conversations.updated_at, EXCLUDED.updated_at)
	RETURNING id, participant_a, participant_b, messages, created_at, updated_at
`

func (r *conversationRepository) AppendMessage(ctx context.Context, pair domain.ParticipantPair, message domain.Message) (*domain.Conversation, error) {
	payload, err := json.Marshal(struct {
		ID       string `json:"id"`
		SenderID string `json:"senderId"`
		Text     string `json:"text"`
	}{message.ID, message.SenderID, message.Text})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal message: %v", apperrors.ErrPersistence, err)
	}

	row := r.db.QueryRow(ctx, appendMessageQuery,
		uuid.NewString(), pair.First, pair.Second, string(payload), message.CreatedAt.UTC(),
	)

	conversation, err := scanConversation(row)
	if err != nil {
		r.log.Error("Failed to append message", "error", err, "pair", pair.Key())
		return nil, fmt.Errorf("%w: %v", apperrors.ErrPersistence, err)
	}

	return conversation, nil
}

func (r *conversationRepository) FindForUser(ctx context.Context, userID string) ([]*domain.Conversation, error) {
	query := `
		SELECT id, participant_a, participant_b, messages, created_at, updated_at
		FROM conversations
		WHERE participant_a = $1 OR participant_b = $1
		ORDER BY updated_at DESC
	`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		r.log.Error("Failed to find conversations", "error", err, "user_id", userID)
		return nil, fmt.Errorf("%w: %v", apperrors.ErrPersistence, err)
	}
	defer rows.Close()

	conversations := make([]*domain.Conversation, 0)
	for rows.Next() {
		conversation, err := scanConversation(rows)
		if err != nil {
			r.log.Error("Failed to scan conversation", "error", err)
			return nil, fmt.Errorf("%w: %v", apperrors.ErrPersistence, err)
		}
		conversations = append(conversations, conversation)
	}
	if err := rows.Err(); err != nil {
		r.log.Error("Failed to iterate conversations", "error", err)
		return nil, fmt.Errorf("%w: %v", apperrors.ErrPersistence, err)
	}

	return conversations, nil
}

func (r *conversationRepository) GetByParticipants(ctx context.Context, pair domain.ParticipantPair) (*domain.Conversation, error) {
	query := `
		SELECT id, participant_a, participant_b, messages, created_at, updated_at
		FROM conversations
		WHERE participant_a = $1 AND participant_b = $2
	`

	conversation, err := scanConversation(r.db.QueryRow(ctx, query, pair.First, pair.Second))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("conversation %s: %w", pair.Key(), apperrors.ErrNotFound)
		}
		r.log.Error("Failed to get conversation", "error", err, "pair", pair.Key())
		return nil, fmt.Errorf("%w: %v", apperrors.ErrPersistence, err)
	}

	return conversation, nil
}

func scanConversation(row pgx.Row) (*domain.Conversation, error) {
	var (
		conversation = &domain.Conversation{}
		first        string
		second       string
		messagesJSON []byte
		createdAt    time.Time
		updatedAt    time.Time
	)

	if err := row.Scan(&conversation.ID, &first, &second, &messagesJSON, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(messagesJSON, &conversation.Messages); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	if conversation.Messages == nil {
		conversation.Messages = []domain.Message{}
	}

	conversation.ParticipantIDs = []string{first, second}
	conversation.CreatedAt = createdAt.UTC()
	conversation.UpdatedAt = updatedAt.UTC()
	for i := range conversation.Messages {
		conversation.Messages[i].CreatedAt = conversation.Messages[i].CreatedAt.UTC()
	}

	return conversation, nil
}

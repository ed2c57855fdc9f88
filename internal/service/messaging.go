package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"instanext/internal/config"
	"instanext/internal/domain"
	"instanext/internal/realtime"
	"instanext/internal/repository"
	apperrors "instanext/pkg/errors"
	"instanext/pkg/logger"
	"instanext/pkg/metrics"

	"github.com/google/uuid"
)

const sendRateWindow = time.Minute

type MessagingService interface {
	Send(ctx context.Context, senderID, recipientID, text string) (*domain.Message, error)
	ListConversations(ctx context.Context, userID string) ([]*domain.ConversationView, error)
	History(ctx context.Context, userID, otherID string) (*domain.ConversationView, error)
}

type messagingService struct {
	conversationRepo repository.ConversationRepository
	profileRepo      repository.ProfileRepository
	rooms            realtime.RoomRegistry
	rateLimit        RateLimitService
	sendPerMinute    int
	now              func() time.Time
	log              logger.Logger
}

// NewMessagingService собирает сервис сообщений. rateLimit может быть nil: тогда
// ограничение на отправку не применяется.
func NewMessagingService(
	conversationRepo repository.ConversationRepository,
	profileRepo repository.ProfileRepository,
	rooms realtime.RoomRegistry,
	rateLimit RateLimitService,
	rateCfg config.RateLimitConfig,
	log logger.Logger,
) MessagingService {
	s := &messagingService{
		conversationRepo: conversationRepo,
		profileRepo:      profileRepo,
		rooms:            rooms,
		now:              time.Now,
		log:              log,
	}
	if rateCfg.Enabled && rateCfg.SendPerMinute > 0 {
		s.rateLimit = rateLimit
		s.sendPerMinute = rateCfg.SendPerMinute
	}
	return s
}

func (s *messagingService) Send(ctx context.Context, senderID, recipientID, text string) (*domain.Message, error) {
	message, err := s.send(ctx, senderID, recipientID, text)
	metrics.RecordSend(sendResult(err))
	return message, err
}

func (s *messagingService) send(ctx context.Context, senderID, recipientID, text string) (*domain.Message, error) {
	senderID = strings.TrimSpace(senderID)
	recipientID = strings.TrimSpace(recipientID)

	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("message text is empty: %w", apperrors.ErrInvalidArgument)
	}

	pair, err := domain.NewParticipantPair(senderID, recipientID)
	if err != nil {
		return nil, err
	}

	// Отклоненные валидацией запросы окно не расходуют
	if err := s.checkSendLimit(ctx, senderID); err != nil {
		return nil, err
	}

	exists, err := s.profileRepo.Exists(ctx, recipientID)
	if err != nil {
		s.log.Error("Failed to check recipient", "error", err, "recipient_id", recipientID)
		return nil, fmt.Errorf("check recipient: %w", apperrors.ErrPersistence)
	}
	if !exists {
		return nil, fmt.Errorf("recipient %s: %w", recipientID, apperrors.ErrRecipientNotFound)
	}

	message := domain.Message{
		ID:       uuid.NewString(),
		SenderID: senderID,
		Text:     text,
		// Postgres хранит микросекунды, обрезаем заранее, чтобы ответ совпадал с сохраненным.
		CreatedAt: s.now().UTC().Truncate(time.Microsecond),
	}

	conversation, err := s.conversationRepo.AppendMessage(ctx, pair, message)
	if err != nil {
		s.log.Error("Failed to store message", "error", err, "sender_id", senderID, "recipient_id", recipientID)
		if !errors.Is(err, apperrors.ErrPersistence) {
			err = fmt.Errorf("%v: %w", err, apperrors.ErrPersistence)
		}
		return nil, err
	}

	// Хранилище может сдвинуть createdAt вперед, отдаем сохраненную версию.
	for i := len(conversation.Messages) - 1; i >= 0; i-- {
		if conversation.Messages[i].ID == message.ID {
			message = conversation.Messages[i]
			break
		}
	}

	delivered := s.rooms.PublishToUser(recipientID, realtime.ReceiveMessageEvent(conversation.ID, recipientID, message))
	s.log.Debug("Message sent",
		"message_id", message.ID,
		"conversation_id", conversation.ID,
		"sender_id", senderID,
		"recipient_id", recipientID,
		"delivered", delivered,
	)

	return &message, nil
}

func (s *messagingService) checkSendLimit(ctx context.Context, senderID string) error {
	if s.rateLimit == nil {
		return nil
	}

	allowed, err := s.rateLimit.Allow(ctx, "send:"+senderID, s.sendPerMinute, sendRateWindow)
	if err != nil {
		// Redis недоступен: не блокируем отправку
		s.log.Warn("Send rate limit check failed", "error", err, "user_id", senderID)
		return nil
	}
	if !allowed {
		return fmt.Errorf("too many messages: %w", apperrors.ErrRateLimited)
	}
	return nil
}

func sendResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, apperrors.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, apperrors.ErrInvalidArgument):
		return "invalid"
	case errors.Is(err, apperrors.ErrRecipientNotFound):
		return "recipient_not_found"
	default:
		return "persistence_error"
	}
}

func (s *messagingService) ListConversations(ctx context.Context, userID string) ([]*domain.ConversationView, error) {
	conversations, err := s.conversationRepo.FindForUser(ctx, userID)
	if err != nil {
		s.log.Error("Failed to list conversations", "error", err, "user_id", userID)
		return nil, err
	}

	return s.hydrate(ctx, conversations)
}

func (s *messagingService) History(ctx context.Context, userID, otherID string) (*domain.ConversationView, error) {
	pair, err := domain.NewParticipantPair(userID, otherID)
	if err != nil {
		return nil, err
	}

	conversation, err := s.conversationRepo.GetByParticipants(ctx, pair)
	if err != nil {
		return nil, err
	}

	views, err := s.hydrate(ctx, []*domain.Conversation{conversation})
	if err != nil {
		return nil, err
	}
	return views[0], nil
}

// hydrate подставляет профили участников одним запросом на весь список.
func (s *messagingService) hydrate(ctx context.Context, conversations []*domain.Conversation) ([]*domain.ConversationView, error) {
	views := make([]*domain.ConversationView, 0, len(conversations))
	if len(conversations) == 0 {
		return views, nil
	}

	seen := make(map[string]struct{})
	ids := make([]string, 0, len(conversations)+1)
	for _, c := range conversations {
		for _, id := range c.ParticipantIDs {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}

	profiles, err := s.profileRepo.GetByIDs(ctx, ids)
	if err != nil {
		s.log.Error("Failed to load participant profiles", "error", err)
		return nil, fmt.Errorf("load profiles: %w", apperrors.ErrPersistence)
	}

	for _, c := range conversations {
		participants := make([]domain.Profile, 0, len(c.ParticipantIDs))
		for _, id := range c.ParticipantIDs {
			if p, ok := profiles[id]; ok {
				participants = append(participants, p)
			}
		}
		messages := c.Messages
		if messages == nil {
			messages = []domain.Message{}
		}
		views = append(views, &domain.ConversationView{
			ID:           c.ID,
			Participants: participants,
			Messages:     messages,
			UpdatedAt:    c.UpdatedAt,
		})
	}

	return views, nil
}

package domain

import (
	"fmt"
	"strings"
	"time"

	apperrors "instanext/pkg/errors"
)

// Message неизменяем после сохранения. ID и CreatedAt назначает сервер.
type Message struct {
	ID        string    `json:"id"`
	SenderID  string    `json:"senderId"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// Conversation описывает переписку ровно двух пользователей. ParticipantIDs всегда отсортированы.
type Conversation struct {
	ID             string    `json:"id"`
	ParticipantIDs []string  `json:"participantIds"`
	Messages       []Message `json:"messages"`
	CreatedAt      time.Time `json:"-"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// ConversationView содержит переписку с подставленными профилями участников
type ConversationView struct {
	ID           string    `json:"id"`
	Participants []Profile `json:"participants"`
	Messages     []Message `json:"messages"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// ParticipantPair хранит отсортированную пару участников, естественный ключ переписки
type ParticipantPair struct {
	First  string
	Second string
}

func NewParticipantPair(a, b string) (ParticipantPair, error) {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	if a == "" || b == "" {
		return ParticipantPair{}, fmt.Errorf("participant id is required: %w", apperrors.ErrInvalidArgument)
	}
	if a == b {
		return ParticipantPair{}, fmt.Errorf("conversation needs two distinct participants: %w", apperrors.ErrInvalidArgument)
	}
	if a > b {
		a, b = b, a
	}
	return ParticipantPair{First: a, Second: b}, nil
}

func (p ParticipantPair) IDs() []string {
	return []string{p.First, p.Second}
}

// Key возвращает строковое представление пары для логов и ошибок
func (p ParticipantPair) Key() string {
	return p.First + ":" + p.Second
}

func (p ParticipantPair) Contains(userID string) bool {
	return p.First == userID || p.Second == userID
}

// Peer возвращает профиль собеседника userID. false, если профиль не подставлен.
func (v *ConversationView) Peer(userID string) (Profile, bool) {
	for _, p := range v.Participants {
		if p.ID != userID {
			return p, true
		}
	}
	return Profile{}, false
}

func (v *ConversationView) LastMessage() *Message {
	if len(v.Messages) == 0 {
		return nil
	}
	return &v.Messages[len(v.Messages)-1]
}

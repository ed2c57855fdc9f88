package realtime

import (
	"encoding/json"
	"fmt"
	"strings"

	"instanext/internal/domain"
	apperrors "instanext/pkg/errors"
)

type EventType string

// Клиент -> сервер.
const (
	EventJoinRoom    EventType = "joinRoom"
	EventSendMessage EventType = "sendMessage"
	EventPing        EventType = "ping"
)

// Сервер -> клиент.
const (
	EventJoined         EventType = "joined"
	EventReceiveMessage EventType = "receiveMessage"
	EventMessageSent    EventType = "messageSent"
	EventPong           EventType = "pong"
	EventError          EventType = "error"
)

// Event описывает любое событие канала. Набор заполненных полей
// определяется Type и проверяется в ParseClientEvent.
type Event struct {
	Type           EventType       `json:"type"`
	UserID         string          `json:"userId,omitempty"`
	RecipientID    string          `json:"recipientId,omitempty"`
	ConversationID string          `json:"conversationId,omitempty"`
	ClientID       string          `json:"clientId,omitempty"`
	Message        *domain.Message `json:"message,omitempty"`
	Code           int             `json:"code,omitempty"`
	Error          string          `json:"error,omitempty"`
}

func JoinedEvent(userID string) Event {
	return Event{Type: EventJoined, UserID: userID}
}

func ReceiveMessageEvent(conversationID, recipientID string, message domain.Message) Event {
	return Event{
		Type:           EventReceiveMessage,
		ConversationID: conversationID,
		RecipientID:    recipientID,
		Message:        &message,
	}
}

func MessageSentEvent(clientID string, message domain.Message) Event {
	return Event{Type: EventMessageSent, ClientID: clientID, Message: &message}
}

func ErrorEvent(err error) Event {
	return Event{
		Type:  EventError,
		Code:  apperrors.HTTPStatusFromError(err),
		Error: apperrors.PublicMessage(err),
	}
}

// ParseClientEvent разбирает событие от клиента и проверяет схему для его типа.
func ParseClientEvent(data []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return Event{}, fmt.Errorf("malformed event: %w", apperrors.ErrInvalidArgument)
	}

	switch event.Type {
	case EventJoinRoom:
		if strings.TrimSpace(event.UserID) == "" {
			return Event{}, fmt.Errorf("joinRoom requires userId: %w", apperrors.ErrInvalidArgument)
		}
	case EventSendMessage:
		if strings.TrimSpace(event.RecipientID) == "" {
			return Event{}, fmt.Errorf("sendMessage requires recipientId: %w", apperrors.ErrInvalidArgument)
		}
		if event.Message == nil {
			return Event{}, fmt.Errorf("sendMessage requires message: %w", apperrors.ErrInvalidArgument)
		}
		if event.ClientID == "" {
			event.ClientID = event.Message.ID
		}
	case EventPing:
	case "":
		return Event{}, fmt.Errorf("event type is required: %w", apperrors.ErrInvalidArgument)
	default:
		return Event{}, fmt.Errorf("unknown event type %q: %w", event.Type, apperrors.ErrInvalidArgument)
	}

	return event, nil
}

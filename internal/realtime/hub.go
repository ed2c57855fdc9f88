// Пакет realtime доставляет события сообщений в комнаты пользователей через websocket.
//
// Таблица комнат живет в памяти процесса. Для нескольких экземпляров нужен общий
// pub/sub, здесь его нет.
package realtime

import (
	"errors"
	"sync"

	"instanext/pkg/logger"
	"instanext/pkg/metrics"
)

var ErrAlreadyJoined = errors.New("connection already joined another room")

// Subscriber получает события комнаты. Deliver не должен блокироваться.
type Subscriber interface {
	ID() string
	Deliver(event Event) bool
}

type RoomRegistry interface {
	Join(sub Subscriber, userID string) error
	Leave(sub Subscriber)
	PublishToUser(userID string, event Event) int
	Members(userID string) int
}

// Hub реализует RoomRegistry, один на процесс. Комната на пользователя,
// в комнате может быть несколько соединений (несколько вкладок).
type Hub struct {
	mu       sync.RWMutex
	rooms    map[string]map[string]Subscriber
	memberOf map[string]string
	log      logger.Logger
}

func NewHub(log logger.Logger) *Hub {
	return &Hub{
		rooms:    make(map[string]map[string]Subscriber),
		memberOf: make(map[string]string),
		log:      log,
	}
}

func (h *Hub) Join(sub Subscriber, userID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if current, ok := h.memberOf[sub.ID()]; ok {
		if current == userID {
			return nil
		}
		return ErrAlreadyJoined
	}

	room, ok := h.rooms[userID]
	if !ok {
		room = make(map[string]Subscriber)
		h.rooms[userID] = room
		metrics.RoomsActive.Inc()
	}
	room[sub.ID()] = sub
	h.memberOf[sub.ID()] = userID

	h.log.Debug("Connection joined room", "conn_id", sub.ID(), "user_id", userID, "members", len(room))
	return nil
}

func (h *Hub) Leave(sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	userID, ok := h.memberOf[sub.ID()]
	if !ok {
		return
	}
	delete(h.memberOf, sub.ID())

	room := h.rooms[userID]
	delete(room, sub.ID())
	if len(room) == 0 {
		delete(h.rooms, userID)
		metrics.RoomsActive.Dec()
	}

	h.log.Debug("Connection left room", "conn_id", sub.ID(), "user_id", userID)
}

// PublishToUser доставляет событие во все соединения комнаты без ожидания.
// Возвращает число соединений, принявших событие. Если комната пуста, событие теряется.
func (h *Hub) PublishToUser(userID string, event Event) int {
	h.mu.RLock()
	room := h.rooms[userID]
	subs := make([]Subscriber, 0, len(room))
	for _, sub := range room {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, sub := range subs {
		if sub.Deliver(event) {
			delivered++
			continue
		}
		h.log.Warn("Dropped realtime event, connection buffer full or closed",
			"conn_id", sub.ID(), "user_id", userID, "type", event.Type)
	}

	metrics.RecordPublish(string(event.Type), delivered, len(subs)-delivered)
	return delivered
}

func (h *Hub) Members(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[userID])
}

package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"instanext/internal/realtime"

	"github.com/gorilla/websocket"
)

// EventStream представляет открытое соединение канала реального времени
type EventStream interface {
	Join(userID string) error
	Next() (realtime.Event, error)
	Close() error
}

// Dialer открывает новое соединение. Session.Run вызывает его при каждом переподключении.
type Dialer func(ctx context.Context) (EventStream, error)

type wsStream struct {
	conn *websocket.Conn
	mu   sync.Mutex // gorilla допускает только одного писателя
}

// NewWebSocketDialer строит Dialer на gorilla/websocket для сервера baseURL (http или https).
func NewWebSocketDialer(baseURL, token string) (Dialer, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/") + "/ws")
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	target := u.String()

	return func(ctx context.Context) (EventStream, error) {
		conn, resp, err := websocket.DefaultDialer.DialContext(ctx, target, header)
		if err != nil {
			if resp != nil {
				return nil, fmt.Errorf("dial %s: status %d: %w", target, resp.StatusCode, err)
			}
			return nil, fmt.Errorf("dial %s: %w", target, err)
		}
		return &wsStream{conn: conn}, nil
	}, nil
}

func (s *wsStream) Join(userID string) error {
	return s.write(realtime.Event{Type: realtime.EventJoinRoom, UserID: userID})
}

func (s *wsStream) Next() (realtime.Event, error) {
	var event realtime.Event
	err := s.conn.ReadJSON(&event)
	return event, err
}

func (s *wsStream) Close() error {
	return s.conn.Close()
}

func (s *wsStream) write(event realtime.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(event)
}

package realtime

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"instanext/internal/config"
	"instanext/internal/domain"
	apperrors "instanext/pkg/errors"
	"instanext/pkg/logger"
	"instanext/pkg/metrics"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// MessageSender сохраняет и рассылает сообщение. Один путь для HTTP и сокета.
type MessageSender interface {
	Send(ctx context.Context, senderID, recipientID, text string) (*domain.Message, error)
}

type ConnState int32

const (
	StateConnecting ConnState = iota
	StateJoined
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("ConnState(%d)", int32(s))
	}
}

type Options struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	SendBuffer     int
	MaxMessageSize int64
	SendTimeout    time.Duration
}

func OptionsFromConfig(cfg config.RealtimeConfig) Options {
	return Options{
		PingInterval:   cfg.PingInterval,
		PongTimeout:    cfg.PongTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		SendBuffer:     cfg.SendBuffer,
		MaxMessageSize: cfg.MaxMessageSize,
		SendTimeout:    cfg.WriteTimeout,
	}
}

// NewUpgrader разрешает перечисленные Origin, "*" разрешает любой.
// Запросы без Origin (не из браузера) пропускаются.
func NewUpgrader(allowedOrigins []string) *websocket.Upgrader {
	allowAll := false
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = struct{}{}
	}

	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if allowAll || origin == "" {
				return true
			}
			_, ok := allowed[origin]
			return ok
		},
	}
}

// Conn представляет одно websocket-соединение аутентифицированного пользователя
type Conn struct {
	id     string
	userID string
	ws     *websocket.Conn
	rooms  RoomRegistry
	sender MessageSender
	opts   Options
	log    logger.Logger

	send      chan Event
	done      chan struct{}
	closeOnce sync.Once
	state     atomic.Int32
}

func NewConn(ws *websocket.Conn, userID string, rooms RoomRegistry, sender MessageSender, opts Options, log logger.Logger) *Conn {
	id := uuid.NewString()
	return &Conn{
		id:     id,
		userID: userID,
		ws:     ws,
		rooms:  rooms,
		sender: sender,
		opts:   opts,
		log:    log.With("conn_id", id, "user_id", userID),
		send:   make(chan Event, opts.SendBuffer),
		done:   make(chan struct{}),
	}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) State() ConnState { return ConnState(c.state.Load()) }

// Deliver ставит событие в очередь отправки. При полной очереди или закрытом
// соединении событие отбрасывается.
func (c *Conn) Deliver(event Event) bool {
	if c.closed() {
		return false
	}

	select {
	case c.send <- event:
		return true
	default:
		return false
	}
}

// Serve обслуживает соединение до отключения клиента, ошибки heartbeat или отмены ctx.
func (c *Conn) Serve(ctx context.Context) {
	metrics.ConnectionsActive.Inc()
	defer metrics.ConnectionsActive.Dec()

	c.log.Info("Realtime connection opened")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump()
	}()

	go func() {
		select {
		case <-ctx.Done():
			c.close()
		case <-c.done:
		}
	}()

	c.readPump(ctx)
	c.close()
	<-writerDone

	c.log.Info("Realtime connection closed")
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateDisconnected))
		// done закрывается раньше Leave, join проверяет его после Hub.Join
		close(c.done)
		c.rooms.Leave(c)
	})
}

func (c *Conn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Conn) readPump(ctx context.Context) {
	if c.opts.MaxMessageSize > 0 {
		c.ws.SetReadLimit(c.opts.MaxMessageSize)
	}
	_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("Realtime connection read failed", "error", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))

		c.handle(ctx, data)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case event := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.ws.WriteJSON(event); err != nil {
				c.log.Warn("Failed to write realtime event", "error", err, "type", event.Type)
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			_ = c.ws.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.opts.WriteTimeout),
			)
			return
		}
	}
}

func (c *Conn) handle(ctx context.Context, data []byte) {
	event, err := ParseClientEvent(data)
	if err != nil {
		c.reply(ErrorEvent(err))
		return
	}

	switch event.Type {
	case EventJoinRoom:
		c.join(event.UserID)
	case EventSendMessage:
		c.sendMessage(ctx, event)
	case EventPing:
		c.reply(Event{Type: EventPong})
	}
}

func (c *Conn) join(userID string) {
	if userID != c.userID {
		c.reply(ErrorEvent(fmt.Errorf("cannot join room of another user: %w", apperrors.ErrUnauthenticated)))
		return
	}

	if c.closed() {
		return
	}

	if err := c.rooms.Join(c, userID); err != nil {
		c.reply(ErrorEvent(fmt.Errorf("%v: %w", err, apperrors.ErrInvalidArgument)))
		return
	}

	// Соединение закрылось во время Join
	if c.closed() {
		c.rooms.Leave(c)
		return
	}

	c.state.CompareAndSwap(int32(StateConnecting), int32(StateJoined))
	c.reply(JoinedEvent(userID))
}

func (c *Conn) sendMessage(ctx context.Context, event Event) {
	if c.State() != StateJoined {
		reply := ErrorEvent(fmt.Errorf("join a room before sending: %w", apperrors.ErrInvalidArgument))
		reply.ClientID = event.ClientID
		c.reply(reply)
		return
	}

	if c.opts.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.SendTimeout)
		defer cancel()
	}

	message, err := c.sender.Send(ctx, c.userID, event.RecipientID, event.Message.Text)
	if err != nil {
		reply := ErrorEvent(err)
		reply.ClientID = event.ClientID
		c.reply(reply)
		return
	}

	c.reply(MessageSentEvent(event.ClientID, *message))
}

func (c *Conn) reply(event Event) {
	if !c.Deliver(event) {
		c.log.Warn("Dropped reply, connection buffer full or closed", "type", event.Type)
	}
}

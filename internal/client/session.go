// Пакет client реализует клиентскую сторону переписки: оптимистичное локальное представление
// открытой переписки, сверяемое с ответом сервера и событиями канала.
package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"instanext/internal/domain"
	"instanext/internal/realtime"
	apperrors "instanext/pkg/errors"
	"instanext/pkg/logger"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

const DefaultSendTimeout = 10 * time.Second

type EntryState int

const (
	Optimistic EntryState = iota
	Confirmed
)

func (s EntryState) String() string {
	if s == Optimistic {
		return "optimistic"
	}
	return "confirmed"
}

// Entry хранит сообщение локального представления. Для Optimistic Message.ID равен временному id.
type Entry struct {
	Message domain.Message
	State   EntryState
}

// Sender отправляет сообщение на сервер. Реализуется APIClient.
type Sender interface {
	SendMessage(ctx context.Context, recipientID, text string) (*domain.Message, error)
}

type Option func(*Session)

func WithSendTimeout(d time.Duration) Option {
	return func(s *Session) { s.sendTimeout = d }
}

// WithOnChange вызывается после каждого изменения представления, со снимком записей.
func WithOnChange(fn func([]Entry)) Option {
	return func(s *Session) { s.onChange = fn }
}

func WithOnError(fn func(error)) Option {
	return func(s *Session) { s.onError = fn }
}

func WithLogger(log logger.Logger) Option {
	return func(s *Session) { s.log = log }
}

func WithReconnectBackoff(initial, max time.Duration) Option {
	return func(s *Session) {
		s.backoffInitial = initial
		s.backoffMax = max
	}
}

func withClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

type Session struct {
	userID string
	sender Sender

	sendTimeout    time.Duration
	backoffInitial time.Duration
	backoffMax     time.Duration
	onChange       func([]Entry)
	onError        func(error)
	now            func() time.Time
	log            logger.Logger

	mu      sync.Mutex
	peerID  string
	entries []Entry
}

func NewSession(userID string, sender Sender, opts ...Option) *Session {
	s := &Session{
		userID:         userID,
		sender:         sender,
		sendTimeout:    DefaultSendTimeout,
		backoffInitial: 500 * time.Millisecond,
		backoffMax:     30 * time.Second,
		onChange:       func([]Entry) {},
		onError:        func(error) {},
		now:            time.Now,
		log:            logger.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) UserID() string { return s.userID }

func (s *Session) PeerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerID
}

// Open заменяет представление историей переписки с peerID.
func (s *Session) Open(peerID string, messages []domain.Message) {
	entries := make([]Entry, 0, len(messages))
	for _, m := range messages {
		entries = append(entries, Entry{Message: m, State: Confirmed})
	}

	s.mu.Lock()
	s.peerID = peerID
	s.entries = entries
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.onChange(snapshot)
}

func (s *Session) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Send сразу показывает сообщение как Optimistic, затем подтверждает его ответом сервера
// или убирает при ошибке либо таймауте.
func (s *Session) Send(ctx context.Context, text string) (*domain.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("message text is empty: %w", apperrors.ErrInvalidArgument)
	}

	tempID := "temp-" + uuid.NewString()

	s.mu.Lock()
	peerID := s.peerID
	if peerID == "" {
		s.mu.Unlock()
		return nil, fmt.Errorf("no conversation is open: %w", apperrors.ErrInvalidArgument)
	}
	s.entries = append(s.entries, Entry{
		Message: domain.Message{ID: tempID, SenderID: s.userID, Text: text, CreatedAt: s.now().UTC()},
		State:   Optimistic,
	})
	snapshot := s.snapshotLocked()
	s.mu.Unlock()
	s.onChange(snapshot)

	sendCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	defer cancel()

	message, err := s.sender.SendMessage(sendCtx, peerID, text)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("send timed out after %s: %w", s.sendTimeout, err)
		}
		s.rollback(tempID)
		s.onError(err)
		return nil, err
	}

	s.confirm(tempID, *message)
	return message, nil
}

func (s *Session) confirm(tempID string, message domain.Message) {
	s.mu.Lock()
	i := s.indexLocked(tempID)
	if i < 0 {
		// Переписку успели сменить
		s.mu.Unlock()
		return
	}
	if s.indexLocked(message.ID) >= 0 {
		s.entries = append(s.entries[:i], s.entries[i+1:]...)
	} else {
		s.entries[i] = Entry{Message: message, State: Confirmed}
	}
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.onChange(snapshot)
}

func (s *Session) rollback(tempID string) {
	s.mu.Lock()
	i := s.indexLocked(tempID)
	if i < 0 {
		s.mu.Unlock()
		return
	}
	s.entries = append(s.entries[:i], s.entries[i+1:]...)
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.onChange(snapshot)
}

// HandleEvent применяет входящее событие. Собственные сообщения и повторы игнорируются.
// Возвращает true, если представление изменилось.
func (s *Session) HandleEvent(event realtime.Event) bool {
	if event.Type != realtime.EventReceiveMessage || event.Message == nil {
		return false
	}
	message := *event.Message

	s.mu.Lock()
	if message.SenderID == s.userID || message.SenderID != s.peerID || s.indexLocked(message.ID) >= 0 {
		s.mu.Unlock()
		return false
	}
	s.entries = append(s.entries, Entry{Message: message, State: Confirmed})
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.onChange(snapshot)
	return true
}

// Run держит соединение с каналом: подключается, входит в комнату пользователя
// и передает события в HandleEvent. После обрыва переподключается с растущей паузой.
// Возвращается только при отмене ctx.
func (s *Session) Run(ctx context.Context, dial Dialer) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.backoffInitial
	b.MaxInterval = s.backoffMax
	b.MaxElapsedTime = 0
	b.Reset()

	for {
		joined, err := s.runOnce(ctx, dial)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if joined {
			b.Reset()
		}

		wait := b.NextBackOff()
		s.log.Warn("Realtime connection lost, reconnecting", "error", err, "retry_in", wait.String())

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (s *Session) runOnce(ctx context.Context, dial Dialer) (bool, error) {
	stream, err := dial(ctx)
	if err != nil {
		return false, err
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = stream.Close()
		case <-stop:
		}
	}()
	defer stream.Close()

	if err := stream.Join(s.userID); err != nil {
		return false, err
	}

	joined := false
	for {
		event, err := stream.Next()
		if err != nil {
			return joined, err
		}

		switch event.Type {
		case realtime.EventJoined:
			joined = true
			s.log.Debug("Joined realtime room", "user_id", event.UserID)
		case realtime.EventError:
			s.log.Warn("Realtime error event", "code", event.Code, "error", event.Error)
		default:
			s.HandleEvent(event)
		}
	}
}

func (s *Session) indexLocked(id string) int {
	for i := range s.entries {
		if s.entries[i].Message.ID == id {
			return i
		}
	}
	return -1
}

func (s *Session) snapshotLocked() []Entry {
	return append([]Entry(nil), s.entries...)
}

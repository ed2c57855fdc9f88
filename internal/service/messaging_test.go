package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"instanext/internal/config"
	"instanext/internal/domain"
	"instanext/internal/mocks"
	"instanext/internal/realtime"
	"instanext/internal/repository"
	apperrors "instanext/pkg/errors"
	"instanext/pkg/logger"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type publishedEvent struct {
	userID string
	event  realtime.Event
}

type recordingRooms struct {
	mu        sync.Mutex
	published []publishedEvent
}

func (r *recordingRooms) Join(realtime.Subscriber, string) error { return nil }
func (r *recordingRooms) Leave(realtime.Subscriber)              {}
func (r *recordingRooms) Members(string) int                     { return 0 }

func (r *recordingRooms) PublishToUser(userID string, event realtime.Event) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, publishedEvent{userID: userID, event: event})
	return 1
}

func (r *recordingRooms) events() []publishedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]publishedEvent(nil), r.published...)
}

type stubRateLimit struct {
	allowed bool
	err     error
	keys    []string
}

func (s *stubRateLimit) Increment(context.Context, string, time.Duration) (int64, error) {
	return 1, s.err
}

func (s *stubRateLimit) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	s.keys = append(s.keys, key)
	return s.allowed, s.err
}

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 123456789, time.UTC)

func newTestMessaging(conversations repository.ConversationRepository, profiles repository.ProfileRepository, rooms realtime.RoomRegistry) *messagingService {
	svc := NewMessagingService(conversations, profiles, rooms, nil, config.RateLimitConfig{}, logger.NewNop()).(*messagingService)
	svc.now = func() time.Time { return fixedNow }
	return svc
}

func appendEcho(conversationID string) func(context.Context, domain.ParticipantPair, domain.Message) (*domain.Conversation, error) {
	return func(_ context.Context, pair domain.ParticipantPair, msg domain.Message) (*domain.Conversation, error) {
		return &domain.Conversation{
			ID:             conversationID,
			ParticipantIDs: pair.IDs(),
			Messages:       []domain.Message{msg},
			UpdatedAt:      msg.CreatedAt,
		}, nil
	}
}

func TestSend_PersistsThenPublishesToRecipient(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	conversations := mocks.NewMockConversationRepository(ctrl)
	profiles := mocks.NewMockProfileRepository(ctrl)
	rooms := &recordingRooms{}
	svc := newTestMessaging(conversations, profiles, rooms)

	// Given u2 exists
	profiles.EXPECT().Exists(gomock.Any(), "u2").Return(true, nil)
	conversations.EXPECT().
		AppendMessage(gomock.Any(), domain.ParticipantPair{First: "u1", Second: "u2"}, gomock.Any()).
		DoAndReturn(appendEcho("c1"))

	// When u1 sends "hello"
	msg, err := svc.Send(context.Background(), "u1", "u2", "hello")

	// Then the message is stored and pushed to u2's room only
	req.NoError(err)
	req.NotEmpty(msg.ID)
	req.Equal("u1", msg.SenderID)
	req.Equal("hello", msg.Text)
	req.Equal(fixedNow.Truncate(time.Microsecond), msg.CreatedAt)

	events := rooms.events()
	req.Len(events, 1)
	req.Equal("u2", events[0].userID)
	req.Equal(realtime.EventReceiveMessage, events[0].event.Type)
	req.Equal("c1", events[0].event.ConversationID)
	req.Equal("u2", events[0].event.RecipientID)
	req.Equal(*msg, *events[0].event.Message)
}

func TestSend_KeepsTextVerbatim(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	conversations := mocks.NewMockConversationRepository(ctrl)
	profiles := mocks.NewMockProfileRepository(ctrl)
	svc := newTestMessaging(conversations, profiles, &recordingRooms{})

	profiles.EXPECT().Exists(gomock.Any(), "u2").Return(true, nil)
	conversations.EXPECT().AppendMessage(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(appendEcho("c1"))

	msg, err := svc.Send(context.Background(), "u1", "u2", "  spaced  ")

	req.NoError(err)
	req.Equal("  spaced  ", msg.Text)
}

func TestSend_RejectsBlankText(t *testing.T) {
	ctrl := gomock.NewController(t)
	rooms := &recordingRooms{}
	svc := newTestMessaging(mocks.NewMockConversationRepository(ctrl), mocks.NewMockProfileRepository(ctrl), rooms)

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := svc.Send(context.Background(), "u1", "u2", text)
		require.ErrorIs(t, err, apperrors.ErrInvalidArgument, "text %q", text)
	}
	require.Empty(t, rooms.events())
}

func TestSend_RejectsBadRecipient(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := newTestMessaging(mocks.NewMockConversationRepository(ctrl), mocks.NewMockProfileRepository(ctrl), &recordingRooms{})

	_, err := svc.Send(context.Background(), "u1", "", "hi")
	require.ErrorIs(t, err, apperrors.ErrInvalidArgument)

	_, err = svc.Send(context.Background(), "u1", "u1", "hi")
	require.ErrorIs(t, err, apperrors.ErrInvalidArgument)
}

func TestSend_UnknownRecipient(t *testing.T) {
	ctrl := gomock.NewController(t)
	profiles := mocks.NewMockProfileRepository(ctrl)
	rooms := &recordingRooms{}
	svc := newTestMessaging(mocks.NewMockConversationRepository(ctrl), profiles, rooms)

	profiles.EXPECT().Exists(gomock.Any(), "ghost").Return(false, nil)

	_, err := svc.Send(context.Background(), "u1", "ghost", "hi")

	require.ErrorIs(t, err, apperrors.ErrRecipientNotFound)
	require.Empty(t, rooms.events())
}

func TestSend_PersistenceFailurePublishesNothing(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	conversations := mocks.NewMockConversationRepository(ctrl)
	profiles := mocks.NewMockProfileRepository(ctrl)
	rooms := &recordingRooms{}
	svc := newTestMessaging(conversations, profiles, rooms)

	profiles.EXPECT().Exists(gomock.Any(), "u2").Return(true, nil)
	conversations.EXPECT().AppendMessage(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, errors.New("connection reset"))

	_, err := svc.Send(context.Background(), "u1", "u2", "hi")

	req.ErrorIs(err, apperrors.ErrPersistence)
	req.Empty(rooms.events())
}

func TestSend_ReturnsStoredCreatedAt(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	conversations := mocks.NewMockConversationRepository(ctrl)
	profiles := mocks.NewMockProfileRepository(ctrl)
	svc := newTestMessaging(conversations, profiles, &recordingRooms{})
	clamped := fixedNow.Add(time.Second).Truncate(time.Microsecond)

	profiles.EXPECT().Exists(gomock.Any(), "u2").Return(true, nil)
	conversations.EXPECT().AppendMessage(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, pair domain.ParticipantPair, msg domain.Message) (*domain.Conversation, error) {
			msg.CreatedAt = clamped
			return &domain.Conversation{ID: "c1", ParticipantIDs: pair.IDs(), Messages: []domain.Message{msg}, UpdatedAt: clamped}, nil
		})

	msg, err := svc.Send(context.Background(), "u1", "u2", "hi")

	req.NoError(err)
	req.Equal(clamped, msg.CreatedAt)
}

func TestSend_RateLimited(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	limiter := &stubRateLimit{allowed: false}
	svc := NewMessagingService(
		mocks.NewMockConversationRepository(ctrl),
		mocks.NewMockProfileRepository(ctrl),
		&recordingRooms{},
		limiter,
		config.RateLimitConfig{Enabled: true, SendPerMinute: 1},
		logger.NewNop(),
	)

	_, err := svc.Send(context.Background(), "u1", "u2", "hi")

	req.ErrorIs(err, apperrors.ErrRateLimited)
	req.Equal([]string{"send:u1"}, limiter.keys)
}

func TestSend_RateLimiterFailureFailsOpen(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	conversations := mocks.NewMockConversationRepository(ctrl)
	profiles := mocks.NewMockProfileRepository(ctrl)
	svc := NewMessagingService(
		conversations,
		profiles,
		&recordingRooms{},
		&stubRateLimit{err: errors.New("redis down")},
		config.RateLimitConfig{Enabled: true, SendPerMinute: 1},
		logger.NewNop(),
	)

	profiles.EXPECT().Exists(gomock.Any(), "u2").Return(true, nil)
	conversations.EXPECT().AppendMessage(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(appendEcho("c1"))

	_, err := svc.Send(context.Background(), "u1", "u2", "hi")

	req.NoError(err)
}

func TestListConversations_HydratesWithOneLookup(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	conversations := mocks.NewMockConversationRepository(ctrl)
	profiles := mocks.NewMockProfileRepository(ctrl)
	svc := newTestMessaging(conversations, profiles, &recordingRooms{})
	at := time.Now().UTC()

	conversations.EXPECT().FindForUser(gomock.Any(), "me").Return([]*domain.Conversation{
		{ID: "c2", ParticipantIDs: []string{"bob", "me"}, UpdatedAt: at, Messages: []domain.Message{{ID: "m2"}}},
		{ID: "c1", ParticipantIDs: []string{"alice", "me"}, UpdatedAt: at.Add(-time.Hour), Messages: []domain.Message{{ID: "m1"}}},
	}, nil)
	profiles.EXPECT().GetByIDs(gomock.Any(), []string{"bob", "me", "alice"}).Return(map[string]domain.Profile{
		"me":  {ID: "me", Username: "me"},
		"bob": {ID: "bob", Username: "bob"},
		// alice удалена из профилей
	}, nil).Times(1)

	views, err := svc.ListConversations(context.Background(), "me")

	req.NoError(err)
	req.Len(views, 2)
	req.Equal("c2", views[0].ID)
	req.Equal([]domain.Profile{{ID: "bob", Username: "bob"}, {ID: "me", Username: "me"}}, views[0].Participants)
	req.Equal([]domain.Profile{{ID: "me", Username: "me"}}, views[1].Participants)
}

func TestListConversations_EmptyIsNotNil(t *testing.T) {
	ctrl := gomock.NewController(t)
	conversations := mocks.NewMockConversationRepository(ctrl)
	svc := newTestMessaging(conversations, mocks.NewMockProfileRepository(ctrl), &recordingRooms{})

	conversations.EXPECT().FindForUser(gomock.Any(), "me").Return(nil, nil)

	views, err := svc.ListConversations(context.Background(), "me")

	require.NoError(t, err)
	require.NotNil(t, views)
	require.Empty(t, views)
}

func TestHistory_NotFound(t *testing.T) {
	ctrl := gomock.NewController(t)
	conversations := mocks.NewMockConversationRepository(ctrl)
	svc := newTestMessaging(conversations, mocks.NewMockProfileRepository(ctrl), &recordingRooms{})

	conversations.EXPECT().GetByParticipants(gomock.Any(), gomock.Any()).Return(nil, apperrors.ErrNotFound)

	_, err := svc.History(context.Background(), "me", "bob")

	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestSend_MemoryStoreEndToEnd(t *testing.T) {
	req := require.New(t)
	profiles := repository.NewMemoryProfileRepository(
		domain.Account{Profile: domain.Profile{ID: "u1", Username: "one"}},
		domain.Account{Profile: domain.Profile{ID: "u2", Username: "two"}},
	)
	store := repository.NewMemoryConversationRepository()
	rooms := &recordingRooms{}
	svc := NewMessagingService(store, profiles, rooms, nil, config.RateLimitConfig{}, logger.NewNop())
	ctx := context.Background()

	// When both sides exchange messages
	first, err := svc.Send(ctx, "u1", "u2", "ping")
	req.NoError(err)
	second, err := svc.Send(ctx, "u2", "u1", "pong")
	req.NoError(err)

	// Then both see one conversation with both messages in order
	for _, user := range []string{"u1", "u2"} {
		views, err := svc.ListConversations(ctx, user)
		req.NoError(err)
		req.Len(views, 1)
		req.Equal([]string{first.ID, second.ID}, []string{views[0].Messages[0].ID, views[0].Messages[1].ID})
		req.Len(views[0].Participants, 2)
	}

	history, err := svc.History(ctx, "u2", "u1")
	req.NoError(err)
	req.Len(history.Messages, 2)

	events := rooms.events()
	req.Len(events, 2)
	req.Equal("u2", events[0].userID)
	req.Equal("u1", events[1].userID)
}

func TestSend_InvalidRequestsDoNotSpendRateLimit(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	limiter := &stubRateLimit{allowed: true}
	svc := NewMessagingService(
		mocks.NewMockConversationRepository(ctrl),
		mocks.NewMockProfileRepository(ctrl),
		&recordingRooms{},
		limiter,
		config.RateLimitConfig{Enabled: true, SendPerMinute: 1},
		logger.NewNop(),
	)

	_, err := svc.Send(context.Background(), "u1", "u2", "  ")
	req.ErrorIs(err, apperrors.ErrInvalidArgument)
	_, err = svc.Send(context.Background(), "u1", "u1", "hi")
	req.ErrorIs(err, apperrors.ErrInvalidArgument)

	req.Empty(limiter.keys)
}

func TestSend_TrimsRecipientID(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	conversations := mocks.NewMockConversationRepository(ctrl)
	profiles := mocks.NewMockProfileRepository(ctrl)
	rooms := &recordingRooms{}
	svc := newTestMessaging(conversations, profiles, rooms)

	profiles.EXPECT().Exists(gomock.Any(), "u2").Return(true, nil)
	conversations.EXPECT().AppendMessage(gomock.Any(), domain.ParticipantPair{First: "u1", Second: "u2"}, gomock.Any()).DoAndReturn(appendEcho("c1"))

	_, err := svc.Send(context.Background(), "u1", " u2 ", "hi")

	req.NoError(err)
	events := rooms.events()
	req.Len(events, 1)
	req.Equal("u2", events[0].userID)
}

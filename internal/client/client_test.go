package client

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"instanext/internal/config"
	"instanext/internal/domain"
	"instanext/internal/handler"
	"instanext/internal/middleware"
	"instanext/internal/realtime"
	"instanext/internal/repository"
	"instanext/internal/service"
	apperrors "instanext/pkg/errors"
	"instanext/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// newServer поднимает полный сервер на хранилище в памяти с пользователями alice и bob.
func newServer(t *testing.T) (*httptest.Server, *realtime.Hub) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hash, err := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)
	require.NoError(t, err)
	profiles := repository.NewMemoryProfileRepository(
		domain.Account{Profile: domain.Profile{ID: "alice", Username: "alice"}, Email: "alice@example.com", PasswordHash: string(hash)},
		domain.Account{Profile: domain.Profile{ID: "bob", Username: "bob"}, Email: "bob@example.com", PasswordHash: string(hash)},
	)

	cfg := &config.Config{
		Environment: "test",
		JWT:         config.JWTConfig{AccessSecret: "s", AccessTTL: time.Hour, Issuer: "test"},
		Realtime: config.RealtimeConfig{
			PingInterval: time.Second, PongTimeout: 5 * time.Second, WriteTimeout: time.Second,
			SendBuffer: 16, MaxMessageSize: 4096, AllowedOrigins: []string{"*"},
		},
	}
	log := logger.NewNop()
	hub := realtime.NewHub(log)
	services := service.NewServices(repository.NewMemoryRepositories(profiles, nil, log), hub, cfg, log)

	ctx, cancel := context.WithCancel(context.Background())
	router := handler.NewRouter(
		handler.NewHandlers(ctx, services, hub, nil, cfg, log),
		middleware.NewAuthMiddleware(services.Identity, log),
		middleware.NewRateLimitMiddleware(services.RateLimit, log),
		cfg,
		log,
	)

	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return srv, hub
}

func login(t *testing.T, baseURL, email string) (*APIClient, string) {
	t.Helper()
	api := NewAPIClient(baseURL, "", 5*time.Second)
	result, err := api.Login(context.Background(), email, "pw")
	require.NoError(t, err)
	return api, result.User.ID
}

func TestAPIClient_ErrorsMapToDomainErrors(t *testing.T) {
	srv, _ := newServer(t)
	ctx := context.Background()

	_, err := NewAPIClient(srv.URL, "", time.Second).Login(ctx, "alice@example.com", "wrong")
	require.ErrorIs(t, err, apperrors.ErrUnauthenticated)

	_, err = NewAPIClient(srv.URL, "bogus", time.Second).Conversations(ctx)
	require.ErrorIs(t, err, apperrors.ErrUnauthenticated)

	api, _ := login(t, srv.URL, "alice@example.com")
	_, err = api.SendMessage(ctx, "carol", "hi")
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = api.SendMessage(ctx, "bob", " ")
	require.ErrorIs(t, err, apperrors.ErrInvalidArgument)
}

func TestAPIClient_HistoryOfNewConversationIsEmpty(t *testing.T) {
	srv, _ := newServer(t)
	api, _ := login(t, srv.URL, "alice@example.com")

	view, err := api.History(context.Background(), "bob")

	require.NoError(t, err)
	require.Empty(t, view.Messages)
}

func TestSessions_ExchangeMessagesEndToEnd(t *testing.T) {
	req := require.New(t)
	srv, hub := newServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	aliceAPI, aliceID := login(t, srv.URL, "alice@example.com")
	bobAPI, bobID := login(t, srv.URL, "bob@example.com")

	alice := NewSession(aliceID, aliceAPI)
	bob := NewSession(bobID, bobAPI)
	alice.Open(bobID, nil)
	bob.Open(aliceID, nil)

	bobDial, err := NewWebSocketDialer(srv.URL, bobAPI.Token())
	req.NoError(err)
	go func() { _ = bob.Run(ctx, bobDial) }()
	req.Eventually(func() bool { return hub.Members(bobID) == 1 }, 2*time.Second, 10*time.Millisecond)

	// When alice sends, her view is confirmed and bob receives it live
	sent, err := alice.Send(ctx, "hi bob")
	req.NoError(err)

	aliceView := alice.Entries()
	req.Len(aliceView, 1)
	req.Equal(Confirmed, aliceView[0].State)
	req.Equal(sent.ID, aliceView[0].Message.ID)

	req.Eventually(func() bool { return len(bob.Entries()) == 1 }, 2*time.Second, 10*time.Millisecond)
	req.Equal(sent.ID, bob.Entries()[0].Message.ID)

	// And the server history matches both local views
	history, err := bobAPI.History(ctx, aliceID)
	req.NoError(err)
	req.Len(history.Messages, 1)
	req.Equal(sent.ID, history.Messages[0].ID)
}

func TestNewWebSocketDialer_RejectsUnknownScheme(t *testing.T) {
	_, err := NewWebSocketDialer("ftp://example.com", "t")
	require.Error(t, err)

	dial, err := NewWebSocketDialer("http://127.0.0.1:1", "t")
	require.NoError(t, err)
	_, err = dial(context.Background())
	require.Error(t, err)
}

func TestNewWebSocketDialer_Unauthorized(t *testing.T) {
	srv, _ := newServer(t)

	dial, err := NewWebSocketDialer(srv.URL, "bad-token")
	require.NoError(t, err)

	_, err = dial(context.Background())
	require.ErrorContains(t, err, "status 401")
}

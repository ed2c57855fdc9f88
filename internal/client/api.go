package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"instanext/internal/domain"
	apperrors "instanext/pkg/errors"
)

// APIClient ходит в REST API сообщений
type APIClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewAPIClient(baseURL, token string, timeout time.Duration) *APIClient {
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *APIClient) Token() string { return c.token }

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResult struct {
	User        domain.Profile `json:"user"`
	AccessToken string         `json:"access_token"`
}

type sendRequest struct {
	RecipientID string `json:"recipientId"`
	Text        string `json:"text"`
}

type sendResponse struct {
	Message domain.Message `json:"message"`
}

// Login получает токен и запоминает его для следующих запросов.
func (c *APIClient) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	var result LoginResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/login", loginRequest{Email: email, Password: password}, http.StatusOK, &result); err != nil {
		return nil, err
	}

	c.token = result.AccessToken
	return &result, nil
}

func (c *APIClient) SendMessage(ctx context.Context, recipientID, text string) (*domain.Message, error) {
	var resp sendResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/messages/send", sendRequest{RecipientID: recipientID, Text: text}, http.StatusCreated, &resp); err != nil {
		return nil, err
	}
	return &resp.Message, nil
}

func (c *APIClient) Conversations(ctx context.Context) ([]domain.ConversationView, error) {
	var views []domain.ConversationView
	if err := c.do(ctx, http.MethodGet, "/api/v1/conversations", nil, http.StatusOK, &views); err != nil {
		return nil, err
	}
	return views, nil
}

// History возвращает переписку с peerID. Если ее еще нет, возвращает пустую.
func (c *APIClient) History(ctx context.Context, peerID string) (*domain.ConversationView, error) {
	var view domain.ConversationView
	err := c.do(ctx, http.MethodGet, "/api/v1/conversations/"+url.PathEscape(peerID), nil, http.StatusOK, &view)
	if apperrors.Is(err, apperrors.ErrNotFound) {
		return &domain.ConversationView{Messages: []domain.Message{}}, nil
	}
	if err != nil {
		return nil, err
	}
	return &view, nil
}

func (c *APIClient) do(ctx context.Context, method, path string, body any, wantStatus int, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return statusError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// statusError превращает ответ сервера обратно в доменную ошибку.
func statusError(resp *http.Response) error {
	var apiErr apperrors.APIError
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	message := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &apiErr) == nil && apiErr.Message != "" {
		message = apiErr.Message
	}

	var kind error
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		kind = apperrors.ErrUnauthenticated
	case http.StatusBadRequest:
		kind = apperrors.ErrInvalidArgument
	case http.StatusNotFound:
		kind = apperrors.ErrNotFound
	case http.StatusTooManyRequests:
		kind = apperrors.ErrRateLimited
	case http.StatusServiceUnavailable:
		kind = apperrors.ErrChannelUnavailable
	default:
		kind = apperrors.ErrInternalServer
	}

	return fmt.Errorf("server returned %d: %s: %w", resp.StatusCode, message, kind)
}

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/matheus3301/wppdash/internal/model"
)

// HTTPClient talks to the provider backend's REST API. Route shapes follow
// the backend: POST /sessions/init, GET /sessions, POST /sessions/logout,
// GET /sessions/{id}/chats, GET /sessions/{id}/chats/{chat}/messages.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewHTTPClient creates a client for the backend at baseURL (including the
// /api prefix). token, if set, is sent as a bearer token.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *HTTPClient) CreateSession(ctx context.Context, sessionID string) error {
	body := map[string]string{"sessionId": sessionID}
	return c.do(ctx, http.MethodPost, "/sessions/init", body, nil)
}

func (c *HTTPClient) ListSessions(ctx context.Context) ([]model.Session, error) {
	var sessions []model.Session
	if err := c.do(ctx, http.MethodGet, "/sessions", nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (c *HTTPClient) LogoutSession(ctx context.Context, sessionID string) error {
	body := map[string]string{"sessionId": sessionID}
	return c.do(ctx, http.MethodPost, "/sessions/logout", body, nil)
}

func (c *HTTPClient) ListConversations(ctx context.Context, sessionID string) ([]model.Conversation, error) {
	var convs []model.Conversation
	path := fmt.Sprintf("/sessions/%s/chats", sessionID)
	if err := c.do(ctx, http.MethodGet, path, nil, &convs); err != nil {
		return nil, err
	}
	for i := range convs {
		convs[i].SessionID = sessionID
	}
	return convs, nil
}

func (c *HTTPClient) ListMessages(ctx context.Context, sessionID, conversationID string) ([]model.Message, error) {
	var msgs []model.Message
	path := fmt.Sprintf("/sessions/%s/chats/%s/messages", sessionID, conversationID)
	if err := c.do(ctx, http.MethodGet, path, nil, &msgs); err != nil {
		return nil, err
	}
	for i := range msgs {
		msgs[i].SessionID = sessionID
		msgs[i].ConversationID = conversationID
	}
	return msgs, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(data))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// Package client is a thin HTTP client for the story API. The board views
// use it to persist optimistic mutations; it is also convenient for scripts.
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

	"github.com/BeeDoubleYouKay/tido/internal/story"
)

// Fields is a partial JSON body. Keys present with a nil value serialize as
// explicit nulls, which the API treats differently from absent keys.
type Fields = map[string]any

// APIError is a non-2xx response decoded from the server's error envelope.
type APIError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d %s: %s", e.Status, e.Code, e.Message)
}

// User is an assignable user as returned by the directory endpoint.
type User struct {
	ID    string  `json:"id"`
	Email string  `json:"email"`
	Name  *string `json:"name"`
}

// Settings are the per-user board preferences.
type Settings struct {
	GroupBy   string `json:"groupBy"`
	SortBy    string `json:"sortBy"`
	WeekStart int    `json:"weekStart"`
}

// Client talks to a single story API server with a fixed bearer token.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpc = h }
}

// New builds a client for the given base URL, e.g. "http://localhost:8080".
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpc:   &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken swaps the bearer token, e.g. after a refresh.
func (c *Client) SetToken(token string) { c.token = token }

// ListStories fetches the owner-scoped story tree.
func (c *Client) ListStories(ctx context.Context) ([]story.Serialized, error) {
	var payload struct {
		Stories []story.Serialized `json:"stories"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/stories", nil, &payload); err != nil {
		return nil, err
	}
	return payload.Stories, nil
}

// CreateStory creates a story and returns the canonical server copy.
func (c *Client) CreateStory(ctx context.Context, fields Fields) (story.Serialized, error) {
	var payload struct {
		Story story.Serialized `json:"story"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/stories", fields, &payload); err != nil {
		return story.Serialized{}, err
	}
	return payload.Story, nil
}

// PatchStory applies a partial update and returns the canonical server copy.
func (c *Client) PatchStory(ctx context.Context, id string, fields Fields) (story.Serialized, error) {
	var payload struct {
		Story story.Serialized `json:"story"`
	}
	if err := c.do(ctx, http.MethodPatch, "/api/stories/"+url.PathEscape(id), fields, &payload); err != nil {
		return story.Serialized{}, err
	}
	return payload.Story, nil
}

// DeleteStory deletes a story and its children.
func (c *Client) DeleteStory(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/stories/"+url.PathEscape(id), nil, nil)
}

// ListUsers fetches the assignable-user directory.
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	var payload struct {
		Users []User `json:"users"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/users", nil, &payload); err != nil {
		return nil, err
	}
	return payload.Users, nil
}

// GetSettings fetches the caller's board preferences.
func (c *Client) GetSettings(ctx context.Context) (Settings, error) {
	var payload struct {
		Settings Settings `json:"settings"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/settings", nil, &payload); err != nil {
		return Settings{}, err
	}
	return payload.Settings, nil
}

// PutSettings replaces the caller's board preferences.
func (c *Client) PutSettings(ctx context.Context, settings Settings) (Settings, error) {
	var payload struct {
		Settings Settings `json:"settings"`
	}
	if err := c.do(ctx, http.MethodPut, "/api/settings", settings, &payload); err != nil {
		return Settings{}, err
	}
	return payload.Settings, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
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

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var envelope struct {
			Code    string `json:"code"`
			Message string `json:"error"`
			Details any    `json:"details"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&envelope)
		if envelope.Code == "" {
			envelope.Code = "SERVER_ERROR"
		}
		return &APIError{
			Status:  resp.StatusCode,
			Code:    envelope.Code,
			Message: envelope.Message,
			Details: envelope.Details,
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
